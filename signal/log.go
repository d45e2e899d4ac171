package signal

import (
	"github.com/razenet/razed/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.SGNL)

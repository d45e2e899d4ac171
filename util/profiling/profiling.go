// Package profiling starts a pprof HTTP server for diagnosing a running
// razed process, grounded on the teacher's own util/profiling package
// (the net/http/pprof wiring the teacher's main.go imports for side
// effect is made explicit and optional here instead).
package profiling

import (
	"net"
	"net/http"

	// Required for profiling
	_ "net/http/pprof"

	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/util/panics"
)

// Start starts the profiling server on port, logging through log.
func Start(port string, log *logger.Logger) {
	spawn := panics.GoroutineWrapperFunc(log)
	spawn(func() {
		listenAddr := net.JoinHostPort("", port)
		log.Infof("profile server listening on %s", listenAddr)
		profileRedirect := http.RedirectHandler("/debug/pprof", http.StatusSeeOther)
		http.Handle("/", profileRedirect)
		log.Error(http.ListenAndServe(listenAddr, nil))
	})
}

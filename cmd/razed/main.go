// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command razed runs a peer node on the raze block-lattice network.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/razenet/razed/config"
	"github.com/razenet/razed/logger"
	"github.com/razenet/razed/node"
	"github.com/razenet/razed/signal"
	"github.com/razenet/razed/util/profiling"
	"github.com/razenet/razed/version"
)

var log, _ = logger.Get(logger.SubsystemTags.RAZD)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadConfig(args)
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("razed version %s\n", version.Version())
		return nil
	}

	if err := logger.InitLogFiles(cfg.LogFile, cfg.ErrLogFile); err != nil {
		return err
	}
	if err := logger.SetLogLevels(cfg.LogLevel); err != nil {
		return err
	}

	if cfg.Profile != "" {
		profiling.Start(cfg.Profile, log)
	}

	interrupt := signal.InterruptListener()

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(cfg.PeeringPort)}
	if err := n.Run(addr); err != nil {
		return err
	}
	log.Infof("razed listening on %s (%s network)", addr, cfg.Network)

	signal.AddInterruptHandler(func() {
		if err := n.Stop(); err != nil {
			log.Errorf("error stopping node: %s", err)
		}
	})

	<-interrupt
	signal.WaitForHandlers()
	return nil
}

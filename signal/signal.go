// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package signal turns OS interrupt signals and programmatic shutdown
// requests into a single clean-shutdown channel that node.Node (and every
// long-running subsystem it owns) can select on.
package signal

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ShutdownRequestChannel is used to request a shutdown from a place that
// does not have access to the interrupt handler, such as the RPC server
// (out of scope here, but the hook point is kept since the original wires
// it that way).
var ShutdownRequestChannel = make(chan struct{})

// interruptChannel is the channel notified on SIGINT/SIGTERM.
var interruptChannel chan os.Signal

// shutdownChannel is closed the first time an interrupt or shutdown request
// is observed. Every subsystem's stop() should select on this channel (via
// InterruptListener) rather than on ShutdownRequestChannel directly.
var shutdownChannel = make(chan struct{})

var interruptCallbacks []func()
var interruptHandlersDone = make(chan struct{})

var once sync.Once

// AddInterruptHandler adds a handler to call when a SIGINT (Ctrl+C) or
// shutdown request is received.
func AddInterruptHandler(handler func()) {
	interruptCallbacks = append(interruptCallbacks, handler)
}

// InterruptListener starts a new goroutine that listens for both OS
// interrupt signals (SIGINT, SIGTERM) and programmatic shutdown requests on
// ShutdownRequestChannel. Either one triggers the registered interrupt
// handlers, in registration order, then closes the returned channel.
func InterruptListener() <-chan struct{} {
	once.Do(func() {
		interruptChannel = make(chan os.Signal, 1)
		signal.Notify(interruptChannel, os.Interrupt, syscall.SIGTERM)

		go func() {
			select {
			case sig := <-interruptChannel:
				log.Infof("Received signal (%s). Shutting down...", sig)
			case <-ShutdownRequestChannel:
				log.Info("Shutdown requested. Shutting down...")
			}
			close(shutdownChannel)

			for _, handler := range interruptCallbacks {
				handler()
			}

			close(interruptHandlersDone)

			// A second interrupt forces an immediate, unclean exit.
			for range interruptChannel {
				log.Infof("Received interrupt again. Halting.")
				os.Exit(1)
			}
		}()
	})

	return shutdownChannel
}

// InterruptRequested returns true if the channel returned by
// InterruptListener has already been closed.
func InterruptRequested(shutdownChan <-chan struct{}) bool {
	select {
	case <-shutdownChan:
		return true
	default:
		return false
	}
}

// WaitForHandlers blocks until every handler registered via
// AddInterruptHandler has run to completion.
func WaitForHandlers() {
	<-interruptHandlersDone
}

// Package signal delivers OS interrupt notifications to the daemon so it can
// shut down cleanly.
package signal

import (
	"os"
	"os/signal"
	"syscall"
)

// interruptSignals defines the default signals to catch in order to do a proper
// shutdown.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// InterruptListener listens for OS Signals such as SIGINT (Ctrl+C) and shutdown
// requests from shutdownRequestChannel. It returns a channel that is closed
// when either signal is received.
func InterruptListener() chan struct{} {
	c := make(chan struct{})
	go func() {
		interruptChannel := make(chan os.Signal, 1)
		signal.Notify(interruptChannel, interruptSignals...)

		select {
		case sig := <-interruptChannel:
			log.Infof("Received signal (%s). Shutting down...", sig)
		case <-shutdownRequestChannel:
			log.Info("Shutdown requested. Shutting down...")
		}
		close(c)

		// Listen for repeated signals and display a message so the user
		// knows the shutdown is in progress and the process is not hung.
		for {
			select {
			case sig := <-interruptChannel:
				log.Infof("Received signal (%s). Already shutting down...", sig)
			case <-shutdownRequestChannel:
				log.Info("Shutdown requested. Already shutting down...")
			}
		}
	}()
	return c
}

var shutdownRequestChannel = make(chan struct{})

// ShutdownRequested requests a clean shutdown as if an interrupt was received.
func ShutdownRequested() {
	shutdownRequestChannel <- struct{}{}
}

// Package signalhandler turns SIGINT/SIGTERM into a cooperative cancel
package signalhandler

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"simfinder/logging"
)

// SetupHandler calls onSignal on the first SIGINT or SIGTERM so a running
// scan can stop at its next batch boundary. A second signal exits at once.
// The returned stop function unregisters the handler.
func SetupHandler(onSignal func(os.Signal)) (stop func()) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})
	go func() {
		received := 0
		for {
			select {
			case <-quit:
				return
			case sig := <-sigChan:
				received++
				if received > 1 {
					logging.LogWarning("second signal, exiting", "signal", sig.String())
					logging.CloseLogger()
					os.Exit(130)
				}
				logging.LogInfo("signal received, cancelling", "signal", sig.String())
				if onSignal != nil {
					onSignal(sig)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(quit)
		})
	}
}

// GetOptimalProcs returns the number of worker goroutines to use. OpenCV
// decoding runs in cgo and oversubscribing the CPUs slows it down.
func GetOptimalProcs() int {
	maxProcs := (runtime.NumCPU() * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}
	return maxProcs
}

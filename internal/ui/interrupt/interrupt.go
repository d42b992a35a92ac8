// Package interrupt handles Ctrl+C (and SIGTERM) for the command line tools, giving the running
// training a chance to stop cleanly.
package interrupt

import (
	"fmt"
	"k8s.io/klog/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// exit is replaced in tests.
var exit = func() {
	klog.Flush()
	os.Exit(1)
}

// SafeInterrupt will capture SigInt (Ctrl+C) and SigTerm and call the provided onInterrupt.
// If the program haven't exited after gracePeriod, it will call Reset to reset the terminal
// and exit.
//
// It returns a function that stops capturing the signals. It can be called more than once.
func SafeInterrupt(onInterrupt func(), gracePeriod time.Duration) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		var s os.Signal
		select {
		case s = <-sigChan:
		case <-done:
			return
		}
		fmt.Println()
		klog.Errorf("Got interrupted (signal %q), shutting down... (%s)", s, gracePeriod)
		if onInterrupt != nil {
			go onInterrupt()
		}

		// Wait for gracePeriod before exiting.
		select {
		case <-time.After(gracePeriod):
		case <-done:
			return
		}
		Reset()
		klog.Errorf("Graceful shutting down %s period expired, exiting.", gracePeriod)
		exit()
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
		})
	}
}

// Reset terminal: make cursor visible, restore default terminal colors.
func Reset() {
	fmt.Print("\033[?25h\033[39;49;0m\n") // Restore cursor and colors.
}

//go:build windows

package main

import (
	"os"
	"syscall"

	"unsealer/internal/app"
)

// Windows has no SIGCONT; resume comes from clients only.
var resumeSignal os.Signal

func stopSignals() []os.Signal { return []os.Signal{os.Interrupt, syscall.SIGTERM} }

func stopReason(s os.Signal) app.StopReason {
	if s == os.Interrupt {
		return app.StopSIGINT
	}
	return app.StopSIGTERM
}

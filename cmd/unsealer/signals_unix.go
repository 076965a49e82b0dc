//go:build !windows

package main

import (
	"os"
	"syscall"

	"unsealer/internal/app"
)

var resumeSignal os.Signal = syscall.SIGCONT

func stopSignals() []os.Signal { return []os.Signal{os.Interrupt, syscall.SIGTERM} }

func stopReason(s os.Signal) app.StopReason {
	switch s {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	}
	return app.StopUnknown
}

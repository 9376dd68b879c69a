// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"log/slog"

	"github.com/tebeka/atexit"
)

// ExitCodeRestart asks the service manager to start the daemon again
// (EX_TEMPFAIL; the unit file sets RestartForceExitStatus=75)
const ExitCodeRestart = 75

// Restarter performs the controlled restart after a fatal loop fault
type Restarter interface {
	Restart(cause error)
}

// ExitRestarter runs the registered atexit handlers (store flush, watchdog
// close) and exits with ExitCodeRestart
type ExitRestarter struct {
	Log *slog.Logger
}

// Restart does not return
func (r ExitRestarter) Restart(cause error) {
	if r.Log != nil {
		r.Log.Error("restarting after fatal fault", "error", cause)
	}
	atexit.Exit(ExitCodeRestart)
}

// OnExit registers fn to run before a controlled restart
func OnExit(fn func()) {
	atexit.Register(fn)
}

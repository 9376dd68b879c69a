// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Loop fault causes
var (
	ErrLowMemory = errors.New("free memory below minimum")
	ErrLinkLost  = errors.New("backend link down beyond grace period")
)

var loopFaults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hydrant_loop_faults_total",
	Help: "Unrecoverable controller loop faults, by step.",
}, []string{"step"})

// FatalLoopFault ends the controller loop; the daemon restarts the process
type FatalLoopFault struct {
	Step string
	Err  error
}

func (f *FatalLoopFault) Error() string {
	return fmt.Sprintf("fatal loop fault in %s: %v", f.Step, f.Err)
}

func (f *FatalLoopFault) Unwrap() error {
	return f.Err
}

func fault(step string, err error) *FatalLoopFault {
	loopFaults.WithLabelValues(step).Inc()
	return &FatalLoopFault{Step: step, Err: err}
}

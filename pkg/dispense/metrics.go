// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dispense

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispenseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrant_dispense_total",
		Help: "Dispense jobs finished, by terminal state and failure reason.",
	}, []string{"state", "reason"})

	dispensedLitres = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydrant_dispensed_litres_total",
		Help: "Litres delivered, including partial deliveries of failed jobs.",
	})

	dispenseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hydrant_dispense_duration_seconds",
		Help:    "Wall time of dispense jobs.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 8),
	})

	recoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrant_recovery_total",
		Help: "Boot recovery results, by action.",
	}, []string{"action"})
)

func observe(o Outcome, elapsed time.Duration) {
	dispenseTotal.WithLabelValues(o.State.String(), o.Reason).Inc()
	if o.Dispensed > 0 {
		dispensedLitres.Add(o.Dispensed)
	}
	dispenseDuration.Observe(elapsed.Seconds())
}

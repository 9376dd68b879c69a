// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hydrant_store_writes_total",
		Help: "Target records durably written.",
	})

	storeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrant_store_failures_total",
		Help: "Target store operations that failed, by operation.",
	}, []string{"op"})
)

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrant_bus_transactions_total",
		Help: "Request frames sent on the meter bus, by operation.",
	}, []string{"op"})

	busFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrant_bus_failures_total",
		Help: "Failed meter bus exchanges, by operation and fault.",
	}, []string{"op", "fault"})
)

const (
	opRead  = "read"
	opValve = "valve"
)

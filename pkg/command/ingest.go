// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package command

import (
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hydrant_commands_received_total",
	Help: "Inbound command payloads, by result.",
}, []string{"result"})

// Ingest is the producer side of the queue: it turns link payloads into
// queued commands. It never touches the meter bus. Every well-formed command
// is queued; only malformed payloads are dropped.
type Ingest struct {
	queue      *Queue
	warnings   *rate.Limiter
	suppressed atomic.Int64
	log        *slog.Logger
}

// NewIngest creates an ingest. Warnings about dropped payloads are limited
// to warnPerSecond with the given burst; the rest are counted and reported
// with the next warning. warnPerSecond <= 0 logs every drop.
func NewIngest(queue *Queue, warnPerSecond float64, burst int, logger *slog.Logger) *Ingest {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := rate.Inf
	if warnPerSecond > 0 {
		limit = rate.Limit(warnPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Ingest{
		queue:    queue,
		warnings: rate.NewLimiter(limit, burst),
		log:      logger.With("component", "ingest"),
	}
}

// Submit parses and enqueues one payload
func (i *Ingest) Submit(data []byte) (Command, error) {
	cmd, err := Parse(data)
	if err != nil {
		ingestTotal.WithLabelValues("malformed").Inc()
		return Command{}, err
	}
	i.queue.Enqueue(cmd)
	ingestTotal.WithLabelValues("queued").Inc()
	return cmd, nil
}

// Handle submits data and logs the result; malformed payloads are dropped.
// It has the signature of a link message handler.
func (i *Ingest) Handle(data []byte) {
	cmd, err := i.Submit(data)
	if err != nil {
		i.warnDropped(err, data)
		return
	}
	i.log.Info("command queued",
		"id", cmd.ID.String(),
		"kind", cmd.Kind.String(),
		"address", int(cmd.Address),
		"device", cmd.DeviceID,
		"litres", cmd.Litres,
		"depth", i.queue.Len())
}

// Suppressed returns how many drop warnings are waiting to be reported
func (i *Ingest) Suppressed() int64 {
	return i.suppressed.Load()
}

func (i *Ingest) warnDropped(err error, data []byte) {
	if !i.warnings.Allow() {
		i.suppressed.Add(1)
		return
	}
	args := []any{"error", err, "payload", string(data)}
	if n := i.suppressed.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	i.log.Warn("malformed command dropped", args...)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link connects the device to its backend. Inbound messages are
// handed to a Handler (the command ingest); outbound reports are published
// best-effort. The link never touches the meter bus.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Thermoquad/hydrant/pkg/report"
)

// Handler receives every inbound message payload. It must not block.
type Handler func(payload []byte)

// Link is a reconnecting backend connection
type Link interface {
	Run(ctx context.Context) error
	Publish(r report.Report)
	Connected() bool
}

// ErrNotConnected is returned when publishing without a live session
var ErrNotConnected = errors.New("link not connected")

// Link kinds
const (
	KindMQTT      = "mqtt"
	KindWebSocket = "websocket"
)

// Config describes the backend connection
type Config struct {
	Kind           string        `yaml:"kind"`
	Broker         string        `yaml:"broker"` // mqtt: tcp://host:1883, ssl://host:8883
	URL            string        `yaml:"url"`    // websocket: ws:// or wss://
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ClientID       string        `yaml:"client_id"`
	PubTopic       string        `yaml:"pub_topic"`
	SubTopics      []string      `yaml:"sub_topics"`
	NoSSLVerify    bool          `yaml:"no_ssl_verify"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RejectLogRate  float64       `yaml:"reject_log_rate"`  // malformed payload warnings per second
	RejectLogBurst int           `yaml:"reject_log_burst"` // warnings logged before throttling
}

// DefaultConfig returns an MQTT link with the stock topics
func DefaultConfig() Config {
	return Config{
		Kind:           KindMQTT,
		Broker:         "ssl://localhost:8883",
		PubTopic:       "hydrant/reports",
		SubTopics:      []string{"hydrant/commands"},
		ConnectTimeout: 15 * time.Second,
		RejectLogRate:  1,
		RejectLogBurst: 5,
	}
}

// Open creates the link described by cfg
func Open(cfg Config, handler Handler, logger *slog.Logger) (*Manager, error) {
	switch cfg.Kind {
	case KindMQTT:
		return NewMQTT(cfg, handler, logger), nil
	case KindWebSocket:
		return NewWebSocket(cfg, handler, logger), nil
	default:
		return nil, fmt.Errorf("unknown link kind %q", cfg.Kind)
	}
}

var (
	linkConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hydrant_link_connected",
		Help: "1 while the backend link has a live session.",
	})

	reportsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hydrant_reports_published_total",
		Help: "Outbound reports, by result.",
	}, []string{"result"})
)

// session is one live connection
type session interface {
	// wait blocks until the connection is lost or ctx is done
	wait(ctx context.Context) error
	send(payload []byte) error
	close() error
}

type dialFunc func(ctx context.Context, handler Handler) (session, error)

// Manager keeps a session alive with exponential backoff between attempts
type Manager struct {
	name       string
	dial       dialFunc
	handler    Handler
	log        *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration

	mu        sync.RWMutex
	sess      session
	connected atomic.Bool
}

func newManager(name string, dial dialFunc, handler Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if handler == nil {
		handler = func([]byte) {}
	}
	return &Manager{
		name:       name,
		dial:       dial,
		handler:    handler,
		log:        logger.With("component", "link", "kind", name),
		minBackoff: 1 * time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Connected reports whether a session is live
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Run connects and reconnects until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	backoff := m.minBackoff

	for {
		sess, err := m.dial(ctx, m.handler)
		if err == nil {
			backoff = m.minBackoff
			m.setSession(sess)
			m.log.Info("link connected")

			err = sess.wait(ctx)

			m.setSession(nil)
			sess.close()
		}

		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("link down, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff, m.maxBackoff)
	}
}

// nextBackoff doubles backoff up to max
func nextBackoff(backoff, max time.Duration) time.Duration {
	backoff *= 2
	if backoff > max {
		backoff = max
	}
	return backoff
}

func (m *Manager) setSession(sess session) {
	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	m.connected.Store(sess != nil)
	if sess != nil {
		linkConnected.Set(1)
	} else {
		linkConnected.Set(0)
	}
}

// Publish sends r if a session is live; otherwise the report is dropped
func (m *Manager) Publish(r report.Report) {
	if err := m.publish(r); err != nil {
		m.log.Warn("report dropped", "status", string(r.Status), "device", r.Device, "error", err)
	}
}

func (m *Manager) publish(r report.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		reportsPublished.WithLabelValues("encode_error").Inc()
		return fmt.Errorf("failed to encode report: %w", err)
	}

	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()

	if sess == nil {
		reportsPublished.WithLabelValues("dropped").Inc()
		return ErrNotConnected
	}
	if err := sess.send(data); err != nil {
		reportsPublished.WithLabelValues("error").Inc()
		return err
	}
	reportsPublished.WithLabelValues("sent").Inc()
	return nil
}

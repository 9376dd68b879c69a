// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/hydrant/pkg/report"
)

// fakeSession is a session whose loss is triggered by the test
type fakeSession struct {
	mu     sync.Mutex
	sent   [][]byte
	lost   chan error
	closed atomic.Bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{lost: make(chan error, 1)}
}

func (s *fakeSession) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.lost:
		return err
	}
}

func (s *fakeSession) send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSession) close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// ============================================================================
// Manager Tests
// ============================================================================

func TestManager_ReconnectsAfterFailures(t *testing.T) {
	var dials atomic.Int32
	sessions := make(chan *fakeSession, 4)

	m := newManager("fake", func(ctx context.Context, h Handler) (session, error) {
		if dials.Add(1) <= 2 {
			return nil, errors.New("refused")
		}
		s := newFakeSession()
		sessions <- s
		return s, nil
	}, nil, nil)
	m.minBackoff = time.Millisecond
	m.maxBackoff = 4 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := <-sessions
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), dials.Load())

	m.Publish(report.Idle("ATM-1", 10))
	assert.Equal(t, 1, first.sentCount())

	// Session loss leads to a fresh session
	first.lost <- errors.New("broker went away")
	second := <-sessions
	assert.True(t, first.closed.Load())
	require.Eventually(t, m.Connected, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	assert.True(t, second.closed.Load())
	assert.False(t, m.Connected())
}

func TestManager_PublishWhileDisconnected(t *testing.T) {
	m := newManager("fake", nil, nil, nil)
	assert.ErrorIs(t, m.publish(report.Idle("ATM-1", 1)), ErrNotConnected)
	m.Publish(report.Idle("ATM-1", 1))
}

func TestNextBackoff(t *testing.T) {
	backoff := time.Second
	var got []time.Duration
	for i := 0; i < 7; i++ {
		backoff = nextBackoff(backoff, 30*time.Second)
		got = append(got, backoff)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open(Config{Kind: "carrier-pigeon"}, nil, nil)
	assert.Error(t, err)
}

// ============================================================================
// WebSocket Tests
// ============================================================================

func TestWebSocket_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 1)
	var auth atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"message":"success","litres":5,"deviceID":"ATM-1"}`))
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- data
		}
		// Hold the connection until the client leaves
		conn.ReadMessage()
	}))
	defer srv.Close()

	inbound := make(chan []byte, 1)
	cfg := DefaultConfig()
	cfg.Kind = KindWebSocket
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Username = "atm"
	cfg.Password = "secret"

	m, err := Open(cfg, func(p []byte) { inbound <- p }, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case p := <-inbound:
		assert.JSONEq(t, `{"message":"success","litres":5,"deviceID":"ATM-1"}`, string(p))
	case <-time.After(5 * time.Second):
		t.Fatal("no inbound message")
	}
	assert.Equal(t, "Basic YXRtOnNlY3JldA==", auth.Load())

	m.Publish(report.DispenseStarted("ATM-1", 5))
	select {
	case data := <-received:
		var r report.Report
		require.NoError(t, json.Unmarshal(data, &r))
		assert.Equal(t, report.StatusDispenseStarted, r.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("report not received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestWebSocket_RejectsScheme(t *testing.T) {
	_, err := dialWebSocket(context.Background(), Config{URL: "http://example.com"}, nil)
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

// ============================================================================
// MQTT Tests
// ============================================================================

func TestMQTT_DialFailure(t *testing.T) {
	// A listener that is closed immediately gives a port nobody answers on
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	cfg := DefaultConfig()
	cfg.Broker = "tcp://" + addr
	cfg.ClientID = "hydrant-test"
	cfg.ConnectTimeout = 2 * time.Second

	_, err := dialMQTT(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestMQTTOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClientID = "atm-7"
	cfg.Username = "u"
	cfg.NoSSLVerify = true

	opts := mqttOptions(cfg)
	assert.False(t, opts.AutoReconnect)
	assert.Equal(t, "atm-7", opts.ClientID)
	assert.Equal(t, "u", opts.Username)
	require.NotNil(t, opts.TLSConfig)
	assert.True(t, opts.TLSConfig.InsecureSkipVerify)
}

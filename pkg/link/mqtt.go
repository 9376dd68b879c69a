// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttQoS            = 1
	mqttPublishTimeout = 10 * time.Second
	mqttDisconnectWait = 250 // milliseconds
)

// NewMQTT creates a link to an MQTT broker. The client's own reconnect
// logic is disabled; Manager.Run owns reconnection.
func NewMQTT(cfg Config, handler Handler, logger *slog.Logger) *Manager {
	return newManager(KindMQTT, func(ctx context.Context, h Handler) (session, error) {
		return dialMQTT(ctx, cfg, h)
	}, handler, logger)
}

func mqttOptions(cfg Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout)

	if cfg.NoSSLVerify {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return opts
}

type mqttSession struct {
	client   mqtt.Client
	pubTopic string
	lost     chan error
}

func dialMQTT(ctx context.Context, cfg Config, handler Handler) (session, error) {
	lost := make(chan error, 1)

	opts := mqttOptions(cfg)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s failed: %w", cfg.Broker, err)
	}

	for _, topic := range cfg.SubTopics {
		token := client.Subscribe(topic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Payload())
		})
		if err := waitToken(ctx, token, cfg.ConnectTimeout); err != nil {
			client.Disconnect(mqttDisconnectWait)
			return nil, fmt.Errorf("mqtt subscribe %s failed: %w", topic, err)
		}
	}

	return &mqttSession{client: client, pubTopic: cfg.PubTopic, lost: lost}, nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out")
	}
}

func (s *mqttSession) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.lost:
		return fmt.Errorf("mqtt connection lost: %w", err)
	}
}

func (s *mqttSession) send(payload []byte) error {
	token := s.client.Publish(s.pubTopic, mqttQoS, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

func (s *mqttSession) close() error {
	s.client.Disconnect(mqttDisconnectWait)
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors local session events onto NATS so external
// observers (bots, dashboards) can follow playback without polling.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_sessions/internal/events"
)

const subjectPrefix = "bragi.sessions."

// Publisher forwards bus events to NATS subjects. Subjects follow the
// pattern "bragi.sessions.<event_type>".
type Publisher struct {
	nc     *nats.Conn
	logger zerolog.Logger
	nodeID string
}

type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Connect dials NATS. instanceID identifies this process in published
// messages; empty means a random one is generated.
func Connect(url, instanceID string, logger zerolog.Logger) (*Publisher, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	nc, err := nats.Connect(url,
		nats.Name("bragi-sessions"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("url", url).Msg("connected to NATS")

	return &Publisher{
		nc:     nc,
		logger: logger.With().Str("component", "eventbus").Logger(),
		nodeID: instanceID,
	}, nil
}

// Publish sends one event to its NATS subject.
func (p *Publisher) Publish(eventType events.EventType, payload events.Payload) {
	msg := message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    p.nodeID,
		MessageID: uuid.NewString(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Str("type", string(eventType)).Msg("failed to marshal event")
		return
	}
	if err := p.nc.Publish(subjectPrefix+string(eventType), data); err != nil {
		p.logger.Error().Err(err).Str("type", string(eventType)).Msg("failed to publish event")
	}
}

// Forward subscribes to the local bus and mirrors the given event types
// until ctx is cancelled.
func (p *Publisher) Forward(ctx context.Context, bus *events.Bus, types ...events.EventType) {
	subs := make(map[events.EventType]events.Subscriber, len(types))
	cases := make([]chan events.Payload, 0, len(types))
	for _, t := range types {
		sub := bus.Subscribe(t)
		subs[t] = sub
		cases = append(cases, sub)
	}
	defer func() {
		for t, sub := range subs {
			bus.Unsubscribe(t, sub)
		}
	}()

	// One goroutine per subscription keeps the fan-in simple; the bus
	// drops on overflow so none of these can wedge a publisher.
	done := make(chan struct{})
	for i, t := range types {
		go func(t events.EventType, ch chan events.Payload) {
			for {
				select {
				case <-done:
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					p.Publish(t, payload)
				}
			}
		}(t, cases[i])
	}

	<-ctx.Done()
	close(done)
}

// Drain flushes pending messages and closes the connection.
func (p *Publisher) Drain() {
	if err := p.nc.Drain(); err != nil {
		p.logger.Error().Err(err).Msg("NATS drain failed")
	}
}

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// MessageProducer sends Messages to one Destination, or to a
// caller-supplied Destination on every Send when created without a
// default (§3).
type MessageProducer struct {
	id          command.ProducerId
	session     *Session
	destination *command.Destination

	state *stateManager
	seq   atomic.Int64

	deliveryMode command.DeliveryMode
	priority     byte
	timeToLive   time.Duration
}

// defaultPriority is the JMS default message priority (also
// CmsTemplate::DEFAULT_PRIORITY in the original source); it applies to
// every Send unless overridden with WithPriority.
const defaultPriority byte = 4

func newMessageProducer(s *Session, id command.ProducerId, dest *command.Destination) *MessageProducer {
	return &MessageProducer{
		id:           id,
		session:      s,
		destination:  dest,
		state:        newStateManager(),
		deliveryMode: command.Persistent,
		priority:     defaultPriority,
	}
}

// ID returns the producer's identifier.
func (p *MessageProducer) ID() command.ProducerId { return p.id }

// SetDeliveryMode sets the default DeliveryMode applied to messages sent
// without one explicitly set on the Message itself.
func (p *MessageProducer) SetDeliveryMode(mode command.DeliveryMode) { p.deliveryMode = mode }

// SetPriority sets the default priority (0-9) applied to outgoing messages
// that don't override it with WithPriority.
func (p *MessageProducer) SetPriority(priority byte) { p.priority = priority }

// SetTimeToLive sets how long a sent message survives before expiring; zero
// means no expiration.
func (p *MessageProducer) SetTimeToLive(ttl time.Duration) { p.timeToLive = ttl }

// sendConfig collects the per-call QoS overrides a SendOption applies. Using
// "has" flags rather than zero-value sentinels means a caller can request
// priority 0 or NonPersistent explicitly instead of those values being
// indistinguishable from "not set" (§6 "send(message [, deliveryMode,
// priority, ttl])").
type sendConfig struct {
	deliveryMode    command.DeliveryMode
	hasDeliveryMode bool
	priority        byte
	hasPriority     bool
	ttl             time.Duration
	hasTTL          bool
}

// SendOption overrides one of a producer's default QoS settings for a
// single Send/SendTo call.
type SendOption func(*sendConfig)

// WithDeliveryMode overrides the producer's default delivery mode for one
// Send call.
func WithDeliveryMode(mode command.DeliveryMode) SendOption {
	return func(c *sendConfig) { c.deliveryMode = mode; c.hasDeliveryMode = true }
}

// WithPriority overrides the producer's default priority (0-9) for one
// Send call.
func WithPriority(priority byte) SendOption {
	return func(c *sendConfig) { c.priority = priority; c.hasPriority = true }
}

// WithTimeToLive overrides the producer's default time-to-live for one Send
// call.
func WithTimeToLive(ttl time.Duration) SendOption {
	return func(c *sendConfig) { c.ttl = ttl; c.hasTTL = true }
}

// Send publishes msg to this producer's default destination. It is
// illegal to call Send without a destination argument on a producer
// created without a default (§3 "producer with no destination").
func (p *MessageProducer) Send(msg *command.Message, opts ...SendOption) error {
	if p.destination == nil {
		return cmserr.IllegalState("producer has no default destination, use SendTo")
	}
	return p.SendTo(*p.destination, msg, opts...)
}

// SendTo publishes msg to dest, overriding whatever default destination
// (if any) this producer carries.
func (p *MessageProducer) SendTo(dest command.Destination, msg *command.Message, opts ...SendOption) error {
	if p.state.get() == StateClosed {
		return cmserr.IllegalState("producer is closed")
	}

	var cfg sendConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	seq := p.seq.Add(1)
	msg.MessageId = command.MessageId{ProducerId: p.id, ProducerSeqId: seq}
	msg.ProducerId = p.id
	msg.Destination = dest

	switch {
	case cfg.hasPriority:
		msg.Priority = cfg.priority
	default:
		msg.Priority = p.priority
	}

	ttl := p.timeToLive
	if cfg.hasTTL {
		ttl = cfg.ttl
	}

	if cfg.hasDeliveryMode {
		msg.DeliveryMode = cfg.deliveryMode
	} else if msg.DeliveryMode == 0 {
		msg.DeliveryMode = p.deliveryMode
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if ttl > 0 && msg.Expiration.IsZero() {
		msg.Expiration = msg.Timestamp.Add(ttl)
	}

	if msg.DeliveryMode == command.Persistent {
		ctx, cancel := context.WithTimeout(context.Background(), p.session.conn.requestTimeout())
		defer cancel()
		_, err := p.session.conn.transport.Request(ctx, msg)
		return err
	}
	return p.session.conn.transport.Oneway(msg)
}

func (p *MessageProducer) Close() error {
	return p.closeInternal()
}

func (p *MessageProducer) closeInternal() error {
	if !p.state.transitionFrom(StateClosed, StateCreated, StateStarted, StateStopped) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.session.conn.requestTimeout())
	defer cancel()
	_, err := p.session.conn.transport.Request(ctx, &command.RemoveInfo{ObjectId: p.id, ObjectType: command.TypeProducerInfo})
	return err
}

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Package template implements the scoped session-acquisition callback
// executor of §4.I: Template borrows a Session from a pool.SessionPool,
// invokes a user callback, and guarantees the Session (and any Producer it
// created along the way) is released or re-pooled on every path, including
// a panicking or erroring callback.
package template

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/cmsclient"
	"github.com/fluxcms/gocms/command"
	"github.com/fluxcms/gocms/pool"
)

// SessionCallback is invoked with a checked-out Session; the Template
// returns the Session to the pool when the callback returns, regardless of
// error (§4.I).
type SessionCallback func(s *cmsclient.Session) error

// ProducerCallback is invoked with a checked-out Session and a Producer
// created against it (default destination if the Template has one); the
// Producer is always closed before ExecuteProducer returns.
type ProducerCallback func(s *cmsclient.Session, p *cmsclient.MessageProducer) error

// MessageCreator builds the Message to send, given the Session it will be
// sent on (so it can use Session-scoped helpers like ResolveDestination).
type MessageCreator func(s *cmsclient.Session) (*command.Message, error)

// receiveTimeout sentinel values (§4.I "receiveTimeout contract").
const (
	NoWait          time.Duration = 0
	IndefiniteWait  time.Duration = -1
)

// Options configures a Template, following the teacher's Options/SetX
// chaining convention.
type Options struct {
	DefaultDestination *command.Destination
	DeliveryMode       command.DeliveryMode
	Priority           byte
	TimeToLive         time.Duration
	ExplicitQosEnabled bool
	ReceiveTimeout     time.Duration
	Logger             *slog.Logger
	Tracer             trace.Tracer
	Meter              metric.Meter
}

func NewOptions() *Options {
	return &Options{
		DeliveryMode:   command.Persistent,
		Priority:       4,
		ReceiveTimeout: IndefiniteWait,
	}
}

func (o *Options) SetDefaultDestination(d command.Destination) *Options {
	o.DefaultDestination = &d
	return o
}
func (o *Options) SetQos(mode command.DeliveryMode, priority byte, ttl time.Duration) *Options {
	o.DeliveryMode = mode
	o.Priority = priority
	o.TimeToLive = ttl
	o.ExplicitQosEnabled = true
	return o
}
func (o *Options) SetReceiveTimeout(d time.Duration) *Options { o.ReceiveTimeout = d; return o }
func (o *Options) SetLogger(l *slog.Logger) *Options          { o.Logger = l; return o }

// Template is the higher-level callback executor of §4.I.
type Template struct {
	pool *pool.SessionPool
	opts *Options
	log  *slog.Logger

	tracer  trace.Tracer
	metrics *Metrics
}

// New builds a Template over conn backed by a pool.SessionPool partitioned
// by ack mode (§4.G); each Execute call names the ack mode it needs.
// Sessions are created lazily through conn.CreateSession and returned to
// the pool (never closed at the broker) between callbacks, unless the
// pool's ReturnGuard rejects the return.
func New(conn *cmsclient.Connection, opts *Options) (*Template, error) {
	if opts == nil {
		opts = NewOptions()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("gocms/template")
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("gocms/template")
	}
	metrics, err := NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	sessionPool := pool.New(
		func(mode command.AckMode) (pool.Sessionish, error) { return conn.CreateSession(mode) },
		func(s pool.Sessionish) bool { return s.(*cmsclient.Session).HasUnacknowledgedMessages() },
	)

	return &Template{pool: sessionPool, opts: opts, log: log, tracer: tracer, metrics: metrics}, nil
}

// Execute borrows a Session for ackMode, invokes cb, and returns the
// Session to the pool on every path. A callback error is augmented with
// the call site and re-raised (§4.I "Contract").
func (t *Template) Execute(ctx context.Context, ackMode command.AckMode, cb SessionCallback) (err error) {
	ctx, span := t.tracer.Start(ctx, "template.execute")
	start := time.Now()
	defer func() {
		t.metrics.executesTotal.Add(ctx, 1)
		t.metrics.executeDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			t.metrics.errorsTotal.Add(ctx, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s, err := t.pool.Take(ackMode)
	if err != nil {
		return err
	}
	sess := s.(*cmsclient.Session)
	span.SetAttributes(attribute.String("gocms.session.id", sess.ID().String()))

	defer func() {
		if r := recover(); r != nil {
			_ = t.pool.Return(s)
			panic(r)
		}
		if retErr := t.pool.Return(s); retErr != nil && t.log != nil {
			t.log.Warn("template: session not returned to pool", slog.String("reason", retErr.Error()))
		}
	}()

	if cbErr := cb(sess); cbErr != nil {
		err = augmentOrigin(cbErr, "template.Execute")
	}
	return err
}

// ExecuteProducer borrows a Session, creates a Producer against dest (or
// the Template's default destination if dest is nil), invokes cb, and
// guarantees the Producer is closed before returning (§4.I).
func (t *Template) ExecuteProducer(ctx context.Context, ackMode command.AckMode, dest *command.Destination, cb ProducerCallback) error {
	return t.Execute(ctx, ackMode, func(sess *cmsclient.Session) error {
		target := dest
		if target == nil {
			target = t.opts.DefaultDestination
		}
		if target == nil {
			return cmserr.IllegalState("template has no default destination and none was given")
		}

		p, err := sess.CreateProducer(target)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := p.Close(); closeErr != nil && t.log != nil {
				t.log.Warn("template: producer close failed", slog.String("reason", closeErr.Error()))
			}
		}()

		return cb(sess, p)
	})
}

// Send resolves dest (falling back to the Template's default destination),
// builds a Message via creator, applies the Template's QoS overrides when
// explicit QoS is enabled (leaving the producer's own defaults alone
// otherwise), and sends it (§4.I).
func (t *Template) Send(ctx context.Context, ackMode command.AckMode, dest *command.Destination, creator MessageCreator) error {
	err := t.ExecuteProducer(ctx, ackMode, dest, func(sess *cmsclient.Session, p *cmsclient.MessageProducer) error {
		msg, err := creator(sess)
		if err != nil {
			return err
		}
		if t.opts.ExplicitQosEnabled {
			p.SetDeliveryMode(t.opts.DeliveryMode)
			p.SetPriority(t.opts.Priority)
			p.SetTimeToLive(t.opts.TimeToLive)
		}
		return p.Send(msg)
	})
	if err == nil {
		t.metrics.sendsTotal.Add(ctx, 1)
	}
	return err
}

// SendByName resolves name against the Template's ackMode-scoped Session
// cache (§4.H) and sends through it.
func (t *Template) SendByName(ctx context.Context, ackMode command.AckMode, name string, creator MessageCreator) error {
	return t.Execute(ctx, ackMode, func(sess *cmsclient.Session) error {
		dest, err := sess.ResolveDestination(name)
		if err != nil {
			return err
		}
		p, err := sess.CreateProducer(&dest)
		if err != nil {
			return err
		}
		defer p.Close()

		msg, err := creator(sess)
		if err != nil {
			return err
		}
		if t.opts.ExplicitQosEnabled {
			p.SetDeliveryMode(t.opts.DeliveryMode)
			p.SetPriority(t.opts.Priority)
			p.SetTimeToLive(t.opts.TimeToLive)
		}
		return p.Send(msg)
	})
}

// Close destroys every idle pooled Session; Sessions currently checked out
// by an in-flight Execute are left for their own callback to finish.
func (t *Template) Close() error {
	return t.pool.Destroy()
}

func augmentOrigin(err error, origin string) error {
	var ce *cmserr.Error
	if e, ok := err.(*cmserr.Error); ok {
		ce = e
	} else {
		ce = cmserr.Wrap(cmserr.KindIllegalState, "template callback failed", err)
	}
	return ce.WithOrigin(origin)
}

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
	"github.com/fluxcms/gocms/wire"
)

// coreTransport is the bottom of the stack: one raw conn, one negotiated
// codec, and the request/response correlator (§4.C, §4.D). It never
// reconnects on its own; that is failoverTransport's job one layer up.
// Request is wrapped in a per-transport gobreaker.CircuitBreaker so a
// broker that starts timing out every request stops being hammered with
// new ones, mirroring broker/webhook/notifier.go's per-endpoint breaker.
type coreTransport struct {
	conn  conn
	codec wire.Codec
	opts  *Options
	log   *slog.Logger

	wireFormat *command.WireFormatInfo

	corr    *correlator
	breaker *gobreaker.CircuitBreaker

	mu                sync.Mutex
	writeMu           sync.Mutex
	commandListener   CommandListener
	exceptionListener ExceptionListener
	closed            bool
	doneCh            chan struct{}
}

func newCoreTransport(c conn, codec wire.Codec, wf *command.WireFormatInfo, opts *Options, log *slog.Logger) *coreTransport {
	if log == nil {
		log = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gocms-transport",
		MaxRequests: opts.BreakerMaxRequests,
		Interval:    opts.BreakerInterval,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("transport circuit breaker state changed",
				slog.String("transport", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})

	return &coreTransport{
		conn:       c,
		codec:      codec,
		opts:       opts,
		log:        log,
		wireFormat: wf,
		corr:       newCorrelator(),
		breaker:    breaker,
		doneCh:     make(chan struct{}),
	}
}

func (t *coreTransport) SetCommandListener(l CommandListener)     { t.mu.Lock(); t.commandListener = l; t.mu.Unlock() }
func (t *coreTransport) SetExceptionListener(l ExceptionListener) { t.mu.Lock(); t.exceptionListener = l; t.mu.Unlock() }
func (t *coreTransport) IsFaultTolerant() bool                    { return false }

func (t *coreTransport) Start(ctx context.Context) error {
	go t.readLoop(ctx)
	return nil
}

func (t *coreTransport) readLoop(ctx context.Context) {
	defer close(t.doneCh)
	for {
		tag, payload, err := wire.ReadFrame(t.conn, t.wireFormat.MaxFrameSize)
		if err != nil {
			t.fail(err)
			return
		}
		if t.wireFormat.CompressionEnabled {
			payload, err = wire.Decompress(payload)
			if err != nil {
				t.fail(err)
				return
			}
		}
		cmd, err := t.codec.Decode(tag, payload)
		if err != nil {
			t.log.Warn("dropping undecodable frame", slog.String("error", err.Error()))
			continue
		}
		t.dispatch(cmd)
	}
}

func (t *coreTransport) dispatch(cmd command.Command) {
	switch c := cmd.(type) {
	case *command.Response:
		if t.corr.resolve(c.CorrelationId, c, nil) {
			return
		}
	case *command.ExceptionResponse:
		err := cmserr.Broker(c.ExceptionClass, c.Message)
		if t.corr.resolve(c.CorrelationId, nil, err) {
			return
		}
	}

	t.mu.Lock()
	listener := t.commandListener
	t.mu.Unlock()
	if listener != nil {
		listener(cmd)
	}
}

func (t *coreTransport) fail(err error) {
	t.corr.clear(err)
	t.mu.Lock()
	listener := t.exceptionListener
	t.mu.Unlock()
	if listener != nil && err != io.EOF {
		listener(cmserr.TransportErr(err, "transport failed"))
	}
}

func (t *coreTransport) Oneway(cmd command.Command) error {
	payload, err := t.codec.Encode(cmd)
	if err != nil {
		return err
	}
	if t.wireFormat.CompressionEnabled {
		payload = wire.MaybeCompress(payload, true, t.wireFormat.CompressionMinSize)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.opts.RequestTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.RequestTimeout))
	}
	return wire.WriteFrame(t.conn, cmd.TypeTag(), payload)
}

func (t *coreTransport) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	cmd.SetResponseRequired(true)
	id, op := t.corr.register()
	cmd.SetCommandID(id)

	result, err := t.breaker.Execute(func() (interface{}, error) {
		if err := t.Oneway(cmd); err != nil {
			t.corr.cancel(id)
			return nil, err
		}

		select {
		case res := <-op.done:
			if res.err != nil {
				return nil, res.err
			}
			return res.cmd, nil
		case <-ctx.Done():
			t.corr.cancel(id)
			return nil, cmserr.Timeout("request %s timed out waiting for response", command.TypeName(cmd.TypeTag()))
		}
	})
	if err != nil {
		return nil, err
	}
	return result.(command.Command), nil
}

func (t *coreTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.conn.Close()
	<-t.doneCh
	return err
}

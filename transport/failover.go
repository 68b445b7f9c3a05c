// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// ReplayFunc re-sends the commands needed to restore broker-side state
// (ConnectionInfo, then every live SessionInfo/ConsumerInfo/ProducerInfo)
// after a reconnect. cmsclient supplies this; transport has no notion of
// sessions or consumers itself (§4.C "failover ... replaying entity
// state").
type ReplayFunc func(ctx context.Context, t Transport) error

// failoverTransport wraps a URI list and reconnect policy around
// connectOnce, presenting a single stable Transport to callers across
// however many underlying reconnects occur. Grounded on
// client/client.go's reconnect() exponential-backoff loop, generalized
// from a single fixed broker address to a URI list and from a bare
// reconnect to state replay.
type failoverTransport struct {
	uris    []string
	opts    *Options
	log     *slog.Logger
	replay  ReplayFunc

	mu                sync.Mutex
	active            Transport
	commandListener   CommandListener
	exceptionListener ExceptionListener
	closed            bool
}

// NewFailoverTransport returns a Transport that dials the first reachable
// URI in uris, and transparently reconnects (retrying the list in order,
// with exponential backoff) on failure, replaying entity state via replay
// after each successful reconnect.
func NewFailoverTransport(ctx context.Context, uris []string, opts *Options, replay ReplayFunc, log *slog.Logger) (Transport, error) {
	if log == nil {
		log = slog.Default()
	}
	ft := &failoverTransport{uris: uris, opts: opts, log: log, replay: replay}
	if err := ft.connect(ctx); err != nil {
		return nil, err
	}
	return ft, nil
}

func (ft *failoverTransport) connect(ctx context.Context) error {
	var lastErr error
	for _, uri := range ft.uris {
		t, err := connectOnce(ctx, uri, ft.opts, ft.log)
		if err != nil {
			lastErr = err
			continue
		}
		t.SetCommandListener(ft.onCommand)
		t.SetExceptionListener(ft.onException)

		ft.mu.Lock()
		ft.active = t
		ft.mu.Unlock()
		return nil
	}
	return lastErr
}

func (ft *failoverTransport) onCommand(cmd command.Command) {
	ft.mu.Lock()
	l := ft.commandListener
	ft.mu.Unlock()
	if l != nil {
		l(cmd)
	}
}

func (ft *failoverTransport) onException(err error) {
	ft.mu.Lock()
	closed := ft.closed
	ft.mu.Unlock()
	if closed {
		return
	}
	ft.log.Warn("transport failed, starting reconnect", slog.String("error", err.Error()))
	go ft.reconnectLoop()
}

func (ft *failoverTransport) reconnectLoop() {
	ctx := context.Background()
	delay := ft.opts.InitialReconnectDelay
	attempt := 0

	for {
		ft.mu.Lock()
		closed := ft.closed
		ft.mu.Unlock()
		if closed {
			return
		}
		attempt++
		if ft.opts.MaxReconnectAttempts > 0 && attempt > ft.opts.MaxReconnectAttempts {
			ft.log.Error("failover exhausted reconnect attempts", slog.Int("attempts", attempt-1))
			ft.mu.Lock()
			l := ft.exceptionListener
			ft.mu.Unlock()
			if l != nil {
				l(cmserr.TransportErr(nil, "failover exhausted %d reconnect attempts", attempt-1))
			}
			return
		}

		if err := ft.connect(ctx); err == nil {
			if ft.replay != nil {
				ft.mu.Lock()
				active := ft.active
				ft.mu.Unlock()
				if err := ft.replay(ctx, active); err != nil {
					ft.log.Error("entity replay failed after reconnect", slog.String("error", err.Error()))
					continue
				}
			}
			ft.log.Info("failover reconnected", slog.Int("attempt", attempt))
			return
		}

		time.Sleep(delay)
		delay = time.Duration(math.Min(float64(delay)*ft.opts.Backoff, float64(ft.opts.MaxReconnectDelay)))
	}
}

func (ft *failoverTransport) SetCommandListener(l CommandListener) {
	ft.mu.Lock()
	ft.commandListener = l
	ft.mu.Unlock()
}
func (ft *failoverTransport) SetExceptionListener(l ExceptionListener) {
	ft.mu.Lock()
	ft.exceptionListener = l
	ft.mu.Unlock()
}
func (ft *failoverTransport) IsFaultTolerant() bool { return true }

func (ft *failoverTransport) Start(ctx context.Context) error { return nil }

func (ft *failoverTransport) Oneway(cmd command.Command) error {
	ft.mu.Lock()
	active := ft.active
	ft.mu.Unlock()
	return active.Oneway(cmd)
}

func (ft *failoverTransport) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	ft.mu.Lock()
	active := ft.active
	ft.mu.Unlock()
	return active.Request(ctx, cmd)
}

func (ft *failoverTransport) Close() error {
	ft.mu.Lock()
	if ft.closed {
		ft.mu.Unlock()
		return nil
	}
	ft.closed = true
	active := ft.active
	ft.mu.Unlock()
	return active.Close()
}

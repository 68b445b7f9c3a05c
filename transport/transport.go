// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Package transport wires a byte stream (TCP or WebSocket) to the codec
// registry in wire, layering inactivity monitoring, request/response
// correlation, and circuit-breaking on top of a raw Conn, and adding
// automatic reconnect with entity replay on top of that (§4.C, §4.D).
package transport

import (
	"context"
	"time"

	"github.com/fluxcms/gocms/command"
)

// CommandListener receives commands the transport did not originate a
// request for: broker-pushed MessageDispatch, ConnectionError, KeepAliveInfo.
type CommandListener func(cmd command.Command)

// ExceptionListener is invoked once when the transport fails permanently
// (after failover, if configured, gives up).
type ExceptionListener func(err error)

// Transport is the contract every layer in the stack (core transport with
// its correlator, inactivity monitor, failover) implements identically, so
// they can be composed transparently (§4.C).
type Transport interface {
	// Start begins reading frames in a background goroutine and dispatching
	// them to the CommandListener/ExceptionListener.
	Start(ctx context.Context) error

	// Oneway sends cmd without waiting for a Response.
	Oneway(cmd command.Command) error

	// Request sends cmd with ResponseRequired set and blocks for a
	// matching Response/ExceptionResponse or ctx cancellation.
	Request(ctx context.Context, cmd command.Command) (command.Command, error)

	SetCommandListener(l CommandListener)
	SetExceptionListener(l ExceptionListener)

	// IsFaultTolerant reports whether this transport silently reconnects
	// on failure (a failoverTransport) versus surfacing it immediately.
	IsFaultTolerant() bool

	Close() error
}

// Options configures transport construction, following the teacher's
// builder-on-a-struct convention (client/options.go SetX chaining) rather
// than functional options.
type Options struct {
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	WriteCheckInterval time.Duration
	ReadCheckInterval  time.Duration
	MaxFrameSize      int64
	CompressionEnabled bool
	CompressionMinSize int

	// WireFormatInfo handshake offer (§2 External Interfaces).
	TightEncodingEnabled bool
	StackTraceEnabled    bool

	// Failover
	MaxReconnectAttempts int
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	Backoff               float64

	// Circuit breaker (component D, wrapping Request) — grounded on
	// broker/webhook/notifier.go's per-endpoint gobreaker.Settings.
	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32
}

func NewOptions() *Options {
	return &Options{
		ConnectTimeout:          10 * time.Second,
		RequestTimeout:          15 * time.Second,
		WriteCheckInterval:      10 * time.Second,
		ReadCheckInterval:       30 * time.Second,
		MaxFrameSize:            16 * 1024 * 1024,
		TightEncodingEnabled:    true,
		StackTraceEnabled:       true,
		MaxReconnectAttempts:    0, // 0 = unlimited
		InitialReconnectDelay:   100 * time.Millisecond,
		MaxReconnectDelay:       30 * time.Second,
		Backoff:                 2.0,
		BreakerMaxRequests:      1,
		BreakerTimeout:          30 * time.Second,
		BreakerFailureThreshold: 5,
	}
}

func (o *Options) SetConnectTimeout(d time.Duration) *Options     { o.ConnectTimeout = d; return o }
func (o *Options) SetRequestTimeout(d time.Duration) *Options     { o.RequestTimeout = d; return o }
func (o *Options) SetMaxFrameSize(n int64) *Options               { o.MaxFrameSize = n; return o }
func (o *Options) SetCompression(enabled bool, minSize int) *Options {
	o.CompressionEnabled = enabled
	o.CompressionMinSize = minSize
	return o
}
func (o *Options) SetInactivityIntervals(write, read time.Duration) *Options {
	o.WriteCheckInterval = write
	o.ReadCheckInterval = read
	return o
}
func (o *Options) SetWireFormat(tightEncoding, stackTrace bool) *Options {
	o.TightEncodingEnabled = tightEncoding
	o.StackTraceEnabled = stackTrace
	return o
}
func (o *Options) SetMaxReconnectAttempts(n int) *Options { o.MaxReconnectAttempts = n; return o }
func (o *Options) SetBackoff(initial, max time.Duration, factor float64) *Options {
	o.InitialReconnectDelay = initial
	o.MaxReconnectDelay = max
	o.Backoff = factor
	return o
}

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/fluxcms/gocms/command"
	"github.com/fluxcms/gocms/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is an in-process stand-in for transport.Transport, letting
// Connection/Session/Consumer/Producer tests run without a real broker or
// network connection. Requests are answered immediately with a Response
// carrying the request's CommandId, mirroring how a broker would ack an
// Info command.
type fakeTransport struct {
	mu          sync.Mutex
	sent        []command.Command
	oneway      []command.Command
	nextID      uint32
	listener    transport.CommandListener
	excListener transport.ExceptionListener
	closed      bool

	requestHook func(cmd command.Command) (command.Command, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Start(ctx context.Context) error { return nil }

func (f *fakeTransport) Oneway(cmd command.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oneway = append(f.oneway, cmd)
	return nil
}

func (f *fakeTransport) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	f.mu.Lock()
	f.nextID++
	cmd.SetCommandID(f.nextID)
	f.sent = append(f.sent, cmd)
	hook := f.requestHook
	f.mu.Unlock()

	if hook != nil {
		return hook(cmd)
	}
	return &command.Response{Header: command.Header{CommandId: f.nextID}, CorrelationId: cmd.CommandID()}, nil
}

func (f *fakeTransport) SetCommandListener(l transport.CommandListener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *fakeTransport) SetExceptionListener(l transport.ExceptionListener) {
	f.mu.Lock()
	f.excListener = l
	f.mu.Unlock()
}

func (f *fakeTransport) IsFaultTolerant() bool { return false }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) push(cmd command.Command) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l != nil {
		l(cmd)
	}
}

func (f *fakeTransport) onewayCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.oneway)
}

func (f *fakeTransport) lastOneway() command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.oneway) == 0 {
		return nil
	}
	return f.oneway[len(f.oneway)-1]
}

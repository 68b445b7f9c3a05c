// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// inactivityMonitor wraps a Transport with the negotiated
// MaxInactivityDuration keep-alive contract (§4.C): it emits a
// KeepAliveInfo when nothing has been written for WriteCheckInterval, and
// declares the transport dead when nothing has been read for
// ReadCheckInterval. Grounded on client/client.go's startKeepAlive
// ticker-based idle check, generalized from a fixed ping to a two-sided
// read/write monitor per the negotiated WireFormatInfo.
type inactivityMonitor struct {
	next Transport
	opts *Options

	lastWriteNanos atomic.Int64
	lastReadNanos  atomic.Int64

	mu                sync.Mutex
	commandListener   CommandListener
	exceptionListener ExceptionListener

	stopCh chan struct{}
	once   sync.Once
}

func newInactivityMonitor(next Transport, opts *Options) *inactivityMonitor {
	m := &inactivityMonitor{next: next, opts: opts, stopCh: make(chan struct{})}
	now := time.Now().UnixNano()
	m.lastWriteNanos.Store(now)
	m.lastReadNanos.Store(now)

	next.SetCommandListener(m.onCommand)
	next.SetExceptionListener(m.onException)
	return m
}

func (m *inactivityMonitor) onCommand(cmd command.Command) {
	m.lastReadNanos.Store(time.Now().UnixNano())
	if _, ok := cmd.(*command.KeepAliveInfo); ok {
		return
	}
	m.mu.Lock()
	l := m.commandListener
	m.mu.Unlock()
	if l != nil {
		l(cmd)
	}
}

func (m *inactivityMonitor) onException(err error) {
	m.mu.Lock()
	l := m.exceptionListener
	m.mu.Unlock()
	if l != nil {
		l(err)
	}
}

func (m *inactivityMonitor) SetCommandListener(l CommandListener)     { m.mu.Lock(); m.commandListener = l; m.mu.Unlock() }
func (m *inactivityMonitor) SetExceptionListener(l ExceptionListener) { m.mu.Lock(); m.exceptionListener = l; m.mu.Unlock() }
func (m *inactivityMonitor) IsFaultTolerant() bool                    { return m.next.IsFaultTolerant() }

func (m *inactivityMonitor) Start(ctx context.Context) error {
	if err := m.next.Start(ctx); err != nil {
		return err
	}
	go m.writeCheckLoop()
	go m.readCheckLoop()
	return nil
}

func (m *inactivityMonitor) writeCheckLoop() {
	if m.opts.WriteCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.opts.WriteCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, m.lastWriteNanos.Load()))
			if idle >= m.opts.WriteCheckInterval {
				_ = m.next.Oneway(&command.KeepAliveInfo{})
				m.lastWriteNanos.Store(time.Now().UnixNano())
			}
		}
	}
}

func (m *inactivityMonitor) readCheckLoop() {
	if m.opts.ReadCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.opts.ReadCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, m.lastReadNanos.Load()))
			if idle >= m.opts.ReadCheckInterval {
				m.onException(cmserr.Timeout("no traffic received for %s, assuming transport dead", idle))
				return
			}
		}
	}
}

func (m *inactivityMonitor) Oneway(cmd command.Command) error {
	m.lastWriteNanos.Store(time.Now().UnixNano())
	return m.next.Oneway(cmd)
}

func (m *inactivityMonitor) Request(ctx context.Context, cmd command.Command) (command.Command, error) {
	m.lastWriteNanos.Store(time.Now().UnixNano())
	return m.next.Request(ctx, cmd)
}

func (m *inactivityMonitor) Close() error {
	m.once.Do(func() { close(m.stopCh) })
	return m.next.Close()
}

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Package pool implements a checkout/return cache of Sessions
// partitioned by acknowledgement mode (§4.G). It never talks to the broker
// directly: every pooled Session was created through, and is destroyed
// through, a cmsclient.Connection.
package pool

import (
	"sync"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// Sessionish is the subset of cmsclient.Session the pool needs, kept
// narrow so pool does not import cmsclient (cmsclient may in turn build on
// pool without a cycle).
type Sessionish interface {
	AckMode() command.AckMode
	SetBusy(bool)
	IsBusy() bool
	Close() error
}

// Factory creates a new Session for the given ack mode, the way
// Connection.CreateSession does.
type Factory func(ackMode command.AckMode) (Sessionish, error)

// ReturnGuard reports whether returning s to the pool right now would
// violate the "zero unacked messages" invariant of §4.G (a CLIENT/
// TRANSACTED session with outstanding acks or an open transaction). The
// pool calls this before re-enqueuing; template.New supplies one built on
// cmsclient.Session.HasUnacknowledgedMessages.
type ReturnGuard func(s Sessionish) bool

type ackModeSlot struct {
	mu        sync.Mutex
	idle      []Sessionish
	checkedOut int
}

// SessionPool is an array of per-ack-mode slots, each an unbounded FIFO of
// idle Sessions plus a checkout counter (§4.G).
type SessionPool struct {
	factory     Factory
	returnGuard ReturnGuard
	slots       [command.NumAckModes]*ackModeSlot
}

// New builds a SessionPool that lazily creates Sessions via factory and
// consults guard before allowing a Return.
func New(factory Factory, guard ReturnGuard) *SessionPool {
	p := &SessionPool{factory: factory, returnGuard: guard}
	for i := range p.slots {
		p.slots[i] = &ackModeSlot{}
	}
	return p
}

func (p *SessionPool) slotFor(ackMode command.AckMode) (*ackModeSlot, error) {
	idx := int(ackMode)
	if idx < 0 || idx >= len(p.slots) {
		return nil, cmserr.IllegalArgument("unknown ack mode %d", ackMode)
	}
	return p.slots[idx], nil
}

// Take returns a pooled Session for ackMode, creating one lazily against
// the shared Connection if the slot's idle FIFO is empty. The returned
// Session is marked busy; the caller must eventually call Return or
// Destroy on it.
func (p *SessionPool) Take(ackMode command.AckMode) (Sessionish, error) {
	slot, err := p.slotFor(ackMode)
	if err != nil {
		return nil, err
	}

	slot.mu.Lock()
	var s Sessionish
	if len(slot.idle) > 0 {
		s = slot.idle[0]
		slot.idle = slot.idle[1:]
	}
	slot.checkedOut++
	slot.mu.Unlock()

	if s == nil {
		s, err = p.factory(ackMode)
		if err != nil {
			slot.mu.Lock()
			slot.checkedOut--
			slot.mu.Unlock()
			return nil, err
		}
	}

	s.SetBusy(true)
	return s, nil
}

// Return resets s's client-side state and re-enqueues it in its ack-mode
// slot. It refuses (and does not re-enqueue) a Session the ReturnGuard
// flags as having unacknowledged work outstanding — a programming error
// surfaced as IllegalStateError (§4.G invariant).
func (p *SessionPool) Return(s Sessionish) error {
	slot, err := p.slotFor(s.AckMode())
	if err != nil {
		return err
	}

	if p.returnGuard != nil && p.returnGuard(s) {
		slot.mu.Lock()
		slot.checkedOut--
		slot.mu.Unlock()
		return cmserr.IllegalState("session returned to pool with unacknowledged messages outstanding")
	}

	s.SetBusy(false)

	slot.mu.Lock()
	slot.checkedOut--
	slot.idle = append(slot.idle, s)
	slot.mu.Unlock()
	return nil
}

// Destroy closes every pooled (idle) Session by calling its Close
// directly; it does not touch Sessions currently checked out.
func (p *SessionPool) Destroy() error {
	var first error
	for _, slot := range p.slots {
		slot.mu.Lock()
		idle := slot.idle
		slot.idle = nil
		slot.mu.Unlock()

		for _, s := range idle {
			if err := s.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// IdleCount reports how many Sessions are idle in ackMode's slot, mainly
// for tests and metrics.
func (p *SessionPool) IdleCount(ackMode command.AckMode) int {
	slot, err := p.slotFor(ackMode)
	if err != nil {
		return 0
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return len(slot.idle)
}

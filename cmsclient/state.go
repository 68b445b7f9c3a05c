// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Package cmsclient implements the JMS-style façade: Connection, Session,
// MessageProducer, MessageConsumer, and the resource lifecycle manager that
// ties their teardown order together (§4.E, §4.F, §4.H, §4.J).
package cmsclient

import "sync/atomic"

// LifecycleState is the CREATED→STARTED→STOPPED→CLOSED state machine
// shared by Connection, Session, and MessageConsumer (§3). Not every
// entity uses every state (Session has no STARTED distinct from CREATED,
// for instance); each entity's own transition table enforces which moves
// are legal.
type LifecycleState uint32

const (
	StateCreated LifecycleState = iota
	StateStarted
	StateStopped
	StateClosing
	StateClosed
)

func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateManager handles atomic lifecycle transitions, grounded on the
// teacher's client/state.go stateManager (CAS-based, no locks needed for
// the state word itself).
type stateManager struct {
	state uint32
}

func newStateManager() *stateManager {
	return &stateManager{state: uint32(StateCreated)}
}

func (sm *stateManager) get() LifecycleState {
	return LifecycleState(atomic.LoadUint32(&sm.state))
}

func (sm *stateManager) set(s LifecycleState) {
	atomic.StoreUint32(&sm.state, uint32(s))
}

func (sm *stateManager) transition(from, to LifecycleState) bool {
	return atomic.CompareAndSwapUint32(&sm.state, uint32(from), uint32(to))
}

func (sm *stateManager) transitionFrom(to LifecycleState, from ...LifecycleState) bool {
	for _, f := range from {
		if sm.transition(f, to) {
			return true
		}
	}
	return false
}

func (sm *stateManager) isClosed() bool {
	return sm.get() == StateClosed || sm.get() == StateClosing
}

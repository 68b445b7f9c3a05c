// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import "sync"

// destroyable is anything the lifecycle manager can tear down. Producers,
// consumers, sessions, temporary destinations and the connection are
// registered as onceDestroyable closures, which run their teardown at most
// once.
type destroyable interface {
	destroy() error
}

// resourceLifecycleManager owns the destroy order for everything a
// Connection created: producers, then consumers, then its own temporary
// destinations, then sessions, then finally the connection itself (§4.F).
// Every destroy runs exactly once even if the manager's sweep is invoked
// more than once (e.g. once from Connection.Close and once from a
// defer-recover in a Template callback); errors are collected rather than
// aborting the sweep, and the first one is returned to the caller once
// every resource has had a chance to release.
type resourceLifecycleManager struct {
	mu sync.Mutex

	producers         []destroyable
	consumers         []destroyable
	tempDestinations  []destroyable
	sessions          []destroyable
	connections       []destroyable
}

func newResourceLifecycleManager() *resourceLifecycleManager {
	return &resourceLifecycleManager{}
}

func (m *resourceLifecycleManager) registerProducer(d destroyable) {
	m.mu.Lock()
	m.producers = append(m.producers, d)
	m.mu.Unlock()
}

func (m *resourceLifecycleManager) registerConsumer(d destroyable) {
	m.mu.Lock()
	m.consumers = append(m.consumers, d)
	m.mu.Unlock()
}

func (m *resourceLifecycleManager) registerTempDestination(d destroyable) {
	m.mu.Lock()
	m.tempDestinations = append(m.tempDestinations, d)
	m.mu.Unlock()
}

func (m *resourceLifecycleManager) registerSession(d destroyable) {
	m.mu.Lock()
	m.sessions = append(m.sessions, d)
	m.mu.Unlock()
}

func (m *resourceLifecycleManager) registerConnection(d destroyable) {
	m.mu.Lock()
	m.connections = append(m.connections, d)
	m.mu.Unlock()
}

// destroyAll runs the ordered sweep described above and returns the first
// error encountered, if any, only after every resource has been given a
// chance to destroy itself.
func (m *resourceLifecycleManager) destroyAll() error {
	m.mu.Lock()
	groups := [][]destroyable{m.producers, m.consumers, m.tempDestinations, m.sessions, m.connections}
	m.producers, m.consumers, m.tempDestinations, m.sessions, m.connections = nil, nil, nil, nil, nil
	m.mu.Unlock()

	var first error
	for _, group := range groups {
		for _, d := range group {
			if err := d.destroy(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// onceDestroyable wraps a plain func() error so destroy() only ever runs
// it once, regardless of how many times the lifecycle manager (or a
// caller's own explicit Close) invokes it.
type onceDestroyable struct {
	once sync.Once
	fn   func() error
	err  error
}

func newOnceDestroyable(fn func() error) *onceDestroyable {
	return &onceDestroyable{fn: fn}
}

func (o *onceDestroyable) destroy() error {
	o.once.Do(func() { o.err = o.fn() })
	return o.err
}

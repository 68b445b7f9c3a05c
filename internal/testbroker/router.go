// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package testbroker

import (
	"sync"

	"github.com/fluxcms/gocms/command"
)

// maxBacklog bounds how many undelivered queue messages router buffers per
// destination before it starts dropping the oldest one; a real broker would
// spill to disk, this one exists only to drive tests and the stress
// harness (§ ambient test tooling).
const maxBacklog = 1000

// pushConsumer is a live, prefetch>0 subscriber the router can deliver to
// without the consumer having to ask.
type pushConsumer struct {
	id   command.ConsumerId
	send func(*command.MessageDispatch) error
}

// destinationRoute holds the routing state for one destination name: the
// push consumers currently subscribed (round-robin for queues, fan-out for
// topics) and, for queues only, a backlog of messages that arrived with no
// push consumer available, served to pull-mode consumers on demand.
//
// Simplification: topics have no backlog (a non-durable subscriber that
// isn't listening when a message is published misses it, same as JMS
// non-durable topic semantics); pull-mode ("prefetch=0") consumers on a
// topic never receive anything, since there is nothing to pull from.
type destinationRoute struct {
	mu       sync.Mutex
	kind     command.DestinationKind
	push     []*pushConsumer
	rrIndex  int
	backlog  []*command.Message
}

// router owns every destination's routing state, keyed by Destination.String().
type router struct {
	mu   sync.Mutex
	dest map[string]*destinationRoute
}

func newRouter() *router {
	return &router{dest: make(map[string]*destinationRoute)}
}

func (r *router) routeFor(d command.Destination) *destinationRoute {
	key := d.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.dest[key]
	if !ok {
		rt = &destinationRoute{kind: d.Kind}
		r.dest[key] = rt
	}
	return rt
}

// subscribe registers a push consumer and flushes any backlog it can drain
// immediately (queues only), preserving FIFO order for messages that
// arrived before any consumer was listening.
func (r *router) subscribe(d command.Destination, c *pushConsumer) {
	rt := r.routeFor(d)
	rt.mu.Lock()
	rt.push = append(rt.push, c)
	var flush []*command.Message
	if rt.kind != command.KindTopic && rt.kind != command.KindTemporaryTopic && len(rt.backlog) > 0 {
		flush = rt.backlog
		rt.backlog = nil
	}
	rt.mu.Unlock()

	for _, m := range flush {
		_ = c.send(&command.MessageDispatch{ConsumerId: c.id, Message: m})
	}
}

// unsubscribe removes a push consumer, e.g. on MessageConsumer.Close.
func (r *router) unsubscribe(d command.Destination, id command.ConsumerId) {
	rt := r.routeFor(d)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, c := range rt.push {
		if c.id == id {
			rt.push = append(rt.push[:i], rt.push[i+1:]...)
			return
		}
	}
}

// publish delivers msg to destination d: round-robin across push consumers
// for a queue, fan-out to every push consumer for a topic, or backlog it
// (queues only) when nobody is listening.
func (r *router) publish(d command.Destination, msg *command.Message) {
	rt := r.routeFor(d)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if d.IsTopic() {
		for _, c := range rt.push {
			_ = c.send(&command.MessageDispatch{ConsumerId: c.id, Message: msg})
		}
		return
	}

	if len(rt.push) == 0 {
		if len(rt.backlog) >= maxBacklog {
			rt.backlog = rt.backlog[1:]
		}
		rt.backlog = append(rt.backlog, msg)
		return
	}

	rt.rrIndex = rt.rrIndex % len(rt.push)
	c := rt.push[rt.rrIndex]
	rt.rrIndex++
	_ = c.send(&command.MessageDispatch{ConsumerId: c.id, Message: msg})
}

// pull services one MessagePull for a zero-prefetch consumer: pop the oldest
// backlogged message for d, if any, and hand it to send.
func (r *router) pull(d command.Destination, send func(*command.MessageDispatch) error, consumerID command.ConsumerId) {
	rt := r.routeFor(d)
	rt.mu.Lock()
	if len(rt.backlog) == 0 {
		rt.mu.Unlock()
		return
	}
	msg := rt.backlog[0]
	rt.backlog = rt.backlog[1:]
	rt.mu.Unlock()

	_ = send(&command.MessageDispatch{ConsumerId: consumerID, Message: msg})
}

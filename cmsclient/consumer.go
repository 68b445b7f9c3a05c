// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// MessageListener receives messages asynchronously as they are dispatched
// (§3). It runs on the consumer's own dispatch goroutine; a slow listener
// backs up the inbound queue and, once full, backs up delivery from the
// broker (the queue's capacity is the consumer's prefetch).
type MessageListener func(msg *command.Message)

// MessageConsumer receives messages from one Destination. With prefetch >
// 0 the broker pushes up to prefetch messages ahead of acknowledgement
// into an internal queue; with prefetch == 0 the consumer pulls one
// message at a time via MessagePull (§4.J).
type MessageConsumer struct {
	id          command.ConsumerId
	session     *Session
	destination command.Destination
	prefetch    int

	state *stateManager

	inbound chan *command.Message
	quit    chan struct{}

	mu           sync.Mutex
	listener     MessageListener
	dispatchDone chan struct{}
	limiter      *rate.Limiter

	unackedMu   sync.Mutex
	unacked     map[command.MessageId]*command.Message
	lastUnacked command.MessageId
	ackStore    AckStore

	redeliverySeq atomic.Int64
}

func newMessageConsumer(s *Session, id command.ConsumerId, dest command.Destination, prefetch int) *MessageConsumer {
	queueSize := prefetch
	if queueSize <= 0 {
		queueSize = 1
	}
	return &MessageConsumer{
		id:          id,
		session:     s,
		destination: dest,
		prefetch:    prefetch,
		state:       newStateManager(),
		inbound:     make(chan *command.Message, queueSize),
		quit:        make(chan struct{}),
		unacked:     make(map[command.MessageId]*command.Message),
	}
}

// restoreUnacked replays messages a prior process instance received on
// this consumer ID but never acknowledged, marking them redelivered. Only
// meaningful with a Badger-backed AckStore: a fresh in-memory store has
// nothing to restore, since a new process starts with an empty map.
func (c *MessageConsumer) restoreUnacked(store AckStore) {
	c.ackStore = store
	if store == nil {
		return
	}
	pending, err := store.List(c.id.String())
	if err != nil || len(pending) == 0 {
		return
	}
	redelivered := make([]*command.Message, 0, len(pending))
	for _, m := range pending {
		r := m.Clone().(*command.Message)
		r.Redelivered = true
		r.RedeliveryCounter++
		redelivered = append(redelivered, r)
	}

	c.unackedMu.Lock()
	for _, m := range redelivered {
		c.unacked[m.MessageId] = m
	}
	c.unackedMu.Unlock()

	for _, m := range redelivered {
		select {
		case c.inbound <- m:
		default:
		}
	}
}

// ID returns the consumer's identifier.
func (c *MessageConsumer) ID() command.ConsumerId { return c.id }

// IsPullMode reports whether this consumer has zero prefetch and must
// explicitly pull each message (§4.J).
func (c *MessageConsumer) IsPullMode() bool { return c.prefetch == 0 }

// SetMessageListener registers an asynchronous listener and starts the
// dispatch goroutine draining the inbound queue into it. Passing nil stops
// asynchronous delivery; the caller must then use Receive/ReceiveNoWait.
func (c *MessageConsumer) SetMessageListener(l MessageListener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listener = l
	if l == nil {
		if c.dispatchDone != nil {
			close(c.dispatchDone)
			c.dispatchDone = nil
		}
		return
	}
	if c.dispatchDone != nil {
		return // already running
	}
	c.dispatchDone = make(chan struct{})
	go c.dispatchLoop(c.dispatchDone)
}

// SetDispatchRateLimit bounds how fast the asynchronous dispatch loop
// invokes the listener, using golang.org/x/time/rate the way the teacher
// pack's ratelimit package wraps per-connection publish rates.
func (c *MessageConsumer) SetDispatchRateLimit(perSecond float64, burst int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if perSecond <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (c *MessageConsumer) dispatchLoop(done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-c.quit:
			return
		case msg := <-c.inbound:
			c.mu.Lock()
			limiter := c.limiter
			listener := c.listener
			c.mu.Unlock()
			if limiter != nil {
				_ = limiter.Wait(context.Background())
			}
			if listener != nil {
				listener(msg)
				c.autoAckIfNeeded(msg)
			}
		}
	}
}

// Receive blocks until a message is available, the consumer is closed, or
// ctx is cancelled. In pull mode it first sends a MessagePull request
// (§4.J); otherwise it drains the inbound queue populated by onDispatch.
func (c *MessageConsumer) Receive(ctx context.Context) (*command.Message, error) {
	if c.state.get() == StateClosed {
		return nil, cmserr.IllegalState("consumer is closed")
	}

	if c.IsPullMode() {
		if err := c.pull(ctx, 0); err != nil {
			return nil, err
		}
	}

	select {
	case msg := <-c.inbound:
		c.autoAckIfNeeded(msg)
		return msg, nil
	case <-c.quit:
		return nil, cmserr.IllegalState("consumer is closed")
	case <-ctx.Done():
		return nil, cmserr.Timeout("receive cancelled: %v", ctx.Err())
	}
}

// ReceiveNoWait returns immediately: a message if one is queued, or (nil,
// nil) if none is available right now.
func (c *MessageConsumer) ReceiveNoWait() (*command.Message, error) {
	if c.state.get() == StateClosed {
		return nil, cmserr.IllegalState("consumer is closed")
	}
	select {
	case msg := <-c.inbound:
		c.autoAckIfNeeded(msg)
		return msg, nil
	case <-c.quit:
		return nil, cmserr.IllegalState("consumer is closed")
	default:
		return nil, nil
	}
}

func (c *MessageConsumer) pull(ctx context.Context, timeout int64) error {
	req := &command.MessagePull{ConsumerId: c.id, Destination: c.destination}
	return c.session.conn.transport.Oneway(req)
}

func (c *MessageConsumer) onDispatch(d *command.MessageDispatch) {
	if d.Message == nil {
		return
	}
	if c.session.ackMode == command.AckClient || c.session.ackMode == command.AckTransacted {
		c.unackedMu.Lock()
		c.unacked[d.Message.MessageId] = d.Message
		c.lastUnacked = d.Message.MessageId
		c.unackedMu.Unlock()
		if c.ackStore != nil {
			_ = c.ackStore.Put(c.id.String(), d.Message)
		}
	}

	select {
	case c.inbound <- d.Message:
	case <-c.quit:
	default:
		// Inbound queue is at prefetch capacity; drop is not an option
		// (would silently lose a message the broker thinks was
		// delivered), so block until the application drains it or the
		// consumer closes.
		select {
		case c.inbound <- d.Message:
		case <-c.quit:
		}
	}
}

func (c *MessageConsumer) autoAckIfNeeded(msg *command.Message) {
	switch c.session.ackMode {
	case command.AckClient:
		return // application must call MessageConsumer.Acknowledge explicitly
	case command.AckTransacted:
		return // buffered in c.unacked until Session.Commit/Rollback
	}
	_ = c.session.acknowledge(c.id, c.destination, msg.MessageId, command.AckDelivered)
}

// Acknowledge is called by the application on a CLIENT-ack session; it
// removes msg from the unacked set and sends a cumulative ack through the
// session.
func (c *MessageConsumer) Acknowledge(msg *command.Message) error {
	c.unackedMu.Lock()
	delete(c.unacked, msg.MessageId)
	c.unackedMu.Unlock()
	if c.ackStore != nil {
		_ = c.ackStore.Delete(c.id.String(), msg.MessageId)
	}
	return c.session.acknowledge(c.id, c.destination, msg.MessageId, command.AckCumulative)
}

func (c *MessageConsumer) hasUnacked() bool {
	c.unackedMu.Lock()
	defer c.unackedMu.Unlock()
	return len(c.unacked) > 0
}

// commitPending flushes every message accumulated on a TRANSACTED session
// since the last commit as a single cumulative ack (§3, §4.E "commit").
func (c *MessageConsumer) commitPending() error {
	c.unackedMu.Lock()
	if len(c.unacked) == 0 {
		c.unackedMu.Unlock()
		return nil
	}
	last := c.lastUnacked
	count := len(c.unacked)
	pending := c.unacked
	c.unacked = make(map[command.MessageId]*command.Message)
	c.unackedMu.Unlock()

	if c.ackStore != nil {
		for id := range pending {
			_ = c.ackStore.Delete(c.id.String(), id)
		}
	}
	return c.session.sendAck(c.id, c.destination, command.MessageId{}, last, count, command.AckCumulative)
}

// recover redelivers every unacknowledged message back through onDispatch
// with RedeliveryCounter incremented (§3 Session.Recover).
func (c *MessageConsumer) recover() {
	c.unackedMu.Lock()
	pending := make([]*command.Message, 0, len(c.unacked))
	for _, m := range c.unacked {
		pending = append(pending, m)
	}
	c.unacked = make(map[command.MessageId]*command.Message)
	c.unackedMu.Unlock()

	for _, m := range pending {
		redelivered := m.Clone().(*command.Message)
		redelivered.Redelivered = true
		redelivered.RedeliveryCounter++
		if c.ackStore != nil {
			_ = c.ackStore.Put(c.id.String(), redelivered)
		}
		c.onDispatch(&command.MessageDispatch{ConsumerId: c.id, Message: redelivered, RedeliveryCounter: redelivered.RedeliveryCounter})
	}
}

func (c *MessageConsumer) onConnectionStarted() {
	c.state.transitionFrom(StateStarted, StateCreated, StateStopped)
}

func (c *MessageConsumer) onConnectionStopped() {
	c.state.transition(StateStarted, StateStopped)
}

// Close removes the consumer from the broker and stops asynchronous
// dispatch (§3, §4.F).
func (c *MessageConsumer) Close() error {
	return c.closeInternal()
}

func (c *MessageConsumer) closeInternal() error {
	if !c.state.transitionFrom(StateClosed, StateCreated, StateStarted, StateStopped) {
		return nil
	}

	c.mu.Lock()
	if c.dispatchDone != nil {
		close(c.dispatchDone)
		c.dispatchDone = nil
	}
	c.mu.Unlock()
	close(c.quit)

	ctx, cancel := context.WithTimeout(context.Background(), c.session.conn.requestTimeout())
	defer cancel()
	_, err := c.session.conn.transport.Request(ctx, &command.RemoveInfo{ObjectId: c.id, ObjectType: command.TypeConsumerInfo})
	return err
}

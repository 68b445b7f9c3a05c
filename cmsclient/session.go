// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// dupsOkBatchSize and dupsOkBatchInterval resolve the "when does a DUPS_OK
// session flush its accumulated acks" Open Question: whichever threshold
// is hit first triggers a cumulative MessageAck, bounding both the
// worst-case redelivery-on-crash window and the number of unacked
// messages held in memory.
const (
	dupsOkBatchSize     = 64
	dupsOkBatchInterval = time.Second
)

// Session groups one or more MessageProducers/MessageConsumers under a
// single acknowledgement mode (§3). A Session is single-threaded by JMS
// convention: the caller must not use it (or any Producer/Consumer it
// created) from more than one goroutine concurrently, except for
// MessageConsumer.Close, which is safe to call from any goroutine per §5.
type Session struct {
	id      command.SessionId
	conn    *Connection
	ackMode command.AckMode
	state   *stateManager
	resolver *destinationResolver

	mu          sync.Mutex
	consumers   map[int64]*MessageConsumer
	producers   map[int64]*MessageProducer
	consumerSeq atomic.Int64
	producerSeq atomic.Int64

	// busy marks whether a pool.SessionPool has this session checked out;
	// pool package reads/writes it through SetBusy/IsBusy rather than
	// reaching into Session internals (§4.G, invariant P4).
	busyMu sync.Mutex
	busy   bool

	unackedMu       sync.Mutex
	unackedCount    int
	lastAckFlush    time.Time
	pendingAckLast  command.MessageId
	pendingAckHas   bool
	pendingConsumer command.ConsumerId
	pendingDest     command.Destination

	flushStop chan struct{}
}

func newSession(conn *Connection, id command.SessionId, ackMode command.AckMode) *Session {
	s := &Session{
		id:           id,
		conn:         conn,
		ackMode:      ackMode,
		state:        newStateManager(),
		resolver:     newDestinationResolver(),
		consumers:    make(map[int64]*MessageConsumer),
		producers:    make(map[int64]*MessageProducer),
		lastAckFlush: time.Time{},
	}
	if ackMode == command.AckDupsOk {
		s.flushStop = make(chan struct{})
		go s.flushStaleAckLoop()
	}
	return s
}

// flushStaleAckLoop periodically flushes a DUPS_OK batch that has gone
// stale because delivery stopped before dupsOkBatchSize was reached
// (§4.E "DUPS_OK batches acks"): without this, a trailing partial batch
// would sit unacknowledged indefinitely once the last message arrives.
// Modeled on queue.DeliveryWorker.Start's ticker/stop-channel shape.
func (s *Session) flushStaleAckLoop() {
	ticker := time.NewTicker(dupsOkBatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.flushStop:
			return
		case <-ticker.C:
			s.flushStaleAck()
		}
	}
}

func (s *Session) flushStaleAck() {
	s.unackedMu.Lock()
	if s.unackedCount == 0 || time.Since(s.lastAckFlush) < dupsOkBatchInterval {
		s.unackedMu.Unlock()
		return
	}
	count := s.unackedCount
	last := s.pendingAckLast
	consumerID := s.pendingConsumer
	dest := s.pendingDest
	s.unackedCount = 0
	s.lastAckFlush = time.Now()
	s.unackedMu.Unlock()

	_ = s.sendAck(consumerID, dest, command.MessageId{}, last, count, command.AckCumulative)
}

// AckMode returns the session's acknowledgement mode.
func (s *Session) AckMode() command.AckMode { return s.ackMode }

// ID returns the session's identifier.
func (s *Session) ID() command.SessionId { return s.id }

// SetBusy/IsBusy implement the pool.Sessionish contract (§4.G).
func (s *Session) SetBusy(busy bool) {
	s.busyMu.Lock()
	s.busy = busy
	s.busyMu.Unlock()
}

func (s *Session) IsBusy() bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	return s.busy
}

func (s *Session) onConnectionStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.consumers {
		c.onConnectionStarted()
	}
}

func (s *Session) onConnectionStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.consumers {
		c.onConnectionStopped()
	}
}

// CreateProducer creates a MessageProducer bound to destination. A nil
// destination means the producer takes an explicit destination on every
// Send call (§3).
func (s *Session) CreateProducer(dest *command.Destination) (*MessageProducer, error) {
	if s.state.isClosed() {
		return nil, cmserr.IllegalState("session is closed")
	}

	seq := s.producerSeq.Add(1)
	id := command.ProducerId{SessionId: s.id, Value: seq}

	info := &command.ProducerInfo{ProducerId: id, Destination: dest}
	ctx, cancel := context.WithTimeout(context.Background(), s.conn.requestTimeout())
	defer cancel()
	if _, err := s.conn.transport.Request(ctx, info); err != nil {
		return nil, err
	}

	p := newMessageProducer(s, id, dest)

	s.mu.Lock()
	s.producers[seq] = p
	s.mu.Unlock()

	s.conn.lifecycle.registerProducer(newOnceDestroyable(func() error {
		s.mu.Lock()
		delete(s.producers, seq)
		s.mu.Unlock()
		return p.closeInternal()
	}))

	return p, nil
}

// CreateConsumer creates a MessageConsumer on destination with the given
// prefetch (0 means pull mode, §4.J) and optional selector.
func (s *Session) CreateConsumer(dest command.Destination, prefetch int, selector string) (*MessageConsumer, error) {
	if s.state.isClosed() {
		return nil, cmserr.IllegalState("session is closed")
	}
	if prefetch < 0 {
		return nil, cmserr.IllegalArgument("prefetch must be >= 0, got %d", prefetch)
	}

	seq := s.consumerSeq.Add(1)
	id := command.ConsumerId{SessionId: s.id, Value: seq}

	// The consumer is routable before ConsumerInfo goes out, so a queued
	// backlog the broker dispatches ahead of its Response is not dropped.
	c := newMessageConsumer(s, id, dest, prefetch)
	c.restoreUnacked(s.conn.ackStore)

	s.mu.Lock()
	s.consumers[seq] = c
	s.mu.Unlock()

	info := &command.ConsumerInfo{ConsumerId: id, Destination: dest, Prefetch: prefetch, Selector: selector}
	ctx, cancel := context.WithTimeout(context.Background(), s.conn.requestTimeout())
	defer cancel()
	if _, err := s.conn.transport.Request(ctx, info); err != nil {
		s.mu.Lock()
		delete(s.consumers, seq)
		s.mu.Unlock()
		return nil, err
	}

	if s.conn.IsStarted() {
		c.onConnectionStarted()
	}

	s.conn.lifecycle.registerConsumer(newOnceDestroyable(func() error {
		s.mu.Lock()
		delete(s.consumers, seq)
		s.mu.Unlock()
		return c.closeInternal()
	}))

	return c, nil
}

// Recover redelivers every unacknowledged message on every consumer of
// this CLIENT-ack session (§3 "recover"). It is illegal to call on any
// other ack mode.
func (s *Session) Recover() error {
	if s.ackMode != command.AckClient {
		return cmserr.IllegalState("Recover is only valid on a CLIENT-ack session")
	}
	s.mu.Lock()
	consumers := make([]*MessageConsumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		c.recover()
	}
	return nil
}

// Commit acknowledges every message received on every consumer of this
// TRANSACTED session since the last commit, as a single cumulative ack per
// consumer (§3, §4.E "TRANSACTED — messages acked on commit"). It is
// illegal to call on any other ack mode. A transacted session with a
// producer that has sent messages since the last commit has nothing extra
// to do here: sends already went to the broker as they were made, and
// aren't buffered client-side pending commit (§9, single-resource local
// transactions only, no 2PC).
func (s *Session) Commit() error {
	if s.ackMode != command.AckTransacted {
		return cmserr.IllegalState("Commit is only valid on a TRANSACTED session")
	}
	s.mu.Lock()
	consumers := make([]*MessageConsumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	var first error
	for _, c := range consumers {
		if err := c.commitPending(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Rollback releases every message received on every consumer of this
// TRANSACTED session since the last commit back for redelivery (§3, §4.E
// "rollback releases redelivery"). It is illegal to call on any other ack
// mode.
func (s *Session) Rollback() error {
	if s.ackMode != command.AckTransacted {
		return cmserr.IllegalState("Rollback is only valid on a TRANSACTED session")
	}
	s.mu.Lock()
	consumers := make([]*MessageConsumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		c.recover()
	}
	return nil
}

// acknowledge is the single entry point every consumer's ack path funnels
// through, so AUTO/DUPS_OK/CLIENT/TRANSACTED semantics live in one place
// (§3).
func (s *Session) acknowledge(consumerID command.ConsumerId, dest command.Destination, msgID command.MessageId, ackType command.AckType) error {
	switch s.ackMode {
	case command.AckAuto:
		return s.sendAck(consumerID, dest, msgID, msgID, 1, ackType)

	case command.AckDupsOk:
		return s.batchAck(consumerID, dest, msgID, ackType)

	case command.AckClient:
		// A CLIENT-ack session acks cumulatively only when the
		// application calls MessageConsumer.Acknowledge, which resolves to
		// this same call with AckCumulative; nothing to batch.
		return s.sendAck(consumerID, dest, msgID, msgID, 1, command.AckCumulative)

	case command.AckTransacted:
		return cmserr.IllegalState("message is not acknowledged directly on a TRANSACTED session, call Session.Commit/Rollback")

	default:
		return cmserr.IllegalState("unknown ack mode %s", s.ackMode)
	}
}

func (s *Session) batchAck(consumerID command.ConsumerId, dest command.Destination, msgID command.MessageId, ackType command.AckType) error {
	s.unackedMu.Lock()
	s.unackedCount++
	s.pendingAckLast = msgID
	s.pendingAckHas = true
	s.pendingConsumer = consumerID
	s.pendingDest = dest
	if s.lastAckFlush.IsZero() {
		s.lastAckFlush = time.Now()
	}
	shouldFlush := s.unackedCount >= dupsOkBatchSize || time.Since(s.lastAckFlush) >= dupsOkBatchInterval
	var count int
	if shouldFlush {
		count = s.unackedCount
		s.unackedCount = 0
		s.lastAckFlush = time.Now()
	}
	s.unackedMu.Unlock()

	if !shouldFlush {
		return nil
	}
	return s.sendAck(consumerID, dest, command.MessageId{}, msgID, count, command.AckCumulative)
}

func (s *Session) sendAck(consumerID command.ConsumerId, dest command.Destination, first, last command.MessageId, count int, ackType command.AckType) error {
	ack := &command.MessageAck{
		ConsumerId:     consumerID,
		Destination:    dest,
		AckType:        ackType,
		FirstMessageId: first,
		LastMessageId:  last,
		MessageCount:   count,
	}
	return s.conn.transport.Oneway(ack)
}

// HasUnacknowledgedMessages reports whether returning this session to a
// pool.SessionPool right now would violate invariant P4/I3: a CLIENT-ack
// or TRANSACTED session with messages outstanding (unacked, or received
// but not yet committed) must not be pooled, since the next borrower would
// inherit acknowledgement/commit obligations it knows nothing about (§4.G
// Open Question, decided: IllegalStateError). pool.Return and
// template.Template consult this through a ReturnGuard rather than
// reaching into Session internals.
func (s *Session) HasUnacknowledgedMessages() bool {
	return s.returnUnackedIsIllegal()
}

// ResolveDestination resolves name against this session's destinationResolver
// cache (§4.H), used by template.Template.SendByName.
func (s *Session) ResolveDestination(name string) (command.Destination, error) {
	return s.resolver.resolve(name)
}

func (s *Session) returnUnackedIsIllegal() bool {
	if s.ackMode != command.AckClient && s.ackMode != command.AckTransacted {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.consumers {
		if c.hasUnacked() {
			return true
		}
	}
	return false
}

func (s *Session) routeDispatch(d *command.MessageDispatch) {
	s.mu.Lock()
	c, ok := s.consumers[d.ConsumerId.Value]
	s.mu.Unlock()
	if !ok {
		return
	}
	c.onDispatch(d)
}

func (s *Session) replay(ctx context.Context, t interface {
	Request(context.Context, command.Command) (command.Command, error)
}) error {
	if _, err := t.Request(ctx, &command.SessionInfo{SessionId: s.id, AckMode: s.ackMode}); err != nil {
		return err
	}

	s.mu.Lock()
	consumers := make([]*MessageConsumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	producers := make([]*MessageProducer, 0, len(s.producers))
	for _, p := range s.producers {
		producers = append(producers, p)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		if _, err := t.Request(ctx, &command.ConsumerInfo{ConsumerId: c.id, Destination: c.destination, Prefetch: c.prefetch}); err != nil {
			return err
		}
	}
	for _, p := range producers {
		if _, err := t.Request(ctx, &command.ProducerInfo{ProducerId: p.id, Destination: p.destination}); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every producer/consumer under this session, then the
// session itself, following the same producers→consumers ordering as the
// connection-wide sweep (§4.F) but scoped to just this session's
// children.
func (s *Session) Close() error {
	return s.closeInternal()
}

func (s *Session) closeInternal() error {
	if !s.state.transitionFrom(StateClosed, StateCreated, StateStarted, StateStopped) {
		return nil
	}

	if s.flushStop != nil {
		close(s.flushStop)
	}

	s.mu.Lock()
	producers := make([]*MessageProducer, 0, len(s.producers))
	for _, p := range s.producers {
		producers = append(producers, p)
	}
	consumers := make([]*MessageConsumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	var first error
	for _, p := range producers {
		if err := p.closeInternal(); err != nil && first == nil {
			first = err
		}
	}
	for _, c := range consumers {
		if err := c.closeInternal(); err != nil && first == nil {
			first = err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conn.requestTimeout())
	defer cancel()
	removeInfo := &command.RemoveInfo{ObjectId: s.id, ObjectType: command.TypeSessionInfo}
	if _, err := s.conn.transport.Request(ctx, removeInfo); err != nil && first == nil {
		first = err
	}
	return first
}

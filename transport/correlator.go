// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// pendingOp is a single outstanding Request awaiting its Response or
// ExceptionResponse, grounded on the teacher's pendingStore/pendingOp
// pattern (client/pending.go): a channel-based done token rather than a
// condition variable, so both timeout and delivery are plain selects.
type pendingOp struct {
	done chan pendingResult
}

type pendingResult struct {
	cmd command.Command
	err error
}

// correlator maps CommandId to its waiter and resolves it when a matching
// Response/ExceptionResponse arrives, or cancels every waiter when the
// underlying transport dies (§4.D).
type correlator struct {
	mu      sync.Mutex
	pending map[uint32]*pendingOp
	nextID  uint32
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[uint32]*pendingOp)}
}

// register allocates a fresh CommandId and a waiter for it.
func (c *correlator) register() (uint32, *pendingOp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	op := &pendingOp{done: make(chan pendingResult, 1)}
	c.pending[id] = op
	return id, op
}

func (c *correlator) cancel(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// resolve delivers cmd to the waiter for correlationID, if any is still
// registered. It reports whether a waiter was found, so the caller can
// forward unmatched responses to the CommandListener instead of dropping
// them silently.
func (c *correlator) resolve(correlationID uint32, cmd command.Command, err error) bool {
	c.mu.Lock()
	op, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	op.done <- pendingResult{cmd: cmd, err: err}
	return true
}

// clear fails every outstanding waiter with err, used when the transport
// fails and no response will ever arrive (§4.D).
func (c *correlator) clear(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*pendingOp)
	c.mu.Unlock()

	for _, op := range pending {
		op.done <- pendingResult{err: cmserr.TransportErr(err, "transport closed with request outstanding")}
	}
}

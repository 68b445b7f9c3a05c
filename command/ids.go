// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"

	"github.com/google/uuid"
)

// BrokerId identifies a broker instance. Structural equality: two BrokerIds
// are equal iff their Value fields match.
type BrokerId struct {
	Value string
}

func (b BrokerId) String() string { return b.Value }

// ConnectionId is the root of the identifier hierarchy (§3): every Session,
// Consumer, Producer and Message id under a Connection is derived from it.
// Ids are immutable once assigned.
type ConnectionId struct {
	Value string
}

func (c ConnectionId) String() string { return c.Value }

// NewConnectionId generates a globally unique ConnectionId using a random
// UUID, matching the teacher's use of google/uuid for entity identity
// (absmach-fluxmq queue/manager.go, broker/events/events.go).
func NewConnectionId() ConnectionId {
	return ConnectionId{Value: uuid.NewString()}
}

// SessionId is scoped to a ConnectionId plus a locally unique sequence
// number: SessionId ⊂ ConnectionId (§3).
type SessionId struct {
	ConnectionId ConnectionId
	Value        int64
}

func (s SessionId) String() string {
	return fmt.Sprintf("%s:%d", s.ConnectionId, s.Value)
}

// ConsumerId is scoped to a SessionId plus a locally unique sequence number:
// ConsumerId ⊂ SessionId (§3).
type ConsumerId struct {
	SessionId SessionId
	Value     int64
}

func (c ConsumerId) String() string {
	return fmt.Sprintf("%s:%d", c.SessionId, c.Value)
}

// ProducerId is scoped to a SessionId plus a locally unique sequence number:
// ProducerId ⊂ SessionId (§3).
type ProducerId struct {
	SessionId SessionId
	Value     int64
}

func (p ProducerId) String() string {
	return fmt.Sprintf("%s:%d", p.SessionId, p.Value)
}

// MessageId is derived from a ProducerId plus a monotonically increasing
// per-producer sequence number: MessageId ⊂ ProducerId + sequence (§3).
type MessageId struct {
	ProducerId     ProducerId
	ProducerSeqId  int64
	BrokerSeqId    int64 // assigned by the broker on receipt; 0 until acked
}

func (m MessageId) String() string {
	return fmt.Sprintf("%s:%d", m.ProducerId, m.ProducerSeqId)
}

// idGenerator hands out monotonically increasing, wrap-free sequence
// numbers scoped to a single parent id. Not safe for concurrent use by
// itself; callers must serialize access. Session and Connection do not use
// it: they number their entities with atomic counters.
type idGenerator struct {
	next int64
}

func (g *idGenerator) nextValue() int64 {
	g.next++
	return g.next
}

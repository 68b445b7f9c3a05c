// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package command

import "fmt"

// ConnectionInfo registers a Connection with the broker (§3, §4.E).
type ConnectionInfo struct {
	Header

	ConnectionId    ConnectionId
	ClientId        string
	Username        string
	Password        string
	FailoverEnabled bool
}

func (c *ConnectionInfo) TypeTag() byte { return TypeConnectionInfo }
func (c *ConnectionInfo) Clone() Command {
	cp := *c
	return &cp
}
func (c *ConnectionInfo) Equals(other Command) bool {
	o, ok := other.(*ConnectionInfo)
	if !ok {
		return false
	}
	return c.ConnectionId == o.ConnectionId && c.ClientId == o.ClientId &&
		c.Username == o.Username && c.Password == o.Password
}
func (c *ConnectionInfo) String() string {
	return fmt.Sprintf("ConnectionInfo{id=%s clientId=%s}", c.ConnectionId, c.ClientId)
}
func (c *ConnectionInfo) Accept(v Visitor) error { return v.VisitConnectionInfo(c) }

// ConnectionError is an asynchronous, broker-initiated notification of a
// fatal connection-level condition that is not tied to any single
// outstanding commandId (e.g. the broker is shutting down). Supplemented
// from original_source: ActiveMQ-CPP's command set carries this alongside
// ConnectionInfo; the distilled spec folds it into "TransportError" without
// naming the wire command that carries it.
type ConnectionError struct {
	Header

	ConnectionId ConnectionId
	Message      string
	ExceptionClass string
}

func (c *ConnectionError) TypeTag() byte { return TypeConnectionError }
func (c *ConnectionError) Clone() Command {
	cp := *c
	return &cp
}
func (c *ConnectionError) Equals(other Command) bool {
	o, ok := other.(*ConnectionError)
	if !ok {
		return false
	}
	return *c == *o
}
func (c *ConnectionError) String() string {
	return fmt.Sprintf("ConnectionError{conn=%s msg=%s}", c.ConnectionId, c.Message)
}
func (c *ConnectionError) Accept(v Visitor) error { return v.VisitConnectionError(c) }

// AckMode enumerates the acknowledgement modes of §3.
type AckMode byte

const (
	AckAuto AckMode = iota
	AckClient
	AckDupsOk
	AckTransacted
)

func (m AckMode) String() string {
	switch m {
	case AckAuto:
		return "AUTO"
	case AckClient:
		return "CLIENT"
	case AckDupsOk:
		return "DUPS_OK"
	case AckTransacted:
		return "TRANSACTED"
	default:
		return "UNKNOWN"
	}
}

// NumAckModes is the number of distinct AckMode values, used to size the
// Session Pool's per-mode partition array (§4.G).
const NumAckModes = 4

// SessionInfo registers a Session with the broker under its owning
// Connection.
type SessionInfo struct {
	Header

	SessionId SessionId
	AckMode   AckMode
}

func (s *SessionInfo) TypeTag() byte { return TypeSessionInfo }
func (s *SessionInfo) Clone() Command {
	cp := *s
	return &cp
}
func (s *SessionInfo) Equals(other Command) bool {
	o, ok := other.(*SessionInfo)
	if !ok {
		return false
	}
	return s.SessionId == o.SessionId && s.AckMode == o.AckMode
}
func (s *SessionInfo) String() string {
	return fmt.Sprintf("SessionInfo{id=%s ackMode=%s}", s.SessionId, s.AckMode)
}
func (s *SessionInfo) Accept(v Visitor) error { return v.VisitSessionInfo(s) }

// ConsumerInfo registers a Consumer with the broker, carrying the prefetch
// limit and optional selector/noLocal flags (§4.E).
type ConsumerInfo struct {
	Header

	ConsumerId  ConsumerId
	Destination Destination
	Prefetch    int
	Selector    string
	NoLocal     bool
	Exclusive   bool
	Priority    byte
}

func (c *ConsumerInfo) TypeTag() byte { return TypeConsumerInfo }
func (c *ConsumerInfo) Clone() Command {
	cp := *c
	return &cp
}
func (c *ConsumerInfo) Equals(other Command) bool {
	o, ok := other.(*ConsumerInfo)
	if !ok {
		return false
	}
	return *c == *o
}
func (c *ConsumerInfo) String() string {
	return fmt.Sprintf("ConsumerInfo{id=%s dest=%s prefetch=%d}", c.ConsumerId, c.Destination, c.Prefetch)
}
func (c *ConsumerInfo) Accept(v Visitor) error { return v.VisitConsumerInfo(c) }

// ProducerInfo registers a Producer with the broker.
type ProducerInfo struct {
	Header

	ProducerId  ProducerId
	Destination *Destination // nil when the producer has no default destination
}

func (p *ProducerInfo) TypeTag() byte { return TypeProducerInfo }
func (p *ProducerInfo) Clone() Command {
	cp := *p
	if p.Destination != nil {
		d := *p.Destination
		cp.Destination = &d
	}
	return &cp
}
func (p *ProducerInfo) Equals(other Command) bool {
	o, ok := other.(*ProducerInfo)
	if !ok {
		return false
	}
	if p.ProducerId != o.ProducerId {
		return false
	}
	if (p.Destination == nil) != (o.Destination == nil) {
		return false
	}
	return p.Destination == nil || *p.Destination == *o.Destination
}
func (p *ProducerInfo) String() string {
	return fmt.Sprintf("ProducerInfo{id=%s dest=%v}", p.ProducerId, p.Destination)
}
func (p *ProducerInfo) Accept(v Visitor) error { return v.VisitProducerInfo(p) }

// RemoveInfo asks the broker to unregister a previously registered entity
// (Consumer, Producer, Session or Connection), identified by its stringer
// value plus the type tag of the Info command that created it.
type RemoveInfo struct {
	Header

	ObjectId    fmt.Stringer
	ObjectType  byte // one of TypeConsumerInfo, TypeProducerInfo, TypeSessionInfo, TypeConnectionInfo
}

func (r *RemoveInfo) TypeTag() byte { return TypeRemoveInfo }
func (r *RemoveInfo) Clone() Command {
	cp := *r
	return &cp
}
func (r *RemoveInfo) Equals(other Command) bool {
	o, ok := other.(*RemoveInfo)
	if !ok {
		return false
	}
	if r.ObjectType != o.ObjectType {
		return false
	}
	if r.ObjectId == nil || o.ObjectId == nil {
		return r.ObjectId == o.ObjectId
	}
	return r.ObjectId.String() == o.ObjectId.String()
}
func (r *RemoveInfo) String() string {
	return fmt.Sprintf("RemoveInfo{type=%s id=%v}", TypeName(r.ObjectType), r.ObjectId)
}
func (r *RemoveInfo) Accept(v Visitor) error { return v.VisitRemoveInfo(r) }

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"reflect"
	"time"
)

// DeliveryMode mirrors the JMS-style persistence hint on a Message.
type DeliveryMode byte

const (
	NonPersistent DeliveryMode = 1
	Persistent    DeliveryMode = 2
)

// BodyType distinguishes the typed message bodies of §3.
type BodyType byte

const (
	BodyBytes BodyType = iota
	BodyText
	BodyMap
	BodyObject
	BodyStream
)

// Message is a data command: header fields plus a typed body. Ownership
// transfers to the consumer callback on delivery; the consumer deletes it
// after the callback returns unless the callback retains it (§3).
type Message struct {
	Header

	MessageId      MessageId
	ProducerId     ProducerId
	Destination    Destination
	ReplyTo        *Destination
	CorrelationId  string
	DeliveryMode   DeliveryMode
	Priority       byte
	Timestamp      time.Time
	Expiration     time.Time // zero value = never expires
	Redelivered    bool
	RedeliveryCounter int

	Properties map[string]interface{}

	BodyType BodyType
	Bytes    []byte            // BodyBytes / BodyObject (opaque serialized object)
	Text     string            // BodyText
	Map      map[string]interface{} // BodyMap
	Stream   []interface{}     // BodyStream, ordered primitives
}

func (m *Message) TypeTag() byte { return TypeMessage }

func (m *Message) Clone() Command {
	cp := *m
	if m.ReplyTo != nil {
		rt := *m.ReplyTo
		cp.ReplyTo = &rt
	}
	if m.Properties != nil {
		cp.Properties = make(map[string]interface{}, len(m.Properties))
		for k, v := range m.Properties {
			cp.Properties[k] = v
		}
	}
	if m.Bytes != nil {
		cp.Bytes = append([]byte(nil), m.Bytes...)
	}
	if m.Map != nil {
		cp.Map = make(map[string]interface{}, len(m.Map))
		for k, v := range m.Map {
			cp.Map[k] = v
		}
	}
	if m.Stream != nil {
		cp.Stream = append([]interface{}(nil), m.Stream...)
	}
	return &cp
}

func (m *Message) Equals(other Command) bool {
	o, ok := other.(*Message)
	if !ok {
		return false
	}
	if m.MessageId != o.MessageId || m.Destination != o.Destination ||
		m.CorrelationId != o.CorrelationId || m.DeliveryMode != o.DeliveryMode ||
		m.Priority != o.Priority || m.BodyType != o.BodyType || m.Text != o.Text {
		return false
	}
	if (m.ReplyTo == nil) != (o.ReplyTo == nil) {
		return false
	}
	if m.ReplyTo != nil && *m.ReplyTo != *o.ReplyTo {
		return false
	}
	if len(m.Bytes) != len(o.Bytes) {
		return false
	}
	for i := range m.Bytes {
		if m.Bytes[i] != o.Bytes[i] {
			return false
		}
	}
	if !reflect.DeepEqual(m.Properties, o.Properties) {
		return false
	}
	if !reflect.DeepEqual(m.Map, o.Map) {
		return false
	}
	if !reflect.DeepEqual(m.Stream, o.Stream) {
		return false
	}
	return true
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{id=%s dest=%s deliveryMode=%d priority=%d redelivered=%t}",
		m.MessageId, m.Destination, m.DeliveryMode, m.Priority, m.Redelivered)
}

func (m *Message) Accept(v Visitor) error { return v.VisitMessage(m) }

// MessageAck acknowledges one or more delivered messages on a Consumer.
// AckType distinguishes a single-message ack from a cumulative
// "everything up to and including LastMessageId" ack used by DUPS_OK
// batches, CLIENT acknowledge and TRANSACTED commit.
type AckType byte

const (
	AckDelivered AckType = iota // consumed, non-cumulative
	AckCumulative
	AckRedelivered
)

type MessageAck struct {
	Header

	ConsumerId    ConsumerId
	Destination   Destination
	AckType       AckType
	FirstMessageId MessageId
	LastMessageId MessageId
	MessageCount  int
}

func (a *MessageAck) TypeTag() byte { return TypeMessageAck }

func (a *MessageAck) Clone() Command {
	cp := *a
	return &cp
}

func (a *MessageAck) Equals(other Command) bool {
	o, ok := other.(*MessageAck)
	if !ok {
		return false
	}
	return *a == *o
}

func (a *MessageAck) String() string {
	return fmt.Sprintf("MessageAck{consumer=%s type=%d last=%s count=%d}", a.ConsumerId, a.AckType, a.LastMessageId, a.MessageCount)
}

func (a *MessageAck) Accept(v Visitor) error { return v.VisitMessageAck(a) }

// MessageDispatch is the broker→client push envelope that routes a Message
// to the ConsumerId that should receive it (§4.E "Inbound Message
// routing"). It is distinct from Message itself so the connection's
// dispatch table can route without inspecting message body/header details.
type MessageDispatch struct {
	Header

	ConsumerId ConsumerId
	Message    *Message
	RedeliveryCounter int
}

func (d *MessageDispatch) TypeTag() byte { return TypeMessageDispatch }

func (d *MessageDispatch) Clone() Command {
	cp := *d
	if d.Message != nil {
		cp.Message = d.Message.Clone().(*Message)
	}
	return &cp
}

func (d *MessageDispatch) Equals(other Command) bool {
	o, ok := other.(*MessageDispatch)
	if !ok {
		return false
	}
	if d.ConsumerId != o.ConsumerId || d.RedeliveryCounter != o.RedeliveryCounter {
		return false
	}
	if (d.Message == nil) != (o.Message == nil) {
		return false
	}
	if d.Message == nil {
		return true
	}
	return d.Message.Equals(o.Message)
}

func (d *MessageDispatch) String() string {
	return fmt.Sprintf("MessageDispatch{consumer=%s msg=%v}", d.ConsumerId, d.Message)
}

func (d *MessageDispatch) Accept(v Visitor) error { return v.VisitMessageDispatch(d) }

// MessagePull is sent by a zero-prefetch ("pull mode") Consumer to request
// exactly one message from the broker (§4.J). Timeout of zero means
// no-wait; a nil MessageId requests the next available message.
type MessagePull struct {
	Header

	ConsumerId ConsumerId
	Destination Destination
	Timeout    time.Duration
	MessageId  *MessageId
}

func (p *MessagePull) TypeTag() byte { return TypeMessagePull }

func (p *MessagePull) Clone() Command {
	cp := *p
	if p.MessageId != nil {
		id := *p.MessageId
		cp.MessageId = &id
	}
	return &cp
}

func (p *MessagePull) Equals(other Command) bool {
	o, ok := other.(*MessagePull)
	if !ok {
		return false
	}
	if p.ConsumerId != o.ConsumerId || p.Destination != o.Destination || p.Timeout != o.Timeout {
		return false
	}
	if (p.MessageId == nil) != (o.MessageId == nil) {
		return false
	}
	return p.MessageId == nil || *p.MessageId == *o.MessageId
}

func (p *MessagePull) String() string {
	return fmt.Sprintf("MessagePull{consumer=%s timeout=%s}", p.ConsumerId, p.Timeout)
}

func (p *MessagePull) Accept(v Visitor) error { return v.VisitMessagePull(p) }

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCommands() []Command {
	connId := ConnectionId{Value: "conn-1"}
	sessId := SessionId{ConnectionId: connId, Value: 1}
	consId := ConsumerId{SessionId: sessId, Value: 1}
	prodId := ProducerId{SessionId: sessId, Value: 1}
	dest := NewQueue("orders")

	return []Command{
		&WireFormatInfo{Header: Header{CommandId: 1}, Version: 9, TightEncodingEnabled: true},
		&KeepAliveInfo{Header: Header{CommandId: 2}},
		&ShutdownInfo{Header: Header{CommandId: 3}},
		&ConnectionInfo{Header: Header{CommandId: 4, ResponseRequired: true}, ConnectionId: connId, ClientId: "c1"},
		&SessionInfo{Header: Header{CommandId: 5, ResponseRequired: true}, SessionId: sessId, AckMode: AckClient},
		&ConsumerInfo{Header: Header{CommandId: 6, ResponseRequired: true}, ConsumerId: consId, Destination: dest, Prefetch: 100},
		&ProducerInfo{Header: Header{CommandId: 7, ResponseRequired: true}, ProducerId: prodId, Destination: &dest},
		&DestinationInfo{Header: Header{CommandId: 8, ResponseRequired: true}, ConnectionId: connId, Destination: dest, OperationType: OpAdd},
		&ConsumerControl{Header: Header{CommandId: 9}, ConsumerId: consId, Prefetch: 0, Stop: true},
		&MessagePull{Header: Header{CommandId: 10}, ConsumerId: consId, Destination: dest, Timeout: 0},
		&Message{Header: Header{CommandId: 11}, MessageId: MessageId{ProducerId: prodId, ProducerSeqId: 1}, Destination: dest, BodyType: BodyText, Text: "hi"},
		&MessageAck{Header: Header{CommandId: 12}, ConsumerId: consId, AckType: AckCumulative, MessageCount: 3},
		&Response{Header: Header{CommandId: 13}, CorrelationId: 4},
		&ExceptionResponse{Header: Header{CommandId: 14}, CorrelationId: 5, ExceptionClass: "BrokerError", Message: "boom"},
	}
}

// TestCloneEqualsIdentity is the P3 structural round-trip property: for
// every Command c, clone(c).equals(c) == true and clone(c) != c by
// identity.
func TestCloneEqualsIdentity(t *testing.T) {
	for _, c := range sampleCommands() {
		c := c
		t.Run(TypeName(c.TypeTag()), func(t *testing.T) {
			clone := c.Clone()
			assert.True(t, c.Equals(clone), "clone must equal original")
			assert.True(t, clone.Equals(c), "equality must be symmetric")
			assert.NotSame(t, c, clone, "clone must be a distinct value")
		})
	}
}

func TestMessageCloneDeepCopiesMutableFields(t *testing.T) {
	m := &Message{
		Header:     Header{CommandId: 1},
		Bytes:      []byte{1, 2, 3},
		Properties: map[string]interface{}{"k": "v"},
		Map:        map[string]interface{}{"a": 1},
		Stream:     []interface{}{1, "two"},
	}

	clone := m.Clone().(*Message)
	require.True(t, m.Equals(clone))

	clone.Bytes[0] = 99
	clone.Properties["k"] = "changed"
	clone.Map["a"] = 2
	clone.Stream[0] = 42

	assert.Equal(t, byte(1), m.Bytes[0], "mutating clone bytes must not affect original")
	assert.Equal(t, "v", m.Properties["k"], "mutating clone properties must not affect original")
	assert.Equal(t, 1, m.Map["a"], "mutating clone map must not affect original")
	assert.Equal(t, 1, m.Stream[0], "mutating clone stream must not affect original")
}

func TestIdentifierStructuralEquality(t *testing.T) {
	connA := ConnectionId{Value: "x"}
	connB := ConnectionId{Value: "x"}
	connC := ConnectionId{Value: "y"}

	assert.Equal(t, connA, connB)
	assert.NotEqual(t, connA, connC)

	sessA := SessionId{ConnectionId: connA, Value: 1}
	sessB := SessionId{ConnectionId: connB, Value: 1}
	assert.Equal(t, sessA, sessB)
}

func TestVisitorDispatch(t *testing.T) {
	var visited []byte
	v := &recordingVisitor{BaseVisitor: BaseVisitor{}, seen: &visited}

	for _, c := range sampleCommands() {
		require.NoError(t, c.Accept(v))
	}

	assert.Len(t, visited, len(sampleCommands()))
}

type recordingVisitor struct {
	BaseVisitor
	seen *[]byte
}

func (r *recordingVisitor) VisitWireFormatInfo(c *WireFormatInfo) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitKeepAliveInfo(c *KeepAliveInfo) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitShutdownInfo(c *ShutdownInfo) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitConnectionInfo(c *ConnectionInfo) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitSessionInfo(c *SessionInfo) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitConsumerInfo(c *ConsumerInfo) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitProducerInfo(c *ProducerInfo) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitDestinationInfo(c *DestinationInfo) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitConsumerControl(c *ConsumerControl) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitMessagePull(c *MessagePull) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitMessage(c *Message) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitMessageAck(c *MessageAck) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitResponse(c *Response) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}
func (r *recordingVisitor) VisitExceptionResponse(c *ExceptionResponse) error {
	*r.seen = append(*r.seen, c.TypeTag())
	return nil
}

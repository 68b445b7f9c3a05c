// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcms/gocms/command"
)

func TestSessionCreateConsumerRejectsNegativePrefetch(t *testing.T) {
	c, _ := newTestConnection(t)
	s, err := c.CreateSession(command.AckAuto)
	require.NoError(t, err)

	_, err = s.CreateConsumer(command.NewQueue("orders"), -1, "")
	assert.Error(t, err)
}

func TestSessionCreateConsumerZeroPrefetchIsPullMode(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	cons, err := s.CreateConsumer(command.NewQueue("orders"), 0, "")
	require.NoError(t, err)
	assert.True(t, cons.IsPullMode())
}

func TestSessionBusyFlag(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	assert.False(t, s.IsBusy())
	s.SetBusy(true)
	assert.True(t, s.IsBusy())
}

func TestSessionAutoAckSendsImmediately(t *testing.T) {
	c, ft := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 5, "")

	before := ft.onewayCount()
	err := s.acknowledge(cons.id, cons.destination, command.MessageId{ProducerSeqId: 1}, command.AckDelivered)
	require.NoError(t, err)
	assert.Equal(t, before+1, ft.onewayCount())
	ack, ok := ft.lastOneway().(*command.MessageAck)
	require.True(t, ok)
	assert.Equal(t, 1, ack.MessageCount)
}

func TestSessionDupsOkBatchesUntilThreshold(t *testing.T) {
	c, ft := newTestConnection(t)
	s, _ := c.CreateSession(command.AckDupsOk)
	t.Cleanup(func() { _ = s.Close() })
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 128, "")

	before := ft.onewayCount()
	for i := 0; i < dupsOkBatchSize-1; i++ {
		err := s.acknowledge(cons.id, cons.destination, command.MessageId{ProducerSeqId: int64(i)}, command.AckDelivered)
		require.NoError(t, err)
	}
	// One short of the threshold: nothing flushed yet.
	assert.Equal(t, before, ft.onewayCount())

	err := s.acknowledge(cons.id, cons.destination, command.MessageId{ProducerSeqId: dupsOkBatchSize}, command.AckDelivered)
	require.NoError(t, err)
	assert.Equal(t, before+1, ft.onewayCount())
	ack := ft.lastOneway().(*command.MessageAck)
	assert.Equal(t, dupsOkBatchSize, ack.MessageCount)
	assert.Equal(t, command.AckCumulative, ack.AckType)
}

func TestSessionDupsOkFlushesOnInterval(t *testing.T) {
	c, ft := newTestConnection(t)
	s, _ := c.CreateSession(command.AckDupsOk)
	t.Cleanup(func() { _ = s.Close() })
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 128, "")

	require.NoError(t, s.acknowledge(cons.id, cons.destination, command.MessageId{ProducerSeqId: 1}, command.AckDelivered))
	before := ft.onewayCount()

	s.unackedMu.Lock()
	s.lastAckFlush = time.Now().Add(-2 * dupsOkBatchInterval)
	s.unackedMu.Unlock()

	require.NoError(t, s.acknowledge(cons.id, cons.destination, command.MessageId{ProducerSeqId: 2}, command.AckDelivered))
	assert.Equal(t, before+1, ft.onewayCount())
}

func TestSessionDupsOkFlushesTrailingBatchOnIdle(t *testing.T) {
	c, ft := newTestConnection(t)
	s, _ := c.CreateSession(command.AckDupsOk)
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 128, "")

	before := ft.onewayCount()
	require.NoError(t, s.acknowledge(cons.id, cons.destination, command.MessageId{ProducerSeqId: 1}, command.AckDelivered))
	assert.Equal(t, before, ft.onewayCount())

	assert.Eventually(t, func() bool {
		return ft.onewayCount() == before+1
	}, 3*dupsOkBatchInterval, 10*time.Millisecond)

	ack := ft.lastOneway().(*command.MessageAck)
	assert.Equal(t, command.AckCumulative, ack.AckType)
	assert.Equal(t, 1, ack.MessageCount)

	require.NoError(t, s.Close())
}

func TestSessionRecoverOnlyValidOnClientAck(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	err := s.Recover()
	assert.Error(t, err)
}

func TestSessionReturnUnackedIsIllegalOnClientAckWithPending(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckClient)
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 5, "")

	assert.False(t, s.returnUnackedIsIllegal())

	msg := &command.Message{MessageId: command.MessageId{ProducerSeqId: 1}, Destination: command.NewQueue("orders")}
	cons.onDispatch(&command.MessageDispatch{ConsumerId: cons.id, Message: msg})

	assert.True(t, s.returnUnackedIsIllegal())

	got, err := cons.ReceiveNoWait()
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, cons.Acknowledge(got))
	assert.False(t, s.returnUnackedIsIllegal())
}

func TestSessionRecoverRedeliversUnacked(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckClient)
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 5, "")

	msg := &command.Message{MessageId: command.MessageId{ProducerSeqId: 1}, Destination: command.NewQueue("orders")}
	cons.onDispatch(&command.MessageDispatch{ConsumerId: cons.id, Message: msg})
	_, err := cons.ReceiveNoWait()
	require.NoError(t, err)

	require.NoError(t, s.Recover())

	redelivered, err := cons.ReceiveNoWait()
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.True(t, redelivered.Redelivered)
	assert.Equal(t, 1, redelivered.RedeliveryCounter)
}

func TestSessionTransactedDoesNotAckOnDelivery(t *testing.T) {
	c, ft := newTestConnection(t)
	s, _ := c.CreateSession(command.AckTransacted)
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 5, "")

	before := ft.onewayCount()
	msg := &command.Message{MessageId: command.MessageId{ProducerSeqId: 1}, Destination: command.NewQueue("orders")}
	cons.onDispatch(&command.MessageDispatch{ConsumerId: cons.id, Message: msg})

	got, err := cons.ReceiveNoWait()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, before, ft.onewayCount())
	assert.True(t, s.returnUnackedIsIllegal())
}

func TestSessionCommitFlushesTransactedAcks(t *testing.T) {
	c, ft := newTestConnection(t)
	s, _ := c.CreateSession(command.AckTransacted)
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 5, "")

	for i := int64(1); i <= 3; i++ {
		msg := &command.Message{MessageId: command.MessageId{ProducerSeqId: i}, Destination: command.NewQueue("orders")}
		cons.onDispatch(&command.MessageDispatch{ConsumerId: cons.id, Message: msg})
		_, err := cons.ReceiveNoWait()
		require.NoError(t, err)
	}

	before := ft.onewayCount()
	require.NoError(t, s.Commit())
	assert.Equal(t, before+1, ft.onewayCount())
	ack := ft.lastOneway().(*command.MessageAck)
	assert.Equal(t, command.AckCumulative, ack.AckType)
	assert.Equal(t, 3, ack.MessageCount)
	assert.False(t, s.returnUnackedIsIllegal())

	// A second commit with nothing pending is a no-op.
	before = ft.onewayCount()
	require.NoError(t, s.Commit())
	assert.Equal(t, before, ft.onewayCount())
}

func TestSessionRollbackRedeliversTransactedMessages(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckTransacted)
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 5, "")

	msg := &command.Message{MessageId: command.MessageId{ProducerSeqId: 1}, Destination: command.NewQueue("orders")}
	cons.onDispatch(&command.MessageDispatch{ConsumerId: cons.id, Message: msg})
	_, err := cons.ReceiveNoWait()
	require.NoError(t, err)

	require.NoError(t, s.Rollback())

	redelivered, err := cons.ReceiveNoWait()
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.True(t, redelivered.Redelivered)
	assert.Equal(t, 1, redelivered.RedeliveryCounter)
	assert.True(t, s.returnUnackedIsIllegal())
}

func TestSessionCommitRollbackRejectedOnNonTransactedSession(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	assert.Error(t, s.Commit())
	assert.Error(t, s.Rollback())
}

func TestSessionAcknowledgeRejectedOnTransactedSession(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckTransacted)
	cons, _ := s.CreateConsumer(command.NewQueue("orders"), 5, "")

	err := s.acknowledge(cons.id, cons.destination, command.MessageId{ProducerSeqId: 1}, command.AckDelivered)
	assert.Error(t, err)
}

func TestSessionCloseClosesProducersThenConsumers(t *testing.T) {
	c, _ := newTestConnection(t)
	s, err := c.CreateSession(command.AckAuto)
	require.NoError(t, err)
	dest := command.NewQueue("orders")
	p, err := s.CreateProducer(&dest)
	require.NoError(t, err)
	cons, err := s.CreateConsumer(command.NewQueue("orders"), 5, "")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, p.state.get())
	assert.Equal(t, StateClosed, cons.state.get())
	assert.Equal(t, StateClosed, s.state.get())
}

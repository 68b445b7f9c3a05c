// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcms/gocms/command"
)

func TestProducerSendWithoutDefaultDestinationFails(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	p, err := s.CreateProducer(nil)
	require.NoError(t, err)

	err = p.Send(&command.Message{})
	assert.Error(t, err)
}

func TestProducerSendAssignsMessageId(t *testing.T) {
	c, ft := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	dest := command.NewQueue("orders")
	p, err := s.CreateProducer(&dest)
	require.NoError(t, err)

	msg := &command.Message{}
	require.NoError(t, p.Send(msg))
	assert.Equal(t, p.id, msg.MessageId.ProducerId)
	assert.Equal(t, int64(1), msg.MessageId.ProducerSeqId)
	assert.Equal(t, dest, msg.Destination)

	msg2 := &command.Message{}
	require.NoError(t, p.Send(msg2))
	assert.Equal(t, int64(2), msg2.MessageId.ProducerSeqId)

	// Persistent messages (the default) go through Request so a broker ack
	// is observed before Send returns.
	found := false
	for _, cmd := range ft.sent {
		if m, ok := cmd.(*command.Message); ok && m.MessageId.ProducerSeqId == 1 {
			found = true
		}
	}
	assert.True(t, found)
}

func TestProducerSendToOverridesDestination(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	def := command.NewQueue("orders")
	p, err := s.CreateProducer(&def)
	require.NoError(t, err)

	other := command.NewTopic("news")
	msg := &command.Message{}
	require.NoError(t, p.SendTo(other, msg))
	assert.Equal(t, other, msg.Destination)
}

func TestProducerNonPersistentUsesOneway(t *testing.T) {
	c, ft := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	dest := command.NewQueue("orders")
	p, err := s.CreateProducer(&dest)
	require.NoError(t, err)
	p.SetDeliveryMode(command.NonPersistent)

	before := ft.onewayCount()
	require.NoError(t, p.Send(&command.Message{}))
	assert.Equal(t, before+1, ft.onewayCount())
}

func TestProducerSendAfterCloseFails(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	dest := command.NewQueue("orders")
	p, err := s.CreateProducer(&dest)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	err = p.Send(&command.Message{})
	assert.Error(t, err)
}

func TestProducerZeroTimeToLiveLeavesNoExpiration(t *testing.T) {
	c, _ := newTestConnection(t)
	s, _ := c.CreateSession(command.AckAuto)
	dest := command.NewQueue("orders")
	p, err := s.CreateProducer(&dest)
	require.NoError(t, err)
	p.SetTimeToLive(0)
	msg := &command.Message{}
	require.NoError(t, p.Send(msg))
	assert.True(t, msg.Expiration.IsZero())
}

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package testbroker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fluxcms/gocms/cmsclient"
	"github.com/fluxcms/gocms/command"
)

func dialTest(t *testing.T) (*Broker, *cmsclient.Connection) {
	t.Helper()
	b, err := Start("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	conn, err := cmsclient.Dial(context.Background(), []string{b.URI()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Start())
	return b, conn
}

func TestQueueRoundTrip(t *testing.T) {
	_, conn := dialTest(t)

	sess, err := conn.CreateSession(command.AckAuto)
	require.NoError(t, err)

	queue := command.NewQueue("orders")
	consumer, err := sess.CreateConsumer(queue, 10, "")
	require.NoError(t, err)

	producer, err := sess.CreateProducer(&queue)
	require.NoError(t, err)

	require.NoError(t, producer.Send(&command.Message{BodyType: command.BodyText, Text: "hello"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := consumer.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Text)
}

func TestTopicFanOut(t *testing.T) {
	_, conn := dialTest(t)

	sess, err := conn.CreateSession(command.AckAuto)
	require.NoError(t, err)

	topic := command.NewTopic("prices")
	c1, err := sess.CreateConsumer(topic, 10, "")
	require.NoError(t, err)
	c2, err := sess.CreateConsumer(topic, 10, "")
	require.NoError(t, err)

	producer, err := sess.CreateProducer(&topic)
	require.NoError(t, err)
	require.NoError(t, producer.Send(&command.Message{BodyType: command.BodyText, Text: "tick"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m1, err := c1.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "tick", m1.Text)

	m2, err := c2.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "tick", m2.Text)
}

func TestPullModeConsumerDrainsBacklog(t *testing.T) {
	_, conn := dialTest(t)

	sess, err := conn.CreateSession(command.AckAuto)
	require.NoError(t, err)

	queue := command.NewQueue("pull-me")
	producer, err := sess.CreateProducer(&queue)
	require.NoError(t, err)
	require.NoError(t, producer.Send(&command.Message{BodyType: command.BodyText, Text: "queued before pull"}))

	consumer, err := sess.CreateConsumer(queue, 0, "")
	require.NoError(t, err)
	require.True(t, consumer.IsPullMode())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := consumer.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "queued before pull", msg.Text)
}

func TestClientAckRedeliveryOnRecover(t *testing.T) {
	_, conn := dialTest(t)

	sess, err := conn.CreateSession(command.AckClient)
	require.NoError(t, err)

	queue := command.NewQueue("acked")
	consumer, err := sess.CreateConsumer(queue, 10, "")
	require.NoError(t, err)
	producer, err := sess.CreateProducer(&queue)
	require.NoError(t, err)
	require.NoError(t, producer.Send(&command.Message{BodyType: command.BodyText, Text: "redeliver me"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := consumer.Receive(ctx)
	require.NoError(t, err)
	require.False(t, msg.Redelivered)

	require.NoError(t, sess.Recover())

	msg2, err := consumer.Receive(ctx)
	require.NoError(t, err)
	require.True(t, msg2.Redelivered)
	require.Equal(t, 1, msg2.RedeliveryCounter)
}

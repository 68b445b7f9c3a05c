// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package template_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcms/gocms/cmsclient"
	"github.com/fluxcms/gocms/command"
	"github.com/fluxcms/gocms/internal/testbroker"
	"github.com/fluxcms/gocms/template"
)

func newTestTemplate(t *testing.T) (*template.Template, *cmsclient.Connection) {
	t.Helper()
	b, err := testbroker.Start("127.0.0.1:0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	conn, err := cmsclient.Dial(context.Background(), []string{b.URI()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.Start())

	dest := command.NewQueue("template-target")
	opts := template.NewOptions().SetDefaultDestination(dest)
	tmpl, err := template.New(conn, opts)
	require.NoError(t, err)
	t.Cleanup(func() { tmpl.Close() })

	return tmpl, conn
}

func TestSendUsesDefaultDestination(t *testing.T) {
	tmpl, conn := newTestTemplate(t)

	sess, err := conn.CreateSession(command.AckAuto)
	require.NoError(t, err)
	consumer, err := sess.CreateConsumer(command.NewQueue("template-target"), 10, "")
	require.NoError(t, err)

	err = tmpl.Send(context.Background(), command.AckAuto, nil, func(_ *cmsclient.Session) (*command.Message, error) {
		return &command.Message{BodyType: command.BodyText, Text: "from template"}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := consumer.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from template", msg.Text)
}

func TestSendByNameResolvesDestination(t *testing.T) {
	tmpl, conn := newTestTemplate(t)

	sess, err := conn.CreateSession(command.AckAuto)
	require.NoError(t, err)
	consumer, err := sess.CreateConsumer(command.NewQueue("named-queue"), 10, "")
	require.NoError(t, err)

	err = tmpl.SendByName(context.Background(), command.AckAuto, "queue://named-queue", func(_ *cmsclient.Session) (*command.Message, error) {
		return &command.Message{BodyType: command.BodyText, Text: "by name"}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := consumer.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "by name", msg.Text)
}

func TestExecuteReturnsSessionToPoolBetweenCalls(t *testing.T) {
	tmpl, _ := newTestTemplate(t)

	var firstID, secondID command.SessionId
	require.NoError(t, tmpl.Execute(context.Background(), command.AckAuto, func(s *cmsclient.Session) error {
		firstID = s.ID()
		return nil
	}))
	require.NoError(t, tmpl.Execute(context.Background(), command.AckAuto, func(s *cmsclient.Session) error {
		secondID = s.ID()
		return nil
	}))

	assert.Equal(t, firstID, secondID, "the second Execute should reuse the pooled session from the first")
}

func TestExecuteWithClientAckAndUnackedMessageIsNotPooled(t *testing.T) {
	tmpl, conn := newTestTemplate(t)

	queue := command.NewQueue("unacked-target")
	producerSess, err := conn.CreateSession(command.AckAuto)
	require.NoError(t, err)
	producer, err := producerSess.CreateProducer(&queue)
	require.NoError(t, err)
	require.NoError(t, producer.Send(&command.Message{BodyType: command.BodyText, Text: "pending ack"}))

	var firstID command.SessionId
	err = tmpl.Execute(context.Background(), command.AckClient, func(s *cmsclient.Session) error {
		firstID = s.ID()
		c, cerr := s.CreateConsumer(queue, 10, "")
		if cerr != nil {
			return cerr
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, rerr := c.Receive(ctx)
		return rerr
	})
	require.NoError(t, err)

	var secondID command.SessionId
	require.NoError(t, tmpl.Execute(context.Background(), command.AckClient, func(s *cmsclient.Session) error {
		secondID = s.ID()
		return nil
	}))

	assert.NotEqual(t, firstID, secondID, "a CLIENT-ack session left with an unacked message must not be reused")
}

func TestExecuteProducerClosesProducerOnCallbackError(t *testing.T) {
	tmpl, _ := newTestTemplate(t)

	boom := assert.AnError
	err := tmpl.ExecuteProducer(context.Background(), command.AckAuto, nil, func(_ *cmsclient.Session, _ *cmsclient.MessageProducer) error {
		return boom
	})
	require.Error(t, err)
}

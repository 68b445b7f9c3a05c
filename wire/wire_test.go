// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcms/gocms/command"
)

func roundTripCommands() []command.Command {
	connId := command.ConnectionId{Value: "conn-1"}
	sessId := command.SessionId{ConnectionId: connId, Value: 1}
	consId := command.ConsumerId{SessionId: sessId, Value: 1}
	prodId := command.ProducerId{SessionId: sessId, Value: 1}
	dest := command.NewQueue("orders")

	return []command.Command{
		&command.ConnectionInfo{ConnectionId: connId, ClientId: "c1", Username: "u"},
		&command.SessionInfo{SessionId: sessId, AckMode: command.AckClient},
		&command.ConsumerInfo{ConsumerId: consId, Destination: dest, Prefetch: 50},
		&command.Message{
			MessageId:     command.MessageId{ProducerId: prodId, ProducerSeqId: 1},
			Destination:   dest,
			CorrelationId: "abc",
			BodyType:      command.BodyText,
			Text:          "hello",
			Properties:    map[string]interface{}{"k": "v"},
		},
		&command.MessageAck{ConsumerId: consId, AckType: command.AckCumulative, MessageCount: 3},
		&command.RemoveInfo{ObjectId: consId, ObjectType: command.TypeConsumerInfo},
		&command.Response{CorrelationId: 7},
		&command.ExceptionResponse{CorrelationId: 8, ExceptionClass: "BrokerError", Message: "boom"},
	}
}

func TestOpenWireRoundTrip(t *testing.T) {
	codec := NewOpenWireCodec()
	for _, cmd := range roundTripCommands() {
		payload, err := codec.Encode(cmd)
		require.NoError(t, err)

		decoded, err := codec.Decode(cmd.TypeTag(), payload)
		require.NoError(t, err)
		assert.True(t, cmd.Equals(decoded), "openwire round trip for %s", command.TypeName(cmd.TypeTag()))
	}
}

func TestStompRoundTripMessage(t *testing.T) {
	codec := NewStompCodec()
	dest := command.NewTopic("news")
	msg := &command.Message{
		Destination:   dest,
		CorrelationId: "xyz",
		BodyType:      command.BodyText,
		Text:          "breaking news",
	}

	payload, err := codec.Encode(msg)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(payload, []byte("SEND\n")))

	decoded, err := codec.Decode(command.TypeMessage, payload)
	require.NoError(t, err)
	got := decoded.(*command.Message)
	assert.Equal(t, msg.Text, got.Text)
	assert.Equal(t, msg.Destination, got.Destination)
	assert.Equal(t, msg.CorrelationId, got.CorrelationId)
}

func TestStompExtensionFrameRoundTrip(t *testing.T) {
	codec := NewStompCodec()
	sess := &command.SessionInfo{
		SessionId: command.SessionId{ConnectionId: command.ConnectionId{Value: "c"}, Value: 2},
		AckMode:   command.AckDupsOk,
	}

	payload, err := codec.Encode(sess)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(payload, []byte("X-GOCMS\n")))

	decoded, err := codec.Decode(command.TypeSessionInfo, payload)
	require.NoError(t, err)
	assert.True(t, sess.Equals(decoded))
}

func TestFrameReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, command.TypeKeepAliveInfo, []byte("payload")))

	tag, payload, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, command.TypeKeepAliveInfo, tag)
	assert.Equal(t, []byte("payload"), payload)
}

func TestFrameReadRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, command.TypeMessage, make([]byte, 1024)))

	_, _, err := ReadFrame(&buf, 16)
	require.Error(t, err)
}

func TestNegotiatePicksMinVersionAndConservativeFlags(t *testing.T) {
	local := &command.WireFormatInfo{Version: 10, TightEncodingEnabled: true, MaxFrameSize: 1 << 20, CompressionEnabled: true, CompressionMinSize: 1024}
	remote := &command.WireFormatInfo{Version: 9, TightEncodingEnabled: false, MaxFrameSize: 1 << 16, CompressionEnabled: true, CompressionMinSize: 4096}

	n := Negotiate(local, remote)
	assert.Equal(t, 9, n.Version)
	assert.False(t, n.TightEncodingEnabled)
	assert.Equal(t, int64(1<<16), n.MaxFrameSize)
	assert.True(t, n.CompressionEnabled)
	assert.Equal(t, 4096, n.CompressionMinSize)
}

func TestCompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 4096)

	compressed := MaybeCompress(payload, true, 1024)
	assert.Equal(t, flagCompressed, compressed[0])

	decoded, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	plain := MaybeCompress(payload, false, 1024)
	assert.Equal(t, flagPlain, plain[0])

	decodedPlain, err := Decompress(plain)
	require.NoError(t, err)
	assert.Equal(t, payload, decodedPlain)
}

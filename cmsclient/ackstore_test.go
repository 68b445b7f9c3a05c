// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcms/gocms/command"
)

func testMessage(seq int64) *command.Message {
	return &command.Message{
		MessageId:   command.MessageId{ProducerSeqId: seq},
		Destination: command.NewQueue("orders"),
		BodyType:    command.BodyText,
		Text:        "hello",
	}
}

func TestMemoryAckStorePutListDelete(t *testing.T) {
	store := newMemoryAckStore()

	msg := testMessage(1)
	require.NoError(t, store.Put("consumer-1", msg))

	got, err := store.List("consumer-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.MessageId, got[0].MessageId)

	require.NoError(t, store.Delete("consumer-1", msg.MessageId))
	got, err = store.List("consumer-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryAckStoreIsolatesConsumers(t *testing.T) {
	store := newMemoryAckStore()
	require.NoError(t, store.Put("consumer-1", testMessage(1)))
	require.NoError(t, store.Put("consumer-2", testMessage(2)))

	got1, err := store.List("consumer-1")
	require.NoError(t, err)
	assert.Len(t, got1, 1)

	got2, err := store.List("consumer-2")
	require.NoError(t, err)
	assert.Len(t, got2, 1)
}

func TestBadgerAckStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := newBadgerAckStore(dir)
	require.NoError(t, err)

	msg := testMessage(7)
	require.NoError(t, store.Put("consumer-1", msg))
	require.NoError(t, store.Close())

	reopened, err := newBadgerAckStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.List("consumer-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.MessageId, got[0].MessageId)
	assert.Equal(t, "hello", got[0].Text)
}

func TestNewAckStoreChoosesBackendByPath(t *testing.T) {
	mem, err := NewAckStore("")
	require.NoError(t, err)
	defer mem.Close()
	_, isMemory := mem.(*memoryAckStore)
	assert.True(t, isMemory)

	dir := t.TempDir()
	disk, err := NewAckStore(dir)
	require.NoError(t, err)
	defer disk.Close()
	_, isBadger := disk.(*badgerAckStore)
	assert.True(t, isBadger)
}

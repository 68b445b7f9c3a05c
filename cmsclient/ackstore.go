// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"encoding/json"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/fluxcms/gocms/command"
)

// AckStore persists messages a CLIENT/TRANSACTED-ack consumer has received
// but not yet acknowledged, so a process restart can replay them as
// redelivered instead of losing track of what the broker already
// considers delivered (§6, reconnect replays entity state). A Connection
// keeps exactly one AckStore for the lifetime of the process; every
// consumer created on it shares the store, namespaced by consumer ID.
type AckStore interface {
	Put(consumerID string, msg *command.Message) error
	Delete(consumerID string, msgID command.MessageId) error
	List(consumerID string) ([]*command.Message, error)
	Close() error
}

// NewAckStore returns a Badger-backed AckStore rooted at dir, or an
// in-memory one if dir is empty. Following the teacher's storage.Store
// split (memory vs badger implementations of the same interface), the
// caller never sees which backend it got.
func NewAckStore(dir string) (AckStore, error) {
	if dir == "" {
		return newMemoryAckStore(), nil
	}
	return newBadgerAckStore(dir)
}

// memoryAckStore is the default backend: fine for a process that never
// restarts mid-session, which is the common case for short-lived client
// processes.
type memoryAckStore struct {
	mu   sync.Mutex
	msgs map[string]map[command.MessageId]*command.Message
}

func newMemoryAckStore() *memoryAckStore {
	return &memoryAckStore{msgs: make(map[string]map[command.MessageId]*command.Message)}
}

func (s *memoryAckStore) Put(consumerID string, msg *command.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.msgs[consumerID]
	if !ok {
		bucket = make(map[command.MessageId]*command.Message)
		s.msgs[consumerID] = bucket
	}
	bucket[msg.MessageId] = msg.Clone().(*command.Message)
	return nil
}

func (s *memoryAckStore) Delete(consumerID string, msgID command.MessageId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.msgs[consumerID]; ok {
		delete(bucket, msgID)
	}
	return nil
}

func (s *memoryAckStore) List(consumerID string) ([]*command.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.msgs[consumerID]
	out := make([]*command.Message, 0, len(bucket))
	for _, m := range bucket {
		out = append(out, m)
	}
	return out, nil
}

func (s *memoryAckStore) Close() error { return nil }

// badgerAckStore persists unacknowledged messages to a BadgerDB directory
// so they survive a process restart, following storage/badger/session.go's
// "json blob under a prefixed key" convention.
type badgerAckStore struct {
	db *badger.DB
}

func newBadgerAckStore(dir string) (*badgerAckStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerAckStore{db: db}, nil
}

func ackKey(consumerID string, msgID command.MessageId) []byte {
	return []byte("ack:" + consumerID + ":" + msgID.String())
}

func (s *badgerAckStore) Put(consumerID string, msg *command.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ackKey(consumerID, msg.MessageId), data)
	})
}

func (s *badgerAckStore) Delete(consumerID string, msgID command.MessageId) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(ackKey(consumerID, msgID))
	})
}

func (s *badgerAckStore) List(consumerID string) ([]*command.Message, error) {
	var out []*command.Message
	prefix := []byte("ack:" + consumerID + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var m command.Message
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				out = append(out, &m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *badgerAckStore) Close() error { return s.db.Close() }

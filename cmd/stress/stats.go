// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"sync"
	"sync/atomic"
	"time"
)

// stats accumulates send/receive counts and a coarse latency summary across
// every worker goroutine. It intentionally avoids a real histogram library:
// the corpus offers none suited to a self-contained CLI report, so min/max/
// sum/count is tracked by hand and the mean derived at report time (a
// standard-library-only piece of the stress harness, recorded in the
// design ledger).
type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	errors   atomic.Int64

	mu       sync.Mutex
	minNanos int64
	maxNanos int64
	sumNanos int64
	count    int64
}

func newStats() *stats { return &stats{} }

func (s *stats) recordSend()          { s.sent.Add(1) }
func (s *stats) recordError()         { s.errors.Add(1) }

func (s *stats) recordDelivery(latency time.Duration) {
	s.received.Add(1)
	n := latency.Nanoseconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 || n < s.minNanos {
		s.minNanos = n
	}
	if n > s.maxNanos {
		s.maxNanos = n
	}
	s.sumNanos += n
	s.count++
}

// snapshot is a point-in-time, immutable view suitable for logging.
type snapshot struct {
	Sent     int64
	Received int64
	Errors   int64
	Min      time.Duration
	Max      time.Duration
	Mean     time.Duration
}

func (s *stats) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		Sent:     s.sent.Load(),
		Received: s.received.Load(),
		Errors:   s.errors.Load(),
		Min:      time.Duration(s.minNanos),
		Max:      time.Duration(s.maxNanos),
	}
	if s.count > 0 {
		snap.Mean = time.Duration(s.sumNanos / s.count)
	}
	return snap
}

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/fluxcms/gocms/cmsclient"
	"github.com/fluxcms/gocms/command"
)

// producerWorker sends messages to dest at up to ratePerSecond until ctx is
// cancelled, recording each send and any error into st.
func producerWorker(ctx context.Context, id int, sess *cmsclient.Session, dest command.Destination, ratePerSecond float64, st *stats, log *slog.Logger) {
	producer, err := sess.CreateProducer(&dest)
	if err != nil {
		log.Error("stress: producer create failed", "worker", id, "error", err)
		return
	}
	defer producer.Close()

	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		seq++
		msg := &command.Message{
			BodyType: command.BodyText,
			Text:     fmt.Sprintf("worker-%d-msg-%d", id, seq),
			Properties: map[string]interface{}{
				"sentAtUnixNano": time.Now().UnixNano(),
			},
		}
		if err := producer.Send(msg); err != nil {
			st.recordError()
			log.Warn("stress: send failed", "worker", id, "error", err)
			continue
		}
		st.recordSend()
	}
}

// consumerWorker receives messages from dest until ctx is cancelled,
// acknowledging on CLIENT-ack sessions and recording delivery latency.
func consumerWorker(ctx context.Context, id int, sess *cmsclient.Session, dest command.Destination, prefetch int, st *stats, log *slog.Logger) {
	consumer, err := sess.CreateConsumer(dest, prefetch, "")
	if err != nil {
		log.Error("stress: consumer create failed", "worker", id, "error", err)
		return
	}
	defer consumer.Close()

	for {
		msg, err := consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			st.recordError()
			continue
		}

		if sent, ok := msg.Properties["sentAtUnixNano"]; ok {
			if nanos, ok := toInt64(sent); ok {
				st.recordDelivery(time.Since(time.Unix(0, nanos)))
			}
		}

		if sess.AckMode() == command.AckClient {
			if err := consumer.Acknowledge(msg); err != nil {
				log.Warn("stress: ack failed", "worker", id, "error", err)
			}
		}
	}
}

// toInt64 recovers an int64 from whatever numeric type JSON/OpenWire
// round-tripped a Property through (float64 after a JSON hop, int64 for an
// in-process delivery that never touched the wire).
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

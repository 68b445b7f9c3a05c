// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Command stress drives a fleet of concurrent producers and consumers
// against a gocms broker (a real one, or an in-process internal/testbroker
// when none is given) and reports throughput/latency, following the
// teacher's cmd/broker main.go conventions for flags, config loading, and
// signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fluxcms/gocms/cmsclient"
	"github.com/fluxcms/gocms/command"
	"github.com/fluxcms/gocms/config"
	"github.com/fluxcms/gocms/internal/otelinit"
	"github.com/fluxcms/gocms/internal/testbroker"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	brokerURIs := flag.String("broker", "", "Comma-separated broker URIs (empty spins up an in-process test broker)")
	destination := flag.String("destination", "queue://stress", "Destination name, e.g. queue://orders or topic://prices")
	ackMode := flag.String("ack-mode", "auto", "auto | client | dups-ok | transacted")
	producers := flag.Int("producers", 4, "Number of concurrent producer workers")
	consumers := flag.Int("consumers", 4, "Number of concurrent consumer workers")
	prefetch := flag.Int("prefetch", 100, "Consumer prefetch (0 = pull mode)")
	sendRate := flag.Float64("rate", 100, "Messages per second per producer worker (0 = unlimited)")
	duration := flag.Duration("duration", 30*time.Second, "How long to run before shutting down")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP gRPC collector address; empty disables telemetry export")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("stress: failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *otelEndpoint != "" {
		shutdown, err := otelinit.Init(ctx, otelinit.Config{
			ServiceName:    "gocms-stress",
			ServiceVersion: "0.1.0",
			Endpoint:       *otelEndpoint,
			TracesEnabled:  true,
			MetricsEnabled: true,
			SampleRatio:    1.0,
		})
		if err != nil {
			logger.Error("stress: otel init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	var uris []string
	var brokerToClose *testbroker.Broker
	if *brokerURIs == "" {
		b, err := testbroker.Start("127.0.0.1:0", logger)
		if err != nil {
			logger.Error("stress: failed to start in-process broker", "error", err)
			os.Exit(1)
		}
		brokerToClose = b
		uris = []string{b.URI()}
		logger.Info("stress: using in-process test broker", "uri", b.URI())
	} else {
		uris = strings.Split(*brokerURIs, ",")
	}
	if brokerToClose != nil {
		defer brokerToClose.Close()
	}

	mode, err := parseAckMode(*ackMode)
	if err != nil {
		logger.Error("stress: bad -ack-mode", "error", err)
		os.Exit(1)
	}

	opts := cmsclient.NewOptionsFromConfig(cfg).SetLogger(logger)
	conn, err := cmsclient.Dial(ctx, uris, opts)
	if err != nil {
		logger.Error("stress: dial failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	if err := conn.Start(); err != nil {
		logger.Error("stress: start failed", "error", err)
		os.Exit(1)
	}

	sess, err := conn.CreateSession(command.AckAuto)
	if err != nil {
		logger.Error("stress: session create failed", "error", err)
		os.Exit(1)
	}
	dest, err := sess.ResolveDestination(*destination)
	if err != nil {
		logger.Error("stress: bad -destination", "error", err)
		os.Exit(1)
	}

	logger.Info("stress: starting run",
		"producers", *producers, "consumers", *consumers,
		"destination", dest.String(), "ack_mode", *ackMode,
		"prefetch", *prefetch, "rate_per_producer", *sendRate,
		"duration", duration.String())

	runCtx, cancelRun := context.WithTimeout(ctx, *duration)
	defer cancelRun()

	st := newStats()
	var wg sync.WaitGroup

	for i := 0; i < *consumers; i++ {
		consumerSess, err := conn.CreateSession(mode)
		if err != nil {
			logger.Error("stress: consumer session create failed", "worker", i, "error", err)
			continue
		}
		wg.Add(1)
		go func(id int, s *cmsclient.Session) {
			defer wg.Done()
			consumerWorker(runCtx, id, s, dest, *prefetch, st, logger)
		}(i, consumerSess)
	}

	for i := 0; i < *producers; i++ {
		producerSess, err := conn.CreateSession(command.AckAuto)
		if err != nil {
			logger.Error("stress: producer session create failed", "worker", i, "error", err)
			continue
		}
		wg.Add(1)
		go func(id int, s *cmsclient.Session) {
			defer wg.Done()
			producerWorker(runCtx, id, s, dest, *sendRate, st, logger)
		}(i, producerSess)
	}

	reportDone := make(chan struct{})
	go reportLoop(runCtx, st, logger, reportDone)

	wg.Wait()
	<-reportDone

	snap := st.snapshot()
	logger.Info("stress: run complete",
		"sent", snap.Sent, "received", snap.Received, "errors", snap.Errors,
		"latency_min", snap.Min.String(), "latency_max", snap.Max.String(), "latency_mean", snap.Mean.String())
}

func parseAckMode(s string) (command.AckMode, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return command.AckAuto, nil
	case "client":
		return command.AckClient, nil
	case "dups-ok", "dupsok":
		return command.AckDupsOk, nil
	case "transacted":
		return command.AckTransacted, nil
	default:
		return 0, fmt.Errorf("unknown ack mode %q (want auto, client, dups-ok, or transacted)", s)
	}
}

func reportLoop(ctx context.Context, st *stats, log *slog.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := st.snapshot()
			log.Info("stress: progress", "sent", snap.Sent, "received", snap.Received, "errors", snap.Errors)
		}
	}
}

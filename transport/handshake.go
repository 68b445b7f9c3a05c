// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
	"github.com/fluxcms/gocms/wire"
)

// localWireFormat is this client's offer in the WireFormatInfo handshake.
func localWireFormat(opts *Options) *command.WireFormatInfo {
	return &command.WireFormatInfo{
		Version:               10,
		TightEncodingEnabled:  opts.TightEncodingEnabled,
		MaxInactivityDuration: int(opts.ReadCheckInterval.Milliseconds()),
		MaxFrameSize:          opts.MaxFrameSize,
		CompressionEnabled:    opts.CompressionEnabled,
		CompressionMinSize:    opts.CompressionMinSize,
		StackTraceEnabled:     opts.StackTraceEnabled,
	}
}

// codecNameForScheme maps a broker URI scheme to the wire package's codec
// name, so broker URIs like "stomp://" or "tcp://" (OpenWire)
// select the matching Codec (§2 External Interfaces).
func codecNameForScheme(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", cmserr.IllegalArgument("invalid broker URI %q: %v", rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case strings.HasPrefix(scheme, "stomp"):
		return "stomp", nil
	default:
		return "openwire", nil
	}
}

// connectOnce dials rawURL, performs the WireFormatInfo handshake, and
// returns a coreTransport wrapped in an inactivityMonitor. It does not
// retry; failoverTransport is responsible for retrying across attempts.
func connectOnce(ctx context.Context, rawURL string, opts *Options, log *slog.Logger) (Transport, error) {
	c, err := dial(ctx, rawURL, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	codecName, err := codecNameForScheme(rawURL)
	if err != nil {
		c.Close()
		return nil, err
	}
	registry := wire.NewRegistry()
	codec, err := registry.Lookup(codecName)
	if err != nil {
		c.Close()
		return nil, err
	}

	local := localWireFormat(opts)
	localPayload, err := codec.Encode(local)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := wire.WriteFrame(c, command.TypeWireFormatInfo, localPayload); err != nil {
		c.Close()
		return nil, err
	}

	tag, payload, err := wire.ReadFrame(c, wire.DefaultMaxFrameSize)
	if err != nil {
		c.Close()
		return nil, err
	}
	if tag != command.TypeWireFormatInfo {
		c.Close()
		return nil, cmserr.Protocol("expected WireFormatInfo handshake frame, got %s", command.TypeName(tag))
	}
	remoteCmd, err := codec.Decode(tag, payload)
	if err != nil {
		c.Close()
		return nil, err
	}
	remote, ok := remoteCmd.(*command.WireFormatInfo)
	if !ok {
		c.Close()
		return nil, cmserr.Protocol("handshake frame decoded to unexpected type %T", remoteCmd)
	}

	negotiated := wire.Negotiate(local, remote)

	core := newCoreTransport(c, codec, negotiated, opts, log)
	monitor := newInactivityMonitor(core, opts)
	if err := monitor.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return monitor, nil
}

// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package wire

import "github.com/fluxcms/gocms/command"

// Negotiate reconciles the local peer's offered WireFormatInfo against the
// one just received from the remote peer, producing the format both sides
// will use for the remainder of the connection (§4.B). Version is the min
// of the two; every boolean capability is the AND of both sides (a feature
// is only safe to use if both peers claim support); MaxFrameSize and
// MaxInactivityDuration take the smaller, more conservative value.
func Negotiate(local, remote *command.WireFormatInfo) *command.WireFormatInfo {
	negotiated := &command.WireFormatInfo{
		Version:               minInt(local.Version, remote.Version),
		TightEncodingEnabled:  local.TightEncodingEnabled && remote.TightEncodingEnabled,
		SizePrefixDisabled:    local.SizePrefixDisabled && remote.SizePrefixDisabled,
		TcpNoDelayEnabled:     local.TcpNoDelayEnabled && remote.TcpNoDelayEnabled,
		CacheSize:             minInt(local.CacheSize, remote.CacheSize),
		MaxInactivityDuration: minInt(local.MaxInactivityDuration, remote.MaxInactivityDuration),
		MaxFrameSize:          minInt64(local.MaxFrameSize, remote.MaxFrameSize),
		CompressionEnabled:    local.CompressionEnabled && remote.CompressionEnabled,
		CompressionMinSize:    maxInt(local.CompressionMinSize, remote.CompressionMinSize),
		StackTraceEnabled:     local.StackTraceEnabled && remote.StackTraceEnabled,
	}
	if negotiated.MaxFrameSize <= 0 {
		negotiated.MaxFrameSize = DefaultMaxFrameSize
	}
	return negotiated
}

func minInt(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

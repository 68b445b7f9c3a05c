// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"github.com/klauspost/compress/s2"

	"github.com/fluxcms/gocms/cmserr"
)

// compressedFlag marks a frame payload as s2-compressed. It occupies the
// first byte of the payload when WireFormatInfo.CompressionEnabled is true
// and the uncompressed size met CompressionMinSize; readers check it before
// handing the remainder to the codec.
const (
	flagPlain      byte = 0
	flagCompressed byte = 1
)

// MaybeCompress prefixes payload with flagCompressed and s2-compresses it
// when compression is enabled and payload is at least minSize bytes;
// otherwise it prefixes flagPlain and returns payload unchanged. s2 is
// klauspost/compress's block format, chosen over gzip/deflate for the same
// reason the teacher pack favors it in its own storage log path: it trades
// a little ratio for a lot of encode/decode throughput, which matters more
// on a per-frame hot path than on a one-shot log segment.
func MaybeCompress(payload []byte, enabled bool, minSize int) []byte {
	if !enabled || len(payload) < minSize {
		return append([]byte{flagPlain}, payload...)
	}
	compressed := s2.Encode(nil, payload)
	return append([]byte{flagCompressed}, compressed...)
}

// Decompress reverses MaybeCompress.
func Decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, cmserr.Protocol("empty payload has no compression flag")
	}
	flag, body := payload[0], payload[1:]
	switch flag {
	case flagPlain:
		return body, nil
	case flagCompressed:
		decoded, err := s2.Decode(nil, body)
		if err != nil {
			return nil, cmserr.Protocol("s2 decompress: %v", err)
		}
		return decoded, nil
	default:
		return nil, cmserr.Protocol("unknown compression flag %d", flag)
	}
}

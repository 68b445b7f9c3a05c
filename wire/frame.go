// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Package wire turns command.Command values into bytes and back, and frames
// those bytes on a stream. Two codecs are provided: OpenWire (JSON payload,
// see openwire.go) and Stomp (text, NUL-terminated). Both
// share the same length-prefixed outer frame so a Transport does not need
// to know which codec is in use to read a frame off the wire (§4.B).
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fluxcms/gocms/cmserr"
)

// DefaultMaxFrameSize bounds a single frame's payload when no
// WireFormatInfo.MaxFrameSize has been negotiated yet (used for the initial
// WireFormatInfo exchange itself).
const DefaultMaxFrameSize = 16 * 1024 * 1024

// frameHeaderLen is the outer envelope: 4 bytes big-endian payload length,
// 1 byte type tag.
const frameHeaderLen = 5

// WriteFrame writes tag and payload as one length-prefixed frame.
func WriteFrame(w io.Writer, tag byte, payload []byte) error {
	buf := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)+1))
	buf[4] = tag
	copy(buf[frameHeaderLen:], payload)
	_, err := w.Write(buf)
	if err != nil {
		return cmserr.TransportErr(err, "write frame")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its type tag and
// payload. maxFrameSize of 0 falls back to DefaultMaxFrameSize. A length
// that exceeds maxFrameSize is a fatal protocol error (§7 IOError vs
// ProtocolError distinction: truncation is IOError/Timeout, oversize is
// ProtocolError because the peer is misbehaving, not merely slow).
func ReadFrame(r io.Reader, maxFrameSize int64) (tag byte, payload []byte, err error) {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, cmserr.TransportErr(err, "read frame length")
	}
	length := int64(binary.BigEndian.Uint32(lenBuf[:]))
	if length < 1 {
		return 0, nil, cmserr.Protocol("frame length %d is not a valid frame (missing type tag)", length)
	}
	if length-1 > maxFrameSize {
		return 0, nil, cmserr.Protocol("frame payload %d bytes exceeds max frame size %d", length-1, maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, cmserr.TransportErr(err, "read frame body")
	}
	return body[0], body[1:], nil
}

// wireStringer restores a fmt.Stringer from a decoded string value, used for
// RemoveInfo.ObjectId which is only ever compared/printed, never type
// switched on, by the client runtime.
type wireStringer string

func (w wireStringer) String() string { return string(w) }

var _ fmt.Stringer = wireStringer("")

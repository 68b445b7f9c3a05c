// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
)

// Codec marshals and unmarshals the payload portion of a frame for one wire
// format. The outer length/tag envelope (frame.go) is shared by every
// codec; only the payload encoding differs between OpenWire and Stomp.
type Codec interface {
	// Name identifies the codec for logging (§ ambient logging fields).
	Name() string

	// Encode returns the payload bytes for cmd; the caller writes them
	// with cmd.TypeTag() via WriteFrame.
	Encode(cmd command.Command) ([]byte, error)

	// Decode reconstructs the Command for the given type tag from payload.
	Decode(tag byte, payload []byte) (command.Command, error)
}

// Registry looks up a Codec by wire format name. A Transport holds exactly
// one active Codec, selected once from the broker URI's scheme before the
// WireFormatInfo handshake (§4.B); Negotiate settles format options, not the
// codec.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry builds a Registry pre-populated with the OpenWire and Stomp
// codecs, mirroring the two protocols named in the connection URI scheme
// (§2 External Interfaces).
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec, 2)}
	r.Register(NewOpenWireCodec())
	r.Register(NewStompCodec())
	return r
}

func (r *Registry) Register(c Codec) {
	r.codecs[c.Name()] = c
}

func (r *Registry) Lookup(name string) (Codec, error) {
	c, ok := r.codecs[name]
	if !ok {
		return nil, cmserr.Protocol("no codec registered for wire format %q", name)
	}
	return c, nil
}

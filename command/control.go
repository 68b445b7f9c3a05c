// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package command

import "fmt"

// ConsumerControl carries flow-control directives to a broker-side
// consumer: close it, adjust its prefetch, flush pending, or start/stop
// delivery (§3).
type ConsumerControl struct {
	Header

	ConsumerId ConsumerId
	Close      bool
	Prefetch   int
	Flush      bool
	Start      bool
	Stop       bool
}

func (c *ConsumerControl) TypeTag() byte { return TypeConsumerControl }
func (c *ConsumerControl) Clone() Command {
	cp := *c
	return &cp
}
func (c *ConsumerControl) Equals(other Command) bool {
	o, ok := other.(*ConsumerControl)
	if !ok {
		return false
	}
	return *c == *o
}
func (c *ConsumerControl) String() string {
	return fmt.Sprintf("ConsumerControl{consumer=%s close=%t prefetch=%d start=%t stop=%t}",
		c.ConsumerId, c.Close, c.Prefetch, c.Start, c.Stop)
}
func (c *ConsumerControl) Accept(v Visitor) error { return v.VisitConsumerControl(c) }

// WireFormatInfo is the first frame exchanged by each peer on connect,
// carrying the protocol version and feature flags used to negotiate the
// wire codec (§4.B).
type WireFormatInfo struct {
	Header

	Version                   int
	TightEncodingEnabled      bool
	SizePrefixDisabled        bool
	TcpNoDelayEnabled         bool
	CacheSize                 int
	MaxInactivityDuration     int // ms
	MaxFrameSize              int64
	CompressionEnabled        bool
	CompressionMinSize        int
	StackTraceEnabled         bool
}

func (w *WireFormatInfo) TypeTag() byte { return TypeWireFormatInfo }
func (w *WireFormatInfo) Clone() Command {
	cp := *w
	return &cp
}
func (w *WireFormatInfo) Equals(other Command) bool {
	o, ok := other.(*WireFormatInfo)
	if !ok {
		return false
	}
	return *w == *o
}
func (w *WireFormatInfo) String() string {
	return fmt.Sprintf("WireFormatInfo{version=%d tight=%t maxInactivity=%dms}",
		w.Version, w.TightEncodingEnabled, w.MaxInactivityDuration)
}
func (w *WireFormatInfo) Accept(v Visitor) error { return v.VisitWireFormatInfo(w) }

// KeepAliveInfo is emitted by the InactivityMonitor when no outbound
// traffic has occurred within the writeCheck interval (§4.C).
type KeepAliveInfo struct {
	Header
}

func (k *KeepAliveInfo) TypeTag() byte { return TypeKeepAliveInfo }
func (k *KeepAliveInfo) Clone() Command {
	cp := *k
	return &cp
}
func (k *KeepAliveInfo) Equals(other Command) bool {
	_, ok := other.(*KeepAliveInfo)
	return ok
}
func (k *KeepAliveInfo) String() string             { return "KeepAliveInfo{}" }
func (k *KeepAliveInfo) Accept(v Visitor) error { return v.VisitKeepAliveInfo(k) }

// ShutdownInfo is sent by a peer that is closing its side of the transport
// cleanly (§4.E "close").
type ShutdownInfo struct {
	Header
}

func (s *ShutdownInfo) TypeTag() byte { return TypeShutdownInfo }
func (s *ShutdownInfo) Clone() Command {
	cp := *s
	return &cp
}
func (s *ShutdownInfo) Equals(other Command) bool {
	_, ok := other.(*ShutdownInfo)
	return ok
}
func (s *ShutdownInfo) String() string             { return "ShutdownInfo{}" }
func (s *ShutdownInfo) Accept(v Visitor) error { return v.VisitShutdownInfo(s) }

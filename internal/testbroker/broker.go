// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

// Package testbroker is a minimal in-process OpenWire broker used to drive
// cmsclient/template/pool tests and the cmd/stress harness without a real
// message broker. It speaks just enough of the wire protocol to complete
// the handshake and service Connection/Session/Consumer/Producer
// registration, queue/topic routing, and pull-mode delivery; it has no
// persistence, no transactions, and no security.
package testbroker

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/fluxcms/gocms/command"
	"github.com/fluxcms/gocms/wire"
)

// Broker accepts OpenWire connections on a loopback listener and routes
// Messages between whatever Producers/Consumers register against it.
type Broker struct {
	ln     net.Listener
	log    *slog.Logger
	router *router
	seq    atomic.Int64

	mu     sync.Mutex
	conns  map[*brokerConn]struct{}
	closed bool
}

// Start listens on addr ("127.0.0.1:0" for an ephemeral port) and begins
// accepting connections in the background. Call Addr for the actual
// listening address and Close to shut it down.
func Start(addr string, log *slog.Logger) (*Broker, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	b := &Broker{ln: ln, log: log, router: newRouter(), conns: make(map[*brokerConn]struct{})}
	go b.acceptLoop()
	return b, nil
}

// Addr returns the listener's actual network address, e.g. "127.0.0.1:54321".
func (b *Broker) Addr() string { return b.ln.Addr().String() }

// URI returns a gocms broker URI (tcp://host:port) pointing at this broker,
// ready to pass to cmsclient.Dial.
func (b *Broker) URI() string { return "tcp://" + b.Addr() }

func (b *Broker) acceptLoop() {
	for {
		c, err := b.ln.Accept()
		if err != nil {
			return
		}
		bc := newBrokerConn(b, c)
		b.mu.Lock()
		b.conns[bc] = struct{}{}
		b.mu.Unlock()
		go bc.serve()
	}
}

func (b *Broker) removeConn(bc *brokerConn) {
	b.mu.Lock()
	delete(b.conns, bc)
	b.mu.Unlock()
}

// Close stops accepting connections and closes every live one.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conns := make([]*brokerConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.conn.Close()
	}
	return b.ln.Close()
}

// localWireFormat is this broker's offer in the WireFormatInfo handshake.
// Compression is offered enabled so whichever side the client actually
// wants (Negotiate ANDs both offers) takes effect.
func localWireFormat() *command.WireFormatInfo {
	return &command.WireFormatInfo{
		Version:               10,
		TightEncodingEnabled:  true,
		MaxInactivityDuration: 30000,
		MaxFrameSize:          wire.DefaultMaxFrameSize,
		CompressionEnabled:    true,
		StackTraceEnabled:     true,
	}
}

// consumerState is what a brokerConn remembers about a Consumer it
// registered, so RemoveInfo/connection-close can unsubscribe it from the
// router.
type consumerState struct {
	id       command.ConsumerId
	dest     command.Destination
	prefetch int
}

// brokerConn is the per-TCP-connection handler: one handshake, one codec,
// one command dispatch loop.
type brokerConn struct {
	b    *Broker
	conn net.Conn

	codec      wire.Codec
	wireFormat *command.WireFormatInfo

	writeMu sync.Mutex

	connectionID command.ConnectionId

	mu        sync.Mutex
	consumers map[string]*consumerState
}

func newBrokerConn(b *Broker, c net.Conn) *brokerConn {
	return &brokerConn{b: b, conn: c, consumers: make(map[string]*consumerState)}
}

func (bc *brokerConn) serve() {
	defer bc.cleanup()

	codec := wire.NewOpenWireCodec()
	bc.codec = codec

	tag, payload, err := wire.ReadFrame(bc.conn, wire.DefaultMaxFrameSize)
	if err != nil {
		return
	}
	if tag != command.TypeWireFormatInfo {
		return
	}
	remoteCmd, err := codec.Decode(tag, payload)
	if err != nil {
		return
	}
	remote, ok := remoteCmd.(*command.WireFormatInfo)
	if !ok {
		return
	}

	local := localWireFormat()
	negotiated := wire.Negotiate(local, remote)
	bc.wireFormat = negotiated

	localPayload, err := codec.Encode(local)
	if err != nil {
		return
	}
	if err := wire.WriteFrame(bc.conn, command.TypeWireFormatInfo, localPayload); err != nil {
		return
	}

	for {
		tag, payload, err := wire.ReadFrame(bc.conn, bc.wireFormat.MaxFrameSize)
		if err != nil {
			return
		}
		if bc.wireFormat.CompressionEnabled {
			payload, err = wire.Decompress(payload)
			if err != nil {
				bc.b.log.Warn("testbroker: dropping frame with bad compression flag", slog.String("error", err.Error()))
				continue
			}
		}
		cmd, err := codec.Decode(tag, payload)
		if err != nil {
			bc.b.log.Warn("testbroker: dropping undecodable frame", slog.String("error", err.Error()))
			continue
		}
		bc.handle(cmd)
	}
}

func (bc *brokerConn) cleanup() {
	bc.mu.Lock()
	states := make([]*consumerState, 0, len(bc.consumers))
	for _, cs := range bc.consumers {
		states = append(states, cs)
	}
	bc.consumers = nil
	bc.mu.Unlock()

	for _, cs := range states {
		if cs.prefetch > 0 {
			bc.b.router.unsubscribe(cs.dest, cs.id)
		}
	}
	bc.b.removeConn(bc)
	bc.conn.Close()
}

func (bc *brokerConn) writeCommand(cmd command.Command) error {
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()

	payload, err := bc.codec.Encode(cmd)
	if err != nil {
		return err
	}
	if bc.wireFormat.CompressionEnabled {
		payload = wire.MaybeCompress(payload, true, bc.wireFormat.CompressionMinSize)
	}
	return wire.WriteFrame(bc.conn, cmd.TypeTag(), payload)
}

func (bc *brokerConn) writeDispatch(d *command.MessageDispatch) error {
	return bc.writeCommand(d)
}

func (bc *brokerConn) respondOK(req command.Command) {
	if !req.IsResponseRequired() {
		return
	}
	_ = bc.writeCommand(&command.Response{CorrelationId: req.CommandID()})
}

func (bc *brokerConn) handle(cmd command.Command) {
	switch c := cmd.(type) {
	case *command.ConnectionInfo:
		bc.connectionID = c.ConnectionId
		bc.respondOK(c)

	case *command.SessionInfo:
		bc.respondOK(c)

	case *command.ConsumerInfo:
		cs := &consumerState{id: c.ConsumerId, dest: c.Destination, prefetch: c.Prefetch}
		bc.mu.Lock()
		bc.consumers[c.ConsumerId.String()] = cs
		bc.mu.Unlock()
		if c.Prefetch > 0 {
			bc.b.router.subscribe(c.Destination, &pushConsumer{id: c.ConsumerId, send: bc.writeDispatch})
		}
		bc.respondOK(c)

	case *command.ProducerInfo:
		bc.respondOK(c)

	case *command.DestinationInfo:
		// The router creates destination routing state lazily on first
		// subscribe/publish; ADD/REMOVE only needs acknowledging here.
		bc.respondOK(c)

	case *command.RemoveInfo:
		bc.handleRemove(c)
		bc.respondOK(c)

	case *command.MessageAck:
		// This broker keeps no delivery/redelivery bookkeeping, so
		// acknowledgement is a no-op; it exists only so a real client's
		// ack path has something to send to.

	case *command.MessagePull:
		bc.b.router.pull(c.Destination, bc.writeDispatch, c.ConsumerId)

	case *command.Message:
		m := c
		m.MessageId.BrokerSeqId = bc.b.seq.Add(1)
		bc.b.router.publish(m.Destination, m)
		bc.respondOK(c)

	case *command.KeepAliveInfo:
		// nothing to do; reading this frame already reset the peer's
		// inactivity clock.

	case *command.ShutdownInfo:
		bc.conn.Close()
	}
}

func (bc *brokerConn) handleRemove(c *command.RemoveInfo) {
	if c.ObjectType != command.TypeConsumerInfo {
		return
	}
	key := c.ObjectId.String()
	bc.mu.Lock()
	cs, ok := bc.consumers[key]
	if ok {
		delete(bc.consumers, key)
	}
	bc.mu.Unlock()
	if ok && cs.prefetch > 0 {
		bc.b.router.unsubscribe(cs.dest, cs.id)
	}
}

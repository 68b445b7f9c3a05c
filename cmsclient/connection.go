// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package cmsclient

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxcms/gocms/cmserr"
	"github.com/fluxcms/gocms/command"
	"github.com/fluxcms/gocms/config"
	"github.com/fluxcms/gocms/transport"
)

// ExceptionListener is notified when the Connection's transport reports a
// fatal, non-recoverable failure (§4.E). It is never called for
// transparent failover reconnects.
type ExceptionListener func(err error)

// Connection is the root of the entity hierarchy: it owns the transport,
// hands out Sessions, and tracks every resource created under it so Close
// can tear the whole tree down in the right order (§3, §4.E, §4.F).
type Connection struct {
	id        command.ConnectionId
	clientID  string
	transport transport.Transport
	opts      *Options
	log       *slog.Logger
	ackStore  AckStore

	state     *stateManager
	lifecycle *resourceLifecycleManager

	mu               sync.RWMutex
	sessions         map[int64]*Session
	tempDestinations map[string]command.Destination
	sessionSeq       atomic.Int64

	exceptionListener ExceptionListener
}

// Options configures a Connection, following the teacher's Options/SetX
// chaining convention (client/options.go).
type Options struct {
	ClientID       string
	Username       string
	Password       string
	RequestTimeout time.Duration
	Transport      *transport.Options
	Logger         *slog.Logger

	// AckStorePath roots a Badger-backed AckStore for CLIENT/TRANSACTED
	// redelivery bookkeeping. Empty keeps the in-memory default, which is
	// lost across process restarts.
	AckStorePath string
}

func NewOptions() *Options {
	return &Options{
		RequestTimeout: 15 * time.Second,
		Transport:      transport.NewOptions(),
	}
}

// NewOptionsFromConfig builds Options from a loaded config.Config,
// following the same "yaml struct feeds an Options builder" wiring the
// ambient stack expansion calls for.
func NewOptionsFromConfig(cfg *config.Config) *Options {
	o := NewOptions().
		SetClientID(cfg.Connection.ClientID).
		SetCredentials(cfg.Connection.Username, cfg.Connection.Password).
		SetRequestTimeout(cfg.Connection.RequestTimeout)

	o.Transport.
		SetConnectTimeout(cfg.Transport.ConnectTimeout).
		SetRequestTimeout(cfg.Transport.RequestTimeout).
		SetMaxFrameSize(cfg.Transport.MaxFrameSize).
		SetCompression(cfg.Transport.CompressionEnabled, cfg.Transport.CompressionMinSize).
		SetInactivityIntervals(cfg.Transport.WriteCheckInterval, cfg.Transport.ReadCheckInterval).
		SetWireFormat(cfg.WireFormat.TightEncodingEnabled, cfg.WireFormat.StackTraceEnabled).
		SetMaxReconnectAttempts(cfg.Failover.MaxReconnectAttempts).
		SetBackoff(cfg.Failover.InitialReconnectDelay, cfg.Failover.MaxReconnectDelay, cfg.Failover.Backoff)

	o.SetAckStorePath(cfg.AckStore.Dir)

	return o
}

func (o *Options) SetClientID(id string) *Options              { o.ClientID = id; return o }
func (o *Options) SetCredentials(user, pass string) *Options   { o.Username = user; o.Password = pass; return o }
func (o *Options) SetRequestTimeout(d time.Duration) *Options  { o.RequestTimeout = d; return o }
func (o *Options) SetLogger(l *slog.Logger) *Options           { o.Logger = l; return o }
func (o *Options) SetAckStorePath(dir string) *Options         { o.AckStorePath = dir; return o }

// Dial establishes a Connection to one of uris (in order, with failover
// across the list on later reconnects) and completes the ConnectionInfo
// handshake. The returned Connection starts in CREATED state; call Start
// to begin message delivery (§3).
func Dial(ctx context.Context, uris []string, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = NewOptions()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ackStore, err := NewAckStore(opts.AckStorePath)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		id:               command.NewConnectionId(),
		clientID:         opts.ClientID,
		opts:             opts,
		log:              log,
		ackStore:         ackStore,
		state:            newStateManager(),
		lifecycle:        newResourceLifecycleManager(),
		sessions:         make(map[int64]*Session),
		tempDestinations: make(map[string]command.Destination),
	}

	t, err := transport.NewFailoverTransport(ctx, uris, opts.Transport, c.replay, log)
	if err != nil {
		ackStore.Close()
		return nil, err
	}
	c.transport = t
	t.SetCommandListener(c.onCommand)
	t.SetExceptionListener(c.onException)

	info := &command.ConnectionInfo{
		ConnectionId:    c.id,
		ClientId:        opts.ClientID,
		Username:        opts.Username,
		Password:        opts.Password,
		FailoverEnabled: len(uris) > 1,
	}
	reqCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
	defer cancel()
	if _, err := t.Request(reqCtx, info); err != nil {
		t.Close()
		ackStore.Close()
		return nil, err
	}

	c.lifecycle.registerConnection(newOnceDestroyable(func() error {
		defer c.ackStore.Close()
		return t.Close()
	}))

	return c, nil
}

// replay re-registers every live Session/Consumer/Producer with the
// broker after a failover reconnect (§4.C).
func (c *Connection) replay(ctx context.Context, t transport.Transport) error {
	info := &command.ConnectionInfo{ConnectionId: c.id, ClientId: c.clientID, Username: c.opts.Username, Password: c.opts.Password}
	if _, err := t.Request(ctx, info); err != nil {
		return err
	}

	c.mu.RLock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.RUnlock()

	for _, s := range sessions {
		if err := s.replay(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Start transitions the connection (and every Session/Consumer under it)
// into STARTED, enabling asynchronous message delivery (§3).
func (c *Connection) Start() error {
	if !c.state.transitionFrom(StateStarted, StateCreated, StateStopped) {
		if c.state.get() == StateStarted {
			return nil
		}
		return cmserr.IllegalState("connection is %s, cannot start", c.state.get())
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		s.onConnectionStarted()
	}
	return nil
}

// Stop transitions to STOPPED, suspending delivery without destroying any
// entity (§3).
func (c *Connection) Stop() error {
	if !c.state.transition(StateStarted, StateStopped) {
		return cmserr.IllegalState("connection is %s, cannot stop", c.state.get())
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.sessions {
		s.onConnectionStopped()
	}
	return nil
}

// IsStarted reports whether message delivery is currently enabled.
func (c *Connection) IsStarted() bool { return c.state.get() == StateStarted }

// CreateSession creates a Session with the given acknowledgement mode
// (§3, §4.G — a pooled cmsclient.Session is just a Session returned to a
// pool.SessionPool instead of Closed).
func (c *Connection) CreateSession(ackMode command.AckMode) (*Session, error) {
	if c.state.isClosed() {
		return nil, cmserr.IllegalState("connection is closed")
	}

	seq := c.sessionSeq.Add(1)
	sessID := command.SessionId{ConnectionId: c.id, Value: seq}

	info := &command.SessionInfo{SessionId: sessID, AckMode: ackMode}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	if _, err := c.transport.Request(ctx, info); err != nil {
		return nil, err
	}

	s := newSession(c, sessID, ackMode)
	if c.state.get() == StateStarted {
		s.onConnectionStarted()
	}

	c.mu.Lock()
	c.sessions[seq] = s
	c.mu.Unlock()

	c.lifecycle.registerSession(newOnceDestroyable(func() error {
		c.mu.Lock()
		delete(c.sessions, seq)
		c.mu.Unlock()
		return s.closeInternal()
	}))

	return s, nil
}

// CreateTemporaryQueue registers a temporary queue owned by this
// Connection; it is destroyed automatically when the Connection closes
// (§3).
func (c *Connection) CreateTemporaryQueue() (command.Destination, error) {
	return c.createTemporaryDestination(command.NewTemporaryQueue(c.id.Value + "-" + tempName()))
}

// CreateTemporaryTopic registers a temporary topic owned by this
// Connection.
func (c *Connection) CreateTemporaryTopic() (command.Destination, error) {
	return c.createTemporaryDestination(command.NewTemporaryTopic(c.id.Value + "-" + tempName()))
}

func (c *Connection) createTemporaryDestination(d command.Destination) (command.Destination, error) {
	if c.state.isClosed() {
		return command.Destination{}, cmserr.IllegalState("connection is closed")
	}

	info := &command.DestinationInfo{ConnectionId: c.id, Destination: d, OperationType: command.OpAdd}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	defer cancel()
	if _, err := c.transport.Request(ctx, info); err != nil {
		return command.Destination{}, err
	}

	c.mu.Lock()
	c.tempDestinations[d.String()] = d
	c.mu.Unlock()

	c.lifecycle.registerTempDestination(newOnceDestroyable(func() error {
		removeCtx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
		defer cancel()
		_, err := c.transport.Request(removeCtx, &command.DestinationInfo{ConnectionId: c.id, Destination: d, OperationType: command.OpRemove})
		return err
	}))

	return d, nil
}

// SetExceptionListener registers the callback invoked when the transport
// fails permanently (§4.E).
func (c *Connection) SetExceptionListener(l ExceptionListener) {
	c.mu.Lock()
	c.exceptionListener = l
	c.mu.Unlock()
}

func (c *Connection) onException(err error) {
	c.mu.RLock()
	l := c.exceptionListener
	c.mu.RUnlock()
	if l != nil {
		l(err)
	}
}

func (c *Connection) onCommand(cmd command.Command) {
	switch cmd := cmd.(type) {
	case *command.MessageDispatch:
		c.routeDispatch(cmd)
	case *command.ConnectionError:
		c.onException(cmserr.Broker(cmd.ExceptionClass, cmd.Message))
	}
}

func (c *Connection) routeDispatch(d *command.MessageDispatch) {
	c.mu.RLock()
	sess, ok := c.sessions[d.ConsumerId.SessionId.Value]
	c.mu.RUnlock()
	if !ok {
		c.log.Warn("dispatch for unknown session, dropping", slog.Any("consumer", d.ConsumerId))
		return
	}
	sess.routeDispatch(d)
}

// Close tears down every Session/Consumer/Producer and temporary
// destination created under this connection, in the order producers,
// consumers, temporary destinations, sessions, connection (§4.F). A clean
// close emits ShutdownInfo and waits (bounded by the request timeout) for
// the broker's ack before the transport itself is closed; a broker that
// never acks just makes close proceed once the timeout elapses (§6).
func (c *Connection) Close() error {
	if !c.state.transitionFrom(StateClosed, StateCreated, StateStarted, StateStopped) {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.opts.RequestTimeout)
	if _, err := c.transport.Request(shutdownCtx, &command.ShutdownInfo{}); err != nil {
		c.log.Debug("shutdown ack not received, closing anyway", slog.Any("error", err))
	}
	cancel()

	return c.lifecycle.destroyAll()
}

// ID returns the connection's identifier.
func (c *Connection) ID() command.ConnectionId { return c.id }

func (c *Connection) requestTimeout() time.Duration { return c.opts.RequestTimeout }

var tempSeq atomic.Int64

func tempName() string {
	return "temp-" + strconv.FormatInt(tempSeq.Add(1), 10)
}

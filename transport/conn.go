// Copyright (c) FluxCMS
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxcms/gocms/cmserr"
)

// conn abstracts the raw byte stream under a Transport: a TCP socket or a
// WebSocket connection framed as a byte stream. Grounded on the teacher's
// use of net.Conn directly in client/client.go plus gorilla/websocket for
// the ws:// scheme, which the teacher pack's server/websocket/server.go
// wires on the listener side.
type conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// dial opens a raw conn for the given broker URI. Supported schemes:
// tcp://host:port, openwire://host:port, stomp://host:port, ssl:// and
// stomp+ssl://host:port (plain TCP: no TLS handshake is made), ws://host/path,
// wss://host/path, stomp+ws://host/path.
func dial(ctx context.Context, rawURL string, timeout time.Duration) (conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, cmserr.IllegalArgument("invalid broker URI %q: %v", rawURL, err)
	}

	switch u.Scheme {
	case "tcp", "ssl", "openwire", "stomp", "stomp+ssl":
		d := net.Dialer{Timeout: timeout}
		c, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, cmserr.TransportErr(err, "dial %s", rawURL)
		}
		return c, nil

	case "ws", "wss", "stomp+ws":
		dialer := websocket.Dialer{HandshakeTimeout: timeout}
		wsConn, _, err := dialer.DialContext(ctx, rawURL, nil)
		if err != nil {
			return nil, cmserr.TransportErr(err, "dial %s", rawURL)
		}
		return &wsConnAdapter{Conn: wsConn}, nil

	default:
		return nil, cmserr.IllegalArgument("unsupported broker URI scheme %q", u.Scheme)
	}
}

// wsConnAdapter presents a *websocket.Conn as an io.ReadWriteCloser so the
// rest of the transport stack (frame-based, not message-based) can treat
// TCP and WebSocket connections uniformly. Each websocket message carries
// exactly one wire frame's worth of bytes.
type wsConnAdapter struct {
	*websocket.Conn
	readBuf []byte
}

func (w *wsConnAdapter) Read(p []byte) (int, error) {
	for len(w.readBuf) == 0 {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.readBuf = data
	}
	n := copy(p, w.readBuf)
	w.readBuf = w.readBuf[n:]
	return n, nil
}

func (w *wsConnAdapter) Write(p []byte) (int, error) {
	if err := w.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConnAdapter) SetDeadline(t time.Time) error {
	if err := w.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.Conn.SetWriteDeadline(t)
}

// Package wws provides a publish socket transport
// carrying frames over WebSocket connections,
// one frame per binary message.
//
// Endpoints take the form ws://host:port.
// The transport speaks plain ws;
// TLS termination, if any, belongs in front of the listener.
package wws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wtransport"
)

// Scheme is the endpoint scheme served by this transport.
const Scheme = "ws"

// Subprotocol is advertised during the WebSocket handshake.
// It is informational; the listener admits peers
// regardless of what they negotiated.
const Subprotocol = "wyvern"

// DefaultHandshakeTimeout bounds the HTTP upgrade handshake
// when [Config.HandshakeTimeout] is zero.
const DefaultHandshakeTimeout = 5 * time.Second

// Config is the configuration for a [Transport].
type Config struct {
	// HandshakeTimeout bounds the HTTP upgrade handshake
	// on both listen and dial.
	// Zero means [DefaultHandshakeTimeout].
	HandshakeTimeout time.Duration

	// QueueDepth is the capacity of each channel's outbound queue.
	// Zero means [wtransport.DefaultQueueDepth].
	QueueDepth int

	// MaxPayloadSize bounds inbound frame payloads.
	// Zero means [wframe.DefaultMaxPayloadSize].
	MaxPayloadSize int64
}

// Transport carries frames over WebSocket connections.
type Transport struct {
	handshakeTimeout time.Duration

	queueDepth     int
	maxPayloadSize int64
}

var _ wtransport.Transport = (*Transport)(nil)

// New returns a Transport using cfg.
func New(cfg Config) *Transport {
	if cfg.HandshakeTimeout < 0 {
		panic(fmt.Errorf("BUG: HandshakeTimeout must not be negative (got %d)", cfg.HandshakeTimeout))
	}
	if cfg.QueueDepth < 0 {
		panic(fmt.Errorf("BUG: QueueDepth must not be negative (got %d)", cfg.QueueDepth))
	}
	if cfg.MaxPayloadSize < 0 {
		panic(fmt.Errorf("BUG: MaxPayloadSize must not be negative (got %d)", cfg.MaxPayloadSize))
	}

	t := &Transport{
		handshakeTimeout: cfg.HandshakeTimeout,
		queueDepth:       cfg.QueueDepth,
		maxPayloadSize:   cfg.MaxPayloadSize,
	}
	if t.handshakeTimeout == 0 {
		t.handshakeTimeout = DefaultHandshakeTimeout
	}
	if t.queueDepth == 0 {
		t.queueDepth = wtransport.DefaultQueueDepth
	}
	if t.maxPayloadSize == 0 {
		t.maxPayloadSize = wframe.DefaultMaxPayloadSize
	}
	return t
}

// Scheme implements [wtransport.Transport].
func (t *Transport) Scheme() string {
	return Scheme
}

// Listen implements [wtransport.Transport].
//
// Closing the returned listener stops accepting new connections.
// Channels already handed to h keep their connections;
// each one lives until its own Close.
func (t *Transport) Listen(
	ctx context.Context,
	log *slog.Logger,
	addr string,
	h wtransport.Handler,
) (wtransport.Listener, error) {
	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &listener{
		log: log,
		h:   h,

		ln: tcpLn,

		upgrader: websocket.Upgrader{
			HandshakeTimeout: t.handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			Subprotocols:     []string{Subprotocol},

			// Topic subscriptions are not browser credentials,
			// so cross-origin dials are fine.
			CheckOrigin: func(*http.Request) bool { return true },
		},

		queueDepth:     t.queueDepth,
		maxPayloadSize: t.maxPayloadSize,
	}
	l.srv = &http.Server{
		Handler:           http.HandlerFunc(l.upgrade),
		ReadHeaderTimeout: t.handshakeTimeout,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	go l.serve()

	// The upgrade hijacks each accepted connection out of the server,
	// so ending the context only needs to stop the server itself.
	context.AfterFunc(ctx, func() {
		_ = l.Close()
	})

	return l, nil
}

// Dial implements [wtransport.Transport].
// The context bounds the handshake only.
func (t *Transport) Dial(
	ctx context.Context,
	log *slog.Logger,
	addr string,
	h wtransport.Handler,
) error {
	d := websocket.Dialer{
		HandshakeTimeout: t.handshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		Subprotocols:     []string{Subprotocol},
	}
	wsConn, _, err := d.DialContext(ctx, "ws://"+addr, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	id := wpeer.RandomIdentity()
	ch := newChannel(log.With("peer", id), wsConn, t.queueDepth, t.maxPayloadSize)
	if err := h.PeerConnected(id, ch); err != nil {
		_ = ch.Close()
		return fmt.Errorf("handler rejected dialed peer: %w", err)
	}

	log.Debug(
		"Connected to listener",
		"addr", addr,
		"peer", id,
	)
	return nil
}

type listener struct {
	log *slog.Logger
	h   wtransport.Handler

	ln  net.Listener
	srv *http.Server

	upgrader websocket.Upgrader

	queueDepth     int
	maxPayloadSize int64
}

func (l *listener) serve() {
	err := l.srv.Serve(l.ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.log.Warn(
			"Serve loop ended unexpectedly",
			"err", err,
		)
		return
	}

	l.log.Debug("Serve loop stopping")
}

func (l *listener) upgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		l.log.Debug(
			"Rejected non-WebSocket request",
			"remote", r.RemoteAddr,
			"err", err,
		)
		return
	}

	id := wpeer.RandomIdentity()
	ch := newChannel(l.log.With("peer", id), wsConn, l.queueDepth, l.maxPayloadSize)
	if err := l.h.PeerConnected(id, ch); err != nil {
		l.log.Info(
			"Rejected peer connection",
			"peer", id,
			"err", err,
		)
		_ = ch.Close()
		return
	}

	l.log.Debug(
		"Accepted peer connection",
		"peer", id,
		"remote", r.RemoteAddr,
	)
}

// Addr implements [wtransport.Listener].
func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close implements [wtransport.Listener].
// Hijacked connections are unaffected.
func (l *listener) Close() error {
	err := l.srv.Close()

	// The serve goroutine may not have handed the TCP listener
	// to the server yet; closing it directly covers that window.
	_ = l.ln.Close()

	return err
}

// Package wquic provides a QUIC transport:
// each peer is one QUIC connection,
// and each direction of frame traffic runs on
// a single unidirectional stream opened by its sender.
//
// QUIC's connection lifecycle maps directly onto peer liveness:
// a closed or failed connection is an unreachable peer.
package wquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wtransport"
	"github.com/quic-go/quic-go"
)

// Scheme is the endpoint scheme this transport serves.
const Scheme = "quic"

// NextProto is the ALPN protocol name used
// when a [Config] does not set its own.
// Dialing and listening sides must agree on it.
const NextProto = "wyvern"

// Config configures a [Transport].
type Config struct {
	// TLS is required.
	// Listeners present its certificates;
	// dials verify against its RootCAs and ServerName.
	// The transport clones it and modifies the clone,
	// setting NextProtos to [NextProto] if unset.
	TLS *tls.Config

	// QUIC is optional; nil means [DefaultQUICConfig].
	QUIC *quic.Config

	// QueueDepth is the outbound queue capacity,
	// in frames, of each peer channel.
	// Zero means [wtransport.DefaultQueueDepth].
	QueueDepth int

	// MaxPayloadSize bounds inbound frame payloads.
	// Zero means [wframe.DefaultMaxPayloadSize].
	MaxPayloadSize int64
}

// DefaultQUICConfig is the default QUIC configuration for a [Config].
func DefaultQUICConfig() *quic.Config {
	return &quic.Config{
		// Defaults to 5 otherwise, which is far higher latency
		// than connection establishment should need.
		HandshakeIdleTimeout: 2 * time.Second,

		// A subscriber that matches nothing may go a long time
		// without any traffic at all;
		// keepalives stop the default 30s idle timeout
		// from reaping it.
		KeepAlivePeriod: 10 * time.Second,

		// Stream-level flow control windows.
		// Sized for moderate fan-out traffic rather than bulk transfer.
		InitialStreamReceiveWindow: 256 * 1024,
		MaxStreamReceiveWindow:     8 * 1024 * 1024,

		// Connection-level windows; each connection carries
		// only the two frame streams.
		InitialConnectionReceiveWindow: 512 * 1024,
		MaxConnectionReceiveWindow:     16 * 1024 * 1024,

		// The frame protocol never opens bidirectional streams.
		MaxIncomingStreams: -1,

		// Exactly one inbound unidirectional stream per connection:
		// the peer's frame stream.
		MaxIncomingUniStreams: 1,
	}
}

// Transport is a QUIC [wtransport.Transport].
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quic.Config

	queueDepth     int
	maxPayloadSize int64
}

// New returns a Transport with the given configuration.
// Configuration errors cause a panic.
func New(cfg Config) *Transport {
	if cfg.TLS == nil {
		panic(fmt.Errorf("BUG: Config.TLS may not be nil"))
	}
	if cfg.QueueDepth < 0 {
		panic(fmt.Errorf("BUG: Config.QueueDepth must not be negative (got %d)", cfg.QueueDepth))
	}
	if cfg.MaxPayloadSize < 0 {
		panic(fmt.Errorf("BUG: Config.MaxPayloadSize must not be negative (got %d)", cfg.MaxPayloadSize))
	}

	tlsConf := cfg.TLS.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{NextProto}
	}

	quicConf := cfg.QUIC
	if quicConf == nil {
		quicConf = DefaultQUICConfig()
	}

	depth := cfg.QueueDepth
	if depth == 0 {
		depth = wtransport.DefaultQueueDepth
	}

	maxPayload := cfg.MaxPayloadSize
	if maxPayload == 0 {
		maxPayload = wframe.DefaultMaxPayloadSize
	}

	return &Transport{
		tlsConf:  tlsConf,
		quicConf: quicConf,

		queueDepth:     depth,
		maxPayloadSize: maxPayload,
	}
}

// Scheme returns [Scheme].
func (t *Transport) Scheme() string {
	return Scheme
}

// Listen opens a UDP socket on addr
// and accepts QUIC connections on it,
// handing each accepted peer to h.
func (t *Transport) Listen(
	ctx context.Context,
	log *slog.Logger,
	addr string,
	h wtransport.Handler,
) (wtransport.Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %q: %w", addr, err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket on %q: %w", addr, err)
	}

	qt := &quic.Transport{Conn: udpConn}
	ql, err := qt.Listen(t.tlsConf.Clone(), t.quicConf)
	if err != nil {
		_ = qt.Close()
		_ = udpConn.Close()
		return nil, fmt.Errorf("failed to set up QUIC listener: %w", err)
	}

	l := &listener{
		log: log,
		h:   h,

		udpConn: udpConn,
		qt:      qt,
		ql:      ql,

		queueDepth:     t.queueDepth,
		maxPayloadSize: t.maxPayloadSize,
	}

	l.wg.Add(1)
	go l.acceptConnections(ctx)

	// The UDP socket multiplexes the accepted connections,
	// so it can only be released once those may all die:
	// when the caller's context ends.
	context.AfterFunc(ctx, l.teardown)

	return l, nil
}

// Dial establishes one QUIC connection to addr
// and hands the resulting peer to h.
func (t *Transport) Dial(
	ctx context.Context,
	log *slog.Logger,
	addr string,
	h wtransport.Handler,
) error {
	qc, err := quic.DialAddr(ctx, addr, t.tlsConf.Clone(), t.quicConf)
	if err != nil {
		return fmt.Errorf("failed to dial %q: %w", addr, err)
	}

	id := wpeer.RandomIdentity()
	ch := newChannel(
		log.With("peer", id),
		qc,
		t.queueDepth,
		t.maxPayloadSize,
	)

	if err := h.PeerConnected(id, ch); err != nil {
		_ = ch.Close()
		return fmt.Errorf("engine rejected dialed peer: %w", err)
	}

	log.Debug(
		"Established connection",
		"peer", id,
		"remote_addr", qc.RemoteAddr(),
	)
	return nil
}

type listener struct {
	log *slog.Logger
	h   wtransport.Handler

	udpConn *net.UDPConn
	qt      *quic.Transport
	ql      *quic.Listener

	queueDepth     int
	maxPayloadSize int64

	wg          sync.WaitGroup
	closeOnce   sync.Once
	releaseOnce sync.Once
}

func (l *listener) acceptConnections(ctx context.Context) {
	defer l.wg.Done()

	for {
		qc, err := l.ql.Accept(ctx)
		if err != nil {
			// Either the listener closed or the context ended;
			// both mean we are done accepting.
			l.log.Debug("Accept loop stopping", "err", err)
			return
		}

		l.admit(qc)
	}
}

// admit builds a channel around an accepted connection
// and offers the peer to the engine.
func (l *listener) admit(qc quic.Connection) {
	id := wpeer.RandomIdentity()
	ch := newChannel(
		l.log.With("peer", id),
		qc,
		l.queueDepth,
		l.maxPayloadSize,
	)

	if err := l.h.PeerConnected(id, ch); err != nil {
		l.log.Info(
			"Rejected peer connection",
			"peer", id,
			"remote_addr", qc.RemoteAddr(),
			"err", err,
		)
		_ = ch.Close()
		return
	}

	l.log.Debug(
		"Accepted peer connection",
		"peer", id,
		"remote_addr", qc.RemoteAddr(),
	)
}

func (l *listener) Addr() net.Addr {
	return l.ql.Addr()
}

// Close stops accepting connections.
// Peers already admitted keep their connections;
// the UDP socket stays held for them
// and is only released when the listener's context ends.
func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		// Closing the QUIC listener makes the accept loop return
		// without touching established connections.
		_ = l.ql.Close()
	})

	l.wg.Wait()
	return nil
}

// teardown runs when the listener's context ends:
// by then every connection on the socket is allowed to die,
// so the socket itself can be released.
func (l *listener) teardown() {
	_ = l.Close()
	l.releaseOnce.Do(func() {
		_ = l.qt.Close()
		_ = l.udpConn.Close()
	})
}

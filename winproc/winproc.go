// Package winproc provides an in-process transport:
// peers within one process exchange frames over Go channels,
// with no serialization and no network stack.
//
// Endpoint names are scoped to a [Transport] instance.
// Two sockets rendezvous by sharing the instance,
// one binding a name the other dials.
// This is the natural transport for tests
// and for wiring pipeline stages inside one process.
package winproc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wtransport"
)

// Scheme is the endpoint scheme this transport serves.
const Scheme = "inproc"

// Config configures a [Transport].
// The zero value is ready to use.
type Config struct {
	// QueueDepth is the outbound queue capacity,
	// in frames, of each peer channel.
	// Zero means [wtransport.DefaultQueueDepth].
	QueueDepth int
}

// Transport is an in-process [wtransport.Transport].
// It holds the name table its listeners register in.
type Transport struct {
	queueDepth int

	mu    sync.Mutex
	names map[string]*listener
}

// New returns a Transport with its own empty name table.
func New(cfg Config) *Transport {
	depth := cfg.QueueDepth
	if depth == 0 {
		depth = wtransport.DefaultQueueDepth
	}
	if depth < 0 {
		panic(fmt.Errorf(
			"BUG: illegal negative QueueDepth %d", cfg.QueueDepth,
		))
	}

	return &Transport{
		queueDepth: depth,
		names:      make(map[string]*listener),
	}
}

// Scheme returns [Scheme].
func (t *Transport) Scheme() string {
	return Scheme
}

// Addr is the [net.Addr] form of an in-process endpoint name.
type Addr struct {
	Name string
}

func (a Addr) Network() string {
	return "inproc"
}

func (a Addr) String() string {
	return a.Name
}

type listener struct {
	tr   *Transport
	log  *slog.Logger
	name string
	h    wtransport.Handler

	closeOnce sync.Once
}

// Listen registers name in the transport's table
// so that subsequent Dial calls for it connect.
// Listening on a name that is already taken fails.
func (t *Transport) Listen(
	ctx context.Context,
	log *slog.Logger,
	name string,
	h wtransport.Handler,
) (wtransport.Listener, error) {
	if name == "" {
		return nil, fmt.Errorf("in-process endpoint name must not be empty")
	}

	l := &listener{
		tr:   t,
		log:  log,
		name: name,
		h:    h,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.names[name]; ok {
		return nil, fmt.Errorf("in-process name %q already in use", name)
	}
	t.names[name] = l

	// Unlisten when the caller's context ends,
	// as though Close had been called.
	context.AfterFunc(ctx, func() {
		_ = l.Close()
	})

	return l, nil
}

func (l *listener) Addr() net.Addr {
	return Addr{Name: l.name}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		l.tr.mu.Lock()
		defer l.tr.mu.Unlock()

		// Only remove our own entry:
		// the name may have been re-bound after a context cancellation
		// raced with an explicit Close.
		if l.tr.names[l.name] == l {
			delete(l.tr.names, l.name)
		}
	})
	return nil
}

// Dial connects to the listener registered under name,
// handing one side of the new channel pair to the listener's handler
// and the other side to h.
//
// Unlike a network transport there is no waiting involved,
// so a missing name fails immediately rather than retrying.
func (t *Transport) Dial(
	ctx context.Context,
	log *slog.Logger,
	name string,
	h wtransport.Handler,
) error {
	if err := context.Cause(ctx); err != nil {
		return fmt.Errorf("dial %q: %w", name, err)
	}

	t.mu.Lock()
	l, ok := t.names[name]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("no in-process listener named %q", name)
	}

	listenSide, dialSide := newPair(t.queueDepth)

	// Each engine knows the remote peer by a fresh identity.
	listenPeer := wpeer.RandomIdentity()
	dialPeer := wpeer.RandomIdentity()

	if err := l.h.PeerConnected(listenPeer, listenSide); err != nil {
		_ = listenSide.Close()
		return fmt.Errorf("listener rejected in-process peer: %w", err)
	}
	if err := h.PeerConnected(dialPeer, dialSide); err != nil {
		// Tearing down the pair also retracts the listener side;
		// its engine observes a disconnect.
		_ = dialSide.Close()
		return fmt.Errorf("dialer rejected in-process peer: %w", err)
	}

	log.Debug(
		"Established in-process connection",
		"name", name,
		"listen_peer", listenPeer,
		"dial_peer", dialPeer,
	)
	return nil
}

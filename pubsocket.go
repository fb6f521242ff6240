package wyvern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wtransport"
)

// PubSocket is the publishing side of a PUB/SUB socket pair.
//
// Peers connect through the configured transports
// and steer what they receive by sending subscription control messages;
// [*PubSocket.Publish] fans each message out to every peer
// whose subscription list matches it.
// A PubSocket never delivers application data inbound:
// the only traffic it reads from peers is subscription control.
type PubSocket struct {
	log *slog.Logger

	// Lifecycle context for the socket.
	// Derived from the context given to [New];
	// cancelled by Close or by the parent.
	ctx    context.Context
	cancel context.CancelCauseFunc

	reg *registry
	mon *monitor

	monitorCapacity int

	// Configured transports, keyed by scheme. Immutable after New.
	transports map[string]wtransport.Transport

	mu sync.Mutex
	// Live listeners keyed by the endpoint string given to Bind.
	// nil once the socket has shut down.
	binds map[string]wtransport.Listener

	closeOnce sync.Once

	wg sync.WaitGroup
}

// PubConfig is the configuration for a [PubSocket].
type PubConfig struct {
	// Transports the socket can bind and connect with.
	// Endpoint schemes must be unique across the slice.
	//
	// An empty slice is legal but leaves Bind and Connect
	// with nothing to serve them.
	Transports []wtransport.Transport

	// MonitorCapacity is the buffer size of channels
	// returned by [*PubSocket.Monitor].
	// If zero, [DefaultMonitorCapacity] is used.
	MonitorCapacity int
}

// validate panics if there are any illegal settings in the configuration.
// It also warns about any suspect settings.
func (c PubConfig) validate(log *slog.Logger) {
	// If there are multiple reasons we could panic,
	// collect them all in one go
	// so we can give a maximally helpful error.
	var panicErrs error

	seen := make(map[string]bool, len(c.Transports))
	for i, tr := range c.Transports {
		if tr == nil {
			panicErrs = errors.Join(
				panicErrs,
				fmt.Errorf("PubConfig.Transports[%d] may not be nil", i),
			)
			continue
		}

		scheme := tr.Scheme()
		if seen[scheme] {
			panicErrs = errors.Join(
				panicErrs,
				fmt.Errorf("PubConfig.Transports has multiple entries for scheme %q", scheme),
			)
		}
		seen[scheme] = true
	}

	if c.MonitorCapacity < 0 {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("PubConfig.MonitorCapacity must not be negative (got %d)", c.MonitorCapacity),
		)
	}

	if len(c.Transports) == 0 {
		log.Warn("No transports configured; Bind and Connect will fail until the socket is recreated with transports")
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// New returns a new PubSocket with the given configuration.
// The ctx parameter controls the lifecycle of the socket;
// cancel the context to close it,
// and then use [*PubSocket.Wait] to block
// until all background work has completed.
//
// Configuration errors cause a panic.
func New(ctx context.Context, log *slog.Logger, cfg PubConfig) *PubSocket {
	cfg.validate(log)

	ctx, cancel := context.WithCancelCause(ctx)

	transports := make(map[string]wtransport.Transport, len(cfg.Transports))
	for _, tr := range cfg.Transports {
		transports[tr.Scheme()] = tr
	}

	capacity := cfg.MonitorCapacity
	if capacity == 0 {
		capacity = DefaultMonitorCapacity
	}

	s := &PubSocket{
		log: log,

		ctx:    ctx,
		cancel: cancel,

		reg: newRegistry(),
		mon: &monitor{},

		monitorCapacity: capacity,

		transports: transports,

		binds: make(map[string]wtransport.Listener),
	}

	s.wg.Add(1)
	go s.watchLifecycle()

	return s
}

// watchLifecycle funnels lifecycle context cancellation
// into the same shutdown path Close uses.
func (s *PubSocket) watchLifecycle() {
	defer s.wg.Done()

	<-s.ctx.Done()
	s.shutdown(context.Cause(s.ctx))
}

// shutdown runs the socket's one-time teardown:
// stop the listeners, clear the registry, close the monitor.
func (s *PubSocket) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.log.Info("Socket shutting down", "cause", cause)

		s.cancel(cause)

		s.mu.Lock()
		binds := s.binds
		s.binds = nil
		s.mu.Unlock()

		for ep, l := range binds {
			if err := l.Close(); err != nil {
				s.log.Warn(
					"Failed to close listener",
					"endpoint", ep,
					"err", err,
				)
			}
		}

		// Individual disconnect events are not reported here;
		// the monitor channel closing is the consumer's signal.
		for _, sub := range s.reg.clear(cause) {
			_ = sub.ch.Close()
		}

		s.mon.Close()
	})
}

// Close shuts the socket down:
// listeners stop, every peer's receive loop is cancelled,
// every peer channel is closed, and the monitor channel closes.
// It is safe to call more than once.
//
// Close returns without waiting for background work to finish;
// use [*PubSocket.Wait] for that.
func (s *PubSocket) Close() error {
	s.shutdown(ErrSocketClosed)
	return nil
}

// Wait blocks until all of the socket's background work has finished.
// It only returns after the socket has begun shutting down,
// so only call it once Close has been called
// or the lifecycle context has been cancelled.
func (s *PubSocket) Wait() {
	s.wg.Wait()
}

// PeerConnected implements [wtransport.Handler],
// admitting a peer produced by one of the socket's transports.
// Transports call this; applications normally do not.
//
// The peer starts with an empty subscription list
// and a running receive loop consuming its control messages.
// Registration fails with a [DuplicatePeerError]
// if the identity is already live,
// or [ErrSocketClosed] if the socket is shutting down.
func (s *PubSocket) PeerConnected(id wpeer.Identity, ch wtransport.Channel) error {
	peerCtx, cancel := context.WithCancelCause(s.ctx)

	sub := &subscriber{
		id:     id,
		ch:     ch,
		cancel: cancel,
	}

	if err := s.reg.insert(sub); err != nil {
		cancel(err)
		return err
	}

	s.wg.Add(1)
	go s.runReceiveLoop(peerCtx, sub)

	s.mon.Emit(SocketEvent{Kind: EventAccepted, Peer: id})
	s.log.Info("Peer connected", "peer", id)
	return nil
}

// removePeer removes sub from the registry,
// closes its channel, and reports the disconnect.
// A record that is no longer registered is left alone,
// so concurrent removers do not double-report.
func (s *PubSocket) removePeer(sub *subscriber, cause error) {
	if !s.reg.remove(sub, cause) {
		return
	}

	_ = sub.ch.Close()
	s.mon.Emit(SocketEvent{Kind: EventDisconnected, Peer: sub.id})
	s.log.Info("Peer disconnected", "peer", sub.id, "cause", cause)
}

// Monitor returns a channel of peer lifecycle events.
//
// Each call installs a fresh channel
// with the configured capacity and returns it;
// a channel returned earlier is closed.
// Events are dropped rather than delivered late
// when the channel's buffer is full.
// The current channel closes when the socket shuts down.
func (s *PubSocket) Monitor() <-chan SocketEvent {
	return s.mon.Replace(s.monitorCapacity)
}

// Bind starts listening on endpoint,
// which must carry a scheme served by a configured transport.
// It returns the listener's resolved address,
// which is how a bind to an ephemeral port
// learns the port actually assigned.
func (s *PubSocket) Bind(endpoint string) (net.Addr, error) {
	scheme, rest, err := wtransport.SplitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	tr, ok := s.transports[scheme]
	if !ok {
		return nil, UnknownSchemeError{Scheme: scheme}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.binds == nil {
		return nil, ErrSocketClosed
	}
	if _, exists := s.binds[endpoint]; exists {
		return nil, AlreadyBoundError{Endpoint: endpoint}
	}

	l, err := tr.Listen(
		s.ctx,
		s.log.With("pub_sys", "listener", "scheme", scheme),
		rest,
		s,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %q: %w", endpoint, err)
	}

	s.binds[endpoint] = l
	s.log.Info("Listening", "endpoint", endpoint, "addr", l.Addr())
	return l.Addr(), nil
}

// Unbind closes the listener that Bind started for endpoint.
// Peers already connected through it are unaffected.
func (s *PubSocket) Unbind(endpoint string) error {
	s.mu.Lock()
	if s.binds == nil {
		s.mu.Unlock()
		return ErrSocketClosed
	}
	l, ok := s.binds[endpoint]
	if !ok {
		s.mu.Unlock()
		return NotBoundError{Endpoint: endpoint}
	}
	delete(s.binds, endpoint)
	s.mu.Unlock()

	if err := l.Close(); err != nil {
		return fmt.Errorf("failed to close listener for %q: %w", endpoint, err)
	}
	return nil
}

// Connect establishes one outgoing connection to endpoint;
// the remote peer then enters the registry
// exactly as an accepted peer would.
// There is no automatic reconnect if it later drops.
//
// The ctx parameter bounds connection establishment only,
// not the life of the resulting peer.
func (s *PubSocket) Connect(ctx context.Context, endpoint string) error {
	if err := s.ctx.Err(); err != nil {
		return ErrSocketClosed
	}

	scheme, rest, err := wtransport.SplitEndpoint(endpoint)
	if err != nil {
		return err
	}

	tr, ok := s.transports[scheme]
	if !ok {
		return UnknownSchemeError{Scheme: scheme}
	}

	if err := tr.Dial(
		ctx,
		s.log.With("pub_sys", "dialer", "scheme", scheme),
		rest,
		s,
	); err != nil {
		return fmt.Errorf("failed to connect to %q: %w", endpoint, err)
	}
	return nil
}

package wyvern

import (
	"sync"

	"github.com/gordian-engine/wyvern/wpeer"
)

// DefaultMonitorCapacity is the buffer size of channels
// returned by [*PubSocket.Monitor]
// when the socket's configuration does not say otherwise.
const DefaultMonitorCapacity = 1024

// SocketEventKind enumerates the peer lifecycle changes
// a socket reports through its monitor channel.
type SocketEventKind uint8

const (
	// EventAccepted means a peer entered the socket's registry,
	// whether it dialed in or the socket dialed out.
	EventAccepted SocketEventKind = iota + 1

	// EventDisconnected means a peer left the registry:
	// it closed its connection, its connection failed,
	// or delivery found it unreachable.
	EventDisconnected
)

// String returns a short name for the kind, for logging.
func (k SocketEventKind) String() string {
	switch k {
	case EventAccepted:
		return "accepted"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SocketEvent is one peer lifecycle change.
type SocketEvent struct {
	Kind SocketEventKind
	Peer wpeer.Identity
}

// monitor owns the socket's current monitor channel, if any.
//
// Emission never blocks:
// if the channel's buffer is full the event is dropped,
// so a slow monitor consumer cannot stall the socket.
type monitor struct {
	mu     sync.Mutex
	ch     chan SocketEvent
	closed bool
}

// Replace installs a fresh channel of the given capacity
// and returns it.
// Any previous channel is closed,
// which is how an earlier consumer learns it has been superseded.
//
// After Close, Replace only returns closed channels.
func (m *monitor) Replace(capacity int) <-chan SocketEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		ch := make(chan SocketEvent)
		close(ch)
		return ch
	}

	if m.ch != nil {
		close(m.ch)
	}
	m.ch = make(chan SocketEvent, capacity)
	return m.ch
}

// Emit offers e to the current monitor channel, if one is installed.
func (m *monitor) Emit(e SocketEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ch == nil {
		return
	}

	select {
	case m.ch <- e:
		// Okay.
	default:
		// Consumer fell behind; the event is lost to it.
	}
}

// Close closes the current monitor channel, if any,
// and stops accepting further emissions and replacements.
func (m *monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.ch != nil {
		close(m.ch)
		m.ch = nil
	}
}

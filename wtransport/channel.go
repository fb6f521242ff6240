package wtransport

import (
	"errors"

	"github.com/gordian-engine/wyvern/wframe"
)

// DefaultQueueDepth is the outbound queue capacity, in frames,
// that transports give each peer channel
// when their configuration does not say otherwise.
const DefaultQueueDepth = 16

// ErrPeerUnreachable indicates the peer behind a channel is gone:
// its connection is closed, reset, or otherwise beyond delivery.
// The peer will not receive anything sent to it again.
var ErrPeerUnreachable = errors.New("peer unreachable")

// ErrQueueFull indicates a channel's outbound queue had no room
// for a frame. The peer is still connected;
// later sends may succeed once the peer drains its queue.
var ErrQueueFull = errors.New("outbound queue full")

// Channel is a bidirectional framed channel to a single peer,
// owned by a transport and operated by a socket engine.
//
// Methods on a Channel are safe for concurrent use.
type Channel interface {
	// Inbound returns the channel of frames received from the peer.
	// The transport closes it when the peer disconnects
	// or the read side fails;
	// after that, Err reports why.
	Inbound() <-chan wframe.Frame

	// Err returns the terminal read-side error,
	// or nil if the peer closed cleanly.
	// Its value is meaningful only after Inbound's channel is closed.
	Err() error

	// TrySend queues f for delivery to the peer without blocking.
	//
	// It returns an error matching [ErrPeerUnreachable]
	// if the peer is gone,
	// or [ErrQueueFull] if the outbound queue has no room.
	// A nil return means the frame was queued,
	// not that the peer received it.
	TrySend(f wframe.Frame) error

	// Close tears down both directions of the channel
	// and releases its resources.
	// It is safe to call more than once.
	Close() error
}

// Package wyverntest provides test fixtures for driving sockets
// and transports from the outside,
// in the role a remote subscriber would play.
package wyverntest

import (
	"fmt"

	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wtransport"
)

// AcceptedPeer is one peer a [CapturingHandler] received.
type AcceptedPeer struct {
	ID      wpeer.Identity
	Channel wtransport.Channel
}

// CapturingHandler is a [wtransport.Handler]
// that accepts every peer and parks it on the Peers channel,
// for tests that want to drive channels by hand.
type CapturingHandler struct {
	Peers chan AcceptedPeer
}

// NewCapturingHandler returns a CapturingHandler
// whose Peers channel has room for a handful of peers.
func NewCapturingHandler() *CapturingHandler {
	return &CapturingHandler{
		Peers: make(chan AcceptedPeer, 8),
	}
}

// PeerConnected implements [wtransport.Handler].
func (h *CapturingHandler) PeerConnected(id wpeer.Identity, ch wtransport.Channel) error {
	select {
	case h.Peers <- AcceptedPeer{ID: id, Channel: ch}:
		return nil
	default:
		// PeerConnected must not block,
		// and a test that overflows the buffer is not reading peers anyway.
		return fmt.Errorf("capturing handler buffer full")
	}
}

package wyvern

import (
	"bytes"
	"errors"

	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/wtransport"
)

// Publish fans payload out to every peer
// with at least one subscription matching it.
//
// Delivery is best-effort at-most-once per peer:
// a matching peer receives exactly one copy
// no matter how many of its subscriptions match,
// a peer whose outbound queue is full is skipped for this message,
// and a peer found unreachable is removed from the socket.
// Publish never blocks on any peer.
//
// Publishing on a closed socket returns [ErrSocketClosed];
// a socket with no matching peers publishes into the void, successfully.
func (s *PubSocket) Publish(payload []byte) error {
	if err := s.ctx.Err(); err != nil {
		return ErrSocketClosed
	}

	// Transports serialize asynchronously,
	// so take one copy now and let the caller
	// have its buffer back when we return.
	payload = bytes.Clone(payload)

	// Work on a copy of the registry:
	// delivery must not hold any registry lock,
	// or a slow shard would serialize against
	// peer arrivals and subscription updates.
	subs := s.reg.snapshot()

	// Unreachable peers are collected during the scan
	// and removed only afterward,
	// keeping removal's locking out of the delivery pass.
	var dead []*subscriber

	for _, sub := range subs {
		if !sub.matches(payload) {
			continue
		}

		err := sub.ch.TrySend(wframe.NewMessage(payload))
		switch {
		case err == nil:
			// Okay.
		case errors.Is(err, wtransport.ErrQueueFull):
			// The peer is alive but not draining its queue;
			// it loses this message only.
			s.log.Debug("Dropping message for slow peer", "peer", sub.id)
		case errors.Is(err, wtransport.ErrPeerUnreachable):
			dead = append(dead, sub)
		default:
			// Unclassified failure: keep the peer,
			// removal is only for certainly-gone peers.
			s.log.Warn(
				"Unclassified delivery failure; keeping peer",
				"peer", sub.id,
				"err", err,
			)
		}
	}

	for _, sub := range dead {
		s.removePeer(sub, wtransport.ErrPeerUnreachable)
	}

	return nil
}

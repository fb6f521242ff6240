package wyvern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/wyvern/wframe"
)

var errPeerDisconnected = errors.New("peer disconnected")

// runReceiveLoop consumes sub's inbound frames,
// applying subscription control messages,
// until the peer context is cancelled or the peer disconnects.
// Every registered peer has exactly one of these goroutines.
//
// Cancellation means some other party removed the peer
// (or the socket is shutting down),
// so the cancel path exits without touching the registry;
// the disconnect path owns the peer's removal.
func (s *PubSocket) runReceiveLoop(ctx context.Context, sub *subscriber) {
	defer s.wg.Done()

	log := s.log.With("pub_sys", "recv_loop", "peer", sub.id)

	// Whether we are inside a multipart message.
	// The subscription protocol is single-part only,
	// so every frame of a multipart message is ignored.
	var inMultipart bool

	for {
		// The combined select below picks at random when both
		// cases are ready; this pre-check keeps cancellation
		// ahead of a ready frame.
		select {
		case <-ctx.Done():
			log.Debug(
				"Receive loop stopping due to context cancellation",
				"cause", context.Cause(ctx),
			)
			return
		default:
			// Okay.
		}

		select {
		case <-ctx.Done():
			log.Debug(
				"Receive loop stopping due to context cancellation",
				"cause", context.Cause(ctx),
			)
			return

		case f, ok := <-sub.ch.Inbound():
			if !ok {
				s.peerHungUp(sub)
				return
			}

			if inMultipart {
				inMultipart = f.More
				continue
			}
			if f.More {
				inMultipart = true
				continue
			}

			s.applyControl(log, sub, f)
		}
	}
}

// peerHungUp handles the end of a peer's inbound stream,
// removing the peer from the socket.
func (s *PubSocket) peerHungUp(sub *subscriber) {
	cause := errPeerDisconnected
	if err := sub.ch.Err(); err != nil {
		cause = fmt.Errorf("peer connection failed: %w", err)
	}

	s.removePeer(sub, cause)
}

// applyControl applies one single-part inbound frame from sub.
// Frames that are not well-formed control messages are ignored.
func (s *PubSocket) applyControl(log *slog.Logger, sub *subscriber, f wframe.Frame) {
	op, topic := parseControl(f)
	if op == opNone {
		return
	}

	// The frame may have raced with this peer's removal.
	// Only apply it while sub is still the registered record,
	// so that a stale frame is a benign no-op.
	if cur, ok := s.reg.get(sub.id); !ok || cur != sub {
		return
	}

	switch op {
	case opSubscribe:
		sub.subscribe(topic)
		log.Debug(
			"Peer subscribed",
			"topic", string(topic),
			"subscriptions", sub.subscriptionCount(),
		)
	case opUnsubscribe:
		sub.unsubscribe(topic)
		log.Debug(
			"Peer unsubscribed",
			"topic", string(topic),
			"subscriptions", sub.subscriptionCount(),
		)
	default:
		panic(fmt.Errorf("IMPOSSIBLE: unhandled control op %d", op))
	}
}

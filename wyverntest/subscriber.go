package wyverntest

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/wyvern"
	"github.com/gordian-engine/wyvern/internal/wtest"
	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wtransport"
)

// Subscriber drives the remote end of one subscriber channel,
// the way an external subscriber process would.
type Subscriber struct {
	t *testing.T

	id wpeer.Identity
	ch wtransport.Channel

	// Distinguishes the sentinel topics of successive syncs.
	seq int
}

// DialSubscriber connects a new subscriber channel
// through tr to the listener at addr
// and returns a driver for it.
// The channel is closed when the test finishes.
func DialSubscriber(
	t *testing.T,
	ctx context.Context,
	tr wtransport.Transport,
	addr string,
) *Subscriber {
	t.Helper()

	h := NewCapturingHandler()
	require.NoError(t, tr.Dial(ctx, wtest.NewLogger(t), addr, h))

	select {
	case p := <-h.Peers:
		t.Cleanup(func() {
			_ = p.Channel.Close()
		})
		return &Subscriber{
			t:  t,
			id: p.ID,
			ch: p.Channel,
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dialed subscriber channel")
		panic("unreachable")
	}
}

// NewSubscriber returns a driver for an already established channel,
// such as one captured by a [CapturingHandler]
// after the socket under test dialed out.
// The channel is closed when the test finishes.
func NewSubscriber(t *testing.T, id wpeer.Identity, ch wtransport.Channel) *Subscriber {
	t.Helper()

	t.Cleanup(func() {
		_ = ch.Close()
	})
	return &Subscriber{
		t:  t,
		id: id,
		ch: ch,
	}
}

// ID reports the identity assigned on this side of the channel.
func (s *Subscriber) ID() wpeer.Identity {
	return s.id
}

// Channel exposes the underlying channel,
// for tests that need to drive it directly.
func (s *Subscriber) Channel() wtransport.Channel {
	return s.ch
}

// Subscribe sends a subscribe control frame for topic.
// It does not wait for the socket to apply it; see [Subscriber.Join].
func (s *Subscriber) Subscribe(topic []byte) {
	s.t.Helper()
	require.NoError(s.t, s.ch.TrySend(wframe.Subscribe(topic)))
}

// Unsubscribe sends an unsubscribe control frame for topic.
// It does not wait for the socket to apply it; see [Subscriber.Leave].
func (s *Subscriber) Unsubscribe(topic []byte) {
	s.t.Helper()
	require.NoError(s.t, s.ch.TrySend(wframe.Unsubscribe(topic)))
}

// Join subscribes to topic on pub and waits until the subscription
// is in effect, so a following publish cannot be lost
// to subscription processing still in flight.
func (s *Subscriber) Join(pub *wyvern.PubSocket, topic []byte) {
	s.t.Helper()

	s.Subscribe(topic)
	s.syncControls(pub)
}

// Leave unsubscribes from topic on pub and waits until the removal
// is in effect.
func (s *Subscriber) Leave(pub *wyvern.PubSocket, topic []byte) {
	s.t.Helper()

	s.Unsubscribe(topic)
	s.syncControls(pub)
}

// Sync waits until every frame sent on this channel so far
// has been processed by pub.
// Besides sequencing raw control sends,
// it doubles as a drain when the channel's queue may hold
// backlogged or dropped traffic:
// it discards everything pending and returns with the channel empty.
func (s *Subscriber) Sync(pub *wyvern.PubSocket) {
	s.t.Helper()
	s.syncControls(pub)
}

// Expect receives the next frame and asserts it is a message
// carrying exactly payload.
func (s *Subscriber) Expect(payload []byte) {
	s.t.Helper()

	f := wtest.ReceiveSoon(s.t, s.ch.Inbound())
	require.Equal(s.t, wframe.KindMessage, f.Kind)
	require.False(s.t, f.More)
	require.Equal(s.t, payload, f.Payload)
}

// ExpectNone asserts no frame is currently pending.
//
// On its own this only proves delivery has not happened yet.
// To prove a publish was skipped, publish a second message
// this subscriber does receive and expect that one first:
// per-channel ordering then guarantees the skipped one
// can no longer show up.
func (s *Subscriber) ExpectNone() {
	s.t.Helper()
	wtest.NotSending(s.t, s.ch.Inbound())
}

// syncControls waits until every control frame sent so far
// has been applied by pub.
//
// It subscribes to a sentinel topic unique to this call
// and publishes probes on it until one is delivered.
// Controls are applied in the order sent,
// so the delivered probe proves all earlier controls took effect.
//
// Any other frames pending on the channel are discarded,
// so sync before publishing traffic the test wants to observe.
// The probe also reaches subscribers of the empty topic,
// since that matches everything.
func (s *Subscriber) syncControls(pub *wyvern.PubSocket) {
	s.t.Helper()

	s.seq++
	sentinel := fmt.Sprintf("\x00sync.%s.%d", s.id, s.seq)
	s.Subscribe([]byte(sentinel))
	defer s.Unsubscribe([]byte(sentinel))

	deadline := time.After(5 * time.Second)
	for round := 1; ; round++ {
		// One probe per round of silence, each round's distinct.
		// Nothing else is published while this loop runs,
		// so the newest probe is the last frame
		// the socket can have queued for us;
		// receiving it leaves the channel empty.
		probe := fmt.Appendf(nil, "%s.probe.%d", sentinel, round)
		require.NoError(s.t, pub.Publish(probe))

	await:
		for {
			select {
			case f, ok := <-s.ch.Inbound():
				if !ok {
					s.t.Fatal("channel closed while syncing controls")
				}
				if bytes.Equal(f.Payload, probe) {
					return
				}
				// A stray from earlier traffic,
				// or a previous round's probe;
				// drop it and keep waiting.
			case <-time.After(5 * time.Millisecond):
				// Silence; the subscription may not be live yet.
				break await
			case <-deadline:
				s.t.Fatal("timed out syncing controls")
			}
		}
	}
}

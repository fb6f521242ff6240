package winproc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordian-engine/wyvern/internal/wtest"
	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/winproc"
	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wtransport"
	"github.com/gordian-engine/wyvern/wyverntest"
	"github.com/stretchr/testify/require"
)

func TestTransport_roundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	tr := winproc.New(winproc.Config{})

	lh := wyverntest.NewCapturingHandler()
	l, err := tr.Listen(ctx, log, "roundtrip", lh)
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, "inproc", l.Addr().Network())
	require.Equal(t, "roundtrip", l.Addr().String())

	dh := wyverntest.NewCapturingHandler()
	require.NoError(t, tr.Dial(ctx, log, "roundtrip", dh))

	lp := wtest.ReceiveSoon(t, lh.Peers)
	dp := wtest.ReceiveSoon(t, dh.Peers)
	require.NotEqual(t, lp.ID, dp.ID)

	// Dialer to listener.
	require.NoError(t, dp.Channel.TrySend(wframe.Subscribe([]byte("topic.a"))))
	got := wtest.ReceiveSoon(t, lp.Channel.Inbound())
	require.Equal(t, wframe.Subscribe([]byte("topic.a")).Payload, got.Payload)

	// Listener to dialer.
	require.NoError(t, lp.Channel.TrySend(wframe.NewMessage([]byte("topic.a hello"))))
	got = wtest.ReceiveSoon(t, dp.Channel.Inbound())
	require.Equal(t, []byte("topic.a hello"), got.Payload)
}

func TestTransport_payloadOwnershipBroken(t *testing.T) {
	t.Parallel()

	lp, dp := dialedPair(t, "ownership")

	payload := []byte("mutable payload")
	require.NoError(t, dp.Channel.TrySend(wframe.NewMessage(payload)))

	// Clobbering the sender's buffer must not affect the delivery.
	for i := range payload {
		payload[i] = 'x'
	}

	got := wtest.ReceiveSoon(t, lp.Channel.Inbound())
	require.Equal(t, []byte("mutable payload"), got.Payload)
}

func TestTransport_dialErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)

	t.Run("unknown name", func(t *testing.T) {
		t.Parallel()

		tr := winproc.New(winproc.Config{})
		err := tr.Dial(ctx, log, "nobody-listening", wyverntest.NewCapturingHandler())
		require.Error(t, err)
	})

	t.Run("names are scoped to the instance", func(t *testing.T) {
		t.Parallel()

		tr1 := winproc.New(winproc.Config{})
		tr2 := winproc.New(winproc.Config{})

		_, err := tr1.Listen(ctx, log, "scoped", wyverntest.NewCapturingHandler())
		require.NoError(t, err)

		err = tr2.Dial(ctx, log, "scoped", wyverntest.NewCapturingHandler())
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		tr := winproc.New(winproc.Config{})
		_, err := tr.Listen(ctx, log, "cancelled-dial", wyverntest.NewCapturingHandler())
		require.NoError(t, err)

		dialCtx, dialCancel := context.WithCancel(context.Background())
		dialCancel()

		err = tr.Dial(dialCtx, log, "cancelled-dial", wyverntest.NewCapturingHandler())
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestTransport_listenErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	tr := winproc.New(winproc.Config{})

	t.Run("empty name", func(t *testing.T) {
		_, err := tr.Listen(ctx, log, "", wyverntest.NewCapturingHandler())
		require.Error(t, err)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := tr.Listen(ctx, log, "dup", wyverntest.NewCapturingHandler())
		require.NoError(t, err)

		_, err = tr.Listen(ctx, log, "dup", wyverntest.NewCapturingHandler())
		require.Error(t, err)
	})
}

func TestListener_close(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	tr := winproc.New(winproc.Config{})

	lh := wyverntest.NewCapturingHandler()
	l, err := tr.Listen(ctx, log, "closing", lh)
	require.NoError(t, err)

	// A peer established before the close survives it.
	dh := wyverntest.NewCapturingHandler()
	require.NoError(t, tr.Dial(ctx, log, "closing", dh))
	lp := wtest.ReceiveSoon(t, lh.Peers)
	dp := wtest.ReceiveSoon(t, dh.Peers)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	err = tr.Dial(ctx, log, "closing", wyverntest.NewCapturingHandler())
	require.Error(t, err)

	require.NoError(t, dp.Channel.TrySend(wframe.NewMessage([]byte("still up"))))
	got := wtest.ReceiveSoon(t, lp.Channel.Inbound())
	require.Equal(t, []byte("still up"), got.Payload)

	// The name is free for a new listener now.
	_, err = tr.Listen(ctx, log, "closing", wyverntest.NewCapturingHandler())
	require.NoError(t, err)
}

func TestListener_contextCancellation(t *testing.T) {
	t.Parallel()

	log := wtest.NewLogger(t)
	tr := winproc.New(winproc.Config{})

	listenCtx, listenCancel := context.WithCancel(context.Background())
	_, err := tr.Listen(listenCtx, log, "ctx-bound", wyverntest.NewCapturingHandler())
	require.NoError(t, err)

	listenCancel()

	// The unlisten runs asynchronously after cancellation.
	dialCtx := context.Background()
	require.Eventually(t, func() bool {
		return tr.Dial(dialCtx, log, "ctx-bound", wyverntest.NewCapturingHandler()) != nil
	}, 5*time.Second, 5*time.Millisecond)
}

func TestChannel_queueFull(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	tr := winproc.New(winproc.Config{QueueDepth: 2})

	lh := wyverntest.NewCapturingHandler()
	_, err := tr.Listen(ctx, log, "backpressure", lh)
	require.NoError(t, err)

	dh := wyverntest.NewCapturingHandler()
	require.NoError(t, tr.Dial(ctx, log, "backpressure", dh))

	lp := wtest.ReceiveSoon(t, lh.Peers)
	dp := wtest.ReceiveSoon(t, dh.Peers)

	// Nobody reads dp's inbound, so the queue fills:
	// the configured two slots, plus one frame
	// parked in the forwarder at the delivery channel.
	sendable := 0
	for i := 0; i < 4; i++ {
		err := lp.Channel.TrySend(wframe.NewMessage([]byte("fill")))
		if err == nil {
			sendable++
			continue
		}
		require.ErrorIs(t, err, wtransport.ErrQueueFull)
	}
	require.LessOrEqual(t, sendable, 3)
	require.GreaterOrEqual(t, sendable, 2)

	// Draining one frame frees a slot.
	wtest.ReceiveSoon(t, dp.Channel.Inbound())
	require.Eventually(t, func() bool {
		return lp.Channel.TrySend(wframe.NewMessage([]byte("freed"))) == nil
	}, 5*time.Second, 5*time.Millisecond)
}

func TestChannel_closeMakesPeerUnreachable(t *testing.T) {
	t.Parallel()

	lp, dp := dialedPair(t, "unreachable")

	require.NoError(t, dp.Channel.Close())
	require.NoError(t, dp.Channel.Close())

	err := lp.Channel.TrySend(wframe.NewMessage([]byte("too late")))
	require.ErrorIs(t, err, wtransport.ErrPeerUnreachable)

	wtest.ClosedSoon(t, lp.Channel.Inbound())
	require.NoError(t, lp.Channel.Err())

	err = dp.Channel.TrySend(wframe.NewMessage([]byte("own side closed")))
	require.ErrorIs(t, err, wtransport.ErrPeerUnreachable)
}

func TestDial_handlerRejection(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)

	t.Run("listener handler rejects", func(t *testing.T) {
		t.Parallel()

		tr := winproc.New(winproc.Config{})
		_, err := tr.Listen(ctx, log, "reject-listen", rejectingHandler{})
		require.NoError(t, err)

		err = tr.Dial(ctx, log, "reject-listen", wyverntest.NewCapturingHandler())
		require.Error(t, err)
	})

	t.Run("dialer handler rejects", func(t *testing.T) {
		t.Parallel()

		tr := winproc.New(winproc.Config{})
		lh := wyverntest.NewCapturingHandler()
		_, err := tr.Listen(ctx, log, "reject-dial", lh)
		require.NoError(t, err)

		err = tr.Dial(ctx, log, "reject-dial", rejectingHandler{})
		require.Error(t, err)

		// The listener's engine already owns its half;
		// the teardown must surface as a disconnect there.
		lp := wtest.ReceiveSoon(t, lh.Peers)
		wtest.ClosedSoon(t, lp.Channel.Inbound())
	})
}

type rejectingHandler struct{}

func (rejectingHandler) PeerConnected(
	_ wpeer.Identity, _ wtransport.Channel,
) error {
	return errors.New("peer not welcome here")
}

// dialedPair listens and dials on a fresh transport,
// returning the two connected peers.
func dialedPair(t *testing.T, name string) (listenSide, dialSide wyverntest.AcceptedPeer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := wtest.NewLogger(t)
	tr := winproc.New(winproc.Config{})

	lh := wyverntest.NewCapturingHandler()
	_, err := tr.Listen(ctx, log, name, lh)
	require.NoError(t, err)

	dh := wyverntest.NewCapturingHandler()
	require.NoError(t, tr.Dial(ctx, log, name, dh))

	return wtest.ReceiveSoon(t, lh.Peers), wtest.ReceiveSoon(t, dh.Peers)
}

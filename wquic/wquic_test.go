package wquic_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gordian-engine/wyvern/internal/wtest"
	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wquic"
	"github.com/gordian-engine/wyvern/wtransport"
	"github.com/gordian-engine/wyvern/wyverntest"
	"github.com/stretchr/testify/require"
)

func TestTransport_roundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	serverTLS, clientTLS := wyverntest.LoopbackTLS(t)

	lh := wyverntest.NewCapturingHandler()
	lt := wquic.New(wquic.Config{TLS: serverTLS})
	l, err := lt.Listen(ctx, log.With("side", "listen"), "127.0.0.1:0", lh)
	require.NoError(t, err)
	defer l.Close()

	dh := wyverntest.NewCapturingHandler()
	dt := wquic.New(wquic.Config{TLS: clientTLS})
	require.NoError(t, dt.Dial(ctx, log.With("side", "dial"), l.Addr().String(), dh))

	lp := wtest.ReceiveSoon(t, lh.Peers)
	dp := wtest.ReceiveSoon(t, dh.Peers)

	// Identities are assigned per side, so they only need to be set.
	require.NotEmpty(t, lp.ID)
	require.NotEmpty(t, dp.ID)

	// Subscriber-to-publisher direction.
	require.NoError(t, dp.Channel.TrySend(wframe.Subscribe([]byte("topic.a"))))
	got := wtest.ReceiveSoon(t, lp.Channel.Inbound())
	require.Equal(t, wframe.Subscribe([]byte("topic.a")), got)

	// Publisher-to-subscriber direction, multiple frames in order.
	payloads := [][]byte{
		wtest.RandomPayload(t, 2048),
		{},
		[]byte("topic.a hello"),
	}
	for _, p := range payloads {
		require.NoError(t, lp.Channel.TrySend(wframe.NewMessage(p)))
	}
	for _, p := range payloads {
		got := wtest.ReceiveSoon(t, dp.Channel.Inbound())
		require.Equal(t, wframe.KindMessage, got.Kind)
		require.False(t, got.More)
		require.Equal(t, p, got.Payload)
	}
}

func TestChannel_closeObservedAsCleanDisconnect(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	serverTLS, clientTLS := wyverntest.LoopbackTLS(t)

	lh := wyverntest.NewCapturingHandler()
	lt := wquic.New(wquic.Config{TLS: serverTLS})
	l, err := lt.Listen(ctx, log.With("side", "listen"), "127.0.0.1:0", lh)
	require.NoError(t, err)
	defer l.Close()

	dh := wyverntest.NewCapturingHandler()
	dt := wquic.New(wquic.Config{TLS: clientTLS})
	require.NoError(t, dt.Dial(ctx, log.With("side", "dial"), l.Addr().String(), dh))

	lp := wtest.ReceiveSoon(t, lh.Peers)
	dp := wtest.ReceiveSoon(t, dh.Peers)

	// Make sure the connection is fully live before closing one side,
	// so the close cannot race the handshake.
	require.NoError(t, dp.Channel.TrySend(wframe.Subscribe([]byte("x"))))
	_ = wtest.ReceiveSoon(t, lp.Channel.Inbound())

	require.NoError(t, dp.Channel.Close())

	// The closer's own channel is immediately unreachable.
	require.ErrorIs(t, dp.Channel.TrySend(wframe.NewMessage(nil)), wtransport.ErrPeerUnreachable)

	// The remote observes a clean close: inbound drains and no error is reported.
	wtest.ClosedSoon(t, lp.Channel.Inbound())
	require.NoError(t, lp.Channel.Err())
	require.ErrorIs(t, lp.Channel.TrySend(wframe.NewMessage(nil)), wtransport.ErrPeerUnreachable)
}

func TestListener_closeStopsAcceptingButKeepsPeers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	serverTLS, clientTLS := wyverntest.LoopbackTLS(t)

	lh := wyverntest.NewCapturingHandler()
	lt := wquic.New(wquic.Config{TLS: serverTLS})
	l, err := lt.Listen(ctx, log.With("side", "listen"), "127.0.0.1:0", lh)
	require.NoError(t, err)

	addr := l.Addr().String()

	dh := wyverntest.NewCapturingHandler()
	dt := wquic.New(wquic.Config{TLS: clientTLS})
	require.NoError(t, dt.Dial(ctx, log.With("side", "dial"), addr, dh))

	lp := wtest.ReceiveSoon(t, lh.Peers)
	dp := wtest.ReceiveSoon(t, dh.Peers)

	require.NoError(t, l.Close())

	// The established connection keeps working after the listener closes.
	require.NoError(t, lp.Channel.TrySend(wframe.NewMessage([]byte("still here"))))
	got := wtest.ReceiveSoon(t, dp.Channel.Inbound())
	require.Equal(t, []byte("still here"), got.Payload)

	// New connections are refused.
	err = dt.Dial(ctx, log.With("side", "dial2"), addr, wyverntest.NewCapturingHandler())
	require.Error(t, err)
}

func TestTransport_listenerRejectionClosesDialedChannel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	serverTLS, clientTLS := wyverntest.LoopbackTLS(t)

	lt := wquic.New(wquic.Config{TLS: serverTLS})
	l, err := lt.Listen(ctx, log.With("side", "listen"), "127.0.0.1:0", rejectAllHandler{})
	require.NoError(t, err)
	defer l.Close()

	dh := wyverntest.NewCapturingHandler()
	dt := wquic.New(wquic.Config{TLS: clientTLS})
	require.NoError(t, dt.Dial(ctx, log.With("side", "dial"), l.Addr().String(), dh))

	// The dial side accepted the channel,
	// but the listener side rejected its half and closed the connection,
	// which the dial side observes as a clean disconnect.
	dp := wtest.ReceiveSoon(t, dh.Peers)
	wtest.ClosedSoon(t, dp.Channel.Inbound())
	require.NoError(t, dp.Channel.Err())
}

func TestTransport_dialHandlerRejectionFailsDial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := wtest.NewLogger(t)
	serverTLS, clientTLS := wyverntest.LoopbackTLS(t)

	lh := wyverntest.NewCapturingHandler()
	lt := wquic.New(wquic.Config{TLS: serverTLS})
	l, err := lt.Listen(ctx, log.With("side", "listen"), "127.0.0.1:0", lh)
	require.NoError(t, err)
	defer l.Close()

	dt := wquic.New(wquic.Config{TLS: clientTLS})
	err = dt.Dial(ctx, log.With("side", "dial"), l.Addr().String(), rejectAllHandler{})
	require.Error(t, err)
}

type rejectAllHandler struct{}

func (rejectAllHandler) PeerConnected(_ wpeer.Identity, _ wtransport.Channel) error {
	return errors.New("peer not welcome here")
}

package wyvern

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/wyvern/internal/wtest"
	"github.com/gordian-engine/wyvern/wpeer"
)

func TestMonitor_emitBeforeReplaceIsDropped(t *testing.T) {
	t.Parallel()

	var m monitor

	// No channel installed yet; nothing to deliver to.
	m.Emit(SocketEvent{Kind: EventAccepted, Peer: "p1"})

	ch := m.Replace(4)
	wtest.NotSending(t, ch)
}

func TestMonitor_replaceClosesPrevious(t *testing.T) {
	t.Parallel()

	var m monitor

	ch1 := m.Replace(4)
	ch2 := m.Replace(4)

	wtest.ClosedSoon(t, ch1)

	m.Emit(SocketEvent{Kind: EventAccepted, Peer: "p1"})
	ev := wtest.IsSending(t, ch2)
	require.Equal(t, SocketEvent{Kind: EventAccepted, Peer: "p1"}, ev)
}

func TestMonitor_dropsWhenFull(t *testing.T) {
	t.Parallel()

	var m monitor

	ch := m.Replace(1)

	m.Emit(SocketEvent{Kind: EventAccepted, Peer: "p1"})

	// Nobody is reading, so this one does not fit and is dropped
	// rather than blocking the emitter.
	m.Emit(SocketEvent{Kind: EventAccepted, Peer: "p2"})

	ev := wtest.IsSending(t, ch)
	require.Equal(t, wpeer.Identity("p1"), ev.Peer)
	wtest.NotSending(t, ch)
}

func TestMonitor_closeEndsCurrentChannel(t *testing.T) {
	t.Parallel()

	var m monitor

	ch := m.Replace(4)
	m.Close()

	wtest.ClosedSoon(t, ch)

	// Emitting after close must not panic.
	m.Emit(SocketEvent{Kind: EventDisconnected, Peer: "p1"})

	// A closed monitor does not come back:
	// a consumer asking now gets a channel that is already closed.
	late := m.Replace(4)
	wtest.ClosedSoon(t, late)
}

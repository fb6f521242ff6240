package wquic

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/wtransport"
	"github.com/quic-go/quic-go"
)

// channel is a [wtransport.Channel] over one QUIC connection.
//
// Outbound frames go through a buffered queue
// drained by a single writer goroutine,
// so TrySend never blocks on the network.
// Inbound frames are decoded by a reader goroutine
// from the one unidirectional stream the peer opens.
type channel struct {
	log *slog.Logger
	qc  quic.Connection

	maxPayloadSize int64

	queue   chan wframe.Frame
	inbound chan wframe.Frame

	// Closed once the channel is dead in either direction;
	// TrySend reports the peer unreachable afterward.
	done     chan struct{}
	deadOnce sync.Once

	connCloseOnce sync.Once

	// Terminal read-side error.
	// Written by the read loop only,
	// before it closes inbound.
	readErr error
}

var _ wtransport.Channel = (*channel)(nil)

func newChannel(
	log *slog.Logger,
	qc quic.Connection,
	queueDepth int,
	maxPayloadSize int64,
) *channel {
	c := &channel{
		log: log,
		qc:  qc,

		maxPayloadSize: maxPayloadSize,

		queue:   make(chan wframe.Frame, queueDepth),
		inbound: make(chan wframe.Frame),

		done: make(chan struct{}),
	}

	go c.readLoop()
	go c.writeLoop()

	return c
}

func (c *channel) Inbound() <-chan wframe.Frame {
	return c.inbound
}

func (c *channel) Err() error {
	return c.readErr
}

func (c *channel) TrySend(f wframe.Frame) error {
	select {
	case <-c.done:
		return wtransport.ErrPeerUnreachable
	default:
		// Okay.
	}

	select {
	case c.queue <- f:
		return nil
	case <-c.done:
		return wtransport.ErrPeerUnreachable
	default:
		return wtransport.ErrQueueFull
	}
}

func (c *channel) Close() error {
	c.markDead()
	c.connCloseOnce.Do(func() {
		_ = c.qc.CloseWithError(0, "channel closed")
	})
	return nil
}

// markDead flags the channel as unable to deliver,
// without necessarily closing the connection.
func (c *channel) markDead() {
	c.deadOnce.Do(func() {
		close(c.done)
	})
}

// readLoop decodes the peer's frames onto the inbound channel
// until the stream or connection ends.
func (c *channel) readLoop() {
	defer close(c.inbound)

	// The connection context ends with the connection,
	// which keeps this accept from outliving the peer.
	rs, err := c.qc.AcceptUniStream(c.qc.Context())
	if err != nil {
		c.readErr = c.classifyReadErr(
			fmt.Errorf("failed to accept peer stream: %w", err),
		)
		c.markDead()
		return
	}

	r := wframe.NewReader(rs, c.maxPayloadSize)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			c.readErr = c.classifyReadErr(err)
			c.markDead()
			return
		}

		select {
		case c.inbound <- f:
			// Okay.
		case <-c.done:
			return
		}
	}
}

// classifyReadErr maps clean end-of-stream conditions to nil,
// so that [channel.Err] only reports genuine failures.
func (c *channel) classifyReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		// The peer finished its stream.
		return nil
	}

	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		// The peer (or our own Close) shut the connection down
		// with the uncontroversial error code.
		return nil
	}

	return err
}

// writeLoop opens this side's frame stream
// and drains the outbound queue onto it.
func (c *channel) writeLoop() {
	ws, err := c.qc.OpenUniStreamSync(c.qc.Context())
	if err != nil {
		c.log.Debug("Failed to open outbound stream", "err", err)
		c.markDead()
		return
	}

	w := wframe.NewWriter(ws)
	for {
		select {
		case <-c.done:
			// Finish the stream so the peer sees a clean end.
			_ = ws.Close()
			return

		case f := <-c.queue:
			if err := w.WriteFrame(f); err != nil {
				c.log.Debug("Write to peer failed", "err", err)
				c.markDead()
				return
			}
		}
	}
}

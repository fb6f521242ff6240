package wws

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/wtransport"
)

// closeGracePeriod bounds the write of the close handshake message.
const closeGracePeriod = time.Second

// channel adapts one WebSocket connection to [wtransport.Channel],
// carrying one frame per binary message.
type channel struct {
	log *slog.Logger

	conn *websocket.Conn

	queue   chan wframe.Frame
	inbound chan wframe.Frame

	done      chan struct{}
	closeOnce sync.Once

	// Set before inbound closes, never after.
	readErr error
}

var _ wtransport.Channel = (*channel)(nil)

func newChannel(
	log *slog.Logger,
	conn *websocket.Conn,
	queueDepth int,
	maxPayloadSize int64,
) *channel {
	c := &channel{
		log: log,

		conn: conn,

		queue:   make(chan wframe.Frame, queueDepth),
		inbound: make(chan wframe.Frame),

		done: make(chan struct{}),
	}

	// The limit covers the flags byte ahead of the payload.
	conn.SetReadLimit(maxPayloadSize + 1)

	go c.readLoop()
	go c.writeLoop()

	return c
}

// Inbound implements [wtransport.Channel].
func (c *channel) Inbound() <-chan wframe.Frame {
	return c.inbound
}

// Err implements [wtransport.Channel].
func (c *channel) Err() error {
	return c.readErr
}

// TrySend implements [wtransport.Channel].
func (c *channel) TrySend(f wframe.Frame) error {
	select {
	case <-c.done:
		return wtransport.ErrPeerUnreachable
	default:
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

// Close implements [wtransport.Channel].
func (c *channel) Close() error {
	c.teardown()
	return nil
}

// teardown marks the channel dead and closes the connection,
// attempting the close handshake first.
func (c *channel) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)

		// Best effort; the connection may already be broken.
		// WriteControl is documented safe for concurrent use,
		// so this does not conflict with the write loop.
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		_ = c.conn.Close()
	})
}

func (c *channel) readLoop() {
	defer close(c.inbound)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Locally closed; the read error is just fallout.
			default:
				c.readErr = classifyReadErr(err)
			}
			c.teardown()
			return
		}

		if msgType != websocket.BinaryMessage {
			// Control messages are consumed inside ReadMessage,
			// so anything non-binary here is outside the protocol.
			c.log.Debug(
				"Ignoring non-binary message",
				"type", msgType,
			)
			continue
		}

		f, err := wframe.ParseWire(data)
		if err != nil {
			c.readErr = fmt.Errorf("invalid frame from peer: %w", err)
			c.teardown()
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

func (c *channel) writeLoop() {
	// Reused wire buffer; WriteMessage finishes with it before returning.
	var buf []byte

	for {
		select {
		case <-c.done:
			return
		case f := <-c.queue:
			wire, err := wframe.AppendWire(buf[:0], f)
			if err == nil {
				err = c.conn.WriteMessage(websocket.BinaryMessage, wire)
			}
			if err != nil {
				c.log.Debug(
					"Write to peer failed",
					"err", err,
				)
				c.teardown()
				return
			}
			buf = wire
		}
	}
}

// classifyReadErr separates expected close conditions
// from real failures.
func classifyReadErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

package winproc

import (
	"bytes"
	"sync"

	"github.com/gordian-engine/wyvern/wframe"
	"github.com/gordian-engine/wyvern/wtransport"
)

// pair is the shared state of two cross-wired channel halves.
type pair struct {
	// Closed by whichever half closes first;
	// both halves then count as unreachable.
	done      chan struct{}
	closeOnce sync.Once
}

// half is one side of an in-process channel pair.
type half struct {
	p *pair

	// Queue this half writes; the other half's forwarder drains it.
	out chan wframe.Frame

	// Delivery channel this half reads.
	// Our forwarder feeds it from the other half's queue
	// and closes it when the pair is done.
	in chan wframe.Frame
}

var _ wtransport.Channel = (*half)(nil)

func newPair(queueDepth int) (a, b *half) {
	p := &pair{done: make(chan struct{})}

	aOut := make(chan wframe.Frame, queueDepth)
	bOut := make(chan wframe.Frame, queueDepth)

	a = &half{p: p, out: aOut, in: make(chan wframe.Frame)}
	b = &half{p: p, out: bOut, in: make(chan wframe.Frame)}

	go forward(p.done, bOut, a.in)
	go forward(p.done, aOut, b.in)

	return a, b
}

// forward moves frames from one half's queue
// to the other half's delivery channel
// until the pair is done.
func forward(done <-chan struct{}, from <-chan wframe.Frame, to chan<- wframe.Frame) {
	defer close(to)

	for {
		select {
		case <-done:
			return
		case f := <-from:
			select {
			case <-done:
				// Frames still in flight at teardown are dropped,
				// same as any disconnecting transport.
				return
			case to <- f:
				// Okay.
			}
		}
	}
}

func (h *half) Inbound() <-chan wframe.Frame {
	return h.in
}

// Err returns nil:
// an in-process pair can only end by one side closing,
// which is a clean disconnect.
func (h *half) Err() error {
	return nil
}

func (h *half) TrySend(f wframe.Frame) error {
	select {
	case <-h.p.done:
		return wtransport.ErrPeerUnreachable
	default:
		// Okay.
	}

	// Break payload ownership at the boundary,
	// like any serializing transport would:
	// the receiver must be free to retain the slice
	// while the sender reuses its buffer.
	f.Payload = bytes.Clone(f.Payload)

	select {
	case h.out <- f:
		return nil
	case <-h.p.done:
		return wtransport.ErrPeerUnreachable
	default:
		return wtransport.ErrQueueFull
	}
}

func (h *half) Close() error {
	h.p.closeOnce.Do(func() {
		close(h.p.done)
	})
	return nil
}

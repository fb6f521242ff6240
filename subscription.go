package wyvern

import (
	"github.com/gordian-engine/wyvern/wframe"
)

// controlOp is the operation a peer's inbound frame requests.
type controlOp uint8

const (
	// opNone covers every frame the engine ignores:
	// command frames, parts of multipart messages,
	// empty payloads, and unknown leading tag bytes.
	opNone controlOp = iota

	opSubscribe
	opUnsubscribe
)

// parseControl interprets one single-part inbound frame
// under the subscription control protocol:
// the first payload byte selects the operation
// and the remainder is the topic.
//
// The returned topic aliases f.Payload.
func parseControl(f wframe.Frame) (op controlOp, topic []byte) {
	if f.Kind != wframe.KindMessage {
		return opNone, nil
	}
	if len(f.Payload) == 0 {
		return opNone, nil
	}

	switch f.Payload[0] {
	case wframe.SubscribeTag:
		return opSubscribe, f.Payload[1:]
	case wframe.UnsubscribeTag:
		return opUnsubscribe, f.Payload[1:]
	default:
		return opNone, nil
	}
}

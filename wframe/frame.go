package wframe

// Kind distinguishes data-plane frames from transport commands.
type Kind uint8

const (
	// KindMessage frames carry application payloads,
	// including the subscription control messages
	// that subscribers send back to a publisher.
	KindMessage Kind = iota

	// KindCommand frames are reserved for transport-level commands.
	// Socket engines never see them;
	// a transport that has no commands of its own never produces them.
	KindCommand
)

// String returns a short name for the kind, for logging.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Frame is a single unit of traffic between two sockets.
//
// The Payload field is aliased, not copied,
// by the constructors and by [AppendWire];
// callers must not modify a payload
// after handing the frame to a transport.
type Frame struct {
	// Kind distinguishes messages from transport commands.
	Kind Kind

	// More indicates that at least one more frame
	// belongs to the same logical message.
	// Only message frames may set it.
	More bool

	// Payload is the frame body. It may be empty.
	Payload []byte
}

// Leading payload byte of a subscription control message.
// A subscriber sends these to a publisher;
// the publisher inspects only the first byte
// and treats the remainder of the payload as the topic.
const (
	// UnsubscribeTag removes one matching topic subscription.
	UnsubscribeTag byte = 0

	// SubscribeTag appends a topic subscription.
	SubscribeTag byte = 1
)

// NewMessage returns a message frame carrying payload.
func NewMessage(payload []byte) Frame {
	return Frame{Kind: KindMessage, Payload: payload}
}

// Subscribe returns the control frame that subscribes to topic.
// An empty topic subscribes to every message.
func Subscribe(topic []byte) Frame {
	return controlFrame(SubscribeTag, topic)
}

// Unsubscribe returns the control frame that unsubscribes from topic.
func Unsubscribe(topic []byte) Frame {
	return controlFrame(UnsubscribeTag, topic)
}

func controlFrame(tag byte, topic []byte) Frame {
	payload := make([]byte, 1+len(topic))
	payload[0] = tag
	copy(payload[1:], topic)
	return Frame{Kind: KindMessage, Payload: payload}
}

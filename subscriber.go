package wyvern

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/gordian-engine/wyvern/wpeer"
	"github.com/gordian-engine/wyvern/wtransport"
)

// subscriber is the registry's record of one connected peer:
// its transport channel, its topic subscriptions,
// and the cancel handle for its receive loop.
type subscriber struct {
	id wpeer.Identity
	ch wtransport.Channel

	// cancel stops the peer's receive loop.
	// The registry invokes it during shard-locked removal,
	// so the loop observes cancellation no later than
	// the registry observes the peer's absence.
	cancel context.CancelCauseFunc

	mu sync.Mutex

	// subs is the peer's subscription list:
	// ordered, and a multiset,
	// because subscribing twice to one topic is legal
	// and each entry must be unsubscribed separately.
	subs [][]byte
}

// subscribe appends topic to the subscription list.
// An empty topic is legal; it matches every payload.
func (s *subscriber) subscribe(topic []byte) {
	// The caller's slice aliases a transport read buffer;
	// the list entry needs its own copy.
	topic = bytes.Clone(topic)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, topic)
}

// unsubscribe removes the first list entry equal to topic, if any.
// Requesting a topic that is not subscribed is a no-op.
func (s *subscriber) unsubscribe(topic []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if bytes.Equal(sub, topic) {
			s.subs = slices.Delete(s.subs, i, i+1)
			return
		}
	}
}

// matches reports whether any subscription is a prefix of payload.
// An empty-topic subscription matches every payload.
func (s *subscriber) matches(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if bytes.HasPrefix(payload, sub) {
			return true
		}
	}
	return false
}

// subscriptionCount returns the current number of list entries.
func (s *subscriber) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

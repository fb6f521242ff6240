// Package wtest contains small helpers shared by tests across the module.
package wtest

import (
	"testing"
	"time"
)

// soon bounds how long the *Soon helpers wait
// before declaring a channel stuck.
// Generous compared to any in-process operation under test,
// so hitting it means a real bug rather than a slow machine.
const soon = 5 * time.Second

// ReceiveSoon returns the next value received from ch,
// failing t if nothing arrives within a generous timeout.
//
// Note that a closed channel counts as receiving a zero value.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(soon):
		t.Fatalf("expected to receive on channel of type %T within %s", ch, soon)
		panic("unreachable")
	}
}

// SendSoon sends v on ch,
// failing t if the send does not complete within a generous timeout.
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	select {
	case ch <- v:
		// Okay.
	case <-time.After(soon):
		t.Fatalf("expected to send on channel of type %T within %s", ch, soon)
	}
}

// IsSending returns the value ch is currently sending,
// failing t if a non-blocking receive cannot complete.
func IsSending[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	default:
		t.Fatalf("expected channel of type %T to be sending", ch)
		panic("unreachable")
	}
}

// NotSending fails t if a non-blocking receive from ch completes.
// A closed channel counts as sending.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected channel to not be sending, but received %v", v)
	default:
		// Okay.
	}
}

// ClosedSoon fails t unless ch is closed,
// or becomes closed within a generous timeout.
// Receiving a value instead is a failure.
func ClosedSoon[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to be closed, but received %v", v)
		}
		// Okay.
	case <-time.After(soon):
		t.Fatalf("expected channel of type %T to be closed within %s", ch, soon)
	}
}

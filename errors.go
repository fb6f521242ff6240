package wyvern

import (
	"errors"

	"github.com/gordian-engine/wyvern/wpeer"
)

// ErrSocketClosed is returned by operations on a socket
// whose Close method has been called
// or whose lifecycle context has been cancelled.
var ErrSocketClosed = errors.New("socket closed")

// DuplicatePeerError is returned from [*PubSocket.PeerConnected]
// if the given identity is already registered on the socket.
type DuplicatePeerError struct {
	Peer wpeer.Identity
}

func (e DuplicatePeerError) Error() string {
	return "peer " + e.Peer.String() + " already registered"
}

// UnknownSchemeError is returned from endpoint operations
// if no configured transport serves the endpoint's scheme.
type UnknownSchemeError struct {
	Scheme string
}

func (e UnknownSchemeError) Error() string {
	return "no transport configured for scheme " + e.Scheme
}

// AlreadyBoundError is returned from [*PubSocket.Bind]
// if the socket already has a listener for the given endpoint.
type AlreadyBoundError struct {
	Endpoint string
}

func (e AlreadyBoundError) Error() string {
	return "already bound to " + e.Endpoint
}

// NotBoundError is returned from [*PubSocket.Unbind]
// if the socket has no listener for the given endpoint.
type NotBoundError struct {
	Endpoint string
}

func (e NotBoundError) Error() string {
	return "not bound to " + e.Endpoint
}

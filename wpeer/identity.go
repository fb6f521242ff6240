// Package wpeer contains the peer identity type shared by
// socket engines and transports.
//
// Keeping this package narrow ensures it can be imported by
// [wtransport] and by the root wyvern package without cycles.
package wpeer

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Identity is the opaque identifier a transport assigns to a peer
// when its connection is accepted or dialed.
//
// An Identity is immutable and usable as a map key.
// The transport must never assign the same Identity
// to two concurrently live peers.
type Identity string

// IdentityFromBytes returns an Identity backed by a copy of b.
func IdentityFromBytes(b []byte) Identity {
	return Identity(b)
}

// RandomIdentity returns a new random Identity.
//
// Transports call this once per accepted or dialed connection.
// The value is the raw 16 bytes of a version 4 UUID.
func RandomIdentity() Identity {
	id := uuid.New()
	return Identity(id[:])
}

// Bytes returns the identity's raw bytes.
func (id Identity) Bytes() []byte {
	return []byte(id)
}

// String returns the identity as lowercase hex, for logging.
func (id Identity) String() string {
	return hex.EncodeToString([]byte(id))
}

// Package wtransport declares the boundary between socket engines
// and the transports that carry their frames.
//
// A transport owns connection establishment, framing, and queueing;
// an engine owns peers and routing.
// The two meet at [Handler.PeerConnected],
// where the transport hands the engine a per-peer [Channel].
//
// Endpoints are strings of the form "scheme://rest",
// where the scheme selects a [Transport]
// and the rest is transport-specific,
// typically a host:port pair or a name.
package wtransport

package wtransport

import (
	"context"
	"log/slog"
	"net"

	"github.com/gordian-engine/wyvern/wpeer"
)

// Handler is implemented by socket engines
// to take ownership of peers as transports produce them.
type Handler interface {
	// PeerConnected hands the engine a newly established peer.
	// The transport guarantees id is not currently live
	// on any of its own connections;
	// uniqueness across transports is the engine's concern.
	//
	// A nil return transfers ownership of ch to the engine.
	// A non-nil return tells the transport to close and discard ch;
	// the engine must not have retained it.
	//
	// Implementations must not block:
	// the transport may be calling from its accept loop.
	PeerConnected(id wpeer.Identity, ch Channel) error
}

// Transport produces peer channels for one endpoint scheme,
// by listening, by dialing, or both.
type Transport interface {
	// Scheme returns the endpoint scheme this transport serves,
	// such as "quic" or "inproc".
	Scheme() string

	// Listen begins accepting connections on addr,
	// which is an endpoint with the scheme already stripped.
	// Every accepted peer is handed to h.
	//
	// The context bounds the listener's lifetime:
	// when it is cancelled the listener stops accepting,
	// as if Close had been called.
	Listen(ctx context.Context, log *slog.Logger, addr string, h Handler) (Listener, error)

	// Dial establishes one outgoing connection to addr
	// and hands the resulting peer to h.
	// There is no redial on failure.
	Dial(ctx context.Context, log *slog.Logger, addr string, h Handler) error
}

// Listener is the handle to one live bind.
type Listener interface {
	// Addr returns the listener's resolved address.
	// If the bind requested an ephemeral port,
	// this reports the port actually assigned.
	Addr() net.Addr

	// Close stops accepting new connections.
	// Peers already handed to the engine are unaffected.
	// It is safe to call more than once.
	Close() error
}

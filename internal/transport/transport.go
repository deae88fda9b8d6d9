// Package transport provides the secure multiplexed transport qnc
// connects over: a local endpoint, the authenticated session it
// originates, and the single stream opened on that session.
//
// Endpoints and sessions each have a driving task ([Driver]) that runs
// for the resource's whole lifetime under a [Supervisor], independently
// of the request path that created them.
package transport

import (
	"context"
	"net"
	"net/netip"
	"time"

	"qnc/internal/session"
)

// Driver is implemented by resources whose internal I/O must be pumped
// in the background.  Drive blocks until the resource is closed (nil)
// or fails (non-nil), or until ctx is done.
type Driver interface {
	Drive(ctx context.Context) error
}

// Endpoint is a local transport endpoint bound to an ephemeral address
// that can originate outbound sessions.
type Endpoint interface {
	Driver

	// Connect starts a secure connect to addr, authenticating the
	// remote against serverName.  It returns once the handshake is in
	// flight; the outcome is collected with [Connecting.Await].
	Connect(ctx context.Context, addr netip.AddrPort, serverName string) (Connecting, error)

	// LocalAddr is the bound local address.
	LocalAddr() net.Addr

	// Close releases the endpoint and every session it originated.
	Close() error
}

// Connecting is a session whose handshake is in flight.
type Connecting interface {
	Await(ctx context.Context) (Session, error)
}

// Session is an authenticated, encrypted connection.
type Session interface {
	Driver

	// OpenStream opens one bidirectional stream and returns its halves
	// in (transmit, receive) order.
	OpenStream(ctx context.Context) (session.SendHalf, session.ReceiveHalf, error)

	RemoteAddr() net.Addr

	// Drain returns once the peer has closed the session, linger has
	// elapsed or ctx is done, whichever comes first.  It gives stream
	// data already written time to be delivered before Close.
	Drain(ctx context.Context, linger time.Duration)

	// Close closes the session immediately.
	Close() error
}

// BindFunc creates an Endpoint suitable for reaching remote.
type BindFunc func(remote netip.AddrPort) (Endpoint, error)

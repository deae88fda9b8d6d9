// Package capability defines what happens over an established stream.
// A Capability operates on a Session rather than on transport types,
// which keeps it testable and decoupled from QUIC details.
package capability

import (
	"context"

	"qnc/internal/session"
)

// Summary is the outcome of a completed relay.
type Summary struct {
	BytesTransmitted int64 // stdin → stream
	BytesReceived    int64 // stream → stdout
}

// Capability handles a single stream according to a specific
// behaviour.
type Capability interface {
	// Handle runs the capability against the given session.
	// It blocks until the stream is done or the context is
	// cancelled.
	Handle(ctx context.Context, sess *session.Session) (Summary, error)
}

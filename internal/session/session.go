// Package session binds the stream opened on a transport session to the
// local I/O endpoints for the lifetime of one relay.
//
// The stream is carried as a named pair, DuplexStream{Receive, Transmit},
// so a relay cannot mix up which half feeds stdout and which half is fed
// by stdin.
package session

import (
	"io"

	"qnc/util"
)

// SendHalf is the locally-originated direction of a stream.  Close
// finishes the direction gracefully; Abort resets it.
type SendHalf interface {
	io.Writer
	io.Closer
	Abort()
}

// ReceiveHalf is the remote-originated direction of a stream.  Read
// returns io.EOF once the remote has finished sending; Abort stops
// reception.
type ReceiveHalf interface {
	io.Reader
	Abort()
}

// DuplexStream is one bidirectional stream split into its halves.
type DuplexStream struct {
	Receive  ReceiveHalf // bytes from the remote, copied to stdout
	Transmit SendHalf    // bytes to the remote, copied from stdin
}

// Abort resets both halves.
func (s DuplexStream) Abort() {
	s.Receive.Abort()
	s.Transmit.Abort()
}

// Session encapsulates the runtime context for a single relay.
type Session struct {
	Stream DuplexStream
	Stdin  io.Reader
	Stdout io.Writer
	Logger *util.Logger
}

// New creates a Session bound to the given stream and I/O pair.
func New(stream DuplexStream, stdin io.Reader, stdout io.Writer, logger *util.Logger) *Session {
	return &Session{
		Stream: stream,
		Stdin:  stdin,
		Stdout: stdout,
		Logger: logger,
	}
}

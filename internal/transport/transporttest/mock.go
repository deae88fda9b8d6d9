package transporttest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"qnc/internal/session"
	"qnc/internal/transport"
)

// SendHalf records everything written to it.
type SendHalf struct {
	Name string

	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	aborted  bool
	WriteErr error
}

func (h *SendHalf) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.WriteErr != nil {
		return 0, h.WriteErr
	}
	if h.closed || h.aborted {
		return 0, io.ErrClosedPipe
	}
	return h.buf.Write(p)
}

func (h *SendHalf) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *SendHalf) Abort() {
	h.mu.Lock()
	h.aborted = true
	h.mu.Unlock()
}

// Bytes returns a copy of what was written.
func (h *SendHalf) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.buf.Bytes()...)
}

// Closed reports whether Close was called.
func (h *SendHalf) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Aborted reports whether Abort was called.
func (h *SendHalf) Aborted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborted
}

// ReceiveHalf serves bytes from an io.Reader.  Abort unblocks a
// pending Read with io.ErrClosedPipe when the reader is an *io.PipeReader.
type ReceiveHalf struct {
	Name string
	R    io.Reader

	mu      sync.Mutex
	aborted bool
}

func (h *ReceiveHalf) Read(p []byte) (int, error) { return h.R.Read(p) }

func (h *ReceiveHalf) Abort() {
	h.mu.Lock()
	h.aborted = true
	h.mu.Unlock()
	if pr, ok := h.R.(*io.PipeReader); ok {
		pr.CloseWithError(io.ErrClosedPipe) //nolint:errcheck
	}
}

// Aborted reports whether Abort was called.
func (h *ReceiveHalf) Aborted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborted
}

// Session is a transport.Session double.
type Session struct {
	Send    *SendHalf
	Receive *ReceiveHalf
	OpenErr error

	mu      sync.Mutex
	opened  int
	closed  bool
	drained bool
	dead    chan struct{}
	once    sync.Once
}

var _ transport.Session = (*Session)(nil)

func (s *Session) OpenStream(context.Context) (session.SendHalf, session.ReceiveHalf, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	if s.OpenErr != nil {
		return nil, nil, s.OpenErr
	}
	return s.Send, s.Receive, nil
}

func (s *Session) Drive(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-s.deadCh():
	}
	return nil
}

func (s *Session) deadCh() chan struct{} {
	s.once.Do(func() { s.dead = make(chan struct{}) })
	return s.dead
}

func (s *Session) RemoteAddr() net.Addr { return &net.UDPAddr{} }

// Drain waits like a real session would; Close ends it early.
func (s *Session) Drain(ctx context.Context, linger time.Duration) {
	s.mu.Lock()
	s.drained = true
	s.mu.Unlock()
	if linger <= 0 {
		return
	}
	t := time.NewTimer(linger)
	defer t.Stop()
	select {
	case <-s.deadCh():
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.deadCh())
	}
	return nil
}

// Opened returns how many times OpenStream was called.
func (s *Session) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Drained reports whether Drain was called.
func (s *Session) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Endpoint is a transport.Endpoint double.  ConnectErr fails the
// connect phase; AwaitErr fails the handshake phase.
type Endpoint struct {
	Session    *Session
	ConnectErr error
	AwaitErr   error

	mu         sync.Mutex
	Identities []string
	Addrs      []netip.AddrPort
	closed     bool
}

var _ transport.Endpoint = (*Endpoint)(nil)

func (e *Endpoint) Connect(_ context.Context, addr netip.AddrPort, serverName string) (transport.Connecting, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Identities = append(e.Identities, serverName)
	e.Addrs = append(e.Addrs, addr)
	if e.ConnectErr != nil {
		return nil, e.ConnectErr
	}
	return connecting{e}, nil
}

type connecting struct{ e *Endpoint }

func (c connecting) Await(context.Context) (transport.Session, error) {
	if c.e.AwaitErr != nil {
		return nil, c.e.AwaitErr
	}
	if c.e.Session == nil {
		return nil, errors.New("transporttest: no session configured")
	}
	return c.e.Session, nil
}

func (e *Endpoint) Drive(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (e *Endpoint) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4zero} }

func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Bind returns a transport.BindFunc handing out e, or failing with err.
func Bind(e *Endpoint, err error) transport.BindFunc {
	return func(netip.AddrPort) (transport.Endpoint, error) {
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// NewSession returns a Session whose receive half serves r.
func NewSession(r io.Reader) *Session {
	return &Session{
		Send:    &SendHalf{Name: "transmit"},
		Receive: &ReceiveHalf{Name: "receive", R: r},
	}
}

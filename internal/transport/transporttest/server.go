package transporttest

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol the test server accepts.
const ALPN = "hq-interop"

// Exchange is what one stream handled by a Server saw.
type Exchange struct {
	Received []byte // everything the client sent before finishing
	Err      error  // read error, if the client reset the stream
}

// Behavior selects how a Server answers a stream.
type Behavior struct {
	Reply []byte

	// ReplyFirst makes the server send Reply and finish its side before
	// reading anything, wait ReadDelay, then read the client's bytes and
	// close the connection.
	ReplyFirst bool
	ReadDelay  time.Duration
}

// Server is a loopback QUIC server.  By default it answers each stream
// with a fixed reply once the client has finished sending and leaves
// closing the connection to the client.
type Server struct {
	ln        *quic.Listener
	behavior  Behavior
	Exchanges chan Exchange
}

// NewServer starts a server on 127.0.0.1 with a certificate for names.
// It returns the server and a pool trusting its certificate.
func NewServer(t testing.TB, reply []byte, names ...string) (*Server, *tls.Config) {
	t.Helper()
	return NewServerWith(t, Behavior{Reply: reply}, names...)
}

// NewServerWith is NewServer with an explicit Behavior.
func NewServerWith(t testing.TB, b Behavior, names ...string) (*Server, *tls.Config) {
	t.Helper()
	cert, pool := NewCertificate(t, names...)

	ln, err := quic.ListenAddr("127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
	}, &quic.Config{})
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{ln: ln, behavior: b, Exchanges: make(chan Exchange, 8)}
	go s.serve()
	t.Cleanup(func() { ln.Close() })

	client := &tls.Config{RootCAs: pool, NextProtos: []string{ALPN}, MinVersion: tls.VersionTLS13}
	return s, client
}

// Addr is the server's UDP address.
func (s *Server) Addr() netip.AddrPort {
	return s.ln.Addr().(*net.UDPAddr).AddrPort()
}

func (s *Server) serve() {
	ctx := context.Background()
	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			return
		}
		go func() {
			st, err := conn.AcceptStream(ctx)
			if err != nil {
				return
			}
			if s.behavior.ReplyFirst {
				s.replyFirst(st)
				conn.CloseWithError(0, "") //nolint:errcheck
				return
			}
			s.handle(st)
		}()
	}
}

// handle reads the client's bytes until it finishes, then writes the
// reply and finishes its own send side.
func (s *Server) handle(st quic.Stream) {
	var got bytes.Buffer
	_, err := io.Copy(&got, st)
	if err == nil {
		st.Write(s.behavior.Reply) //nolint:errcheck
		st.Close()                 //nolint:errcheck
	}
	s.Exchanges <- Exchange{Received: got.Bytes(), Err: err}
}

// replyFirst finishes the server's side before looking at the client's.
func (s *Server) replyFirst(st quic.Stream) {
	st.Write(s.behavior.Reply) //nolint:errcheck
	st.Close()                 //nolint:errcheck
	time.Sleep(s.behavior.ReadDelay)

	var got bytes.Buffer
	_, err := io.Copy(&got, st)
	s.Exchanges <- Exchange{Received: got.Bytes(), Err: err}
}

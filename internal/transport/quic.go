package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/logging"

	qerrors "qnc/internal/errors"
	"qnc/internal/session"
	"qnc/util"
)

// QUICOptions configures QUIC endpoints.
type QUICOptions struct {
	TLS       *tls.Config   // template from NewTLSConfig
	KeepAlive time.Duration // 0 disables keep-alives
	Logger    *util.Logger
}

func (o *QUICOptions) quicConfig() *quic.Config {
	return &quic.Config{KeepAlivePeriod: o.KeepAlive}
}

// BindQUIC creates a QUIC endpoint on an unspecified local address of
// remote's address family; the OS picks the port.
func (o *QUICOptions) BindQUIC(remote netip.AddrPort) (Endpoint, error) {
	network := "udp4"
	if remote.Addr().Is6() {
		network = "udp6"
	}
	udp, err := net.ListenUDP(network, &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	ep := &quicEndpoint{
		ipv6:   network == "udp6",
		udp:    udp,
		tr:     &quic.Transport{Conn: udp},
		opts:   o,
		logger: o.Logger,
	}
	o.Logger.Debug("bound QUIC endpoint on %s", udp.LocalAddr())
	return ep, nil
}

// ── endpoint ─────────────────────────────────────────────────────────

type quicEndpoint struct {
	ipv6   bool
	udp    *net.UDPConn
	tr     *quic.Transport
	opts   *QUICOptions
	logger *util.Logger
	closed atomic.Bool
}

func (e *quicEndpoint) LocalAddr() net.Addr { return e.udp.LocalAddr() }

func (e *quicEndpoint) Connect(ctx context.Context, addr netip.AddrPort, serverName string) (Connecting, error) {
	if e.closed.Load() {
		return nil, net.ErrClosed
	}
	if !addr.IsValid() || addr.Port() == 0 {
		return nil, fmt.Errorf("invalid remote address %s", addr)
	}
	if addr.Addr().Is6() != e.ipv6 {
		return nil, fmt.Errorf("remote %s does not match endpoint family %s", addr, e.udp.LocalAddr())
	}

	conf := e.opts.TLS.Clone()
	conf.ServerName = serverName

	c := &quicConnecting{addr: addr, done: make(chan struct{})}
	qconf := e.opts.quicConfig()
	qconf.Tracer = c.tracer
	go func() {
		defer close(c.done)
		c.conn, c.err = e.tr.Dial(ctx, net.UDPAddrFromAddrPort(addr), conf, qconf)
	}()
	return c, nil
}

// Drive drains datagrams that are not QUIC packets until the endpoint
// is closed.  QUIC packets themselves are handled by quic-go.
func (e *quicEndpoint) Drive(ctx context.Context) error {
	buf := make([]byte, 1500)
	for {
		n, from, err := e.tr.ReadNonQUICPacket(ctx, buf)
		if err != nil {
			if e.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return err
		}
		e.logger.Debug("dropped %d byte non-QUIC datagram from %s", n, from)
	}
}

func (e *quicEndpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	// the transport does not own a conn it was handed
	return errors.Join(e.tr.Close(), e.udp.Close())
}

// ── handshake ────────────────────────────────────────────────────────

type quicConnecting struct {
	addr      netip.AddrPort
	done      chan struct{}
	conn      quic.Connection
	err       error
	responded atomic.Bool // any packet arrived from the remote
}

// tracer marks the dial as answered on the first packet from the
// remote, whatever its type.
func (c *quicConnecting) tracer(context.Context, logging.Perspective, quic.ConnectionID) *logging.ConnectionTracer {
	return &logging.ConnectionTracer{
		ReceivedLongHeaderPacket: func(*logging.ExtendedHeader, logging.ByteCount, logging.ECN, []logging.Frame) {
			c.responded.Store(true)
		},
		ReceivedRetry: func(*logging.Header) { c.responded.Store(true) },
		ReceivedVersionNegotiationPacket: func(_, _ logging.ArbitraryLenConnectionID, _ []logging.Version) {
			c.responded.Store(true)
		},
	}
}

func (c *quicConnecting) Await(ctx context.Context) (Session, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, c.fail(ctx.Err())
	}
	if c.err != nil {
		return nil, c.fail(c.err)
	}
	return &quicSession{conn: c.conn}, nil
}

// fail classifies a dial failure.  A timeout is a connect failure while
// the remote has not answered at all and a handshake failure once it has.
func (c *quicConnecting) fail(err error) error {
	kind := classifyDial(err)
	if isTimeout(err) {
		kind = qerrors.ErrConnect
		if c.responded.Load() {
			kind = qerrors.ErrHandshake
		}
	}
	stage := "handshake"
	if kind == qerrors.ErrConnect {
		stage = "connect"
	}
	return qerrors.Stage(stage, kind, c.addr.String(), err)
}

func isTimeout(err error) bool {
	var (
		timeoutErr *quic.HandshakeTimeoutError
		idleErr    *quic.IdleTimeoutError
	)
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &timeoutErr) ||
		errors.As(err, &idleErr)
}

// classifyDial separates failures to reach the remote at all from
// failures of the cryptographic handshake with a reachable remote.
func classifyDial(err error) error {
	var (
		transportErr *quic.TransportError
		certErr      *tls.CertificateVerificationError
		alertErr     tls.AlertError
		hostErr      x509.HostnameError
		authErr      x509.UnknownAuthorityError
		invalidErr   x509.CertificateInvalidError
		timeoutErr   *quic.HandshakeTimeoutError
		idleErr      *quic.IdleTimeoutError
		opErr        *net.OpError
	)
	switch {
	case errors.As(err, &transportErr) && transportErr.ErrorCode.IsCryptoError(),
		errors.As(err, &certErr),
		errors.As(err, &alertErr),
		errors.As(err, &hostErr),
		errors.As(err, &authErr),
		errors.As(err, &invalidErr):
		return qerrors.ErrHandshake
	case errors.As(err, &timeoutErr),
		errors.As(err, &idleErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, net.ErrClosed):
		return qerrors.ErrConnect
	default:
		return qerrors.ErrHandshake
	}
}

// ── session ──────────────────────────────────────────────────────────

type quicSession struct {
	conn quic.Connection
}

func (s *quicSession) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *quicSession) OpenStream(ctx context.Context) (session.SendHalf, session.ReceiveHalf, error) {
	st, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &sendHalf{st: st}, &receiveHalf{st: st}, nil
}

// Drive waits for the connection to end and reports why, unless it was
// closed cleanly by either side.
func (s *quicSession) Drive(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.conn.Context().Done():
	}
	cause := context.Cause(s.conn.Context())
	var appErr *quic.ApplicationError
	if cause == nil || (errors.As(cause, &appErr) && appErr.ErrorCode == 0) {
		return nil
	}
	return cause
}

// Drain waits for the peer to close the connection, for at most
// linger.  Closing first would discard stream data the peer has not
// acknowledged yet.
func (s *quicSession) Drain(ctx context.Context, linger time.Duration) {
	if linger <= 0 {
		return
	}
	t := time.NewTimer(linger)
	defer t.Stop()
	select {
	case <-s.conn.Context().Done():
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *quicSession) Close() error { return s.conn.CloseWithError(0, "") }

// ── stream halves ────────────────────────────────────────────────────

type sendHalf struct{ st quic.Stream }

func (h *sendHalf) Write(p []byte) (int, error) { return h.st.Write(p) }
func (h *sendHalf) Close() error                { return h.st.Close() }
func (h *sendHalf) Abort()                      { h.st.CancelWrite(0) }

type receiveHalf struct{ st quic.Stream }

func (h *receiveHalf) Read(p []byte) (int, error) { return h.st.Read(p) }
func (h *receiveHalf) Abort()                     { h.st.CancelRead(0) }

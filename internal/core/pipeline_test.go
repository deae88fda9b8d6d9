package core

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qnc/internal/capability"
	qerrors "qnc/internal/errors"
	"qnc/internal/metrics"
	"qnc/internal/resolver"
	"qnc/internal/session"
	"qnc/internal/transport"
	"qnc/internal/transport/transporttest"
	"qnc/util"
)

func quietLogger() *util.Logger {
	l := util.NewLogger(3)
	l.SetOutput(io.Discard)
	return l
}

// lookupFunc adapts a function to resolver.Lookuper.
type lookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

func (f lookupFunc) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	return f(ctx, host)
}

func staticResolver(ss ...string) *resolver.Resolver {
	return &resolver.Resolver{
		Lookup: lookupFunc(func(context.Context, string) ([]netip.Addr, error) {
			out := make([]netip.Addr, len(ss))
			for i, s := range ss {
				out[i] = netip.MustParseAddr(s)
			}
			return out, nil
		}),
		Logger: quietLogger(),
	}
}

// recordingConnector records the address it was asked to connect to.
type recordingConnector struct {
	calls int
	addr  netip.AddrPort
	err   error
}

func (c *recordingConnector) Connect(_ context.Context, addr netip.AddrPort, _, _ string) (*transport.Link, error) {
	c.calls++
	c.addr = addr
	return nil, c.err
}

// recordingCapability records whether the relay was started.
type recordingCapability struct{ calls int }

func (c *recordingCapability) Handle(context.Context, *session.Session) (capability.Summary, error) {
	c.calls++
	return capability.Summary{}, nil
}

func TestPipeline_ResolvedAddress(t *testing.T) {
	conn := &recordingConnector{err: errors.New("stop here")}
	p := &Pipeline{
		Resolver:   staticResolver("192.0.2.1", "192.0.2.2"),
		Connector:  conn,
		Capability: &recordingCapability{},
		Host:       "example.com",
		Port:       4433,
		Logger:     quietLogger(),
	}

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, conn.calls)
	assert.Equal(t, "192.0.2.1:4433", conn.addr.String())
	assert.Equal(t, StateFailed, p.State())
}

func TestResolveMode_Prints(t *testing.T) {
	var out bytes.Buffer
	m := &ResolveMode{
		Resolver: staticResolver("192.0.2.1"),
		Host:     "example.com",
		Port:     4433,
		Logger:   quietLogger(),
		Stdout:   &out,
	}

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, "192.0.2.1:4433\n", out.String())
}

func TestPipeline_NoDNSRecord(t *testing.T) {
	conn := &recordingConnector{}
	m := metrics.New()
	p := &Pipeline{
		Resolver:   staticResolver(),
		Connector:  conn,
		Capability: &recordingCapability{},
		Host:       "nothing.example",
		Port:       4433,
		Logger:     quietLogger(),
		Metrics:    m,
	}

	err := p.Run(context.Background())
	require.ErrorIs(t, err, qerrors.ErrNoDNSRecord)
	assert.Zero(t, conn.calls, "no connection attempt after a failed resolution")
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, int64(1), m.ErrorCount())
	assert.Equal(t, qerrors.ErrNoDNSRecord.Error(), m.Snapshot().LastErrorKind)
}

func TestPipeline_HandshakeFailed(t *testing.T) {
	sess := transporttest.NewSession(strings.NewReader(""))
	ep := &transporttest.Endpoint{Session: sess, AwaitErr: errors.New("certificate rejected")}
	relay := &recordingCapability{}
	sup := transport.NewSupervisor(quietLogger())
	p := &Pipeline{
		Resolver: staticResolver("192.0.2.1"),
		Connector: &transport.Connector{
			Bind:       transporttest.Bind(ep, nil),
			Supervisor: sup,
			Logger:     quietLogger(),
		},
		Supervisor: sup,
		Capability: relay,
		Host:       "example.com",
		Port:       4433,
		Logger:     quietLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := p.Run(ctx)
	require.ErrorIs(t, err, qerrors.ErrHandshake)
	assert.Zero(t, sess.Opened(), "no stream may be opened")
	assert.Zero(t, relay.calls, "relay must not start")
	assert.Equal(t, StateFailed, p.State())
}

func TestPipeline_Relay(t *testing.T) {
	local := bytes.Repeat([]byte("l"), 100)
	remote := bytes.Repeat([]byte("R"), 250)
	sess := transporttest.NewSession(bytes.NewReader(remote))
	ep := &transporttest.Endpoint{Session: sess}
	sup := transport.NewSupervisor(quietLogger())

	var stdout bytes.Buffer
	p := &Pipeline{
		Resolver: staticResolver("192.0.2.1"),
		Connector: &transport.Connector{
			Bind:       transporttest.Bind(ep, nil),
			Supervisor: sup,
			Logger:     quietLogger(),
		},
		Supervisor: sup,
		Capability: &capability.Relay{},
		Host:       "example.com",
		Port:       4433,
		Logger:     quietLogger(),
		Stdin:      bytes.NewReader(local),
		Stdout:     &stdout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, capability.Summary{BytesTransmitted: 100, BytesReceived: 250}, p.Summary())
	assert.Equal(t, local, sess.Send.Bytes())
	assert.Equal(t, remote, stdout.Bytes())
	assert.Equal(t, StateDone, p.State())
	assert.True(t, sess.Drained(), "a finished relay lets the remote close first")
	assert.True(t, sess.Closed(), "session closed after the relay")
	assert.True(t, ep.Closed(), "endpoint closed after the relay")
}

// failingCapability fails the relay without touching the stream.
type failingCapability struct{ err error }

func (c failingCapability) Handle(context.Context, *session.Session) (capability.Summary, error) {
	return capability.Summary{}, c.err
}

func TestPipeline_RelayFailed_ClosesAtOnce(t *testing.T) {
	sess := transporttest.NewSession(strings.NewReader(""))
	ep := &transporttest.Endpoint{Session: sess}
	sup := transport.NewSupervisor(quietLogger())
	relayErr := &qerrors.RelayError{Direction: "receive", Err: errors.New("reset")}
	p := &Pipeline{
		Resolver: staticResolver("192.0.2.1"),
		Connector: &transport.Connector{
			Bind:       transporttest.Bind(ep, nil),
			Supervisor: sup,
			Logger:     quietLogger(),
			Linger:     time.Hour,
		},
		Supervisor: sup,
		Capability: failingCapability{relayErr},
		Host:       "example.com",
		Port:       4433,
		Logger:     quietLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.ErrorIs(t, p.Run(ctx), qerrors.ErrRelayIO)
	assert.False(t, sess.Drained())
	assert.True(t, sess.Closed())
}

func TestPipeline_QUIC(t *testing.T) {
	local := bytes.Repeat([]byte("q"), 100)
	remote := bytes.Repeat([]byte("Z"), 250)
	srv, clientTLS := transporttest.NewServer(t, remote, "localhost")

	logger := quietLogger()
	opts := &transport.QUICOptions{TLS: clientTLS, Logger: logger}
	sup := transport.NewSupervisor(logger)
	m := metrics.New()

	var stdout bytes.Buffer
	p := &Pipeline{
		Resolver: resolver.New("/nonexistent/resolv.conf", logger),
		Connector: &transport.Connector{
			Bind:       opts.BindQUIC,
			Supervisor: sup,
			Logger:     logger,
			Linger:     200 * time.Millisecond,
		},
		Supervisor: sup,
		Capability: &capability.Relay{Metrics: m},
		Host:       "127.0.0.1", // literal: no DNS needed
		Port:       srv.Addr().Port(),
		ServerName: "localhost",
		Timeout:    10 * time.Second,
		Logger:     logger,
		Metrics:    m,
		Stdin:      bytes.NewReader(local),
		Stdout:     &stdout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	assert.Equal(t, capability.Summary{BytesTransmitted: 100, BytesReceived: 250}, p.Summary())
	assert.Equal(t, remote, stdout.Bytes())
	assert.Equal(t, int64(1), m.Handshakes())

	select {
	case ex := <-srv.Exchanges:
		require.NoError(t, ex.Err)
		assert.Equal(t, local, ex.Received)
	case <-time.After(10 * time.Second):
		t.Fatal("server saw no stream")
	}
}

// TestPipeline_QUIC_RemoteFinishesFirst runs against a remote that
// sends its reply and finishes before it reads: the whole upload must
// still reach it.
func TestPipeline_QUIC_RemoteFinishesFirst(t *testing.T) {
	local := bytes.Repeat([]byte("u"), 256<<10)
	srv, clientTLS := transporttest.NewServerWith(t, transporttest.Behavior{
		Reply:      []byte("hello"),
		ReplyFirst: true,
		ReadDelay:  300 * time.Millisecond,
	}, "localhost")

	logger := quietLogger()
	opts := &transport.QUICOptions{TLS: clientTLS, Logger: logger}
	sup := transport.NewSupervisor(logger)

	var stdout bytes.Buffer
	p := &Pipeline{
		Resolver: resolver.New("/nonexistent/resolv.conf", logger),
		Connector: &transport.Connector{
			Bind:       opts.BindQUIC,
			Supervisor: sup,
			Logger:     logger,
			Linger:     10 * time.Second,
		},
		Supervisor: sup,
		Capability: &capability.Relay{},
		Host:       "127.0.0.1",
		Port:       srv.Addr().Port(),
		ServerName: "localhost",
		Logger:     logger,
		Stdin:      bytes.NewReader(local),
		Stdout:     &stdout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, capability.Summary{BytesTransmitted: int64(len(local)), BytesReceived: 5}, p.Summary())
	assert.Equal(t, "hello", stdout.String())

	select {
	case ex := <-srv.Exchanges:
		require.NoError(t, ex.Err)
		assert.Equal(t, len(local), len(ex.Received), "bytes lost after the remote finished first")
	case <-time.After(10 * time.Second):
		t.Fatal("server saw no stream")
	}
}

// TestPipeline_QUIC_UnresponsiveRemote dials a UDP port nobody answers
// on under a setup timeout.
func TestPipeline_QUIC_UnresponsiveRemote(t *testing.T) {
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	logger := quietLogger()
	opts := &transport.QUICOptions{
		TLS:    &tls.Config{NextProtos: []string{transporttest.ALPN}, MinVersion: tls.VersionTLS13},
		Logger: logger,
	}
	sup := transport.NewSupervisor(logger)
	m := metrics.New()
	relay := &recordingCapability{}
	p := &Pipeline{
		Resolver: resolver.New("/nonexistent/resolv.conf", logger),
		Connector: &transport.Connector{
			Bind:       opts.BindQUIC,
			Supervisor: sup,
			Logger:     logger,
		},
		Supervisor: sup,
		Capability: relay,
		Host:       "127.0.0.1",
		Port:       silent.LocalAddr().(*net.UDPAddr).AddrPort().Port(),
		ServerName: "localhost",
		Timeout:    500 * time.Millisecond,
		Logger:     logger,
		Metrics:    m,
	}

	err = p.Run(context.Background())
	require.ErrorIs(t, err, qerrors.ErrConnect)
	assert.NotErrorIs(t, err, qerrors.ErrHandshake)
	assert.Contains(t, err.Error(), "not established within 500ms")
	assert.Zero(t, relay.calls)
	assert.Equal(t, qerrors.ErrConnect.Error(), m.Snapshot().LastErrorKind)
}

func TestPipeline_Timeout(t *testing.T) {
	blocking := &resolver.Resolver{
		Lookup: lookupFunc(func(ctx context.Context, _ string) ([]netip.Addr, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		Logger: quietLogger(),
	}
	p := &Pipeline{
		Resolver:   blocking,
		Connector:  &recordingConnector{},
		Capability: &recordingCapability{},
		Host:       "slow.example",
		Port:       4433,
		Timeout:    50 * time.Millisecond,
		Logger:     quietLogger(),
	}

	err := p.Run(context.Background())
	require.ErrorIs(t, err, qerrors.ErrLookup)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "not established within 50ms")
}

func TestPipeline_RunsOnce(t *testing.T) {
	p := &Pipeline{
		Resolver:   staticResolver(),
		Connector:  &recordingConnector{},
		Capability: &recordingCapability{},
		Host:       "example.com",
		Port:       4433,
		Logger:     quietLogger(),
	}
	require.ErrorIs(t, p.Run(context.Background()), qerrors.ErrNoDNSRecord)
	assert.Error(t, p.Run(context.Background()))
	assert.Equal(t, StateFailed, p.State())
}

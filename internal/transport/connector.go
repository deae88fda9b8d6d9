package transport

import (
	"context"
	"errors"
	"net/netip"
	"time"

	qerrors "qnc/internal/errors"
	"qnc/internal/session"
	"qnc/util"
)

// Connector turns a resolved address into an open stream: it binds an
// endpoint, connects and authenticates a session, and opens one
// bidirectional stream on it.
type Connector struct {
	Bind       BindFunc
	Supervisor *Supervisor
	Logger     *util.Logger
	Linger     time.Duration // upper bound for Link.Drain
}

// Link is the result of a successful Connect.  Endpoint and Session
// stay open until Close; the relay only touches Stream.
type Link struct {
	Stream   session.DuplexStream
	Session  Session
	Endpoint Endpoint
	Linger   time.Duration
}

// Drain waits, at most Linger, for the remote to close the session
// after a finished relay.
func (l *Link) Drain(ctx context.Context) {
	l.Session.Drain(ctx, l.Linger)
}

// Close closes the session, then the endpoint.
func (l *Link) Close() error {
	return errors.Join(l.Session.Close(), l.Endpoint.Close())
}

// EffectiveIdentity returns the name the remote's certificate is
// validated against: override when non-empty, else hostname.
func EffectiveIdentity(hostname, override string) string {
	if override != "" {
		return override
	}
	return hostname
}

// Connect runs the connection steps strictly in order.  Any failure
// releases what was created so far and is returned with its kind.
func (c *Connector) Connect(ctx context.Context, addr netip.AddrPort, hostname, override string) (*Link, error) {
	remote := addr.String()

	ep, err := c.Bind(addr)
	if err != nil {
		return nil, qerrors.Stage("bind", qerrors.ErrEndpointBind, "", err)
	}
	c.Supervisor.Spawn("endpoint", ep)

	identity := EffectiveIdentity(hostname, override)
	log := c.Logger.With("remote", remote, "identity", identity)
	log.Verbose("connecting from %s", ep.LocalAddr())

	connecting, err := ep.Connect(ctx, addr, identity)
	if err != nil {
		ep.Close() //nolint:errcheck
		return nil, qerrors.Stage("connect", qerrors.ErrConnect, remote, err)
	}

	sess, err := connecting.Await(ctx)
	if err != nil {
		ep.Close() //nolint:errcheck
		stage := "handshake"
		var se *qerrors.StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		log.With("errClass", qerrors.Class(err)).Debug("%s did not complete: %v", stage, err)
		return nil, qerrors.Stage(stage, qerrors.ErrHandshake, remote, err)
	}
	c.Supervisor.Spawn("session", sess)

	tx, rx, err := sess.OpenStream(ctx)
	if err != nil {
		sess.Close() //nolint:errcheck
		ep.Close()   //nolint:errcheck
		return nil, qerrors.Stage("open", qerrors.ErrStreamOpen, remote, err)
	}

	log.Info("connection established")
	return &Link{
		Stream:   session.DuplexStream{Receive: rx, Transmit: tx},
		Session:  sess,
		Endpoint: ep,
		Linger:   c.Linger,
	}, nil
}

package core

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sync"
	"time"

	"qnc/internal/capability"
	qerrors "qnc/internal/errors"
	"qnc/internal/metrics"
	"qnc/internal/session"
	"qnc/internal/transport"
	"qnc/util"
)

// AddressResolver turns a hostname into one address.
type AddressResolver interface {
	Resolve(ctx context.Context, host string, port uint16) (netip.AddrPort, error)
}

// StreamConnector opens one stream to a resolved address,
// authenticating the remote as override or, if empty, hostname.
type StreamConnector interface {
	Connect(ctx context.Context, addr netip.AddrPort, hostname, override string) (*transport.Link, error)
}

// Pipeline resolves the target, connects to it and relays stdin/stdout
// over one stream, in that order.  The first failure ends the run; no
// stage is retried.
type Pipeline struct {
	Resolver   AddressResolver
	Connector  StreamConnector
	Supervisor *transport.Supervisor // started by Run; optional
	Capability capability.Capability

	Host       string
	Port       uint16
	ServerName string        // authentication identity override
	Timeout    time.Duration // bounds resolve+connect; 0 = none

	Logger  *util.Logger
	Metrics *metrics.Collector // optional

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer

	mu      sync.Mutex
	state   State
	summary capability.Summary
}

func (p *Pipeline) stdin() io.Reader {
	if p.Stdin != nil {
		return p.Stdin
	}
	return os.Stdin
}

func (p *Pipeline) stdout() io.Writer {
	if p.Stdout != nil {
		return p.Stdout
	}
	return os.Stdout
}

// State returns the current state of the run.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Summary returns the relay summary of a finished run.
func (p *Pipeline) Summary() capability.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

func (p *Pipeline) enter(to State) {
	p.mu.Lock()
	from := p.state
	if !from.CanTransition(to) {
		p.mu.Unlock()
		panic(fmt.Sprintf("core: invalid transition %s → %s", from, to))
	}
	p.state = to
	p.mu.Unlock()

	p.Metrics.EnterStage(to.String())
	p.Logger.Debug("pipeline %s → %s", from, to)
}

// Run executes the pipeline.  It returns nil only after both relay
// directions have finished.  A Pipeline runs at most once.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if s := p.State(); s != StateStart {
		return fmt.Errorf("pipeline already %s", s)
	}
	if p.Supervisor != nil {
		p.Supervisor.Start(ctx)
	}
	defer func() {
		if p.Logger.Enabled(util.LogDebug) && p.Metrics != nil {
			p.Logger.Debug("metrics: %s", p.Metrics.JSON())
		}
	}()
	defer func() {
		if err == nil {
			p.enter(StateDone)
			return
		}
		p.enter(StateFailed)
		kind := "unknown"
		if k := qerrors.KindOf(err); k != nil {
			kind = k.Error()
		}
		p.Metrics.RecordError(kind, err.Error())
		p.Logger.With("errClass", qerrors.Class(err)).Debug("pipeline failed: %v", err)
	}()

	establish, cancel := p.establishment(ctx)
	defer cancel()

	p.enter(StateResolving)
	addr, err := p.Resolver.Resolve(establish, p.Host, p.Port)
	if err != nil {
		return expired(ctx, establish, err)
	}

	p.enter(StateConnecting)
	link, err := p.Connector.Connect(establish, addr, p.Host, p.ServerName)
	if err != nil {
		return expired(ctx, establish, err)
	}
	defer func() {
		if cerr := link.Close(); cerr != nil {
			p.Logger.Debug("closing link: %v", cerr)
		}
	}()
	p.Metrics.HandshakeCompleted()

	p.enter(StateRelaying)
	sess := session.New(link.Stream, p.stdin(), p.stdout(), p.Logger)
	sum, err := p.Capability.Handle(ctx, sess)
	p.mu.Lock()
	p.summary = sum
	p.mu.Unlock()
	if err != nil {
		return err
	}
	// the transmit side is finished but not necessarily delivered
	link.Drain(ctx)
	return nil
}

// establishment returns the context bounding resolution and connection
// setup.  The relay itself is never bounded.
func (p *Pipeline) establishment(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, p.Timeout,
		fmt.Errorf("connection not established within %s", p.Timeout))
}

// expired appends the timeout cause to err when the establishment
// deadline, not the caller, ended the stage.
func expired(parent, establish context.Context, err error) error {
	if parent.Err() != nil || establish.Err() != context.DeadlineExceeded {
		return err
	}
	return fmt.Errorf("%w (%v)", err, context.Cause(establish))
}

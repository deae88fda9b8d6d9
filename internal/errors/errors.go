// Package errors provides the error kinds produced by the qnc pipeline.
//
// Every fatal failure is reported as a *StageError (or *RelayError for
// the relay stage) that wraps both a kind sentinel and the underlying
// cause, so callers can test either with [errors.Is] while the message
// stays a single human-readable line.
package errors

import (
	"errors"
	"fmt"

	"github.com/rbmk-project/common/errclass"
)

// ── Kinds ────────────────────────────────────────────────────────────

var (
	ErrNoDNSRecord         = errors.New("no DNS record found")
	ErrResolverConfig      = errors.New("resolver configuration unavailable")
	ErrLookup              = errors.New("DNS lookup failed")
	ErrEndpointBind        = errors.New("transport endpoint bind failed")
	ErrConnect             = errors.New("connect failed")
	ErrHandshake           = errors.New("handshake failed")
	ErrStreamOpen          = errors.New("stream open failed")
	ErrRelayIO             = errors.New("relay I/O failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// kinds lists every kind sentinel in the order KindOf checks them.
var kinds = []error{
	ErrNoDNSRecord,
	ErrResolverConfig,
	ErrLookup,
	ErrEndpointBind,
	ErrConnect,
	ErrHandshake,
	ErrStreamOpen,
	ErrRelayIO,
	ErrUnsupportedProtocol,
}

// ── Structured error types ───────────────────────────────────────────

// StageError is a fatal failure of one pipeline stage.
type StageError struct {
	Stage string // "resolve", "bind", "connect", "handshake", "open"
	Kind  error  // one of the Err* kinds
	Addr  string // hostname or address involved (optional)
	Err   error  // underlying cause (optional)
}

func (e *StageError) Error() string {
	s := e.Stage
	if e.Addr != "" {
		s += " " + e.Addr
	}
	s += ": " + e.Kind.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to [errors.Is].
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// RelayError is a failure of one relay direction.  The byte counts are
// those achieved by both directions when the relay gave up.
type RelayError struct {
	Direction   string // "send" (stdin → stream) or "receive" (stream → stdout)
	Transmitted int64
	Received    int64
	Err         error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s: %v after %d bytes sent, %d bytes received: %v",
		e.Direction, ErrRelayIO, e.Transmitted, e.Received, e.Err)
}

// Unwrap exposes both [ErrRelayIO] and the cause to [errors.Is].
func (e *RelayError) Unwrap() []error { return []error{ErrRelayIO, e.Err} }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Stage creates a StageError.  If err already carries a pipeline kind
// it is returned unchanged so the innermost classification wins.
func Stage(stage string, kind error, addr string, err error) error {
	if err != nil && KindOf(err) != nil {
		return err
	}
	return &StageError{Stage: stage, Kind: kind, Addr: addr, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Class returns the errclass name of the root cause of err (for
// example "ETIMEDOUT" or "ETLS_HOSTNAME_MISMATCH").  It is meant for
// diagnostics, never for control flow.
func Class(err error) string {
	var se *StageError
	if errors.As(err, &se) && se.Err != nil {
		err = se.Err
	}
	var re *RelayError
	if errors.As(err, &re) {
		err = re.Err
	}
	return errclass.New(err)
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }

// Package config defines the runtime configuration for qnc and provides
// helpers for parsing ports and protocol selectors.
package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	qerrors "qnc/internal/errors"
)

// Protocol names a transport variant selectable on the command line.
type Protocol string

const (
	// ProtocolQUIC is the QUIC transport (TLS 1.3, multiplexed streams).
	ProtocolQUIC Protocol = "quic"
)

// Protocols lists every supported protocol selector.
var Protocols = []Protocol{ProtocolQUIC}

// ParseProtocol accepts a protocol selector such as "quic".
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Protocols {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w %q (supported: %s)", qerrors.ErrUnsupportedProtocol, s, protocolList())
}

func protocolList() string {
	names := make([]string, len(Protocols))
	for i, p := range Protocols {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// Config holds every tuneable for a single qnc run.
type Config struct {
	// ── Target ───────────────────────────────────────────────────────
	Host     string   `yaml:"host"`
	Port     uint16   `yaml:"port"`
	Protocol Protocol `yaml:"protocol"`
	NoDNS    bool     `yaml:"no_dns"`

	// ── DNS ──────────────────────────────────────────────────────────
	ResolvConf  string `yaml:"resolv_conf"`
	ResolveOnly bool   `yaml:"resolve_only"`

	// ── QUIC / TLS ───────────────────────────────────────────────────
	ServerName string        `yaml:"dns_name"` // overrides Host for certificate validation
	ALPN       []string      `yaml:"alpn"`
	CAFile     string        `yaml:"ca_file"`
	Insecure   bool          `yaml:"insecure"`
	Timeout    time.Duration `yaml:"timeout"`    // bounds connection establishment only; 0 = none
	KeepAlive  time.Duration `yaml:"keep_alive"` // QUIC keep-alive period; 0 = disabled
	Linger     time.Duration `yaml:"linger"`     // wait for the remote to close after the relay; 0 = close at once

	// ── Output ───────────────────────────────────────────────────────
	Verbose int  `yaml:"verbose"`
	DryRun  bool `yaml:"-"`
}

// New returns a Config populated with defaults.  The protocol has no
// default; it must be selected explicitly.
func New() *Config {
	return &Config{
		ResolvConf: DefaultResolvConf,
		ALPN:       []string{DefaultALPN},
		Linger:     DefaultLinger,
	}
}

// Target returns the host and port to connect to.
func (c *Config) Target() (string, uint16) { return c.Host, c.Port }

// ── Port helpers ─────────────────────────────────────────────────────

// ParsePort accepts a decimal port number in 1-65535.
func ParsePort(s string) (uint16, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", port)
	}
	return uint16(port), nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Host == "" {
		return &qerrors.ConfigError{
			Field:   "hostname",
			Message: "hostname is required",
			Hint:    "usage: qnc <hostname> <port> quic",
		}
	}
	if c.Port == 0 {
		return &qerrors.ConfigError{
			Field:   "port",
			Message: "destination port is required",
			Hint:    "use a port between 1 and 65535",
		}
	}

	if c.NoDNS {
		if _, err := netip.ParseAddr(c.Host); err != nil {
			return &qerrors.ConfigError{
				Field:   "no-dns",
				Value:   c.Host,
				Message: "cannot parse host as an IP address",
				Hint:    "drop -n to resolve hostnames via DNS",
			}
		}
	}

	if c.ResolveOnly {
		return nil
	}

	if c.Protocol == "" {
		return &qerrors.ConfigError{
			Field:   "protocol",
			Message: "a protocol is required",
			Hint:    "usage: qnc <hostname> <port> <protocol>; supported: " + protocolList(),
		}
	}
	if _, err := ParseProtocol(string(c.Protocol)); err != nil {
		return &qerrors.ConfigError{Field: "protocol", Value: c.Protocol, Message: err.Error()}
	}

	if len(c.ALPN) == 0 {
		return &qerrors.ConfigError{
			Field:   "alpn",
			Message: "at least one application protocol is required",
			Hint:    "QUIC servers reject handshakes without ALPN; try --alpn " + DefaultALPN,
		}
	}
	if c.Insecure && c.CAFile != "" {
		return &qerrors.ConfigError{
			Field:   "insecure",
			Message: "--insecure and --ca-file are mutually exclusive",
		}
	}
	if c.Timeout < 0 {
		return &qerrors.ConfigError{Field: "timeout", Value: c.Timeout, Message: "must not be negative"}
	}
	if c.KeepAlive < 0 {
		return &qerrors.ConfigError{Field: "keep-alive", Value: c.KeepAlive, Message: "must not be negative"}
	}
	if c.Linger < 0 {
		return &qerrors.ConfigError{Field: "linger", Value: c.Linger, Message: "must not be negative"}
	}
	return nil
}

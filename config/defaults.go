package config

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

import "time"

const (
	// DefaultResolvConf is the system resolver configuration file.
	DefaultResolvConf = "/etc/resolv.conf"

	// DefaultALPN is offered when no --alpn flag is given.
	DefaultALPN = "hq-interop"

	// DefaultDNSPort is used when the resolver configuration omits one.
	DefaultDNSPort = "53"

	// DefaultLinger bounds how long a finished relay waits for the
	// remote to close the session.
	DefaultLinger = 2 * time.Second
)

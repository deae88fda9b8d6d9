// Package resolver turns a hostname into the single address qnc
// connects to.
//
// The first candidate in resolver order wins: there is no fallback to
// later candidates and no address-family preference beyond the order
// the backend returns.
package resolver

import (
	"context"
	"net/netip"
	"sync"

	qerrors "qnc/internal/errors"
	"qnc/util"
)

// Resolver is the address-resolution stage of the pipeline.
type Resolver struct {
	// ResolvConf is the resolv.conf path read on first use when
	// Lookup is nil.
	ResolvConf string

	// Lookup overrides the DNS backend.  Tests set this directly.
	Lookup Lookuper

	Logger *util.Logger

	once    sync.Once
	bootErr error
}

// New returns a Resolver that bootstraps its DNS backend from the
// resolv.conf file at path.
func New(path string, logger *util.Logger) *Resolver {
	return &Resolver{ResolvConf: path, Logger: logger}
}

// bootstrap builds the DNS backend from the system configuration.  It
// runs at most once; a failure is sticky.
func (r *Resolver) bootstrap() error {
	r.once.Do(func() {
		if r.Lookup != nil {
			return
		}
		conf, err := LoadSystemConfig(r.ResolvConf)
		if err != nil {
			r.bootErr = qerrors.Stage("resolve", qerrors.ErrResolverConfig, r.ResolvConf, err)
			return
		}
		backend := NewDNS(conf, r.Logger)
		r.Logger.Debug("created DNS resolver %s", backend)
		r.Lookup = backend
	})
	return r.bootErr
}

// Resolve looks up host and combines the first returned address with
// port.  IP literals are returned without a query.
func (r *Resolver) Resolve(ctx context.Context, host string, port uint16) (netip.AddrPort, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		ap := netip.AddrPortFrom(ip.Unmap(), port)
		r.Logger.Info("found address %s", ap)
		return ap, nil
	}

	if err := r.bootstrap(); err != nil {
		return netip.AddrPort{}, err
	}

	addrs, err := r.Lookup.LookupIP(ctx, host)
	if err != nil {
		return netip.AddrPort{}, qerrors.Stage("resolve", qerrors.ErrLookup, host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, qerrors.Stage("resolve", qerrors.ErrNoDNSRecord, host, nil)
	}

	ap := netip.AddrPortFrom(addrs[0], port)
	r.Logger.Info("found address %s", ap)
	if len(addrs) > 1 {
		r.Logger.Debug("ignoring %d further candidate(s) for %s", len(addrs)-1, host)
	}
	return ap, nil
}

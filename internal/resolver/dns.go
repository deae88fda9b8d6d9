package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"qnc/internal/retry"
	"qnc/util"
)

// Lookuper performs one forward lookup and returns the candidate
// addresses in resolver order.  An empty result with a nil error means
// the name exists in no usable form.
type Lookuper interface {
	LookupIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// errServer marks a response the next server should be asked about
// (SERVFAIL, REFUSED, ...).
var errServer = errors.New("server failure")

// DNS is a stub resolver speaking plain DNS to the servers in a
// SystemConfig.  Exchanges happen on the calling goroutine.
type DNS struct {
	conf   *SystemConfig
	udp    *dns.Client
	tcp    *dns.Client
	logger *util.Logger
}

// NewDNS returns a stub resolver for conf.
func NewDNS(conf *SystemConfig, logger *util.Logger) *DNS {
	return &DNS{
		conf:   conf,
		udp:    &dns.Client{Net: "udp", Timeout: conf.Timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: conf.Timeout},
		logger: logger,
	}
}

func (d *DNS) String() string { return "dns(" + d.conf.String() + ")" }

// LookupIP queries A then AAAA records for each candidate name from the
// search list and returns the answers of the first name that has any,
// IPv4 addresses first.
func (d *DNS) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	for _, name := range d.conf.NameList(host) {
		var out []netip.Addr
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			resp, err := d.exchange(ctx, name, qtype)
			if err != nil {
				return nil, err
			}
			out = append(out, answers(resp)...)
		}
		if len(out) > 0 {
			return out, nil
		}
		d.logger.Debug("no records for %s", name)
	}
	return nil, nil
}

// exchange asks each configured server in turn until one gives a
// usable answer, retrying over TCP when a UDP reply is truncated.  The
// server list is walked up to the configured number of attempts, with
// a short backoff between rounds.
func (d *DNS) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	if len(d.conf.Servers) == 0 {
		return nil, fmt.Errorf("%s %s: no nameservers configured", dns.TypeToString[qtype], name)
	}
	query := new(dns.Msg)
	query.SetQuestion(name, qtype)

	var resp *dns.Msg
	backoff := retry.ForAttempts(d.conf.attempts())
	backoff.OnRetry = func(round int, err error, wait time.Duration) {
		d.logger.Debug("round %d for %s %s failed (%v), next in %s",
			round, dns.TypeToString[qtype], name, err, wait.Round(time.Millisecond))
	}
	err := backoff.Do(ctx, func(int) error {
		var err error
		resp, err = d.round(ctx, query)
		if err != nil && ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", dns.TypeToString[qtype], name, err)
	}
	return resp, nil
}

// round sends query to each server once, stopping at the first usable
// answer.
func (d *DNS) round(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range d.conf.Servers {
		addr := net.JoinHostPort(server, d.conf.port())

		resp, _, err := d.udp.ExchangeContext(ctx, query, addr)
		if err == nil && resp.Truncated {
			d.logger.Debug("truncated reply from %s, retrying over tcp", addr)
			resp, _, err = d.tcp.ExchangeContext(ctx, query, addr)
		}
		if err == nil {
			err = checkRcode(resp)
		}
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Debug("query %s via %s: %v", query.Question[0].String(), addr, err)
		lastErr = err
	}
	return nil, lastErr
}

func checkRcode(resp *dns.Msg) error {
	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return nil
	default:
		return fmt.Errorf("%w: %s", errServer, dns.RcodeToString[resp.Rcode])
	}
}

// answers extracts A/AAAA addresses from resp in answer order.  CNAME
// records are skipped; recursive servers include the target records.
func answers(resp *dns.Msg) []netip.Addr {
	if resp.Rcode != dns.RcodeSuccess {
		return nil
	}
	var out []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out
}

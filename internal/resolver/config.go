package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"qnc/config"
)

// SystemConfig is the DNS client configuration a Resolver is built
// from.  It is normally read from resolv.conf with [LoadSystemConfig]
// but tests construct it directly.
type SystemConfig struct {
	Servers  []string      // server hosts, without port
	Port     string        // server port, "53" when empty
	Search   []string      // search domains
	Ndots    int           // names with fewer dots are tried with search domains first
	Timeout  time.Duration // per-exchange timeout; 0 means the dns.Client default
	Attempts int           // rounds over the server list; 0 means 1
}

// LoadSystemConfig reads a resolv.conf-formatted file.
func LoadSystemConfig(path string) (*SystemConfig, error) {
	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(cc.Servers) == 0 {
		return nil, fmt.Errorf("%s lists no nameservers", path)
	}
	return &SystemConfig{
		Servers:  cc.Servers,
		Port:     cc.Port,
		Search:   cc.Search,
		Ndots:    cc.Ndots,
		Timeout:  time.Duration(cc.Timeout) * time.Second,
		Attempts: cc.Attempts,
	}, nil
}

// NameList returns the fully-qualified names to try for name, in order,
// applying the search list and ndots rule.  Ndots is used as given:
// LoadSystemConfig already reports resolv.conf's default of 1.
func (c *SystemConfig) NameList(name string) []string {
	cc := &dns.ClientConfig{Search: c.Search, Ndots: c.Ndots}
	return cc.NameList(name)
}

func (c *SystemConfig) port() string {
	if c.Port == "" {
		return config.DefaultDNSPort
	}
	return c.Port
}

func (c *SystemConfig) attempts() int {
	if c.Attempts < 1 {
		return 1
	}
	return c.Attempts
}

func (c *SystemConfig) String() string {
	return fmt.Sprintf("servers=[%s] port=%s search=[%s] ndots=%d",
		strings.Join(c.Servers, " "), c.port(), strings.Join(c.Search, " "), c.Ndots)
}

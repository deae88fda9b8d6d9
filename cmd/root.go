// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"qnc/config"
	"qnc/internal/core"
	"qnc/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X qnc/cmd.version=2.0.0"
var version = "0.1.0" //nolint:gochecknoglobals

// flagValues holds raw flag values; only flags the user actually set
// are copied onto the Config.
type flagValues struct {
	serverName  string
	alpn        []string
	caFile      string
	insecure    bool
	timeoutSec  int
	keepAlive   int
	lingerSec   int
	resolvConf  string
	noDNS       bool
	resolveOnly bool
	configPath  string
	verbose     int
	dryRun      bool
	showVersion bool
	showHelp    bool
}

// Execute parses args and runs the selected qnc mode.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var fv flagValues
	fs := flag.NewFlagSet("qnc", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── QUIC / TLS ───────────────────────────────────────────────
	fs.StringVar(&fv.serverName, "dns-name", "", "Name to validate the server certificate against (default: hostname)")
	fs.StringSliceVar(&fv.alpn, "alpn", []string{config.DefaultALPN}, "Application protocols to offer (repeatable)")
	fs.StringVar(&fv.caFile, "ca-file", "", "PEM file of trusted CAs (replaces system roots)")
	fs.BoolVar(&fv.insecure, "insecure", false, "Skip server certificate validation")
	fs.IntVarP(&fv.timeoutSec, "timeout", "w", 0, "Connection setup timeout in seconds (0 = none)")
	fs.IntVar(&fv.keepAlive, "keep-alive", 0, "QUIC keep-alive period in seconds (0 = off)")
	fs.IntVar(&fv.lingerSec, "linger", int(config.DefaultLinger/time.Second), "Seconds to wait for the remote to close after sending (0 = close at once)")

	// ── DNS ──────────────────────────────────────────────────────
	fs.StringVar(&fv.resolvConf, "resolv-conf", config.DefaultResolvConf, "Resolver configuration file")
	fs.BoolVarP(&fv.noDNS, "no-dns", "n", false, "Numeric-only, no DNS resolution")
	fs.BoolVar(&fv.resolveOnly, "resolve-only", false, "Print the resolved address and exit")

	// ── general ──────────────────────────────────────────────────
	fs.StringVar(&fv.configPath, "config", "", "YAML config file")
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&fv.dryRun, "dry-run", false, "Validate the configuration and exit")
	fs.BoolVar(&fv.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&fv.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(stderr, fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fv.showHelp || len(args) == 0 {
		printUsage(stderr, fs)
		return nil
	}
	if fv.showVersion {
		fmt.Fprintf(stdout, "qnc %s\n", version)
		return nil
	}

	// ── layered configuration ────────────────────────────────────
	cfg := config.New()
	if fv.configPath != "" {
		if err := config.LoadFile(cfg, fv.configPath); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	applyFlags(cfg, fs, &fv)

	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		fmt.Fprintln(stderr, describe(cfg))
		return nil
	}

	if cfg.Insecure && !cfg.ResolveOnly {
		logger.Warn("server certificate validation is disabled (--insecure)")
	}
	if !cfg.ResolveOnly && term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Info("reading from the terminal; press Ctrl-D to finish sending")
	}
	if rm, ok := mode.(*core.ResolveMode); ok {
		rm.Stdout = stdout
	}
	return mode.Run(ctx)
}

// applyFlags copies explicitly-set flags onto cfg so they override the
// file and environment layers.
func applyFlags(cfg *config.Config, fs *flag.FlagSet, fv *flagValues) {
	if fs.Changed("dns-name") {
		cfg.ServerName = fv.serverName
	}
	if fs.Changed("alpn") {
		cfg.ALPN = fv.alpn
	}
	if fs.Changed("ca-file") {
		cfg.CAFile = fv.caFile
	}
	if fs.Changed("insecure") {
		cfg.Insecure = fv.insecure
	}
	if fs.Changed("timeout") {
		cfg.Timeout = time.Duration(fv.timeoutSec) * time.Second
	}
	if fs.Changed("keep-alive") {
		cfg.KeepAlive = time.Duration(fv.keepAlive) * time.Second
	}
	if fs.Changed("linger") {
		cfg.Linger = time.Duration(fv.lingerSec) * time.Second
	}
	if fs.Changed("resolv-conf") {
		cfg.ResolvConf = fv.resolvConf
	}
	if fs.Changed("no-dns") {
		cfg.NoDNS = fv.noDNS
	}
	if fs.Changed("resolve-only") {
		cfg.ResolveOnly = fv.resolveOnly
	}
	if fs.Changed("verbose") {
		cfg.Verbose = fv.verbose
	}
	cfg.DryRun = fv.dryRun
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional reads `hostname port protocol`.  Positionals override
// the file and environment layers; the protocol may be left out only
// when one of those layers selects it, or with --resolve-only.
func parsePositional(cfg *config.Config, remaining []string) error {
	if len(remaining) > 3 {
		return fmt.Errorf("too many arguments: %s", strings.Join(remaining[3:], " "))
	}
	if len(remaining) >= 1 {
		cfg.Host = remaining[0]
	}
	if len(remaining) >= 2 {
		port, err := config.ParsePort(remaining[1])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		cfg.Port = port
	}
	if len(remaining) == 3 {
		p, err := config.ParseProtocol(remaining[2])
		if err != nil {
			return err
		}
		cfg.Protocol = p
	}
	return nil
}

func describe(cfg *config.Config) string {
	host, port := cfg.Target()
	if cfg.ResolveOnly {
		return fmt.Sprintf("would resolve %s (port %d) using %s", host, port, cfg.ResolvConf)
	}
	identity := cfg.ServerName
	if identity == "" {
		identity = host
	}
	s := fmt.Sprintf("would connect to %s port %d over %s as %q (alpn %s)",
		host, port, cfg.Protocol, identity, strings.Join(cfg.ALPN, ","))
	if cfg.Timeout > 0 {
		s += fmt.Sprintf(", setup timeout %s", cfg.Timeout)
	}
	return s
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, `qnc – QUIC netcat v%s

Opens one bidirectional QUIC stream to a host and relays stdin/stdout
over it.

Usage:
  qnc [options] <hostname> <port> <protocol>

Protocols:
  quic    QUIC with TLS 1.3, one bidirectional stream

Options:
`, version)
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Environment:
  QNC_HOST, QNC_PORT, QNC_PROTOCOL, QNC_DNS_NAME, QNC_ALPN, QNC_CA_FILE,
  QNC_INSECURE, QNC_TIMEOUT, QNC_KEEP_ALIVE, QNC_LINGER, QNC_RESOLV_CONF,
  QNC_NO_DNS, QNC_VERBOSE

Examples:
  qnc example.com 443 quic                        Connect with ALPN hq-interop
  qnc --alpn h3 --dns-name example.com 192.0.2.1 443 quic
                                                  Dial an address, validate a name
  echo "GET /" | qnc -w 5 quic.example.net 4433 quic
                                                  Pipe data with a setup timeout
  qnc --resolve-only example.com 443              Print the address only
`)
}

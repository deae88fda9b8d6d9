package config

// loader.go - configuration loading from a YAML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ── Config file ──────────────────────────────────────────────────────

// LoadFile overlays the YAML document at path onto cfg.  Keys missing
// from the document leave the existing value untouched; unknown keys
// are rejected so typos surface early.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil // empty file
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the QNC_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  Call it before applying CLI
// flags so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("QNC_HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("QNC_PORT"); v > 0 && v <= 65535 {
		cfg.Port = uint16(v)
	}
	if v := os.Getenv("QNC_PROTOCOL"); v != "" {
		cfg.Protocol = Protocol(strings.ToLower(v))
	}
	if envBool("QNC_NO_DNS") {
		cfg.NoDNS = true
	}
	if v := os.Getenv("QNC_RESOLV_CONF"); v != "" {
		cfg.ResolvConf = v
	}

	// QUIC / TLS
	if v := os.Getenv("QNC_DNS_NAME"); v != "" {
		cfg.ServerName = v
	}
	if v := os.Getenv("QNC_ALPN"); v != "" {
		cfg.ALPN = splitList(v)
	}
	if v := os.Getenv("QNC_CA_FILE"); v != "" {
		cfg.CAFile = v
	}
	if envBool("QNC_INSECURE") {
		cfg.Insecure = true
	}
	if v := envInt("QNC_TIMEOUT"); v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v := envInt("QNC_KEEP_ALIVE"); v > 0 {
		cfg.KeepAlive = secondsDuration(v)
	}
	if v := os.Getenv("QNC_LINGER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Linger = secondsDuration(n)
		}
	}

	// Output
	if v := envInt("QNC_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

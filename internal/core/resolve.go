package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"qnc/util"
)

// ResolveMode resolves the target and prints the address without
// connecting.
type ResolveMode struct {
	Resolver AddressResolver
	Host     string
	Port     uint16
	Timeout  time.Duration
	Logger   *util.Logger

	// Stdout defaults to os.Stdout when nil.
	Stdout io.Writer
}

// Run prints the first resolved address as host:port on its own line.
func (m *ResolveMode) Run(ctx context.Context) error {
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	addr, err := m.Resolver.Resolve(ctx, m.Host, m.Port)
	if err != nil {
		return err
	}

	out := m.Stdout
	if out == nil {
		out = os.Stdout
	}
	_, err = fmt.Fprintln(out, addr)
	return err
}

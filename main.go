// qnc - a netcat-style client that relays stdin/stdout over one QUIC stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qnc/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "qnc: %v\n", err)
		os.Exit(1)
	}
}

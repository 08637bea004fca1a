// Package main provides dlx, a download-and-execute tool with a verified
// artifact cache.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/SocketDev/socket-lib-sub004/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args, env)

	stop()
	os.Exit(exitCode)
}

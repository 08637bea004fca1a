package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/SocketDev/socket-lib-sub004/pkg/dlx"
)

func (a *App) fetchCommand() *Command {
	flags := flag.NewFlagSet("fetch", flag.ContinueOnError)

	name := flags.String("name", "", "Artifact file name (default: last path segment of the url)")
	checksum := flags.String("checksum", "", "Expected hex sha256 of the artifact")
	force := flags.Bool("force", false, "Re-download even if the cache entry is fresh")

	return &Command{
		Flags: flags,
		Usage: "fetch <url> [flags]",
		Short: "Download an artifact into the cache without running it",
		Long: `Acquire the artifact at <url> into the cache and print the cached
file path on stdout. Nothing is executed, so fetch never asks for
confirmation.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errURLRequired
			}

			client, err := a.client()
			if err != nil {
				return err
			}

			res, err := client.Acquire(ctx, dlx.Request{
				URL:      args[0],
				Name:     artifactName(*name, args[0]),
				Checksum: *checksum,
				Force:    *force,
			})
			if err != nil {
				return err
			}

			// Only the path goes to stdout so scripts can capture it.
			o.Println(res.Path)

			return nil
		},
	}
}

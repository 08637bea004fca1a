package cli

import (
	"context"

	flag "github.com/spf13/pflag"
)

func (a *App) cleanCommand() *Command {
	flags := flag.NewFlagSet("clean", flag.ContinueOnError)

	all := flags.Bool("all", false, "Remove every cache entry, not just expired ones")

	return &Command{
		Flags: flags,
		Usage: "clean [flags]",
		Short: "Remove expired cache entries",
		Long: `Sweep the cache directory and remove entries whose metadata has
expired or cannot be read. With --all every entry is removed regardless of
age.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			store := a.store()

			var (
				removed int
				err     error
			)

			if *all {
				removed, err = store.Purge(ctx)
			} else {
				removed, err = store.Clean(ctx)
			}

			if err != nil {
				return err
			}

			o.Printf("removed %d entries\n", removed)

			return nil
		},
	}
}

package cli

import (
	"context"
	"strconv"

	flag "github.com/spf13/pflag"
)

func (a *App) configCommand() *Command {
	return &Command{
		Flags: flag.NewFlagSet("config", flag.ContinueOnError),
		Usage: "config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			o.Println("cache_dir=" + a.cfg.CacheDir)
			o.Println("ttl_ms=" + strconv.FormatInt(a.cfg.TTLMillis, 10))

			o.Println("")
			o.Println("# sources")

			if a.sources.Global == "" && a.sources.Project == "" {
				o.Println("(defaults only)")
			} else {
				if a.sources.Global != "" {
					o.Println("global_config=" + a.sources.Global)
				}

				if a.sources.Project != "" {
					o.Println("project_config=" + a.sources.Project)
				}
			}

			return nil
		},
	}
}

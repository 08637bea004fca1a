package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/SocketDev/socket-lib-sub004/internal/spawn"
	"github.com/SocketDev/socket-lib-sub004/pkg/dlx"
)

func (a *App) runCommand() *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	// Everything after the url belongs to the artifact, not to dlx.
	flags.SetInterspersed(false)

	name := flags.String("name", "", "Artifact file name (default: last path segment of the url)")
	checksum := flags.String("checksum", "", "Expected hex sha256 of the artifact")
	force := flags.Bool("force", false, "Re-download even if the cache entry is fresh")
	yes := flags.BoolP("yes", "y", false, "Run a newly downloaded artifact without confirmation")

	return &Command{
		Flags: flags,
		Usage: "run <url> [-- args...]",
		Short: "Download (or reuse) an artifact and execute it",
		Long: `Acquire the artifact at <url> into the cache, verify it against
--checksum if given, and execute it. Arguments after -- are passed to the
artifact. The exit code is the artifact's own.

The first time an artifact is downloaded you are asked to confirm before it
runs; --yes skips the question. Cached artifacts run without asking.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errURLRequired
			}

			url := args[0]

			childArgs := args[1:]
			// Interspersed parsing stops at the url, so a separating "--"
			// is still present in the remainder.
			if len(childArgs) > 0 && childArgs[0] == "--" {
				childArgs = childArgs[1:]
			}

			client, err := a.client()
			if err != nil {
				return err
			}

			req := dlx.Request{
				URL:      url,
				Name:     artifactName(*name, url),
				Checksum: *checksum,
				Force:    *force,
			}

			res, err := client.Acquire(ctx, req)
			if err != nil {
				return err
			}

			if res.Downloaded && !*yes {
				if err := confirmRun(req.Name, res.Checksum); err != nil {
					return err
				}
			}

			code, err := spawn.Local{}.Run(ctx, res.Path, spawn.Options{
				Args:    childArgs,
				PathDir: res.Dir,
				Stdin:   a.in,
				Stdout:  o.out,
				Stderr:  o.errOut,
			})
			if err != nil {
				return err
			}

			if code != 0 {
				return &exitCodeError{code: code}
			}

			return nil
		},
	}
}

// artifactName picks the cache file name: an explicit --name wins, else the
// last path segment of the url.
func artifactName(explicit, url string) string {
	if explicit != "" {
		return explicit
	}

	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}

	// Strip any query string.
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}

	if trimmed == "" {
		return "artifact"
	}

	return trimmed
}

// confirmRun asks before executing bytes that were just fetched from the
// network. Without a terminal there is nobody to ask, so the caller must
// have passed --yes.
func confirmRun(name, checksum string) error {
	if !liner.TerminalSupported() {
		return errConfirmRequired
	}

	l := liner.NewLiner()
	defer l.Close()

	l.SetCtrlCAborts(true)

	prefix := checksum
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}

	answer, err := l.Prompt(fmt.Sprintf("Run %s (sha256 %s...)? [y/N]: ", name, prefix))
	if err != nil {
		return errRunDeclined
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}

	return errRunDeclined
}

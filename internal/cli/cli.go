// Package cli implements the dlx command line interface.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/SocketDev/socket-lib-sub004/pkg/dlx"
)

// App carries the resolved configuration and process environment shared by
// all commands.
type App struct {
	cfg     Config
	sources ConfigSources
	env     map[string]string
	in      io.Reader
	log     *slog.Logger
}

// Run is the main entry point. Returns exit code.
func Run(ctx context.Context, in io.Reader, out, errOut io.Writer, args []string, env map[string]string) int {
	globals := flag.NewFlagSet("dlx", flag.ContinueOnError)
	globals.SetOutput(io.Discard)
	// Stop at the first non-flag so command args are left untouched.
	globals.SetInterspersed(false)

	var (
		workDir    = globals.StringP("cwd", "C", "", "Run as if started in <dir>")
		configPath = globals.StringP("config", "c", "", "Use a specific config file")
		cacheDir   = globals.String("cache-dir", "", "Override the cache directory")
		verbose    = globals.BoolP("verbose", "v", false, "Log acquisition details to stderr")
	)

	if len(args) < 2 {
		printUsage(out)

		return 0
	}

	if err := globals.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out)

			return 0
		}

		fprintln(errOut, "error:", err)

		return 1
	}

	rest := globals.Args()
	if len(rest) == 0 || rest[0] == "help" {
		printUsage(out)

		return 0
	}

	wd := *workDir
	if wd == "" {
		var err error

		wd, err = os.Getwd()
		if err != nil {
			fprintln(errOut, "error: cannot get working directory:", err)

			return 1
		}
	}

	cfg, sources, err := LoadConfig(wd, *configPath, env)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
		if !filepath.IsAbs(cfg.CacheDir) {
			cfg.CacheDir = filepath.Join(wd, cfg.CacheDir)
		}
	}

	app := &App{
		cfg:     cfg,
		sources: sources,
		env:     env,
		in:      in,
		log:     newLogger(errOut, *verbose),
	}

	o := NewIO(out, errOut)

	for _, cmd := range app.commands() {
		if cmd.Name() == rest[0] {
			return cmd.Run(ctx, o, rest[1:])
		}
	}

	fprintln(errOut, "error: unknown command:", rest[0])
	printUsage(errOut)

	return 1
}

func (a *App) commands() []*Command {
	return []*Command{
		a.runCommand(),
		a.fetchCommand(),
		a.cleanCommand(),
		a.configCommand(),
	}
}

func (a *App) store() *dlx.Store {
	return dlx.NewStore(a.cfg.CacheDir, dlx.StoreOptions{
		TTL:    time.Duration(a.cfg.TTLMillis) * time.Millisecond,
		Logger: a.log,
	})
}

func (a *App) client() (*dlx.Client, error) {
	return dlx.New(dlx.Options{
		Store:  a.store(),
		Logger: a.log,
	})
}

func newLogger(errOut io.Writer, verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func printUsage(w io.Writer) {
	fprintln(w, `dlx - download, verify, and run executable artifacts

Usage: dlx [options] <command> [args]

Options:
  -C, --cwd <dir>       Run as if started in <dir>
  -c, --config <file>   Use a specific config file
      --cache-dir <dir> Override the cache directory
  -v, --verbose         Log acquisition details to stderr

Commands:`)

	// Exec closures are never invoked here, so a zero App is fine for
	// listing help lines.
	for _, cmd := range (&App{}).commands() {
		fprintln(w, cmd.HelpLine())
	}
}

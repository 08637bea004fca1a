// Package spawn executes cached artifacts as child processes.
//
// On Windows, .bat/.cmd scripts and PowerShell scripts are not executable
// images and need a command-shell wrapper; spawn builds the wrapper and
// prepends the artifact's directory to PATH so scripts that re-invoke
// sibling tools by name resolve them.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Options controls how an artifact is run.
type Options struct {
	// Args are passed to the artifact after its own path.
	Args []string

	// Dir is the working directory. Empty inherits the caller's.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment.
	Env []string

	// PathDir, when a shell wrapper is used, is prepended to PATH for the
	// child. It is ignored for directly executable artifacts.
	PathDir string

	// Stdin, Stdout, and Stderr override the child's stdio. Nil inherits
	// the current process's streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Local runs artifacts on the host machine.
type Local struct{}

// Run executes the artifact and waits for it to finish.
//
// A child that runs to completion never returns an error; its exit code is
// the first return value, zero or not. An error means the child could not
// be started or was killed before exiting on its own.
func (Local) Run(ctx context.Context, artifact string, opts Options) (int, error) {
	cmd := Command(ctx, artifact, opts)

	runErr := cmd.Run()
	if runErr == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), nil
	}

	return -1, fmt.Errorf("running %s: %w", artifact, runErr)
}

// Command builds the exec.Cmd for the artifact without starting it.
func Command(ctx context.Context, artifact string, opts Options) *exec.Cmd {
	exe, argv := invocation(runtime.GOOS, artifact, opts.Args)
	cmd := exec.CommandContext(ctx, exe, argv...)

	cmd.Dir = opts.Dir

	env := os.Environ()
	if NeedsShell(artifact) && opts.PathDir != "" {
		env = prependPath(env, opts.PathDir)
	}
	cmd.Env = append(env, opts.Env...)

	cmd.Stdin = opts.Stdin
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = opts.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	return cmd
}

// NeedsShell reports whether the artifact must be run through a command
// shell on this platform.
func NeedsShell(artifact string) bool {
	return needsShellFor(runtime.GOOS, artifact)
}

func needsShellFor(goos, artifact string) bool {
	if goos != "windows" {
		return false
	}

	switch strings.ToLower(filepath.Ext(artifact)) {
	case ".bat", ".cmd", ".ps1":
		return true
	}

	return false
}

// invocation decides the executable and argv for the artifact on the given
// platform. Batch scripts go through cmd.exe, PowerShell scripts through
// powershell; everything else runs directly.
func invocation(goos, artifact string, args []string) (string, []string) {
	if !needsShellFor(goos, artifact) {
		return artifact, args
	}

	if strings.EqualFold(filepath.Ext(artifact), ".ps1") {
		argv := []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File", artifact}

		return "powershell", append(argv, args...)
	}

	return "cmd.exe", append([]string{"/c", artifact}, args...)
}

// prependPath returns env with dir prepended to the PATH entry. Windows
// spells the variable with varying case, so the match is case-insensitive.
func prependPath(env []string, dir string) []string {
	out := make([]string, len(env))
	copy(out, env)

	for i, kv := range env {
		name, value, found := strings.Cut(kv, "=")
		if !found || !strings.EqualFold(name, "PATH") {
			continue
		}

		out[i] = name + "=" + dir + string(os.PathListSeparator) + value

		return out
	}

	return append(out, "PATH="+dir)
}

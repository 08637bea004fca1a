package cli_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/SocketDev/socket-lib-sub004/internal/cli"
	"github.com/SocketDev/socket-lib-sub004/pkg/dlx"
)

// Tests for the config command.

func Test_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("config")

	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, ".cache", "dlx"))
	cli.AssertContains(t, stdout, "ttl_ms="+strconv.FormatInt(dlx.DefaultTTL.Milliseconds(), 10))
}

func Test_Config_From_Project_File_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"cache_dir": "my-cache"}`)

	stdout := c.MustRun("config")
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "my-cache"))
}

func Test_Config_From_Project_File_With_Comments_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{
		// This is a comment
		"cache_dir": "commented-cache",
	}`)

	stdout := c.MustRun("config")
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "commented-cache"))
}

func Test_Config_Explicit_Config_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, "custom.json"), `{"cache_dir": "custom-dir"}`)

	stdout := c.MustRun("-c", "custom.json", "config")
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "custom-dir"))
}

func Test_Config_Explicit_Config_Flag_Long_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, "custom.json"), `{"cache_dir": "custom-dir"}`)

	stdout := c.MustRun("--config=custom.json", "config")
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "custom-dir"))
}

func Test_Config_Cache_Dir_Flag_Override_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"cache_dir": "from-file"}`)

	stdout := c.MustRun("--cache-dir=from-cli", "config")
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "from-cli"))
}

func Test_Config_Env_Overrides_Project_File_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"cache_dir": "from-file"}`)
	c.Env["DLX_CACHE_DIR"] = "env-cache"

	stdout := c.MustRun("config")
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "env-cache"))
}

func Test_Config_Flag_Overrides_Env_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Env["DLX_CACHE_DIR"] = "env-cache"

	stdout := c.MustRun("--cache-dir=from-cli", "config")
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "from-cli"))
}

func Test_Config_Env_TTL_Override_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"ttl_ms": 9999}`)
	c.Env["DLX_TTL_MS"] = "1234"

	stdout := c.MustRun("config")
	cli.AssertContains(t, stdout, "ttl_ms=1234")
}

func Test_Config_Global_Config_Partial_Merge_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdgDir := t.TempDir()

	// Global config only sets ttl_ms
	writeFile(t, filepath.Join(xdgDir, "dlx", "config.json"), `{"ttl_ms": 4321}`)

	// Project config only sets cache_dir
	c.WriteConfig(`{"cache_dir": "project-cache"}`)

	c.Env["XDG_CONFIG_HOME"] = xdgDir
	stdout := c.MustRun("config")

	// Both values should be present
	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "project-cache"))
	cli.AssertContains(t, stdout, "ttl_ms=4321")
}

func Test_Config_Project_Overrides_Global_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdgDir := t.TempDir()

	writeFile(t, filepath.Join(xdgDir, "dlx", "config.json"), `{"cache_dir": "global-cache"}`)
	c.WriteConfig(`{"cache_dir": "project-cache"}`)

	c.Env["XDG_CONFIG_HOME"] = xdgDir
	stdout := c.MustRun("config")

	cli.AssertContains(t, stdout, "cache_dir="+filepath.Join(c.Dir, "project-cache"))
}

// Tests for config sources output.

func Test_Config_Shows_Defaults_Only_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdgDir := t.TempDir() // Empty, no config

	c.Env["XDG_CONFIG_HOME"] = xdgDir
	stdout := c.MustRun("config")

	cli.AssertContains(t, stdout, "# sources")
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Config_Shows_Global_Source_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdgDir := t.TempDir()

	globalPath := filepath.Join(xdgDir, "dlx", "config.json")
	writeFile(t, globalPath, `{"ttl_ms": 4321}`)

	c.Env["XDG_CONFIG_HOME"] = xdgDir
	stdout := c.MustRun("config")

	cli.AssertContains(t, stdout, "# sources")
	cli.AssertContains(t, stdout, "global_config="+globalPath)
}

func Test_Config_Shows_Project_Source_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdgDir := t.TempDir() // Empty, no global config

	projectPath := filepath.Join(c.Dir, cli.ConfigFileName)
	writeFile(t, projectPath, `{"cache_dir": "my-cache"}`)

	c.Env["XDG_CONFIG_HOME"] = xdgDir
	stdout := c.MustRun("config")

	cli.AssertContains(t, stdout, "# sources")
	cli.AssertContains(t, stdout, "project_config="+projectPath)
}

func Test_Config_Shows_Both_Sources_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdgDir := t.TempDir()

	globalPath := filepath.Join(xdgDir, "dlx", "config.json")
	writeFile(t, globalPath, `{"ttl_ms": 4321}`)

	projectPath := filepath.Join(c.Dir, cli.ConfigFileName)
	writeFile(t, projectPath, `{"cache_dir": "my-cache"}`)

	c.Env["XDG_CONFIG_HOME"] = xdgDir
	stdout := c.MustRun("config")

	cli.AssertContains(t, stdout, "# sources")
	cli.AssertContains(t, stdout, "global_config="+globalPath)
	cli.AssertContains(t, stdout, "project_config="+projectPath)
}

// Tests for config errors.

func Test_Config_Explicit_Config_Not_Found_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("-c", "nonexistent.json", "config")
	cli.AssertContains(t, stderr, "config file not found")
}

func Test_Config_Invalid_JSON_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{invalid json}`)

	stderr := c.MustFail("config")
	cli.AssertContains(t, stderr, "invalid")
}

func Test_Config_Empty_Cache_Dir_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"cache_dir": ""}`)

	stderr := c.MustFail("config")
	cli.AssertContains(t, stderr, "cache_dir must not be empty")
}

func Test_Config_Non_Positive_TTL_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteConfig(`{"ttl_ms": 0}`)

	stderr := c.MustFail("config")
	cli.AssertContains(t, stderr, "ttl_ms must be a positive integer")
}

func Test_Config_Negative_TTL_Via_Env_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Env["DLX_TTL_MS"] = "-5"

	stderr := c.MustFail("config")
	cli.AssertContains(t, stderr, "ttl_ms must be a positive integer")
}

// Helper to write a file (creates directories as needed).
func writeFile(t *testing.T, path, content string) {
	t.Helper()

	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		t.Fatalf("failed to create dir %s: %v", dir, err)
	}

	err = os.WriteFile(path, []byte(content), 0o600)
	if err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

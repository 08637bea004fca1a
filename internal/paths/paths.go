// Package paths resolves where dlx keeps its cache and configuration.
package paths

import (
	"os"
	"path/filepath"

	"github.com/SocketDev/socket-lib-sub004/internal/envs"
)

// CacheRoot returns the cache directory: DLX_CACHE_DIR when set, otherwise
// the platform default from [DefaultCacheRoot].
func CacheRoot(env map[string]string) string {
	if dir, ok := envs.Lookup(env, "DLX_CACHE_DIR"); ok {
		return dir
	}

	return DefaultCacheRoot(env)
}

// DefaultCacheRoot returns $XDG_CACHE_HOME/dlx when set, otherwise
// ~/.cache/dlx. An undeterminable home yields a relative ".dlx-cache" so
// callers still have somewhere to write.
func DefaultCacheRoot(env map[string]string) string {
	if xdg, ok := envs.Lookup(env, "XDG_CACHE_HOME"); ok {
		return filepath.Join(xdg, "dlx")
	}

	if h := home(env); h != "" {
		return filepath.Join(h, ".cache", "dlx")
	}

	return ".dlx-cache"
}

// GlobalConfig returns the user-level config file:
// $XDG_CONFIG_HOME/dlx/config.json when set, otherwise
// ~/.config/dlx/config.json. Empty when no home directory can be
// determined.
func GlobalConfig(env map[string]string) string {
	if xdg, ok := envs.Lookup(env, "XDG_CONFIG_HOME"); ok {
		return filepath.Join(xdg, "dlx", "config.json")
	}

	if h := home(env); h != "" {
		return filepath.Join(h, ".config", "dlx", "config.json")
	}

	return ""
}

func home(env map[string]string) string {
	if h, ok := envs.Lookup(env, "HOME"); ok {
		return h
	}

	h, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return h
}

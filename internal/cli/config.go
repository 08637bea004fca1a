package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/SocketDev/socket-lib-sub004/internal/envs"
	"github.com/SocketDev/socket-lib-sub004/internal/paths"
	"github.com/SocketDev/socket-lib-sub004/pkg/dlx"
)

// Config holds all configuration options.
type Config struct {
	CacheDir  string `json:"cache_dir"`
	TTLMillis int64  `json:"ttl_ms,omitempty"`
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".dlx.json"

// DefaultConfig returns the default configuration. The cache directory
// default honors XDG conventions but not DLX_CACHE_DIR; environment
// overrides are applied in [LoadConfig] so they outrank config files.
func DefaultConfig(env map[string]string) Config {
	return Config{
		CacheDir:  paths.DefaultCacheRoot(env),
		TTLMillis: dlx.DefaultTTL.Milliseconds(),
	}
}

// LoadConfig loads configuration with the following precedence (highest
// wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/dlx/config.json or
//     ~/.config/dlx/config.json)
//  3. Project config (.dlx.json in workDir), or the explicit file given
//     via configPath
//  4. Environment (DLX_CACHE_DIR, DLX_TTL_MS)
//
// Config files are JSONC; comments and trailing commas are allowed.
func LoadConfig(workDir, configPath string, env map[string]string) (Config, ConfigSources, error) {
	cfg := DefaultConfig(env)

	var sources ConfigSources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if dir, ok := envs.Lookup(env, "DLX_CACHE_DIR"); ok {
		cfg.CacheDir = dir
	}

	if ttl, ok := envs.Int64(env, "DLX_TTL_MS"); ok {
		cfg.TTLMillis = ttl
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, ConfigSources{}, err
	}

	if !filepath.IsAbs(cfg.CacheDir) {
		cfg.CacheDir = filepath.Join(workDir, cfg.CacheDir)
	}

	return cfg, sources, nil
}

// loadGlobalConfig loads the global user config file if it exists.
func loadGlobalConfig(env map[string]string) (Config, string, error) {
	globalCfgPath := paths.GlobalConfig(env)
	if globalCfgPath == "" {
		return Config{}, "", nil
	}

	globalCfg, loaded, err := loadConfigFile(globalCfgPath, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return globalCfg, globalCfgPath, nil
}

// loadProjectConfig loads the project config file (.dlx.json) or an
// explicit config file.
func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		// Explicit config file - must exist
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		_, statErr := os.Stat(cfgFile)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		// Default project config file - optional
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	fileCfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return fileCfg, cfgFile, nil
}

// loadConfigFile loads one config file. If mustExist is false, missing
// files return zero config.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", errConfigFileNotFound, path)
		}

		return Config{}, false, nil
	}

	cfg, parseErr := parseConfig(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	// Values that are present but unusable fail here, with the file name
	// in the wrapped error, rather than surfacing later as a mystery
	// default.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["cache_dir"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return Config{}, errCacheDirEmpty
		}
	}

	if val, exists := raw["ttl_ms"]; exists {
		if num, ok := val.(float64); ok && num <= 0 {
			return Config{}, errTTLInvalid
		}
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.CacheDir != "" {
		base.CacheDir = overlay.CacheDir
	}

	if overlay.TTLMillis != 0 {
		base.TTLMillis = overlay.TTLMillis
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.CacheDir == "" {
		return errCacheDirEmpty
	}

	if cfg.TTLMillis <= 0 {
		return errTTLInvalid
	}

	return nil
}

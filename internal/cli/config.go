package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/fastcollection/internal/fs"
	"github.com/calvinalkan/fastcollection/pkg/fastcollection"
)

// Config holds the defaults applied when the CLI opens or creates a
// collection.
type Config struct {
	InitialSize   int64
	MaxSize       int64
	BucketCount   int
	SweepInterval time.Duration
	HistoryFile   string
	LogLevel      slog.Level

	// Resolved at load time.
	EffectiveCwd string

	// Sources tracks which config files were loaded (for diagnostics)
	Sources ConfigSources
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or --config file if loaded, empty otherwise
}

// fileConfig is the JSONC shape of a config file. Every field is optional;
// set fields override the layer below.
type fileConfig struct {
	InitialSize   string `json:"initial_size,omitempty"`
	MaxSize       string `json:"max_size,omitempty"`
	BucketCount   *int   `json:"bucket_count,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"`
	HistoryFile   string `json:"history_file,omitempty"`
	LogLevel      string `json:"log_level,omitempty"`
}

// ConfigFileName is the project config file name.
const ConfigFileName = ".fcol.json"

// DefaultConfig returns the configuration used when no file sets anything.
func DefaultConfig(env map[string]string) Config {
	cfg := Config{
		InitialSize:   fastcollection.DefaultInitialSize,
		MaxSize:       fastcollection.DefaultMaxSize,
		BucketCount:   fastcollection.DefaultBucketCount,
		SweepInterval: fastcollection.DefaultSweepInterval,
		LogLevel:      slog.LevelWarn,
	}

	if home := env["HOME"]; home != "" {
		cfg.HistoryFile = filepath.Join(home, ".fcol_history")
	}

	return cfg
}

// globalConfigPath returns $XDG_CONFIG_HOME/fcol/config.json, falling back
// to ~/.config/fcol/config.json. Empty if neither variable is set.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "fcol", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "fcol", "config.json")
	}

	return ""
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Env             map[string]string // environment variables
	FS              fs.FS             // nil means the real file system
}

// LoadConfig loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/fcol/config.json or ~/.config/fcol/config.json)
// 3. Project config file (.fcol.json in the working directory, if it exists)
// 4. Explicit config file via ConfigPath, which replaces the project file
//
// Command flags are applied on top by each command.
func LoadConfig(input LoadConfigInput) (Config, error) {
	fsys := input.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	} else if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Config{}, fmt.Errorf("resolve working directory: %w", err)
		}

		workDir = abs
	}

	cfg := DefaultConfig(input.Env)
	cfg.EffectiveCwd = workDir

	if path := globalConfigPath(input.Env); path != "" {
		loaded, err := loadConfigFile(fsys, path, false, &cfg)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	mustExist := false

	if input.ConfigPath != "" {
		projectPath = input.ConfigPath
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		mustExist = true
	}

	loaded, err := loadConfigFile(fsys, projectPath, mustExist, &cfg)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
	}

	if cfg.InitialSize > cfg.MaxSize {
		return Config{}, fmt.Errorf("%w: initial_size %d exceeds max_size %d", ErrConfigInvalid, cfg.InitialSize, cfg.MaxSize)
	}

	return cfg, nil
}

// loadConfigFile merges the file at path into cfg. A missing optional file
// is not an error and reports false.
func loadConfigFile(fsys fs.FS, path string, mustExist bool, cfg *Config) (bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return false, nil
		}

		return false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	fc, err := parseConfig(data)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	if err := mergeConfig(cfg, fc); err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return true, nil
}

func parseConfig(data []byte) (fileConfig, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

func mergeConfig(cfg *Config, fc fileConfig) error {
	if fc.InitialSize != "" {
		n, err := parseSize(fc.InitialSize)
		if err != nil {
			return fmt.Errorf("initial_size: %w", err)
		}

		cfg.InitialSize = n
	}

	if fc.MaxSize != "" {
		n, err := parseSize(fc.MaxSize)
		if err != nil {
			return fmt.Errorf("max_size: %w", err)
		}

		cfg.MaxSize = n
	}

	if fc.BucketCount != nil {
		if *fc.BucketCount <= 0 {
			return fmt.Errorf("bucket_count must be positive, got %d", *fc.BucketCount)
		}

		cfg.BucketCount = *fc.BucketCount
	}

	if fc.SweepInterval != "" {
		d, err := time.ParseDuration(fc.SweepInterval)
		if err != nil || d < 0 {
			return fmt.Errorf("sweep_interval %q is not a non-negative duration", fc.SweepInterval)
		}

		cfg.SweepInterval = d
	}

	if fc.HistoryFile != "" {
		cfg.HistoryFile = fc.HistoryFile
	}

	if fc.LogLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(fc.LogLevel)); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}

	return nil
}

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"G", 1 << 30},
	{"M", 1 << 20},
	{"K", 1 << 10},
	{"B", 1},
}

// parseSize parses a byte count such as "4096", "64KiB" or "1G".
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	mult := int64(1)

	for _, u := range sizeUnits {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			s, mult = strings.TrimSpace(num), u.mult

			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 || n > (1<<62)/mult {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	return n * mult, nil
}

// formatSize renders n with the largest binary unit that divides it.
func formatSize(n int64) string {
	for _, u := range sizeUnits[:3] {
		if n >= u.mult && n%u.mult == 0 {
			return strconv.FormatInt(n/u.mult, 10) + u.suffix
		}
	}

	return strconv.FormatInt(n, 10)
}

// resolvePath makes p absolute relative to the effective working directory.
func (c Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.EffectiveCwd, p)
}

// options returns collection options for path with the configured
// defaults. The bucket count only applies to files that don't exist yet, so
// existing sets and maps open with whatever width they were created with.
func (c Config) options(path string, log *slog.Logger) fastcollection.Options {
	opts := fastcollection.Options{
		Path:          c.resolvePath(path),
		InitialSize:   c.InitialSize,
		MaxSize:       c.MaxSize,
		BucketCount:   c.BucketCount,
		SweepInterval: c.SweepInterval,
		Logger:        log,
	}

	if _, err := os.Stat(opts.Path); err == nil {
		opts.BucketCount = 0
	}

	return opts
}

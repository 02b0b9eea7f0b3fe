// Package config loads augur settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/praetorian-inc/augur/pkg/automaton"
	"github.com/praetorian-inc/augur/pkg/enum"
	"github.com/praetorian-inc/augur/pkg/matcher"
	"github.com/praetorian-inc/augur/pkg/rule"
	"github.com/praetorian-inc/augur/pkg/scanner"
	"github.com/praetorian-inc/augur/pkg/store"
	"github.com/praetorian-inc/augur/pkg/types"
	"gopkg.in/yaml.v3"
)

// Environment variables.
const (
	EnvConfig    = "AUGUR_CONFIG"
	EnvRules     = "AUGUR_RULES" // comma-separated rule files or directories
	EnvStore     = "AUGUR_STORE"
	EnvMatchMode = "AUGUR_MATCH_MODE"
	EnvMaxBuffer = "AUGUR_MAX_BUFFER"
	EnvWorkers   = "AUGUR_WORKERS"
)

// Config holds all configuration for augur
type Config struct {
	// Rules lists compiled rule files or directories; empty loads the
	// builtin rules.
	Rules []string `yaml:"rules"`
	// Include and Exclude filter rules by ID regex.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// Store is the result database path (":memory:" keeps results in memory).
	Store string `yaml:"store"`

	Scan   ScanConfig   `yaml:"scan"`
	Enum   EnumConfig   `yaml:"enum"`
	Reload ReloadConfig `yaml:"reload"`
}

// ScanConfig tunes the scanner.
type ScanConfig struct {
	MatchMode     string `yaml:"match_mode"` // "all" or "maximal"
	MaxBufferSize int64  `yaml:"max_buffer_size"`
	MaxMatches    int    `yaml:"max_matches"`
	MaxStates     int    `yaml:"max_states"`
	Offsets       bool   `yaml:"offsets"`
	ChunkSize     int    `yaml:"chunk_size"`
	RegexOverlap  int    `yaml:"regex_overlap"`
	RegexEngine   string `yaml:"regex_engine"` // "regexp2" or "hyperscan"
	Workers       int    `yaml:"workers"`
}

// EnumConfig controls directory scans.
type EnumConfig struct {
	IncludeHidden  bool     `yaml:"include_hidden"`
	MaxFileSize    int64    `yaml:"max_file_size"`
	FollowSymlinks bool     `yaml:"follow_symlinks"`
	Extensions     []string `yaml:"extensions"`
	IgnoreFile     string   `yaml:"ignore_file"`
}

// ReloadConfig controls rule hot reload.
type ReloadConfig struct {
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: store.MemoryPath,
		Scan: ScanConfig{
			MatchMode:    automaton.ReportAll.String(),
			ChunkSize:    scanner.DefaultChunkSize,
			RegexOverlap: scanner.DefaultRegexOverlap,
			RegexEngine:  string(matcher.EngineRegexp2),
		},
		Enum: EnumConfig{
			IgnoreFile: enum.DefaultIgnoreFile,
		},
		Reload: ReloadConfig{
			Debounce: 250 * time.Millisecond,
		},
	}
}

// Load loads configuration from the config file, if any, and environment.
func Load() (*Config, error) {
	return LoadFile(getConfigPath())
}

// LoadFile loads configuration from path ("" for none) and environment.
// A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if path := os.Getenv(EnvConfig); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "augur", "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "augur", "config.yaml")
	}
	return ""
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) error {
	if rules := os.Getenv(EnvRules); rules != "" {
		cfg.Rules = nil
		for _, p := range strings.Split(rules, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Rules = append(cfg.Rules, p)
			}
		}
	}

	if path := os.Getenv(EnvStore); path != "" {
		cfg.Store = path
	}

	if mode := os.Getenv(EnvMatchMode); mode != "" {
		cfg.Scan.MatchMode = mode
	}

	if max := os.Getenv(EnvMaxBuffer); max != "" {
		n, err := strconv.ParseInt(max, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxBuffer, err)
		}
		cfg.Scan.MaxBufferSize = n
	}

	if workers := os.Getenv(EnvWorkers); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		cfg.Scan.Workers = n
	}

	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	if _, err := automaton.ParseMatchMode(cfg.Scan.MatchMode); err != nil {
		return err
	}
	switch matcher.Engine(cfg.Scan.RegexEngine) {
	case "", matcher.EngineRegexp2, matcher.EngineHyperscan:
	default:
		return fmt.Errorf("unknown regex_engine %q", cfg.Scan.RegexEngine)
	}
	if cfg.Store == "" {
		return fmt.Errorf("store must not be empty")
	}

	for name, v := range map[string]int64{
		"scan.max_buffer_size": cfg.Scan.MaxBufferSize,
		"scan.max_matches":     int64(cfg.Scan.MaxMatches),
		"scan.max_states":      int64(cfg.Scan.MaxStates),
		"scan.chunk_size":      int64(cfg.Scan.ChunkSize),
		"scan.regex_overlap":   int64(cfg.Scan.RegexOverlap),
		"scan.workers":         int64(cfg.Scan.Workers),
		"enum.max_file_size":   cfg.Enum.MaxFileSize,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative", name)
		}
	}
	if cfg.Reload.Debounce < 0 {
		return fmt.Errorf("reload.debounce must be non-negative")
	}
	return nil
}

// ScannerOptions translates the scan settings into scanner options.
func (c *Config) ScannerOptions() []scanner.Option {
	mode, _ := automaton.ParseMatchMode(c.Scan.MatchMode)
	return []scanner.Option{
		scanner.WithMatchMode(mode),
		scanner.WithMaxBufferSize(c.Scan.MaxBufferSize),
		scanner.WithMaxMatches(c.Scan.MaxMatches),
		scanner.WithMaxStates(c.Scan.MaxStates),
		scanner.WithOffsets(c.Scan.Offsets),
		scanner.WithChunkSize(c.Scan.ChunkSize),
		scanner.WithRegexOverlap(c.Scan.RegexOverlap),
		scanner.WithRegexEngine(matcher.Engine(c.Scan.RegexEngine)),
		scanner.WithWorkers(c.Scan.Workers),
	}
}

// EnumConfig returns the enumerator settings for root.
func (c *Config) EnumConfig(root string) enum.Config {
	return enum.Config{
		Root:           root,
		IncludeHidden:  c.Enum.IncludeHidden,
		MaxFileSize:    c.Enum.MaxFileSize,
		FollowSymlinks: c.Enum.FollowSymlinks,
		Extensions:     c.Enum.Extensions,
		IgnoreFile:     c.Enum.IgnoreFile,
		Workers:        c.Scan.Workers,
	}
}

// LoadRules loads the configured rule set and applies the ID filters.
func (c *Config) LoadRules() (*types.Ruleset, error) {
	loader := rule.NewLoader()

	var rs *types.Ruleset
	var err error
	if len(c.Rules) == 0 {
		rs, err = loader.LoadBuiltin()
	} else {
		rs, err = loader.LoadPaths(c.Rules...)
	}
	if err != nil {
		return nil, err
	}

	filter := rule.FilterConfig{Include: c.Include, Exclude: c.Exclude}
	if filter.Empty() {
		return rs, nil
	}
	return rule.FilterRuleset(rs, filter)
}

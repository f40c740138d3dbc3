// Package config loads the daemon configuration from a TOML file with
// defaults applied before parsing and CLI overrides applied after.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server  Server
	Storage Storage
	Walker  Walker
	Index   Index
	AI      AI
}

type Server struct {
	Addr        string // listen address, e.g. ":8080"
	APIPrefix   string // route prefix for the wiki API
	ReadTimeout int    // seconds
}

type Storage struct {
	DataDir  string // directory for the collection database
	Database string // database filename inside DataDir
}

type Walker struct {
	Workers        int      // extraction worker pool size (0 = default 4)
	Exclude        []string // doublestar globs evaluated against space-relative paths
	FollowSymlinks bool     // follow symlinks that stay inside the space root
}

type Index struct {
	MaxFileSize   int64 // text extraction cap in bytes
	MaxResults    int   // default result cap for queries
	SuggestionMin int   // minimum n-gram length
	SuggestionMax int   // maximum n-gram length
}

type AI struct {
	Enabled        bool
	TimeoutSec     int    // per-LLM-call timeout
	ScheduleMin    int    // minutes between scheduled context runs (0 = manual only)
	DefaultModel   string
	ContextDirName string // artifact directory name inside each folder
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:        ":8080",
			APIPrefix:   "/applications/wiki/api",
			ReadTimeout: 30,
		},
		Storage: Storage{
			DataDir:  ".wikidex",
			Database: "wikidex.db",
		},
		Walker: Walker{
			Workers:        4,
			Exclude:        nil,
			FollowSymlinks: true,
		},
		Index: Index{
			MaxFileSize:   2 << 20, // 2 MiB
			MaxResults:    20,
			SuggestionMin: 2,
			SuggestionMax: 4,
		},
		AI: AI{
			Enabled:        false,
			TimeoutSec:     60,
			ScheduleMin:    0,
			DefaultModel:   "gemini-2.0-flash",
			ContextDirName: ".aicontext",
		},
	}
}

// Load reads a TOML config file over the defaults. A missing file is not an
// error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = "wikidex.toml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and normalizes derived values.
func (c *Config) Validate() error {
	if c.Walker.Workers < 0 {
		return fmt.Errorf("walker.workers must be >= 0, got %d", c.Walker.Workers)
	}
	if c.Walker.Workers == 0 {
		c.Walker.Workers = 4
	}
	if c.Walker.Workers > runtime.NumCPU()*4 {
		c.Walker.Workers = runtime.NumCPU() * 4
	}
	if c.Index.MaxFileSize <= 0 {
		return fmt.Errorf("index.maxfilesize must be positive, got %d", c.Index.MaxFileSize)
	}
	if c.Index.MaxResults <= 0 {
		c.Index.MaxResults = 20
	}
	if c.Index.SuggestionMin < 2 {
		c.Index.SuggestionMin = 2
	}
	if c.Index.SuggestionMax < c.Index.SuggestionMin {
		return fmt.Errorf("index.suggestionmax (%d) below suggestionmin (%d)",
			c.Index.SuggestionMax, c.Index.SuggestionMin)
	}
	if c.AI.TimeoutSec <= 0 {
		c.AI.TimeoutSec = 60
	}
	if c.AI.ContextDirName == "" {
		c.AI.ContextDirName = ".aicontext"
	}
	return nil
}

// DatabasePath returns the resolved path of the collection database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.Database)
}

// SpaceRoot returns the default root directory for a new space named name.
// Used when a creation request carries no explicit root path.
func (c *Config) SpaceRoot(name string) string {
	slug := make([]rune, 0, len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			slug = append(slug, r)
		case r == ' ' || r == '-' || r == '_':
			slug = append(slug, '-')
		}
	}
	return filepath.Join(c.Storage.DataDir, "spaces", string(slug))
}

// AITimeout returns the per-call LLM timeout as a duration.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSec) * time.Second
}

// ScheduleInterval returns the interval between scheduled context runs.
// Zero means manual triggering only.
func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.AI.ScheduleMin) * time.Minute
}

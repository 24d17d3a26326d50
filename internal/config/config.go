package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// PlatformConfig holds one platform's credentials and rate cap.
type PlatformConfig struct {
	AccessToken string `toml:"access_token"`
	AccountID   string `toml:"account_id"`
	Concurrency int    `toml:"concurrency"`
}

// Platforms groups the per-platform sections of the TOML file.
type Platforms struct {
	TikTok    PlatformConfig `toml:"tiktok"`
	Facebook  PlatformConfig `toml:"facebook"`
	Instagram PlatformConfig `toml:"instagram"`
}

// Config holds application configuration.
type Config struct {
	DBPath        string
	ScratchDir    string
	PlatformsPath string
	PollInterval  time.Duration
	MaxAttempts   int
	FetchLimit    int
	MaxHeight     int
	MetricsAddr   string
	Platforms     Platforms
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	return filepath.Join(cacheDir(), "clipcast", "jobs.db")
}

// DefaultScratchDir returns the default scratch directory for local media.
func DefaultScratchDir() string {
	return filepath.Join(cacheDir(), "clipcast", "media")
}

// DefaultPlatformsPath returns the default platforms file using XDG_CONFIG_HOME.
func DefaultPlatformsPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "clipcast", "platforms.toml")
}

func cacheDir() string {
	dir := os.Getenv("XDG_CACHE_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".cache")
	}
	return dir
}

// Load parses flags, environment and the platforms file to build Config.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("clipcast", flag.ContinueOnError)
	fs.StringVar(&cfg.DBPath, "db", DefaultDBPath(), "SQLite database path")
	fs.StringVar(&cfg.ScratchDir, "scratch-dir", DefaultScratchDir(), "Local media scratch directory")
	fs.StringVar(&cfg.PlatformsPath, "platforms", DefaultPlatformsPath(), "Platform credentials TOML file")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", time.Minute, "Publish cycle interval")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", 3, "Maximum publish attempts per job")
	fs.IntVar(&cfg.FetchLimit, "fetch-limit", 10, "Maximum due jobs per cycle")
	fs.IntVar(&cfg.MaxHeight, "max-height", 1080, "Resolution cap for downloaded media")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Env overrides
	if db := os.Getenv("CLIPCAST_DB"); db != "" {
		cfg.DBPath = db
	}
	if dir := os.Getenv("CLIPCAST_SCRATCH_DIR"); dir != "" {
		cfg.ScratchDir = dir
	}
	if path := os.Getenv("CLIPCAST_PLATFORMS"); path != "" {
		cfg.PlatformsPath = path
	}
	if addr := os.Getenv("CLIPCAST_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if raw := os.Getenv("CLIPCAST_MAX_ATTEMPTS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.MaxAttempts = n
		}
	}

	if _, err := toml.DecodeFile(cfg.PlatformsPath, &cfg.Platforms); err != nil {
		return nil, fmt.Errorf("load platforms file %s: %w", cfg.PlatformsPath, err)
	}
	cfg.Platforms.normalize()

	return cfg, nil
}

// normalize fills in the per-platform defaults the file may omit.
func (p *Platforms) normalize() {
	for _, pc := range []*PlatformConfig{&p.TikTok, &p.Facebook, &p.Instagram} {
		if pc.Concurrency <= 0 {
			pc.Concurrency = 1
		}
	}
}

package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultForgeAPIURL is the GitHub REST API base URL.
	DefaultForgeAPIURL = "https://api.github.com"

	// DefaultRequestsPerMinute is the client-side forge API rate limit.
	DefaultRequestsPerMinute = 300

	// DefaultDownloadConcurrency bounds parallel artifact downloads.
	DefaultDownloadConcurrency = 8

	// DefaultMaxFailureText caps stored failure text, in bytes. Longer
	// payloads are truncated at ingestion time to keep row storage bounded.
	DefaultMaxFailureText = 100000
)

// Config is the root configuration for flakehound.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Database DatabaseConfig `yaml:"database"`
	Forge    ForgeConfig    `yaml:"forge"`
	Fetch    FetchConfig    `yaml:"fetch"`
}

// DatabaseConfig selects and configures the result store backend.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig configures the sqlite backend. Path ":memory:" selects an
// ephemeral store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ForgeConfig configures access to the GitHub API.
type ForgeConfig struct {
	APIURL string `yaml:"api_url"`
	// Token is the API token. Falls back to the GITHUB_TOKEN environment
	// variable when empty.
	Token             string `yaml:"token"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// FetchConfig configures the ingestion pipeline.
type FetchConfig struct {
	// ArtifactGlobs filters remote artifacts by name using shell-glob
	// semantics. An artifact is fetched when it matches at least one glob.
	ArtifactGlobs []string `yaml:"artifact_globs"`

	DownloadConcurrency int `yaml:"download_concurrency"`
	MaxFailureText      int `yaml:"max_failure_text"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()

	return cfg
}

// ApplyDefaults sets default values for unspecified configuration options.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = defaultDBPath()
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Forge.APIURL == "" {
		c.Forge.APIURL = DefaultForgeAPIURL
	}

	if c.Forge.RequestsPerMinute <= 0 {
		c.Forge.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if len(c.Fetch.ArtifactGlobs) == 0 {
		c.Fetch.ArtifactGlobs = []string{"*"}
	}

	if c.Fetch.DownloadConcurrency <= 0 {
		c.Fetch.DownloadConcurrency = DefaultDownloadConcurrency
	}

	if c.Fetch.MaxFailureText <= 0 {
		c.Fetch.MaxFailureText = DefaultMaxFailureText
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	for _, g := range c.Fetch.ArtifactGlobs {
		if _, err := path.Match(g, ""); err != nil {
			return fmt.Errorf("invalid artifact glob %q: %w", g, err)
		}
	}

	return nil
}

// defaultDBPath places the sqlite store under the XDG data directory.
func defaultDBPath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "flakehound.db"
		}

		dir = filepath.Join(home, ".local", "share")
	}

	return filepath.Join(dir, "flakehound", "flakehound.db")
}

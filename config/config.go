// Package config holds tvserver settings and reads them from an optional
// YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the cache directory.
const FileName = "tvserver.yaml"

// Config captures server, cache, backend, source and native settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Backend BackendConfig `yaml:"backend"`
	Dedupe  DedupeConfig  `yaml:"dedupe"`
	Source  SourceConfig  `yaml:"source"`
	Native  NativeConfig  `yaml:"native"`
	Debug   bool          `yaml:"debug"`
	Stats   bool          `yaml:"stats"`
}

// ServerConfig mirrors start_server(cache_folder, workers, fetch_concurrency, port).
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Workers          int    `yaml:"workers"`
	FetchConcurrency int    `yaml:"fetch_concurrency"`
}

// CacheConfig configures the local cache directory and entry lifetimes.
type CacheConfig struct {
	Dir         string   `yaml:"dir"`
	HomeTTL     Duration `yaml:"home_ttl"`
	EpisodesTTL Duration `yaml:"episodes_ttl"`
	EpisodeTTL  Duration `yaml:"episode_ttl"`
}

// BackendConfig selects the shared storage behind the local cache.
type BackendConfig struct {
	Type               string  `yaml:"type"`
	Dir                string  `yaml:"dir"`
	Bucket             string  `yaml:"bucket"`
	Prefix             string  `yaml:"prefix"`
	GCSCredentialsFile string  `yaml:"gcs_credentials_file"`
	Compress           bool    `yaml:"compress"`
	ErrorRate          float64 `yaml:"error_rate"`
}

// DedupeConfig selects how concurrent fetches of one key are collapsed.
type DedupeConfig struct {
	Type    string `yaml:"type"`
	LockDir string `yaml:"lock_dir"`
}

// SourceConfig selects where catalog data comes from.
type SourceConfig struct {
	Type        string   `yaml:"type"`
	CatalogPath string   `yaml:"catalog_path"`
	RemoteURL   string   `yaml:"remote_url"`
	Timeout     Duration `yaml:"timeout"`
	RetryMax    int      `yaml:"retry_max"`
}

// NativeConfig configures the native library bridge.
type NativeConfig struct {
	Library    string   `yaml:"library"`
	SearchDirs []string `yaml:"search_dirs"`
}

// Duration is a time.Duration that reads "90s"-style strings from YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns a Config with the values the native glue started the
// server with: two workers, two concurrent fetches, port 3000.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             3000,
			Workers:          2,
			FetchConcurrency: 2,
		},
		Cache: CacheConfig{
			Dir:         filepath.Join(os.TempDir(), "tvserver"),
			HomeTTL:     Duration(6 * time.Hour),
			EpisodesTTL: Duration(time.Hour),
			EpisodeTTL:  Duration(24 * time.Hour),
		},
		Backend: BackendConfig{
			Type: "none",
		},
		Dedupe: DedupeConfig{
			Type: "memory",
		},
		Source: SourceConfig{
			Type:     "static",
			Timeout:  Duration(15 * time.Second),
			RetryMax: 3,
		},
		Native: NativeConfig{
			Library: "server_rs",
		},
		Stats: true,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be at least 1")
	}
	if c.Server.FetchConcurrency < 1 {
		return fmt.Errorf("server.fetch_concurrency must be at least 1")
	}
	if c.Backend.ErrorRate < 0 || c.Backend.ErrorRate > 1 {
		return fmt.Errorf("backend.error_rate must be within [0, 1]")
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := Default()
	if cfg.Server != def.Server {
		t.Errorf("Server = %+v, want %+v", cfg.Server, def.Server)
	}
	if cfg.Server.Port != 3000 || cfg.Server.Workers != 2 || cfg.Server.FetchConcurrency != 2 {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
}

func TestLoadOverridesOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `
server:
  port: 8080
cache:
  home_ttl: 10m
backend:
  type: s3
  bucket: tv-cache
  compress: true
source:
  type: remote
  remote_url: http://192.168.1.2:3000
native:
  search_dirs: [/opt/tvserver/lib]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"port", cfg.Server.Port, 8080},
		{"workers kept", cfg.Server.Workers, 2},
		{"host kept", cfg.Server.Host, "127.0.0.1"},
		{"home ttl", time.Duration(cfg.Cache.HomeTTL), 10 * time.Minute},
		{"episode ttl kept", time.Duration(cfg.Cache.EpisodeTTL), 24 * time.Hour},
		{"backend", cfg.Backend.Type, "s3"},
		{"bucket", cfg.Backend.Bucket, "tv-cache"},
		{"compress", cfg.Backend.Compress, true},
		{"source", cfg.Source.Type, "remote"},
		{"remote url", cfg.Source.RemoteURL, "http://192.168.1.2:3000"},
		{"retry kept", cfg.Source.RetryMax, 3},
		{"library kept", cfg.Native.Library, "server_rs"},
		{"search dirs", len(cfg.Native.SearchDirs), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "cache:\n  home_ttl: soon\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"zero workers", "server:\n  workers: 0\n"},
		{"error rate", "backend:\n  error_rate: 2\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("Load() expected error for %q", tt.content)
			}
		})
	}
}

func TestDurationMarshal(t *testing.T) {
	v, err := Duration(90 * time.Second).MarshalYAML()
	if err != nil {
		t.Fatal(err)
	}
	if v != "1m30s" {
		t.Errorf("MarshalYAML() = %v, want 1m30s", v)
	}
}

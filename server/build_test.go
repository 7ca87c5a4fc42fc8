package server

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbs-tv/tvserver/backends"
	"github.com/pbs-tv/tvserver/catalog"
	"github.com/pbs-tv/tvserver/config"
	"github.com/pbs-tv/tvserver/dedupe"
)

func TestNewBackend(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name    string
		backend config.BackendConfig
		debug   bool
		check   func(t *testing.T, b backends.Backend)
		wantErr bool
	}{
		{
			name:    "none",
			backend: config.BackendConfig{Type: "none"},
			check: func(t *testing.T, b backends.Backend) {
				assert.IsType(t, &backends.Noop{}, b)
			},
		},
		{
			name:    "disk",
			backend: config.BackendConfig{Type: "disk"},
			check: func(t *testing.T, b backends.Backend) {
				assert.IsType(t, &backends.Disk{}, b)
			},
		},
		{
			name:    "wrapped",
			backend: config.BackendConfig{Type: "DISK", Compress: true, ErrorRate: 0.5},
			debug:   true,
			check: func(t *testing.T, b backends.Backend) {
				assert.IsType(t, &backends.Debug{}, b)
			},
		},
		{
			name:    "compressed",
			backend: config.BackendConfig{Type: "disk", Compress: true},
			check: func(t *testing.T, b backends.Backend) {
				assert.IsType(t, &backends.Compressed{}, b)
			},
		},
		{name: "s3 without bucket", backend: config.BackendConfig{Type: "s3"}, wantErr: true},
		{name: "gcs without bucket", backend: config.BackendConfig{Type: "gcs"}, wantErr: true},
		{name: "unknown", backend: config.BackendConfig{Type: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Cache.Dir = t.TempDir()
			cfg.Backend = tt.backend
			cfg.Debug = tt.debug

			b, err := NewBackend(cfg, logger)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer b.Close()
			tt.check(t, b)
		})
	}
}

func TestNewDedupeGroup(t *testing.T) {
	g, err := NewDedupeGroup(config.DedupeConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &dedupe.SingleflightGroup{}, g)

	g, err = NewDedupeGroup(config.DedupeConfig{Type: "fslock", LockDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &dedupe.FSLockGroup{}, g)

	g, err = NewDedupeGroup(config.DedupeConfig{Type: "noop"})
	require.NoError(t, err)
	assert.IsType(t, &dedupe.NoOpGroup{}, g)

	_, err = NewDedupeGroup(config.DedupeConfig{Type: "redis"})
	assert.Error(t, err)
}

func TestNewSource(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	cfg := config.Default()
	cfg.Cache.Dir = t.TempDir()

	// No catalog file yet: an empty static catalog.
	src, err := NewSource(cfg, logger)
	require.NoError(t, err)
	home, err := src.Home(t.Context())
	require.NoError(t, err)
	assert.Empty(t, home)

	catalogYAML := "channels:\n  - name: Colors\n    shows:\n      - title: Naagin\n        icon: n.png\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Cache.Dir, catalogFile), []byte(catalogYAML), 0644))
	src, err = NewSource(cfg, logger)
	require.NoError(t, err)
	home, err = src.Home(t.Context())
	require.NoError(t, err)
	require.Len(t, home, 1)
	assert.Equal(t, "Colors", home[0].Name)

	cfg.Source = config.SourceConfig{Type: "remote", RemoteURL: "http://127.0.0.1:3001"}
	src, err = NewSource(cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &catalog.Remote{}, src)

	cfg.Source = config.SourceConfig{Type: "remote"}
	_, err = NewSource(cfg, logger)
	assert.Error(t, err)

	cfg.Source = config.SourceConfig{Type: "sqlite"}
	_, err = NewSource(cfg, logger)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Dir = t.TempDir()
	cfg.Server.Port = 3123

	s, err := FromConfig(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "127.0.0.1:3123", s.Addr())
	_, err = os.Stat(filepath.Join(cfg.Cache.Dir, responsesDir))
	assert.NoError(t, err)
}

func TestStartServerRejectsInvalidArgs(t *testing.T) {
	err := StartServer(t.TempDir(), 0, 2, 3000)
	assert.Error(t, err)
}

func TestStartInBackgroundReportsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	select {
	case err, ok := <-StartInBackground(t.TempDir(), 2, 2, port):
		require.True(t, ok, "channel closed without an error")
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("start on a busy port did not fail")
	}
}

func TestStartInBackgroundReportsInvalidArgs(t *testing.T) {
	err, ok := <-StartInBackground(t.TempDir(), 0, 2, 3000)
	require.True(t, ok)
	assert.Error(t, err)
}

func TestClearCache(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Dir = t.TempDir()
	cfg.Backend = config.BackendConfig{Type: "disk"}
	logger := slog.New(slog.DiscardHandler)

	s, err := FromConfig(cfg, logger)
	require.NoError(t, err)
	_, err = s.cache.Get(t.Context(), "home", time.Hour, func(ctx context.Context) ([]byte, error) {
		return []byte("{}"), nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	entries, _, err := s.local.Usage()
	require.NoError(t, err)
	require.Equal(t, 1, entries)

	require.NoError(t, ClearCache(cfg, logger))

	entries, _, err = s.local.Usage()
	require.NoError(t, err)
	assert.Zero(t, entries)

	shared, err := backends.NewDisk(filepath.Join(cfg.Cache.Dir, "shared"))
	require.NoError(t, err)
	_, _, _, miss, err := shared.Get(hashKey("home"))
	require.NoError(t, err)
	assert.True(t, miss)
}

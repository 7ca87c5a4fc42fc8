package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pbs-tv/tvserver/config"
)

// options holds the flag values of one subcommand. Only flags that were set
// on the command line or through their environment variable override the
// config file.
type options struct {
	fs   *flag.FlagSet
	envs map[string]string

	configPath string
	debug      bool
	cacheDir   string

	host             string
	port             int
	workers          int
	fetchConcurrency int
	printStats       bool
	dedupeType       string
	dedupeLockDir    string

	backendType    string
	backendDir     string
	bucket         string
	prefix         string
	gcsCredentials string
	compress       bool
	errorRate      float64

	sourceType  string
	catalogPath string
	remoteURL   string

	library    string
	libraryDir string
}

func newOptions(fs *flag.FlagSet) *options {
	o := &options{fs: fs, envs: make(map[string]string)}
	def := config.Default()
	o.stringVar(&o.configPath, "config", "TVSERVER_CONFIG", "", "Path to a YAML config file (default: <cache-dir>/"+config.FileName+")")
	o.boolVar(&o.debug, "debug", "DEBUG", def.Debug, "Enable debug logging to stderr")
	o.stringVar(&o.cacheDir, "cache-dir", "CACHE_DIR", def.Cache.Dir, "Cache directory")
	return o
}

func (o *options) bindServer() {
	def := config.Default()
	o.stringVar(&o.host, "host", "HOST", def.Server.Host, "Listen host")
	o.intVar(&o.port, "port", "PORT", def.Server.Port, "Listen port")
	o.intVar(&o.workers, "workers", "WORKERS", def.Server.Workers, "Maximum concurrently handled requests")
	o.intVar(&o.fetchConcurrency, "fetch-concurrency", "FETCH_CONCURRENCY", def.Server.FetchConcurrency, "Maximum concurrent catalog fetches")
	o.boolVar(&o.printStats, "stats", "PRINT_STATS", def.Stats, "Print cache statistics on exit")
	o.stringVar(&o.dedupeType, "dedupe", "DEDUPE_TYPE", def.Dedupe.Type, "Deduplication type: memory (in-memory), fslock (filesystem), noop")
	o.stringVar(&o.dedupeLockDir, "dedupe-lock-dir", "DEDUPE_LOCK_DIR", def.Dedupe.LockDir, "Lock directory for fslock dedupe")
}

func (o *options) bindCache() {
	def := config.Default()
	o.stringVar(&o.backendType, "backend", "BACKEND_TYPE", def.Backend.Type, "Shared backend type: none, disk, s3, gcs")
	o.stringVar(&o.backendDir, "backend-dir", "BACKEND_DIR", def.Backend.Dir, "Directory for the disk backend (default: <cache-dir>/shared)")
	o.stringVar(&o.bucket, "bucket", "BUCKET", def.Backend.Bucket, "Bucket name (required for s3 and gcs backends)")
	o.stringVar(&o.prefix, "prefix", "PREFIX", def.Backend.Prefix, "Object key prefix (optional)")
	o.stringVar(&o.gcsCredentials, "gcs-credentials", "GCS_CREDENTIALS_FILE", def.Backend.GCSCredentialsFile, "GCS service account credentials file (optional)")
	o.boolVar(&o.compress, "compress", "COMPRESS", def.Backend.Compress, "Compress backend entries with lz4")
	o.floatVar(&o.errorRate, "error-rate", "ERROR_RATE", def.Backend.ErrorRate, "Error injection rate (0.0-1.0) for testing error handling")
}

func (o *options) bindSource() {
	def := config.Default()
	o.stringVar(&o.sourceType, "source", "SOURCE_TYPE", def.Source.Type, "Catalog source: static, remote")
	o.stringVar(&o.catalogPath, "catalog", "CATALOG_PATH", def.Source.CatalogPath, "Static catalog file (default: <cache-dir>/catalog.yaml)")
	o.stringVar(&o.remoteURL, "remote-url", "REMOTE_URL", def.Source.RemoteURL, "Base URL of the server mirrored by the remote source")
}

func (o *options) bindNative() {
	def := config.Default()
	o.stringVar(&o.library, "library", "LIBRARY", def.Native.Library, "Logical name of the native library")
	o.stringVar(&o.libraryDir, "library-dir", "LIBRARY_DIR", "", "Directory searched first for the native library")
}

func (o *options) stringVar(p *string, name, env, def, usage string) {
	o.envs[name] = env
	o.fs.StringVar(p, name, getEnv(env, def), fmt.Sprintf("%s (env: %s)", usage, env))
}

func (o *options) boolVar(p *bool, name, env string, def bool, usage string) {
	o.envs[name] = env
	o.fs.BoolVar(p, name, getEnvBool(env, def), fmt.Sprintf("%s (env: %s)", usage, env))
}

func (o *options) intVar(p *int, name, env string, def int, usage string) {
	o.envs[name] = env
	o.fs.IntVar(p, name, getEnvInt(env, def), fmt.Sprintf("%s (env: %s)", usage, env))
}

func (o *options) floatVar(p *float64, name, env string, def float64, usage string) {
	o.envs[name] = env
	o.fs.Float64Var(p, name, getEnvFloat(env, def), fmt.Sprintf("%s (env: %s)", usage, env))
}

// changed returns the names of flags set on the command line or through
// their environment variable.
func (o *options) changed() map[string]bool {
	set := make(map[string]bool)
	o.fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	for name, env := range o.envs {
		if os.Getenv(env) != "" {
			set[name] = true
		}
	}
	return set
}

// load reads the config file and applies the flags that were set over it.
func (o *options) load() (config.Config, error) {
	set := o.changed()

	path := o.configPath
	if path == "" {
		path = filepath.Join(o.cacheDir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	o.apply(&cfg, set)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (o *options) apply(cfg *config.Config, set map[string]bool) {
	setters := map[string]func(){
		"debug":             func() { cfg.Debug = o.debug },
		"cache-dir":         func() { cfg.Cache.Dir = o.cacheDir },
		"host":              func() { cfg.Server.Host = o.host },
		"port":              func() { cfg.Server.Port = o.port },
		"workers":           func() { cfg.Server.Workers = o.workers },
		"fetch-concurrency": func() { cfg.Server.FetchConcurrency = o.fetchConcurrency },
		"stats":             func() { cfg.Stats = o.printStats },
		"dedupe":            func() { cfg.Dedupe.Type = o.dedupeType },
		"dedupe-lock-dir":   func() { cfg.Dedupe.LockDir = o.dedupeLockDir },
		"backend":           func() { cfg.Backend.Type = o.backendType },
		"backend-dir":       func() { cfg.Backend.Dir = o.backendDir },
		"bucket":            func() { cfg.Backend.Bucket = o.bucket },
		"prefix":            func() { cfg.Backend.Prefix = o.prefix },
		"gcs-credentials":   func() { cfg.Backend.GCSCredentialsFile = o.gcsCredentials },
		"compress":          func() { cfg.Backend.Compress = o.compress },
		"error-rate":        func() { cfg.Backend.ErrorRate = o.errorRate },
		"source":            func() { cfg.Source.Type = o.sourceType },
		"catalog":           func() { cfg.Source.CatalogPath = o.catalogPath },
		"remote-url":        func() { cfg.Source.RemoteURL = o.remoteURL },
		"library":           func() { cfg.Native.Library = o.library },
	}
	for name := range set {
		if fn, ok := setters[name]; ok {
			fn()
		}
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value.
// Accepts: true, false, 1, 0, yes, no (case insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

// getEnvFloat gets a float64 environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var f float64
	if _, err := fmt.Sscanf(value, "%f", &f); err != nil {
		return defaultValue
	}
	return f
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pbs-tv/tvserver/bridge"
	"github.com/pbs-tv/tvserver/config"
	"github.com/pbs-tv/tvserver/logging"
	"github.com/pbs-tv/tvserver/server"
)

func main() {
	// Check if we have a subcommand
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "-") {
		subcommand := os.Args[1]

		switch subcommand {
		case "serve":
			runServeCommand(os.Args[2:])
			return
		case "native":
			runNativeCommand(os.Args[2:])
			return
		case "clear":
			runClearCommand(os.Args[2:])
			return
		case "help", "-h", "--help":
			printHelp()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", subcommand)
			printHelp()
			os.Exit(1)
		}
	}

	// No subcommand or starts with -, run the server
	runServeCommand(os.Args[1:])
}

func runServeCommand(args []string) {
	serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
	opts := newOptions(serveFlags)
	opts.bindServer()
	opts.bindCache()
	opts.bindSource()

	serveFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [serve] [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run the TV catalog server.\n\n")
		fmt.Fprintf(os.Stderr, "Flags (can also be set via environment variables):\n")
		serveFlags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nSettings not given as flags or environment variables are read from\n")
		fmt.Fprintf(os.Stderr, "-config, or from %s in the cache directory.\n", config.FileName)
		fmt.Fprintf(os.Stderr, "\nNote: Command-line flags take precedence over environment variables.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Serve a catalog file on port 3000:\n")
		fmt.Fprintf(os.Stderr, "  %s -catalog=./catalog.yaml\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Mirror another server and share responses through S3:\n")
		fmt.Fprintf(os.Stderr, "  %s -source=remote -remote-url=http://10.0.0.2:3000 -backend=s3 -bucket=tv-cache\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Mix environment variables and flags (flags override env):\n")
		fmt.Fprintf(os.Stderr, "  BACKEND_TYPE=gcs BUCKET=tv-cache %s -compress -debug\n", os.Args[0])
	}

	serveFlags.Parse(args)
	cfg, err := opts.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	runServer(cfg)
}

func runNativeCommand(args []string) {
	nativeFlags := flag.NewFlagSet("native", flag.ExitOnError)
	opts := newOptions(nativeFlags)
	opts.bindNative()

	nativeFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s native [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Load the %s native library and start its server.\n\n", bridge.LibraryName)
		fmt.Fprintf(os.Stderr, "Flags (can also be set via environment variables):\n")
		nativeFlags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nThe library is searched for in -library-dir, %s,\n", bridge.LibraryPathEnv)
		fmt.Fprintf(os.Stderr, "the dynamic loader path and the directory of this executable.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  go build -buildmode=c-shared -o lib/lib%s.so ./cmd/libserver_rs\n", bridge.LibraryName)
		fmt.Fprintf(os.Stderr, "  %s native -library-dir=./lib -cache-dir=/var/cache/tv\n", os.Args[0])
	}

	nativeFlags.Parse(args)
	cfg, err := opts.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Debug)

	dirs := cfg.Native.SearchDirs
	if opts.libraryDir != "" {
		dirs = append([]string{opts.libraryDir}, dirs...)
	}
	bridge.Process(bridge.NewDynamicLoader(dirs), bridge.WithLibraryName(cfg.Native.Library)).MustLoad()

	if err := os.MkdirAll(cfg.Cache.Dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating cache directory: %v\n", err)
		os.Exit(1)
	}
	if err := bridge.StartServer(cfg.Cache.Dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting native server: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func runClearCommand(args []string) {
	clearFlags := flag.NewFlagSet("clear", flag.ExitOnError)
	opts := newOptions(clearFlags)
	opts.bindCache()

	clearFlags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s clear [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Clear all cached responses, locally and in the backend.\n\n")
		fmt.Fprintf(os.Stderr, "Flags (can also be set via environment variables):\n")
		clearFlags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nNote: Command-line flags take precedence over environment variables.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Clear the local cache:\n")
		fmt.Fprintf(os.Stderr, "  %s clear -cache-dir=/var/cache/tv\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Clear an S3 backend too:\n")
		fmt.Fprintf(os.Stderr, "  %s clear -backend=s3 -bucket=tv-cache\n", os.Args[0])
	}

	clearFlags.Parse(args)
	cfg, err := opts.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(cfg.Debug)
	if err := server.ClearCache(cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error clearing cache: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Cache cleared successfully\n")
}

func printHelp() {
	fmt.Fprintf(os.Stderr, "Usage: %s [command] [flags]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "A caching HTTP server for the TV catalog.\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  (no command)  Run the server (default)\n")
	fmt.Fprintf(os.Stderr, "  serve         Run the server\n")
	fmt.Fprintf(os.Stderr, "  native        Start the server through the %s native library\n", bridge.LibraryName)
	fmt.Fprintf(os.Stderr, "  clear         Clear all cached responses\n")
	fmt.Fprintf(os.Stderr, "  help          Show this help message\n\n")
	fmt.Fprintf(os.Stderr, "Configuration:\n")
	fmt.Fprintf(os.Stderr, "  Flags can be set via command-line arguments, environment variables\n")
	fmt.Fprintf(os.Stderr, "  or %s. Command-line flags take precedence over environment\n", config.FileName)
	fmt.Fprintf(os.Stderr, "  variables, which take precedence over the file.\n\n")
	fmt.Fprintf(os.Stderr, "Run '%s [command] -h' for more information about a command.\n", os.Args[0])
}

func runServer(cfg config.Config) {
	logger := logging.Init(cfg.Debug)

	s, err := server.FromConfig(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating server: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running server: %v\n", err)
		os.Exit(1)
	}
}

// Package main is a command-line front end for the swiftlsp client. It
// starts sourcekit-lsp for a workspace, runs one query against it, and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"swiftlsp/internal/config"
	"swiftlsp/internal/lsp"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	workspace  string
	configPath string
	server     string
	file       string
	line       int
	column     int
	newName    string
	query      string
	op         string
	logLevel   string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	logger, err := newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	root := opts.workspace
	if root == "" {
		root, err = config.FindRoot(".")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v (use -workspace)\n", err)
			return 1
		}
	}

	var cfg config.Config
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadWorkspace(root)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.server != "" {
		cfg.Server = opts.server
	}

	server := lsp.NewServer(lsp.ServerConfig{
		Command:         cfg.Server,
		Args:            cfg.Args,
		Env:             cfg.Env,
		WorkspaceRoot:   root,
		LanguageID:      cfg.LanguageID,
		RequestTimeout:  cfg.RequestTimeout(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
	}, lsp.WithLogger(logger))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		if errors.Is(err, lsp.ErrIncompatibleServer) {
			fmt.Fprintf(os.Stderr, "Error: server is not usable: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: failed to start server: %v\n", err)
		}
		return 1
	}
	defer server.Shutdown(context.Background())

	result, err := runQuery(ctx, server, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s failed: %v\n", opts.op, err)
		return 1
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

// runQuery dispatches one operation against a running session.
func runQuery(ctx context.Context, server *lsp.Server, opts options) (any, error) {
	switch opts.op {
	case "definition":
		return server.Definition(ctx, opts.file, opts.line, opts.column)
	case "hover":
		return server.Hover(ctx, opts.file, opts.line, opts.column)
	case "symbols":
		return server.DocumentSymbols(ctx, opts.file)
	case "workspace-symbols":
		return server.WorkspaceSymbols(ctx, opts.query)
	case "rename":
		if opts.newName == "" {
			return nil, fmt.Errorf("rename requires -new-name")
		}
		return server.Rename(ctx, opts.file, opts.line, opts.column, opts.newName)
	default:
		return nil, fmt.Errorf("unknown operation %q", opts.op)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.workspace, "workspace", "", "Workspace/project root directory (default: detected from cwd)")
	flag.StringVar(&opts.workspace, "w", "", "Workspace/project root directory (shorthand)")
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file (default: <root>/"+config.DefaultFileName+")")
	flag.StringVar(&opts.server, "server", "", "Language server executable (default: sourcekit-lsp)")
	flag.StringVar(&opts.file, "file", "", "Workspace-relative file path")
	flag.IntVar(&opts.line, "line", 0, "Zero-based line number")
	flag.IntVar(&opts.column, "column", 0, "Zero-based column number")
	flag.StringVar(&opts.newName, "new-name", "", "Replacement name for rename")
	flag.StringVar(&opts.query, "query", "", "Search string for workspace-symbols")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "swiftlsp - query a Swift workspace through sourcekit-lsp\n\n")
		fmt.Fprintf(os.Stderr, "Usage: swiftlsp [options] <operation>\n\n")
		fmt.Fprintf(os.Stderr, "Operations: definition, hover, symbols, workspace-symbols, rename\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  swiftlsp -w ./proj -file Sources/main.swift -line 12 -column 8 definition\n")
		fmt.Fprintf(os.Stderr, "  swiftlsp -w ./proj -file Sources/main.swift symbols\n")
		fmt.Fprintf(os.Stderr, "  swiftlsp -w ./proj -query AppDelegate workspace-symbols\n")
		fmt.Fprintf(os.Stderr, "  swiftlsp -w ./proj -file Sources/main.swift -line 4 -column 9 -new-name total rename\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("swiftlsp %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		os.Exit(0)
	}

	opts.op = flag.Arg(0)
	if opts.op == "" {
		flag.Usage()
		os.Exit(1)
	}

	switch opts.op {
	case "definition", "hover", "symbols", "rename":
		if opts.file == "" {
			fmt.Fprintf(os.Stderr, "Error: %s requires -file\n", opts.op)
			os.Exit(1)
		}
	case "workspace-symbols":
		if opts.query == "" {
			fmt.Fprintf(os.Stderr, "Error: workspace-symbols requires -query\n")
			os.Exit(1)
		}
	}

	return opts
}

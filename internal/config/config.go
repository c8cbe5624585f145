// Package config loads the swiftlsp client configuration. Configuration is
// optional: with no file present the defaults drive sourcekit-lsp directly.
// Files are JSONC (comments allowed) and are validated
// against an embedded JSON Schema before use.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/muhammadmuzzammil1998/jsonc"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed config.schema.json
var configSchema []byte

// DefaultFileName is the config file looked up in the workspace root.
const DefaultFileName = ".swiftlsp.jsonc"

var (
	// ErrInvalidConfig indicates the file failed schema validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoWorkspaceRoot indicates root detection found no project marker.
	ErrNoWorkspaceRoot = errors.New("no workspace root found")
)

// Config holds the settings for one language server session.
type Config struct {
	// Server is the language server executable.
	Server string `json:"server"`

	// Args are extra command-line arguments for the server.
	Args []string `json:"args,omitempty"`

	// Env are additional environment variables for the server process.
	Env map[string]string `json:"env,omitempty"`

	// LanguageID is sent with textDocument/didOpen.
	LanguageID string `json:"languageId"`

	// RequestTimeoutSeconds bounds each request.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds"`

	// ShutdownTimeoutSeconds bounds graceful shutdown before a kill.
	ShutdownTimeoutSeconds int `json:"shutdownTimeoutSeconds"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server:                 "sourcekit-lsp",
		LanguageID:             "swift",
		RequestTimeoutSeconds:  30,
		ShutdownTimeoutSeconds: 5,
	}
}

// RequestTimeout returns the request timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the shutdown timeout as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(configSchema))
		if err != nil {
			schemaErr = fmt.Errorf("decode config schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		const url = "mem://swiftlsp/config.schema.json"
		if err := c.AddResource(url, doc); err != nil {
			schemaErr = fmt.Errorf("register config schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(url)
	})
	return schema, schemaErr
}

// Load reads and validates a config file. Fields left out of the file keep
// their defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return parse(raw, path)
}

// LoadWorkspace looks for DefaultFileName in the workspace root. A missing
// file is not an error; the defaults are returned.
func LoadWorkspace(root string) (Config, error) {
	path := filepath.Join(root, DefaultFileName)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return parse(raw, path)
}

func parse(raw []byte, path string) (Config, error) {
	data := jsonc.ToJSON(raw)

	sch, err := compiledSchema()
	if err != nil {
		return Config{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := sch.Validate(inst); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// rootMarkers identify a Swift project or repository root, in priority
// order within each directory.
var rootMarkers = []string{"Package.swift", "buildServer.json", ".git"}

// FindRoot walks upward from start looking for a project marker and returns
// the first directory that carries one.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", start, err)
	}

	for {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: searched from %s", ErrNoWorkspaceRoot, start)
		}
		dir = parent
	}
}

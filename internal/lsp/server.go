package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ServerStatus indicates the current state of a session.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerConfig defines how to start the language server subprocess.
type ServerConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkspaceRoot is the repository root path. It is also the working
	// directory of the subprocess.
	WorkspaceRoot string

	// LanguageID is sent with textDocument/didOpen.
	LanguageID string

	// RequestTimeout bounds each request (default: 30s).
	RequestTimeout time.Duration

	// ShutdownTimeout bounds the graceful shutdown/exit sequence before the
	// process is killed (default: 5s).
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a configuration that drives sourcekit-lsp for
// a Swift workspace rooted at the given path.
func DefaultServerConfig(workspaceRoot string) ServerConfig {
	return ServerConfig{
		Command:         "sourcekit-lsp",
		WorkspaceRoot:   workspaceRoot,
		LanguageID:      "swift",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is a session against a single language server subprocess. It owns
// the process, the framed transport, and the message router, drives the
// initialize/initialized handshake, and exposes the typed query operations.
//
// The lifecycle is two-phase: Start launches and initializes the backend,
// Shutdown tears it down. Shutdown is idempotent and safe to call after a
// partially failed Start.
type Server struct {
	mu     sync.Mutex
	config ServerConfig
	logger *zap.Logger

	// Session identity, attached to every log line.
	sessionID string

	// Process management
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	router *Router

	// State
	status       atomic.Int32
	capabilities json.RawMessage
	serverInfo   json.RawMessage

	// Open-file scope refcounts. A document is opened on the 0->1
	// transition and closed on 1->0, so nested scopes on the same file
	// produce exactly one didOpen/didClose pair.
	documents   map[DocumentURI]int
	documentsMu sync.Mutex

	// Diagnostics pushed by the server, retained per document.
	diagnostics   map[DocumentURI][]Diagnostic
	diagnosticsMu sync.RWMutex

	// Backend status signals.
	serviceReady     chan struct{}
	serviceReadyOnce sync.Once
	completionsReady atomic.Bool

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	exitCh       chan error
	teardownOnce sync.Once
}

// NewServer creates a session (not yet started).
func NewServer(config ServerConfig, opts ...ServerOption) *Server {
	if config.Command == "" {
		config.Command = "sourcekit-lsp"
	}
	if config.LanguageID == "" {
		config.LanguageID = "swift"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		config:       config,
		logger:       zap.NewNop(),
		sessionID:    uuid.NewString(),
		documents:    make(map[DocumentURI]int),
		diagnostics:  make(map[DocumentURI][]Diagnostic),
		serviceReady: make(chan struct{}),
		exitCh:       make(chan error, 1),
	}
	s.status.Store(int32(ServerStatusStopped))

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.sessionID))
	return s
}

// Start launches the subprocess and performs the handshake. On return the
// session is Ready, or an error is returned and the process is gone.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != ServerStatusStopped {
		return ErrAlreadyStarted
	}
	s.status.Store(int32(ServerStatusStarting))
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.logger.Info("starting language server",
		zap.String("command", s.config.Command),
		zap.String("workspace", s.config.WorkspaceRoot))

	if err := s.startProcess(); err != nil {
		s.status.Store(int32(ServerStatusError))
		return err
	}

	s.router = NewRouter(NewTransport(s.stdout, s.stdin), s.logger)

	// Bookkeeping handlers must be attached before initialize is
	// dispatched; a fast server may push registrations or status
	// notifications as soon as it sees the request.
	s.registerHandlers()

	s.router.Start(s.ctx)
	go s.monitorProcess()
	go s.drainStderr()

	s.status.Store(int32(ServerStatusInitializing))
	if err := s.initialize(ctx); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.teardown()
		return fmt.Errorf("initialize: %w", err)
	}

	s.status.Store(int32(ServerStatusReady))
	s.logger.Info("language server ready")
	return nil
}

// startProcess starts the language server executable with the workspace
// root as its working directory.
func (s *Server) startProcess() error {
	cmd := exec.CommandContext(s.ctx, s.config.Command, s.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = s.config.WorkspaceRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start process: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
	return nil
}

// monitorProcess waits for the subprocess and signals its exit.
func (s *Server) monitorProcess() {
	if s.cmd == nil {
		return
	}
	err := s.cmd.Wait()
	select {
	case s.exitCh <- err:
	default:
	}
}

// drainStderr forwards subprocess stderr lines to the logger. Stderr is not
// part of the protocol channel; draining it keeps the pipe from filling.
func (s *Server) drainStderr() {
	if s.stderr == nil {
		return
	}
	scanner := bufio.NewScanner(s.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug("server stderr", zap.String("line", scanner.Text()))
	}
}

// initialize performs the handshake: send initialize built from the
// validated template, check the negotiated capabilities, send initialized.
func (s *Server) initialize(ctx context.Context) error {
	params, err := buildInitializeParams(s.config.WorkspaceRoot)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var result json.RawMessage
	if err := s.router.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	// The backend must offer incremental text document sync; anything else
	// means it is not the server this client was built against.
	change := gjson.GetBytes(result, "capabilities.textDocumentSync.change")
	if !change.Exists() || change.Int() != int64(TextDocumentSyncKindIncremental) {
		return fmt.Errorf("%w: textDocumentSync.change is %q, want %d",
			ErrIncompatibleServer, change.Raw, TextDocumentSyncKindIncremental)
	}

	s.capabilities = json.RawMessage(gjson.GetBytes(result, "capabilities").Raw)
	if info := gjson.GetBytes(result, "serverInfo"); info.Exists() {
		s.serverInfo = json.RawMessage(info.Raw)
	}

	if err := s.router.Notify("initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// registerHandlers attaches the handlers for everything the server may push.
func (s *Server) registerHandlers() {
	s.router.HandleRequest("client/registerCapability", func(params json.RawMessage) (any, error) {
		var p RegistrationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		for _, reg := range p.Registrations {
			s.logger.Debug("capability registered", zap.String("method", reg.Method))
			if reg.Method == "textDocument/completion" {
				s.completionsReady.Store(true)
			}
		}
		return nil, nil
	})

	s.router.HandleRequest("workspace/executeClientCommand", func(params json.RawMessage) (any, error) {
		return []any{}, nil
	})

	s.router.HandleNotification("language/status", func(params json.RawMessage) {
		var p LanguageStatusParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		s.logger.Debug("language status", zap.String("type", p.Type), zap.String("message", p.Message))
		if p.Type == "ServiceReady" && p.Message == "ServiceReady" {
			s.serviceReadyOnce.Do(func() { close(s.serviceReady) })
		}
	})

	s.router.HandleNotification("window/logMessage", func(params json.RawMessage) {
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		switch p.Type {
		case MessageTypeError:
			s.logger.Warn("server log", zap.String("message", p.Message))
		default:
			s.logger.Debug("server log", zap.String("message", p.Message))
		}
	})

	s.router.HandleNotification("textDocument/publishDiagnostics", func(params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		s.diagnosticsMu.Lock()
		if len(p.Diagnostics) == 0 {
			delete(s.diagnostics, p.URI)
		} else {
			s.diagnostics[p.URI] = p.Diagnostics
		}
		s.diagnosticsMu.Unlock()
	})

	s.router.HandleNotification("$/progress", func(params json.RawMessage) {})
	s.router.HandleNotification("language/actionableNotification", func(params json.RawMessage) {})
}

// Shutdown tears the session down: graceful shutdown/exit first, then a
// forced kill if the process does not exit within the shutdown timeout.
// Forced termination is not an error. Shutdown is idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.Status()
	if status == ServerStatusStopped || status == ServerStatusShuttingDown {
		return nil
	}
	s.status.Store(int32(ServerStatusShuttingDown))
	s.logger.Info("shutting down language server")

	if s.router != nil && !s.router.IsClosed() {
		sctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		if err := s.router.Call(sctx, "shutdown", nil, nil); err != nil {
			s.logger.Debug("shutdown request failed", zap.Error(err))
		}
		if err := s.router.Notify("exit", nil); err != nil {
			s.logger.Debug("exit notification failed", zap.Error(err))
		}
		cancel()
	}

	if s.cmd != nil {
		select {
		case <-s.exitCh:
		case <-time.After(s.config.ShutdownTimeout):
			s.logger.Warn("server unresponsive, killing process")
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
		}
	}

	s.teardown()
	s.status.Store(int32(ServerStatusStopped))
	return nil
}

// teardown releases connection resources. Safe to call more than once and
// after a partial Start.
func (s *Server) teardown() {
	s.teardownOnce.Do(func() {
		if s.router != nil {
			s.router.Close()
		}
		if s.stdin != nil {
			s.stdin.Close()
		}
		if s.stdout != nil {
			s.stdout.Close()
		}
		if s.stderr != nil {
			s.stderr.Close()
		}
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Status returns the current session status.
func (s *Server) Status() ServerStatus {
	return ServerStatus(s.status.Load())
}

// Capabilities returns the raw capabilities the server reported during the
// handshake.
func (s *Server) Capabilities() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// ServiceReady is closed once the backend reports its analysis service is
// ready. Queries do not wait on it; Ready (post-handshake) is the contract.
func (s *Server) ServiceReady() <-chan struct{} {
	return s.serviceReady
}

// CompletionsAvailable reports whether the backend dynamically registered
// completion support.
func (s *Server) CompletionsAvailable() bool {
	return s.completionsReady.Load()
}

// Diagnostics returns the most recent diagnostics pushed for a file.
func (s *Server) Diagnostics(relPath string) []Diagnostic {
	uri := s.fileURI(relPath)
	s.diagnosticsMu.RLock()
	defer s.diagnosticsMu.RUnlock()
	return s.diagnostics[uri]
}

// ensureReady rejects queries unless the session is Ready. This is a
// precondition failure with no I/O side effect.
func (s *Server) ensureReady() error {
	if s.Status() != ServerStatusReady {
		s.logger.Warn("query before session ready", zap.String("status", s.Status().String()))
		return ErrNotStarted
	}
	return nil
}

// call issues one request under the configured request timeout.
func (s *Server) call(ctx context.Context, method string, params any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()
	return s.router.Call(ctx, method, params, result)
}

// fileURI resolves a workspace-relative path to a file URI.
func (s *Server) fileURI(relPath string) DocumentURI {
	path := relPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.config.WorkspaceRoot, relPath)
	}
	return FilePathToURI(path)
}

// --- Open-file scope ---

// withOpenFile runs fn inside an open-file scope for the target file:
// didOpen is sent on entry and didClose on every exit path, including when
// fn fails, so no open state leaks across calls.
func (s *Server) withOpenFile(relPath string, fn func(uri DocumentURI) error) error {
	uri, err := s.openFile(relPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.closeFile(uri); cerr != nil {
			s.logger.Warn("didClose failed", zap.String("uri", string(uri)), zap.Error(cerr))
		}
	}()
	return fn(uri)
}

// openFile sends textDocument/didOpen on the first overlapping scope for a
// file and bumps the refcount on the rest.
func (s *Server) openFile(relPath string) (DocumentURI, error) {
	path := relPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.config.WorkspaceRoot, relPath)
	}
	uri := FilePathToURI(path)

	s.documentsMu.Lock()
	defer s.documentsMu.Unlock()

	if s.documents[uri] > 0 {
		s.documents[uri]++
		return uri, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", relPath, err)
	}

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: s.config.LanguageID,
			Version:    1,
			Text:       string(content),
		},
	}
	if err := s.router.Notify("textDocument/didOpen", params); err != nil {
		return "", fmt.Errorf("didOpen: %w", err)
	}
	s.documents[uri] = 1
	return uri, nil
}

// closeFile drops one refcount and sends textDocument/didClose when the
// last overlapping scope exits.
func (s *Server) closeFile(uri DocumentURI) error {
	s.documentsMu.Lock()
	defer s.documentsMu.Unlock()

	n := s.documents[uri]
	if n > 1 {
		s.documents[uri] = n - 1
		return nil
	}
	delete(s.documents, uri)

	return s.router.Notify("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// --- Typed queries ---

// Definition returns the definition locations for the symbol at the given
// zero-based line and column of a workspace-relative file.
func (s *Server) Definition(ctx context.Context, relPath string, line, column int) ([]Location, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	var locs []Location
	err := s.withOpenFile(relPath, func(uri DocumentURI) error {
		params := TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     Position{Line: line, Character: column},
		}
		var raw json.RawMessage
		if err := s.call(ctx, "textDocument/definition", params, &raw); err != nil {
			return err
		}
		var perr error
		locs, perr = parseLocationResult(raw)
		return perr
	})
	return locs, err
}

// Hover returns hover information for the symbol at the given position, or
// nil when the server has nothing to show.
func (s *Server) Hover(ctx context.Context, relPath string, line, column int) (*Hover, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	var hover *Hover
	err := s.withOpenFile(relPath, func(uri DocumentURI) error {
		params := HoverParams{
			TextDocumentPositionParams: TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: uri},
				Position:     Position{Line: line, Character: column},
			},
		}
		var raw json.RawMessage
		if err := s.call(ctx, "textDocument/hover", params, &raw); err != nil {
			return err
		}
		var perr error
		hover, perr = parseHoverResult(raw)
		return perr
	})
	return hover, err
}

// DocumentSymbols returns the symbols declared in a file.
func (s *Server) DocumentSymbols(ctx context.Context, relPath string) ([]DocumentSymbol, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	var syms []DocumentSymbol
	err := s.withOpenFile(relPath, func(uri DocumentURI) error {
		params := DocumentSymbolParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
		}
		var raw json.RawMessage
		if err := s.call(ctx, "textDocument/documentSymbol", params, &raw); err != nil {
			return err
		}
		var perr error
		syms, perr = parseDocumentSymbolResult(raw)
		return perr
	})
	return syms, err
}

// WorkspaceSymbols searches the whole workspace for symbols matching the
// query. A null result from the server yields an empty list.
func (s *Server) WorkspaceSymbols(ctx context.Context, query string) ([]WorkspaceSymbol, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	params := WorkspaceSymbolParams{
		Query:         query,
		WorkDoneToken: uuid.NewString(),
	}
	var raw json.RawMessage
	if err := s.call(ctx, "workspace/symbol", params, &raw); err != nil {
		return nil, err
	}
	return parseWorkspaceSymbolResult(raw)
}

// Rename renames the symbol at the given position across the workspace and
// returns the edits to apply, keyed by document URI.
func (s *Server) Rename(ctx context.Context, relPath string, line, column int, newName string) (WorkspaceEdits, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	var edits WorkspaceEdits
	err := s.withOpenFile(relPath, func(uri DocumentURI) error {
		params := RenameParams{
			TextDocumentPositionParams: TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: uri},
				Position:     Position{Line: line, Character: column},
			},
			NewName: newName,
		}
		var raw json.RawMessage
		if err := s.call(ctx, "textDocument/rename", params, &raw); err != nil {
			return err
		}
		var perr error
		edits, perr = parseRenameResult(raw)
		return perr
	})
	return edits, err
}

// Package lsp implements a client-side Language Server Protocol engine.
//
// The engine launches an external analysis backend (sourcekit-lsp by
// default) as a subprocess, speaks JSON-RPC 2.0 with Content-Length framing
// over its stdin/stdout, and answers typed code-intelligence queries:
// definition, hover, document symbols, workspace symbols, and rename.
//
// # Architecture
//
// The package is organized around these core components:
//
//   - Server: the session; owns the subprocess, drives the handshake, and
//     exposes the typed query operations
//   - Router: correlates requests with responses and dispatches server
//     notifications and server-initiated requests to registered handlers
//   - Transport: Content-Length framing over the subprocess byte streams
//
// # Quick Start
//
//	srv := lsp.NewServer(lsp.DefaultServerConfig("/path/to/workspace"))
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(ctx)
//
//	locs, err := srv.Definition(ctx, "Sources/App/main.swift", 10, 5)
//	edits, err := srv.Rename(ctx, "Sources/App/main.swift", 10, 5, "newName")
//
// # Concurrency
//
// A single read loop drains the connection for the session's lifetime. Any
// number of goroutines may issue queries concurrently; each suspends only
// itself while waiting for its correlated response. Notifications are
// dispatched in arrival order, each handler running to completion before
// the next inbound message is processed.
//
// # Errors
//
// Transport faults (closed stream, malformed frame) end the session and
// fail every pending request with ErrShutdown. Response-shape violations
// surface as ProtocolError. Queries issued before the session is Ready
// fail fast with ErrNotStarted. Nothing is retried automatically.
package lsp

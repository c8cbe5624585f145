package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the LSP client.
var (
	// ErrNotStarted indicates a query was issued before the session reached Ready.
	ErrNotStarted = errors.New("language server not started")

	// ErrAlreadyStarted indicates the session is already running.
	ErrAlreadyStarted = errors.New("language server already started")

	// ErrShutdown indicates the session has been torn down. Pending requests
	// fail with this error when the connection closes underneath them.
	ErrShutdown = errors.New("language server shut down")

	// ErrMalformedFrame indicates the inbound byte stream is corrupt. The
	// session cannot continue past it.
	ErrMalformedFrame = errors.New("malformed message frame")

	// ErrIncompatibleServer indicates the backend failed capability
	// negotiation during the handshake.
	ErrIncompatibleServer = errors.New("incompatible language server")
)

// RPCError represents a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

// ProtocolError indicates a response whose shape does not match the
// contract for its method. It signals a server/protocol incompatibility
// and is never silently coerced into a usable result.
type ProtocolError struct {
	Method string
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s response: %s", e.Method, e.Reason)
}

// protocolErrorf builds a ProtocolError for a method.
func protocolErrorf(method, format string, args ...any) *ProtocolError {
	return &ProtocolError{Method: method, Reason: fmt.Sprintf(format, args...)}
}

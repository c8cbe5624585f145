package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// NotificationHandler handles an inbound notification from the server.
// Handlers run inline on the read loop so notifications are observed in
// arrival order; a handler that blocks stalls all further dispatch, so
// handlers must be bounded-latency or hand long work off asynchronously.
type NotificationHandler func(params json.RawMessage)

// RequestHandler handles a server-initiated request. The returned value is
// marshaled and sent back as the response result; a returned error becomes a
// JSON-RPC error response.
type RequestHandler func(params json.RawMessage) (any, error)

// Request is an outgoing JSON-RPC request or notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an inbound JSON-RPC response to one of our requests.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// successReply is an outgoing success response to a server-initiated
// request. The id is echoed verbatim since the server chooses its own id
// representation. Result is always serialized, so a nil result becomes an
// explicit null per JSON-RPC.
type successReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// errorReply is an outgoing error response to a server-initiated request.
type errorReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *RPCError       `json:"error"`
}

// Router multiplexes JSON-RPC traffic over a single Transport. It allocates
// correlation ids for outgoing requests, resolves inbound responses against
// the pending-request table, and dispatches inbound notifications and
// server-initiated requests to registered handlers.
//
// Handlers are registered during session setup, before Start, and are
// immutable afterward.
type Router struct {
	transport *Transport
	logger    *zap.Logger

	nextID atomic.Int64

	mu            sync.Mutex
	pending       map[int64]chan *Response
	notifications map[string]NotificationHandler
	requests      map[string]RequestHandler

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}
}

// NewRouter creates a router over the given transport. The read loop does
// not run until Start is called.
func NewRouter(t *Transport, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		transport:     t,
		logger:        logger,
		pending:       make(map[int64]chan *Response),
		notifications: make(map[string]NotificationHandler),
		requests:      make(map[string]RequestHandler),
		done:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
}

// HandleNotification registers a handler for a server notification method.
// Must be called before Start.
func (r *Router) HandleNotification(method string, handler NotificationHandler) {
	r.mu.Lock()
	r.notifications[method] = handler
	r.mu.Unlock()
}

// HandleRequest registers a handler for a server-initiated request method.
// Must be called before Start.
func (r *Router) HandleRequest(method string, handler RequestHandler) {
	r.mu.Lock()
	r.requests[method] = handler
	r.mu.Unlock()
}

// Start begins the read loop. Exactly one loop drains the transport for the
// router's lifetime.
func (r *Router) Start(ctx context.Context) {
	go r.readLoop(ctx)
}

// Close tears the router down. Every outstanding pending request fails with
// ErrShutdown. Close is idempotent.
func (r *Router) Close() {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)

		// Pending callers wake on r.done; clearing the table keeps late
		// responses from touching their channels.
		r.mu.Lock()
		r.pending = make(map[int64]chan *Response)
		r.mu.Unlock()
	})
}

// Done is closed when the router has shut down.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// IsClosed reports whether the router has been closed.
func (r *Router) IsClosed() bool {
	return r.closed.Load()
}

// Call sends a request and suspends the caller until its correlated response
// arrives, the context expires, or the router shuts down. Concurrent callers
// proceed independently and complete in response-arrival order.
func (r *Router) Call(ctx context.Context, method string, params any, result any) error {
	if r.closed.Load() {
		return ErrShutdown
	}

	id := r.nextID.Add(1)
	ch := make(chan *Response, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if err := r.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrShutdown
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a notification (no response expected).
func (r *Router) Notify(method string, params any) error {
	if r.closed.Load() {
		return ErrShutdown
	}
	return r.send(&Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// send marshals a message and writes one frame.
func (r *Router) send(msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return r.transport.WriteMessage(body)
}

// readLoop drains the transport and dispatches each inbound envelope. Any
// read error ends the session: EOF means the server went away, anything else
// means the stream is corrupt. Either way all pending requests are failed.
func (r *Router) readLoop(ctx context.Context) {
	defer close(r.loopDone)
	defer r.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		default:
		}

		msg, err := r.transport.ReadMessage()
		if err != nil {
			if err != io.EOF && !r.closed.Load() {
				r.logger.Error("transport failed", zap.Error(err))
			}
			return
		}

		r.dispatch(msg)
	}
}

// dispatch branches on envelope shape: a method with an id is a
// server-initiated request, a method without an id is a notification, an id
// alone is a response to one of our requests.
func (r *Router) dispatch(data json.RawMessage) {
	if !gjson.ValidBytes(data) {
		r.logger.Warn("dropping unparsable message", zap.Int("bytes", len(data)))
		return
	}

	id := gjson.GetBytes(data, "id")
	method := gjson.GetBytes(data, "method")

	switch {
	case method.Exists() && id.Exists():
		r.dispatchRequest(data, method.String())
	case method.Exists():
		r.dispatchNotification(data, method.String())
	case id.Exists():
		r.dispatchResponse(data)
	default:
		r.logger.Warn("dropping message with neither id nor method")
	}
}

// dispatchResponse resolves a response against the pending table. An
// unmatched id is a protocol warning, not an error.
func (r *Router) dispatchResponse(data json.RawMessage) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		r.logger.Warn("dropping undecodable response", zap.Error(err))
		return
	}

	r.mu.Lock()
	ch, ok := r.pending[resp.ID]
	if ok {
		delete(r.pending, resp.ID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("response for unknown request id", zap.Int64("id", resp.ID))
		return
	}
	ch <- &resp
}

// dispatchNotification invokes the registered handler inline so handlers
// observe notifications in arrival order. Unregistered methods are dropped
// for forward compatibility.
func (r *Router) dispatchNotification(data json.RawMessage, method string) {
	r.mu.Lock()
	handler, ok := r.notifications[method]
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("dropping unhandled notification", zap.String("method", method))
		return
	}

	params := json.RawMessage(gjson.GetBytes(data, "params").Raw)
	handler(params)
}

// dispatchRequest invokes the registered handler and sends its return value
// back as a response with the server's id. Unregistered methods are answered
// with a method-not-found error since the server expects a reply.
func (r *Router) dispatchRequest(data json.RawMessage, method string) {
	rawID := json.RawMessage(gjson.GetBytes(data, "id").Raw)

	r.mu.Lock()
	handler, ok := r.requests[method]
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("rejecting unhandled server request", zap.String("method", method))
		r.sendReply(rawID, nil, &RPCError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", method),
		})
		return
	}

	params := json.RawMessage(gjson.GetBytes(data, "params").Raw)
	result, err := handler(params)
	if err != nil {
		rpcErr, isRPC := err.(*RPCError)
		if !isRPC {
			rpcErr = &RPCError{Code: CodeInternalError, Message: err.Error()}
		}
		r.sendReply(rawID, nil, rpcErr)
		return
	}
	r.sendReply(rawID, result, nil)
}

// sendReply writes a response to a server-initiated request.
func (r *Router) sendReply(id json.RawMessage, result any, rpcErr *RPCError) {
	var msg any
	if rpcErr != nil {
		msg = &errorReply{JSONRPC: "2.0", ID: id, Error: rpcErr}
	} else {
		msg = &successReply{JSONRPC: "2.0", ID: id, Result: result}
	}
	if err := r.send(msg); err != nil {
		r.logger.Warn("failed to answer server request", zap.Error(err))
	}
}

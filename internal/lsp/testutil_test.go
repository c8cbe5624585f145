package lsp

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// fakePeer plays the language server side of a connection over in-memory
// pipes, reading the frames the client writes and pushing frames back.
type fakePeer struct {
	t         *testing.T
	transport *Transport
	closers   []io.Closer
}

// newRouterPair wires a Router to a fakePeer and starts the read loop.
func newRouterPair(t *testing.T) (*Router, *fakePeer) {
	t.Helper()

	clientIn, peerOut := io.Pipe() // peer writes -> client reads
	peerIn, clientOut := io.Pipe() // client writes -> peer reads

	router := NewRouter(NewTransport(clientIn, clientOut), zap.NewNop())
	peer := &fakePeer{
		t:         t,
		transport: NewTransport(peerIn, peerOut),
		closers:   []io.Closer{clientIn, peerOut, peerIn, clientOut},
	}

	t.Cleanup(func() {
		router.Close()
		peer.close()
	})
	return router, peer
}

func (p *fakePeer) close() {
	for _, c := range p.closers {
		c.Close()
	}
}

// read returns the next message the client sent.
func (p *fakePeer) read() gjson.Result {
	msg, err := p.transport.ReadMessage()
	if err != nil {
		p.t.Errorf("peer read: %v", err)
		return gjson.Result{}
	}
	return gjson.ParseBytes(msg)
}

// send pushes a message to the client.
func (p *fakePeer) send(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		p.t.Errorf("peer marshal: %v", err)
		return
	}
	p.sendRaw(body)
}

func (p *fakePeer) sendRaw(body []byte) {
	if err := p.transport.WriteMessage(body); err != nil {
		p.t.Errorf("peer write: %v", err)
	}
}

// respond answers a request id with a result.
func (p *fakePeer) respond(id int64, result any) {
	p.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

// respondError answers a request id with an error.
func (p *fakePeer) respondError(id int64, code int, message string) {
	p.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
}

// notify pushes a notification to the client.
func (p *fakePeer) notify(method string, params any) {
	p.send(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// newTestSession builds a Ready session wired to a fakePeer, with no real
// subprocess behind it.
func newTestSession(t *testing.T) (*Server, *fakePeer) {
	t.Helper()

	s := NewServer(ServerConfig{
		Command:       "unused",
		WorkspaceRoot: t.TempDir(),
	})

	clientIn, peerOut := io.Pipe()
	peerIn, clientOut := io.Pipe()

	s.router = NewRouter(NewTransport(clientIn, clientOut), zap.NewNop())
	s.registerHandlers()

	var cancel context.CancelFunc
	s.ctx, cancel = context.WithCancel(context.Background())
	s.cancel = cancel
	s.router.Start(s.ctx)
	s.status.Store(int32(ServerStatusReady))

	peer := &fakePeer{
		t:         t,
		transport: NewTransport(peerIn, peerOut),
		closers:   []io.Closer{clientIn, peerOut, peerIn, clientOut},
	}

	t.Cleanup(func() {
		s.teardown()
		peer.close()
	})
	return s, peer
}

// mustJSON marshals for test fixtures.
func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

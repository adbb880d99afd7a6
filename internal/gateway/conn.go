package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/parleo-app/parleo/pkg/voice"
)

// errConnClosed is returned by pending waits when the websocket goes away.
var errConnClosed = errors.New("gateway: connection closed")

// callResult is the outcome of one relay command awaited by id.
type callResult struct {
	// failure is the client-reported failure reason; empty means success.
	failure string

	// audio is the recorded segment for record commands.
	audio voice.AudioPayload
}

// wireConn wraps a websocket connection with serialized writes and a pending
// command registry. Relay implementations send a command carrying a fresh id
// and block on [wireConn.await] until the read loop resolves it.
type wireConn struct {
	ws *websocket.Conn

	// writeMu serializes all writes. A play header and its binary payload are
	// written under one hold so frames stay adjacent.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan callResult

	// expecting pairs a segment announcement with the next binary frame. The
	// read loop is single-goroutine, so announcement and frame cannot race.
	expecting *clientMessage

	closed    chan struct{}
	closeOnce sync.Once
}

func newWireConn(ws *websocket.Conn) *wireConn {
	return &wireConn{
		ws:      ws,
		pending: make(map[string]chan callResult),
		closed:  make(chan struct{}),
	}
}

// sendJSON marshals v and writes it as one text frame.
func (c *wireConn) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// sendJSONWithBinary writes a text header frame immediately followed by one
// binary frame.
func (c *wireConn) sendJSONWithBinary(ctx context.Context, v any, payload []byte) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageBinary, payload)
}

// register creates the result channel for a pending command id.
func (c *wireConn) register(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = make(chan callResult, 1)
}

// resolve delivers a result to the waiter registered under id, if any.
func (c *wireConn) resolve(id string, res callResult) {
	c.mu.Lock()
	ch := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ch != nil {
		ch <- res
	}
}

// drop discards a pending registration without resolving it.
func (c *wireConn) drop(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// await blocks until the command registered under id resolves, ctx is done,
// or the connection closes.
func (c *wireConn) await(ctx context.Context, id string) (callResult, error) {
	c.mu.Lock()
	ch := c.pending[id]
	c.mu.Unlock()
	if ch == nil {
		return callResult{}, fmt.Errorf("gateway: no pending command %q", id)
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		c.drop(id)
		return callResult{}, ctx.Err()
	case <-c.closed:
		return callResult{}, errConnClosed
	}
}

// expectBinary records a segment announcement; the next binary frame resolves
// the pending command named by it.
func (c *wireConn) expectBinary(msg *clientMessage) {
	c.mu.Lock()
	c.expecting = msg
	c.mu.Unlock()
}

// handleBinary pairs a binary frame with the preceding segment announcement.
func (c *wireConn) handleBinary(data []byte) {
	c.mu.Lock()
	msg := c.expecting
	c.expecting = nil
	c.mu.Unlock()
	if msg == nil {
		return
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	c.resolve(msg.ID, callResult{audio: voice.AudioPayload{Data: payload, MIME: msg.MIME}})
}

// close marks the connection dead and unblocks every waiter.
func (c *wireConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

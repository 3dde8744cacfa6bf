package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a bidirectional JSON-RPC channel to the gateway identified by
// (URL, bearer token). One Client owns one websocket connection; callers
// that need to talk to several gateways hold one Client per gateway.
type Client struct {
	url         string
	bearerToken string

	mu   sync.Mutex
	conn *websocket.Conn

	nextID  atomic.Int64
	pending map[int64]chan rpcResponse
	pendMu  sync.Mutex
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64             `json:"id"`
	Result json.RawMessage   `json:"result,omitempty"`
	Error  *rpcErrorEnvelope `json:"error,omitempty"`
}

type rpcErrorEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewClient builds a Client for the given gateway URL and bearer token.
// Dialing is deferred to the first Call — a Client that is never used
// never opens a socket.
func NewClient(url, bearerToken string) *Client {
	return &Client{
		url:         url,
		bearerToken: bearerToken,
		pending:     make(map[int64]chan rpcResponse),
	}
}

// Close tears down the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(map[string][]string)
	if c.bearerToken != "" {
		header["Authorization"] = []string{"Bearer " + c.bearerToken}
	}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, &TransportError{Op: "dial", Cause: err}
	}
	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

// readLoop dispatches incoming frames to whichever Call is waiting on that
// request id, and drops the connection on any read error so the next Call
// redials.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			c.failAllPending(err)
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}

		c.pendMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResponse{ID: id, Error: &rpcErrorEnvelope{Code: -1, Message: err.Error()}}
		delete(c.pending, id)
	}
}

// CallRaw issues a single JSON-RPC call and waits for its matching
// response or ctx's deadline, without retrying — retry policy lives in
// CallWithRetry.
func (c *Client) CallRaw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params for %s: %w", method, err)
	}

	id := c.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramBytes}

	respCh := make(chan rpcResponse, 1)
	c.pendMu.Lock()
	c.pending[id] = respCh
	c.pendMu.Unlock()

	c.mu.Lock()
	writeErr := conn.WriteJSON(req)
	c.mu.Unlock()
	if writeErr != nil {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, &TransportError{Op: "write:" + method, Cause: writeErr}
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, &MethodError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, &TransportError{Op: "wait:" + method, Cause: ctx.Err()}
	}
}

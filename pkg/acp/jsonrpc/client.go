package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/common/logger"
)

// RequestHandler processes an incoming request from the peer and returns a
// result or an error to send back. Handlers run on their own goroutine so a
// slow handler does not stall the read loop.
type RequestHandler func(ctx context.Context, method string, params json.RawMessage) (interface{}, *Error)

// Client handles JSON-RPC 2.0 communication over stdin/stdout streams.
// It supports outgoing calls and notifications as well as incoming
// notifications and incoming requests (the agent-to-client direction of ACP).
type Client struct {
	stdin  io.Writer
	stdout io.Reader

	requestID atomic.Int64
	pending   map[interface{}]chan *Response
	mu        sync.Mutex

	writeMu sync.Mutex

	onNotification func(method string, params json.RawMessage)
	onRequest      RequestHandler

	logger *logger.Logger
	done   chan struct{}
	once   sync.Once
}

// NewClient creates a new JSON-RPC client
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	return &Client{
		stdin:   stdin,
		stdout:  stdout,
		pending: make(map[interface{}]chan *Response),
		logger:  log.WithFields(zap.String("component", "jsonrpc-client")),
		done:    make(chan struct{}),
	}
}

// SetNotificationHandler sets the handler for incoming notifications
func (c *Client) SetNotificationHandler(handler func(method string, params json.RawMessage)) {
	c.onNotification = handler
}

// SetRequestHandler sets the handler for incoming requests
func (c *Client) SetRequestHandler(handler RequestHandler) {
	c.onRequest = handler
}

// Start begins reading messages from stdout
func (c *Client) Start(ctx context.Context) {
	go c.readLoop(ctx)
}

// Stop stops the client and fails all pending calls
func (c *Client) Stop() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Call sends a request and waits for a response
func (c *Client) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	id := c.requestID.Add(1)

	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  paramsJSON,
	}

	respCh := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	}
}

// Notify sends a notification (no response expected)
func (c *Client) Notify(method string, params interface{}) error {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	notif := &Notification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
	}

	return c.send(notif)
}

func (c *Client) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	data = append(data, '\n')

	c.writeMu.Lock()
	_, err = c.stdin.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	c.logger.Debug("sent message", zap.String("data", string(data)))
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(c.stdout)
	// Increase buffer size for large messages
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		c.logger.Debug("received message", zap.String("data", string(line)))

		// A message with both an ID and a method is an incoming request.
		var req Request
		if err := json.Unmarshal(line, &req); err == nil && req.ID != nil && req.Method != "" {
			c.handleRequest(ctx, &req)
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err == nil && resp.ID != nil {
			c.handleResponse(&resp)
			continue
		}

		var notif Notification
		if err := json.Unmarshal(line, &notif); err == nil && notif.Method != "" {
			c.handleNotification(&notif)
			continue
		}

		c.logger.Warn("received unknown message format", zap.String("data", string(line)))
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("read loop error", zap.Error(err))
	}

	// The peer closed its stdout; fail any callers still waiting.
	c.Stop()
}

func (c *Client) handleRequest(ctx context.Context, req *Request) {
	handler := c.onRequest
	if handler == nil {
		c.respondError(req.ID, &Error{Code: MethodNotFound, Message: fmt.Sprintf("no handler for method %q", req.Method)})
		return
	}

	go func() {
		result, rpcErr := handler(ctx, req.Method, req.Params)
		if rpcErr != nil {
			c.respondError(req.ID, rpcErr)
			return
		}

		var resultJSON json.RawMessage
		if result != nil {
			data, err := json.Marshal(result)
			if err != nil {
				c.respondError(req.ID, &Error{Code: InternalError, Message: "failed to marshal result"})
				return
			}
			resultJSON = data
		} else {
			resultJSON = json.RawMessage(`{}`)
		}

		resp := &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  resultJSON,
		}
		if err := c.send(resp); err != nil {
			c.logger.Error("failed to send response", zap.Any("id", req.ID), zap.Error(err))
		}
	}()
}

func (c *Client) respondError(id interface{}, rpcErr *Error) {
	resp := &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErr,
	}
	if err := c.send(resp); err != nil {
		c.logger.Error("failed to send error response", zap.Any("id", id), zap.Error(err))
	}
}

func (c *Client) handleResponse(resp *Response) {
	id := resp.ID
	// JSON numbers decode as float64; outgoing ids are int64.
	if f, ok := id.(float64); ok {
		id = int64(f)
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()

	if ok {
		ch <- resp
	} else {
		c.logger.Warn("received response for unknown request", zap.Any("id", resp.ID))
	}
}

func (c *Client) handleNotification(notif *Notification) {
	if c.onNotification != nil {
		c.onNotification(notif.Method, notif.Params)
	}
}

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport moves raw JSON frames between the app and the reasoning engine.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Write sends one raw frame.
	Write(data []byte) error

	// Inbound returns the channel of raw inbound frames. It is closed
	// when the transport disconnects.
	Inbound() <-chan []byte

	// Connected reports whether the transport is connected.
	Connected() bool
}

// Channel multiplexes requests, responses, and notifications over a single
// transport. Responses are matched to requests by correlation ID and
// delivered exactly once to the awaiting caller; unmatched responses are
// dropped with a warning. Engine-initiated requests (native tools, token
// refresh) surface on Requests; fire-and-forget notifications fan out to
// Subscribe-ers.
type Channel struct {
	transport Transport
	logger    *slog.Logger
	timeout   time.Duration

	pending   map[string]chan *Response
	pendingMu sync.Mutex

	requests    chan *Request
	broadcaster *Broadcaster

	statusMu sync.RWMutex
	status   Status

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Channel.
type Option func(*Channel)

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Channel) { c.timeout = d }
}

// WithLogger sets the channel logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// NewChannel creates a channel over the given transport.
func NewChannel(transport Transport, opts ...Option) *Channel {
	c := &Channel{
		transport: transport,
		logger:    slog.Default().With("component", "rpc"),
		timeout:   30 * time.Second,
		pending:   make(map[string]chan *Response),
		requests:  make(chan *Request, 100),
		status:    StatusUninitialized,
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.broadcaster = NewBroadcaster(c.logger)
	return c
}

// Start connects the transport and begins dispatching inbound frames.
func (c *Channel) Start(ctx context.Context) error {
	c.SetStatus(StatusInitializing)
	if err := c.transport.Connect(ctx); err != nil {
		c.SetStatus(StatusError)
		return fmt.Errorf("connect transport: %w", err)
	}
	c.wg.Add(1)
	go c.readLoop()
	c.SetStatus(StatusReady)
	return nil
}

// Close shuts the channel down and fails all pending calls.
func (c *Channel) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	err := c.transport.Close()
	c.wg.Wait()
	c.broadcaster.Close()
	c.SetStatus(StatusUninitialized)
	return err
}

// Status returns the current channel status. Dependents gate calls on
// StatusReady; restart handling is owned by the platform bridge, which
// drives the status through SetStatus.
func (c *Channel) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// SetStatus updates the channel status.
func (c *Channel) SetStatus(s Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// Ready reports whether the channel accepts calls.
func (c *Channel) Ready() bool {
	return c.Status() == StatusReady && c.transport.Connected()
}

// Call sends a request and waits for the correlated response.
func (c *Channel) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()

	req := Request{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, _ := json.Marshal(req)
	if err := c.transport.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		return nil, &Error{Code: ErrCodeTimeout, Message: fmt.Sprintf("request timeout after %v", c.timeout)}
	case <-c.stopChan:
		return nil, fmt.Errorf("channel closed")
	}
}

// Notify sends a fire-and-forget notification.
func (c *Channel) Notify(ctx context.Context, method string, params any) error {
	notif := Notification{JSONRPC: Version, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}
	data, _ := json.Marshal(notif)
	if err := c.transport.Write(data); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Respond answers an engine-initiated request by its original ID.
func (c *Channel) Respond(ctx context.Context, id string, result any, rpcErr *Error) error {
	resp := Response{JSONRPC: Version, ID: id, Error: rpcErr}
	if result != nil && rpcErr == nil {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = resultJSON
	}
	data, _ := json.Marshal(resp)
	if err := c.transport.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Requests returns the stream of engine-initiated requests.
func (c *Channel) Requests() <-chan *Request {
	return c.requests
}

// Subscribe registers a notification subscriber. Only notifications
// published after the call are delivered.
func (c *Channel) Subscribe() (<-chan *Notification, func()) {
	return c.broadcaster.Subscribe()
}

// readLoop dispatches inbound frames until the transport closes.
func (c *Channel) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case data, ok := <-c.transport.Inbound():
			if !ok {
				return
			}
			c.processFrame(data)
		}
	}
}

// envelope is a classification probe for inbound frames.
type envelope struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// processFrame classifies one inbound frame and routes it. Malformed frames
// are logged and dropped without affecting the channel.
func (c *Channel) processFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch {
	case env.Method == "" && env.ID != "":
		// Response to one of our requests.
		resp := &Response{JSONRPC: Version, ID: env.ID, Result: env.Result, Error: env.Error}
		c.pendingMu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Warn("dropping response with unknown id", "id", env.ID)
			return
		}
		ch <- resp

	case env.Method != "" && env.ID != "":
		// Engine-initiated request expecting a correlated response.
		req := &Request{JSONRPC: Version, ID: env.ID, Method: env.Method, Params: env.Params}
		select {
		case c.requests <- req:
		default:
			c.logger.Warn("request channel full, rejecting", "method", env.Method, "id", env.ID)
			_ = c.Respond(context.Background(), env.ID, nil, &Error{
				Code:    ErrCodeInternalError,
				Message: "request queue full",
			})
		}

	case env.Method != "":
		c.broadcaster.Publish(&Notification{JSONRPC: Version, Method: env.Method, Params: env.Params})

	default:
		c.logger.Warn("dropping frame with neither method nor id")
	}
}

// ProcessQuery sends a user query and waits for the final answer.
func (c *Channel) ProcessQuery(ctx context.Context, params ProcessQueryParams) (*ProcessQueryResult, error) {
	raw, err := c.Call(ctx, MethodProcessQuery, params)
	if err != nil {
		return nil, err
	}
	var result ProcessQueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unmarshal process_query result: %w", err)
	}
	return &result, nil
}

// SetAPIKey forwards an inference API key to the engine.
func (c *Channel) SetAPIKey(ctx context.Context, key string) error {
	_, err := c.Call(ctx, MethodSetAPIKey, KeyParams{Key: key})
	return err
}

// SetMentioraKey forwards the managed-service key to the engine.
func (c *Channel) SetMentioraKey(ctx context.Context, key string) error {
	_, err := c.Call(ctx, MethodSetMentioraKey, KeyParams{Key: key})
	return err
}

// SetAccessToken forwards a fresh access token to the engine.
func (c *Channel) SetAccessToken(ctx context.Context, token string) error {
	_, err := c.Call(ctx, MethodSetAccessToken, KeyParams{Key: token})
	return err
}

// SelfImprove sends a conversation digest for background self-improvement.
// Errors are the caller's to ignore; the engine treats this as advisory.
func (c *Channel) SelfImprove(ctx context.Context, digest string) error {
	_, err := c.Call(ctx, MethodSelfImprove, map[string]string{"digest": digest})
	return err
}

// ApplyDelta sends a session delta action to the engine.
func (c *Channel) ApplyDelta(ctx context.Context, action any) error {
	_, err := c.Call(ctx, MethodApplyDelta, action)
	return err
}

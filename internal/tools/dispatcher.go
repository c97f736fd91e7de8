package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexandertaboriskiy/navixmind/internal/rpc"
)

// Responder sends a correlated result or error back over the RPC channel.
type Responder interface {
	Respond(ctx context.Context, id string, result any, rpcErr *rpc.Error) error
}

// Dispatcher executes native tool requests from the reasoning engine. The
// per-query tool-call budget is consumed by the owning query session before
// a request reaches the dispatcher; requests past the budget never get
// here. Handler failures and panics become correlated error responses,
// never crashes.
type Dispatcher struct {
	registry  *Registry
	responder Responder
	logger    *slog.Logger

	defaultTimeout time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, responder Responder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:       registry,
		responder:      responder,
		logger:         logger.With("component", "tools"),
		defaultTimeout: 60 * time.Second,
	}
}

// Dispatch handles one tool request. The handler runs in the calling
// goroutine; callers that want detached execution spawn Dispatch themselves.
// The result is sent (or an error) exactly once, correlated by req.ID.
func (d *Dispatcher) Dispatch(ctx context.Context, req rpc.ToolRequest) {
	handler, ok := d.registry.Get(req.Tool)
	if !ok {
		d.respondError(ctx, req.ID, &rpc.Error{
			Code:    rpc.ErrCodeMethodNotFound,
			Message: fmt.Sprintf("unknown tool %q", req.Tool),
		})
		return
	}

	if err := d.registry.Validate(req.Tool, req.Args); err != nil {
		d.respondError(ctx, req.ID, &rpc.Error{
			Code:    rpc.ErrCodeInvalidParams,
			Message: err.Error(),
		})
		return
	}

	timeout := d.defaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := d.execute(execCtx, handler, req.Args)
	duration := time.Since(start)

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		d.logger.Warn("tool timed out", "tool", req.Tool, "timeout", timeout)
		d.respondError(ctx, req.ID, &rpc.Error{
			Code:    rpc.ErrCodeTimeout,
			Message: fmt.Sprintf("tool %s timed out after %v", req.Tool, timeout),
		})
	case err != nil:
		d.logger.Warn("tool failed", "tool", req.Tool, "error", err, "duration", duration)
		d.respondError(ctx, req.ID, toolError(err))
	default:
		d.logger.Debug("tool completed", "tool", req.Tool, "duration", duration)
		if respErr := d.responder.Respond(ctx, req.ID, result, nil); respErr != nil {
			d.logger.Error("failed to send tool result", "tool", req.Tool, "error", respErr)
		}
	}
}

// execute invokes the handler, converting panics into errors.
func (d *Dispatcher) execute(ctx context.Context, handler Handler, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return handler.Execute(ctx, args)
}

func (d *Dispatcher) respondError(ctx context.Context, id string, rpcErr *rpc.Error) {
	if err := d.responder.Respond(ctx, id, nil, rpcErr); err != nil {
		d.logger.Error("failed to send tool error", "id", id, "error", err)
	}
}

// toolError maps a handler error to a structured RPC error, preserving an
// already-structured error's code.
func toolError(err error) *rpc.Error {
	if rpcErr, ok := err.(*rpc.Error); ok {
		return rpcErr
	}
	return &rpc.Error{Code: rpc.ErrCodeTool, Message: err.Error()}
}

// ParseToolRequest decodes a native_tool request's parameters.
func ParseToolRequest(req *rpc.Request) (rpc.ToolRequest, error) {
	var tr rpc.ToolRequest
	if err := json.Unmarshal(req.Params, &tr); err != nil {
		return rpc.ToolRequest{}, fmt.Errorf("parse tool request: %w", err)
	}
	if tr.ID == "" {
		tr.ID = req.ID
	}
	if tr.Tool == "" {
		return rpc.ToolRequest{}, fmt.Errorf("tool request missing tool name")
	}
	return tr, nil
}

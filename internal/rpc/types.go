// Package rpc provides the JSON-RPC 2.0 channel between the orchestrator
// and the reasoning engine.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version tag carried by every envelope.
const Version = "2.0"

// Request is a JSON-RPC 2.0 request. IDs are UUID strings and must not be
// reused while a request is outstanding.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response carrying either a result or an error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a fire-and-forget message (no ID, no response expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Error is a structured JSON-RPC 2.0 error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Application error codes.
const (
	ErrCodeTool         = -32000
	ErrCodeTimeout      = -32001 // also token-refresh failure
	ErrCodeAuth         = -32002
	ErrCodeRateLimit    = -32003
	ErrCodeFileTooLarge = -32004
	ErrCodePolicy       = -32005
)

// Methods sent by the app to the engine.
const (
	MethodProcessQuery   = "process_query"
	MethodSetAPIKey      = "set_api_key"
	MethodSetMentioraKey = "set_mentiora_key"
	MethodSetAccessToken = "set_access_token"
	MethodSelfImprove    = "self_improve"
	MethodApplyDelta     = "apply_delta"
)

// Notification methods received from the engine.
const (
	NotifyLog               = "log"
	NotifyNativeTool        = "native_tool"
	NotifyRecordUsage       = "record_usage"
	NotifyRequestFreshToken = "request_fresh_token"
	NotifyAuthError         = "auth_error"
)

// Status describes the channel lifecycle.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusImporting     Status = "importing"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
	StatusRestarting    Status = "restarting"
)

// ProcessQueryParams are the parameters for process_query.
type ProcessQueryParams struct {
	ConversationUUID string   `json:"conversation_uuid"`
	Query            string   `json:"query"`
	AttachmentPaths  []string `json:"attachment_paths,omitempty"`
	Internal         bool     `json:"internal,omitempty"` // bypasses cost checks (summarization)
}

// ProcessQueryResult is the final answer for process_query.
type ProcessQueryResult struct {
	Answer       string `json:"answer"`
	Model        string `json:"model,omitempty"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// ToolRequest is the engine-initiated native tool invocation. It arrives as
// a server request; the response is correlated by the original ID.
type ToolRequest struct {
	ID               string          `json:"id"`
	Tool             string          `json:"tool"`
	Args             json.RawMessage `json:"args"`
	TimeoutMs        int64           `json:"timeout_ms,omitempty"`
	ConversationUUID string          `json:"conversation_uuid,omitempty"`
}

// LogParams are the parameters of an engine log notification.
type LogParams struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// RecordUsageParams are the parameters of a record_usage notification.
type RecordUsageParams struct {
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// KeyParams carry a credential for the set_*_key and set_access_token calls.
type KeyParams struct {
	Key string `json:"key"`
}

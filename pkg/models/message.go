// Package models provides domain types for the NavixMind agent system.
package models

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolResult Role = "toolResult"
)

// Conversation represents a persistent chat thread.
type Conversation struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"` // stable external identifier
	Title    string `json:"title,omitempty"`
	Archived bool   `json:"archived,omitempty"`

	// Summary holds the rolling digest of older messages.
	// SummarizedUpToID is the id of the last message folded into the
	// summary; 0 means the conversation has never been summarized.
	Summary          string `json:"summary,omitempty"`
	SummarizedUpToID int64  `json:"summarized_up_to_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn in a conversation. Messages are immutable once
// created except for tool call status/output, which is populated
// asynchronously as tools complete.
type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	Role           Role         `json:"role"`
	Content        string       `json:"content"`
	TokenCount     int          `json:"token_count"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// EstimateTokens returns the heuristic token count for content:
// ceil(len/4), never negative.
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// AttachmentType classifies an attachment by file extension.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentPDF      AttachmentType = "pdf"
	AttachmentDocument AttachmentType = "document"
	AttachmentFile     AttachmentType = "file"
)

var extensionTypes = map[string]AttachmentType{
	".jpg": AttachmentImage, ".jpeg": AttachmentImage, ".png": AttachmentImage,
	".gif": AttachmentImage, ".webp": AttachmentImage, ".heic": AttachmentImage,
	".bmp": AttachmentImage,
	".mp4": AttachmentVideo, ".mov": AttachmentVideo, ".avi": AttachmentVideo,
	".mkv": AttachmentVideo, ".webm": AttachmentVideo,
	".mp3": AttachmentAudio, ".wav": AttachmentAudio, ".m4a": AttachmentAudio,
	".ogg": AttachmentAudio, ".flac": AttachmentAudio, ".aac": AttachmentAudio,
	".pdf": AttachmentPDF,
	".doc": AttachmentDocument, ".docx": AttachmentDocument, ".txt": AttachmentDocument,
	".md": AttachmentDocument, ".rtf": AttachmentDocument, ".odt": AttachmentDocument,
	".xls": AttachmentDocument, ".xlsx": AttachmentDocument, ".csv": AttachmentDocument,
	".ppt": AttachmentDocument, ".pptx": AttachmentDocument,
}

// AttachmentTypeForPath derives the attachment type from a file path's
// extension. Unrecognized extensions map to AttachmentFile.
func AttachmentTypeForPath(path string) AttachmentType {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return AttachmentFile
}

// Attachment represents a file or media attachment owned by a message.
type Attachment struct {
	ID       int64          `json:"id"`
	Type     AttachmentType `json:"type"`
	Path     string         `json:"path"`
	Filename string         `json:"filename,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	Size     int64          `json:"size,omitempty"`
}

// NewAttachment builds an attachment for a local file path, deriving the
// type from the extension and the filename from the path base.
func NewAttachment(path, mimeType string, size int64) Attachment {
	return Attachment{
		Type:     AttachmentTypeForPath(path),
		Path:     path,
		Filename: filepath.Base(path),
		MimeType: mimeType,
		Size:     size,
	}
}

// ToolCallStatus is the lifecycle state of a tool call.
type ToolCallStatus string

const (
	ToolCallPending ToolCallStatus = "pending"
	ToolCallRunning ToolCallStatus = "running"
	ToolCallSuccess ToolCallStatus = "success"
	ToolCallError   ToolCallStatus = "error"
)

// toolCallRank orders statuses so transitions can only move forward.
var toolCallRank = map[ToolCallStatus]int{
	ToolCallPending: 0,
	ToolCallRunning: 1,
	ToolCallSuccess: 2,
	ToolCallError:   2,
}

// ToolCall represents the engine's request to execute a native tool,
// owned by the message that carried it.
type ToolCall struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Input      json.RawMessage `json:"input"`
	Output     json.RawMessage `json:"output,omitempty"`
	Status     ToolCallStatus  `json:"status"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// Transition advances the tool call status. Backward transitions (including
// any return to pending once started) are rejected.
func (tc *ToolCall) Transition(to ToolCallStatus) error {
	from := tc.Status
	if from == "" {
		from = ToolCallPending
	}
	fromRank, ok := toolCallRank[from]
	if !ok {
		return fmt.Errorf("unknown tool call status %q", from)
	}
	toRank, ok := toolCallRank[to]
	if !ok {
		return fmt.Errorf("unknown tool call status %q", to)
	}
	if toRank <= fromRank {
		return fmt.Errorf("invalid tool call transition %s -> %s", from, to)
	}
	tc.Status = to
	return nil
}

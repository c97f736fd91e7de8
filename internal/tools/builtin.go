package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alexandertaboriskiy/navixmind/internal/rpc"
)

// The native capabilities below wrap external collaborators: media
// conversion, OCR, calendar, and mail are delegated to platform services
// behind small interfaces. File access is implemented directly.

// MediaProcessor converts media files between formats.
type MediaProcessor interface {
	Process(ctx context.Context, inputPath, outputFormat string) (outputPath string, err error)
}

// TextRecognizer extracts text from an image.
type TextRecognizer interface {
	Recognize(ctx context.Context, imagePath string) (text string, err error)
}

// CalendarService creates calendar events.
type CalendarService interface {
	CreateEvent(ctx context.Context, title, startsAt, endsAt, location string) (eventID string, err error)
}

// MailComposer opens a pre-filled mail draft.
type MailComposer interface {
	Compose(ctx context.Context, to, subject, body string) error
}

func errUnavailable(capability string) error {
	return &rpc.Error{Code: rpc.ErrCodeTool, Message: fmt.Sprintf("%s capability unavailable", capability)}
}

// MediaTool exposes media processing to the engine.
type MediaTool struct {
	Processor MediaProcessor
}

func (t *MediaTool) Name() string        { return "media_process" }
func (t *MediaTool) Description() string { return "Convert a media file to another format" }

func (t *MediaTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"input_path": {"type": "string"},
			"output_format": {"type": "string"}
		},
		"required": ["input_path", "output_format"]
	}`)
}

func (t *MediaTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if t.Processor == nil {
		return nil, errUnavailable("media")
	}
	var params struct {
		InputPath    string `json:"input_path"`
		OutputFormat string `json:"output_format"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	outputPath, err := t.Processor.Process(ctx, params.InputPath, params.OutputFormat)
	if err != nil {
		return nil, err
	}
	return map[string]string{"output_path": outputPath}, nil
}

// OCRTool exposes text recognition to the engine.
type OCRTool struct {
	Recognizer TextRecognizer
}

func (t *OCRTool) Name() string        { return "ocr_extract" }
func (t *OCRTool) Description() string { return "Extract text from an image" }

func (t *OCRTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"image_path": {"type": "string"}
		},
		"required": ["image_path"]
	}`)
}

func (t *OCRTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if t.Recognizer == nil {
		return nil, errUnavailable("ocr")
	}
	var params struct {
		ImagePath string `json:"image_path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	text, err := t.Recognizer.Recognize(ctx, params.ImagePath)
	if err != nil {
		return nil, err
	}
	return map[string]string{"text": text}, nil
}

// FileTool reads local files for the engine, with a size cap.
type FileTool struct {
	// MaxSize caps readable file size in bytes. Zero means 10MB.
	MaxSize int64
}

const defaultMaxFileSize = 10 << 20

func (t *FileTool) Name() string        { return "file_read" }
func (t *FileTool) Description() string { return "Read a local file's contents" }

func (t *FileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"}
		},
		"required": ["path"]
	}`)
}

func (t *FileTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	maxSize := t.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxFileSize
	}

	info, err := os.Stat(params.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", params.Path, err)
	}
	if info.Size() > maxSize {
		return nil, &rpc.Error{
			Code:    rpc.ErrCodeFileTooLarge,
			Message: fmt.Sprintf("file %s is %d bytes, limit %d", params.Path, info.Size(), maxSize),
		}
	}

	data, err := os.ReadFile(params.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", params.Path, err)
	}
	return map[string]any{"content": string(data), "size": info.Size()}, nil
}

// CalendarTool exposes event creation to the engine.
type CalendarTool struct {
	Service CalendarService
}

func (t *CalendarTool) Name() string        { return "calendar_create_event" }
func (t *CalendarTool) Description() string { return "Create a calendar event" }

func (t *CalendarTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"starts_at": {"type": "string"},
			"ends_at": {"type": "string"},
			"location": {"type": "string"}
		},
		"required": ["title", "starts_at"]
	}`)
}

func (t *CalendarTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if t.Service == nil {
		return nil, errUnavailable("calendar")
	}
	var params struct {
		Title    string `json:"title"`
		StartsAt string `json:"starts_at"`
		EndsAt   string `json:"ends_at"`
		Location string `json:"location"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	eventID, err := t.Service.CreateEvent(ctx, params.Title, params.StartsAt, params.EndsAt, params.Location)
	if err != nil {
		return nil, err
	}
	return map[string]string{"event_id": eventID}, nil
}

// MailTool exposes draft composition to the engine.
type MailTool struct {
	Composer MailComposer
}

func (t *MailTool) Name() string        { return "mail_compose" }
func (t *MailTool) Description() string { return "Open a pre-filled mail draft" }

func (t *MailTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"to": {"type": "string"},
			"subject": {"type": "string"},
			"body": {"type": "string"}
		},
		"required": ["to"]
	}`)
}

func (t *MailTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	if t.Composer == nil {
		return nil, errUnavailable("mail")
	}
	var params struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	if err := t.Composer.Compose(ctx, params.To, params.Subject, params.Body); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

// Builtins bundles the collaborators behind the native capability set.
type Builtins struct {
	Media    MediaProcessor
	OCR      TextRecognizer
	Calendar CalendarService
	Mail     MailComposer

	// MaxFileSize caps file_read payloads. Zero means 10MB.
	MaxFileSize int64
}

// RegisterBuiltins registers the native capability set. Nil collaborators
// leave the tool registered but failing with a capability-unavailable error.
func RegisterBuiltins(r *Registry, b Builtins) error {
	handlers := []Handler{
		&MediaTool{Processor: b.Media},
		&OCRTool{Recognizer: b.OCR},
		&FileTool{MaxSize: b.MaxFileSize},
		&CalendarTool{Service: b.Calendar},
		&MailTool{Composer: b.Mail},
	}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}

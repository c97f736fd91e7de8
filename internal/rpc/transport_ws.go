package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig configures the remote engine connection.
type WebSocketConfig struct {
	URL              string            `yaml:"url"`
	Headers          map[string]string `yaml:"headers"`
	HandshakeTimeout time.Duration     `yaml:"handshake_timeout"`
	PingInterval     time.Duration     `yaml:"ping_interval"`
}

// WebSocketTransport exchanges JSON frames with a remote reasoning engine
// over a WebSocket connection.
type WebSocketTransport struct {
	config WebSocketConfig
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex
	inbound chan []byte

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewWebSocketTransport creates a new WebSocket transport.
func NewWebSocketTransport(cfg WebSocketConfig) *WebSocketTransport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &WebSocketTransport{
		config:   cfg,
		logger:   slog.Default().With("transport", "websocket"),
		inbound:  make(chan []byte, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect dials the remote engine.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("url is required for websocket transport")
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.config.HandshakeTimeout}
	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	conn, _, err := dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.config.URL, err)
	}
	t.conn = conn
	t.connected.Store(true)
	t.logger.Info("connected to engine", "url", t.config.URL)

	t.wg.Add(2)
	go t.readLoop()
	go t.pingLoop()
	return nil
}

// Close closes the connection.
func (t *WebSocketTransport) Close() error {
	t.connected.Store(false)
	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}
	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	t.wg.Wait()
	return err
}

// Write sends one text frame. gorilla/websocket allows a single concurrent
// writer, so writes are serialized.
func (t *WebSocketTransport) Write(data []byte) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Inbound returns the channel of inbound frames.
func (t *WebSocketTransport) Inbound() <-chan []byte {
	return t.inbound
}

// Connected reports whether the connection is established.
func (t *WebSocketTransport) Connected() bool {
	return t.connected.Load()
}

// readLoop reads frames until the connection closes.
func (t *WebSocketTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)
	defer close(t.inbound)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stopChan:
			default:
				t.logger.Error("read error", "error", err)
			}
			return
		}
		select {
		case t.inbound <- data:
		case <-t.stopChan:
			return
		}
	}
}

// pingLoop keeps the connection alive.
func (t *WebSocketTransport) pingLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport for channel tests.
type fakeTransport struct {
	mu        sync.Mutex
	written   []Request
	responses []Response
	inbound   chan []byte
	connected bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 100)}
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		t.connected = false
		close(t.inbound)
	}
	return nil
}

func (t *fakeTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var req Request
	if err := json.Unmarshal(data, &req); err == nil && req.Method != "" {
		t.written = append(t.written, req)
		return nil
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err == nil {
		t.responses = append(t.responses, resp)
	}
	return nil
}

func (t *fakeTransport) Inbound() <-chan []byte { return t.inbound }

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// lastRequest returns the most recently written request.
func (t *fakeTransport) lastRequest() (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.written) == 0 {
		return Request{}, false
	}
	return t.written[len(t.written)-1], true
}

func (t *fakeTransport) inject(v any) {
	data, _ := json.Marshal(v)
	t.inbound <- data
}

func startChannel(t *testing.T) (*Channel, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	ch := NewChannel(transport, WithTimeout(2*time.Second))
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch, transport
}

// waitForRequest polls until the fake transport has seen a request.
func waitForRequest(t *testing.T, transport *fakeTransport) Request {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if req, ok := transport.lastRequest(); ok {
			return req
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no request written")
	return Request{}
}

func TestChannel_CallCorrelation(t *testing.T) {
	ch, transport := startChannel(t)

	done := make(chan struct{})
	var result json.RawMessage
	var callErr error
	go func() {
		defer close(done)
		result, callErr = ch.Call(context.Background(), MethodProcessQuery, ProcessQueryParams{Query: "hi"})
	}()

	req := waitForRequest(t, transport)
	if req.Method != MethodProcessQuery {
		t.Errorf("method = %s, want %s", req.Method, MethodProcessQuery)
	}
	if req.JSONRPC != Version {
		t.Errorf("jsonrpc = %s, want %s", req.JSONRPC, Version)
	}

	transport.inject(Response{JSONRPC: Version, ID: req.ID, Result: json.RawMessage(`{"answer":"hello"}`)})

	<-done
	if callErr != nil {
		t.Fatalf("Call: %v", callErr)
	}
	var parsed ProcessQueryResult
	if err := json.Unmarshal(result, &parsed); err != nil || parsed.Answer != "hello" {
		t.Errorf("result = %s, want answer hello", result)
	}
}

func TestChannel_UnknownResponseIDDropped(t *testing.T) {
	ch, transport := startChannel(t)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), MethodSelfImprove, nil)
		done <- err
	}()

	req := waitForRequest(t, transport)

	// A response with a bogus id must not resolve the pending call.
	transport.inject(Response{JSONRPC: Version, ID: "no-such-id", Result: json.RawMessage(`{}`)})
	select {
	case err := <-done:
		t.Fatalf("call resolved by unknown id: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The correct id still resolves it.
	transport.inject(Response{JSONRPC: Version, ID: req.ID, Result: json.RawMessage(`{}`)})
	if err := <-done; err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestChannel_CallErrorResponse(t *testing.T) {
	ch, transport := startChannel(t)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Call(context.Background(), MethodProcessQuery, nil)
		done <- err
	}()

	req := waitForRequest(t, transport)
	transport.inject(Response{
		JSONRPC: Version,
		ID:      req.ID,
		Error:   &Error{Code: ErrCodeRateLimit, Message: "rate limited"},
	})

	err := <-done
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if rpcErr.Code != ErrCodeRateLimit {
		t.Errorf("code = %d, want %d", rpcErr.Code, ErrCodeRateLimit)
	}
}

func TestChannel_NotificationBroadcast(t *testing.T) {
	ch, transport := startChannel(t)

	sub1, cancel1 := ch.Subscribe()
	defer cancel1()
	sub2, cancel2 := ch.Subscribe()
	defer cancel2()

	transport.inject(Notification{JSONRPC: Version, Method: NotifyLog, Params: json.RawMessage(`{"level":"info","message":"m"}`)})

	for i, sub := range []<-chan *Notification{sub1, sub2} {
		select {
		case n := <-sub:
			if n.Method != NotifyLog {
				t.Errorf("subscriber %d method = %s, want %s", i, n.Method, NotifyLog)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive notification", i)
		}
	}
}

func TestChannel_LateSubscriberMissesPastEvents(t *testing.T) {
	ch, transport := startChannel(t)

	early, cancelEarly := ch.Subscribe()
	defer cancelEarly()

	transport.inject(Notification{JSONRPC: Version, Method: NotifyLog})
	select {
	case <-early:
	case <-time.After(time.Second):
		t.Fatal("early subscriber did not receive notification")
	}

	late, cancelLate := ch.Subscribe()
	defer cancelLate()
	select {
	case n := <-late:
		t.Errorf("late subscriber received replayed event %v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannel_ServerInitiatedRequest(t *testing.T) {
	ch, transport := startChannel(t)

	transport.inject(Request{
		JSONRPC: Version,
		ID:      "tool-req-1",
		Method:  NotifyNativeTool,
		Params:  json.RawMessage(`{"id":"tool-req-1","tool":"ocr","args":{}}`),
	})

	select {
	case req := <-ch.Requests():
		if req.ID != "tool-req-1" || req.Method != NotifyNativeTool {
			t.Errorf("got request %+v", req)
		}
		if err := ch.Respond(context.Background(), req.ID, map[string]string{"text": "ok"}, nil); err != nil {
			t.Fatalf("Respond: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("server request not delivered")
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.responses) != 1 || transport.responses[0].ID != "tool-req-1" {
		t.Errorf("responses = %+v, want one correlated to tool-req-1", transport.responses)
	}
}

func TestChannel_StatusLifecycle(t *testing.T) {
	transport := newFakeTransport()
	ch := NewChannel(transport)

	if ch.Status() != StatusUninitialized {
		t.Errorf("initial status = %s", ch.Status())
	}
	if ch.Ready() {
		t.Error("channel must not be ready before Start")
	}

	if err := ch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !ch.Ready() {
		t.Error("channel should be ready after Start")
	}

	ch.SetStatus(StatusRestarting)
	if ch.Ready() {
		t.Error("restarting channel must not be ready")
	}

	ch.Close()
}

func TestChannel_ConcurrentCalls(t *testing.T) {
	ch, transport := startChannel(t)

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)

	// Responder: answer each request with its index payload.
	go func() {
		seen := map[string]bool{}
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			transport.mu.Lock()
			for _, req := range transport.written {
				if !seen[req.ID] {
					seen[req.ID] = true
					var params map[string]string
					json.Unmarshal(req.Params, &params)
					resp, _ := json.Marshal(map[string]string{"echo": params["i"]})
					transport.inbound <- mustMarshal(Response{JSONRPC: Version, ID: req.ID, Result: resp})
				}
			}
			transport.mu.Unlock()
			if len(seen) == n {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := ch.Call(context.Background(), "echo", map[string]string{"i": fmt.Sprint(i)})
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			var out map[string]string
			json.Unmarshal(raw, &out)
			results[i] = out["echo"]
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if results[i] != fmt.Sprint(i) {
			t.Errorf("call %d got %q, responses crossed correlation ids", i, results[i])
		}
	}
}

func mustMarshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

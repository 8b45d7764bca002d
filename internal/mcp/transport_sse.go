package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
)

// sseTransport holds one long-lived event stream open. The server's
// first event names the endpoint to POST requests to; responses come
// back over the stream and are routed to callers by id.
type sseTransport struct {
	cfg    *ServerConfig
	logger *slog.Logger
	client *http.Client

	endpoint      string
	endpointMu    sync.Mutex
	endpointReady chan struct{}

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	cancel    context.CancelFunc
	stopChan  chan struct{}
	stopOnce  sync.Once
	reader    sync.WaitGroup
}

func newSSETransport(cfg *ServerConfig, logger *slog.Logger) *sseTransport {
	return &sseTransport{
		cfg:           cfg,
		logger:        logger.With("transport", "sse"),
		client:        &http.Client{},
		endpointReady: make(chan struct{}),
		pending:       make(map[int64]chan *JSONRPCResponse),
		stopChan:      make(chan struct{}),
	}
}

// Connect opens the event stream and waits for the endpoint event.
// The stream itself outlives ctx; only the wait is bounded by it.
func (t *sseTransport) Connect(ctx context.Context) error {
	if t.cfg.URL == "" {
		return fmt.Errorf("url is required for sse transport")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("open stream: http %d", resp.StatusCode)
	}

	t.connected.Store(true)
	t.reader.Add(1)
	go t.readLoop(resp.Body)

	select {
	case <-t.endpointReady:
		return nil
	case <-ctx.Done():
		t.Close()
		return fmt.Errorf("wait for endpoint: %w", ctx.Err())
	case <-t.stopChan:
		return errTransportClosed
	}
}

func (t *sseTransport) Close() error {
	t.stopOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)
		if t.cancel != nil {
			t.cancel()
		}
		t.reader.Wait()
	})
	return nil
}

func (t *sseTransport) Connected() bool {
	return t.connected.Load()
}

func (t *sseTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, errTransportClosed
	}

	id := t.nextID.Add(1)
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	frame := JSONRPCRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: paramsJSON}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.post(ctx, frame); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-respChan:
		if !ok || resp == nil {
			return nil, errTransportClosed
		}
		if resp.Error != nil {
			return nil, &ProtocolError{Server: t.cfg.Name, Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.stopChan:
		return nil, errTransportClosed
	}
}

func (t *sseTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return errTransportClosed
	}

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return t.post(ctx, JSONRPCNotification{JSONRPC: jsonRPCVersion, Method: method, Params: paramsJSON})
}

func (t *sseTransport) post(ctx context.Context, frame any) error {
	t.endpointMu.Lock()
	endpoint := t.endpoint
	t.endpointMu.Unlock()
	if endpoint == "" {
		return fmt.Errorf("no message endpoint announced yet")
	}

	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post: http %d", resp.StatusCode)
	}
	return nil
}

// readLoop is the dedicated worker for the event stream. It parses SSE
// frames and dispatches them serially; on stream loss every waiting
// caller is failed.
func (t *sseTransport) readLoop(body io.ReadCloser) {
	defer t.reader.Done()
	defer t.failPending()
	defer t.connected.Store(false)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, scannerBufferSize), scannerBufferSize)

	event := ""
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				t.dispatch(event, data.String())
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("event stream ended", "error", err)
	}
}

func (t *sseTransport) dispatch(event, data string) {
	if event == "endpoint" {
		t.setEndpoint(data)
		return
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(data), &resp); err == nil && resp.ID != nil {
		id, ok := normalizeID(resp.ID)
		if !ok {
			t.logger.Warn("unroutable response id", "id", resp.ID)
			return
		}
		t.pendingMu.Lock()
		if ch, waiting := t.pending[id]; waiting {
			ch <- &resp
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal([]byte(data), &notif); err == nil && notif.Method != "" {
		t.logger.Debug("server notification", "method", notif.Method)
	}
}

// setEndpoint resolves the announced endpoint, which may be relative,
// against the stream URL. Ready is signaled exactly once.
func (t *sseTransport) setEndpoint(raw string) {
	base, err := url.Parse(t.cfg.URL)
	if err != nil {
		t.logger.Warn("bad stream url", "error", err)
		return
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		t.logger.Warn("bad endpoint event", "data", raw, "error", err)
		return
	}

	t.endpointMu.Lock()
	first := t.endpoint == ""
	t.endpoint = base.ResolveReference(ref).String()
	t.endpointMu.Unlock()

	if first {
		close(t.endpointReady)
	}
}

func (t *sseTransport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

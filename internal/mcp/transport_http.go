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
	"strings"
	"sync"
	"sync/atomic"
)

const sessionIDHeader = "Mcp-Session-Id"

// httpTransport implements streamable HTTP: every request is a POST,
// and the server answers with either a single JSON body or an SSE body
// carrying the response frame. A session id issued by the server is
// echoed on every subsequent request.
type httpTransport struct {
	cfg    *ServerConfig
	logger *slog.Logger
	client *http.Client

	sessionID string
	sessionMu sync.Mutex

	nextID    atomic.Int64
	connected atomic.Bool
}

func newHTTPTransport(cfg *ServerConfig, logger *slog.Logger) *httpTransport {
	return &httpTransport{
		cfg:    cfg,
		logger: logger.With("transport", "http"),
		client: &http.Client{},
	}
}

// Connect validates the endpoint. The first real exchange is the
// initialize call issued by the client right after.
func (t *httpTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.cfg.URL == "" {
		return fmt.Errorf("url is required for http transport")
	}
	t.connected.Store(true)
	return nil
}

func (t *httpTransport) Close() error {
	t.connected.Store(false)
	t.client.CloseIdleConnections()
	return nil
}

func (t *httpTransport) Connected() bool {
	return t.connected.Load()
}

func (t *httpTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, errTransportClosed
	}

	id := t.nextID.Add(1)
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	frame := JSONRPCRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: paramsJSON}

	resp, err := t.post(ctx, frame)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionIDHeader); sid != "" {
		t.sessionMu.Lock()
		t.sessionID = sid
		t.sessionMu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp *JSONRPCResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		rpcResp, err = t.readEventBody(resp.Body, id)
	} else {
		rpcResp = &JSONRPCResponse{}
		err = json.NewDecoder(resp.Body).Decode(rpcResp)
	}
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &ProtocolError{Server: t.cfg.Name, Method: method, Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, nil
}

func (t *httpTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return errTransportClosed
	}

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	frame := JSONRPCNotification{JSONRPC: jsonRPCVersion, Method: method, Params: paramsJSON}

	resp, err := t.post(ctx, frame)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}

func (t *httpTransport) post(ctx context.Context, frame any) (*http.Response, error) {
	body, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.sessionMu.Lock()
	if t.sessionID != "" {
		req.Header.Set(sessionIDHeader, t.sessionID)
	}
	t.sessionMu.Unlock()
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	return resp, nil
}

// readEventBody scans an SSE response body until the frame answering
// the given request id appears. Interleaved notifications are skipped.
func (t *httpTransport) readEventBody(body io.Reader, want int64) (*JSONRPCResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, scannerBufferSize), scannerBufferSize)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil || resp.ID == nil {
			continue
		}
		if id, ok := normalizeID(resp.ID); ok && id == want {
			return &resp, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("event stream ended without response for id %d", want)
}

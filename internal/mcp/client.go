package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// ConnectTimeout bounds transport connect plus handshake.
	ConnectTimeout = 10 * time.Second
	// CallTimeout is the default per-call budget for tools/call.
	CallTimeout = 120 * time.Second
)

// Client drives one MCP server through its lifecycle:
// unconnected, connecting, connected, disconnected. A failed connect
// is terminal; the process has to restart to try again.
type Client struct {
	cfg       *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.Mutex
	status     Status
	connectErr error
	tools      []*Tool
	server     ServerInfo

	ready     chan struct{}
	readyOnce sync.Once
}

// NewClient builds a client for one server entry. The transport is
// chosen from the entry but not opened until StartConnect.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp", "server", cfg.Name)

	return &Client{
		cfg:       cfg,
		transport: newTransport(cfg, logger),
		logger:    logger,
		status:    StatusUnconnected,
		ready:     make(chan struct{}),
	}
}

// StartConnect kicks off the connect without blocking. Only the first
// call from the unconnected state does anything.
func (c *Client) StartConnect(ctx context.Context) {
	c.mu.Lock()
	if c.status != StatusUnconnected {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
		defer cancel()
		c.connect(ctx)
	}()
}

// connect runs transport connect, the initialize handshake, and the
// first tools/list. Any failure tears the transport down and parks the
// client in the disconnected state.
func (c *Client) connect(ctx context.Context) {
	defer c.signalReady()

	fail := func(err error) {
		c.transport.Close()
		wrapped := &ConnectionError{Server: c.cfg.Name, Err: err}
		c.logger.Error("connect failed", "error", err)
		c.mu.Lock()
		c.status = StatusDisconnected
		c.connectErr = wrapped
		c.mu.Unlock()
	}

	if err := c.transport.Connect(ctx); err != nil {
		fail(err)
		return
	}

	initResult, err := c.initialize(ctx)
	if err != nil {
		fail(err)
		return
	}

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	tools, err := c.fetchTools(ctx)
	if err != nil {
		fail(err)
		return
	}

	c.mu.Lock()
	c.status = StatusConnected
	c.server = initResult.ServerInfo
	c.tools = tools
	c.mu.Unlock()

	c.logger.Info("connected",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion,
		"tools", len(tools))
}

func (c *Client) initialize(ctx context.Context) (*InitializeResult, error) {
	raw, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse initialize result: %w", err)
	}
	if result.ProtocolVersion != protocolVersion {
		c.logger.Debug("server speaks a different protocol revision", "protocol", result.ProtocolVersion)
	}
	return &result, nil
}

func (c *Client) fetchTools(ctx context.Context) ([]*Tool, error) {
	raw, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	return result.Tools, nil
}

// WaitUntilReady blocks until the connect attempt settles, reporting
// whether the client came up connected.
func (c *Client) WaitUntilReady(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ready:
	case <-timer.C:
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnected
}

// Disconnect tears the transport down and drops the tool cache. Safe
// to call in any state, any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	already := c.status == StatusDisconnected
	c.status = StatusDisconnected
	c.tools = nil
	c.mu.Unlock()

	if already {
		return
	}

	c.transport.Close()
	c.signalReady()
	c.logger.Info("disconnected")
}

// ListTools returns the cached tool list. The cache is built once
// during connect and stays valid until disconnect; after disconnect it
// is empty.
func (c *Client) ListTools() []*Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected {
		return nil
	}
	out := make([]*Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes a tool by its server-side name. A disconnected
// client fails fast without touching the transport.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()
	if status != StatusConnected {
		return "", &ToolError{Server: c.cfg.Name, Tool: name, Cause: fmt.Errorf("server is %s", status)}
	}

	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	raw, err := c.transport.Call(ctx, "tools/call", CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if errors.Is(err, errTransportClosed) {
			// The transport died under us; reflect that in the status
			// so later calls fail fast.
			c.Disconnect()
		}
		return "", &ToolError{Server: c.cfg.Name, Tool: name, Cause: err}
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &ToolError{Server: c.cfg.Name, Tool: name, Cause: fmt.Errorf("parse result: %w", err)}
	}

	content := flattenContent(result.Content)
	if result.IsError {
		cause := content
		if cause == "" {
			cause = "tool reported an error"
		}
		return "", &ToolError{Server: c.cfg.Name, Tool: name, Cause: errors.New(cause)}
	}
	return content, nil
}

// Status returns the current lifecycle state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that ended the connect attempt, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectErr
}

// ServerInfo returns the identity the server reported at initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.cfg.Name
}

func (c *Client) signalReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// flattenContent joins text blocks with newlines. Results carrying
// non-text content fall back to their JSON form so nothing is lost.
func flattenContent(blocks []ContentBlock) string {
	if len(blocks) == 0 {
		return ""
	}

	allText := true
	var combined strings.Builder
	for _, block := range blocks {
		if block.Type != "text" {
			allText = false
			break
		}
		if block.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteByte('\n')
		}
		combined.WriteString(block.Text)
	}

	if allText {
		return combined.String()
	}

	payload, err := json.Marshal(blocks)
	if err != nil {
		return ""
	}
	return string(payload)
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

var defaultToolSchema = json.RawMessage(`{"type":"object"}`)

// Pool owns every MCP client and the subprocess or socket behind it.
// The rest of the system talks to servers only through the pool, using
// sanitized process-wide tool names.
type Pool struct {
	logger  *slog.Logger
	order   []string
	clients map[string]*Client

	routesMu sync.Mutex
	routes   map[string]route
	groups   map[string][]GroupTool
}

type route struct {
	client *Client
	tool   string
}

// GroupTool pairs a sanitized registry name with the raw tool it
// routes to.
type GroupTool struct {
	Name string
	Tool *Tool
}

// NewPool builds one client per server entry.
func NewPool(servers []*ServerConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client, len(servers)),
		routes:  map[string]route{},
		groups:  map[string][]GroupTool{},
	}
	for _, cfg := range servers {
		p.order = append(p.order, cfg.Name)
		p.clients[cfg.Name] = NewClient(cfg, logger)
	}
	return p
}

// ConnectAll kicks off every connect in parallel and returns
// immediately. Call WaitReady to observe the outcome.
func (p *Pool) ConnectAll(ctx context.Context) {
	for _, name := range p.order {
		p.clients[name].StartConnect(ctx)
	}
}

// WaitReady blocks until every connect attempt settles or the timeout
// passes, then rebuilds the tool routing table. Returns the number of
// connected servers.
func (p *Pool) WaitReady(timeout time.Duration) int {
	var wg sync.WaitGroup
	for _, name := range p.order {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.WaitUntilReady(timeout)
		}(p.clients[name])
	}
	wg.Wait()

	p.rebuildRoutes()

	connected := 0
	for _, name := range p.order {
		if p.clients[name].Status() == StatusConnected {
			connected++
		}
	}
	return connected
}

// DisconnectAll tears down every client. Idempotent.
func (p *Pool) DisconnectAll() {
	for _, name := range p.order {
		p.clients[name].Disconnect()
	}
}

// rebuildRoutes computes sanitized names for every connected server's
// tools. Servers and tools are walked in sorted order so names are
// stable across runs.
func (p *Pool) rebuildRoutes() {
	p.routesMu.Lock()
	defer p.routesMu.Unlock()

	p.routes = map[string]route{}
	p.groups = map[string][]GroupTool{}
	used := make(map[string]struct{})

	names := append([]string(nil), p.order...)
	sort.Strings(names)

	for _, server := range names {
		client := p.clients[server]
		tools := client.ListTools()
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		for _, tool := range tools {
			safe := SafeToolName(server, tool.Name, used)
			p.routes[safe] = route{client: client, tool: tool.Name}
			p.groups[server] = append(p.groups[server], GroupTool{Name: safe, Tool: tool})
		}
	}
}

// CallTool routes a sanitized tool name to its server. A name that
// maps to a downed server fails fast inside the client.
func (p *Pool) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	p.routesMu.Lock()
	r, ok := p.routes[name]
	p.routesMu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown mcp tool %q", name)
	}
	return r.client.CallTool(ctx, r.tool, args)
}

// ServerTools returns the sanitized tool group for one server, in the
// order the routing table assigned names.
func (p *Pool) ServerTools(server string) []GroupTool {
	p.routesMu.Lock()
	defer p.routesMu.Unlock()
	return append([]GroupTool(nil), p.groups[server]...)
}

// ConnectedServers lists servers that completed the handshake, in
// configuration order.
func (p *Pool) ConnectedServers() []string {
	var out []string
	for _, name := range p.order {
		if p.clients[name].Status() == StatusConnected {
			out = append(out, name)
		}
	}
	return out
}

// Descriptors flattens every routed tool into the descriptor shape the
// registry and providers consume. External tools always gate on
// approval.
func (p *Pool) Descriptors() []models.ToolDescriptor {
	p.routesMu.Lock()
	defer p.routesMu.Unlock()

	var descs []models.ToolDescriptor
	servers := make([]string, 0, len(p.groups))
	for server := range p.groups {
		servers = append(servers, server)
	}
	sort.Strings(servers)

	for _, server := range servers {
		for _, gt := range p.groups[server] {
			descs = append(descs, toolDescriptor(server, gt))
		}
	}
	return descs
}

func toolDescriptor(server string, gt GroupTool) models.ToolDescriptor {
	desc := gt.Tool.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool %s.%s", server, gt.Tool.Name)
	} else {
		desc = fmt.Sprintf("MCP tool %s.%s: %s", server, gt.Tool.Name, desc)
	}

	schema := gt.Tool.InputSchema
	if len(schema) == 0 {
		schema = defaultToolSchema
	}

	return models.ToolDescriptor{
		Name:             gt.Name,
		Description:      desc,
		Permission:       models.PermissionExecute,
		Parameters:       schema,
		ApprovalRequired: true,
	}
}

// Client returns the client for a server name.
func (p *Pool) Client(name string) (*Client, bool) {
	c, ok := p.clients[name]
	return c, ok
}

// ServerState is one row of `mcp list` output.
type ServerState struct {
	Name      string
	Transport TransportType
	Status    Status
	Tools     int
	Info      ServerInfo
	Err       error
}

// States reports every configured server in configuration order.
func (p *Pool) States() []ServerState {
	var states []ServerState
	for _, name := range p.order {
		c := p.clients[name]
		states = append(states, ServerState{
			Name:      name,
			Transport: c.cfg.Transport,
			Status:    c.Status(),
			Tools:     len(c.ListTools()),
			Info:      c.ServerInfo(),
			Err:       c.Err(),
		})
	}
	return states
}

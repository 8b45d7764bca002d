package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/tools"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// poolTool presents one routed MCP tool as a registry tool. Argument
// validation already happened in the registry against the server's
// input schema; Invoke re-encodes the dictionary for the wire.
type poolTool struct {
	pool   *Pool
	server string
	group  GroupTool
}

func (t *poolTool) Descriptor() models.ToolDescriptor {
	return toolDescriptor(t.server, t.group)
}

func (t *poolTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments for %s: %w", t.group.Name, err)
	}
	return t.pool.CallTool(ctx, t.group.Name, raw)
}

// RegistryGroup adapts a server's routed tools for the registry. The
// result is handed to ReplaceGroup under GroupPrefix(server) after each
// discovery pass.
func (p *Pool) RegistryGroup(server string) []tools.Tool {
	group := p.ServerTools(server)
	out := make([]tools.Tool, 0, len(group))
	for _, gt := range group {
		out = append(out, &poolTool{pool: p, server: server, group: gt})
	}
	return out
}

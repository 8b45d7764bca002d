package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func toolList(names ...string) json.RawMessage {
	entries := make([]string, 0, len(names))
	for _, n := range names {
		entries = append(entries, fmt.Sprintf(`{"name":%q,"inputSchema":{"type":"object"}}`, n))
	}
	return json.RawMessage(`{"tools":[` + strings.Join(entries, ",") + `]}`)
}

func textResult(s string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"content":[{"type":"text","text":%q}]}`, s))
}

// newFakePool wires a pool whose clients talk to fake transports, one
// per server name.
func newFakePool(t *testing.T, fakes map[string]*fakeTransport) *Pool {
	t.Helper()
	var servers []*ServerConfig
	for name := range fakes {
		servers = append(servers, &ServerConfig{Name: name, Transport: TransportStdio, Command: "unused"})
	}
	p := NewPool(servers, slog.Default())
	for name, fake := range fakes {
		c, ok := p.Client(name)
		if !ok {
			t.Fatalf("missing client %q", name)
		}
		c.transport = fake
	}
	return p
}

func TestPoolRoutesToolsByServer(t *testing.T) {
	alpha := newFakeTransport()
	alpha.results["tools/list"] = toolList("fetch", "push")
	alpha.results["tools/call"] = textResult("from alpha")
	beta := newFakeTransport()
	beta.results["tools/list"] = toolList("fetch")
	beta.results["tools/call"] = textResult("from beta")

	p := newFakePool(t, map[string]*fakeTransport{"alpha": alpha, "beta": beta})
	p.ConnectAll(context.Background())
	if connected := p.WaitReady(2 * time.Second); connected != 2 {
		t.Fatalf("WaitReady() = %d, want 2", connected)
	}

	descs := p.Descriptors()
	if len(descs) != 3 {
		t.Fatalf("Descriptors() returned %d entries, want 3", len(descs))
	}
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
		if !d.ApprovalRequired {
			t.Errorf("%s: external tools must require approval", d.Name)
		}
	}
	want := []string{"alpha_fetch", "alpha_push", "beta_fetch"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("descriptor names = %v, want %v", names, want)
		}
	}

	got, err := p.CallTool(context.Background(), "beta_fetch", nil)
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got != "from beta" {
		t.Errorf("CallTool() routed to the wrong server: %q", got)
	}
}

func TestPoolSanitizedNameCollisionAcrossServers(t *testing.T) {
	first := newFakeTransport()
	first.results["tools/list"] = toolList("fetch")
	second := newFakeTransport()
	second.results["tools/list"] = toolList("fetch")

	// Both server names sanitize to "data".
	p := newFakePool(t, map[string]*fakeTransport{"data!": first, "data?": second})
	p.ConnectAll(context.Background())
	p.WaitReady(2 * time.Second)

	descs := p.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("Descriptors() returned %d entries, want 2", len(descs))
	}
	if descs[0].Name == descs[1].Name {
		t.Fatalf("sanitized names collided: %q", descs[0].Name)
	}
	for _, d := range descs {
		if !safeNamePattern.MatchString(d.Name) {
			t.Errorf("name %q not in [A-Za-z0-9_]+", d.Name)
		}
	}
}

func TestPoolFailedServerHasNoRoutes(t *testing.T) {
	good := newFakeTransport()
	good.results["tools/list"] = toolList("fetch")
	bad := newFakeTransport()
	bad.connectErr = errors.New("spawn failed")

	p := newFakePool(t, map[string]*fakeTransport{"good": good, "bad": bad})
	p.ConnectAll(context.Background())
	if connected := p.WaitReady(2 * time.Second); connected != 1 {
		t.Fatalf("WaitReady() = %d, want 1", connected)
	}

	if servers := p.ConnectedServers(); len(servers) != 1 || servers[0] != "good" {
		t.Errorf("ConnectedServers() = %v", servers)
	}
	if descs := p.Descriptors(); len(descs) != 1 {
		t.Errorf("Descriptors() = %d entries, want only the good server's", len(descs))
	}

	states := p.States()
	if len(states) != 2 {
		t.Fatalf("States() returned %d rows", len(states))
	}
	for _, st := range states {
		switch st.Name {
		case "good":
			if st.Status != StatusConnected || st.Tools != 1 {
				t.Errorf("good: %+v", st)
			}
		case "bad":
			if st.Status != StatusDisconnected || st.Err == nil {
				t.Errorf("bad: %+v", st)
			}
		}
	}
}

func TestPoolServerDeathFailsFast(t *testing.T) {
	alpha := newFakeTransport()
	alpha.results["tools/list"] = toolList("bar")
	beta := newFakeTransport()
	beta.results["tools/list"] = toolList("bar")
	beta.results["tools/call"] = textResult("still here")

	p := newFakePool(t, map[string]*fakeTransport{"alpha": alpha, "beta": beta})
	p.ConnectAll(context.Background())
	p.WaitReady(2 * time.Second)

	// The server dies during the first call.
	alpha.mu.Lock()
	alpha.errs["tools/call"] = errTransportClosed
	alpha.mu.Unlock()

	_, err := p.CallTool(context.Background(), "alpha_bar", nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error = %v, want *ToolError", err)
	}

	if c, _ := p.Client("alpha"); c.Status() != StatusDisconnected {
		t.Errorf("alpha status = %q, want disconnected", c.Status())
	}

	// Repeat calls fail fast, and the sibling server is untouched.
	before := len(alpha.callLog())
	if _, err := p.CallTool(context.Background(), "alpha_bar", nil); err == nil {
		t.Fatal("expected fail-fast error")
	}
	if after := len(alpha.callLog()); after != before {
		t.Error("dead server transport was called again")
	}

	if got, err := p.CallTool(context.Background(), "beta_bar", nil); err != nil || got != "still here" {
		t.Errorf("beta call = %q, %v", got, err)
	}
}

func TestPoolUnknownToolName(t *testing.T) {
	p := newFakePool(t, map[string]*fakeTransport{})
	p.ConnectAll(context.Background())
	p.WaitReady(time.Second)

	if _, err := p.CallTool(context.Background(), "nope_missing", nil); err == nil {
		t.Fatal("expected error for unknown tool name")
	}
}

func TestPoolDisconnectAllIdempotent(t *testing.T) {
	alpha := newFakeTransport()
	alpha.results["tools/list"] = toolList("x")

	p := newFakePool(t, map[string]*fakeTransport{"alpha": alpha})
	p.ConnectAll(context.Background())
	p.WaitReady(2 * time.Second)

	p.DisconnectAll()
	p.DisconnectAll()

	alpha.mu.Lock()
	closes := alpha.closes
	alpha.mu.Unlock()
	if closes != 1 {
		t.Errorf("transport closed %d times, want 1", closes)
	}
}

func TestPoolServerToolsUseGroupPrefix(t *testing.T) {
	alpha := newFakeTransport()
	alpha.results["tools/list"] = toolList("one", "two")

	p := newFakePool(t, map[string]*fakeTransport{"alpha": alpha})
	p.ConnectAll(context.Background())
	p.WaitReady(2 * time.Second)

	group := p.ServerTools("alpha")
	if len(group) != 2 {
		t.Fatalf("ServerTools() returned %d entries", len(group))
	}
	prefix := GroupPrefix("alpha")
	for _, gt := range group {
		if !strings.HasPrefix(gt.Name, prefix) {
			t.Errorf("name %q missing group prefix %q", gt.Name, prefix)
		}
	}
}

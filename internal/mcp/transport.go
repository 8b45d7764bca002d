package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// errTransportClosed reports a call abandoned because the transport
// shut down (server exit, Close, or stream loss) before a reply came.
var errTransportClosed = errors.New("transport closed")

// Transport carries JSON-RPC frames to one server. Call blocks until
// the matching response arrives or ctx expires; implementations must
// fail all waiting callers when the connection dies.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
}

func newTransport(cfg *ServerConfig, logger *slog.Logger) Transport {
	switch cfg.Transport {
	case TransportHTTP:
		return newHTTPTransport(cfg, logger)
	case TransportSSE:
		return newSSETransport(cfg, logger)
	default:
		return newStdioTransport(cfg, logger)
	}
}

// normalizeID coerces a decoded JSON-RPC id to the int64 keys used by
// the pending map. JSON numbers decode as float64.
func normalizeID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return data, nil
}

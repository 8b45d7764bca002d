package advisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// RequestLog appends one JSONL record per completed call or stream to
// a per-session log. Streamed deltas are accumulated keyed by a hash
// of the request's message list and flushed as a single record when
// the finish reason, or a stream error, arrives. Log write failures
// are reported through the logger and never abort the turn.
type RequestLog struct {
	Base
	mu       sync.Mutex
	enc      *json.Encoder
	logger   *slog.Logger
	now      func() time.Time
	lastCall *models.LLMRequest
	pending  map[string]*pendingStream
	current  string
}

type pendingStream struct {
	req *models.LLMRequest
	acc models.ChunkAccumulator
}

type logRecord struct {
	Time         time.Time           `json:"time"`
	Kind         string              `json:"kind"`
	RequestHash  string              `json:"request_hash,omitempty"`
	Request      *models.LLMRequest  `json:"request"`
	Content      string              `json:"content,omitempty"`
	ToolCalls    []models.ToolCall   `json:"tool_calls,omitempty"`
	FinishReason models.FinishReason `json:"finish_reason,omitempty"`
	Usage        *models.Usage       `json:"usage,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// NewRequestLog writes records to w, typically the per-session log
// file.
func NewRequestLog(w io.Writer) *RequestLog {
	return &RequestLog{
		enc:     json.NewEncoder(w),
		logger:  slog.Default().With("component", "advisor.requestlog"),
		now:     time.Now,
		pending: map[string]*pendingStream{},
	}
}

func (a *RequestLog) Name() string { return "request_log" }

func (a *RequestLog) BeforeCall(_ context.Context, req *models.LLMRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastCall = req.Clone()
	return nil
}

func (a *RequestLog) AfterCall(_ context.Context, resp *models.ChatCompletion) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.write(logRecord{
		Time:         a.now(),
		Kind:         "call",
		Request:      a.lastCall,
		Content:      resp.Content,
		ToolCalls:    resp.ToolCalls,
		FinishReason: resp.FinishReason,
		Usage:        &resp.Usage,
	})
	a.lastCall = nil
	return nil
}

func (a *RequestLog) BeforeStream(_ context.Context, req *models.LLMRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := requestHash(req)
	a.pending[h] = &pendingStream{req: req.Clone()}
	a.current = h
	return nil
}

func (a *RequestLog) AfterStream(_ context.Context, chunk *models.ChatCompletionChunk) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.pending[a.current]
	if p == nil {
		return nil
	}
	p.acc.Add(chunk)
	if chunk.FinishReason == "" && chunk.Err == nil {
		return nil
	}
	rec := logRecord{
		Time:         a.now(),
		Kind:         "stream",
		RequestHash:  a.current,
		Request:      p.req,
		Content:      p.acc.Content(),
		ToolCalls:    p.acc.ToolCalls(),
		FinishReason: p.acc.FinishReason(),
	}
	if chunk.Err != nil {
		rec.Error = chunk.Err.Error()
	}
	a.write(rec)
	delete(a.pending, a.current)
	a.current = ""
	return nil
}

func (a *RequestLog) write(rec logRecord) {
	if err := a.enc.Encode(rec); err != nil {
		a.logger.Warn("request log write failed", "error", err)
	}
}

// requestHash fingerprints a request by its message list.
func requestHash(req *models.LLMRequest) string {
	h := sha256.New()
	for _, m := range req.Messages {
		io.WriteString(h, string(m.Role))
		io.WriteString(h, "\x1f")
		io.WriteString(h, m.Content)
		io.WriteString(h, "\x1e")
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

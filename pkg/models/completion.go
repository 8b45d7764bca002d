package models

import (
	"encoding/json"
)

// Permission classifies what a tool may do to the workspace. Write and
// execute tools get a checkpoint snapshot before each run.
type Permission string

const (
	PermissionRead    Permission = "read"
	PermissionWrite   Permission = "write"
	PermissionExecute Permission = "execute"
)

// ToolDescriptor is the registry-facing description of a tool. Names
// are unique within the process; MCP tools arrive prefixed with their
// sanitized server name.
type ToolDescriptor struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Permission       Permission      `json:"permission"`
	Parameters       json.RawMessage `json:"parameters"` // JSON-Schema
	ApprovalRequired bool            `json:"approval_required"`
}

// LLMRequest is a provider-agnostic chat completion request.
type LLMRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDescriptor `json:"tools,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream"`
}

// Clone returns a deep copy safe for advisors to mutate.
func (r *LLMRequest) Clone() *LLMRequest {
	out := *r
	out.Messages = append([]Message(nil), r.Messages...)
	out.Tools = append([]ToolDescriptor(nil), r.Tools...)
	return &out
}

// FinishReason is the terminal marker of a completion or stream.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// ChatCompletion is a full non-streaming completion result.
type ChatCompletion struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one streamed delta. Content is a text
// fragment, ToolCalls carries indexed argument fragments, and
// FinishReason is set only on the terminal chunk.
type ChatCompletionChunk struct {
	Content      string          `json:"content,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`

	// Err reports a mid-stream failure. A chunk carrying Err is
	// terminal: the channel closes right after it and no FinishReason
	// arrives.
	Err error `json:"-"`
}

// ToolCallDelta is a fragment of a streamed tool call. Fragments with
// the same Index belong to one call: ID and Name are set the first
// time the index appears, Arguments fragments concatenate in order.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Package models provides the domain types for the eflycode runtime:
// chat transcripts, tool descriptors, completion requests, and the
// streaming chunk format shared by providers and the orchestrator.
package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a session transcript, shaped after the
// OpenAI chat-completions wire format. Tool-result messages carry the
// ToolCallID of the assistant request they answer and must immediately
// follow it in the transcript.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is an LLM request to execute a tool. Arguments stays a raw
// JSON string through streaming and is only parsed once the stream
// finishes with FinishReasonToolCalls.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its raw argument JSON.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// NewSystemMessage builds a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage builds a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage builds an assistant message with optional tool calls.
func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage builds a tool-result message answering callID.
func NewToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// Session is one persisted conversation. One JSON file per session;
// flushed after every orchestrator step and never deleted by the core.
type Session struct {
	ID                  string    `json:"id"`
	InitialUserQuestion string    `json:"initial_user_question"`
	Messages            []Message `json:"messages"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Append adds messages and bumps UpdatedAt.
func (s *Session) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now().UTC()
}

// Checkpoint links a shadow-git commit to the tool call that triggered it.
type Checkpoint struct {
	CommitHash string    `json:"commit_hash"`
	ToolCall   ToolCall  `json:"tool_call"`
	MessageID  string    `json:"message_id"`
	CreatedAt  time.Time `json:"created_at"`
}

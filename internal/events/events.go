// Package events carries runtime events from the orchestrator to the
// terminal renderer through a two-tier pipeline: a concurrent Bus for
// producers, a strictly ordered UIQueue for the render thread, and a
// Bridge forwarding between them.
package events

import (
	"time"
)

// Type identifies the kind of event. The set is closed; wire strings
// exist only for logs and serialization.
type Type string

const (
	TaskStart     Type = "agent.task.start"
	TaskStop      Type = "agent.task.stop"
	MessageStart  Type = "agent.message.start"
	MessageDelta  Type = "agent.message.delta"
	MessageStop   Type = "agent.message.stop"
	ToolCallStart Type = "agent.tool.call.start"
	ToolCallReady Type = "agent.tool.call.ready"
	ToolResult    Type = "agent.tool.result"
	AgentError    Type = "agent.error"

	// ConfigLLMChanged fires when /model switches the active model so
	// providers and advisors rebuild their clients.
	ConfigLLMChanged Type = "config.llm.changed"
)

// Event is the unified event model. Exactly one payload field is
// meaningful for a given Type. Handlers borrow the event for the
// duration of the call and must not retain references.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`

	// Sequence is monotonic per emitting producer.
	Sequence uint64 `json:"seq,omitempty"`

	// Delta is the text fragment for MessageDelta.
	Delta string `json:"delta,omitempty"`

	// Tool is set for the tool.* events.
	Tool *ToolPayload `json:"tool,omitempty"`

	// Err is set for AgentError.
	Err error `json:"-"`

	// Model is the newly selected model for ConfigLLMChanged.
	Model string `json:"model,omitempty"`
}

// ToolPayload describes the tool call an event refers to. Arguments is
// only populated on ToolCallReady, Result only on ToolResult.
type ToolPayload struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
}

// New builds an event of the given type stamped with the current time.
func New(t Type) Event {
	return Event{Type: t, Time: time.Now()}
}

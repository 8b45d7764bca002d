package models

import (
	"fmt"
)

// ValidateToolPairing checks that tool-call requests and results pair
// up: every assistant message with tool calls is followed by a
// contiguous run of tool messages answering exactly those call IDs,
// and no tool message appears without a pending request. A transcript
// may end mid-turn with the final run still unanswered.
func ValidateToolPairing(msgs []Message) error {
	pending := map[string]bool{}
	for i, m := range msgs {
		switch {
		case m.Role == RoleTool:
			if len(pending) == 0 {
				return fmt.Errorf("message %d: tool result %q has no preceding tool call", i, m.ToolCallID)
			}
			if !pending[m.ToolCallID] {
				return fmt.Errorf("message %d: tool result references unknown call id %q", i, m.ToolCallID)
			}
			delete(pending, m.ToolCallID)
		case len(pending) > 0:
			return fmt.Errorf("message %d: role %s interrupts unanswered tool calls", i, m.Role)
		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("message %d: tool call %q has empty id", i, tc.Function.Name)
				}
				if pending[tc.ID] {
					return fmt.Errorf("message %d: duplicate tool call id %q", i, tc.ID)
				}
				pending[tc.ID] = true
			}
		}
	}
	return nil
}

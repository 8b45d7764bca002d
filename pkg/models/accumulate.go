package models

import (
	"sort"
	"strings"
)

// ChunkAccumulator reassembles a streamed completion from its chunks.
// Tool-call fragments are grouped by index; ID and Name stick from the
// first fragment that carries them, Arguments concatenate in arrival
// order. Not safe for concurrent use.
type ChunkAccumulator struct {
	content strings.Builder
	calls   map[int]*ToolCall
	finish  FinishReason
}

// Add folds one chunk into the accumulator and reports any tool-call
// indexes seen for the first time, in the order they appeared.
func (a *ChunkAccumulator) Add(chunk *ChatCompletionChunk) []int {
	a.content.WriteString(chunk.Content)
	var newIndexes []int
	for _, d := range chunk.ToolCalls {
		if a.calls == nil {
			a.calls = make(map[int]*ToolCall)
		}
		tc, ok := a.calls[d.Index]
		if !ok {
			tc = &ToolCall{Type: "function"}
			a.calls[d.Index] = tc
			newIndexes = append(newIndexes, d.Index)
		}
		if tc.ID == "" {
			tc.ID = d.ID
		}
		if tc.Function.Name == "" {
			tc.Function.Name = d.Name
		}
		tc.Function.Arguments += d.Arguments
	}
	if chunk.FinishReason != "" {
		a.finish = chunk.FinishReason
	}
	return newIndexes
}

// Content returns the accumulated text so far.
func (a *ChunkAccumulator) Content() string { return a.content.String() }

// FinishReason returns the terminal reason, or "" while streaming.
func (a *ChunkAccumulator) FinishReason() FinishReason { return a.finish }

// Call returns the partially or fully accumulated call at index.
func (a *ChunkAccumulator) Call(index int) (ToolCall, bool) {
	tc, ok := a.calls[index]
	if !ok {
		return ToolCall{}, false
	}
	return *tc, true
}

// ToolCalls returns the accumulated calls sorted by stream index.
func (a *ChunkAccumulator) ToolCalls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, *a.calls[i])
	}
	return out
}

// Message builds the assistant message this stream produced.
func (a *ChunkAccumulator) Message() Message {
	return NewAssistantMessage(a.content.String(), a.ToolCalls())
}

package contextmgr

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

const (
	// charsPerToken is the heuristic ratio used for models without a
	// tiktoken mapping.
	charsPerToken = 4

	// tokensPerMessage covers the per-message framing overhead of chat
	// formats.
	tokensPerMessage = 3

	// replyPriming covers the assistant reply prefix the API adds.
	replyPriming = 3
)

// Encoding lookups hit the network on first use, so results are
// cached per model name, including misses.
var (
	encodingsMu sync.Mutex
	encodings   = map[string]*tiktoken.Tiktoken{}
)

// Estimator approximates token counts for one model. Models that map
// to a tiktoken encoding use the real tokenizer; everything else,
// Claude included, falls back to the chars-per-token heuristic.
// Exactness is not required anywhere estimates are consumed.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator returns an estimator for model. Lookup failures are
// not errors: the estimator silently degrades to the heuristic.
func NewEstimator(model string) *Estimator {
	encodingsMu.Lock()
	defer encodingsMu.Unlock()
	if enc, ok := encodings[model]; ok {
		return &Estimator{enc: enc}
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc = nil
	}
	encodings[model] = enc
	return &Estimator{enc: enc}
}

// Count returns the token estimate for one string.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// CountMessages estimates the prompt size of a full transcript,
// including tool calls, tool results and per-message overhead.
func (e *Estimator) CountMessages(msgs []models.Message) int {
	total := replyPriming
	for _, m := range msgs {
		total += e.countMessage(m)
	}
	return total
}

func (e *Estimator) countMessage(m models.Message) int {
	n := tokensPerMessage
	n += e.Count(string(m.Role))
	n += e.Count(m.Content)
	n += e.Count(m.ToolCallID)
	for _, tc := range m.ToolCalls {
		n += e.Count(tc.Function.Name)
		n += e.Count(tc.Function.Arguments)
	}
	return n
}

// Package agent runs the turn loop. One user message enters, a
// sequence of LLM rounds and tool executions follows, and events flow
// out to the renderer. The loop is single-threaded and cooperative:
// within a turn the only suspension points are awaiting a stream
// chunk, awaiting a tool result, and awaiting user approval.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/advisor"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/events"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/sessions"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/tools"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// State is the orchestrator's position in the turn state machine.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingUser     State = "awaiting_user"
	StateCallingLLM       State = "calling_llm"
	StateStreaming        State = "streaming"
	StateParsingTools     State = "parsing_tools"
	StateAwaitingApproval State = "awaiting_approval"
	StateExecutingTools   State = "executing_tools"
	StateTerminated       State = "terminated"
)

// Streamer is the LLM surface the orchestrator drives. Cancelling the
// context closes the underlying transport and the chunk channel
// shortly after.
type Streamer interface {
	Name() string
	Stream(ctx context.Context, req *models.LLMRequest) (<-chan *models.ChatCompletionChunk, error)
}

// ToolRunner is the registry surface the orchestrator needs.
// *tools.Registry implements it.
type ToolRunner interface {
	Descriptors() []models.ToolDescriptor
	Lookup(name string) (models.ToolDescriptor, bool)
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Snapshotter records a workspace checkpoint before a write or
// execute tool runs. *checkpoint.Store implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context, call models.ToolCall, messageID string) (*models.Checkpoint, error)
}

// FinishSignal reports whether the finish_task sentinel appeared
// since the last Reset. *advisor.FinishTask implements it.
type FinishSignal interface {
	Seen() bool
	Reset()
}

// Options configures an Orchestrator. Provider, Tools, Session, and
// Store are required. A nil Approver grants every approval, which is
// how the auto-approve config is wired. A nil Snapshots disables
// checkpoints and a nil Bus disables events.
type Options struct {
	Provider  Streamer
	Tools     ToolRunner
	Session   *models.Session
	Store     sessions.Store
	Chain     *advisor.Chain
	Finish    FinishSignal
	Snapshots Snapshotter
	Approver  Approver
	Bus       *events.Bus
	Logger    *slog.Logger

	Model     config.ModelConfig
	Workspace string

	// LLMTimeout bounds one provider call including stream
	// consumption. Zero means config.DefaultLLMTimeout.
	LLMTimeout time.Duration

	// MaxRounds caps LLM rounds per turn. Zero means unlimited.
	MaxRounds int
}

// Orchestrator owns one session and executes turns against it. It is
// not safe for concurrent turns; the composer calls Turn serially.
// SetModel may be called from an event handler while a turn runs.
type Orchestrator struct {
	tools      ToolRunner
	store      sessions.Store
	chain      *advisor.Chain
	finish     FinishSignal
	snapshots  Snapshotter
	approver   Approver
	bus        *events.Bus
	logger     *slog.Logger
	workspace  string
	llmTimeout time.Duration
	maxRounds  int

	mu       sync.RWMutex
	provider Streamer
	model    config.ModelConfig
	session  *models.Session
	state    State

	seq atomic.Uint64
}

// New validates the options and builds an orchestrator in StateIdle.
func New(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("agent: tool runner is required")
	}
	if opts.Session == nil {
		return nil, errors.New("agent: session is required")
	}
	if opts.Store == nil {
		return nil, errors.New("agent: session store is required")
	}
	chain := opts.Chain
	if chain == nil {
		chain = advisor.NewChain()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.LLMTimeout
	if timeout == 0 {
		timeout = config.DefaultLLMTimeout
	}
	return &Orchestrator{
		provider:   opts.Provider,
		tools:      opts.Tools,
		session:    opts.Session,
		store:      opts.Store,
		chain:      chain,
		finish:     opts.Finish,
		snapshots:  opts.Snapshots,
		approver:   opts.Approver,
		bus:        opts.Bus,
		logger:     logger.With("component", "agent"),
		model:      opts.Model,
		workspace:  opts.Workspace,
		llmTimeout: timeout,
		maxRounds:  opts.MaxRounds,
		state:      StateIdle,
	}, nil
}

// State returns the current machine state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Terminated reports whether finish_task ended the agent.
func (o *Orchestrator) Terminated() bool { return o.State() == StateTerminated }

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// SetModel swaps the active model and its provider. Safe to call from
// the config.llm.changed handler while a turn is streaming: the
// running round finishes on the old provider, the next round picks up
// the new one.
func (o *Orchestrator) SetModel(model config.ModelConfig, p Streamer) {
	o.mu.Lock()
	o.model = model
	o.provider = p
	o.mu.Unlock()
}

func (o *Orchestrator) active() (Streamer, config.ModelConfig) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.provider, o.model
}

// Session returns the live session.
func (o *Orchestrator) Session() *models.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session
}

// SetSession replaces the live session, for /resume. Must not be
// called while a turn is running.
func (o *Orchestrator) SetSession(s *models.Session) {
	o.mu.Lock()
	o.session = s
	o.mu.Unlock()
}

// Reset clears the transcript in place. The session keeps its id and
// file, so /clear does not orphan history on disk.
func (o *Orchestrator) Reset(ctx context.Context) {
	o.session.Messages = nil
	o.session.UpdatedAt = time.Now().UTC()
	o.persist(ctx)
}

// ModelName implements advisor.AgentInfo.
func (o *Orchestrator) ModelName() string {
	_, model := o.active()
	return model.Name
}

// Workspace implements advisor.AgentInfo.
func (o *Orchestrator) Workspace() string { return o.workspace }

// SessionID implements advisor.AgentInfo.
func (o *Orchestrator) SessionID() string { return o.Session().ID }

// ToolDescriptors implements advisor.AgentInfo.
func (o *Orchestrator) ToolDescriptors() []models.ToolDescriptor {
	return o.tools.Descriptors()
}

// Turn runs one full user turn: append the message, then loop LLM
// rounds and tool executions until the model stops calling tools, the
// finish_task sentinel fires, or the turn is canceled or fails.
func (o *Orchestrator) Turn(ctx context.Context, input string) error {
	if o.State() == StateTerminated {
		return ErrTerminated
	}
	o.setState(StateAwaitingUser)
	if o.finish != nil {
		o.finish.Reset()
	}
	if o.session.InitialUserQuestion == "" {
		o.session.InitialUserQuestion = input
	}
	o.session.Append(models.NewUserMessage(input))
	o.persist(ctx)

	taskStarted := false
	for round := 1; ; round++ {
		calls, assistantIdx, err := o.streamRound(ctx, &taskStarted)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			o.emit(events.New(events.TaskStop))
			o.setState(StateIdle)
			return nil
		}
		if err := o.runTools(ctx, calls, assistantIdx); err != nil {
			return err
		}
		if o.finishSeen(calls) {
			o.emit(events.New(events.TaskStop))
			o.setState(StateTerminated)
			return nil
		}
		if o.maxRounds > 0 && round >= o.maxRounds {
			cause := fmt.Errorf("%w: %d", ErrMaxRounds, o.maxRounds)
			e := events.New(events.AgentError)
			e.Err = cause
			o.emit(e)
			o.setState(StateAwaitingUser)
			return &TurnError{State: StateExecutingTools, Err: cause}
		}
	}
}

// streamRound performs one request/stream cycle: build the request,
// run the advisor chain, consume the stream, append the assistant
// message, and return any accumulated tool calls with the index of
// the appended message.
func (o *Orchestrator) streamRound(ctx context.Context, taskStarted *bool) ([]models.ToolCall, int, error) {
	prov, model := o.active()
	o.setState(StateCallingLLM)

	req := &models.LLMRequest{
		Model:       model.Name,
		Messages:    append([]models.Message(nil), o.session.Messages...),
		Tools:       o.tools.Descriptors(),
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
		Stream:      true,
	}
	if err := o.chain.BeforeStream(ctx, req); err != nil {
		return nil, 0, o.abortTurn(StateCallingLLM, err)
	}

	// Pairing of tool calls and results is an internal invariant; a
	// violation here points at an accumulator or trim bug. Checked at
	// debug level only, never fatal.
	if o.logger.Enabled(ctx, slog.LevelDebug) {
		if err := models.ValidateToolPairing(req.Messages); err != nil {
			o.logger.Warn("transcript pairing violated", "error", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	defer cancel()

	stream, err := prov.Stream(callCtx, req)
	if err != nil {
		return nil, 0, o.abortTurn(StateCallingLLM, err)
	}

	if !*taskStarted {
		*taskStarted = true
		o.emit(events.New(events.TaskStart))
	}
	o.emit(events.New(events.MessageStart))
	o.setState(StateStreaming)

	acc := &models.ChunkAccumulator{}
	seen := make(map[int]bool)
	announced := make(map[int]bool)
	sawDelta := false
	var streamErr error

	for chunk := range stream {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		if err := o.chain.AfterStream(ctx, chunk); err != nil {
			streamErr = err
			break
		}
		acc.Add(chunk)
		if chunk.Content != "" {
			sawDelta = true
			e := events.New(events.MessageDelta)
			e.Delta = chunk.Content
			o.emit(e)
		}
		for _, d := range chunk.ToolCalls {
			sawDelta = true
			seen[d.Index] = true
			if announced[d.Index] {
				continue
			}
			// Start fires as soon as the call's name is known, ahead
			// of the finish chunk, so the UI can show a spinner while
			// arguments are still streaming in.
			call, ok := acc.Call(d.Index)
			if !ok || call.Function.Name == "" {
				continue
			}
			announced[d.Index] = true
			e := events.New(events.ToolCallStart)
			e.Tool = &events.ToolPayload{Name: call.Function.Name, ID: call.ID}
			o.emit(e)
		}
	}

	if ctx.Err() != nil {
		return nil, 0, o.cancelStreaming(ctx, acc)
	}
	if streamErr == nil && acc.FinishReason() == "" {
		if callCtx.Err() != nil {
			streamErr = fmt.Errorf("provider timed out after %s: %w", o.llmTimeout, callCtx.Err())
		} else {
			streamErr = errors.New("stream closed without a finish reason")
		}
	}
	if streamErr != nil {
		return nil, 0, o.abortStreaming(ctx, acc, sawDelta, streamErr)
	}

	o.setState(StateParsingTools)
	calls := acc.ToolCalls()
	if len(calls) > 0 {
		indexes := make([]int, 0, len(seen))
		for i := range seen {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			if announced[i] {
				continue
			}
			call, ok := acc.Call(i)
			if !ok || call.Function.Name == "" {
				continue
			}
			e := events.New(events.ToolCallStart)
			e.Tool = &events.ToolPayload{Name: call.Function.Name, ID: call.ID}
			o.emit(e)
		}
		for _, call := range calls {
			e := events.New(events.ToolCallReady)
			e.Tool = &events.ToolPayload{
				Name:      call.Function.Name,
				ID:        call.ID,
				Arguments: call.Function.Arguments,
			}
			o.emit(e)
		}
	}

	o.emit(events.New(events.MessageStop))
	o.session.Append(acc.Message())
	o.persist(ctx)
	return calls, len(o.session.Messages) - 1, nil
}

// runTools executes the round's tool calls in order, appending one
// tool message per call no matter how it went, so every call id gets
// an answer.
func (o *Orchestrator) runTools(ctx context.Context, calls []models.ToolCall, assistantIdx int) error {
	for i, call := range calls {
		if ctx.Err() != nil {
			return o.cancelTools(ctx, calls[i:])
		}
		name := call.Function.Name
		desc, ok := o.tools.Lookup(name)
		if !ok {
			o.appendToolResult(ctx, call, fmt.Sprintf("%s is not found", name))
			continue
		}

		if desc.Permission == models.PermissionWrite || desc.Permission == models.PermissionExecute {
			o.snapshot(ctx, call, assistantIdx)
		}

		if desc.ApprovalRequired && o.approver != nil {
			o.setState(StateAwaitingApproval)
			approved, err := o.approver.Approve(ctx, call, desc)
			if err != nil {
				return o.cancelTools(ctx, calls[i:])
			}
			if !approved {
				o.appendToolResult(ctx, call, fmt.Sprintf("User refused to execute the tool: %s", name))
				continue
			}
		}

		o.setState(StateExecutingTools)
		result, err := o.tools.Invoke(ctx, name, json.RawMessage(call.Function.Arguments))
		if err != nil {
			if ctx.Err() != nil {
				return o.cancelTools(ctx, calls[i:])
			}
			// Argument parse and execution failures go back to the
			// model as the tool result, never up the stack.
			result = err.Error()
		}
		o.appendToolResult(ctx, call, result)
	}
	return nil
}

// snapshot checkpoints the workspace before a mutating tool. Failures
// are logged and the turn continues without one.
func (o *Orchestrator) snapshot(ctx context.Context, call models.ToolCall, assistantIdx int) {
	if o.snapshots == nil {
		return
	}
	messageID := fmt.Sprintf("%s#%d", o.session.ID, assistantIdx)
	if _, err := o.snapshots.Snapshot(ctx, call, messageID); err != nil {
		o.logger.Warn("checkpoint snapshot failed",
			"tool", call.Function.Name, "error", err)
	}
}

// appendToolResult emits the result event, then appends and persists
// the tool message answering call.
func (o *Orchestrator) appendToolResult(ctx context.Context, call models.ToolCall, content string) {
	e := events.New(events.ToolResult)
	e.Tool = &events.ToolPayload{Name: call.Function.Name, ID: call.ID, Result: content}
	o.emit(e)
	o.session.Append(models.NewToolMessage(call.ID, call.Function.Name, content))
	o.persist(ctx)
}

// cancelStreaming unwinds a user cancel observed mid-stream. Partial
// text is kept so the transcript stays coherent; partial tool calls
// are dropped because their results can never arrive.
func (o *Orchestrator) cancelStreaming(ctx context.Context, acc *models.ChunkAccumulator) error {
	o.emit(events.New(events.MessageStop))
	if content := acc.Content(); content != "" {
		o.session.Append(models.NewAssistantMessage(content, nil))
		o.persist(ctx)
	}
	o.emit(events.New(events.TaskStop))
	o.setState(StateAwaitingUser)
	return fmt.Errorf("streaming: %w", ErrCanceled)
}

// cancelTools unwinds a user cancel during tool execution. Unanswered
// calls get a synthetic result so the transcript keeps its
// request/result pairing for the next request.
func (o *Orchestrator) cancelTools(ctx context.Context, remaining []models.ToolCall) error {
	for _, call := range remaining {
		o.appendToolResult(ctx, call, "Canceled by user.")
	}
	o.emit(events.New(events.TaskStop))
	o.setState(StateAwaitingUser)
	return fmt.Errorf("executing tools: %w", ErrCanceled)
}

// abortStreaming handles a provider or advisor failure mid-stream.
// When at least one delta arrived, whatever text accumulated is kept
// with an <error> suffix so follow-up turns can reason about the
// failure; accumulated tool calls are dropped.
func (o *Orchestrator) abortStreaming(ctx context.Context, acc *models.ChunkAccumulator, sawDelta bool, cause error) error {
	if sawDelta {
		content := acc.Content()
		if content != "" {
			content += "\n\n"
		}
		content += fmt.Sprintf("<error>%v</error>", cause)
		o.session.Append(models.NewAssistantMessage(content, nil))
		o.persist(ctx)
	}
	return o.abortTurn(StateStreaming, cause)
}

// abortTurn emits agent.error and rolls back to AWAITING_USER.
func (o *Orchestrator) abortTurn(state State, cause error) error {
	e := events.New(events.AgentError)
	e.Err = cause
	o.emit(e)
	o.setState(StateAwaitingUser)
	return &TurnError{State: state, Err: cause}
}

// finishSeen checks the sentinel latch, falling back to scanning the
// executed calls when no advisor latch is wired.
func (o *Orchestrator) finishSeen(calls []models.ToolCall) bool {
	if o.finish != nil {
		return o.finish.Seen()
	}
	for _, call := range calls {
		if call.Function.Name == tools.FinishTaskName {
			return true
		}
	}
	return false
}

// persist flushes the session. Save failures never abort the turn:
// the in-memory transcript stays intact and the next flush retries.
func (o *Orchestrator) persist(ctx context.Context) {
	if err := o.store.Save(ctx, o.session); err != nil {
		o.logger.Warn("session save failed", "session", o.session.ID, "error", err)
	}
}

func (o *Orchestrator) emit(e events.Event) {
	if o.bus == nil {
		return
	}
	e.Sequence = o.seq.Add(1)
	o.bus.Emit(e)
}

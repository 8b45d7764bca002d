package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/advisor"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/events"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/sessions"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/tools"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// scriptProvider replays one scripted chunk sequence per round.
type scriptProvider struct {
	rounds     [][]*models.ChatCompletionChunk
	call       int32
	streamFunc func(ctx context.Context, req *models.LLMRequest) (<-chan *models.ChatCompletionChunk, error)
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Stream(ctx context.Context, req *models.LLMRequest) (<-chan *models.ChatCompletionChunk, error) {
	if p.streamFunc != nil {
		return p.streamFunc(ctx, req)
	}
	n := int(atomic.AddInt32(&p.call, 1)) - 1
	ch := make(chan *models.ChatCompletionChunk)
	go func() {
		defer close(ch)
		if n >= len(p.rounds) {
			return
		}
		for _, chunk := range p.rounds[n] {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func textRound(fragments ...string) []*models.ChatCompletionChunk {
	chunks := make([]*models.ChatCompletionChunk, 0, len(fragments)+1)
	for _, f := range fragments {
		chunks = append(chunks, &models.ChatCompletionChunk{Content: f})
	}
	return append(chunks, &models.ChatCompletionChunk{FinishReason: models.FinishReasonStop})
}

func toolRound(calls ...models.ToolCallDelta) []*models.ChatCompletionChunk {
	chunks := make([]*models.ChatCompletionChunk, 0, len(calls)+1)
	for _, c := range calls {
		chunks = append(chunks, &models.ChatCompletionChunk{ToolCalls: []models.ToolCallDelta{c}})
	}
	return append(chunks, &models.ChatCompletionChunk{FinishReason: models.FinishReasonToolCalls})
}

// memStore keeps the last saved session in memory.
type memStore struct {
	mu    sync.Mutex
	saves int
	last  *models.Session
}

func (s *memStore) Save(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	copied := *sess
	copied.Messages = append([]models.Message(nil), sess.Messages...)
	s.last = &copied
	return nil
}

func (s *memStore) Load(ctx context.Context, id string) (*models.Session, error) {
	return nil, sessions.ErrNotFound
}

func (s *memStore) ListRecent(ctx context.Context, limit int) ([]sessions.SessionInfo, error) {
	return nil, nil
}

// stubTool is a registry tool with a canned result.
type stubTool struct {
	name     string
	perm     models.Permission
	approval bool
	invoked  int32
	result   string
	invoke   func(ctx context.Context, args map[string]any) (string, error)
}

func (t *stubTool) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:             t.name,
		Description:      "stub",
		Permission:       t.perm,
		Parameters:       json.RawMessage(`{"type":"object"}`),
		ApprovalRequired: t.approval,
	}
}

func (t *stubTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	atomic.AddInt32(&t.invoked, 1)
	if t.invoke != nil {
		return t.invoke(ctx, args)
	}
	return t.result, nil
}

type eventLog struct {
	mu   sync.Mutex
	list []events.Event
}

func (l *eventLog) record(e events.Event) {
	l.mu.Lock()
	l.list = append(l.list, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []events.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Type, len(l.list))
	for i, e := range l.list {
		out[i] = e.Type
	}
	return out
}

func (l *eventLog) events() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.list...)
}

var agentEventTypes = []events.Type{
	events.TaskStart, events.TaskStop,
	events.MessageStart, events.MessageDelta, events.MessageStop,
	events.ToolCallStart, events.ToolCallReady, events.ToolResult,
	events.AgentError,
}

type fixture struct {
	orch  *Orchestrator
	prov  *scriptProvider
	store *memStore
	sess  *models.Session
	bus   *events.Bus
	log   *eventLog
	snaps *fakeSnapshotter
}

type fakeSnapshotter struct {
	calls []models.ToolCall
	err   error
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, call models.ToolCall, messageID string) (*models.Checkpoint, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Checkpoint{CommitHash: "deadbeef", ToolCall: call, MessageID: messageID}, nil
}

func newFixture(t *testing.T, prov *scriptProvider, opts *Options, registered ...tools.Tool) *fixture {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range registered {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	bus := events.NewBus(1, nil)
	log := &eventLog{}
	bus.Subscribe(log.record, agentEventTypes...)

	sess := &models.Session{ID: "sess-test"}
	store := &memStore{}
	snaps := &fakeSnapshotter{}

	finish := advisor.NewFinishTask()
	chain := advisor.NewChain(finish)

	o := Options{
		Provider:  prov,
		Tools:     registry,
		Session:   sess,
		Store:     store,
		Chain:     chain,
		Finish:    finish,
		Snapshots: snaps,
		Bus:       bus,
	}
	if opts != nil {
		if opts.Approver != nil {
			o.Approver = opts.Approver
		}
		if opts.MaxRounds != 0 {
			o.MaxRounds = opts.MaxRounds
		}
		if opts.Finish == nil && opts.Chain != nil {
			o.Chain, o.Finish = opts.Chain, nil
		}
	}

	orch, err := New(o)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{orch: orch, prov: prov, store: store, sess: sess, bus: bus, log: log, snaps: snaps}
}

func roles(msgs []models.Message) []models.Role {
	out := make([]models.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestTurnTextOnly(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		textRound("Hel", "lo"),
	}}
	f := newFixture(t, prov, nil)

	if err := f.orch.Turn(context.Background(), "Hi"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	f.bus.Wait()

	msgs := f.sess.Messages
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2: %v", len(msgs), roles(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].Content != "Hi" {
		t.Errorf("message 0 = %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Content != "Hello" {
		t.Errorf("message 1 = %+v", msgs[1])
	}
	if f.sess.InitialUserQuestion != "Hi" {
		t.Errorf("InitialUserQuestion = %q", f.sess.InitialUserQuestion)
	}
	if got := f.orch.State(); got != StateIdle {
		t.Errorf("State() = %s, want %s", got, StateIdle)
	}

	want := []events.Type{
		events.TaskStart, events.MessageStart,
		events.MessageDelta, events.MessageDelta,
		events.MessageStop, events.TaskStop,
	}
	got := f.log.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
	evs := f.log.events()
	if evs[2].Delta != "Hel" || evs[3].Delta != "lo" {
		t.Errorf("deltas = %q, %q", evs[2].Delta, evs[3].Delta)
	}
	if f.store.last == nil || len(f.store.last.Messages) != 2 {
		t.Error("session was not flushed with the final transcript")
	}
}

func TestTurnWithToolExecution(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(
			models.ToolCallDelta{Index: 0, ID: "call_1", Name: "list_files"},
			models.ToolCallDelta{Index: 0, Arguments: `{"path":"."}`},
		),
		textRound("Here are the files: a.txt"),
	}}
	lister := &stubTool{name: "list_files", perm: models.PermissionRead, result: "a.txt\nsub/"}
	f := newFixture(t, prov, nil, lister)

	if err := f.orch.Turn(context.Background(), "list the repo"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	f.bus.Wait()

	msgs := f.sess.Messages
	if len(msgs) != 4 {
		t.Fatalf("transcript has %d messages, want 4: %v", len(msgs), roles(msgs))
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Function.Name != "list_files" {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if msgs[2].Role != models.RoleTool || msgs[2].ToolCallID != "call_1" || msgs[2].Content != "a.txt\nsub/" {
		t.Errorf("tool message = %+v", msgs[2])
	}
	if msgs[3].Content != "Here are the files: a.txt" {
		t.Errorf("final message = %+v", msgs[3])
	}
	if err := models.ValidateToolPairing(msgs); err != nil {
		t.Errorf("ValidateToolPairing() error = %v", err)
	}
	if n := atomic.LoadInt32(&lister.invoked); n != 1 {
		t.Errorf("tool invoked %d times, want 1", n)
	}

	want := []events.Type{
		events.TaskStart, events.MessageStart,
		events.ToolCallStart, events.ToolCallReady,
		events.MessageStop, events.ToolResult,
		events.MessageStart, events.MessageDelta,
		events.MessageStop, events.TaskStop,
	}
	got := f.log.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	evs := f.log.events()
	if evs[2].Tool == nil || evs[2].Tool.Name != "list_files" || evs[2].Tool.Arguments != "" {
		t.Errorf("tool.call.start payload = %+v", evs[2].Tool)
	}
	if evs[3].Tool == nil || evs[3].Tool.Arguments != `{"path":"."}` {
		t.Errorf("tool.call.ready payload = %+v", evs[3].Tool)
	}
}

func TestTurnToolRefused(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "list_files", Arguments: `{"path":"."}`}),
		textRound("Understood, skipping."),
	}}
	lister := &stubTool{name: "list_files", perm: models.PermissionRead, approval: true, result: "a.txt"}
	refuse := ApproverFunc(func(ctx context.Context, call models.ToolCall, desc models.ToolDescriptor) (bool, error) {
		return false, nil
	})
	f := newFixture(t, prov, &Options{Approver: refuse}, lister)

	if err := f.orch.Turn(context.Background(), "list the repo"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}

	msgs := f.sess.Messages
	if len(msgs) != 4 {
		t.Fatalf("transcript has %d messages, want 4: %v", len(msgs), roles(msgs))
	}
	if msgs[2].Content != "User refused to execute the tool: list_files" {
		t.Errorf("refusal message = %q", msgs[2].Content)
	}
	if n := atomic.LoadInt32(&lister.invoked); n != 0 {
		t.Errorf("refused tool was invoked %d times", n)
	}
	if f.orch.State() != StateIdle {
		t.Errorf("State() = %s", f.orch.State())
	}
}

func TestTurnApprovedToolRuns(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "run_thing", Arguments: `{}`}),
		textRound("done"),
	}}
	tool := &stubTool{name: "run_thing", perm: models.PermissionExecute, approval: true, result: "ran"}
	var prompted int32
	approve := ApproverFunc(func(ctx context.Context, call models.ToolCall, desc models.ToolDescriptor) (bool, error) {
		atomic.AddInt32(&prompted, 1)
		return true, nil
	})
	f := newFixture(t, prov, &Options{Approver: approve}, tool)

	if err := f.orch.Turn(context.Background(), "go"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if atomic.LoadInt32(&prompted) != 1 {
		t.Error("approver was not consulted")
	}
	if atomic.LoadInt32(&tool.invoked) != 1 {
		t.Error("approved tool did not run")
	}
	// Execute permission means a checkpoint precedes the run.
	if len(f.snaps.calls) != 1 || f.snaps.calls[0].Function.Name != "run_thing" {
		t.Errorf("snapshots = %+v", f.snaps.calls)
	}
}

func TestTurnMissingTool(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "ghost_tool", Arguments: `{}`}),
		textRound("ok"),
	}}
	f := newFixture(t, prov, nil)

	if err := f.orch.Turn(context.Background(), "use the ghost"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	msgs := f.sess.Messages
	if msgs[2].Content != "ghost_tool is not found" {
		t.Errorf("tool message = %q", msgs[2].Content)
	}
	if err := models.ValidateToolPairing(msgs); err != nil {
		t.Errorf("ValidateToolPairing() error = %v", err)
	}
}

func TestTurnBadArgumentsBecomeToolResult(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "list_files", Arguments: `{"path":`}),
		textRound("ok"),
	}}
	lister := &stubTool{name: "list_files", perm: models.PermissionRead, result: "unused"}
	f := newFixture(t, prov, nil, lister)

	if err := f.orch.Turn(context.Background(), "list"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	msgs := f.sess.Messages
	if !strings.Contains(msgs[2].Content, "invalid arguments JSON") {
		t.Errorf("tool message = %q, want a JSON parse failure", msgs[2].Content)
	}
	if atomic.LoadInt32(&lister.invoked) != 0 {
		t.Error("tool ran despite unparseable arguments")
	}
}

func TestTurnFinishTaskTerminates(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "finish_task", Arguments: `{"summary":"all tests pass"}`}),
	}}
	f := newFixture(t, prov, nil, tools.NewFinishTask())

	if err := f.orch.Turn(context.Background(), "wrap up"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if !f.orch.Terminated() {
		t.Fatalf("State() = %s, want %s", f.orch.State(), StateTerminated)
	}
	msgs := f.sess.Messages
	if len(msgs) != 3 {
		t.Fatalf("transcript has %d messages, want 3: %v", len(msgs), roles(msgs))
	}
	if msgs[2].Content != "Task complete: all tests pass" {
		t.Errorf("sentinel result = %q", msgs[2].Content)
	}

	if err := f.orch.Turn(context.Background(), "more?"); !errors.Is(err, ErrTerminated) {
		t.Errorf("Turn() after termination error = %v, want ErrTerminated", err)
	}
}

func TestTurnFinishTaskWithoutLatch(t *testing.T) {
	// No advisor latch wired: the orchestrator falls back to scanning
	// the executed calls for the sentinel name.
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "finish_task", Arguments: `{}`}),
	}}
	f := newFixture(t, prov, &Options{Chain: advisor.NewChain()}, tools.NewFinishTask())

	if err := f.orch.Turn(context.Background(), "wrap up"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if !f.orch.Terminated() {
		t.Errorf("State() = %s, want %s", f.orch.State(), StateTerminated)
	}
}

func TestTurnProviderErrorBeforeDelta(t *testing.T) {
	boom := errors.New("upstream 500")
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		{{Err: boom}},
	}}
	f := newFixture(t, prov, nil)

	err := f.orch.Turn(context.Background(), "Hi")
	if err == nil {
		t.Fatal("Turn() succeeded, want error")
	}
	var te *TurnError
	if !errors.As(err, &te) || !errors.Is(err, boom) {
		t.Errorf("Turn() error = %v, want TurnError wrapping boom", err)
	}
	if len(f.sess.Messages) != 1 {
		t.Errorf("transcript = %v, want only the user message", roles(f.sess.Messages))
	}
	if f.orch.State() != StateAwaitingUser {
		t.Errorf("State() = %s, want %s", f.orch.State(), StateAwaitingUser)
	}
	f.bus.Wait()
	types := f.log.types()
	if types[len(types)-1] != events.AgentError {
		t.Errorf("last event = %s, want %s", types[len(types)-1], events.AgentError)
	}
}

func TestTurnProviderErrorKeepsPartialText(t *testing.T) {
	boom := errors.New("connection reset")
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		{{Content: "partial answer"}, {Err: boom}},
	}}
	f := newFixture(t, prov, nil)

	if err := f.orch.Turn(context.Background(), "Hi"); err == nil {
		t.Fatal("Turn() succeeded, want error")
	}
	msgs := f.sess.Messages
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2: %v", len(msgs), roles(msgs))
	}
	want := "partial answer\n\n<error>connection reset</error>"
	if msgs[1].Content != want {
		t.Errorf("assistant message = %q, want %q", msgs[1].Content, want)
	}
	if len(msgs[1].ToolCalls) != 0 {
		t.Errorf("partial tool calls survived the abort: %+v", msgs[1].ToolCalls)
	}
}

func TestTurnCancelDuringStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	prov := &scriptProvider{}
	prov.streamFunc = func(ctx context.Context, req *models.LLMRequest) (<-chan *models.ChatCompletionChunk, error) {
		ch := make(chan *models.ChatCompletionChunk)
		go func() {
			defer close(ch)
			ch <- &models.ChatCompletionChunk{Content: "partial"}
			close(started)
			<-ctx.Done()
		}()
		return ch, nil
	}
	f := newFixture(t, prov, nil)

	go func() {
		<-started
		cancel()
	}()

	err := f.orch.Turn(ctx, "Hi")
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("Turn() error = %v, want ErrCanceled", err)
	}
	msgs := f.sess.Messages
	if len(msgs) != 2 || msgs[1].Content != "partial" {
		t.Errorf("transcript = %+v, want partial assistant message kept", msgs)
	}
	if f.orch.State() != StateAwaitingUser {
		t.Errorf("State() = %s, want %s", f.orch.State(), StateAwaitingUser)
	}
	f.bus.Wait()
	types := f.log.types()
	if types[len(types)-1] != events.TaskStop {
		t.Errorf("last event = %s, want %s", types[len(types)-1], events.TaskStop)
	}
}

func TestTurnCancelDuringToolExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	blocker := &stubTool{name: "slow_tool", perm: models.PermissionRead}
	blocker.invoke = func(ctx context.Context, args map[string]any) (string, error) {
		close(entered)
		<-ctx.Done()
		return "", ctx.Err()
	}
	second := &stubTool{name: "next_tool", perm: models.PermissionRead, result: "never"}

	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(
			models.ToolCallDelta{Index: 0, ID: "call_1", Name: "slow_tool", Arguments: `{}`},
			models.ToolCallDelta{Index: 1, ID: "call_2", Name: "next_tool", Arguments: `{}`},
		),
	}}
	f := newFixture(t, prov, nil, blocker, second)

	go func() {
		<-entered
		cancel()
	}()

	err := f.orch.Turn(ctx, "run things")
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("Turn() error = %v, want ErrCanceled", err)
	}
	msgs := f.sess.Messages
	if len(msgs) != 4 {
		t.Fatalf("transcript has %d messages, want 4: %v", len(msgs), roles(msgs))
	}
	for _, i := range []int{2, 3} {
		if msgs[i].Content != "Canceled by user." {
			t.Errorf("message %d = %q, want cancellation result", i, msgs[i].Content)
		}
	}
	if err := models.ValidateToolPairing(msgs); err != nil {
		t.Errorf("ValidateToolPairing() error = %v", err)
	}
	if atomic.LoadInt32(&second.invoked) != 0 {
		t.Error("tool after the cancel point still ran")
	}
}

func TestTurnApproverErrorCancelsTurn(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "guarded", Arguments: `{}`}),
	}}
	tool := &stubTool{name: "guarded", perm: models.PermissionRead, approval: true, result: "x"}
	abort := ApproverFunc(func(ctx context.Context, call models.ToolCall, desc models.ToolDescriptor) (bool, error) {
		return false, io.EOF
	})
	f := newFixture(t, prov, &Options{Approver: abort}, tool)

	err := f.orch.Turn(context.Background(), "go")
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("Turn() error = %v, want ErrCanceled", err)
	}
	if atomic.LoadInt32(&tool.invoked) != 0 {
		t.Error("tool ran after the approval prompt failed")
	}
	if f.sess.Messages[2].Content != "Canceled by user." {
		t.Errorf("tool message = %q", f.sess.Messages[2].Content)
	}
}

func TestSnapshotFailureDoesNotAbort(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "writer", Arguments: `{}`}),
		textRound("done"),
	}}
	writer := &stubTool{name: "writer", perm: models.PermissionWrite, result: "wrote"}
	f := newFixture(t, prov, nil, writer)
	f.snaps.err = errors.New("git unavailable")

	if err := f.orch.Turn(context.Background(), "write it"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if atomic.LoadInt32(&writer.invoked) != 1 {
		t.Error("tool did not run after the failed snapshot")
	}
	if f.sess.Messages[2].Content != "wrote" {
		t.Errorf("tool message = %q", f.sess.Messages[2].Content)
	}
}

func TestReadToolSkipsSnapshot(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "reader", Arguments: `{}`}),
		textRound("done"),
	}}
	reader := &stubTool{name: "reader", perm: models.PermissionRead, result: "data"}
	f := newFixture(t, prov, nil, reader)

	if err := f.orch.Turn(context.Background(), "read it"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if len(f.snaps.calls) != 0 {
		t.Errorf("read tool triggered %d snapshots", len(f.snaps.calls))
	}
}

func TestTurnLateNameStillAnnounced(t *testing.T) {
	// The id arrives first, the name only in a later fragment. The
	// start event must wait for the name.
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		{
			{ToolCalls: []models.ToolCallDelta{{Index: 0, ID: "call_1"}}},
			{ToolCalls: []models.ToolCallDelta{{Index: 0, Name: "echo", Arguments: `{}`}}},
			{FinishReason: models.FinishReasonToolCalls},
		},
		textRound("ok"),
	}}
	echo := &stubTool{name: "echo", perm: models.PermissionRead, result: "echoed"}
	f := newFixture(t, prov, nil, echo)

	if err := f.orch.Turn(context.Background(), "echo"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	f.bus.Wait()

	var starts int
	for _, e := range f.log.events() {
		if e.Type == events.ToolCallStart {
			starts++
			if e.Tool.Name != "echo" || e.Tool.ID != "call_1" {
				t.Errorf("start payload = %+v", e.Tool)
			}
		}
	}
	if starts != 1 {
		t.Errorf("tool.call.start emitted %d times, want 1", starts)
	}
}

func TestTurnMaxRounds(t *testing.T) {
	loop := toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "echo", Arguments: `{}`})
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{loop, loop, loop, loop}}
	echo := &stubTool{name: "echo", perm: models.PermissionRead, result: "again"}
	f := newFixture(t, prov, &Options{MaxRounds: 2}, echo)

	err := f.orch.Turn(context.Background(), "loop forever")
	if !errors.Is(err, ErrMaxRounds) {
		t.Fatalf("Turn() error = %v, want ErrMaxRounds", err)
	}
	if f.orch.State() != StateAwaitingUser {
		t.Errorf("State() = %s", f.orch.State())
	}
}

func TestTurnSequencesAreMonotonic(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		toolRound(models.ToolCallDelta{Index: 0, ID: "call_1", Name: "echo", Arguments: `{}`}),
		textRound("done"),
	}}
	echo := &stubTool{name: "echo", perm: models.PermissionRead, result: "x"}
	f := newFixture(t, prov, nil, echo)

	if err := f.orch.Turn(context.Background(), "go"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	f.bus.Wait()

	var prev uint64
	for i, e := range f.log.events() {
		if e.Sequence <= prev {
			t.Fatalf("event %d (%s): sequence %d not after %d", i, e.Type, e.Sequence, prev)
		}
		prev = e.Sequence
	}
}

func TestTwoTurnsShareOneSession(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		textRound("first"),
		textRound("second"),
	}}
	f := newFixture(t, prov, nil)

	if err := f.orch.Turn(context.Background(), "one"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if err := f.orch.Turn(context.Background(), "two"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	f.bus.Wait()

	msgs := f.sess.Messages
	if len(msgs) != 4 {
		t.Fatalf("transcript has %d messages: %v", len(msgs), roles(msgs))
	}
	if f.sess.InitialUserQuestion != "one" {
		t.Errorf("InitialUserQuestion = %q", f.sess.InitialUserQuestion)
	}

	// Turn boundaries hold on the event stream: the first task.stop
	// arrives before the second task.start.
	types := f.log.types()
	firstStop, secondStart := -1, -1
	for i, typ := range types {
		if typ == events.TaskStop && firstStop == -1 {
			firstStop = i
		}
		if typ == events.TaskStart && i > 0 && secondStart == -1 && firstStop != -1 {
			secondStart = i
		}
	}
	if firstStop == -1 || secondStart == -1 || secondStart < firstStop {
		t.Errorf("task boundaries out of order: %v", types)
	}
}

func TestResetClearsTranscript(t *testing.T) {
	prov := &scriptProvider{rounds: [][]*models.ChatCompletionChunk{
		textRound("hello"),
		textRound("fresh"),
	}}
	f := newFixture(t, prov, nil)

	if err := f.orch.Turn(context.Background(), "one"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	f.orch.Reset(context.Background())
	if len(f.sess.Messages) != 0 {
		t.Fatalf("Reset() left %d messages", len(f.sess.Messages))
	}
	if f.sess.ID != "sess-test" {
		t.Errorf("Reset() changed the session id to %q", f.sess.ID)
	}

	if err := f.orch.Turn(context.Background(), "two"); err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	if len(f.sess.Messages) != 2 {
		t.Errorf("transcript has %d messages after reset, want 2", len(f.sess.Messages))
	}
}

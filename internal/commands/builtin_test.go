package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/internal/events"
)

type fakeSkillStore struct {
	rows     []SkillRow
	setName  string
	setValue bool
	setErr   error
}

func (f *fakeSkillStore) List() []SkillRow { return f.rows }

func (f *fakeSkillStore) SetDisabled(name string, disabled bool) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.setName = name
	f.setValue = disabled
	return nil
}

type fakeSessionLister struct {
	rows []SessionRow
	err  error
}

func (f *fakeSessionLister) Recent(n int) ([]SessionRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.rows) {
		return f.rows[:n], nil
	}
	return f.rows, nil
}

func newBuiltinRegistry(t *testing.T, deps Deps) *Registry {
	t.Helper()
	r := NewRegistry()
	RegisterBuiltins(r, deps)
	return r
}

func execute(t *testing.T, r *Registry, name, args string) *Result {
	t.Helper()
	res, err := r.Execute(context.Background(), &Invocation{Name: name, Args: args})
	if err != nil {
		t.Fatalf("Execute(%s) error = %v", name, err)
	}
	return res
}

func TestModelSwitchEmitsEvent(t *testing.T) {
	bus := events.NewBus(1, nil)
	fired := make(chan events.Event, 1)
	bus.Subscribe(func(e events.Event) { fired <- e }, events.ConfigLLMChanged)

	var setTo string
	deps := Deps{
		ActiveModel: func() string { return "slow-model" },
		Models:      func() []string { return []string{"slow-model", "fast-model"} },
		SetModel: func(ctx context.Context, name string) error {
			setTo = name
			return nil
		},
		Bus: bus,
	}
	r := newBuiltinRegistry(t, deps)

	res := execute(t, r, "model", "fast-model")
	if res.Text != "Model changed to fast-model" {
		t.Errorf("Text = %q", res.Text)
	}
	if setTo != "fast-model" {
		t.Errorf("SetModel called with %q", setTo)
	}

	bus.Wait()
	select {
	case e := <-fired:
		if e.Type != events.ConfigLLMChanged {
			t.Errorf("event type = %q", e.Type)
		}
		if e.Model != "fast-model" {
			t.Errorf("event model = %q", e.Model)
		}
	default:
		t.Fatal("no config.llm.changed event emitted")
	}
}

func TestModelSelectFlow(t *testing.T) {
	var setTo string
	var gotOptions []string
	deps := Deps{
		ActiveModel: func() string { return "alpha" },
		Models:      func() []string { return []string{"alpha", "beta"} },
		Select: func(title string, options []string) (int, error) {
			gotOptions = options
			return 1, nil
		},
		SetModel: func(ctx context.Context, name string) error {
			setTo = name
			return nil
		},
	}
	r := newBuiltinRegistry(t, deps)

	res := execute(t, r, "model", "")
	if res.Text != "Model changed to beta" {
		t.Errorf("Text = %q", res.Text)
	}
	if setTo != "beta" {
		t.Errorf("SetModel called with %q", setTo)
	}
	if len(gotOptions) != 2 || gotOptions[0] != "alpha (current)" || gotOptions[1] != "beta" {
		t.Errorf("options = %v", gotOptions)
	}
}

func TestModelSelectCanceled(t *testing.T) {
	called := false
	deps := Deps{
		Models: func() []string { return []string{"alpha"} },
		Select: func(title string, options []string) (int, error) {
			return 0, errors.New("canceled")
		},
		SetModel: func(ctx context.Context, name string) error {
			called = true
			return nil
		},
	}
	r := newBuiltinRegistry(t, deps)

	res := execute(t, r, "model", "")
	if !res.Suppress {
		t.Error("canceled selection should suppress output")
	}
	if called {
		t.Error("SetModel should not run after cancel")
	}
}

func TestModelListWithoutSelector(t *testing.T) {
	deps := Deps{
		ActiveModel: func() string { return "alpha" },
		Models:      func() []string { return []string{"alpha", "beta"} },
	}
	r := newBuiltinRegistry(t, deps)

	res := execute(t, r, "model", "")
	if !strings.Contains(res.Text, "* alpha") {
		t.Errorf("Text = %q, want current model marked", res.Text)
	}
	if !strings.Contains(res.Text, "Use /model <name> to switch.") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestModelEdgeCases(t *testing.T) {
	t.Run("no models configured", func(t *testing.T) {
		r := newBuiltinRegistry(t, Deps{})
		res := execute(t, r, "model", "")
		if res.Error != "No models configured" {
			t.Errorf("Error = %q", res.Error)
		}
	})

	t.Run("current model only", func(t *testing.T) {
		r := newBuiltinRegistry(t, Deps{ActiveModel: func() string { return "alpha" }})
		res := execute(t, r, "model", "")
		if res.Text != "Current model: alpha" {
			t.Errorf("Text = %q", res.Text)
		}
	})

	t.Run("switch failure keeps bus quiet", func(t *testing.T) {
		bus := events.NewBus(1, nil)
		fired := make(chan events.Event, 1)
		bus.Subscribe(func(e events.Event) { fired <- e }, events.ConfigLLMChanged)

		deps := Deps{
			SetModel: func(ctx context.Context, name string) error { return errors.New("unknown model") },
			Bus:      bus,
		}
		r := newBuiltinRegistry(t, deps)
		res := execute(t, r, "model", "ghost")
		if !strings.Contains(res.Error, "Cannot switch model") {
			t.Errorf("Error = %q", res.Error)
		}
		bus.Wait()
		select {
		case e := <-fired:
			t.Errorf("unexpected event %+v after failed switch", e)
		default:
		}
	})
}

func TestSkillsList(t *testing.T) {
	store := &fakeSkillStore{rows: []SkillRow{
		{Name: "deploy", Description: "Deploy helper", Source: "user"},
		{Name: "review", Description: "Review checklist", Source: "project", Disabled: true},
	}}
	r := newBuiltinRegistry(t, Deps{Skills: store})

	res := execute(t, r, "skills", "")
	if !strings.Contains(res.Text, "deploy (user) - Deploy helper") {
		t.Errorf("Text = %q", res.Text)
	}
	if !strings.Contains(res.Text, "[off] review") {
		t.Errorf("Text = %q, want disabled marker", res.Text)
	}
}

func TestSkillsToggle(t *testing.T) {
	store := &fakeSkillStore{}
	r := newBuiltinRegistry(t, Deps{Skills: store})

	res := execute(t, r, "skills", "disable deploy")
	if res.Text != "Disabled skill deploy" {
		t.Errorf("Text = %q", res.Text)
	}
	if store.setName != "deploy" || !store.setValue {
		t.Errorf("SetDisabled(%q, %v)", store.setName, store.setValue)
	}

	res = execute(t, r, "skills", "enable deploy")
	if res.Text != "Enabled skill deploy" {
		t.Errorf("Text = %q", res.Text)
	}
	if store.setValue {
		t.Error("enable should clear the disabled flag")
	}
}

func TestSkillsEdgeCases(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		r := newBuiltinRegistry(t, Deps{})
		res := execute(t, r, "skills", "")
		if res.Error == "" {
			t.Error("want error without a skill store")
		}
	})

	t.Run("empty list", func(t *testing.T) {
		r := newBuiltinRegistry(t, Deps{Skills: &fakeSkillStore{}})
		res := execute(t, r, "skills", "")
		if !strings.Contains(res.Text, "No skills found") {
			t.Errorf("Text = %q", res.Text)
		}
	})

	t.Run("bad verb", func(t *testing.T) {
		r := newBuiltinRegistry(t, Deps{Skills: &fakeSkillStore{}})
		res := execute(t, r, "skills", "toggle deploy")
		if !strings.Contains(res.Error, "Usage:") {
			t.Errorf("Error = %q", res.Error)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		r := newBuiltinRegistry(t, Deps{Skills: &fakeSkillStore{}})
		res := execute(t, r, "skills", "enable")
		if !strings.Contains(res.Error, "Usage:") {
			t.Errorf("Error = %q", res.Error)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		store := &fakeSkillStore{setErr: errors.New("unknown skill")}
		r := newBuiltinRegistry(t, Deps{Skills: store})
		res := execute(t, r, "skills", "enable ghost")
		if !strings.Contains(res.Error, "Cannot update skill") {
			t.Errorf("Error = %q", res.Error)
		}
	})
}

func TestResumeList(t *testing.T) {
	when := time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC)
	lister := &fakeSessionLister{rows: []SessionRow{
		{ID: "sess-1", Preview: "fix the parser", UpdatedAt: when},
		{ID: "sess-2", UpdatedAt: when},
	}}
	r := newBuiltinRegistry(t, Deps{Sessions: lister})

	res := execute(t, r, "resume", "")
	if !strings.Contains(res.Text, "sess-1  2025-06-01 14:30  fix the parser") {
		t.Errorf("Text = %q", res.Text)
	}
	if !strings.Contains(res.Text, "sess-2  2025-06-01 14:30  (empty)") {
		t.Errorf("Text = %q, want (empty) preview", res.Text)
	}
}

func TestResumeSwitches(t *testing.T) {
	var resumed string
	deps := Deps{Resume: func(ctx context.Context, id string) error {
		resumed = id
		return nil
	}}
	r := newBuiltinRegistry(t, deps)

	res := execute(t, r, "resume", "sess-9")
	if res.Text != "Resumed session sess-9" {
		t.Errorf("Text = %q", res.Text)
	}
	if resumed != "sess-9" {
		t.Errorf("Resume called with %q", resumed)
	}
}

func TestResumeFailure(t *testing.T) {
	deps := Deps{Resume: func(ctx context.Context, id string) error {
		return errors.New("no such session")
	}}
	r := newBuiltinRegistry(t, deps)

	res := execute(t, r, "resume", "ghost")
	if !strings.Contains(res.Error, "Cannot resume session") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestClearCommand(t *testing.T) {
	cleared := false
	r := newBuiltinRegistry(t, Deps{Clear: func() { cleared = true }})

	res := execute(t, r, "clear", "")
	if res.Text != "Conversation cleared." {
		t.Errorf("Text = %q", res.Text)
	}
	if !cleared {
		t.Error("Clear was not called")
	}

	// /new routes to the same handler through its alias.
	cleared = false
	execute(t, r, "new", "")
	if !cleared {
		t.Error("alias /new did not reach clear")
	}
}

func TestHelpListsCommands(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})
	res := execute(t, r, "help", "")
	for _, want := range []string{"/help", "/model", "/clear", "/skills", "/resume"} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("help output missing %s:\n%s", want, res.Text)
		}
	}
	if !strings.Contains(res.Text, "Use /help <command> for details.") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestHelpForCommand(t *testing.T) {
	r := newBuiltinRegistry(t, Deps{})

	res := execute(t, r, "help", "model")
	if !strings.Contains(res.Text, "Usage: /model [model_name]") {
		t.Errorf("Text = %q", res.Text)
	}

	res = execute(t, r, "help", "/clear")
	if !strings.Contains(res.Text, "Aliases: /new") {
		t.Errorf("Text = %q", res.Text)
	}

	res = execute(t, r, "help", "bogus")
	if !strings.Contains(res.Text, "Unknown command") {
		t.Errorf("Text = %q", res.Text)
	}
}

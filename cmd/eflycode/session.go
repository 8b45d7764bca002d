package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/advisor"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/agent"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/checkpoint"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/commands"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/config"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/contextmgr"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/events"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/mcp"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/prompts"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/provider"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/sessions"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/skills"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/tools"
	"github.com/wangchen7722/eflycode-cli-sub002/internal/ui"
	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// mcpReadyTimeout bounds the background wait for MCP servers before
// their tools are exposed to the agent.
const mcpReadyTimeout = 10 * time.Second

type sessionOptions struct {
	workspace    string
	resumeID     string
	resumeLatest bool
}

// runSession wires the full runtime and drives the interactive loop.
// It returns ui.ErrInterrupted when the user hits Ctrl-C at the
// prompt; main maps that to exit code 130.
func runSession(cmd *cobra.Command, opts sessionOptions) error {
	ctx := cmd.Context()

	// A .env next to the invocation is picked up before config so
	// ${VAR} references in config.yaml and mcp.json can resolve.
	// Absence is the normal case.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env")
	}

	cfgPath, workspace, found, err := config.LocateConfig(opts.workspace)
	if err != nil {
		return err
	}
	var cfg *config.Config
	if found {
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
	} else {
		cfg = config.DefaultConfig()
		slog.Info("no config file found, starting with defaults", "path", cfgPath)
	}

	paths, err := config.NewPaths(workspace)
	if err != nil {
		return err
	}
	for _, dir := range []string{paths.StateDir(), paths.SessionsDir(), paths.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// The session comes first: logs are keyed by its id.
	store := sessions.NewFileStore(paths.SessionsDir())
	sess, err := resolveSession(ctx, store, opts)
	if err != nil {
		return err
	}

	// Logs go to a per-session file so they never interleave with the
	// streamed agent output on the terminal.
	logger, closeLog, err := sessionLogger(paths, cfg, sess.ID)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	active := cfg.Active()
	llm, err := provider.New(active)
	if err != nil {
		return err
	}

	reg := tools.NewRegistry()
	for _, t := range tools.Builtins(tools.Config{Workspace: workspace}) {
		if err := reg.Register(t); err != nil {
			return err
		}
	}

	mgr, err := skills.NewManager(skills.Config{
		UserDir:      paths.UserSkills(),
		ProjectDir:   paths.ProjectSkills(),
		ManifestPath: paths.SkillsManifest(),
	})
	if err != nil {
		return err
	}
	defer mgr.Close()
	if _, err := mgr.Scan(ctx); err != nil {
		logger.Warn("initial skill scan failed", "error", err)
	}
	if err := mgr.Watch(ctx); err != nil {
		logger.Warn("skill watcher unavailable", "error", err)
	}
	if err := reg.Register(skills.NewActivateSkill(mgr)); err != nil {
		return err
	}

	// MCP servers connect in the background. Tools of each ready
	// server land in the registry as one atomic group swap, so the
	// first turns simply see whatever is connected by then.
	mcpFile, err := mcp.LoadFile(paths.MCPFile())
	if err != nil {
		return err
	}
	if servers := mcpFile.Servers(); len(servers) > 0 {
		pool := mcp.NewPool(servers, logger)
		pool.ConnectAll(ctx)
		defer pool.DisconnectAll()
		go func() {
			if pool.WaitReady(mcpReadyTimeout) == 0 {
				return
			}
			for _, server := range pool.ConnectedServers() {
				if err := reg.ReplaceGroup(mcp.GroupPrefix(server), pool.RegistryGroup(server)); err != nil {
					logger.Warn("could not register MCP tools", "server", server, "error", err)
				}
			}
		}()
	}

	snaps := checkpoint.NewStore(workspace, paths.HistoryDir(), paths.CheckpointsDir(), logger)

	// Event pipeline: orchestrator emits to the bus, the bridge feeds
	// the render queue, the renderer owns the terminal between prompts.
	bus := events.NewBus(0, logger)
	queue := events.NewUIQueue(logger)
	bridge := events.NewBridge(bus, queue,
		events.MessageStart, events.MessageDelta, events.MessageStop,
		events.ToolCallStart, events.ToolResult, events.AgentError)
	bridge.Start()
	defer bridge.Stop()

	out := cmd.OutOrStdout()
	renderer := ui.NewRenderer(out, queue, logger)
	renderer.Start()
	defer renderer.Stop()

	composer := ui.NewComposer(os.Stdin, out, "> ")

	var approver agent.Approver
	if !cfg.Approval.AutoApprove {
		approver = ui.NewApprovalPrompt(composer, out, renderer, bus.Wait)
	}

	summarizer := buildSummarizer(cfg, logger)
	trimmer := &switchableContext{inner: contextmgr.New(cfg.Context, active, summarizer)}

	finish := advisor.NewFinishTask()
	chain := advisor.NewChain()

	orch, err := agent.New(agent.Options{
		Provider:   llm,
		Tools:      reg,
		Session:    sess,
		Store:      store,
		Chain:      chain,
		Finish:     finish,
		Snapshots:  snaps,
		Approver:   approver,
		Bus:        bus,
		Logger:     logger,
		Model:      active,
		Workspace:  workspace,
		LLMTimeout: cfg.LLMTimeout,
	})
	if err != nil {
		return err
	}

	// Advisors wrap each provider call in registration order.
	loader := prompts.NewLoader(filepath.Join(paths.HomeStateDir(), "templates"))
	chain.Use(advisor.NewSystemPrompt(loader, orch))
	chain.Use(advisor.NewSkills(advisor.SkillSourceFunc(func() []advisor.Skill {
		enabled := mgr.Enabled()
		available := make([]advisor.Skill, 0, len(enabled))
		for _, s := range enabled {
			available = append(available, advisor.Skill{Name: s.Name, Description: s.Description})
		}
		return available
	})))
	chain.Use(advisor.NewContext(trimmer))
	if w, err := openRequestLog(paths, sess.ID); err != nil {
		logger.Warn("request log disabled", "error", err)
	} else {
		defer w.Close()
		chain.Use(advisor.NewRequestLog(w))
	}
	chain.Use(finish)

	selector := ui.NewSelector(composer, out)
	cmdReg := commands.NewRegistry()
	commands.RegisterBuiltins(cmdReg, commands.Deps{
		ActiveModel: func() string { return cfg.ActiveModel },
		Models: func() []string {
			names := make([]string, 0, len(cfg.Models))
			for _, m := range cfg.Models {
				names = append(names, m.Name)
			}
			return names
		},
		SetModel: func(ctx context.Context, name string) error {
			mc, ok := cfg.Model(name)
			if !ok {
				return fmt.Errorf("model %q is not configured", name)
			}
			// Building the provider up front surfaces a missing API
			// key now instead of on the next turn.
			if _, err := provider.New(mc); err != nil {
				return err
			}
			cfg.ActiveModel = name
			if found {
				if err := cfg.Save(cfgPath); err != nil {
					logger.Warn("could not persist model choice", "error", err)
				}
			}
			return nil
		},
		Select:   selector.Select,
		Clear:    func() { orch.Reset(ctx) },
		Skills:   skillStore{mgr: mgr},
		Sessions: sessionLister{ctx: ctx, store: store},
		Resume: func(ctx context.Context, id string) error {
			loaded, err := store.Load(ctx, id)
			if err != nil {
				return err
			}
			orch.SetSession(loaded)
			return nil
		},
		Bus: bus,
	})
	dispatcher := commands.NewDispatcher(cmdReg, func(s string) { fmt.Fprintln(out, s) })

	// The /model switch is completed here rather than in the command
	// handler so the swap happens on a bus worker, ordered after the
	// emit and never concurrent with it.
	bus.Subscribe(func(e events.Event) {
		mc, ok := cfg.Model(e.Model)
		if !ok {
			logger.Warn("model change event for unknown model", "model", e.Model)
			return
		}
		np, err := provider.New(mc)
		if err != nil {
			logger.Warn("provider rebuild failed", "model", e.Model, "error", err)
			return
		}
		orch.SetModel(mc, np)
		trimmer.Swap(contextmgr.New(cfg.Context, mc, summarizer))
		logger.Info("active model switched", "model", mc.Name)
	}, events.ConfigLLMChanged)

	if cfg.Retention.Enabled {
		startRetention(cfg, snaps, paths, logger)
	}

	fmt.Fprintf(out, "eflycode %s  model: %s  workspace: %s\n", version, cfg.ActiveModel, workspace)
	if opts.resumeID != "" || opts.resumeLatest {
		fmt.Fprintf(out, "Resumed session %s (%d messages)\n", sess.ID, len(sess.Messages))
	}
	fmt.Fprintln(out, "Type a request, /help for commands, Ctrl-C or Ctrl-D to quit.")

	// notify prints a status line between turns without racing the
	// renderer for the terminal.
	notify := func(msg string) {
		renderer.Sync(2 * time.Second)
		renderer.Pause()
		renderer.EnsureEOL()
		fmt.Fprintln(out, msg)
		renderer.Resume()
	}

	for {
		// Drain pending render output before handing the terminal to
		// the composer. Sync must come before Pause: a paused renderer
		// stops draining the queue.
		renderer.Sync(2 * time.Second)
		renderer.Pause()
		renderer.EnsureEOL()
		line, err := composer.ReadLine()
		renderer.Resume()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out, "Bye.")
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		if handled, err := dispatcher.Dispatch(ctx, line); handled {
			if err != nil && !errors.Is(err, ui.ErrCanceled) {
				fmt.Fprintf(out, "Command failed: %v\n", err)
			}
			continue
		}

		// Ctrl-C during a turn cancels the turn, not the process.
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err = orch.Turn(turnCtx, line)
		stop()
		switch {
		case err == nil:
		case errors.Is(err, agent.ErrCanceled):
			notify("Canceled.")
		default:
			// The failure already reached the terminal through the
			// agent.error event; details go to the session log.
			logger.Debug("turn failed", "error", err)
		}

		if orch.Terminated() {
			notify("Task complete. Resume this session later with: eflycode resume " + orch.SessionID())
			return nil
		}
	}
}

// resolveSession picks the session the runtime starts with.
func resolveSession(ctx context.Context, store *sessions.FileStore, opts sessionOptions) (*models.Session, error) {
	switch {
	case opts.resumeID != "":
		return store.Load(ctx, opts.resumeID)
	case opts.resumeLatest:
		infos, err := store.ListRecent(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(infos) == 0 {
			return nil, errors.New("no saved sessions to resume")
		}
		return store.Load(ctx, infos[0].ID)
	default:
		return sessions.New(""), nil
	}
}

// sessionLogger opens <logs>/<session>.log and builds the leveled
// text logger the whole runtime shares.
func sessionLogger(paths *config.Paths, cfg *config.Config, sessionID string) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debugFlag {
		level = slog.LevelDebug
	}

	path := filepath.Join(paths.LogsDir(), sessionID+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open session log: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { f.Close() }, nil
}

// openRequestLog opens the JSONL request log for the advisor chain.
func openRequestLog(paths *config.Paths, sessionID string) (*os.File, error) {
	path := filepath.Join(paths.LogsDir(), sessionID+".jsonl")
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// buildSummarizer builds the completion-backed summarizer for the
// summarize context strategy. Any failure degrades to the sliding
// window, which needs no provider.
func buildSummarizer(cfg *config.Config, logger *slog.Logger) contextmgr.Summarizer {
	if cfg.Context.Strategy != config.StrategySummarize {
		return nil
	}
	name := cfg.Context.SummarizerModel
	if name == "" {
		name = cfg.ActiveModel
	}
	mc, ok := cfg.Model(name)
	if !ok {
		logger.Warn("summarizer model not configured, falling back to sliding window", "model", name)
		return nil
	}
	p, err := provider.New(mc)
	if err != nil {
		logger.Warn("summarizer provider unavailable, falling back to sliding window", "model", name, "error", err)
		return nil
	}
	return contextmgr.NewLLMSummarizer(p.Call, mc.Name)
}

// startRetention schedules the periodic cleanup of checkpoint sidecars
// and session logs.
func startRetention(cfg *config.Config, snaps *checkpoint.Store, paths *config.Paths, logger *slog.Logger) {
	c := cron.New()
	maxAge := cfg.Retention.MaxAge
	logsDir := paths.LogsDir()
	_, err := c.AddFunc(cfg.Retention.Schedule, func() {
		cutoff := time.Now().Add(-maxAge)
		if n, err := snaps.PruneSidecars(cutoff); err != nil {
			logger.Warn("checkpoint retention failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned old checkpoints", "count", n)
		}
		pruneOldLogs(logsDir, cutoff, logger)
	})
	if err != nil {
		logger.Warn("invalid retention schedule", "schedule", cfg.Retention.Schedule, "error", err)
		return
	}
	c.Start()
}

// pruneOldLogs removes session and request logs older than cutoff.
func pruneOldLogs(dir string, cutoff time.Time, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("log retention failed", "error", err)
		}
		return
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			logger.Warn("could not remove old log", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("pruned old logs", "count", removed)
	}
}

// switchableContext lets the model switch swap the trim strategy while
// the advisor chain keeps one stable reference.
type switchableContext struct {
	mu    sync.RWMutex
	inner contextmgr.Manager
}

func (s *switchableContext) Trim(ctx context.Context, msgs []models.Message) ([]models.Message, error) {
	s.mu.RLock()
	inner := s.inner
	s.mu.RUnlock()
	return inner.Trim(ctx, msgs)
}

func (s *switchableContext) Swap(m contextmgr.Manager) {
	s.mu.Lock()
	s.inner = m
	s.mu.Unlock()
}

// skillStore adapts the skills manager to the /skills command.
type skillStore struct{ mgr *skills.Manager }

func (s skillStore) List() []commands.SkillRow {
	all := s.mgr.All()
	rows := make([]commands.SkillRow, 0, len(all))
	for _, sk := range all {
		rows = append(rows, commands.SkillRow{
			Name:        sk.Name,
			Description: sk.Description,
			Source:      string(sk.Source),
			Disabled:    sk.Disabled,
		})
	}
	return rows
}

func (s skillStore) SetDisabled(name string, disabled bool) error {
	return s.mgr.SetDisabled(name, disabled)
}

// sessionLister adapts the session store to the /resume listing.
type sessionLister struct {
	ctx   context.Context
	store *sessions.FileStore
}

func (s sessionLister) Recent(n int) ([]commands.SessionRow, error) {
	infos, err := s.store.ListRecent(s.ctx, n)
	if err != nil {
		return nil, err
	}
	rows := make([]commands.SessionRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, commands.SessionRow{
			ID:        info.ID,
			Preview:   info.LastUserMessagePreview,
			UpdatedAt: info.UpdatedAt,
		})
	}
	return rows, nil
}

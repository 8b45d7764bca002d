// Package checkpoint snapshots the workspace into a shadow git
// repository before write and execute tools run. The repo's GIT_DIR
// lives under the user's state directory keyed by workspace path, and
// GIT_WORK_TREE points at the workspace, so snapshots never touch the
// user's own version control.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// Error wraps a failed snapshot or restore. Snapshot errors are logged
// and skipped by the orchestrator; restore errors surface to the user.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Store drives the shadow repository. All methods are called from the
// orchestrator only; snapshots are sequential with tool execution.
type Store struct {
	workspace  string
	gitDir     string
	sidecarDir string
	logger     *slog.Logger
}

// NewStore creates a store for workspace with the shadow repo at
// gitDir and JSON sidecars in sidecarDir. Init of the repo is lazy.
func NewStore(workspace, gitDir, sidecarDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		workspace:  workspace,
		gitDir:     gitDir,
		sidecarDir: sidecarDir,
		logger:     logger.With("component", "checkpoint"),
	}
}

// gitCmd builds a git invocation against the shadow repo. User and
// system git config are masked so snapshot behavior never depends on
// the user's setup.
func (s *Store) gitCmd(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.workspace
	cmd.Env = append(os.Environ(),
		"GIT_DIR="+s.gitDir,
		"GIT_WORK_TREE="+s.workspace,
		"GIT_CONFIG_GLOBAL=/dev/null",
		"GIT_CONFIG_SYSTEM=/dev/null",
	)
	return cmd
}

func (s *Store) git(ctx context.Context, args ...string) (string, error) {
	output, err := s.gitCmd(ctx, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w, output: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// ensureInit initializes the shadow repo once. Idempotent: an existing
// HEAD file means the repo is ready.
func (s *Store) ensureInit(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(s.gitDir, "HEAD")); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.gitDir, 0o755); err != nil {
		return err
	}
	if _, err := s.git(ctx, "init"); err != nil {
		return err
	}
	if _, err := s.git(ctx, "config", "user.name", "eflycode"); err != nil {
		return err
	}
	if _, err := s.git(ctx, "config", "user.email", "eflycode@localhost"); err != nil {
		return err
	}
	// A root commit keeps every later HEAD lookup valid, even when the
	// first snapshot finds an empty workspace.
	if _, err := s.git(ctx, "commit", "--allow-empty", "-m", "Initial snapshot"); err != nil {
		return err
	}
	return nil
}

// Snapshot records the current workspace state and returns the
// checkpoint. When the workspace is unchanged since the last snapshot
// the current HEAD is reused without a new commit.
func (s *Store) Snapshot(ctx context.Context, call models.ToolCall, messageID string) (*models.Checkpoint, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, &Error{Op: "init", Err: err}
	}
	if _, err := s.git(ctx, "add", "-A"); err != nil {
		return nil, &Error{Op: "add", Err: err}
	}

	changed, err := s.stagedChanges(ctx)
	if err != nil {
		return nil, &Error{Op: "diff", Err: err}
	}
	if changed {
		msg := fmt.Sprintf("Snapshot for %s", call.Function.Name)
		if _, err := s.git(ctx, "commit", "-m", msg); err != nil {
			return nil, &Error{Op: "commit", Err: err}
		}
	}
	hash, err := s.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, &Error{Op: "rev-parse", Err: err}
	}

	cp := &models.Checkpoint{
		CommitHash: hash,
		ToolCall:   call,
		MessageID:  messageID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.writeSidecar(cp); err != nil {
		// The commit exists; a missing sidecar only degrades listings.
		s.logger.Warn("failed to write checkpoint sidecar", "error", err)
	}
	return cp, nil
}

// stagedChanges reports whether the index differs from HEAD.
func (s *Store) stagedChanges(ctx context.Context) (bool, error) {
	err := s.gitCmd(ctx, "diff", "--cached", "--quiet").Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, err
}

// Restore resets the workspace to the snapshot at commitHash: tracked
// files are restored and files unknown to the snapshot are removed.
func (s *Store) Restore(ctx context.Context, commitHash string) error {
	if err := s.ensureInit(ctx); err != nil {
		return &Error{Op: "init", Err: err}
	}
	if _, err := s.git(ctx, "restore", "--source="+commitHash, "."); err != nil {
		return &Error{Op: "restore", Err: err}
	}
	if _, err := s.git(ctx, "clean", "-fd"); err != nil {
		return &Error{Op: "clean", Err: err}
	}
	return nil
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

// RunCommand executes shell commands in the workspace. It carries the
// execute permission and always requires approval.
type RunCommand struct {
	workspace      string
	maxOutputBytes int
	defaultTimeout time.Duration
}

// NewRunCommand builds the tool from cfg.
func NewRunCommand(cfg Config) *RunCommand {
	cfg = cfg.withDefaults()
	return &RunCommand{
		workspace:      cfg.Workspace,
		maxOutputBytes: cfg.MaxOutputBytes,
		defaultTimeout: cfg.CommandTimeout,
	}
}

type runCommandArgs struct {
	Command        string `json:"command" jsonschema:"description=Shell command to execute with /bin/sh -c"`
	Cwd            string `json:"cwd,omitempty" jsonschema:"description=Working directory relative to the workspace"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"minimum=0,description=Seconds before the command is killed"`
}

func (t *RunCommand) Descriptor() models.ToolDescriptor {
	return models.ToolDescriptor{
		Name:             "run_command",
		Description:      "Run a shell command in the workspace and return its exit code and output.",
		Permission:       models.PermissionExecute,
		Parameters:       reflectSchema(&runCommandArgs{}),
		ApprovalRequired: true,
	}
}

func (t *RunCommand) Invoke(ctx context.Context, args map[string]any) (string, error) {
	var in runCommandArgs
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", errors.New("command is required")
	}
	dir := t.workspace
	if in.Cwd != "" {
		resolved, err := resolveInWorkspace(t.workspace, in.Cwd)
		if err != nil {
			return "", err
		}
		dir = resolved
	}

	timeout := t.defaultTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", in.Command)
	cmd.Dir = dir
	stdout := &cappedBuffer{max: t.maxOutputBytes}
	stderr := &cappedBuffer{max: t.maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) && runCtx.Err() == nil {
		// The command never ran, so there is no output to report.
		return "", fmt.Errorf("run command: %w", runErr)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code %d", commandExitCode(runErr))
	if runCtx.Err() == context.DeadlineExceeded {
		fmt.Fprintf(&b, " (killed after %s)", timeout)
	} else {
		fmt.Fprintf(&b, " in %s", time.Since(start).Round(time.Millisecond))
	}
	if out := stdout.String(); out != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(out)
	}
	if errOut := stderr.String(); errOut != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(errOut)
	}
	return b.String(), nil
}

func commandExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// cappedBuffer keeps the first max bytes and silently drops the rest,
// so runaway command output cannot exhaust memory.
type cappedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.max > 0 && len(b.buf) >= b.max {
		b.truncated = true
		return len(p), nil
	}
	if b.max > 0 && len(b.buf)+len(p) > b.max {
		b.buf = append(b.buf, p[:b.max-len(b.buf)]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	s := string(b.buf)
	if b.truncated {
		s += "\n...[output truncated]"
	}
	return s
}

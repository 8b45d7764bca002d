package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/wangchen7722/eflycode-cli-sub002/pkg/models"
)

const argPreviewLimit = 200

// ApprovalPrompt asks the user to allow or refuse one tool call. It
// satisfies the orchestrator's approver contract: false refuses the
// single call, an error cancels the whole turn.
type ApprovalPrompt struct {
	composer *Composer
	out      io.Writer
	renderer *Renderer
	// flush settles upstream event delivery before the prompt draws,
	// so the question never lands in the middle of streamed output.
	flush func()
}

// NewApprovalPrompt builds the approval gate. renderer and flush may
// be nil when there is no render loop to wait for.
func NewApprovalPrompt(composer *Composer, out io.Writer, renderer *Renderer, flush func()) *ApprovalPrompt {
	return &ApprovalPrompt{composer: composer, out: out, renderer: renderer, flush: flush}
}

// Approve renders the pending call and reads a y/n decision. Ctrl-C
// and end of input cancel the turn with ErrCanceled.
func (p *ApprovalPrompt) Approve(ctx context.Context, call models.ToolCall, desc models.ToolDescriptor) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.flush != nil {
		p.flush()
	}
	if p.renderer != nil {
		p.renderer.Sync(2 * time.Second)
		p.renderer.Pause()
		defer p.renderer.Resume()
		p.renderer.EnsureEOL()
	}

	fmt.Fprintf(p.out, "%s requires approval\n", call.Function.Name)
	if desc.Description != "" {
		fmt.Fprintf(p.out, "  %s\n", desc.Description)
	}
	if args := previewArgs(call.Function.Arguments); args != "" {
		fmt.Fprintf(p.out, "  %s\n", args)
	}
	fmt.Fprint(p.out, "Allow? [y/n] ")

	for {
		r, err := p.composer.ReadKeyRaw()
		if err != nil {
			fmt.Fprintln(p.out)
			if errors.Is(err, ErrInterrupted) || errors.Is(err, io.EOF) {
				return false, ErrCanceled
			}
			return false, err
		}
		switch unicode.ToLower(r) {
		case 'y':
			fmt.Fprintln(p.out, "y")
			return true, nil
		case 'n':
			fmt.Fprintln(p.out, "n")
			return false, nil
		}
	}
}

// previewArgs compacts raw argument JSON for display, truncated so a
// large file write does not flood the prompt.
func previewArgs(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err == nil {
		raw = buf.String()
	}
	runes := []rune(raw)
	if len(runes) > argPreviewLimit {
		return string(runes[:argPreviewLimit]) + "…"
	}
	return raw
}

// Selector reads a numbered choice from a list. It backs the /model
// picker.
type Selector struct {
	composer *Composer
	out      io.Writer
}

// NewSelector builds a selector printing to out and reading through
// composer.
func NewSelector(composer *Composer, out io.Writer) *Selector {
	return &Selector{composer: composer, out: out}
}

// Select shows title and options and returns the chosen index.
// An empty line, Ctrl-C, or end of input returns ErrCanceled.
func (s *Selector) Select(title string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, ErrCanceled
	}
	fmt.Fprintf(s.out, "%s:\n", title)
	for i, opt := range options {
		fmt.Fprintf(s.out, "  %d. %s\n", i+1, opt)
	}
	for {
		line, err := s.composer.promptLine(fmt.Sprintf("Choice [1-%d]: ", len(options)))
		if err != nil {
			if errors.Is(err, ErrInterrupted) || errors.Is(err, io.EOF) {
				return 0, ErrCanceled
			}
			return 0, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return 0, ErrCanceled
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(options) {
			fmt.Fprintf(s.out, "Enter a number between 1 and %d, or press Enter to cancel.\n", len(options))
			continue
		}
		return n - 1, nil
	}
}

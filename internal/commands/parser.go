package commands

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// lineRe matches a whole composer line of the form "/name args". The
// name must start with a letter so paths like "/tmp" pasted mid-edit
// still parse, but "/" alone does not.
var lineRe = regexp.MustCompile(`^/([a-zA-Z][a-zA-Z0-9_-]*)(?:\s+(.*))?$`)

// ParsedCommand is a composer line recognized as a command.
type ParsedCommand struct {
	Name string
	Args string
}

// ParseLine returns the command a composer line invokes, or nil when
// the line is ordinary input for the model.
func ParseLine(line string) *ParsedCommand {
	line = strings.TrimSpace(line)
	match := lineRe.FindStringSubmatch(line)
	if match == nil {
		return nil
	}
	return &ParsedCommand{
		Name: strings.ToLower(match[1]),
		Args: strings.TrimSpace(match[2]),
	}
}

// IsCommand reports whether a composer line would be dispatched as a
// command.
func IsCommand(line string) bool {
	return ParseLine(line) != nil
}

// Dispatcher routes composer lines to registered commands.
type Dispatcher struct {
	registry *Registry
	print    func(string)
}

// NewDispatcher builds a dispatcher that prints command output through
// print.
func NewDispatcher(registry *Registry, print func(string)) *Dispatcher {
	if print == nil {
		print = func(string) {}
	}
	return &Dispatcher{registry: registry, print: print}
}

// Dispatch runs line as a slash command when it is one. handled=false
// means the line is ordinary input; handled=true means the line was
// consumed here, whether or not the command succeeded. Only handler
// failures surface as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (handled bool, err error) {
	parsed := ParseLine(line)
	if parsed == nil {
		return false, nil
	}
	if _, ok := d.registry.Get(parsed.Name); !ok {
		d.print(fmt.Sprintf("Unknown command /%s. Try /help.", parsed.Name))
		return true, nil
	}
	res, err := d.registry.Execute(ctx, &Invocation{
		Name:    parsed.Name,
		Args:    parsed.Args,
		RawText: line,
	})
	if err != nil {
		return true, err
	}
	if res == nil || res.Suppress {
		return true, nil
	}
	if res.Error != "" {
		d.print(res.Error)
		return true, nil
	}
	if res.Text != "" {
		d.print(res.Text)
	}
	return true, nil
}

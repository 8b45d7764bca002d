package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Grace between closing stdin and killing the child on Close.
	stdioKillGrace = 2 * time.Second
	// Hard ceiling on Close; after this the child is abandoned.
	stdioTeardownBudget = 5 * time.Second

	scannerBufferSize = 1024 * 1024
)

// stdioTransport frames JSON-RPC over the stdio of a spawned
// subprocess, one message per line. A single reader goroutine owns
// stdout and dispatches responses to waiting callers by id.
type stdioTransport struct {
	cfg    *ServerConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr io.ReadCloser

	writeMu sync.Mutex

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	stopOnce  sync.Once
	readers   sync.WaitGroup
	exited    chan struct{}
}

func newStdioTransport(cfg *ServerConfig, logger *slog.Logger) *stdioTransport {
	return &stdioTransport{
		cfg:      cfg,
		logger:   logger.With("transport", "stdio"),
		pending:  make(map[int64]chan *JSONRPCResponse),
		stopChan: make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Connect spawns the server process and starts the reader goroutines.
// The ctx only bounds the spawn; process lifetime belongs to Close.
func (t *stdioTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.cfg.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}

	t.cmd = exec.Command(t.cfg.Command, t.cfg.Args...)
	t.cmd.Env = os.Environ()
	for k, v := range t.cfg.Env {
		t.cmd.Env = append(t.cmd.Env, k+"="+v)
	}

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	t.stdin = stdin

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	t.stderr, _ = t.cmd.StderrPipe()

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.cfg.Command, err)
	}

	t.connected.Store(true)
	t.logger.Debug("server process started", "command", t.cfg.Command, "pid", t.cmd.Process.Pid)

	t.readers.Add(1)
	go t.readLoop(stdout)

	if t.stderr != nil {
		t.readers.Add(1)
		go t.drainStderr()
	}

	// Reap the child once both pipes are drained. Wait must not race
	// the readers on the pipe fds.
	go func() {
		t.readers.Wait()
		if err := t.cmd.Wait(); err != nil {
			t.logger.Debug("server process exited", "error", err)
		}
		close(t.exited)
	}()

	return nil
}

// Close tears the subprocess down: stdin EOF first, kill after the
// grace period, give up after the teardown budget.
func (t *stdioTransport) Close() error {
	t.stopOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)

		if t.stdin != nil {
			t.stdin.Close()
		}

		select {
		case <-t.exited:
			return
		case <-time.After(stdioKillGrace):
		}

		if t.cmd != nil && t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}

		select {
		case <-t.exited:
		case <-time.After(stdioTeardownBudget - stdioKillGrace):
			t.logger.Warn("server process did not exit within teardown budget")
		}
	})
	return nil
}

func (t *stdioTransport) Connected() bool {
	return t.connected.Load()
}

// Call writes one request line and parks on a response channel until
// the reader routes the reply, ctx expires, or the transport dies.
func (t *stdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, errTransportClosed
	}

	id := t.nextID.Add(1)
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	req := JSONRPCRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: paramsJSON}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeFrame(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok || resp == nil {
			return nil, errTransportClosed
		}
		if resp.Error != nil {
			return nil, &ProtocolError{Server: t.cfg.Name, Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.stopChan:
		return nil, errTransportClosed
	}
}

func (t *stdioTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return errTransportClosed
	}

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	notif := JSONRPCNotification{JSONRPC: jsonRPCVersion, Method: method, Params: paramsJSON}
	if err := t.writeFrame(notif); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

func (t *stdioTransport) writeFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = t.stdin.Write(append(data, '\n'))
	return err
}

// readLoop is the dedicated I/O worker for this server. It serializes
// inbound frame dispatch; when the pipe closes it fails every caller
// still waiting so nothing blocks until its timeout.
func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer t.readers.Done()
	defer t.failPending()
	defer t.connected.Store(false)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, scannerBufferSize), scannerBufferSize)

	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := scanner.Bytes(); len(line) > 0 {
			t.dispatch(line)
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("stdout read ended", "error", err)
	}
}

// dispatch routes one inbound frame. Frames with an id resolve a
// pending call; the rest are server notifications, which this client
// does not act on.
func (t *stdioTransport) dispatch(line []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(line, &resp); err == nil && resp.ID != nil {
		id, ok := normalizeID(resp.ID)
		if !ok {
			t.logger.Warn("unroutable response id", "id", resp.ID)
			return
		}
		t.pendingMu.Lock()
		if ch, waiting := t.pending[id]; waiting {
			ch <- &resp
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal(line, &notif); err == nil && notif.Method != "" {
		t.logger.Debug("server notification", "method", notif.Method)
	}
}

// failPending closes every waiting channel. Callers observe the close
// and report the transport as gone instead of waiting out a timeout.
func (t *stdioTransport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func (t *stdioTransport) drainStderr() {
	defer t.readers.Done()

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("server stderr", "line", line)
		}
	}
}

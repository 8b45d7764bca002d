package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// ErrInterrupted reports Ctrl-C at the composer prompt. The CLI exits
// 130 on it.
var ErrInterrupted = errors.New("interrupted")

// ErrCanceled reports that the user backed out of an interactive
// prompt. It unwinds selects and approvals and is never logged as an
// error.
var ErrCanceled = errors.New("canceled by user")

const historyLimit = 100

// Composer reads input lines. On a terminal it runs a raw-mode line
// editor with history; otherwise it degrades to buffered line reads so
// piped input and tests work the same way.
type Composer struct {
	in      *os.File
	out     io.Writer
	reader  *bufio.Reader
	prompt  string
	history []string
}

// NewComposer builds a composer prompting with prompt.
func NewComposer(in *os.File, out io.Writer, prompt string) *Composer {
	return &Composer{
		in:     in,
		out:    out,
		reader: bufio.NewReader(in),
		prompt: prompt,
	}
}

// ReadLine reads one input line. Returns ErrInterrupted on Ctrl-C and
// io.EOF when input is exhausted (Ctrl-D on an empty line).
func (c *Composer) ReadLine() (string, error) {
	line, err := c.read(c.prompt, true)
	if err != nil {
		return "", err
	}
	c.remember(line)
	return line, nil
}

// prompt reads one line with a transient prompt and no history
// recording, for selects and other sub-prompts.
func (c *Composer) promptLine(prompt string) (string, error) {
	return c.read(prompt, false)
}

func (c *Composer) read(prompt string, withHistory bool) (string, error) {
	fd := int(c.in.Fd())
	if !term.IsTerminal(fd) {
		return c.readPlain(prompt)
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return c.readPlain(prompt)
	}
	defer term.Restore(fd, old)

	ed := &lineEditor{in: c.reader, out: c.out, prompt: prompt}
	if withHistory {
		ed.history = c.history
	}
	return ed.run()
}

func (c *Composer) readPlain(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	line, err := c.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadKeyRaw reads one keypress for modal prompts. On a non-terminal
// it reads a line and returns its first rune, with Enter on an empty
// line mapped to '\n'.
func (c *Composer) ReadKeyRaw() (rune, error) {
	fd := int(c.in.Fd())
	if !term.IsTerminal(fd) {
		line, err := c.readPlain("")
		if err != nil {
			return 0, err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			return '\n', nil
		}
		r, _ := utf8.DecodeRuneInString(trimmed)
		return r, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return 0, err
	}
	defer term.Restore(fd, old)
	for {
		k, r, err := readKey(c.reader)
		if err != nil {
			return 0, err
		}
		switch k {
		case keyRune:
			return r, nil
		case keyEnter:
			return '\n', nil
		case keyCtrlC:
			return 0, ErrInterrupted
		case keyCtrlD:
			return 0, io.EOF
		}
	}
}

func (c *Composer) remember(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if n := len(c.history); n > 0 && c.history[n-1] == line {
		return
	}
	c.history = append(c.history, line)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
}

type key int

const (
	keyNone key = iota
	keyRune
	keyEnter
	keyCtrlC
	keyCtrlD
	keyBackspace
	keyDelete
	keyUp
	keyDown
	keyLeft
	keyRight
	keyHome
	keyEnd
	keyKillLine
	keyKillToEnd
	keyKillWord
	keyClearScreen
)

// lineEditor is one raw-mode line read. The terminal must already be
// in raw mode; the editor redraws the whole line after every edit and
// positions the cursor with relative moves.
type lineEditor struct {
	in      *bufio.Reader
	out     io.Writer
	prompt  string
	history []string

	line    []rune
	cursor  int
	histIdx int
	saved   []rune
}

func (e *lineEditor) run() (string, error) {
	e.histIdx = len(e.history)
	e.render()
	for {
		k, r, err := readKey(e.in)
		if err != nil {
			return "", err
		}
		switch k {
		case keyEnter:
			fmt.Fprint(e.out, "\r\n")
			return string(e.line), nil
		case keyCtrlC:
			fmt.Fprint(e.out, "^C\r\n")
			return "", ErrInterrupted
		case keyCtrlD:
			if len(e.line) == 0 {
				fmt.Fprint(e.out, "\r\n")
				return "", io.EOF
			}
			if e.cursor < len(e.line) {
				e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			}
		case keyBackspace:
			if e.cursor > 0 {
				e.line = append(e.line[:e.cursor-1], e.line[e.cursor:]...)
				e.cursor--
			}
		case keyDelete:
			if e.cursor < len(e.line) {
				e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			}
		case keyLeft:
			if e.cursor > 0 {
				e.cursor--
			}
		case keyRight:
			if e.cursor < len(e.line) {
				e.cursor++
			}
		case keyHome:
			e.cursor = 0
		case keyEnd:
			e.cursor = len(e.line)
		case keyUp:
			e.historyUp()
		case keyDown:
			e.historyDown()
		case keyKillLine:
			e.line = append([]rune(nil), e.line[e.cursor:]...)
			e.cursor = 0
		case keyKillToEnd:
			e.line = e.line[:e.cursor]
		case keyKillWord:
			e.killWord()
		case keyClearScreen:
			fmt.Fprint(e.out, "\033[2J\033[H")
		case keyRune:
			e.line = append(e.line, 0)
			copy(e.line[e.cursor+1:], e.line[e.cursor:])
			e.line[e.cursor] = r
			e.cursor++
		}
		e.render()
	}
}

func (e *lineEditor) historyUp() {
	if e.histIdx == 0 {
		return
	}
	if e.histIdx == len(e.history) {
		e.saved = append([]rune(nil), e.line...)
	}
	e.histIdx--
	e.line = []rune(e.history[e.histIdx])
	e.cursor = len(e.line)
}

func (e *lineEditor) historyDown() {
	if e.histIdx >= len(e.history) {
		return
	}
	e.histIdx++
	if e.histIdx == len(e.history) {
		e.line = append([]rune(nil), e.saved...)
	} else {
		e.line = []rune(e.history[e.histIdx])
	}
	e.cursor = len(e.line)
}

func (e *lineEditor) killWord() {
	i := e.cursor
	for i > 0 && e.line[i-1] == ' ' {
		i--
	}
	for i > 0 && e.line[i-1] != ' ' {
		i--
	}
	e.line = append(e.line[:i], e.line[e.cursor:]...)
	e.cursor = i
}

func (e *lineEditor) render() {
	var b strings.Builder
	b.WriteString(ansiClearLine)
	b.WriteString(e.prompt)
	b.WriteString(string(e.line))
	if back := len(e.line) - e.cursor; back > 0 {
		fmt.Fprintf(&b, "\033[%dD", back)
	}
	fmt.Fprint(e.out, b.String())
}

// readKey decodes one keypress: a control byte, an ANSI escape
// sequence, or a UTF-8 rune.
func readKey(br *bufio.Reader) (key, rune, error) {
	b, err := br.ReadByte()
	if err != nil {
		return keyNone, 0, err
	}
	switch b {
	case '\r', '\n':
		return keyEnter, 0, nil
	case 3:
		return keyCtrlC, 0, nil
	case 4:
		return keyCtrlD, 0, nil
	case 1: // Ctrl-A
		return keyHome, 0, nil
	case 5: // Ctrl-E
		return keyEnd, 0, nil
	case 11: // Ctrl-K
		return keyKillToEnd, 0, nil
	case 12: // Ctrl-L
		return keyClearScreen, 0, nil
	case 21: // Ctrl-U
		return keyKillLine, 0, nil
	case 23: // Ctrl-W
		return keyKillWord, 0, nil
	case 8, 127:
		return keyBackspace, 0, nil
	case 27:
		return readEscape(br)
	}
	if b < 32 {
		return keyNone, 0, nil
	}
	if b < utf8.RuneSelf {
		return keyRune, rune(b), nil
	}
	if err := br.UnreadByte(); err != nil {
		return keyNone, 0, err
	}
	r, _, err := br.ReadRune()
	if err != nil {
		return keyNone, 0, err
	}
	return keyRune, r, nil
}

func readEscape(br *bufio.Reader) (key, rune, error) {
	b, err := br.ReadByte()
	if err != nil {
		return keyNone, 0, err
	}
	if b != '[' && b != 'O' {
		// Bare escape or an alt-chord this editor does not map.
		return keyNone, 0, nil
	}
	// Parameter bytes, then one final byte in '@'..'~'.
	var params []byte
	for {
		p, err := br.ReadByte()
		if err != nil {
			return keyNone, 0, err
		}
		if p >= '@' && p <= '~' {
			return escapeKey(p, params), 0, nil
		}
		params = append(params, p)
		if len(params) > 8 {
			return keyNone, 0, nil
		}
	}
}

func escapeKey(final byte, params []byte) key {
	switch final {
	case 'A':
		return keyUp
	case 'B':
		return keyDown
	case 'C':
		return keyRight
	case 'D':
		return keyLeft
	case 'H':
		return keyHome
	case 'F':
		return keyEnd
	case '~':
		switch string(params) {
		case "1", "7":
			return keyHome
		case "3":
			return keyDelete
		case "4", "8":
			return keyEnd
		}
	}
	return keyNone
}

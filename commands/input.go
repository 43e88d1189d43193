package commands

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/abiosoft/readline"
	"golang.org/x/term"
)

// LineReader reads command lines from the user.
type LineReader interface {
	// Readline returns the next line without its line terminator, or io.EOF
	// when the input is exhausted.
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// NewLineReader reads lines from stdin, with line editing if it's a terminal.
func NewLineReader(stdin *os.File, stdout, stderr io.Writer) (LineReader, error) {
	if term.IsTerminal(int(stdin.Fd())) {
		return NewTerminalReader(stdin, stdout, stderr)
	}
	return NewScannerReader(stdin), nil
}

// gatedStdin only reads from the underlying reader while a prompt is being
// answered. Once a chunk containing a line terminator has been delivered,
// reads block until the gate is opened again so whatever is typed while a
// foreground job runs goes to the job instead of the line editor.
type gatedStdin struct {
	r      io.ReadCloser
	permit chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newGatedStdin(r io.ReadCloser) *gatedStdin {
	return &gatedStdin{
		r:      r,
		permit: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Open allows reading until the next line terminator.
func (g *gatedStdin) Open() {
	select {
	case g.permit <- struct{}{}:
	default:
		// Already open.
	}
}

func (g *gatedStdin) Read(p []byte) (int, error) {
	select {
	case <-g.permit:
	case <-g.closed:
		return 0, io.EOF
	}

	n, err := g.r.Read(p)
	if err == nil && !bytes.ContainsAny(p[:n], "\r\n") {
		g.Open()
	}
	return n, err
}

func (g *gatedStdin) Close() error {
	var err error
	g.once.Do(func() {
		close(g.closed)
		err = g.r.Close()
	})
	return err
}

type terminalReader struct {
	rl   *readline.Instance
	gate *gatedStdin
}

// NewTerminalReader reads lines with readline. History is disabled.
func NewTerminalReader(stdin *os.File, stdout, stderr io.Writer) (LineReader, error) {
	gate := newGatedStdin(readline.NewCancelableStdin(stdin))

	cfg := &readline.Config{
		Stdin:                  gate,
		Stdout:                 stdout,
		Stderr:                 stderr,
		HistoryLimit:           -1,
		DisableAutoSaveHistory: true,
	}
	if err := cfg.Init(); err != nil {
		return nil, err
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, err
	}

	return &terminalReader{rl: rl, gate: gate}, nil
}

func (t *terminalReader) Readline() (string, error) {
	t.gate.Open()
	return t.rl.Readline()
}

func (t *terminalReader) SetPrompt(prompt string) {
	t.rl.SetPrompt(prompt)
}

func (t *terminalReader) Close() error {
	err := t.rl.Close()
	t.gate.Close()
	return err
}

type scannerReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewScannerReader reads newline delimited lines without echoing a prompt.
func NewScannerReader(r io.Reader) LineReader {
	out := &scannerReader{scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		out.closer = c
	}
	return out
}

func (s *scannerReader) Readline() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *scannerReader) SetPrompt(string) {}

func (s *scannerReader) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

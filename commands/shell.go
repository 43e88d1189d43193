package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/josephlewis42/pipesh/core/env"
	"github.com/josephlewis42/pipesh/core/jobs"
	"github.com/josephlewis42/pipesh/core/logger"
	"github.com/josephlewis42/pipesh/core/shell"
	"github.com/spf13/afero"
)

const (
	EnvHome            = "HOME"
	EnvPWD             = "PWD"
	EnvPath            = "PATH"
	EnvUser            = "USER"
	DefaultColorPrompt = `\033[01;32m\u@\h\033[00m:\033[01;34m\w\033[00m\$ `
	DefaultPrompt      = `\u@\h:\w\$ `
)

// Shell reads command lines and runs them as built-ins or pipelines.
type Shell struct {
	// Env is passed to every program the shell starts.
	Env  *env.MapEnv
	Jobs *jobs.Controller

	Stdout io.Writer
	Stderr io.Writer

	// Prompt is the prompt template, see DefaultPrompt.
	Prompt string
	Color  *ColorPrinter

	// Interrupts fires when the user interrupts the shell, nil if it never does.
	Interrupts <-chan struct{}

	// Fs is used to look up programs without running them.
	Fs afero.Fs

	Log    *log.Logger
	Events *logger.SessionLogger

	ctx      context.Context
	lastRet  int
	exitCode int
	// lines counts the lines read by RunInteractive.
	lines int

	// Set to true to quit the shell
	Quit bool
}

// NewShell creates a shell that runs pipelines with ctl.
func NewShell(ctl *jobs.Controller, shellEnv *env.MapEnv) *Shell {
	return &Shell{
		Env:    shellEnv,
		Jobs:   ctl,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Prompt: DefaultPrompt,
		Color:  &ColorPrinter{Mode: colorNever},
		Fs:     afero.NewOsFs(),
		Log:    log.New(io.Discard, "", 0),
	}
}

// LastStatus is the exit code of the last line that ran.
func (s *Shell) LastStatus() int {
	return s.lastRet
}

// ExitCode is the code passed to exit.
func (s *Shell) ExitCode() int {
	return s.exitCode
}

func (s *Shell) errorf(format string, a ...interface{}) {
	fmt.Fprintln(s.Stderr, s.Color.Sprintf(ColorBoldRed, "pipesh: "+format, a...))
}

func (s *Shell) prompt() string {
	prompt := s.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if prompt == DefaultPrompt && s.Color.ShouldColor() {
		prompt = DefaultColorPrompt
	}

	username := s.Env.Getenv(EnvUser)
	uid := os.Getuid()
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	prompt = strings.ReplaceAll(prompt, `\u`, username)

	host, _ := os.Hostname()
	prompt = strings.ReplaceAll(prompt, `\h`, host)

	pwd, err := os.Getwd()
	if err != nil {
		pwd = s.Env.Getenv(EnvPWD)
	}
	if home := s.Env.Getenv(EnvHome); home != "" && strings.HasPrefix(pwd, home) {
		pwd = "~" + strings.TrimPrefix(pwd, home)
	}
	prompt = strings.ReplaceAll(prompt, `\w`, pwd)
	prompt = strings.ReplaceAll(prompt, `\#`, strconv.Itoa(s.lines))

	if uid == 0 {
		prompt = strings.ReplaceAll(prompt, `\$`, "#")
	} else {
		prompt = strings.ReplaceAll(prompt, `\$`, "$")
	}

	return unescape(prompt)
}

// RunInteractive reads and runs lines until the input ends or exit is called.
func (s *Shell) RunInteractive(ctx context.Context, lines LineReader) int {
	for !s.Quit {
		if ctx.Err() != nil {
			return s.lastRet
		}

		s.reportDone()
		lines.SetPrompt(s.prompt())
		line, err := lines.Readline()
		if err == nil {
			s.lines++
		}

		switch {
		case err == io.EOF:
			return s.lastRet // Input closed, quit.

		case errors.Is(err, readline.ErrInterrupt):
			// Interrupt clears line.
			continue

		case err != nil:
			s.Log.Printf("Error readline: %v", err)
			return 1

		case strings.TrimSpace(line) == "":
			continue // empty line

		default:
			s.RunLine(ctx, line)
		}
	}
	return s.exitCode
}

// RunCommand runs a single line and returns the status the shell should exit
// with.
func (s *Shell) RunCommand(ctx context.Context, line string) int {
	s.RunLine(ctx, line)
	if s.Quit {
		return s.exitCode
	}
	return s.lastRet
}

// RunLine runs one command line and returns its status.
func (s *Shell) RunLine(ctx context.Context, line string) int {
	s.ctx = ctx
	defer func() { s.ctx = nil }()

	tokens, err := shell.Tokenize(line)
	if err != nil {
		s.errorf("syntax error: %v", err)
		s.lastRet = 2
		return s.lastRet
	}
	if len(tokens) == 0 {
		return s.lastRet
	}

	if tokens[0].Kind == shell.Word {
		if builtin, ok := AllBuiltins[tokens[0].Text]; ok {
			s.lastRet = s.runBuiltin(builtin, tokens)
			return s.lastRet
		}
	}

	pipeline, err := shell.Plan(tokens)
	if err != nil {
		s.errorf("%v", err)
		s.Events.Record(logger.Event{Type: logger.EventMalformed, Pipeline: line, Error: err.Error()})
		s.lastRet = 2
		return s.lastRet
	}

	for _, stage := range pipeline.Stages {
		if _, ok := AllBuiltins[stage.Name()]; ok {
			s.errorf("%s: shell built-ins can't be part of a pipeline", stage.Name())
			s.lastRet = 2
			return s.lastRet
		}
	}

	res, err := s.Jobs.Run(ctx, pipeline)
	if err != nil {
		s.errorf("%v", err)
		s.lastRet = 1
		return s.lastRet
	}

	for _, stageErr := range res.Errors {
		s.errorf("%v", stageErr)
	}

	if pipeline.Background {
		if pid := res.LastPID(); pid != 0 {
			fmt.Fprintf(s.Stdout, "[%d] %d\n", res.PGID, pid)
		}
		s.lastRet = 0
		return s.lastRet
	}

	s.lastRet = res.ExitCode()
	return s.lastRet
}

func (s *Shell) runBuiltin(builtin Builtin, tokens []shell.Token) int {
	args := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Kind != shell.Word {
			s.errorf("%s: shell built-ins don't support %q", tokens[0].Text, tok.Text)
			return 2
		}
		args = append(args, tok.Text)
	}

	s.Events.Record(logger.Event{Type: logger.EventBuiltin, Command: args})
	return builtin.Main(s, args)
}

// lineContext returns the context of the line being run.
func (s *Shell) lineContext() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// reportDone prints a notice for every background pipeline that finished.
func (s *Shell) reportDone() {
	finished := s.Jobs.Table().Collect()

	// Report each pipeline once, with the status of its last process.
	last := make(map[int]jobs.ProcessInfo)
	var order []int
	for _, info := range finished {
		if _, ok := last[info.PGID]; !ok {
			order = append(order, info.PGID)
		}
		last[info.PGID] = info
	}

	for _, pgid := range order {
		info := last[pgid]
		label := "Done"
		if !info.Status.Success() {
			label = fmt.Sprintf("Exit %d", info.Status.Code)
		}
		fmt.Fprintf(s.Stdout, "[%d] %-10s %s\n", pgid, label, info.Cmdline)
	}
}

package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/josephlewis42/pipesh/core/env"
	"github.com/josephlewis42/pipesh/core/jobs"
	"github.com/josephlewis42/pipesh/core/logger"
	"github.com/josephlewis42/pipesh/core/tty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shellHarness struct {
	*Shell
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	events *bytes.Buffer
}

func newTestShell(t *testing.T) *shellHarness {
	t.Helper()

	term := tty.New(nil)
	term.Install()
	t.Cleanup(func() { term.Close() })

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { devNull.Close() })

	events := &bytes.Buffer{}
	sessionLog := logger.NewJsonLinesLogRecorder(events).Sessionless()

	shellEnv := env.NewMapEnvFromEnvList(os.Environ())
	ctl := jobs.NewController(jobs.Options{
		Env:      shellEnv,
		Terminal: term,
		Stdin:    devNull,
		Stdout:   devNull,
		Stderr:   devNull,
		Events:   sessionLog,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ctl.Reap(ctx, term.ChildExited())

	sh := NewShell(ctl, shellEnv)
	sh.Events = sessionLog
	out := &shellHarness{
		Shell:  sh,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		events: events,
	}
	sh.Stdout = out.stdout
	sh.Stderr = out.stderr
	return out
}

func (h *shellHarness) waitBackground(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Jobs.Table().WaitBackground(ctx))
}

func TestShell_RunLine(t *testing.T) {
	cases := map[string]struct {
		line       string
		wantStatus int
		wantStderr string
	}{
		"success":           {line: "true", wantStatus: 0},
		"failure":           {line: "false", wantStatus: 1},
		"last stage status": {line: "false | true", wantStatus: 0},
		"not found": {
			line:       "nonexistent_cmd_xyz",
			wantStatus: 127,
			wantStderr: "pipesh: nonexistent_cmd_xyz: command not found\n",
		},
		"malformed": {
			line:       "| wc",
			wantStatus: 2,
			wantStderr: "malformed pipeline",
		},
		"unterminated quote": {
			line:       `echo "hi`,
			wantStatus: 2,
			wantStderr: "syntax error",
		},
		"builtin in pipeline": {
			line:       "echo hi | cd",
			wantStatus: 2,
			wantStderr: "cd: shell built-ins can't be part of a pipeline",
		},
		"builtin redirect": {
			line:       "pwd > out",
			wantStatus: 2,
			wantStderr: `pwd: shell built-ins don't support ">"`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sh := newTestShell(t)

			got := sh.RunLine(context.Background(), tc.line)

			assert.Equal(t, tc.wantStatus, got)
			assert.Equal(t, tc.wantStatus, sh.LastStatus())
			if tc.wantStderr == "" {
				assert.Empty(t, sh.stderr.String())
			} else {
				assert.Contains(t, sh.stderr.String(), tc.wantStderr)
			}
		})
	}
}

func TestShell_RunLine_emptyKeepsStatus(t *testing.T) {
	sh := newTestShell(t)

	sh.RunLine(context.Background(), "false")
	assert.Equal(t, 1, sh.RunLine(context.Background(), "   "))
}

func TestShell_RunLine_malformedEvent(t *testing.T) {
	sh := newTestShell(t)

	sh.RunLine(context.Background(), "echo hi |")

	assert.Contains(t, sh.events.String(), `"type":"malformed"`)
	assert.Contains(t, sh.events.String(), `"pipeline":"echo hi |"`)
}

func TestShell_RunLine_redirect(t *testing.T) {
	sh := newTestShell(t)
	target := filepath.Join(t.TempDir(), "file")

	require.Equal(t, 0, sh.RunLine(context.Background(), "echo hi > "+target))

	contents, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(contents))
}

func TestShell_background(t *testing.T) {
	sh := newTestShell(t)

	assert.Equal(t, 0, sh.RunLine(context.Background(), "sh -c 'exit 4' &"))
	assert.Regexp(t, `^\[\d+\] \d+\n$`, sh.stdout.String())

	sh.waitBackground(t)
	sh.stdout.Reset()
	sh.reportDone()

	assert.Regexp(t, `^\[\d+\] Exit 4\s+sh -c exit 4 &\n$`, sh.stdout.String())

	// Reported only once.
	sh.stdout.Reset()
	sh.reportDone()
	assert.Empty(t, sh.stdout.String())
}

func TestShell_backgroundPipelineReportedOnce(t *testing.T) {
	sh := newTestShell(t)

	sh.RunLine(context.Background(), "true | true &")
	sh.waitBackground(t)
	sh.stdout.Reset()
	sh.reportDone()

	assert.Equal(t, 1, strings.Count(sh.stdout.String(), "Done"))
}

type scriptedReader struct {
	lines   []string
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) SetPrompt(prompt string) {
	r.prompts = append(r.prompts, prompt)
}

func (r *scriptedReader) Close() error {
	return nil
}

func TestShell_RunInteractive(t *testing.T) {
	t.Run("eof returns last status", func(t *testing.T) {
		sh := newTestShell(t)
		lines := &scriptedReader{lines: []string{"true", "", "false"}}

		assert.Equal(t, 1, sh.RunInteractive(context.Background(), lines))
		assert.Len(t, lines.prompts, 4)
	})

	t.Run("exit stops reading", func(t *testing.T) {
		sh := newTestShell(t)
		lines := &scriptedReader{lines: []string{"exit 3", "false"}}

		assert.Equal(t, 3, sh.RunInteractive(context.Background(), lines))
		assert.Equal(t, []string{"false"}, lines.lines)
	})

	t.Run("numbered prompt", func(t *testing.T) {
		sh := newTestShell(t)
		sh.Prompt = `\#: `
		lines := &scriptedReader{lines: []string{"true", ""}}

		sh.RunInteractive(context.Background(), lines)

		assert.Equal(t, []string{"0: ", "1: ", "2: "}, lines.prompts)
	})

	t.Run("prompt", func(t *testing.T) {
		sh := newTestShell(t)
		sh.Prompt = `[\$] `
		lines := &scriptedReader{}

		sh.RunInteractive(context.Background(), lines)

		require.Len(t, lines.prompts, 1)
		if os.Getuid() == 0 {
			assert.Equal(t, "[#] ", lines.prompts[0])
		} else {
			assert.Equal(t, "[$] ", lines.prompts[0])
		}
	})
}

func TestShell_RunCommand(t *testing.T) {
	sh := newTestShell(t)
	assert.Equal(t, 5, sh.RunCommand(context.Background(), "sh -c 'exit 5'"))

	sh = newTestShell(t)
	assert.Equal(t, 9, sh.RunCommand(context.Background(), "exit 9"))
}

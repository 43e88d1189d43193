package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/josephlewis42/pipesh/core/env"
	"github.com/josephlewis42/pipesh/core/shell"
	"github.com/josephlewis42/pipesh/core/tty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const jobControlHelperEnv = "PIPESH_JOB_CONTROL_HELPER"

// openPty returns the master and slave ends of a new pseudo terminal.
func openPty(t *testing.T) (master, slave *os.File) {
	t.Helper()

	fd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		t.Skipf("no pseudo terminals: %v", err)
	}
	master = os.NewFile(uintptr(fd), "/dev/ptmx")

	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		t.Skipf("unlockpt: %v", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		t.Skipf("ptsname: %v", err)
	}

	slave, err = os.OpenFile(fmt.Sprintf("/dev/pts/%d", n), os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		master.Close()
		t.Skipf("opening pts %d: %v", n, err)
	}
	return master, slave
}

// TestRun_jobControl starts this test binary as a session leader with a pty
// as its controlling terminal and runs the pipelines in
// TestJobControlHelper there.
func TestRun_jobControl(t *testing.T) {
	if os.Getenv(jobControlHelperEnv) != "" {
		t.Skip("already in the helper")
	}

	master, slave := openPty(t)
	defer master.Close()

	cmd := exec.Command(os.Args[0], "-test.run=^TestJobControlHelper$", "-test.v")
	cmd.Env = append(os.Environ(), jobControlHelperEnv+"=1")
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	}
	require.NoError(t, cmd.Start())
	slave.Close()

	var out bytes.Buffer
	copied := make(chan struct{})
	go func() {
		// Reading the master fails with EIO once the helper exits.
		io.Copy(&out, master)
		close(copied)
	}()

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	select {
	case err := <-waited:
		<-copied
		assert.NoError(t, err, out.String())
	case <-time.After(60 * time.Second):
		cmd.Process.Kill()
		t.Fatalf("helper timed out:\n%s", out.String())
	}
}

func TestJobControlHelper(t *testing.T) {
	if os.Getenv(jobControlHelperEnv) == "" {
		t.Skip("only runs inside a terminal session started by TestRun_jobControl")
	}

	term, err := tty.Open(os.Stdin, nil)
	require.NoError(t, err)
	require.True(t, term.JobControl())
	term.Install()
	defer term.Close()

	ctl := NewController(Options{
		Env:      env.NewMapEnvFromEnvList([]string{"PATH=/bin:/usr/bin"}),
		Terminal: term,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctl.Reap(ctx, term.ChildExited())

	shellPgrp := unix.Getpgrp()
	foreground := func() int {
		fg, err := unix.IoctlGetInt(int(os.Stdin.Fd()), unix.TIOCGPGRP)
		require.NoError(t, err)
		return fg
	}
	require.Equal(t, shellPgrp, foreground())

	cases := map[string]struct {
		line       string
		wantErrors int
		wantCode   int
	}{
		"success":          {line: "true", wantCode: 0},
		"pipeline":         {line: "echo hi | cat", wantCode: 0},
		"not found":        {line: "nonexistent_cmd_xyz", wantErrors: 1, wantCode: 127},
		"partially failed": {line: "echo hi | nonexistent_cmd_xyz | cat", wantErrors: 1, wantCode: 0},
		"first stage lost": {line: "nonexistent_cmd_xyz | true", wantErrors: 1, wantCode: 0},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := shell.Parse(tc.line)
			require.NoError(t, err)

			res, err := ctl.Run(context.Background(), p)
			require.NoError(t, err)

			assert.Len(t, res.Errors, tc.wantErrors)
			assert.Equal(t, tc.wantCode, res.ExitCode())
			if res.PGID != 0 {
				assert.NotEqual(t, shellPgrp, res.PGID, "jobs get their own group")
			}
			assert.Equal(t, shellPgrp, foreground(), "the shell has the terminal back")
		})
	}
}

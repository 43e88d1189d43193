package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"

	"github.com/josephlewis42/pipesh/core/env"
	"github.com/josephlewis42/pipesh/core/logger"
	"github.com/josephlewis42/pipesh/core/shell"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// State is the lifecycle state of a pipeline.
type State int

const (
	Planned State = iota
	Spawning
	Running
	Completed
	Detached
)

func (s State) String() string {
	switch s {
	case Planned:
		return "planned"
	case Spawning:
		return "spawning"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Detached:
		return "detached"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal is the part of the controlling terminal the controller needs to
// move pipelines between the foreground and background.
type Terminal interface {
	// JobControl reports whether pipelines should be put in their own
	// process group and given the terminal.
	JobControl() bool
	// SetForeground makes pgid the terminal's foreground process group.
	SetForeground(pgid int) error
	// Reclaim gives the terminal back to the shell and restores its mode.
	Reclaim() error
	// SaveMode snapshots the current terminal mode, nil without a terminal.
	SaveMode() *term.State
	// Fd is the terminal's file descriptor.
	Fd() int
}

// Result describes what happened to a pipeline.
type Result struct {
	Pipeline *shell.Pipeline
	State    State
	// PGID is the process group of the pipeline, zero if it shares the
	// shell's group.
	PGID int
	// PIDs has the pid of each stage, zero for stages that didn't start.
	PIDs []int
	// Statuses has the exit status of each stage. Only filled in once the
	// pipeline completed.
	Statuses []ExitStatus
	// Errors holds the stages that couldn't be started.
	Errors []*StageError
}

// ExitCode is the status of the pipeline, the one of its last stage.
func (r *Result) ExitCode() int {
	if len(r.Statuses) == 0 {
		return 0
	}
	return r.Statuses[len(r.Statuses)-1].Code
}

// LastPID returns the pid of the last stage that started, zero if none did.
func (r *Result) LastPID() int {
	for i := len(r.PIDs) - 1; i >= 0; i-- {
		if r.PIDs[i] != 0 {
			return r.PIDs[i]
		}
	}
	return 0
}

// Options configures a Controller.
type Options struct {
	Env      env.Env
	Terminal Terminal

	// Standard streams handed to the pipeline's first and last stages.
	Stdin, Stdout, Stderr *os.File

	// LegacyInputCreate creates missing input redirection files rather than
	// reporting an error.
	LegacyInputCreate bool

	Log    *log.Logger
	Events *logger.SessionLogger
}

// Controller launches pipelines and tracks their processes.
type Controller struct {
	opts     Options
	table    *Table
	resolver *Resolver
	reaper   *Reaper
	log      *log.Logger
}

// NewController creates a controller with an empty process table.
func NewController(opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	table := NewTable()
	return &Controller{
		opts:     opts,
		table:    table,
		resolver: &Resolver{Env: opts.Env},
		reaper:   NewReaper(table, opts.Log, opts.Events),
		log:      opts.Log,
	}
}

// Table returns the controller's process table.
func (c *Controller) Table() *Table {
	return c.table
}

// Reap collects exited children each time childExited fires until ctx is
// done. It must be running for Run to return.
func (c *Controller) Reap(ctx context.Context, childExited <-chan struct{}) {
	c.reaper.Run(ctx, childExited)
}

// Run launches every stage of the pipeline.
//
// Foreground pipelines are given the terminal and waited on; the shell gets
// the terminal back before Run returns. If ctx is cancelled while waiting the
// remaining processes are sent SIGTERM. Background pipelines are left running
// and Run returns immediately.
//
// Stages that fail to start are reported in Result.Errors and don't stop the
// others. The returned error is only set for failures of the shell itself.
func (c *Controller) Run(ctx context.Context, p *shell.Pipeline) (*Result, error) {
	n := len(p.Stages)
	res := &Result{
		Pipeline: p,
		State:    Planned,
		PIDs:     make([]int, n),
		Statuses: make([]ExitStatus, n),
	}
	if n == 0 {
		return res, fmt.Errorf("run: %w: no stages", shell.ErrMalformedPipeline)
	}

	res.State = Spawning
	newGroup := c.opts.Terminal.JobControl() || p.Background
	foreground := c.opts.Terminal.JobControl() && !p.Background
	cmdline := p.String()

	c.reaper.Hold()
	held := true
	release := func() {
		if held {
			held = false
			c.reaper.Release()
		}
	}
	defer release()

	var prevRead *os.File
	for i, stage := range p.Stages {
		stdin := c.opts.Stdin
		switch {
		case i > 0:
			stdin = prevRead
		case p.Background:
			// Background jobs must not compete with the shell for input.
			devNull, err := os.Open(os.DevNull)
			if err != nil {
				return res, err
			}
			defer devNull.Close()
			stdin = devNull
		}

		stdout := c.opts.Stdout
		var nextRead, pipeWrite *os.File
		if i < n-1 {
			r, w, err := os.Pipe()
			if err != nil {
				closeFile(prevRead)
				release()
				c.finish(ctx, res)
				return res, fmt.Errorf("creating pipe: %w", err)
			}
			nextRead, pipeWrite = r, w
			stdout = w
		}

		pid, path, err := c.spawn(stage, stdin, stdout, res.PGID, newGroup, foreground)

		// The child has its own copies now. Closing ours lets neighbours see
		// EOF or EPIPE when the child exits or never started.
		closeFile(prevRead)
		closeFile(pipeWrite)
		prevRead = nextRead

		if err != nil {
			c.stageFailed(res, i, stage, err)
			continue
		}

		if newGroup && res.PGID == 0 {
			res.PGID = pid
		}
		res.PIDs[i] = pid
		c.table.Insert(pid, pgidOf(res.PGID, pid, newGroup), p.Background, cmdline, c.opts.Terminal.SaveMode())

		c.log.Printf("started %s as pid %d (pgid %d)", path, pid, res.PGID)
		c.opts.Events.Record(logger.Event{
			Type:         logger.EventSpawn,
			Command:      stage.Args,
			Pipeline:     cmdline,
			ResolvedPath: path,
			PID:          pid,
			PGID:         pgidOf(res.PGID, pid, newGroup),
			Background:   p.Background,
		})
	}
	res.State = Running
	release()

	if p.Background {
		res.State = Detached
		return res, nil
	}

	c.finish(ctx, res)
	return res, nil
}

// finish waits for every started stage of a foreground pipeline.
func (c *Controller) finish(ctx context.Context, res *Result) {
	if c.opts.Terminal.JobControl() {
		// Every exec attempt took the terminal for its own group, including
		// the ones that failed, so it's reclaimed even if nothing started.
		defer func() {
			if err := c.opts.Terminal.Reclaim(); err != nil {
				c.log.Printf("reclaiming terminal: %v", err)
			}
		}()

		if res.PGID != 0 {
			if err := c.opts.Terminal.SetForeground(res.PGID); err != nil {
				c.log.Printf("giving terminal to pgid %d: %v", res.PGID, err)
			}
		}
	}

	for i, pid := range res.PIDs {
		if pid == 0 {
			continue
		}
		res.Statuses[i] = c.wait(ctx, res, pid)
		if _, err := c.table.Remove(pid); err != nil {
			panic(err)
		}
	}
	res.State = Completed
}

func (c *Controller) wait(ctx context.Context, res *Result, pid int) ExitStatus {
	status, err := c.table.Wait(ctx, pid)
	if err == nil {
		return status
	}
	if errors.Is(err, ErrUnknownProcess) {
		panic(err)
	}

	// Cancelled, stop whatever is left and keep waiting so nothing is left
	// behind as a zombie.
	c.log.Printf("terminating pipeline %q: %v", res.Pipeline, err)
	for _, other := range res.PIDs {
		if info, ok := c.table.Get(other); ok && info.State == ProcessRunning {
			_ = unix.Kill(other, unix.SIGTERM)
		}
	}

	status, err = c.table.Wait(context.Background(), pid)
	if err != nil {
		panic(err)
	}
	return status
}

func (c *Controller) stageFailed(res *Result, i int, stage shell.Stage, err error) {
	stageErr := &StageError{Stage: i, Name: stage.Name(), Err: err}
	res.Errors = append(res.Errors, stageErr)
	res.Statuses[i] = ExitStatus{Code: stageErr.ExitCode()}

	evType := logger.EventExecError
	switch {
	case errors.Is(err, ErrCommandNotFound):
		evType = logger.EventCommandNotFound
	case errors.Is(err, ErrRedirection):
		evType = logger.EventRedirectError
	}

	c.log.Printf("stage %d: %v", i, err)
	c.opts.Events.Record(logger.Event{
		Type:     evType,
		Command:  stage.Args,
		Pipeline: res.Pipeline.String(),
		Error:    stageErr.Error(),
	})
}

// spawn opens the stage's redirections and starts its process.
func (c *Controller) spawn(stage shell.Stage, stdin, stdout *os.File, pgid int, newGroup, foreground bool) (int, string, error) {
	if stage.Input != "" {
		flags := os.O_RDONLY
		if c.opts.LegacyInputCreate {
			flags |= os.O_CREATE
		}
		f, err := os.OpenFile(stage.Input, flags, 0644)
		if err != nil {
			return 0, "", fmt.Errorf("%w: %v", ErrRedirection, err)
		}
		defer f.Close()
		stdin = f
	}

	if stage.Output != "" {
		f, err := os.OpenFile(stage.Output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return 0, "", fmt.Errorf("%w: %v", ErrRedirection, err)
		}
		defer f.Close()
		stdout = f
	}

	attr := &os.ProcAttr{
		Env:   c.opts.Env.Environ(),
		Files: []*os.File{stdin, stdout, c.opts.Stderr},
		Sys: &syscall.SysProcAttr{
			Setpgid: newGroup,
			Pgid:    pgid,
		},
	}
	if foreground {
		// The child takes the terminal before exec so it can never read
		// from it while still in the background.
		attr.Sys.Foreground = true
		attr.Sys.Ctty = c.opts.Terminal.Fd()
	}

	proc, path, err := c.resolver.Start(stage.Args, attr)
	if err != nil {
		return 0, "", err
	}

	pid := proc.Pid
	if newGroup {
		// Also set the group from the parent so it's in place before the
		// terminal is handed over, whichever process runs first.
		_ = unix.Setpgid(pid, pgidOf(pgid, pid, true))
	}

	// Only the pid is tracked from here on; the reaper waits on it directly.
	if err := proc.Release(); err != nil {
		c.log.Printf("releasing pid %d: %v", pid, err)
	}
	return pid, path, nil
}

func pgidOf(groupLeader, pid int, newGroup bool) int {
	switch {
	case !newGroup:
		return unix.Getpgrp()
	case groupLeader == 0:
		return pid
	default:
		return groupLeader
	}
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}

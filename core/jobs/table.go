package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// ProcessState is the lifecycle state of a single process.
type ProcessState int32

const (
	// ProcessRunning means the process was started and hasn't been reaped.
	ProcessRunning ProcessState = iota
	// ProcessReaped means the exit status has been collected.
	ProcessReaped
)

func (s ProcessState) String() string {
	switch s {
	case ProcessRunning:
		return "Running"
	case ProcessReaped:
		return "Done"
	default:
		return fmt.Sprintf("ProcessState(%d)", int32(s))
	}
}

// ProcessInfo is a snapshot of a process table entry.
type ProcessInfo struct {
	PID        int
	PGID       int
	Background bool
	// Cmdline is the pipeline the process belongs to.
	Cmdline string
	// Mode is the terminal mode at the time the process started, nil when
	// there's no controlling terminal.
	Mode    *term.State
	Started time.Time
	State   ProcessState
	// Status is only meaningful when State is ProcessReaped.
	Status ExitStatus
}

type entry struct {
	pid        int
	pgid       int
	background bool
	cmdline    string
	mode       *term.State
	started    time.Time

	state  atomic.Int32
	status atomic.Pointer[ExitStatus]
	done   chan struct{}
}

func (e *entry) info() ProcessInfo {
	out := ProcessInfo{
		PID:        e.pid,
		PGID:       e.pgid,
		Background: e.background,
		Cmdline:    e.cmdline,
		Mode:       e.mode,
		Started:    e.started,
		State:      ProcessState(e.state.Load()),
	}
	if st := e.status.Load(); st != nil {
		out.Status = *st
	}
	return out
}

// Table tracks every process the shell started until it's removed.
//
// The number of running background processes is kept in an atomic counter
// that is decremented exactly once per background process, either when it's
// reaped or when a running entry is removed.
type Table struct {
	mu      sync.RWMutex
	entries map[int]*entry

	background atomic.Int64
	// bgChanged is closed and replaced every time the background count drops.
	bgChanged chan struct{}
}

// NewTable creates an empty process table.
func NewTable() *Table {
	return &Table{
		entries:   make(map[int]*entry),
		bgChanged: make(chan struct{}),
	}
}

// Insert adds a running process.
func (t *Table) Insert(pid, pgid int, background bool, cmdline string, mode *term.State) ProcessInfo {
	e := &entry{
		pid:        pid,
		pgid:       pgid,
		background: background,
		cmdline:    cmdline,
		mode:       mode,
		started:    time.Now(),
		done:       make(chan struct{}),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[pid]; ok {
		// The kernel only reuses a pid once it was reaped.
		t.forget(old)
	}
	t.entries[pid] = e
	if background {
		t.background.Add(1)
	}
	return e.info()
}

func (t *Table) lookup(pid int) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[pid]
	return e, ok
}

// Get returns a snapshot of the entry for pid.
func (t *Table) Get(pid int) (ProcessInfo, bool) {
	e, ok := t.lookup(pid)
	if !ok {
		return ProcessInfo{}, false
	}
	return e.info(), true
}

// Remove deletes the entry for pid. Removing a process that is still running
// stops it from being counted as a background job.
func (t *Table) Remove(pid int) (ProcessInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[pid]
	if !ok {
		return ProcessInfo{}, fmt.Errorf("remove pid %d: %w", pid, ErrUnknownProcess)
	}
	delete(t.entries, pid)
	t.forget(e)
	return e.info(), nil
}

// forget retires a running entry without an exit status, t.mu must be held.
func (t *Table) forget(e *entry) {
	if !e.state.CompareAndSwap(int32(ProcessRunning), int32(ProcessReaped)) {
		return
	}
	if e.background {
		t.background.Add(-1)
		t.broadcastLocked()
	}
	close(e.done)
}

// CountBackground returns the number of running background processes.
func (t *Table) CountBackground() int {
	return int(t.background.Load())
}

// MarkReaped records the exit status of pid. It returns false if the pid is
// unknown or was already reaped.
func (t *Table) MarkReaped(pid int, status ExitStatus) bool {
	e, ok := t.lookup(pid)
	if !ok || ProcessState(e.state.Load()) != ProcessRunning {
		return false
	}

	// The status is published before the state so readers that observe
	// ProcessReaped always see it.
	e.status.Store(&status)
	if !e.state.CompareAndSwap(int32(ProcessRunning), int32(ProcessReaped)) {
		return false
	}

	if e.background {
		t.background.Add(-1)
		t.broadcast()
	}
	close(e.done)
	return true
}

func (t *Table) broadcast() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcastLocked()
}

func (t *Table) broadcastLocked() {
	close(t.bgChanged)
	t.bgChanged = make(chan struct{})
}

// Wait blocks until pid is reaped and returns its exit status.
func (t *Table) Wait(ctx context.Context, pid int) (ExitStatus, error) {
	e, ok := t.lookup(pid)
	if !ok {
		return ExitStatus{}, fmt.Errorf("wait pid %d: %w", pid, ErrUnknownProcess)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}

	if st := e.status.Load(); st != nil {
		return *st, nil
	}
	return ExitStatus{}, fmt.Errorf("wait pid %d: removed before exit: %w", pid, ErrUnknownProcess)
}

// WaitBackground blocks until no background process is running.
func (t *Table) WaitBackground(ctx context.Context) error {
	for {
		t.mu.RLock()
		changed := t.bgChanged
		t.mu.RUnlock()

		if t.CountBackground() == 0 {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Running lists the pids that haven't been reaped.
func (t *Table) Running() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []int
	for pid, e := range t.entries {
		if ProcessState(e.state.Load()) == ProcessRunning {
			out = append(out, pid)
		}
	}
	sort.Ints(out)
	return out
}

// Collect removes and returns every reaped background process.
func (t *Table) Collect() []ProcessInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []ProcessInfo
	for pid, e := range t.entries {
		if e.background && ProcessState(e.state.Load()) == ProcessReaped {
			delete(t.entries, pid)
			out = append(out, e.info())
		}
	}
	sortByPID(out)
	return out
}

// List returns a snapshot of every entry ordered by pid.
func (t *Table) List() []ProcessInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ProcessInfo, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.info())
	}
	sortByPID(out)
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func sortByPID(infos []ProcessInfo) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].PID < infos[j].PID
	})
}

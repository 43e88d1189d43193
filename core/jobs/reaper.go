package jobs

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/josephlewis42/pipesh/core/logger"
	"golang.org/x/sys/unix"
)

// Reaper collects the exit status of the processes in a Table.
//
// It only ever waits on pids that are in the table so children started by
// anything else in the program are left alone.
type Reaper struct {
	// mu is held during sweeps and while a pipeline is being started.
	mu     sync.Mutex
	table  *Table
	kick   chan struct{}
	log    *log.Logger
	events *logger.SessionLogger
}

// NewReaper creates a reaper for the table. Either logger may be nil.
func NewReaper(table *Table, l *log.Logger, events *logger.SessionLogger) *Reaper {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	return &Reaper{
		table:  table,
		kick:   make(chan struct{}, 1),
		log:    l,
		events: events,
	}
}

// Hold stops sweeps until Release is called. Process group leaders stay
// zombies while held so the rest of a pipeline can still join their group.
func (r *Reaper) Hold() {
	r.mu.Lock()
}

// Release allows sweeps again and requests one, covering children that
// exited before they were added to the table.
func (r *Reaper) Release() {
	r.mu.Unlock()
	r.Kick()
}

// Kick requests a sweep without waiting for a SIGCHLD.
func (r *Reaper) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
		// A sweep is already pending.
	}
}

// Run sweeps the table every time childExited fires or Kick is called until
// the context is cancelled.
func (r *Reaper) Run(ctx context.Context, childExited <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-childExited:
		case <-r.kick:
		}
		r.Sweep()
	}
}

// Sweep polls every running process once and returns how many were reaped.
func (r *Reaper) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for _, pid := range r.table.Running() {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			// Picked up by the next sweep.
		case errors.Is(err, unix.ECHILD):
			// Someone else collected it, the status is lost.
			r.log.Printf("pid %d was reaped elsewhere", pid)
			r.markReaped(pid, ExitStatus{Code: -1})
			reaped++
		case err != nil:
			r.log.Printf("wait4(%d): %v", pid, err)
		case wpid == pid && (ws.Exited() || ws.Signaled()):
			r.markReaped(pid, statusFromWait(ws))
			reaped++
		}
	}
	return reaped
}

func (r *Reaper) markReaped(pid int, status ExitStatus) {
	info, _ := r.table.Get(pid)
	if !r.table.MarkReaped(pid, status) {
		return
	}

	r.log.Printf("reaped pid %d (%s): %v", pid, info.Cmdline, status)
	r.events.Record(logger.Event{
		Type:       logger.EventReap,
		Pipeline:   info.Cmdline,
		PID:        pid,
		PGID:       info.PGID,
		Background: info.Background,
		Status:     status.String(),
	})
}

// Package tty manages the controlling terminal and the shell's signals.
package tty

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Terminal owns the shell's controlling terminal, if it has one, and turns
// the signals the shell receives into channel notifications.
//
// Job-control signals are caught rather than ignored: caught signals are
// reset to their default action in programs the shell starts, ignored ones
// would be inherited.
type Terminal struct {
	fd         int
	jobControl bool
	pgid       int
	mode       *term.State
	log        *log.Logger

	sigs       chan os.Signal
	child      chan struct{}
	interrupts chan struct{}
	done       chan struct{}
	installed  bool
	closeOnce  sync.Once
}

// New creates a Terminal without job control, used when the shell isn't
// interactive.
func New(l *log.Logger) *Terminal {
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	return &Terminal{
		fd:         -1,
		pgid:       unix.Getpgrp(),
		log:        l,
		child:      make(chan struct{}, 1),
		interrupts: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Open takes control of the terminal f if it is one. It waits until the shell
// is in the terminal's foreground, moves the shell into its own process group
// and makes that group the foreground. If f isn't a terminal, job control is
// disabled and Open behaves like New.
func Open(f *os.File, l *log.Logger) (*Terminal, error) {
	t := New(l)
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		t.log.Printf("%s is not a terminal, job control disabled", f.Name())
		return t, nil
	}
	t.fd = fd

	if err := t.waitForeground(); err != nil {
		return nil, err
	}

	pid := unix.Getpid()
	switch err := unix.Setpgid(pid, pid); {
	case errors.Is(err, unix.EPERM):
		// Session leaders already lead their own group.
		t.log.Printf("setpgid: %v, staying in group %d", err, unix.Getpgrp())
	case err != nil:
		return nil, fmt.Errorf("couldn't put the shell in its own process group: %w", err)
	}
	t.pgid = unix.Getpgrp()

	if err := t.SetForeground(t.pgid); err != nil {
		return nil, fmt.Errorf("couldn't grab control of the terminal: %w", err)
	}

	mode, err := term.GetState(fd)
	if err != nil {
		return nil, fmt.Errorf("couldn't save terminal mode: %w", err)
	}
	t.mode = mode
	t.jobControl = true
	return t, nil
}

// waitForeground stops the shell until it's in the terminal's foreground
// process group.
func (t *Terminal) waitForeground() error {
	for {
		fg, err := unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
		if err != nil {
			return fmt.Errorf("tcgetpgrp: %w", err)
		}

		pgrp := unix.Getpgrp()
		if fg == pgrp {
			return nil
		}

		t.log.Printf("process group %d is in the background (foreground: %d), stopping", pgrp, fg)
		if err := unix.Kill(-pgrp, unix.SIGTTIN); err != nil {
			return fmt.Errorf("kill(SIGTTIN): %w", err)
		}
	}
}

// Install starts delivering signals. SIGCHLD is always caught; SIGINT,
// SIGQUIT, SIGTSTP and SIGTTIN only when job control is enabled.
func (t *Terminal) Install() {
	if t.installed {
		return
	}
	t.installed = true

	t.sigs = make(chan os.Signal, 8)
	sigs := []os.Signal{unix.SIGCHLD}
	if t.jobControl {
		sigs = append(sigs, unix.SIGINT, unix.SIGQUIT, unix.SIGTSTP, unix.SIGTTIN)
	}
	signal.Notify(t.sigs, sigs...)

	go t.relay()
}

func (t *Terminal) relay() {
	for {
		select {
		case <-t.done:
			return
		case sig := <-t.sigs:
			switch sig {
			case unix.SIGCHLD:
				notify(t.child)
			case unix.SIGINT:
				notify(t.interrupts)
			default:
				t.log.Printf("ignoring %v", sig)
			}
		}
	}
}

// notify does a non-blocking send. Pending notifications coalesce.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ChildExited fires at least once after any child changes state.
func (t *Terminal) ChildExited() <-chan struct{} {
	return t.child
}

// Interrupts fires when the shell itself receives SIGINT.
func (t *Terminal) Interrupts() <-chan struct{} {
	return t.interrupts
}

// JobControl reports whether the shell owns a terminal.
func (t *Terminal) JobControl() bool {
	return t.jobControl
}

// Fd returns the terminal's file descriptor, -1 without job control.
func (t *Terminal) Fd() int {
	return t.fd
}

// PGID returns the shell's process group.
func (t *Terminal) PGID() int {
	return t.pgid
}

// SetForeground makes pgid the foreground process group of the terminal.
func (t *Terminal) SetForeground(pgid int) error {
	if t.fd < 0 {
		return nil
	}

	// A background process changing the foreground group is sent SIGTTOU,
	// which would stop the shell.
	signal.Ignore(unix.SIGTTOU)
	defer signal.Reset(unix.SIGTTOU)

	return unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid)
}

// Reclaim puts the shell back in the foreground and restores its terminal
// mode.
func (t *Terminal) Reclaim() error {
	if !t.jobControl {
		return nil
	}

	if err := t.SetForeground(t.pgid); err != nil {
		return err
	}
	return t.RestoreMode()
}

// SaveMode returns the current terminal mode, nil without job control.
func (t *Terminal) SaveMode() *term.State {
	if !t.jobControl {
		return nil
	}

	mode, err := term.GetState(t.fd)
	if err != nil {
		t.log.Printf("couldn't get terminal mode: %v", err)
		return nil
	}
	return mode
}

// RestoreMode restores the terminal mode saved when the terminal was opened.
func (t *Terminal) RestoreMode() error {
	if !t.jobControl || t.mode == nil {
		return nil
	}
	return term.Restore(t.fd, t.mode)
}

// Close stops signal delivery and gives the terminal back in the state it
// was found.
func (t *Terminal) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.installed {
			signal.Stop(t.sigs)
		}
		close(t.done)
		err = t.Reclaim()
	})
	return err
}

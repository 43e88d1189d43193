package jobs

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitStatus describes how a process terminated.
type ExitStatus struct {
	// Code is the exit code, or 128 plus the signal number if the process
	// was killed by a signal.
	Code int
	// Signal is the signal that killed the process, zero if it exited.
	Signal syscall.Signal
}

// Success reports whether the process exited with code zero.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == 0
}

func (s ExitStatus) String() string {
	if s.Signal != 0 {
		return fmt.Sprintf("signal: %v", s.Signal)
	}
	return fmt.Sprintf("exit status %d", s.Code)
}

func statusFromWait(ws unix.WaitStatus) ExitStatus {
	switch {
	case ws.Exited():
		return ExitStatus{Code: ws.ExitStatus()}
	case ws.Signaled():
		return ExitStatus{Code: 128 + int(ws.Signal()), Signal: ws.Signal()}
	default:
		return ExitStatus{Code: -1}
	}
}

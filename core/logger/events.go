package logger

// EventType identifies what happened to a job.
type EventType string

const (
	// EventSpawn is logged after a stage's process is started.
	EventSpawn EventType = "spawn"
	// EventReap is logged when a process has exited and its status was collected.
	EventReap EventType = "reap"
	// EventCommandNotFound is logged when no PATH candidate exists for a stage.
	EventCommandNotFound EventType = "command_not_found"
	// EventExecError is logged when a program exists but could not be executed.
	EventExecError EventType = "exec_error"
	// EventRedirectError is logged when a redirection file couldn't be opened.
	EventRedirectError EventType = "redirect_error"
	// EventMalformed is logged when a line couldn't be planned.
	EventMalformed EventType = "malformed"
	// EventBuiltin is logged when a built-in runs.
	EventBuiltin EventType = "builtin"
)

// Event is a single log line.
type Event struct {
	TimestampMicros int64     `json:"timestamp_micros"`
	SessionID       string    `json:"session_id,omitempty"`
	Type            EventType `json:"type"`

	// Command is the argument vector of the stage or built-in.
	Command []string `json:"command,omitempty"`
	// Pipeline is the full command line the stage belongs to.
	Pipeline string `json:"pipeline,omitempty"`
	// ResolvedPath is the program path that was executed.
	ResolvedPath string `json:"resolved_path,omitempty"`

	PID        int  `json:"pid,omitempty"`
	PGID       int  `json:"pgid,omitempty"`
	Background bool `json:"background,omitempty"`

	// Status describes how a process exited, e.g. "exit status 1".
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Name returns the program name of the event's command, if any.
func (e *Event) Name() string {
	if len(e.Command) == 0 {
		return ""
	}
	return e.Command[0]
}

package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventRecorder is a callback that stores events in an external datastore.
type EventRecorder func(ev *Event) error

// Logger captures job lifecycle events.
type Logger struct {
	Record EventRecorder
}

// NewJsonLinesLogRecorder creates a Logger that exports logs in newline
// delimited JSON object format. It's safe to use from multiple goroutines.
func NewJsonLinesLogRecorder(w io.Writer) *Logger {
	var mu sync.Mutex
	return &Logger{
		Record: func(ev *Event) error {
			entry, err := json.Marshal(ev)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			_, err = fmt.Fprintln(w, string(entry))
			return err
		},
	}
}

// Discard returns a Logger that drops every event.
func Discard() *Logger {
	return &Logger{
		Record: func(*Event) error { return nil },
	}
}

func (l *Logger) record(sessionID string, ev Event) error {
	ev.TimestampMicros = time.Now().UnixMicro()
	ev.SessionID = sessionID

	return l.Record(&ev)
}

// NewSession creates a logger with a freshly generated session ID.
func (l *Logger) NewSession() *SessionLogger {
	return &SessionLogger{Logger: l, sessionID: uuid.NewString()}
}

// Sessionless creates a logger without a session ID.
func (l *Logger) Sessionless() *SessionLogger {
	return &SessionLogger{Logger: l, sessionID: ""}
}

// SessionLogger logs events with a shared session ID.
type SessionLogger struct {
	*Logger
	sessionID string
}

// SessionID returns the ID attached to every event.
func (l *SessionLogger) SessionID() string {
	return l.sessionID
}

// Record stamps and stores an event.
func (l *SessionLogger) Record(ev Event) error {
	if l == nil || l.Logger == nil {
		return nil
	}
	return l.record(l.sessionID, ev)
}

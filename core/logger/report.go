package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(ev *Event)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var ev Event
		if err := decoder.Decode(&ev); err != nil {
			return err
		}

		handler(&ev)
	}
	return nil
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	Sessions       StrCounter `json:"sessions"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	Spawn    SpawnReport    `json:"spawn_report"`
	Reap     ReapReport     `json:"reap_report"`
	Failures *PathCounter   `json:"failures"`
	Builtins StrCounter     `json:"builtins"`
	Pipeline PipelineReport `json:"pipeline_report"`
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{
		Failures: NewPathCounter("type", "command", "error"),
	}
}

// Update adds a single event to the report.
func (r *Report) Update(ev *Event) {
	r.LogEntries++
	if ev.SessionID != "" {
		r.Sessions.Increment(ev.SessionID)
	}

	switch ev.Type {
	case EventSpawn:
		r.Spawn.update(ev)
	case EventReap:
		r.Reap.update(ev)
	case EventCommandNotFound, EventExecError, EventRedirectError:
		r.Failures.Increment(string(ev.Type), ev.Name(), ev.Error)
	case EventMalformed:
		r.Pipeline.Malformed++
	case EventBuiltin:
		r.Builtins.Increment(ev.Name())
	default:
		r.InvalidEntries.Increment(fmt.Sprintf("%q", ev.Type))
	}
}

// SpawnReport summarizes started processes.
type SpawnReport struct {
	Count      int `json:"count"`
	Background int `json:"background"`
	// Names of the commands
	CommandNames StrCounter `json:"command_names"`
	// Resolved program paths
	ResolvedPaths StrCounter `json:"resolved_paths"`
}

func (r *SpawnReport) update(ev *Event) {
	r.Count++
	if ev.Background {
		r.Background++
	}
	r.CommandNames.Increment(ev.Name())
	r.ResolvedPaths.Increment(ev.ResolvedPath)
}

// ReapReport summarizes how processes exited.
type ReapReport struct {
	Count    int        `json:"count"`
	Statuses StrCounter `json:"statuses"`
}

func (r *ReapReport) update(ev *Event) {
	r.Count++
	r.Statuses.Increment(ev.Status)
}

// PipelineReport summarizes command lines.
type PipelineReport struct {
	Malformed int `json:"malformed"`
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Get returns the count for a key.
func (s *StrCounter) Get(key string) int {
	return s.internal[key]
}

// Len returns the number of distinct keys.
func (s *StrCounter) Len() int {
	return len(s.internal)
}

// MarshalJSON implements a custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.internal)
}

// NewPathCounter creates a counter keyed on the given columns.
func NewPathCounter(cols ...string) *PathCounter {
	return &PathCounter{
		cols:     cols,
		internal: make(map[string]int),
	}
}

// PathCounter counts tuples of strings.
type PathCounter struct {
	cols     []string
	internal map[string]int
}

// Increment adds one to the given key.
func (ctr *PathCounter) Increment(toAdd ...string) {
	if len(toAdd) != len(ctr.cols) {
		panic("wrong number of columns to add")
	}

	ctr.internal[toKey(toAdd...)]++
}

// Get returns the count for a tuple.
func (ctr *PathCounter) Get(vals ...string) int {
	return ctr.internal[toKey(vals...)]
}

// MarshalJSON implements a custom JSON marshaler.
func (ctr *PathCounter) MarshalJSON() ([]byte, error) {
	type Count struct {
		Count  int               `json:"count"`
		Fields map[string]string `json:"event"`
		Path   string            `json:"-"`
	}

	out := []Count{}
	for k, v := range ctr.internal {
		count := Count{
			Count:  v,
			Path:   k,
			Fields: make(map[string]string),
		}

		splitPath := fromKey(k)
		for colNum, colVal := range ctr.cols {
			count.Fields[colVal] = splitPath[colNum]
		}

		out = append(out, count)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Path < out[j].Path
		}
		return out[i].Count > out[j].Count
	})

	return json.Marshal(out)
}

func toKey(vals ...string) string {
	key, _ := json.Marshal(vals)
	return string(key)
}

func fromKey(key string) (out []string) {
	json.Unmarshal([]byte(key), &out)
	return
}

// Summary renders a one line human readable overview.
func (r *Report) Summary() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%d events", r.LogEntries))
	parts = append(parts, fmt.Sprintf("%d sessions", r.Sessions.Len()))
	parts = append(parts, fmt.Sprintf("%d spawned", r.Spawn.Count))
	parts = append(parts, fmt.Sprintf("%d reaped", r.Reap.Count))
	return strings.Join(parts, ", ")
}

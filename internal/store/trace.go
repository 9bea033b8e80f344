package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cwbudde/primalstall/internal/stall"
)

// EventKind distinguishes trace entries
type EventKind string

const (
	KindImprovement EventKind = "improvement"
	KindTick        EventKind = "tick"
)

// TraceEntry represents a single watchdog event in trace.jsonl.
type TraceEntry struct {
	// Kind is improvement or tick
	Kind EventKind `json:"kind"`

	// Time is the solving time in seconds
	Time float64 `json:"time"`

	// Value is the candidate objective value (improvements only)
	Value *float64 `json:"value,omitempty"`

	// Accepted reports whether an improvement reset the stall clock
	Accepted bool `json:"accepted,omitempty"`

	// Reason is the interrupt decision of a tick (empty means continue)
	Reason stall.Reason `json:"reason,omitempty"`
}

type traceEntryJSON struct {
	Kind     EventKind        `json:"kind"`
	Time     stall.JSONFloat  `json:"time"`
	Value    *stall.JSONFloat `json:"value,omitempty"`
	Accepted bool             `json:"accepted,omitempty"`
	Reason   stall.Reason     `json:"reason,omitempty"`
}

// MarshalJSON writes infinite values as strings so a stalled or unbounded
// objective still reaches the trace.
func (e TraceEntry) MarshalJSON() ([]byte, error) {
	aux := traceEntryJSON{
		Kind:     e.Kind,
		Time:     stall.JSONFloat(e.Time),
		Accepted: e.Accepted,
		Reason:   e.Reason,
	}
	if e.Value != nil {
		v := stall.JSONFloat(*e.Value)
		aux.Value = &v
	}
	return json.Marshal(aux)
}

func (e *TraceEntry) UnmarshalJSON(data []byte) error {
	var aux traceEntryJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = TraceEntry{
		Kind:     aux.Kind,
		Time:     float64(aux.Time),
		Accepted: aux.Accepted,
		Reason:   aux.Reason,
	}
	if aux.Value != nil {
		v := float64(*aux.Value)
		e.Value = &v
	}
	return nil
}

// TraceWriter writes trace entries to a JSONL file.
// It uses buffered I/O for performance and is safe for concurrent use.
// It implements stall.Observer so it can be attached to a Watchdog.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewTraceWriter creates a new trace writer for the given run.
// The trace file is created at <baseDir>/runs/<runID>/trace.jsonl.
func NewTraceWriter(baseDir, runID string) (*TraceWriter, error) {
	dir := runDir(baseDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(dir, "trace.jsonl")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write appends a trace entry to the file.
// The entry is buffered and will be written on Flush() or Close().
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// ObserveImprovement implements stall.Observer
func (tw *TraceWriter) ObserveImprovement(value, now float64, accepted bool) {
	v := value
	if err := tw.Write(TraceEntry{Kind: KindImprovement, Time: now, Value: &v, Accepted: accepted}); err != nil {
		slog.Warn("Failed to trace improvement", "path", tw.path, "error", err)
	}
}

// ObserveTick implements stall.Observer
func (tw *TraceWriter) ObserveTick(now float64, reason stall.Reason) {
	if err := tw.Write(TraceEntry{Kind: KindTick, Time: now, Reason: reason}); err != nil {
		slog.Warn("Failed to trace tick", "path", tw.path, "error", err)
	}
}

// Flush writes any buffered data to the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}

	return nil
}

// Close flushes buffered data and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}

	return nil
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace of the given run.
func NewTraceReader(baseDir, runID string) (*TraceReader, error) {
	path := filepath.Join(runDir(baseDir, runID), "trace.jsonl")

	reader, err := OpenTrace(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	}
	return reader, err
}

// OpenTrace opens a trace file by path.
func OpenTrace(path string) (*TraceReader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TraceReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// Read reads the next trace entry from the file.
// Returns io.EOF when no more entries are available.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}

	return &entry, nil
}

// ReadAll reads all remaining trace entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry

	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, nil
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

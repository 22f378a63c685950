package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Log file names inside the run's output directory.
const (
	TextLogFilename  = "simulation_log.txt"
	SnapshotFilename = "simulation_log.json"
)

// Log is the append-only event record for one simulation run. Each
// recorded event is kept in memory, folded into the running statistics,
// and written as one human-readable line to the text log. The structured
// snapshot ({statistics, events}) is written at finalize time.
//
// A single mutex serializes all mutation so the log stays correct even if
// a future caller records from more than one goroutine.
type Log struct {
	mu        sync.Mutex
	dir       string
	events    []Event
	stats     *Statistics
	file      *os.File
	writer    *bufio.Writer
	finalized bool
}

// NewLog creates the output directory if needed and opens a fresh text
// log for this run. The snapshot from a previous run against the same
// directory is overwritten at finalize time.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, TextLogFilename)
	file, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open text log: %w", err)
	}

	return &Log{
		dir:    dir,
		stats:  NewStatistics(),
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Record appends an event, updates the running statistics, and writes a
// line to the text log. Recording after Finalize is a programming error.
func (l *Log) Record(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return fmt.Errorf("event log already finalized: cannot record %s", e.Type)
	}

	l.events = append(l.events, e)
	l.stats.Apply(e)

	line := fmt.Sprintf("[%s] %s: %s\n", e.Timestamp.Format("2006-01-02T15:04:05.000"), e.Type, e.Description)
	if _, err := l.writer.WriteString(line); err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}
	if len(e.Data) > 0 {
		data, err := json.MarshalIndent(e.Data, "  ", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		if _, err := fmt.Fprintf(l.writer, "  Data: %s\n", data); err != nil {
			return fmt.Errorf("failed to write event data: %w", err)
		}
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush text log: %w", err)
	}
	return nil
}

// Events returns a copy of the recorded event sequence.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Stats returns a deep copy of the running statistics.
func (l *Log) Stats() *Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.Clone()
}

// Snapshot is the structured output written at finalize time.
type Snapshot struct {
	Statistics *Statistics `json:"statistics"`
	Events     []Event     `json:"events"`
}

// Finalize seals the run: computes derived rates and aggregates, appends
// the statistics summary to the text log, closes it, and writes the JSON
// snapshot. Finalize is idempotent; only the first call writes.
func (l *Log) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finalized {
		return nil
	}
	l.finalized = true

	l.stats.Finish()

	summary, err := json.MarshalIndent(l.stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	divider := "================================================================================\n"
	fmt.Fprintf(l.writer, "\n%sSIMULATION STATISTICS SUMMARY\n%s%s\n%s", divider, divider, summary, divider)
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush text log: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close text log: %w", err)
	}

	snapshot := Snapshot{Statistics: l.stats, Events: l.events}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	path := filepath.Join(l.dir, SnapshotFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Dir returns the output directory for this run.
func (l *Log) Dir() string {
	return l.dir
}

// ReadSnapshot reads a finalized snapshot from an output directory.
// Useful for post-run analysis and tests.
func ReadSnapshot(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, SnapshotFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}

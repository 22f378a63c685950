// Package gcp wraps the two Google Cloud services duetlab can use:
// Cloud Logging as an optional sink for run logs, and Secret Manager
// for credentials that should not live in config files.
package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"cloud.google.com/go/logging"
	"google.golang.org/api/option"
)

// Severity levels for structured logs
type Severity string

const (
	SeverityDefault Severity = "DEFAULT"
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// RunLogger defines the interface for simulation run logging
type RunLogger interface {
	Log(severity Severity, message string, fields map[string]interface{})
	LogInfo(message string)
	LogWarning(message string)
	LogError(message string)
	SetStep(step int)
	Close() error
}

// CloudLogger forwards run logs to GCP Cloud Logging.
type CloudLogger struct {
	client *logging.Client
	logger *logging.Logger
	runID  string

	mu     sync.Mutex
	step   int
	closed bool
}

// NewCloudLogger creates a logger that writes to Cloud Logging under
// the given log ID in the project.
func NewCloudLogger(ctx context.Context, projectID, logID, runID string, opts ...option.ClientOption) (*CloudLogger, error) {
	client, err := logging.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud logging client: %w", err)
	}
	return &CloudLogger{
		client: client,
		logger: client.Logger(logID, logging.CommonLabels(map[string]string{
			"run_id":    runID,
			"component": "duetlab-simulation",
		})),
		runID: runID,
	}, nil
}

// Log writes one structured entry
func (cl *CloudLogger) Log(severity Severity, message string, fields map[string]interface{}) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.closed {
		return
	}

	payload := map[string]interface{}{
		"message": SanitizeForLog(message),
		"run_id":  cl.runID,
		"step":    cl.step,
	}
	for k, v := range fields {
		payload[k] = v
	}

	cl.logger.Log(logging.Entry{
		Severity:  cloudSeverity(severity),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// LogInfo writes an INFO level log entry
func (cl *CloudLogger) LogInfo(message string) {
	cl.Log(SeverityInfo, message, nil)
}

// LogWarning writes a WARNING level log entry
func (cl *CloudLogger) LogWarning(message string) {
	cl.Log(SeverityWarning, message, nil)
}

// LogError writes an ERROR level log entry
func (cl *CloudLogger) LogError(message string) {
	cl.Log(SeverityError, message, nil)
}

// SetStep updates the simulation step attached to subsequent entries
func (cl *CloudLogger) SetStep(step int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.step = step
}

// Close flushes buffered entries and closes the client
func (cl *CloudLogger) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.closed {
		return nil
	}
	cl.closed = true
	return cl.client.Close()
}

func cloudSeverity(s Severity) logging.Severity {
	switch s {
	case SeverityDebug:
		return logging.Debug
	case SeverityInfo:
		return logging.Info
	case SeverityWarning:
		return logging.Warning
	case SeverityError:
		return logging.Error
	}
	return logging.Default
}

// logEntry is the JSON shape written by the fallback logger; it matches
// what the Cloud Logging agent expects on stdout.
type logEntry struct {
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	Step      int                    `json:"step"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// FallbackLogger writes structured JSON lines to a local writer when no
// cloud sink is configured.
type FallbackLogger struct {
	writer io.Writer
	runID  string

	mu   sync.Mutex
	step int
}

// NewFallbackLogger creates a logger that writes structured JSON to the
// given writer
func NewFallbackLogger(writer io.Writer, runID string) *FallbackLogger {
	return &FallbackLogger{writer: writer, runID: runID}
}

// Log writes one structured entry to the writer
func (fl *FallbackLogger) Log(severity Severity, message string, fields map[string]interface{}) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	entry := logEntry{
		Severity:  severity,
		Message:   SanitizeForLog(message),
		Timestamp: time.Now().UTC(),
		RunID:     fl.runID,
		Step:      fl.step,
		Fields:    fields,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(fl.writer, `{"severity":"ERROR","message":"failed to marshal log entry: %v"}`+"\n", err)
		return
	}
	fmt.Fprintf(fl.writer, "%s\n", data)
}

// LogInfo writes an INFO level log entry
func (fl *FallbackLogger) LogInfo(message string) {
	fl.Log(SeverityInfo, message, nil)
}

// LogWarning writes a WARNING level log entry
func (fl *FallbackLogger) LogWarning(message string) {
	fl.Log(SeverityWarning, message, nil)
}

// LogError writes an ERROR level log entry
func (fl *FallbackLogger) LogError(message string) {
	fl.Log(SeverityError, message, nil)
}

// SetStep updates the simulation step attached to subsequent entries
func (fl *FallbackLogger) SetStep(step int) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.step = step
}

// Close is a no-op for the fallback logger
func (fl *FallbackLogger) Close() error {
	return nil
}

// NewRunLogger returns a Cloud Logging sink when enabled, falling back
// to structured JSON on stdout otherwise.
func NewRunLogger(ctx context.Context, enabled bool, projectID, logID, runID string, opts ...option.ClientOption) (RunLogger, error) {
	if enabled {
		return NewCloudLogger(ctx, projectID, logID, runID, opts...)
	}
	return NewFallbackLogger(os.Stdout, runID), nil
}

var _ RunLogger = (*CloudLogger)(nil)
var _ RunLogger = (*FallbackLogger)(nil)

var (
	githubTokenPattern = regexp.MustCompile(`gh[pso]_[A-Za-z0-9_]+`)
	bearerPattern      = regexp.MustCompile(`Bearer\s+\S+`)
)

// SanitizeForLog redacts token-like strings before they reach a log
// line. Hosting API errors can echo the Authorization header back in
// their message, so tokens are matched anywhere in the string.
func SanitizeForLog(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	return githubTokenPattern.ReplaceAllString(s, "[REDACTED_GITHUB_TOKEN]")
}

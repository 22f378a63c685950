package gcp

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"cloud.google.com/go/logging"
)

func TestFallbackLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	fl := NewFallbackLogger(&buf, "run-123")
	fl.SetStep(4)
	fl.Log(SeverityInfo, "stage completed", map[string]interface{}{"stage": "hypothesis"})

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Severity != SeverityInfo {
		t.Errorf("expected INFO severity, got %s", entry.Severity)
	}
	if entry.Message != "stage completed" {
		t.Errorf("unexpected message %q", entry.Message)
	}
	if entry.RunID != "run-123" || entry.Step != 4 {
		t.Errorf("unexpected run metadata: run_id=%q step=%d", entry.RunID, entry.Step)
	}
	if entry.Fields["stage"] != "hypothesis" {
		t.Errorf("expected stage field, got %v", entry.Fields)
	}
}

func TestFallbackLoggerRedactsTokens(t *testing.T) {
	var buf bytes.Buffer
	fl := NewFallbackLogger(&buf, "run-1")
	fl.LogError("GITHUB_ERROR: request failed with token ghp_secret123")

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if strings.Contains(entry.Message, "ghp_secret123") {
		t.Errorf("message leaked the token: %q", entry.Message)
	}
	if !strings.Contains(entry.Message, "[REDACTED_GITHUB_TOKEN]") {
		t.Errorf("expected redaction marker in message, got %q", entry.Message)
	}
}

func TestFallbackLoggerSeverityHelpers(t *testing.T) {
	tests := []struct {
		name string
		log  func(RunLogger)
		want Severity
	}{
		{name: "info", log: func(l RunLogger) { l.LogInfo("m") }, want: SeverityInfo},
		{name: "warning", log: func(l RunLogger) { l.LogWarning("m") }, want: SeverityWarning},
		{name: "error", log: func(l RunLogger) { l.LogError("m") }, want: SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			fl := NewFallbackLogger(&buf, "run-1")
			tt.log(fl)

			var entry logEntry
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("output is not valid JSON: %v", err)
			}
			if entry.Severity != tt.want {
				t.Errorf("expected severity %s, got %s", tt.want, entry.Severity)
			}
		})
	}
}

func TestFallbackLoggerOneLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	fl := NewFallbackLogger(&buf, "run-1")
	fl.LogInfo("first")
	fl.LogInfo("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line is not valid JSON: %q", line)
		}
	}
}

func TestCloudSeverityMapping(t *testing.T) {
	tests := []struct {
		in   Severity
		want logging.Severity
	}{
		{in: SeverityDebug, want: logging.Debug},
		{in: SeverityInfo, want: logging.Info},
		{in: SeverityWarning, want: logging.Warning},
		{in: SeverityError, want: logging.Error},
		{in: SeverityDefault, want: logging.Default},
		{in: Severity("UNKNOWN"), want: logging.Default},
	}
	for _, tt := range tests {
		if got := cloudSeverity(tt.in); got != tt.want {
			t.Errorf("cloudSeverity(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "github pat", input: "ghp_abc123", want: "[REDACTED_GITHUB_TOKEN]"},
		{name: "github installation token", input: "ghs_abc123", want: "[REDACTED_GITHUB_TOKEN]"},
		{name: "bearer token", input: "Bearer secret", want: "Bearer [REDACTED]"},
		{
			name:  "token embedded in api error",
			input: `failed to create branch: 401 {"message":"Bad credentials ghs_abc123"}`,
			want:  `failed to create branch: 401 {"message":"Bad credentials [REDACTED_GITHUB_TOKEN]"}`,
		},
		{name: "plain text", input: "simulation started", want: "simulation started"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.input); got != tt.want {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

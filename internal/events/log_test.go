package events

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLog_RecordAndFinalize(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLog(dir)
	if err != nil {
		t.Fatalf("NewLog failed: %v", err)
	}

	if err := l.Record(New(EventSimulationStart, "run started", nil)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Record(New(EventSubmissionCreated, "A created PR #1", map[string]any{
		KeyScientist: "A",
	})); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Record(New(EventReview, "B approved PR #1", map[string]any{
		KeyAuthor:     "A",
		KeyReviewer:   "B",
		KeyReviewType: VerdictApprove,
	})); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := l.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	// Text log contains the event lines and the statistics summary.
	text, err := os.ReadFile(filepath.Join(dir, TextLogFilename))
	if err != nil {
		t.Fatalf("failed to read text log: %v", err)
	}
	for _, want := range []string{"PR_CREATED", "PR_REVIEW", "SIMULATION STATISTICS SUMMARY"} {
		if !strings.Contains(string(text), want) {
			t.Errorf("text log missing %q", want)
		}
	}

	// Snapshot round-trips with the same counters.
	snap, err := ReadSnapshot(dir)
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(snap.Events) != 3 {
		t.Errorf("snapshot events = %d, want 3", len(snap.Events))
	}
	if snap.Statistics.TotalSubmissions != 1 {
		t.Errorf("snapshot total submissions = %d, want 1", snap.Statistics.TotalSubmissions)
	}
	if snap.Statistics.ApprovalRate == nil || *snap.Statistics.ApprovalRate != 1.0 {
		t.Errorf("snapshot approval rate = %v, want 1.0", snap.Statistics.ApprovalRate)
	}

	// Recomputing from the persisted events matches the persisted stats.
	recomputed := Recompute(snap.Events)
	if recomputed.TotalSubmissions != snap.Statistics.TotalSubmissions {
		t.Errorf("recomputed total = %d, want %d", recomputed.TotalSubmissions, snap.Statistics.TotalSubmissions)
	}
	if recomputed.ApprovedSubmissions != snap.Statistics.ApprovedSubmissions {
		t.Errorf("recomputed approved = %d, want %d", recomputed.ApprovedSubmissions, snap.Statistics.ApprovedSubmissions)
	}
}

func TestLog_RecordAfterFinalize(t *testing.T) {
	l, err := NewLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewLog failed: %v", err)
	}
	if err := l.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := l.Record(New(EventStep, "late", nil)); err == nil {
		t.Error("expected error recording after finalize")
	}
}

func TestLog_FreshLogPerRun(t *testing.T) {
	dir := t.TempDir()

	first, err := NewLog(dir)
	if err != nil {
		t.Fatalf("NewLog failed: %v", err)
	}
	if err := first.Record(New(EventStep, "first run line", nil)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := first.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	second, err := NewLog(dir)
	if err != nil {
		t.Fatalf("NewLog failed: %v", err)
	}
	if err := second.Record(New(EventStep, "second run line", nil)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := second.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	text, err := os.ReadFile(filepath.Join(dir, TextLogFilename))
	if err != nil {
		t.Fatalf("failed to read text log: %v", err)
	}
	if strings.Contains(string(text), "first run line") {
		t.Error("text log should be truncated between runs")
	}
	if !strings.Contains(string(text), "second run line") {
		t.Error("text log missing second run's line")
	}
}

func TestLog_EventsReturnsCopy(t *testing.T) {
	l, err := NewLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewLog failed: %v", err)
	}
	if err := l.Record(New(EventStep, "step", nil)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	evs := l.Events()
	evs[0].Description = "mutated"

	if l.Events()[0].Description != "step" {
		t.Error("Events() should return a copy, not the backing slice")
	}
}

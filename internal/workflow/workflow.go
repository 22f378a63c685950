// Package workflow owns the per-scientist stage pointer for the fixed
// six-stage research pipeline. The pointer is monotone non-decreasing:
// a stage is only left behind through an approval, and a rejection pins
// the scientist to the same stage for another attempt.
package workflow

import (
	"errors"
	"fmt"
)

// Stage is one step of the research pipeline.
type Stage string

const (
	StageThemeDecision            Stage = "theme_decision"
	StageHypothesis               Stage = "hypothesis"
	StageExperimentPlan           Stage = "experiment_plan"
	StageExperimentImplementation Stage = "experiment_implementation"
	StageResultsInterpretation    Stage = "results_interpretation"
	StagePaperWriting             Stage = "paper_writing"
)

// Stages is the fixed pipeline order.
var Stages = []Stage{
	StageThemeDecision,
	StageHypothesis,
	StageExperimentPlan,
	StageExperimentImplementation,
	StageResultsInterpretation,
	StagePaperWriting,
}

// OutputPath returns the repository path a stage's artifact is committed
// to for the given scientist.
func (s Stage) OutputPath(scientistID string) string {
	switch s {
	case StageThemeDecision:
		return fmt.Sprintf("discussions/theme_%s.md", scientistID)
	case StageHypothesis:
		return fmt.Sprintf("hypotheses/hypothesis_%s.md", scientistID)
	case StageExperimentPlan:
		return fmt.Sprintf("experiments/plan_%s.md", scientistID)
	case StageExperimentImplementation:
		return fmt.Sprintf("experiments/code_%s.py", scientistID)
	case StageResultsInterpretation:
		return fmt.Sprintf("experiments/results_%s.md", scientistID)
	case StagePaperWriting:
		return fmt.Sprintf("papers/draft_%s.md", scientistID)
	}
	return fmt.Sprintf("output_%s_%s.md", scientistID, s)
}

// ErrAdvanceWithoutApproval is returned when an advance is attempted
// for a stage that is not the workflow's current stage, or after the
// pipeline is exhausted. It signals a programming fault in the caller,
// never a recoverable condition.
var ErrAdvanceWithoutApproval = errors.New("stage advance without approval for the current stage")

// Workflow tracks one scientist's progress through the pipeline.
type Workflow struct {
	scientistID string
	index       int
	retries     int
}

// New creates a workflow positioned at the first stage.
func New(scientistID string) *Workflow {
	return &Workflow{scientistID: scientistID}
}

// ScientistID returns the owning scientist's identity.
func (w *Workflow) ScientistID() string {
	return w.scientistID
}

// CurrentStage returns the stage the scientist must work on next.
// ok is false once the pipeline is exhausted.
func (w *Workflow) CurrentStage() (stage Stage, ok bool) {
	if w.index >= len(Stages) {
		return "", false
	}
	return Stages[w.index], true
}

// Done reports whether every stage has been approved.
func (w *Workflow) Done() bool {
	return w.index >= len(Stages)
}

// Advance moves to the next stage. The caller passes the stage the
// approval verdict was issued for; a mismatch with the current stage is
// a contract violation and leaves the pointer untouched.
func (w *Workflow) Advance(approved Stage) error {
	current, ok := w.CurrentStage()
	if !ok {
		return fmt.Errorf("%w: pipeline already complete for scientist %s", ErrAdvanceWithoutApproval, w.scientistID)
	}
	if approved != current {
		return fmt.Errorf("%w: approval for %q but current stage is %q", ErrAdvanceWithoutApproval, approved, current)
	}
	w.index++
	return nil
}

// RecordRetry counts a rejection. The stage pointer stays where it is:
// the next attempt produces a brand-new submission for the same stage.
func (w *Workflow) RecordRetry() int {
	w.retries++
	return w.retries
}

// Retries returns the total rejection count over the run.
func (w *Workflow) Retries() int {
	return w.retries
}

// Package sim orchestrates a research simulation run: repository
// bootstrap, theme decision, citizen evaluation, and the strict
// round-robin research loop in which each scientist's stage submission
// is reviewed by the other. All externally visible progress flows
// through the append-only event log.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/duetlab/duetlab/internal/citizen"
	"github.com/duetlab/duetlab/internal/cloud/gcp"
	"github.com/duetlab/duetlab/internal/events"
	"github.com/duetlab/duetlab/internal/gemini"
	"github.com/duetlab/duetlab/internal/github"
	"github.com/duetlab/duetlab/internal/registry"
	"github.com/duetlab/duetlab/internal/scientist"
	"github.com/duetlab/duetlab/internal/workflow"
)

// Host is the hosting collaborator surface the simulation drives. The
// real implementation is the GitHub client; tests substitute fakes.
type Host interface {
	CreateRepository(ctx context.Context, description string, private bool) error
	InitDirectoryStructure(ctx context.Context) error
	CreateBranch(ctx context.Context, name, from string) error
	CommitFile(ctx context.Context, path, content, message, branch string) error
	CreatePullRequest(ctx context.Context, title, body, head, base string) (int, error)
	CreateReview(ctx context.Context, number int, event, body string) error
	AddIssueComment(ctx context.Context, number int, body string) error
	MergePullRequest(ctx context.Context, number int) error
	GetPullRequestContent(ctx context.Context, number int) (*github.PullRequestContent, error)
}

// Crowd evaluates research themes with the citizen roster.
type Crowd interface {
	EvaluateTheme(ctx context.Context, scientistName, theme string) ([]citizen.Evaluation, error)
}

// Params collects everything a simulation run needs.
type Params struct {
	Topic      string
	MaxSteps   int
	BaseBranch string

	// RunID identifies the run; a fresh UUID is generated when empty.
	// Callers that wire a run logger pass the same id to both.
	RunID string

	ScientistA *scientist.Scientist
	ScientistB *scientist.Scientist

	// HostA is also the primary host used for repository-level
	// operations: creating the repository and merging approved pull
	// requests.
	HostA Host
	HostB Host

	Crowd  Crowd
	Log    *events.Log
	Logger gcp.RunLogger

	// Usage is optional; when set, the run's model usage is summarized
	// into the event log at finalization.
	Usage *gemini.Usage
}

// participant couples one scientist with their workflow pointer, their
// hosting identity, and the reviewer feedback pending for their next
// stage attempt.
type participant struct {
	sci      *scientist.Scientist
	wf       *workflow.Workflow
	host     Host
	feedback string
}

// Simulation is one single-threaded run of the two-scientist pipeline.
type Simulation struct {
	runID      string
	topic      string
	maxSteps   int
	baseBranch string

	a *participant
	b *participant

	crowd    Crowd
	log      *events.Log
	registry *registry.Registry
	logger   gcp.RunLogger
	usage    *gemini.Usage

	step      int
	completed bool
}

// New validates the parameters and assembles a simulation.
func New(p Params) (*Simulation, error) {
	if p.Topic == "" {
		return nil, errors.New("research topic is required")
	}
	if p.MaxSteps <= 0 {
		return nil, fmt.Errorf("max steps must be positive, got %d", p.MaxSteps)
	}
	if p.ScientistA == nil || p.ScientistB == nil {
		return nil, errors.New("both scientists are required")
	}
	if p.HostA == nil || p.HostB == nil {
		return nil, errors.New("both hosts are required")
	}
	if p.Crowd == nil {
		return nil, errors.New("citizen crowd is required")
	}
	if p.Log == nil {
		return nil, errors.New("event log is required")
	}
	if p.BaseBranch == "" {
		p.BaseBranch = "main"
	}
	if p.Logger == nil {
		p.Logger = gcp.NewFallbackLogger(discardWriter{}, "")
	}
	if p.RunID == "" {
		p.RunID = uuid.NewString()
	}

	return &Simulation{
		runID:      p.RunID,
		topic:      p.Topic,
		maxSteps:   p.MaxSteps,
		baseBranch: p.BaseBranch,
		a:          &participant{sci: p.ScientistA, wf: workflow.New(p.ScientistA.ID()), host: p.HostA},
		b:          &participant{sci: p.ScientistB, wf: workflow.New(p.ScientistB.ID()), host: p.HostB},
		crowd:      p.Crowd,
		log:        p.Log,
		registry:   registry.New(p.Log),
		logger:     p.Logger,
		usage:      p.Usage,
	}, nil
}

// RunID returns the unique identifier of this run.
func (s *Simulation) RunID() string { return s.runID }

// Completed reports whether both scientists finished all stages.
func (s *Simulation) Completed() bool { return s.completed }

// Step returns the number of ticks executed so far.
func (s *Simulation) Step() int { return s.step }

// Registry exposes the submission registry for inspection.
func (s *Simulation) Registry() *registry.Registry { return s.registry }

// Run executes the full simulation. The event log is finalized on every
// exit path, so statistics and the snapshot survive failures.
func (s *Simulation) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.recordError("SIMULATION_ERROR", err)
		}
		if finErr := s.finalize(); finErr != nil && err == nil {
			err = finErr
		}
	}()

	if s.usage != nil {
		s.usage.Reset()
	}

	if err = s.initialize(ctx); err != nil {
		return err
	}
	if err = s.themePhase(ctx); err != nil {
		return err
	}
	if err = s.citizenPhase(ctx); err != nil {
		return err
	}

	for s.step < s.maxSteps && !s.completed {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.step++
		s.logger.SetStep(s.step)

		if err = s.log.Record(events.New(
			events.EventStep,
			fmt.Sprintf("Step %d: Scientist A at %s, Scientist B at %s", s.step, stageLabel(s.a.wf), stageLabel(s.b.wf)),
			map[string]any{events.KeyStep: s.step},
		)); err != nil {
			return err
		}

		if err = s.turn(ctx, s.a, s.b); err != nil {
			return err
		}
		if err = s.turn(ctx, s.b, s.a); err != nil {
			return err
		}

		if s.a.wf.Done() && s.b.wf.Done() {
			s.completed = true
			s.logger.LogInfo("both scientists completed all stages")
		}
	}

	return nil
}

func stageLabel(w *workflow.Workflow) string {
	stage, ok := w.CurrentStage()
	if !ok {
		return "done"
	}
	return string(stage)
}

// recordError appends an ERROR event; a log that already refuses writes
// is ignored because we are on the way out anyway.
func (s *Simulation) recordError(kind string, cause error) {
	_ = s.log.Record(events.New(
		events.EventError,
		fmt.Sprintf("%s: %v", kind, cause),
		map[string]any{"error_type": kind, "error": cause.Error()},
	))
	s.logger.LogError(fmt.Sprintf("%s: %v", kind, cause))
}

func (s *Simulation) recordHostOperation(operation string, data map[string]any) error {
	payload := map[string]any{"operation": operation}
	for k, v := range data {
		payload[k] = v
	}
	return s.log.Record(events.New(
		events.EventHostOperation,
		"GitHub operation: "+operation,
		payload,
	))
}

// branchName builds a unique branch for one stage attempt. The uuid
// fragment keeps retries of the same stage within one second apart.
func (s *Simulation) branchName(scientistID string, stage workflow.Stage) string {
	return fmt.Sprintf("%s-%s-%s", strings.ToLower(scientistID), stage, uuid.NewString()[:8])
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

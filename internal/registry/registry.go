// Package registry tracks every submission (pull request analog) a
// scientist produces and the single review each one receives. The
// registry's view of approval and rejection is authoritative for driving
// stage transitions: a hosting-side failure never changes what the
// registry recorded.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/duetlab/duetlab/internal/events"
	"github.com/duetlab/duetlab/internal/workflow"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPendingReview    Status = "pending_review"
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusCommented        Status = "commented"
	StatusMerged           Status = "merged"
)

// Verdict is a reviewer's decision on a submission.
type Verdict string

const (
	VerdictApprove        Verdict = "APPROVE"
	VerdictRequestChanges Verdict = "REQUEST_CHANGES"
	VerdictComment        Verdict = "COMMENT"
)

// Blocks reports whether the verdict forces the author to redo the
// stage. Informational comments block advancement just like change
// requests in this protocol; the registry still records them as a
// distinct status so the two can be told apart downstream.
func (v Verdict) Blocks() bool {
	return v != VerdictApprove
}

// Review is the peer's verdict plus free-text comment and reasoning.
// Exactly one review exists per submission.
type Review struct {
	Reviewer  string
	Verdict   Verdict
	Comment   string
	Reasoning string
}

// Submission is one unit of reviewable stage work. Content is immutable
// after creation; only Status transitions afterward.
type Submission struct {
	ID        int
	Scientist string
	Stage     workflow.Stage
	Content   string
	Path      string
	Branch    string
	Status    Status
	Review    *Review
	RemoteID  int
	CreatedAt time.Time
}

// Contract violation sentinels. These indicate programming faults in the
// caller, not recoverable runtime conditions.
var (
	ErrUnknownSubmission = errors.New("unknown submission id")
	ErrDuplicateReview   = errors.New("submission already reviewed")
	ErrInvalidVerdict    = errors.New("invalid review verdict")
	ErrNotApproved       = errors.New("submission is not approved")
	ErrAlreadyMerged     = errors.New("submission already merged")
)

// Recorder receives the registry's audit events.
type Recorder interface {
	Record(events.Event) error
}

// Registry allocates submission ids and enforces the one-review-per-
// submission protocol. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*Submission
	order  []int
	log    Recorder
}

// New creates an empty registry emitting audit events to log.
func New(log Recorder) *Registry {
	return &Registry{
		nextID: 1,
		subs:   make(map[int]*Submission),
		log:    log,
	}
}

// Create registers a new pending submission with a fresh id. Ids are
// monotonically increasing and never reused, even for retries of the
// same stage.
func (r *Registry) Create(scientistID string, stage workflow.Stage, content, path, branch string) (*Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Submission{
		ID:        r.nextID,
		Scientist: scientistID,
		Stage:     stage,
		Content:   content,
		Path:      path,
		Branch:    branch,
		Status:    StatusPendingReview,
		CreatedAt: time.Now(),
	}
	r.nextID++
	r.subs[sub.ID] = sub
	r.order = append(r.order, sub.ID)

	if err := r.log.Record(events.New(
		events.EventSubmissionCreated,
		fmt.Sprintf("Scientist %s created submission #%d for %s", scientistID, sub.ID, stage),
		map[string]any{
			events.KeyScientist:  scientistID,
			events.KeyStage:      string(stage),
			events.KeySubmission: sub.ID,
			"path":               path,
			"branch":             branch,
		},
	)); err != nil {
		return nil, fmt.Errorf("failed to record submission event: %w", err)
	}

	return sub, nil
}

// RecordReview applies the single allowed review to a submission and
// returns the resulting status. A second review for the same id is a
// contract violation and leaves the submission untouched.
func (r *Registry) RecordReview(id int, rev Review) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownSubmission, id)
	}
	if sub.Review != nil {
		return "", fmt.Errorf("%w: submission #%d already has a %s review", ErrDuplicateReview, id, sub.Review.Verdict)
	}

	var status Status
	switch rev.Verdict {
	case VerdictApprove:
		status = StatusApproved
	case VerdictRequestChanges:
		status = StatusChangesRequested
	case VerdictComment:
		status = StatusCommented
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVerdict, rev.Verdict)
	}

	review := rev
	sub.Review = &review
	sub.Status = status

	if err := r.log.Record(events.New(
		events.EventReview,
		fmt.Sprintf("Scientist %s reviewed submission #%d from Scientist %s: %s", rev.Reviewer, id, sub.Scientist, rev.Verdict),
		map[string]any{
			events.KeyReviewer:   rev.Reviewer,
			events.KeyAuthor:     sub.Scientist,
			events.KeySubmission: id,
			events.KeyStage:      string(sub.Stage),
			events.KeyReviewType: string(rev.Verdict),
			"comment":            rev.Comment,
			"reasoning":          rev.Reasoning,
		},
	)); err != nil {
		return "", fmt.Errorf("failed to record review event: %w", err)
	}

	return status, nil
}

// FinalizeMerge transitions an approved submission to its terminal
// merged state. Merging anything but an approved submission, or merging
// twice, is a contract violation.
func (r *Registry) FinalizeMerge(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubmission, id)
	}
	switch sub.Status {
	case StatusMerged:
		return fmt.Errorf("%w: submission #%d", ErrAlreadyMerged, id)
	case StatusApproved:
	default:
		return fmt.Errorf("%w: submission #%d is %s", ErrNotApproved, id, sub.Status)
	}

	sub.Status = StatusMerged

	if err := r.log.Record(events.New(
		events.EventMerge,
		fmt.Sprintf("Submission #%d from Scientist %s was merged", id, sub.Scientist),
		map[string]any{
			events.KeyScientist:  sub.Scientist,
			events.KeySubmission: id,
			events.KeyStage:      string(sub.Stage),
		},
	)); err != nil {
		return fmt.Errorf("failed to record merge event: %w", err)
	}

	return nil
}

// AttachRemote records the hosting collaborator's pull request number
// for a submission. Purely informational; registry state drives the
// simulation regardless of the remote side.
func (r *Registry) AttachRemote(id, remoteID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubmission, id)
	}
	sub.RemoteID = remoteID
	return nil
}

// Get returns a copy of the submission with the given id.
func (r *Registry) Get(id int) (Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return Submission{}, fmt.Errorf("%w: %d", ErrUnknownSubmission, id)
	}
	return *sub, nil
}

// All returns copies of every submission in creation order, rejected
// ones included, for audit.
func (r *Registry) All() []Submission {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Submission, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.subs[id])
	}
	return out
}

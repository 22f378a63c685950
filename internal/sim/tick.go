package sim

import (
	"context"
	"fmt"

	"github.com/duetlab/duetlab/internal/events"
	"github.com/duetlab/duetlab/internal/registry"
	"github.com/duetlab/duetlab/internal/scientist"
	"github.com/duetlab/duetlab/internal/workflow"
)

// turn runs one scientist's move within a tick: produce the current
// stage artifact, submit it, have the peer review it, and route the
// verdict. A scientist who has finished all stages is skipped. An
// exhausted generation call or a failed hosting persist abandons the
// move with an ERROR event; the next tick produces a fresh submission
// for the same stage. Only cancellation and log failures abort the run.
func (s *Simulation) turn(ctx context.Context, actor, reviewer *participant) error {
	stage, ok := actor.wf.CurrentStage()
	if !ok {
		return nil
	}
	id := actor.sci.ID()

	if err := s.log.Record(events.New(
		events.EventStageStart,
		fmt.Sprintf("Scientist %s started %s", id, stage),
		map[string]any{
			events.KeyScientist:   id,
			events.KeyStage:       string(stage),
			events.KeyStageNumber: stageNumber(stage),
		},
	)); err != nil {
		return err
	}

	output, err := actor.sci.CreateStageOutput(ctx, stage, actor.feedback)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.recordError("GENERATION_ERROR", fmt.Errorf("failed to create %s output for Scientist %s: %w", stage, id, err))
		return nil
	}

	if err := s.log.Record(events.New(
		events.EventStageCompletion,
		fmt.Sprintf("Scientist %s completed %s output", id, stage),
		map[string]any{
			events.KeyScientist: id,
			events.KeyStage:     string(stage),
			"output_length":     len(output),
		},
	)); err != nil {
		return err
	}

	sub, persisted, err := s.submit(ctx, actor, stage, output)
	if err != nil {
		return err
	}
	if !persisted {
		return nil
	}

	result, err := s.review(ctx, reviewer, sub)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.recordError("GENERATION_ERROR", fmt.Errorf("failed to review PR #%d: %w", sub.ID, err))
		return nil
	}

	if _, err := s.registry.RecordReview(sub.ID, registry.Review{
		Reviewer:  reviewer.sci.ID(),
		Verdict:   result.Verdict,
		Comment:   result.Comment,
		Reasoning: result.Reasoning,
	}); err != nil {
		return err
	}
	if err := s.postReview(ctx, reviewer, sub, result); err != nil {
		return err
	}

	if result.Verdict.Blocks() {
		actor.sci.AddPRFeedback(scientist.PRFeedback{Number: sub.ID, Result: "REJECTED", Feedback: result.Comment})
		actor.feedback = result.Comment
		actor.wf.RecordRetry()
		return s.log.Record(events.New(
			events.EventStageRetry,
			fmt.Sprintf("Scientist %s must retry %s", id, stage),
			map[string]any{
				events.KeyScientist: id,
				events.KeyStage:     string(stage),
				"feedback":          truncate(result.Comment, 100),
			},
		))
	}

	if err := s.registry.FinalizeMerge(sub.ID); err != nil {
		return err
	}
	if sub.RemoteID != 0 {
		if err := s.a.host.MergePullRequest(ctx, sub.RemoteID); err != nil {
			s.recordError("GITHUB_ERROR", fmt.Errorf("failed to merge PR #%d: %w", sub.RemoteID, err))
		} else if err := s.recordHostOperation("merge_pull_request", map[string]any{events.KeySubmission: sub.ID}); err != nil {
			return err
		}
	}

	actor.sci.AddPRFeedback(scientist.PRFeedback{Number: sub.ID, Result: "APPROVED", Feedback: result.Comment})
	actor.sci.RecordStageOutput(stage, output)
	actor.feedback = ""
	return actor.wf.Advance(stage)
}

// submit registers the stage output and mirrors it to the hosting side:
// branch, commit, pull request. A hosting failure records an ERROR
// event and reports persisted=false, aborting the actor's tick; the
// registry entry is kept for audit.
func (s *Simulation) submit(ctx context.Context, actor *participant, stage workflow.Stage, output string) (sub registry.Submission, persisted bool, err error) {
	id := actor.sci.ID()
	path := stage.OutputPath(id)
	branch := s.branchName(id, stage)

	created, err := s.registry.Create(id, stage, output, path, branch)
	if err != nil {
		return registry.Submission{}, false, err
	}

	if err := actor.host.CreateBranch(ctx, branch, s.baseBranch); err != nil {
		s.recordError("GITHUB_ERROR", fmt.Errorf("failed to create branch %s: %w", branch, err))
		return *created, false, nil
	}
	if err := s.recordHostOperation("create_branch", map[string]any{"branch": branch}); err != nil {
		return registry.Submission{}, false, err
	}

	message := fmt.Sprintf("[Scientist %s] %s", id, stage)
	if err := actor.host.CommitFile(ctx, path, output, message, branch); err != nil {
		s.recordError("GITHUB_ERROR", fmt.Errorf("failed to commit %s: %w", path, err))
		return *created, false, nil
	}
	if err := s.recordHostOperation("commit_file", map[string]any{"file": path, "branch": branch}); err != nil {
		return registry.Submission{}, false, err
	}

	title := fmt.Sprintf("[Scientist %s] %s", id, stage)
	body := fmt.Sprintf("Scientist %s's work on %s\n\n%s", id, stage, truncate(output, 500))
	remote, err := actor.host.CreatePullRequest(ctx, title, body, branch, s.baseBranch)
	if err != nil {
		s.recordError("GITHUB_ERROR", fmt.Errorf("failed to create PR for %s: %w", branch, err))
		return *created, false, nil
	}
	if err := s.registry.AttachRemote(created.ID, remote); err != nil {
		return registry.Submission{}, false, err
	}
	created.RemoteID = remote
	if err := s.recordHostOperation("create_pull_request", map[string]any{events.KeySubmission: created.ID, "remote_number": remote}); err != nil {
		return registry.Submission{}, false, err
	}

	return *created, true, nil
}

// review builds the reviewable content and asks the peer for a verdict.
// When a remote pull request exists its content is fetched through the
// reviewer's hosting identity; otherwise the registry copy serves.
func (s *Simulation) review(ctx context.Context, reviewer *participant, sub registry.Submission) (scientist.ReviewResult, error) {
	pr := scientist.PullRequest{
		Number: sub.ID,
		Title:  fmt.Sprintf("[Scientist %s] %s", sub.Scientist, sub.Stage),
		Body:   fmt.Sprintf("Scientist %s's work on %s", sub.Scientist, sub.Stage),
		Files:  map[string]string{sub.Path: sub.Content},
	}
	if sub.RemoteID != 0 {
		remote, err := reviewer.host.GetPullRequestContent(ctx, sub.RemoteID)
		if err != nil {
			s.recordError("GITHUB_ERROR", fmt.Errorf("failed to fetch PR #%d content: %w", sub.RemoteID, err))
		} else {
			pr.Title = remote.Title
			pr.Body = remote.Body
			if len(remote.Files) > 0 {
				pr.Files = remote.Files
			}
		}
	}
	return reviewer.sci.ReviewSubmission(ctx, pr, sub.Scientist)
}

// postReview mirrors the verdict to the hosting side with the
// reviewer's identity. COMMENT verdicts become plain comments. Hosting
// failures degrade to ERROR events; the registry already holds the
// verdict at this point.
func (s *Simulation) postReview(ctx context.Context, reviewer *participant, sub registry.Submission, result scientist.ReviewResult) error {
	if sub.RemoteID == 0 {
		return nil
	}
	var err error
	switch result.Verdict {
	case registry.VerdictComment:
		err = reviewer.host.AddIssueComment(ctx, sub.RemoteID, result.Comment)
	default:
		err = reviewer.host.CreateReview(ctx, sub.RemoteID, string(result.Verdict), result.Comment)
	}
	if err != nil {
		s.recordError("GITHUB_ERROR", fmt.Errorf("failed to post review on PR #%d: %w", sub.RemoteID, err))
		return nil
	}
	return s.recordHostOperation("post_review", map[string]any{
		events.KeySubmission: sub.ID,
		events.KeyReviewType: string(result.Verdict),
		events.KeyReviewer:   reviewer.sci.ID(),
	})
}

func stageNumber(stage workflow.Stage) int {
	for i, st := range workflow.Stages {
		if st == stage {
			return i
		}
	}
	return -1
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

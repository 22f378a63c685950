package scientist

import (
	"fmt"
	"strings"

	"github.com/duetlab/duetlab/internal/workflow"
)

// stageContext assembles the prompt context for a stage: theme, citizen
// feedback, recent PR outcomes, recent reviews given, and the prior
// stage artifacts the stage is allowed to see. Later stages unlock
// progressively more of the scientist's own outputs.
func (s *Scientist) stageContext(stage workflow.Stage) string {
	var parts []string

	if s.theme != "" {
		parts = append(parts, "あなたの研究テーマ: "+s.theme)
	}

	if len(s.citizenFeedback) > 0 {
		parts = append(parts, "\n市民からのフィードバック:")
		for _, f := range s.citizenFeedback {
			parts = append(parts, fmt.Sprintf("  - %s: %s (支援額: %d円)", f.CitizenName, truncate(f.Comment, 100), f.Reward))
		}
	}

	if len(s.prFeedback) > 0 {
		parts = append(parts, "\nあなたのPRに対するレビュー履歴:")
		for _, pr := range lastN(s.prFeedback, 3) {
			parts = append(parts, fmt.Sprintf("  PR#%d: %s - %s", pr.Number, pr.Result, truncate(pr.Feedback, 100)))
		}
	}

	if len(s.reviewsGiven) > 0 {
		parts = append(parts, "\nあなたが与えたレビュー履歴:")
		for _, r := range lastN(s.reviewsGiven, 3) {
			parts = append(parts, fmt.Sprintf("  PR#%d: %s - %s", r.PRNumber, r.Verdict, truncate(r.Comment, 100)))
		}
	}

	for _, unlock := range stageUnlocks {
		if !unlock.visibleIn[stage] {
			continue
		}
		if content := s.outputs[unlock.stage]; content != "" {
			parts = append(parts, fmt.Sprintf("\n%s: %s", unlock.label, truncate(content, 200)))
		}
	}

	if len(parts) == 0 {
		return "（コンテキストなし）"
	}
	return strings.Join(parts, "\n")
}

// stageUnlocks maps each prior artifact to the stages allowed to read
// it: the hypothesis becomes visible from experiment planning on, the
// plan from implementation on, code and results from interpretation on,
// and the interpretation only for paper writing.
var stageUnlocks = []struct {
	stage     workflow.Stage
	label     string
	visibleIn map[workflow.Stage]bool
}{
	{
		stage: workflow.StageHypothesis,
		label: "あなたの仮説",
		visibleIn: stageSet(workflow.StageExperimentPlan, workflow.StageExperimentImplementation,
			workflow.StageResultsInterpretation, workflow.StagePaperWriting),
	},
	{
		stage: workflow.StageExperimentPlan,
		label: "あなたの実験計画",
		visibleIn: stageSet(workflow.StageExperimentImplementation,
			workflow.StageResultsInterpretation, workflow.StagePaperWriting),
	},
	{
		stage:     workflow.StageExperimentImplementation,
		label:     "あなたの実験コード",
		visibleIn: stageSet(workflow.StageResultsInterpretation, workflow.StagePaperWriting),
	},
	{
		stage:     workflow.StageResultsInterpretation,
		label:     "あなたの結果解釈",
		visibleIn: stageSet(workflow.StagePaperWriting),
	},
}

func stageSet(stages ...workflow.Stage) map[workflow.Stage]bool {
	set := make(map[workflow.Stage]bool, len(stages))
	for _, st := range stages {
		set[st] = true
	}
	return set
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

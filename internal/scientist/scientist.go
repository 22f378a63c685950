// Package scientist implements the two AI-researcher agents: deciding a
// research theme, producing stage artifacts, and reviewing the peer's
// pull requests. All prompting goes through a Generator so the agents
// stay testable without a live model.
package scientist

import (
	"context"
	"fmt"
	"strings"

	"github.com/duetlab/duetlab/internal/workflow"
)

const (
	themeTemperature  = 0.8
	outputTemperature = 0.7
	reviewTemperature = 0.6

	// maxHistoryLen bounds the rolling prompt history; the oldest entry
	// is dropped once the bound is reached.
	maxHistoryLen = 15
)

// Generator produces model text for a system and user prompt pair.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt string, temperature float64) (string, error)
}

// CitizenFeedback is one citizen evaluation fed back into the
// scientist's context.
type CitizenFeedback struct {
	CitizenName string
	Comment     string
	Reward      int
	Reasoning   string
}

// PRFeedback is the outcome of one of the scientist's own pull requests.
type PRFeedback struct {
	Number   int
	Result   string
	Feedback string
}

// GivenReview is one review this scientist gave the other.
type GivenReview struct {
	PRNumber int
	PRAuthor string
	PRTitle  string
	Verdict  string
	Comment  string
	Reason   string
}

type historyEntry struct {
	expiry *int
	text   string
}

// Scientist is one autonomous AI researcher.
type Scientist struct {
	id        string
	generator Generator

	theme   string
	outputs map[workflow.Stage]string

	citizenFeedback []CitizenFeedback
	prFeedback      []PRFeedback
	reviewsGiven    []GivenReview

	history []historyEntry
}

// New returns a scientist with the given identifier ("A" or "B").
func New(id string, generator Generator) *Scientist {
	return &Scientist{
		id:        id,
		generator: generator,
		outputs:   make(map[workflow.Stage]string),
	}
}

// ID returns the scientist's short identifier.
func (s *Scientist) ID() string { return s.id }

// Name returns the display name used in logs and prompts.
func (s *Scientist) Name() string { return "Scientist " + s.id }

// Theme returns the decided research theme, empty until DecideTheme.
func (s *Scientist) Theme() string { return s.theme }

func (s *Scientist) roleDescription() string {
	return fmt.Sprintf("AI研究分野の研究者%sです。", s.id)
}

// DecideTheme derives a specific research theme from the general topic.
// The model is asked for a THEME fenced block; when the fence is missing
// the full response is used as the theme.
func (s *Scientist) DecideTheme(ctx context.Context, generalTopic string) (string, error) {
	sysPrompt := fmt.Sprintf(`あなたは%s
AI研究の専門家として、与えられた大枠の研究テーマから、具体的で実行可能な研究テーマを決定してください。

要件:
1. 明確で具体的な研究課題
2. AI分野における新規性または改良点
3. 実験可能な範囲
4. 論文としてまとめられる内容

具体的な研究テーマを300-500文字で記述してください。`, s.roleDescription())

	prompt := fmt.Sprintf("大枠の研究テーマ: %s\n\nこのテーマに基づいて、あなた独自の具体的な研究テーマを決定してください。\n以下の形式で回答してください：\n\n```THEME\n[具体的な研究テーマの記述]\n```", generalTopic)

	response, err := s.generator.Generate(ctx, sysPrompt, prompt, themeTemperature)
	if err != nil {
		return "", fmt.Errorf("deciding research theme for %s: %w", s.Name(), err)
	}

	theme := extractFenced(response, "THEME")
	if theme == "" {
		theme = strings.TrimSpace(response)
	}
	s.theme = theme
	return theme, nil
}

// CreateStageOutput produces the artifact for a research stage. feedback
// carries reviewer comments when the stage is being retried; it is
// empty on the first attempt.
func (s *Scientist) CreateStageOutput(ctx context.Context, stage workflow.Stage, feedback string) (string, error) {
	sysPrompt := fmt.Sprintf("あなたは%s\n現在のステージ: %s\n\n%s", s.roleDescription(), stage, stagePrompt(stage))

	var b strings.Builder
	b.WriteString(s.stageContext(stage))
	if hist := s.historyText(); hist != "" {
		b.WriteString("\n\n履歴:\n")
		b.WriteString(hist)
	}
	if feedback != "" {
		b.WriteString("\n\nレビュアーからのフィードバック:\n")
		b.WriteString(feedback)
	}
	b.WriteString(fmt.Sprintf("\n\n上記のコンテキストに基づいて、%sの成果物を作成してください。\n成果物は詳細で具体的なものにしてください。", stage))

	response, err := s.generator.Generate(ctx, sysPrompt, b.String(), outputTemperature)
	if err != nil {
		return "", fmt.Errorf("creating %s output for %s: %w", stage, s.Name(), err)
	}

	s.remember(fmt.Sprintf("Stage: %s, Feedback: %s, Your response: %s", stage, truncate(feedback, 100), truncate(response, 200)), feedback)
	return response, nil
}

// RecordStageOutput stores an approved stage artifact so later stages
// can build on it.
func (s *Scientist) RecordStageOutput(stage workflow.Stage, content string) {
	s.outputs[stage] = content
	if stage == workflow.StageThemeDecision && s.theme == "" {
		s.theme = content
	}
}

// StageOutput returns the stored artifact for a stage, or empty.
func (s *Scientist) StageOutput(stage workflow.Stage) string {
	return s.outputs[stage]
}

// AddCitizenFeedback records one citizen evaluation of this scientist's
// theme.
func (s *Scientist) AddCitizenFeedback(f CitizenFeedback) {
	s.citizenFeedback = append(s.citizenFeedback, f)
}

// AddPRFeedback records the outcome of one of this scientist's pull
// requests.
func (s *Scientist) AddPRFeedback(f PRFeedback) {
	s.prFeedback = append(s.prFeedback, f)
}

// remember appends one history entry, honoring EXPIRATION markers in
// feedback and the rolling length bound. Entries with an expiry count
// down on every append and are dropped once it goes negative.
func (s *Scientist) remember(text, feedback string) {
	var expiry *int
	if strings.HasPrefix(feedback, "```EXPIRATION ") {
		var n int
		if _, err := fmt.Sscanf(feedback, "```EXPIRATION %d", &n); err == nil {
			expiry = &n
		}
	}
	s.history = append(s.history, historyEntry{expiry: expiry, text: text})

	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].expiry == nil {
			continue
		}
		*s.history[i].expiry--
		if *s.history[i].expiry < 0 {
			s.history = append(s.history[:i], s.history[i+1:]...)
		}
	}
	if len(s.history) >= maxHistoryLen {
		s.history = s.history[1:]
	}
}

func (s *Scientist) historyText() string {
	if len(s.history) == 0 {
		return ""
	}
	parts := make([]string, len(s.history))
	for i, h := range s.history {
		parts[i] = h.text
	}
	return strings.Join(parts, "\n")
}

func stagePrompt(stage workflow.Stage) string {
	switch stage {
	case workflow.StageThemeDecision:
		return "大枠の研究テーマから、具体的で実行可能な研究テーマを決定してください。"
	case workflow.StageHypothesis:
		return "研究テーマに基づいて、検証可能な仮説を提案してください。"
	case workflow.StageExperimentPlan:
		return "仮説を検証するための実験計画を立案してください。"
	case workflow.StageExperimentImplementation:
		return "実験計画に基づいて、実験を実装してください。"
	case workflow.StageResultsInterpretation:
		return "実験結果を解釈し、仮説との関係を考察してください。"
	case workflow.StagePaperWriting:
		return "研究全体をまとめた論文を執筆してください。"
	}
	return ""
}

// extractFenced pulls the body of a ```TAG fenced block out of a model
// response, returning empty when the fence is absent or unterminated.
func extractFenced(response, tag string) string {
	open := "```" + tag
	start := strings.Index(response, open)
	if start < 0 {
		return ""
	}
	rest := response[start+len(open):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// truncate shortens s to n runes; byte slicing would split multibyte
// Japanese text mid-character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

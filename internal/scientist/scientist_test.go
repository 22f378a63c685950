package scientist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/duetlab/duetlab/internal/workflow"
)

type fakeGenerator struct {
	response   string
	err        error
	lastSystem string
	lastPrompt string
	lastTemp   float64
	calls      int
}

func (f *fakeGenerator) Generate(_ context.Context, systemPrompt, prompt string, temp float64) (string, error) {
	f.calls++
	f.lastSystem = systemPrompt
	f.lastPrompt = prompt
	f.lastTemp = temp
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestDecideThemeExtractsFencedBlock(t *testing.T) {
	gen := &fakeGenerator{response: "考えました。\n```THEME\n深層学習を用いた感情認識システムの開発\n```\n以上です。"}
	s := New("A", gen)

	theme, err := s.DecideTheme(context.Background(), "AIと人間の協調")
	if err != nil {
		t.Fatalf("DecideTheme returned error: %v", err)
	}
	if theme != "深層学習を用いた感情認識システムの開発" {
		t.Errorf("unexpected theme %q", theme)
	}
	if s.Theme() != theme {
		t.Errorf("expected theme stored, got %q", s.Theme())
	}
	if gen.lastTemp != 0.8 {
		t.Errorf("expected theme temperature 0.8, got %v", gen.lastTemp)
	}
	if !strings.Contains(gen.lastPrompt, "AIと人間の協調") {
		t.Error("expected general topic in prompt")
	}
}

func TestDecideThemeFallsBackToRawResponse(t *testing.T) {
	gen := &fakeGenerator{response: "フェンスなしのテーマ記述です。"}
	s := New("B", gen)

	theme, err := s.DecideTheme(context.Background(), "トピック")
	if err != nil {
		t.Fatalf("DecideTheme returned error: %v", err)
	}
	if theme != "フェンスなしのテーマ記述です。" {
		t.Errorf("expected raw response as theme, got %q", theme)
	}
}

func TestDecideThemeGenerationError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	s := New("A", gen)
	if _, err := s.DecideTheme(context.Background(), "トピック"); err == nil {
		t.Error("expected error, got nil")
	}
	if s.Theme() != "" {
		t.Errorf("expected no theme stored on failure, got %q", s.Theme())
	}
}

func TestCreateStageOutputIncludesFeedbackOnRetry(t *testing.T) {
	gen := &fakeGenerator{response: "# 改訂版の仮説"}
	s := New("A", gen)
	s.RecordStageOutput(workflow.StageThemeDecision, "感情認識の研究")

	out, err := s.CreateStageOutput(context.Background(), workflow.StageHypothesis, "仮説の根拠が不足しています")
	if err != nil {
		t.Fatalf("CreateStageOutput returned error: %v", err)
	}
	if out != "# 改訂版の仮説" {
		t.Errorf("unexpected output %q", out)
	}
	if !strings.Contains(gen.lastPrompt, "仮説の根拠が不足しています") {
		t.Error("expected reviewer feedback in retry prompt")
	}
	if gen.lastTemp != 0.7 {
		t.Errorf("expected output temperature 0.7, got %v", gen.lastTemp)
	}
}

func TestStageContextProgressiveUnlock(t *testing.T) {
	s := New("A", &fakeGenerator{})
	s.theme = "感情認識の研究"
	s.RecordStageOutput(workflow.StageHypothesis, "仮説テキスト")
	s.RecordStageOutput(workflow.StageExperimentPlan, "計画テキスト")
	s.RecordStageOutput(workflow.StageExperimentImplementation, "コードテキスト")
	s.RecordStageOutput(workflow.StageResultsInterpretation, "解釈テキスト")

	tests := []struct {
		stage       workflow.Stage
		wantVisible []string
		wantHidden  []string
	}{
		{
			stage:      workflow.StageHypothesis,
			wantHidden: []string{"仮説テキスト", "計画テキスト", "コードテキスト", "解釈テキスト"},
		},
		{
			stage:       workflow.StageExperimentPlan,
			wantVisible: []string{"仮説テキスト"},
			wantHidden:  []string{"計画テキスト", "コードテキスト", "解釈テキスト"},
		},
		{
			stage:       workflow.StageExperimentImplementation,
			wantVisible: []string{"仮説テキスト", "計画テキスト"},
			wantHidden:  []string{"コードテキスト", "解釈テキスト"},
		},
		{
			stage:       workflow.StageResultsInterpretation,
			wantVisible: []string{"仮説テキスト", "計画テキスト", "コードテキスト"},
			wantHidden:  []string{"解釈テキスト"},
		},
		{
			stage:       workflow.StagePaperWriting,
			wantVisible: []string{"仮説テキスト", "計画テキスト", "コードテキスト", "解釈テキスト"},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			ctx := s.stageContext(tt.stage)
			for _, want := range tt.wantVisible {
				if !strings.Contains(ctx, want) {
					t.Errorf("expected %q visible in %s context", want, tt.stage)
				}
			}
			for _, hidden := range tt.wantHidden {
				if strings.Contains(ctx, hidden) {
					t.Errorf("expected %q hidden in %s context", hidden, tt.stage)
				}
			}
		})
	}
}

func TestStageContextRecentFeedbackWindows(t *testing.T) {
	s := New("A", &fakeGenerator{})
	for i := 1; i <= 5; i++ {
		s.AddPRFeedback(PRFeedback{Number: i, Result: "REJECTED", Feedback: fmt.Sprintf("feedback-%d", i)})
	}
	s.AddCitizenFeedback(CitizenFeedback{CitizenName: "田中健太", Comment: "応援します", Reward: 500})

	ctx := s.stageContext(workflow.StageHypothesis)
	if strings.Contains(ctx, "feedback-1") || strings.Contains(ctx, "feedback-2") {
		t.Error("expected only the last 3 PR feedback entries in context")
	}
	for i := 3; i <= 5; i++ {
		if !strings.Contains(ctx, fmt.Sprintf("feedback-%d", i)) {
			t.Errorf("expected feedback-%d in context", i)
		}
	}
	if !strings.Contains(ctx, "田中健太") || !strings.Contains(ctx, "500円") {
		t.Error("expected citizen feedback with reward in context")
	}
}

func TestStageContextEmpty(t *testing.T) {
	s := New("A", &fakeGenerator{})
	if got := s.stageContext(workflow.StageThemeDecision); got != "（コンテキストなし）" {
		t.Errorf("expected empty-context marker, got %q", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	gen := &fakeGenerator{response: "output"}
	s := New("A", gen)
	for i := 0; i < 30; i++ {
		if _, err := s.CreateStageOutput(context.Background(), workflow.StageHypothesis, ""); err != nil {
			t.Fatalf("CreateStageOutput returned error: %v", err)
		}
	}
	if len(s.history) >= maxHistoryLen {
		t.Errorf("expected history below %d entries, got %d", maxHistoryLen, len(s.history))
	}
}

func TestHistoryExpiration(t *testing.T) {
	gen := &fakeGenerator{response: "output"}
	s := New("A", gen)

	if _, err := s.CreateStageOutput(context.Background(), workflow.StageHypothesis, "```EXPIRATION 2\n一時的な指示"); err != nil {
		t.Fatalf("CreateStageOutput returned error: %v", err)
	}
	if len(s.history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(s.history))
	}

	// Two more appends age the expiring entry past zero; the third drops it.
	for i := 0; i < 3; i++ {
		if _, err := s.CreateStageOutput(context.Background(), workflow.StageHypothesis, ""); err != nil {
			t.Fatalf("CreateStageOutput returned error: %v", err)
		}
	}
	for _, h := range s.history {
		if strings.Contains(h.text, "一時的な指示") {
			t.Error("expected expiring entry to be dropped")
		}
	}
}

func TestTruncatePreservesRunes(t *testing.T) {
	got := truncate("あいうえおかきくけこ", 5)
	if got != "あいうえお..." {
		t.Errorf("expected rune-aware truncation, got %q", got)
	}
	if got := truncate("short", 100); got != "short" {
		t.Errorf("expected short string untouched, got %q", got)
	}
}

package scientist

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/duetlab/duetlab/internal/registry"
)

// PullRequest is the reviewable content handed to ReviewSubmission.
type PullRequest struct {
	Number int
	Title  string
	Body   string
	Files  map[string]string
}

// ReviewResult is the scientist's verdict on a peer pull request.
type ReviewResult struct {
	Verdict   registry.Verdict
	Comment   string
	Reasoning string
}

// ReviewSubmission reviews the other scientist's pull request. A model
// response that cannot be parsed as a verdict degrades to COMMENT with
// the raw response as the comment, so review never hard-fails on
// malformed output. Every review is recorded in the reviewer's history.
func (s *Scientist) ReviewSubmission(ctx context.Context, pr PullRequest, author string) (ReviewResult, error) {
	sysPrompt := fmt.Sprintf(`あなたは%s
研究者%sのPull Requestをレビューしています。

あなたの役割:
1. 提案された内容の科学的妥当性を評価
2. 実験計画の実行可能性を確認
3. 論理的な一貫性をチェック
4. 改善点があれば具体的に指摘

過去のレビュー履歴:
%s

これまでのレビュー経験を踏まえて、一貫性のある評価を行ってください。`, s.roleDescription(), author, s.reviewContext())

	prompt := fmt.Sprintf(`%s

このPRを評価してください。以下のJSON形式で回答してください：

{
  "review_type": "APPROVE" または "REQUEST_CHANGES" または "COMMENT",
  "comment": "レビューコメント（具体的なフィードバック）",
  "reasoning": "この判断をした理由"
}`, prSummary(pr))

	response, err := s.generator.Generate(ctx, sysPrompt, prompt, reviewTemperature)
	if err != nil {
		return ReviewResult{}, fmt.Errorf("reviewing PR #%d: %w", pr.Number, err)
	}

	result := parseReview(response)
	s.reviewsGiven = append(s.reviewsGiven, GivenReview{
		PRNumber: pr.Number,
		PRAuthor: author,
		PRTitle:  pr.Title,
		Verdict:  string(result.Verdict),
		Comment:  result.Comment,
		Reason:   result.Reasoning,
	})
	return result, nil
}

// ReviewsGiven returns a copy of the reviewer's full review history.
func (s *Scientist) ReviewsGiven() []GivenReview {
	out := make([]GivenReview, len(s.reviewsGiven))
	copy(out, s.reviewsGiven)
	return out
}

func prSummary(pr PullRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PR #%d: %s\n\n説明:\n%s\n\n変更されたファイル:\n", pr.Number, pr.Title, pr.Body)

	names := make([]string, 0, len(pr.Files))
	for name := range pr.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n=== %s ===\n%s\n", name, truncate(pr.Files[name], 1000))
	}
	return b.String()
}

// reviewContext renders the reviewer's last five reviews so verdicts
// stay consistent across a run.
func (s *Scientist) reviewContext() string {
	if len(s.reviewsGiven) == 0 {
		return "（まだレビュー履歴がありません）"
	}
	var b strings.Builder
	for i, r := range lastN(s.reviewsGiven, 5) {
		fmt.Fprintf(&b, "\nレビュー%d:\n", i+1)
		fmt.Fprintf(&b, "  PR: %s\n", r.PRTitle)
		fmt.Fprintf(&b, "  判定: %s\n", r.Verdict)
		fmt.Fprintf(&b, "  コメント: %s\n", truncate(r.Comment, 200))
	}
	return b.String()
}

var reviewJSONPattern = regexp.MustCompile(`(?s)\{[^{}]+\}`)

func parseReview(response string) ReviewResult {
	fallback := ReviewResult{
		Verdict:   registry.VerdictComment,
		Comment:   response,
		Reasoning: "JSONパースに失敗",
	}

	match := reviewJSONPattern.FindString(response)
	if match == "" {
		return fallback
	}
	var parsed struct {
		ReviewType string `json:"review_type"`
		Comment    string `json:"comment"`
		Reasoning  string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return fallback
	}

	verdict := registry.Verdict(strings.ToUpper(strings.TrimSpace(parsed.ReviewType)))
	switch verdict {
	case registry.VerdictApprove, registry.VerdictRequestChanges, registry.VerdictComment:
	default:
		verdict = registry.VerdictComment
	}
	comment := parsed.Comment
	if comment == "" {
		comment = response
	}
	return ReviewResult{Verdict: verdict, Comment: comment, Reasoning: parsed.Reasoning}
}

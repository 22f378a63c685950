// Package citizen implements the crowd of general-public evaluators who
// score each scientist's research theme with a comment, a monetary
// reward and a reasoning.
package citizen

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

const (
	// Reward bounds in yen. Responses outside this range are clamped.
	MinReward = 1
	MaxReward = 1000

	// DefaultReward is used when the model response cannot be parsed or
	// the generation fails outright.
	DefaultReward = 100

	evaluationTemperature = 0.8
)

// Generator produces model text for a system and user prompt pair.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, prompt string, temperature float64) (string, error)
}

// Evaluation is one citizen's verdict on one research theme.
type Evaluation struct {
	Citizen   Persona
	Scientist string
	Comment   string
	Reward    int
	Reasoning string
}

// Evaluator runs theme evaluations for the whole persona roster.
type Evaluator struct {
	personas  []Persona
	generator Generator
}

// NewEvaluator returns an evaluator over the embedded persona roster.
func NewEvaluator(generator Generator) (*Evaluator, error) {
	personas, err := LoadPersonas()
	if err != nil {
		return nil, err
	}
	return &Evaluator{personas: personas, generator: generator}, nil
}

// Personas returns the roster in evaluation order.
func (e *Evaluator) Personas() []Persona {
	out := make([]Persona, len(e.personas))
	copy(out, e.personas)
	return out
}

// EvaluateTheme asks every citizen to evaluate the scientist's theme and
// returns one evaluation per persona. A citizen whose response cannot be
// parsed or generated still produces an evaluation with the default
// reward, so a flaky model never sinks the whole phase.
func (e *Evaluator) EvaluateTheme(ctx context.Context, scientistName, theme string) ([]Evaluation, error) {
	evaluations := make([]Evaluation, 0, len(e.personas))
	for _, p := range e.personas {
		if err := ctx.Err(); err != nil {
			return evaluations, err
		}
		evaluations = append(evaluations, e.evaluateOne(ctx, p, scientistName, theme))
	}
	return evaluations, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, p Persona, scientistName, theme string) Evaluation {
	ev := Evaluation{Citizen: p, Scientist: scientistName}

	response, err := e.generator.Generate(ctx, systemPrompt(p, scientistName), userPrompt(p, scientistName, theme), evaluationTemperature)
	if err != nil {
		ev.Comment = fmt.Sprintf("評価中にエラーが発生しました: %v", err)
		ev.Reward = DefaultReward
		ev.Reasoning = "エラーのため標準額を設定"
		return ev
	}

	comment, reward, reasoning, ok := parseEvaluation(response)
	if !ok {
		ev.Comment = response
		ev.Reward = DefaultReward
		ev.Reasoning = "JSONパースに失敗しました"
		return ev
	}
	ev.Comment = comment
	ev.Reward = clampReward(reward)
	ev.Reasoning = reasoning
	return ev
}

var jsonBlockPattern = regexp.MustCompile(`(?s)\{[^{}]+\}`)

// parseEvaluation extracts the first JSON object from a model response
// that may wrap it in prose or a code fence.
func parseEvaluation(response string) (comment string, reward int, reasoning string, ok bool) {
	match := jsonBlockPattern.FindString(response)
	if match == "" {
		return "", 0, "", false
	}
	var parsed struct {
		Comment      string          `json:"comment"`
		RewardAmount json.RawMessage `json:"reward_amount"`
		Reasoning    string          `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return "", 0, "", false
	}
	reward = DefaultReward
	if len(parsed.RewardAmount) > 0 {
		var amount float64
		if err := json.Unmarshal(parsed.RewardAmount, &amount); err == nil {
			reward = int(amount)
		}
	}
	return parsed.Comment, reward, parsed.Reasoning, true
}

func clampReward(amount int) int {
	if amount < MinReward {
		return MinReward
	}
	if amount > MaxReward {
		return MaxReward
	}
	return amount
}

func systemPrompt(p Persona, scientistName string) string {
	return fmt.Sprintf(`あなたは%sです。
年齢: %d歳
職業: %s
性格・背景: %s
価値観: %s

あなたは研究者ではなく、一般市民です。
%sが提案した研究テーマについて、あなた自身の価値観と立場から評価してください。

評価のポイント：
1. この研究は理解できましたか？
2. この研究は興味深いですか？
3. この研究は社会に役立ちそうですか？
4. この研究を応援したいですか？

あなたの意見を自分の言葉で率直に表現し、この研究にいくら支援したいかを1円から1000円の範囲で決めてください。

回答は以下のJSON形式で返してください：
{
  "comment": "あなたの意見・感想・期待・懸念を自分の言葉で（200-400文字程度）",
  "reward_amount": 支援金額（1-1000の整数）,
  "reasoning": "この金額にした理由（100-200文字程度）"
}

あなたらしい自然な口調で書いてください。`, p.Name, p.Age, p.Occupation, p.Persona, p.Values, scientistName)
}

func userPrompt(p Persona, scientistName, theme string) string {
	return fmt.Sprintf(`【研究テーマ】
%sの研究テーマ:
%s

上記の研究テーマについて、あなた（%s、%d歳、%s）としての評価をJSON形式で返してください。`, scientistName, theme, p.Name, p.Age, p.Occupation)
}

package haystack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/BaSui01/haystack/llm"
)

// Evaluator grades a model response against the needle.
// Scores range 1 (unrelated) to 10 (perfect recall).
type Evaluator interface {
	Evaluate(ctx context.Context, response, needle, question string) (int, error)
}

// 评分标准沿用 1/3/5/7/10 分档。
const gradingCriteria = `Score 1: The answer is completely unrelated to the reference.
Score 3: The answer has minor relevance but does not align with the reference.
Score 5: The answer has moderate relevance but contains inaccuracies.
Score 7: The answer aligns with the reference but has minor omissions.
Score 10: The answer is completely accurate and aligns perfectly with the reference.
Only respond with a numerical score.`

// ModelEvaluator asks a judge model to grade the response.
type ModelEvaluator struct {
	chat  llm.Provider
	model string
}

// NewModelEvaluator creates a model-graded evaluator. model may be
// empty; the chat provider then applies its own default.
func NewModelEvaluator(chat llm.Provider, model string) *ModelEvaluator {
	return &ModelEvaluator{chat: chat, model: model}
}

func (e *ModelEvaluator) Evaluate(ctx context.Context, response, needle, question string) (int, error) {
	prompt := fmt.Sprintf(`You are grading a student answer against a reference.

[Question]: %s

[Reference]: %s

[Student Answer]: %s

%s`, question, needle, response, gradingCriteria)

	resp, err := e.chat.Completion(ctx, &llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens: 10,
	})
	if err != nil {
		return 0, fmt.Errorf("judge completion: %w", err)
	}

	score, err := parseScore(llm.FirstContent(resp))
	if err != nil {
		return 0, fmt.Errorf("judge %s: %w", e.chat.Name(), err)
	}
	return score, nil
}

// parseScore extracts the first integer from the judge reply.
func parseScore(reply string) (int, error) {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return 0, fmt.Errorf("no score in judge reply %q", reply)
	}
	score, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parse score from %q: %w", reply, err)
	}
	if score < 1 || score > 10 {
		return 0, fmt.Errorf("score %d out of range in reply %q", score, reply)
	}
	return score, nil
}

// SubstringEvaluator grades by case-insensitive containment of the
// needle's payload: 10 when found, 1 when not. 适合无裁判模型的冒烟跑。
type SubstringEvaluator struct{}

func (SubstringEvaluator) Evaluate(_ context.Context, response, needle, _ string) (int, error) {
	if strings.Contains(
		strings.ToLower(response),
		strings.ToLower(strings.TrimSpace(needle)),
	) {
		return 10, nil
	}
	return 1, nil
}

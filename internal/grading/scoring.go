package grading

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/SAP-F-2025/attempt-service/internal/models"
)

// QuestionSpec is what scoring needs to know about one question of an assessment
type QuestionSpec struct {
	QuestionID uint
	Position   int
	Kind       models.AnswerKind
	Points     float64
	Solution   json.RawMessage
	Options    []models.QuestionOption
}

// QuestionOutcome is the evaluation of one answer
type QuestionOutcome struct {
	QuestionID uint    `json:"question_id"`
	Position   int     `json:"position"`
	RawAnswer  *string `json:"raw_answer"`
	Answered   bool    `json:"answered"`
	Correct    bool    `json:"correct"`
	Points     float64 `json:"points"`
	MaxPoints  float64 `json:"max_points"`
}

// Summary is the per-attempt result
type Summary struct {
	Total        int     `json:"total"`
	Correct      int     `json:"correct"`
	Incorrect    int     `json:"incorrect"`
	Unanswered   int     `json:"unanswered"`
	Points       float64 `json:"points"`
	TotalPoints  float64 `json:"total_points"`
	Percentage   int     `json:"percentage"`
	TimeConsumed int     `json:"time_consumed"`
}

// QuestionKey is the key a question uses in the answer map of a progress snapshot
func QuestionKey(questionID uint) string {
	return strconv.FormatUint(uint64(questionID), 10)
}

// ParseQuestionKey is the inverse of QuestionKey
func ParseQuestionKey(key string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(key), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid question key %q", key)
	}
	return uint(id), nil
}

// IsBlank reports whether a raw answer counts as not answered
func IsBlank(raw *string) bool {
	return raw == nil || strings.TrimSpace(*raw) == ""
}

// ScoreQuestion evaluates one raw answer against the question solution.
// Full points on a correct answer, zero otherwise.
func ScoreQuestion(q QuestionSpec, raw *string) (QuestionOutcome, error) {
	outcome := QuestionOutcome{
		QuestionID: q.QuestionID,
		Position:   q.Position,
		MaxPoints:  q.Points,
	}
	if !IsBlank(raw) {
		value := *raw
		outcome.RawAnswer = &value
		outcome.Answered = true
	}

	answer, err := ParseAnswer(raw, q.Kind)
	if err != nil {
		return outcome, fmt.Errorf("question %d: %w", q.QuestionID, err)
	}
	solution, err := ParseSolution(q.Solution, q.Kind)
	if err != nil {
		return outcome, fmt.Errorf("question %d: %w", q.QuestionID, err)
	}

	if Equal(answer, solution) {
		outcome.Correct = true
		outcome.Points = q.Points
	}

	return outcome, nil
}

// ScoreAnswers evaluates every question in order against the answer map keyed by QuestionKey
func ScoreAnswers(questions []QuestionSpec, answers map[string]string) ([]QuestionOutcome, error) {
	outcomes := make([]QuestionOutcome, 0, len(questions))
	for _, q := range questions {
		var raw *string
		if v, ok := answers[QuestionKey(q.QuestionID)]; ok {
			raw = &v
		}

		outcome, err := ScoreQuestion(q, raw)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// Summarize folds question outcomes into an attempt summary
func Summarize(outcomes []QuestionOutcome, timeConsumed int) Summary {
	summary := Summary{
		Total:        len(outcomes),
		TimeConsumed: timeConsumed,
	}

	for _, o := range outcomes {
		summary.TotalPoints += o.MaxPoints
		switch {
		case !o.Answered:
			summary.Unanswered++
		case o.Correct:
			summary.Correct++
			summary.Points += o.Points
		default:
			summary.Incorrect++
		}
	}

	summary.Percentage = Percentage(summary.Points, summary.TotalPoints)
	return summary
}

// Percentage returns round(points / total * 100), or 0 when total is 0
func Percentage(points, total float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(points / total * 100))
}

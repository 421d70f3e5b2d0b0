package grading

import (
	"fmt"
	"math"
	"sort"

	"github.com/SAP-F-2025/attempt-service/internal/models"
)

// CohortAttempt is one scored attempt as seen by the aggregator
type CohortAttempt struct {
	AttemptID uint              `json:"attempt_id"`
	StudentID string            `json:"student_id"`
	Summary   Summary           `json:"summary"`
	Outcomes  []QuestionOutcome `json:"outcomes"`
}

// RankedAttempt is a leaderboard position
type RankedAttempt struct {
	AttemptID    uint    `json:"attempt_id"`
	StudentID    string  `json:"student_id"`
	Points       float64 `json:"points"`
	Percentage   int     `json:"percentage"`
	TimeConsumed int     `json:"time_consumed"`
	Rank         int     `json:"rank"`
	Percentile   int     `json:"percentile"`
}

// Comparison holds target-minus-cohort deltas. The cohort excludes the target's own student.
type Comparison struct {
	CohortSize      int     `json:"cohort_size"`
	AvgPoints       float64 `json:"avg_points"`
	AvgPercentage   float64 `json:"avg_percentage"`
	AvgTime         float64 `json:"avg_time"`
	DeltaPoints     float64 `json:"delta_points"`
	DeltaPercentage float64 `json:"delta_percentage"`
	DeltaTime       float64 `json:"delta_time"`
}

type OptionStat struct {
	Value      string `json:"value"`
	Label      string `json:"label,omitempty"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// QuestionStats describes how the cohort answered one question
type QuestionStats struct {
	QuestionID  uint              `json:"question_id"`
	Position    int               `json:"position"`
	Kind        models.AnswerKind `json:"kind"`
	Correct     int               `json:"correct"`
	Incorrect   int               `json:"incorrect"`
	Unanswered  int               `json:"unanswered"`
	Respondents int               `json:"respondents"`
	CorrectRate int               `json:"correct_rate"`
	Options     []OptionStat      `json:"options,omitempty"`
}

// rankedBefore orders by points desc, percentage desc, time asc. Attempt id keeps output stable.
func rankedBefore(a, b RankedAttempt) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if a.Percentage != b.Percentage {
		return a.Percentage > b.Percentage
	}
	if a.TimeConsumed != b.TimeConsumed {
		return a.TimeConsumed < b.TimeConsumed
	}
	return a.AttemptID < b.AttemptID
}

func sameRankKey(a, b RankedAttempt) bool {
	return a.Points == b.Points && a.Percentage == b.Percentage && a.TimeConsumed == b.TimeConsumed
}

// Rank orders the attempts and assigns 1-based ranks. Attempts equal on the whole
// ranking key share a rank and the next distinct key skips the shared positions.
func Rank(attempts []CohortAttempt) []RankedAttempt {
	ranked := make([]RankedAttempt, 0, len(attempts))
	for _, a := range attempts {
		ranked = append(ranked, RankedAttempt{
			AttemptID:    a.AttemptID,
			StudentID:    a.StudentID,
			Points:       a.Summary.Points,
			Percentage:   a.Summary.Percentage,
			TimeConsumed: a.Summary.TimeConsumed,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return rankedBefore(ranked[i], ranked[j])
	})

	n := len(ranked)
	for i := range ranked {
		if i > 0 && sameRankKey(ranked[i], ranked[i-1]) {
			ranked[i].Rank = ranked[i-1].Rank
		} else {
			ranked[i].Rank = i + 1
		}
		ranked[i].Percentile = Percentile(ranked[i].Rank, n)
	}

	return ranked
}

// Percentile returns round((n - rank) / n * 100)
func Percentile(rank, n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Round(float64(n-rank) / float64(n) * 100))
}

// FindRank returns the leaderboard entry of one attempt
func FindRank(ranked []RankedAttempt, attemptID uint) (RankedAttempt, bool) {
	for _, r := range ranked {
		if r.AttemptID == attemptID {
			return r, true
		}
	}
	return RankedAttempt{}, false
}

// Compare computes target minus the average of every cohort attempt owned by another student
func Compare(target CohortAttempt, cohort []CohortAttempt) Comparison {
	var cmp Comparison
	var sumPoints, sumPercentage, sumTime float64

	for _, a := range cohort {
		if a.StudentID == target.StudentID {
			continue
		}
		cmp.CohortSize++
		sumPoints += a.Summary.Points
		sumPercentage += float64(a.Summary.Percentage)
		sumTime += float64(a.Summary.TimeConsumed)
	}

	if cmp.CohortSize == 0 {
		return cmp
	}

	n := float64(cmp.CohortSize)
	cmp.AvgPoints = sumPoints / n
	cmp.AvgPercentage = sumPercentage / n
	cmp.AvgTime = sumTime / n
	cmp.DeltaPoints = target.Summary.Points - cmp.AvgPoints
	cmp.DeltaPercentage = float64(target.Summary.Percentage) - cmp.AvgPercentage
	cmp.DeltaTime = float64(target.Summary.TimeConsumed) - cmp.AvgTime

	return cmp
}

// BuildQuestionStats counts cohort responses per question and, for choice kinds,
// how many respondents picked each option.
func BuildQuestionStats(questions []QuestionSpec, attempts []CohortAttempt) ([]QuestionStats, error) {
	stats := make([]QuestionStats, 0, len(questions))

	for _, q := range questions {
		qs := QuestionStats{
			QuestionID: q.QuestionID,
			Position:   q.Position,
			Kind:       q.Kind,
		}

		selections := make(map[string]int)
		for _, a := range attempts {
			outcome, ok := findOutcome(a.Outcomes, q.QuestionID)
			if !ok || !outcome.Answered {
				qs.Unanswered++
				continue
			}

			qs.Respondents++
			if outcome.Correct {
				qs.Correct++
			} else {
				qs.Incorrect++
			}

			if !q.Kind.IsChoice() {
				continue
			}
			value, err := ParseAnswer(outcome.RawAnswer, q.Kind)
			if err != nil {
				return nil, fmt.Errorf("question %d: %w", q.QuestionID, err)
			}
			if value == nil {
				continue
			}
			for _, token := range value.Tokens() {
				selections[token]++
			}
		}

		qs.CorrectRate = Percentage(float64(qs.Correct), float64(qs.Respondents))
		if q.Kind.IsChoice() {
			qs.Options = optionDistribution(q.Options, selections, qs.Respondents)
		}
		stats = append(stats, qs)
	}

	return stats, nil
}

func optionDistribution(options []models.QuestionOption, selections map[string]int, respondents int) []OptionStat {
	out := make([]OptionStat, 0, len(options))
	for _, opt := range options {
		token := normalizeToken(opt.Key())
		if token == "" {
			continue
		}
		stat := OptionStat{
			Value: opt.Key(),
			Count: selections[token],
		}
		if opt.Label != nil {
			stat.Label = *opt.Label
		}
		stat.Percentage = Percentage(float64(stat.Count), float64(respondents))
		out = append(out, stat)
	}
	return out
}

func findOutcome(outcomes []QuestionOutcome, questionID uint) (QuestionOutcome, bool) {
	for _, o := range outcomes {
		if o.QuestionID == questionID {
			return o, true
		}
	}
	return QuestionOutcome{}, false
}

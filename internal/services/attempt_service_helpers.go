package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/SAP-F-2025/attempt-service/internal/grading"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
)

// clampConsumedTime keeps consumed seconds within [0, budget]
func clampConsumedTime(consumed, budget int) int {
	if consumed < 0 {
		return 0
	}
	if consumed > budget {
		return budget
	}
	return consumed
}

func stateForReason(reason string) models.AttemptState {
	if reason == models.EndReasonTimeExhausted {
		return models.AttemptExpired
	}
	return models.AttemptSubmitted
}

// mergeAnswers applies incoming answers over base, last write wins per question
func mergeAnswers(base, incoming map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(incoming))
	maps.Copy(merged, base)
	maps.Copy(merged, incoming)
	return merged
}

// submissionDigest fingerprints the answers an attempt was scored with.
// json.Marshal sorts map keys, so equal maps give equal digests.
func submissionDigest(answers map[string]string) string {
	if answers == nil {
		answers = map[string]string{}
	}
	payload, _ := json.Marshal(answers)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// buildQuestionSpecs lists the scoring view of the assessment questions in position order
func buildQuestionSpecs(assessment *models.Assessment) []grading.QuestionSpec {
	questions := make([]models.AssessmentQuestion, len(assessment.Questions))
	copy(questions, assessment.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		if questions[i].Position != questions[j].Position {
			return questions[i].Position < questions[j].Position
		}
		return questions[i].QuestionID < questions[j].QuestionID
	})

	specs := make([]grading.QuestionSpec, 0, len(questions))
	for _, aq := range questions {
		specs = append(specs, grading.QuestionSpec{
			QuestionID: aq.QuestionID,
			Position:   aq.Position,
			Kind:       aq.Question.Kind,
			Points:     float64(aq.Points),
			Solution:   json.RawMessage(aq.Question.Solution),
			Options:    aq.Question.Options.Data(),
		})
	}
	return specs
}

// checkAnswerKeys rejects answers for questions outside the assessment
func checkAnswerKeys(assessment *models.Assessment, answers map[string]string) error {
	known := make(map[uint]struct{}, len(assessment.Questions))
	for _, aq := range assessment.Questions {
		known[aq.QuestionID] = struct{}{}
	}

	for key := range answers {
		id, err := grading.ParseQuestionKey(key)
		if err != nil {
			return ValidationErrors{{Field: "answers", Message: err.Error(), Value: key, Rule: "answer_map"}}
		}
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: question %d", ErrQuestionNotFound, id)
		}
	}
	return nil
}

func placeholderRecords(attemptID uint, assessment *models.Assessment) []*models.AnswerRecord {
	specs := buildQuestionSpecs(assessment)
	records := make([]*models.AnswerRecord, 0, len(specs))
	for _, spec := range specs {
		records = append(records, &models.AnswerRecord{
			AttemptID:  attemptID,
			QuestionID: spec.QuestionID,
			Position:   spec.Position,
			MaxPoints:  spec.Points,
		})
	}
	return records
}

func evaluatedRecords(attemptID uint, outcomes []grading.QuestionOutcome, evaluatedAt time.Time) []*models.AnswerRecord {
	records := make([]*models.AnswerRecord, 0, len(outcomes))
	for _, o := range outcomes {
		correct := o.Correct
		records = append(records, &models.AnswerRecord{
			AttemptID:   attemptID,
			QuestionID:  o.QuestionID,
			Position:    o.Position,
			RawAnswer:   o.RawAnswer,
			IsCorrect:   &correct,
			Points:      o.Points,
			MaxPoints:   o.MaxPoints,
			EvaluatedAt: &evaluatedAt,
		})
	}
	return records
}

// outcomesFromRecords rebuilds question outcomes from persisted answer records
func outcomesFromRecords(records []*models.AnswerRecord) []grading.QuestionOutcome {
	outcomes := make([]grading.QuestionOutcome, 0, len(records))
	for _, r := range records {
		outcomes = append(outcomes, grading.QuestionOutcome{
			QuestionID: r.QuestionID,
			Position:   r.Position,
			RawAnswer:  r.RawAnswer,
			Answered:   !grading.IsBlank(r.RawAnswer),
			Correct:    r.IsCorrect != nil && *r.IsCorrect,
			Points:     r.Points,
			MaxPoints:  r.MaxPoints,
		})
	}
	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Position != outcomes[j].Position {
			return outcomes[i].Position < outcomes[j].Position
		}
		return outcomes[i].QuestionID < outcomes[j].QuestionID
	})
	return outcomes
}

// storageError wraps err, marking connection failures as retryable
func storageError(msg string, err error) error {
	if repositories.IsConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", msg, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (s *attemptService) toAttemptResponse(attempt *models.Attempt, resumed bool) *AttemptResponse {
	remaining := attempt.TimeBudget - attempt.ConsumedTime
	if remaining < 0 || attempt.State.IsTerminal() {
		remaining = 0
	}

	return &AttemptResponse{
		AttemptID:     attempt.ID,
		AssessmentID:  attempt.AssessmentID,
		State:         attempt.State,
		ConsumedTime:  attempt.ConsumedTime,
		TimeBudget:    attempt.TimeBudget,
		TimeRemaining: remaining,
		Answers:       attempt.SnapshotAnswers(),
		StartedAt:     attempt.StartedAt,
		SubmittedAt:   attempt.SubmittedAt,
		EndReason:     attempt.EndReason,
		Resumed:       resumed,
	}
}

package services

import (
	"context"
	"log/slog"

	"github.com/SAP-F-2025/attempt-service/internal/metrics"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

// progressService reconciles client autosave ticks with the stored attempt
type progressService struct {
	attempts  *attemptService
	logger    *slog.Logger
	validator *validator.Validator
}

func newProgressService(attempts *attemptService) *progressService {
	return &progressService{
		attempts:  attempts,
		logger:    attempts.logger,
		validator: attempts.validator,
	}
}

func (p *progressService) SaveProgress(ctx context.Context, studentID string, req *SaveProgressRequest) (*ProgressResponse, error) {
	if err := p.validator.Validate(req); err != nil {
		return nil, err
	}

	s := p.attempts
	consumedTime := *req.ConsumedTime

	attempt, err := p.resolveAttempt(ctx, studentID, req)
	if err != nil {
		return nil, err
	}

	assessment, err := s.loadAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	if err := checkAnswerKeys(assessment, req.Answers); err != nil {
		return nil, err
	}

	var (
		result    *models.Attempt
		finalized bool
	)
	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		locked, err := lockAttempt(ctx, tx, attempt.ID)
		if err != nil {
			return err
		}
		if locked.StudentID != studentID {
			return ErrAttemptNotFound
		}

		if locked.State.IsTerminal() {
			if req.Finalize && isDuplicateFinalize(locked, req.Answers) {
				result = locked
				return nil
			}
			return ErrAttemptTerminal
		}

		s.applyAutosave(locked, req.Answers, consumedTime)

		switch {
		case req.Finalize:
			reason := models.EndReasonSubmitted
			if locked.ConsumedTime >= locked.TimeBudget {
				reason = models.EndReasonTimeExhausted
			}
			if err := s.finalizeLocked(ctx, tx, locked, assessment, locked.ConsumedTime, reason); err != nil {
				return err
			}
			finalized = true
		case s.isExpired(locked):
			if err := s.finalizeLocked(ctx, tx, locked, assessment, locked.TimeBudget, models.EndReasonTimeExhausted); err != nil {
				return err
			}
			finalized = true
		default:
			if err := tx.Attempt().Update(ctx, locked); err != nil {
				return storageError("failed to save progress", err)
			}
		}

		result = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case finalized:
		s.afterFinalize(ctx, result)
	case !result.State.IsTerminal():
		metrics.Autosaves.Inc()
	default:
		p.logger.Info("Duplicate finalize ignored", "attempt_id", result.ID, "state", result.State)
	}

	return &ProgressResponse{
		AttemptID: result.ID,
		State:     result.State,
	}, nil
}

// resolveAttempt maps the explicit or implicit reference onto an attempt owned by the student
func (p *progressService) resolveAttempt(ctx context.Context, studentID string, req *SaveProgressRequest) (*models.Attempt, error) {
	s := p.attempts

	if req.AttemptID != nil {
		return s.getOwnedAttempt(ctx, *req.AttemptID, studentID)
	}

	assessmentID := *req.AssessmentID
	active, err := s.repo.Attempt().GetActive(ctx, studentID, assessmentID)
	if err == nil {
		return active, nil
	}
	if !repositories.IsNotFoundError(err) {
		return nil, storageError("failed to get active attempt", err)
	}

	// A repeated finalize without an attempt id lands on the attempt it already finished
	if req.Finalize {
		latest, err := s.repo.Attempt().GetLatestTerminal(ctx, studentID, assessmentID)
		switch {
		case err == nil:
			if isDuplicateFinalize(latest, req.Answers) {
				return latest, nil
			}
		case !repositories.IsNotFoundError(err):
			return nil, storageError("failed to get latest attempt", err)
		}
	}

	attempt, _, err := s.startOrResume(ctx, studentID, assessmentID, false)
	return attempt, err
}

// isDuplicateFinalize reports whether answers repeat the submission the attempt was scored with
func isDuplicateFinalize(attempt *models.Attempt, answers map[string]string) bool {
	if !attempt.State.IsScored() || attempt.SubmissionDigest == nil {
		return false
	}
	return *attempt.SubmissionDigest == submissionDigest(mergeAnswers(attempt.SnapshotAnswers(), answers))
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/attempt-service/internal/cache"
	"github.com/SAP-F-2025/attempt-service/internal/events"
	"github.com/SAP-F-2025/attempt-service/internal/grading"
	"github.com/SAP-F-2025/attempt-service/internal/metrics"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

// maxStartRounds bounds the create-then-retry loop on the in-progress slot
const maxStartRounds = 3

// sweepBatchSize caps how many stale attempts one sweep handles
const sweepBatchSize = 500

// AttemptOptions tunes server-side expiry detection
type AttemptOptions struct {
	// EnforceWallClock also expires attempts whose server-observed elapsed time
	// exceeds the budget plus WallClockGrace.
	EnforceWallClock bool
	WallClockGrace   time.Duration
}

type attemptService struct {
	repo         repositories.Repository
	cacheManager *cache.CacheManager
	publisher    events.EventPublisher
	entitlements EntitlementChecker
	logger       *slog.Logger
	validator    *validator.Validator
	options      AttemptOptions
	now          func() time.Time
}

func newAttemptService(
	repo repositories.Repository,
	cacheManager *cache.CacheManager,
	publisher events.EventPublisher,
	entitlements EntitlementChecker,
	logger *slog.Logger,
	validator *validator.Validator,
	options AttemptOptions,
) *attemptService {
	if cacheManager == nil {
		cacheManager = cache.NewCacheManager(nil)
	}
	if publisher == nil {
		publisher = events.NoopEventPublisher{}
	}
	if entitlements == nil {
		entitlements = AllowAllEntitlements{}
	}

	return &attemptService{
		repo:         repo,
		cacheManager: cacheManager,
		publisher:    publisher,
		entitlements: entitlements,
		logger:       logger,
		validator:    validator,
		options:      options,
		now:          time.Now,
	}
}

// ===== START / RESUME =====

func (s *attemptService) StartOrResume(ctx context.Context, studentID string, assessmentID uint, forceNew bool) (*AttemptResponse, error) {
	s.logger.Info("Starting assessment attempt",
		"assessment_id", assessmentID,
		"student_id", studentID,
		"force_new", forceNew)

	attempt, resumed, err := s.startOrResume(ctx, studentID, assessmentID, forceNew)
	if err != nil {
		return nil, err
	}

	return s.toAttemptResponse(attempt, resumed), nil
}

func (s *attemptService) startOrResume(ctx context.Context, studentID string, assessmentID uint, forceNew bool) (*models.Attempt, bool, error) {
	if err := s.entitlements.CanStart(ctx, studentID, assessmentID); err != nil {
		s.logger.Warn("Entitlement check rejected attempt start",
			"assessment_id", assessmentID,
			"student_id", studentID,
			"error", err)
		if errors.Is(err, ErrNotEntitled) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %v", ErrNotEntitled, err)
	}

	assessment, err := s.loadAssessment(ctx, assessmentID)
	if err != nil {
		return nil, false, err
	}

	return s.resolveSlot(ctx, studentID, assessment, forceNew)
}

// resolveSlot finds or creates the in-progress attempt. The partial unique index on
// (student, assessment) decides races: the loser sees a duplicate and resumes the winner.
func (s *attemptService) resolveSlot(ctx context.Context, studentID string, assessment *models.Assessment, forceNew bool) (*models.Attempt, bool, error) {
	for round := 1; round <= maxStartRounds; round++ {
		active, err := s.repo.Attempt().GetActive(ctx, studentID, assessment.ID)
		switch {
		case err == nil && !forceNew:
			s.logger.Info("Resuming existing attempt", "attempt_id", active.ID, "student_id", studentID)
			return active, true, nil
		case err == nil:
			if err := s.supersede(ctx, active, assessment); err != nil {
				return nil, false, err
			}
			forceNew = false
			continue
		case !repositories.IsNotFoundError(err):
			return nil, false, storageError("failed to get active attempt", err)
		}

		attempt, err := s.createAttempt(ctx, studentID, assessment)
		if err == nil {
			s.logger.Info("Assessment attempt started",
				"attempt_id", attempt.ID,
				"assessment_id", assessment.ID,
				"student_id", studentID)
			metrics.RecordTransition(string(models.AttemptInProgress), "started")
			s.publish(ctx, events.NewAttemptStartedEvent(attempt))
			return attempt, false, nil
		}
		if !repositories.IsDuplicateError(err) {
			return nil, false, err
		}

		s.logger.Info("Concurrent attempt start detected, retrying",
			"assessment_id", assessment.ID,
			"student_id", studentID,
			"round", round)
	}

	return nil, false, fmt.Errorf("failed to resolve attempt slot after %d rounds: %w", maxStartRounds, ErrStorageUnavailable)
}

func (s *attemptService) createAttempt(ctx context.Context, studentID string, assessment *models.Assessment) (*models.Attempt, error) {
	var attempt *models.Attempt

	err := s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		if assessment.HasAttemptCap() {
			count, err := tx.Attempt().CountByStates(ctx, studentID, assessment.ID, models.TerminalStates)
			if err != nil {
				return storageError("failed to count attempts", err)
			}
			if count >= int64(assessment.MaxAttempts) {
				return ErrAttemptLimitExceeded
			}
		}

		attempt = &models.Attempt{
			StudentID:    studentID,
			AssessmentID: assessment.ID,
			State:        models.AttemptInProgress,
			StartedAt:    s.now(),
			TimeBudget:   assessment.TimeBudget,
			Progress:     datatypes.NewJSONType(models.ProgressSnapshot{Answers: map[string]string{}}),
		}
		if err := tx.Attempt().Create(ctx, attempt); err != nil {
			if repositories.IsDuplicateError(err) {
				return err
			}
			return storageError("failed to create attempt", err)
		}

		if err := tx.Answer().CreatePlaceholders(ctx, placeholderRecords(attempt.ID, assessment)); err != nil {
			return storageError("failed to create answer placeholders", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return attempt, nil
}

// supersede voids the in-progress attempt so a fresh one can start.
// The voided attempt counts against the cap, so the cap must leave room for the new one too.
func (s *attemptService) supersede(ctx context.Context, active *models.Attempt, assessment *models.Assessment) error {
	if !assessment.AllowRestart {
		return ErrRestartNotAllowed
	}

	if assessment.HasAttemptCap() {
		count, err := s.repo.Attempt().CountByStates(ctx, active.StudentID, assessment.ID, models.TerminalStates)
		if err != nil {
			return storageError("failed to count attempts", err)
		}
		if count+1 >= int64(assessment.MaxAttempts) {
			return ErrAttemptLimitExceeded
		}
	}

	s.logger.Info("Superseding in-progress attempt", "attempt_id", active.ID, "student_id", active.StudentID)

	if _, err := s.Void(ctx, active.ID, models.EndReasonSuperseded); err != nil && !errors.Is(err, ErrAttemptTerminal) {
		return err
	}
	return nil
}

func (s *attemptService) GetByID(ctx context.Context, attemptID uint, studentID string) (*AttemptResponse, error) {
	attempt, err := s.getOwnedAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	return s.toAttemptResponse(attempt, false), nil
}

// ===== TRANSITIONS =====

func (s *attemptService) Autosave(ctx context.Context, attemptID uint, answers map[string]string, consumedTime int) (*models.Attempt, error) {
	var saved *models.Attempt

	err := s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		attempt, err := lockAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if attempt.State.IsTerminal() {
			return ErrAttemptTerminal
		}

		s.applyAutosave(attempt, answers, consumedTime)
		if err := tx.Attempt().Update(ctx, attempt); err != nil {
			return storageError("failed to save progress", err)
		}
		saved = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Autosaves.Inc()
	s.logger.Debug("Progress saved", "attempt_id", attemptID, "consumed_time", saved.ConsumedTime)
	return saved, nil
}

func (s *attemptService) Finalize(ctx context.Context, attemptID uint, consumedTime int, reason string) (*models.Attempt, error) {
	if reason == "" {
		reason = models.EndReasonSubmitted
	}
	return s.finalize(ctx, attemptID, finalizeInput{consumedTime: consumedTime, reason: reason})
}

// Expire finalizes with the last saved answers and the whole budget consumed
func (s *attemptService) Expire(ctx context.Context, attemptID uint) (*models.Attempt, error) {
	return s.finalize(ctx, attemptID, finalizeInput{fullBudget: true, reason: models.EndReasonTimeExhausted})
}

type finalizeInput struct {
	consumedTime int
	fullBudget   bool
	reason       string
}

func (s *attemptService) finalize(ctx context.Context, attemptID uint, in finalizeInput) (*models.Attempt, error) {
	current, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, storageError("failed to get attempt", err)
	}

	assessment, err := s.loadAssessment(ctx, current.AssessmentID)
	if err != nil {
		return nil, err
	}

	var (
		result  *models.Attempt
		changed bool
	)
	err = s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		attempt, err := lockAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}

		// Finalize is idempotent on scored attempts
		if attempt.State.IsTerminal() {
			if !attempt.State.IsScored() {
				return ErrAttemptTerminal
			}
			result = attempt
			return nil
		}

		consumed := in.consumedTime
		if in.fullBudget {
			consumed = attempt.TimeBudget
		}
		if err := s.finalizeLocked(ctx, tx, attempt, assessment, consumed, in.reason); err != nil {
			return err
		}
		result = attempt
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.afterFinalize(ctx, result)
	}
	return result, nil
}

// finalizeLocked scores the saved answers and freezes the attempt. The caller holds the row lock.
func (s *attemptService) finalizeLocked(ctx context.Context, tx repositories.Repository, attempt *models.Attempt, assessment *models.Assessment, consumedTime int, reason string) error {
	answers := attempt.SnapshotAnswers()

	outcomes, err := grading.ScoreAnswers(buildQuestionSpecs(assessment), answers)
	if err != nil {
		return fmt.Errorf("failed to score attempt %d: %w", attempt.ID, err)
	}

	now := s.now()
	attempt.ConsumedTime = clampConsumedTime(consumedTime, attempt.TimeBudget)
	summary := grading.Summarize(outcomes, attempt.ConsumedTime)

	if err := tx.Answer().UpsertBatch(ctx, evaluatedRecords(attempt.ID, outcomes, now)); err != nil {
		return storageError("failed to write answer records", err)
	}

	digest := submissionDigest(answers)
	endReason := reason
	attempt.State = stateForReason(reason)
	attempt.SubmittedAt = &now
	attempt.Points = summary.Points
	attempt.TotalPoints = summary.TotalPoints
	attempt.Percentage = summary.Percentage
	attempt.SubmissionDigest = &digest
	attempt.EndReason = &endReason

	if err := tx.Attempt().Update(ctx, attempt); err != nil {
		return storageError("failed to finalize attempt", err)
	}
	return nil
}

func (s *attemptService) Void(ctx context.Context, attemptID uint, reason string) (*models.Attempt, error) {
	if reason == "" {
		reason = models.EndReasonVoided
	}

	var voided *models.Attempt
	err := s.repo.WithTransaction(ctx, func(tx repositories.Repository) error {
		attempt, err := lockAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if attempt.State.IsTerminal() {
			return ErrAttemptTerminal
		}

		endReason := reason
		attempt.State = models.AttemptVoided
		attempt.EndReason = &endReason
		if err := tx.Attempt().Update(ctx, attempt); err != nil {
			return storageError("failed to void attempt", err)
		}
		voided = attempt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Attempt voided", "attempt_id", attemptID, "reason", reason)
	metrics.RecordTransition(string(models.AttemptVoided), reason)
	s.publish(ctx, events.NewAttemptVoidedEvent(voided))

	return voided, nil
}

// SweepStale closes in-progress attempts not touched since olderThan.
// Attempts out of time are expired and keep their score, the rest are voided.
func (s *attemptService) SweepStale(ctx context.Context, olderThan time.Duration) (*SweepResult, error) {
	if olderThan <= 0 {
		return nil, ValidationErrors{{Field: "older_than_minutes", Message: "must be positive", Rule: "min"}}
	}

	cutoff := s.now().Add(-olderThan)
	stale, err := s.repo.Attempt().List(ctx, repositories.AttemptFilters{
		States:    []models.AttemptState{models.AttemptInProgress},
		UpdatedTo: &cutoff,
		Limit:     sweepBatchSize,
	})
	if err != nil {
		return nil, storageError("failed to list stale attempts", err)
	}

	result := &SweepResult{}
	for _, attempt := range stale {
		if s.isExpired(attempt) {
			if _, err := s.Expire(ctx, attempt.ID); err != nil {
				s.logger.Warn("Failed to expire stale attempt", "attempt_id", attempt.ID, "error", err)
				continue
			}
			result.Expired++
			continue
		}

		if _, err := s.Void(ctx, attempt.ID, models.EndReasonStale); err != nil {
			s.logger.Warn("Failed to void stale attempt", "attempt_id", attempt.ID, "error", err)
			continue
		}
		result.Voided++
	}

	s.logger.Info("Stale attempt sweep finished",
		"cutoff", cutoff,
		"candidates", len(stale),
		"expired", result.Expired,
		"voided", result.Voided)

	return result, nil
}

// ===== SHARED =====

func (s *attemptService) afterFinalize(ctx context.Context, attempt *models.Attempt) {
	reason := ""
	if attempt.EndReason != nil {
		reason = *attempt.EndReason
	}

	s.logger.Info("Attempt finalized",
		"attempt_id", attempt.ID,
		"state", attempt.State,
		"reason", reason,
		"points", attempt.Points,
		"percentage", attempt.Percentage)

	metrics.RecordTransition(string(attempt.State), reason)
	cache.InvalidateAssessmentResults(ctx, s.cacheManager, attempt.AssessmentID)
	s.publish(ctx, events.NewAttemptFinalizedEvent(attempt))
}

// publish never fails the caller; the transition is already committed
func (s *attemptService) publish(ctx context.Context, event *events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", "type", event.Type, "event_id", event.ID, "error", err)
	}
}

func (s *attemptService) loadAssessment(ctx context.Context, assessmentID uint) (*models.Assessment, error) {
	assessment, err := s.repo.Catalog().GetAssessmentWithQuestions(ctx, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, storageError("failed to get assessment", err)
	}
	return assessment, nil
}

func (s *attemptService) getOwnedAttempt(ctx context.Context, attemptID uint, studentID string) (*models.Attempt, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, storageError("failed to get attempt", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}

// isExpired is the server-side expiry decision
func (s *attemptService) isExpired(attempt *models.Attempt) bool {
	if attempt.ConsumedTime >= attempt.TimeBudget {
		return true
	}
	if !s.options.EnforceWallClock {
		return false
	}
	limit := time.Duration(attempt.TimeBudget)*time.Second + s.options.WallClockGrace
	return s.now().Sub(attempt.StartedAt) > limit
}

func (s *attemptService) applyAutosave(attempt *models.Attempt, answers map[string]string, consumedTime int) {
	now := s.now()
	attempt.ConsumedTime = clampConsumedTime(consumedTime, attempt.TimeBudget)
	attempt.Progress = datatypes.NewJSONType(models.ProgressSnapshot{
		Answers: mergeAnswers(attempt.SnapshotAnswers(), answers),
		SavedAt: &now,
	})
}

func lockAttempt(ctx context.Context, tx repositories.Repository, attemptID uint) (*models.Attempt, error) {
	attempt, err := tx.Attempt().GetByIDForUpdate(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, storageError("failed to lock attempt", err)
	}
	return attempt, nil
}

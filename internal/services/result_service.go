package services

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SAP-F-2025/attempt-service/internal/cache"
	"github.com/SAP-F-2025/attempt-service/internal/grading"
	"github.com/SAP-F-2025/attempt-service/internal/metrics"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
)

// cohortSnapshot is everything derived from the scored attempts of one assessment
type cohortSnapshot struct {
	AssessmentID  uint                    `json:"assessment_id"`
	Attempts      []grading.CohortAttempt `json:"attempts"`
	Ranked        []grading.RankedAttempt `json:"ranked"`
	QuestionStats []grading.QuestionStats `json:"question_stats"`
}

func (c *cohortSnapshot) find(attemptID uint) (grading.CohortAttempt, bool) {
	for _, a := range c.Attempts {
		if a.AttemptID == attemptID {
			return a, true
		}
	}
	return grading.CohortAttempt{}, false
}

type resultService struct {
	repo         repositories.Repository
	cacheManager *cache.CacheManager
	logger       *slog.Logger
	cacheTTL     time.Duration
	group        singleflight.Group
}

func newResultService(repo repositories.Repository, cacheManager *cache.CacheManager, logger *slog.Logger, cacheTTL time.Duration) *resultService {
	if cacheManager == nil {
		cacheManager = cache.NewCacheManager(nil)
	}
	if cacheTTL <= 0 {
		cacheTTL = cache.ResultCacheConfig.TTL
	}
	return &resultService{
		repo:         repo,
		cacheManager: cacheManager,
		logger:       logger,
		cacheTTL:     cacheTTL,
	}
}

func (s *resultService) GetResult(ctx context.Context, attemptID uint, userID string, role models.UserRole) (*ResultResponse, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, storageError("failed to get attempt", err)
	}

	if attempt.StudentID != userID && role != models.RoleTeacher && role != models.RoleAdmin {
		return nil, ErrAttemptAccessDenied
	}

	switch {
	case attempt.State == models.AttemptVoided:
		return nil, ErrAttemptVoided
	case !attempt.State.IsTerminal():
		return nil, ErrAttemptNotTerminal
	}

	cohort, err := s.cohort(ctx, attempt.AssessmentID, attempt.ID)
	if err != nil {
		return nil, err
	}

	target, ok := cohort.find(attempt.ID)
	if !ok {
		// Scored attempts are always part of a fresh cohort
		return nil, ErrAttemptNotFound
	}
	ranked, _ := grading.FindRank(cohort.Ranked, attempt.ID)

	return &ResultResponse{
		AttemptID:     attempt.ID,
		AssessmentID:  attempt.AssessmentID,
		State:         attempt.State,
		Summary:       target.Summary,
		Questions:     target.Outcomes,
		QuestionStats: cohort.QuestionStats,
		Ranking: RankingInfo{
			Rank:          ranked.Rank,
			Percentile:    ranked.Percentile,
			TotalAttempts: len(cohort.Ranked),
		},
		Comparison: grading.Compare(target, cohort.Attempts),
	}, nil
}

func (s *resultService) GetLeaderboard(ctx context.Context, assessmentID uint) (*LeaderboardResponse, error) {
	assessment, err := s.repo.Catalog().GetAssessment(ctx, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, storageError("failed to get assessment", err)
	}

	cohort, err := s.cohort(ctx, assessmentID, 0)
	if err != nil {
		return nil, err
	}

	names := s.studentNames(ctx, cohort.Ranked)
	entries := make([]LeaderboardEntry, 0, len(cohort.Ranked))
	for _, r := range cohort.Ranked {
		name, ok := names[r.StudentID]
		if !ok {
			name = r.StudentID
		}
		entries = append(entries, LeaderboardEntry{RankedAttempt: r, StudentName: name})
	}

	return &LeaderboardResponse{
		AssessmentID:  assessmentID,
		Title:         assessment.Title,
		TotalAttempts: len(entries),
		Entries:       entries,
	}, nil
}

// cohort returns the cached aggregate, recomputing it when missing or when it predates
// the attempt that must be part of it.
func (s *resultService) cohort(ctx context.Context, assessmentID uint, mustContain uint) (*cohortSnapshot, error) {
	key := cache.CohortKey(assessmentID)

	var cached cohortSnapshot
	if err := s.cacheManager.Result.Get(ctx, key, &cached); err == nil {
		if _, ok := cached.find(mustContain); mustContain == 0 || ok {
			return &cached, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// Shared by every collapsed caller, so it must outlive the first one
		return s.refreshCohort(context.WithoutCancel(ctx), assessmentID)
	})
	if err != nil {
		return nil, err
	}

	snapshot := v.(*cohortSnapshot)
	if _, ok := snapshot.find(mustContain); mustContain != 0 && !ok {
		// A shared computation may have started before the attempt was committed
		return s.refreshCohort(ctx, assessmentID)
	}
	return snapshot, nil
}

// refreshCohort recomputes the aggregate and caches it unless the assessment was
// invalidated while it was being computed.
func (s *resultService) refreshCohort(ctx context.Context, assessmentID uint) (*cohortSnapshot, error) {
	genKey := cache.CohortGenerationKey(assessmentID)
	gen, genErr := s.cacheManager.Result.Counter(ctx, genKey)

	snapshot, err := s.computeCohort(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	if genErr != nil {
		s.logger.Warn("Failed to read cohort generation, not caching", "assessment_id", assessmentID, "error", genErr)
		return snapshot, nil
	}

	stored, err := s.cacheManager.Result.SetIfCounter(ctx, genKey, gen, cache.CohortKey(assessmentID), snapshot, s.cacheTTL)
	switch {
	case err != nil:
		s.logger.Warn("Failed to cache cohort", "assessment_id", assessmentID, "error", err)
	case !stored && s.cacheManager.Result.Enabled():
		s.logger.Debug("Cohort changed while computing, not cached", "assessment_id", assessmentID)
	}
	return snapshot, nil
}

// InvalidateAssessmentCache drops the cached catalog and aggregates of one assessment
func (s *resultService) InvalidateAssessmentCache(ctx context.Context, assessmentID uint) error {
	if _, err := s.repo.Catalog().GetAssessment(ctx, assessmentID); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAssessmentNotFound
		}
		return storageError("failed to get assessment", err)
	}

	s.repo.Catalog().InvalidateAssessment(ctx, assessmentID)
	cache.InvalidateAssessmentResults(ctx, s.cacheManager, assessmentID)

	s.logger.Info("Assessment cache invalidated", "assessment_id", assessmentID)
	return nil
}

// computeCohort rebuilds the aggregate from persisted attempts and answer records
func (s *resultService) computeCohort(ctx context.Context, assessmentID uint) (*cohortSnapshot, error) {
	assessment, err := s.repo.Catalog().GetAssessmentWithQuestions(ctx, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, storageError("failed to get assessment", err)
	}

	attempts, err := s.repo.Attempt().List(ctx, repositories.AttemptFilters{
		AssessmentID: &assessmentID,
		States:       models.ScoredStates,
	})
	if err != nil {
		return nil, storageError("failed to list scored attempts", err)
	}

	ids := make([]uint, 0, len(attempts))
	for _, a := range attempts {
		ids = append(ids, a.ID)
	}
	records, err := s.repo.Answer().GetByAttempts(ctx, ids)
	if err != nil {
		return nil, storageError("failed to get answer records", err)
	}

	byAttempt := make(map[uint][]*models.AnswerRecord, len(attempts))
	for _, r := range records {
		byAttempt[r.AttemptID] = append(byAttempt[r.AttemptID], r)
	}

	cohort := make([]grading.CohortAttempt, 0, len(attempts))
	for _, a := range attempts {
		outcomes := outcomesFromRecords(byAttempt[a.ID])
		cohort = append(cohort, grading.CohortAttempt{
			AttemptID: a.ID,
			StudentID: a.StudentID,
			Summary:   grading.Summarize(outcomes, a.ConsumedTime),
			Outcomes:  outcomes,
		})
	}

	stats, err := grading.BuildQuestionStats(buildQuestionSpecs(assessment), cohort)
	if err != nil {
		return nil, err
	}

	metrics.CohortComputations.Inc()
	s.logger.Debug("Cohort computed", "assessment_id", assessmentID, "attempts", len(cohort))

	return &cohortSnapshot{
		AssessmentID:  assessmentID,
		Attempts:      cohort,
		Ranked:        grading.Rank(cohort),
		QuestionStats: stats,
	}, nil
}

// studentNames resolves display names, falling back to ids for unknown users
func (s *resultService) studentNames(ctx context.Context, ranked []grading.RankedAttempt) map[string]string {
	seen := make(map[string]struct{}, len(ranked))
	ids := make([]string, 0, len(ranked))
	for _, r := range ranked {
		if _, ok := seen[r.StudentID]; ok {
			continue
		}
		seen[r.StudentID] = struct{}{}
		ids = append(ids, r.StudentID)
	}

	names := make(map[string]string, len(ids))
	if len(ids) == 0 || s.repo.User() == nil {
		return names
	}

	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to resolve student names", "error", err)
		return names
	}
	for _, u := range users {
		names[u.ID] = u.DisplayName()
	}
	return names
}

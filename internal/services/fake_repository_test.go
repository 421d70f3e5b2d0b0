package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/attempt-service/internal/cache"
	"github.com/SAP-F-2025/attempt-service/internal/events"
	"github.com/SAP-F-2025/attempt-service/internal/models"
	"github.com/SAP-F-2025/attempt-service/internal/repositories"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

type recordKey struct {
	attemptID  uint
	questionID uint
}

// fakeRepository is an in-memory Repository. Transactions are serialized, which
// stands in for row locks. Nothing is rolled back: services write last.
type fakeRepository struct {
	txMu sync.Mutex
	mu   sync.Mutex

	assessments map[uint]*models.Assessment
	attempts    map[uint]*models.Attempt
	records     map[recordKey]*models.AnswerRecord
	users       map[string]*models.User

	nextAttemptID uint
	nextRecordID  uint

	// beforeCreate runs once, ahead of the next attempt insert
	beforeCreate func(attempt *models.Attempt)
	// afterList runs once, after the next attempt listing was read
	afterList func()
	pingErr   error

	catalogInvalidations []uint
}

func newFakeRepository(assessments ...*models.Assessment) *fakeRepository {
	r := &fakeRepository{
		assessments: make(map[uint]*models.Assessment),
		attempts:    make(map[uint]*models.Attempt),
		records:     make(map[recordKey]*models.AnswerRecord),
		users:       make(map[string]*models.User),
	}
	for _, a := range assessments {
		r.assessments[a.ID] = a
	}
	return r
}

func (r *fakeRepository) Catalog() repositories.CatalogRepository { return fakeCatalog{r} }
func (r *fakeRepository) Attempt() repositories.AttemptRepository { return fakeAttempts{r} }
func (r *fakeRepository) Answer() repositories.AnswerRepository   { return fakeAnswers{r} }
func (r *fakeRepository) User() repositories.UserRepository       { return fakeUsers{r} }
func (r *fakeRepository) Ping(ctx context.Context) error          { return r.pingErr }
func (r *fakeRepository) Close() error                            { return nil }

func (r *fakeRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(r)
}

// seedAttempt stores an attempt as is and returns its id
func (r *fakeRepository) seedAttempt(a *models.Attempt) uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextAttemptID++
	stored := *a
	stored.ID = r.nextAttemptID
	if stored.StartedAt.IsZero() {
		stored.StartedAt = time.Now()
	}
	stored.CreatedAt = stored.StartedAt
	stored.UpdatedAt = stored.StartedAt
	r.attempts[stored.ID] = &stored
	return stored.ID
}

// touch rewinds the last update time of an attempt
func (r *fakeRepository) touch(id uint, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[id].UpdatedAt = at
}

// stored returns a copy of the attempt as persisted
func (r *fakeRepository) stored(id uint) *models.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := *r.attempts[id]
	return &a
}

func (r *fakeRepository) attemptCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

func (r *fakeRepository) takeAfterList() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook := r.afterList
	r.afterList = nil
	return hook
}

func (r *fakeRepository) takeBeforeCreate() func(*models.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hook := r.beforeCreate
	r.beforeCreate = nil
	return hook
}

type fakeCatalog struct{ r *fakeRepository }

func (c fakeCatalog) GetAssessment(ctx context.Context, id uint) (*models.Assessment, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	a, ok := c.r.assessments[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *a
	copied.Questions = nil
	return &copied, nil
}

func (c fakeCatalog) GetAssessmentWithQuestions(ctx context.Context, id uint) (*models.Assessment, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	a, ok := c.r.assessments[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (c fakeCatalog) InvalidateAssessment(ctx context.Context, id uint) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.catalogInvalidations = append(c.r.catalogInvalidations, id)
}

type fakeAttempts struct{ r *fakeRepository }

func (f fakeAttempts) Create(ctx context.Context, attempt *models.Attempt) error {
	if hook := f.r.takeBeforeCreate(); hook != nil {
		hook(attempt)
	}

	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	if attempt.State == models.AttemptInProgress {
		for _, a := range f.r.attempts {
			if a.State == models.AttemptInProgress && a.StudentID == attempt.StudentID && a.AssessmentID == attempt.AssessmentID {
				return repositories.ErrDuplicate
			}
		}
	}

	f.r.nextAttemptID++
	attempt.ID = f.r.nextAttemptID
	attempt.CreatedAt = time.Now()
	attempt.UpdatedAt = attempt.CreatedAt
	stored := *attempt
	f.r.attempts[stored.ID] = &stored
	return nil
}

func (f fakeAttempts) GetByID(ctx context.Context, id uint) (*models.Attempt, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	a, ok := f.r.attempts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (f fakeAttempts) GetByIDForUpdate(ctx context.Context, id uint) (*models.Attempt, error) {
	return f.GetByID(ctx, id)
}

func (f fakeAttempts) GetActive(ctx context.Context, studentID string, assessmentID uint) (*models.Attempt, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	for _, a := range f.r.attempts {
		if a.State == models.AttemptInProgress && a.StudentID == studentID && a.AssessmentID == assessmentID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f fakeAttempts) GetLatestTerminal(ctx context.Context, studentID string, assessmentID uint) (*models.Attempt, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	var latest *models.Attempt
	for _, a := range f.r.attempts {
		if !a.State.IsTerminal() || a.StudentID != studentID || a.AssessmentID != assessmentID {
			continue
		}
		if latest == nil || a.ID > latest.ID {
			latest = a
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (f fakeAttempts) Update(ctx context.Context, attempt *models.Attempt) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	if _, ok := f.r.attempts[attempt.ID]; !ok {
		return repositories.ErrNotFound
	}
	attempt.UpdatedAt = time.Now()
	stored := *attempt
	f.r.attempts[stored.ID] = &stored
	return nil
}

func (f fakeAttempts) CountByStates(ctx context.Context, studentID string, assessmentID uint, states []models.AttemptState) (int64, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	var count int64
	for _, a := range f.r.attempts {
		if a.StudentID == studentID && a.AssessmentID == assessmentID && hasState(states, a.State) {
			count++
		}
	}
	return count, nil
}

func (f fakeAttempts) List(ctx context.Context, filters repositories.AttemptFilters) ([]*models.Attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := f.list(filters)
	if hook := f.r.takeAfterList(); hook != nil {
		hook()
	}
	return out, nil
}

func (f fakeAttempts) list(filters repositories.AttemptFilters) []*models.Attempt {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	var out []*models.Attempt
	for _, a := range f.r.attempts {
		if filters.AssessmentID != nil && a.AssessmentID != *filters.AssessmentID {
			continue
		}
		if filters.StudentID != nil && a.StudentID != *filters.StudentID {
			continue
		}
		if len(filters.States) > 0 && !hasState(filters.States, a.State) {
			continue
		}
		if filters.UpdatedTo != nil && a.UpdatedAt.After(*filters.UpdatedTo) {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out
}

func hasState(states []models.AttemptState, state models.AttemptState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

type fakeAnswers struct{ r *fakeRepository }

func (f fakeAnswers) CreatePlaceholders(ctx context.Context, records []*models.AnswerRecord) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	for _, rec := range records {
		key := recordKey{rec.AttemptID, rec.QuestionID}
		if _, ok := f.r.records[key]; ok {
			continue
		}
		f.r.nextRecordID++
		stored := *rec
		stored.ID = f.r.nextRecordID
		f.r.records[key] = &stored
	}
	return nil
}

func (f fakeAnswers) UpsertBatch(ctx context.Context, records []*models.AnswerRecord) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	for _, rec := range records {
		key := recordKey{rec.AttemptID, rec.QuestionID}
		stored := *rec
		if existing, ok := f.r.records[key]; ok {
			stored.ID = existing.ID
		} else {
			f.r.nextRecordID++
			stored.ID = f.r.nextRecordID
		}
		f.r.records[key] = &stored
	}
	return nil
}

func (f fakeAnswers) GetByAttempt(ctx context.Context, attemptID uint) ([]*models.AnswerRecord, error) {
	return f.GetByAttempts(ctx, []uint{attemptID})
}

func (f fakeAnswers) GetByAttempts(ctx context.Context, attemptIDs []uint) ([]*models.AnswerRecord, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	wanted := make(map[uint]struct{}, len(attemptIDs))
	for _, id := range attemptIDs {
		wanted[id] = struct{}{}
	}

	var out []*models.AnswerRecord
	for _, rec := range f.r.records {
		if _, ok := wanted[rec.AttemptID]; ok {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttemptID != out[j].AttemptID {
			return out[i].AttemptID < out[j].AttemptID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

type fakeUsers struct{ r *fakeRepository }

func (f fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	u, ok := f.r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return u, nil
}

func (f fakeUsers) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	var out []*models.User
	for _, id := range ids {
		if u, ok := f.r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

// ===== FIXTURES =====

const testAssessmentID uint = 1

// newTestAssessment has a single choice question 1 (solution "a") and a
// number question 2 (solution 42), one point each, ten minutes.
func newTestAssessment() *models.Assessment {
	return &models.Assessment{
		ID:         testAssessmentID,
		Title:      "Fracciones",
		Kind:       models.AssessmentEvaluation,
		TimeBudget: 600,
		Questions: []models.AssessmentQuestion{
			{
				AssessmentID: testAssessmentID,
				QuestionID:   1,
				Position:     0,
				Points:       1,
				Question: models.Question{
					ID:       1,
					Prompt:   "Pick a",
					Kind:     models.SingleChoice,
					Options:  datatypes.NewJSONType([]models.QuestionOption{{Value: "a"}, {Value: "b"}}),
					Solution: datatypes.JSON(`"a"`),
				},
			},
			{
				AssessmentID: testAssessmentID,
				QuestionID:   2,
				Position:     1,
				Points:       1,
				Question: models.Question{
					ID:       2,
					Prompt:   "6 x 7",
					Kind:     models.Number,
					Solution: datatypes.JSON(`42`),
				},
			},
		},
	}
}

type testServices struct {
	repo      *fakeRepository
	cache     *cache.CacheManager
	publisher *events.MockEventPublisher
	attempts  *attemptService
	progress  *progressService
	results   *resultService
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServices(t *testing.T, repo *fakeRepository, cm *cache.CacheManager) *testServices {
	t.Helper()

	if cm == nil {
		cm = cache.NewCacheManager(nil)
	}
	logger := newTestLogger()
	publisher := events.NewMockEventPublisher(logger)

	attempts := newAttemptService(repo, cm, publisher, nil, logger, validator.New(), AttemptOptions{})
	return &testServices{
		repo:      repo,
		cache:     cm,
		publisher: publisher,
		attempts:  attempts,
		progress:  newProgressService(attempts),
		results:   newResultService(repo, cm, logger, time.Minute),
	}
}

// submit starts an attempt for the student and finalizes it with answers
func (ts *testServices) submit(t *testing.T, studentID string, answers map[string]string, consumed int) *models.Attempt {
	t.Helper()
	ctx := context.Background()

	started, err := ts.attempts.StartOrResume(ctx, studentID, testAssessmentID, false)
	if err != nil {
		t.Fatalf("start for %s: %v", studentID, err)
	}
	if _, err := ts.attempts.Autosave(ctx, started.AttemptID, answers, consumed); err != nil {
		t.Fatalf("autosave for %s: %v", studentID, err)
	}
	finalized, err := ts.attempts.Finalize(ctx, started.AttemptID, consumed, "")
	if err != nil {
		t.Fatalf("finalize for %s: %v", studentID, err)
	}
	return finalized
}

func intPtr(v int) *int    { return &v }
func uintPtr(v uint) *uint { return &v }

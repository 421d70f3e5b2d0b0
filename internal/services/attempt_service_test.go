package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/SAP-F-2025/attempt-service/internal/events"
	"github.com/SAP-F-2025/attempt-service/internal/models"
)

func TestStartOrResume_CreatesThenResumes(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ctx := context.Background()

	first, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("StartOrResume() error = %v", err)
	}
	if first.Resumed {
		t.Error("first start should not be a resume")
	}
	if first.State != models.AttemptInProgress {
		t.Errorf("State = %s, want %s", first.State, models.AttemptInProgress)
	}
	if first.TimeRemaining != 600 {
		t.Errorf("TimeRemaining = %d, want 600", first.TimeRemaining)
	}

	records, _ := ts.repo.Answer().GetByAttempt(ctx, first.AttemptID)
	if len(records) != 2 {
		t.Fatalf("placeholders = %d, want 2", len(records))
	}
	for _, r := range records {
		if r.IsCorrect != nil || r.RawAnswer != nil {
			t.Errorf("placeholder for question %d is already evaluated", r.QuestionID)
		}
	}

	second, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("StartOrResume() second call error = %v", err)
	}
	if !second.Resumed || second.AttemptID != first.AttemptID {
		t.Errorf("second call = (%d, resumed=%v), want resume of %d", second.AttemptID, second.Resumed, first.AttemptID)
	}

	if got := len(ts.publisher.EventsOfType(events.AttemptStarted)); got != 1 {
		t.Errorf("started events = %d, want 1", got)
	}
}

func TestStartOrResume_ConcurrentStartsShareOneAttempt(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)

	const workers = 8
	ids := make([]uint, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := ts.attempts.StartOrResume(context.Background(), "student-1", testAssessmentID, false)
			errs[i] = err
			if err == nil {
				ids[i] = resp.AttemptID
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("worker %d got attempt %d, want %d", i, ids[i], ids[0])
		}
	}
	if got := ts.repo.attemptCount(); got != 1 {
		t.Errorf("stored attempts = %d, want 1", got)
	}
}

func TestStartOrResume_LosesRaceToConcurrentCreate(t *testing.T) {
	repo := newFakeRepository(newTestAssessment())
	ts := newTestServices(t, repo, nil)

	var competitor uint
	repo.beforeCreate = func(*models.Attempt) {
		competitor = repo.seedAttempt(&models.Attempt{
			StudentID:    "student-1",
			AssessmentID: testAssessmentID,
			State:        models.AttemptInProgress,
			TimeBudget:   600,
		})
	}

	resp, err := ts.attempts.StartOrResume(context.Background(), "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("StartOrResume() error = %v", err)
	}
	if !resp.Resumed || resp.AttemptID != competitor {
		t.Errorf("got (%d, resumed=%v), want resume of competitor %d", resp.AttemptID, resp.Resumed, competitor)
	}
	if got := repo.attemptCount(); got != 1 {
		t.Errorf("stored attempts = %d, want 1", got)
	}
}

func TestStartOrResume_AttemptCap(t *testing.T) {
	assessment := newTestAssessment()
	assessment.MaxAttempts = 3
	repo := newFakeRepository(assessment)
	ts := newTestServices(t, repo, nil)

	for _, state := range []models.AttemptState{models.AttemptSubmitted, models.AttemptExpired, models.AttemptVoided} {
		repo.seedAttempt(&models.Attempt{
			StudentID:    "student-1",
			AssessmentID: testAssessmentID,
			State:        state,
			TimeBudget:   600,
		})
	}

	_, err := ts.attempts.StartOrResume(context.Background(), "student-1", testAssessmentID, false)
	if !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Fatalf("error = %v, want %v", err, ErrAttemptLimitExceeded)
	}
	if got := repo.attemptCount(); got != 3 {
		t.Errorf("stored attempts = %d, want 3", got)
	}

	// Another student is not affected
	if _, err := ts.attempts.StartOrResume(context.Background(), "student-2", testAssessmentID, false); err != nil {
		t.Errorf("other student: %v", err)
	}
}

func TestStartOrResume_Errors(t *testing.T) {
	tests := []struct {
		name         string
		assessmentID uint
		entitlements EntitlementChecker
		wantErr      error
	}{
		{
			name:         "unknown assessment",
			assessmentID: 99,
			wantErr:      ErrAssessmentNotFound,
		},
		{
			name:         "not entitled",
			assessmentID: testAssessmentID,
			entitlements: denyEntitlements{},
			wantErr:      ErrNotEntitled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
			if tt.entitlements != nil {
				ts.attempts.entitlements = tt.entitlements
			}

			_, err := ts.attempts.StartOrResume(context.Background(), "student-1", tt.assessmentID, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type denyEntitlements struct{}

func (denyEntitlements) CanStart(ctx context.Context, studentID string, assessmentID uint) error {
	return errors.New("enrollment expired")
}

func TestStartOrResume_ForceNew(t *testing.T) {
	ctx := context.Background()

	t.Run("supersedes the in-progress attempt", func(t *testing.T) {
		assessment := newTestAssessment()
		assessment.AllowRestart = true
		ts := newTestServices(t, newFakeRepository(assessment), nil)

		first, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		second, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, true)
		if err != nil {
			t.Fatalf("force start: %v", err)
		}
		if second.AttemptID == first.AttemptID || second.Resumed {
			t.Fatalf("force start returned %d (resumed=%v), want a new attempt", second.AttemptID, second.Resumed)
		}

		old := ts.repo.stored(first.AttemptID)
		if old.State != models.AttemptVoided {
			t.Errorf("old state = %s, want %s", old.State, models.AttemptVoided)
		}
		if old.EndReason == nil || *old.EndReason != models.EndReasonSuperseded {
			t.Errorf("old end reason = %v, want %s", old.EndReason, models.EndReasonSuperseded)
		}
		if got := len(ts.publisher.EventsOfType(events.AttemptVoided)); got != 1 {
			t.Errorf("voided events = %d, want 1", got)
		}
	})

	t.Run("restart not allowed", func(t *testing.T) {
		ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)

		if _, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false); err != nil {
			t.Fatalf("start: %v", err)
		}
		_, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, true)
		if !errors.Is(err, ErrRestartNotAllowed) {
			t.Errorf("error = %v, want %v", err, ErrRestartNotAllowed)
		}
	})

	t.Run("supersede would exceed the cap", func(t *testing.T) {
		assessment := newTestAssessment()
		assessment.AllowRestart = true
		assessment.MaxAttempts = 1
		ts := newTestServices(t, newFakeRepository(assessment), nil)

		first, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		_, err = ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, true)
		if !errors.Is(err, ErrAttemptLimitExceeded) {
			t.Fatalf("error = %v, want %v", err, ErrAttemptLimitExceeded)
		}
		if got := ts.repo.stored(first.AttemptID).State; got != models.AttemptInProgress {
			t.Errorf("in-progress attempt state = %s, want it untouched", got)
		}
	})
}

func TestGetByID_HidesOtherStudentsAttempts(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ctx := context.Background()

	started, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := ts.attempts.GetByID(ctx, started.AttemptID, "student-1"); err != nil {
		t.Errorf("owner: %v", err)
	}
	if _, err := ts.attempts.GetByID(ctx, started.AttemptID, "student-2"); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("other student error = %v, want %v", err, ErrAttemptNotFound)
	}
}

func TestFinalize_ScoresSavedAnswers(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ctx := context.Background()

	finalized := ts.submit(t, "student-1", map[string]string{"1": "a", "2": "41"}, 130)

	if finalized.State != models.AttemptSubmitted {
		t.Errorf("State = %s, want %s", finalized.State, models.AttemptSubmitted)
	}
	if finalized.Points != 1 || finalized.TotalPoints != 2 || finalized.Percentage != 50 {
		t.Errorf("score = %v/%v (%d%%), want 1/2 (50%%)", finalized.Points, finalized.TotalPoints, finalized.Percentage)
	}
	if finalized.ConsumedTime != 130 {
		t.Errorf("ConsumedTime = %d, want 130", finalized.ConsumedTime)
	}
	if finalized.EndReason == nil || *finalized.EndReason != models.EndReasonSubmitted {
		t.Errorf("EndReason = %v, want %s", finalized.EndReason, models.EndReasonSubmitted)
	}
	if finalized.SubmittedAt == nil {
		t.Error("SubmittedAt not set")
	}

	records, _ := ts.repo.Answer().GetByAttempt(ctx, finalized.ID)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	wantCorrect := map[uint]bool{1: true, 2: false}
	for _, r := range records {
		if r.IsCorrect == nil || r.EvaluatedAt == nil {
			t.Errorf("question %d not evaluated", r.QuestionID)
			continue
		}
		if *r.IsCorrect != wantCorrect[r.QuestionID] {
			t.Errorf("question %d correct = %v, want %v", r.QuestionID, *r.IsCorrect, wantCorrect[r.QuestionID])
		}
	}

	published := ts.publisher.EventsOfType(events.AttemptFinalized)
	if len(published) != 1 {
		t.Fatalf("finalized events = %d, want 1", len(published))
	}
	if published[0].Source != events.EventSource || published[0].Version != events.EventVersion {
		t.Errorf("event envelope = (%s, %s)", published[0].Source, published[0].Version)
	}
}

func TestFinalize_IsIdempotent(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ctx := context.Background()

	first := ts.submit(t, "student-1", map[string]string{"1": "a", "2": "42"}, 60)

	again, err := ts.attempts.Finalize(ctx, first.ID, 300, "")
	if err != nil {
		t.Fatalf("second Finalize() error = %v", err)
	}
	if again.ConsumedTime != first.ConsumedTime || !again.SubmittedAt.Equal(*first.SubmittedAt) {
		t.Errorf("second finalize changed the attempt: %+v", again)
	}
	if got := len(ts.publisher.EventsOfType(events.AttemptFinalized)); got != 1 {
		t.Errorf("finalized events = %d, want 1", got)
	}
}

func TestFinalize_ClampsConsumedTime(t *testing.T) {
	tests := []struct {
		name     string
		consumed int
		want     int
	}{
		{"negative", -5, 0},
		{"within budget", 200, 200},
		{"over budget", 9999, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
			ctx := context.Background()

			started, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			finalized, err := ts.attempts.Finalize(ctx, started.AttemptID, tt.consumed, "")
			if err != nil {
				t.Fatalf("Finalize() error = %v", err)
			}
			if finalized.ConsumedTime != tt.want {
				t.Errorf("ConsumedTime = %d, want %d", finalized.ConsumedTime, tt.want)
			}
		})
	}
}

func TestExpire_UsesFullBudget(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ctx := context.Background()

	started, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ts.attempts.Autosave(ctx, started.AttemptID, map[string]string{"2": "42"}, 500); err != nil {
		t.Fatalf("autosave: %v", err)
	}

	expired, err := ts.attempts.Expire(ctx, started.AttemptID)
	if err != nil {
		t.Fatalf("Expire() error = %v", err)
	}
	if expired.State != models.AttemptExpired {
		t.Errorf("State = %s, want %s", expired.State, models.AttemptExpired)
	}
	if expired.ConsumedTime != 600 {
		t.Errorf("ConsumedTime = %d, want 600", expired.ConsumedTime)
	}
	if expired.EndReason == nil || *expired.EndReason != models.EndReasonTimeExhausted {
		t.Errorf("EndReason = %v, want %s", expired.EndReason, models.EndReasonTimeExhausted)
	}
	if expired.Points != 1 {
		t.Errorf("Points = %v, want 1 from the saved answers", expired.Points)
	}
}

func TestAutosave_MergesAnswers(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ctx := context.Background()

	started, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ts.attempts.Autosave(ctx, started.AttemptID, map[string]string{"1": "b"}, 10); err != nil {
		t.Fatalf("first autosave: %v", err)
	}
	saved, err := ts.attempts.Autosave(ctx, started.AttemptID, map[string]string{"1": "a", "2": "7"}, 20)
	if err != nil {
		t.Fatalf("second autosave: %v", err)
	}

	answers := saved.SnapshotAnswers()
	if answers["1"] != "a" || answers["2"] != "7" {
		t.Errorf("answers = %v, want last write per question", answers)
	}
	if saved.ConsumedTime != 20 {
		t.Errorf("ConsumedTime = %d, want 20", saved.ConsumedTime)
	}
	if saved.State != models.AttemptInProgress {
		t.Errorf("State = %s, want %s", saved.State, models.AttemptInProgress)
	}
}

func TestTerminalAttemptsRejectTransitions(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ctx := context.Background()

	submitted := ts.submit(t, "student-1", map[string]string{"1": "a"}, 30)

	if _, err := ts.attempts.Autosave(ctx, submitted.ID, map[string]string{"1": "b"}, 40); !errors.Is(err, ErrAttemptTerminal) {
		t.Errorf("Autosave() error = %v, want %v", err, ErrAttemptTerminal)
	}
	if _, err := ts.attempts.Void(ctx, submitted.ID, ""); !errors.Is(err, ErrAttemptTerminal) {
		t.Errorf("Void() error = %v, want %v", err, ErrAttemptTerminal)
	}
	if got := ts.repo.stored(submitted.ID).SnapshotAnswers()["1"]; got != "a" {
		t.Errorf("snapshot changed after submit: %q", got)
	}
}

func TestVoid(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ctx := context.Background()

	started, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	voided, err := ts.attempts.Void(ctx, started.AttemptID, "")
	if err != nil {
		t.Fatalf("Void() error = %v", err)
	}
	if voided.State != models.AttemptVoided {
		t.Errorf("State = %s, want %s", voided.State, models.AttemptVoided)
	}
	if voided.EndReason == nil || *voided.EndReason != models.EndReasonVoided {
		t.Errorf("EndReason = %v, want %s", voided.EndReason, models.EndReasonVoided)
	}

	if _, err := ts.attempts.Finalize(ctx, started.AttemptID, 10, ""); !errors.Is(err, ErrAttemptTerminal) {
		t.Errorf("Finalize() after void error = %v, want %v", err, ErrAttemptTerminal)
	}
	if _, err := ts.attempts.Void(ctx, 404, ""); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("Void() unknown error = %v, want %v", err, ErrAttemptNotFound)
	}

	// The slot is free again
	next, err := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("start after void: %v", err)
	}
	if next.AttemptID == started.AttemptID {
		t.Error("start after void resumed the voided attempt")
	}
}

func TestSweepStale(t *testing.T) {
	repo := newFakeRepository(newTestAssessment())
	ts := newTestServices(t, repo, nil)
	ctx := context.Background()

	outOfTime, _ := ts.attempts.StartOrResume(ctx, "student-1", testAssessmentID, false)
	idle, _ := ts.attempts.StartOrResume(ctx, "student-2", testAssessmentID, false)
	fresh, _ := ts.attempts.StartOrResume(ctx, "student-3", testAssessmentID, false)

	if _, err := ts.attempts.Autosave(ctx, outOfTime.AttemptID, map[string]string{"1": "a"}, 600); err != nil {
		t.Fatalf("autosave: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	repo.touch(outOfTime.AttemptID, old)
	repo.touch(idle.AttemptID, old)

	if _, err := ts.attempts.SweepStale(ctx, 0); !IsValidation(err) {
		t.Errorf("SweepStale(0) error = %v, want validation error", err)
	}

	result, err := ts.attempts.SweepStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepStale() error = %v", err)
	}
	if result.Expired != 1 || result.Voided != 1 {
		t.Errorf("result = %+v, want 1 expired and 1 voided", result)
	}

	wantStates := map[uint]models.AttemptState{
		outOfTime.AttemptID: models.AttemptExpired,
		idle.AttemptID:      models.AttemptVoided,
		fresh.AttemptID:     models.AttemptInProgress,
	}
	for id, want := range wantStates {
		if got := repo.stored(id).State; got != want {
			t.Errorf("attempt %d state = %s, want %s", id, got, want)
		}
	}
	if reason := repo.stored(idle.AttemptID).EndReason; reason == nil || *reason != models.EndReasonStale {
		t.Errorf("idle end reason = %v, want %s", reason, models.EndReasonStale)
	}
}

func TestWallClockExpiry(t *testing.T) {
	ts := newTestServices(t, newFakeRepository(newTestAssessment()), nil)
	ts.attempts.options = AttemptOptions{EnforceWallClock: true, WallClockGrace: 30 * time.Second}

	attempt := &models.Attempt{
		State:      models.AttemptInProgress,
		TimeBudget: 600,
		StartedAt:  time.Now().Add(-20 * time.Minute),
		Progress:   datatypes.NewJSONType(models.ProgressSnapshot{}),
	}
	if !ts.attempts.isExpired(attempt) {
		t.Error("attempt started 20 minutes ago with a 10 minute budget should be expired")
	}

	attempt.StartedAt = time.Now().Add(-5 * time.Minute)
	if ts.attempts.isExpired(attempt) {
		t.Error("attempt within its budget should not be expired")
	}
}

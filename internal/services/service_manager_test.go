package services

import (
	"context"
	"errors"
	"testing"

	"github.com/SAP-F-2025/attempt-service/internal/events"
	"github.com/SAP-F-2025/attempt-service/internal/validator"
)

func newTestDependencies(repo *fakeRepository) ServiceDependencies {
	logger := newTestLogger()
	return ServiceDependencies{
		Repo:      repo,
		Publisher: events.NewMockEventPublisher(logger),
		Logger:    logger,
		Validator: validator.New(),
	}
}

func TestServiceManager_Lifecycle(t *testing.T) {
	repo := newFakeRepository(newTestAssessment())
	sm := NewDefaultServiceManager(newTestDependencies(repo))
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Error("getter before Initialize should panic")
			}
		}()
		sm.Attempt()
	}()

	if err := sm.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if sm.Attempt() == nil || sm.Progress() == nil || sm.Result() == nil || sm.Export() == nil {
		t.Fatal("services not wired")
	}

	// Progress and attempts share state through the same repository
	started, err := sm.Attempt().StartOrResume(ctx, "student-1", testAssessmentID, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := sm.Progress().SaveProgress(ctx, "student-1", &SaveProgressRequest{
		AssessmentID: uintPtr(testAssessmentID),
		ConsumedTime: intPtr(3),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if resp.AttemptID != started.AttemptID {
		t.Errorf("implicit save landed on %d, want %d", resp.AttemptID, started.AttemptID)
	}

	if err := sm.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	repo.pingErr = errors.New("connection refused")
	if err := sm.HealthCheck(ctx); !IsTransient(err) {
		t.Errorf("HealthCheck() error = %v, want transient", err)
	}

	if err := sm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := sm.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after shutdown should fail")
	}
}

func TestServiceManagerConfig_Validate(t *testing.T) {
	cfg := DefaultServiceManagerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.DefaultTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero timeout accepted")
	}
}

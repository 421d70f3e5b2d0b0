package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/SAP-F-2025/attempt-service/internal/models"
)

const (
	EventSource  = "attempt-service"
	EventVersion = "1.0"
)

// Event types
const (
	AttemptStarted   = "attempt.started"
	AttemptFinalized = "attempt.finalized"
	AttemptVoided    = "attempt.voided"
)

// Event is the envelope published for every lifecycle change
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// EventPublisher publishes lifecycle events
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NewEvent wraps data in an envelope with a fresh id
func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    EventSource,
		Version:   EventVersion,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type AttemptStartedEvent struct {
	AttemptID    uint   `json:"attempt_id"`
	StudentID    string `json:"student_id"`
	AssessmentID uint   `json:"assessment_id"`
	TimeBudget   int    `json:"time_budget"`
}

// AttemptFinalizedEvent is published for ENVIADO and EXPIRADO
type AttemptFinalizedEvent struct {
	AttemptID    uint                `json:"attempt_id"`
	StudentID    string              `json:"student_id"`
	AssessmentID uint                `json:"assessment_id"`
	State        models.AttemptState `json:"state"`
	EndReason    string              `json:"end_reason"`
	Points       float64             `json:"points"`
	TotalPoints  float64             `json:"total_points"`
	Percentage   int                 `json:"percentage"`
	ConsumedTime int                 `json:"consumed_time"`
}

type AttemptVoidedEvent struct {
	AttemptID    uint   `json:"attempt_id"`
	StudentID    string `json:"student_id"`
	AssessmentID uint   `json:"assessment_id"`
	Reason       string `json:"reason"`
}

func NewAttemptStartedEvent(attempt *models.Attempt) *Event {
	return NewEvent(AttemptStarted, AttemptStartedEvent{
		AttemptID:    attempt.ID,
		StudentID:    attempt.StudentID,
		AssessmentID: attempt.AssessmentID,
		TimeBudget:   attempt.TimeBudget,
	})
}

func NewAttemptFinalizedEvent(attempt *models.Attempt) *Event {
	data := AttemptFinalizedEvent{
		AttemptID:    attempt.ID,
		StudentID:    attempt.StudentID,
		AssessmentID: attempt.AssessmentID,
		State:        attempt.State,
		Points:       attempt.Points,
		TotalPoints:  attempt.TotalPoints,
		Percentage:   attempt.Percentage,
		ConsumedTime: attempt.ConsumedTime,
	}
	if attempt.EndReason != nil {
		data.EndReason = *attempt.EndReason
	}
	return NewEvent(AttemptFinalized, data)
}

func NewAttemptVoidedEvent(attempt *models.Attempt) *Event {
	data := AttemptVoidedEvent{
		AttemptID:    attempt.ID,
		StudentID:    attempt.StudentID,
		AssessmentID: attempt.AssessmentID,
	}
	if attempt.EndReason != nil {
		data.Reason = *attempt.EndReason
	}
	return NewEvent(AttemptVoided, data)
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

type AttemptState string

const (
	AttemptInProgress AttemptState = "EN_PROGRESO"
	AttemptSubmitted  AttemptState = "ENVIADO"
	AttemptExpired    AttemptState = "EXPIRADO"
	AttemptVoided     AttemptState = "ANULADO"
)

// IsTerminal reports whether no further transition can leave this state
func (s AttemptState) IsTerminal() bool {
	return s == AttemptSubmitted || s == AttemptExpired || s == AttemptVoided
}

// IsScored reports whether attempts in this state carry a result
func (s AttemptState) IsScored() bool {
	return s == AttemptSubmitted || s == AttemptExpired
}

// TerminalStates lists every terminal state, used for attempt-cap counting
var TerminalStates = []AttemptState{AttemptSubmitted, AttemptExpired, AttemptVoided}

// ScoredStates lists the states that take part in results and rankings
var ScoredStates = []AttemptState{AttemptSubmitted, AttemptExpired}

const (
	EndReasonSubmitted     = "submitted"
	EndReasonTimeExhausted = "time_exhausted"
	EndReasonVoided        = "voided"
	EndReasonSuperseded    = "superseded"
	EndReasonStale         = "stale"
)

// ProgressSnapshot is the client working copy as last saved by the server
type ProgressSnapshot struct {
	Answers map[string]string `json:"answers"`
	SavedAt *time.Time        `json:"saved_at,omitempty"`
}

// Attempt is one student's timed run through an assessment.
// The partial unique index keeps at most one EN_PROGRESO attempt per (student, assessment).
type Attempt struct {
	ID           uint         `json:"id" gorm:"primaryKey"`
	StudentID    string       `json:"student_id" gorm:"not null;size:255;index;uniqueIndex:idx_attempts_active_slot,where:state = 'EN_PROGRESO'"`
	AssessmentID uint         `json:"assessment_id" gorm:"not null;index;uniqueIndex:idx_attempts_active_slot,where:state = 'EN_PROGRESO'"`
	State        AttemptState `json:"state" gorm:"not null;size:20;default:EN_PROGRESO;index"`

	// Timing
	StartedAt    time.Time  `json:"started_at" gorm:"not null"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	TimeBudget   int        `json:"time_budget" gorm:"not null"` // seconds
	ConsumedTime int        `json:"consumed_time" gorm:"not null;default:0"`

	Progress datatypes.JSONType[ProgressSnapshot] `json:"progress" gorm:"type:jsonb"`

	// Result, written once at finalize
	Points           float64 `json:"points"`
	TotalPoints      float64 `json:"total_points"`
	Percentage       int     `json:"percentage"`
	SubmissionDigest *string `json:"-" gorm:"size:64"`
	EndReason        *string `json:"end_reason" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Answers []AnswerRecord `json:"answers,omitempty" gorm:"foreignKey:AttemptID;constraint:OnDelete:CASCADE"`
}

// SnapshotAnswers returns the saved answers, never nil
func (a *Attempt) SnapshotAnswers() map[string]string {
	answers := a.Progress.Data().Answers
	if answers == nil {
		return map[string]string{}
	}
	return answers
}

// AnswerRecord is the per-question row of an attempt, unique on (attempt, question)
type AnswerRecord struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;uniqueIndex:idx_answer_records_attempt_question"`
	QuestionID uint `json:"question_id" gorm:"not null;uniqueIndex:idx_answer_records_attempt_question;index"`
	Position   int  `json:"position" gorm:"not null;default:0"`

	RawAnswer   *string    `json:"raw_answer" gorm:"type:text"`
	IsCorrect   *bool      `json:"is_correct"` // null until evaluated
	Points      float64    `json:"points"`
	MaxPoints   float64    `json:"max_points"`
	EvaluatedAt *time.Time `json:"evaluated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Attempt) TableName() string {
	return "attempts"
}

func (AnswerRecord) TableName() string {
	return "answer_records"
}

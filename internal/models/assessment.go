package models

import (
	"time"

	"gorm.io/gorm"
)

type AssessmentKind string

const (
	AssessmentBank       AssessmentKind = "banco"
	AssessmentEvaluation AssessmentKind = "evaluacion"
)

type Assessment struct {
	ID    uint           `json:"id" gorm:"primaryKey"`
	Title string         `json:"title" gorm:"not null;size:200;index"`
	Kind  AssessmentKind `json:"kind" gorm:"not null;size:20;default:banco"`

	TimeBudget   int  `json:"time_budget" gorm:"not null"`          // seconds
	MaxAttempts  int  `json:"max_attempts" gorm:"not null;default:0"` // terminal attempts per student, 0 = unlimited
	AllowRestart bool `json:"allow_restart" gorm:"not null;default:false"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Questions []AssessmentQuestion `json:"questions" gorm:"foreignKey:AssessmentID"`
}

// HasAttemptCap reports whether terminal attempts are capped for this assessment
func (a *Assessment) HasAttemptCap() bool {
	return a.MaxAttempts > 0
}

// AssessmentQuestion places a question at a fixed position of an assessment
type AssessmentQuestion struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	AssessmentID uint `json:"assessment_id" gorm:"not null;uniqueIndex:idx_assessment_question"`
	QuestionID   uint `json:"question_id" gorm:"not null;uniqueIndex:idx_assessment_question"`
	Position     int  `json:"position" gorm:"not null;default:0"`
	Points       int  `json:"points" gorm:"not null;default:1"`

	Question Question `json:"question" gorm:"foreignKey:QuestionID"`
}

func (Assessment) TableName() string {
	return "assessments"
}

func (AssessmentQuestion) TableName() string {
	return "assessment_questions"
}

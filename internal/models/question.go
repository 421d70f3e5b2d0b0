package models

import (
	"time"

	"gorm.io/datatypes"
)

type AnswerKind string

const (
	SingleChoice AnswerKind = "SINGLE_CHOICE"
	MultiChoice  AnswerKind = "MULTI_CHOICE"
	Number       AnswerKind = "NUMBER"
	OpenText     AnswerKind = "OPEN_TEXT"
)

// IsChoice reports whether answers of this kind select from the question options
func (k AnswerKind) IsChoice() bool {
	return k == SingleChoice || k == MultiChoice
}

// QuestionOption is one selectable option. Media options carry a URL and may leave Value empty.
type QuestionOption struct {
	Value string  `json:"value"`
	Label *string `json:"label,omitempty"`
	URL   *string `json:"url,omitempty"`
}

// Key returns the identifying token of the option, preferring Value over URL
func (o QuestionOption) Key() string {
	if o.Value != "" {
		return o.Value
	}
	if o.URL != nil {
		return *o.URL
	}
	return ""
}

// Question is authored elsewhere and read-only to this service
type Question struct {
	ID     uint       `json:"id" gorm:"primaryKey"`
	Prompt string     `json:"prompt" gorm:"type:text;not null"`
	Kind   AnswerKind `json:"kind" gorm:"not null;index;size:20"`

	Options  datatypes.JSONType[[]QuestionOption] `json:"options" gorm:"type:jsonb"`
	Solution datatypes.JSON                       `json:"solution" gorm:"type:jsonb"` // raw solution value, shape depends on Kind

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Question) TableName() string {
	return "questions"
}

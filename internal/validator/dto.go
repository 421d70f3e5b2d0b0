package validator

// StartAttemptRequest starts or resumes the attempt of the caller
type StartAttemptRequest struct {
	AssessmentID uint `json:"assessment_id" validate:"required,min=1"`
	ForceNew     bool `json:"force_new"`
}

// SaveProgressRequest is one autosave tick. The attempt is referenced either
// explicitly by id or implicitly by assessment.
type SaveProgressRequest struct {
	AttemptID    *uint             `json:"attempt_id" validate:"omitempty,min=1"`
	AssessmentID *uint             `json:"assessment_id" validate:"omitempty,min=1"`
	Answers      map[string]string `json:"answers" validate:"answer_map"`
	ConsumedTime *int              `json:"consumed_time" validate:"required"`
	Finalize     bool              `json:"finalize"`
}

type VoidAttemptRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=64"`
}

// SweepRequest voids or expires in-progress attempts idle for longer than OlderThanMinutes
type SweepRequest struct {
	OlderThanMinutes int `json:"older_than_minutes" validate:"required,min=1,max=43200"`
}

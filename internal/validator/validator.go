package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SAP-F-2025/attempt-service/internal/grading"
)

// MaxAnswerLength bounds a single raw answer
const MaxAnswerLength = 10000

// ValidationError is one rejected field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// Validator wraps go-playground/validator with the request rules of this service
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())

	// Report json names so clients can map errors back to payload fields
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	v := &Validator{validate: validate}
	v.registerRules()

	return v
}

// Validate returns ValidationErrors, or nil when s is valid
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: errorMessage(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

func (v *Validator) registerRules() {
	// Every key of an answer map must be a question id and every value bounded
	v.validate.RegisterValidation("answer_map", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.Map {
			return false
		}
		iter := field.MapRange()
		for iter.Next() {
			if _, err := grading.ParseQuestionKey(iter.Key().String()); err != nil {
				return false
			}
			if len(iter.Value().String()) > MaxAnswerLength {
				return false
			}
		}
		return true
	})

	v.validate.RegisterStructValidation(validateAttemptRef, SaveProgressRequest{})
}

// validateAttemptRef requires exactly one of attempt_id and assessment_id
func validateAttemptRef(sl validator.StructLevel) {
	req := sl.Current().Interface().(SaveProgressRequest)
	hasAttempt := req.AttemptID != nil
	hasAssessment := req.AssessmentID != nil
	if hasAttempt == hasAssessment {
		sl.ReportError(req.AttemptID, "attempt_id", "AttemptID", "attempt_ref", "")
	}
}

func errorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "answer_map":
		return "keys must be question ids and answers at most 10000 characters"
	case "attempt_ref":
		return "exactly one of attempt_id or assessment_id is required"
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

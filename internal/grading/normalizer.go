// Package grading turns raw answers and stored solutions into comparable values,
// scores attempts and aggregates cohort results. Everything here is pure.
package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/SAP-F-2025/attempt-service/internal/models"
)

var ErrUnknownAnswerKind = errors.New("unknown answer kind")

// Shape tags the variant held by a CanonicalValue
type Shape int

const (
	ShapeChoice Shape = iota + 1
	ShapeChoices
	ShapeNumber
	ShapeText
)

func (s Shape) String() string {
	switch s {
	case ShapeChoice:
		return "choice"
	case ShapeChoices:
		return "choices"
	case ShapeNumber:
		return "number"
	case ShapeText:
		return "text"
	default:
		return "unknown"
	}
}

// CanonicalValue is the normalized form of an answer or a solution.
// A nil *CanonicalValue means "no value" and never compares equal.
type CanonicalValue struct {
	shape  Shape
	token  string
	tokens map[string]struct{}
	number float64
}

func Choice(token string) *CanonicalValue {
	return &CanonicalValue{shape: ShapeChoice, token: token}
}

func Choices(tokens ...string) *CanonicalValue {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return &CanonicalValue{shape: ShapeChoices, tokens: set}
}

func Number(n float64) *CanonicalValue {
	return &CanonicalValue{shape: ShapeNumber, number: n}
}

func Text(token string) *CanonicalValue {
	return &CanonicalValue{shape: ShapeText, token: token}
}

func (v *CanonicalValue) Shape() Shape { return v.shape }

// Token returns the single token of a Choice or Text value
func (v *CanonicalValue) Token() string { return v.token }

// Float returns the value of a Number
func (v *CanonicalValue) Float() float64 { return v.number }

// Tokens returns the members of a Choices value, or the single token of a Choice
func (v *CanonicalValue) Tokens() []string {
	switch v.shape {
	case ShapeChoices:
		out := make([]string, 0, len(v.tokens))
		for t := range v.tokens {
			out = append(out, t)
		}
		return out
	case ShapeChoice:
		return []string{v.token}
	default:
		return nil
	}
}

func (v *CanonicalValue) String() string {
	if v == nil {
		return "<nil>"
	}
	switch v.shape {
	case ShapeNumber:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case ShapeChoices:
		return fmt.Sprintf("%v", v.Tokens())
	default:
		return v.token
	}
}

// Equal compares two canonical values. nil never equals anything, not even nil.
func Equal(a, b *CanonicalValue) bool {
	if a == nil || b == nil {
		return false
	}
	if a.shape != b.shape {
		return false
	}

	switch a.shape {
	case ShapeNumber:
		return a.number == b.number
	case ShapeChoices:
		if len(a.tokens) != len(b.tokens) {
			return false
		}
		for t := range b.tokens {
			if _, ok := a.tokens[t]; !ok {
				return false
			}
		}
		return true
	default:
		return a.token == b.token
	}
}

// ParseAnswer converts a submitted raw answer into its canonical value.
// Absent, blank or malformed input yields nil without error; only an unknown kind is an error.
func ParseAnswer(raw *string, kind models.AnswerKind) (*CanonicalValue, error) {
	if raw == nil {
		return checkKind(kind)
	}

	text := strings.TrimSpace(*raw)
	if text == "" {
		return checkKind(kind)
	}

	switch kind {
	case models.Number:
		return parseNumberText(text), nil
	case models.MultiChoice:
		return parseChoiceSet([]byte(text)), nil
	case models.SingleChoice:
		return choiceFromText(text), nil
	case models.OpenText:
		return textToken(text), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnswerKind, kind)
	}
}

// ParseSolution converts a stored solution (raw JSON) into its canonical value
func ParseSolution(raw json.RawMessage, kind models.AnswerKind) (*CanonicalValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return checkKind(kind)
	}

	switch kind {
	case models.Number:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err == nil {
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil, nil
			}
			return Number(n), nil
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return parseNumberText(s), nil
		}
		return nil, nil
	case models.MultiChoice:
		return parseChoiceSet(trimmed), nil
	case models.SingleChoice:
		token := extractOptionValue(trimmed)
		if token == "" {
			return nil, nil
		}
		return Choice(token), nil
	case models.OpenText:
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return textToken(s), nil
		}
		return textToken(string(trimmed)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnswerKind, kind)
	}
}

func checkKind(kind models.AnswerKind) (*CanonicalValue, error) {
	switch kind {
	case models.SingleChoice, models.MultiChoice, models.Number, models.OpenText:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAnswerKind, kind)
	}
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func textToken(s string) *CanonicalValue {
	token := normalizeToken(s)
	if token == "" {
		return nil
	}
	return Text(token)
}

func parseNumberText(s string) *CanonicalValue {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	return Number(n)
}

// choiceFromText accepts a bare token, a JSON string or a JSON option object
func choiceFromText(text string) *CanonicalValue {
	token := ""
	switch text[0] {
	case '{', '"':
		token = extractOptionValue([]byte(text))
	default:
		token = normalizeToken(text)
	}
	if token == "" {
		return nil
	}
	return Choice(token)
}

func parseChoiceSet(raw []byte) *CanonicalValue {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil
	}

	tokens := make([]string, 0, len(elems))
	for _, elem := range elems {
		if token := extractOptionValue(elem); token != "" {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	return Choices(tokens...)
}

// extractOptionValue reads one option reference: a string, a number,
// or an option object whose value wins over its url.
func extractOptionValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return normalizeToken(s)
	case '{':
		var opt struct {
			Value json.RawMessage `json:"value"`
			URL   *string         `json:"url"`
		}
		if err := json.Unmarshal(raw, &opt); err != nil {
			return ""
		}
		if token := extractOptionValue(opt.Value); token != "" {
			return token
		}
		if opt.URL != nil {
			return normalizeToken(*opt.URL)
		}
		return ""
	case 'n', '[':
		return ""
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return normalizeToken(string(raw))
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
}

package grading

import (
	"context"
	"errors"
	"strings"
)

// Q is a minimal view of a question needed for grading.
type Q struct {
	Type   string
	Points float64
	// AnswerKey holds the accepted option labels, e.g. ["C"].
	AnswerKey []string
}

// Result is the outcome of grading a single question response.
type Result struct {
	AutoPoints float64 // points awarded automatically
	MaxPoints  float64
	Correct    bool
	Skipped    bool // no response given
}

// Strategy grades a single question.
type Strategy interface {
	Grade(ctx context.Context, q Q, response any) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, response any) (Result, error)
}

var ErrNoStrategy = errors.New("no grading strategy for question type")

const (
	TypeMCQSingle = "mcq_single"
	TypeTrueFalse = "true_false"
)

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, response any) (Result, error) {
	typ := q.Type
	if typ == "" {
		typ = TypeMCQSingle
	}
	s, ok := g.strategies[typ]
	if !ok {
		return Result{MaxPoints: q.Points}, ErrNoStrategy
	}
	return s.Grade(ctx, q, response)
}

// NewDefaultGrader installs built-in strategies.
func NewDefaultGrader() Grader {
	return &defaultGrader{
		strategies: map[string]Strategy{
			TypeMCQSingle: labelStrategy{},
			TypeTrueFalse: labelStrategy{},
		},
	}
}

// --- Strategies ---

// labelStrategy compares the selected option label with the key, ignoring case
// and surrounding blanks.
type labelStrategy struct{}

func (labelStrategy) Grade(_ context.Context, q Q, response any) (Result, error) {
	res := Result{MaxPoints: q.Points}
	if response == nil {
		res.Skipped = true
		return res, nil
	}
	resp, ok := response.(string)
	if !ok {
		return res, errors.New("response must be string")
	}
	resp = normalizeLabel(resp)
	if resp == "" {
		res.Skipped = true
		return res, nil
	}
	for _, k := range q.AnswerKey {
		if resp == normalizeLabel(k) {
			res.AutoPoints = q.Points
			res.Correct = true
			return res, nil
		}
	}
	return res, nil
}

func normalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

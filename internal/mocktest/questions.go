package mocktest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/iti-mocktest/internal/docstore"
)

var validate = validator.New()

// Validate checks a question before it enters the bank. The answer label must
// point at an existing option (A is the first one).
func (q Question) Validate() error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}
	idx := int(q.CorrectAnswer[0] - 'A')
	if idx >= len(q.Options) {
		return fmt.Errorf("%w: correct answer %s has no matching option", ErrInvalidQuestion, q.CorrectAnswer)
	}
	return nil
}

func normalizeQuestion(q Question) Question {
	q.Text = strings.TrimSpace(q.Text)
	q.CorrectAnswer = strings.ToUpper(strings.TrimSpace(q.CorrectAnswer))
	q.Year = Year(strings.ToUpper(strings.TrimSpace(string(q.Year))))
	return q
}

// Author is the teacher writing to the bank.
type Author struct {
	UserID   string
	UserName string
}

func (s *Service) CreateQuestion(ctx context.Context, q Question, by Author) (Question, error) {
	q = normalizeQuestion(q)
	q.UserID, q.UserName = by.UserID, by.UserName
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	data, err := docstore.ToData(q)
	if err != nil {
		return Question{}, err
	}
	d, err := s.store.Create(ctx, s.questions, docstore.CreateInput{ID: q.ID, Data: data})
	if err != nil {
		return Question{}, err
	}
	q.ID = d.ID
	return q, nil
}

// UpdateQuestion overwrites a question in place. Papers already generated keep
// their own snapshot.
func (s *Service) UpdateQuestion(ctx context.Context, id string, q Question) (Question, error) {
	cur, err := s.store.Get(ctx, s.questions, id)
	if err != nil {
		return Question{}, err
	}
	var old Question
	if err := cur.Decode(&old); err != nil {
		return Question{}, err
	}
	q = normalizeQuestion(q)
	q.ID = id
	q.UserID, q.UserName = old.UserID, old.UserName
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	data, err := docstore.ToData(q)
	if err != nil {
		return Question{}, err
	}
	// optional attributes dropped by the edit must not linger
	for _, k := range []string{"tags", "images"} {
		if _, ok := data[k]; !ok {
			data[k] = nil
		}
	}
	if _, err := s.store.Update(ctx, s.questions, id, data); err != nil {
		return Question{}, err
	}
	return q, nil
}

type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportResult struct {
	Created int        `json:"created"`
	IDs     []string   `json:"ids"`
	Errors  []RowError `json:"errors,omitempty"`
}

// ImportQuestions stores every valid row and reports the rest by position.
func (s *Service) ImportQuestions(ctx context.Context, qs []Question, by Author) (ImportResult, error) {
	res := ImportResult{IDs: []string{}}
	for i, q := range qs {
		created, err := s.CreateQuestion(ctx, q, by)
		if errors.Is(err, ErrInvalidQuestion) || errors.Is(err, docstore.ErrConflict) {
			res.Errors = append(res.Errors, RowError{Row: i, Error: err.Error()})
			continue
		}
		if err != nil {
			return res, fmt.Errorf("import row %d: %w", i, err)
		}
		res.Created++
		res.IDs = append(res.IDs, created.ID)
	}
	return res, nil
}

type QuestionFilter struct {
	TradeID   string
	SubjectID string
	ModuleID  string
	Year      Year
	Limit     int
	Offset    int
}

type QuestionPage struct {
	Total     int        `json:"total"`
	Questions []Question `json:"questions"`
}

func (s *Service) ListQuestions(ctx context.Context, f QuestionFilter) (QuestionPage, error) {
	var filters []docstore.Filter
	add := func(field, v string) {
		if v != "" {
			filters = append(filters, docstore.Equal(field, v))
		}
	}
	add("tradeId", f.TradeID)
	add("subjectId", f.SubjectID)
	add("moduleId", f.ModuleID)
	add("year", string(f.Year))

	page, err := s.store.List(ctx, s.questions, docstore.Query{Filters: filters, Limit: f.Limit, Offset: f.Offset})
	if err != nil {
		return QuestionPage{}, err
	}
	out := QuestionPage{Total: page.Total, Questions: make([]Question, 0, len(page.Documents))}
	for _, d := range page.Documents {
		var q Question
		if err := d.Decode(&q); err != nil {
			return QuestionPage{}, err
		}
		out.Questions = append(out.Questions, q)
	}
	return out, nil
}

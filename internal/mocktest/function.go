package mocktest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	ActionGenerate = "generateMockTest"
	ActionClone    = "createNewMockTest"
)

// GeneratePayload is the generateMockTest function input.
type GeneratePayload struct {
	UserID          string   `json:"userId" validate:"required"`
	UserName        string   `json:"userName"`
	TradeName       string   `json:"tradeName" validate:"required"`
	TradeID         string   `json:"tradeId" validate:"required"`
	SubjectID       string   `json:"subjectId" validate:"required"`
	Year            Year     `json:"year" validate:"required,oneof=FIRST SECOND"`
	QuesCount       int      `json:"quesCount" validate:"required,min=1,max=500"`
	SelectedModules []string `json:"selectedModules" validate:"dive,required"`
	TotalMinutes    Minutes  `json:"totalMinutes" validate:"max=600"`
}

// Minutes is a paper duration as sent by callers: a JSON number or a numeric
// string. Anything else, and anything not positive, decodes to 0 so the
// service default applies.
type Minutes int

func (m *Minutes) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	switch {
	case math.IsNaN(f) || f <= 0:
		*m = 0
	case f > math.MaxInt32:
		*m = math.MaxInt32
	default:
		*m = Minutes(f)
	}
	return nil
}

// ClonePayload is the createNewMockTest function input.
type ClonePayload struct {
	PaperID  string `json:"paperId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	UserName string `json:"userName"`
}

// FunctionResult is what the function gateway returns. Failures travel in
// Error rather than as transport errors.
type FunctionResult struct {
	PaperID       string `json:"paperId,omitempty"`
	DocumentID    string `json:"documentId,omitempty"`
	QuestionCount int    `json:"questionCount,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Caller is the authenticated principal invoking a function.
type Caller struct {
	UserID     string
	Privileged bool
}

func decodePayload(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func checkPayload(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Execute dispatches one function call on its action tag. The returned error
// is reserved for calls rejected before reaching the core (malformed payload,
// unknown action, acting for someone else); everything past that point is
// reported through FunctionResult.Error.
func (s *Service) Execute(ctx context.Context, raw []byte, caller Caller) (FunctionResult, error) {
	var env struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return FunctionResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	switch env.Action {
	case ActionGenerate:
		var p GeneratePayload
		if err := decodePayload(raw, &p); err != nil {
			return FunctionResult{}, err
		}
		p.Year = Year(strings.ToUpper(strings.TrimSpace(string(p.Year))))
		if err := checkPayload(&p); err != nil {
			return FunctionResult{}, err
		}
		if !caller.Privileged && p.UserID != caller.UserID {
			return FunctionResult{}, ErrNotOwner
		}
		res, err := s.GenerateMockTest(ctx, GenerateRequest{
			UserID:       p.UserID,
			UserName:     p.UserName,
			TradeID:      p.TradeID,
			TradeName:    p.TradeName,
			SubjectID:    p.SubjectID,
			Year:         p.Year,
			Count:        p.QuesCount,
			ModuleIDs:    p.SelectedModules,
			TotalMinutes: int(p.TotalMinutes),
		})
		if err != nil {
			return s.failure(env.Action, err), nil
		}
		return FunctionResult{PaperID: res.PaperID, DocumentID: res.DocumentID, QuestionCount: res.QuestionCount}, nil

	case ActionClone:
		var p ClonePayload
		if err := decodePayload(raw, &p); err != nil {
			return FunctionResult{}, err
		}
		if err := checkPayload(&p); err != nil {
			return FunctionResult{}, err
		}
		if !caller.Privileged && p.UserID != caller.UserID {
			return FunctionResult{}, ErrNotOwner
		}
		res, err := s.CreateNewMockTest(ctx, CloneRequest{PaperID: p.PaperID, UserID: p.UserID, UserName: p.UserName})
		if err != nil {
			return s.failure(env.Action, err), nil
		}
		return FunctionResult{PaperID: res.PaperID, DocumentID: res.DocumentID, Message: res.Message}, nil
	}
	return FunctionResult{}, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, env.Action)
}

func (s *Service) failure(action string, err error) FunctionResult {
	switch {
	case errors.Is(err, ErrNoQuestionsAvailable), errors.Is(err, ErrPaperNotFound):
		s.log.Info("function declined", zap.String("action", action), zap.Error(err))
	default:
		s.log.Error("function failed", zap.String("action", action), zap.Error(err))
	}
	return FunctionResult{Error: err.Error()}
}

package attendance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	ActionMarkPresent       = "markPresent"
	ActionAutoMarkAbsentees = "autoMarkAbsentees"
	ActionUpdateAttendance  = "updateAttendance"
	ActionCleanupOld        = "cleanupOld"
)

var validate = validator.New()

// Call is one attendance function invocation.
type Call struct {
	Action  string          `json:"action" validate:"required,oneof=markPresent autoMarkAbsentees updateAttendance cleanupOld"`
	Payload json.RawMessage `json:"payload"`
}

func bind(raw json.RawMessage, v any) error {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Decode validates the envelope and the action payload. Errors wrap
// ErrInvalidPayload.
func Decode(body []byte) (Call, any, error) {
	var c Call
	if err := json.Unmarshal(body, &c); err != nil {
		return Call{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(c); err != nil {
		return Call{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var in any
	switch c.Action {
	case ActionMarkPresent:
		in = &MarkPresentInput{}
	case ActionAutoMarkAbsentees:
		in = &AbsenteesInput{}
	case ActionUpdateAttendance:
		in = &UpdateInput{}
	case ActionCleanupOld:
		in = &CleanupInput{}
	}
	if err := bind(c.Payload, in); err != nil {
		return Call{}, nil, err
	}
	return c, in, nil
}

// Execute runs a decoded call.
func (s *Service) Execute(ctx context.Context, in any) (any, error) {
	switch p := in.(type) {
	case *MarkPresentInput:
		return s.MarkPresent(ctx, *p)
	case *AbsenteesInput:
		return s.AutoMarkAbsentees(ctx, *p)
	case *UpdateInput:
		return s.UpdateAttendance(ctx, *p)
	case *CleanupInput:
		return s.CleanupOld(ctx, *p)
	}
	return nil, fmt.Errorf("%w: unsupported input %T", ErrInvalidPayload, in)
}

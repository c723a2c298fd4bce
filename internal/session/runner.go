package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/mocktest"
)

// Runner drives the countdown of a started session and submits it when the
// time runs out.
type Runner struct {
	Session   *Session
	Submitter Submitter
	Now       func() time.Time
	Interval  time.Duration // 1s when zero

	OnTick      func(TickResult)
	OnWarn      func(remaining time.Duration)
	OnSubmitted func(mocktest.SubmitResult)
	Log         *zap.Logger
}

// Run blocks until the session is submitted (by the countdown or elsewhere)
// or ctx ends. A failed automatic submission is returned; the session stays
// open so the caller can retry.
func (r *Runner) Run(ctx context.Context) error {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	if r.Session.Current() == NotStarted {
		return ErrNotStarted
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if r.Session.Current() == Submitted {
			return nil
		}
		res := r.Session.Tick(now())
		if r.OnTick != nil {
			r.OnTick(res)
		}
		if res.Warn && r.OnWarn != nil {
			r.OnWarn(res.Remaining)
		}
		if res.Expired {
			log.Info("time is up, submitting", zap.String("documentId", r.Session.DocumentID))
			out, err := r.Session.Submit(ctx, r.Submitter, now())
			if errors.Is(err, ErrSubmitted) {
				return nil
			}
			if err != nil {
				log.Warn("auto-submit failed", zap.String("documentId", r.Session.DocumentID), zap.Error(err))
				return err
			}
			if r.OnSubmitted != nil {
				r.OnSubmitted(out)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

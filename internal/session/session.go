// Package session runs one test taker's attempt on the client side: a
// countdown derived from the server start time, write-through checkpoints of
// every answer and a single submission.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mind-engage/iti-mocktest/internal/mocktest"
)

// WarnThreshold is the remaining time at which the taker is warned once.
const WarnThreshold = 300 * time.Second

var (
	ErrNotStarted      = errors.New("session not started")
	ErrSubmitted       = errors.New("session already submitted")
	ErrUnknownQuestion = errors.New("question not on this paper")
)

type State int

const (
	NotStarted State = iota
	InProgress
	Submitted
)

var stateNames = [...]string{"not_started", "in_progress", "submitted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// Submitter delivers the final answers to the server.
type Submitter interface {
	SubmitPaper(ctx context.Context, docID string, rs []mocktest.Response, end time.Time) (mocktest.SubmitResult, error)
}

// Session is the client's copy of an attempt. Its exported fields are what a
// checkpoint stores.
type Session struct {
	DocumentID   string              `json:"documentId"`
	PaperID      string              `json:"paperId"`
	Questions    []mocktest.Snapshot `json:"questions"`
	StartTime    *time.Time          `json:"startTime"`
	TotalMinutes int                 `json:"totalMinutes"`
	State        State               `json:"state"`
	Warned       bool                `json:"warned"`

	mu sync.Mutex
	cp Checkpointer
}

// FromPaper builds a session from the server view of an attempt.
func FromPaper(p mocktest.PaperView, cp Checkpointer) *Session {
	s := &Session{
		DocumentID:   p.DocumentID,
		PaperID:      p.PaperID,
		Questions:    append([]mocktest.Snapshot(nil), p.Questions...),
		StartTime:    p.StartTime,
		TotalMinutes: p.TotalMinutes,
		cp:           cp,
	}
	switch {
	case p.Submitted:
		s.State = Submitted
	case p.StartTime != nil:
		s.State = InProgress
	}
	return s
}

func (s *Session) checkpoint(ctx context.Context) error {
	if s.cp == nil {
		return nil
	}
	return s.cp.Save(ctx, s)
}

// Start moves the session into InProgress with the start time the server
// recorded. Starting a running session keeps its original start.
func (s *Session) Start(ctx context.Context, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State {
	case Submitted:
		return ErrSubmitted
	case InProgress:
		return nil
	}
	t := startedAt.UTC()
	s.StartTime = &t
	s.State = InProgress
	if err := s.checkpoint(ctx); err != nil {
		s.StartTime, s.State = nil, NotStarted
		return err
	}
	return nil
}

// Answer records label for questionID (empty label clears it) and
// checkpoints before returning. A failed checkpoint leaves the previous
// answer in place.
func (s *Session) Answer(ctx context.Context, questionID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.activeLocked(); err != nil {
		return err
	}
	for i := range s.Questions {
		if s.Questions[i].ID != questionID {
			continue
		}
		prev := s.Questions[i].Response
		if label == "" {
			s.Questions[i].Response = nil
		} else {
			v := label
			s.Questions[i].Response = &v
		}
		if err := s.checkpoint(ctx); err != nil {
			s.Questions[i].Response = prev
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
}

func (s *Session) activeLocked() error {
	switch s.State {
	case NotStarted:
		return ErrNotStarted
	case Submitted:
		return ErrSubmitted
	}
	return nil
}

// Remaining is always recomputed from StartTime so missed ticks cost nothing.
func (s *Session) Remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked(now)
}

func (s *Session) remainingLocked(now time.Time) time.Duration {
	if s.StartTime == nil {
		return time.Duration(s.TotalMinutes) * time.Minute
	}
	return mocktest.Remaining(*s.StartTime, s.TotalMinutes, now)
}

type TickResult struct {
	Remaining time.Duration
	Warn      bool // first tick at or below WarnThreshold
	Expired   bool
}

func (s *Session) Tick(now time.Time) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != InProgress {
		return TickResult{Remaining: s.remainingLocked(now)}
	}
	left := s.remainingLocked(now)
	res := TickResult{Remaining: left, Expired: left <= 0}
	if left <= WarnThreshold && !s.Warned {
		s.Warned = true
		res.Warn = true
	}
	return res
}

// Responses lists every question in paper order, unanswered ones with a nil
// selection.
func (s *Session) Responses() []mocktest.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responsesLocked()
}

func (s *Session) responsesLocked() []mocktest.Response {
	out := make([]mocktest.Response, 0, len(s.Questions))
	for _, q := range s.Questions {
		r := mocktest.Response{QuestionID: q.ID}
		if q.Response != nil {
			v := *q.Response
			r.SelectedAnswer = &v
		}
		out = append(out, r)
	}
	return out
}

func (s *Session) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// Submit sends all answers with now as the end time. On failure the session
// stays InProgress and may be submitted again; on success the checkpoint is
// dropped.
func (s *Session) Submit(ctx context.Context, sub Submitter, now time.Time) (mocktest.SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.activeLocked(); err != nil {
		return mocktest.SubmitResult{}, err
	}
	res, err := sub.SubmitPaper(ctx, s.DocumentID, s.responsesLocked(), now.UTC())
	if errors.Is(err, mocktest.ErrAlreadySubmitted) {
		s.State = Submitted
		s.clearLocked(ctx)
		return mocktest.SubmitResult{}, ErrSubmitted
	}
	if err != nil {
		return mocktest.SubmitResult{}, fmt.Errorf("submit %s: %w", s.DocumentID, err)
	}
	s.State = Submitted
	s.clearLocked(ctx)
	return res, nil
}

func (s *Session) clearLocked(ctx context.Context) {
	if s.cp != nil {
		// a stale checkpoint only resumes a submitted session; the server has the truth
		_ = s.cp.Clear(ctx, s.DocumentID)
	}
}

// Loader fetches an attempt from the server.
type Loader interface {
	LoadPaper(ctx context.Context, docID string) (mocktest.PaperView, error)
}

// Resume rehydrates a session from its local checkpoint, or from the server
// when there is none.
func Resume(ctx context.Context, cp Checkpointer, docID string, loader Loader) (*Session, error) {
	if cp != nil {
		s, err := cp.Load(ctx, docID)
		if err == nil {
			s.cp = cp
			return s, nil
		}
		if !errors.Is(err, ErrNoCheckpoint) {
			return nil, err
		}
	}
	view, err := loader.LoadPaper(ctx, docID)
	if err != nil {
		return nil, err
	}
	s := FromPaper(view, cp)
	if s.State == InProgress {
		s.mu.Lock()
		err = s.checkpoint(ctx)
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

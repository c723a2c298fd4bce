package mocktest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/docstore"
	"github.com/mind-engage/iti-mocktest/internal/grading"
	syncx "github.com/mind-engage/iti-mocktest/internal/sync"
)

// PaperView is a paper ready to render: attempt snapshots are filled in from
// the answer key and the key itself is hidden where the viewer may not see it.
type PaperView struct {
	Paper
	RemainingSeconds *int64 `json:"remainingSeconds,omitempty"`
}

func (s *Service) ViewPaper(ctx context.Context, docID string, viewer Viewer) (PaperView, error) {
	p, err := s.getPaper(ctx, docID)
	if err != nil {
		return PaperView{}, err
	}
	if p.IsOriginal {
		if p.IsProtected && !viewer.Privileged {
			return PaperView{}, ErrNotOwner
		}
		return PaperView{Paper: p}, nil
	}
	if !viewer.Privileged && !p.ownedBy(viewer.UserID) {
		return PaperView{}, ErrNotOwner
	}

	original, err := s.findOriginal(ctx, p.PaperID)
	if err != nil {
		return PaperView{}, err
	}
	p.Questions = materialize(p.Questions, original.Questions, p.Submitted || viewer.Privileged)

	view := PaperView{Paper: p}
	if p.StartTime != nil && !p.Submitted {
		left := int64(Remaining(*p.StartTime, p.TotalMinutes, s.now()) / time.Second)
		view.RemainingSeconds = &left
	}
	return view, nil
}

// materialize fills attempt snapshots with bodies from the key, keeping the
// attempt's order and responses.
func materialize(attempt, key []Snapshot, showAnswers bool) []Snapshot {
	bodies := make(map[string]Snapshot, len(key))
	for _, q := range key {
		bodies[q.ID] = q
	}
	out := make([]Snapshot, 0, len(attempt))
	for _, a := range attempt {
		full, ok := bodies[a.ID]
		if !ok {
			full = Snapshot{ID: a.ID}
		}
		full.Response = a.Response
		if !showAnswers {
			full.CorrectAnswer = ""
		}
		out = append(out, full)
	}
	return out
}

func (s *Service) ownAttempt(ctx context.Context, docID, userID string) (Paper, error) {
	p, err := s.getPaper(ctx, docID)
	if err != nil {
		return Paper{}, err
	}
	if !p.ownedBy(userID) {
		return Paper{}, ErrNotOwner
	}
	return p, nil
}

// StartAttempt records the start time once; later calls re-enter the running
// attempt without resetting the clock.
func (s *Service) StartAttempt(ctx context.Context, docID, userID string) (PaperView, error) {
	unlock := s.locks.Lock("doc|" + docID)
	p, err := s.ownAttempt(ctx, docID, userID)
	if err != nil {
		unlock()
		return PaperView{}, err
	}
	if p.Submitted {
		unlock()
		return PaperView{}, ErrAlreadySubmitted
	}
	if p.StartTime == nil {
		now := s.now().UTC()
		if _, err := s.store.Update(ctx, s.papers, docID, map[string]any{"startTime": now}); err != nil {
			unlock()
			return PaperView{}, fmt.Errorf("start paper: %w", err)
		}
		s.log.Info("attempt started", zap.String("documentId", docID), zap.String("userId", userID))
	}
	unlock()
	return s.ViewPaper(ctx, docID, Viewer{UserID: userID})
}

// mergeResponses applies rs to snaps by question id; unknown ids are ignored.
func mergeResponses(snaps []Snapshot, rs []Response) []Snapshot {
	idx := make(map[string]int, len(snaps))
	for i, q := range snaps {
		idx[q.ID] = i
	}
	for _, r := range rs {
		i, ok := idx[r.QuestionID]
		if !ok {
			continue
		}
		if r.SelectedAnswer == nil {
			snaps[i].Response = nil
			continue
		}
		v := *r.SelectedAnswer
		snaps[i].Response = &v
	}
	return snaps
}

// SubmitGrace is how long after the deadline a submission may still carry
// new answers. Later submissions are graded on the answers saved in time.
const SubmitGrace = 2 * time.Minute

// SaveResponses mirrors in-progress answers on the server. Saves stop at the
// deadline with ErrTimeUp.
func (s *Service) SaveResponses(ctx context.Context, docID, userID string, rs []Response) error {
	unlock := s.locks.Lock("doc|" + docID)
	defer unlock()
	p, err := s.ownAttempt(ctx, docID, userID)
	if err != nil {
		return err
	}
	if p.Submitted {
		return ErrAlreadySubmitted
	}
	if p.StartTime == nil {
		return ErrNotStarted
	}
	if Remaining(*p.StartTime, p.TotalMinutes, s.now()) == 0 {
		return ErrTimeUp
	}
	p.Questions = mergeResponses(p.Questions, rs)
	_, err = s.store.Update(ctx, s.papers, docID, map[string]any{"questions": p.Questions})
	return err
}

type SubmitRequest struct {
	DocumentID string
	UserID     string
	Responses  []Response
	EndTime    *time.Time // defaults to now
}

type SubmitResult struct {
	DocumentID string    `json:"documentId"`
	PaperID    string    `json:"paperId"`
	Score      int       `json:"score"`
	Total      int       `json:"total"`
	EndTime    time.Time `json:"endTime"`
}

// SubmitAttempt grades the attempt against the answer key and closes it.
// A paper is submitted exactly once; a repeated call fails with
// ErrAlreadySubmitted and leaves the stored score untouched.
func (s *Service) SubmitAttempt(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	unlock := s.locks.Lock("doc|" + req.DocumentID)
	defer unlock()

	p, err := s.ownAttempt(ctx, req.DocumentID, req.UserID)
	if err != nil {
		return SubmitResult{}, err
	}
	if p.Submitted {
		return SubmitResult{}, ErrAlreadySubmitted
	}
	if p.StartTime == nil {
		return SubmitResult{}, ErrNotStarted
	}
	original, err := s.findOriginal(ctx, p.PaperID)
	if err != nil {
		return SubmitResult{}, err
	}

	now := s.now().UTC()
	deadline := p.StartTime.Add(time.Duration(p.TotalMinutes) * time.Minute)
	if now.After(deadline.Add(SubmitGrace)) {
		s.log.Warn("late submission, keeping saved answers",
			zap.String("documentId", req.DocumentID), zap.String("userId", req.UserID),
			zap.Duration("late", now.Sub(deadline)))
	} else {
		p.Questions = mergeResponses(p.Questions, req.Responses)
	}
	score, err := s.score(ctx, p.Questions, original.Questions)
	if err != nil {
		return SubmitResult{}, err
	}

	end := now
	if end.After(deadline) {
		end = deadline
	}
	if req.EndTime != nil && !req.EndTime.IsZero() && req.EndTime.Before(end) && !req.EndTime.Before(*p.StartTime) {
		end = req.EndTime.UTC()
	}
	if _, err := s.store.Update(ctx, s.papers, req.DocumentID, map[string]any{
		"questions": p.Questions,
		"score":     score,
		"submitted": true,
		"endTime":   end,
	}); err != nil {
		return SubmitResult{}, fmt.Errorf("submit paper: %w", err)
	}

	res := SubmitResult{
		DocumentID: req.DocumentID,
		PaperID:    p.PaperID,
		Score:      score,
		Total:      len(p.Questions),
		EndTime:    end,
	}
	s.log.Info("attempt submitted",
		zap.String("documentId", req.DocumentID), zap.String("userId", req.UserID), zap.Int("score", score))
	s.recordSubmitted(ctx, res, req.UserID)
	return res, nil
}

func (s *Service) score(ctx context.Context, answers, key []Snapshot) (int, error) {
	correct := make(map[string]string, len(key))
	for _, q := range key {
		correct[q.ID] = q.CorrectAnswer
	}
	score := 0
	for _, a := range answers {
		k, ok := correct[a.ID]
		if !ok {
			continue
		}
		var resp any
		if a.Response != nil {
			resp = *a.Response
		}
		res, err := s.grader.Grade(ctx, grading.Q{Type: grading.TypeMCQSingle, Points: 1, AnswerKey: []string{k}}, resp)
		if err != nil {
			return 0, fmt.Errorf("grade %s: %w", a.ID, err)
		}
		if res.Correct {
			score++
		}
	}
	return score, nil
}

func (s *Service) recordSubmitted(ctx context.Context, res SubmitResult, userID string) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"paperId": res.PaperID,
		"userId":  userID,
		"score":   res.Score,
		"total":   res.Total,
		"endTime": res.EndTime,
	})
	if err != nil {
		return
	}
	if err := s.events.Append(ctx, syncx.Event{Type: "PaperSubmitted", Key: res.DocumentID, DataJSON: string(payload)}); err != nil {
		s.log.Warn("append event failed", zap.String("documentId", res.DocumentID), zap.Error(err))
	}
}

// ---- dashboards ----

// ListAttempts returns every attempt of paperID, oldest first.
func (s *Service) ListAttempts(ctx context.Context, paperID string) ([]Paper, error) {
	return s.listAttempts(ctx, docstore.Equal("paperId", paperID))
}

// ListUserAttempts returns userID's attempts across papers, oldest first.
func (s *Service) ListUserAttempts(ctx context.Context, userID string) ([]Paper, error) {
	return s.listAttempts(ctx, docstore.Equal("userId", userID))
}

func (s *Service) listAttempts(ctx context.Context, by docstore.Filter) ([]Paper, error) {
	docs, err := docstore.ListAll(ctx, s.store, s.papers, docstore.Query{
		Filters: []docstore.Filter{by, docstore.Equal("isOriginal", false)},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Paper, 0, len(docs))
	for _, d := range docs {
		var p Paper
		if err := d.Decode(&p); err != nil {
			return nil, err
		}
		// keep listings light; bodies are served by ViewPaper
		p.Questions = nil
		out = append(out, p)
	}
	return out, nil
}

type PaperStats struct {
	PaperID      string  `json:"paperId"`
	Attempts     int     `json:"attempts"`
	Submitted    int     `json:"submitted"`
	AverageScore float64 `json:"averageScore"`
	HighestScore int     `json:"highestScore"`
	LowestScore  int     `json:"lowestScore"`
}

func (s *Service) PaperStats(ctx context.Context, paperID string) (PaperStats, error) {
	attempts, err := s.ListAttempts(ctx, paperID)
	if err != nil {
		return PaperStats{}, err
	}
	st := PaperStats{PaperID: paperID, Attempts: len(attempts)}
	total := 0
	for _, a := range attempts {
		if !a.Submitted || a.Score == nil {
			continue
		}
		sc := *a.Score
		if st.Submitted == 0 || sc > st.HighestScore {
			st.HighestScore = sc
		}
		if st.Submitted == 0 || sc < st.LowestScore {
			st.LowestScore = sc
		}
		st.Submitted++
		total += sc
	}
	if st.Submitted > 0 {
		st.AverageScore = float64(total) / float64(st.Submitted)
	}
	return st, nil
}

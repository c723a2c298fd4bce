package mocktest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/docstore"
)

const AlreadyAttemptedMessage = "You have already attempted this paper"

type CloneRequest struct {
	PaperID  string
	UserID   string
	UserName string
}

type CloneResult struct {
	PaperID          string `json:"paperId"`
	DocumentID       string `json:"documentId"`
	AlreadyAttempted bool   `json:"alreadyAttempted"`
	Message          string `json:"message,omitempty"`
}

func attemptKey(paperID, userID string) string {
	return "attempt|" + paperID + "|" + userID
}

// CreateNewMockTest returns the user's attempt at paperID, creating it from
// the answer key on first access. At most one attempt exists per (paper, user):
// creation is serialized per pair and the store rejects a second unique key.
func (s *Service) CreateNewMockTest(ctx context.Context, req CloneRequest) (CloneResult, error) {
	if req.PaperID == "" || req.UserID == "" {
		return CloneResult{}, fmt.Errorf("%w: paperId and userId required", ErrInvalidRequest)
	}
	unlock := s.locks.Lock(attemptKey(req.PaperID, req.UserID))
	defer unlock()

	docs, err := docstore.ListAll(ctx, s.store, s.papers, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("paperId", req.PaperID),
			docstore.Or(
				docstore.Equal("isOriginal", true),
				docstore.Equal("userId", req.UserID),
			),
		},
	})
	if err != nil {
		return CloneResult{}, fmt.Errorf("find paper: %w", err)
	}
	if len(docs) == 0 {
		return CloneResult{}, ErrPaperNotFound
	}

	var (
		original Paper
		found    bool
	)
	for _, d := range docs {
		var p Paper
		if err := d.Decode(&p); err != nil {
			return CloneResult{}, fmt.Errorf("decode paper %s: %w", d.ID, err)
		}
		if p.ownedBy(req.UserID) {
			return CloneResult{PaperID: req.PaperID, DocumentID: d.ID, AlreadyAttempted: true, Message: AlreadyAttemptedMessage}, nil
		}
		if p.IsOriginal && !found {
			original, found = p, true
		}
	}
	if !found {
		return CloneResult{}, ErrPaperNotFound
	}

	attempt := newAttempt(original, req.UserID, req.UserName)
	shuffle(s.rnd, attempt.Questions)

	data, err := docstore.ToData(attempt)
	if err != nil {
		return CloneResult{}, err
	}
	doc, err := s.store.Create(ctx, s.papers, docstore.CreateInput{
		UniqueKey: attemptKey(req.PaperID, req.UserID),
		Data:      data,
	})
	if errors.Is(err, docstore.ErrConflict) {
		// another process created it first
		return s.existingAttempt(ctx, req)
	}
	if err != nil {
		return CloneResult{}, fmt.Errorf("create attempt: %w", err)
	}
	s.log.Info("attempt created",
		zap.String("paperId", req.PaperID), zap.String("userId", req.UserID), zap.String("documentId", doc.ID))
	return CloneResult{PaperID: req.PaperID, DocumentID: doc.ID}, nil
}

// newAttempt copies the metadata of original; question bodies stay behind.
func newAttempt(original Paper, userID, userName string) Paper {
	snaps := make([]Snapshot, len(original.Questions))
	for i, q := range original.Questions {
		snaps[i] = Snapshot{ID: q.ID}
	}
	uid, uname := userID, userName
	return Paper{
		PaperID:        original.PaperID,
		TradeID:        original.TradeID,
		TradeName:      original.TradeName,
		Year:           original.Year,
		Questions:      snaps,
		TotalQuestions: original.TotalQuestions,
		TotalMinutes:   original.TotalMinutes,
		UserID:         &uid,
		UserName:       &uname,
	}
}

func (s *Service) existingAttempt(ctx context.Context, req CloneRequest) (CloneResult, error) {
	page, err := s.store.List(ctx, s.papers, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("paperId", req.PaperID),
			docstore.Equal("userId", req.UserID),
			docstore.Equal("isOriginal", false),
		},
		Limit: 1,
	})
	if err != nil {
		return CloneResult{}, err
	}
	if len(page.Documents) == 0 {
		return CloneResult{}, ErrPaperNotFound
	}
	return CloneResult{
		PaperID:          req.PaperID,
		DocumentID:       page.Documents[0].ID,
		AlreadyAttempted: true,
		Message:          AlreadyAttemptedMessage,
	}, nil
}

// Package mocktest generates mock test papers from the question bank, clones
// them into per-user attempts and grades submissions against the answer key.
package mocktest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/iti-mocktest/internal/docstore"
	"github.com/mind-engage/iti-mocktest/internal/grading"
	syncx "github.com/mind-engage/iti-mocktest/internal/sync"
)

const DefaultMinutes = 60

// EventSink receives domain events (attempt submitted, ...).
type EventSink interface {
	Append(ctx context.Context, e syncx.Event) error
}

type Options struct {
	DatabaseID          string
	QuestionsCollection string
	PapersCollection    string
	DefaultMinutes      int

	Rand   *rand.Rand
	Now    func() time.Time
	Grader grading.Grader
	Events EventSink
	Logger *zap.Logger
}

type Service struct {
	store     docstore.Store
	questions string
	papers    string
	defMins   int

	rnd     *lockedRand
	now     func() time.Time
	grader  grading.Grader
	events  EventSink
	log     *zap.Logger
	sampler *Sampler
	locks   *keyedMutex
}

func NewService(store docstore.Store, opts Options) *Service {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Grader == nil {
		opts.Grader = grading.NewDefaultGrader()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DefaultMinutes <= 0 {
		opts.DefaultMinutes = DefaultMinutes
	}
	rnd := &lockedRand{r: opts.Rand}
	questions := docstore.Collection(opts.DatabaseID, opts.QuestionsCollection)
	return &Service{
		store:     store,
		questions: questions,
		papers:    docstore.Collection(opts.DatabaseID, opts.PapersCollection),
		defMins:   opts.DefaultMinutes,
		rnd:       rnd,
		now:       opts.Now,
		grader:    opts.Grader,
		events:    opts.Events,
		log:       opts.Logger,
		sampler:   NewSampler(store, questions, rnd),
		locks:     newKeyedMutex(),
	}
}

// ---- generateMockTest ----

type GenerateRequest struct {
	UserID       string
	UserName     string
	TradeID      string
	TradeName    string
	SubjectID    string
	Year         Year
	Count        int
	ModuleIDs    []string
	TotalMinutes int // <= 0 selects the default
}

type GenerateResult struct {
	PaperID       string `json:"paperId"`
	DocumentID    string `json:"documentId"`
	QuestionCount int    `json:"questionCount"`
}

// fields an answer key needs; author identity stays in the bank
var snapshotFields = []string{"question", "options", "correctAnswer", "subjectId", "moduleId", "tags", "images"}

// GenerateMockTest samples the bank and stores the answer-key paper.
func (s *Service) GenerateMockTest(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	ids, err := s.sampler.Sample(ctx, SampleRequest{
		TradeID:   req.TradeID,
		SubjectID: req.SubjectID,
		Year:      req.Year,
		ModuleIDs: req.ModuleIDs,
		Count:     req.Count,
	})
	if err != nil {
		return GenerateResult{}, err
	}
	if len(ids) < req.Count {
		s.log.Warn("question pool smaller than requested count",
			zap.String("tradeId", req.TradeID), zap.String("subjectId", req.SubjectID),
			zap.Int("requested", req.Count), zap.Int("available", len(ids)))
	}

	snaps, err := s.fetchSnapshots(ctx, ids)
	if err != nil {
		return GenerateResult{}, err
	}
	if len(snaps) == 0 {
		return GenerateResult{}, ErrNoQuestionsAvailable
	}

	minutes := req.TotalMinutes
	if minutes <= 0 {
		minutes = s.defMins
	}
	paper := Paper{
		TradeID:        req.TradeID,
		TradeName:      req.TradeName,
		Year:           req.Year,
		Questions:      snaps,
		TotalQuestions: len(snaps),
		TotalMinutes:   minutes,
		CreatedBy:      req.UserID,
		CreatedByName:  req.UserName,
		IsOriginal:     true,
		IsProtected:    true,
	}

	// a fresh id practically never collides; retry the rare case the store reports one
	const attempts = 3
	for i := 0; ; i++ {
		paper.PaperID = NewPaperID(req.TradeName, s.now(), s.rnd)
		data, err := docstore.ToData(paper)
		if err != nil {
			return GenerateResult{}, err
		}
		doc, err := s.store.Create(ctx, s.papers, docstore.CreateInput{
			UniqueKey: "original|" + paper.PaperID,
			Data:      data,
		})
		if errors.Is(err, docstore.ErrConflict) && i < attempts-1 {
			continue
		}
		if err != nil {
			return GenerateResult{}, fmt.Errorf("create paper: %w", err)
		}
		s.log.Info("paper generated",
			zap.String("paperId", paper.PaperID), zap.String("documentId", doc.ID),
			zap.Int("questions", len(snaps)), zap.String("createdBy", req.UserID))
		return GenerateResult{PaperID: paper.PaperID, DocumentID: doc.ID, QuestionCount: len(snaps)}, nil
	}
}

// fetchSnapshots loads question bodies in sampled order.
func (s *Service) fetchSnapshots(ctx context.Context, ids []string) ([]Snapshot, error) {
	byID := make(map[string]Snapshot, len(ids))
	for start := 0; start < len(ids); start += docstore.MaxPageSize {
		end := start + docstore.MaxPageSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			chunk = append(chunk, id)
		}
		page, err := s.store.List(ctx, s.questions, docstore.Query{
			Filters: []docstore.Filter{docstore.Equal(docstore.FieldID, chunk...)},
			Select:  snapshotFields,
			Limit:   docstore.MaxPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch questions: %w", err)
		}
		for _, d := range page.Documents {
			var q Question
			if err := d.Decode(&q); err != nil {
				return nil, fmt.Errorf("decode question %s: %w", d.ID, err)
			}
			byID[d.ID] = Snapshot{
				ID:            d.ID,
				Text:          q.Text,
				Options:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
				SubjectID:     q.SubjectID,
				ModuleID:      q.ModuleID,
				Tags:          q.Tags,
				Images:        q.Images,
			}
		}
	}
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, ok := byID[id]
		if !ok {
			s.log.Warn("sampled question vanished before fetch", zap.String("questionId", id))
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// ---- helpers ----

func (s *Service) getPaper(ctx context.Context, docID string) (Paper, error) {
	d, err := s.store.Get(ctx, s.papers, docID)
	if errors.Is(err, docstore.ErrNotFound) {
		return Paper{}, ErrPaperNotFound
	}
	if err != nil {
		return Paper{}, err
	}
	var p Paper
	if err := d.Decode(&p); err != nil {
		return Paper{}, fmt.Errorf("decode paper %s: %w", docID, err)
	}
	return p, nil
}

func (s *Service) findOriginal(ctx context.Context, paperID string) (Paper, error) {
	page, err := s.store.List(ctx, s.papers, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("paperId", paperID),
			docstore.Equal("isOriginal", true),
		},
		Limit: 1,
	})
	if err != nil {
		return Paper{}, err
	}
	if len(page.Documents) == 0 {
		return Paper{}, ErrPaperNotFound
	}
	var p Paper
	if err := page.Documents[0].Decode(&p); err != nil {
		return Paper{}, err
	}
	return p, nil
}

// keyedMutex serializes work per key (e.g. paper id + user id).
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedEntry{}}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

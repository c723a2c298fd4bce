package mocktest

import (
	"context"
	"fmt"

	"github.com/mind-engage/iti-mocktest/internal/docstore"
)

type SampleRequest struct {
	TradeID   string
	SubjectID string
	Year      Year
	ModuleIDs []string // empty: every module
	Count     int
}

// Sampler draws random question ids from the bank.
type Sampler struct {
	store      docstore.Store
	collection string
	rnd        intner
}

func NewSampler(store docstore.Store, collection string, rnd intner) *Sampler {
	return &Sampler{store: store, collection: collection, rnd: rnd}
}

func (s *Sampler) filters(req SampleRequest) []docstore.Filter {
	f := []docstore.Filter{
		docstore.Equal("tradeId", req.TradeID),
		docstore.Equal("subjectId", req.SubjectID),
		docstore.Equal("year", string(req.Year)),
	}
	if len(req.ModuleIDs) > 0 {
		mods := make([]any, len(req.ModuleIDs))
		for i, m := range req.ModuleIDs {
			mods[i] = m
		}
		f = append(f, docstore.Equal("moduleId", mods...))
	}
	return f
}

// pool pages through every matching question, ids only.
func (s *Sampler) pool(ctx context.Context, req SampleRequest) ([]string, error) {
	q := docstore.Query{
		Filters: s.filters(req),
		Select:  []string{docstore.FieldID},
		Limit:   docstore.MaxPageSize,
	}
	seen := map[string]struct{}{}
	var ids []string
	for {
		page, err := s.store.List(ctx, s.collection, q)
		if err != nil {
			return nil, fmt.Errorf("list questions: %w", err)
		}
		for _, d := range page.Documents {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			ids = append(ids, d.ID)
		}
		q.Offset += len(page.Documents)
		if len(page.Documents) < q.Limit || q.Offset >= page.Total {
			return ids, nil
		}
	}
}

// Sample returns up to req.Count distinct ids. When the pool is smaller than
// Count the whole pool comes back, shuffled.
func (s *Sampler) Sample(ctx context.Context, req SampleRequest) ([]string, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("%w: question count must be positive", ErrInvalidRequest)
	}
	ids, err := s.pool(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoQuestionsAvailable
	}
	shuffle(s.rnd, ids)
	if req.Count < len(ids) {
		ids = ids[:req.Count]
	}
	return ids, nil
}

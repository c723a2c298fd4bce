package docstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/iti-mocktest/internal/db"
	"github.com/mind-engage/iti-mocktest/internal/docstore"
)

const coll = "main.questions"

func stores(t *testing.T) map[string]docstore.Store {
	t.Helper()
	dbh, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return map[string]docstore.Store{
		"memory": docstore.NewMemoryStore(),
		"sqlite": docstore.NewSQLStore(dbh),
	}
}

func seed(t *testing.T, s docstore.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		year := "FIRST"
		if i%2 == 1 {
			year = "SECOND"
		}
		_, err := s.Create(context.Background(), coll, docstore.CreateInput{
			ID: fmt.Sprintf("q%02d", i),
			Data: map[string]any{
				"tradeId": "ELEC",
				"year":    year,
				"marks":   i,
				"tags":    []string{"t" + fmt.Sprint(i%3)},
			},
		})
		require.NoError(t, err)
	}
}

func TestStore_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			d, err := s.Create(ctx, coll, docstore.CreateInput{Data: map[string]any{"a": 1, "nested": map[string]any{"x": "y"}}})
			require.NoError(t, err)
			require.NotEmpty(t, d.ID)

			got, err := s.Get(ctx, coll, d.ID)
			require.NoError(t, err)
			assert.Equal(t, float64(1), got.Data["a"])
			assert.Equal(t, map[string]any{"x": "y"}, got.Data["nested"])

			up, err := s.Update(ctx, coll, d.ID, map[string]any{"b": true})
			require.NoError(t, err)
			assert.Equal(t, true, up.Data["b"])
			assert.Equal(t, float64(1), up.Data["a"])

			require.NoError(t, s.Delete(ctx, coll, d.ID))
			_, err = s.Get(ctx, coll, d.ID)
			assert.ErrorIs(t, err, docstore.ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, coll, d.ID), docstore.ErrNotFound)
			_, err = s.Update(ctx, coll, d.ID, map[string]any{"b": false})
			assert.ErrorIs(t, err, docstore.ErrNotFound)
		})
	}
}

func TestStore_UniqueKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := s.Create(ctx, coll, docstore.CreateInput{UniqueKey: "attempt|P1|u1", Data: map[string]any{"n": 1}})
			require.NoError(t, err)
			_, err = s.Create(ctx, coll, docstore.CreateInput{UniqueKey: "attempt|P1|u1", Data: map[string]any{"n": 2}})
			assert.ErrorIs(t, err, docstore.ErrConflict)

			// keys without a value never collide
			_, err = s.Create(ctx, coll, docstore.CreateInput{Data: map[string]any{}})
			require.NoError(t, err)
			_, err = s.Create(ctx, coll, docstore.CreateInput{Data: map[string]any{}})
			require.NoError(t, err)

			// deleting frees the key
			require.NoError(t, s.Delete(ctx, coll, first.ID))
			_, err = s.Create(ctx, coll, docstore.CreateInput{UniqueKey: "attempt|P1|u1", Data: map[string]any{"n": 3}})
			assert.NoError(t, err)
		})
	}
}

func TestStore_ListFiltersAndPagination(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, 30)

			page, err := s.List(ctx, coll, docstore.Query{
				Filters: []docstore.Filter{docstore.Equal("year", "FIRST")},
				Limit:   10,
			})
			require.NoError(t, err)
			assert.Equal(t, 15, page.Total)
			assert.Len(t, page.Documents, 10)
			assert.Equal(t, "q00", page.Documents[0].ID)

			page, err = s.List(ctx, coll, docstore.Query{
				Filters: []docstore.Filter{docstore.Equal("year", "FIRST")},
				Limit:   10,
				Offset:  10,
			})
			require.NoError(t, err)
			assert.Len(t, page.Documents, 5)

			page, err = s.List(ctx, coll, docstore.Query{
				Filters: []docstore.Filter{
					docstore.Or(docstore.Equal(docstore.FieldID, "q01"), docstore.GreaterThanEqual("marks", 28)),
				},
				Select: []string{"marks"},
			})
			require.NoError(t, err)
			require.Len(t, page.Documents, 3)
			assert.Equal(t, map[string]any{"marks": float64(1)}, page.Documents[0].Data)

			page, err = s.List(ctx, coll, docstore.Query{
				Filters: []docstore.Filter{docstore.Equal("tags", "t2"), docstore.LessThan("marks", 10)},
				OrderBy: "-marks",
			})
			require.NoError(t, err)
			require.Len(t, page.Documents, 3)
			assert.Equal(t, "q08", page.Documents[0].ID)

			page, err = s.List(ctx, coll, docstore.Query{Limit: 1000})
			require.NoError(t, err)
			assert.Len(t, page.Documents, 30)
			assert.Equal(t, 30, page.Total)
		})
	}
}

func TestStore_ListAll(t *testing.T) {
	s := docstore.NewMemoryStore()
	for i := 0; i < 230; i++ {
		_, err := s.Create(context.Background(), coll, docstore.CreateInput{Data: map[string]any{"i": i}})
		require.NoError(t, err)
	}
	docs, err := docstore.ListAll(context.Background(), s, coll, docstore.Query{})
	require.NoError(t, err)
	assert.Len(t, docs, 230)
}

func TestStore_InvalidQuery(t *testing.T) {
	s := docstore.NewMemoryStore()
	_, err := s.List(context.Background(), coll, docstore.Query{Filters: []docstore.Filter{{Op: "contains", Field: "x"}}})
	assert.ErrorIs(t, err, docstore.ErrInvalidQuery)
	_, err = s.List(context.Background(), coll, docstore.Query{Filters: []docstore.Filter{docstore.Or()}})
	assert.ErrorIs(t, err, docstore.ErrInvalidQuery)
	_, err = s.List(context.Background(), coll, docstore.Query{Offset: -1})
	assert.ErrorIs(t, err, docstore.ErrInvalidQuery)
}

func TestStore_ReturnedDataIsDetached(t *testing.T) {
	s := docstore.NewMemoryStore()
	d, err := s.Create(context.Background(), coll, docstore.CreateInput{Data: map[string]any{"list": []any{"a"}}})
	require.NoError(t, err)
	d.Data["list"].([]any)[0] = "mutated"

	got, err := s.Get(context.Background(), coll, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, got.Data["list"])
}

func ids(docs []docstore.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestStore_TimestampsCompareAsInstants(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	var now time.Time
	s := docstore.NewMemoryStore().WithClock(func() time.Time { return now })

	// created out of order; the whole second formats without a fraction
	for _, c := range []struct {
		id string
		at time.Duration
	}{{"late", time.Second}, {"half", 500 * time.Millisecond}, {"whole", 0}} {
		now = base.Add(c.at)
		_, err := s.Create(ctx, coll, docstore.CreateInput{ID: c.id, Data: map[string]any{}})
		require.NoError(t, err)
	}

	page, err := s.List(ctx, coll, docstore.Query{OrderBy: docstore.FieldCreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []string{"whole", "half", "late"}, ids(page.Documents))

	page, err = s.List(ctx, coll, docstore.Query{OrderBy: "-" + docstore.FieldCreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []string{"late", "half", "whole"}, ids(page.Documents))

	cut := base.Add(250 * time.Millisecond)
	for name, v := range map[string]any{"time": cut, "string": cut.Format(time.RFC3339Nano)} {
		page, err = s.List(ctx, coll, docstore.Query{
			Filters: []docstore.Filter{docstore.GreaterThan(docstore.FieldCreatedAt, v)},
			OrderBy: docstore.FieldCreatedAt,
		})
		require.NoError(t, err, name)
		assert.Equal(t, []string{"half", "late"}, ids(page.Documents), name)
	}
}

func TestStore_ListByIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, 10)

			page, err := s.List(ctx, coll, docstore.Query{Filters: []docstore.Filter{
				docstore.Equal(docstore.FieldID, "q01", "q03", "q99"),
			}})
			require.NoError(t, err)
			assert.Equal(t, 2, page.Total)
			assert.Equal(t, []string{"q01", "q03"}, ids(page.Documents))

			page, err = s.List(ctx, coll, docstore.Query{Filters: []docstore.Filter{
				docstore.Equal(docstore.FieldID, "q02", "q03"),
				docstore.Equal("year", "SECOND"),
			}})
			require.NoError(t, err)
			assert.Equal(t, []string{"q03"}, ids(page.Documents))

			page, err = s.List(ctx, coll, docstore.Query{Filters: []docstore.Filter{
				docstore.Or(docstore.Equal(docstore.FieldID, "q04"), docstore.Equal("marks", 9)),
			}})
			require.NoError(t, err)
			assert.Equal(t, []string{"q04", "q09"}, ids(page.Documents))
		})
	}
}

package syncx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/iti-mocktest/internal/db"
	syncx "github.com/mind-engage/iti-mocktest/internal/sync"
)

func TestEventRepo_AppendSince(t *testing.T) {
	ctx := context.Background()
	dbh, err := db.Open(ctx, db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer dbh.Close()

	repo := syncx.NewEventRepo(dbh, "")
	require.NoError(t, repo.Append(ctx, syncx.Event{Type: "PaperSubmitted", Key: "doc-1", DataJSON: `{"score":7}`}))
	require.NoError(t, repo.Append(ctx, syncx.Event{Type: "PaperSubmitted", Key: "doc-2", DataJSON: `{"score":3}`, SiteID: "college-2"}))

	all, err := repo.Since(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "local", all[0].SiteID)
	assert.Equal(t, "college-2", all[1].SiteID)
	assert.Equal(t, "doc-1", all[0].Key)

	rest, err := repo.Since(ctx, all[0].Seq, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "doc-2", rest[0].Key)
}

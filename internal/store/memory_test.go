package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyscope/agencydir/internal/crawler"
)

func TestMemory_UpsertsAreIdempotent(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	catID1, err := st.UpsertCategory(ctx, "디자인", "https://example.com/a", 5)
	require.NoError(t, err)
	catID2, err := st.UpsertCategory(ctx, "디자인", "https://example.com/b", 6)
	require.NoError(t, err)
	assert.Equal(t, catID1, catID2)

	id1 := seedAgency(t, st, catID1, "디자인", "acme")
	id2 := seedAgency(t, st, catID1, "디자인", "acme")
	assert.Equal(t, id1, id2)

	agencies, err := st.ListAgencies(ctx)
	require.NoError(t, err)
	assert.Len(t, agencies, 1)
}

func TestMemory_DetailFlagIsMonotonic(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	catID := seedCategory(t, st, "디자인")
	agencyID := seedAgency(t, st, catID, "디자인", "acme")
	require.NoError(t, st.RecordAgencyDetail(ctx, agencyID, "desc"))

	seedAgency(t, st, catID, "디자인", "acme")

	agencies, err := st.ListAgencies(ctx)
	require.NoError(t, err)
	assert.True(t, agencies[0].DetailScraped)
	assert.Equal(t, "desc", agencies[0].DetailDesc)

	backlog, err := st.AgenciesMissingDetail(ctx)
	require.NoError(t, err)
	assert.Empty(t, backlog)
}

func TestMemory_UnknownIDs(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	assert.ErrorIs(t, st.RecordAgencyDetail(ctx, 7, "x"), crawler.ErrNotFound)
	assert.ErrorIs(t, st.MarkCategoryScraped(ctx, 7), crawler.ErrNotFound)
	assert.ErrorIs(t, st.SetCategoryLastPage(ctx, 7, 2), crawler.ErrNotFound)
	assert.ErrorIs(t, st.UpdateSessionCounters(ctx, "nope", crawler.SessionDelta{AgenciesScraped: 1}), crawler.ErrNotFound)
	_, err := st.LatestSession(ctx)
	assert.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestMemory_CountersRejectNegative(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	id, err := st.StartSession(ctx, 1, 10)
	require.NoError(t, err)
	require.Error(t, st.UpdateSessionCounters(ctx, id, crawler.SessionDelta{AgenciesScraped: -1}))

	sess, err := st.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.AgenciesScraped)
}

func TestMemory_SingleRunningSession(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	id, err := st.StartSession(ctx, 2, 40)
	require.NoError(t, err)
	_, err = st.StartSession(ctx, 0, 0)
	assert.ErrorIs(t, err, crawler.ErrSessionRunning)

	require.NoError(t, st.CloseSession(ctx, id, crawler.StatusFailed))
	id2, err := st.StartSession(ctx, 0, 0)
	require.NoError(t, err)

	sess, err := st.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, sess.ID)
	assert.Equal(t, crawler.StatusRunning, sess.Status)
}

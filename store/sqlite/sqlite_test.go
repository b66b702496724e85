package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/session"
	"github.com/warp/deal-desk/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func entry(id, draftID, txID string, action session.AuditAction, offset time.Duration) session.AuditEntry {
	return session.AuditEntry{
		ID:            id,
		DraftID:       draftID,
		TransactionID: txID,
		ActorID:       "fin",
		Role:          deal.RoleFinance,
		Action:        action,
		At:            base.Add(offset),
	}
}

func TestAppendAndQuery(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: Entries for two transactions, appended out of order
	approved := entry("e3", "d1", "tx-1", session.AuditApproved, 2*time.Minute)
	approved.Detail = map[string]string{"status": "APPROVED"}
	require.NoError(t, store.Append(ctx, approved))
	require.NoError(t, store.Append(ctx, entry("e1", "d1", "tx-1", session.AuditOpened, 0)))
	require.NoError(t, store.Append(ctx, entry("e2", "d2", "tx-2", session.AuditOpened, time.Minute)))

	// WHEN: Querying one transaction
	got, err := store.Query(ctx, session.AuditFilter{TransactionID: "tx-1"})

	// THEN: Its entries come back oldest first with their detail
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e3", got[1].ID)
	assert.Equal(t, session.AuditApproved, got[1].Action)
	assert.Equal(t, deal.RoleFinance, got[1].Role)
	assert.Equal(t, "APPROVED", got[1].Detail["status"])
	assert.True(t, got[1].At.Equal(base.Add(2*time.Minute)))
}

func TestQuery_LimitKeepsNewest(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Append(ctx, entry(id, "d1", "tx-1", session.AuditOpened, time.Duration(i)*time.Second)))
	}

	got, err := store.Query(ctx, session.AuditFilter{DraftID: "d1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
}

func TestQuery_SubSecondOrdering(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: Two entries within the same second
	require.NoError(t, store.Append(ctx, entry("late", "d1", "", session.AuditDiscarded, 500*time.Millisecond)))
	require.NoError(t, store.Append(ctx, entry("early", "d1", "", session.AuditOpened, 0)))

	got, err := store.Query(ctx, session.AuditFilter{DraftID: "d1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ID)
	assert.Empty(t, got[0].TransactionID)
	assert.Nil(t, got[0].Detail)
}

func TestAppend_DuplicateID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, entry("e1", "d1", "tx-1", session.AuditOpened, 0)))
	err := store.Append(ctx, entry("e1", "d1", "tx-1", session.AuditOpened, 0))
	assert.ErrorIs(t, err, sqlite.ErrDuplicateEntry)
}

func TestReaperRuns(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// GIVEN: A run that starts and then completes
	run := sqlite.ReaperRun{ID: "r1", Status: "running", StartedAt: base}
	require.NoError(t, store.SaveReaperRun(ctx, run))

	done := base.Add(time.Second)
	run.Status = "completed"
	run.Expired = 3
	run.CompletedAt = &done
	require.NoError(t, store.SaveReaperRun(ctx, run))
	require.NoError(t, store.SaveReaperRun(ctx, sqlite.ReaperRun{ID: "r2", Status: "running", StartedAt: base.Add(time.Minute)}))

	// WHEN: Listing runs
	runs, err := store.GetReaperRuns(ctx, 10)

	// THEN: Newest first, with the update applied
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Nil(t, runs[0].CompletedAt)
	assert.Equal(t, "completed", runs[1].Status)
	assert.Equal(t, 3, runs[1].Expired)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, runs[1].CompletedAt.Equal(done))
}

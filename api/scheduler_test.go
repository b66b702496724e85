package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-desk/store/sqlite"
)

type fakeExpirer struct {
	mu    sync.Mutex
	ttls  []time.Duration
	count int
}

func (f *fakeExpirer) ExpireIdle(_ context.Context, ttl time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls = append(f.ttls, ttl)
	return f.count
}

func TestDraftReaper_RunNowRecordsRun(t *testing.T) {
	// GIVEN: A reaper over a store and two idle drafts
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	drafts := &fakeExpirer{count: 2}
	reaper := NewDraftReaper(drafts, store, 30*time.Minute, "@every 5m")

	// WHEN: Running a tick by hand
	expired := reaper.RunNow()

	// THEN: The TTL is passed through and the run is recorded
	assert.Equal(t, 2, expired)
	assert.Equal(t, []time.Duration{30 * time.Minute}, drafts.ttls)

	runs, err := store.GetReaperRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 2, runs[0].Expired)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestDraftReaper_StartStop(t *testing.T) {
	reaper := NewDraftReaper(&fakeExpirer{}, nil, time.Minute, "@every 1h")

	require.NoError(t, reaper.Start())
	assert.False(t, reaper.NextRun().IsZero())

	reaper.Stop()
	assert.True(t, reaper.NextRun().IsZero())
}

func TestDraftReaper_BadSchedule(t *testing.T) {
	reaper := NewDraftReaper(&fakeExpirer{}, nil, time.Minute, "every now and then")

	assert.Error(t, reaper.Start())
}

func TestDraftReaper_Disabled(t *testing.T) {
	reaper := NewDraftReaper(&fakeExpirer{}, nil, time.Minute, "@every 1h")
	reaper.Enabled = false

	require.NoError(t, reaper.Start())
	assert.True(t, reaper.NextRun().IsZero())
}

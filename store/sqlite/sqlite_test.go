package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compplan/archive"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/plan"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, at time.Time) archive.Run {
	metrics := network.Metrics{
		TotalPartners:   5,
		ActivePartners:  5,
		TotalVolume:     decimal.RequireFromString("3100"),
		RootGroupVolume: decimal.RequireFromString("3100"),
		Qualifications:  map[plan.Tier]int{plan.TierM3: 1, plan.TierM1: 4},
		States:          map[network.CompressionState]int{network.StateActive: 5},
	}
	metrics.Income.Base.Total = decimal.RequireFromString("412.5")
	return archive.Run{
		ID:         id,
		Label:      "label " + id,
		Region:     "RU",
		Budget:     decimal.RequireFromString("10000"),
		ArchivedAt: at,
		Final:      metrics,
		Stages: []archive.StageRecord{
			{Seq: 1, Stage: "initial", TakenAt: at, Metrics: metrics},
			{Seq: 2, Stage: "optimized", TakenAt: at.Add(time.Hour), Metrics: metrics, Extra: json.RawMessage(`{"target":"M3"}`)},
		},
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	// GIVEN: A run with two stages
	ctx := context.Background()
	s := newStore(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, sampleRun("r1", at)))

	// WHEN: Loading it back
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)

	// THEN: Fields, metrics and stage order survive
	assert.Equal(t, "label r1", got.Label)
	assert.Equal(t, "RU", got.Region)
	assert.True(t, got.Budget.Equal(decimal.RequireFromString("10000")))
	assert.True(t, got.ArchivedAt.Equal(at))
	assert.Equal(t, 5, got.Final.TotalPartners)
	assert.Equal(t, 1, got.Final.Qualifications[plan.TierM3])
	assert.True(t, got.Final.Income.Base.Total.Equal(decimal.RequireFromString("412.5")))

	require.Len(t, got.Stages, 2)
	assert.Equal(t, "initial", got.Stages[0].Stage)
	assert.Nil(t, got.Stages[0].Extra)
	assert.Equal(t, "optimized", got.Stages[1].Stage)
	assert.True(t, got.Stages[1].TakenAt.Equal(at.Add(time.Hour)))
	assert.JSONEq(t, `{"target":"M3"}`, string(got.Stages[1].Extra))
}

func TestStore_DuplicateRun(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, sampleRun("r1", at)))
	err := s.Save(ctx, sampleRun("r1", at))

	assert.ErrorIs(t, err, archive.ErrDuplicateRun)
}

func TestStore_DuplicateStageRollsBack(t *testing.T) {
	// GIVEN: A run whose stages collide on seq
	ctx := context.Background()
	s := newStore(t)
	run := sampleRun("r1", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	run.Stages[1].Seq = 1

	// WHEN: Saving it
	require.Error(t, s.Save(ctx, run))

	// THEN: Nothing was written
	_, err := s.Get(ctx, "r1")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := newStore(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, sampleRun("mid", base.AddDate(0, 1, 0))))
	require.NoError(t, s.Save(ctx, sampleRun("old", base)))
	require.NoError(t, s.Save(ctx, sampleRun("new", base.AddDate(0, 2, 0))))

	list, err := s.List(ctx)
	require.NoError(t, err)

	require.Len(t, list, 3)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "old", list[2].ID)
	assert.Equal(t, 2, list[0].Stages)
	assert.Equal(t, 5, list[0].Partners)
	assert.True(t, list[0].RootIncome.Equal(decimal.RequireFromString("412.5")))
}

func TestStore_ListEmpty(t *testing.T) {
	list, err := newStore(t).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file-backed store with one run
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleRun("r1", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, s.Close())

	// WHEN: Reopening the file
	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	// THEN: The run is still there
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Stages, 2)
}

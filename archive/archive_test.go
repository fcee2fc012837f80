package archive

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/plan"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func m3Tree(t *testing.T, clock *network.ManualClock) *network.Tree {
	t.Helper()
	tree, err := network.NewTree(plan.Default(), dec(10000),
		network.WithClock(clock),
		network.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	for _, v := range []int64{800, 800, 700, 700} {
		_, err := tree.AddPartner(dec(v), tree.RootID())
		require.NoError(t, err)
	}
	require.NoError(t, tree.UpdateQualifications())
	return tree
}

func TestFromTree_FreezesHistory(t *testing.T) {
	// GIVEN: A tree with two snapshots, the second with extra values
	clock := network.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	tree := m3Tree(t, clock)
	_, err := tree.CreateSnapshot("initial", nil)
	require.NoError(t, err)
	clock.AdvanceMonths(1)
	_, err = tree.CreateSnapshot("optimized", map[string]any{"target": "M3"})
	require.NoError(t, err)

	// WHEN: Archiving it
	run, err := FromTree(tree, "baseline")
	require.NoError(t, err)

	// THEN: Both stages are kept in order with their extras
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "baseline", run.Label)
	assert.Equal(t, "RU", run.Region)
	assert.True(t, run.Budget.Equal(dec(10000)))
	require.Len(t, run.Stages, 2)
	assert.Equal(t, 1, run.Stages[0].Seq)
	assert.Equal(t, "initial", run.Stages[0].Stage)
	assert.Nil(t, run.Stages[0].Extra)
	assert.Equal(t, "optimized", run.Stages[1].Stage)
	assert.JSONEq(t, `{"target":"M3"}`, string(run.Stages[1].Extra))
	assert.Equal(t, 5, run.Final.TotalPartners)
	assert.Equal(t, 1, run.Final.Qualifications[plan.TierM3])
}

func TestFromTree_RequiresSnapshots(t *testing.T) {
	clock := network.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err := FromTree(m3Tree(t, clock), "empty")
	assert.ErrorIs(t, err, ErrEmptyRun)
}

func TestRun_Summary(t *testing.T) {
	clock := network.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	tree := m3Tree(t, clock)
	_, err := tree.CreateSnapshot("initial", nil)
	require.NoError(t, err)

	run, err := FromTree(tree, "s")
	require.NoError(t, err)
	s := run.Summary()

	assert.Equal(t, run.ID, s.ID)
	assert.Equal(t, 1, s.Stages)
	assert.Equal(t, 5, s.Partners)
	assert.True(t, s.TotalVolume.Equal(run.Final.TotalVolume))
	assert.True(t, s.RootIncome.Equal(run.Final.Income.Base.Total))
}

func TestRun_JSONRoundTripKeepsExtra(t *testing.T) {
	run := Run{ID: "r1", Stages: []StageRecord{{Seq: 1, Stage: "s", Extra: json.RawMessage(`{"a":1}`)}}}

	data, err := json.Marshal(run)
	require.NoError(t, err)
	var back Run
	require.NoError(t, json.Unmarshal(data, &back))

	assert.JSONEq(t, `{"a":1}`, string(back.Stages[0].Extra))
}

// =============================================================================
// MEMORY STORE
// =============================================================================

func run(id string, at time.Time) Run {
	return Run{ID: id, Label: id, ArchivedAt: at, Stages: []StageRecord{{Seq: 1, Stage: "initial", Extra: json.RawMessage(`{"k":"v"}`)}}}
}

func TestMemory_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Save(ctx, run("a", base)))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Label)
	require.Len(t, got.Stages, 1)

	// Mutating the copy does not reach the store
	got.Stages[0].Extra[2] = 'x'
	again, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(again.Stages[0].Extra))
}

func TestMemory_AppendOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Save(ctx, run("a", at)))
	assert.ErrorIs(t, m.Save(ctx, run("a", at)), ErrDuplicateRun)

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListNewestFirst(t *testing.T) {
	// GIVEN: Runs saved out of chronological order
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.Save(ctx, run("mid", base.AddDate(0, 1, 0))))
	require.NoError(t, m.Save(ctx, run("old", base)))
	require.NoError(t, m.Save(ctx, run("new", base.AddDate(0, 2, 0))))

	// WHEN: Listing
	list, err := m.List(ctx)
	require.NoError(t, err)

	// THEN: Most recently archived comes first
	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
}

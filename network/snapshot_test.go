package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compplan/plan"
)

func TestMetrics_Summary(t *testing.T) {
	// GIVEN: An M3 root with one compressed leg
	tree, _ := newM3Tree(t)
	mustAdd(t, tree, 20, tree.RootID())
	mustPass(t, tree)

	// WHEN: Computing metrics
	m, err := tree.Metrics()
	require.NoError(t, err)

	// THEN: Counts, volumes and histograms reflect the tree
	assert.Equal(t, 6, m.TotalPartners)
	assert.Equal(t, 5, m.ActivePartners)
	assert.True(t, m.TotalVolume.Equal(dec(3220)))
	assert.True(t, m.RootGroupVolume.Equal(dec(3200)))
	assert.Equal(t, 1, m.Qualifications[plan.TierM3])
	assert.Equal(t, 5, m.Qualifications[plan.TierNone])
	assert.Equal(t, 1, m.States[StateCompressed])
	assert.Equal(t, "RUB", m.Income.Currency)
	assert.True(t, m.Growth.Monthly.IsZero())
}

func TestCreateSnapshot_IsImmutable(t *testing.T) {
	// GIVEN: A snapshot taken after the first pass
	tree, _ := newM3Tree(t)
	snap, err := tree.CreateSnapshot("initial", map[string]any{"note": "first"})
	require.NoError(t, err)
	assert.Equal(t, "initial", snap.Stage)
	require.Len(t, snap.Partners, 5)

	// WHEN: The tree changes and the returned copies are modified
	mustAdd(t, tree, 500, tree.RootID())
	mustPass(t, tree)
	snap.Partners[0].Volume = dec(1)
	snap.Extra["note"] = "changed"
	snap.Metrics.Qualifications[plan.TierTop] = 99

	// THEN: The stored snapshot still shows the original state
	history := tree.History()
	require.Len(t, history, 1)
	stored := history[0]
	assert.Equal(t, 5, stored.Metrics.TotalPartners)
	assert.True(t, stored.Partners[0].Volume.Equal(dec(200)))
	assert.Equal(t, "first", stored.Extra["note"])
	assert.Zero(t, stored.Metrics.Qualifications[plan.TierTop])
	assert.Len(t, stored.Partners[0].Downline, 4)
}

func TestHistory_AppendsInOrder(t *testing.T) {
	tree, clock := newM3Tree(t)

	_, err := tree.CreateSnapshot("a", nil)
	require.NoError(t, err)
	clock.AdvanceMonths(1)
	mustPass(t, tree)
	_, err = tree.CreateSnapshot("b", nil)
	require.NoError(t, err)

	history := tree.History()
	require.Len(t, history, 2)
	assert.Equal(t, "a", history[0].Stage)
	assert.Equal(t, "b", history[1].Stage)
	assert.True(t, history[0].TakenAt.Before(history[1].TakenAt))

	// A returned slice is a copy
	history[0].Stage = "z"
	assert.Equal(t, "a", tree.History()[0].Stage)
}

func TestWindow_KeepsNewest(t *testing.T) {
	w := NewWindow[int](3)
	for i := 1; i <= 5; i++ {
		w.Append(i)
	}

	assert.Equal(t, []int{3, 4, 5}, w.Items())
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last)

	v, ok := w.Back(2)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = w.Back(3)
	assert.False(t, ok)

	// Items returns a copy
	items := w.Items()
	items[0] = 100
	assert.Equal(t, []int{3, 4, 5}, w.Items())
}

func TestWindow_PartnerHistoriesAreBounded(t *testing.T) {
	tree, _ := newTestTree(t, 100000)
	p := mustAdd(t, tree, 100, tree.RootID())
	for i := 0; i < 30; i++ {
		require.NoError(t, tree.AddPersonalVolume(p, dec(1)))
		mustPass(t, tree)
	}

	partner := mustPartner(t, tree, p)
	cfg := plan.Default()
	assert.Equal(t, cfg.Windows.Adjustments, partner.Adjustments.Len())
	assert.Equal(t, cfg.Windows.Volume, partner.VolumeHistory.Len())

	last, ok := partner.VolumeHistory.Last()
	require.True(t, ok)
	assert.True(t, last.Personal.Equal(dec(130)))
}

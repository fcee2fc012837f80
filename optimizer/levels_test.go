package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compplan/plan"
)

func TestAnalyzeLevels_M3Tree(t *testing.T) {
	// GIVEN: An evaluated M3 root with four legs
	tree := newTree(t, 10000)
	for _, v := range []int64{800, 800, 700, 700} {
		_, err := tree.AddPartner(dec(v), tree.RootID())
		require.NoError(t, err)
	}
	require.NoError(t, tree.UpdateQualifications())

	// WHEN: Analyzing levels
	levels, err := AnalyzeLevels(tree)
	require.NoError(t, err)

	// THEN: There is one entry for the root and one for the legs
	require.Len(t, levels, 2)

	root := levels[0]
	assert.Equal(t, 1, root.Partners)
	assert.Equal(t, 1, root.Tiers[plan.TierM3])
	assert.True(t, root.GroupVolume.Equal(dec(3200)))
	assert.True(t, root.Payout.Equal(dec(600)))

	legs := levels[1]
	assert.Equal(t, 4, legs.Partners)
	assert.Equal(t, 4, legs.Active)
	assert.Equal(t, 4, legs.AboveActiveVolume)
	assert.Equal(t, 4, legs.AboveOptimalVolume)
	assert.Equal(t, 4, legs.Tiers[plan.TierNone])
	assert.True(t, legs.TotalVolume.Equal(dec(3000)))
	assert.True(t, legs.AverageVolume.Equal(dec(750)))
	assert.True(t, legs.Payout.Equal(dec(300)))
	assert.True(t, legs.CumulativePayout.Equal(dec(900)))

	total, err := TotalPayout(tree)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec(900)))
}

func TestAnalyzeLevels_SingleRoot(t *testing.T) {
	tree := newTree(t, 1000)

	levels, err := AnalyzeLevels(tree)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, 1, levels[0].AboveOptimalVolume)
	assert.True(t, levels[0].CumulativePayout.Equal(levels[0].Payout))
}

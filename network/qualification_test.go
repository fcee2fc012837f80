package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compplan/plan"
)

func standing(gv int64, active int, side int64, counts map[int]int) Standing {
	if counts == nil {
		counts = map[int]int{}
	}
	return Standing{GroupVolume: dec(gv), ActivePartners: active, SideVolume: dec(side), RankCounts: counts}
}

func TestQualify_Table(t *testing.T) {
	cfg := plan.Default()
	noOverrides := plan.Region{Code: "XX"}

	tests := []struct {
		name string
		s    Standing
		want plan.Tier
	}{
		{"empty", standing(0, 0, 0, nil), plan.TierNone},
		{"M1 exactly", standing(750, 2, 0, nil), plan.TierM1},
		{"M1 volume but one partner", standing(750, 1, 0, nil), plan.TierNone},
		{"M2", standing(1500, 3, 0, nil), plan.TierM2},
		{"M3", standing(3000, 4, 0, nil), plan.TierM3},
		{"B1 without an M3 below", standing(6000, 6, 3000, nil), plan.TierM3},
		{"B1 with an M3 below", standing(6000, 6, 3000, map[int]int{3: 1}), plan.TierB1},
		{"B1 with a higher tier below", standing(6000, 6, 3000, map[int]int{6: 1}), plan.TierB1},
		{"B1 side volume short", standing(6000, 6, 2400, map[int]int{3: 1}), plan.TierM3},
		{"B3", standing(10000, 7, 1000, map[int]int{3: 3}), plan.TierB3},
		{"TOP", standing(16000, 8, 1000, map[int]int{3: 5}), plan.TierTop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Qualify(&cfg, noOverrides, tt.s))
		})
	}
}

func TestQualify_RegionOverrides(t *testing.T) {
	// GIVEN: A standing below the base M1 volume
	cfg := plan.Default()
	s := standing(500, 2, 0, nil)
	uz, ok := cfg.Region("UZ")
	require.True(t, ok)

	// THEN: It qualifies only where the region lowers the threshold
	assert.Equal(t, plan.TierM1, Qualify(&cfg, uz, s))
	assert.Equal(t, plan.TierNone, Qualify(&cfg, plan.Region{}, s))
}

func TestQualify_IgnoresDeclarationOrder(t *testing.T) {
	// GIVEN: The tier table in reverse order
	cfg := plan.Default()
	reversed := cfg
	reversed.Tiers = make([]plan.TierRule, len(cfg.Tiers))
	for i, r := range cfg.Tiers {
		reversed.Tiers[len(cfg.Tiers)-1-i] = r
	}
	s := standing(10000, 7, 1000, map[int]int{3: 3})

	// THEN: The highest satisfied tier still wins
	assert.Equal(t, Qualify(&cfg, plan.Region{}, s), Qualify(&reversed, plan.Region{}, s))
	assert.Equal(t, plan.TierB3, Qualify(&reversed, plan.Region{}, s))
}

func TestQualify_MonotonicInGroupVolume(t *testing.T) {
	// GIVEN: Fixed partners, side volume and descendants
	cfg := plan.Default()
	counts := map[int]int{3: 5, 6: 5}

	// WHEN: Group volume increases step by step
	prev := -1
	for gv := int64(0); gv <= 60000; gv += 250 {
		tier := Qualify(&cfg, plan.Region{}, standing(gv, 13, 5000, counts))
		rank := cfg.Rank(tier)

		// THEN: The rank never drops
		assert.GreaterOrEqual(t, rank, prev, "group volume %d", gv)
		prev = rank
	}
	assert.Equal(t, cfg.Rank(plan.TierTop5), prev)
}

func TestApplyTier_RecordsOnlyChanges(t *testing.T) {
	// GIVEN: A root with M3 legs
	tree, _ := newTestTree(t, 10000)
	for _, v := range []int64{800, 800, 700, 700} {
		mustAdd(t, tree, v, tree.RootID())
	}

	// WHEN: Evaluating twice without changes
	mustPass(t, tree)
	mustPass(t, tree)

	// THEN: One transition is recorded
	root := mustPartner(t, tree, tree.RootID())
	changes := root.QualificationHistory.Items()
	require.Len(t, changes, 1)
	assert.Equal(t, plan.TierNone, changes[0].From)
	assert.Equal(t, plan.TierM3, changes[0].To)
	assert.Equal(t, 2, root.VolumeHistory.Len())

	latest := tree.QualificationChanges()
	require.Len(t, latest, 1)
	assert.Equal(t, tree.RootID(), latest[0].Partner)
}

func TestUpdateQualifications_RecomputesFromScratch(t *testing.T) {
	// GIVEN: A root at M3
	tree, _ := newTestTree(t, 10000)
	var legs []PartnerID
	for _, v := range []int64{800, 800, 700, 700} {
		legs = append(legs, mustAdd(t, tree, v, tree.RootID()))
	}
	mustPass(t, tree)
	require.Equal(t, plan.TierM3, mustPartner(t, tree, tree.RootID()).Tier)

	// WHEN: Two legs lose most of their volume
	require.NoError(t, tree.SetPersonalVolume(legs[0], dec(60)))
	require.NoError(t, tree.SetPersonalVolume(legs[1], dec(60)))
	mustPass(t, tree)

	// THEN: The root drops to the tier it now satisfies
	assert.Equal(t, plan.TierM2, mustPartner(t, tree, tree.RootID()).Tier)
}

package audit

import (
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

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTree(t *testing.T, cfg plan.Config, opts ...network.Option) (*network.Tree, *network.ManualClock) {
	t.Helper()
	clock := network.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	base := []network.Option{network.WithClock(clock), network.WithLogger(quietLogger())}
	tree, err := network.NewTree(cfg, dec(100000), append(base, opts...)...)
	require.NoError(t, err)
	return tree, clock
}

func add(t *testing.T, tree *network.Tree, volume int64, upline network.PartnerID) network.PartnerID {
	t.Helper()
	id, err := tree.AddPartner(dec(volume), upline)
	require.NoError(t, err)
	return id
}

func pass(t *testing.T, tree *network.Tree) {
	t.Helper()
	require.NoError(t, tree.UpdateQualifications())
}

func audit(t *testing.T, tree *network.Tree) Report {
	t.Helper()
	report, err := NewAuditor(quietLogger()).Audit(tree)
	require.NoError(t, err)
	return report
}

func finding(t *testing.T, r Report, c Category) Finding {
	t.Helper()
	f, ok := r.Finding(c)
	require.True(t, ok, "finding %s missing", c)
	return f
}

func issueTypes(f Finding) []string {
	var out []string
	for _, is := range f.Issues {
		out = append(out, is.Type)
	}
	return out
}

func newM3Tree(t *testing.T) *network.Tree {
	t.Helper()
	tree, _ := newTree(t, plan.Default())
	for _, v := range []int64{800, 800, 700, 700} {
		add(t, tree, v, tree.RootID())
	}
	pass(t, tree)
	return tree
}

// =============================================================================
// REPORT
// =============================================================================

func TestAudit_ReportShape(t *testing.T) {
	// GIVEN: An evaluated M3 tree
	tree := newM3Tree(t)

	// WHEN: Auditing it
	report := audit(t, tree)

	// THEN: Every category is reported once, in order, with bounded risk
	require.Len(t, report.Findings, len(Categories))
	for i, f := range report.Findings {
		assert.Equal(t, Categories[i], f.Category)
		assert.GreaterOrEqual(t, f.Risk, 0.0)
		assert.LessOrEqual(t, f.Risk, 1.0)
	}
	assert.GreaterOrEqual(t, report.Score, 0.0)
	assert.LessOrEqual(t, report.Score, 1.0)
	assert.Equal(t, tree.Clock().Now(), report.AuditedAt)

	// AND: Recommendations are sorted and unique
	seen := make(map[Recommendation]bool)
	for i, r := range report.Recommendations {
		assert.False(t, seen[r], "duplicate recommendation %q", r.Description)
		seen[r] = true
		if i > 0 {
			assert.LessOrEqual(t, report.Recommendations[i-1].Priority, r.Priority)
		}
	}

	// AND: The tree was only read
	assert.Equal(t, 5, tree.Len())
	assert.Empty(t, tree.History())
}

func TestAudit_RiskMetrics(t *testing.T) {
	report := audit(t, newM3Tree(t))

	// 800 of 3200 in the largest leg, nobody shielded, one M3 out of five
	assert.InDelta(t, 0.25, report.Metrics.Dependency, 1e-9)
	assert.InDelta(t, 0.0, report.Metrics.Compression, 1e-9)
	assert.InDelta(t, 0.8, report.Metrics.Stability, 1e-9)
}

func TestAudit_CompressedShareInMetrics(t *testing.T) {
	tree, _ := newTree(t, plan.Default())
	add(t, tree, 30, tree.RootID())
	add(t, tree, 300, tree.RootID())
	pass(t, tree)

	report := audit(t, tree)
	assert.InDelta(t, 1.0/3.0, report.Metrics.Compression, 1e-9)
	assert.InDelta(t, 0.6, report.Metrics.Dependency, 1e-9)
}

// =============================================================================
// SCORE
// =============================================================================

func TestScore_Weighted(t *testing.T) {
	score := Score([]Finding{
		{Category: CategoryCompression, Risk: 1},
		{Category: CategoryQualification, Risk: 0.5},
		{Category: CategoryBonus, Risk: 0.2},
	})
	assert.InDelta(t, 0.2+0.1+0.03, score, 1e-9)
}

func TestScore_CappedAtOne(t *testing.T) {
	var all []Finding
	for _, c := range Categories {
		all = append(all, Finding{Category: c, Risk: 5})
	}
	assert.InDelta(t, 1.0, Score(all), 1e-9)
	assert.LessOrEqual(t, Score(all), 1.0)
	assert.Zero(t, Score(nil))
}

func TestScore_MonotonicInEachRisk(t *testing.T) {
	// GIVEN: A baseline with every category at 0.3
	base := make([]Finding, len(Categories))
	for i, c := range Categories {
		base[i] = Finding{Category: c, Risk: 0.3}
	}

	// WHEN: Raising any single risk
	// THEN: The score never decreases
	for i := range base {
		for _, risk := range []float64{0.3, 0.5, 0.8, 1} {
			raised := append([]Finding(nil), base...)
			raised[i].Risk = risk
			assert.GreaterOrEqual(t, Score(raised), Score(base), "category %s", base[i].Category)
		}
	}
}

func TestMergeRecommendations(t *testing.T) {
	findings := []Finding{
		{Category: CategoryQualification, Risk: 0.2, Recommendations: []Recommendation{remedies["unusual_structure"]}},
		{Category: CategoryVolume, Risk: 0.3, Recommendations: []Recommendation{remedies["high_inequality"]}},
		{Category: CategoryStructure, Risk: 0.45, Recommendations: []Recommendation{remedies["branch_imbalance"], remedies["artificial_depth"]}},
		{Category: CategoryBonus, Risk: 0, Recommendations: []Recommendation{remedies["club_system_abuse"]}},
	}

	got := mergeRecommendations(findings)

	// The balance check is shared by two categories; bonus has no risk
	require.Len(t, got, 3)
	assert.Equal(t, remedies["artificial_depth"], got[0])
	assert.Equal(t, 2, got[1].Priority)
	assert.Equal(t, 2, got[2].Priority)
	assert.NotContains(t, got, remedies["club_system_abuse"])
}

// =============================================================================
// DETECTORS
// =============================================================================

func TestDetector_CompressionCycling(t *testing.T) {
	// GIVEN: A region whose grace period lasts a single month
	cfg := plan.Default()
	ru := cfg.Regions["RU"]
	ru.GraceMonths = 1
	cfg.Regions["RU"] = ru
	tree, clock := newTree(t, cfg)
	p := add(t, tree, 30, tree.RootID())

	// WHEN: The partner is compressed, recovers and is compressed again a month later
	pass(t, tree)
	require.NoError(t, tree.SetPersonalVolume(p, dec(100)))
	pass(t, tree)
	clock.AdvanceMonths(1)
	require.NoError(t, tree.SetPersonalVolume(p, dec(30)))
	pass(t, tree)

	// THEN: Both the short cycle and the frequent grace use are flagged
	f := finding(t, audit(t, tree), CategoryCompression)
	assert.Equal(t, []string{"compression_cycling", "grace_period_abuse"}, issueTypes(f))
	assert.InDelta(t, 0.5, f.Risk, 1e-9)
	assert.Equal(t, "frequent_short_periods", f.Issues[1].Cases[0].Pattern)
	assert.Equal(t, p, f.Issues[0].Cases[0].Partner)
	require.Len(t, f.Recommendations, 2)
	assert.Equal(t, 1, f.Recommendations[0].Priority)
}

func TestDetector_NoCompressionAbuseOnCleanTree(t *testing.T) {
	f := finding(t, audit(t, newM3Tree(t)), CategoryCompression)
	assert.Empty(t, f.Issues)
	assert.Zero(t, f.Risk)
	assert.Empty(t, f.Recommendations)
}

func TestDetector_RapidQualification(t *testing.T) {
	// GIVEN: A root that reaches M1 and then M3 on the same day
	tree, _ := newTree(t, plan.Default())
	root := tree.RootID()
	add(t, tree, 300, root)
	add(t, tree, 300, root)
	pass(t, tree)
	add(t, tree, 800, root)
	add(t, tree, 800, root)
	pass(t, tree)

	// WHEN: Auditing
	f := finding(t, audit(t, tree), CategoryQualification)

	// THEN: The two-rank jump and the unqualified majority are both flagged
	assert.Equal(t, []string{"rapid_qualification_change", "unusual_structure"}, issueTypes(f))
	assert.InDelta(t, 0.45, f.Risk, 1e-9)
	assert.Equal(t, plan.TierM3, f.Issues[0].Cases[0].Tier)
	assert.Equal(t, "high_unqualified_ratio", f.Issues[1].Cases[0].Pattern)
	assert.InDelta(t, 0.8, f.Issues[1].Cases[0].Value, 1e-9)
}

func TestDetector_VolumeConcentration(t *testing.T) {
	// GIVEN: A root holding almost all volume
	tree, _ := newTree(t, plan.Default(), network.WithRootVolume(dec(9600)))
	for i := 0; i < 4; i++ {
		add(t, tree, 100, tree.RootID())
	}
	pass(t, tree)

	// WHEN: Auditing
	f := finding(t, audit(t, tree), CategoryVolume)

	// THEN: Gini 0.76 and a 96 % top-fifth share are both flagged
	assert.Equal(t, []string{"high_inequality", "high_concentration"}, issueTypes(f))
	assert.InDelta(t, 0.6, f.Risk, 1e-9)
	assert.InDelta(t, 0.76, f.Issues[0].Cases[0].Value, 1e-9)
	require.Len(t, f.Recommendations, 1)
}

func TestInequality(t *testing.T) {
	tests := []struct {
		name           string
		volumes        []float64
		gini, topShare float64
	}{
		{"equal", []float64{100, 100, 100, 100, 100}, 0, 0.2},
		{"skewed", []float64{96, 1, 1, 1, 1}, 0.76, 0.96},
		{"empty", nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gini, share := Inequality(tt.volumes)
			assert.InDelta(t, tt.gini, gini, 1e-9)
			assert.InDelta(t, tt.topShare, share, 1e-9)
		})
	}
}

func TestVolumePattern(t *testing.T) {
	tests := []struct {
		series []float64
		want   string
	}{
		{[]float64{100, 110, 105}, ""},
		{[]float64{100, 400}, "extreme_changes"},
		{[]float64{100, 250, 600, 1300, 2700}, "frequent_large_changes"},
		{[]float64{1000, 400, 150}, "consistent_decrease"},
		{[]float64{100, 160, 250}, "consistent_increase"},
		{[]float64{100}, ""},
	}
	for _, tt := range tests {
		got, _ := volumePattern(tt.series)
		assert.Equal(t, tt.want, got, "series %v", tt.series)
	}
}

func TestDetector_ArtificialDepth(t *testing.T) {
	// GIVEN: A single chain eight levels deep
	tree, _ := newTree(t, plan.Default())
	up := tree.RootID()
	for i := 0; i < 8; i++ {
		up = add(t, tree, 100, up)
	}
	pass(t, tree)

	// WHEN: Auditing
	f := finding(t, audit(t, tree), CategoryStructure)

	// THEN: Depth 8 with 9 active partners and five identical leaves are flagged
	assert.Equal(t, []string{"artificial_depth", "partner_duplication"}, issueTypes(f))
	assert.InDelta(t, 0.55, f.Risk, 1e-9)
	assert.Equal(t, tree.RootID(), f.Issues[0].Cases[0].Partner)
	assert.Equal(t, 8, f.Issues[0].Cases[0].Level)
	assert.InDelta(t, 5, f.Issues[1].Cases[0].Value, 1e-9)
}

func TestDetector_BranchImbalance(t *testing.T) {
	tree, _ := newTree(t, plan.Default())
	add(t, tree, 1000, tree.RootID())
	add(t, tree, 100, tree.RootID())
	pass(t, tree)

	f := finding(t, audit(t, tree), CategoryStructure)
	assert.Equal(t, []string{"branch_imbalance"}, issueTypes(f))
	assert.InDelta(t, 900.0/1100.0, f.Issues[0].Cases[0].Value, 1e-9)
	assert.InDelta(t, 0.2, f.Risk, 1e-9)
}

func TestDetector_QuickStartSwing(t *testing.T) {
	// GIVEN: A partner who bought a kit with a time-boxed privilege
	tree, _ := newTree(t, plan.Default())
	p := add(t, tree, 100, tree.RootID())
	pass(t, tree)
	require.NoError(t, tree.PurchaseStarterKit(p, "BUSINESS"))

	// WHEN: Volume quadruples between passes
	require.NoError(t, tree.SetPersonalVolume(p, dec(400)))
	pass(t, tree)

	// THEN: The swing is flagged as bonus exploitation
	f := finding(t, audit(t, tree), CategoryBonus)
	assert.Equal(t, []string{"quick_start_abuse"}, issueTypes(f))
	assert.InDelta(t, 0.2, f.Risk, 1e-9)
	assert.InDelta(t, 3.0, f.Issues[0].Cases[0].Value, 1e-9)
}

func TestGrowthPattern(t *testing.T) {
	assert.Equal(t, "explosive_growth", growthPattern([]float64{0.1, 6}))
	assert.Equal(t, "consistent_decline", growthPattern([]float64{-0.4, -0.5}))
	assert.Equal(t, "erratic_changes", growthPattern([]float64{2.5, -0.2}))
	assert.Equal(t, "", growthPattern([]float64{0.1, 0.2}))
}

func TestChainAnomalies(t *testing.T) {
	// GIVEN: An M3 root directly above unqualified legs
	tree := newM3Tree(t)
	v, err := newView(tree)
	require.NoError(t, err)

	// WHEN: Walking each chain to the root
	cases := chainAnomalies(v)

	// THEN: Every leg sees a jump of three ranks
	require.Len(t, cases, 4)
	for _, c := range cases {
		assert.Equal(t, "sharp_increase", c.Pattern)
	}
}

func TestSeasonalAnomalies_NeedSixMonths(t *testing.T) {
	tree, clock := newTree(t, plan.Default())
	for i := 0; i < 5; i++ {
		pass(t, tree)
		clock.AdvanceMonths(1)
	}
	v, err := newView(tree)
	require.NoError(t, err)
	assert.Nil(t, seasonalAnomalies(v))
}

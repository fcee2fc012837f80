package audit

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/plan"
)

// Thresholds shared by the detectors.
const (
	cycleDays          = 60
	graceWindowDays    = 90
	graceShortAvgDays  = 45
	graceMaxPeriods    = 3
	daysPerRank        = 30
	bTierShareLimit    = 0.4
	unqualifiedLimit   = 0.6
	giniLimit          = 0.6
	concentrationLimit = 0.8
	imbalanceLimit     = 0.7
	depthLimit         = 7
	duplicateLimit     = 3
	bonusSwingLimit    = 2.0
	clubChurnDays      = 30
)

// =============================================================================
// COMPRESSION ABUSE
// =============================================================================

func detectCompressionAbuse(v *view) Finding {
	var f Finding
	var grace []Case
	for i := range v.partners {
		p := &v.partners[i]
		entries := p.CompressionHistory.Items()
		if len(entries) < 2 {
			continue
		}

		var cycles []Case
		var short []int
		for j := 0; j+1 < len(entries); j++ {
			d := days(entries[j].At, entries[j+1].At)
			if d <= cycleDays {
				cycles = append(cycles, Case{Partner: p.ID, Value: float64(d)})
			}
			if d <= graceWindowDays {
				short = append(short, d)
			}
		}
		if len(cycles) > 0 {
			f.Issues = append(f.Issues, Issue{
				Type:        "compression_cycling",
				Description: "partner recovers and compresses again in short cycles",
				Cases:       cycles,
			})
			f.Risk += 0.3
		}
		if pattern := gracePattern(short); pattern != "" {
			grace = append(grace, Case{Partner: p.ID, Pattern: pattern, Value: float64(len(short))})
		}
	}
	if len(grace) > 0 {
		f.Issues = append(f.Issues, Issue{
			Type:        "grace_period_abuse",
			Description: "grace periods are used repeatedly",
			Cases:       grace,
		})
		f.Risk += 0.2
	}
	f.Recommendations = recommend(f.Issues)
	return f
}

func gracePattern(intervals []int) string {
	if len(intervals) == 0 {
		return ""
	}
	sum := 0
	for _, d := range intervals {
		sum += d
	}
	switch {
	case float64(sum)/float64(len(intervals)) < graceShortAvgDays:
		return "frequent_short_periods"
	case len(intervals) > graceMaxPeriods:
		return "multiple_periods"
	}
	return ""
}

// =============================================================================
// QUALIFICATION ABUSE
// =============================================================================

func detectQualificationAbuse(v *view) Finding {
	var f Finding
	for i := range v.partners {
		p := &v.partners[i]
		changes := p.QualificationHistory.Items()
		var rapid []Case
		for j := 0; j+1 < len(changes); j++ {
			from, to := changes[j].To, changes[j+1].To
			diff := v.cfg.Rank(to) - v.cfg.Rank(from)
			d := days(changes[j].At, changes[j+1].At)
			if v.cfg.Rank(from) >= 0 && v.cfg.Rank(to) >= 0 && d < diff*daysPerRank {
				rapid = append(rapid, Case{Partner: p.ID, Tier: to, Value: float64(d)})
			}
		}
		if len(rapid) > 0 {
			f.Issues = append(f.Issues, Issue{
				Type:        "rapid_qualification_change",
				Description: "tier rose faster than one rank per month",
				Cases:       rapid,
			})
			f.Risk += 0.25
		}
	}

	if cases := tierDistribution(v); len(cases) > 0 {
		f.Issues = append(f.Issues, Issue{
			Type:        "unusual_structure",
			Description: "tier distribution is implausible",
			Cases:       cases,
		})
		f.Risk += 0.2
	}
	f.Recommendations = recommend(f.Issues)
	return f
}

func tierDistribution(v *view) []Case {
	n := len(v.partners)
	if n == 0 {
		return nil
	}
	counts := make(map[plan.Tier]int)
	for _, p := range v.partners {
		counts[p.Tier]++
	}
	var out []Case
	for _, rule := range v.cfg.TiersByRank() {
		count, ok := counts[rule.Tier]
		if !ok {
			continue
		}
		share := float64(count) / float64(n)
		switch rule.Tier {
		case plan.TierB1, plan.TierB2, plan.TierB3:
			if share > bTierShareLimit {
				out = append(out, Case{Partner: network.NoPartner, Tier: rule.Tier, Pattern: "high_qualification_concentration", Value: share})
			}
		case plan.TierNone:
			if share > unqualifiedLimit {
				out = append(out, Case{Partner: network.NoPartner, Tier: rule.Tier, Pattern: "high_unqualified_ratio", Value: share})
			}
		}
	}
	return out
}

// =============================================================================
// VOLUME DISTRIBUTION
// =============================================================================

func detectVolumeDistribution(v *view) Finding {
	var f Finding
	volumes := make([]float64, 0, len(v.partners))
	for _, p := range v.partners {
		if p.Volume.IsPositive() {
			volumes = append(volumes, p.Volume.InexactFloat64())
		}
	}
	gini, concentration := Inequality(volumes)
	if gini > giniLimit {
		f.Issues = append(f.Issues, Issue{
			Type:        "high_inequality",
			Description: "personal volume is very unevenly distributed",
			Cases:       []Case{{Partner: network.NoPartner, Value: gini}},
		})
		f.Risk += 0.3
	}
	if concentration > concentrationLimit {
		f.Issues = append(f.Issues, Issue{
			Type:        "high_concentration",
			Description: "the top fifth of partners carries most of the volume",
			Cases:       []Case{{Partner: network.NoPartner, Value: concentration}},
		})
		f.Risk += 0.3
	}

	var manipulated []Case
	for i := range v.partners {
		p := &v.partners[i]
		if pattern, freq := volumePattern(personalSeries(p)); pattern != "" {
			manipulated = append(manipulated, Case{Partner: p.ID, Pattern: pattern, Value: float64(freq)})
		}
	}
	if len(manipulated) > 0 {
		f.Issues = append(f.Issues, Issue{
			Type:        "personal_volume_manipulation",
			Description: "personal volume swings between passes",
			Cases:       manipulated,
		})
		f.Risk += 0.2
	}
	f.Recommendations = recommend(f.Issues)
	return f
}

// Inequality returns the Gini coefficient of volumes and the share held
// by the top 20 %. Non-positive totals yield zeros.
func Inequality(volumes []float64) (gini, concentration float64) {
	n := len(volumes)
	if n == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), volumes...)
	sort.Float64s(sorted)

	var total, cumsum, sumOfCumsum float64
	for _, x := range sorted {
		cumsum += x
		sumOfCumsum += cumsum
	}
	total = cumsum
	if total <= 0 {
		return 0, 0
	}
	gini = (float64(n) + 1 - 2*sumOfCumsum/total) / float64(n)

	var top float64
	for _, x := range sorted[int(0.8*float64(n)):] {
		top += x
	}
	return gini, top / total
}

// volumePattern classifies a personal volume series. freq counts changes
// larger than 100 %.
func volumePattern(series []float64) (string, int) {
	changes := relativeChanges(series)
	if len(changes) == 0 {
		return "", 0
	}
	freq := 0
	extreme := false
	allDown, allUp := true, true
	for _, c := range changes {
		if math.Abs(c) > 1 {
			freq++
		}
		if math.Abs(c) > 2 {
			extreme = true
		}
		allDown = allDown && c < -0.5
		allUp = allUp && c > 0.5
	}
	switch {
	case freq > 2:
		return "frequent_large_changes", freq
	case extreme:
		return "extreme_changes", freq
	case allDown:
		return "consistent_decrease", freq
	case allUp:
		return "consistent_increase", freq
	}
	return "", freq
}

// =============================================================================
// STRUCTURE MANIPULATION
// =============================================================================

func detectStructureManipulation(v *view) Finding {
	var f Finding

	var imbalanced []Case
	for _, p := range v.partners {
		if r, ok := imbalance(v, &p); ok && r > imbalanceLimit {
			imbalanced = append(imbalanced, Case{Partner: p.ID, Value: r})
		}
	}
	if len(imbalanced) > 0 {
		f.Issues = append(f.Issues, Issue{
			Type:        "branch_imbalance",
			Description: "one branch dwarfs its siblings",
			Cases:       imbalanced,
		})
		f.Risk += 0.2
	}

	var deep []Case
	for _, p := range v.partners {
		depth := v.subtreeDepth(p.ID)
		if depth > depthLimit && v.branchActive(p.ID) < 2*depth {
			deep = append(deep, Case{Partner: p.ID, Level: depth, Value: float64(v.branchActive(p.ID))})
		}
	}
	if len(deep) > 0 {
		f.Issues = append(f.Issues, Issue{
			Type:        "artificial_depth",
			Description: "deep branches with too few active partners",
			Cases:       deep,
		})
		f.Risk += 0.25
	}

	if dups := duplicates(v); len(dups) > 0 {
		f.Issues = append(f.Issues, Issue{
			Type:        "partner_duplication",
			Description: "many partners share the same volume and tier",
			Cases:       dups,
		})
		f.Risk += 0.3
	}
	f.Recommendations = recommend(f.Issues)
	return f
}

// imbalance returns (largest - smallest) / total over the branch group
// volumes of p. ok is false without children or volume.
func imbalance(v *view, p *network.Partner) (float64, bool) {
	if len(p.Downline) == 0 {
		return 0, false
	}
	first := v.group[p.Downline[0]]
	hi, lo, total := first, first, decimal.Zero
	for _, c := range p.Downline {
		gv := v.group[c]
		hi = decimal.Max(hi, gv)
		lo = decimal.Min(lo, gv)
		total = total.Add(gv)
	}
	if !total.IsPositive() {
		return 0, false
	}
	return hi.Sub(lo).Div(total).InexactFloat64(), true
}

func duplicates(v *view) []Case {
	type key struct {
		volume string
		tier   plan.Tier
	}
	groups := make(map[key]int)
	var order []key
	for _, p := range v.partners {
		if !p.Volume.IsPositive() {
			continue
		}
		k := key{p.Volume.String(), p.Tier}
		if groups[k] == 0 {
			order = append(order, k)
		}
		groups[k]++
	}
	var out []Case
	for _, k := range order {
		if n := groups[k]; n > duplicateLimit {
			out = append(out, Case{Partner: network.NoPartner, Tier: k.tier, Pattern: k.volume, Value: float64(n)})
		}
	}
	return out
}

// =============================================================================
// BONUS EXPLOITATION
// =============================================================================

func detectBonusExploitation(v *view) Finding {
	var f Finding

	var swings []Case
	for i := range v.partners {
		p := &v.partners[i]
		if !holdsTimeBoxedPrivilege(p, v) {
			continue
		}
		for _, c := range relativeChanges(personalSeries(p)) {
			if math.Abs(c) > bonusSwingLimit {
				swings = append(swings, Case{Partner: p.ID, Value: c})
				break
			}
		}
	}
	if len(swings) > 0 {
		f.Issues = append(f.Issues, Issue{
			Type:        "quick_start_abuse",
			Description: "volume swings while a time-boxed privilege is held",
			Cases:       swings,
		})
		f.Risk += 0.2
	}

	var churn []Case
	for i := range v.partners {
		p := &v.partners[i]
		if len(p.Clubs) == 0 {
			continue
		}
		changes := p.QualificationHistory.Items()
		for j := 0; j+1 < len(changes); j++ {
			from, to := v.cfg.Rank(changes[j].To), v.cfg.Rank(changes[j+1].To)
			if from < 0 || to < 0 {
				continue
			}
			diff := to - from
			if diff < 0 {
				diff = -diff
			}
			if d := days(changes[j].At, changes[j+1].At); d < clubChurnDays && diff > 1 {
				churn = append(churn, Case{Partner: p.ID, Tier: changes[j+1].To, Value: float64(d)})
			}
		}
	}
	if len(churn) > 0 {
		f.Issues = append(f.Issues, Issue{
			Type:        "club_system_abuse",
			Description: "club members change tier by more than one rank within a month",
			Cases:       churn,
		})
		f.Risk += 0.25
	}
	f.Recommendations = recommend(f.Issues)
	return f
}

func holdsTimeBoxedPrivilege(p *network.Partner, v *view) bool {
	for priv, expiry := range p.Privileges {
		if !expiry.IsZero() && p.HasPrivilege(priv, v.now) {
			return true
		}
	}
	return false
}

// =============================================================================
// NON-STANDARD CONFIGURATIONS
// =============================================================================

// expectedShare caps the share of a tier on the first three levels. A
// level exceeds it when the observed share is 1.5 times higher.
var expectedShare = map[plan.Tier]map[int]float64{
	plan.TierNone: {1: 0.4, 2: 0.5, 3: 0.6},
	plan.TierM1:   {1: 0.3, 2: 0.3, 3: 0.2},
	plan.TierM2:   {1: 0.2, 2: 0.1, 3: 0.1},
	plan.TierM3:   {1: 0.1, 2: 0.1, 3: 0.1},
	plan.TierB1:   {2: 0.2, 3: 0.15},
	plan.TierB2:   {3: 0.1},
	plan.TierB3:   {3: 0.05},
}

func detectNonstandard(v *view) Finding {
	var f Finding

	structural := false
	if cases := emptyBranches(v); len(cases) > 0 {
		f.Issues = append(f.Issues, Issue{Type: "empty_branches", Description: "branches without enough volume or active partners", Cases: cases})
		structural = true
	}
	if cases := levelTierBalance(v); len(cases) > 0 {
		f.Issues = append(f.Issues, Issue{Type: "unbalanced_qualifications", Description: "a tier is overrepresented on a level", Cases: cases})
		structural = true
	}
	if structural {
		f.Risk += 0.2
	}

	if cases := chainAnomalies(v); len(cases) > 0 {
		f.Issues = append(f.Issues, Issue{Type: "qualification_chain_anomaly", Description: "tiers along an upline chain jump or invert", Cases: cases})
		f.Risk += 0.25
	}

	if cases := levelVolumeAnomalies(v); len(cases) > 0 {
		f.Issues = append(f.Issues, Issue{Type: "level_volume_anomaly", Description: "volume spikes or collapses between levels", Cases: cases})
		f.Risk += 0.2
	}

	growth := growthAnomalies(v)
	seasonal := seasonalAnomalies(v)
	if len(growth) > 0 {
		f.Issues = append(f.Issues, Issue{Type: "growth_anomaly", Description: "personal volume grows explosively or erratically", Cases: growth})
	}
	if len(seasonal) > 0 {
		f.Issues = append(f.Issues, Issue{Type: "seasonal_anomaly", Description: "monthly volume deviates more than two standard deviations", Cases: seasonal})
	}
	if len(growth) > 0 || len(seasonal) > 0 {
		f.Risk += 0.15
	}

	f.Recommendations = recommend(f.Issues)
	return f
}

func emptyBranches(v *view) []Case {
	limit := v.minActive.Mul(decimal.NewFromInt(2))
	var out []Case
	for _, p := range v.partners {
		if len(p.Downline) == 0 {
			continue
		}
		if v.group[p.ID].LessThan(limit) && v.branchActive(p.ID) < 2 {
			out = append(out, Case{Partner: p.ID, Value: v.group[p.ID].InexactFloat64()})
		}
	}
	return out
}

func levelTierBalance(v *view) []Case {
	type cell struct {
		level int
		tier  plan.Tier
	}
	counts := make(map[cell]int)
	perLevel := make(map[int]int)
	for _, p := range v.partners {
		lvl := v.level[p.ID]
		counts[cell{lvl, p.Tier}]++
		perLevel[lvl]++
	}

	var out []Case
	for lvl := 1; lvl <= v.maxLevel(); lvl++ {
		for _, rule := range v.cfg.TiersByRank() {
			n := counts[cell{lvl, rule.Tier}]
			limit, ok := expectedShare[rule.Tier][lvl]
			if n == 0 || !ok {
				continue
			}
			share := float64(n) / float64(perLevel[lvl])
			if share > limit*1.5 {
				out = append(out, Case{Partner: network.NoPartner, Level: lvl, Tier: rule.Tier, Value: share})
			}
		}
	}
	return out
}

// chainAnomalies walks from each partner up to the root. A rise of more
// than two ranks between neighbours is a sharp increase; more than one
// drop of two or more ranks is a multiple inversion.
func chainAnomalies(v *view) []Case {
	var out []Case
	for _, p := range v.partners {
		prev := v.cfg.Rank(p.Tier)
		if prev < 0 {
			continue
		}
		inversions := 0
		pattern := ""
		for up := p.Upline; up != network.NoPartner; up = v.byID[up].Upline {
			rank := v.cfg.Rank(v.byID[up].Tier)
			if rank < 0 {
				continue
			}
			if rank > prev+2 {
				pattern = "sharp_increase"
				break
			}
			if rank < prev-1 {
				inversions++
			}
			prev = rank
		}
		if pattern == "" && inversions > 1 {
			pattern = "multiple_inversions"
		}
		if pattern != "" {
			out = append(out, Case{Partner: p.ID, Tier: p.Tier, Pattern: pattern})
		}
	}
	return out
}

func levelVolumeAnomalies(v *view) []Case {
	volumes := make(map[int]decimal.Decimal)
	for _, p := range v.partners {
		lvl := v.level[p.ID]
		volumes[lvl] = volumes[lvl].Add(p.Volume)
	}
	var out []Case
	for lvl := 1; lvl <= v.maxLevel(); lvl++ {
		prev := volumes[lvl-1]
		if !prev.IsPositive() {
			continue
		}
		ratio := volumes[lvl].Div(prev).InexactFloat64()
		switch {
		case ratio > 3:
			out = append(out, Case{Partner: network.NoPartner, Level: lvl, Pattern: "volume_spike", Value: ratio})
		case ratio < 0.2:
			out = append(out, Case{Partner: network.NoPartner, Level: lvl, Pattern: "volume_drop", Value: ratio})
		}
	}
	return out
}

func growthAnomalies(v *view) []Case {
	var out []Case
	for i := range v.partners {
		p := &v.partners[i]
		series := personalSeries(p)
		if len(series) < 3 {
			continue
		}
		if pattern := growthPattern(relativeChanges(series)); pattern != "" {
			out = append(out, Case{Partner: p.ID, Pattern: pattern})
		}
	}
	return out
}

func growthPattern(rates []float64) string {
	declining := true
	for _, r := range rates {
		if r > 5 {
			return "explosive_growth"
		}
		declining = declining && r < -0.3
	}
	if declining {
		return "consistent_decline"
	}
	for i := 1; i < len(rates); i++ {
		if math.Abs(rates[i]-rates[i-1]) > 2 {
			return "erratic_changes"
		}
	}
	return ""
}

// seasonalAnomalies needs at least six months of recorded passes.
func seasonalAnomalies(v *view) []Case {
	monthly := make(map[string]float64)
	for _, p := range v.partners {
		for _, r := range p.VolumeHistory.Items() {
			monthly[r.At.Format("2006-01")] += r.Personal.InexactFloat64()
		}
	}
	if len(monthly) < 6 {
		return nil
	}

	months := make([]string, 0, len(monthly))
	var mean float64
	for m, vol := range monthly {
		months = append(months, m)
		mean += vol
	}
	sort.Strings(months)
	mean /= float64(len(monthly))
	var variance float64
	for _, vol := range monthly {
		variance += (vol - mean) * (vol - mean)
	}
	std := math.Sqrt(variance / float64(len(monthly)))
	if std == 0 {
		return nil
	}

	var out []Case
	for _, m := range months {
		if dev := monthly[m] - mean; math.Abs(dev) > 2*std {
			out = append(out, Case{Partner: network.NoPartner, Month: m, Value: dev / std})
		}
	}
	return out
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

var remedies = map[string]Recommendation{
	"compression_cycling":          {1, "Enforce a minimum period between recoveries", "Limit the number of recoveries per year"},
	"grace_period_abuse":           {2, "Review grace period terms", "Require additional conditions before a grace period opens"},
	"rapid_qualification_change":   {1, "Enforce minimum periods between promotions", "Check qualification history before promoting"},
	"unusual_structure":            {2, "Add structure balance checks", "Require a plausible spread of tiers"},
	"high_inequality":              {2, "Check evenness of volume distribution", "Cap the difference between branches"},
	"high_concentration":           {2, "Check evenness of volume distribution", "Cap the difference between branches"},
	"personal_volume_manipulation": {1, "Monitor personal volume changes", "Review the history of personal volume adjustments"},
	"branch_imbalance":             {2, "Add structure balance checks", "Require a plausible spread of tiers"},
	"artificial_depth":             {1, "Check that structures grow naturally", "Analyse depth against width of the structure"},
	"partner_duplication":          {1, "Tighten partner registration", "Detect duplicate registrations"},
	"quick_start_abuse":            {2, "Review quick start terms", "Add requirements before quick start bonuses pay"},
	"club_system_abuse":            {1, "Tighten club membership control", "Check activity of club members"},
	"empty_branches":               {2, "Consolidate empty branches", "Redistribute volume to productive branches"},
	"unbalanced_qualifications":    {1, "Balance the tier distribution", "Plan development to even out the structure"},
	"qualification_chain_anomaly":  {2, "Smooth qualification chains", "Encourage gradual tier development"},
	"level_volume_anomaly":         {2, "Smooth volume across levels", "Review levels where volume spikes or collapses"},
	"growth_anomaly":               {1, "Stabilise structure growth", "Introduce controls on growth rate"},
	"seasonal_anomaly":             {2, "Review seasonal volume swings", "Check months that deviate from the trend"},
}

// recommend maps issues to their remedies, deduplicated, most urgent first.
func recommend(issues []Issue) []Recommendation {
	seen := make(map[string]bool)
	var out []Recommendation
	for _, is := range issues {
		r, ok := remedies[is.Type]
		if !ok || seen[r.Description] {
			continue
		}
		seen[r.Description] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

package network

import (
	"github.com/shopspring/decimal"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// QUALIFICATION ENGINE - Highest satisfied tier wins
// =============================================================================

// Qualify scans the whole tier table and returns the satisfied tier with
// the highest rank. A higher tier can satisfy a lower tier's thresholds,
// so the scan never stops at the first match, and declaration order of
// the table does not matter.
func Qualify(cfg *plan.Config, region plan.Region, s Standing) plan.Tier {
	best := cfg.LowestTier()
	bestRank := cfg.Rank(best)
	for _, rule := range cfg.Tiers {
		if rule.Rank <= bestRank {
			continue
		}
		if Satisfies(cfg, region, rule, s) {
			best, bestRank = rule.Tier, rule.Rank
		}
	}
	return best
}

// Satisfies reports whether s meets every threshold of rule after the
// region's overrides are applied.
func Satisfies(cfg *plan.Config, region plan.Region, rule plan.TierRule, s Standing) bool {
	if s.GroupVolume.LessThan(MinGroupVolume(region, rule)) {
		return false
	}
	if s.ActivePartners < rule.MinActivePartners {
		return false
	}
	if s.SideVolume.LessThan(rule.MinSideVolume) {
		return false
	}
	for prereq, count := range rule.Prerequisites {
		if s.AtLeast(cfg.Rank(prereq)) < count {
			return false
		}
	}
	return true
}

// MinGroupVolume returns the group volume rule requires in region.
func MinGroupVolume(region plan.Region, rule plan.TierRule) decimal.Decimal {
	if v, ok := region.GroupVolumeOverrides[rule.Tier]; ok {
		return v
	}
	return rule.MinGroupVolume
}

// Standing computes the current aggregates of one partner. It walks the
// subtree on demand; UpdateQualifications uses the bulk pass instead.
func (t *Tree) Standing(id PartnerID) (Standing, error) {
	p, ok := t.partners[id]
	if !ok {
		return Standing{}, partnerNotFound(id)
	}
	gv, err := t.GroupVolume(id)
	if err != nil {
		return Standing{}, err
	}
	side, err := t.SideVolume(id)
	if err != nil {
		return Standing{}, err
	}
	active, err := t.ActivePartners(id)
	if err != nil {
		return Standing{}, err
	}
	counts := make(map[int]int)
	stack := append([]PartnerID(nil), p.Downline...)
	for len(stack) > 0 {
		cid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c := t.partners[cid]
		if c.Shielded() {
			continue
		}
		counts[t.cfg.Rank(c.Tier)]++
		stack = append(stack, c.Downline...)
	}
	return Standing{GroupVolume: gv, SideVolume: side, ActivePartners: active, RankCounts: counts}, nil
}

// applyTier records a tier transition. Unchanged tiers leave no trace.
func (t *Tree) applyTier(p *Partner, tier plan.Tier, s Standing) {
	if tier == p.Tier {
		return
	}
	now := t.clock.Now()
	p.QualificationHistory.Append(QualificationChange{At: now, From: p.Tier, To: tier})
	t.logger.Info("qualification changed",
		"partner", p.ID.String(),
		"from", string(p.Tier),
		"to", string(tier),
		"group_volume", s.GroupVolume.String(),
		"active_partners", s.ActivePartners)
	p.Tier = tier
}

/*
patterns.go - Scaffolding patterns per tier

PURPOSE:
  Describes the partner structures the builder places to reach a tier.
  A pattern is a list of legs; each leg is one partner with a personal
  volume and, optionally, its own legs.

LITERAL PATTERNS (balanced):
  M3   [800, 800, 700, 700]
  B3   three heads [2500, 2500, 2000], each carrying 4 × 750,
       plus side legs [1000, 1000]
  TOP  five heads of 200, each carrying 4 × 750, plus side legs [500, 500]

OTHER TIERS:
  Tiers without prerequisites get min-partners equal legs that add up to
  the tier's group volume. Tiers with prerequisites get one head per
  required descendant (carrying that tier's pattern) plus padding legs
  that cover the remaining group and side volume.

STRATEGY:
  Aggressive and conservative reshape flat patterns only:
    aggressive    max(3, minPartners-1) equal legs
    conservative  minPartners+2 equal legs
  Nested patterns are the same for every strategy.

SEE ALSO:
  - builder.go: places patterns into a tree stage by stage
*/
package optimizer

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/plan"
)

// Leg is one planned partner and the partners planned beneath it.
type Leg struct {
	Volume decimal.Decimal `json:"volume"`
	Legs   []Leg           `json:"legs,omitempty"`
}

// Total is the volume of the leg and everything below it.
func (l Leg) Total() decimal.Decimal {
	total := l.Volume
	for _, c := range l.Legs {
		total = total.Add(c.Total())
	}
	return total
}

// Count is the number of partners the leg places.
func (l Leg) Count() int {
	n := 1
	for _, c := range l.Legs {
		n += c.Count()
	}
	return n
}

// PatternTotal sums the volume of every leg.
func PatternTotal(legs []Leg) decimal.Decimal {
	total := decimal.Zero
	for _, l := range legs {
		total = total.Add(l.Total())
	}
	return total
}

func flat(volumes ...int64) []Leg {
	out := make([]Leg, len(volumes))
	for i, v := range volumes {
		out[i] = Leg{Volume: decimal.NewFromInt(v)}
	}
	return out
}

func head(volume int64, legs []Leg) Leg {
	return Leg{Volume: decimal.NewFromInt(volume), Legs: legs}
}

func isFlat(legs []Leg) bool {
	for _, l := range legs {
		if len(l.Legs) > 0 {
			return false
		}
	}
	return true
}

// split divides total into n whole-unit parts; the last part takes the
// remainder.
func split(total decimal.Decimal, n int) []Leg {
	if n <= 0 {
		return nil
	}
	each := total.Div(decimal.NewFromInt(int64(n))).Floor()
	out := make([]Leg, n)
	for i := 0; i < n-1; i++ {
		out[i] = Leg{Volume: each}
	}
	out[n-1] = Leg{Volume: total.Sub(each.Mul(decimal.NewFromInt(int64(n - 1))))}
	return out
}

// Pattern returns the legs that qualify a partner for tier under
// strategy. The lowest tier needs no legs.
func Pattern(cfg *plan.Config, tier plan.Tier, strategy Strategy) ([]Leg, error) {
	rule, ok := cfg.Tier(tier)
	if !ok {
		return nil, &network.NotFoundError{Kind: "tier", ID: string(tier)}
	}
	if tier == cfg.LowestTier() {
		return nil, nil
	}
	legs := basePattern(cfg, rule, 0)
	if !isFlat(legs) || strategy == Balanced {
		return legs, nil
	}

	var n int
	switch strategy {
	case Aggressive:
		n = max(3, rule.MinActivePartners-1)
	case Conservative:
		n = rule.MinActivePartners + 2
	default:
		return legs, nil
	}
	return split(rule.MinGroupVolume, n), nil
}

func basePattern(cfg *plan.Config, rule plan.TierRule, depth int) []Leg {
	switch rule.Tier {
	case plan.TierM3:
		return flat(800, 800, 700, 700)
	case plan.TierB3:
		m3 := flat(750, 750, 750, 750)
		return append([]Leg{head(2500, m3), head(2500, m3), head(2000, m3)}, flat(1000, 1000)...)
	case plan.TierTop:
		m3 := flat(750, 750, 750, 750)
		legs := make([]Leg, 0, 7)
		for i := 0; i < 5; i++ {
			legs = append(legs, head(200, m3))
		}
		return append(legs, flat(500, 500)...)
	}

	if len(rule.Prerequisites) == 0 || depth > len(cfg.Tiers) {
		return split(rule.MinGroupVolume, max(1, rule.MinActivePartners))
	}

	// One head per required descendant, highest prerequisite first.
	prereqs := make([]plan.TierRule, 0, len(rule.Prerequisites))
	for t := range rule.Prerequisites {
		if r, ok := cfg.Tier(t); ok {
			prereqs = append(prereqs, r)
		}
	}
	sort.Slice(prereqs, func(i, j int) bool { return prereqs[i].Rank > prereqs[j].Rank })

	var legs []Leg
	for _, p := range prereqs {
		sub := basePattern(cfg, p, depth+1)
		for i := 0; i < rule.Prerequisites[p.Tier]; i++ {
			legs = append(legs, Leg{Volume: cfg.OptimalPersonalVolume, Legs: sub})
		}
	}

	placed, largest, partners := decimal.Zero, decimal.Zero, 0
	for _, l := range legs {
		placed = placed.Add(l.Total())
		largest = decimal.Max(largest, l.Total())
		partners += l.Count()
	}
	pad := decimal.Max(
		rule.MinGroupVolume.Sub(placed),
		rule.MinSideVolume.Sub(placed.Sub(largest)),
	)
	if pad.IsPositive() {
		legs = append(legs, split(pad, max(2, rule.MinActivePartners-partners))...)
	}
	return legs
}

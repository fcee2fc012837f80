package optimizer

import (
	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// LEVEL ANALYSIS
// =============================================================================

// LevelStats summarizes all partners at one distance from the root.
type LevelStats struct {
	Level    int `json:"level"`
	Partners int `json:"partners"`
	Active   int `json:"active"`
	// AboveActiveVolume counts partners at or above the plan's active
	// partner volume; AboveOptimalVolume those at or above the optimal one.
	AboveActiveVolume  int               `json:"above_active_volume"`
	AboveOptimalVolume int               `json:"above_optimal_volume"`
	Tiers              map[plan.Tier]int `json:"tiers"`
	TotalVolume        decimal.Decimal   `json:"total_volume"`
	AverageVolume      decimal.Decimal   `json:"average_volume"`
	GroupVolume        decimal.Decimal   `json:"group_volume"`
	Payout             decimal.Decimal   `json:"payout"`
	CumulativePayout   decimal.Decimal   `json:"cumulative_payout"`
}

// AnalyzeLevels walks the tree breadth first and returns one entry per
// level, root first.
func AnalyzeLevels(tree *network.Tree) ([]LevelStats, error) {
	cfg := tree.Config()
	var out []LevelStats

	frontier := []network.PartnerID{tree.RootID()}
	cumulative := decimal.Zero
	for level := 0; len(frontier) > 0; level++ {
		if level > tree.Len() {
			return nil, &network.InconsistencyError{Partner: tree.RootID(), Detail: "levels exceed partner count"}
		}
		s := LevelStats{
			Level:       level,
			Tiers:       make(map[plan.Tier]int),
			TotalVolume: decimal.Zero,
			GroupVolume: decimal.Zero,
			Payout:      decimal.Zero,
		}
		var next []network.PartnerID
		for _, id := range frontier {
			p, err := tree.Partner(id)
			if err != nil {
				return nil, err
			}
			gv, err := tree.GroupVolume(id)
			if err != nil {
				return nil, err
			}
			income, err := tree.Income(id)
			if err != nil {
				return nil, err
			}

			s.Partners++
			if p.Active() {
				s.Active++
			}
			if p.Volume.GreaterThanOrEqual(cfg.ActivePartnerMinVolume) {
				s.AboveActiveVolume++
			}
			if p.Volume.GreaterThanOrEqual(cfg.OptimalPersonalVolume) {
				s.AboveOptimalVolume++
			}
			s.Tiers[p.Tier]++
			s.TotalVolume = s.TotalVolume.Add(p.Volume)
			s.GroupVolume = s.GroupVolume.Add(gv)
			s.Payout = s.Payout.Add(income.Base.Total)
			next = append(next, p.Downline...)
		}
		s.AverageVolume = s.TotalVolume.Div(decimal.NewFromInt(int64(s.Partners))).Round(2)
		cumulative = cumulative.Add(s.Payout)
		s.CumulativePayout = cumulative
		out = append(out, s)
		frontier = next
	}
	return out, nil
}

// TotalPayout sums every partner's income in plan units.
func TotalPayout(tree *network.Tree) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, id := range tree.IDs() {
		in, err := tree.Income(id)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(in.Base.Total)
	}
	return total, nil
}

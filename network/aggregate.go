package network

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATION - Recursive sums that honour compression shielding
// =============================================================================
//
// Every aggregate skips shielded children entirely: a compressed child adds
// nothing, whatever its own descendants hold. Each entry point re-checks
// the upline/downline links it walks.

// GroupVolume returns the partner's own volume plus the group volume of
// every non-shielded child.
func (t *Tree) GroupVolume(id PartnerID) (decimal.Decimal, error) {
	if _, ok := t.partners[id]; !ok {
		return decimal.Zero, partnerNotFound(id)
	}
	return t.groupVolume(id, 0)
}

func (t *Tree) groupVolume(id PartnerID, depth int) (decimal.Decimal, error) {
	if depth > len(t.partners) {
		return decimal.Zero, &InconsistencyError{Partner: id, Detail: "cycle in downline"}
	}
	children, err := t.children(id)
	if err != nil {
		return decimal.Zero, err
	}
	total := t.partners[id].Volume
	for _, c := range children {
		if c.Shielded() {
			continue
		}
		gv, err := t.groupVolume(c.ID, depth+1)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(gv)
	}
	return total, nil
}

// SideVolume returns the sum of the children's group volumes minus the
// largest one.
func (t *Tree) SideVolume(id PartnerID) (decimal.Decimal, error) {
	if _, ok := t.partners[id]; !ok {
		return decimal.Zero, partnerNotFound(id)
	}
	children, err := t.children(id)
	if err != nil {
		return decimal.Zero, err
	}
	legs := make([]decimal.Decimal, 0, len(children))
	for _, c := range children {
		if c.Shielded() {
			legs = append(legs, decimal.Zero)
			continue
		}
		gv, err := t.groupVolume(c.ID, 1)
		if err != nil {
			return decimal.Zero, err
		}
		legs = append(legs, gv)
	}
	return sideOf(legs), nil
}

// sideOf sums legs without the largest one.
func sideOf(legs []decimal.Decimal) decimal.Decimal {
	if len(legs) == 0 {
		return decimal.Zero
	}
	total, largest := decimal.Zero, legs[0]
	for _, v := range legs {
		total = total.Add(v)
		if v.GreaterThan(largest) {
			largest = v
		}
	}
	return total.Sub(largest)
}

// ActivePartners counts the partner itself (when active) plus every active
// descendant reachable through active children.
func (t *Tree) ActivePartners(id PartnerID) (int, error) {
	if _, ok := t.partners[id]; !ok {
		return 0, partnerNotFound(id)
	}
	return t.activePartners(id, 0)
}

func (t *Tree) activePartners(id PartnerID, depth int) (int, error) {
	if depth > len(t.partners) {
		return 0, &InconsistencyError{Partner: id, Detail: "cycle in downline"}
	}
	children, err := t.children(id)
	if err != nil {
		return 0, err
	}
	count := 0
	if t.partners[id].Active() {
		count = 1
	}
	for _, c := range children {
		if c.Shielded() {
			continue
		}
		n, err := t.activePartners(c.ID, depth+1)
		if err != nil {
			return 0, err
		}
		count += n
	}
	return count, nil
}

// =============================================================================
// BULK PASS - Post-order walk with an explicit stack
// =============================================================================

// Standing is everything the qualification engine needs about a partner.
type Standing struct {
	GroupVolume    decimal.Decimal
	SideVolume     decimal.Decimal
	ActivePartners int
	// RankCounts counts non-shielded descendants by tier rank.
	RankCounts map[int]int
}

// AtLeast returns how many counted descendants hold rank or above.
func (s Standing) AtLeast(rank int) int {
	n := 0
	for r, c := range s.RankCounts {
		if r >= rank {
			n += c
		}
	}
	return n
}

// postOrder returns every partner id with children before parents. It
// fails if the walk does not reach every partner exactly once.
func (t *Tree) postOrder() ([]PartnerID, error) {
	order := make([]PartnerID, 0, len(t.partners))
	type frame struct {
		id       PartnerID
		expanded bool
	}
	stack := []frame{{id: t.rootID}}
	seen := make(map[PartnerID]bool, len(t.partners))
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.expanded {
			order = append(order, f.id)
			continue
		}
		if seen[f.id] {
			return nil, &InconsistencyError{Partner: f.id, Detail: "reached twice"}
		}
		seen[f.id] = true
		children, err := t.children(f.id)
		if err != nil {
			return nil, err
		}
		stack = append(stack, frame{id: f.id, expanded: true})
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: children[i].ID})
		}
	}
	if len(order) != len(t.partners) {
		return nil, &InconsistencyError{Partner: t.rootID, Detail: "partners unreachable from root"}
	}
	return order, nil
}

// standingFrom combines the standings of a partner's children. The child
// standings must already reflect this pass.
func (t *Tree) standingFrom(p *Partner, done map[PartnerID]Standing) Standing {
	s := Standing{GroupVolume: p.Volume, RankCounts: make(map[int]int)}
	if p.Active() {
		s.ActivePartners = 1
	}
	legs := make([]decimal.Decimal, 0, len(p.Downline))
	for _, cid := range p.Downline {
		c := t.partners[cid]
		if c.Shielded() {
			legs = append(legs, decimal.Zero)
			continue
		}
		cs := done[cid]
		legs = append(legs, cs.GroupVolume)
		s.GroupVolume = s.GroupVolume.Add(cs.GroupVolume)
		s.ActivePartners += cs.ActivePartners
		s.RankCounts[t.cfg.Rank(c.Tier)]++
		for r, n := range cs.RankCounts {
			s.RankCounts[r] += n
		}
	}
	s.SideVolume = sideOf(legs)
	return s
}

// activeDirect counts non-shielded direct children with at least minVolume.
func (t *Tree) activeDirect(p *Partner, minVolume decimal.Decimal) int {
	n := 0
	for _, cid := range p.Downline {
		c := t.partners[cid]
		if c.Active() && c.Volume.GreaterThanOrEqual(minVolume) {
			n++
		}
	}
	return n
}

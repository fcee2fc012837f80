package network

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// INCOME CALCULATOR - Multi-component bonus breakdown
// =============================================================================
//
// Components, in plan units:
//   personal      volume × personal rate (highest volume band met)
//   group         group volume × (tier rate + growth rate)
//   dynamic       the growth-rate share of group, reported separately
//   club          group volume × rates of clubs whose tier span was held
//   mentorship    one-time milestone awards from the latest pass
//   active        flat bonus for active direct partners
//   quick start   one-time milestone awards for kit holders
//   leadership    mentoring bonus per enrolled mentee of clubs that run a
//                 leadership program
//   recovery      uplift rate × sum of the above
//
// Everything is then multiplied by the region's currency rate.

// Breakdown is one set of income components.
type Breakdown struct {
	Personal       decimal.Decimal `json:"personal"`
	Group          decimal.Decimal `json:"group"`
	Dynamic        decimal.Decimal `json:"dynamic"`
	Club           decimal.Decimal `json:"club"`
	Mentorship     decimal.Decimal `json:"mentorship"`
	ActivePartners decimal.Decimal `json:"active_partners"`
	QuickStart     decimal.Decimal `json:"quick_start"`
	Leadership     decimal.Decimal `json:"leadership"`
	Recovery       decimal.Decimal `json:"recovery"`
	Total          decimal.Decimal `json:"total"`
}

func (b Breakdown) scale(rate decimal.Decimal) Breakdown {
	return Breakdown{
		Personal:       b.Personal.Mul(rate),
		Group:          b.Group.Mul(rate),
		Dynamic:        b.Dynamic.Mul(rate),
		Club:           b.Club.Mul(rate),
		Mentorship:     b.Mentorship.Mul(rate),
		ActivePartners: b.ActivePartners.Mul(rate),
		QuickStart:     b.QuickStart.Mul(rate),
		Leadership:     b.Leadership.Mul(rate),
		Recovery:       b.Recovery.Mul(rate),
		Total:          b.Total.Mul(rate),
	}
}

// Income is a breakdown in plan units and in the partner's currency.
type Income struct {
	Currency string          `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
	Base     Breakdown       `json:"base"`
	Local    Breakdown       `json:"local"`
}

// IncomeInput is everything the calculator reads about one partner.
type IncomeInput struct {
	Partner     *Partner
	GroupVolume decimal.Decimal
	// ActiveDirect counts active direct children at or above the plan's
	// active partner volume.
	ActiveDirect int
	Now          time.Time
}

// IncomeCalculator turns aggregates into a breakdown. It holds no state
// beyond the plan.
type IncomeCalculator struct {
	cfg *plan.Config
}

func NewIncomeCalculator(cfg *plan.Config) *IncomeCalculator {
	return &IncomeCalculator{cfg: cfg}
}

// Calculate computes the partner's income.
func (c *IncomeCalculator) Calculate(in IncomeInput) Income {
	p := in.Partner
	var b Breakdown

	b.Personal = p.Volume.Mul(c.PersonalRate(p.Volume))

	growth := c.GrowthRate(Growth(p.VolumeHistory, c.cfg.GrowthPeriods))
	rule, _ := c.cfg.Tier(p.Tier)
	b.Dynamic = in.GroupVolume.Mul(growth)
	b.Group = in.GroupVolume.Mul(rule.GroupRate).Add(b.Dynamic)

	b.Club = in.GroupVolume.Mul(c.ClubRate(p, in.GroupVolume))

	for _, a := range p.Awards {
		switch a.Kind {
		case AwardMentorship:
			b.Mentorship = b.Mentorship.Add(a.Amount)
		case AwardQuickStart:
			b.QuickStart = b.QuickStart.Add(a.Amount)
		}
	}

	b.ActivePartners = c.ActivePartnerBonus(in.ActiveDirect)
	b.Leadership = c.LeadershipBonus(p)

	subtotal := b.Personal.Add(b.Group).Add(b.Club).Add(b.Mentorship).
		Add(b.ActivePartners).Add(b.QuickStart).Add(b.Leadership)
	b.Recovery = subtotal.Mul(p.Compression.Uplift(in.Now))
	b.Total = subtotal.Add(b.Recovery)

	currency := ""
	rate := decimal.NewFromInt(1)
	if region, ok := c.cfg.Region(p.Region); ok {
		currency = region.Currency
		if r, ok := c.cfg.CurrencyRate(region.Currency); ok {
			rate = r
		}
	}
	return Income{Currency: currency, Rate: rate, Base: b, Local: b.scale(rate)}
}

// PersonalRate returns the rate of the highest volume band reached.
func (c *IncomeCalculator) PersonalRate(volume decimal.Decimal) decimal.Decimal {
	rate, best := decimal.Zero, decimal.Zero
	found := false
	for _, band := range c.cfg.PersonalRates {
		if volume.GreaterThanOrEqual(band.MinVolume) && (!found || band.MinVolume.GreaterThan(best)) {
			rate, best, found = band.Rate, band.MinVolume, true
		}
	}
	return rate
}

// GrowthRate returns the extra group rate for a trailing growth ratio.
func (c *IncomeCalculator) GrowthRate(growth decimal.Decimal) decimal.Decimal {
	rate, best := decimal.Zero, decimal.Zero
	found := false
	for _, g := range c.cfg.GrowthRates {
		if growth.GreaterThanOrEqual(g.MinGrowth) && (!found || g.MinGrowth.GreaterThan(best)) {
			rate, best, found = g.Rate, g.MinGrowth, true
		}
	}
	return rate
}

// ActivePartnerBonus returns the flat bonus for count active direct partners.
func (c *IncomeCalculator) ActivePartnerBonus(count int) decimal.Decimal {
	amount, best := decimal.Zero, -1
	for _, cb := range c.cfg.ActivePartnerBonuses {
		if count >= cb.MinCount && cb.MinCount > best {
			amount, best = cb.Amount, cb.MinCount
		}
	}
	return amount
}

// ClubRate sums the rates of every club the partner qualifies for at
// group volume gv. Several clubs stack.
func (c *IncomeCalculator) ClubRate(p *Partner, gv decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, club := range c.QualifiedClubs(p) {
		for _, r := range club.Rates {
			if gv.GreaterThanOrEqual(r.MinGroupVolume) {
				total = total.Add(r.Rate)
			}
		}
	}
	return total
}

// LeadershipBonus pays each qualified club's mentoring bonus per mentee.
func (c *IncomeCalculator) LeadershipBonus(p *Partner) decimal.Decimal {
	total := decimal.Zero
	if len(p.Mentees) == 0 {
		return total
	}
	mentees := decimal.NewFromInt(int64(len(p.Mentees)))
	for _, club := range c.QualifiedClubs(p) {
		total = total.Add(club.MentoringBonus.Mul(mentees))
	}
	return total
}

// QualifiedClubs returns the clubs whose tier span covers the partner's
// tier, provided the current tier was held for at least the club's
// minimum number of consecutive passes.
func (c *IncomeCalculator) QualifiedClubs(p *Partner) []plan.Club {
	var out []plan.Club
	for _, club := range c.cfg.ClubsFor(p.Tier) {
		if c.heldPeriods(p) >= club.MinPeriods {
			out = append(out, club)
		}
	}
	return out
}

// heldPeriods counts the trailing passes that ended at the partner's
// current tier.
func (c *IncomeCalculator) heldPeriods(p *Partner) int {
	held := 0
	for i := 0; ; i++ {
		rec, ok := p.VolumeHistory.Back(i)
		if !ok || rec.Tier != p.Tier {
			break
		}
		held++
	}
	return held
}

// Growth returns the relative change of group volume over the last periods
// passes. It is zero until enough history exists or when the past value
// is zero.
func Growth(h Window[VolumeRecord], periods int) decimal.Decimal {
	now, ok := h.Last()
	if !ok || periods <= 0 {
		return decimal.Zero
	}
	past, ok := h.Back(periods)
	if !ok || !past.Group.IsPositive() {
		return decimal.Zero
	}
	return now.Group.Sub(past.Group).Div(past.Group)
}

// =============================================================================
// TREE ENTRY POINTS
// =============================================================================

// Income computes the partner's breakdown from the tree's current state.
func (t *Tree) Income(id PartnerID) (Income, error) {
	return t.IncomeWithExtraVolume(id, decimal.Zero)
}

// IncomeWithExtraVolume evaluates the income the partner would earn with
// extra personal volume, without touching the tree. The tier is kept as is.
func (t *Tree) IncomeWithExtraVolume(id PartnerID, extra decimal.Decimal) (Income, error) {
	p, ok := t.partners[id]
	if !ok {
		return Income{}, partnerNotFound(id)
	}
	gv, err := t.GroupVolume(id)
	if err != nil {
		return Income{}, err
	}
	view := p
	if !extra.IsZero() {
		clone := *p
		clone.Volume = p.Volume.Add(extra)
		view = &clone
		gv = gv.Add(extra)
	}
	return t.income.Calculate(IncomeInput{
		Partner:      view,
		GroupVolume:  gv,
		ActiveDirect: t.activeDirect(p, t.cfg.ActivePartnerMinVolume),
		Now:          t.clock.Now(),
	}), nil
}

// Potential is the income gained from extra volume, in plan units.
func (t *Tree) Potential(id PartnerID, extra decimal.Decimal) (decimal.Decimal, error) {
	now, err := t.Income(id)
	if err != nil {
		return decimal.Zero, err
	}
	then, err := t.IncomeWithExtraVolume(id, extra)
	if err != nil {
		return decimal.Zero, err
	}
	return then.Base.Total.Sub(now.Base.Total), nil
}

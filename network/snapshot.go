package network

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// SNAPSHOT HISTORY - Append-only per-stage captures
// =============================================================================

// Metrics summarizes the tree at one point.
type Metrics struct {
	TotalPartners   int                      `json:"total_partners"`
	ActivePartners  int                      `json:"active_partners"`
	TotalVolume     decimal.Decimal          `json:"total_volume"`
	RootGroupVolume decimal.Decimal          `json:"root_group_volume"`
	Qualifications  map[plan.Tier]int        `json:"qualifications"`
	States          map[CompressionState]int `json:"states"`
	Income          Income                   `json:"income"`
	Growth          GrowthRates              `json:"growth"`
}

// GrowthRates holds the root's group volume growth over 1, 3 and 12 passes.
type GrowthRates struct {
	Monthly   decimal.Decimal `json:"monthly"`
	Quarterly decimal.Decimal `json:"quarterly"`
	Yearly    decimal.Decimal `json:"yearly"`
}

func (m Metrics) clone() Metrics {
	c := m
	c.Qualifications = cloneMap(m.Qualifications)
	c.States = cloneMap(m.States)
	return c
}

// Snapshot is an immutable capture of the tree after a stage.
type Snapshot struct {
	Stage    string
	Metrics  Metrics
	Extra    map[string]any
	Partners []Partner
	TakenAt  time.Time
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Metrics = s.Metrics.clone()
	c.Extra = cloneMap(s.Extra)
	c.Partners = make([]Partner, len(s.Partners))
	for i := range s.Partners {
		c.Partners[i] = s.Partners[i].Clone()
	}
	return c
}

// Metrics computes the current summary: counts, volumes, tier histogram,
// root income and root growth.
func (t *Tree) Metrics() (Metrics, error) {
	m := Metrics{
		TotalPartners:  len(t.partners),
		TotalVolume:    t.TotalVolume(),
		Qualifications: make(map[plan.Tier]int),
		States:         make(map[CompressionState]int),
	}
	for _, p := range t.partners {
		if p.Active() {
			m.ActivePartners++
		}
		m.Qualifications[p.Tier]++
		m.States[p.Compression.State]++
	}

	gv, err := t.GroupVolume(t.rootID)
	if err != nil {
		return Metrics{}, err
	}
	m.RootGroupVolume = gv

	income, err := t.Income(t.rootID)
	if err != nil {
		return Metrics{}, err
	}
	m.Income = income

	h := t.partners[t.rootID].VolumeHistory
	m.Growth = GrowthRates{
		Monthly:   Growth(h, 1),
		Quarterly: Growth(h, 3),
		Yearly:    Growth(h, 12),
	}
	return m, nil
}

// CreateSnapshot appends a capture of the current state under stage. The
// extra map is stored alongside the computed metrics.
func (t *Tree) CreateSnapshot(stage string, extra map[string]any) (Snapshot, error) {
	m, err := t.Metrics()
	if err != nil {
		return Snapshot{}, err
	}
	s := Snapshot{
		Stage:    stage,
		Metrics:  m,
		Extra:    cloneMap(extra),
		Partners: t.Partners(),
		TakenAt:  t.clock.Now(),
	}
	t.history = append(t.history, s)

	t.logger.Info("snapshot created",
		slog.String("stage", stage),
		slog.Int("partners", m.TotalPartners),
		slog.String("total_volume", m.TotalVolume.String()),
		slog.String("root_income", m.Income.Base.Total.String()))
	return s.clone(), nil
}

// History returns copies of every snapshot in creation order.
func (t *Tree) History() []Snapshot {
	out := make([]Snapshot, len(t.history))
	for i, s := range t.history {
		out[i] = s.clone()
	}
	return out
}

// TierChange is the latest tier transition of one partner.
type TierChange struct {
	Partner PartnerID `json:"partner"`
	From    plan.Tier `json:"from"`
	To      plan.Tier `json:"to"`
	At      time.Time `json:"at"`
}

// QualificationChanges returns the latest transition of every partner that
// has one, ordered by partner id.
func (t *Tree) QualificationChanges() []TierChange {
	var out []TierChange
	for _, id := range t.IDs() {
		last, ok := t.partners[id].QualificationHistory.Last()
		if !ok {
			continue
		}
		out = append(out, TierChange{Partner: id, From: last.From, To: last.To, At: last.At})
	}
	return out
}

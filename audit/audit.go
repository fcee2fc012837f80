/*
audit.go - Vulnerability audit of an evaluated tree

PURPOSE:
  Looks for ways the plan can be gamed in a given structure: compression
  cycling, qualification velocity, skewed volume distributions, artificial
  structures, bonus exploitation and non-standard configurations. Each
  detector returns its findings, a risk level in [0, 1] and remediation
  recommendations. The report blends the six risks into one score.

SCORING:
  score = 0.20 × compression + 0.20 × qualification
        + 0.15 × volume + 0.15 × structure + 0.15 × bonus
        + 0.15 × nonstandard
  capped at 1. Recommendations come only from categories with risk > 0,
  deduplicated and sorted by priority (1 is most urgent).

USAGE:
  report, err := audit.NewAuditor(logger).Audit(tree)

SEE ALSO:
  - detectors.go: The six detectors
  - scenario/scenario.go: The lighter risk estimate used for scenario scoring
*/
package audit

import (
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// REPORT TYPES
// =============================================================================

// Category names one detector.
type Category string

const (
	CategoryCompression   Category = "compression_abuse"
	CategoryQualification Category = "qualification_abuse"
	CategoryVolume        Category = "volume_distribution"
	CategoryStructure     Category = "structure_manipulation"
	CategoryBonus         Category = "bonus_exploitation"
	CategoryNonstandard   Category = "nonstandard_configurations"
)

// Categories lists the detectors in report order.
var Categories = []Category{
	CategoryCompression,
	CategoryQualification,
	CategoryVolume,
	CategoryStructure,
	CategoryBonus,
	CategoryNonstandard,
}

var weights = map[Category]float64{
	CategoryCompression:   0.2,
	CategoryQualification: 0.2,
	CategoryVolume:        0.15,
	CategoryStructure:     0.15,
	CategoryBonus:         0.15,
	CategoryNonstandard:   0.15,
}

// Case is one concrete occurrence behind an issue. Partner is NoPartner
// when the case is not about a single partner.
type Case struct {
	Partner network.PartnerID `json:"partner"`
	Level   int               `json:"level,omitempty"`
	Tier    plan.Tier         `json:"tier,omitempty"`
	Month   string            `json:"month,omitempty"`
	Pattern string            `json:"pattern,omitempty"`
	Value   float64           `json:"value,omitempty"`
}

// Issue groups the cases of one kind of problem.
type Issue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Cases       []Case `json:"cases,omitempty"`
}

// Recommendation is a remediation hint. Priority 1 is the most urgent.
type Recommendation struct {
	Priority    int    `json:"priority"`
	Description string `json:"description"`
	Details     string `json:"details"`
}

// Finding is the output of one detector.
type Finding struct {
	Category        Category         `json:"category"`
	Issues          []Issue          `json:"issues"`
	Risk            float64          `json:"risk"`
	Recommendations []Recommendation `json:"recommendations"`
}

// RiskMetrics are structural risk indicators independent of the detectors.
type RiskMetrics struct {
	// Dependency is the share of root group volume carried by the largest
	// first-level branch.
	Dependency float64 `json:"dependency"`
	// Compression is the share of partners currently shielded.
	Compression float64 `json:"compression"`
	// Stability is one minus the share of partners holding M3 to B3.
	Stability float64 `json:"stability"`
}

// Report is the complete audit.
type Report struct {
	Findings        []Finding        `json:"findings"`
	Score           float64          `json:"score"`
	Recommendations []Recommendation `json:"recommendations"`
	Metrics         RiskMetrics      `json:"metrics"`
	AuditedAt       time.Time        `json:"audited_at"`
}

// Finding returns the finding of c.
func (r Report) Finding(c Category) (Finding, bool) {
	for _, f := range r.Findings {
		if f.Category == c {
			return f, true
		}
	}
	return Finding{}, false
}

// =============================================================================
// AUDITOR
// =============================================================================

type Auditor struct {
	logger *slog.Logger
}

func NewAuditor(logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger}
}

type detector func(v *view) Finding

var detectors = map[Category]detector{
	CategoryCompression:   detectCompressionAbuse,
	CategoryQualification: detectQualificationAbuse,
	CategoryVolume:        detectVolumeDistribution,
	CategoryStructure:     detectStructureManipulation,
	CategoryBonus:         detectBonusExploitation,
	CategoryNonstandard:   detectNonstandard,
}

// Audit runs every detector over the current state of tree. The tree is
// not modified.
func (a *Auditor) Audit(tree *network.Tree) (Report, error) {
	v, err := newView(tree)
	if err != nil {
		return Report{}, err
	}

	report := Report{AuditedAt: v.now}
	for _, c := range Categories {
		f := detectors[c](v)
		f.Category = c
		f.Risk = capRisk(f.Risk)
		report.Findings = append(report.Findings, f)
	}
	report.Score = Score(report.Findings)
	report.Recommendations = mergeRecommendations(report.Findings)
	report.Metrics = v.riskMetrics()

	a.logger.Info("audit complete",
		slog.Int("partners", len(v.partners)),
		slog.Float64("score", report.Score),
		slog.Int("recommendations", len(report.Recommendations)))
	return report, nil
}

// Score blends detector risks with the fixed category weights, capped at 1.
func Score(findings []Finding) float64 {
	var total float64
	for _, f := range findings {
		total += capRisk(f.Risk) * weights[f.Category]
	}
	return min(total, 1)
}

func capRisk(r float64) float64 {
	return min(1, max(0, r))
}

func mergeRecommendations(findings []Finding) []Recommendation {
	seen := make(map[Recommendation]bool)
	var out []Recommendation
	for _, f := range findings {
		if f.Risk <= 0 {
			continue
		}
		for _, r := range f.Recommendations {
			if seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// =============================================================================
// TREE VIEW - One consistent read of the tree shared by all detectors
// =============================================================================

type view struct {
	cfg       *plan.Config
	now       time.Time
	rootID    network.PartnerID
	partners  []network.Partner
	byID      map[network.PartnerID]*network.Partner
	group     map[network.PartnerID]decimal.Decimal
	level     map[network.PartnerID]int
	minActive decimal.Decimal
}

func newView(tree *network.Tree) (*view, error) {
	v := &view{
		cfg:       tree.Config(),
		now:       tree.Clock().Now(),
		rootID:    tree.RootID(),
		partners:  tree.Partners(),
		group:     make(map[network.PartnerID]decimal.Decimal),
		level:     make(map[network.PartnerID]int),
		minActive: tree.Config().ActivePartnerMinVolume,
	}
	v.byID = make(map[network.PartnerID]*network.Partner, len(v.partners))
	for i := range v.partners {
		p := &v.partners[i]
		v.byID[p.ID] = p

		gv, err := tree.GroupVolume(p.ID)
		if err != nil {
			return nil, err
		}
		v.group[p.ID] = gv

		lvl, err := tree.Level(p.ID)
		if err != nil {
			return nil, err
		}
		v.level[p.ID] = lvl
	}
	return v, nil
}

// branchActive counts partners in the subtree of id, id included, whose
// personal volume reaches the active minimum. Shielding is ignored.
func (v *view) branchActive(id network.PartnerID) int {
	p := v.byID[id]
	n := 0
	if p.Volume.GreaterThanOrEqual(v.minActive) {
		n = 1
	}
	for _, c := range p.Downline {
		n += v.branchActive(c)
	}
	return n
}

// subtreeDepth is the number of levels below id.
func (v *view) subtreeDepth(id network.PartnerID) int {
	deepest := 0
	for _, c := range v.byID[id].Downline {
		deepest = max(deepest, v.subtreeDepth(c)+1)
	}
	return deepest
}

func (v *view) maxLevel() int {
	deepest := 0
	for _, l := range v.level {
		deepest = max(deepest, l)
	}
	return deepest
}

func (v *view) riskMetrics() RiskMetrics {
	var m RiskMetrics
	root := v.byID[v.rootID]
	if total := v.group[v.rootID]; total.IsPositive() {
		largest := decimal.Zero
		for _, c := range root.Downline {
			if v.byID[c].Shielded() {
				continue
			}
			largest = decimal.Max(largest, v.group[c])
		}
		m.Dependency = largest.Div(total).InexactFloat64()
	}

	n := len(v.partners)
	if n == 0 {
		return m
	}
	var shielded, qualified int
	for _, p := range v.partners {
		if p.Shielded() {
			shielded++
		}
		switch p.Tier {
		case plan.TierM3, plan.TierB1, plan.TierB2, plan.TierB3:
			qualified++
		}
	}
	m.Compression = float64(shielded) / float64(n)
	m.Stability = 1 - float64(qualified)/float64(n)
	return m
}

// personalSeries returns the personal volume recorded at each pass.
func personalSeries(p *network.Partner) []float64 {
	records := p.VolumeHistory.Items()
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Personal.InexactFloat64()
	}
	return out
}

// relativeChanges returns (next - prev) / prev for consecutive values; a
// non-positive prev yields 0.
func relativeChanges(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 0; i+1 < len(values); i++ {
		if values[i] > 0 {
			out[i] = (values[i+1] - values[i]) / values[i]
		}
	}
	return out
}

func days(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

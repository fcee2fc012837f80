/*
scenario.go - Canonical volume distributions, scored

PURPOSE:
  Answers "how should a fixed total volume be spread?" by building a small
  menu of trees from scratch and scoring each one.

SCENARIOS:
  all_personal   the root holds everything
  even_split     floor(total / optimal PV) partners (at least one) under
                 the root, everyone with the same volume
  target_M3      StructureBuilder toward M3 (only when total >= M3 GO)
  target_B3      same for B3
  target_TOP     same for TOP

SCORING:
  efficiency = root income (plan units) / total volume
  risk       = 0.3 × largest branch share of root group volume
             + 0.2 × shortfall below 5 active partners
             + 0.5 × how close group volume sits to the tier threshold
  score      = 0.7 × efficiency + 0.3 × (1 - risk)

CONCURRENCY:
  Every scenario owns its own tree. Trees are built in parallel with an
  errgroup; the first failure cancels the rest.

SEE ALSO:
  - optimizer/builder.go: the targeted builds
*/
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/optimizer"
	"github.com/warp/compplan/plan"
	"golang.org/x/sync/errgroup"
)

// Kind identifies a scenario.
type Kind string

const (
	KindAllPersonal Kind = "all_personal"
	KindEvenSplit   Kind = "even_split"
)

// KindTarget returns the kind of a targeted build.
func KindTarget(t plan.Tier) Kind { return Kind("target_" + string(t)) }

// Targets are the tiers built with the StructureBuilder, in menu order.
var Targets = []plan.Tier{plan.TierM3, plan.TierB3, plan.TierTop}

// Score weights.
const (
	efficiencyWeight = 0.7
	safetyWeight     = 0.3

	concentrationWeight = 0.3
	shortfallWeight     = 0.2
	headroomWeight      = 0.5

	recommendedActive = 5
)

// Scenario is one scored distribution.
type Scenario struct {
	Kind           Kind            `json:"kind"`
	Name           string          `json:"name"`
	Tier           plan.Tier       `json:"tier"`
	Partners       int             `json:"partners"`
	ActivePartners int             `json:"active_partners"`
	GroupVolume    decimal.Decimal `json:"group_volume"`
	SideVolume     decimal.Decimal `json:"side_volume"`
	Income         network.Income  `json:"income"`
	Efficiency     float64         `json:"efficiency"`
	Risk           float64         `json:"risk"`
	Score          float64         `json:"score"`
}

// Observer receives build timings. Optional.
type Observer interface {
	ObserveScenario(kind string, d time.Duration)
}

// Analyzer generates and scores scenarios for one plan.
type Analyzer struct {
	cfg      plan.Config
	logger   *slog.Logger
	clock    network.Clock
	observer Observer
}

type Option func(*Analyzer)

func WithLogger(l *slog.Logger) Option { return func(a *Analyzer) { a.logger = l } }

func WithClock(c network.Clock) Option { return func(a *Analyzer) { a.clock = c } }

func WithObserver(o Observer) Option { return func(a *Analyzer) { a.observer = o } }

func NewAnalyzer(cfg plan.Config, opts ...Option) *Analyzer {
	a := &Analyzer{cfg: cfg, logger: slog.Default(), clock: network.SystemClock{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate builds every applicable scenario for total and returns them
// sorted by descending score.
func (a *Analyzer) Generate(ctx context.Context, total decimal.Decimal) ([]Scenario, error) {
	if !total.IsPositive() {
		return nil, &network.AllocationError{Requested: total, Reason: "total volume must be positive"}
	}

	type job struct {
		kind  Kind
		name  string
		build func(ctx context.Context) (*network.Tree, error)
	}
	jobs := []job{
		{KindAllPersonal, "All volume personal", func(context.Context) (*network.Tree, error) { return a.allPersonal(total) }},
		{KindEvenSplit, "Even split", func(context.Context) (*network.Tree, error) { return a.evenSplit(total) }},
	}
	for _, target := range Targets {
		rule, ok := a.cfg.Tier(target)
		if !ok || total.LessThan(rule.MinGroupVolume) {
			continue
		}
		jobs = append(jobs, job{KindTarget(target), fmt.Sprintf("%s structure", target), func(ctx context.Context) (*network.Tree, error) {
			return a.targeted(ctx, total, target)
		}})
	}

	results := make([]Scenario, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			start := time.Now()
			tree, err := j.build(ctx)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", j.kind, err)
			}
			s, err := Evaluate(tree)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", j.kind, err)
			}
			s.Kind, s.Name = j.kind, j.name
			results[i] = s
			if a.observer != nil {
				a.observer.ObserveScenario(string(j.kind), time.Since(start))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	a.logger.Info("scenarios generated",
		slog.String("total_volume", total.String()),
		slog.Int("count", len(results)),
		slog.String("best", string(results[0].Kind)))
	return results, nil
}

func (a *Analyzer) newTree(total, rootVolume decimal.Decimal) (*network.Tree, error) {
	return network.NewTree(a.cfg, total,
		network.WithClock(a.clock),
		network.WithLogger(a.logger),
		network.WithRootVolume(rootVolume))
}

func (a *Analyzer) allPersonal(total decimal.Decimal) (*network.Tree, error) {
	tree, err := a.newTree(total, total)
	if err != nil {
		return nil, err
	}
	return tree, tree.UpdateQualifications()
}

func (a *Analyzer) evenSplit(total decimal.Decimal) (*network.Tree, error) {
	count := 1
	if a.cfg.OptimalPersonalVolume.IsPositive() {
		count = max(1, int(total.Div(a.cfg.OptimalPersonalVolume).Floor().IntPart()))
	}
	per := total.Div(decimal.NewFromInt(int64(count + 1))).RoundFloor(2)

	tree, err := a.newTree(total, per)
	if err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		if _, err := tree.AddPartner(per, tree.RootID()); err != nil {
			return nil, err
		}
	}
	return tree, tree.UpdateQualifications()
}

func (a *Analyzer) targeted(ctx context.Context, total decimal.Decimal, target plan.Tier) (*network.Tree, error) {
	tree, err := a.newTree(total, a.cfg.OptimalPersonalVolume)
	if err != nil {
		return nil, err
	}
	b := optimizer.NewBuilder(a.logger)
	if _, err := b.Build(ctx, tree, optimizer.Options{Target: target, Strategy: optimizer.Balanced}); err != nil {
		return nil, err
	}
	return tree, nil
}

// =============================================================================
// SCORING
// =============================================================================

// Evaluate scores an already evaluated tree from the root's point of view.
// Efficiency is measured against the tree's budget.
func Evaluate(tree *network.Tree) (Scenario, error) {
	root, err := tree.Partner(tree.RootID())
	if err != nil {
		return Scenario{}, err
	}
	st, err := tree.Standing(root.ID)
	if err != nil {
		return Scenario{}, err
	}
	income, err := tree.Income(root.ID)
	if err != nil {
		return Scenario{}, err
	}
	risk, err := Risk(tree)
	if err != nil {
		return Scenario{}, err
	}

	var eff float64
	if budget := tree.Budget(); budget.IsPositive() {
		eff = income.Base.Total.Div(budget).InexactFloat64()
	}
	return Scenario{
		Tier:           root.Tier,
		Partners:       tree.Len(),
		ActivePartners: st.ActivePartners,
		GroupVolume:    st.GroupVolume,
		SideVolume:     st.SideVolume,
		Income:         income,
		Efficiency:     eff,
		Risk:           risk,
		Score:          efficiencyWeight*eff + safetyWeight*(1-risk),
	}, nil
}

// Risk blends branch concentration, active partner shortfall and
// qualification headroom into [0, 1].
func Risk(tree *network.Tree) (float64, error) {
	rootID := tree.RootID()
	root, err := tree.Partner(rootID)
	if err != nil {
		return 0, err
	}
	gv, err := tree.GroupVolume(rootID)
	if err != nil {
		return 0, err
	}

	largest := decimal.Zero
	for _, c := range root.Downline {
		cgv, err := tree.GroupVolume(c)
		if err != nil {
			return 0, err
		}
		largest = decimal.Max(largest, cgv)
	}
	var concentration float64
	if gv.IsPositive() {
		concentration = largest.Div(gv).InexactFloat64()
	}

	active, err := tree.ActivePartners(rootID)
	if err != nil {
		return 0, err
	}
	shortfall := max(0, 1-float64(active)/recommendedActive)

	var headroom float64
	region, err := tree.Region(rootID)
	if err != nil {
		return 0, err
	}
	if rule, ok := tree.Config().Tier(root.Tier); ok {
		req := network.MinGroupVolume(region, rule)
		if req.IsPositive() {
			headroom = clamp(1 - gv.Sub(req).Div(req).InexactFloat64())
		}
	}

	return clamp(concentrationWeight*concentration + shortfallWeight*shortfall + headroomWeight*headroom), nil
}

func clamp(v float64) float64 {
	return min(1, max(0, v))
}

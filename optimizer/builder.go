/*
builder.go - Staged structure building

PURPOSE:
  Grows a tree toward a target tier with a fixed volume budget. Each
  stage adds partners, re-evaluates the tree and records a snapshot with
  the stage's deltas.

STAGES:
  1. personal_volume  capture the tree as given
  2. base_layer       unqualified partners under the root
  3. prerequisites    one subtree qualifying for the target's highest
                      prerequisite tier (skipped when there is none)
  4. target           the target pattern directly under the root
  5. distribution     remaining budget spread over the partners with the
                      highest potential

BUDGET:
  A leg is placed only if the remaining budget covers its volume.
  Otherwise the stage stops early and the next stage runs. Running out
  of budget is never an error; overshooting one is.

EXAMPLE:
  b := optimizer.NewBuilder(logger)
  res, err := b.Build(ctx, tree, optimizer.Options{
      Target:   plan.TierM3,
      Strategy: optimizer.Balanced,
  })

SEE ALSO:
  - patterns.go: what each stage places
  - levels.go: per-level statistics attached to each stage
*/
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Strategy controls fan-out and how concentrated each leg is.
type Strategy string

const (
	Aggressive   Strategy = "aggressive"
	Balanced     Strategy = "balanced"
	Conservative Strategy = "conservative"
)

// ParseStrategy validates s. An empty string means Balanced.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return Balanced, nil
	case Aggressive, Balanced, Conservative:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// baseLayer returns the per-partner volume and the partner count of the
// base layer.
func (s Strategy) baseLayer() (decimal.Decimal, int) {
	switch s {
	case Aggressive:
		return decimal.NewFromInt(100), 3
	case Conservative:
		return decimal.NewFromInt(25), 7
	default:
		return decimal.NewFromInt(50), 5
	}
}

// topK is how many partners share the residual volume.
func (s Strategy) topK() int {
	switch s {
	case Aggressive:
		return 3
	case Conservative:
		return 7
	default:
		return 5
	}
}

// Options configures one build.
type Options struct {
	Target   plan.Tier
	Strategy Strategy

	// MinPartners and MaxPartners clamp the base layer. Zero means no
	// override.
	MinPartners int
	MaxPartners int
}

// Stage names.
const (
	StagePersonal      = "personal_volume"
	StageBaseLayer     = "base_layer"
	StagePrerequisites = "prerequisites"
	StageTarget        = "target"
	StageDistribution  = "distribution"
)

// potentialProbe is the what-if volume used to rank partners.
var potentialProbe = decimal.NewFromInt(1000)

// =============================================================================
// RESULT
// =============================================================================

// StageReport is the delta one stage produced.
type StageReport struct {
	Stage                string               `json:"stage"`
	PartnersAdded        int                  `json:"partners_added"`
	VolumeUsed           decimal.Decimal      `json:"volume_used"`
	PayoutIncrease       decimal.Decimal      `json:"payout_increase"`
	QualificationChanges []network.TierChange `json:"qualification_changes"`
	Levels               []LevelStats         `json:"levels"`
	// Stopped is set when the stage ran out of budget before placing
	// everything it planned.
	Stopped bool `json:"stopped"`
}

// Result is the outcome of a build.
type Result struct {
	Target   plan.Tier       `json:"target"`
	Strategy Strategy        `json:"strategy"`
	Achieved plan.Tier       `json:"achieved"`
	Stages   []StageReport   `json:"stages"`
	Final    network.Metrics `json:"final"`
}

// =============================================================================
// BUILDER
// =============================================================================

type Builder struct {
	logger *slog.Logger
}

func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build runs every stage against tree. The tree is mutated in place and
// its history gains one snapshot per stage.
func (b *Builder) Build(ctx context.Context, tree *network.Tree, opts Options) (Result, error) {
	cfg := tree.Config()
	if opts.Strategy == "" {
		opts.Strategy = Balanced
	}
	if _, err := ParseStrategy(string(opts.Strategy)); err != nil {
		return Result{}, err
	}
	rule, ok := cfg.Tier(opts.Target)
	if !ok {
		return Result{}, &network.NotFoundError{Kind: "tier", ID: string(opts.Target)}
	}

	stages := []struct {
		name string
		run  func() (int, bool, error)
	}{
		{StagePersonal, func() (int, bool, error) { return 0, false, nil }},
		{StageBaseLayer, func() (int, bool, error) { return b.baseLayer(tree, opts) }},
		{StagePrerequisites, func() (int, bool, error) { return b.prerequisites(tree, rule, opts.Strategy) }},
		{StageTarget, func() (int, bool, error) { return b.target(tree, opts) }},
		{StageDistribution, func() (int, bool, error) { return b.distribute(tree, opts.Strategy) }},
	}

	res := Result{Target: opts.Target, Strategy: opts.Strategy}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		report, err := b.runStage(tree, s.name, s.run)
		if err != nil {
			return Result{}, fmt.Errorf("stage %s: %w", s.name, err)
		}
		res.Stages = append(res.Stages, report)
	}

	final, err := tree.Metrics()
	if err != nil {
		return Result{}, err
	}
	res.Final = final
	root, err := tree.Partner(tree.RootID())
	if err != nil {
		return Result{}, err
	}
	res.Achieved = root.Tier

	b.logger.Info("build finished",
		slog.String("target", string(opts.Target)),
		slog.String("achieved", string(res.Achieved)),
		slog.String("strategy", string(opts.Strategy)),
		slog.Int("partners", final.TotalPartners))
	return res, nil
}

// runStage wraps one stage: measure, run, re-evaluate, measure, snapshot.
func (b *Builder) runStage(tree *network.Tree, name string, run func() (int, bool, error)) (StageReport, error) {
	tiersBefore := make(map[network.PartnerID]plan.Tier, tree.Len())
	for _, p := range tree.Partners() {
		tiersBefore[p.ID] = p.Tier
	}
	volumeBefore := tree.TotalVolume()
	payoutBefore, err := TotalPayout(tree)
	if err != nil {
		return StageReport{}, err
	}

	added, stopped, err := run()
	if err != nil {
		return StageReport{}, err
	}
	if err := tree.UpdateQualifications(); err != nil {
		return StageReport{}, err
	}

	payoutAfter, err := TotalPayout(tree)
	if err != nil {
		return StageReport{}, err
	}
	levels, err := AnalyzeLevels(tree)
	if err != nil {
		return StageReport{}, err
	}

	report := StageReport{
		Stage:          name,
		PartnersAdded:  added,
		VolumeUsed:     tree.TotalVolume().Sub(volumeBefore),
		PayoutIncrease: payoutAfter.Sub(payoutBefore),
		Levels:         levels,
		Stopped:        stopped,
	}
	lowest := tree.Config().LowestTier()
	now := tree.Clock().Now()
	for _, p := range tree.Partners() {
		from, existed := tiersBefore[p.ID]
		if !existed {
			from = lowest
		}
		if from != p.Tier {
			report.QualificationChanges = append(report.QualificationChanges,
				network.TierChange{Partner: p.ID, From: from, To: p.Tier, At: now})
		}
	}

	if _, err := tree.CreateSnapshot(name, map[string]any{
		"partners_added":        report.PartnersAdded,
		"volume_used":           report.VolumeUsed.String(),
		"payout_increase":       report.PayoutIncrease.String(),
		"qualification_changes": len(report.QualificationChanges),
		"levels":                len(levels),
		"stopped":               stopped,
	}); err != nil {
		return StageReport{}, err
	}

	b.logger.Debug("stage complete",
		slog.String("stage", name),
		slog.Int("partners_added", added),
		slog.String("volume_used", report.VolumeUsed.String()),
		slog.Bool("stopped", stopped))
	return report, nil
}

// =============================================================================
// STAGES
// =============================================================================

func (b *Builder) baseLayer(tree *network.Tree, opts Options) (int, bool, error) {
	unit, count := opts.Strategy.baseLayer()
	affordable := int(tree.RemainingVolume().Div(unit).Floor().IntPart())

	n := min(count, affordable)
	if opts.MinPartners > 0 && n < opts.MinPartners {
		n = opts.MinPartners
	}
	if opts.MaxPartners > 0 && n > opts.MaxPartners {
		n = opts.MaxPartners
	}
	stopped := n > affordable
	n = max(0, min(n, affordable))

	for i := 0; i < n; i++ {
		if _, err := tree.AddPartner(unit, tree.RootID()); err != nil {
			return i, false, err
		}
	}
	return n, stopped, nil
}

func (b *Builder) prerequisites(tree *network.Tree, rule plan.TierRule, strategy Strategy) (int, bool, error) {
	cfg := tree.Config()
	var best plan.TierRule
	found := false
	for t := range rule.Prerequisites {
		r, ok := cfg.Tier(t)
		if !ok {
			return 0, false, &network.NotFoundError{Kind: "tier", ID: string(t)}
		}
		if !found || r.Rank > best.Rank {
			best, found = r, true
		}
	}
	if !found {
		return 0, false, nil
	}

	legs, err := Pattern(cfg, best.Tier, strategy)
	if err != nil {
		return 0, false, err
	}
	return place(tree, tree.RootID(), []Leg{{Volume: cfg.OptimalPersonalVolume, Legs: legs}})
}

func (b *Builder) target(tree *network.Tree, opts Options) (int, bool, error) {
	legs, err := Pattern(tree.Config(), opts.Target, opts.Strategy)
	if err != nil {
		return 0, false, err
	}
	return place(tree, tree.RootID(), legs)
}

// place adds legs under parent depth first. It stops at the first leg the
// remaining budget cannot cover.
func place(tree *network.Tree, parent network.PartnerID, legs []Leg) (int, bool, error) {
	added := 0
	for _, l := range legs {
		if tree.RemainingVolume().LessThan(l.Volume) {
			return added, true, nil
		}
		id, err := tree.AddPartner(l.Volume, parent)
		if err != nil {
			return added, false, err
		}
		added++
		n, stopped, err := place(tree, id, l.Legs)
		added += n
		if err != nil || stopped {
			return added, stopped, err
		}
	}
	return added, false, nil
}

// candidate is a partner ranked for residual distribution.
type candidate struct {
	id        network.PartnerID
	potential decimal.Decimal
}

// distribute spreads the remaining budget over the top partners by
// potential. The last one takes the rounding remainder.
func (b *Builder) distribute(tree *network.Tree, strategy Strategy) (int, bool, error) {
	remaining := tree.RemainingVolume()
	if !remaining.IsPositive() {
		return 0, false, nil
	}

	var ranked []candidate
	for _, p := range tree.Partners() {
		if !p.Active() {
			continue
		}
		gain, err := tree.Potential(p.ID, potentialProbe)
		if err != nil {
			return 0, false, err
		}
		ranked = append(ranked, candidate{id: p.ID, potential: gain})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].potential.GreaterThan(ranked[j].potential)
	})
	if k := strategy.topK(); len(ranked) > k {
		ranked = ranked[:k]
	}
	if len(ranked) == 0 {
		return 0, false, nil
	}

	shares := split(remaining, len(ranked))
	for i, c := range ranked {
		if !shares[i].Volume.IsPositive() {
			continue
		}
		if err := tree.Allocate(c.id, shares[i].Volume); err != nil {
			return 0, false, err
		}
	}
	return 0, false, nil
}

package network

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// COMPRESSION LEDGER - Per-partner low-volume lifecycle
// =============================================================================
//
//   ACTIVE ──vol < at-risk──▶ AT_RISK ──vol ≥ at-risk──▶ ACTIVE
//      │                        │
//      └──────vol < threshold───────▶ COMPRESSED ◀──▶ IN_GRACE
//                                              │  ▲
//                              adopt program   ▼  │ deadline passed
//                                           RECOVERING
//
//   COMPRESSED / IN_GRACE ──vol ≥ recovery threshold──▶ ACTIVE
//   RECOVERING ──vol ≥ program volume in time──▶ ACTIVE (+ uplift)
//
// A compression entry and a fresh grace window are recorded only when no
// grace window is still open.
//
// COMPRESSED, IN_GRACE and RECOVERING are shielded: the partner adds no
// volume and no active count to any ancestor.

// Ledger is the compression state of one partner.
type Ledger struct {
	State   CompressionState
	Warning plan.WarningLevel

	LastCompressed time.Time
	GraceEnd       time.Time

	Program      plan.RecoveryProgram
	ProgramStart time.Time

	UpliftRate  decimal.Decimal
	UpliftUntil time.Time
}

// GraceOpen reports whether the grace period opened by the latest
// compression is still running at now.
func (l Ledger) GraceOpen(now time.Time) bool {
	return !l.GraceEnd.IsZero() && now.Before(l.GraceEnd)
}

// Uplift returns the recovery bonus rate in force at now.
func (l Ledger) Uplift(now time.Time) decimal.Decimal {
	if l.UpliftRate.IsZero() || !now.Before(l.UpliftUntil) {
		return decimal.Zero
	}
	return l.UpliftRate
}

// compressionLimits bundles the thresholds that apply to one partner.
type compressionLimits struct {
	atRisk      decimal.Decimal
	threshold   decimal.Decimal
	recovery    decimal.Decimal
	graceMonths int
}

func (t *Tree) limitsFor(p *Partner) compressionLimits {
	region := t.region(p)
	return compressionLimits{
		atRisk:      t.cfg.AtRiskThreshold(p.Tier),
		threshold:   region.CompressionThreshold,
		recovery:    t.cfg.RecoveryThreshold(region),
		graceMonths: region.GraceMonths,
	}
}

// advanceCompression moves the partner's ledger one evaluation step. A
// partner can fall from ACTIVE straight to COMPRESSED in a single step.
func (t *Tree) advanceCompression(p *Partner, now time.Time) {
	l := &p.Compression
	lim := t.limitsFor(p)
	vol := p.Volume
	before := l.State

	switch l.State {
	case StateCompressed, StateInGrace:
		switch {
		case vol.GreaterThanOrEqual(lim.recovery):
			l.State = StateActive
		case l.GraceOpen(now) && vol.GreaterThanOrEqual(lim.threshold):
			l.State = StateInGrace
		default:
			l.State = StateCompressed
		}
	case StateRecovering:
		terms, _ := t.cfg.Recovery(l.Program)
		deadline := l.ProgramStart.AddDate(0, terms.Months, 0)
		switch {
		case vol.GreaterThanOrEqual(terms.RequiredVolume) && !now.After(deadline):
			l.State = StateActive
			l.UpliftRate = terms.BonusRate
			l.UpliftUntil = now.AddDate(0, terms.Months, 0)
			l.Program = ""
			l.ProgramStart = time.Time{}
		case now.After(deadline):
			l.State = StateCompressed
			l.Program = ""
			l.ProgramStart = time.Time{}
		}
	}

	if !l.State.Shielded() {
		switch {
		case vol.LessThan(lim.threshold) && l.GraceOpen(now):
			// Still inside the last grace window: shield again without
			// recording a new compression.
			l.State = StateCompressed
			l.Warning = plan.WarningCritical
		case vol.LessThan(lim.threshold):
			l.State = StateCompressed
			l.Warning = plan.WarningCritical
			l.LastCompressed = now
			l.GraceEnd = now.AddDate(0, lim.graceMonths, 0)
			p.CompressionHistory.Append(CompressionEntry{At: now, Volume: vol})
		case vol.LessThan(lim.atRisk):
			l.State = StateAtRisk
			l.Warning = t.cfg.WarningFor(vol)
		default:
			l.State = StateActive
			l.Warning = plan.WarningNone
		}
	}

	if l.State != before {
		t.logger.Debug("compression state changed",
			slog.String("partner", p.ID.String()),
			slog.String("from", string(before)),
			slog.String("to", string(l.State)),
			slog.String("volume", vol.String()))
	}
}

// AdoptRecoveryProgram enrolls a compressed partner in program. The partner
// stays shielded until the program's volume is met.
func (t *Tree) AdoptRecoveryProgram(id PartnerID, program plan.RecoveryProgram) error {
	p, ok := t.partners[id]
	if !ok {
		return partnerNotFound(id)
	}
	if _, ok := t.cfg.Recovery(program); !ok {
		return &NotFoundError{Kind: "recovery program", ID: string(program)}
	}
	l := &p.Compression
	if l.State != StateCompressed && l.State != StateInGrace {
		return fmt.Errorf("partner %s is %s: %w", id, l.State, ErrInvalidTransition)
	}
	l.State = StateRecovering
	l.Program = program
	l.ProgramStart = t.clock.Now()

	t.logger.Info("recovery program adopted",
		slog.String("partner", id.String()),
		slog.String("program", string(program)))
	return nil
}

// CompressionStatus returns the partner's ledger.
func (t *Tree) CompressionStatus(id PartnerID) (Ledger, error) {
	p, ok := t.partners[id]
	if !ok {
		return Ledger{}, partnerNotFound(id)
	}
	return p.Compression, nil
}

package network

import (
	"log/slog"
	"time"

	"github.com/warp/compplan/plan"
)

// =============================================================================
// EVALUATION PASS
// =============================================================================

// UpdateQualifications runs one full evaluation pass:
//
//  1. Advance every partner's compression ledger.
//  2. Walk the tree children first. For each partner compute group volume,
//     side volume, active count and descendant tiers, append a volume
//     record, assign the tier, grant one-time awards and update clubs.
//
// Tiers are recomputed from scratch on every pass. Because children are
// evaluated before their upline, prerequisite counts see this pass's tiers.
func (t *Tree) UpdateQualifications() error {
	now := t.clock.Now()

	for _, id := range t.IDs() {
		t.advanceCompression(t.partners[id], now)
	}

	order, err := t.postOrder()
	if err != nil {
		return err
	}

	done := make(map[PartnerID]Standing, len(order))
	changed := 0
	for _, id := range order {
		p := t.partners[id]
		s := t.standingFrom(p, done)
		done[id] = s

		before := p.Tier
		tier := Qualify(&t.cfg, t.region(p), s)
		t.applyTier(p, tier, s)
		if tier != before {
			changed++
		}
		p.VolumeHistory.Append(VolumeRecord{At: now, Personal: p.Volume, Group: s.GroupVolume, Tier: p.Tier})

		p.Awards = p.Awards[:0]
		t.grantMentorship(p, now)
		t.grantQuickStart(p, now)
		t.updateClubs(p, now)
	}

	t.logger.Debug("qualifications updated",
		slog.Int("partners", len(order)),
		slog.Int("tier_changes", changed))
	return nil
}

// grantMentorship pays the milestone award for the tier just reached, once.
// Tiers skipped on the way up earn nothing.
func (t *Tree) grantMentorship(p *Partner, now time.Time) {
	if _, paid := p.MentorshipGranted[p.Tier]; paid {
		return
	}
	for _, m := range t.cfg.Mentorship {
		if m.Tier != p.Tier {
			continue
		}
		p.MentorshipGranted[m.Tier] = now
		p.Awards = append(p.Awards, Award{Kind: AwardMentorship, Tier: m.Tier, Amount: m.Amount})
		return
	}
}

// grantQuickStart pays kit holders who reach a milestone tier soon enough
// after registration.
func (t *Tree) grantQuickStart(p *Partner, now time.Time) {
	if p.StarterKit == "" {
		return
	}
	rank := t.cfg.Rank(p.Tier)
	months := monthsBetween(p.RegisteredAt, now)
	for _, m := range t.cfg.QuickStart {
		if _, paid := p.QuickStartGranted[m.Tier]; paid {
			continue
		}
		if t.cfg.Rank(m.Tier) > rank {
			continue
		}
		if m.WithinMonths > 0 && months > m.WithinMonths {
			continue
		}
		p.QuickStartGranted[m.Tier] = now
		p.Awards = append(p.Awards, Award{Kind: AwardQuickStart, Tier: m.Tier, Amount: m.Amount})
	}
}

// updateClubs records first entry into every club the partner now
// qualifies for.
func (t *Tree) updateClubs(p *Partner, now time.Time) {
	for _, club := range t.income.QualifiedClubs(p) {
		if _, member := p.Clubs[club.ID]; member {
			continue
		}
		p.Clubs[club.ID] = now
		p.ClubHistory.Append(ClubJoin{At: now, Club: club.ID})
		t.logger.Info("club joined",
			slog.String("partner", p.ID.String()),
			slog.String("club", string(club.ID)))
	}
}

// ActiveClubs returns the clubs whose rates currently apply to the partner.
func (t *Tree) ActiveClubs(id PartnerID) ([]plan.ClubID, error) {
	p, ok := t.partners[id]
	if !ok {
		return nil, partnerNotFound(id)
	}
	var out []plan.ClubID
	for _, club := range t.income.QualifiedClubs(p) {
		out = append(out, club.ID)
	}
	return out, nil
}

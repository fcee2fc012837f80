package network

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// PARTNER - One participant's state
// =============================================================================

// Partner is a single participant. The Tree owns the live records; every
// accessor hands out clones, so a Partner obtained from the Tree is a
// read-only copy.
type Partner struct {
	ID           PartnerID
	Upline       PartnerID // NoPartner for the root
	Downline     []PartnerID
	Region       string
	Volume       decimal.Decimal
	Tier         plan.Tier
	RegisteredAt time.Time

	StarterKit     string
	KitPurchasedAt time.Time
	// Privileges maps each granted privilege to its expiry. A zero expiry
	// never lapses.
	Privileges map[plan.Privilege]time.Time
	// Clubs maps each joined club to its join time.
	Clubs map[plan.ClubID]time.Time

	Compression Ledger

	VolumeHistory        Window[VolumeRecord]
	Adjustments          Window[Adjustment]
	QualificationHistory Window[QualificationChange]
	CompressionHistory   Window[CompressionEntry]
	ClubHistory          Window[ClubJoin]
	EventHistory         Window[EventAttendance]

	MentorshipGranted map[plan.Tier]time.Time
	QuickStartGranted map[plan.Tier]time.Time
	// Mentees maps each leadership mentee to the time it was enrolled.
	Mentees map[PartnerID]time.Time
	// Awards holds the one-time payments earned in the latest pass.
	Awards []Award
}

func newPartner(id, upline PartnerID, region string, volume decimal.Decimal, tier plan.Tier, w plan.Windows, now time.Time) *Partner {
	p := &Partner{
		ID:                   id,
		Upline:               upline,
		Region:               region,
		Volume:               volume,
		Tier:                 tier,
		RegisteredAt:         now,
		Privileges:           make(map[plan.Privilege]time.Time),
		Clubs:                make(map[plan.ClubID]time.Time),
		Compression:          Ledger{State: StateActive},
		VolumeHistory:        NewWindow[VolumeRecord](w.Volume),
		Adjustments:          NewWindow[Adjustment](w.Adjustments),
		QualificationHistory: NewWindow[QualificationChange](w.Qualification),
		CompressionHistory:   NewWindow[CompressionEntry](w.Compression),
		ClubHistory:          NewWindow[ClubJoin](w.Club),
		EventHistory:         NewWindow[EventAttendance](w.Events),
		MentorshipGranted:    make(map[plan.Tier]time.Time),
		QuickStartGranted:    make(map[plan.Tier]time.Time),
		Mentees:              make(map[PartnerID]time.Time),
	}
	p.Adjustments.Append(Adjustment{At: now, Delta: volume, Volume: volume, Reason: ReasonInitial})
	return p
}

// Shielded reports whether the partner is excluded from ancestor aggregates.
func (p Partner) Shielded() bool { return p.Compression.State.Shielded() }

// Active is the complement of Shielded. At-risk partners are still active.
func (p Partner) Active() bool { return !p.Shielded() }

// IsRoot reports whether the partner has no upline.
func (p Partner) IsRoot() bool { return p.Upline == NoPartner }

// HasPrivilege reports whether priv was granted and has not expired at now.
func (p Partner) HasPrivilege(priv plan.Privilege, now time.Time) bool {
	expiry, ok := p.Privileges[priv]
	if !ok {
		return false
	}
	return expiry.IsZero() || !now.After(expiry)
}

// ActivePrivileges returns the unexpired privileges in catalog order.
func (p Partner) ActivePrivileges(now time.Time) []plan.Privilege {
	var out []plan.Privilege
	for _, priv := range plan.Privileges() {
		if p.HasPrivilege(priv, now) {
			out = append(out, priv)
		}
	}
	return out
}

// JoinedClubs returns club ids sorted by join time.
func (p Partner) JoinedClubs() []plan.ClubID {
	out := make([]plan.ClubID, 0, len(p.Clubs))
	for id := range p.Clubs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := p.Clubs[out[i]], p.Clubs[out[j]]
		if ti.Equal(tj) {
			return out[i] < out[j]
		}
		return ti.Before(tj)
	})
	return out
}

// MenteeIDs returns the enrolled leadership mentees in id order.
func (p Partner) MenteeIDs() []PartnerID {
	out := make([]PartnerID, 0, len(p.Mentees))
	for id := range p.Mentees {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// setVolume is the only place personal volume changes. The adjustment
// record is appended in the same call.
func (p *Partner) setVolume(v decimal.Decimal, reason string, now time.Time) {
	delta := v.Sub(p.Volume)
	p.Volume = v
	p.Adjustments.Append(Adjustment{At: now, Delta: delta, Volume: v, Reason: reason})
}

// Clone returns a deep copy.
func (p *Partner) Clone() Partner {
	c := *p
	c.Downline = append([]PartnerID(nil), p.Downline...)
	c.Privileges = cloneMap(p.Privileges)
	c.Clubs = cloneMap(p.Clubs)
	c.MentorshipGranted = cloneMap(p.MentorshipGranted)
	c.QuickStartGranted = cloneMap(p.QuickStartGranted)
	c.Mentees = cloneMap(p.Mentees)
	c.Awards = append([]Award(nil), p.Awards...)
	c.VolumeHistory = p.VolumeHistory.clone()
	c.Adjustments = p.Adjustments.clone()
	c.QualificationHistory = p.QualificationHistory.clone()
	c.CompressionHistory = p.CompressionHistory.clone()
	c.ClubHistory = p.ClubHistory.clone()
	c.EventHistory = p.EventHistory.clone()
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

/*
Package network provides the partner tree and the calculation engine.

PURPOSE:
  This package owns every partner of one simulation: their volumes, tiers,
  compression ledgers and histories. It aggregates group volume over the
  tree, assigns qualification tiers, advances the compression state
  machine and computes the bonus breakdown of any partner.

KEY CONCEPTS IN THIS FILE (types.go):
  - PartnerID: Monotonic identifier, never reused
  - CompressionState: Lifecycle of a partner under low volume
  - History records: Volume, adjustment, qualification, compression and
    club entries kept in bounded windows

DESIGN PRINCIPLES:
  1. Single owner: The Tree's id map owns every Partner. Upline ids are
     lookup-only back references.
  2. Precision: Volumes and money use decimal.Decimal
  3. Shielding: A compressed partner contributes nothing upstream
  4. Pairing: Every volume mutation appends its history entry in the same call

USAGE:
  tree, err := network.NewTree(plan.Default(), decimal.NewFromInt(10000))
  id, err := tree.AddPartner(decimal.NewFromInt(800), tree.RootID())
  err = tree.UpdateQualifications()
  income, err := tree.Income(tree.RootID())

SEE ALSO:
  - tree.go: Construction and mutation
  - aggregate.go: Group volume, side volume, active partners
  - qualification.go: Tier assignment
  - compression.go: Compression ledger
  - income.go: Bonus computation
  - snapshot.go: Stage snapshots and metrics
*/
package network

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PartnerID int

// NoPartner is the upline of the root.
const NoPartner PartnerID = -1

func (id PartnerID) String() string { return strconv.Itoa(int(id)) }

// =============================================================================
// COMPRESSION STATES
// =============================================================================

type CompressionState string

const (
	StateActive     CompressionState = "ACTIVE"
	StateAtRisk     CompressionState = "AT_RISK"
	StateCompressed CompressionState = "COMPRESSED"
	StateInGrace    CompressionState = "IN_GRACE"
	StateRecovering CompressionState = "RECOVERING"
)

// Shielded reports whether a partner in this state is excluded from every
// ancestor aggregate.
func (s CompressionState) Shielded() bool {
	return s == StateCompressed || s == StateInGrace || s == StateRecovering
}

// =============================================================================
// HISTORY RECORDS
// =============================================================================

// VolumeRecord is appended once per evaluation pass.
type VolumeRecord struct {
	At       time.Time       `json:"at"`
	Personal decimal.Decimal `json:"personal"`
	Group    decimal.Decimal `json:"group"`
	Tier     plan.Tier       `json:"tier"`
}

// Adjustment records a personal volume mutation.
type Adjustment struct {
	At     time.Time       `json:"at"`
	Delta  decimal.Decimal `json:"delta"`
	Volume decimal.Decimal `json:"volume"`
	Reason string          `json:"reason"`
}

// QualificationChange records a tier transition.
type QualificationChange struct {
	At   time.Time `json:"at"`
	From plan.Tier `json:"from"`
	To   plan.Tier `json:"to"`
}

// CompressionEntry records the moment a partner was compressed.
type CompressionEntry struct {
	At     time.Time       `json:"at"`
	Volume decimal.Decimal `json:"volume"`
}

// ClubJoin records entry into a club.
type ClubJoin struct {
	At   time.Time   `json:"at"`
	Club plan.ClubID `json:"club"`
}

// EventAttendance records one club event a partner attended and what it cost
// after the club discount.
type EventAttendance struct {
	At    time.Time       `json:"at"`
	Club  plan.ClubID     `json:"club"`
	Event string          `json:"event"`
	Paid  decimal.Decimal `json:"paid"`
}

// Award is a one-time payment earned during the latest evaluation pass.
type Award struct {
	Kind   string          `json:"kind"` // "mentorship" or "quick_start"
	Tier   plan.Tier       `json:"tier"`
	Amount decimal.Decimal `json:"amount"`
}

const (
	AwardMentorship = "mentorship"
	AwardQuickStart = "quick_start"
)

// Adjustment reasons.
const (
	ReasonInitial     = "initial"
	ReasonSet         = "set"
	ReasonAdd         = "add"
	ReasonStarterKit  = "starter_kit"
	ReasonDistributed = "distributed"
)

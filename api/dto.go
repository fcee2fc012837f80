/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Engine types that are
  already JSON-shaped (network.Metrics, optimizer.Result, audit.Report,
  archive.Run) are returned as is; everything else goes through a DTO so
  the engine can change without breaking the dashboard.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VOLUMES:
  decimal.Decimal accepts both JSON numbers and strings on input and is
  always written as a string.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/optimizer"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSessionRequest starts a new simulation.
type CreateSessionRequest struct {
	Label      string           `json:"label"`
	Budget     decimal.Decimal  `json:"budget"`
	Region     string           `json:"region,omitempty"`
	RootVolume *decimal.Decimal `json:"root_volume,omitempty"`
	// Start is the simulated start date (YYYY-MM-DD). Defaults to today.
	Start string `json:"start,omitempty"`
	// Preset populates the tree with one of the demo networks.
	Preset string `json:"preset,omitempty"`
}

// SessionDTO describes a live session.
type SessionDTO struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Region    string          `json:"region"`
	Budget    decimal.Decimal `json:"budget"`
	Preset    string          `json:"preset,omitempty"`
	Partners  int             `json:"partners"`
	Now       time.Time       `json:"now"`
	CreatedAt time.Time       `json:"created_at"`
}

// MetricsResponse is the dashboard summary of a session.
type MetricsResponse struct {
	Metrics   network.Metrics        `json:"metrics"`
	Remaining decimal.Decimal        `json:"remaining_volume"`
	Levels    []optimizer.LevelStats `json:"levels"`
	Payout    decimal.Decimal        `json:"total_payout"`
}

// SnapshotDTO is one history entry without the partner listing.
type SnapshotDTO struct {
	Stage   string          `json:"stage"`
	TakenAt time.Time       `json:"taken_at"`
	Metrics network.Metrics `json:"metrics"`
	Extra   map[string]any  `json:"extra,omitempty"`
}

// =============================================================================
// PARTNERS
// =============================================================================

// AddPartnerRequest attaches a partner. Region defaults to the upline's.
type AddPartnerRequest struct {
	Upline network.PartnerID `json:"upline"`
	Volume decimal.Decimal   `json:"volume"`
	Region string            `json:"region,omitempty"`
}

// PurchaseKitRequest buys a starter kit.
type PurchaseKitRequest struct {
	Kit string `json:"kit"`
}

// AddMenteeRequest enrolls a partner in another's leadership program.
type AddMenteeRequest struct {
	Mentee network.PartnerID `json:"mentee"`
}

// AttendEventRequest books a club event for a member.
type AttendEventRequest struct {
	Club  plan.ClubID `json:"club"`
	Event string      `json:"event"`
}

// AttendEventResponse is the price paid after the club discount.
type AttendEventResponse struct {
	Club  plan.ClubID     `json:"club"`
	Event string          `json:"event"`
	Paid  decimal.Decimal `json:"paid"`
}

// SetVolumeRequest replaces a partner's personal volume.
type SetVolumeRequest struct {
	Volume decimal.Decimal `json:"volume"`
}

// PartnerDTO represents a partner in API responses.
type PartnerDTO struct {
	ID             network.PartnerID        `json:"id"`
	Upline         network.PartnerID        `json:"upline"`
	Downline       []network.PartnerID      `json:"downline"`
	Region         string                   `json:"region"`
	Volume         decimal.Decimal          `json:"volume"`
	GroupVolume    decimal.Decimal          `json:"group_volume"`
	SideVolume     decimal.Decimal          `json:"side_volume"`
	ActivePartners int                      `json:"active_partners"`
	Tier           plan.Tier                `json:"tier"`
	Compression    network.CompressionState `json:"compression"`
	StarterKit     string                   `json:"starter_kit,omitempty"`
	Privileges     []plan.Privilege         `json:"privileges"`
	Clubs          []plan.ClubID            `json:"clubs"`
	Mentees        []network.PartnerID      `json:"mentees"`
	Income         network.Income           `json:"income"`
}

// =============================================================================
// SIMULATION
// =============================================================================

// EvaluateRequest advances the simulated clock and runs one evaluation
// pass. A non-empty Snapshot records the result under that stage name.
type EvaluateRequest struct {
	AdvanceMonths int    `json:"advance_months"`
	Snapshot      string `json:"snapshot,omitempty"`
}

// EvaluateResponse reports the pass.
type EvaluateResponse struct {
	Now     time.Time            `json:"now"`
	Metrics network.Metrics      `json:"metrics"`
	Changes []network.TierChange `json:"qualification_changes"`
}

// OptimizeRequest runs the structure builder on the session's tree.
type OptimizeRequest struct {
	Target      plan.Tier `json:"target"`
	Strategy    string    `json:"strategy,omitempty"`
	MinPartners int       `json:"min_partners,omitempty"`
	MaxPartners int       `json:"max_partners,omitempty"`
}

// ArchiveRequest freezes the session history into a run.
type ArchiveRequest struct {
	Label string `json:"label,omitempty"`
}

// =============================================================================
// PRESETS
// =============================================================================

// PresetDTO describes a demo network.
type PresetDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the JSON error format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

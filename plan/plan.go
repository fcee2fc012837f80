/*
Package plan holds the immutable configuration of a compensation plan.

PURPOSE:
  Every threshold, rate and catalog the engine consults lives in one Config
  value that is handed to the network at construction. Nothing in the engine
  reads package-level tables, so two simulations can run side by side with
  different plans.

KEY CONCEPTS:
  - TierRule: One row of the qualification table. Rank orders tiers
    explicitly; table order carries no meaning.
  - Region: Currency, compression threshold, grace length and low-tier
    group volume overrides.
  - Kit / Privilege: Starter kits grant a closed set of privileges, each
    with its own expiry.
  - Club: Recurring benefit membership unlocked by holding a tier.
  - CompressionRule / RecoveryTerms: Parameters for the compression ledger.

USAGE:
  cfg := plan.Default()
  rule, ok := cfg.Tier(plan.TierM3)

SEE ALSO:
  - default.go: The reference plan tables
  - factory/plan.go: YAML/JSON overlays onto Default()
  - network/qualification.go: Consumes the tier table
*/
package plan

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIERS
// =============================================================================

// Tier is a qualification status code.
type Tier string

const (
	TierNone Tier = "NONE"
	TierM1   Tier = "M1"
	TierM2   Tier = "M2"
	TierM3   Tier = "M3"
	TierB1   Tier = "B1"
	TierB2   Tier = "B2"
	TierB3   Tier = "B3"
	TierTop  Tier = "TOP"
	TierTop1 Tier = "TOP1"
	TierTop2 Tier = "TOP2"
	TierTop3 Tier = "TOP3"
	TierTop4 Tier = "TOP4"
	TierTop5 Tier = "TOP5"
	TierAC1  Tier = "AC1"
	TierAC2  Tier = "AC2"
	TierAC3  Tier = "AC3"
	TierAC4  Tier = "AC4"
	TierAC5  Tier = "AC5"
	TierAC6  Tier = "AC6"
)

// TierRule is one row of the qualification table.
type TierRule struct {
	Tier              Tier            `json:"tier" yaml:"tier"`
	Rank              int             `json:"rank" yaml:"rank"`
	MinGroupVolume    decimal.Decimal `json:"min_group_volume" yaml:"min_group_volume"`
	MinActivePartners int             `json:"min_active_partners" yaml:"min_active_partners"`
	MinSideVolume     decimal.Decimal `json:"min_side_volume" yaml:"min_side_volume"`

	// Prerequisites maps a tier to the number of non-shielded descendants
	// that must hold at least that tier.
	Prerequisites map[Tier]int `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`

	GroupRate decimal.Decimal `json:"group_rate" yaml:"group_rate"`

	// AtRiskThreshold is the personal volume below which an active partner
	// holding this tier is flagged at risk.
	AtRiskThreshold decimal.Decimal `json:"at_risk_threshold" yaml:"at_risk_threshold"`
}

// =============================================================================
// BONUS TABLES
// =============================================================================

// VolumeRate pays Rate once volume reaches MinVolume.
type VolumeRate struct {
	MinVolume decimal.Decimal `json:"min_volume" yaml:"min_volume"`
	Rate      decimal.Decimal `json:"rate" yaml:"rate"`
}

// GrowthRate adds Rate to the group rate once trailing growth reaches MinGrowth.
type GrowthRate struct {
	MinGrowth decimal.Decimal `json:"min_growth" yaml:"min_growth"`
	Rate      decimal.Decimal `json:"rate" yaml:"rate"`
}

// CountBonus pays a flat Amount once a count reaches MinCount.
type CountBonus struct {
	MinCount int             `json:"min_count" yaml:"min_count"`
	Amount   decimal.Decimal `json:"amount" yaml:"amount"`
}

// Milestone pays a one-time Amount the first time Tier is reached.
// WithinMonths, when positive, limits the award to that many months after
// registration.
type Milestone struct {
	Tier         Tier            `json:"tier" yaml:"tier"`
	Amount       decimal.Decimal `json:"amount" yaml:"amount"`
	WithinMonths int             `json:"within_months,omitempty" yaml:"within_months,omitempty"`
}

// =============================================================================
// REGIONS & CURRENCIES
// =============================================================================

type Region struct {
	Code                 string          `json:"code" yaml:"code"`
	Currency             string          `json:"currency" yaml:"currency"`
	MinPersonalVolume    decimal.Decimal `json:"min_personal_volume" yaml:"min_personal_volume"`
	CompressionThreshold decimal.Decimal `json:"compression_threshold" yaml:"compression_threshold"`
	GraceMonths          int             `json:"grace_months" yaml:"grace_months"`
	CompressionRule      string          `json:"compression_rule" yaml:"compression_rule"`

	// GroupVolumeOverrides replaces MinGroupVolume for individual tiers.
	GroupVolumeOverrides map[Tier]decimal.Decimal `json:"group_volume_overrides,omitempty" yaml:"group_volume_overrides,omitempty"`
}

// =============================================================================
// STARTER KITS & PRIVILEGES
// =============================================================================

// Privilege is the closed set of benefits a starter kit can grant.
type Privilege string

const (
	PrivilegePersonalDiscount Privilege = "personal_discount"
	PrivilegeQuickStart       Privilege = "quick_start"
	PrivilegeBasicTraining    Privilege = "basic_training"
	PrivilegeBusinessTools    Privilege = "business_tools"
	PrivilegeMentorship       Privilege = "mentorship"
	PrivilegeVIPSupport       Privilege = "vip_support"
)

// Privileges lists every privilege in catalog order.
func Privileges() []Privilege {
	return []Privilege{
		PrivilegePersonalDiscount,
		PrivilegeQuickStart,
		PrivilegeBasicTraining,
		PrivilegeBusinessTools,
		PrivilegeMentorship,
		PrivilegeVIPSupport,
	}
}

// PrivilegeTerms describes how long a privilege lasts once granted.
// DurationDays of zero means the privilege never expires.
type PrivilegeTerms struct {
	DurationDays int             `json:"duration_days" yaml:"duration_days"`
	Discount     decimal.Decimal `json:"discount" yaml:"discount"`
}

type Kit struct {
	ID         string          `json:"id" yaml:"id"`
	Price      decimal.Decimal `json:"price" yaml:"price"`
	Volume     decimal.Decimal `json:"volume" yaml:"volume"`
	Privileges []Privilege     `json:"privileges" yaml:"privileges"`
}

// =============================================================================
// CLUBS
// =============================================================================

type ClubID string

const (
	ClubMiddle   ClubID = "MIDDLE"
	ClubBusiness ClubID = "BUSINESS"
	ClubTop      ClubID = "TOP"
)

// ClubRate is an additional group rate, optionally gated by group volume.
type ClubRate struct {
	Name           string          `json:"name" yaml:"name"`
	Rate           decimal.Decimal `json:"rate" yaml:"rate"`
	MinGroupVolume decimal.Decimal `json:"min_group_volume" yaml:"min_group_volume"`
}

type ClubEvent struct {
	Name      string          `json:"name" yaml:"name"`
	Days      int             `json:"days" yaml:"days"`
	Cost      decimal.Decimal `json:"cost" yaml:"cost"`
	Frequency string          `json:"frequency" yaml:"frequency"`
}

// Club is unlocked by holding a tier between MinTier and MaxTier for
// MinPeriods consecutive evaluation passes.
type Club struct {
	ID            ClubID          `json:"id" yaml:"id"`
	MinTier       Tier            `json:"min_tier" yaml:"min_tier"`
	MaxTier       Tier            `json:"max_tier" yaml:"max_tier"`
	MinPeriods    int             `json:"min_periods" yaml:"min_periods"`
	Rates         []ClubRate      `json:"rates" yaml:"rates"`
	Benefits      []string        `json:"benefits" yaml:"benefits"`
	EventDiscount decimal.Decimal `json:"event_discount" yaml:"event_discount"`
	Events        []ClubEvent     `json:"events" yaml:"events"`

	// MentoringBonus is paid per leadership mentee while the club applies.
	// Zero means the club has no leadership program.
	MentoringBonus decimal.Decimal `json:"mentoring_bonus" yaml:"mentoring_bonus"`
}

// Event returns the club event called name.
func (c Club) Event(name string) (ClubEvent, bool) {
	for _, e := range c.Events {
		if e.Name == name {
			return e, true
		}
	}
	return ClubEvent{}, false
}

// =============================================================================
// COMPRESSION & RECOVERY
// =============================================================================

type CompressionRule struct {
	Name              string          `json:"name" yaml:"name"`
	Threshold         decimal.Decimal `json:"threshold" yaml:"threshold"`
	GraceMonths       int             `json:"grace_months" yaml:"grace_months"`
	WarningMonths     int             `json:"warning_months" yaml:"warning_months"`
	RecoveryMonths    int             `json:"recovery_months" yaml:"recovery_months"`
	MinRecoveryVolume decimal.Decimal `json:"min_recovery_volume" yaml:"min_recovery_volume"`
}

// RecoveryProgram names one of the recovery schemes a compressed partner
// may adopt.
type RecoveryProgram string

const (
	RecoveryQuick    RecoveryProgram = "QUICK"
	RecoveryStandard RecoveryProgram = "STANDARD"
	RecoveryGradual  RecoveryProgram = "GRADUAL"
)

type RecoveryTerms struct {
	Months         int             `json:"months" yaml:"months"`
	RequiredVolume decimal.Decimal `json:"required_volume" yaml:"required_volume"`
	BonusRate      decimal.Decimal `json:"bonus_rate" yaml:"bonus_rate"`
}

// WarningLevel grades how close an at-risk partner is to compression.
type WarningLevel string

const (
	WarningNone     WarningLevel = ""
	WarningNotice   WarningLevel = "NOTICE"
	WarningWarning  WarningLevel = "WARNING"
	WarningCritical WarningLevel = "CRITICAL"
)

// WarningThreshold assigns Level to personal volumes at or below MaxVolume.
type WarningThreshold struct {
	Level     WarningLevel    `json:"level" yaml:"level"`
	MaxVolume decimal.Decimal `json:"max_volume" yaml:"max_volume"`
}

// =============================================================================
// HISTORY WINDOWS
// =============================================================================

// Windows bounds every per-partner history.
type Windows struct {
	Volume        int `json:"volume" yaml:"volume"`
	Adjustments   int `json:"adjustments" yaml:"adjustments"`
	Qualification int `json:"qualification" yaml:"qualification"`
	Compression   int `json:"compression" yaml:"compression"`
	Club          int `json:"club" yaml:"club"`
	Events        int `json:"events" yaml:"events"`
}

// =============================================================================
// CONFIG
// =============================================================================

// Config is the complete plan. Treat it as read-only once handed to a tree.
type Config struct {
	Tiers []TierRule `json:"tiers" yaml:"tiers"`

	PersonalRates []VolumeRate `json:"personal_rates" yaml:"personal_rates"`
	GrowthRates   []GrowthRate `json:"growth_rates" yaml:"growth_rates"`
	// GrowthPeriods is the trailing number of passes used for the dynamic rate.
	GrowthPeriods int `json:"growth_periods" yaml:"growth_periods"`

	Mentorship []Milestone `json:"mentorship" yaml:"mentorship"`
	QuickStart []Milestone `json:"quick_start" yaml:"quick_start"`

	ActivePartnerBonuses   []CountBonus    `json:"active_partner_bonuses" yaml:"active_partner_bonuses"`
	ActivePartnerMinVolume decimal.Decimal `json:"active_partner_min_volume" yaml:"active_partner_min_volume"`

	Regions       map[string]Region          `json:"regions" yaml:"regions"`
	DefaultRegion string                     `json:"default_region" yaml:"default_region"`
	Currencies    map[string]decimal.Decimal `json:"currencies" yaml:"currencies"`

	Kits       map[string]Kit               `json:"kits" yaml:"kits"`
	Privileges map[Privilege]PrivilegeTerms `json:"privileges" yaml:"privileges"`

	Clubs []Club `json:"clubs" yaml:"clubs"`

	CompressionRules map[string]CompressionRule       `json:"compression_rules" yaml:"compression_rules"`
	RecoveryPrograms map[RecoveryProgram]RecoveryTerms `json:"recovery_programs" yaml:"recovery_programs"`
	Warnings         []WarningThreshold               `json:"warnings" yaml:"warnings"`
	// DefaultAtRisk applies to tiers whose rule carries no threshold.
	DefaultAtRisk decimal.Decimal `json:"default_at_risk" yaml:"default_at_risk"`

	Windows Windows `json:"windows" yaml:"windows"`

	RootVolume            decimal.Decimal `json:"root_volume" yaml:"root_volume"`
	OptimalPersonalVolume decimal.Decimal `json:"optimal_personal_volume" yaml:"optimal_personal_volume"`
}

// Tier returns the rule for t.
func (c *Config) Tier(t Tier) (TierRule, bool) {
	for _, r := range c.Tiers {
		if r.Tier == t {
			return r, true
		}
	}
	return TierRule{}, false
}

// Rank returns the rank of t, or -1 for unknown tiers.
func (c *Config) Rank(t Tier) int {
	if r, ok := c.Tier(t); ok {
		return r.Rank
	}
	return -1
}

// TiersByRank returns the tier rules sorted by ascending rank.
func (c *Config) TiersByRank() []TierRule {
	out := make([]TierRule, len(c.Tiers))
	copy(out, c.Tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// LowestTier returns the lowest-ranked tier, the status every partner starts with.
func (c *Config) LowestTier() Tier {
	tiers := c.TiersByRank()
	if len(tiers) == 0 {
		return TierNone
	}
	return tiers[0].Tier
}

func (c *Config) Region(code string) (Region, bool) {
	r, ok := c.Regions[code]
	return r, ok
}

func (c *Config) Kit(id string) (Kit, bool) {
	k, ok := c.Kits[id]
	return k, ok
}

func (c *Config) Recovery(p RecoveryProgram) (RecoveryTerms, bool) {
	t, ok := c.RecoveryPrograms[p]
	return t, ok
}

func (c *Config) CompressionRule(name string) (CompressionRule, bool) {
	r, ok := c.CompressionRules[name]
	return r, ok
}

// CurrencyRate returns the conversion rate from base units into currency.
func (c *Config) CurrencyRate(currency string) (decimal.Decimal, bool) {
	r, ok := c.Currencies[currency]
	return r, ok
}

// RecoveryThreshold is the personal volume a compressed partner in region
// must reach to become active again.
func (c *Config) RecoveryThreshold(region Region) decimal.Decimal {
	if rule, ok := c.CompressionRules[region.CompressionRule]; ok {
		return rule.MinRecoveryVolume
	}
	return region.CompressionThreshold
}

// AtRiskThreshold returns the at-risk personal volume for t.
func (c *Config) AtRiskThreshold(t Tier) decimal.Decimal {
	if r, ok := c.Tier(t); ok && r.AtRiskThreshold.IsPositive() {
		return r.AtRiskThreshold
	}
	return c.DefaultAtRisk
}

// WarningFor returns the nearest warning level at or above volume.
func (c *Config) WarningFor(volume decimal.Decimal) WarningLevel {
	best := WarningNotice
	var bestMax *decimal.Decimal
	for _, w := range c.Warnings {
		if volume.GreaterThan(w.MaxVolume) {
			continue
		}
		if bestMax == nil || w.MaxVolume.LessThan(*bestMax) {
			m := w.MaxVolume
			bestMax = &m
			best = w.Level
		}
	}
	return best
}

// ClubsFor returns the clubs whose tier span covers t.
func (c *Config) ClubsFor(t Tier) []Club {
	rank := c.Rank(t)
	var out []Club
	for _, club := range c.Clubs {
		if rank >= c.Rank(club.MinTier) && rank <= c.Rank(club.MaxTier) {
			out = append(out, club)
		}
	}
	return out
}

// Club returns the club with id.
func (c *Config) Club(id ClubID) (Club, bool) {
	for _, club := range c.Clubs {
		if club.ID == id {
			return club, true
		}
	}
	return Club{}, false
}

// Validate checks the cross references inside the plan.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("plan has no tiers")
	}
	seen := make(map[int]Tier, len(c.Tiers))
	for _, r := range c.Tiers {
		if other, dup := seen[r.Rank]; dup {
			return fmt.Errorf("tiers %s and %s share rank %d", other, r.Tier, r.Rank)
		}
		seen[r.Rank] = r.Tier
		for p := range r.Prerequisites {
			if _, ok := c.Tier(p); !ok {
				return fmt.Errorf("tier %s: unknown prerequisite %s", r.Tier, p)
			}
		}
	}
	if _, ok := c.Regions[c.DefaultRegion]; !ok {
		return fmt.Errorf("default region %q not configured", c.DefaultRegion)
	}
	for code, region := range c.Regions {
		if _, ok := c.Currencies[region.Currency]; !ok {
			return fmt.Errorf("region %s: unknown currency %s", code, region.Currency)
		}
		if region.CompressionRule != "" {
			if _, ok := c.CompressionRules[region.CompressionRule]; !ok {
				return fmt.Errorf("region %s: unknown compression rule %s", code, region.CompressionRule)
			}
		}
		for t := range region.GroupVolumeOverrides {
			if _, ok := c.Tier(t); !ok {
				return fmt.Errorf("region %s: override for unknown tier %s", code, t)
			}
		}
	}
	for id, kit := range c.Kits {
		for _, p := range kit.Privileges {
			if _, ok := c.Privileges[p]; !ok {
				return fmt.Errorf("kit %s: unknown privilege %s", id, p)
			}
		}
	}
	for _, club := range c.Clubs {
		if _, ok := c.Tier(club.MinTier); !ok {
			return fmt.Errorf("club %s: unknown tier %s", club.ID, club.MinTier)
		}
		if _, ok := c.Tier(club.MaxTier); !ok {
			return fmt.Errorf("club %s: unknown tier %s", club.ID, club.MaxTier)
		}
	}
	return nil
}

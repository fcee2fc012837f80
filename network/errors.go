/*
errors.go - Centralized error types for the network engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match on the sentinels with errors.Is; the structured errors
  carry the offending ids and amounts.

ERROR CATEGORIES:
  1. Lookup errors - Unknown partner, region, kit or tier
  2. Allocation errors - Non-positive volume, overshooting the budget
  3. Consistency errors - Broken upline/downline links
  4. Transition errors - Operations the compression ledger refuses

SEE ALSO:
  - tree.go: Returns these errors
  - optimizer/builder.go: Wraps allocation errors with stage context
  - api/handlers.go: Maps errors to HTTP status codes
*/
package network

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned for unknown partner ids and unknown
	// configuration codes (region, kit, tier, recovery program).
	ErrNotFound = errors.New("not found")

	// ErrInvalidAllocation is returned for non-positive volumes and for
	// distributions that would overshoot the remaining budget.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrInconsistentState is returned when an aggregation detects a broken
	// upline/downline invariant. It should never happen by construction.
	ErrInconsistentState = errors.New("inconsistent tree state")

	// ErrKitAlreadyPurchased is returned when a partner buys a second kit.
	ErrKitAlreadyPurchased = errors.New("starter kit already purchased")

	// ErrInvalidTransition is returned when the compression ledger refuses
	// a requested state change.
	ErrInvalidTransition = errors.New("invalid compression transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names what was looked up.
type NotFoundError struct {
	Kind string // "partner", "region", "kit", "tier", "recovery program"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func partnerNotFound(id PartnerID) error {
	return &NotFoundError{Kind: "partner", ID: id.String()}
}

// AllocationError provides details about a rejected volume.
type AllocationError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
	Reason    string
}

func (e *AllocationError) Error() string {
	if e.Available.IsZero() && e.Reason != "" {
		return fmt.Sprintf("invalid allocation of %s: %s", e.Requested, e.Reason)
	}
	return fmt.Sprintf("invalid allocation of %s (available %s): %s", e.Requested, e.Available, e.Reason)
}

func (e *AllocationError) Unwrap() error {
	return ErrInvalidAllocation
}

// InconsistencyError reports the broken link.
type InconsistencyError struct {
	Partner PartnerID
	Detail  string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("partner %s: %s", e.Partner, e.Detail)
}

func (e *InconsistencyError) Unwrap() error {
	return ErrInconsistentState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing partner or code.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAllocation) ||
		errors.Is(err, ErrKitAlreadyPurchased) ||
		errors.Is(err, ErrInvalidTransition)
}

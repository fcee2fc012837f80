package network

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func decs(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestTree(t *testing.T, budget int64, opts ...Option) (*Tree, *ManualClock) {
	t.Helper()
	clock := NewManualClock(testStart)
	base := []Option{WithClock(clock), WithLogger(quietLogger())}
	tree, err := NewTree(plan.Default(), dec(budget), append(base, opts...)...)
	require.NoError(t, err)
	return tree, clock
}

func mustAdd(t *testing.T, tree *Tree, volume int64, upline PartnerID) PartnerID {
	t.Helper()
	id, err := tree.AddPartner(dec(volume), upline)
	require.NoError(t, err)
	return id
}

func mustPartner(t *testing.T, tree *Tree, id PartnerID) Partner {
	t.Helper()
	p, err := tree.Partner(id)
	require.NoError(t, err)
	return p
}

func mustPass(t *testing.T, tree *Tree) {
	t.Helper()
	require.NoError(t, tree.UpdateQualifications())
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNewTree_CreatesRoot(t *testing.T) {
	tree, _ := newTestTree(t, 10000)

	root := mustPartner(t, tree, tree.RootID())
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, NoPartner, root.Upline)
	assert.True(t, root.IsRoot())
	assert.True(t, root.Volume.Equal(dec(200)))
	assert.Equal(t, plan.TierNone, root.Tier)
	assert.Equal(t, "RU", root.Region)
	assert.Equal(t, StateActive, root.Compression.State)
	assert.True(t, tree.RemainingVolume().Equal(dec(9800)))
}

func TestNewTree_Options(t *testing.T) {
	tree, _ := newTestTree(t, 10000, WithRootVolume(dec(10000)), WithRegion("UZ"))

	root := mustPartner(t, tree, tree.RootID())
	assert.True(t, root.Volume.Equal(dec(10000)))
	assert.Equal(t, "UZ", root.Region)
}

func TestNewTree_UnknownRegion(t *testing.T) {
	_, err := NewTree(plan.Default(), dec(100), WithRegion("ZZ"), WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "region", nf.Kind)
}

// =============================================================================
// ADD PARTNER
// =============================================================================

func TestAddPartner_LinksBothDirections(t *testing.T) {
	// GIVEN: A fresh tree
	tree, _ := newTestTree(t, 10000)

	// WHEN: Adding two children and a grandchild
	a := mustAdd(t, tree, 100, tree.RootID())
	b := mustAdd(t, tree, 100, tree.RootID())
	c := mustAdd(t, tree, 100, a)

	// THEN: Ids are allocated monotonically
	assert.Equal(t, PartnerID(1), a)
	assert.Equal(t, PartnerID(2), b)
	assert.Equal(t, PartnerID(3), c)

	// AND: Downline lists are the exact inverse of upline references
	for _, p := range tree.Partners() {
		for _, child := range p.Downline {
			assert.Equal(t, p.ID, mustPartner(t, tree, child).Upline)
		}
		if !p.IsRoot() {
			assert.Contains(t, mustPartner(t, tree, p.Upline).Downline, p.ID)
		}
	}
}

func TestAddPartner_UnknownUpline(t *testing.T) {
	tree, _ := newTestTree(t, 10000)

	_, err := tree.AddPartner(dec(100), PartnerID(42))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, tree.Len())
}

func TestAddPartner_RejectsNonPositiveVolume(t *testing.T) {
	tree, _ := newTestTree(t, 10000)

	for _, v := range []int64{0, -10} {
		_, err := tree.AddPartner(dec(v), tree.RootID())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidAllocation)
		assert.True(t, IsClientError(err))
	}
	assert.Equal(t, 1, tree.Len())
}

func TestAddPartner_InheritsUplineRegion(t *testing.T) {
	tree, _ := newTestTree(t, 10000, WithRegion("KZ"))

	id := mustAdd(t, tree, 100, tree.RootID())
	assert.Equal(t, "KZ", mustPartner(t, tree, id).Region)

	other, err := tree.AddPartnerInRegion(dec(100), id, "UZ")
	require.NoError(t, err)
	assert.Equal(t, "UZ", mustPartner(t, tree, other).Region)

	_, err = tree.AddPartnerInRegion(dec(100), id, "ZZ")
	assert.True(t, IsNotFound(err))
}

func TestAddPartner_RecordsInitialAdjustment(t *testing.T) {
	tree, _ := newTestTree(t, 10000)
	id := mustAdd(t, tree, 150, tree.RootID())

	adj := mustPartner(t, tree, id).Adjustments.Items()
	require.Len(t, adj, 1)
	assert.Equal(t, ReasonInitial, adj[0].Reason)
	assert.True(t, adj[0].Volume.Equal(dec(150)))
}

// =============================================================================
// VOLUME MUTATION
// =============================================================================

func TestVolumeMutations_PairWithHistory(t *testing.T) {
	// GIVEN: A partner with 100 PV
	tree, _ := newTestTree(t, 10000)
	id := mustAdd(t, tree, 100, tree.RootID())

	// WHEN: Setting, adding and removing volume
	require.NoError(t, tree.SetPersonalVolume(id, dec(300)))
	require.NoError(t, tree.AddPersonalVolume(id, dec(-50)))

	// THEN: Every change left an adjustment record
	p := mustPartner(t, tree, id)
	assert.True(t, p.Volume.Equal(dec(250)))
	adj := p.Adjustments.Items()
	require.Len(t, adj, 3)
	assert.Equal(t, ReasonSet, adj[1].Reason)
	assert.True(t, adj[1].Delta.Equal(dec(200)))
	assert.Equal(t, ReasonAdd, adj[2].Reason)
	assert.True(t, adj[2].Delta.Equal(dec(-50)))
}

func TestVolumeMutations_RejectNegativeResults(t *testing.T) {
	tree, _ := newTestTree(t, 10000)
	id := mustAdd(t, tree, 100, tree.RootID())

	assert.ErrorIs(t, tree.SetPersonalVolume(id, dec(-1)), ErrInvalidAllocation)
	assert.ErrorIs(t, tree.AddPersonalVolume(id, dec(-101)), ErrInvalidAllocation)
	assert.ErrorIs(t, tree.SetPersonalVolume(PartnerID(9), dec(1)), ErrNotFound)

	p := mustPartner(t, tree, id)
	assert.True(t, p.Volume.Equal(dec(100)))
	assert.Equal(t, 1, p.Adjustments.Len())
}

func TestAllocate_RefusesOvershoot(t *testing.T) {
	// GIVEN: A 1000 budget with 300 placed
	tree, _ := newTestTree(t, 1000)
	id := mustAdd(t, tree, 100, tree.RootID())

	// WHEN: Allocating exactly the remainder
	require.NoError(t, tree.Allocate(id, dec(700)))

	// THEN: Nothing is left and any further allocation overshoots
	assert.True(t, tree.RemainingVolume().IsZero())
	err := tree.Allocate(id, dec(1))
	assert.ErrorIs(t, err, ErrInvalidAllocation)

	var ae *AllocationError
	require.True(t, errors.As(err, &ae))
	assert.True(t, ae.Available.IsZero())
}

// =============================================================================
// STARTER KITS
// =============================================================================

func TestPurchaseStarterKit_AddsVolumeAndPrivileges(t *testing.T) {
	// GIVEN: A partner with 100 PV
	tree, _ := newTestTree(t, 10000)
	id := mustAdd(t, tree, 100, tree.RootID())

	// WHEN: Buying the BUSINESS kit
	require.NoError(t, tree.PurchaseStarterKit(id, "BUSINESS"))

	// THEN: Kit volume is added and privileges granted
	p := mustPartner(t, tree, id)
	assert.Equal(t, "BUSINESS", p.StarterKit)
	assert.True(t, p.Volume.Equal(dec(300)))
	assert.Equal(t, []plan.Privilege{
		plan.PrivilegePersonalDiscount,
		plan.PrivilegeQuickStart,
		plan.PrivilegeBasicTraining,
		plan.PrivilegeBusinessTools,
		plan.PrivilegeMentorship,
	}, p.ActivePrivileges(testStart))

	last, ok := p.Adjustments.Last()
	require.True(t, ok)
	assert.Equal(t, ReasonStarterKit, last.Reason)
}

func TestPurchaseStarterKit_SecondPurchaseChangesNothing(t *testing.T) {
	tree, _ := newTestTree(t, 10000)
	id := mustAdd(t, tree, 100, tree.RootID())
	require.NoError(t, tree.PurchaseStarterKit(id, "START"))

	err := tree.PurchaseStarterKit(id, "VIP")

	assert.ErrorIs(t, err, ErrKitAlreadyPurchased)
	p := mustPartner(t, tree, id)
	assert.Equal(t, "START", p.StarterKit)
	assert.True(t, p.Volume.Equal(dec(170)))
	assert.False(t, p.HasPrivilege(plan.PrivilegeVIPSupport, testStart))
}

func TestPurchaseStarterKit_UnknownKitOrPartner(t *testing.T) {
	tree, _ := newTestTree(t, 10000)
	id := mustAdd(t, tree, 100, tree.RootID())

	assert.True(t, IsNotFound(tree.PurchaseStarterKit(id, "GOLD")))
	assert.True(t, IsNotFound(tree.PurchaseStarterKit(PartnerID(77), "START")))
	assert.Empty(t, mustPartner(t, tree, id).StarterKit)
}

func TestPrivileges_ExpireIndependently(t *testing.T) {
	// GIVEN: A partner who bought the START kit
	tree, clock := newTestTree(t, 10000)
	id := mustAdd(t, tree, 100, tree.RootID())
	require.NoError(t, tree.PurchaseStarterKit(id, "START"))

	// WHEN: 31 days pass
	clock.AdvanceDays(31)

	// THEN: Quick start lapsed, training and the discount did not
	has, err := tree.HasPrivilege(id, plan.PrivilegeQuickStart)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = tree.HasPrivilege(id, plan.PrivilegeBasicTraining)
	require.NoError(t, err)
	assert.True(t, has)

	// AND: After a year only the permanent discount is left
	clock.AdvanceDays(365)
	discount, err := tree.Discount(id)
	require.NoError(t, err)
	assert.True(t, discount.Equal(decs("0.20")))
	assert.Equal(t, []plan.Privilege{plan.PrivilegePersonalDiscount},
		mustPartner(t, tree, id).ActivePrivileges(clock.Now()))
}

// =============================================================================
// STRUCTURE
// =============================================================================

func TestLevelAndDepth(t *testing.T) {
	tree, _ := newTestTree(t, 10000)
	a := mustAdd(t, tree, 100, tree.RootID())
	b := mustAdd(t, tree, 100, a)
	c := mustAdd(t, tree, 100, b)
	mustAdd(t, tree, 100, tree.RootID())

	level, err := tree.Level(c)
	require.NoError(t, err)
	assert.Equal(t, 3, level)

	depth, err := tree.Depth(tree.RootID())
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	depth, err = tree.Depth(c)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAggregation_DetectsBrokenLinks(t *testing.T) {
	// GIVEN: A tree whose child no longer points back at its upline
	tree, _ := newTestTree(t, 10000)
	a := mustAdd(t, tree, 100, tree.RootID())
	tree.partners[a].Upline = PartnerID(99)

	// WHEN/THEN: Every aggregation entry point reports the inconsistency
	_, err := tree.GroupVolume(tree.RootID())
	assert.ErrorIs(t, err, ErrInconsistentState)

	_, err = tree.ActivePartners(tree.RootID())
	assert.ErrorIs(t, err, ErrInconsistentState)

	_, err = tree.SideVolume(tree.RootID())
	assert.ErrorIs(t, err, ErrInconsistentState)

	assert.ErrorIs(t, tree.UpdateQualifications(), ErrInconsistentState)
}

func TestAggregation_DetectsMissingChild(t *testing.T) {
	tree, _ := newTestTree(t, 10000)
	root := tree.partners[tree.RootID()]
	root.Downline = append(root.Downline, PartnerID(55))

	_, err := tree.GroupVolume(tree.RootID())
	assert.ErrorIs(t, err, ErrInconsistentState)
}

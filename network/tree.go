package network

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// TREE - Sole owner of every partner in one simulation
// =============================================================================

// Tree is not safe for concurrent use. One session owns one Tree.
type Tree struct {
	cfg      plan.Config
	budget   decimal.Decimal
	partners map[PartnerID]*Partner
	rootID   PartnerID
	nextID   PartnerID
	history  []Snapshot
	clock    Clock
	logger   *slog.Logger
	income   *IncomeCalculator
}

type Option func(*treeOptions)

type treeOptions struct {
	clock      Clock
	logger     *slog.Logger
	rootVolume *decimal.Decimal
	region     string
}

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(o *treeOptions) { o.clock = c }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *treeOptions) { o.logger = l }
}

// WithRootVolume overrides the plan's root personal volume.
func WithRootVolume(v decimal.Decimal) Option {
	return func(o *treeOptions) { o.rootVolume = &v }
}

// WithRegion places the root in region instead of the plan default.
func WithRegion(code string) Option {
	return func(o *treeOptions) { o.region = code }
}

// NewTree creates a tree with a single root partner. The root's region
// must exist in cfg.
func NewTree(cfg plan.Config, budget decimal.Decimal, opts ...Option) (*Tree, error) {
	o := treeOptions{clock: SystemClock{}, logger: slog.Default(), region: cfg.DefaultRegion}
	for _, opt := range opts {
		opt(&o)
	}
	if _, ok := cfg.Region(o.region); !ok {
		return nil, &NotFoundError{Kind: "region", ID: o.region}
	}
	rootVolume := cfg.RootVolume
	if o.rootVolume != nil {
		rootVolume = *o.rootVolume
	}
	if rootVolume.IsNegative() {
		return nil, &AllocationError{Requested: rootVolume, Reason: "root volume must not be negative"}
	}

	t := &Tree{
		cfg:      cfg,
		budget:   budget,
		partners: make(map[PartnerID]*Partner),
		rootID:   0,
		nextID:   1,
		clock:    o.clock,
		logger:   o.logger,
	}
	t.income = NewIncomeCalculator(&t.cfg)
	t.partners[t.rootID] = newPartner(t.rootID, NoPartner, o.region, rootVolume, cfg.LowestTier(), cfg.Windows, t.clock.Now())
	return t, nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Config returns the plan. Callers must not modify it.
func (t *Tree) Config() *plan.Config { return &t.cfg }

func (t *Tree) Budget() decimal.Decimal { return t.budget }
func (t *Tree) RootID() PartnerID       { return t.rootID }
func (t *Tree) Len() int                { return len(t.partners) }
func (t *Tree) Clock() Clock            { return t.clock }
func (t *Tree) Logger() *slog.Logger    { return t.logger }

// Partner returns a copy of the partner's current state.
func (t *Tree) Partner(id PartnerID) (Partner, error) {
	p, ok := t.partners[id]
	if !ok {
		return Partner{}, partnerNotFound(id)
	}
	return p.Clone(), nil
}

// IDs returns every partner id in ascending order.
func (t *Tree) IDs() []PartnerID {
	ids := make([]PartnerID, 0, len(t.partners))
	for id := range t.partners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Partners returns copies of every partner, ordered by id.
func (t *Tree) Partners() []Partner {
	ids := t.IDs()
	out := make([]Partner, len(ids))
	for i, id := range ids {
		out[i] = t.partners[id].Clone()
	}
	return out
}

// Downline returns the direct children of id.
func (t *Tree) Downline(id PartnerID) ([]PartnerID, error) {
	p, ok := t.partners[id]
	if !ok {
		return nil, partnerNotFound(id)
	}
	return append([]PartnerID(nil), p.Downline...), nil
}

// TotalVolume sums personal volume over every partner.
func (t *Tree) TotalVolume() decimal.Decimal {
	total := decimal.Zero
	for _, p := range t.partners {
		total = total.Add(p.Volume)
	}
	return total
}

// RemainingVolume is the budget not yet placed in the tree.
func (t *Tree) RemainingVolume() decimal.Decimal {
	return t.budget.Sub(t.TotalVolume())
}

// Region returns the region settings of the partner.
func (t *Tree) Region(id PartnerID) (plan.Region, error) {
	p, ok := t.partners[id]
	if !ok {
		return plan.Region{}, partnerNotFound(id)
	}
	return t.region(p), nil
}

func (t *Tree) region(p *Partner) plan.Region {
	r, _ := t.cfg.Region(p.Region)
	return r
}

// =============================================================================
// MUTATION
// =============================================================================

// AddPartner attaches a new partner under upline in the upline's region.
func (t *Tree) AddPartner(volume decimal.Decimal, upline PartnerID) (PartnerID, error) {
	up, ok := t.partners[upline]
	if !ok {
		return NoPartner, partnerNotFound(upline)
	}
	return t.AddPartnerInRegion(volume, upline, up.Region)
}

// AddPartnerInRegion attaches a new partner under upline in region.
func (t *Tree) AddPartnerInRegion(volume decimal.Decimal, upline PartnerID, region string) (PartnerID, error) {
	up, ok := t.partners[upline]
	if !ok {
		return NoPartner, partnerNotFound(upline)
	}
	if !volume.IsPositive() {
		return NoPartner, &AllocationError{Requested: volume, Reason: "partner volume must be positive"}
	}
	if _, ok := t.cfg.Region(region); !ok {
		return NoPartner, &NotFoundError{Kind: "region", ID: region}
	}

	id := t.nextID
	t.nextID++
	t.partners[id] = newPartner(id, upline, region, volume, t.cfg.LowestTier(), t.cfg.Windows, t.clock.Now())
	up.Downline = append(up.Downline, id)

	t.logger.Debug("partner added",
		slog.String("partner", id.String()),
		slog.String("upline", upline.String()),
		slog.String("volume", volume.String()),
		slog.String("region", region))
	return id, nil
}

// SetPersonalVolume replaces the partner's personal volume.
func (t *Tree) SetPersonalVolume(id PartnerID, volume decimal.Decimal) error {
	p, ok := t.partners[id]
	if !ok {
		return partnerNotFound(id)
	}
	if volume.IsNegative() {
		return &AllocationError{Requested: volume, Reason: "personal volume must not be negative"}
	}
	p.setVolume(volume, ReasonSet, t.clock.Now())
	return nil
}

// AddPersonalVolume adds delta (which may be negative) to personal volume.
func (t *Tree) AddPersonalVolume(id PartnerID, delta decimal.Decimal) error {
	p, ok := t.partners[id]
	if !ok {
		return partnerNotFound(id)
	}
	next := p.Volume.Add(delta)
	if next.IsNegative() {
		return &AllocationError{Requested: delta, Available: p.Volume, Reason: "personal volume would become negative"}
	}
	p.setVolume(next, ReasonAdd, t.clock.Now())
	return nil
}

// Allocate moves amount of the remaining budget onto a partner. It refuses
// amounts that would overshoot the budget.
func (t *Tree) Allocate(id PartnerID, amount decimal.Decimal) error {
	p, ok := t.partners[id]
	if !ok {
		return partnerNotFound(id)
	}
	if !amount.IsPositive() {
		return &AllocationError{Requested: amount, Reason: "allocation must be positive"}
	}
	remaining := t.RemainingVolume()
	if amount.GreaterThan(remaining) {
		return &AllocationError{Requested: amount, Available: remaining, Reason: "exceeds remaining budget"}
	}
	p.setVolume(p.Volume.Add(amount), ReasonDistributed, t.clock.Now())
	return nil
}

// PurchaseStarterKit buys kitID for the partner: adds the kit volume and
// grants the kit's privileges. A partner can own one kit; a second purchase
// fails without changing anything.
func (t *Tree) PurchaseStarterKit(id PartnerID, kitID string) error {
	p, ok := t.partners[id]
	if !ok {
		return partnerNotFound(id)
	}
	kit, ok := t.cfg.Kit(kitID)
	if !ok {
		return &NotFoundError{Kind: "kit", ID: kitID}
	}
	if p.StarterKit != "" {
		return fmt.Errorf("partner %s owns %s: %w", id, p.StarterKit, ErrKitAlreadyPurchased)
	}

	now := t.clock.Now()
	p.StarterKit = kit.ID
	p.KitPurchasedAt = now
	p.setVolume(p.Volume.Add(kit.Volume), ReasonStarterKit, now)
	for _, priv := range kit.Privileges {
		terms := t.cfg.Privileges[priv]
		var expiry time.Time
		if terms.DurationDays > 0 {
			expiry = now.AddDate(0, 0, terms.DurationDays)
		}
		p.Privileges[priv] = expiry
	}

	t.logger.Info("starter kit purchased",
		slog.String("partner", id.String()),
		slog.String("kit", kit.ID))
	return nil
}

// HasPrivilege reports whether the partner currently holds priv.
func (t *Tree) HasPrivilege(id PartnerID, priv plan.Privilege) (bool, error) {
	p, ok := t.partners[id]
	if !ok {
		return false, partnerNotFound(id)
	}
	return p.HasPrivilege(priv, t.clock.Now()), nil
}

// Discount returns the partner's current personal purchase discount.
func (t *Tree) Discount(id PartnerID) (decimal.Decimal, error) {
	p, ok := t.partners[id]
	if !ok {
		return decimal.Zero, partnerNotFound(id)
	}
	if !p.HasPrivilege(plan.PrivilegePersonalDiscount, t.clock.Now()) {
		return decimal.Zero, nil
	}
	return t.cfg.Privileges[plan.PrivilegePersonalDiscount].Discount, nil
}

// EventDiscount returns the partner's discount on events of club. Only
// members get one.
func (t *Tree) EventDiscount(id PartnerID, club plan.ClubID) (decimal.Decimal, error) {
	p, ok := t.partners[id]
	if !ok {
		return decimal.Zero, partnerNotFound(id)
	}
	c, ok := t.cfg.Club(club)
	if !ok {
		return decimal.Zero, &NotFoundError{Kind: "club", ID: string(club)}
	}
	if _, member := p.Clubs[club]; !member {
		return decimal.Zero, nil
	}
	return c.EventDiscount, nil
}

// AttendEvent records the partner attending a club event and returns the
// price paid after the club discount. Only members may attend.
func (t *Tree) AttendEvent(id PartnerID, club plan.ClubID, event string) (decimal.Decimal, error) {
	p, ok := t.partners[id]
	if !ok {
		return decimal.Zero, partnerNotFound(id)
	}
	c, ok := t.cfg.Club(club)
	if !ok {
		return decimal.Zero, &NotFoundError{Kind: "club", ID: string(club)}
	}
	e, ok := c.Event(event)
	if !ok {
		return decimal.Zero, &NotFoundError{Kind: "event", ID: event}
	}
	if _, member := p.Clubs[club]; !member {
		return decimal.Zero, fmt.Errorf("partner %s is not a %s club member: %w", id, club, ErrInvalidTransition)
	}

	paid := e.Cost.Mul(decimal.NewFromInt(1).Sub(c.EventDiscount))
	p.EventHistory.Append(EventAttendance{At: t.clock.Now(), Club: club, Event: event, Paid: paid})
	return paid, nil
}

// =============================================================================
// LEADERSHIP PROGRAM
// =============================================================================

// AddLeadershipMentee enrolls mentee under the partner's leadership
// program. The partner must currently qualify for a club that pays a
// mentoring bonus.
func (t *Tree) AddLeadershipMentee(id, mentee PartnerID) error {
	p, ok := t.partners[id]
	if !ok {
		return partnerNotFound(id)
	}
	if _, ok := t.partners[mentee]; !ok {
		return partnerNotFound(mentee)
	}
	if id == mentee {
		return fmt.Errorf("partner %s cannot mentor itself: %w", id, ErrInvalidTransition)
	}
	if !t.runsLeadershipProgram(p) {
		return fmt.Errorf("partner %s has no leadership program: %w", id, ErrInvalidTransition)
	}
	if _, enrolled := p.Mentees[mentee]; enrolled {
		return nil
	}
	p.Mentees[mentee] = t.clock.Now()

	t.logger.Info("leadership mentee added",
		slog.String("partner", id.String()),
		slog.String("mentee", mentee.String()))
	return nil
}

// RemoveLeadershipMentee drops mentee from the partner's program. Removing
// someone who is not enrolled is a no-op.
func (t *Tree) RemoveLeadershipMentee(id, mentee PartnerID) error {
	p, ok := t.partners[id]
	if !ok {
		return partnerNotFound(id)
	}
	delete(p.Mentees, mentee)
	return nil
}

func (t *Tree) runsLeadershipProgram(p *Partner) bool {
	for _, club := range t.income.QualifiedClubs(p) {
		if club.MentoringBonus.IsPositive() {
			return true
		}
	}
	return false
}

// =============================================================================
// STRUCTURE QUERIES
// =============================================================================

// Level returns the distance from the root; the root is level 0.
func (t *Tree) Level(id PartnerID) (int, error) {
	p, ok := t.partners[id]
	if !ok {
		return 0, partnerNotFound(id)
	}
	level := 0
	for !p.IsRoot() {
		up, ok := t.partners[p.Upline]
		if !ok {
			return 0, &InconsistencyError{Partner: p.ID, Detail: "upline " + p.Upline.String() + " missing"}
		}
		level++
		if level > len(t.partners) {
			return 0, &InconsistencyError{Partner: id, Detail: "upline chain does not reach the root"}
		}
		p = up
	}
	return level, nil
}

// Depth returns the number of levels below id; a leaf has depth 0.
func (t *Tree) Depth(id PartnerID) (int, error) {
	if _, ok := t.partners[id]; !ok {
		return 0, partnerNotFound(id)
	}
	type frame struct {
		id    PartnerID
		depth int
	}
	deepest := 0
	stack := []frame{{id: id}}
	visited := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++
		if visited > len(t.partners) {
			return 0, &InconsistencyError{Partner: id, Detail: "cycle below partner"}
		}
		if f.depth > deepest {
			deepest = f.depth
		}
		children, err := t.children(f.id)
		if err != nil {
			return 0, err
		}
		for _, c := range children {
			stack = append(stack, frame{id: c.ID, depth: f.depth + 1})
		}
	}
	return deepest, nil
}

// children resolves the downline of id and checks that every child points
// back at id.
func (t *Tree) children(id PartnerID) ([]*Partner, error) {
	p := t.partners[id]
	out := make([]*Partner, 0, len(p.Downline))
	for _, cid := range p.Downline {
		c, ok := t.partners[cid]
		if !ok {
			return nil, &InconsistencyError{Partner: id, Detail: "downline " + cid.String() + " missing"}
		}
		if c.Upline != id {
			return nil, &InconsistencyError{Partner: cid, Detail: fmt.Sprintf("listed under %s but upline is %s", id, c.Upline)}
		}
		out = append(out, c)
	}
	return out, nil
}

/*
handlers.go - HTTP API handlers for the simulation dashboard

PURPOSE:
  Exposes the compensation engine via REST API. Each session owns one tree
  driven by a manual clock; handlers lock the session, call the engine and
  serialize the result.

ENDPOINTS:
  Sessions:
    GET    /api/sessions                          List live sessions
    POST   /api/sessions                          Start a simulation
    GET    /api/sessions/{id}                     Session details
    DELETE /api/sessions/{id}                     Drop a session
    GET    /api/sessions/{id}/metrics             Metrics and level analysis
    GET    /api/sessions/{id}/history             Snapshot history

  Partners:
    POST   /api/sessions/{id}/partners            Attach a partner
    GET    /api/sessions/{id}/partners/{pid}      Partner details
    POST   /api/sessions/{id}/partners/{pid}/kit  Purchase a starter kit
    PUT    /api/sessions/{id}/partners/{pid}/volume Set personal volume
    POST   /api/sessions/{id}/partners/{pid}/mentees Enroll a leadership mentee
    DELETE /api/sessions/{id}/partners/{pid}/mentees/{mid} Drop a mentee
    POST   /api/sessions/{id}/partners/{pid}/events Attend a club event

  Simulation:
    POST   /api/sessions/{id}/evaluate            Advance clock, run a pass
    POST   /api/sessions/{id}/optimize            Run the structure builder
    GET    /api/sessions/{id}/audit               Vulnerability audit
    POST   /api/sessions/{id}/archive             Archive the history

  Runs:
    GET    /api/runs                              Archived runs, newest first
    GET    /api/runs/{id}                         One archived run

  Scenarios:
    GET    /api/scenarios?total_volume=N          Scored distributions
    GET    /api/presets                           Demo networks

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid allocations
  - 404: Unknown session, partner, run or configuration code
  - 409: Conflict (second starter kit, run archived twice)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Sessions are only as private as their ids.

SEE ALSO:
  - dto.go: Request/response data structures
  - sessions.go: Session registry
  - scenarios.go: Scenario analysis and demo presets
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/compplan/archive"
	"github.com/warp/compplan/audit"
	"github.com/warp/compplan/metrics"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/optimizer"
	"github.com/warp/compplan/plan"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Plan     plan.Config
	Sessions *SessionStore
	Runs     archive.Store
	Metrics  *metrics.Metrics

	logger  *slog.Logger
	auditor *audit.Auditor
	builder *optimizer.Builder
	now     func() time.Time
}

type HandlerOption func(*Handler)

func WithLogger(l *slog.Logger) HandlerOption { return func(h *Handler) { h.logger = l } }

func WithMetrics(m *metrics.Metrics) HandlerOption { return func(h *Handler) { h.Metrics = m } }

// WithNow replaces the wall clock used for session start dates and idle
// tracking.
func WithNow(now func() time.Time) HandlerOption { return func(h *Handler) { h.now = now } }

// NewHandler creates a handler for cfg that archives into runs.
func NewHandler(cfg plan.Config, runs archive.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		Plan:     cfg,
		Sessions: NewSessionStore(),
		Runs:     runs,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	h.auditor = audit.NewAuditor(h.logger)
	h.builder = optimizer.NewBuilder(h.logger)
	return h
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// CreateSession starts a simulation with a fresh tree.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.Budget.IsPositive() {
		writeError(w, http.StatusBadRequest, "budget must be positive", nil)
		return
	}

	start := h.now()
	if req.Start != "" {
		t, err := time.Parse("2006-01-02", req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start format (use YYYY-MM-DD)", err)
			return
		}
		start = t
	}

	var load presetLoader
	if req.Preset != "" {
		p, ok := findPreset(req.Preset)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown preset %q", req.Preset), nil)
			return
		}
		load = p.load
	}

	clock := network.NewManualClock(start)
	opts := []network.Option{network.WithClock(clock), network.WithLogger(h.logger)}
	if req.Region != "" {
		opts = append(opts, network.WithRegion(req.Region))
	}
	if req.RootVolume != nil {
		opts = append(opts, network.WithRootVolume(*req.RootVolume))
	}
	tree, err := network.NewTree(h.Plan, req.Budget, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create tree", err)
		return
	}
	if load != nil {
		if err := load(tree, clock); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load preset", err)
			return
		}
	}

	s := h.Sessions.Add(req.Label, req.Preset, tree, clock, h.now())
	h.Metrics.SetSessions(h.Sessions.Len())
	h.logger.Info("session created",
		slog.String("session", s.ID),
		slog.String("budget", req.Budget.String()),
		slog.String("preset", req.Preset))

	var dto SessionDTO
	s.with(h.now(), func(tree *network.Tree, clock *network.ManualClock) error {
		dto = sessionDTO(s, tree, clock)
		return nil
	})
	writeJSON(w, http.StatusCreated, dto)
}

// ListSessions returns all live sessions, oldest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list := h.Sessions.List()
	dtos := make([]SessionDTO, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		dtos = append(dtos, sessionDTO(s, s.tree, s.clock))
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSession returns a single session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *Session, tree *network.Tree, clock *network.ManualClock) {
		writeJSON(w, http.StatusOK, sessionDTO(s, tree, clock))
	})
}

// DeleteSession drops a session without archiving it.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.Sessions.Remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return
	}
	h.Metrics.SetSessions(h.Sessions.Len())
	w.WriteHeader(http.StatusNoContent)
}

// GetMetrics returns the current metrics with the per-level breakdown.
func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		m, err := tree.Metrics()
		if err != nil {
			writeDomainError(w, "Failed to compute metrics", err)
			return
		}
		levels, err := optimizer.AnalyzeLevels(tree)
		if err != nil {
			writeDomainError(w, "Failed to analyze levels", err)
			return
		}
		payout, err := optimizer.TotalPayout(tree)
		if err != nil {
			writeDomainError(w, "Failed to compute payout", err)
			return
		}
		writeJSON(w, http.StatusOK, MetricsResponse{
			Metrics:   m,
			Remaining: tree.RemainingVolume(),
			Levels:    levels,
			Payout:    payout,
		})
	})
}

// GetHistory returns the snapshot history without partner listings.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		history := tree.History()
		dtos := make([]SnapshotDTO, len(history))
		for i, s := range history {
			dtos[i] = SnapshotDTO{Stage: s.Stage, TakenAt: s.TakenAt, Metrics: s.Metrics, Extra: s.Extra}
		}
		writeJSON(w, http.StatusOK, dtos)
	})
}

// =============================================================================
// PARTNER HANDLERS
// =============================================================================

// AddPartner attaches a partner under an existing upline.
func (h *Handler) AddPartner(w http.ResponseWriter, r *http.Request) {
	var req AddPartnerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		var (
			id  network.PartnerID
			err error
		)
		if req.Region == "" {
			id, err = tree.AddPartner(req.Volume, req.Upline)
		} else {
			id, err = tree.AddPartnerInRegion(req.Volume, req.Upline, req.Region)
		}
		if err != nil {
			writeDomainError(w, "Failed to add partner", err)
			return
		}
		h.writePartner(w, http.StatusCreated, tree, id)
	})
}

// GetPartner returns one partner with standing and income.
func (h *Handler) GetPartner(w http.ResponseWriter, r *http.Request) {
	pid, ok := partnerParam(w, r)
	if !ok {
		return
	}
	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		h.writePartner(w, http.StatusOK, tree, pid)
	})
}

// PurchaseKit buys a starter kit for a partner.
func (h *Handler) PurchaseKit(w http.ResponseWriter, r *http.Request) {
	pid, ok := partnerParam(w, r)
	if !ok {
		return
	}
	var req PurchaseKitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Kit == "" {
		writeError(w, http.StatusBadRequest, "kit is required", nil)
		return
	}

	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		if err := tree.PurchaseStarterKit(pid, req.Kit); err != nil {
			writeDomainError(w, "Failed to purchase kit", err)
			return
		}
		h.writePartner(w, http.StatusOK, tree, pid)
	})
}

// SetVolume replaces a partner's personal volume.
func (h *Handler) SetVolume(w http.ResponseWriter, r *http.Request) {
	pid, ok := partnerParam(w, r)
	if !ok {
		return
	}
	var req SetVolumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		if err := tree.SetPersonalVolume(pid, req.Volume); err != nil {
			writeDomainError(w, "Failed to set volume", err)
			return
		}
		h.writePartner(w, http.StatusOK, tree, pid)
	})
}

// AddMentee enrolls a mentee in the partner's leadership program.
func (h *Handler) AddMentee(w http.ResponseWriter, r *http.Request) {
	pid, ok := partnerParam(w, r)
	if !ok {
		return
	}
	var req AddMenteeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		if err := tree.AddLeadershipMentee(pid, req.Mentee); err != nil {
			writeDomainError(w, "Failed to add mentee", err)
			return
		}
		h.writePartner(w, http.StatusOK, tree, pid)
	})
}

// RemoveMentee drops a mentee from the partner's leadership program.
func (h *Handler) RemoveMentee(w http.ResponseWriter, r *http.Request) {
	pid, ok := partnerParam(w, r)
	if !ok {
		return
	}
	raw := chi.URLParam(r, "mid")
	mid, err := strconv.Atoi(raw)
	if err != nil || mid < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid mentee id %q", raw), err)
		return
	}

	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		if err := tree.RemoveLeadershipMentee(pid, network.PartnerID(mid)); err != nil {
			writeDomainError(w, "Failed to remove mentee", err)
			return
		}
		h.writePartner(w, http.StatusOK, tree, pid)
	})
}

// AttendEvent books a club event for a member.
func (h *Handler) AttendEvent(w http.ResponseWriter, r *http.Request) {
	pid, ok := partnerParam(w, r)
	if !ok {
		return
	}
	var req AttendEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Club == "" || req.Event == "" {
		writeError(w, http.StatusBadRequest, "club and event are required", nil)
		return
	}

	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		paid, err := tree.AttendEvent(pid, req.Club, req.Event)
		if err != nil {
			writeDomainError(w, "Failed to attend event", err)
			return
		}
		writeJSON(w, http.StatusOK, AttendEventResponse{Club: req.Club, Event: req.Event, Paid: paid})
	})
}

func (h *Handler) writePartner(w http.ResponseWriter, status int, tree *network.Tree, id network.PartnerID) {
	dto, err := partnerDTO(tree, id)
	if err != nil {
		writeDomainError(w, "Failed to load partner", err)
		return
	}
	writeJSON(w, status, dto)
}

// =============================================================================
// SIMULATION HANDLERS
// =============================================================================

// Evaluate advances the session clock and runs one evaluation pass.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AdvanceMonths < 0 {
		writeError(w, http.StatusBadRequest, "advance_months must not be negative", nil)
		return
	}

	h.withSession(w, r, func(s *Session, tree *network.Tree, clock *network.ManualClock) {
		before := make(map[network.PartnerID]plan.Tier, tree.Len())
		for _, p := range tree.Partners() {
			before[p.ID] = p.Tier
		}

		clock.AdvanceMonths(req.AdvanceMonths)
		if err := tree.UpdateQualifications(); err != nil {
			writeDomainError(w, "Evaluation failed", err)
			return
		}
		if req.Snapshot != "" {
			if _, err := tree.CreateSnapshot(req.Snapshot, map[string]any{"advance_months": req.AdvanceMonths}); err != nil {
				writeDomainError(w, "Snapshot failed", err)
				return
			}
		}
		m, err := tree.Metrics()
		if err != nil {
			writeDomainError(w, "Failed to compute metrics", err)
			return
		}

		now := clock.Now()
		changes := []network.TierChange{}
		for _, p := range tree.Partners() {
			if from, ok := before[p.ID]; ok && from != p.Tier {
				changes = append(changes, network.TierChange{Partner: p.ID, From: from, To: p.Tier, At: now})
			}
		}
		h.logger.Info("session evaluated",
			slog.String("session", s.ID),
			slog.Time("now", now),
			slog.Int("changes", len(changes)))
		writeJSON(w, http.StatusOK, EvaluateResponse{Now: now, Metrics: m, Changes: changes})
	})
}

// Optimize runs the structure builder toward a target tier.
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := h.Plan.Tier(req.Target); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown target tier %q", req.Target), nil)
		return
	}
	strategy, err := optimizer.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid strategy", err)
		return
	}

	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		res, err := h.builder.Build(r.Context(), tree, optimizer.Options{
			Target:      req.Target,
			Strategy:    strategy,
			MinPartners: req.MinPartners,
			MaxPartners: req.MaxPartners,
		})
		if err != nil {
			writeDomainError(w, "Optimization failed", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

// Audit runs the vulnerability audit on the current tree.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(_ *Session, tree *network.Tree, _ *network.ManualClock) {
		report, err := h.auditor.Audit(tree)
		if err != nil {
			writeDomainError(w, "Audit failed", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})
}

// ArchiveSession freezes the session history into a run. A session without
// snapshots gets a "final" one first.
func (h *Handler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var run archive.Run
	ok := h.withSession(w, r, func(s *Session, tree *network.Tree, _ *network.ManualClock) {
		if len(tree.History()) == 0 {
			if _, err := tree.CreateSnapshot("final", nil); err != nil {
				writeDomainError(w, "Snapshot failed", err)
				return
			}
		}
		label := req.Label
		if label == "" {
			label = s.Label
		}
		var err error
		run, err = archive.FromTree(tree, label)
		if err != nil {
			writeDomainError(w, "Failed to archive", err)
		}
	})
	if !ok || run.ID == "" {
		return
	}

	if err := h.Runs.Save(r.Context(), run); err != nil {
		writeDomainError(w, "Failed to save run", err)
		return
	}
	h.Metrics.IncrementRunsArchived()
	h.logger.Info("run archived",
		slog.String("run", run.ID),
		slog.Int("stages", len(run.Stages)))
	writeJSON(w, http.StatusCreated, run.Summary())
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ListRuns returns archived runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	list, err := h.Runs.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetRun returns one archived run with all stages.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// =============================================================================
// HELPERS
// =============================================================================

// withSession looks up the session named in the URL and runs fn under its
// lock. It writes 404 and returns false for unknown ids.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(s *Session, tree *network.Tree, clock *network.ManualClock)) bool {
	s, ok := h.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found", nil)
		return false
	}
	s.with(h.now(), func(tree *network.Tree, clock *network.ManualClock) error {
		fn(s, tree, clock)
		return nil
	})
	return true
}

func partnerParam(w http.ResponseWriter, r *http.Request) (network.PartnerID, bool) {
	raw := chi.URLParam(r, "pid")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid partner id %q", raw), err)
		return network.NoPartner, false
	}
	return network.PartnerID(n), true
}

func sessionDTO(s *Session, tree *network.Tree, clock *network.ManualClock) SessionDTO {
	region, _ := tree.Region(tree.RootID())
	return SessionDTO{
		ID:        s.ID,
		Label:     s.Label,
		Region:    region.Code,
		Budget:    tree.Budget(),
		Preset:    s.Preset,
		Partners:  tree.Len(),
		Now:       clock.Now(),
		CreatedAt: s.CreatedAt,
	}
}

func partnerDTO(tree *network.Tree, id network.PartnerID) (PartnerDTO, error) {
	p, err := tree.Partner(id)
	if err != nil {
		return PartnerDTO{}, err
	}
	st, err := tree.Standing(id)
	if err != nil {
		return PartnerDTO{}, err
	}
	income, err := tree.Income(id)
	if err != nil {
		return PartnerDTO{}, err
	}
	privileges := p.ActivePrivileges(tree.Clock().Now())
	if privileges == nil {
		privileges = []plan.Privilege{}
	}
	downline := p.Downline
	if downline == nil {
		downline = []network.PartnerID{}
	}
	return PartnerDTO{
		ID:             p.ID,
		Upline:         p.Upline,
		Downline:       downline,
		Region:         p.Region,
		Volume:         p.Volume,
		GroupVolume:    st.GroupVolume,
		SideVolume:     st.SideVolume,
		ActivePartners: st.ActivePartners,
		Tier:           p.Tier,
		Compression:    p.Compression.State,
		StarterKit:     p.StarterKit,
		Privileges:     privileges,
		Clubs:          p.JoinedClubs(),
		Mentees:        p.MenteeIDs(),
		Income:         income,
	}, nil
}

// decodeJSON decodes the body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine and archive errors to a status code.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusOf(err), message, err)
}

func statusOf(err error) int {
	switch {
	case network.IsNotFound(err), errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, network.ErrKitAlreadyPurchased), errors.Is(err, archive.ErrDuplicateRun):
		return http.StatusConflict
	case network.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

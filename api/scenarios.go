/*
scenarios.go - Scenario analysis and demo presets

PURPOSE:
  Two read-mostly features for the dashboard:
  - Scenario analysis: given a total volume, build and score the canonical
    distributions (all personal, even split, targeted structures).
  - Presets: ready-made networks that a new session can start from, each
    demonstrating one behavior of the plan.

AVAILABLE PRESETS:
  m3-round-trip:  Four legs of 800, 800, 700, 700 under the root (M3)
  compression:    One leg below the compression threshold, then a month
  deep-chain:     A chain of eight partners with 100 each
  quick-start:    A BUSINESS kit buyer whose volume swings after purchase

USAGE VIA API:
  GET  /api/scenarios?total_volume=10000
  GET  /api/presets
  POST /api/sessions {"budget": 10000, "preset": "m3-round-trip"}

ADDING NEW PRESETS:
 1. Add to 'presets' with ID, name, description and loader
 2. Loaders build on the empty tree and may move the session clock

SEE ALSO:
  - handlers.go: CreateSession applies presets
  - scenario/scenario.go: Analyzer
*/
package api

import (
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/scenario"
)

// =============================================================================
// SCENARIO ANALYSIS
// =============================================================================

// ListScenarios builds and scores the canonical distributions of
// total_volume, best first.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("total_volume")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "total_volume is required", nil)
		return
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total_volume", err)
		return
	}

	analyzer := scenario.NewAnalyzer(h.Plan,
		scenario.WithLogger(h.logger),
		scenario.WithClock(network.NewManualClock(h.now())),
		scenario.WithObserver(h.Metrics))
	list, err := analyzer.Generate(r.Context(), total)
	if err != nil {
		writeDomainError(w, "Scenario analysis failed", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// =============================================================================
// PRESET DEFINITIONS
// =============================================================================

type presetLoader func(tree *network.Tree, clock *network.ManualClock) error

type preset struct {
	PresetDTO
	load presetLoader
}

var presets = []preset{
	{
		PresetDTO: PresetDTO{
			ID:          "m3-round-trip",
			Name:        "M3 Round Trip",
			Description: "Four legs of 800, 800, 700 and 700 qualify the root for M3",
			Category:    "qualification",
		},
		load: loadM3RoundTrip,
	},
	{
		PresetDTO: PresetDTO{
			ID:          "compression",
			Name:        "Compression",
			Description: "A leg below the compression threshold is shielded, then a month passes",
			Category:    "compression",
		},
		load: loadCompression,
	},
	{
		PresetDTO: PresetDTO{
			ID:          "deep-chain",
			Name:        "Deep Chain",
			Description: "Eight partners in a single line with identical volume",
			Category:    "audit",
		},
		load: loadDeepChain,
	},
	{
		PresetDTO: PresetDTO{
			ID:          "quick-start",
			Name:        "Quick Start",
			Description: "A BUSINESS kit buyer whose personal volume jumps while quick start is open",
			Category:    "audit",
		},
		load: loadQuickStart,
	},
}

func findPreset(id string) (preset, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return preset{}, false
}

// ListPresets returns available presets.
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	dtos := make([]PresetDTO, len(presets))
	for i, p := range presets {
		dtos[i] = p.PresetDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PRESET LOADERS
// =============================================================================

func addLegs(tree *network.Tree, upline network.PartnerID, volumes ...int64) ([]network.PartnerID, error) {
	ids := make([]network.PartnerID, 0, len(volumes))
	for _, v := range volumes {
		id, err := tree.AddPartner(decimal.NewFromInt(v), upline)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func evaluateAndSnapshot(tree *network.Tree, stage string) error {
	if err := tree.UpdateQualifications(); err != nil {
		return err
	}
	_, err := tree.CreateSnapshot(stage, nil)
	return err
}

func loadM3RoundTrip(tree *network.Tree, _ *network.ManualClock) error {
	if _, err := addLegs(tree, tree.RootID(), 800, 800, 700, 700); err != nil {
		return err
	}
	return evaluateAndSnapshot(tree, "initial")
}

func loadCompression(tree *network.Tree, clock *network.ManualClock) error {
	if _, err := addLegs(tree, tree.RootID(), 300, 300, 30); err != nil {
		return err
	}
	if err := evaluateAndSnapshot(tree, "initial"); err != nil {
		return err
	}
	clock.AdvanceMonths(1)
	return evaluateAndSnapshot(tree, "month_1")
}

func loadDeepChain(tree *network.Tree, _ *network.ManualClock) error {
	upline := tree.RootID()
	for i := 0; i < 8; i++ {
		ids, err := addLegs(tree, upline, 100)
		if err != nil {
			return err
		}
		upline = ids[0]
	}
	return evaluateAndSnapshot(tree, "initial")
}

func loadQuickStart(tree *network.Tree, _ *network.ManualClock) error {
	ids, err := addLegs(tree, tree.RootID(), 100, 100)
	if err != nil {
		return err
	}
	if err := evaluateAndSnapshot(tree, "initial"); err != nil {
		return err
	}
	if err := tree.PurchaseStarterKit(ids[0], "BUSINESS"); err != nil {
		return err
	}
	if err := tree.SetPersonalVolume(ids[0], decimal.NewFromInt(400)); err != nil {
		return err
	}
	return evaluateAndSnapshot(tree, "after_kit")
}

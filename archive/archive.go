/*
archive.go - Append-only archive of finished simulation runs

PURPOSE:
  A run is the snapshot history of one tree, frozen when the caller is done
  with it. The archive keeps runs so the dashboard can compare them later.
  Partner listings are not archived; each stage keeps its metrics and the
  extra values recorded with it.

APPEND-ONLY CONTRACT:
  - Save(): writes a run with all its stages, all or nothing
  - NO Update() or Delete() methods exist
  Saving a run id twice returns ErrDuplicateRun.

IMPLEMENTATIONS:
  - archive/memory.go: In-memory for tests and ephemeral servers
  - store/sqlite/sqlite.go: SQLite

EXAMPLE:
  run, err := archive.FromTree(tree, "M3 baseline")
  err = store.Save(ctx, run)
  if errors.Is(err, archive.ErrDuplicateRun) {
      // already archived
  }
*/
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/compplan/network"
)

var (
	// ErrNotFound is returned by Get for unknown run ids.
	ErrNotFound = errors.New("run not found")

	// ErrDuplicateRun is returned when a run id is saved twice.
	ErrDuplicateRun = errors.New("run already archived")

	// ErrEmptyRun is returned when archiving a tree without snapshots.
	ErrEmptyRun = errors.New("run has no stages")
)

// Run is one archived simulation.
type Run struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Region     string          `json:"region"`
	Budget     decimal.Decimal `json:"budget"`
	ArchivedAt time.Time       `json:"archived_at"`
	Final      network.Metrics `json:"final"`
	Stages     []StageRecord   `json:"stages"`
}

// StageRecord is one snapshot of the run. Seq starts at 1.
type StageRecord struct {
	Seq     int             `json:"seq"`
	Stage   string          `json:"stage"`
	TakenAt time.Time       `json:"taken_at"`
	Metrics network.Metrics `json:"metrics"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

// Summary is the listing view of a run.
type Summary struct {
	ID          string          `json:"id"`
	Label       string          `json:"label"`
	Region      string          `json:"region"`
	Budget      decimal.Decimal `json:"budget"`
	ArchivedAt  time.Time       `json:"archived_at"`
	Stages      int             `json:"stages"`
	Partners    int             `json:"partners"`
	RootIncome  decimal.Decimal `json:"root_income"`
	TotalVolume decimal.Decimal `json:"total_volume"`
}

// Summary returns the listing view of r.
func (r Run) Summary() Summary {
	return Summary{
		ID:          r.ID,
		Label:       r.Label,
		Region:      r.Region,
		Budget:      r.Budget,
		ArchivedAt:  r.ArchivedAt,
		Stages:      len(r.Stages),
		Partners:    r.Final.TotalPartners,
		RootIncome:  r.Final.Income.Base.Total,
		TotalVolume: r.Final.TotalVolume,
	}
}

// Store persists runs.
type Store interface {
	Save(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	// List returns summaries, most recently archived first.
	List(ctx context.Context) ([]Summary, error)
}

// FromTree freezes the snapshot history of tree into a new run with a
// fresh id. Final holds the current metrics, which may be newer than the
// last stage.
func FromTree(tree *network.Tree, label string) (Run, error) {
	history := tree.History()
	if len(history) == 0 {
		return Run{}, ErrEmptyRun
	}
	final, err := tree.Metrics()
	if err != nil {
		return Run{}, err
	}
	region, err := tree.Region(tree.RootID())
	if err != nil {
		return Run{}, err
	}

	run := Run{
		ID:         uuid.NewString(),
		Label:      label,
		Region:     region.Code,
		Budget:     tree.Budget(),
		ArchivedAt: tree.Clock().Now(),
		Final:      final,
		Stages:     make([]StageRecord, 0, len(history)),
	}
	for i, s := range history {
		rec := StageRecord{Seq: i + 1, Stage: s.Stage, TakenAt: s.TakenAt, Metrics: s.Metrics}
		if len(s.Extra) > 0 {
			raw, err := json.Marshal(s.Extra)
			if err != nil {
				return Run{}, fmt.Errorf("stage %q extra: %w", s.Stage, err)
			}
			rec.Extra = raw
		}
		run.Stages = append(run.Stages, rec)
	}
	return run, nil
}

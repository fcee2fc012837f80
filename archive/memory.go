package archive

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	runs  map[string]Run
	order []string // ids sorted by ArchivedAt, oldest first
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]Run)}
}

// Save stores a copy of run. Append-only.
func (m *Memory) Save(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; ok {
		return ErrDuplicateRun
	}
	m.runs[run.ID] = cloneRun(run)

	i := sort.Search(len(m.order), func(i int) bool {
		return m.runs[m.order[i]].ArchivedAt.After(run.ArchivedAt)
	})
	m.order = append(m.order, "")
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = run.ID
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(run), nil
}

func (m *Memory) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.runs[m.order[i]].Summary())
	}
	return out, nil
}

func cloneRun(r Run) Run {
	c := r
	c.Stages = make([]StageRecord, len(r.Stages))
	for i, s := range r.Stages {
		s.Extra = append([]byte(nil), s.Extra...)
		c.Stages[i] = s
	}
	return c
}

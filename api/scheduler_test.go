package api

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/compplan/archive"
	"github.com/warp/compplan/network"
	"github.com/warp/compplan/plan"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newSessionTree(t *testing.T) (*network.Tree, *network.ManualClock) {
	t.Helper()
	clock := network.NewManualClock(testNow)
	tree, err := network.NewTree(plan.Default(), decimal.NewFromInt(1000),
		network.WithClock(clock),
		network.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return tree, clock
}

func TestSessionReaper_SweepExpiresIdleSessions(t *testing.T) {
	// GIVEN: Two sessions, one touched an hour after creation
	now := &fakeNow{t: testNow}
	h := NewHandler(plan.Default(), archive.NewMemory(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNow(now.Now))
	tree, clock := newSessionTree(t)
	idle := h.Sessions.Add("idle", "", tree, clock, now.Now())
	tree, clock = newSessionTree(t)
	busy := h.Sessions.Add("busy", "", tree, clock, now.Now())

	now.Advance(time.Hour)
	busy.with(now.Now(), func(*network.Tree, *network.ManualClock) error { return nil })

	// WHEN: Sweeping two and a half hours after creation
	now.Advance(90 * time.Minute)
	reaper := NewSessionReaper(h)
	expired := reaper.Sweep()

	// THEN: Only the idle session is gone
	assert.Equal(t, []string{idle.ID}, expired)
	_, ok := h.Sessions.Get(busy.ID)
	assert.True(t, ok)
	_, ok = h.Sessions.Get(idle.ID)
	assert.False(t, ok)
}

func TestSessionReaper_StartStop(t *testing.T) {
	h := NewHandler(plan.Default(), archive.NewMemory(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	reaper := NewSessionReaper(h)
	reaper.CheckInterval = time.Millisecond

	reaper.Start()
	time.Sleep(5 * time.Millisecond)
	reaper.Stop()
	// A second stop is a no-op
	reaper.Stop()
}

func TestSessionReaper_Disabled(t *testing.T) {
	h := NewHandler(plan.Default(), archive.NewMemory(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	reaper := NewSessionReaper(h)
	reaper.Enabled = false

	reaper.Start()
	reaper.Stop()
	assert.Nil(t, reaper.ticker)
}

func TestSessionStore_ListOldestFirst(t *testing.T) {
	st := NewSessionStore()
	tree, clock := newSessionTree(t)
	second := st.Add("b", "", tree, clock, testNow.Add(time.Minute))
	first := st.Add("a", "", tree, clock, testNow)

	list := st.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

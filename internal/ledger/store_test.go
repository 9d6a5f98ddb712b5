package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pdcad/internal/phase"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(DefaultConfig(t.TempDir()), nil)
	require.NoError(t, err)
	return store
}

func TestStore_GetMissingFileReturnsEmpty(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Features)
	assert.Equal(t, CurrentVersion, snap.Version)
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap, err := store.Get(ctx)
	require.NoError(t, err)

	_, err = snap.ApplyPhaseTransition("login", phase.Research, SourceManual, TransitionOptions{})
	require.NoError(t, err)
	_, err = snap.ApplyPhaseTransition("login", phase.Plan, SourceManual, TransitionOptions{})
	require.NoError(t, err)
	_, err = snap.ApplyDocument("login", phase.DocPlan, "docs/login/plan/plan.md")
	require.NoError(t, err)
	_, err = snap.ApplyMetrics("login", Metrics{MatchRate: intPtr(90)})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, snap))

	reloaded, err := store.Get(ctx)
	require.NoError(t, err)

	f := reloaded.Features["login"]
	require.NotNil(t, f)
	assert.Equal(t, phase.Plan, f.Phase)
	assert.Equal(t, phase.Rank(phase.Plan), f.Rank)
	assert.Equal(t, "docs/login/plan/plan.md", f.Documents[phase.DocPlan])
	require.NotNil(t, f.MatchRate)
	assert.Equal(t, 90, *f.MatchRate)
	assert.Equal(t, []string{"login"}, reloaded.Active)
	assert.Len(t, reloaded.History, 2)
}

func TestStore_UpgradesLegacyFormat(t *testing.T) {
	dir := t.TempDir()
	legacy := `{
  "version": 1,
  "features": {
    "login": {
      "currentPhase": "implement",
      "matchRate": 72,
      "iterationCount": 3,
      "docs": {"plan": "docs/login/plan/plan.md"}
    }
  },
  "activeFeatures": ["login"],
  "primaryFeature": "login",
  "session": {"producer": "hook-v1"}
}`
	path := filepath.Join(dir, "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0600))

	store, err := NewStore(&Config{Path: path}, nil)
	require.NoError(t, err)

	snap, err := store.Get(context.Background())
	require.NoError(t, err)

	f := snap.Features["login"]
	require.NotNil(t, f)
	assert.Equal(t, phase.Do, f.Phase)
	assert.Equal(t, phase.Rank(phase.Do), f.Rank)
	require.NotNil(t, f.MatchRate)
	assert.Equal(t, 72, *f.MatchRate)
	assert.Equal(t, 3, f.Iterations)
	assert.Equal(t, "docs/login/plan/plan.md", f.Documents[phase.DocPlan])
	assert.Equal(t, "login", snap.Primary)

	// Passthrough metadata survives verbatim.
	require.Contains(t, snap.Session, "producer")
	assert.Equal(t, json.RawMessage(`"hook-v1"`), snap.Session["producer"])
}

func TestNormalize_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap, err := store.Get(ctx)
	require.NoError(t, err)
	_, err = snap.ApplyPhaseTransition("login", phase.Research, SourceManual, TransitionOptions{})
	require.NoError(t, err)
	_, err = snap.ApplyDocument("login", phase.DocResearch, "docs/login/research/notes.md")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, snap))

	// Save -> load -> save -> load: normalizing twice equals normalizing once.
	once, err := store.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, once))
	twice, err := store.Get(ctx)
	require.NoError(t, err)

	onceJSON, err := json.Marshal(once)
	require.NoError(t, err)
	twiceJSON, err := json.Marshal(twice)
	require.NoError(t, err)
	assert.JSONEq(t, string(onceJSON), string(twiceJSON))
}

func TestStore_InvalidPrimaryDropped(t *testing.T) {
	dir := t.TempDir()
	raw := `{"version": 2, "features": {"login": {"phase": "plan"}}, "active_features": ["login"], "primary_feature": "ghost"}`
	path := filepath.Join(dir, "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	store, err := NewStore(&Config{Path: path}, nil)
	require.NoError(t, err)
	snap, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Primary)
}

func TestStore_SaveAppliesCaps(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(&Config{Path: filepath.Join(dir, "ledger.json"), HistoryLimit: 5, MaxFeatures: 2}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	snap := NewSnapshot()
	for _, n := range []string{"a", "b", "c"} {
		_, err := snap.ApplyPhaseTransition(n, phase.Research, SourceManual, TransitionOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, snap.ArchiveFeature("a", ""))
	for i := 0; i < 10; i++ {
		snap.appendHistory(HistoryEntry{Feature: "b", To: phase.Plan}, 0)
	}
	require.NoError(t, store.Save(ctx, snap))

	reloaded, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, reloaded.History, 5)
	assert.Len(t, reloaded.Features, 2)
	assert.NotContains(t, reloaded.Features, "a")
}

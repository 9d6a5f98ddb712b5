package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pdcad/internal/phase"
)

func intPtr(v int) *int { return &v }

func TestApplyPhaseTransition_LazyCreation(t *testing.T) {
	snap := NewSnapshot()

	name, err := snap.ApplyPhaseTransition("login", phase.Research, SourceManual, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "login", name)

	f := snap.Features["login"]
	require.NotNil(t, f)
	assert.Equal(t, phase.Research, f.Phase)
	assert.Equal(t, []string{"login"}, snap.Active)
}

func TestApplyPhaseTransition_ResolvesFromContext(t *testing.T) {
	snap := NewSnapshot()
	_, err := snap.ApplyPhaseTransition("login", phase.Research, SourceManual, TransitionOptions{})
	require.NoError(t, err)

	// Single active feature resolves without an explicit name.
	name, err := snap.ApplyPhaseTransition("", phase.Plan, SourceManual, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "login", name)

	// Two active features: nothing resolves without a primary.
	_, err = snap.ApplyPhaseTransition("billing", phase.Research, SourceManual, TransitionOptions{})
	require.NoError(t, err)
	_, err = snap.ApplyPhaseTransition("", phase.Design, SourceManual, TransitionOptions{})
	assert.ErrorIs(t, err, ErrNoFeature)

	// Primary breaks the tie.
	require.NoError(t, snap.SetPrimary("login"))
	name, err = snap.ApplyPhaseTransition("", phase.Design, SourceManual, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "login", name)
}

func TestApplyPhaseTransition_AutomatedRegressionRejected(t *testing.T) {
	snap := NewSnapshot()

	// research -> plan -> design -> do in order.
	for _, p := range []phase.Phase{phase.Research, phase.Plan, phase.Design, phase.Do} {
		_, err := snap.ApplyPhaseTransition("login", p, SourceAutomated, TransitionOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, phase.Do, snap.Features["login"].Phase)

	// An automated signal trying to pull the feature back to plan fails;
	// the rank stays at do.
	name, err := snap.ApplyPhaseTransition("login", phase.Plan, SourceAutomated, TransitionOptions{})
	assert.ErrorIs(t, err, ErrPhaseRegression)
	assert.Equal(t, "login", name)
	assert.Equal(t, phase.Do, snap.Features["login"].Phase)
	assert.Equal(t, phase.Rank(phase.Do), snap.Features["login"].Rank)
}

func TestApplyPhaseTransition_ManualMayRegress(t *testing.T) {
	snap := NewSnapshot()
	for _, p := range []phase.Phase{phase.Research, phase.Plan, phase.Design} {
		_, err := snap.ApplyPhaseTransition("login", p, SourceManual, TransitionOptions{})
		require.NoError(t, err)
	}

	_, err := snap.ApplyPhaseTransition("login", phase.Plan, SourceManual, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, phase.Plan, snap.Features["login"].Phase)
}

func TestApplyPhaseTransition_ManualSkipNeedsOverride(t *testing.T) {
	snap := NewSnapshot()
	_, err := snap.ApplyPhaseTransition("login", phase.Research, SourceManual, TransitionOptions{})
	require.NoError(t, err)

	_, err = snap.ApplyPhaseTransition("login", phase.Do, SourceManual, TransitionOptions{})
	assert.ErrorIs(t, err, ErrPhaseSkip)
	assert.Equal(t, phase.Research, snap.Features["login"].Phase)

	_, err = snap.ApplyPhaseTransition("login", phase.Do, SourceManual, TransitionOptions{Override: true})
	require.NoError(t, err)
	assert.Equal(t, phase.Do, snap.Features["login"].Phase)
}

func TestApplyPhaseTransition_RankNonDecreasingUnderAutomation(t *testing.T) {
	snap := NewSnapshot()
	proposals := []phase.Phase{
		phase.Research, phase.Plan, phase.Research, phase.Design,
		phase.Plan, phase.Do, phase.Research,
	}

	lastRank := -1
	for _, p := range proposals {
		_, _ = snap.ApplyPhaseTransition("login", p, SourceAutomated, TransitionOptions{})
		rank := snap.Features["login"].Rank
		assert.GreaterOrEqual(t, rank, lastRank)
		lastRank = rank
	}
	assert.Equal(t, phase.Do, snap.Features["login"].Phase)
}

func TestApplyDocument(t *testing.T) {
	snap := NewSnapshot()
	name, err := snap.ApplyDocument("login", phase.DocPlan, "docs/login/plan/plan.md")
	require.NoError(t, err)
	assert.Equal(t, "login", name)
	assert.Equal(t, "docs/login/plan/plan.md", snap.Features["login"].Documents[phase.DocPlan])
}

func TestApplyMetrics(t *testing.T) {
	snap := NewSnapshot()
	_, err := snap.ApplyMetrics("login", Metrics{MatchRate: intPtr(85), Iterations: intPtr(2)})
	require.NoError(t, err)

	f := snap.Features["login"]
	require.NotNil(t, f.MatchRate)
	assert.Equal(t, 85, *f.MatchRate)
	assert.Equal(t, 2, f.Iterations)

	_, err = snap.ApplyMetrics("login", Metrics{MatchRate: intPtr(150)})
	require.Error(t, err)
	assert.Equal(t, 85, *f.MatchRate)
}

func TestHistoryCap(t *testing.T) {
	snap := NewSnapshot()
	for i := 0; i < defaultHistoryLimit+20; i++ {
		snap.appendHistory(HistoryEntry{Feature: "login", To: phase.Plan}, defaultHistoryLimit)
	}
	assert.Len(t, snap.History, defaultHistoryLimit)
}

func TestArchiveAndEvict(t *testing.T) {
	snap := NewSnapshot()
	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		_, err := snap.ApplyPhaseTransition(n, phase.Research, SourceManual, TransitionOptions{})
		require.NoError(t, err)
	}

	// Archive a, b, c in order; a is the oldest archived.
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, snap.ArchiveFeature(n, "shipped"))
	}
	assert.Equal(t, []string{"d"}, snap.Active)

	evicted := snap.EvictArchived(2)
	assert.Equal(t, 2, evicted)
	assert.NotContains(t, snap.Features, "a")
	assert.NotContains(t, snap.Features, "b")
	assert.Contains(t, snap.Features, "c")
	assert.Contains(t, snap.Features, "d")

	// Active, non-archived features are never evicted.
	assert.Zero(t, snap.EvictArchived(1))
}

func TestSetPrimary_MustBeActive(t *testing.T) {
	snap := NewSnapshot()
	_, err := snap.ApplyPhaseTransition("login", phase.Research, SourceManual, TransitionOptions{})
	require.NoError(t, err)

	require.Error(t, snap.SetPrimary("billing"))
	require.NoError(t, snap.SetPrimary("login"))

	require.NoError(t, snap.ArchiveFeature("login", ""))
	assert.Empty(t, snap.Primary)
}

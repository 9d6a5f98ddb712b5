package mcp

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/board"
	"github.com/fyrsmithlabs/pdcad/internal/jobs"
	"github.com/fyrsmithlabs/pdcad/internal/ledger"
	"github.com/fyrsmithlabs/pdcad/internal/orchestrator"
	"github.com/fyrsmithlabs/pdcad/internal/phase"
	"github.com/fyrsmithlabs/pdcad/internal/platform"
	"github.com/fyrsmithlabs/pdcad/internal/registry"
	"github.com/fyrsmithlabs/pdcad/internal/roles"
	"github.com/fyrsmithlabs/pdcad/internal/team"
)

func newTestServer(t *testing.T) (*Server, *ledger.Store) {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	roleReg := roles.NewStatic(
		roles.Role{Name: "team-lead", Category: "coordination", Orchestrator: true},
		roles.Role{Name: "coder", Category: "implementation"},
	)
	jobStore, err := jobs.NewStore(jobs.Config{Dir: filepath.Join(dir, "jobs")}, logger)
	require.NoError(t, err)
	teamDir, err := team.NewDirectory(filepath.Join(dir, "team.json"), logger)
	require.NoError(t, err)
	mailbox, err := team.NewMailbox(filepath.Join(dir, "mail"), roleReg, logger)
	require.NoError(t, err)
	taskBoard, err := board.New(board.Config{
		Path:        filepath.Join(dir, "board.json"),
		Coordinator: "team-lead",
	}, mailbox, logger)
	require.NoError(t, err)
	ledgerStore, err := ledger.NewStore(ledger.DefaultConfig(filepath.Join(dir, "state")), logger)
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Config{}, orchestrator.Deps{
		Client:   platform.NewFake(),
		Roles:    roleReg,
		Registry: registry.New(logger),
		Jobs:     jobStore,
		Team:     teamDir,
	}, logger)
	require.NoError(t, err)

	srv, err := NewServer(nil, orch, ledgerStore, taskBoard, mailbox, teamDir)
	require.NoError(t, err)
	return srv, ledgerStore
}

func TestNewServer_RequiresServices(t *testing.T) {
	_, err := NewServer(nil, nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestApplyPhaseUpdate(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	feature, current, err := srv.applyPhaseUpdate(ctx, "login", "research", "docs/login/research/notes.md", false)
	require.NoError(t, err)
	assert.Equal(t, "login", feature)
	assert.Equal(t, phase.Research, current)

	// Legacy alias accepted, document recorded.
	_, current, err = srv.applyPhaseUpdate(ctx, "login", "planning", "docs/login/plan/plan.md", false)
	require.NoError(t, err)
	assert.Equal(t, phase.Plan, current)

	snap, err := store.Get(ctx)
	require.NoError(t, err)
	f := snap.Features["login"]
	assert.Contains(t, f.Documents[phase.DocResearch], "notes.md")
	assert.Contains(t, f.Documents[phase.DocPlan], "plan.md")
}

func TestApplyPhaseUpdate_TerminalPhaseRecordsDocument(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	_, _, err := srv.applyPhaseUpdate(ctx, "login", "research", "", false)
	require.NoError(t, err)

	_, current, err := srv.applyPhaseUpdate(ctx, "login", "completed", "docs/login/summary.md", true)
	require.NoError(t, err)
	assert.Equal(t, phase.Completed, current)

	snap, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap.Features["login"].Documents[phase.DocReport], "summary.md")
}

func TestApplyPhaseUpdate_SkipNeedsOverride(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	_, _, err := srv.applyPhaseUpdate(ctx, "login", "research", "", false)
	require.NoError(t, err)

	_, _, err = srv.applyPhaseUpdate(ctx, "login", "do", "", false)
	assert.ErrorIs(t, err, ledger.ErrPhaseSkip)

	_, current, err := srv.applyPhaseUpdate(ctx, "login", "do", "", true)
	require.NoError(t, err)
	assert.Equal(t, phase.Do, current)
}

func TestApplyPhaseUpdate_UnknownPhase(t *testing.T) {
	srv, _ := newTestServer(t)
	_, _, err := srv.applyPhaseUpdate(context.Background(), "login", "shipping", "", false)
	assert.Error(t, err)
}

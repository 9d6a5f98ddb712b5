package ledger

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fyrsmithlabs/pdcad/internal/phase"
)

// CurrentVersion is the canonical on-disk snapshot version.
const CurrentVersion = 2

// Errors for ledger operations.
var (
	ErrNoFeature       = errors.New("no feature could be resolved from context")
	ErrPhaseRegression = errors.New("automated transition may not reduce phase rank")
	ErrPhaseSkip       = errors.New("transition skips an unmet phase without override")
	ErrUnknownPhase    = errors.New("unknown phase")
	ErrPersistence     = errors.New("ledger persistence failed")
)

// Source identifies what proposed a phase transition.
type Source string

const (
	// SourceAutomated marks transitions derived from file-convention
	// signals. They are forward-only.
	SourceAutomated Source = "automated"

	// SourceManual marks explicit operator or completion-tool transitions.
	// They may regress, and may skip forward only with an override.
	SourceManual Source = "manual"
)

// ArchiveInfo records why and when a feature was archived.
type ArchiveInfo struct {
	Reason     string    `json:"reason,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Feature is one tracked unit of work moving through the PDCA cycle.
type Feature struct {
	Name        string                   `json:"name"`
	Phase       phase.Phase              `json:"phase"`
	Rank        int                      `json:"rank"`
	MatchRate   *int                     `json:"match_rate,omitempty"`
	Iterations  int                      `json:"iterations"`
	Documents   map[phase.DocType]string `json:"documents,omitempty"`
	Evaluations map[phase.Phase]int      `json:"evaluations,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
	Archive     *ArchiveInfo             `json:"archive,omitempty"`
}

// HistoryEntry records one phase transition.
type HistoryEntry struct {
	Feature string      `json:"feature"`
	From    phase.Phase `json:"from,omitempty"`
	To      phase.Phase `json:"to"`
	Source  Source      `json:"source"`
	At      time.Time   `json:"at"`
}

// Snapshot is the whole ledger held in memory. Callers follow the batch
// discipline: one Get, N Apply* mutations, one Save. Partial-field writes
// are not supported anywhere.
type Snapshot struct {
	Version  int                 `json:"version"`
	Features map[string]*Feature `json:"features"`

	// Active is an ordered list of active feature names, no duplicates.
	Active []string `json:"active_features"`

	// Primary, when set, names a member of Active.
	Primary string `json:"primary_feature,omitempty"`

	// History is capped; oldest entries are evicted first.
	History []HistoryEntry `json:"history,omitempty"`

	// Session and Pipeline are passed through verbatim for forward
	// compatibility with alternate ledger producers.
	Session  map[string]json.RawMessage `json:"session,omitempty"`
	Pipeline map[string]json.RawMessage `json:"pipeline,omitempty"`
}

// Metrics carries optional metric updates for a feature.
type Metrics struct {
	MatchRate  *int
	Iterations *int
}

// TransitionOptions modifies ApplyPhaseTransition behavior.
type TransitionOptions struct {
	// Override permits a manual transition to skip past unmet phases.
	Override bool
}

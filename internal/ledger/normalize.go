package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/pdcad/internal/phase"
)

// Older ledger producers wrote a v1 shape with camelCase field names, phase
// aliases ("implement" for do, "verify" for check), and no rank field.
// Decoding always goes through a versioned union that upgrades to the
// canonical in-memory shape before any business logic runs. Normalizing an
// already-canonical snapshot is a no-op.

// diskFeature accepts both canonical and v1 field names.
type diskFeature struct {
	Name string `json:"name"`

	Phase        string `json:"phase"`
	CurrentPhase string `json:"currentPhase"` // v1 alias

	Rank *int `json:"rank"`

	MatchRate   *int `json:"match_rate"`
	MatchRateV1 *int `json:"matchRate"` // v1 alias

	Iterations   int `json:"iterations"`
	IterationsV1 int `json:"iterationCount"` // v1 alias

	Documents   map[string]string `json:"documents"`
	DocumentsV1 map[string]string `json:"docs"` // v1 alias

	Evaluations map[string]int `json:"evaluations"`

	StartedAt   time.Time  `json:"started_at"`
	StartedAtV1 *time.Time `json:"startedAt"` // v1 alias
	UpdatedAt   time.Time  `json:"updated_at"`
	UpdatedAtV1 *time.Time `json:"lastUpdated"` // v1 alias

	Archive *ArchiveInfo `json:"archive"`
}

// diskSnapshot accepts both canonical and v1 field names.
type diskSnapshot struct {
	Version  int                     `json:"version"`
	Features map[string]*diskFeature `json:"features"`

	Active   []string `json:"active_features"`
	ActiveV1 []string `json:"activeFeatures"` // v1 alias

	Primary   string `json:"primary_feature"`
	PrimaryV1 string `json:"primaryFeature"` // v1 alias

	History []HistoryEntry `json:"history"`

	Session  map[string]json.RawMessage `json:"session"`
	Pipeline map[string]json.RawMessage `json:"pipeline"`
}

// decode parses raw snapshot bytes and upgrades them to the canonical shape.
func decode(data []byte) (*Snapshot, error) {
	var disk diskSnapshot
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil, fmt.Errorf("parse ledger snapshot: %w", err)
	}
	return normalize(&disk)
}

// normalize upgrades a decoded union to one canonical Snapshot, filling
// missing fields with derived defaults. It is idempotent: a canonical input
// round-trips unchanged.
func normalize(disk *diskSnapshot) (*Snapshot, error) {
	snap := NewSnapshot()

	for name, df := range disk.Features {
		if df == nil {
			continue
		}
		f, err := normalizeFeature(name, df)
		if err != nil {
			return nil, err
		}
		snap.Features[f.Name] = f
	}

	active := disk.Active
	if len(active) == 0 {
		active = disk.ActiveV1
	}
	for _, name := range active {
		if _, ok := snap.Features[name]; ok {
			snap.addActive(name)
		}
	}

	primary := disk.Primary
	if primary == "" {
		primary = disk.PrimaryV1
	}
	// An invalid primary pointer is dropped rather than failing the load.
	if primary != "" {
		_ = snap.SetPrimary(primary)
	}

	snap.History = disk.History
	snap.Session = disk.Session
	snap.Pipeline = disk.Pipeline
	return snap, nil
}

func normalizeFeature(name string, df *diskFeature) (*Feature, error) {
	if df.Name != "" {
		name = df.Name
	}

	rawPhase := df.Phase
	if rawPhase == "" {
		rawPhase = df.CurrentPhase
	}
	if rawPhase == "" {
		rawPhase = string(phase.Research)
	}
	p, err := phase.Parse(rawPhase)
	if err != nil {
		return nil, fmt.Errorf("feature %q: %w", name, err)
	}

	f := &Feature{
		Name:       name,
		Phase:      p,
		Rank:       phase.Rank(p), // rank is always re-derived from phase
		Iterations: df.Iterations,
		StartedAt:  df.StartedAt,
		UpdatedAt:  df.UpdatedAt,
		Archive:    df.Archive,
		Documents:  make(map[phase.DocType]string),
	}
	if f.Iterations == 0 {
		f.Iterations = df.IterationsV1
	}

	if df.MatchRate != nil {
		f.MatchRate = df.MatchRate
	} else if df.MatchRateV1 != nil {
		f.MatchRate = df.MatchRateV1
	}

	docs := df.Documents
	if len(docs) == 0 {
		docs = df.DocumentsV1
	}
	for k, v := range docs {
		f.Documents[phase.DocType(k)] = v
	}

	if len(df.Evaluations) > 0 {
		f.Evaluations = make(map[phase.Phase]int, len(df.Evaluations))
		for k, v := range df.Evaluations {
			ep, err := phase.Parse(k)
			if err != nil {
				// Evaluation scores are advisory; unknown keys are dropped.
				continue
			}
			f.Evaluations[ep] = v
		}
	}

	if f.StartedAt.IsZero() && df.StartedAtV1 != nil {
		f.StartedAt = *df.StartedAtV1
	}
	if f.UpdatedAt.IsZero() && df.UpdatedAtV1 != nil {
		f.UpdatedAt = *df.UpdatedAtV1
	}
	if f.StartedAt.IsZero() {
		f.StartedAt = time.Now().UTC()
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = f.StartedAt
	}
	return f, nil
}

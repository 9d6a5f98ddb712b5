package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/pdcad/internal/phase"
)

// NewSnapshot returns an empty canonical snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:  CurrentVersion,
		Features: make(map[string]*Feature),
		Active:   []string{},
	}
}

// resolveFeature resolves a feature name from context: an explicit name wins,
// then the primary feature, then a sole active feature. Returns "" when
// nothing resolves.
func (s *Snapshot) resolveFeature(name string) string {
	if name != "" {
		return name
	}
	if s.Primary != "" {
		return s.Primary
	}
	if len(s.Active) == 1 {
		return s.Active[0]
	}
	return ""
}

// ensureFeature returns the named feature, lazily creating it on first
// reference.
func (s *Snapshot) ensureFeature(name string) *Feature {
	if f, ok := s.Features[name]; ok {
		return f
	}
	now := time.Now().UTC()
	f := &Feature{
		Name:      name,
		Phase:     phase.Research,
		Rank:      phase.Rank(phase.Research),
		Documents: make(map[phase.DocType]string),
		StartedAt: now,
		UpdatedAt: now,
	}
	s.Features[name] = f
	s.addActive(name)
	return f
}

// addActive appends name to the active list if not already present.
func (s *Snapshot) addActive(name string) {
	for _, n := range s.Active {
		if n == name {
			return
		}
	}
	s.Active = append(s.Active, name)
}

// removeActive drops name from the active list and clears the primary
// pointer if it referenced name.
func (s *Snapshot) removeActive(name string) {
	out := s.Active[:0]
	for _, n := range s.Active {
		if n != name {
			out = append(out, n)
		}
	}
	s.Active = out
	if s.Primary == name {
		s.Primary = ""
	}
}

// SetPrimary marks name as the primary feature. The feature must be active.
func (s *Snapshot) SetPrimary(name string) error {
	if name == "" {
		s.Primary = ""
		return nil
	}
	for _, n := range s.Active {
		if n == name {
			s.Primary = name
			return nil
		}
	}
	return fmt.Errorf("feature %q is not active", name)
}

// ApplyPhaseTransition proposes moving a feature to p. The feature name is
// resolved from context when empty; ErrNoFeature is returned when nothing
// resolves. Automated sources may never reduce rank. Manual sources may move
// backward freely, but may only skip forward past intermediate phases with
// opts.Override set.
func (s *Snapshot) ApplyPhaseTransition(feature string, p phase.Phase, src Source, opts TransitionOptions) (string, error) {
	if !phase.Valid(p) {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, p)
	}
	name := s.resolveFeature(feature)
	if name == "" {
		return "", ErrNoFeature
	}

	f := s.ensureFeature(name)
	newRank := phase.Rank(p)

	if newRank < f.Rank && src == SourceAutomated {
		return name, fmt.Errorf("%w: %s is at %s, proposed %s", ErrPhaseRegression, name, f.Phase, p)
	}
	if newRank > f.Rank+1 && src == SourceManual && !opts.Override {
		return name, fmt.Errorf("%w: %s -> %s", ErrPhaseSkip, f.Phase, p)
	}

	if newRank == f.Rank {
		return name, nil
	}

	from := f.Phase
	f.Phase = p
	f.Rank = newRank
	f.UpdatedAt = time.Now().UTC()
	s.appendHistory(HistoryEntry{
		Feature: name,
		From:    from,
		To:      p,
		Source:  src,
		At:      f.UpdatedAt,
	}, defaultHistoryLimit)
	return name, nil
}

// defaultHistoryLimit caps history when the snapshot is mutated outside a
// Store (Store.Save re-applies its configured cap).
const defaultHistoryLimit = 50

// appendHistory adds an entry, evicting the oldest when over limit.
func (s *Snapshot) appendHistory(e HistoryEntry, limit int) {
	s.History = append(s.History, e)
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
}

// ApplyDocument records a document path for a feature. The document is
// recorded even when an accompanying phase proposal was rejected.
func (s *Snapshot) ApplyDocument(feature string, dt phase.DocType, path string) (string, error) {
	name := s.resolveFeature(feature)
	if name == "" {
		return "", ErrNoFeature
	}
	f := s.ensureFeature(name)
	if f.Documents == nil {
		f.Documents = make(map[phase.DocType]string)
	}
	f.Documents[dt] = path
	f.UpdatedAt = time.Now().UTC()
	return name, nil
}

// ApplyMetrics updates match rate and iteration count for a feature.
func (s *Snapshot) ApplyMetrics(feature string, m Metrics) (string, error) {
	name := s.resolveFeature(feature)
	if name == "" {
		return "", ErrNoFeature
	}
	f := s.ensureFeature(name)
	if m.MatchRate != nil {
		rate := *m.MatchRate
		if rate < 0 || rate > 100 {
			return name, fmt.Errorf("match rate must be 0-100, got %d", rate)
		}
		f.MatchRate = &rate
	}
	if m.Iterations != nil {
		f.Iterations = *m.Iterations
	}
	f.UpdatedAt = time.Now().UTC()
	return name, nil
}

// ApplyEvaluation records an advisory evaluation score for a phase.
func (s *Snapshot) ApplyEvaluation(feature string, p phase.Phase, score int) (string, error) {
	name := s.resolveFeature(feature)
	if name == "" {
		return "", ErrNoFeature
	}
	f := s.ensureFeature(name)
	if f.Evaluations == nil {
		f.Evaluations = make(map[phase.Phase]int)
	}
	f.Evaluations[p] = score
	f.UpdatedAt = time.Now().UTC()
	return name, nil
}

// ArchiveFeature marks a feature archived and removes it from the active
// list. Archiving is a manual transition and may move backward from any
// phase.
func (s *Snapshot) ArchiveFeature(name, reason string) error {
	f, ok := s.Features[name]
	if !ok {
		return fmt.Errorf("feature %q not found", name)
	}
	now := time.Now().UTC()
	from := f.Phase
	f.Phase = phase.Archived
	f.Rank = phase.Rank(phase.Archived)
	f.Archive = &ArchiveInfo{Reason: reason, ArchivedAt: now}
	f.UpdatedAt = now
	s.removeActive(name)
	s.appendHistory(HistoryEntry{
		Feature: name,
		From:    from,
		To:      phase.Archived,
		Source:  SourceManual,
		At:      now,
	}, defaultHistoryLimit)
	return nil
}

// EvictArchived deletes archived features beyond maxFeatures, oldest
// archived first. Only archived features are ever deleted.
func (s *Snapshot) EvictArchived(maxFeatures int) int {
	if maxFeatures <= 0 || len(s.Features) <= maxFeatures {
		return 0
	}

	type archived struct {
		name string
		at   time.Time
	}
	var candidates []archived
	for name, f := range s.Features {
		if f.Phase == phase.Archived && f.Archive != nil {
			candidates = append(candidates, archived{name: name, at: f.Archive.ArchivedAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })

	evicted := 0
	for _, c := range candidates {
		if len(s.Features) <= maxFeatures {
			break
		}
		delete(s.Features, c.name)
		evicted++
	}
	return evicted
}

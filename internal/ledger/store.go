package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/pdcad/internal/ledger"

// Config configures the ledger store.
type Config struct {
	// Path is the ledger snapshot file.
	Path string

	// HistoryLimit caps the phase-transition history (default: 50).
	HistoryLimit int

	// MaxFeatures bounds the ledger; archived features are evicted oldest
	// first beyond this (default: 100).
	MaxFeatures int
}

// DefaultConfig returns sensible defaults rooted at dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Path:         filepath.Join(dir, "ledger.json"),
		HistoryLimit: 50,
		MaxFeatures:  100,
	}
}

// Store loads and persists ledger snapshots. Mutation happens on the
// snapshot in memory; Save rewrites the whole file in one atomic write.
// The file is last-writer-wins, which is why callers batch: one Get, N
// Apply* calls, one Save.
type Store struct {
	config *Config
	logger *zap.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter
}

// NewStore creates a ledger store.
func NewStore(cfg *Config, logger *zap.Logger) (*Store, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error
	s.saveCounter, err = s.meter.Int64Counter(
		"pdcad.ledger.saves_total",
		metric.WithDescription("Total number of ledger snapshot saves"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}

	return s, nil
}

// Get returns a normalized in-memory snapshot. A missing file yields an
// empty snapshot; older on-disk formats are upgraded transparently.
func (s *Store) Get(ctx context.Context) (*Snapshot, error) {
	_, span := s.tracer.Start(ctx, "ledger.get")
	defer span.End()

	data, err := os.ReadFile(s.config.Path)
	if os.IsNotExist(err) {
		return NewSnapshot(), nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	snap, err := decode(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("feature_count", len(snap.Features)))
	return snap, nil
}

// Save persists the full snapshot in a single atomic write. Persistence
// failures here are escalated loudly: silent loss of phase state breaks
// workflow resumability.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	_, span := s.tracer.Start(ctx, "ledger.save")
	defer span.End()

	snap.Version = CurrentVersion
	if len(snap.History) > s.config.HistoryLimit {
		snap.History = snap.History[len(snap.History)-s.config.HistoryLimit:]
	}
	snap.EvictArchived(s.config.MaxFeatures)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return s.escalate(span, fmt.Errorf("marshal ledger: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(s.config.Path), 0700); err != nil {
		return s.escalate(span, fmt.Errorf("create state dir: %w", err))
	}

	tmpPath := s.config.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return s.escalate(span, fmt.Errorf("write ledger: %w", err))
	}
	if err := os.Rename(tmpPath, s.config.Path); err != nil {
		os.Remove(tmpPath)
		return s.escalate(span, fmt.Errorf("rename ledger: %w", err))
	}

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1)
	}
	s.logger.Debug("saved ledger snapshot",
		zap.Int("features", len(snap.Features)),
		zap.Int("active", len(snap.Active)),
	)
	return nil
}

func (s *Store) escalate(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("ledger persistence failed; phase state may be lost", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

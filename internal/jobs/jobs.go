// Package jobs persists one record per delegation so job status and
// results survive process restarts. Each record is a standalone JSON
// file rewritten wholesale on every change.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/platform"
)

const instrumentationName = "github.com/fyrsmithlabs/pdcad/internal/jobs"

// Status is the lifecycle state of a delegation job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

var (
	// ErrNotFound means no record exists for the given job id.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal means the record is already in a terminal status.
	ErrTerminal = errors.New("job already terminal")
)

// Record is the persisted state of one delegation.
type Record struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Role      string          `json:"role"`
	Handle    platform.Handle `json:"handle,omitempty"`
	Task      string          `json:"task,omitempty"`
	Depth     int             `json:"depth"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Config holds job store settings.
type Config struct {
	// Dir is the directory holding one JSON file per job.
	Dir string

	// ResultMaxBytes caps stored result text. Zero means no cap.
	ResultMaxBytes int
}

// Store reads and writes job records on disk. Safe for concurrent use;
// read-modify-write sequences are serialized by an internal mutex.
type Store struct {
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	mu     sync.Mutex
}

// NewStore creates a job store rooted at cfg.Dir.
func NewStore(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("jobs: dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.config.Dir, id+".json")
}

// Put writes a record to disk, creating or replacing its file.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, rec)
}

func (s *Store) write(ctx context.Context, rec *Record) error {
	_, span := s.tracer.Start(ctx, "jobs.write")
	defer span.End()

	if rec.ID == "" {
		return errors.New("jobs: record has no id")
	}
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	if max := s.config.ResultMaxBytes; max > 0 && len(rec.Result) > max {
		cut := len(rec.Result) - max
		// Keep the cut on a rune boundary so the stored tail is valid
		// UTF-8.
		for cut < len(rec.Result) && !utf8.RuneStart(rec.Result[cut]) {
			cut++
		}
		rec.Result = rec.Result[cut:]
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", rec.ID, err)
	}
	if err := os.MkdirAll(s.config.Dir, 0o700); err != nil {
		return fmt.Errorf("creating jobs dir: %w", err)
	}
	tmp := s.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing job %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, s.path(rec.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing job %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, id)
}

func (s *Store) read(ctx context.Context, id string) (*Record, error) {
	_, span := s.tracer.Start(ctx, "jobs.read")
	defer span.End()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading job %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return &rec, nil
}

// List returns all records, newest first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	var recs []*Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.read(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			// One corrupt record must not hide the rest.
			s.logger.Warn("skipping unreadable job record",
				zap.String("file", name), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// Running returns all records still in StatusRunning.
func (s *Store) Running(ctx context.Context) ([]*Record, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, rec := range all {
		if rec.Status == StatusRunning {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Finish moves a running record into a terminal status, storing result
// or error text. Finishing an already-terminal record returns ErrTerminal
// so racing completion paths settle on whoever got there first.
func (s *Store) Finish(ctx context.Context, id string, status Status, result, errMsg string) (*Record, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("jobs: %q is not a terminal status", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return rec, fmt.Errorf("%w: %s is %s", ErrTerminal, id, rec.Status)
	}
	rec.Status = status
	rec.Result = result
	rec.Error = errMsg
	if err := s.write(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

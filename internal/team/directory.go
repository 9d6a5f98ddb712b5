package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/platform"
)

const instrumentationName = "github.com/fyrsmithlabs/pdcad/internal/team"

// ErrTeammateNotFound means no directory entry exists for the name.
var ErrTeammateNotFound = errors.New("teammate not found")

// Teammate is one entry in the team directory.
type Teammate struct {
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	Status    Status          `json:"status"`
	Task      string          `json:"task,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Handle    platform.Handle `json:"handle,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type directoryState struct {
	Teammates map[string]*Teammate `json:"teammates"`
}

// Directory is the persisted team roster. Every operation reads the
// whole file, mutates in memory, and writes the whole file back in one
// atomic replace. Safe for concurrent use within one process.
type Directory struct {
	path   string
	logger *zap.Logger
	tracer trace.Tracer
	mu     sync.Mutex
}

// NewDirectory creates a directory persisted at path.
func NewDirectory(path string, logger *zap.Logger) (*Directory, error) {
	if path == "" {
		return nil, errors.New("team: directory path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		path:   path,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

func (d *Directory) load() (*directoryState, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &directoryState{Teammates: make(map[string]*Teammate)}, nil
		}
		return nil, fmt.Errorf("reading team directory: %w", err)
	}
	var state directoryState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding team directory: %w", err)
	}
	if state.Teammates == nil {
		state.Teammates = make(map[string]*Teammate)
	}
	return &state, nil
}

func (d *Directory) save(state *directoryState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling team directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return fmt.Errorf("creating team state dir: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing team directory: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing team directory: %w", err)
	}
	return nil
}

// Spawn adds a teammate in StatusSpawning. An existing non-terminal
// entry with the same name is an error; a terminal one is replaced.
func (d *Directory) Spawn(ctx context.Context, name, role, task, jobID string, handle platform.Handle) error {
	_, span := d.tracer.Start(ctx, "team.spawn")
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.load()
	if err != nil {
		return err
	}
	if existing, ok := state.Teammates[name]; ok && !existing.Status.Terminal() {
		return fmt.Errorf("teammate %q already active with status %s", name, existing.Status)
	}
	now := time.Now().UTC()
	state.Teammates[name] = &Teammate{
		Name:      name,
		Role:      role,
		Status:    StatusSpawning,
		Task:      task,
		JobID:     jobID,
		Handle:    handle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return d.save(state)
}

// Transition moves a teammate to a new status, validated against the
// transition table. Optional mutate hooks run inside the same
// read-modify-write so one logical action costs one write.
func (d *Directory) Transition(ctx context.Context, name string, to Status, mutate ...func(*Teammate)) error {
	_, span := d.tracer.Start(ctx, "team.transition")
	defer span.End()

	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.load()
	if err != nil {
		return err
	}
	tm, ok := state.Teammates[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTeammateNotFound, name)
	}
	if err := ValidateTransition(tm.Status, to); err != nil {
		return err
	}
	tm.Status = to
	tm.UpdatedAt = time.Now().UTC()
	for _, fn := range mutate {
		fn(tm)
	}
	d.logger.Debug("teammate transition",
		zap.String("name", name), zap.String("status", string(to)))
	return d.save(state)
}

// Remove deletes a teammate entry.
func (d *Directory) Remove(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.load()
	if err != nil {
		return err
	}
	if _, ok := state.Teammates[name]; !ok {
		return fmt.Errorf("%w: %s", ErrTeammateNotFound, name)
	}
	delete(state.Teammates, name)
	return d.save(state)
}

// Get returns one teammate by name.
func (d *Directory) Get(ctx context.Context, name string) (*Teammate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.load()
	if err != nil {
		return nil, err
	}
	tm, ok := state.Teammates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTeammateNotFound, name)
	}
	out := *tm
	return &out, nil
}

// List returns all teammates sorted by name.
func (d *Directory) List(ctx context.Context) ([]*Teammate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := d.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Teammate, 0, len(state.Teammates))
	for _, tm := range state.Teammates {
		cp := *tm
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

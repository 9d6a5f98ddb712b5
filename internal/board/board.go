// Package board implements the shared task board: items with dependency
// links, completed wholesale one write per operation. Completing an item
// sweeps it out of every other item's blockedBy set; an item whose last
// blocker clears gets one notification to the coordinator mailbox.
package board

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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/team"
)

const instrumentationName = "github.com/fyrsmithlabs/pdcad/internal/board"

// Item status values.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var statusTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusInProgress: true,
		StatusCompleted:  true,
		StatusFailed:     true,
	},
	StatusInProgress: {
		StatusPending:   true,
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

var (
	// ErrItemNotFound means no item exists with the given id.
	ErrItemNotFound = errors.New("board item not found")
	// ErrItemBlocked means the operation needs an unblocked item.
	ErrItemBlocked = errors.New("board item is blocked")
)

// Item is one task on the board.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Assignee    string    `json:"assignee,omitempty"`
	BlockedBy   []string  `json:"blocked_by,omitempty"`
	Result      string    `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// notified guards the unblock notification: one per item, ever.
	Notified bool `json:"notified,omitempty"`
}

// Blocked reports whether the item still has unresolved blockers.
func (i *Item) Blocked() bool { return len(i.BlockedBy) > 0 }

type boardState struct {
	Items map[string]*Item `json:"items"`
}

// Notifier delivers unblock notifications. *team.Mailbox satisfies it.
type Notifier interface {
	Send(ctx context.Context, from, to, content string) (*team.Message, error)
}

// Config holds board settings.
type Config struct {
	// Path is the board's JSON file.
	Path string
	// Coordinator is the role notified when an item unblocks.
	Coordinator string
}

// Board persists the full task board in one file, rewritten wholesale
// on every mutation. Safe for concurrent use within one process.
type Board struct {
	config   Config
	notifier Notifier
	logger   *zap.Logger
	tracer   trace.Tracer
	mu       sync.Mutex
}

// New creates a board. notifier may be nil, in which case unblock
// notifications are skipped.
func New(cfg Config, notifier Notifier, logger *zap.Logger) (*Board, error) {
	if cfg.Path == "" {
		return nil, errors.New("board: path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		config:   cfg,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
	}, nil
}

func (b *Board) load() (*boardState, error) {
	data, err := os.ReadFile(b.config.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return &boardState{Items: make(map[string]*Item)}, nil
		}
		return nil, fmt.Errorf("reading board: %w", err)
	}
	var state boardState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding board: %w", err)
	}
	if state.Items == nil {
		state.Items = make(map[string]*Item)
	}
	return &state, nil
}

func (b *Board) save(state *boardState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling board: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.config.Path), 0o700); err != nil {
		return fmt.Errorf("creating board dir: %w", err)
	}
	tmp := b.config.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing board: %w", err)
	}
	if err := os.Rename(tmp, b.config.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing board: %w", err)
	}
	return nil
}

// CreateOptions are the optional fields of Create.
type CreateOptions struct {
	Description string
	BlockedBy   []string
	Assignee    string
}

// Create adds a pending item. Blockers must reference existing items,
// and a blocked item cannot start out assigned.
func (b *Board) Create(ctx context.Context, title string, opts CreateOptions) (*Item, error) {
	_, span := b.tracer.Start(ctx, "board.create")
	defer span.End()

	if title == "" {
		return nil, errors.New("board: title is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.load()
	if err != nil {
		return nil, err
	}
	for _, dep := range opts.BlockedBy {
		if _, ok := state.Items[dep]; !ok {
			return nil, fmt.Errorf("%w: blocker %q", ErrItemNotFound, dep)
		}
	}
	if opts.Assignee != "" && len(opts.BlockedBy) > 0 {
		return nil, fmt.Errorf("%w: cannot assign while blocked", ErrItemBlocked)
	}

	now := time.Now().UTC()
	item := &Item{
		ID:          uuid.NewString(),
		Title:       title,
		Description: opts.Description,
		Status:      StatusPending,
		Assignee:    opts.Assignee,
		BlockedBy:   append([]string(nil), opts.BlockedBy...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	state.Items[item.ID] = item
	if err := b.save(state); err != nil {
		return nil, err
	}
	out := *item
	return &out, nil
}

// UpdateOptions are the mutable fields of Update. Nil means unchanged.
type UpdateOptions struct {
	Status   *Status
	Assignee *string
}

// Update changes an item's status or assignee. Status changes follow
// the transition table; assigning a still-blocked item is rejected.
func (b *Board) Update(ctx context.Context, id string, opts UpdateOptions) (*Item, error) {
	_, span := b.tracer.Start(ctx, "board.update")
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.load()
	if err != nil {
		return nil, err
	}
	item, ok := state.Items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}

	if opts.Assignee != nil && *opts.Assignee != "" && item.Blocked() {
		return nil, fmt.Errorf("%w: %s", ErrItemBlocked, id)
	}
	if opts.Status != nil && *opts.Status != item.Status {
		if !statusTransitions[item.Status][*opts.Status] {
			return nil, fmt.Errorf("invalid board transition %s -> %s", item.Status, *opts.Status)
		}
		if *opts.Status == StatusInProgress && item.Blocked() {
			return nil, fmt.Errorf("%w: %s", ErrItemBlocked, id)
		}
		item.Status = *opts.Status
	}
	if opts.Assignee != nil {
		item.Assignee = *opts.Assignee
	}
	item.UpdatedAt = time.Now().UTC()

	if err := b.save(state); err != nil {
		return nil, err
	}
	out := *item
	return &out, nil
}

// Complete marks an item completed and sweeps it out of every other
// item's blockedBy set. Each pending item whose blocker set empties in
// the sweep triggers one coordinator notification. Notification
// failures are logged, never returned; they must not undo a completion.
func (b *Board) Complete(ctx context.Context, id, result string) (*Item, error) {
	_, span := b.tracer.Start(ctx, "board.complete")
	defer span.End()

	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.load()
	if err != nil {
		return nil, err
	}
	item, ok := state.Items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if !statusTransitions[item.Status][StatusCompleted] {
		return nil, fmt.Errorf("invalid board transition %s -> %s", item.Status, StatusCompleted)
	}

	now := time.Now().UTC()
	item.Status = StatusCompleted
	item.Result = result
	item.UpdatedAt = now

	var unblocked []*Item
	for _, other := range state.Items {
		before := len(other.BlockedBy)
		if before == 0 {
			continue
		}
		kept := other.BlockedBy[:0]
		for _, dep := range other.BlockedBy {
			if dep != id {
				kept = append(kept, dep)
			}
		}
		other.BlockedBy = kept
		if len(kept) == 0 {
			other.BlockedBy = nil
		}
		if before > 0 && len(other.BlockedBy) == 0 &&
			other.Status == StatusPending && !other.Notified {
			other.Notified = true
			other.UpdatedAt = now
			unblocked = append(unblocked, other)
		}
	}

	if err := b.save(state); err != nil {
		return nil, err
	}

	if b.notifier != nil && b.config.Coordinator != "" {
		for _, u := range unblocked {
			content := fmt.Sprintf("task %q (%s) is now unblocked", u.Title, u.ID)
			if _, err := b.notifier.Send(ctx, "board", b.config.Coordinator, content); err != nil {
				b.logger.Warn("unblock notification failed",
					zap.String("item", u.ID), zap.Error(err))
			}
		}
	}

	out := *item
	return &out, nil
}

// Get returns one item by id.
func (b *Board) Get(ctx context.Context, id string) (*Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.load()
	if err != nil {
		return nil, err
	}
	item, ok := state.Items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	out := *item
	return &out, nil
}

// List returns all items, oldest first.
func (b *Board) List(ctx context.Context) ([]*Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := b.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Item, 0, len(state.Items))
	for _, item := range state.Items {
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

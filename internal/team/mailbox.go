package team

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/roles"
)

// ErrUnknownRecipient means the recipient is not a registered role.
var ErrUnknownRecipient = errors.New("unknown mailbox recipient")

// Message is one mailbox entry.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
	Read      bool      `json:"read"`
}

// MailSummary is the per-recipient count pair from ListSummary.
type MailSummary struct {
	Recipient string `json:"recipient"`
	Total     int    `json:"total"`
	Unread    int    `json:"unread"`
}

// Mailbox keeps one append-only message log per known role, persisted
// as a JSON file per recipient. Receive marks messages read in the same
// write that returns them, so a crash cannot double-deliver and a
// concurrent receive cannot see the same unread set twice.
type Mailbox struct {
	dir    string
	roles  *roles.Registry
	logger *zap.Logger
	mu     sync.Mutex
}

// NewMailbox creates a mailbox rooted at dir, validating recipients
// against the role registry.
func NewMailbox(dir string, reg *roles.Registry, logger *zap.Logger) (*Mailbox, error) {
	if dir == "" {
		return nil, errors.New("team: mailbox dir is required")
	}
	if reg == nil {
		return nil, errors.New("team: mailbox requires a role registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{dir: dir, roles: reg, logger: logger}, nil
}

func (m *Mailbox) path(recipient string) string {
	return filepath.Join(m.dir, recipient+".json")
}

func (m *Mailbox) load(recipient string) ([]Message, error) {
	data, err := os.ReadFile(m.path(recipient))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading mailbox %s: %w", recipient, err)
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decoding mailbox %s: %w", recipient, err)
	}
	return msgs, nil
}

func (m *Mailbox) save(recipient string, msgs []Message) error {
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling mailbox %s: %w", recipient, err)
	}
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("creating mailbox dir: %w", err)
	}
	tmp := m.path(recipient) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing mailbox %s: %w", recipient, err)
	}
	if err := os.Rename(tmp, m.path(recipient)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing mailbox %s: %w", recipient, err)
	}
	return nil
}

// Send appends a message to the recipient's log. The recipient must be
// a registered role; the sender is recorded as given.
func (m *Mailbox) Send(ctx context.Context, from, to, content string) (*Message, error) {
	if !m.roles.Known(to) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipient, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs, err := m.load(to)
	if err != nil {
		return nil, err
	}
	msg := Message{
		ID:        uuid.NewString(),
		Sender:    from,
		Recipient: to,
		Content:   content,
		SentAt:    time.Now().UTC(),
	}
	msgs = append(msgs, msg)
	if err := m.save(to, msgs); err != nil {
		return nil, err
	}
	m.logger.Debug("mail sent", zap.String("from", from), zap.String("to", to))
	return &msg, nil
}

// ReceiveUnread returns all unread messages for recipient and marks
// them read in the same write.
func (m *Mailbox) ReceiveUnread(ctx context.Context, recipient string) ([]Message, error) {
	if !m.roles.Known(recipient) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipient, recipient)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs, err := m.load(recipient)
	if err != nil {
		return nil, err
	}
	var unread []Message
	for i := range msgs {
		if !msgs[i].Read {
			unread = append(unread, msgs[i])
			msgs[i].Read = true
		}
	}
	if len(unread) == 0 {
		return nil, nil
	}
	if err := m.save(recipient, msgs); err != nil {
		return nil, err
	}
	return unread, nil
}

// MarkAllRead marks every message for recipient read without returning
// them.
func (m *Mailbox) MarkAllRead(ctx context.Context, recipient string) error {
	if !m.roles.Known(recipient) {
		return fmt.Errorf("%w: %q", ErrUnknownRecipient, recipient)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs, err := m.load(recipient)
	if err != nil {
		return err
	}
	changed := false
	for i := range msgs {
		if !msgs[i].Read {
			msgs[i].Read = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.save(recipient, msgs)
}

// ListSummary returns per-recipient total and unread counts for every
// mailbox that exists on disk.
func (m *Mailbox) ListSummary(ctx context.Context) ([]MailSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}

	var out []MailSummary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		recipient := strings.TrimSuffix(name, ".json")
		msgs, err := m.load(recipient)
		if err != nil {
			m.logger.Warn("skipping unreadable mailbox",
				zap.String("recipient", recipient), zap.Error(err))
			continue
		}
		s := MailSummary{Recipient: recipient, Total: len(msgs)}
		for _, msg := range msgs {
			if !msg.Read {
				s.Unread++
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Recipient < out[j].Recipient })
	return out, nil
}

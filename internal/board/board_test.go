package board

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/team"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []team.Message
}

func (n *recordingNotifier) Send(_ context.Context, from, to, content string) (*team.Message, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg := team.Message{Sender: from, Recipient: to, Content: content}
	n.sent = append(n.sent, msg)
	return &msg, nil
}

func newTestBoard(t *testing.T) (*Board, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	b, err := New(Config{
		Path:        filepath.Join(t.TempDir(), "board.json"),
		Coordinator: "team-lead",
	}, notifier, zap.NewNop())
	require.NoError(t, err)
	return b, notifier
}

func TestBoard_CreateAndGet(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	item, err := b.Create(ctx, "write parser", CreateOptions{Description: "JSONL"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, item.Status)
	assert.NotEmpty(t, item.ID)

	got, err := b.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "write parser", got.Title)
}

func TestBoard_CreateValidation(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	_, err := b.Create(ctx, "", CreateOptions{})
	assert.Error(t, err)

	_, err = b.Create(ctx, "dependent", CreateOptions{BlockedBy: []string{"missing-id"}})
	assert.ErrorIs(t, err, ErrItemNotFound)

	a, err := b.Create(ctx, "a", CreateOptions{})
	require.NoError(t, err)
	_, err = b.Create(ctx, "b", CreateOptions{BlockedBy: []string{a.ID}, Assignee: "coder"})
	assert.ErrorIs(t, err, ErrItemBlocked)
}

func TestBoard_UpdateBlockedAssignmentRejected(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	a, err := b.Create(ctx, "a", CreateOptions{})
	require.NoError(t, err)
	blocked, err := b.Create(ctx, "b", CreateOptions{BlockedBy: []string{a.ID}})
	require.NoError(t, err)

	assignee := "coder"
	_, err = b.Update(ctx, blocked.ID, UpdateOptions{Assignee: &assignee})
	assert.ErrorIs(t, err, ErrItemBlocked)

	status := StatusInProgress
	_, err = b.Update(ctx, blocked.ID, UpdateOptions{Status: &status})
	assert.ErrorIs(t, err, ErrItemBlocked)
}

func TestBoard_UpdateStatusAndAssignee(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	item, err := b.Create(ctx, "a", CreateOptions{})
	require.NoError(t, err)

	status := StatusInProgress
	assignee := "coder"
	got, err := b.Update(ctx, item.ID, UpdateOptions{Status: &status, Assignee: &assignee})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, "coder", got.Assignee)

	// Completed is terminal.
	_, err = b.Complete(ctx, item.ID, "done")
	require.NoError(t, err)
	back := StatusPending
	_, err = b.Update(ctx, item.ID, UpdateOptions{Status: &back})
	assert.Error(t, err)
}

func TestBoard_CompleteUnblocksAndNotifiesOnce(t *testing.T) {
	b, notifier := newTestBoard(t)
	ctx := context.Background()

	a, err := b.Create(ctx, "build schema", CreateOptions{})
	require.NoError(t, err)
	blocked, err := b.Create(ctx, "migrate data", CreateOptions{BlockedBy: []string{a.ID}})
	require.NoError(t, err)

	_, err = b.Complete(ctx, a.ID, "schema ready")
	require.NoError(t, err)

	got, err := b.Get(ctx, blocked.ID)
	require.NoError(t, err)
	assert.False(t, got.Blocked())
	assert.Equal(t, StatusPending, got.Status)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "team-lead", notifier.sent[0].Recipient)
	assert.Contains(t, notifier.sent[0].Content, blocked.ID)
}

func TestBoard_CompleteMultiBlockerNotifiesOnlyWhenEmpty(t *testing.T) {
	b, notifier := newTestBoard(t)
	ctx := context.Background()

	a, err := b.Create(ctx, "a", CreateOptions{})
	require.NoError(t, err)
	c, err := b.Create(ctx, "c", CreateOptions{})
	require.NoError(t, err)
	blocked, err := b.Create(ctx, "b", CreateOptions{BlockedBy: []string{a.ID, c.ID}})
	require.NoError(t, err)

	_, err = b.Complete(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Empty(t, notifier.sent, "notification fired before the blocker set emptied")

	got, err := b.Get(ctx, blocked.ID)
	require.NoError(t, err)
	assert.True(t, got.Blocked())

	_, err = b.Complete(ctx, c.ID, "")
	require.NoError(t, err)
	require.Len(t, notifier.sent, 1)
}

func TestBoard_CompleteWithoutDependentsNoNotification(t *testing.T) {
	b, notifier := newTestBoard(t)
	ctx := context.Background()

	a, err := b.Create(ctx, "standalone", CreateOptions{})
	require.NoError(t, err)
	_, err = b.Complete(ctx, a.ID, "done")
	require.NoError(t, err)
	assert.Empty(t, notifier.sent)
}

func TestBoard_ListOrder(t *testing.T) {
	b, _ := newTestBoard(t)
	ctx := context.Background()

	first, err := b.Create(ctx, "first", CreateOptions{})
	require.NoError(t, err)
	_, err = b.Create(ctx, "second", CreateOptions{})
	require.NoError(t, err)

	items, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
}

package team

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/roles"
)

func newTestMailbox(t *testing.T) *Mailbox {
	t.Helper()
	reg := roles.NewStatic(
		roles.Role{Name: "team-lead", Category: "coordination", Orchestrator: true},
		roles.Role{Name: "researcher", Category: "analysis"},
		roles.Role{Name: "coder", Category: "implementation"},
	)
	m, err := NewMailbox(t.TempDir(), reg, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestMailbox_SendReceive(t *testing.T) {
	m := newTestMailbox(t)
	ctx := context.Background()

	_, err := m.Send(ctx, "team-lead", "coder", "start on the parser")
	require.NoError(t, err)
	_, err = m.Send(ctx, "researcher", "coder", "findings attached")
	require.NoError(t, err)

	msgs, err := m.ReceiveUnread(ctx, "coder")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "team-lead", msgs[0].Sender)
	assert.Equal(t, "start on the parser", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID)

	// Receipt marked them read; a second receive sees nothing.
	again, err := m.ReceiveUnread(ctx, "coder")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMailbox_UnknownRecipient(t *testing.T) {
	m := newTestMailbox(t)
	ctx := context.Background()

	_, err := m.Send(ctx, "team-lead", "ghost", "hello?")
	assert.ErrorIs(t, err, ErrUnknownRecipient)

	_, err = m.ReceiveUnread(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownRecipient)

	assert.ErrorIs(t, m.MarkAllRead(ctx, "ghost"), ErrUnknownRecipient)
}

func TestMailbox_MarkAllRead(t *testing.T) {
	m := newTestMailbox(t)
	ctx := context.Background()

	_, err := m.Send(ctx, "team-lead", "researcher", "one")
	require.NoError(t, err)
	_, err = m.Send(ctx, "team-lead", "researcher", "two")
	require.NoError(t, err)

	require.NoError(t, m.MarkAllRead(ctx, "researcher"))

	msgs, err := m.ReceiveUnread(ctx, "researcher")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMailbox_ListSummary(t *testing.T) {
	m := newTestMailbox(t)
	ctx := context.Background()

	_, err := m.Send(ctx, "team-lead", "coder", "a")
	require.NoError(t, err)
	_, err = m.Send(ctx, "team-lead", "coder", "b")
	require.NoError(t, err)
	_, err = m.Send(ctx, "coder", "team-lead", "done")
	require.NoError(t, err)

	_, err = m.ReceiveUnread(ctx, "team-lead")
	require.NoError(t, err)

	summary, err := m.ListSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	assert.Equal(t, MailSummary{Recipient: "coder", Total: 2, Unread: 2}, summary[0])
	assert.Equal(t, MailSummary{Recipient: "team-lead", Total: 1, Unread: 0}, summary[1])
}

func TestMailbox_EmptySummary(t *testing.T) {
	m := newTestMailbox(t)
	summary, err := m.ListSummary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/collabhub/messaging-platform/internal/errs"
	"github.com/collabhub/messaging-platform/internal/model"
)

// openAccepted sets up the common case: an approved alice<->bob chat.
func openAccepted(t *testing.T, f *fixture) *model.Chat {
	t.Helper()
	ctx := context.Background()
	chat, err := f.chats.OpenOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)
	chat, err = f.chats.Approve(ctx, chat.ID, "bob")
	require.NoError(t, err)
	return chat
}

func TestAppend_AcceptedChat(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	updated, msg, err := f.messages.Append(ctx, chat.ID, "alice", "hello bob")
	req.NoError(err)
	req.Equal("alice", msg.Sender)
	req.Equal("hello bob", msg.Content)
	req.Equal(model.MessageSent, msg.Status, "recipient offline, so no delivery promotion")
	req.Len(updated.Messages, 1)
	req.Equal(1, updated.UnreadCount["bob"])
	req.Equal(0, updated.UnreadCount["alice"])
	req.False(updated.LastMessageAt.Before(updated.CreatedAt))

	events := f.bc.ofType(model.EventNewMessage)
	req.Len(events, 1)
	req.Equal(chat.ID, events[0].target)
}

func TestAppend_PendingQuota(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.chats.OpenOrCreate(ctx, "alice", "bob")
	req.NoError(err)

	// The initiator may send up to the quota while pending.
	for i := 0; i < testPendingQuota; i++ {
		_, _, err = f.messages.Append(ctx, chat.ID, "alice", "ping")
		req.NoError(err)
	}
	_, _, err = f.messages.Append(ctx, chat.ID, "alice", "one too many")
	req.ErrorIs(err, errs.ErrQuotaExceeded)

	// Approval lifts the quota entirely.
	_, err = f.chats.Approve(ctx, chat.ID, "bob")
	req.NoError(err)
	for i := 0; i < testPendingQuota+2; i++ {
		_, _, err = f.messages.Append(ctx, chat.ID, "alice", "free now")
		req.NoError(err)
	}
}

func TestAppend_RecipientMustApproveFirst(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.chats.OpenOrCreate(ctx, "alice", "bob")
	req.NoError(err)

	_, _, err = f.messages.Append(ctx, chat.ID, "bob", "replying while pending")
	req.ErrorIs(err, errs.ErrApprovalRequired)
}

func TestAppend_RejectedChatRefusesSends(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.chats.OpenOrCreate(ctx, "alice", "bob")
	req.NoError(err)
	_, err = f.chats.Reject(ctx, chat.ID, "bob")
	req.NoError(err)

	_, _, err = f.messages.Append(ctx, chat.ID, "alice", "still there?")
	req.ErrorIs(err, errs.ErrInvalidState)
	_, _, err = f.messages.Append(ctx, chat.ID, "bob", "no")
	req.ErrorIs(err, errs.ErrInvalidState)
}

func TestAppend_NonParticipant(t *testing.T) {
	f := newFixture(t)
	chat := openAccepted(t, f)

	_, _, err := f.messages.Append(context.Background(), chat.ID, "mallory", "let me in")
	require.ErrorIs(t, err, errs.ErrForbidden)
}

func TestAppend_BlockedOverridesAcceptedStatus(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	req.NoError(f.blocks.Block(ctx, "bob", "alice"))

	// The block vetoes sends in both directions.
	_, _, err := f.messages.Append(ctx, chat.ID, "alice", "hello?")
	req.ErrorIs(err, errs.ErrBlocked)
	_, _, err = f.messages.Append(ctx, chat.ID, "bob", "go away")
	req.ErrorIs(err, errs.ErrBlocked)

	req.NoError(f.blocks.Unblock(ctx, "bob", "alice"))
	_, _, err = f.messages.Append(ctx, chat.ID, "alice", "hello again")
	req.NoError(err)
}

func TestAppend_ContentGate(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, "spam")
	ctx := context.Background()
	chat := openAccepted(t, f)

	_, _, err := f.messages.Append(ctx, chat.ID, "alice", "free 5p4m offer")
	req.ErrorIs(err, errs.ErrForbidden)

	updated, _, err := f.messages.Append(ctx, chat.ID, "alice", "legitimate note")
	req.NoError(err)
	req.Len(updated.Messages, 1, "rejected content must never be persisted")
}

func TestAppend_DeliveryPromotionWhenRecipientOnline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	f.presence["bob"] = true

	updated, msg, err := f.messages.Append(ctx, chat.ID, "alice", "you there?")
	req.NoError(err)
	req.Equal(model.MessageDelivered, msg.Status)
	req.Equal(model.MessageDelivered, updated.Messages[0].Status)

	// Delivered is announced after the new-message event itself.
	statuses := f.bc.ofType(model.EventMessageStatus)
	req.Len(statuses, 1)
	ev, ok := statuses[0].payload.(model.MessageStatusEvent)
	req.True(ok)
	req.Equal(msg.ID, ev.MessageID)
	req.Equal(model.MessageDelivered, ev.Status)
}

func TestMarkRead(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	_, _, err := f.messages.Append(ctx, chat.ID, "alice", "first")
	req.NoError(err)
	_, _, err = f.messages.Append(ctx, chat.ID, "alice", "second")
	req.NoError(err)
	_, _, err = f.messages.Append(ctx, chat.ID, "bob", "reply")
	req.NoError(err)

	updated, err := f.messages.MarkRead(ctx, chat.ID, "bob")
	req.NoError(err)
	req.Equal(0, updated.UnreadCount["bob"])

	for _, m := range updated.Messages {
		if m.Sender == "alice" {
			req.Equal(model.MessageRead, m.Status)
			req.NotNil(m.ReadAt)
		} else {
			// The reader's own messages are untouched.
			req.Equal(model.MessageSent, m.Status)
			req.Nil(m.ReadAt)
		}
	}

	reads := f.bc.ofType(model.EventMessageStatus)
	req.Len(reads, 2)
}

func TestMarkRead_Idempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	_, _, err := f.messages.Append(ctx, chat.ID, "alice", "first")
	req.NoError(err)

	first, err := f.messages.MarkRead(ctx, chat.ID, "bob")
	req.NoError(err)
	readAt := first.Messages[0].ReadAt
	req.NotNil(readAt)

	before := len(f.bc.ofType(model.EventMessageStatus))
	second, err := f.messages.MarkRead(ctx, chat.ID, "bob")
	req.NoError(err)
	req.WithinDuration(*readAt, *second.Messages[0].ReadAt, 0, "readAt must not be restamped")
	req.Equal(before, len(f.bc.ofType(model.EventMessageStatus)), "no duplicate status events")
}

func TestMarkRead_StatusNeverRegresses(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	_, first, err := f.messages.Append(ctx, chat.ID, "alice", "hello")
	req.NoError(err)

	_, err = f.messages.MarkRead(ctx, chat.ID, "bob")
	req.NoError(err)

	// bob comes online; the next append runs a delivery promotion over the
	// chat. The already-read message must not move backwards.
	f.presence["bob"] = true
	_, second, err := f.messages.Append(ctx, chat.ID, "alice", "still there?")
	req.NoError(err)
	req.Equal(model.MessageDelivered, second.Status)

	got, err := f.chats.Get(ctx, chat.ID, "alice")
	req.NoError(err)
	req.Equal(model.MessageRead, got.MessageByID(first.ID).Status)
	req.NotNil(got.MessageByID(first.ID).ReadAt)
	req.Equal(model.MessageDelivered, got.MessageByID(second.ID).Status)
}

func TestSoftDeleteMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	_, msg, err := f.messages.Append(ctx, chat.ID, "alice", "typo ridden messgae")
	req.NoError(err)
	_, _, err = f.messages.Append(ctx, chat.ID, "alice", "second")
	req.NoError(err)

	updated, err := f.messages.SoftDeleteMessage(ctx, chat.ID, msg.ID, "alice")
	req.NoError(err)

	deleted := updated.MessageByID(msg.ID)
	req.NotNil(deleted)
	req.True(deleted.IsDeleted)
	req.Equal(model.Tombstone, deleted.Content)

	// Position and sequence are retained.
	req.Len(updated.Messages, 2)
	req.Equal(msg.ID, updated.Messages[0].ID)

	statuses := f.bc.ofType(model.EventMessageStatus)
	req.NotEmpty(statuses)
	ev, ok := statuses[len(statuses)-1].payload.(model.MessageStatusEvent)
	req.True(ok)
	req.True(ev.IsDeleted)
}

func TestSoftDeleteMessage_SenderOnly(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	_, msg, err := f.messages.Append(ctx, chat.ID, "alice", "mine")
	req.NoError(err)

	_, err = f.messages.SoftDeleteMessage(ctx, chat.ID, msg.ID, "bob")
	req.ErrorIs(err, errs.ErrForbidden)
}

func TestSoftDeleteMessage_UnknownMessage(t *testing.T) {
	f := newFixture(t)
	chat := openAccepted(t, f)

	_, err := f.messages.SoftDeleteMessage(context.Background(), chat.ID, "no-such-id", "alice")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListMessages(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := openAccepted(t, f)

	_, _, err := f.messages.Append(ctx, chat.ID, "alice", "one")
	req.NoError(err)
	_, _, err = f.messages.Append(ctx, chat.ID, "bob", "two")
	req.NoError(err)

	msgs, err := f.messages.ListMessages(ctx, chat.ID, "alice")
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal("one", msgs[0].Content)
	req.Equal("two", msgs[1].Content)

	_, err = f.messages.ListMessages(ctx, chat.ID, "mallory")
	req.ErrorIs(err, errs.ErrForbidden)
}

// Full lifecycle: request, limited pending sends, approval, reply, read.
func TestLifecycle_RequestToRead(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.chats.OpenOrCreate(ctx, "alice", "bob")
	req.NoError(err)

	_, _, err = f.messages.Append(ctx, chat.ID, "alice", "hi, can we talk?")
	req.NoError(err)
	_, _, err = f.messages.Append(ctx, chat.ID, "alice", "it's about the launch")
	req.NoError(err)
	_, _, err = f.messages.Append(ctx, chat.ID, "alice", "please?")
	req.ErrorIs(err, errs.ErrQuotaExceeded)

	_, err = f.chats.Approve(ctx, chat.ID, "bob")
	req.NoError(err)

	_, _, err = f.messages.Append(ctx, chat.ID, "bob", "sure, what's up")
	req.NoError(err)

	final, err := f.messages.MarkRead(ctx, chat.ID, "bob")
	req.NoError(err)
	req.Equal(0, final.UnreadCount["bob"])
	req.Equal(1, final.UnreadCount["alice"], "bob's reply is still unread for alice")
	req.Equal(model.MessageRead, final.Messages[0].Status)
	req.Equal(model.MessageRead, final.Messages[1].Status)
	req.Equal(model.MessageSent, final.Messages[2].Status)
}

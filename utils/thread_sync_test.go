package utils

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"leadflow/config"
	"leadflow/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))
	return db
}

func newTestEngine(t *testing.T) (*ThreadSyncEngine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewThreadSyncEngine(db, log.New(io.Discard, "", 0)), db
}

func receivedRaw(messageID, conversationID, subject, from string, at time.Time, read bool) RawMessage {
	return RawMessage{
		ProviderMessageID:      messageID,
		ProviderConversationID: conversationID,
		Subject:                subject,
		Body:                   RawBody{ContentType: "text/plain", Content: "body of " + subject},
		From:                   RawAddress{Address: from, Name: "Sender"},
		OccurredAt:             at,
		IsRead:                 read,
	}
}

func sentRaw(messageID, conversationID, subject, to string, at time.Time) RawMessage {
	return RawMessage{
		ProviderMessageID:      messageID,
		ProviderConversationID: conversationID,
		Subject:                subject,
		Body:                   RawBody{ContentType: "text/plain", Content: "body of " + subject},
		To:                     []RawAddress{{Address: to, Name: "Recipient"}},
		OccurredAt:             at,
	}
}

func TestSyncReceivedMessageIdempotent(t *testing.T) {
	engine, db := newTestEngine(t)
	now := time.Now().Truncate(time.Second)

	raw := receivedRaw("m1", "c1", "Hello", "a@x.com", now, false)

	first, err := engine.SyncReceivedMessage(1, raw)
	require.NoError(t, err)

	second, err := engine.SyncReceivedMessage(1, raw)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	db.Model(&models.ReceivedMessage{}).Where("provider_message_id = ?", "m1").Count(&count)
	assert.EqualValues(t, 1, count)

	var thread models.Thread
	require.NoError(t, db.Where("conversation_id = ?", "c1").First(&thread).Error)
	assert.Equal(t, 1, thread.MessageCount)
	assert.Equal(t, 1, thread.UnreadCount)
}

func TestSyncReceivedMessageUpdatesFieldsInPlace(t *testing.T) {
	engine, db := newTestEngine(t)
	now := time.Now().Truncate(time.Second)

	_, err := engine.SyncReceivedMessage(1, receivedRaw("m1", "c1", "Hello", "a@x.com", now, false))
	require.NoError(t, err)

	// The same message re-fetched later, now read.
	updated := receivedRaw("m1", "c1", "Hello", "a@x.com", now, true)
	_, err = engine.SyncReceivedMessage(1, updated)
	require.NoError(t, err)

	var msg models.ReceivedMessage
	require.NoError(t, db.Where("provider_message_id = ?", "m1").First(&msg).Error)
	assert.True(t, msg.IsRead)
	require.NotNil(t, msg.ThreadID)

	require.NoError(t, engine.RefreshThreadUnreadCount(*msg.ThreadID))
	var thread models.Thread
	require.NoError(t, db.First(&thread, *msg.ThreadID).Error)
	assert.Equal(t, 0, thread.UnreadCount)
}

func TestSyncMessageWithoutProviderID(t *testing.T) {
	engine, db := newTestEngine(t)
	now := time.Now().Truncate(time.Second)

	// No identity: dedup can never match, each call inserts.
	raw := receivedRaw("", "c1", "Hello", "a@x.com", now, false)
	_, err := engine.SyncReceivedMessage(1, raw)
	require.NoError(t, err)
	_, err = engine.SyncReceivedMessage(1, raw)
	require.NoError(t, err)

	var count int64
	db.Model(&models.ReceivedMessage{}).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestSyncSameMessageAcrossUsers(t *testing.T) {
	engine, db := newTestEngine(t)
	now := time.Now().Truncate(time.Second)

	// Two users CC'd on the same conversation each receive the same
	// message id; each gets their own row and their own thread.
	raw := receivedRaw("m1", "c1", "Hello", "a@x.com", now, false)

	_, err := engine.SyncReceivedMessage(1, raw)
	require.NoError(t, err)
	_, err = engine.SyncReceivedMessage(2, raw)
	require.NoError(t, err)

	var count int64
	db.Model(&models.ReceivedMessage{}).Where("provider_message_id = ?", "m1").Count(&count)
	assert.EqualValues(t, 2, count)

	var threads int64
	db.Model(&models.Thread{}).Where("conversation_id = ?", "c1").Count(&threads)
	assert.EqualValues(t, 2, threads)

	// Still idempotent within each user.
	_, err = engine.SyncReceivedMessage(2, raw)
	require.NoError(t, err)
	db.Model(&models.ReceivedMessage{}).Where("user_id = ?", 2).Count(&count)
	assert.EqualValues(t, 1, count)

	_, err = engine.SyncSentMessage(1, sentRaw("s1", "c1", "Hello", "b@x.com", now))
	require.NoError(t, err)
	_, err = engine.SyncSentMessage(2, sentRaw("s1", "c1", "Hello", "b@x.com", now))
	require.NoError(t, err)
	db.Model(&models.SentMessage{}).Where("provider_message_id = ?", "s1").Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestSyncSentMessageBackfillsAPISend(t *testing.T) {
	engine, db := newTestEngine(t)
	now := time.Now().Truncate(time.Second)

	// A send through the API records a row before the provider has
	// assigned a message id.
	apiRow := models.SentMessage{
		UserID:         1,
		RecipientEmail: "a@x.com",
		Subject:        "Hello",
		Status:         models.MessageStatusSent,
		LeadStatus:     models.LeadStatusUnassigned,
		SentAt:         &now,
	}
	require.NoError(t, db.Create(&apiRow).Error)

	synced, err := engine.SyncSentMessage(1, sentRaw("s1", "c1", "Hello", "a@x.com", now))
	require.NoError(t, err)
	assert.Equal(t, apiRow.ID, synced.ID)
	require.NotNil(t, synced.ProviderMessageID)
	assert.Equal(t, "s1", *synced.ProviderMessageID)
	require.NotNil(t, synced.ThreadID)

	var count int64
	db.Model(&models.SentMessage{}).Count(&count)
	assert.EqualValues(t, 1, count)

	var thread models.Thread
	require.NoError(t, db.First(&thread, *synced.ThreadID).Error)
	assert.Equal(t, 1, thread.MessageCount)
}

func TestSyncSentMessageSkipsFailedRowsOnBackfill(t *testing.T) {
	engine, db := newTestEngine(t)
	now := time.Now().Truncate(time.Second)

	failed := models.SentMessage{
		UserID:         1,
		RecipientEmail: "a@x.com",
		Subject:        "Hello",
		Status:         models.MessageStatusFailed,
		LeadStatus:     models.LeadStatusUnassigned,
	}
	require.NoError(t, db.Create(&failed).Error)

	// The failed row never reached the provider, so the sent-folder
	// copy is a distinct message.
	synced, err := engine.SyncSentMessage(1, sentRaw("s1", "c1", "Hello", "a@x.com", now))
	require.NoError(t, err)
	assert.NotEqual(t, failed.ID, synced.ID)

	var count int64
	db.Model(&models.SentMessage{}).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestThreadMergeMonotonicTimestamp(t *testing.T) {
	engine, _ := newTestEngine(t)
	t1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	thread, err := engine.CreateOrUpdateThread(1, ThreadCandidate{
		ConversationID:    "c1",
		Subject:           "Hello",
		ParticipantEmails: []string{"a@x.com"},
		LastMessageAt:     t1,
	})
	require.NoError(t, err)

	// Earlier candidate does not regress the timestamp.
	thread, err = engine.CreateOrUpdateThread(1, ThreadCandidate{
		ConversationID: "c1",
		Subject:        "Hello again",
		LastMessageAt:  t1.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, thread.LastMessageAt.Equal(t1))
	assert.Equal(t, "Hello again", thread.Subject)

	// Later candidate moves it forward.
	t2 := t1.Add(time.Hour)
	thread, err = engine.CreateOrUpdateThread(1, ThreadCandidate{
		ConversationID: "c1",
		Subject:        "Hello again",
		LastMessageAt:  t2,
	})
	require.NoError(t, err)
	assert.True(t, thread.LastMessageAt.Equal(t2))
}

func TestThreadMergeParticipantUnion(t *testing.T) {
	engine, _ := newTestEngine(t)
	now := time.Now()

	_, err := engine.CreateOrUpdateThread(1, ThreadCandidate{
		ConversationID:    "c1",
		ParticipantEmails: []string{"a@x.com"},
		LastMessageAt:     now,
	})
	require.NoError(t, err)

	thread, err := engine.CreateOrUpdateThread(1, ThreadCandidate{
		ConversationID:    "c1",
		ParticipantEmails: []string{"b@x.com", "a@x.com"},
		LastMessageAt:     now,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, thread.Participants())
}

func TestCounterAccuracy(t *testing.T) {
	engine, db := newTestEngine(t)
	base := time.Now().Truncate(time.Second)

	_, err := engine.SyncReceivedMessage(1, receivedRaw("r1", "c1", "Hi", "a@x.com", base, false))
	require.NoError(t, err)
	_, err = engine.SyncReceivedMessage(1, receivedRaw("r2", "c1", "Hi", "a@x.com", base.Add(time.Minute), false))
	require.NoError(t, err)
	_, err = engine.SyncReceivedMessage(1, receivedRaw("r3", "c1", "Hi", "a@x.com", base.Add(2*time.Minute), true))
	require.NoError(t, err)
	_, err = engine.SyncSentMessage(1, sentRaw("s1", "c1", "Hi", "a@x.com", base.Add(3*time.Minute)))
	require.NoError(t, err)
	_, err = engine.SyncSentMessage(1, sentRaw("s2", "c1", "Hi", "a@x.com", base.Add(4*time.Minute)))
	require.NoError(t, err)

	var thread models.Thread
	require.NoError(t, db.Where("conversation_id = ?", "c1").First(&thread).Error)

	require.NoError(t, engine.RefreshThreadMessageCount(thread.ID))
	require.NoError(t, engine.RefreshThreadUnreadCount(thread.ID))

	require.NoError(t, db.First(&thread, thread.ID).Error)
	assert.Equal(t, 5, thread.MessageCount)
	assert.Equal(t, 2, thread.UnreadCount)
}

func TestLeadStatusStableAcrossSync(t *testing.T) {
	engine, db := newTestEngine(t)
	base := time.Now().Truncate(time.Second)

	_, err := engine.SyncReceivedMessage(1, receivedRaw("r1", "c1", "Hi", "a@x.com", base, false))
	require.NoError(t, err)

	var thread models.Thread
	require.NoError(t, db.Where("conversation_id = ?", "c1").First(&thread).Error)
	assert.Equal(t, models.LeadStatusUnassigned, thread.LeadStatus)

	// Manual user action.
	require.NoError(t, db.Model(&thread).Update("lead_status", models.LeadStatusHot).Error)

	for i := 0; i < 3; i++ {
		_, err = engine.SyncReceivedMessage(1, receivedRaw("r1", "c1", "Hi", "a@x.com", base, false))
		require.NoError(t, err)
		_, err = engine.SyncReceivedMessage(1, receivedRaw("r2", "c1", "Hi again", "b@x.com", base.Add(time.Minute), false))
		require.NoError(t, err)
	}

	require.NoError(t, db.First(&thread, thread.ID).Error)
	assert.Equal(t, models.LeadStatusHot, thread.LeadStatus)
}

func TestNewThreadIgnoresSuggestedStatus(t *testing.T) {
	engine, _ := newTestEngine(t)

	thread, err := engine.CreateOrUpdateThread(1, ThreadCandidate{
		ConversationID: "c-new",
		LastMessageAt:  time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusUnassigned, thread.LeadStatus)
	assert.Equal(t, 0, thread.MessageCount)
}

func TestGetThreadMessagesOrderingAndLegacyFallback(t *testing.T) {
	engine, db := newTestEngine(t)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := engine.SyncReceivedMessage(1, receivedRaw("r1", "c1", "Hi", "a@x.com", base.Add(2*time.Hour), false))
	require.NoError(t, err)

	var thread models.Thread
	require.NoError(t, db.Where("conversation_id = ?", "c1").First(&thread).Error)

	// Legacy row: conversation id set but never stamped with a thread id.
	sentAt := base
	legacy := models.SentMessage{
		UserID:                 1,
		ProviderConversationID: "c1",
		RecipientEmail:         "a@x.com",
		Subject:                "Hi",
		Status:                 models.MessageStatusSent,
		LeadStatus:             models.LeadStatusUnassigned,
		SentAt:                 &sentAt,
	}
	require.NoError(t, db.Create(&legacy).Error)

	messages, err := engine.GetThreadMessages(&thread)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "sent", messages[0].Kind)
	assert.Equal(t, "received", messages[1].Kind)
	assert.True(t, messages[0].OccurredAt().Before(messages[1].OccurredAt()))
}

type fakeProvider struct {
	inbox    []RawMessage
	sent     []RawMessage
	inboxErr error
	sentErr  error
}

func (p *fakeProvider) FetchMessages(folder string, opts FetchOptions) ([]RawMessage, error) {
	if folder == FolderInbox {
		return p.inbox, p.inboxErr
	}
	return p.sent, p.sentErr
}

func (p *fakeProvider) SendMessage(msg OutgoingMessage) error { return nil }

func TestRunSyncPass(t *testing.T) {
	engine, db := newTestEngine(t)
	base := time.Now().Truncate(time.Second)

	provider := &fakeProvider{
		inbox: []RawMessage{
			receivedRaw("r1", "c1", "Hi", "a@x.com", base, false),
			receivedRaw("r2", "c2", "Yo", "b@x.com", base, true),
		},
		sent: []RawMessage{
			sentRaw("s1", "c1", "Hi", "a@x.com", base.Add(time.Minute)),
		},
	}

	result, err := engine.RunSyncPass(1, provider, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, result.InboxProcessed)
	assert.Equal(t, 1, result.SentProcessed)
	assert.Equal(t, 0, result.Failed)

	var threads int64
	db.Model(&models.Thread{}).Count(&threads)
	assert.EqualValues(t, 2, threads)

	// The pass leaves an audit trail.
	var logged int64
	db.Model(&models.ActivityLog{}).Where("action = ?", models.ActionSyncCompleted).Count(&logged)
	assert.EqualValues(t, 1, logged)

	// Rerunning the pass unchanged is a no-op on the stores.
	result, err = engine.RunSyncPass(1, provider, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, result.InboxProcessed)

	var received int64
	db.Model(&models.ReceivedMessage{}).Count(&received)
	assert.EqualValues(t, 2, received)
}

func TestRunSyncPassProviderErrorAborts(t *testing.T) {
	engine, db := newTestEngine(t)

	provider := &fakeProvider{inboxErr: errors.New("auth failed")}
	_, err := engine.RunSyncPass(1, provider, 50)
	require.Error(t, err)

	var count int64
	db.Model(&models.ReceivedMessage{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestRunSyncPassSentFetchErrorKeepsInboxProgress(t *testing.T) {
	engine, db := newTestEngine(t)
	base := time.Now().Truncate(time.Second)

	provider := &fakeProvider{
		inbox:   []RawMessage{receivedRaw("r1", "c1", "Hi", "a@x.com", base, false)},
		sentErr: errors.New("connection reset"),
	}

	result, err := engine.RunSyncPass(1, provider, 50)
	require.Error(t, err)
	assert.Equal(t, 1, result.InboxProcessed)

	// Messages processed before the failure stay committed.
	var count int64
	db.Model(&models.ReceivedMessage{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

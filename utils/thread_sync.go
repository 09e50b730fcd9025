package utils

import (
	"errors"
	"log"
	"sort"
	"time"

	"leadflow/models"

	"gorm.io/gorm"
)

// ThreadSyncEngine converts raw provider messages into deduplicated
// message rows attached to merged threads. Every operation is
// idempotent: concurrent passes over the same mailbox converge to the
// same state without coordination.
type ThreadSyncEngine struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewThreadSyncEngine(db *gorm.DB, logger *log.Logger) *ThreadSyncEngine {
	return &ThreadSyncEngine{
		DB:     db,
		Logger: logger,
	}
}

// ThreadCandidate carries the thread-level fields of a single raw
// message into CreateOrUpdateThread.
type ThreadCandidate struct {
	ConversationID    string
	Subject           string
	ParticipantEmails []string
	LastMessageAt     time.Time
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	InboxProcessed int `json:"inbox_processed"`
	SentProcessed  int `json:"sent_processed"`
	Failed         int `json:"failed"`
}

// SyncReceivedMessage upserts one inbox message. Calling it repeatedly
// with the same provider message id never duplicates the row and never
// double-counts the thread counters.
func (e *ThreadSyncEngine) SyncReceivedMessage(userID uint, raw RawMessage) (*models.ReceivedMessage, error) {
	thread, err := e.resolveThread(userID, raw, []string{raw.From.Address})
	if err != nil {
		return nil, err
	}

	var threadID *uint
	if thread != nil {
		threadID = &thread.ID
	}

	receivedAt := raw.OccurredAt

	// Existence check by provider message id. An empty id carries no
	// identity: it can never match, so the row below is inserted fresh.
	if raw.ProviderMessageID != "" {
		var existing models.ReceivedMessage
		err := e.DB.Where("user_id = ? AND provider_message_id = ?", userID, raw.ProviderMessageID).
			First(&existing).Error
		if err == nil {
			e.applyReceivedFields(&existing, raw, threadID)
			if err := e.DB.Save(&existing).Error; err != nil {
				return nil, err
			}
			// Counters already reflect this message, no recount.
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	msg := models.ReceivedMessage{
		UserID:                 userID,
		ProviderConversationID: raw.ProviderConversationID,
		ThreadID:               threadID,
		SenderEmail:            raw.From.Address,
		SenderName:             raw.From.Name,
		Subject:                raw.Subject,
		Body:                   raw.Body.Content,
		BodyPreview:            raw.BodyPreview,
		IsRead:                 raw.IsRead,
		HasAttachments:         raw.HasAttachments,
		ReceivedAt:             &receivedAt,
	}
	if raw.ProviderMessageID != "" {
		msg.ProviderMessageID = Pointer(raw.ProviderMessageID)
	}

	if err := e.DB.Create(&msg).Error; err != nil {
		// Two passes can both observe "not found" and race the insert;
		// the unique index is the backstop. Reroute the loser to the
		// update path.
		if raw.ProviderMessageID != "" {
			var existing models.ReceivedMessage
			lookupErr := e.DB.Where("user_id = ? AND provider_message_id = ?", userID, raw.ProviderMessageID).
				First(&existing).Error
			if lookupErr == nil {
				e.applyReceivedFields(&existing, raw, threadID)
				if saveErr := e.DB.Save(&existing).Error; saveErr != nil {
					return nil, saveErr
				}
				return &existing, nil
			}
		}
		return nil, err
	}

	if thread != nil {
		if err := e.RefreshThreadMessageCount(thread.ID); err != nil {
			return nil, err
		}
		if err := e.RefreshThreadUnreadCount(thread.ID); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

// SyncSentMessage upserts one sent-folder message, symmetric to
// SyncReceivedMessage with recipients feeding the participant set.
func (e *ThreadSyncEngine) SyncSentMessage(userID uint, raw RawMessage) (*models.SentMessage, error) {
	var participants []string
	for _, to := range raw.To {
		participants = append(participants, to.Address)
	}

	thread, err := e.resolveThread(userID, raw, participants)
	if err != nil {
		return nil, err
	}

	var threadID *uint
	if thread != nil {
		threadID = &thread.ID
	}

	sentAt := raw.OccurredAt

	if raw.ProviderMessageID != "" {
		var existing models.SentMessage
		err := e.DB.Where("user_id = ? AND provider_message_id = ?", userID, raw.ProviderMessageID).
			First(&existing).Error
		if err == nil {
			e.applySentFields(&existing, raw, threadID)
			if err := e.DB.Save(&existing).Error; err != nil {
				return nil, err
			}
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		// A row recorded at API send time has no provider id yet; its
		// sent-folder copy back-fills that row instead of inserting a
		// duplicate. Failed sends never reached the provider and are
		// excluded from matching.
		var pending models.SentMessage
		err = e.DB.Where(
			"user_id = ? AND provider_message_id IS NULL AND recipient_email = ? AND subject = ? AND status <> ?",
			userID, firstOrEmpty(participants), raw.Subject, models.MessageStatusFailed,
		).Order("created_at DESC").First(&pending).Error
		if err == nil {
			e.applySentFields(&pending, raw, threadID)
			pending.ProviderMessageID = Pointer(raw.ProviderMessageID)
			if err := e.DB.Save(&pending).Error; err != nil {
				return nil, err
			}
			if thread != nil {
				if err := e.RefreshThreadMessageCount(thread.ID); err != nil {
					return nil, err
				}
				if err := e.RefreshThreadUnreadCount(thread.ID); err != nil {
					return nil, err
				}
			}
			return &pending, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	msg := models.SentMessage{
		UserID:                 userID,
		ProviderConversationID: raw.ProviderConversationID,
		ThreadID:               threadID,
		RecipientEmail:         firstOrEmpty(participants),
		Subject:                raw.Subject,
		Body:                   raw.Body.Content,
		Status:                 models.MessageStatusSent,
		LeadStatus:             models.LeadStatusUnassigned,
		SentAt:                 &sentAt,
	}
	if len(raw.To) > 0 {
		msg.RecipientName = raw.To[0].Name
	}
	if raw.ProviderMessageID != "" {
		msg.ProviderMessageID = Pointer(raw.ProviderMessageID)
	}

	if err := e.DB.Create(&msg).Error; err != nil {
		if raw.ProviderMessageID != "" {
			var existing models.SentMessage
			lookupErr := e.DB.Where("user_id = ? AND provider_message_id = ?", userID, raw.ProviderMessageID).
				First(&existing).Error
			if lookupErr == nil {
				e.applySentFields(&existing, raw, threadID)
				if saveErr := e.DB.Save(&existing).Error; saveErr != nil {
					return nil, saveErr
				}
				return &existing, nil
			}
		}
		return nil, err
	}

	if thread != nil {
		if err := e.RefreshThreadMessageCount(thread.ID); err != nil {
			return nil, err
		}
		if err := e.RefreshThreadUnreadCount(thread.ID); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

// resolveThread maps a raw message to its thread. With no conversation
// id the message's own provider id stands in; a message with neither
// stays unthreaded.
func (e *ThreadSyncEngine) resolveThread(userID uint, raw RawMessage, participants []string) (*models.Thread, error) {
	conversationID := raw.ProviderConversationID
	if conversationID == "" {
		conversationID = raw.ProviderMessageID
	}
	if conversationID == "" {
		return nil, nil
	}
	return e.CreateOrUpdateThread(userID, ThreadCandidate{
		ConversationID:    conversationID,
		Subject:           raw.Subject,
		ParticipantEmails: participants,
		LastMessageAt:     raw.OccurredAt,
	})
}

// CreateOrUpdateThread finds the thread for a conversation id, creating
// it if missing and merging the candidate into it otherwise. The merge
// never touches counters or lead status: counters come exclusively from
// the refresh operations, lead status only from explicit user action.
func (e *ThreadSyncEngine) CreateOrUpdateThread(userID uint, candidate ThreadCandidate) (*models.Thread, error) {
	var thread models.Thread
	err := e.DB.Where("user_id = ? AND conversation_id = ?", userID, candidate.ConversationID).
		First(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lastMessageAt := candidate.LastMessageAt
		thread = models.Thread{
			UserID:         userID,
			ConversationID: candidate.ConversationID,
			Subject:        candidate.Subject,
			LeadStatus:     models.LeadStatusUnassigned,
			MessageCount:   0,
			UnreadCount:    0,
			LastMessageAt:  &lastMessageAt,
		}
		thread.SetParticipants(dedupeEmails(candidate.ParticipantEmails))
		if createErr := e.DB.Create(&thread).Error; createErr != nil {
			// Concurrent pass created it first; fall through to merge.
			if lookupErr := e.DB.Where("user_id = ? AND conversation_id = ?", userID, candidate.ConversationID).
				First(&thread).Error; lookupErr != nil {
				return nil, createErr
			}
			return e.mergeThread(&thread, candidate)
		}
		return &thread, nil
	}
	if err != nil {
		return nil, err
	}
	return e.mergeThread(&thread, candidate)
}

func (e *ThreadSyncEngine) mergeThread(thread *models.Thread, candidate ThreadCandidate) (*models.Thread, error) {
	thread.Subject = candidate.Subject

	// lastMessageAt is monotonic, it never regresses.
	if thread.LastMessageAt == nil || candidate.LastMessageAt.After(*thread.LastMessageAt) {
		lastMessageAt := candidate.LastMessageAt
		thread.LastMessageAt = &lastMessageAt
	}

	thread.SetParticipants(dedupeEmails(append(thread.Participants(), candidate.ParticipantEmails...)))

	if err := e.DB.Save(thread).Error; err != nil {
		return nil, err
	}
	return thread, nil
}

// RefreshThreadMessageCount recomputes a thread's message count from
// the message tables. Pure recomputation, safe to call redundantly.
func (e *ThreadSyncEngine) RefreshThreadMessageCount(threadID uint) error {
	var sent, received int64
	if err := e.DB.Model(&models.SentMessage{}).
		Where("thread_id = ?", threadID).
		Count(&sent).Error; err != nil {
		return err
	}
	if err := e.DB.Model(&models.ReceivedMessage{}).
		Where("thread_id = ?", threadID).
		Count(&received).Error; err != nil {
		return err
	}
	return e.DB.Model(&models.Thread{}).
		Where("id = ?", threadID).
		Update("message_count", sent+received).Error
}

// RefreshThreadUnreadCount recomputes a thread's unread count from the
// received messages table.
func (e *ThreadSyncEngine) RefreshThreadUnreadCount(threadID uint) error {
	var unread int64
	if err := e.DB.Model(&models.ReceivedMessage{}).
		Where("thread_id = ? AND is_read = ?", threadID, false).
		Count(&unread).Error; err != nil {
		return err
	}
	return e.DB.Model(&models.Thread{}).
		Where("id = ?", threadID).
		Update("unread_count", unread).Error
}

// ThreadMessage is the tagged sent/received union used when merging a
// thread's messages for display.
type ThreadMessage struct {
	Kind     string                  `json:"kind"` // "sent" or "received"
	Sent     *models.SentMessage     `json:"sent,omitempty"`
	Received *models.ReceivedMessage `json:"received,omitempty"`
}

// OccurredAt returns the message timestamp; missing timestamps sort as
// epoch zero.
func (m ThreadMessage) OccurredAt() time.Time {
	if m.Kind == "sent" && m.Sent != nil && m.Sent.SentAt != nil {
		return *m.Sent.SentAt
	}
	if m.Kind == "received" && m.Received != nil && m.Received.ReceivedAt != nil {
		return *m.Received.ReceivedAt
	}
	return time.Time{}
}

// GetThreadMessages returns the thread's sent and received messages,
// matched by thread id or, for legacy rows never stamped with one, by
// conversation id. Sorted ascending by timestamp.
func (e *ThreadSyncEngine) GetThreadMessages(thread *models.Thread) ([]ThreadMessage, error) {
	var sent []models.SentMessage
	if err := e.DB.Where(
		"user_id = ? AND (thread_id = ? OR (thread_id IS NULL AND provider_conversation_id = ? AND provider_conversation_id <> ''))",
		thread.UserID, thread.ID, thread.ConversationID,
	).Find(&sent).Error; err != nil {
		return nil, err
	}

	var received []models.ReceivedMessage
	if err := e.DB.Where(
		"user_id = ? AND (thread_id = ? OR (thread_id IS NULL AND provider_conversation_id = ? AND provider_conversation_id <> ''))",
		thread.UserID, thread.ID, thread.ConversationID,
	).Find(&received).Error; err != nil {
		return nil, err
	}

	messages := make([]ThreadMessage, 0, len(sent)+len(received))
	for i := range sent {
		messages = append(messages, ThreadMessage{Kind: "sent", Sent: &sent[i]})
	}
	for i := range received {
		messages = append(messages, ThreadMessage{Kind: "received", Received: &received[i]})
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].OccurredAt().Before(messages[j].OccurredAt())
	})
	return messages, nil
}

// RunSyncPass fetches the most recent inbox and sent-folder messages
// from the provider and reconciles them. A provider fetch error aborts
// the pass; a single message failure is logged and the batch continues.
func (e *ThreadSyncEngine) RunSyncPass(userID uint, provider MailProvider, fetchLimit int) (SyncResult, error) {
	var result SyncResult

	inbox, err := provider.FetchMessages(FolderInbox, FetchOptions{Limit: fetchLimit})
	if err != nil {
		LogError("sync_fetch_failed", err, map[string]interface{}{
			"user_id": userID,
			"folder":  FolderInbox,
		})
		return result, err
	}
	for _, raw := range inbox {
		if _, err := e.SyncReceivedMessage(userID, raw); err != nil {
			e.Logger.Printf("Failed to sync received message %q: %v", raw.ProviderMessageID, err)
			result.Failed++
			continue
		}
		result.InboxProcessed++
	}

	sentFolder, err := provider.FetchMessages(FolderSent, FetchOptions{Limit: fetchLimit})
	if err != nil {
		LogError("sync_fetch_failed", err, map[string]interface{}{
			"user_id": userID,
			"folder":  FolderSent,
		})
		return result, err
	}
	for _, raw := range sentFolder {
		if _, err := e.SyncSentMessage(userID, raw); err != nil {
			e.Logger.Printf("Failed to sync sent message %q: %v", raw.ProviderMessageID, err)
			result.Failed++
			continue
		}
		result.SentProcessed++
	}

	RecordActivity(e.DB, userID, models.ActionSyncCompleted, "", 0, map[string]interface{}{
		"inbox_processed": result.InboxProcessed,
		"sent_processed":  result.SentProcessed,
		"failed":          result.Failed,
	})
	return result, nil
}

func (e *ThreadSyncEngine) applyReceivedFields(msg *models.ReceivedMessage, raw RawMessage, threadID *uint) {
	receivedAt := raw.OccurredAt
	msg.ProviderConversationID = raw.ProviderConversationID
	msg.ThreadID = threadID
	msg.SenderEmail = raw.From.Address
	msg.SenderName = raw.From.Name
	msg.Subject = raw.Subject
	msg.Body = raw.Body.Content
	msg.BodyPreview = raw.BodyPreview
	msg.IsRead = raw.IsRead
	msg.HasAttachments = raw.HasAttachments
	msg.ReceivedAt = &receivedAt
}

func (e *ThreadSyncEngine) applySentFields(msg *models.SentMessage, raw RawMessage, threadID *uint) {
	sentAt := raw.OccurredAt
	msg.ProviderConversationID = raw.ProviderConversationID
	msg.ThreadID = threadID
	if len(raw.To) > 0 {
		msg.RecipientEmail = raw.To[0].Address
		msg.RecipientName = raw.To[0].Name
	}
	msg.Subject = raw.Subject
	msg.Body = raw.Body.Content
	msg.Status = models.MessageStatusSent
	msg.SentAt = &sentAt
}

func dedupeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	var result []string
	for _, email := range emails {
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		result = append(result, email)
	}
	return result
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

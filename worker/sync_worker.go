package worker

import (
	"context"
	"log"
	"time"

	"leadflow/models"
	"leadflow/utils"

	"gorm.io/gorm"
)

// SyncWorker polls every connected mailbox on a fixed interval. Each
// pass runs to completion before the next tick; overlapping manual
// syncs are safe because every engine operation is idempotent.
type SyncWorker struct {
	db       *gorm.DB
	engine   *utils.ThreadSyncEngine
	logger   *log.Logger
	interval time.Duration
	limit    int
}

func NewSyncWorker(db *gorm.DB, logger *log.Logger, interval time.Duration, fetchLimit int) *SyncWorker {
	return &SyncWorker{
		db:       db,
		engine:   utils.NewThreadSyncEngine(db, logger),
		logger:   logger,
		interval: interval,
		limit:    fetchLimit,
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	sw.logger.Println("Starting sync worker...")
	ticker := time.NewTicker(sw.interval)

	for {
		select {
		case <-ticker.C:
			sw.syncAllMailboxes()
		case <-ctx.Done():
			sw.logger.Println("Stopping sync worker...")
			ticker.Stop()
			return
		}
	}
}

func (sw *SyncWorker) syncAllMailboxes() {
	var mailboxes []models.Mailbox
	if err := sw.db.Where("imap_host IS NOT NULL AND imap_host != ''").Find(&mailboxes).Error; err != nil {
		sw.logger.Printf("Failed to fetch mailboxes: %v", err)
		return
	}

	for i := range mailboxes {
		mailbox := &mailboxes[i]
		provider := utils.NewIMAPProvider(mailbox)

		// A provider failure aborts this mailbox's pass; the next tick
		// retries from scratch, dedup makes the re-fetch safe.
		result, err := sw.engine.RunSyncPass(mailbox.UserID, provider, sw.limit)
		if err != nil {
			sw.logger.Printf("Sync pass failed for user %d: %v", mailbox.UserID, err)
			continue
		}
		if result.InboxProcessed > 0 || result.SentProcessed > 0 || result.Failed > 0 {
			sw.logger.Printf("Synced user %d: %d inbox, %d sent, %d failed",
				mailbox.UserID, result.InboxProcessed, result.SentProcessed, result.Failed)
		}
	}
}

package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
	"github.com/abuccarelli/Unicorn1/pkg/retry"
)

// NotifierConfig tunes notification dispatch.
type NotifierConfig struct {
	// DedupWindow suppresses a second message notification for the same
	// conversation landing right after the first. Rapid-fire sends produce
	// one bell, not ten.
	DedupWindow time.Duration

	Retry retry.Policy
}

func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		DedupWindow: 10 * time.Second,
		Retry:       retry.DefaultPolicy(),
	}
}

// Notifier creates message notifications for recipients. Strictly
// best-effort: by the time it runs the message is already delivered, so
// nothing here may fail the send path.
type Notifier struct {
	store NotificationStore
	cfg   NotifierConfig
	log   zerolog.Logger
}

func NewNotifier(store NotificationStore, cfg NotifierConfig) *Notifier {
	return &Notifier{store: store, cfg: cfg, log: logger.With("notify")}
}

// Notify enqueues one message notification for the recipient, pointing at
// the conversation. Duplicates inside the dedup window are dropped; transient
// store failures are retried within bounds and then logged and forgotten.
func (n *Notifier) Notify(ctx context.Context, recipientID, conversationID string) {
	link := "/messages/" + conversationID

	if n.cfg.DedupWindow > 0 {
		exists, err := n.store.RecentExists(ctx, recipientID, link, time.Now().Add(-n.cfg.DedupWindow))
		if err != nil {
			n.log.Warn().Err(err).Msg("Notification dedup check failed, inserting anyway")
		} else if exists {
			return
		}
	}

	notification := &models.Notification{
		UserID:  recipientID,
		Type:    models.NotificationTypeMessage,
		Title:   "New Message",
		Content: "You have a new message",
		Link:    link,
		Read:    false,
	}

	err := n.cfg.Retry.Do(ctx, "notification insert", func(ctx context.Context) error {
		return n.store.Insert(ctx, notification)
	})
	if err != nil {
		n.log.Error().
			Err(err).
			Str("recipient", recipientID).
			Str("conversation", conversationID).
			Msg("Notification dispatch failed")
	}
}

// Package store is the persistence layer of the realtime core: GORM-backed
// message, attachment, conversation and notification access, plus the blob
// store for attachment payloads. Row inserts are re-published on the channel
// transport so live subscriptions fire.
package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/internal/realtime"
	"github.com/abuccarelli/Unicorn1/pkg/logger"
)

type Store struct {
	db        *gorm.DB
	publisher realtime.Publisher
}

func New(db *gorm.DB, publisher realtime.Publisher) *Store {
	return &Store{db: db, publisher: publisher}
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Preload("Attachments").
		Find(&messages).Error
	return messages, err
}

// InsertMessage persists the row and surfaces it on the conversation's
// message channel. The publish is best-effort: the row exists either way,
// and clients recover it on their next fetch.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}
	if err := s.publisher.PublishInsert(ctx, realtime.MessagesChannel(msg.ConversationID), msg); err != nil {
		logger.Warn().Err(err).Str("message", msg.ID).Msg("Row event publish failed")
	}
	return nil
}

func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]models.MessageAttachment, error) {
	var attachments []models.MessageAttachment
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Find(&attachments).Error
	return attachments, err
}

func (s *Store) InsertAttachments(ctx context.Context, attachments []models.MessageAttachment) error {
	if len(attachments) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&attachments).Error
}

// MarkRead stamps read_at on unread rows only, so marking an already-read
// message again touches nothing.
func (s *Store) MarkRead(ctx context.Context, messageIDs []string, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id IN ? AND read_at IS NULL", messageIDs).
		Update("read_at", at).Error
}

func (s *Store) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Store) TouchConversation(ctx context.Context, id, lastMessage string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_message": lastMessage,
			"updated_at":   at,
		}).Error
}

// Notifications is the notification-table store, kept as its own type so
// its read-state methods don't collide with the message ones.
type Notifications struct {
	db        *gorm.DB
	publisher realtime.Publisher
}

func NewNotifications(db *gorm.DB, publisher realtime.Publisher) *Notifications {
	return &Notifications{db: db, publisher: publisher}
}

// Insert persists a notification and surfaces it on the recipient's
// notification channel.
func (s *Notifications) Insert(ctx context.Context, n *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return err
	}
	if err := s.publisher.PublishInsert(ctx, realtime.NotificationsChannel(n.UserID), n); err != nil {
		logger.Warn().Err(err).Str("notification", n.ID).Msg("Notification event publish failed")
	}
	return nil
}

func (s *Notifications) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	var notifications []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&notifications).Error
	return notifications, err
}

func (s *Notifications) MarkRead(ctx context.Context, userID, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true).Error
}

func (s *Notifications) MarkAllRead(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
}

func (s *Notifications) RecentExists(ctx context.Context, userID, link string, since time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND link = ? AND read = ? AND created_at > ?", userID, link, false, since).
		Count(&count).Error
	return count > 0, err
}

package realtime

import (
	"context"
	"io"
	"time"

	"github.com/abuccarelli/Unicorn1/internal/models"
)

// MessageStore is the slice of the persistence layer the message sync engine
// needs. Implemented by internal/store over GORM; tests use in-memory fakes.
type MessageStore interface {
	// ListMessages returns the conversation's messages ascending by
	// created_at with attachments populated.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)

	// InsertMessage persists the message, assigning its id and server-side
	// created_at, and surfaces the row on the conversation's message channel.
	InsertMessage(ctx context.Context, msg *models.Message) error

	// ListAttachments returns the attachments of a single message. Used by
	// the live-insert path, where attachment rows land after the message row.
	ListAttachments(ctx context.Context, messageID string) ([]models.MessageAttachment, error)

	InsertAttachments(ctx context.Context, attachments []models.MessageAttachment) error

	// MarkRead stamps read_at on the given messages. Rows already read are
	// left untouched, so re-marking is a no-op.
	MarkRead(ctx context.Context, messageIDs []string, at time.Time) error

	Conversation(ctx context.Context, id string) (*models.Conversation, error)

	// TouchConversation bumps last_message/updated_at after a send.
	TouchConversation(ctx context.Context, id, lastMessage string, at time.Time) error
}

// NotificationStore backs notification dispatch and the per-user feed.
type NotificationStore interface {
	Insert(ctx context.Context, n *models.Notification) error

	// ListForUser returns the user's notifications descending by created_at.
	ListForUser(ctx context.Context, userID string) ([]models.Notification, error)

	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error

	// RecentExists reports whether an unread notification with the same
	// link was created for the user since the given time. Dedup guard.
	RecentExists(ctx context.Context, userID, link string, since time.Time) (bool, error)
}

// BlobStore uploads attachment payloads and derives their public URLs.
type BlobStore interface {
	Upload(ctx context.Context, path, contentType string, r io.Reader) (publicURL string, err error)
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is a chat message inside a conversation. Messages are immutable
// after creation except for ReadAt, which the recipient's client sets exactly
// once on first view.
type Message struct {
	ID             string     `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string     `gorm:"index;type:text;not null" json:"conversationId"`
	SenderID       string     `gorm:"index;type:text;not null" json:"senderId"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time  `gorm:"index" json:"createdAt"`
	ReadAt         *time.Time `json:"readAt"`

	// ClientMessageID carries the sender's optimistic correlation id so the
	// live-insert path can be matched against a still-pending local send.
	ClientMessageID *string `gorm:"index;type:text" json:"clientMessageId,omitempty"`

	Attachments []MessageAttachment `gorm:"foreignKey:MessageID" json:"attachments"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return
}

// MessageAttachment is file metadata written alongside a message. The blob
// itself lives in the attachment store under FilePath. Never mutated.
type MessageAttachment struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	MessageID string    `gorm:"index;type:text;not null" json:"messageId"`
	FileName  string    `gorm:"type:text;not null" json:"fileName"`
	FileSize  int64     `json:"fileSize"`
	FileType  string    `gorm:"type:text" json:"fileType"`
	FilePath  string    `gorm:"type:text;not null" json:"filePath"`
	PublicURL string    `gorm:"type:text" json:"publicUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *MessageAttachment) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}

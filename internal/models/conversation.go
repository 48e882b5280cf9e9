package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is a two-party thread between a student and a teacher. Threads
// are created by the booking flow before any message is sent; the messaging
// core only appends to them and bumps LastMessage/UpdatedAt on send.
type Conversation struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	StudentID   string    `gorm:"index;type:text;not null" json:"studentId"`
	TeacherID   string    `gorm:"index;type:text;not null" json:"teacherId"`
	LastMessage string    `gorm:"type:text" json:"lastMessage"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `gorm:"index" json:"updatedAt"`

	Messages []Message `gorm:"foreignKey:ConversationID" json:"-"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// OtherParticipant returns the participant that is not userID. Conversations
// are always two-party, so this is the message recipient on send.
func (c *Conversation) OtherParticipant(userID string) string {
	if userID == c.StudentID {
		return c.TeacherID
	}
	return c.StudentID
}

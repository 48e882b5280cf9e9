package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationTypeMessage NotificationType = "message"
	NotificationTypeBooking NotificationType = "booking"
	NotificationTypeSystem  NotificationType = "system"
)

type Notification struct {
	ID        string           `gorm:"primaryKey;type:text" json:"id"`
	UserID    string           `gorm:"index;type:text;not null" json:"userId"` // Recipient
	Type      NotificationType `gorm:"type:varchar(20);not null" json:"type"`
	Title     string           `gorm:"type:text" json:"title"`
	Content   string           `gorm:"type:text" json:"content"`
	Link      string           `gorm:"type:text" json:"link"`
	Read      bool             `gorm:"default:false" json:"read"`
	CreatedAt time.Time        `gorm:"index" json:"createdAt"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	return
}

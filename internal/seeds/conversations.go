package seeds

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/abuccarelli/Unicorn1/internal/database"
	"github.com/abuccarelli/Unicorn1/internal/models"
)

// SeedConversations creates a couple of student/teacher threads with message
// history so a freshly started agent has something to show.
func SeedConversations(studentID, teacherID string) error {
	log.Println("💬 Seeding Conversations...")

	conversations := []struct {
		id       string
		messages []models.Message
	}{
		{
			id: uuid.New().String(),
			messages: []models.Message{
				{SenderID: studentID, Content: "Hi! I have a question about tomorrow's lesson."},
				{SenderID: teacherID, Content: "Of course, what would you like to know?"},
				{SenderID: studentID, Content: "Could we start half an hour later?"},
			},
		},
		{
			id: uuid.New().String(),
			messages: []models.Message{
				{SenderID: teacherID, Content: "I've attached the exercises for next week."},
			},
		},
	}

	now := time.Now()
	for _, c := range conversations {
		conv := models.Conversation{
			ID:        c.id,
			StudentID: studentID,
			TeacherID: teacherID,
		}

		base := now.Add(-time.Duration(len(c.messages)) * time.Hour)
		for i := range c.messages {
			c.messages[i].ConversationID = c.id
			c.messages[i].CreatedAt = base.Add(time.Duration(i) * time.Hour)
			conv.LastMessage = c.messages[i].Content
			conv.UpdatedAt = c.messages[i].CreatedAt
		}

		if err := database.DB.Create(&conv).Error; err != nil {
			return err
		}
		if err := database.DB.Create(&c.messages).Error; err != nil {
			return err
		}
		log.Printf("   ✅ Conversation %s (%d messages)", c.id, len(c.messages))
	}

	return nil
}

// SeedNotifications gives the student an unread bell to start from.
func SeedNotifications(userID string) error {
	log.Println("🔔 Seeding Notifications...")

	notifications := []models.Notification{
		{
			UserID:  userID,
			Type:    models.NotificationTypeMessage,
			Title:   "New Message",
			Content: "You have a new message",
			Link:    "/messages/seeded",
		},
		{
			UserID:  userID,
			Type:    models.NotificationTypeSystem,
			Title:   "Welcome",
			Content: "Your account is ready",
			Link:    "/",
		},
	}

	for i := range notifications {
		if err := database.DB.Create(&notifications[i]).Error; err != nil {
			return err
		}
	}

	log.Printf("   ✅ %d notifications", len(notifications))
	return nil
}

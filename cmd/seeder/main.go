package main

import (
	"flag"
	"log"

	"github.com/abuccarelli/Unicorn1/internal/config"
	"github.com/abuccarelli/Unicorn1/internal/database"
	"github.com/abuccarelli/Unicorn1/internal/models"
	"github.com/abuccarelli/Unicorn1/internal/seeds"
)

func main() {
	studentID := flag.String("student", "student-1", "student user id")
	teacherID := flag.String("teacher", "teacher-1", "teacher user id")
	flag.Parse()

	config.LoadConfig()
	database.Connect()

	log.Println("🔄 Running migrations (just in case)...")
	if err := database.DB.AutoMigrate(
		&models.Conversation{},
		&models.Message{},
		&models.MessageAttachment{},
		&models.Notification{},
	); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("🗑️  Clearing Tables...")
	if err := database.DB.Exec("TRUNCATE TABLE conversations, messages, message_attachments, notifications RESTART IDENTITY CASCADE").Error; err != nil {
		log.Fatalf("❌ Failed to truncate: %v", err)
	}

	if err := seeds.SeedConversations(*studentID, *teacherID); err != nil {
		log.Fatalf("❌ Seeding conversations failed: %v", err)
	}
	if err := seeds.SeedNotifications(*studentID); err != nil {
		log.Fatalf("❌ Seeding notifications failed: %v", err)
	}

	log.Println("✅ Seeding complete")
}

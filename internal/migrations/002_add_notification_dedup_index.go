package migrations

import (
	"gorm.io/gorm"
)

// Migration002AddNotificationDedupIndex covers the dedup-window check that
// runs before every notification insert:
// WHERE user_id = ? AND link = ? AND read = false AND created_at > ?
func Migration002AddNotificationDedupIndex() Migration {
	return Migration{
		ID:   "002_add_notification_dedup_index",
		Name: "Add index for the notification dedup-window lookup",
		Up: func(db *gorm.DB) error {
			idx := `
				CREATE INDEX IF NOT EXISTS idx_notifications_dedup
				ON notifications (user_id, link, created_at)
				WHERE read = false
			`
			return db.Exec(idx).Error
		},
		Down: func(db *gorm.DB) error {
			return db.Exec(`DROP INDEX IF EXISTS idx_notifications_dedup`).Error
		},
	}
}

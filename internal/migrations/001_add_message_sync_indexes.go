package migrations

import (
	"gorm.io/gorm"
)

// Migration001AddMessageSyncIndexes adds composite indexes for the hot
// message-sync queries:
// 1. History fetch: WHERE conversation_id = ? ORDER BY created_at ASC
// 2. Unread scan on open: WHERE conversation_id = ? AND read_at IS NULL
//
// All indexes are idempotent (IF NOT EXISTS) for safe re-runs.
func Migration001AddMessageSyncIndexes() Migration {
	return Migration{
		ID:   "001_add_message_sync_indexes",
		Name: "Add composite indexes for message history and unread queries",
		Up: func(db *gorm.DB) error {
			idx1 := `
				CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
				ON messages (conversation_id, created_at)
			`
			if err := db.Exec(idx1).Error; err != nil {
				return err
			}

			// Partial index: only unread rows, which is what the open-path
			// read-receipt scan touches.
			idx2 := `
				CREATE INDEX IF NOT EXISTS idx_messages_unread
				ON messages (conversation_id)
				WHERE read_at IS NULL
			`
			return db.Exec(idx2).Error
		},
		Down: func(db *gorm.DB) error {
			if err := db.Exec(`DROP INDEX IF EXISTS idx_messages_unread`).Error; err != nil {
				return err
			}
			return db.Exec(`DROP INDEX IF EXISTS idx_messages_conversation_created`).Error
		},
	}
}

package notification

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    -- 通知レコードの一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 通知先の受信者ID。一覧取得のパーティションキー
    recipient_id TEXT NOT NULL,
    -- 元となったメッセージのID
    message_id TEXT NOT NULL,
    -- 有効化されたチャネルと配信先の対応（JSONオブジェクト）
    channels TEXT NOT NULL,
    -- 既読フラグ
    is_read INTEGER NOT NULL DEFAULT 0,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, is_read);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}

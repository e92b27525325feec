package profile

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS profiles (
    -- 受信者の一意識別子
    recipient_id TEXT PRIMARY KEY,
    -- 受信箱全体の有効フラグ
    is_inbox_enabled INTEGER NOT NULL DEFAULT 1,
    -- メール通知の有効フラグ。NULLは未設定（デフォルト有効）を表す
    is_email_enabled INTEGER,
    -- Webhook通知の有効フラグ。NULLは未設定（デフォルト無効）を表す
    is_webhook_enabled INTEGER,
    -- 通知先のメールアドレス
    email TEXT NOT NULL DEFAULT '',
    -- プロファイルの更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS profile_blocks (
    -- ブロックを設定した受信者のID
    recipient_id TEXT NOT NULL,
    -- ブロック対象の送信元サービスID
    sender_service_id TEXT NOT NULL,
    -- ブロックされたチャネルの集合（JSON配列）
    channels TEXT NOT NULL,
    PRIMARY KEY (recipient_id, sender_service_id)
);

CREATE TABLE IF NOT EXISTS sender_history (
    -- 接触された受信者のID
    recipient_id TEXT NOT NULL,
    -- 接触した送信元サービスのID
    sender_service_id TEXT NOT NULL,
    -- 接触履歴のリビジョン番号。max(既存, 受信)で単調に更新される
    version INTEGER NOT NULL DEFAULT 0,
    -- 最終接触日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (recipient_id, sender_service_id)
);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}

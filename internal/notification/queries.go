package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/courier/pkg/event"
)

// Queries は通知サービスのDBクエリ実行オブジェクト。
type Queries struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewQueries は新しいクエリ実行オブジェクトを生成する。
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Record は保存済みの通知レコード。
type Record struct {
	// ID は通知レコードの一意識別子。
	ID string `json:"id"`
	// RecipientID は通知先の受信者ID。
	RecipientID string `json:"recipient_id"`
	// MessageID は元となったメッセージのID。
	MessageID string `json:"message_id"`
	// Channels は有効化されたチャネルと配信先の対応。
	Channels map[event.Channel]string `json:"channels"`
	// IsRead は既読フラグ。
	IsRead bool `json:"is_read"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// CreateParams は通知レコード作成のパラメータ。
type CreateParams struct {
	// ID は通知レコードの一意識別子。
	ID string
	// RecipientID は通知先の受信者ID。
	RecipientID string
	// MessageID は元となったメッセージのID。
	MessageID string
	// Channels は有効化されたチャネルと配信先の対応。
	Channels map[event.Channel]string
}

// Create は通知レコードを保存する。
// 同一IDのレコードが既に存在する場合は何もしない。保存リクエストの
// 再送は安全である。
func (q *Queries) Create(ctx context.Context, params CreateParams) error {
	channelsJSON, err := json.Marshal(params.Channels)
	if err != nil {
		return fmt.Errorf("チャネル対応のシリアライズに失敗: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, message_id, channels)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, params.ID, params.RecipientID, params.MessageID, string(channelsJSON))
	if err != nil {
		return fmt.Errorf("通知レコードの保存に失敗: %w", err)
	}
	return nil
}

// List は受信者の通知レコードを新しい順に取得する。
// unreadOnlyがtrueの場合は未読のみを対象とする。
func (q *Queries) List(ctx context.Context, recipientID string, unreadOnly bool) ([]Record, error) {
	query := `
		SELECT id, recipient_id, message_id, channels, is_read, created_at
		FROM notifications WHERE recipient_id = ?
	`
	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC"

	rows, err := q.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			r            Record
			channelsJSON string
			isRead       int64
		)
		if err := rows.Scan(&r.ID, &r.RecipientID, &r.MessageID, &channelsJSON, &isRead, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知レコードの読み取りに失敗: %w", err)
		}
		if err := json.Unmarshal([]byte(channelsJSON), &r.Channels); err != nil {
			return nil, fmt.Errorf("チャネル対応の復号に失敗: %w", err)
		}
		r.IsRead = isRead != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkRead は通知レコードを既読にする。
// 本人の通知のみが対象であり、対象が存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) MarkRead(ctx context.Context, notificationID, recipientID string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1 WHERE id = ? AND recipient_id = ?
	`, notificationID, recipientID)
	if err != nil {
		return fmt.Errorf("既読フラグの更新に失敗: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead は受信者のすべての通知を既読にし、更新した行数を返す。
func (q *Queries) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = 1 WHERE recipient_id = ? AND is_read = 0
	`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("既読フラグの一括更新に失敗: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新行数の取得に失敗: %w", err)
	}
	return affected, nil
}

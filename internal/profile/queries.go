package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nao1215/courier/pkg/event"
)

// Queries はプロファイルサービスのDBクエリ実行オブジェクト。
type Queries struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewQueries は新しいクエリ実行オブジェクトを生成する。
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// UpsertProfileParams はプロファイル作成・更新のパラメータ。
type UpsertProfileParams struct {
	// RecipientID は受信者の一意識別子。
	RecipientID string
	// IsInboxEnabled は受信箱全体の有効フラグ。
	IsInboxEnabled bool
	// IsEmailEnabled はメール通知の有効フラグ。nilは未設定。
	IsEmailEnabled *bool
	// IsWebhookEnabled はWebhook通知の有効フラグ。nilは未設定。
	IsWebhookEnabled *bool
	// Email は通知先のメールアドレス。
	Email string
}

// UpsertProfile はプロファイルを作成または置換する。
func (q *Queries) UpsertProfile(ctx context.Context, params UpsertProfileParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO profiles (recipient_id, is_inbox_enabled, is_email_enabled, is_webhook_enabled, email, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(recipient_id) DO UPDATE SET
			is_inbox_enabled = excluded.is_inbox_enabled,
			is_email_enabled = excluded.is_email_enabled,
			is_webhook_enabled = excluded.is_webhook_enabled,
			email = excluded.email,
			updated_at = datetime('now')
	`, params.RecipientID, boolToInt(params.IsInboxEnabled), nullableBool(params.IsEmailEnabled), nullableBool(params.IsWebhookEnabled), params.Email)
	if err != nil {
		return fmt.Errorf("プロファイルの保存に失敗: %w", err)
	}
	return nil
}

// GetProfile は受信者IDでプロファイルを取得し、ブロックリストを含めて返す。
// 存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetProfile(ctx context.Context, recipientID string) (*event.Profile, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT recipient_id, is_inbox_enabled, is_email_enabled, is_webhook_enabled, email
		FROM profiles WHERE recipient_id = ?
	`, recipientID)

	var (
		p            event.Profile
		inboxEnabled int64
		emailFlag    sql.NullInt64
		webhookFlag  sql.NullInt64
	)
	if err := row.Scan(&p.RecipientID, &inboxEnabled, &emailFlag, &webhookFlag, &p.Email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("プロファイルの取得に失敗: %w", err)
	}

	p.IsInboxEnabled = inboxEnabled != 0
	p.IsEmailEnabled = intToBoolPtr(emailFlag)
	p.IsWebhookEnabled = intToBoolPtr(webhookFlag)

	blocks, err := q.listBlocks(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	p.BlockedInboxOrChannels = blocks

	return &p, nil
}

// listBlocks は受信者のブロックリストを送信元サービスIDごとに取得する。
func (q *Queries) listBlocks(ctx context.Context, recipientID string) (map[string][]event.Channel, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT sender_service_id, channels FROM profile_blocks WHERE recipient_id = ?
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("ブロックリストの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	blocks := make(map[string][]event.Channel)
	for rows.Next() {
		var senderServiceID, channelsJSON string
		if err := rows.Scan(&senderServiceID, &channelsJSON); err != nil {
			return nil, fmt.Errorf("ブロックリストの読み取りに失敗: %w", err)
		}
		var channels []event.Channel
		if err := json.Unmarshal([]byte(channelsJSON), &channels); err != nil {
			return nil, fmt.Errorf("ブロックチャネルの復号に失敗: %w", err)
		}
		blocks[senderServiceID] = channels
	}
	return blocks, rows.Err()
}

// UpsertBlock は送信元サービスに対するブロックチャネルの集合を置換する。
func (q *Queries) UpsertBlock(ctx context.Context, recipientID, senderServiceID string, channels []event.Channel) error {
	channelsJSON, err := json.Marshal(channels)
	if err != nil {
		return fmt.Errorf("ブロックチャネルのシリアライズに失敗: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO profile_blocks (recipient_id, sender_service_id, channels)
		VALUES (?, ?, ?)
		ON CONFLICT(recipient_id, sender_service_id) DO UPDATE SET
			channels = excluded.channels
	`, recipientID, senderServiceID, string(channelsJSON))
	if err != nil {
		return fmt.Errorf("ブロックの保存に失敗: %w", err)
	}
	return nil
}

// DeleteBlock は送信元サービスに対するブロックを削除する。
func (q *Queries) DeleteBlock(ctx context.Context, recipientID, senderServiceID string) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM profile_blocks WHERE recipient_id = ? AND sender_service_id = ?
	`, recipientID, senderServiceID)
	if err != nil {
		return fmt.Errorf("ブロックの削除に失敗: %w", err)
	}
	return nil
}

// UpsertSenderVersion は接触履歴レコードをupsertする。
// 保存されるバージョンは max(既存, 受信) であり、リトライや順序の
// 入れ替わりに対して冪等かつ可換である。
func (q *Queries) UpsertSenderVersion(ctx context.Context, recipientID, senderServiceID string, version int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sender_history (recipient_id, sender_service_id, version, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(recipient_id, sender_service_id) DO UPDATE SET
			version = MAX(sender_history.version, excluded.version),
			updated_at = datetime('now')
	`, recipientID, senderServiceID, version)
	if err != nil {
		return fmt.Errorf("接触履歴の保存に失敗: %w", err)
	}
	return nil
}

// SenderHistoryRecord は接触履歴の1レコード。
type SenderHistoryRecord struct {
	// RecipientID は接触された受信者のID。
	RecipientID string `json:"recipient_id"`
	// SenderServiceID は接触した送信元サービスのID。
	SenderServiceID string `json:"sender_service_id"`
	// Version は接触履歴のリビジョン番号。
	Version int64 `json:"version"`
}

// ListSenderHistory は受信者の接触履歴を取得する。
func (q *Queries) ListSenderHistory(ctx context.Context, recipientID string) ([]SenderHistoryRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT recipient_id, sender_service_id, version
		FROM sender_history WHERE recipient_id = ?
		ORDER BY sender_service_id
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("接触履歴の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]SenderHistoryRecord, 0)
	for rows.Next() {
		var r SenderHistoryRecord
		if err := rows.Scan(&r.RecipientID, &r.SenderServiceID, &r.Version); err != nil {
			return nil, fmt.Errorf("接触履歴の読み取りに失敗: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// boolToInt はboolをSQLite格納用の整数に変換する。
func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nullableBool は*boolをSQLite格納用のNULL許容整数に変換する。
func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolToInt(*b)
}

// intToBoolPtr はNULL許容整数を*boolに変換する。NULLはnilとなる。
func intToBoolPtr(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// 配信ジョブの状態。
const (
	// JobStatusQueued はディスパッチ待ちの状態。
	JobStatusQueued = "queued"
	// JobStatusCompleted はパイプラインが終局的な結果に到達した状態。
	JobStatusCompleted = "completed"
	// JobStatusFailed はリトライ上限に達するなどして打ち切られた状態。
	JobStatusFailed = "failed"
)

// Queries は受信箱サービスのDBクエリ実行オブジェクト。
type Queries struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewQueries は新しいクエリ実行オブジェクトを生成する。
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// MessageRecord はメッセージのメタデータレコード。本文は含まない。
type MessageRecord struct {
	// ID はメッセージの一意識別子。
	ID string `json:"id"`
	// RecipientID は宛先となる受信者のID。
	RecipientID string `json:"recipient_id"`
	// SenderServiceID は送信元サービスのID。
	SenderServiceID string `json:"sender_service_id"`
	// SenderUserID は送信元サービス内の送信ユーザーID。
	SenderUserID string `json:"sender_user_id"`
	// Pending は可視化フラグ。trueの間は受信者から見えない。
	Pending bool `json:"pending"`
	// ExpiresAt は有効期限。nilは無期限。
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// CreatedAt は取り込み日時。
	CreatedAt time.Time `json:"created_at"`
}

// InsertMessageParams はメッセージレコード作成のパラメータ。
type InsertMessageParams struct {
	// ID はメッセージの一意識別子。
	ID string
	// RecipientID は宛先となる受信者のID。
	RecipientID string
	// SenderServiceID は送信元サービスのID。
	SenderServiceID string
	// SenderUserID は送信元サービス内の送信ユーザーID。
	SenderUserID string
	// ExpiresAt は有効期限。ゼロ値は無期限として扱う。
	ExpiresAt time.Time
}

// InsertMessage はpending=1のメッセージレコードを作成する。
// 同一IDのレコードが既に存在する場合は何もしない。取り込みの再実行は
// 安全である。
func (q *Queries) InsertMessage(ctx context.Context, params InsertMessageParams) error {
	var expiresAt any
	if !params.ExpiresAt.IsZero() {
		expiresAt = params.ExpiresAt.UTC()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, recipient_id, sender_service_id, sender_user_id, pending, expires_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO NOTHING
	`, params.ID, params.RecipientID, params.SenderServiceID, params.SenderUserID, expiresAt)
	if err != nil {
		return fmt.Errorf("メッセージレコードの作成に失敗: %w", err)
	}
	return nil
}

// SetPending はメッセージのpendingフラグを設定する。
// 対象行が存在しなくてもエラーにはならない。false設定の再実行は
// 読み取り側から観測不能なno-opとなる。
func (q *Queries) SetPending(ctx context.Context, messageID, recipientID string, pending bool) error {
	value := 0
	if pending {
		value = 1
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE messages SET pending = ? WHERE id = ? AND recipient_id = ?
	`, value, messageID, recipientID)
	if err != nil {
		return fmt.Errorf("pendingフラグの更新に失敗: %w", err)
	}
	return nil
}

// ListVisibleMessages は受信者から見えるメッセージの一覧を返す。
// pendingが解除済みで、有効期限が切れていないレコードのみが対象。
func (q *Queries) ListVisibleMessages(ctx context.Context, recipientID string, now time.Time) ([]MessageRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, recipient_id, sender_service_id, sender_user_id, pending, expires_at, created_at
		FROM messages
		WHERE recipient_id = ? AND pending = 0
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC
	`, recipientID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]MessageRecord, 0)
	for rows.Next() {
		r, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// GetMessage はメッセージレコードをIDで取得する。
// 存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetMessage(ctx context.Context, messageID string) (*MessageRecord, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, sender_service_id, sender_user_id, pending, expires_at, created_at
		FROM messages WHERE id = ?
	`, messageID)
	return scanMessage(row)
}

// scanner はsql.Rowとsql.Rowsの両方を受け付けるためのインターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanMessage は1行をMessageRecordに読み取る。
func scanMessage(row scanner) (*MessageRecord, error) {
	var (
		r         MessageRecord
		pending   int64
		expiresAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.RecipientID, &r.SenderServiceID, &r.SenderUserID, &pending, &expiresAt, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("メッセージレコードの読み取りに失敗: %w", err)
	}
	r.Pending = pending != 0
	if expiresAt.Valid {
		t := expiresAt.Time
		r.ExpiresAt = &t
	}
	return &r, nil
}

// DeliveryJob は配信パイプラインの1ジョブ。
type DeliveryJob struct {
	// ID は配信ジョブの一意識別子。
	ID string `json:"id"`
	// MessageID は対象メッセージのID。
	MessageID string `json:"message_id"`
	// Event はメッセージイベントのJSON。アクティビティへそのまま渡される。
	Event json.RawMessage `json:"event"`
	// Status はジョブの状態。
	Status string `json:"status"`
	// Attempts はディスパッチャーへ引き渡された回数。
	Attempts int64 `json:"attempts"`
}

// EnqueueJob は配信ジョブをキューに積む。
func (q *Queries) EnqueueJob(ctx context.Context, jobID, messageID string, eventJSON []byte) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO delivery_jobs (id, message_id, event, status)
		VALUES (?, ?, ?, ?)
	`, jobID, messageID, string(eventJSON), JobStatusQueued)
	if err != nil {
		return fmt.Errorf("配信ジョブの登録に失敗: %w", err)
	}
	return nil
}

// ListPendingJobs はディスパッチ待ちのジョブを古い順に取得する。
// 返却したジョブのattemptsをインクリメントする。
func (q *Queries) ListPendingJobs(ctx context.Context, limit int64) ([]DeliveryJob, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		SELECT id, message_id, event, status, attempts
		FROM delivery_jobs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, JobStatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("配信ジョブの取得に失敗: %w", err)
	}

	jobs := make([]DeliveryJob, 0)
	for rows.Next() {
		var (
			j        DeliveryJob
			eventStr string
		)
		if err := rows.Scan(&j.ID, &j.MessageID, &eventStr, &j.Status, &j.Attempts); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("配信ジョブの読み取りに失敗: %w", err)
		}
		j.Event = json.RawMessage(eventStr)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range jobs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE delivery_jobs SET attempts = attempts + 1, updated_at = datetime('now')
			WHERE id = ?
		`, jobs[i].ID); err != nil {
			return nil, fmt.Errorf("attemptsの更新に失敗: %w", err)
		}
		jobs[i].Attempts++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}
	return jobs, nil
}

// CompleteJob はジョブを終局状態に遷移させる。
// 既に終局状態のジョブは変更されないため、報告の再実行は安全である。
func (q *Queries) CompleteJob(ctx context.Context, jobID, status, reason string) error {
	if status != JobStatusCompleted && status != JobStatusFailed {
		return fmt.Errorf("不正なジョブ状態です: %s", status)
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE delivery_jobs SET status = ?, reason = ?, updated_at = datetime('now')
		WHERE id = ? AND status = ?
	`, status, reason, jobID, JobStatusQueued)
	if err != nil {
		return fmt.Errorf("配信ジョブの更新に失敗: %w", err)
	}
	return nil
}

// GetJob は配信ジョブをIDで取得する。存在しない場合はsql.ErrNoRowsを返す。
func (q *Queries) GetJob(ctx context.Context, jobID string) (*DeliveryJob, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, message_id, event, status, attempts FROM delivery_jobs WHERE id = ?
	`, jobID)

	var (
		j        DeliveryJob
		eventStr string
	)
	if err := row.Scan(&j.ID, &j.MessageID, &eventStr, &j.Status, &j.Attempts); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("配信ジョブの読み取りに失敗: %w", err)
	}
	j.Event = json.RawMessage(eventStr)
	return &j, nil
}

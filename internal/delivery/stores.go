package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/nao1215/courier/pkg/event"
)

// ErrProfileNotFound は受信者のプロファイルが存在しないことを表す。
// ProfileStoreの実装は、プロファイル不在とインフラ障害をこのエラーで
// 区別しなければならない。
var ErrProfileNotFound = errors.New("プロファイルが見つかりません")

// ProfileStore は受信者プロファイルの参照を提供する。
type ProfileStore interface {
	// FindByRecipient は受信者IDでプロファイルを取得する。
	// 不在の場合はErrProfileNotFound、インフラ障害の場合はそれ以外の
	// エラーを返す。
	FindByRecipient(ctx context.Context, recipientID string) (*event.Profile, error)
}

// ContentBlobStore はメッセージ本文の永続化を提供する。
type ContentBlobStore interface {
	// Put は(messageID, recipientID)をキーとする位置に本文を書き込む。
	// 既存の書き込み（途中で失敗した部分書き込みを含む）は上書きされる。
	// この上書きセマンティクスにより、リトライ時の再実行が安全になる。
	Put(ctx context.Context, messageID, recipientID string, content []byte) error
}

// MessageRecordStore は保存済みメッセージレコードの可視化フラグ操作を提供する。
type MessageRecordStore interface {
	// SetPending はメッセージのpendingフラグを設定する。
	// pendingはtrue→falseへ一方向にのみ遷移し、false設定の再実行は
	// 読み取り側から観測不能なno-opとなる。
	SetPending(ctx context.Context, messageID, recipientID string, pending bool) error
}

// SenderHistoryStore は送信元サービスと受信者の接触履歴の記録を提供する。
type SenderHistoryStore interface {
	// UpsertVersion は接触履歴レコードを upsert する。保存されるバージョンは
	// max(既存, 受信) であり、リトライや順序の入れ替わりに対して冪等かつ
	// 可換である。
	UpsertVersion(ctx context.Context, recipientID, senderServiceID string, version int64) error
}

// NotificationStore は通知レコードの永続化を提供する。
type NotificationStore interface {
	// Create は通知レコードを受信者IDをパーティションキーとして保存する。
	Create(ctx context.Context, notification *Notification) error
}

// InfraError はインフラ障害（ストア接続不能、書き込み失敗など）を表す。
// このエラーを受け取ったディスパッチャーはアクティビティ全体をリトライする。
// 業務上の結果がこのエラーで表現されることはない。
type InfraError struct {
	// Op は失敗した操作の説明。
	Op string
	// Err は元となったエラー。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *InfraError) Error() string {
	return fmt.Sprintf("インフラ障害: %s: %v", e.Op, e.Err)
}

// Unwrap はラップされた元のエラーを返す。
func (e *InfraError) Unwrap() error {
	return e.Err
}

// IsInfra はエラーがインフラ障害かどうかを返す。
func IsInfra(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

package delivery

import (
	"github.com/nao1215/courier/pkg/event"
)

// FailureReason はストレージアクティビティの終局的な失敗理由を表す。
// ここに列挙される失敗は業務上の確定結果であり、リトライしても解消しない。
type FailureReason string

const (
	// FailureBadData は入力が期待される形式に復号できなかったことを表す。
	FailureBadData FailureReason = "BAD_DATA"
	// FailureMasterInboxDisabled は受信者が受信箱全体を無効化していることを表す。
	FailureMasterInboxDisabled FailureReason = "MASTER_INBOX_DISABLED"
	// FailurePermanentError は分類不能だが恒久的と判断された失敗を表す。
	FailurePermanentError FailureReason = "PERMANENT_ERROR"
	// FailureProfileNotFound は受信者のプロファイルが存在しないことを表す。
	FailureProfileNotFound FailureReason = "PROFILE_NOT_FOUND"
	// FailureSenderBlocked は受信者が送信元サービスの受信箱配信をブロック
	// していることを表す。
	FailureSenderBlocked FailureReason = "SENDER_BLOCKED"
)

// StageSuccess はストレージアクティビティ成功時のペイロード。
// プランニングアクティビティの入力として引き渡される。
type StageSuccess struct {
	// Profile は受信者のプロファイル。
	Profile event.Profile `json:"profile"`
	// BlockedChannels はこの送信元サービスに対してブロックされている
	// チャネルの列（空の場合もある）。
	BlockedChannels []event.Channel `json:"blocked_channels"`
}

// StageFailure はストレージアクティビティの終局的な失敗を表す。
type StageFailure struct {
	// Reason は失敗理由。
	Reason FailureReason `json:"reason"`
}

// StageResult はストレージアクティビティの結果。SuccessとFailureの
// いずれか一方だけが設定されるタグ付きの結果型。
// インフラ障害は結果としては表現されず、エラーとして呼び出し側に返る。
type StageResult struct {
	// Success は成功時のペイロード。
	Success *StageSuccess `json:"success,omitempty"`
	// Failure は終局的な失敗。
	Failure *StageFailure `json:"failure,omitempty"`
}

// NewStageSuccess は成功のStageResultを生成する。
func NewStageSuccess(profile event.Profile, blocked []event.Channel) *StageResult {
	if blocked == nil {
		blocked = []event.Channel{}
	}
	return &StageResult{Success: &StageSuccess{Profile: profile, BlockedChannels: blocked}}
}

// NewStageFailure は終局的な失敗のStageResultを生成する。
func NewStageFailure(reason FailureReason) *StageResult {
	return &StageResult{Failure: &StageFailure{Reason: reason}}
}

// IsSuccess は結果が成功かどうかを返す。
func (r *StageResult) IsSuccess() bool {
	return r.Success != nil
}

// Notification は有効化されたチャネルを列挙する通知の追跡レコード。
// チャネルが1つも有効でない場合は作成されない。
type Notification struct {
	// ID は通知レコードの一意識別子（UUID）。
	ID string `json:"id"`
	// RecipientID は通知先の受信者ID。保存時のパーティションキー。
	RecipientID string `json:"recipient_id"`
	// MessageID は元となったメッセージのID。
	MessageID string `json:"message_id"`
	// Channels は有効化されたチャネルと配信先の対応。
	Channels map[event.Channel]string `json:"channels"`
}

// PlanOutcome はプランニングアクティビティが通知を作成した場合の結果。
type PlanOutcome struct {
	// HasEmail はメールチャネルが有効化されたかどうか。
	HasEmail bool `json:"has_email"`
	// HasWebhook はWebhookチャネルが有効化されたかどうか。
	HasWebhook bool `json:"has_webhook"`
	// Notification は下流のチャネル別送信サービスへ引き渡される
	// 通知イベント。
	Notification event.NotificationCreated `json:"notification"`
}

// PlanResult はプランニングアクティビティの結果。Plannedがnilの場合は
// 有効なチャネルが存在せず通知が作成されなかったことを表す。
// これはエラーではなく正当な結果である。
type PlanResult struct {
	// Planned は通知が作成された場合の結果。
	Planned *PlanOutcome `json:"planned,omitempty"`
}

// NewPlanNone は通知を作成しなかったPlanResultを生成する。
func NewPlanNone() *PlanResult {
	return &PlanResult{}
}

// NewPlanSome は通知を作成したPlanResultを生成する。
func NewPlanSome(hasEmail, hasWebhook bool, notification event.NotificationCreated) *PlanResult {
	return &PlanResult{Planned: &PlanOutcome{
		HasEmail:     hasEmail,
		HasWebhook:   hasWebhook,
		Notification: notification,
	}}
}

// None は通知が作成されなかったかどうかを返す。
func (r *PlanResult) None() bool {
	return r.Planned == nil
}

// PlanningInput はプランニングアクティビティの入力。
// 元のメッセージイベントとストレージアクティビティの成功ペイロードを持つ。
type PlanningInput struct {
	// Message は元のメッセージイベント。
	Message event.Message `json:"message"`
	// StorageResult はストレージアクティビティの成功ペイロード。
	StorageResult StageSuccess `json:"storage_result"`
}

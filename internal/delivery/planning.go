package delivery

import (
	"context"
	"log"
	"slices"

	"github.com/google/uuid"
	"github.com/nao1215/courier/pkg/event"
)

// PlanningStage はチャネル別の通知可否を判定し通知レコードを作成する
// 2番目のアクティビティ。
//
// ストレージアクティビティが完全に成功したメッセージに対してのみ
// 呼び出される。入力にはそのときの成功ペイロード（プロファイルと
// ブロックチャネル）が含まれるため、プロファイルの再参照は行わない。
type PlanningStage struct {
	// history は送信元サービスと受信者の接触履歴の記録先。
	history SenderHistoryStore
	// notifications は通知レコードの保存先。
	notifications NotificationStore
}

// NewPlanningStage は新しいプランニングアクティビティを生成する。
func NewPlanningStage(history SenderHistoryStore, notifications NotificationStore) *PlanningStage {
	return &PlanningStage{
		history:       history,
		notifications: notifications,
	}
}

// Execute はプランニングアクティビティを実行する。
//
// 復号できない入力は通知なし（None）として扱う。このアクティビティに
// 破壊的な操作はなく、不正入力に対して保護すべき状態がないため、
// 安全な終局的no-opとして終了する。エラーが返るのはインフラ障害の
// 場合のみであり、呼び出し側はアクティビティ全体をリトライする。
func (p *PlanningStage) Execute(ctx context.Context, raw []byte) (*PlanResult, error) {
	input, err := event.Decode[PlanningInput](raw)
	if err != nil || !validPlanningInput(input) {
		log.Printf("[Delivery] プランニング入力が不正です: %v", err)
		return NewPlanNone(), nil
	}

	msg := &input.Message

	// 接触履歴はチャネルの可否に関係なく必ず記録する。通知されない
	// メッセージであっても、送信元サービスが受信者に接触した事実は
	// 残さなければならない。max-version upsertのため再実行は安全。
	if err := p.history.UpsertVersion(ctx, msg.RecipientID, msg.SenderServiceID, msg.SenderMetadata.Version); err != nil {
		return nil, &InfraError{Op: "接触履歴の記録", Err: err}
	}

	channels := planChannels(&input.StorageResult.Profile, input.StorageResult.BlockedChannels, msg.SenderMetadata)
	if len(channels) == 0 {
		// 有効なチャネルがないのは正当な結果。ストアへの書き込みは行わない。
		return NewPlanNone(), nil
	}

	notification := &Notification{
		ID:          uuid.New().String(),
		RecipientID: msg.RecipientID,
		MessageID:   msg.ID,
		Channels:    channels,
	}
	if err := p.notifications.Create(ctx, notification); err != nil {
		return nil, &InfraError{Op: "通知レコードの作成", Err: err}
	}

	_, hasEmail := channels[event.ChannelEmail]
	_, hasWebhook := channels[event.ChannelWebhook]

	created := event.NotificationCreated{
		NotificationID:  notification.ID,
		MessageID:       msg.ID,
		RecipientID:     msg.RecipientID,
		SenderServiceID: msg.SenderServiceID,
		SenderUserID:    msg.SenderUserID,
		Content:         msg.Content,
		SenderMetadata:  msg.SenderMetadata,
		Channels:        channels,
	}
	return NewPlanSome(hasEmail, hasWebhook, created), nil
}

// planChannels はチャネルごとの通知可否を判定し、有効なチャネルと
// 配信先の対応を返す。
//
// メール: メール通知が有効、かつメールがブロックされておらず、かつ
// 送信元がセキュアな経路のみを要求しておらず、かつメールアドレスが
// 登録されている場合に有効。セキュア経路の要求は他のフラグに関係なく
// メールを拒否する。
//
// Webhook: Webhook通知が有効、かつWebhookがブロックされていない場合に
// 有効。配信先は固定のセキュアなデフォルトエンドポイントであるため、
// セキュア経路の要求の影響を受けない。
func planChannels(profile *event.Profile, blocked []event.Channel, meta event.SenderMetadata) map[event.Channel]string {
	channels := make(map[event.Channel]string)

	if profile.EmailEnabled() &&
		!slices.Contains(blocked, event.ChannelEmail) &&
		!meta.RequireSecureChannels &&
		profile.Email != "" {
		channels[event.ChannelEmail] = profile.Email
	}

	if profile.WebhookEnabled() &&
		!slices.Contains(blocked, event.ChannelWebhook) {
		channels[event.ChannelWebhook] = meta.WebhookURL
	}

	return channels
}

// validPlanningInput はプランニング入力が必須フィールドを持つかどうかを返す。
func validPlanningInput(in *PlanningInput) bool {
	return in.Message.ID != "" && in.Message.RecipientID != "" && in.Message.SenderServiceID != ""
}

package event

import (
	"strings"
	"time"
)

// Channel は通知の配信経路を表す。
type Channel string

const (
	// ChannelInbox は受信箱への配信を表す。
	ChannelInbox Channel = "INBOX"
	// ChannelEmail はメールによる通知を表す。
	ChannelEmail Channel = "EMAIL"
	// ChannelWebhook はWebhookによる通知を表す。
	ChannelWebhook Channel = "WEBHOOK"
)

// Valid はチャネルが既知の値かどうかを返す。
func (c Channel) Valid() bool {
	switch c {
	case ChannelInbox, ChannelEmail, ChannelWebhook:
		return true
	}
	return false
}

// ParseChannel は文字列をChannelに変換する。大文字小文字は区別しない。
// 未知の値の場合は空のChannelとfalseを返す。
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", false
	}
	return c, true
}

// SenderMetadata は送信元サービスが付与するメタデータ。
type SenderMetadata struct {
	// RequireSecureChannels がtrueの場合、セキュアでない経路（メール）での
	// 通知を禁止する。Webhookは固定のセキュアなエンドポイントに配信される
	// ため影響を受けない。
	RequireSecureChannels bool `json:"require_secure_channels"`
	// WebhookURL はWebhook通知の配信先URL。未指定の場合は取り込み時に
	// 運用側で設定されたデフォルトURLが補完される。
	WebhookURL string `json:"webhook_url,omitempty"`
	// Version は送信元サービスが管理する接触履歴のリビジョン番号。
	// 接触履歴の更新は max(既存, 受信) で行われる。
	Version int64 `json:"version"`
}

// Message は受信者宛てのメッセージイベントを表す。
// 上流で一度だけ生成され、リトライ時には同一内容で再配信されうる。
type Message struct {
	// ID はメッセージの一意識別子（UUID）。
	ID string `json:"id"`
	// RecipientID は宛先となる受信者のID。
	RecipientID string `json:"recipient_id"`
	// SenderServiceID は送信元サービスのID。ブロックリストの判定単位。
	SenderServiceID string `json:"sender_service_id"`
	// SenderUserID は送信元サービス内の送信ユーザーID。
	SenderUserID string `json:"sender_user_id"`
	// TimeToLiveSeconds はメッセージの有効期間（秒）。0の場合は無期限。
	TimeToLiveSeconds int64 `json:"time_to_live_seconds"`
	// Content はメッセージ本文。
	Content string `json:"content"`
	// SenderMetadata は送信元サービスが付与するメタデータ。
	SenderMetadata SenderMetadata `json:"sender_metadata"`
}

// ExpiresAt はTimeToLiveSecondsから有効期限を計算する。
// TTLが0以下の場合は無期限としてゼロ値を返す。
func (m *Message) ExpiresAt(now time.Time) time.Time {
	if m.TimeToLiveSeconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(m.TimeToLiveSeconds) * time.Second)
}

// Profile は受信者の通知プロファイルを表す。
// プロファイルサービスが所有し、配信パイプラインからは読み取り専用。
type Profile struct {
	// RecipientID は受信者の一意識別子。
	RecipientID string `json:"recipient_id"`
	// IsInboxEnabled は受信箱全体の有効フラグ。falseの場合は
	// すべてのメッセージ受信が拒否される。
	IsInboxEnabled bool `json:"is_inbox_enabled"`
	// IsEmailEnabled はメール通知の有効フラグ。未設定の場合は有効として
	// 扱う（メールアドレスは受信者が明示的に登録したものであるため）。
	IsEmailEnabled *bool `json:"is_email_enabled,omitempty"`
	// IsWebhookEnabled はWebhook通知の有効フラグ。未設定の場合は無効として
	// 扱う（Webhookエンドポイントは明示的なオプトインを必要とするため）。
	IsWebhookEnabled *bool `json:"is_webhook_enabled,omitempty"`
	// Email は通知先のメールアドレス。未登録の場合は空文字列。
	Email string `json:"email,omitempty"`
	// BlockedInboxOrChannels は送信元サービスIDごとにブロックされた
	// チャネルの集合。
	BlockedInboxOrChannels map[string][]Channel `json:"blocked_inbox_or_channels,omitempty"`
}

// EmailEnabled はメール通知が有効かどうかを返す。未設定はtrue。
func (p *Profile) EmailEnabled() bool {
	if p.IsEmailEnabled == nil {
		return true
	}
	return *p.IsEmailEnabled
}

// WebhookEnabled はWebhook通知が有効かどうかを返す。未設定はfalse。
func (p *Profile) WebhookEnabled() bool {
	if p.IsWebhookEnabled == nil {
		return false
	}
	return *p.IsWebhookEnabled
}

// BlockedChannelsFor は指定された送信元サービスに対してブロックされている
// チャネルの集合を返す。ブロックが存在しない場合は空を返す。
func (p *Profile) BlockedChannelsFor(senderServiceID string) []Channel {
	if p.BlockedInboxOrChannels == nil {
		return nil
	}
	return p.BlockedInboxOrChannels[senderServiceID]
}

// NotificationCreated は通知レコード作成時に下流のチャネル別送信
// サービスへ発行されるイベントのデータ。
type NotificationCreated struct {
	// NotificationID は作成された通知レコードのID（UUID）。
	NotificationID string `json:"notification_id"`
	// MessageID は元となったメッセージのID。
	MessageID string `json:"message_id"`
	// RecipientID は通知先の受信者ID。
	RecipientID string `json:"recipient_id"`
	// SenderServiceID は送信元サービスのID。
	SenderServiceID string `json:"sender_service_id"`
	// SenderUserID は送信元サービス内の送信ユーザーID。
	SenderUserID string `json:"sender_user_id"`
	// Content はメッセージ本文。
	Content string `json:"content"`
	// SenderMetadata は送信元サービスが付与したメタデータ。
	SenderMetadata SenderMetadata `json:"sender_metadata"`
	// Channels は有効化されたチャネルと配信先の対応。
	// メールの場合はメールアドレス、Webhookの場合はURLが入る。
	Channels map[Channel]string `json:"channels"`
}

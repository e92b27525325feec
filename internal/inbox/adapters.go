package inbox

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nao1215/courier/internal/delivery"
	"github.com/nao1215/courier/pkg/event"
	"github.com/nao1215/courier/pkg/httpclient"
)

// ProfileClient はプロファイルサービスの内部APIを呼び出すアダプタ。
// delivery.ProfileStoreとdelivery.SenderHistoryStoreを実装する。
type ProfileClient struct {
	// client はプロファイルサービスへのHTTPクライアント。
	client *httpclient.Client
}

// NewProfileClient は新しいプロファイルサービスアダプタを生成する。
func NewProfileClient(baseURL string) *ProfileClient {
	return &ProfileClient{client: httpclient.New(baseURL)}
}

// FindByRecipient は受信者IDでプロファイルを取得する。
// 404はプロファイル不在としてErrProfileNotFoundに変換する。
// それ以外のエラー（5xx・接続不能）はそのまま返し、呼び出し側で
// インフラ障害として扱われる。
func (p *ProfileClient) FindByRecipient(ctx context.Context, recipientID string) (*event.Profile, error) {
	var profile event.Profile
	path := fmt.Sprintf("/api/v1/internal/profiles/%s", url.PathEscape(recipientID))
	if err := p.client.GetJSON(ctx, path, &profile); err != nil {
		if httpclient.IsNotFound(err) {
			return nil, delivery.ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// upsertSenderRequest は接触履歴upsertリクエストのJSON構造。
type upsertSenderRequest struct {
	// RecipientID は接触された受信者のID。
	RecipientID string `json:"recipient_id"`
	// SenderServiceID は接触した送信元サービスのID。
	SenderServiceID string `json:"sender_service_id"`
	// Version は接触履歴のリビジョン番号。
	Version int64 `json:"version"`
}

// UpsertVersion は接触履歴レコードをupsertする。
// 保存側がmax(既存, 受信)で更新するため、再実行は安全である。
func (p *ProfileClient) UpsertVersion(ctx context.Context, recipientID, senderServiceID string, version int64) error {
	req := upsertSenderRequest{
		RecipientID:     recipientID,
		SenderServiceID: senderServiceID,
		Version:         version,
	}
	var resp map[string]any
	if err := p.client.PostJSON(ctx, "/api/v1/internal/senders/upsert", req, &resp); err != nil {
		return fmt.Errorf("接触履歴の記録に失敗: %w", err)
	}
	return nil
}

// NotificationClient は通知サービスの内部APIを呼び出すアダプタ。
// delivery.NotificationStoreを実装する。
type NotificationClient struct {
	// client は通知サービスへのHTTPクライアント。
	client *httpclient.Client
}

// NewNotificationClient は新しい通知サービスアダプタを生成する。
func NewNotificationClient(baseURL string) *NotificationClient {
	return &NotificationClient{client: httpclient.New(baseURL)}
}

// Create は通知レコードを通知サービスに保存する。
func (n *NotificationClient) Create(ctx context.Context, notification *delivery.Notification) error {
	var resp map[string]any
	if err := n.client.PostJSON(ctx, "/api/v1/internal/notifications", notification, &resp); err != nil {
		return fmt.Errorf("通知レコードの保存に失敗: %w", err)
	}
	return nil
}

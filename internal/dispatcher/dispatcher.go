package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/courier/internal/delivery"
	"github.com/nao1215/courier/pkg/event"
	"github.com/nao1215/courier/pkg/httpclient"
)

// Dispatcher は配信ジョブを取得してアクティビティを実行するポーリングワーカー。
type Dispatcher struct {
	// inboxClient は受信箱サービスへのHTTPクライアント。
	inboxClient *httpclient.Client
	// pollInterval はジョブポーリングの間隔。
	pollInterval time.Duration
	// batchSize は1回のポーリングで取得するジョブ数の上限。
	batchSize int64
	// maxAttempts はジョブの試行回数の上限。超過したジョブは
	// 失敗として打ち切られる。
	maxAttempts int64
}

// NewDispatcher は新しいディスパッチャーを生成する。
func NewDispatcher(inboxClient *httpclient.Client) *Dispatcher {
	return &Dispatcher{
		inboxClient:  inboxClient,
		pollInterval: 3 * time.Second,
		batchSize:    10,
		maxAttempts:  5,
	}
}

// pendingJob は受信箱サービスのジョブAPIレスポンスに対応する構造体。
type pendingJob struct {
	ID        string          `json:"id"`
	MessageID string          `json:"message_id"`
	Event     json.RawMessage `json:"event"`
	Status    string          `json:"status"`
	Attempts  int64           `json:"attempts"`
}

// Start はジョブポーリングループを開始する。
// バックグラウンドgoroutineとして呼び出されることを想定している。
func (d *Dispatcher) Start() {
	log.Printf("[Dispatcher] ディスパッチャーを開始します。ポーリング間隔: %v", d.pollInterval)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		d.poll()
	}
}

// poll は受信箱サービスからディスパッチ待ちのジョブを取得し、順に実行する。
func (d *Dispatcher) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var resp struct {
		Jobs []pendingJob `json:"jobs"`
	}
	path := fmt.Sprintf("/api/v1/internal/jobs/pending?limit=%d", d.batchSize)
	if err := d.inboxClient.GetJSON(ctx, path, &resp); err != nil {
		log.Printf("[Dispatcher] ジョブポーリングエラー: %v", err)
		return
	}

	for i := range resp.Jobs {
		d.Dispatch(ctx, &resp.Jobs[i])
	}
}

// Dispatch は1つのジョブに対して配信パイプラインを実行する。
//
// アクティビティ呼び出しが失敗した場合（500・接続不能）はジョブを
// 変更せずに戻る。キューに残ったジョブは次回のポーリングで再実行
// される。アクティビティ自体が再実行に対して安全なため、途中で
// 中断したパイプラインを先頭からやり直してよい。
func (d *Dispatcher) Dispatch(ctx context.Context, job *pendingJob) {
	if job.Attempts > d.maxAttempts {
		log.Printf("[Dispatcher] リトライ上限に達しました: job_id=%s, attempts=%d", job.ID, job.Attempts)
		d.report(ctx, job.ID, "failed", "リトライ上限を超過しました")
		return
	}

	// ストレージアクティビティ: 本文の永続化と可視化
	var stageResult delivery.StageResult
	if err := d.inboxClient.PostJSON(ctx, "/api/v1/internal/activities/storage", job.Event, &stageResult); err != nil {
		log.Printf("[Dispatcher] ストレージアクティビティの失敗（リトライ対象）: job_id=%s, error=%v", job.ID, err)
		return
	}

	if stageResult.Failure != nil {
		log.Printf("[Dispatcher] 配信の終局的な失敗: job_id=%s, reason=%s", job.ID, stageResult.Failure.Reason)
		d.report(ctx, job.ID, "failed", string(stageResult.Failure.Reason))
		return
	}

	// プランニングアクティビティ: 接触履歴の記録と通知の作成
	msg, err := event.Decode[event.Message](job.Event)
	if err != nil {
		// ストレージアクティビティがBAD_DATAとして弾くため通常は到達しない
		log.Printf("[Dispatcher] イベントの復号に失敗: job_id=%s, error=%v", job.ID, err)
		d.report(ctx, job.ID, "failed", string(delivery.FailureBadData))
		return
	}

	input := delivery.PlanningInput{
		Message:       *msg,
		StorageResult: *stageResult.Success,
	}
	var planResult delivery.PlanResult
	if err := d.inboxClient.PostJSON(ctx, "/api/v1/internal/activities/planning", input, &planResult); err != nil {
		log.Printf("[Dispatcher] プランニングアクティビティの失敗（リトライ対象）: job_id=%s, error=%v", job.ID, err)
		return
	}

	if planResult.None() {
		log.Printf("[Dispatcher] 配信完了（通知なし）: job_id=%s", job.ID)
		d.report(ctx, job.ID, "completed", "通知なし")
		return
	}

	log.Printf("[Dispatcher] 配信完了（通知あり）: job_id=%s, notification_id=%s",
		job.ID, planResult.Planned.Notification.NotificationID)
	d.report(ctx, job.ID, "completed", "通知あり")
}

// report はジョブの終局結果を受信箱サービスに報告する。
// 報告に失敗してもジョブはキューに残るだけであり、次回の再実行で
// 同じ結果に到達して再報告される。
func (d *Dispatcher) report(ctx context.Context, jobID, status, reason string) {
	body := map[string]string{"status": status, "reason": reason}
	var resp map[string]any
	path := fmt.Sprintf("/api/v1/internal/jobs/%s/complete", jobID)
	if err := d.inboxClient.PostJSON(ctx, path, body, &resp); err != nil {
		log.Printf("[Dispatcher] ジョブ結果の報告に失敗: job_id=%s, error=%v", jobID, err)
	}
}

package inbox

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/courier/internal/delivery"
	"github.com/nao1215/courier/pkg/event"
	"github.com/nao1215/courier/pkg/middleware"
	"github.com/nao1215/courier/pkg/migration"
)

// Server は受信箱サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はDBクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// blobs はメッセージ本文のファイルストア。
	blobs *FileBlobStore
	// storage はストレージアクティビティ。
	storage *delivery.StorageStage
	// planning はプランニングアクティビティ。
	planning *delivery.PlanningStage
	// defaultWebhookURL は取り込み時に補完されるWebhook配信先のデフォルトURL。
	defaultWebhookURL string
}

// NewServer は新しい受信箱サーバーを生成する。
// SQLiteデータベースのマイグレーションと本文ストアの初期化を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/inbox.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := migration.Run(sqlDB, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}

	blobDir := os.Getenv("BLOB_DIR")
	if blobDir == "" {
		blobDir = "/data/inbox-blobs"
	}
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("本文ストアの初期化に失敗: %w", err)
	}

	profileURL := os.Getenv("PROFILE_URL")
	if profileURL == "" {
		profileURL = "http://localhost:8091"
	}
	notificationURL := os.Getenv("NOTIFICATION_URL")
	if notificationURL == "" {
		notificationURL = "http://localhost:8093"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		router.Use(middleware.CORS(strings.Split(origins, ",")))
	}

	queries := NewQueries(sqlDB)
	blobs := NewFileBlobStore(blobDir)
	profiles := NewProfileClient(profileURL)
	notifications := NewNotificationClient(notificationURL)

	s := &Server{
		router:            router,
		port:              port,
		queries:           queries,
		db:                sqlDB,
		blobs:             blobs,
		storage:           delivery.NewStorageStage(profiles, blobs, queries),
		planning:          delivery.NewPlanningStage(profiles, notifications),
		defaultWebhookURL: os.Getenv("DEFAULT_WEBHOOK_URL"),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	api := s.router.Group("/api/v1")
	{
		messages := api.Group("/messages")
		messages.Use(middleware.JWTAuth(jwtSecret))
		{
			// メッセージの取り込み（送信元サービス向け）
			messages.POST("", s.handleIngest())
			// 可視化済みメッセージの一覧（受信者向け）
			messages.GET("", s.handleListMessages())
			// メッセージ本文の取得（受信者向け）
			messages.GET("/:id/content", s.handleGetContent())
		}

		// 内部API（ディスパッチャーから呼び出される）
		internal := api.Group("/internal")
		{
			// ストレージアクティビティの実行
			internal.POST("/activities/storage", s.handleStorageActivity())
			// プランニングアクティビティの実行
			internal.POST("/activities/planning", s.handlePlanningActivity())
			// ディスパッチ待ちジョブの取得
			internal.GET("/jobs/pending", s.handlePendingJobs())
			// ジョブの終局結果の報告
			internal.POST("/jobs/:id/complete", s.handleCompleteJob())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "inbox"})
	})
}

// ingestRequest はメッセージ取り込みリクエストのJSON構造。
type ingestRequest struct {
	// RecipientID は宛先となる受信者のID。
	RecipientID string `json:"recipient_id" binding:"required"`
	// SenderServiceID は送信元サービスのID。
	SenderServiceID string `json:"sender_service_id" binding:"required"`
	// Content はメッセージ本文。
	Content string `json:"content"`
	// TimeToLiveSeconds はメッセージの有効期間（秒）。0は無期限。
	TimeToLiveSeconds int64 `json:"time_to_live_seconds"`
	// SenderMetadata は送信元サービスが付与するメタデータ。
	SenderMetadata event.SenderMetadata `json:"sender_metadata"`
}

// handleIngest はメッセージの取り込みを処理するハンドラ。
// pending=1のメッセージレコードを作成し、配信ジョブをキューに積む。
// この時点ではメッセージは受信者から見えない。
func (s *Server) handleIngest() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req ingestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		msg := event.Message{
			ID:                uuid.New().String(),
			RecipientID:       req.RecipientID,
			SenderServiceID:   req.SenderServiceID,
			SenderUserID:      userID,
			TimeToLiveSeconds: req.TimeToLiveSeconds,
			Content:           req.Content,
			SenderMetadata:    req.SenderMetadata,
		}
		// Webhook配信先は運用側で設定されたセキュアなデフォルトURLに固定する。
		msg.SenderMetadata.WebhookURL = s.defaultWebhookURL

		if err := s.queries.InsertMessage(c.Request.Context(), InsertMessageParams{
			ID:              msg.ID,
			RecipientID:     msg.RecipientID,
			SenderServiceID: msg.SenderServiceID,
			SenderUserID:    msg.SenderUserID,
			ExpiresAt:       msg.ExpiresAt(time.Now()),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メッセージの登録に失敗しました"})
			log.Printf("メッセージ登録エラー: %v", err)
			return
		}

		eventJSON, err := event.Encode(msg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メッセージイベントの作成に失敗しました"})
			log.Printf("イベントシリアライズエラー: %v", err)
			return
		}

		jobID := uuid.New().String()
		if err := s.queries.EnqueueJob(c.Request.Context(), jobID, msg.ID, eventJSON); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "配信ジョブの登録に失敗しました"})
			log.Printf("配信ジョブ登録エラー: %v", err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message_id": msg.ID,
			"job_id":     jobID,
		})
	}
}

// handleListMessages は受信者から見えるメッセージの一覧を返すハンドラ。
// pending中および期限切れのメッセージは含まれない。
func (s *Server) handleListMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		records, err := s.queries.ListVisibleMessages(c.Request.Context(), userID, time.Now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メッセージ一覧の取得に失敗しました"})
			log.Printf("メッセージ一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"messages": records})
	}
}

// handleGetContent はメッセージ本文を返すハンドラ。
// 本人宛てかつ可視化済みのメッセージのみ取得できる。
func (s *Server) handleGetContent() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		messageID := c.Param("id")
		record, err := s.queries.GetMessage(c.Request.Context(), messageID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "メッセージが見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メッセージの取得に失敗しました"})
			log.Printf("メッセージ取得エラー: %v", err)
			return
		}

		// 他人宛てのメッセージは存在自体を秘匿する。
		if record.RecipientID != userID || record.Pending {
			c.JSON(http.StatusNotFound, gin.H{"error": "メッセージが見つかりません"})
			return
		}
		if record.ExpiresAt != nil && !record.ExpiresAt.After(time.Now()) {
			c.JSON(http.StatusNotFound, gin.H{"error": "メッセージが見つかりません"})
			return
		}

		content, err := s.blobs.Get(c.Request.Context(), messageID, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "本文の読み出しに失敗しました"})
			log.Printf("本文読み出しエラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message_id": messageID,
			"content":    string(content),
		})
	}
}

// handleStorageActivity はストレージアクティビティを実行するハンドラ。
//
// 終局的な結果（成功・業務上の失敗）は200とStageResultのJSONで返す。
// インフラ障害の場合のみ500を返し、ディスパッチャーはジョブを
// リトライする。この対応を崩すと、一時的な障害が恒久的な失敗として
// 確定してしまう。
func (s *Server) handleStorageActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "リクエストボディの読み取りに失敗しました"})
			return
		}

		result, err := s.storage.Execute(c.Request.Context(), raw)
		if err != nil {
			log.Printf("ストレージアクティビティのインフラ障害: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// handlePlanningActivity はプランニングアクティビティを実行するハンドラ。
// ステータスコードの規約はストレージアクティビティと同一。
func (s *Server) handlePlanningActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "リクエストボディの読み取りに失敗しました"})
			return
		}

		result, err := s.planning.Execute(c.Request.Context(), raw)
		if err != nil {
			log.Printf("プランニングアクティビティのインフラ障害: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// handlePendingJobs はディスパッチ待ちのジョブ一覧を返すハンドラ。
// 返却されたジョブのattemptsはインクリメントされる。
func (s *Server) handlePendingJobs() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := int64(10)
		if v := c.Query("limit"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limitが不正です: %s", v)})
				return
			}
			limit = parsed
		}

		jobs, err := s.queries.ListPendingJobs(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "配信ジョブの取得に失敗しました"})
			log.Printf("配信ジョブ取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

// completeJobRequest はジョブ終局報告リクエストのJSON構造。
type completeJobRequest struct {
	// Status は終局状態（completed / failed）。
	Status string `json:"status" binding:"required"`
	// Reason は終局の理由（失敗理由または完了の内訳）。
	Reason string `json:"reason"`
}

// handleCompleteJob はジョブの終局結果を記録するハンドラ。
// 既に終局済みのジョブへの報告はno-opとなるため、再実行は安全である。
func (s *Server) handleCompleteJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")

		var req completeJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if req.Status != JobStatusCompleted && req.Status != JobStatusFailed {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("不正なジョブ状態です: %s", req.Status)})
			return
		}

		if err := s.queries.CompleteJob(c.Request.Context(), jobID, req.Status, req.Reason); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "配信ジョブの更新に失敗しました"})
			log.Printf("配信ジョブ更新エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "ジョブを更新しました", "job_id": jobID})
	}
}

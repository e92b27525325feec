package profile

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/courier/pkg/event"
	"github.com/nao1215/courier/pkg/middleware"
)

// Server はプロファイルサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はDBクエリ実行オブジェクト。
	queries *Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// NewServer は新しいプロファイルサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/profile.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		router.Use(middleware.CORS(strings.Split(origins, ",")))
	}

	s := &Server{
		router:  router,
		port:    port,
		queries: NewQueries(sqlDB),
		db:      sqlDB,
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
		authed := api.Group("/profile")
		authed.Use(middleware.JWTAuth(jwtSecret))
		{
			// 自分のプロファイルの作成・置換
			authed.PUT("", s.handleUpsertProfile())
			// 自分のプロファイルの取得
			authed.GET("", s.handleGetProfile())
			// 送信元サービスに対するブロックチャネルの置換
			authed.PUT("/blocks/:sender", s.handleUpsertBlock())
			// 送信元サービスに対するブロックの削除
			authed.DELETE("/blocks/:sender", s.handleDeleteBlock())
		}

		// 内部API（配信パイプラインから呼び出される）
		internal := api.Group("/internal")
		{
			// プロファイルの参照。404はプロファイル不在を表す
			internal.GET("/profiles/:recipient_id", s.handleFindProfile())
			// 接触履歴のupsert
			internal.POST("/senders/upsert", s.handleUpsertSender())
			// 接触履歴の一覧取得
			internal.GET("/senders/:recipient_id", s.handleListSenders())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "profile"})
	})
}

// upsertProfileRequest はプロファイル作成・置換リクエストのJSON構造。
type upsertProfileRequest struct {
	// IsInboxEnabled は受信箱全体の有効フラグ。
	IsInboxEnabled bool `json:"is_inbox_enabled"`
	// IsEmailEnabled はメール通知の有効フラグ。省略時は未設定として扱う。
	IsEmailEnabled *bool `json:"is_email_enabled"`
	// IsWebhookEnabled はWebhook通知の有効フラグ。省略時は未設定として扱う。
	IsWebhookEnabled *bool `json:"is_webhook_enabled"`
	// Email は通知先のメールアドレス。
	Email string `json:"email"`
}

// handleUpsertProfile は認証済みユーザーのプロファイルを作成・置換するハンドラ。
func (s *Server) handleUpsertProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req upsertProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		err := s.queries.UpsertProfile(c.Request.Context(), UpsertProfileParams{
			RecipientID:      userID,
			IsInboxEnabled:   req.IsInboxEnabled,
			IsEmailEnabled:   req.IsEmailEnabled,
			IsWebhookEnabled: req.IsWebhookEnabled,
			Email:            req.Email,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プロファイルの保存に失敗しました"})
			log.Printf("プロファイル保存エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "プロファイルを保存しました"})
	}
}

// handleGetProfile は認証済みユーザーのプロファイルを返すハンドラ。
func (s *Server) handleGetProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		profile, err := s.queries.GetProfile(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "プロファイルが見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プロファイルの取得に失敗しました"})
			log.Printf("プロファイル取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, profile)
	}
}

// upsertBlockRequest はブロックチャネル置換リクエストのJSON構造。
type upsertBlockRequest struct {
	// Channels はブロックするチャネル名の配列。
	Channels []string `json:"channels" binding:"required"`
}

// handleUpsertBlock は送信元サービスに対するブロックチャネルを置換するハンドラ。
func (s *Server) handleUpsertBlock() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		senderServiceID := c.Param("sender")
		if senderServiceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "送信元サービスIDが必要です"})
			return
		}

		var req upsertBlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		channels := make([]event.Channel, 0, len(req.Channels))
		for _, name := range req.Channels {
			ch, ok := event.ParseChannel(name)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知のチャネルです: %s", name)})
				return
			}
			channels = append(channels, ch)
		}

		if err := s.queries.UpsertBlock(c.Request.Context(), userID, senderServiceID, channels); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ブロックの保存に失敗しました"})
			log.Printf("ブロック保存エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "ブロックを保存しました"})
	}
}

// handleDeleteBlock は送信元サービスに対するブロックを削除するハンドラ。
func (s *Server) handleDeleteBlock() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		senderServiceID := c.Param("sender")
		if senderServiceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "送信元サービスIDが必要です"})
			return
		}

		if err := s.queries.DeleteBlock(c.Request.Context(), userID, senderServiceID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ブロックの削除に失敗しました"})
			log.Printf("ブロック削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "ブロックを削除しました"})
	}
}

// handleFindProfile は内部API向けにプロファイルを返すハンドラ。
// 404はプロファイル不在を表し、呼び出し側で終局的な失敗に分類される。
func (s *Server) handleFindProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		recipientID := c.Param("recipient_id")
		if recipientID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "受信者IDが必要です"})
			return
		}

		profile, err := s.queries.GetProfile(c.Request.Context(), recipientID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "プロファイルが見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プロファイルの取得に失敗しました"})
			log.Printf("プロファイル取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, profile)
	}
}

// upsertSenderRequest は接触履歴upsertリクエストのJSON構造。
type upsertSenderRequest struct {
	// RecipientID は接触された受信者のID。
	RecipientID string `json:"recipient_id" binding:"required"`
	// SenderServiceID は接触した送信元サービスのID。
	SenderServiceID string `json:"sender_service_id" binding:"required"`
	// Version は接触履歴のリビジョン番号。
	Version int64 `json:"version"`
}

// handleUpsertSender は接触履歴をupsertするハンドラ。
// max-version upsertのため、同一リクエストの再実行は安全である。
func (s *Server) handleUpsertSender() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req upsertSenderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.queries.UpsertSenderVersion(c.Request.Context(), req.RecipientID, req.SenderServiceID, req.Version); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "接触履歴の保存に失敗しました"})
			log.Printf("接触履歴保存エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "接触履歴を記録しました"})
	}
}

// handleListSenders は受信者の接触履歴一覧を返すハンドラ。
func (s *Server) handleListSenders() gin.HandlerFunc {
	return func(c *gin.Context) {
		recipientID := c.Param("recipient_id")
		if recipientID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "受信者IDが必要です"})
			return
		}

		records, err := s.queries.ListSenderHistory(c.Request.Context(), recipientID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "接触履歴の取得に失敗しました"})
			log.Printf("接触履歴取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, records)
	}
}

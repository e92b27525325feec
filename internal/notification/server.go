package notification

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

// Server は通知サービスのHTTPサーバー。
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

// NewServer は新しい通知サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/notification.db?_journal_mode=WAL&_busy_timeout=5000")
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
		authed := api.Group("/notifications")
		authed.Use(middleware.JWTAuth(jwtSecret))
		{
			// 自分宛ての通知一覧
			authed.GET("", s.handleList(false))
			// 自分宛ての未読通知一覧
			authed.GET("/unread", s.handleList(true))
			// 通知の既読化
			authed.PUT("/:id/read", s.handleMarkRead())
			// すべての通知の既読化
			authed.PUT("/read-all", s.handleMarkAllRead())
		}

		// 内部API（配信パイプラインから呼び出される）
		internal := api.Group("/internal")
		{
			// 通知レコードの保存
			internal.POST("/notifications", s.handleCreate())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// createRequest は通知レコード保存リクエストのJSON構造。
type createRequest struct {
	// ID は通知レコードの一意識別子。
	ID string `json:"id" binding:"required"`
	// RecipientID は通知先の受信者ID。
	RecipientID string `json:"recipient_id" binding:"required"`
	// MessageID は元となったメッセージのID。
	MessageID string `json:"message_id" binding:"required"`
	// Channels は有効化されたチャネルと配信先の対応。
	Channels map[event.Channel]string `json:"channels" binding:"required"`
}

// handleCreate は通知レコードを保存するハンドラ。
// 同一IDの再送は既存レコードを変更しないno-opとなる。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		for ch := range req.Channels {
			if !ch.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知のチャネルです: %s", ch)})
				return
			}
		}

		if err := s.queries.Create(c.Request.Context(), CreateParams{
			ID:          req.ID,
			RecipientID: req.RecipientID,
			MessageID:   req.MessageID,
			Channels:    req.Channels,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知レコードの保存に失敗しました"})
			log.Printf("通知レコード保存エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":           req.ID,
			"recipient_id": req.RecipientID,
			"message_id":   req.MessageID,
			"channels":     req.Channels,
		})
	}
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (s *Server) handleList(unreadOnly bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		records, err := s.queries.List(c.Request.Context(), userID, unreadOnly)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"notifications": records})
	}
}

// handleMarkRead は通知を既読にするハンドラ。
// 他人の通知を指定した場合は存在自体を秘匿してNotFoundを返す。
func (s *Server) handleMarkRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		if err := s.queries.MarkRead(c.Request.Context(), notificationID, userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "既読化に失敗しました"})
			log.Printf("既読化エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllRead はすべての通知を既読にするハンドラ。
func (s *Server) handleMarkAllRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.queries.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "既読化に失敗しました"})
			log.Printf("一括既読化エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました", "count": count})
	}
}

package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/refpush/internal/designation"
	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/internal/registry"
	"github.com/nao1215/refpush/internal/store"
	"github.com/nao1215/refpush/pkg/middleware"
)

// Options はサーバーの設定。
type Options struct {
	// Port はサーバーのリッスンポート。
	Port string
	// JWTSecret はBearerトークンの検証に使う共有鍵。
	JWTSecret string
	// CORSAllowedOrigins は購読APIを呼び出せるオリジン。
	CORSAllowedOrigins []string
	// VAPIDPublicKey はブラウザのapplicationServerKeyとして返す公開鍵。
	VAPIDPublicKey string
}

// Server はプッシュ通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。ヘルスチェックに使う。
	db *sql.DB
	// queries は一括通知の記録に使うクエリ。
	queries *store.Queries
	// registry は購読と審判ミラーへのアクセス。
	registry *registry.Registry
	// notifier は配信の窓口。VAPID設定が不正な場合はpush.Disabled。
	notifier push.Notifier
	// binding は割り当てイベントを通知に変換する。
	binding *designation.Binding
	// vapidPublicKey はブラウザに返す公開鍵。
	vapidPublicKey string
	// logger は構造化ロガー。
	logger *zap.Logger
	// now は現在時刻の取得関数。
	now func() time.Time
}

// NewServer は新しいプッシュ通知サーバーを生成する。
func NewServer(db *sql.DB, reg *registry.Registry, notifier push.Notifier, binding *designation.Binding, opts Options, logger *zap.Logger) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(gin.Logger())
	router.Use(middleware.CORS(opts.CORSAllowedOrigins))

	s := &Server{
		router:         router,
		port:           opts.Port,
		db:             db,
		queries:        store.New(db),
		registry:       reg,
		notifier:       notifier,
		binding:        binding,
		vapidPublicKey: opts.VAPIDPublicKey,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
	s.setupRoutes(middleware.JWTAuth(opts.JWTSecret))

	return s
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされたらグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("サーバーの停止に失敗: %w", err)
		}
		return nil
	}
}

// setupRoutes はAPIルーティングを設定する。authはBearerトークンを検証するミドルウェア。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
	// Prometheusメトリクス
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	{
		// ブラウザのapplicationServerKey（認証不要）
		api.GET("/push/vapid-public-key", s.handleVAPIDPublicKey())

		authed := api.Group("")
		authed.Use(auth)

		subscriptions := authed.Group("/push/subscriptions")
		subscriptions.Use(middleware.RequireRole(middleware.RoleReferee, middleware.RoleCommissioner))
		{
			subscriptions.GET("", s.handleListSubscriptions())
			subscriptions.POST("", s.handleRegisterSubscription())
			subscriptions.DELETE("", s.handleUnregisterSubscription())
		}

		// 内部API（管理者と他サービスから呼び出される）
		internal := authed.Group("/internal")
		internal.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleService))
		{
			internal.POST("/notifications", s.handleSendNotification())
			internal.GET("/notifications", s.handleListNotifications())
			internal.GET("/notifications/:id", s.handleGetNotification())
			internal.POST("/designations/events", s.handleDesignationEvent())
			internal.POST("/subscriptions/prune", s.handlePruneSubscriptions())
		}
	}
}

// handleHealth はデータベース接続と通知の有効状態を返すハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, disabled := s.notifier.(push.Disabled)
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "push"})
			s.logger.Error("ヘルスチェックでデータベースに接続できません", zap.Error(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "push", "notifications_enabled": !disabled})
	}
}

// handleVAPIDPublicKey はVAPID公開鍵を返すハンドラ。
func (s *Server) handleVAPIDPublicKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, disabled := s.notifier.(push.Disabled); disabled || s.vapidPublicKey == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "プッシュ通知は現在利用できません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"public_key": s.vapidPublicKey})
	}
}

// sendFailure は配信系のエラーをHTTPレスポンスに変換する。
func (s *Server) sendFailure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, push.ErrNotificationsDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "プッシュ通知は現在利用できません"})
	case errors.Is(err, push.ErrInvalidMessage), errors.Is(err, push.ErrPayloadTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の送信に失敗しました"})
		s.logger.Error("通知送信エラー", zap.Error(err))
	}
}

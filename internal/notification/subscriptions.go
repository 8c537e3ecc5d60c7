package notification

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/internal/registry"
	"github.com/nao1215/refpush/pkg/middleware"
)

// subscriptionKeys はブラウザのPushSubscription.toJSON()のkeys。
type subscriptionKeys struct {
	P256dh string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

// registerSubscriptionRequest は購読登録リクエストのJSON構造。
// ブラウザのPushSubscription.toJSON()をそのまま受け付ける。
type registerSubscriptionRequest struct {
	// Endpoint はプッシュサービスが発行したURL。
	Endpoint string `json:"endpoint" binding:"required"`
	// Keys は暗号化用の鍵。
	Keys subscriptionKeys `json:"keys" binding:"required"`
}

// unregisterSubscriptionRequest は購読解除リクエストのJSON構造。
type unregisterSubscriptionRequest struct {
	// Endpoint は解除するURL。
	Endpoint string `json:"endpoint" binding:"required"`
}

// subscriptionResponse は購読のJSONレスポンス構造。鍵は返さない。
type subscriptionResponse struct {
	ID        string `json:"id"`
	Endpoint  string `json:"endpoint"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
	LastUsed  string `json:"last_used,omitempty"`
}

func toSubscriptionResponse(sub push.Subscription) subscriptionResponse {
	resp := subscriptionResponse{
		ID:        sub.ID,
		Endpoint:  sub.Endpoint,
		IsActive:  sub.Active,
		CreatedAt: sub.CreatedAt.Format(time.RFC3339),
	}
	if !sub.LastUsed.IsZero() {
		resp.LastUsed = sub.LastUsed.Format(time.RFC3339)
	}
	return resp
}

// handleListSubscriptions は認証済み審判の有効な購読一覧を返すハンドラ。
func (s *Server) handleListSubscriptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		refereeID := middleware.GetAccountID(c)
		if refereeID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "アカウントIDが取得できません"})
			return
		}

		subs, err := s.registry.ListForReferee(c.Request.Context(), refereeID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読一覧の取得に失敗しました"})
			s.logger.Error("購読一覧取得エラー", zap.Error(err))
			return
		}

		responses := make([]subscriptionResponse, 0, len(subs))
		for _, sub := range subs {
			responses = append(responses, toSubscriptionResponse(sub))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleRegisterSubscription は認証済み審判の購読を登録するハンドラ。
// 同じエンドポイントの再登録は既存の購読を更新する。
func (s *Server) handleRegisterSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		refereeID := middleware.GetAccountID(c)
		if refereeID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "アカウントIDが取得できません"})
			return
		}

		var req registerSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		sub, err := s.registry.Register(c.Request.Context(), refereeID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
		if errors.Is(err, registry.ErrInvalidSubscription) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の登録に失敗しました"})
			s.logger.Error("購読登録エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusCreated, toSubscriptionResponse(sub))
	}
}

// handleUnregisterSubscription は認証済み審判の購読を解除するハンドラ。
func (s *Server) handleUnregisterSubscription() gin.HandlerFunc {
	return func(c *gin.Context) {
		refereeID := middleware.GetAccountID(c)
		if refereeID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "アカウントIDが取得できません"})
			return
		}

		var req unregisterSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		err := s.registry.Unregister(c.Request.Context(), refereeID, req.Endpoint)
		if errors.Is(err, registry.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "購読が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の解除に失敗しました"})
			s.logger.Error("購読解除エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "購読を解除しました"})
	}
}

// pruneRequest は古い購読の整理リクエストのJSON構造。
type pruneRequest struct {
	// OlderThanDays はこの日数より長く使われていない購読を無効にする。
	OlderThanDays int `json:"older_than_days" binding:"required,min=1"`
}

// handlePruneSubscriptions は長期間使われていない購読を無効にするハンドラ。
func (s *Server) handlePruneSubscriptions() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pruneRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		cutoff := s.now().AddDate(0, 0, -req.OlderThanDays)
		pruned, err := s.registry.PruneStale(c.Request.Context(), cutoff)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の整理に失敗しました"})
			s.logger.Error("購読整理エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"pruned": pruned, "cutoff": cutoff.Format(time.RFC3339)})
	}
}

package notification

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/internal/store"
	"github.com/nao1215/refpush/pkg/middleware"
)

const (
	// defaultListLimit は一覧取得の既定の件数。
	defaultListLimit = 50
	// maxListLimit は一覧取得の上限件数。
	maxListLimit = 200
)

// sendNotificationRequest は一括通知リクエストのJSON構造。
type sendNotificationRequest struct {
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Body は通知の本文。
	Body string `json:"body"`
	// Data はService Workerに渡す構造化データ。
	Data map[string]string `json:"data"`
	// URL は通知をクリックしたときに開くパス。
	URL string `json:"url"`
	// RefereeIDs は通知先の審判。空の場合は有効な審判全員。
	RefereeIDs []string `json:"referee_ids"`
}

// notificationEventResponse は一括通知の記録のJSONレスポンス構造。
type notificationEventResponse struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data"`
	CreatedBy    string            `json:"created_by"`
	TargetCount  int               `json:"target_count"`
	SuccessCount int               `json:"success_count"`
	FailedCount  int               `json:"failed_count"`
	Errors       []string          `json:"errors"`
	CreatedAt    string            `json:"created_at"`
	SentAt       string            `json:"sent_at,omitempty"`
}

// toNotificationEventResponse はDB行をJSONレスポンスに変換する。
func toNotificationEventResponse(e store.NotificationEvent) notificationEventResponse {
	resp := notificationEventResponse{
		ID:           e.ID,
		Title:        e.Title,
		Body:         e.Body,
		Data:         e.Data,
		CreatedBy:    e.CreatedBy,
		TargetCount:  e.TargetCount,
		SuccessCount: e.SuccessCount,
		FailedCount:  e.FailedCount,
		Errors:       e.Errors,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	}
	if e.SentAt.Valid {
		resp.SentAt = e.SentAt.Time.Format(time.RFC3339)
	}
	return resp
}

// handleSendNotification は審判へ一括通知を送り、結果を記録するハンドラ。
func (s *Server) handleSendNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendNotificationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		msg := push.NewMessage(req.Title, req.Body)
		msg.URL = req.URL
		for k, v := range req.Data {
			msg = msg.WithData(k, v)
		}
		if _, err := msg.Payload(); err != nil {
			s.sendFailure(c, err)
			return
		}

		ctx := c.Request.Context()
		var (
			referees []push.Referee
			unknown  []string
			err      error
		)
		if len(req.RefereeIDs) == 0 {
			referees, err = s.registry.ActiveReferees(ctx)
		} else {
			referees, err = s.registry.Referees(ctx, req.RefereeIDs)
			unknown = unknownRefereeIDs(req.RefereeIDs, referees)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "審判の取得に失敗しました"})
			s.logger.Error("審判取得エラー", zap.Error(err))
			return
		}

		eventID := uuid.New().String()
		if err := s.queries.CreateNotificationEvent(ctx, store.CreateNotificationEventParams{
			ID:          eventID,
			Title:       req.Title,
			Body:        req.Body,
			Data:        req.Data,
			CreatedBy:   middleware.GetAccountID(c),
			TargetCount: len(referees),
			CreatedAt:   s.now(),
		}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の記録に失敗しました"})
			s.logger.Error("通知記録エラー", zap.Error(err))
			return
		}

		outcome, sendErr := s.notifier.SendEach(ctx, push.DeliveriesTo(referees, msg))
		if sendErr != nil {
			outcome = push.Outcome{Errors: []string{sendErr.Error()}}
		}
		for _, id := range unknown {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("審判 %s: 登録されていません", id))
		}
		if err := s.queries.CompleteNotificationEvent(ctx, eventID, outcome.Success, outcome.Failed, outcome.Errors, s.now()); err != nil {
			s.logger.Error("配信結果の記録に失敗しました", zap.String("notification_event_id", eventID), zap.Error(err))
		}
		if sendErr != nil {
			s.sendFailure(c, sendErr)
			return
		}

		s.logger.Info("一括通知を送信しました",
			zap.String("notification_event_id", eventID),
			zap.Int("targets", len(referees)),
			zap.Int("success", outcome.Success),
			zap.Int("failed", outcome.Failed),
		)
		c.JSON(http.StatusCreated, gin.H{
			"id":           eventID,
			"target_count": len(referees),
			"success":      outcome.Success,
			"failed":       outcome.Failed,
			"errors":       outcome.Errors,
		})
	}
}

// unknownRefereeIDs は指定されたIDのうちミラーに存在しないものを指定順に返す。
func unknownRefereeIDs(ids []string, found []push.Referee) []string {
	known := make(map[string]struct{}, len(found))
	for _, r := range found {
		known[r.ID] = struct{}{}
	}
	var unknown []string
	for _, id := range ids {
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		unknown = append(unknown, id)
	}
	return unknown
}

// handleListNotifications は一括通知の記録を新しい順に返すハンドラ。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultListLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limitは正の整数で指定してください"})
				return
			}
			limit = min(n, maxListLimit)
		}

		events, err := s.queries.ListNotificationEvents(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			s.logger.Error("通知一覧取得エラー", zap.Error(err))
			return
		}

		responses := make([]notificationEventResponse, 0, len(events))
		for _, e := range events {
			responses = append(responses, toNotificationEventResponse(e))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGetNotification は一括通知の記録を1件返すハンドラ。
func (s *Server) handleGetNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := s.queries.GetNotificationEvent(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			s.logger.Error("通知取得エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, toNotificationEventResponse(e))
	}
}

package notification

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/refpush/internal/designation"
	"github.com/nao1215/refpush/pkg/event"
)

// maxEventBodySize はイベントのリクエストボディの上限。
const maxEventBodySize = 1 << 20

// designationResultResponse は割り当てイベントの処理結果のJSON構造。
type designationResultResponse struct {
	designation.Result
	// Error は記録して握りつぶしたエラー。
	Error string `json:"error,omitempty"`
}

// handleDesignationEvent は試合管理サブシステムから割り当てイベントを受け付けるハンドラ。
// 通知の失敗は割り当ての処理には影響しないため、イベントが解釈できれば常に200を返す。
func (s *Server) handleDesignationEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBodySize))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディの読み込みに失敗しました"})
			return
		}

		env, err := event.Decode(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ev, err := designation.FromEnvelope(env)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		for _, r := range ev.Referees {
			if err := s.registry.SyncReferee(ctx, r); err != nil {
				s.logger.Warn("審判ミラーの更新に失敗しました", zap.String("referee_id", r.ID), zap.Error(err))
			}
		}

		res := s.binding.Handle(ctx, ev)
		resp := designationResultResponse{Result: res}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
		c.JSON(http.StatusOK, resp)
	}
}

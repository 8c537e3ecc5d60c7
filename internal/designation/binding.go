package designation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/refpush/internal/metrics"
	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/pkg/event"
)

// ErrUnknownKind は対応していない出来事の種類を表す。
var ErrUnknownKind = errors.New("不明な割り当てイベントです")

// Tracker は作成通知の送信済みフラグを保持する。store.Queriesが満たす。
type Tracker interface {
	IsDesignationNotified(ctx context.Context, designationID string) (bool, error)
	MarkDesignationNotified(ctx context.Context, designationID string, at time.Time) error
}

// Result はHandleの処理結果。
type Result struct {
	// Kind は処理した出来事の種類。
	Kind Kind `json:"kind"`
	// DesignationID は割り当ての識別子。
	DesignationID string `json:"designation_id"`
	// Dispatched は配信を試みたかどうか。
	Dispatched bool `json:"dispatched"`
	// SkipReason は配信しなかった理由。
	SkipReason string `json:"skip_reason,omitempty"`
	// Outcome は配信結果。
	Outcome push.Outcome `json:"outcome"`
	// Marked は送信済みフラグを立てたかどうか。
	Marked bool `json:"marked"`
	// Err は記録して握りつぶしたエラー。
	Err error `json:"-"`
}

// Binding は割り当ての出来事を通知に変換して配信する。
type Binding struct {
	notifier  push.Notifier
	tracker   Tracker
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	// inflight は同じ割り当ての作成通知を同時に1つだけ処理する。
	inflight singleflight.Group
}

// NewBinding は新しいBindingを生成する。publisherがnilの場合はNopPublisherを使う。
func NewBinding(notifier push.Notifier, tracker Tracker, publisher Publisher, logger *zap.Logger) *Binding {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binding{
		notifier:  notifier,
		tracker:   tracker,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle は1つの出来事を処理する。通知に関するエラーやパニックはここで記録して
// 握りつぶし、Result.Errに格納する。呼び出し元の割り当て処理には伝播しない。
func (b *Binding) Handle(ctx context.Context, ev Event) (res Result) {
	res = Result{Kind: ev.Kind, DesignationID: ev.DesignationID}
	logger := b.logger.With(
		zap.String("designation_id", ev.DesignationID),
		zap.String("kind", string(ev.Kind)),
	)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("通知処理でパニックが発生: %v", r)
		}
		outcome := "dispatched"
		switch {
		case res.Err != nil:
			outcome = "error"
			logger.Error("割り当て通知の処理に失敗しました", zap.Error(res.Err))
		case !res.Dispatched:
			outcome = "skipped"
		}
		metrics.DesignationEventsTotal.WithLabelValues(string(ev.Kind), outcome).Inc()
	}()

	switch ev.Kind {
	case KindCreated:
		b.handleCreated(ctx, ev, &res, logger)
	case KindUpdated:
		b.handleUpdated(ctx, ev, &res, logger)
	case KindDeleted:
		b.dispatch(ctx, ev.Referees, CancelledMessage(ev.DesignationID, ev.Role, ev.Match), &res)
	default:
		res.Err = fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	return res
}

// handleCreated は作成通知を一度だけ送る。1件以上届いた場合のみ送信済みにする。
// 同じ割り当ての作成イベントが並行して届いた場合は、先に来た処理の結果を共有する。
func (b *Binding) handleCreated(ctx context.Context, ev Event, res *Result, logger *zap.Logger) {
	if ev.NotificationSent {
		res.SkipReason = "notification_sent"
		return
	}

	v, _, _ := b.inflight.Do(ev.DesignationID, func() (out any, _ error) {
		r := *res
		// singleflightは待機中の呼び出しがあるとパニックを回復できないため、ここで止める
		defer func() {
			if p := recover(); p != nil {
				r.Err = fmt.Errorf("通知処理でパニックが発生: %v", p)
				out = r
			}
		}()
		b.sendCreatedOnce(ctx, ev, &r, logger)
		return r, nil
	})
	*res = v.(Result)
}

// sendCreatedOnce は送信済みフラグを確認してから作成通知を送り、フラグを立てる。
func (b *Binding) sendCreatedOnce(ctx context.Context, ev Event, res *Result, logger *zap.Logger) {
	sent, err := b.tracker.IsDesignationNotified(ctx, ev.DesignationID)
	if err != nil {
		res.Err = err
		return
	}
	if sent {
		res.SkipReason = "notification_sent"
		return
	}

	b.dispatch(ctx, ev.Referees, CreatedMessage(ev.DesignationID, ev.Role, ev.Match), res)
	if res.Err != nil {
		return
	}
	if res.Outcome.Success == 0 {
		logger.Warn("作成通知が1件も届かなかったため未送信のままにします",
			zap.Int("failed", res.Outcome.Failed),
			zap.Strings("errors", res.Outcome.Errors),
		)
		return
	}

	at := b.now()
	if err := b.tracker.MarkDesignationNotified(ctx, ev.DesignationID, at); err != nil {
		res.Err = err
		return
	}
	res.Marked = true

	if err := b.publisher.PublishNotified(ctx, ev.DesignationID, event.DesignationNotifiedData{
		NotificationSentAt: at,
		Success:            res.Outcome.Success,
		Failed:             res.Outcome.Failed,
	}); err != nil {
		logger.Warn("送信済みイベントの発行に失敗しました", zap.Error(err))
	}
}

// handleUpdated は確定または取り消しへの変更を毎回通知する。
func (b *Binding) handleUpdated(ctx context.Context, ev Event, res *Result, logger *zap.Logger) {
	if ev.NewStatus == ev.PreviousStatus {
		res.SkipReason = "status_unchanged"
		return
	}

	var msg push.Message
	switch ev.NewStatus {
	case StatusConfirmed:
		msg = ConfirmedMessage(ev.DesignationID, ev.Role, ev.Match)
	case StatusCancelled:
		msg = CancelledMessage(ev.DesignationID, ev.Role, ev.Match)
	default:
		res.SkipReason = "status_not_notified"
		logger.Debug("通知対象外のステータス変更です", zap.String("new_status", ev.NewStatus))
		return
	}
	b.dispatch(ctx, ev.Referees, msg, res)
}

func (b *Binding) dispatch(ctx context.Context, referees []push.Referee, msg push.Message, res *Result) {
	res.Dispatched = true
	out, err := b.notifier.SendToReferees(ctx, referees, msg)
	res.Outcome = out
	if err != nil {
		res.Err = err
		return
	}
	b.logger.Info("割り当て通知を配信しました",
		zap.String("designation_id", res.DesignationID),
		zap.String("kind", string(res.Kind)),
		zap.Int("success", out.Success),
		zap.Int("failed", out.Failed),
	)
}

// NotifyCreated は新しい割り当ての通知を送る。
func (b *Binding) NotifyCreated(ctx context.Context, designationID string, referees []push.Referee, m Match) (push.Outcome, error) {
	return b.notifier.SendToReferees(ctx, referees, CreatedMessage(designationID, "", m))
}

// NotifyUpdated はステータスに応じた確定または取り消しの通知を送る。
func (b *Binding) NotifyUpdated(ctx context.Context, designationID, status string, referees []push.Referee, m Match) (push.Outcome, error) {
	switch status {
	case StatusConfirmed:
		return b.notifier.SendToReferees(ctx, referees, ConfirmedMessage(designationID, "", m))
	case StatusCancelled:
		return b.notifier.SendToReferees(ctx, referees, CancelledMessage(designationID, "", m))
	default:
		return push.Outcome{Errors: []string{}}, nil
	}
}

// NotifyCancelled は割り当て取り消しの通知を送る。
func (b *Binding) NotifyCancelled(ctx context.Context, designationID string, referees []push.Referee, m Match) (push.Outcome, error) {
	return b.notifier.SendToReferees(ctx, referees, CancelledMessage(designationID, "", m))
}

package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nao1215/refpush/internal/metrics"
	"github.com/nao1215/refpush/pkg/httpclient"
)

const (
	// defaultWorkers は同時に実行する配信の既定の上限。
	defaultWorkers = 8
	// defaultTTL はプッシュサービスがメッセージを保持する既定の秒数（1日）。
	defaultTTL = 24 * 60 * 60
)

// ErrNotificationsDisabled はVAPID設定の不備によりプッシュ通知が無効であることを表す。
var ErrNotificationsDisabled = errors.New("プッシュ通知は無効です")

// Registry は配信に必要な購読の参照と状態更新。
type Registry interface {
	// ActiveFor は審判の有効な購読を返す。
	ActiveFor(ctx context.Context, refereeID string) ([]Subscription, error)
	// Deactivate は購読を無効にする。冪等。
	Deactivate(ctx context.Context, subscriptionID string) error
	// Touch は購読の最終利用日時を更新する。
	Touch(ctx context.Context, subscriptionID string, at time.Time) error
}

// Notifier は審判への通知配信の窓口。DispatcherとDisabledが満たす。
type Notifier interface {
	SendToReferees(ctx context.Context, referees []Referee, msg Message) (Outcome, error)
	SendEach(ctx context.Context, deliveries []Delivery) (Outcome, error)
}

// DeliveryError は1つの購読への配信失敗。
type DeliveryError struct {
	// Provider は使用したプロバイダの名前。
	Provider string
	// StatusCode はプッシュサービスの応答ステータス。通信エラーの場合は0。
	StatusCode int
	// Permanent は購読が恒久的に無効（404/410）かどうか。
	Permanent bool
	// Err は通信エラーなどの原因。
	Err error
}

// Error はエラー内容を返す。
func (e *DeliveryError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	case e.Permanent:
		return fmt.Sprintf("%s: 購読が無効です（status=%d）", e.Provider, e.StatusCode)
	default:
		return fmt.Sprintf("%s: 配信が拒否されました（status=%d）", e.Provider, e.StatusCode)
	}
}

// Unwrap は原因のエラーを返す。
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Dispatcher は通知メッセージを審判の有効な購読へ配信する。
// プロセス起動時に1つ生成し、必要なコンポーネントに渡して共有する。
type Dispatcher struct {
	registry  Registry
	transport Transport
	providers []Provider
	logger    *zap.Logger
	workers   int
	timeout   time.Duration
	ttl       int
	now       func() time.Time
	// sem はSendToRefereesとSendEachをまたいで同時に送信中の配信をworkers件に制限する。
	sem *semaphore.Weighted
}

// Option はDispatcherの設定を変更する関数。
type Option func(*Dispatcher)

// WithTransport は配信に使うTransportを差し替える。
func WithTransport(t Transport) Option {
	return func(d *Dispatcher) { d.transport = t }
}

// WithProviders はプロバイダの判定順を差し替える。
func WithProviders(providers ...Provider) Option {
	return func(d *Dispatcher) { d.providers = providers }
}

// WithLogger はロガーを設定する。
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithWorkers は同時に実行する配信の上限を設定する。
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithTimeout は1回の配信のタイムアウトを設定する。
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithTTL はプッシュサービスがメッセージを保持する秒数を設定する。
func WithTTL(seconds int) Option {
	return func(d *Dispatcher) {
		if seconds >= 0 {
			d.ttl = seconds
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える（テスト用）。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New はVAPID設定を検証してDispatcherを生成する。
// 設定が不正な場合はErrInvalidVAPIDConfigをラップしたエラーを返す。
func New(vapid VAPID, registry Registry, opts ...Option) (*Dispatcher, error) {
	if err := vapid.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		registry:  registry,
		providers: DefaultProviders(),
		logger:    zap.NewNop(),
		workers:   defaultWorkers,
		timeout:   httpclient.DefaultTimeout,
		ttl:       defaultTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.transport == nil {
		d.transport = NewWebPushTransport(vapid, httpclient.New(d.timeout))
	}
	d.sem = semaphore.NewWeighted(int64(d.workers))
	return d, nil
}

// job は1つの購読への配信。
type job struct {
	referee Referee
	sub     Subscription
}

// SendToReferees はメッセージを審判たちの有効な購読すべてに配信し、結果を集計して返す。
// 購読単位の失敗はOutcomeに含め、errorはメッセージ自体が不正な場合のみ返す。
// 購読を持たない審判や無効な審判は成功・失敗のどちらにも数えない。
func (d *Dispatcher) SendToReferees(ctx context.Context, referees []Referee, msg Message) (Outcome, error) {
	payload, err := msg.Payload()
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Errors: []string{}}
	jobs := d.collectJobs(ctx, referees, &outcome)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for _, j := range jobs {
		g.Go(func() error {
			err := d.deliver(ctx, j, payload, msg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Failed++
				outcome.Errors = append(outcome.Errors, fmt.Sprintf("審判 %s（%s）の購読 %s: %v",
					j.referee.ID, j.referee.DisplayName, j.sub.ID, err))
				return nil
			}
			outcome.Success++
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("プッシュ通知を配信しました",
		zap.String("title", msg.Title),
		zap.Int("referees", len(referees)),
		zap.Int("subscriptions", len(jobs)),
		zap.Int("success", outcome.Success),
		zap.Int("failed", outcome.Failed),
	)
	return outcome, nil
}

// collectJobs は配信対象の購読を集める。審判と購読はIDで重複を除き、
// 同じメッセージを同じ購読へ並行して送らないようにする。
func (d *Dispatcher) collectJobs(ctx context.Context, referees []Referee, outcome *Outcome) []job {
	seenReferees := make(map[string]struct{}, len(referees))
	seenSubs := make(map[string]struct{})
	var jobs []job

	for _, r := range referees {
		if _, ok := seenReferees[r.ID]; ok {
			continue
		}
		seenReferees[r.ID] = struct{}{}

		if !r.Active {
			d.logger.Debug("無効な審判への配信をスキップしました", zap.String("referee_id", r.ID))
			continue
		}

		subs, err := d.registry.ActiveFor(ctx, r.ID)
		if err != nil {
			d.logger.Warn("購読の取得に失敗しました", zap.String("referee_id", r.ID), zap.Error(err))
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("審判 %s（%s）: 購読の取得に失敗: %v", r.ID, r.DisplayName, err))
			continue
		}
		for _, s := range subs {
			if _, ok := seenSubs[s.ID]; ok {
				continue
			}
			seenSubs[s.ID] = struct{}{}
			jobs = append(jobs, job{referee: r, sub: s})
		}
	}
	return jobs
}

// deliver は1つの購読へ1回だけ配信を試み、結果に応じて購読の状態を更新する。
func (d *Dispatcher) deliver(ctx context.Context, j job, payload []byte, msg Message) error {
	provider, err := SelectProvider(d.providers, j.sub.Endpoint)
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues("unknown", metrics.ResultTransient).Inc()
		return err
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		metrics.DeliveriesTotal.WithLabelValues(provider.Name, metrics.ResultTransient).Inc()
		return &DeliveryError{Provider: provider.Name, Err: err}
	}
	defer d.sem.Release(1)

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	urgency := msg.Urgency
	if urgency == "" {
		urgency = UrgencyNormal
	}

	start := time.Now()
	status, err := d.transport.Push(attemptCtx, PushRequest{
		Provider:     provider.Name,
		Subscription: j.sub,
		Payload:      payload,
		TTL:          d.ttl,
		Urgency:      urgency,
	})
	metrics.DeliveryDuration.WithLabelValues(provider.Name).Observe(time.Since(start).Seconds())

	logger := d.logger.With(
		zap.String("provider", provider.Name),
		zap.String("referee_id", j.referee.ID),
		zap.String("subscription_id", j.sub.ID),
	)

	switch {
	case err != nil:
		metrics.DeliveriesTotal.WithLabelValues(provider.Name, metrics.ResultTransient).Inc()
		logger.Warn("プッシュ通知の送信に失敗しました", zap.Error(err))
		return &DeliveryError{Provider: provider.Name, Err: err}

	case status == http.StatusNotFound || status == http.StatusGone:
		metrics.DeliveriesTotal.WithLabelValues(provider.Name, metrics.ResultGone).Inc()
		if derr := d.registry.Deactivate(ctx, j.sub.ID); derr != nil {
			logger.Error("無効な購読の無効化に失敗しました", zap.Int("status", status), zap.Error(derr))
		} else {
			metrics.SubscriptionsDeactivated.Inc()
			logger.Info("無効な購読を無効化しました", zap.Int("status", status))
		}
		return &DeliveryError{Provider: provider.Name, StatusCode: status, Permanent: true}

	case provider.Accepts(status):
		metrics.DeliveriesTotal.WithLabelValues(provider.Name, metrics.ResultDelivered).Inc()
		if terr := d.registry.Touch(ctx, j.sub.ID, d.now()); terr != nil {
			// 最終利用日時の更新失敗で配信成功を覆さない
			logger.Warn("購読の最終利用日時の更新に失敗しました", zap.Error(terr))
		}
		return nil

	default:
		metrics.DeliveriesTotal.WithLabelValues(provider.Name, metrics.ResultTransient).Inc()
		logger.Warn("プッシュサービスが配信を拒否しました", zap.Int("status", status))
		return &DeliveryError{Provider: provider.Name, StatusCode: status}
	}
}

// Disabled はVAPID設定の不備で配信できないときに使うNotifier。
// 呼び出しごとにErrNotificationsDisabledを返し、他の処理は止めない。
type Disabled struct {
	// Reason は無効になった原因。
	Reason error
}

// SendToReferees は常にErrNotificationsDisabledを返す。
func (d Disabled) SendToReferees(context.Context, []Referee, Message) (Outcome, error) {
	return Outcome{}, d.err()
}

// SendEach は常にErrNotificationsDisabledを返す。
func (d Disabled) SendEach(context.Context, []Delivery) (Outcome, error) {
	return Outcome{}, d.err()
}

func (d Disabled) err() error {
	if d.Reason == nil {
		return ErrNotificationsDisabled
	}
	return fmt.Errorf("%w: %v", ErrNotificationsDisabled, d.Reason)
}

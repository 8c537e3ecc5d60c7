// Package registry はプッシュ購読の登録・参照・無効化を提供する。
//
// 購読はSQLiteに保存され、(審判, エンドポイント) の組で一意になる。
// 無効化は単一行の更新で行い、無効になった購読が再び配信対象になるのは
// 同じエンドポイントを審判が再登録したときだけである。
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/internal/store"
)

var (
	// ErrSubscriptionNotFound は対象の購読が存在しないことを表す。
	ErrSubscriptionNotFound = errors.New("購読が見つかりません")
	// ErrInvalidSubscription は登録内容が不正であることを表す。
	ErrInvalidSubscription = errors.New("購読の登録内容が不正です")
)

// Registry はプッシュ購読と審判ミラーへのアクセスを提供する。
type Registry struct {
	q      *store.Queries
	logger *zap.Logger
	now    func() time.Time
}

// New は新しいRegistryを生成する。
func New(q *store.Queries, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		q:      q,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// toSubscription はストアの行をpush.Subscriptionに変換する。
func toSubscription(s store.Subscription) push.Subscription {
	sub := push.Subscription{
		ID:        s.ID,
		RefereeID: s.RefereeID,
		Endpoint:  s.Endpoint,
		P256dh:    s.P256dh,
		Auth:      s.Auth,
		Active:    s.IsActive,
		CreatedAt: s.CreatedAt,
	}
	if s.LastUsed.Valid {
		sub.LastUsed = s.LastUsed.Time
	}
	return sub
}

func toSubscriptions(rows []store.Subscription) []push.Subscription {
	subs := make([]push.Subscription, 0, len(rows))
	for _, s := range rows {
		subs = append(subs, toSubscription(s))
	}
	return subs
}

// ActiveFor は審判の有効な購読を返す。購読がない場合は空スライスを返す。
func (r *Registry) ActiveFor(ctx context.Context, refereeID string) ([]push.Subscription, error) {
	rows, err := r.q.ListActiveSubscriptionsByReferee(ctx, refereeID)
	if err != nil {
		return nil, err
	}
	return toSubscriptions(rows), nil
}

// Deactivate は購読を無効にする。既に無効な購読や存在しない購読に対しても成功する。
func (r *Registry) Deactivate(ctx context.Context, subscriptionID string) error {
	n, err := r.q.DeactivateSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("購読を無効化しました", zap.String("subscription_id", subscriptionID))
	}
	return nil
}

// Touch は購読の最終利用日時を更新する。同時に更新された場合は後勝ち。
func (r *Registry) Touch(ctx context.Context, subscriptionID string, at time.Time) error {
	return r.q.TouchSubscription(ctx, subscriptionID, at)
}

// Register は審判の購読を登録する。同じエンドポイントが登録済みなら
// 鍵を置き換えて再度有効にし、新しい行は作らない。
func (r *Registry) Register(ctx context.Context, refereeID, endpoint, p256dh, auth string) (push.Subscription, error) {
	if refereeID == "" || endpoint == "" || p256dh == "" || auth == "" {
		return push.Subscription{}, fmt.Errorf("%w: 審判ID・エンドポイント・鍵はすべて必須です", ErrInvalidSubscription)
	}
	if _, err := push.SelectProvider(push.DefaultProviders(), endpoint); err != nil {
		return push.Subscription{}, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	row, err := r.q.UpsertSubscription(ctx, store.UpsertSubscriptionParams{
		ID:        uuid.New().String(),
		RefereeID: refereeID,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		CreatedAt: r.now(),
	})
	if err != nil {
		return push.Subscription{}, err
	}
	r.logger.Info("購読を登録しました",
		zap.String("referee_id", refereeID),
		zap.String("subscription_id", row.ID),
	)
	return toSubscription(row), nil
}

// Unregister は審判自身によるエンドポイントの購読解除。
func (r *Registry) Unregister(ctx context.Context, refereeID, endpoint string) error {
	row, err := r.q.GetSubscriptionByEndpoint(ctx, refereeID, endpoint)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSubscriptionNotFound
	}
	if err != nil {
		return err
	}
	return r.Deactivate(ctx, row.ID)
}

// ListForReferee は審判の有効な購読を返す。
func (r *Registry) ListForReferee(ctx context.Context, refereeID string) ([]push.Subscription, error) {
	return r.ActiveFor(ctx, refereeID)
}

// PruneStale はcutoffより前から使われていない有効な購読を無効にし、無効にした数を返す。
// 一度も使われていない購読は登録日時で判定する。
func (r *Registry) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := r.q.ListActiveSubscriptions(ctx)
	if err != nil {
		return 0, err
	}

	var pruned int64
	for _, s := range rows {
		last := s.CreatedAt
		if s.LastUsed.Valid {
			last = s.LastUsed.Time
		}
		if !last.Before(cutoff) {
			continue
		}
		n, err := r.q.DeactivateSubscription(ctx, s.ID)
		if err != nil {
			return pruned, err
		}
		pruned += n
	}

	r.logger.Info("古い購読を整理しました", zap.Time("cutoff", cutoff), zap.Int64("pruned", pruned))
	return pruned, nil
}

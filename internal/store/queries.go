package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound は対象の行が存在しないことを表す。
var ErrNotFound = errors.New("対象が見つかりません")

// DBTX はQueriesが必要とするデータベース操作。*sql.DBと*sql.Txの両方が満たす。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries はテーブルごとのクエリを実行する。
type Queries struct {
	db DBTX
}

// New は新しいQueriesを生成する。
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Referee は審判ミラーの1行。
type Referee struct {
	ID          string
	DisplayName string
	Email       string
	IsActive    bool
	UpdatedAt   time.Time
}

// Subscription はプッシュ購読の1行。
type Subscription struct {
	ID        string
	RefereeID string
	Endpoint  string
	P256dh    string
	Auth      string
	IsActive  bool
	CreatedAt time.Time
	LastUsed  sql.NullTime
}

// NotificationEvent は一括通知の記録の1行。
type NotificationEvent struct {
	ID           string
	Title        string
	Body         string
	Data         map[string]string
	CreatedBy    string
	TargetCount  int
	SuccessCount int
	FailedCount  int
	Errors       []string
	CreatedAt    time.Time
	SentAt       sql.NullTime
}

// boolToInt はSQLiteのINTEGER列に格納する値へ変換する。
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertReferee は審判ミラーを作成または更新する。
func (q *Queries) UpsertReferee(ctx context.Context, r Referee) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO referees (id, display_name, email, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		r.ID, r.DisplayName, r.Email, boolToInt(r.IsActive), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("審判の保存に失敗: %w", err)
	}
	return nil
}

// ListActiveReferees は有効な審判をID順に返す。
func (q *Queries) ListActiveReferees(ctx context.Context) ([]Referee, error) {
	return q.queryReferees(ctx, `
		SELECT id, display_name, email, is_active, updated_at
		FROM referees WHERE is_active = 1 ORDER BY id`)
}

// GetRefereesByIDs は指定されたIDの審判を返す。存在しないIDは無視する。
func (q *Queries) GetRefereesByIDs(ctx context.Context, ids []string) ([]Referee, error) {
	if len(ids) == 0 {
		return []Referee{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return q.queryReferees(ctx, `
		SELECT id, display_name, email, is_active, updated_at
		FROM referees WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
}

func (q *Queries) queryReferees(ctx context.Context, query string, args ...any) ([]Referee, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("審判の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	referees := []Referee{}
	for rows.Next() {
		var (
			r      Referee
			active int
		)
		if err := rows.Scan(&r.ID, &r.DisplayName, &r.Email, &active, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("審判の読み込みに失敗: %w", err)
		}
		r.IsActive = active != 0
		referees = append(referees, r)
	}
	return referees, rows.Err()
}

// UpsertSubscriptionParams はUpsertSubscriptionの引数。
type UpsertSubscriptionParams struct {
	ID        string
	RefereeID string
	Endpoint  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
}

// UpsertSubscription は購読を登録する。同じ審判・エンドポイントの行が既にあれば
// 鍵を置き換えて再度有効にし、元のIDを維持する。
func (q *Queries) UpsertSubscription(ctx context.Context, p UpsertSubscriptionParams) (Subscription, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, referee_id, endpoint, p256dh, auth, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(referee_id, endpoint) DO UPDATE SET
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			is_active = 1`,
		p.ID, p.RefereeID, p.Endpoint, p.P256dh, p.Auth, p.CreatedAt.UTC(),
	)
	if err != nil {
		return Subscription{}, fmt.Errorf("購読の保存に失敗: %w", err)
	}
	return q.GetSubscriptionByEndpoint(ctx, p.RefereeID, p.Endpoint)
}

const subscriptionColumns = `id, referee_id, endpoint, p256dh, auth, is_active, created_at, last_used`

func scanSubscription(scan func(dest ...any) error) (Subscription, error) {
	var (
		s      Subscription
		active int
	)
	if err := scan(&s.ID, &s.RefereeID, &s.Endpoint, &s.P256dh, &s.Auth, &active, &s.CreatedAt, &s.LastUsed); err != nil {
		return Subscription{}, err
	}
	s.IsActive = active != 0
	return s, nil
}

// GetSubscriptionByEndpoint は審判とエンドポイントで購読を取得する。
func (q *Queries) GetSubscriptionByEndpoint(ctx context.Context, refereeID, endpoint string) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM push_subscriptions WHERE referee_id = ? AND endpoint = ?`,
		refereeID, endpoint,
	)
	s, err := scanSubscription(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("購読の取得に失敗: %w", err)
	}
	return s, nil
}

// GetSubscription はIDで購読を取得する。
func (q *Queries) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE id = ?`, id)
	s, err := scanSubscription(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("購読の取得に失敗: %w", err)
	}
	return s, nil
}

// ListActiveSubscriptionsByReferee は審判の有効な購読を返す。
func (q *Queries) ListActiveSubscriptionsByReferee(ctx context.Context, refereeID string) ([]Subscription, error) {
	return q.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM push_subscriptions WHERE referee_id = ? AND is_active = 1`, refereeID)
}

// ListActiveSubscriptions はすべての有効な購読を返す。
func (q *Queries) ListActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	return q.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM push_subscriptions WHERE is_active = 1`)
}

func (q *Queries) querySubscriptions(ctx context.Context, query string, args ...any) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subs := []Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("購読の読み込みに失敗: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// DeactivateSubscription は購読を無効にし、状態が変わった行数を返す。
// 既に無効な購読に対しては0を返す。
func (q *Queries) DeactivateSubscription(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE push_subscriptions SET is_active = 0 WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return 0, fmt.Errorf("購読の無効化に失敗: %w", err)
	}
	return res.RowsAffected()
}

// TouchSubscription は購読の最終利用日時を更新する。
func (q *Queries) TouchSubscription(ctx context.Context, id string, at time.Time) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE push_subscriptions SET last_used = ? WHERE id = ?`, at.UTC(), id); err != nil {
		return fmt.Errorf("購読の最終利用日時の更新に失敗: %w", err)
	}
	return nil
}

// IsDesignationNotified は割り当ての作成通知が送信済みかどうかを返す。
func (q *Queries) IsDesignationNotified(ctx context.Context, designationID string) (bool, error) {
	var sent int
	err := q.db.QueryRowContext(ctx,
		`SELECT notification_sent FROM designation_notifications WHERE designation_id = ?`, designationID,
	).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("送信済みフラグの取得に失敗: %w", err)
	}
	return sent != 0, nil
}

// MarkDesignationNotified は割り当ての作成通知を送信済みにする。
func (q *Queries) MarkDesignationNotified(ctx context.Context, designationID string, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO designation_notifications (designation_id, notification_sent, notification_sent_at)
		VALUES (?, 1, ?)
		ON CONFLICT(designation_id) DO UPDATE SET
			notification_sent = 1,
			notification_sent_at = excluded.notification_sent_at`,
		designationID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("送信済みフラグの更新に失敗: %w", err)
	}
	return nil
}

// CreateNotificationEventParams はCreateNotificationEventの引数。
type CreateNotificationEventParams struct {
	ID          string
	Title       string
	Body        string
	Data        map[string]string
	CreatedBy   string
	TargetCount int
	CreatedAt   time.Time
}

// CreateNotificationEvent は一括通知の記録を作成する。
func (q *Queries) CreateNotificationEvent(ctx context.Context, p CreateNotificationEventParams) error {
	data := p.Data
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("通知データのシリアライズに失敗: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO notification_events (id, title, body, data, created_by, target_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Body, string(dataJSON), p.CreatedBy, p.TargetCount, p.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("通知イベントの作成に失敗: %w", err)
	}
	return nil
}

// CompleteNotificationEvent は一括通知の配信結果を記録する。
func (q *Queries) CompleteNotificationEvent(ctx context.Context, id string, success, failed int, errs []string, at time.Time) error {
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("エラー一覧のシリアライズに失敗: %w", err)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE notification_events
		SET success_count = ?, failed_count = ?, errors = ?, sent_at = ?
		WHERE id = ?`,
		success, failed, string(errsJSON), at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("通知イベントの更新に失敗: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const notificationEventColumns = `id, title, body, data, created_by, target_count, success_count, failed_count, errors, created_at, sent_at`

func scanNotificationEvent(scan func(dest ...any) error) (NotificationEvent, error) {
	var (
		e        NotificationEvent
		dataJSON string
		errsJSON string
	)
	if err := scan(&e.ID, &e.Title, &e.Body, &dataJSON, &e.CreatedBy, &e.TargetCount,
		&e.SuccessCount, &e.FailedCount, &errsJSON, &e.CreatedAt, &e.SentAt); err != nil {
		return NotificationEvent{}, err
	}
	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return NotificationEvent{}, fmt.Errorf("通知データのデシリアライズに失敗: %w", err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &e.Errors); err != nil {
		return NotificationEvent{}, fmt.Errorf("エラー一覧のデシリアライズに失敗: %w", err)
	}
	return e, nil
}

// GetNotificationEvent はIDで一括通知の記録を取得する。
func (q *Queries) GetNotificationEvent(ctx context.Context, id string) (NotificationEvent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+notificationEventColumns+` FROM notification_events WHERE id = ?`, id)
	e, err := scanNotificationEvent(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return NotificationEvent{}, ErrNotFound
	}
	if err != nil {
		return NotificationEvent{}, fmt.Errorf("通知イベントの取得に失敗: %w", err)
	}
	return e, nil
}

// ListNotificationEvents は一括通知の記録を新しい順に最大limit件返す。
func (q *Queries) ListNotificationEvents(ctx context.Context, limit int) ([]NotificationEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+notificationEventColumns+`
		FROM notification_events ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("通知イベント一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []NotificationEvent{}
	for rows.Next() {
		e, err := scanNotificationEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("通知イベントの読み込みに失敗: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeDesignation は審判の割り当て（デジグネーション）を表す。
	AggregateTypeDesignation AggregateType = "Designation"
	// AggregateTypeReferee は審判アカウントを表す。
	AggregateTypeReferee AggregateType = "Referee"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeDesignationCreated は割り当てが作成されたことを表す。
	TypeDesignationCreated Type = "DesignationCreated"
	// TypeDesignationUpdated は割り当てのステータスが変更されたことを表す。
	TypeDesignationUpdated Type = "DesignationUpdated"
	// TypeDesignationDeleted は割り当てが削除（取り消し）されたことを表す。
	TypeDesignationDeleted Type = "DesignationDeleted"

	// TypeDesignationNotified は割り当て作成の通知が少なくとも1件届いたことを表す。
	// 試合管理サブシステムが notification_sent を更新するために購読する。
	TypeDesignationNotified Type = "DesignationNotified"
)

// Event はサブシステム間で受け渡される不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// MatchData は割り当て対象の試合の要約。
type MatchData struct {
	// ID は試合の識別子。
	ID string `json:"id"`
	// HomeTeam はホームチーム名。
	HomeTeam string `json:"home_team"`
	// AwayTeam はアウェイチーム名。
	AwayTeam string `json:"away_team"`
	// Date はキックオフ日時。
	Date time.Time `json:"date"`
	// Venue は会場名。
	Venue string `json:"venue"`
}

// RefereeData はイベントに同梱される審判の読み取り専用スナップショット。
type RefereeData struct {
	// ID は審判の識別子。
	ID string `json:"id"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name"`
	// Email は連絡先メールアドレス。
	Email string `json:"contact_email"`
	// IsActive は審判アカウントが有効かどうか。省略された場合は有効として扱う。
	IsActive *bool `json:"is_active,omitempty"`
}

// Active は審判アカウントが有効かどうかを返す。is_activeが省略された場合はtrue。
func (r RefereeData) Active() bool {
	return r.IsActive == nil || *r.IsActive
}

// DesignationData はDesignationCreated/Updated/Deletedイベントのデータ。
type DesignationData struct {
	// Role は割り当てられた役割（主審、副審など）。
	Role string `json:"role,omitempty"`
	// Match は試合の要約。
	Match MatchData `json:"match"`
	// Referees は通知対象の審判。
	Referees []RefereeData `json:"referees"`
	// PreviousStatus は変更前のステータス。作成時は空。
	PreviousStatus string `json:"previous_status,omitempty"`
	// NewStatus は変更後のステータス。
	NewStatus string `json:"new_status,omitempty"`
	// NotificationSent は作成通知が送信済みかどうか。
	NotificationSent bool `json:"notification_sent"`
}

// DesignationNotifiedData はDesignationNotifiedイベントのデータ。
type DesignationNotifiedData struct {
	// NotificationSentAt は通知が確認された日時。
	NotificationSentAt time.Time `json:"notification_sent_at"`
	// Success は配信に成功した購読の数。
	Success int `json:"success"`
	// Failed は配信に失敗した購読の数。
	Failed int `json:"failed"`
}

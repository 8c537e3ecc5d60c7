package designation

import (
	"fmt"
	"time"

	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/pkg/event"
)

// Kind は割り当てのライフサイクル上の出来事の種類。
type Kind string

const (
	// KindCreated は割り当ての作成。
	KindCreated Kind = "created"
	// KindUpdated は割り当てのステータス変更。
	KindUpdated Kind = "updated"
	// KindDeleted は割り当ての削除による取り消し。
	KindDeleted Kind = "deleted"
)

// 割り当てのステータス。
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// Match は通知文に使う試合の情報。
type Match struct {
	ID       string
	HomeTeam string
	AwayTeam string
	Date     time.Time
	Venue    string
}

// Event は割り当ての1つの出来事。削除の場合も削除前の状態を保持する。
type Event struct {
	// DesignationID は割り当ての識別子。
	DesignationID string
	// Kind は出来事の種類。
	Kind Kind
	// Role は割り当てられた役割。
	Role string
	// Match は対象の試合。
	Match Match
	// Referees は通知対象の審判。
	Referees []push.Referee
	// PreviousStatus は変更前のステータス。
	PreviousStatus string
	// NewStatus は変更後のステータス。
	NewStatus string
	// NotificationSent は作成通知が送信済みかどうか。
	NotificationSent bool
}

// FromEnvelope はイベントエンベロープを割り当てのEventに変換する。
func FromEnvelope(e *event.Event) (Event, error) {
	var kind Kind
	switch e.EventType {
	case event.TypeDesignationCreated:
		kind = KindCreated
	case event.TypeDesignationUpdated:
		kind = KindUpdated
	case event.TypeDesignationDeleted:
		kind = KindDeleted
	default:
		return Event{}, fmt.Errorf("%w: 割り当てのイベントではありません: %s", event.ErrInvalidEvent, e.EventType)
	}

	data, err := event.DecodeData[event.DesignationData](e)
	if err != nil {
		return Event{}, err
	}

	referees := make([]push.Referee, 0, len(data.Referees))
	for _, r := range data.Referees {
		referees = append(referees, push.Referee{
			ID:          r.ID,
			DisplayName: r.DisplayName,
			Email:       r.Email,
			Active:      r.Active(),
		})
	}

	return Event{
		DesignationID: e.AggregateID,
		Kind:          kind,
		Role:          data.Role,
		Match: Match{
			ID:       data.Match.ID,
			HomeTeam: data.Match.HomeTeam,
			AwayTeam: data.Match.AwayTeam,
			Date:     data.Match.Date,
			Venue:    data.Match.Venue,
		},
		Referees:         referees,
		PreviousStatus:   data.PreviousStatus,
		NewStatus:        data.NewStatus,
		NotificationSent: data.NotificationSent,
	}, nil
}

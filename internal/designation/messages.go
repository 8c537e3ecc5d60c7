package designation

import (
	"fmt"
	"time"

	"github.com/nao1215/refpush/internal/push"
)

// jst は試合日時の表示に使うタイムゾーン。
var jst = time.FixedZone("JST", 9*60*60)

// matchLine は「ホーム vs アウェイ」を返す。
func matchLine(m Match) string {
	return fmt.Sprintf("%s vs %s", m.HomeTeam, m.AwayTeam)
}

// scheduleLine は日時と会場を返す。
func scheduleLine(m Match) string {
	if m.Date.IsZero() {
		return m.Venue
	}
	return fmt.Sprintf("%s %s", m.Date.In(jst).Format("2006/01/02 15:04"), m.Venue)
}

// baseMessage は試合の情報を構造化データに含めたメッセージを作る。
func baseMessage(kind, title, body, designationID, role string, m Match) push.Message {
	msg := push.NewMessage(title, body)
	msg.Tag = "designation-" + designationID
	msg.URL = "/designations/" + designationID
	msg.Urgency = push.UrgencyHigh

	msg = msg.WithData("type", kind).
		WithData("designation_id", designationID).
		WithData("match_id", m.ID).
		WithData("home_team", m.HomeTeam).
		WithData("away_team", m.AwayTeam).
		WithData("venue", m.Venue)
	if !m.Date.IsZero() {
		msg = msg.WithData("date", m.Date.UTC().Format(time.RFC3339))
	}
	if role != "" {
		msg = msg.WithData("role", role)
	}
	return msg
}

// CreatedMessage は新しい割り当ての通知を作る。
func CreatedMessage(designationID, role string, m Match) push.Message {
	body := matchLine(m) + "\n" + scheduleLine(m)
	if role != "" {
		body += "\n役割: " + role
	}
	return baseMessage("designation_created", "新しい割り当てがあります", body, designationID, role, m)
}

// ConfirmedMessage は割り当て確定の通知を作る。
func ConfirmedMessage(designationID, role string, m Match) push.Message {
	body := matchLine(m) + " の割り当てが確定しました\n" + scheduleLine(m)
	return baseMessage("designation_confirmed", "割り当てが確定しました", body, designationID, role, m)
}

// CancelledMessage は割り当て取り消しの通知を作る。
func CancelledMessage(designationID, role string, m Match) push.Message {
	body := matchLine(m) + " の割り当ては取り消されました\n" + scheduleLine(m)
	return baseMessage("designation_cancelled", "割り当てが取り消されました", body, designationID, role, m)
}

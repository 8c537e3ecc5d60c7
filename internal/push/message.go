package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// maxPayloadSize は暗号化前のペイロードの上限。
// Web Pushのレコードサイズ4096バイトから暗号化のオーバーヘッドを差し引いた値。
const maxPayloadSize = 3993

// Urgency はプッシュサービスに伝える配信の緊急度。
type Urgency string

const (
	// UrgencyNormal は通常の緊急度。
	UrgencyNormal Urgency = "normal"
	// UrgencyHigh は端末をすぐに起こすべき緊急度。
	UrgencyHigh Urgency = "high"
)

var (
	// ErrInvalidMessage は通知メッセージの組み立てが不正であることを表す。
	ErrInvalidMessage = errors.New("通知メッセージが不正です")
	// ErrPayloadTooLarge はペイロードがWeb Pushの上限を超えたことを表す。
	ErrPayloadTooLarge = errors.New("通知ペイロードが大きすぎます")
)

// Message は1回の配信呼び出しの間だけ存在する通知メッセージ。
type Message struct {
	// Title は通知のタイトル。必須。
	Title string
	// Body は通知の本文。
	Body string
	// Data はService Workerに渡す構造化データ。
	Data map[string]string
	// Tag は同じ種類の通知をまとめるためのタグ。
	Tag string
	// Icon は通知アイコンのURL。
	Icon string
	// Badge はバッジ画像のURL。
	Badge string
	// URL は通知をクリックしたときに開くパス。
	URL string
	// Urgency はプッシュサービスに伝える緊急度。
	Urgency Urgency
	// Timestamp はメッセージの生成日時。
	Timestamp time.Time
}

// NewMessage はタイトルと本文から通知メッセージを生成する。
func NewMessage(title, body string) Message {
	return Message{
		Title:     title,
		Body:      body,
		Data:      map[string]string{},
		Urgency:   UrgencyNormal,
		Timestamp: time.Now().UTC(),
	}
}

// WithData はデータを追加したコピーを返す。元のメッセージは変更しない。
func (m Message) WithData(key, value string) Message {
	data := make(map[string]string, len(m.Data)+1)
	maps.Copy(data, m.Data)
	data[key] = value
	m.Data = data
	return m
}

// payload はService Workerが受け取るJSONの形。
type payload struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Icon      string            `json:"icon,omitempty"`
	Badge     string            `json:"badge,omitempty"`
	Tag       string            `json:"tag,omitempty"`
	URL       string            `json:"url,omitempty"`
	Data      map[string]string `json:"data"`
	Timestamp int64             `json:"timestamp"`
}

// Payload はメッセージを検証してService Worker向けのJSONに変換する。
func (m Message) Payload() ([]byte, error) {
	if m.Title == "" {
		return nil, fmt.Errorf("%w: タイトルが空です", ErrInvalidMessage)
	}

	data := m.Data
	if data == nil {
		data = map[string]string{}
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	b, err := json.Marshal(payload{
		Title:     m.Title,
		Body:      m.Body,
		Icon:      m.Icon,
		Badge:     m.Badge,
		Tag:       m.Tag,
		URL:       m.URL,
		Data:      data,
		Timestamp: ts.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("通知ペイロードのシリアライズに失敗: %w", err)
	}
	if len(b) > maxPayloadSize {
		return nil, fmt.Errorf("%w: %dバイト（上限%dバイト）", ErrPayloadTooLarge, len(b), maxPayloadSize)
	}
	return b, nil
}

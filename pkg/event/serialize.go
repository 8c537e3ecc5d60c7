package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEvent はイベントのエンベロープが不完全であることを表す。
var ErrInvalidEvent = errors.New("イベントが不正です")

// New は新しいイベントを生成する。
// dataにはイベント固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(aggregateID string, aggregateType AggregateType, eventType Type, version int64, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Decode はJSONバイト列をイベントに復元し、必須フィールドを検証する。
// Kafkaメッセージや内部APIのリクエストボディの解釈に使用する。
func Decode(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("イベントのデシリアライズに失敗: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate はエンベロープの必須フィールドを検証する。
func (e *Event) Validate() error {
	switch {
	case e.AggregateID == "":
		return fmt.Errorf("%w: aggregate_idが空です", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: event_typeが空です", ErrInvalidEvent)
	case len(e.Data) == 0:
		return fmt.Errorf("%w: dataが空です", ErrInvalidEvent)
	}
	return nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

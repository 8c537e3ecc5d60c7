package designation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nao1215/refpush/pkg/event"
)

// Publisher は作成通知が届いたことを試合管理サブシステムに知らせる。
type Publisher interface {
	PublishNotified(ctx context.Context, designationID string, data event.DesignationNotifiedData) error
}

// NopPublisher は何もしないPublisher。Kafkaを設定しない場合に使う。
type NopPublisher struct{}

// PublishNotified は何もしない。
func (NopPublisher) PublishNotified(context.Context, string, event.DesignationNotifiedData) error {
	return nil
}

// messageWriter はkafka.Writerのうち使用する操作。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher はDesignationNotifiedイベントをKafkaに書き込む。
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher はブローカーとトピックを指定してKafkaPublisherを生成する。
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			Logger: kafka.LoggerFunc(func(msg string, args ...any) {
				logger.Debug(fmt.Sprintf(msg, args...))
			}),
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				logger.Warn(fmt.Sprintf(msg, args...))
			}),
		},
	}
}

// PublishNotified はイベントを割り当てIDをキーにして書き込む。
func (p *KafkaPublisher) PublishNotified(ctx context.Context, designationID string, data event.DesignationNotifiedData) error {
	ev, err := event.New(designationID, event.AggregateTypeDesignation, event.TypeDesignationNotified, 0, data)
	if err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(designationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.TypeDesignationNotified)},
		},
	}); err != nil {
		return fmt.Errorf("送信済みイベントの書き込みに失敗: %w", err)
	}
	return nil
}

// Close はWriterを閉じる。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

package designation

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/pkg/event"
)

// MessageReader はkafka.Readerのうち使用する操作。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RefereeSyncer はイベントに同梱された審判の情報をミラーに反映する。
type RefereeSyncer interface {
	SyncReferee(ctx context.Context, ref push.Referee) error
}

// Consumer は割り当てイベントをKafkaから読み込み、Bindingで処理する。
type Consumer struct {
	reader  MessageReader
	binding *Binding
	syncer  RefereeSyncer
	logger  *zap.Logger
}

// NewKafkaReader はコンシューマグループで割り当てイベントを読むReaderを生成する。
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(readerConfig(brokers, topic, groupID))
}

// readerConfig はReaderの設定を返す。コミット済みのオフセットがない新しいグループは
// トピックの先頭から読み、起動前に発行された割り当てイベントも取りこぼさない。
func readerConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	}
}

// NewConsumer は新しいConsumerを生成する。syncerはnilでもよい。
// readerの所有権はConsumerに移り、Runの終了時に閉じられる。
func NewConsumer(reader MessageReader, binding *Binding, syncer RefereeSyncer, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, binding: binding, syncer: syncer, logger: logger}
}

// Run はctxがキャンセルされるまでイベントを処理する。
// 解釈できないメッセージは記録してコミットし、読み飛ばす。
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("割り当てイベントの購読を開始しました")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("Kafka Readerのクローズに失敗しました", zap.Error(err))
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("割り当てイベントの購読を終了しました")
				return nil
			}
			c.logger.Error("Kafkaメッセージの読み込みに失敗しました", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		c.process(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("オフセットのコミットに失敗しました", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// process は1つのメッセージを処理する。
func (c *Consumer) process(ctx context.Context, m kafka.Message) {
	logger := c.logger.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))

	env, err := event.Decode(m.Value)
	if err != nil {
		logger.Warn("不正なイベントを読み飛ばしました", zap.Error(err))
		return
	}
	ev, err := FromEnvelope(env)
	if err != nil {
		logger.Debug("割り当て以外のイベントを読み飛ばしました", zap.String("event_type", string(env.EventType)))
		return
	}

	if c.syncer != nil {
		for _, r := range ev.Referees {
			if err := c.syncer.SyncReferee(ctx, r); err != nil {
				logger.Warn("審判ミラーの更新に失敗しました", zap.String("referee_id", r.ID), zap.Error(err))
			}
		}
	}

	res := c.binding.Handle(ctx, ev)
	logger.Info("割り当てイベントを処理しました",
		zap.String("designation_id", res.DesignationID),
		zap.String("kind", string(res.Kind)),
		zap.Bool("dispatched", res.Dispatched),
		zap.String("skip_reason", res.SkipReason),
		zap.Int("success", res.Outcome.Success),
		zap.Int("failed", res.Outcome.Failed),
	)
}

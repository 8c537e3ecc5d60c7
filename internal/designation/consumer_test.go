package designation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/pkg/event"
)

// fakeReader は用意したメッセージを順に返し、尽きたらコンテキストをキャンセルする。
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	cancel    context.CancelFunc
	committed []int64
	closes    int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

// fakeSyncer は反映された審判を記録する。
type fakeSyncer struct {
	mu     sync.Mutex
	synced []string
}

func (s *fakeSyncer) SyncReferee(_ context.Context, ref push.Referee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = append(s.synced, ref.ID)
	return nil
}

func kafkaMessage(t *testing.T, offset int64, e *event.Event) kafka.Message {
	t.Helper()

	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("イベントのシリアライズに失敗: %v", err)
	}
	return kafka.Message{Offset: offset, Value: b}
}

// TestConsumerRun はKafkaからの割り当てイベントの処理を検証する。
func TestConsumerRun(t *testing.T) {
	t.Parallel()

	data := event.DesignationData{
		Match:    event.MatchData{ID: "match-1", HomeTeam: "東京FC", AwayTeam: "大阪SC", Venue: "国立競技場"},
		Referees: []event.RefereeData{{ID: "ref-1", DisplayName: "山田"}},
	}
	notified, err := event.New("ref-1", event.AggregateTypeReferee, event.TypeDesignationNotified, 1, event.DesignationNotifiedData{})
	if err != nil {
		t.Fatalf("event.New()でエラーが発生: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			kafkaMessage(t, 1, designationEnvelope(t, event.TypeDesignationCreated, data)),
			{Offset: 2, Value: []byte("not json")},
			kafkaMessage(t, 3, notified),
			kafkaMessage(t, 4, designationEnvelope(t, event.TypeDesignationDeleted, data)),
		},
	}
	n := &fakeNotifier{outcome: push.Outcome{Success: 1}}
	tracker := newFakeTracker()
	syncer := &fakeSyncer{}
	c := NewConsumer(reader, NewBinding(n, tracker, nil, zap.NewNop()), syncer, zap.NewNop())

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run()でエラーが発生: %v", err)
	}

	if n.callCount() != 2 {
		t.Errorf("配信回数 = %d, want 2（作成と取り消し）", n.callCount())
	}
	if _, ok := tracker.sent["des-1"]; !ok {
		t.Error("作成通知の送信済みフラグが立っていない")
	}
	if len(reader.committed) != 4 {
		t.Errorf("コミット数 = %d, want 4（不正なメッセージも読み飛ばしてコミット）", len(reader.committed))
	}
	if reader.closes != 1 {
		t.Errorf("Readerのクローズ回数 = %d, want 1", reader.closes)
	}
	if len(syncer.synced) != 2 || syncer.synced[0] != "ref-1" {
		t.Errorf("反映された審判 = %v", syncer.synced)
	}
}

// TestReaderConfig は割り当てイベントを読むReaderの設定を検証する。
func TestReaderConfig(t *testing.T) {
	t.Parallel()

	cfg := readerConfig([]string{"kafka:9092"}, "designation-events", "refpush")
	if cfg.StartOffset != kafka.FirstOffset {
		t.Errorf("StartOffset = %d, want FirstOffset（新しいグループでも先頭から読む）", cfg.StartOffset)
	}
	if cfg.GroupID != "refpush" || cfg.Topic != "designation-events" || len(cfg.Brokers) != 1 {
		t.Errorf("ReaderConfig = %+v", cfg)
	}
	if cfg.CommitInterval != 0 {
		t.Errorf("CommitInterval = %v, want 0（処理ごとに同期コミット）", cfg.CommitInterval)
	}
}

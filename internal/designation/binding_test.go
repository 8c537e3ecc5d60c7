package designation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/pkg/event"
)

// fakeNotifier は呼び出しを記録して決めた結果を返すNotifier。
type fakeNotifier struct {
	mu       sync.Mutex
	outcome  push.Outcome
	err      error
	panicMsg string
	delay    time.Duration
	calls    []push.Message
	targets  [][]push.Referee
}

func (n *fakeNotifier) SendToReferees(_ context.Context, referees []push.Referee, msg push.Message) (push.Outcome, error) {
	time.Sleep(n.delay)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panicMsg != "" {
		panic(n.panicMsg)
	}
	n.calls = append(n.calls, msg)
	n.targets = append(n.targets, referees)
	return n.outcome, n.err
}

func (n *fakeNotifier) SendEach(ctx context.Context, deliveries []push.Delivery) (push.Outcome, error) {
	total := push.Outcome{Errors: []string{}}
	for _, d := range deliveries {
		out, err := n.SendToReferees(ctx, []push.Referee{d.Referee}, d.Message)
		if err != nil {
			return total, err
		}
		total.Merge(out)
	}
	return total, nil
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// fakeTracker はインメモリの送信済みフラグ。
type fakeTracker struct {
	mu      sync.Mutex
	sent    map[string]time.Time
	readErr error
	markErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{sent: map[string]time.Time{}}
}

func (t *fakeTracker) IsDesignationNotified(_ context.Context, id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return false, t.readErr
	}
	_, ok := t.sent[id]
	return ok, nil
}

func (t *fakeTracker) MarkDesignationNotified(_ context.Context, id string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.markErr != nil {
		return t.markErr
	}
	t.sent[id] = at
	return nil
}

// fakePublisher は発行されたイベントを記録する。
type fakePublisher struct {
	mu        sync.Mutex
	published []event.DesignationNotifiedData
	err       error
}

func (p *fakePublisher) PublishNotified(_ context.Context, _ string, data event.DesignationNotifiedData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, data)
	return p.err
}

var testMatch = Match{
	ID:       "match-1",
	HomeTeam: "東京FC",
	AwayTeam: "大阪SC",
	Date:     time.Date(2026, 10, 25, 5, 0, 0, 0, time.UTC),
	Venue:    "国立競技場",
}

func createdEvent() Event {
	return Event{
		DesignationID: "des-1",
		Kind:          KindCreated,
		Role:          "主審",
		Match:         testMatch,
		Referees:      []push.Referee{{ID: "ref-1", DisplayName: "山田", Active: true}},
	}
}

// TestHandleCreated は作成通知の配信と送信済みフラグを検証する。
func TestHandleCreated(t *testing.T) {
	t.Parallel()

	t.Run("1件以上届いた場合に送信済みになりイベントが発行されること", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Success: 1, Failed: 1, Errors: []string{"x"}}}
		tr := newFakeTracker()
		pub := &fakePublisher{}
		now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
		b := NewBinding(n, tr, pub, nil)
		b.now = func() time.Time { return now }

		res := b.Handle(t.Context(), createdEvent())
		if res.Err != nil {
			t.Fatalf("Handle()でエラーが記録された: %v", res.Err)
		}
		if !res.Dispatched || !res.Marked {
			t.Errorf("Result = %+v", res)
		}
		if got := tr.sent["des-1"]; !got.Equal(now) {
			t.Errorf("notification_sent_at = %v, want %v", got, now)
		}
		if len(pub.published) != 1 || pub.published[0].Success != 1 || !pub.published[0].NotificationSentAt.Equal(now) {
			t.Errorf("発行されたイベント = %+v", pub.published)
		}
		if n.calls[0].Data["type"] != "designation_created" {
			t.Errorf("type = %q", n.calls[0].Data["type"])
		}
	})

	t.Run("同じ作成イベントが同時に届いても配信は1回だけであること", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Success: 1}, delay: 50 * time.Millisecond}
		tr := newFakeTracker()
		pub := &fakePublisher{}
		b := NewBinding(n, tr, pub, nil)

		start := make(chan struct{})
		results := make([]Result, 2)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				results[i] = b.Handle(context.Background(), createdEvent())
			}()
		}
		close(start)
		wg.Wait()

		if got := n.callCount(); got != 1 {
			t.Errorf("配信回数 = %d, want 1", got)
		}
		if len(pub.published) != 1 {
			t.Errorf("発行回数 = %d, want 1", len(pub.published))
		}
		for i, res := range results {
			if res.Err != nil {
				t.Errorf("%d件目のHandle()でエラーが記録された: %v", i+1, res.Err)
			}
		}

		// 処理が終わった後に届いた同じイベントは送信済みとしてスキップされる
		res := b.Handle(t.Context(), createdEvent())
		if res.Dispatched || res.SkipReason != "notification_sent" || n.callCount() != 1 {
			t.Errorf("3件目のResult = %+v, 配信回数 = %d", res, n.callCount())
		}
	})

	t.Run("送信済みの割り当てでは配信しないこと", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Success: 1}}
		b := NewBinding(n, newFakeTracker(), nil, nil)

		ev := createdEvent()
		ev.NotificationSent = true
		res := b.Handle(t.Context(), ev)
		if n.callCount() != 0 {
			t.Errorf("配信回数 = %d, want 0", n.callCount())
		}
		if res.Dispatched || res.SkipReason != "notification_sent" {
			t.Errorf("Result = %+v", res)
		}
	})

	t.Run("2回目の作成イベントでは配信しないこと", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Success: 2}}
		b := NewBinding(n, newFakeTracker(), nil, nil)

		b.Handle(t.Context(), createdEvent())
		b.Handle(t.Context(), createdEvent())
		if n.callCount() != 1 {
			t.Errorf("配信回数 = %d, want 1", n.callCount())
		}
	})

	t.Run("1件も届かなかった場合は未送信のまま再送できること", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Success: 0, Failed: 2, Errors: []string{"a", "b"}}}
		tr := newFakeTracker()
		pub := &fakePublisher{}
		b := NewBinding(n, tr, pub, nil)

		res := b.Handle(t.Context(), createdEvent())
		if res.Marked || len(tr.sent) != 0 || len(pub.published) != 0 {
			t.Errorf("送信済みにしてはいけない: %+v", res)
		}

		n.outcome = push.Outcome{Success: 1}
		res = b.Handle(t.Context(), createdEvent())
		if !res.Marked || n.callCount() != 2 {
			t.Errorf("再送で送信済みになるべき: %+v", res)
		}
	})

	t.Run("購読がない場合も送信済みにしないこと", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Errors: []string{}}}
		tr := newFakeTracker()
		b := NewBinding(n, tr, nil, nil)

		res := b.Handle(t.Context(), createdEvent())
		if res.Err != nil || res.Marked {
			t.Errorf("Result = %+v", res)
		}
	})

	t.Run("フラグの取得に失敗した場合は配信しないこと", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Success: 1}}
		tr := newFakeTracker()
		tr.readErr = errors.New("database is locked")
		b := NewBinding(n, tr, nil, nil)

		res := b.Handle(t.Context(), createdEvent())
		if res.Err == nil || n.callCount() != 0 {
			t.Errorf("Result = %+v, 配信回数 = %d", res, n.callCount())
		}
	})

	t.Run("イベントの発行に失敗しても送信済みのままであること", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Success: 1}}
		tr := newFakeTracker()
		b := NewBinding(n, tr, &fakePublisher{err: errors.New("broker unavailable")}, nil)

		res := b.Handle(t.Context(), createdEvent())
		if res.Err != nil || !res.Marked {
			t.Errorf("Result = %+v", res)
		}
	})
}

// TestHandleUpdated はステータス変更の通知を検証する。
func TestHandleUpdated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		previous string
		next     string
		wantType string
	}{
		{name: "確定への変更は確定の通知になること", previous: StatusPending, next: StatusConfirmed, wantType: "designation_confirmed"},
		{name: "取り消しへの変更は取り消しの通知になること", previous: StatusConfirmed, next: StatusCancelled, wantType: "designation_cancelled"},
		{name: "保留への変更は通知しないこと", previous: StatusConfirmed, next: StatusPending},
		{name: "ステータスが変わらない場合は通知しないこと", previous: StatusConfirmed, next: StatusConfirmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n := &fakeNotifier{outcome: push.Outcome{Success: 1}}
			b := NewBinding(n, newFakeTracker(), nil, nil)

			ev := createdEvent()
			ev.Kind = KindUpdated
			ev.PreviousStatus = tt.previous
			ev.NewStatus = tt.next
			res := b.Handle(t.Context(), ev)
			if res.Err != nil {
				t.Fatalf("Handle()でエラーが記録された: %v", res.Err)
			}

			if tt.wantType == "" {
				if n.callCount() != 0 {
					t.Errorf("配信回数 = %d, want 0", n.callCount())
				}
				return
			}
			if n.callCount() != 1 || n.calls[0].Data["type"] != tt.wantType {
				t.Errorf("配信 = %+v, want type %s", n.calls, tt.wantType)
			}
		})
	}

	t.Run("同じ変更が繰り返されても毎回通知すること", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{outcome: push.Outcome{Success: 1}}
		tr := newFakeTracker()
		b := NewBinding(n, tr, nil, nil)

		ev := createdEvent()
		ev.Kind = KindUpdated
		ev.PreviousStatus = StatusPending
		ev.NewStatus = StatusConfirmed
		b.Handle(t.Context(), ev)
		b.Handle(t.Context(), ev)
		if n.callCount() != 2 {
			t.Errorf("配信回数 = %d, want 2", n.callCount())
		}
		if len(tr.sent) != 0 {
			t.Error("変更の通知で送信済みフラグを立ててはいけない")
		}
	})
}

// TestHandleDeleted は削除による取り消し通知を検証する。
func TestHandleDeleted(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{outcome: push.Outcome{Success: 1}}
	b := NewBinding(n, newFakeTracker(), nil, nil)

	ev := createdEvent()
	ev.Kind = KindDeleted
	res := b.Handle(t.Context(), ev)
	if res.Err != nil || !res.Dispatched {
		t.Fatalf("Result = %+v", res)
	}
	msg := n.calls[0]
	if msg.Data["type"] != "designation_cancelled" || !strings.Contains(msg.Body, "東京FC vs 大阪SC") {
		t.Errorf("取り消しの通知 = %+v", msg)
	}
	if len(n.targets[0]) != 1 || n.targets[0][0].ID != "ref-1" {
		t.Errorf("配信先 = %+v", n.targets[0])
	}
}

// TestHandle_SwallowsFailures は通知の失敗が呼び出し元に伝播しないことを検証する。
func TestHandle_SwallowsFailures(t *testing.T) {
	t.Parallel()

	t.Run("Notifierのエラーは結果に記録されること", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{err: push.ErrNotificationsDisabled}
		b := NewBinding(n, newFakeTracker(), nil, nil)

		res := b.Handle(t.Context(), createdEvent())
		if !errors.Is(res.Err, push.ErrNotificationsDisabled) || res.Marked {
			t.Errorf("Result = %+v", res)
		}
	})

	t.Run("パニックは回復されて結果に記録されること", func(t *testing.T) {
		t.Parallel()

		n := &fakeNotifier{panicMsg: "nil map"}
		b := NewBinding(n, newFakeTracker(), nil, nil)

		res := b.Handle(t.Context(), createdEvent())
		if res.Err == nil || !strings.Contains(res.Err.Error(), "nil map") {
			t.Errorf("Result.Err = %v", res.Err)
		}
	})

	t.Run("不明な種類はエラーとして記録されること", func(t *testing.T) {
		t.Parallel()

		b := NewBinding(&fakeNotifier{}, newFakeTracker(), nil, nil)
		res := b.Handle(t.Context(), Event{DesignationID: "des-1", Kind: "archived"})
		if !errors.Is(res.Err, ErrUnknownKind) {
			t.Errorf("Result.Err = %v, want ErrUnknownKind", res.Err)
		}
	})
}

// TestNotifyWrappers は種類ごとの通知ヘルパーを検証する。
func TestNotifyWrappers(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{outcome: push.Outcome{Success: 1}}
	b := NewBinding(n, newFakeTracker(), nil, nil)
	refs := []push.Referee{{ID: "ref-1", Active: true}}
	ctx := t.Context()

	if _, err := b.NotifyCreated(ctx, "des-1", refs, testMatch); err != nil {
		t.Fatalf("NotifyCreated()でエラーが発生: %v", err)
	}
	if _, err := b.NotifyUpdated(ctx, "des-1", StatusConfirmed, refs, testMatch); err != nil {
		t.Fatalf("NotifyUpdated()でエラーが発生: %v", err)
	}
	if _, err := b.NotifyCancelled(ctx, "des-1", refs, testMatch); err != nil {
		t.Fatalf("NotifyCancelled()でエラーが発生: %v", err)
	}
	out, err := b.NotifyUpdated(ctx, "des-1", StatusPending, refs, testMatch)
	if err != nil || out.Attempted() != 0 {
		t.Errorf("保留へのNotifyUpdated() = (%+v, %v)", out, err)
	}

	want := []string{"designation_created", "designation_confirmed", "designation_cancelled"}
	if n.callCount() != len(want) {
		t.Fatalf("配信回数 = %d, want %d", n.callCount(), len(want))
	}
	for i, w := range want {
		if got := n.calls[i].Data["type"]; got != w {
			t.Errorf("%d件目のtype = %q, want %q", i+1, got, w)
		}
	}
}

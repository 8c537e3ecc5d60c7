package push

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Delivery は1人の審判に送る1つのメッセージ。
type Delivery struct {
	Referee Referee
	Message Message
}

// DeliveriesTo は同じメッセージを審判それぞれに送るDeliveryの一覧を作る。
// 同じIDの審判は1件にまとめる。
func DeliveriesTo(referees []Referee, msg Message) []Delivery {
	seen := make(map[string]struct{}, len(referees))
	deliveries := make([]Delivery, 0, len(referees))
	for _, r := range referees {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		deliveries = append(deliveries, Delivery{Referee: r, Message: msg})
	}
	return deliveries
}

// SendEach は審判ごとのメッセージを並行して配信し、結果を1つに集計する。
// 送信中の配信数はSendToRefereesと共通の上限に従う。
// いずれかのメッセージが不正な場合は何も送らずにエラーを返す。
func (d *Dispatcher) SendEach(ctx context.Context, deliveries []Delivery) (Outcome, error) {
	for i, dl := range deliveries {
		if _, err := dl.Message.Payload(); err != nil {
			return Outcome{}, fmt.Errorf("%d件目（審判 %s）のメッセージ: %w", i+1, dl.Referee.ID, err)
		}
	}

	outcomes := make([]Outcome, len(deliveries))
	g := new(errgroup.Group)
	g.SetLimit(d.workers)
	for i, dl := range deliveries {
		g.Go(func() error {
			out, err := d.SendToReferees(ctx, []Referee{dl.Referee}, dl.Message)
			if err != nil {
				out = Outcome{Errors: []string{fmt.Sprintf("審判 %s: %v", dl.Referee.ID, err)}}
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return MergeAll(outcomes...), nil
}

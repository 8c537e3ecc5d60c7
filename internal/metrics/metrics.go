// Package metrics はプッシュ配信のPrometheusメトリクスを定義する。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 配信結果のラベル値。
const (
	ResultDelivered = "delivered"
	ResultGone      = "gone"
	ResultTransient = "transient"
)

var (
	// DeliveriesTotal はプロバイダ・結果ごとの配信試行数。
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refpush_deliveries_total",
			Help: "Total number of push delivery attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	// DeliveryDuration はプロバイダごとの配信所要時間。
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refpush_delivery_duration_seconds",
			Help:    "Duration of a single push delivery attempt",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// SubscriptionsDeactivated は恒久的な失敗により無効化された購読の数。
	SubscriptionsDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refpush_subscriptions_deactivated_total",
			Help: "Total number of subscriptions deactivated after a permanent delivery failure",
		},
	)

	// DesignationEventsTotal は処理した割り当てイベントの数。
	DesignationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refpush_designation_events_total",
			Help: "Total number of designation events handled by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

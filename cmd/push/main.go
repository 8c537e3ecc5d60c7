// プッシュ通知サービスのエントリポイント。
// 審判の購読を管理し、割り当ての作成・確定・取り消しをWeb Pushで届ける。
// VAPID設定が不正な場合も起動は続け、通知だけを無効にする。
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/refpush/internal/config"
	"github.com/nao1215/refpush/internal/designation"
	"github.com/nao1215/refpush/internal/notification"
	"github.com/nao1215/refpush/internal/push"
	"github.com/nao1215/refpush/internal/registry"
	"github.com/nao1215/refpush/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Stderr.WriteString("ロガーの初期化に失敗: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("プッシュ通知サービスの起動に失敗", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	queries := store.New(db)
	reg := registry.New(queries, logger)

	var notifier push.Notifier
	dispatcher, err := push.New(cfg.VAPID(), reg,
		push.WithLogger(logger),
		push.WithTimeout(cfg.PushTimeout),
		push.WithWorkers(cfg.PushWorkers),
		push.WithTTL(cfg.PushTTL),
	)
	switch {
	case errors.Is(err, push.ErrInvalidVAPIDConfig):
		logger.Error("VAPID設定が不正なためプッシュ通知を無効にします", zap.Error(err))
		notifier = push.Disabled{Reason: err}
	case err != nil:
		return err
	default:
		notifier = dispatcher
	}

	var publisher designation.Publisher = designation.NopPublisher{}
	if cfg.KafkaEnabled() {
		kp := designation.NewKafkaPublisher(cfg.KafkaBrokers, cfg.NotifiedEventsTopic, logger)
		defer kp.Close()
		publisher = kp
	}
	binding := designation.NewBinding(notifier, queries, publisher, logger)

	server := notification.NewServer(db, reg, notifier, binding, notification.Options{
		Port:               cfg.Port,
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		VAPIDPublicKey:     cfg.VAPIDPublicKey,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("プッシュ通知サービスを起動します", zap.String("port", cfg.Port))
		return server.Run(ctx)
	})
	if cfg.KafkaEnabled() {
		// ReaderはConsumer.Runの終了時に閉じられる
		reader := designation.NewKafkaReader(cfg.KafkaBrokers, cfg.DesignationEventsTopic, cfg.KafkaGroupID)
		consumer := designation.NewConsumer(reader, binding, reg, logger)
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("プッシュ通知サービスを停止しました")
	return nil
}

// Package config はプッシュ通知サービスの設定を環境変数から読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nao1215/refpush/internal/push"
)

// ErrInvalidValue は環境変数の値が解釈できないことを表す。
var ErrInvalidValue = errors.New("設定値が不正です")

// Config はサービス全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteのファイルパス。
	DatabasePath string
	// JWTSecret はBearerトークンの検証に使う共有鍵。
	JWTSecret string
	// CORSAllowedOrigins は購読APIを呼び出せるオリジン。
	CORSAllowedOrigins []string

	// VAPIDPublicKey はVAPID公開鍵。
	VAPIDPublicKey string
	// VAPIDPrivateKey はVAPID秘密鍵。
	VAPIDPrivateKey string
	// VAPIDContactEmail はsubクレームに使う連絡先。
	VAPIDContactEmail string

	// PushTimeout は1回の配信のタイムアウト。
	PushTimeout time.Duration
	// PushWorkers は同時に実行する配信の上限。
	PushWorkers int
	// PushTTL はプッシュサービスがメッセージを保持する秒数。
	PushTTL int

	// KafkaBrokers はKafkaのブローカー。空ならKafka連携を無効にする。
	KafkaBrokers []string
	// DesignationEventsTopic は割り当てイベントのトピック。
	DesignationEventsTopic string
	// KafkaGroupID はコンシューマグループID。
	KafkaGroupID string
	// NotifiedEventsTopic はDesignationNotifiedイベントを書き込むトピック。
	NotifiedEventsTopic string
}

// Load は.envファイル（存在する場合）を読み込んでから環境変数で設定を構築する。
// 既に設定されている環境変数は.envで上書きしない。
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
	}
	return LoadFrom(os.Getenv)
}

// LoadFrom はgetenvで取得した値から設定を構築する。
func LoadFrom(getenv func(string) string) (Config, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		Port:                   env("PORT", "8086"),
		DatabasePath:           env("DATABASE_PATH", "/data/refpush.db"),
		JWTSecret:              env("JWT_SECRET", "dev-secret-key"),
		CORSAllowedOrigins:     splitList(env("CORS_ALLOWED_ORIGINS", "*")),
		VAPIDPublicKey:         env("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:        env("VAPID_PRIVATE_KEY", ""),
		VAPIDContactEmail:      env("VAPID_CONTACT_EMAIL", ""),
		KafkaBrokers:           splitList(env("KAFKA_BROKERS", "")),
		DesignationEventsTopic: env("DESIGNATION_EVENTS_TOPIC", "designation-events"),
		KafkaGroupID:           env("KAFKA_GROUP_ID", "refpush"),
		NotifiedEventsTopic:    env("NOTIFIED_EVENTS_TOPIC", "designation-notified"),
	}

	var err error
	if cfg.PushTimeout, err = parseDuration("PUSH_TIMEOUT", env("PUSH_TIMEOUT", "5s")); err != nil {
		return Config{}, err
	}
	if cfg.PushWorkers, err = parsePositiveInt("PUSH_WORKERS", env("PUSH_WORKERS", "8")); err != nil {
		return Config{}, err
	}
	if cfg.PushTTL, err = parsePositiveInt("PUSH_TTL", env("PUSH_TTL", "86400")); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// VAPID はVAPID設定を返す。検証はpush.Newで行う。
func (c Config) VAPID() push.VAPID {
	return push.VAPID{
		PublicKey:  c.VAPIDPublicKey,
		PrivateKey: c.VAPIDPrivateKey,
		Subject:    c.VAPIDContactEmail,
	}
}

// KafkaEnabled はKafka連携を行うかどうかを返す。
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// splitList はカンマ区切りの値を分割し、空要素を除く。
func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v)
	}
	return d, nil
}

func parsePositiveInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v)
	}
	return n, nil
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mapEnv(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

// TestLoadFrom は環境変数からの設定の構築を検証する。
func TestLoadFrom(t *testing.T) {
	t.Parallel()

	t.Run("未設定の項目にはデフォルト値が使われること", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadFrom(mapEnv(nil))
		if err != nil {
			t.Fatalf("LoadFrom()でエラーが発生: %v", err)
		}
		if cfg.Port != "8086" {
			t.Errorf("Port = %q, want 8086", cfg.Port)
		}
		if cfg.PushTimeout != 5*time.Second {
			t.Errorf("PushTimeout = %v, want 5s", cfg.PushTimeout)
		}
		if cfg.PushWorkers != 8 || cfg.PushTTL != 86400 {
			t.Errorf("PushWorkers = %d, PushTTL = %d", cfg.PushWorkers, cfg.PushTTL)
		}
		if cfg.KafkaEnabled() {
			t.Error("ブローカー未設定ではKafka連携は無効であるべき")
		}
		if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
			t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
		}
	})

	t.Run("環境変数の値が反映されること", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadFrom(mapEnv(map[string]string{
			"PORT":                 "9000",
			"PUSH_TIMEOUT":         "1500ms",
			"PUSH_WORKERS":         "16",
			"KAFKA_BROKERS":        "kafka-1:9092, kafka-2:9092,",
			"CORS_ALLOWED_ORIGINS": "https://referee.example.com,https://admin.example.com",
			"VAPID_PUBLIC_KEY":     "pub",
			"VAPID_PRIVATE_KEY":    "priv",
			"VAPID_CONTACT_EMAIL":  "push@example.com",
		}))
		if err != nil {
			t.Fatalf("LoadFrom()でエラーが発生: %v", err)
		}
		if cfg.Port != "9000" || cfg.PushTimeout != 1500*time.Millisecond || cfg.PushWorkers != 16 {
			t.Errorf("Config = %+v", cfg)
		}
		if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" || !cfg.KafkaEnabled() {
			t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
		}
		if len(cfg.CORSAllowedOrigins) != 2 {
			t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
		}
		v := cfg.VAPID()
		if v.PublicKey != "pub" || v.PrivateKey != "priv" || v.Subject != "push@example.com" {
			t.Errorf("VAPID() = %+v", v)
		}
	})

	t.Run("不正な値はErrInvalidValueになること", func(t *testing.T) {
		t.Parallel()

		tests := map[string]string{
			"PUSH_TIMEOUT": "five seconds",
			"PUSH_WORKERS": "0",
			"PUSH_TTL":     "-1",
		}
		for key, value := range tests {
			if _, err := LoadFrom(mapEnv(map[string]string{key: value})); !errors.Is(err, ErrInvalidValue) {
				t.Errorf("%s=%q: エラー = %v, want ErrInvalidValue", key, value, err)
			}
		}
	})
}

// TestLoad は.envファイルの読み込みを検証する。
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DESIGNATION_EVENTS_TOPIC=test-designations\n"), 0o600); err != nil {
		t.Fatalf(".envファイルの作成に失敗: %v", err)
	}
	// t.Setenvで終了時に元の値へ戻し、.envの値が反映されるよう未設定にする
	t.Setenv("DESIGNATION_EVENTS_TOPIC", "")
	os.Unsetenv("DESIGNATION_EVENTS_TOPIC")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load()でエラーが発生: %v", err)
	}
	if cfg.DesignationEventsTopic != "test-designations" {
		t.Errorf("DesignationEventsTopic = %q, want test-designations", cfg.DesignationEventsTopic)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("存在しない.envファイルでエラーが発生: %v", err)
	}
}

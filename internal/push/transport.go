package push

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrInvalidVAPIDConfig はVAPID設定の欠落・不正を表す。起動時に一度だけ報告される致命的な設定エラー。
var ErrInvalidVAPIDConfig = errors.New("VAPID設定が不正です")

// VAPID はプッシュサービスにサーバーを識別させるための鍵ペアと連絡先。
type VAPID struct {
	// PublicKey は非圧縮P-256公開鍵（base64url）。ブラウザのapplicationServerKeyにも使う。
	PublicKey string
	// PrivateKey はP-256秘密鍵（base64url）。
	PrivateKey string
	// Subject はsubクレームに使う連絡先メールアドレス。
	Subject string
}

// decodeKey はbase64url（パディング有無を問わない）または標準base64の鍵を復号する。
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("base64として復号できません")
}

// Validate は鍵ペアと連絡先を検証する。公開鍵が秘密鍵から導かれるものかも確認する。
func (v VAPID) Validate() error {
	if v.PublicKey == "" || v.PrivateKey == "" || v.Subject == "" {
		return fmt.Errorf("%w: 公開鍵・秘密鍵・連絡先メールアドレスはすべて必須です", ErrInvalidVAPIDConfig)
	}
	if !strings.Contains(v.contact(), "@") {
		return fmt.Errorf("%w: 連絡先メールアドレスが不正です: %q", ErrInvalidVAPIDConfig, v.Subject)
	}

	priv, err := decodeKey(v.PrivateKey)
	if err != nil {
		return fmt.Errorf("%w: 秘密鍵: %v", ErrInvalidVAPIDConfig, err)
	}
	key, err := ecdh.P256().NewPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("%w: 秘密鍵がP-256の鍵ではありません: %v", ErrInvalidVAPIDConfig, err)
	}

	pub, err := decodeKey(v.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: 公開鍵: %v", ErrInvalidVAPIDConfig, err)
	}
	if !bytes.Equal(key.PublicKey().Bytes(), pub) {
		return fmt.Errorf("%w: 公開鍵が秘密鍵と対応していません", ErrInvalidVAPIDConfig)
	}
	return nil
}

// contact は "mailto:" を除いた連絡先を返す。
// webpush-goはhttps以外の連絡先に "mailto:" を付与するため、二重に付かないようにする。
func (v VAPID) contact() string {
	return strings.TrimPrefix(strings.TrimSpace(v.Subject), "mailto:")
}

// PushRequest は1つの購読への1回の配信要求。
type PushRequest struct {
	// Provider は選択されたプロバイダの名前。
	Provider string
	// Subscription は配信先の購読。
	Subscription Subscription
	// Payload は暗号化前のペイロード。
	Payload []byte
	// TTL はプッシュサービスがメッセージを保持する秒数。
	TTL int
	// Urgency は配信の緊急度。
	Urgency Urgency
}

// Transport は配信要求をプッシュサービスに送り、HTTPステータスを返す。
// 通信自体が失敗した場合のみerrorを返す。
type Transport interface {
	Push(ctx context.Context, req PushRequest) (int, error)
}

// WebPushTransport はRFC 8291の暗号化とVAPID署名を行い、エンドポイントにPOSTする。
// audクレームはwebpush-goがエンドポイントのスキームとホストから導出する。
type WebPushTransport struct {
	vapid  VAPID
	client webpush.HTTPClient
}

// NewWebPushTransport は新しいWebPushTransportを生成する。
func NewWebPushTransport(vapid VAPID, client webpush.HTTPClient) *WebPushTransport {
	return &WebPushTransport{vapid: vapid, client: client}
}

// Push は暗号化したペイロードをエンドポイントに送信する。
func (t *WebPushTransport) Push(ctx context.Context, req PushRequest) (int, error) {
	sub := &webpush.Subscription{
		Endpoint: req.Subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: req.Subscription.P256dh,
			Auth:   req.Subscription.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, req.Payload, sub, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.vapid.contact(),
		VAPIDPublicKey:  t.vapid.PublicKey,
		VAPIDPrivateKey: t.vapid.PrivateKey,
		TTL:             req.TTL,
		Urgency:         webpush.Urgency(req.Urgency),
	})
	if err != nil {
		return 0, fmt.Errorf("%sへの送信に失敗: %w", req.Provider, err)
	}
	defer resp.Body.Close()
	// コネクションを再利用できるようにボディを読み捨てる
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, nil
}

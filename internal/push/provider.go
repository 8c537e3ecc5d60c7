package push

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// fcmHost はFirebase Cloud Messagingのプッシュゲートウェイのホスト。
const fcmHost = "fcm.googleapis.com"

// ErrInvalidEndpoint は購読のエンドポイントURLが解釈できないことを表す。
var ErrInvalidEndpoint = errors.New("エンドポイントURLが不正です")

// Provider はエンドポイントの判定条件と成功とみなす応答の組。
// 新しいプッシュサービスはフォールバックより前にProviderを追加して対応する。
type Provider struct {
	// Name はメトリクスとログに使う名前。
	Name string
	// Matches はエンドポイントがこのプロバイダのものかどうかを判定する。
	Matches func(endpoint *url.URL) bool
	// Accepts は応答ステータスを配信成功とみなすかどうかを判定する。
	Accepts func(status int) bool
}

// IsFCMEndpoint はエンドポイントがFCMのプッシュゲートウェイかどうかを返す。
func IsFCMEndpoint(endpoint *url.URL) bool {
	return strings.Contains(strings.ToLower(endpoint.Hostname()), fcmHost)
}

// FCMProvider はFCMのプロバイダ。FCMは成功時に201を返すことがあるため200と201を受け付ける。
func FCMProvider() Provider {
	return Provider{
		Name:    "fcm",
		Matches: IsFCMEndpoint,
		Accepts: func(status int) bool {
			return status == http.StatusOK || status == http.StatusCreated
		},
	}
}

// WebPushProvider は標準のWeb Pushプロバイダ。すべてのエンドポイントに一致し、2xxを成功とする。
func WebPushProvider() Provider {
	return Provider{
		Name:    "webpush",
		Matches: func(*url.URL) bool { return true },
		Accepts: func(status int) bool {
			return status >= 200 && status < 300
		},
	}
}

// DefaultProviders は判定順に並べた既定のプロバイダ一覧を返す。
func DefaultProviders() []Provider {
	return []Provider{FCMProvider(), WebPushProvider()}
}

// SelectProvider はエンドポイントに最初に一致したプロバイダを返す。
func SelectProvider(providers []Provider, endpoint string) (Provider, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return Provider{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return Provider{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}

	for _, p := range providers {
		if p.Matches(u) {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("%w: 一致するプロバイダがありません: %s", ErrInvalidEndpoint, u.Host)
}

// Audience はVAPIDのaudクレームに使うエンドポイントのスキームとホストを返す。
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

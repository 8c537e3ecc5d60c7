package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout はタイムアウト未指定時に適用するリクエスト単位のタイムアウト。
const DefaultTimeout = 5 * time.Second

// userAgent はプッシュゲートウェイに送信するUser-Agent。
const userAgent = "refpush/1.0"

// Doer はHTTPリクエストを実行するインターフェース。
// テストではhttptestのクライアントや記録用のスタブに差し替える。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client はプッシュゲートウェイ向けのHTTPクライアント。
// リクエストごとにタイムアウトを適用する。
type Client struct {
	// doer は内部で使用するHTTPクライアント。
	doer Doer
	// timeout はリクエスト単位のタイムアウト。
	timeout time.Duration
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithDoer は内部で使用するHTTPクライアントを差し替える。
func WithDoer(d Doer) Option {
	return func(c *Client) {
		c.doer = d
	}
}

// New は新しいプッシュゲートウェイ向けHTTPクライアントを生成する。
// timeoutが0以下の場合はDefaultTimeoutを使用する。
func New(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		doer: &http.Client{
			// コンテキストのタイムアウトより少し長くして、コンテキスト側を優先させる
			Timeout: timeout + time.Second,
		},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout はリクエスト単位のタイムアウトを返す。
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Do はタイムアウト付きでHTTPリクエストを実行する。
// タイムアウトした場合はcontext.DeadlineExceededをラップしたエラーを返す。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), c.timeout)
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("プッシュゲートウェイへの送信に失敗: %w", err)
	}

	// ボディを読み終えるまでコンテキストを維持する
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose はボディのClose時にコンテキストを解放する。
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

// Close はボディを閉じてコンテキストを解放する。
func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

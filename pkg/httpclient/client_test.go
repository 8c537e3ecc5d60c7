package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("指定したタイムアウトが設定されること", func(t *testing.T) {
		t.Parallel()

		client := New(3 * time.Second)
		if client == nil {
			t.Fatal("New()がnilを返した")
		}
		if client.Timeout() != 3*time.Second {
			t.Errorf("Timeout = %v, want 3s", client.Timeout())
		}
	})

	t.Run("タイムアウトが0の場合はデフォルト値になること", func(t *testing.T) {
		t.Parallel()

		client := New(0)
		if client.Timeout() != DefaultTimeout {
			t.Errorf("Timeout = %v, want %v", client.Timeout(), DefaultTimeout)
		}
	})
}

// TestDo はDo関数を検証する。
func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("レスポンスのステータスとボディを取得できること", func(t *testing.T) {
		t.Parallel()

		var gotUserAgent string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUserAgent = r.Header.Get("User-Agent")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("ok"))
		}))
		defer ts.Close()

		client := New(time.Second)
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.URL+"/push/abc", strings.NewReader("payload"))
		if err != nil {
			t.Fatalf("リクエストの作成に失敗: %v", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("ボディの読み込みに失敗: %v", err)
		}
		if string(body) != "ok" {
			t.Errorf("body = %q, want ok", string(body))
		}
		if gotUserAgent != userAgent {
			t.Errorf("User-Agent = %q, want %q", gotUserAgent, userAgent)
		}
	})

	t.Run("応答しないゲートウェイはタイムアウトエラーになること", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		client := New(50 * time.Millisecond)
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, ts.URL, nil)
		if err != nil {
			t.Fatalf("リクエストの作成に失敗: %v", err)
		}

		_, err = client.Do(req)
		if err == nil {
			t.Fatal("Do()がエラーを返すべきだが、nilが返った")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("エラー = %v, want context.DeadlineExceeded", err)
		}
	})

	t.Run("差し替えたDoerが使用されること", func(t *testing.T) {
		t.Parallel()

		var called bool
		stub := doerFunc(func(r *http.Request) (*http.Response, error) {
			called = true
			if _, ok := r.Context().Deadline(); !ok {
				t.Error("リクエストのコンテキストに期限が設定されていない")
			}
			return &http.Response{StatusCode: http.StatusGone, Body: io.NopCloser(strings.NewReader(""))}, nil
		})

		client := New(time.Second, WithDoer(stub))
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, "https://fcm.googleapis.com/fcm/send/x", nil)

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("Do()でエラーが発生: %v", err)
		}
		resp.Body.Close()

		if !called {
			t.Error("Doerが呼び出されていない")
		}
		if resp.StatusCode != http.StatusGone {
			t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusGone)
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		client := New(time.Second)
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, "http://127.0.0.1:1", nil)

		if _, err := client.Do(req); err == nil {
			t.Fatal("Do()がエラーを返すべきだが、nilが返った")
		}
	})
}

// doerFunc は関数をDoerとして扱うアダプタ。
type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

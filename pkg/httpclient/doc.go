// Package httpclient はプッシュゲートウェイへの送信に使用するHTTPクライアントを提供する。
//
// FCMやMozilla autopushなど外部のプッシュサービスは応答が遅延することがあるため、
// リクエスト単位のタイムアウトを必ず適用する。webpush-goのHTTPClientインターフェースを
// 満たし、Web Push送信処理から直接利用される。
package httpclient

// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 審判・管理者のJWT検証とロール制御、パニックリカバリ、ブラウザからの
// 購読登録を受け付けるためのCORS設定を含む。
package middleware

// Package store はプッシュ通知サービスのSQLite永続化層を提供する。
//
// 審判のミラー、プッシュ購読、割り当て通知の送信済みフラグ、
// 運用者による一括通知の記録を保持する。スキーマは埋め込みの
// マイグレーションファイルで管理する。
package store

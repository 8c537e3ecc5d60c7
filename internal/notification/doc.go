// Package notification はプッシュ通知サービスのHTTP APIを提供する。
//
// 審判による購読の登録・解除、運用者による一括通知とその記録の参照、
// 試合管理サブシステムからの割り当てイベントの受け付け、古い購読の整理を行う。
// VAPID設定が不正な場合も起動し、送信系のAPIは503を返す。
package notification

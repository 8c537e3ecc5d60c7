// Package push は審判へのプッシュ通知配信を提供する。
//
// 通知メッセージを審判の有効な購読すべてに並行して配信し、購読ごとの
// 結果を集計する。エンドポイントのURLからプロバイダ（FCMまたは標準の
// Web Push）を選択し、VAPIDで署名した暗号化ペイロードを送信する。
// 404/410の応答を受けた購読は無効化し、それ以外の失敗は一時的な失敗として
// 購読を残す。購読単位の失敗は呼び出し元に伝播せず、Outcomeに集約される。
package push

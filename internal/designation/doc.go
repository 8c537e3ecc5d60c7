// Package designation は審判の割り当て（デジグネーション）のライフサイクルを
// プッシュ通知に結び付ける。
//
// 作成・ステータス変更・削除のイベントから通知メッセージを組み立て、
// push.Notifierで配信する。作成通知は送信済みフラグで一度だけに制限し、
// 1件以上届いた場合にのみフラグを立てる。通知の失敗は割り当て自体の
// 処理を妨げないよう、Binding.Handleの内側で記録して握りつぶす。
package designation

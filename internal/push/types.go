package push

import "time"

// Referee は通知対象の審判。アカウント管理サブシステムが所有し、ここでは読み取り専用。
type Referee struct {
	// ID は審判の識別子。
	ID string `json:"id"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name"`
	// Email は連絡先メールアドレス。
	Email string `json:"contact_email"`
	// Active は審判アカウントが有効かどうか。無効な審判には配信しない。
	Active bool `json:"is_active"`
}

// Subscription は審判の端末・ブラウザが登録した1つのプッシュエンドポイント。
type Subscription struct {
	// ID は購読の識別子。
	ID string `json:"id"`
	// RefereeID は所有する審判のID。
	RefereeID string `json:"referee_id"`
	// Endpoint はプッシュサービスが発行したURL。
	Endpoint string `json:"endpoint"`
	// P256dh は暗号化用の公開鍵（base64url）。
	P256dh string `json:"p256dh"`
	// Auth は認証シークレット（base64url）。
	Auth string `json:"auth"`
	// Active は購読が有効かどうか。
	Active bool `json:"is_active"`
	// CreatedAt は登録日時。
	CreatedAt time.Time `json:"created_at"`
	// LastUsed は最後に配信に成功した日時。未使用ならゼロ値。
	LastUsed time.Time `json:"last_used,omitzero"`
}

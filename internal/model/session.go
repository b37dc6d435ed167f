package model

import "time"

// Session はリクエストとidentityの時限付き関連を表す。
// サインイン・サインアップ・リフレッシュ成功時に生成され、
// 署名付きCookieとしてクライアントが保持する。サーバー側には永続化しない。
// 同一identityの複数同時セッション（複数デバイス）は許可され、個別に検証される。
type Session struct {
	IdentityID   string    `json:"identity_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Age は発行からの経過時間を返す。
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.IssuedAt)
}

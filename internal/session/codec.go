// Package session はセッションの符号化とリゾルバーを提供する。
// セッションはサーバー側に永続化せず、HMAC署名付きHTTP Only Cookieとして
// クライアントが保持するトークンペアを唯一の情報源とする。
// クライアント保持データは改ざん検証を通過した場合のみ信頼される。
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mshiba/terakoya/internal/model"
)

// ErrInvalidCookie はCookie値の形式不正または署名不一致を表す。
var ErrInvalidCookie = errors.New("session: invalid cookie")

// Codec はセッションの署名付きCookie値への相互変換を行う。
// 形式: base64url(JSON) + "." + base64url(HMAC-SHA256)
type Codec struct {
	secret []byte
}

// NewCodec はCodecを生成する。secretにはSESSION_SECRETを渡す。
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

// Encode はセッションを署名付きCookie値に変換する。
func (c *Codec) Encode(sess *model.Session) (string, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(data)
	return payload + "." + c.sign(payload), nil
}

// Decode は署名付きCookie値からセッションを復元する。
// 署名が一致しない場合はErrInvalidCookieを返す。
// 改ざんされたCookieは存在しないものとして扱われる。
func (c *Codec) Decode(raw string) (*model.Session, error) {
	payload, sig, ok := strings.Cut(raw, ".")
	if !ok || payload == "" || sig == "" {
		return nil, ErrInvalidCookie
	}

	expected := c.sign(payload)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return nil, ErrInvalidCookie
	}

	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidCookie
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, ErrInvalidCookie
	}
	if sess.IdentityID == "" || sess.RefreshToken == "" {
		return nil, ErrInvalidCookie
	}

	return &sess, nil
}

// sign はペイロードのHMAC-SHA256署名を計算する。
func (c *Codec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Package idp は外部Credential Providerとの通信を提供する。
// Credential Providerは不透明なidentity発行者であり、本体はブラックボックスとして扱う。
// サインアップ・サインイン・リフレッシュ・失効・identity削除の5操作のみを消費する。
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// 呼び出し側が判別するためのセンチネルエラー。
var (
	// ErrInvalidCredentials は認証情報の拒否を表す（4xx応答）。
	// 原因の詳細（未登録メール、パスワード不一致等）は区別しない。
	ErrInvalidCredentials = errors.New("idp: invalid credentials")
	// ErrInvalidGrant はリフレッシュトークンの拒否を表す（4xx応答）。
	ErrInvalidGrant = errors.New("idp: invalid grant")
	// ErrUpstreamUnavailable はCredential Providerへの到達失敗を表す。
	// 認可判定上は未認証として扱うこと（フェイルクローズ）。
	ErrUpstreamUnavailable = errors.New("idp: upstream unavailable")
)

// Identity はCredential Providerが管理する認証プリンシパル。
// 本コアからはイミュータブル。
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Grant はトークン発行操作の結果を表す。
type Grant struct {
	Identity     Identity
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Config はClientの設定。
type Config struct {
	BaseURL string
	APIKey  string

	// MaxRPS はCredential Providerへの送信レート上限（req/sec）。
	// 0以下の場合は制限しない。リフレッシュの集中がプロバイダーを
	// 圧迫しないようにするためのクライアント側スロットル。
	MaxRPS int

	// Timeout はHTTPリクエスト1回あたりのタイムアウト。
	Timeout time.Duration
}

// Client はCredential ProviderのHTTP APIクライアント。
// 並行使用に対して安全。
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient はClientを生成する。
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if config.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.MaxRPS), config.MaxRPS)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
	}
}

// tokenResponse はトークン発行エンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	User         Identity `json:"user"`
}

// SignUp は新規identityを登録し、トークンペアを発行する。
// metadataはプロバイダー側に保存される任意の属性（表示名等）。
// 認証情報が拒否された場合はErrInvalidCredentialsを返す。
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Grant, error) {
	body := map[string]interface{}{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	resp, err := c.postToken(ctx, "/signup", body)
	if err != nil {
		return nil, err
	}
	return c.toGrant(resp), nil
}

// SignIn はメールアドレスとパスワードでトークンペアを発行する。
// 認証情報が拒否された場合はErrInvalidCredentialsを返す。
func (c *Client) SignIn(ctx context.Context, email, password string) (*Grant, error) {
	resp, err := c.postToken(ctx, "/token?grant_type=password", map[string]interface{}{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return c.toGrant(resp), nil
}

// Refresh はリフレッシュトークンで新しいトークンペアを発行する。
// トークンが拒否された場合はErrInvalidGrantを返す。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	resp, err := c.postToken(ctx, "/token?grant_type=refresh_token", map[string]interface{}{
		"refresh_token": refreshToken,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrInvalidGrant
		}
		return nil, err
	}
	return c.toGrant(resp), nil
}

// Revoke はリフレッシュトークンを失効させる。
// ログアウト時のベストエフォート操作として使用する。
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	_, err := c.do(ctx, http.MethodPost, "/logout", map[string]interface{}{
		"refresh_token": refreshToken,
	})
	return err
}

// DeleteIdentity は指定identityをCredential Providerから削除する。
// 退会処理の最終段で使用する。
func (c *Client) DeleteIdentity(ctx context.Context, identityID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/admin/users/"+identityID, nil)
	return err
}

// postToken はトークン発行系エンドポイントを呼び出し、レスポンスを解析する。
func (c *Client) postToken(ctx context.Context, path string, body map[string]interface{}) (*tokenResponse, error) {
	respBody, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(respBody, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", ErrUpstreamUnavailable)
	}
	if tokenResp.AccessToken == "" || tokenResp.User.ID == "" {
		return nil, fmt.Errorf("incomplete token response: %w", ErrUpstreamUnavailable)
	}

	return &tokenResp, nil
}

// do はHTTPリクエストを送信し、ステータスコードをセンチネルエラーにマッピングする。
// 4xx → ErrInvalidCredentials、5xx・ネットワーク失敗 → ErrUpstreamUnavailable。
func (c *Client) do(ctx context.Context, method, path string, body map[string]interface{}) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("idp rate wait canceled: %w", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", ErrUpstreamUnavailable)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("provider rejected request (status %d): %w", resp.StatusCode, ErrInvalidCredentials)
	default:
		return nil, fmt.Errorf("provider error (status %d): %w", resp.StatusCode, ErrUpstreamUnavailable)
	}
}

// toGrant はトークンレスポンスをGrantに変換する。
func (c *Client) toGrant(resp *tokenResponse) *Grant {
	now := time.Now()
	return &Grant{
		Identity:     resp.User,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
}

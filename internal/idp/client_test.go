package idp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func tokenResponseBody(identityID string) map[string]interface{} {
	return map[string]interface{}{
		"access_token":  "new-access",
		"refresh_token": "new-refresh",
		"expires_in":    3600,
		"user": map[string]string{
			"id":    identityID,
			"email": "taro@example.com",
		},
	}
}

func newTestClient(serverURL string) *Client {
	return NewClient(Config{
		BaseURL: serverURL,
		APIKey:  "test-api-key",
	})
}

func TestClient_SignIn_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.String())
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-api-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-api-key")
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if body["email"] != "taro@example.com" || body["password"] != "password123" {
			t.Errorf("body = %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponseBody("identity-1"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	grant, err := client.SignIn(context.Background(), "taro@example.com", "password123")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if grant.Identity.ID != "identity-1" {
		t.Errorf("Identity.ID = %q, want %q", grant.Identity.ID, "identity-1")
	}
	if grant.AccessToken != "new-access" || grant.RefreshToken != "new-refresh" {
		t.Errorf("tokens = %q/%q", grant.AccessToken, grant.RefreshToken)
	}
	if !grant.ExpiresAt.After(grant.IssuedAt) {
		t.Error("ExpiresAt must be after IssuedAt")
	}
}

// 4xx応答はErrInvalidCredentialsにマッピングされる。
func TestClient_SignIn_RejectedReturnsInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.SignIn(context.Background(), "taro@example.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
}

// 5xx応答はErrUpstreamUnavailableにマッピングされる。
func TestClient_SignIn_ServerErrorReturnsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.SignIn(context.Background(), "taro@example.com", "password123")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

// ネットワーク到達失敗もErrUpstreamUnavailableとして扱う。
func TestClient_SignIn_NetworkFailureReturnsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // 即座に閉じて到達不能にする

	client := newTestClient(server.URL)

	_, err := client.SignIn(context.Background(), "taro@example.com", "password123")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestClient_Refresh_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", r.URL.Query().Get("grant_type"))
		}

		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "old-refresh" {
			t.Errorf("refresh_token = %q, want %q", body["refresh_token"], "old-refresh")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponseBody("identity-1"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	grant, err := client.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if grant.RefreshToken != "new-refresh" {
		t.Errorf("RefreshToken = %q, want %q", grant.RefreshToken, "new-refresh")
	}
}

// リフレッシュトークン拒否はErrInvalidGrantに読み替えられる。
func TestClient_Refresh_RejectedReturnsInvalidGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Refresh(context.Background(), "revoked-refresh")
	if !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("error = %v, want ErrInvalidGrant", err)
	}
}

// トークンレスポンスが不完全な場合は成功として扱わない。
func TestClient_SignIn_IncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":""}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.SignIn(context.Background(), "taro@example.com", "password123")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestClient_Revoke_SendsRefreshToken(t *testing.T) {
	var gotPath string
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotToken = body["refresh_token"]

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	if err := client.Revoke(context.Background(), "refresh-to-revoke"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if gotPath != "/logout" {
		t.Errorf("path = %q, want %q", gotPath, "/logout")
	}
	if gotToken != "refresh-to-revoke" {
		t.Errorf("refresh_token = %q, want %q", gotToken, "refresh-to-revoke")
	}
}

func TestClient_DeleteIdentity(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	if err := client.DeleteIdentity(context.Background(), "identity-1"); err != nil {
		t.Fatalf("DeleteIdentity failed: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/admin/users/identity-1" {
		t.Errorf("request = %s %s, want DELETE /admin/users/identity-1", gotMethod, gotPath)
	}
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mshiba/terakoya/internal/model"
	"github.com/mshiba/terakoya/internal/session"
)

// --- モック ---

// mockResolver はSessionResolverのモック実装。
type mockResolver struct {
	resolveFn func(ctx context.Context, rawCookie string) session.Resolution
}

func (m *mockResolver) Resolve(ctx context.Context, rawCookie string) session.Resolution {
	return m.resolveFn(ctx, rawCookie)
}

// mockEncoder はSessionEncoderのモック実装。
type mockEncoder struct{}

func (m *mockEncoder) Encode(sess *model.Session) (string, error) {
	return "encoded-" + sess.IdentityID, nil
}

// mockProvisioner はProfileProvisionerのモック実装。
type mockProvisioner struct {
	role      model.Role
	callCount int
}

func (m *mockProvisioner) EnsureProfile(ctx context.Context, identityID string) (*model.Profile, error) {
	m.callCount++
	role := m.role
	if role == "" {
		role = model.RoleUser
	}
	return &model.Profile{ID: identityID, Role: role}, nil
}

func resolvedSession(identityID string) *model.Session {
	now := time.Now()
	return &model.Session{
		IdentityID:   identityID,
		Email:        "taro@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     now,
		ExpiresAt:    now.Add(1 * time.Hour),
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsIdentityAndRole(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, rawCookie string) session.Resolution {
			if rawCookie != "raw-cookie" {
				t.Errorf("rawCookie = %q, want %q", rawCookie, "raw-cookie")
			}
			return session.Resolution{State: session.StateValid, Session: resolvedSession("identity-1")}
		},
	}
	provisioner := &mockProvisioner{role: model.RoleAdmin}

	mw := NewSessionMiddleware(resolver, &mockEncoder{}, provisioner, CookieConfig{})

	var gotIdentity string
	var gotRole model.Role
	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = IdentityFromContext(r.Context())
		gotRole, _ = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "raw-cookie"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if gotIdentity != "identity-1" {
		t.Errorf("identity = %q, want %q", gotIdentity, "identity-1")
	}
	if gotRole != model.RoleAdmin {
		t.Errorf("role = %q, want %q", gotRole, model.RoleAdmin)
	}
	if provisioner.callCount != 1 {
		t.Errorf("EnsureProfile calls = %d, want 1", provisioner.callCount)
	}
}

func TestSessionMiddleware_NoCookie_PassesThroughAnonymous(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, rawCookie string) session.Resolution {
			if rawCookie != "" {
				t.Errorf("rawCookie = %q, want empty", rawCookie)
			}
			return session.Resolution{State: session.StateNone}
		},
	}
	provisioner := &mockProvisioner{}

	mw := NewSessionMiddleware(resolver, &mockEncoder{}, provisioner, CookieConfig{})

	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := SessionFromContext(r.Context()); err == nil {
			t.Error("session should not be present in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	// 未認証リクエストはプロビジョニングしない
	if provisioner.callCount != 0 {
		t.Errorf("EnsureProfile calls = %d, want 0", provisioner.callCount)
	}
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

// リフレッシュで新トークンペアが発行されたらCookieを書き換える。
func TestSessionMiddleware_RefreshedSession_SetsCookie(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, rawCookie string) session.Resolution {
			return session.Resolution{
				State:     session.StateValid,
				Session:   resolvedSession("identity-1"),
				SetCookie: true,
			}
		},
	}

	// ハード上限12時間相当の設定
	mw := NewSessionMiddleware(resolver, &mockEncoder{}, &mockProvisioner{}, CookieConfig{MaxAge: 43200})

	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "old-cookie"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	cookies := w.Result().Cookies()
	var found bool
	for _, c := range cookies {
		if c.Name == SessionCookieName && c.Value == "encoded-identity-1" {
			found = true
			if !c.HttpOnly {
				t.Error("session cookie must be HttpOnly")
			}
			// 有効期間は設定されたハード上限に従う
			if c.MaxAge != 43200 {
				t.Errorf("MaxAge = %d, want 43200", c.MaxAge)
			}
		}
	}
	if !found {
		t.Error("expected refreshed session cookie to be set")
	}
}

// 無効化されたセッションはCookie破棄指示に従う。
func TestSessionMiddleware_ClearCookie_ExpiresCookie(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, rawCookie string) session.Resolution {
			return session.Resolution{State: session.StateNone, ClearCookie: true}
		},
	}

	mw := NewSessionMiddleware(resolver, &mockEncoder{}, &mockProvisioner{}, CookieConfig{})

	handler := mw.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tampered"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("expected session cookie to be cleared")
	}
}

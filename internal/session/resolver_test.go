package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mshiba/terakoya/internal/idp"
	"github.com/mshiba/terakoya/internal/model"
)

// --- モック ---

// mockRefresher はCredentialRefresherのモック実装。
type mockRefresher struct {
	refreshFn func(ctx context.Context, refreshToken string) (*idp.Grant, error)
	callCount int32
}

func (m *mockRefresher) Refresh(ctx context.Context, refreshToken string) (*idp.Grant, error) {
	atomic.AddInt32(&m.callCount, 1)
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return nil, idp.ErrInvalidGrant
}

func (m *mockRefresher) calls() int32 {
	return atomic.LoadInt32(&m.callCount)
}

// --- ヘルパー ---

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestResolver(refresher CredentialRefresher) *Resolver {
	r := NewResolver(refresher, NewCodec("test-secret"), ResolverConfig{
		HardTTL:        24 * time.Hour,
		RefreshTimeout: 5 * time.Second,
	}, nil)
	r.now = func() time.Time { return testNow }
	return r
}

func encodeSession(t *testing.T, sess *model.Session) string {
	t.Helper()
	raw, err := NewCodec("test-secret").Encode(sess)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return raw
}

func validGrant(identityID string) *idp.Grant {
	return &idp.Grant{
		Identity:     idp.Identity{ID: identityID, Email: "taro@example.com"},
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		IssuedAt:     testNow,
		ExpiresAt:    testNow.Add(1 * time.Hour),
	}
}

// --- Resolve のテスト ---

func TestResolver_Resolve_EmptyCookie_ReturnsNone(t *testing.T) {
	r := newTestResolver(&mockRefresher{})

	res := r.Resolve(context.Background(), "")

	if res.State != StateNone {
		t.Errorf("State = %q, want %q", res.State, StateNone)
	}
	if res.ClearCookie {
		t.Error("ClearCookie should not be set for empty cookie")
	}
}

func TestResolver_Resolve_TamperedCookie_ClearsCookie(t *testing.T) {
	r := newTestResolver(&mockRefresher{})

	res := r.Resolve(context.Background(), "garbage.value")

	if res.State != StateNone {
		t.Errorf("State = %q, want %q", res.State, StateNone)
	}
	if !res.ClearCookie {
		t.Error("expected ClearCookie for tampered cookie")
	}
}

func TestResolver_Resolve_ValidSession_PassesThrough(t *testing.T) {
	refresher := &mockRefresher{}
	r := newTestResolver(refresher)

	raw := encodeSession(t, &model.Session{
		IdentityID:   "identity-1",
		Email:        "taro@example.com",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     testNow.Add(-1 * time.Hour),
		ExpiresAt:    testNow.Add(1 * time.Hour),
	})

	res := r.Resolve(context.Background(), raw)

	if res.State != StateValid {
		t.Fatalf("State = %q, want %q", res.State, StateValid)
	}
	if res.Session.IdentityID != "identity-1" {
		t.Errorf("IdentityID = %q, want %q", res.Session.IdentityID, "identity-1")
	}
	if res.SetCookie {
		t.Error("SetCookie should not be set for a still-valid session")
	}
	if refresher.calls() != 0 {
		t.Errorf("refresh calls = %d, want 0", refresher.calls())
	}
}

// ハード上限を超えたセッションは、トークン側の期限が残っていても無効。
func TestResolver_Resolve_HardCeilingExceeded_ReturnsNone(t *testing.T) {
	refresher := &mockRefresher{}
	r := newTestResolver(refresher)

	raw := encodeSession(t, &model.Session{
		IdentityID:   "identity-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     testNow.Add(-25 * time.Hour),       // 発行から25時間
		ExpiresAt:    testNow.Add(100 * 24 * time.Hour), // トークン自体は有効
	})

	res := r.Resolve(context.Background(), raw)

	if res.State != StateNone {
		t.Errorf("State = %q, want %q", res.State, StateNone)
	}
	if !res.ClearCookie {
		t.Error("expected ClearCookie for a session past the hard ceiling")
	}
	// リフレッシュ対象外であること
	if refresher.calls() != 0 {
		t.Errorf("refresh calls = %d, want 0", refresher.calls())
	}
}

func TestResolver_Resolve_Expired_RefreshSucceeds(t *testing.T) {
	refresher := &mockRefresher{
		refreshFn: func(ctx context.Context, refreshToken string) (*idp.Grant, error) {
			if refreshToken != "refresh" {
				t.Errorf("refreshToken = %q, want %q", refreshToken, "refresh")
			}
			return validGrant("identity-1"), nil
		},
	}
	r := newTestResolver(refresher)

	raw := encodeSession(t, &model.Session{
		IdentityID:   "identity-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     testNow.Add(-2 * time.Hour),
		ExpiresAt:    testNow.Add(-1 * time.Minute), // 期限切れ
	})

	res := r.Resolve(context.Background(), raw)

	if res.State != StateValid {
		t.Fatalf("State = %q, want %q", res.State, StateValid)
	}
	if !res.SetCookie {
		t.Error("expected SetCookie after successful refresh")
	}
	if res.Session.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want %q", res.Session.AccessToken, "new-access")
	}
	if refresher.calls() != 1 {
		t.Errorf("refresh calls = %d, want 1", refresher.calls())
	}
}

func TestResolver_Resolve_Expired_RefreshRejected_ClearsCookie(t *testing.T) {
	refresher := &mockRefresher{
		refreshFn: func(ctx context.Context, refreshToken string) (*idp.Grant, error) {
			return nil, idp.ErrInvalidGrant
		},
	}
	r := newTestResolver(refresher)

	raw := encodeSession(t, &model.Session{
		IdentityID:   "identity-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     testNow.Add(-2 * time.Hour),
		ExpiresAt:    testNow.Add(-1 * time.Minute),
	})

	res := r.Resolve(context.Background(), raw)

	if res.State != StateNone {
		t.Errorf("State = %q, want %q", res.State, StateNone)
	}
	if !res.ClearCookie {
		t.Error("expected ClearCookie after rejected refresh")
	}
}

// プロバイダー到達失敗はフェイルクローズ（未認証扱い）だが、
// トークンは復旧後に再試行できるため破棄しない。
func TestResolver_Resolve_UpstreamUnavailable_FailsClosedWithoutClearing(t *testing.T) {
	refresher := &mockRefresher{
		refreshFn: func(ctx context.Context, refreshToken string) (*idp.Grant, error) {
			return nil, idp.ErrUpstreamUnavailable
		},
	}
	r := newTestResolver(refresher)

	raw := encodeSession(t, &model.Session{
		IdentityID:   "identity-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     testNow.Add(-2 * time.Hour),
		ExpiresAt:    testNow.Add(-1 * time.Minute),
	})

	res := r.Resolve(context.Background(), raw)

	if res.State != StateNone {
		t.Errorf("State = %q, want %q", res.State, StateNone)
	}
	if res.ClearCookie {
		t.Error("ClearCookie should not be set when provider is unreachable")
	}
	if refresher.calls() != 1 {
		t.Errorf("refresh calls = %d, want 1 (no retry)", refresher.calls())
	}
}

// 同一identityの10並行リクエストが同時に期限切れを観測しても、
// プロバイダーへのリフレッシュ呼び出しはちょうど1回に合流する。
func TestResolver_Resolve_ConcurrentRefresh_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	refresher := &mockRefresher{
		refreshFn: func(ctx context.Context, refreshToken string) (*idp.Grant, error) {
			// 全goroutineが出揃うまでリフレッシュを保留する
			<-started
			time.Sleep(10 * time.Millisecond)
			return validGrant("identity-1"), nil
		},
	}
	r := newTestResolver(refresher)

	raw := encodeSession(t, &model.Session{
		IdentityID:   "identity-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     testNow.Add(-2 * time.Hour),
		ExpiresAt:    testNow.Add(-1 * time.Minute),
	})

	const n = 10
	var wg sync.WaitGroup
	results := make([]Resolution, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), raw)
		}(i)
	}

	// goroutineの起動を待ってからリフレッシュを解放する
	time.Sleep(50 * time.Millisecond)
	close(started)
	wg.Wait()

	if got := refresher.calls(); got != 1 {
		t.Errorf("refresh calls = %d, want exactly 1", got)
	}

	for i, res := range results {
		if res.State != StateValid {
			t.Errorf("result %d: State = %q, want %q", i, res.State, StateValid)
		}
		if res.Session == nil || res.Session.AccessToken != "new-access" {
			t.Errorf("result %d: did not receive the shared refreshed session", i)
		}
	}
}

func TestResolver_Resolve_CallerCanceled_ReturnsNoneWithoutClearing(t *testing.T) {
	refresher := &mockRefresher{
		refreshFn: func(ctx context.Context, refreshToken string) (*idp.Grant, error) {
			time.Sleep(200 * time.Millisecond)
			return validGrant("identity-1"), nil
		},
	}
	r := newTestResolver(refresher)

	raw := encodeSession(t, &model.Session{
		IdentityID:   "identity-1",
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     testNow.Add(-2 * time.Hour),
		ExpiresAt:    testNow.Add(-1 * time.Minute),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := r.Resolve(ctx, raw)

	if res.State != StateNone {
		t.Errorf("State = %q, want %q", res.State, StateNone)
	}
	// Cookieの状態は確定していないため破棄指示を出さない
	if res.ClearCookie {
		t.Error("ClearCookie should not be set when the caller aborts")
	}
}

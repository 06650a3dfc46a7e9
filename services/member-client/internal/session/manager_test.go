package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/fedsync/libs/auth/authtest"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/prefs"
)

const testSecret = "test-secret"

type fakeAuthServer struct {
	ttl        atomic.Int64
	refreshes  atomic.Int32
	logouts    atomic.Int32
	rejectNext atomic.Bool
}

func (f *fakeAuthServer) token(t *testing.T, ttl time.Duration) string {
	t.Helper()
	claims := authtest.Claims("user-1", "ana@example.org", "member", ttl)
	claims.DisplayName = "Ana"
	tok, err := authtest.SignHS256(claims, testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (f *fakeAuthServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	issue := func(w http.ResponseWriter, status int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(Tokens{
			AccessToken:  f.token(t, time.Duration(f.ttl.Load())),
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
		})
	}
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "correct-password" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		issue(w, http.StatusOK)
	})
	mux.HandleFunc("/api/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		issue(w, http.StatusCreated)
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshes.Add(1)
		if f.rejectNext.Load() {
			http.Error(w, "refresh token revoked", http.StatusUnauthorized)
			return
		}
		issue(w, http.StatusOK)
	})
	mux.HandleFunc("/api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logouts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/auth/password/reset", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func newTestManager(t *testing.T) (*Manager, *prefs.Store, *fakeAuthServer, *httptest.Server) {
	t.Helper()
	fake := &fakeAuthServer{}
	fake.ttl.Store(int64(time.Hour))
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	store := prefs.OpenMemory()
	m := NewManager(NewClient(srv.URL, srv.Client()), store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	return m, store, fake, srv
}

func TestLoginPersistsSession(t *testing.T) {
	m, store, _, _ := newTestManager(t)
	s, err := m.Login(context.Background(), "ana@example.org", "correct-password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.UserID != "user-1" || s.DisplayName != "Ana" || s.Role != "member" {
		t.Fatalf("unexpected session %+v", s)
	}
	p := store.Profile()
	if p.Token == "" || p.RefreshToken != "refresh-1" || p.UserID != "user-1" || p.Email != "ana@example.org" {
		t.Fatalf("unexpected stored profile %+v", p)
	}
}

func TestLoginRejected(t *testing.T) {
	m, store, _, _ := newTestManager(t)
	_, err := m.Login(context.Background(), "ana@example.org", "wrong-password")
	if failure.Classify(err) != failure.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if store.AuthToken() != "" {
		t.Fatal("failed login must not store a token")
	}
}

func TestLoginValidatesBeforeCalling(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if _, err := m.Login(context.Background(), "not-an-email", "x"); failure.Classify(err) != failure.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := m.Register(context.Background(), "ana@example.org", "short", "Ana"); failure.Classify(err) != failure.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCurrentRefreshesExpiredToken(t *testing.T) {
	m, store, fake, _ := newTestManager(t)
	fake.ttl.Store(int64(-time.Minute))
	if _, err := m.Register(context.Background(), "ana@example.org", "longenough", "Ana"); err != nil {
		t.Fatalf("register: %v", err)
	}
	expired := store.AuthToken()

	fake.ttl.Store(int64(time.Hour))
	s, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if fake.refreshes.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", fake.refreshes.Load())
	}
	if s.Token == expired || store.AuthToken() == expired {
		t.Fatal("expected a fresh token to be stored")
	}

	if _, err := m.Current(context.Background()); err != nil {
		t.Fatalf("current: %v", err)
	}
	if fake.refreshes.Load() != 1 {
		t.Fatal("a valid token must not be refreshed")
	}
}

func TestCurrentClearsRevokedSession(t *testing.T) {
	m, store, fake, _ := newTestManager(t)
	fake.ttl.Store(int64(-time.Minute))
	if _, err := m.Login(context.Background(), "ana@example.org", "correct-password"); err != nil {
		t.Fatalf("login: %v", err)
	}
	fake.rejectNext.Store(true)

	if _, err := m.Current(context.Background()); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired session, got %v", err)
	}
	if store.AuthToken() != "" {
		t.Fatal("expected revoked session to be cleared")
	}
}

func TestCurrentOfflineKeepsStaleSession(t *testing.T) {
	m, _, fake, srv := newTestManager(t)
	fake.ttl.Store(int64(-time.Minute))
	if _, err := m.Login(context.Background(), "ana@example.org", "correct-password"); err != nil {
		t.Fatalf("login: %v", err)
	}
	srv.Close()

	s, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("expected stale session while offline, got %v", err)
	}
	if !s.Stale || s.UserID != "user-1" {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestLogoutClearsEvenWhenRemoteFails(t *testing.T) {
	m, store, fake, srv := newTestManager(t)
	if _, err := m.Login(context.Background(), "ana@example.org", "correct-password"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if fake.logouts.Load() != 1 || store.AuthToken() != "" {
		t.Fatalf("expected remote logout and cleared token")
	}

	if _, err := m.Login(context.Background(), "ana@example.org", "correct-password"); err != nil {
		t.Fatalf("login: %v", err)
	}
	srv.Close()
	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout offline: %v", err)
	}
	if store.AuthToken() != "" {
		t.Fatal("expected local session cleared while offline")
	}
}

func TestCurrentNotSignedIn(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if _, err := m.Current(context.Background()); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected not signed in, got %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if err := m.ResetPassword(context.Background(), "ana@example.org"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := m.ResetPassword(context.Background(), ""); failure.Classify(err) != failure.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

package prefs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Path:       filepath.Join(t.TempDir(), "prefs.bin"),
		Passphrase: []byte("correct horse"),
		ScryptN:    1 << 10,
	}
}

func next(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("stream closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	return false
}

func TestRoundTripAcrossReopen(t *testing.T) {
	opts := testOptions(t)
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveProfile(Profile{Token: "tok", UserID: "u1", Email: "ana@example.org"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SetBool(KeyDarkTheme, true); err != nil {
		t.Fatalf("set bool: %v", err)
	}

	info, err := os.Stat(opts.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode 0600, got %v", info.Mode().Perm())
	}

	reopened, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.AuthToken() != "tok" || reopened.UserID() != "u1" || reopened.UserEmail() != "ana@example.org" {
		t.Fatalf("unexpected profile %+v", reopened.Profile())
	}
	if !reopened.DarkTheme() {
		t.Fatal("expected dark theme to persist")
	}
	if !reopened.NotificationsEnabled() {
		t.Fatal("expected notifications to default to enabled")
	}
}

func TestFileIsNotPlaintext(t *testing.T) {
	opts := testOptions(t)
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveAuthToken("very-secret-token"); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(opts.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if bytes.Contains(raw, []byte("very-secret-token")) {
		t.Fatal("token stored in plaintext")
	}
}

func TestWrongPassphrase(t *testing.T) {
	opts := testOptions(t)
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveAuthToken("abc"); err != nil {
		t.Fatalf("save: %v", err)
	}
	opts.Passphrase = []byte("wrong")
	if _, err := Open(opts); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
}

func TestCorruptFile(t *testing.T) {
	opts := testOptions(t)
	if err := os.WriteFile(opts.Path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(opts); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestIsLoggedInFollowsToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := OpenMemory()
	ch := s.IsLoggedIn(ctx)
	if next(t, ch) {
		t.Fatal("expected logged out at start")
	}
	if err := s.SaveAuthToken("abc"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !next(t, ch) {
		t.Fatal("expected logged in after save")
	}
	if err := s.ClearAuthToken(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if next(t, ch) {
		t.Fatal("expected logged out after clear")
	}
}

func TestClearSessionKeepsSettings(t *testing.T) {
	s := OpenMemory()
	if err := s.SaveProfile(Profile{Token: "t", RefreshToken: "r", UserID: "u", DisplayName: "Ana"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SetBool(KeyNotificationsEnabled, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if p := s.Profile(); p != (Profile{}) {
		t.Fatalf("expected empty profile, got %+v", p)
	}
	if s.NotificationsEnabled() {
		t.Fatal("expected settings to survive sign out")
	}
}

func TestWatchBool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := OpenMemory()
	ch := s.WatchBool(ctx, KeyNotificationsEnabled, true)
	if !next(t, ch) {
		t.Fatal("expected default true")
	}
	if err := s.SetBool(KeyNotificationsEnabled, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if next(t, ch) {
		t.Fatal("expected false")
	}
}

func TestScryptCostMustBePowerOfTwo(t *testing.T) {
	opts := testOptions(t)
	opts.ScryptN = 1000
	if _, err := Open(opts); err == nil {
		t.Fatal("expected error for invalid cost")
	}
}

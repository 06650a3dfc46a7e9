// Package session signs the member in and out and keeps the tokens in the
// encrypted preference store.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/fedsync/libs/auth"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/failure"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/prefs"
	"github.com/md-rashed-zaman/fedsync/services/member-client/internal/validate"
)

var (
	ErrNotSignedIn    = failure.New(failure.KindAuth, "Please sign in.")
	ErrSessionExpired = failure.New(failure.KindAuth, "Your session has expired. Please sign in again.")
)

type Authenticator interface {
	Login(ctx context.Context, email, password string) (Tokens, error)
	Register(ctx context.Context, email, password, displayName string) (Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
	Logout(ctx context.Context, refreshToken string) error
	ResetPassword(ctx context.Context, email string) error
	Me(ctx context.Context, accessToken string) (Me, error)
}

type TokenStore interface {
	Profile() prefs.Profile
	SaveProfile(p prefs.Profile) error
	ClearSession() error
}

// Verifier checks token signatures, e.g. *auth.JWKSClient.
type Verifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// Session is the signed-in member as known on this device.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	ExpiresAt   time.Time `json:"expires_at"`
	// Stale is set when the token expired and could not be refreshed because
	// the auth service was unreachable.
	Stale bool   `json:"stale,omitempty"`
	Token string `json:"-"`
}

type Config struct {
	// Skew treats tokens this close to expiry as expired.
	Skew time.Duration
}

type Manager struct {
	client   Authenticator
	store    TokenStore
	verifier Verifier
	logger   *slog.Logger
	skew     time.Duration
	now      func() time.Time

	mu sync.Mutex
}

// NewManager wires the session manager. verifier may be nil, in which case
// the stored token is decoded without checking its signature.
func NewManager(client Authenticator, store TokenStore, verifier Verifier, logger *slog.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Skew <= 0 {
		cfg.Skew = 30 * time.Second
	}
	return &Manager{client: client, store: store, verifier: verifier, logger: logger, skew: cfg.Skew, now: time.Now}
}

func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	if err := validate.Login(email, password); err != nil {
		return Session{}, err
	}
	tokens, err := m.client.Login(ctx, email, password)
	if err != nil {
		return Session{}, m.authError("login", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.establish(ctx, tokens, prefs.Profile{Email: email})
}

func (m *Manager) Register(ctx context.Context, email, password, displayName string) (Session, error) {
	if err := validate.SignUp(email, password, displayName); err != nil {
		return Session{}, err
	}
	tokens, err := m.client.Register(ctx, email, password, displayName)
	if err != nil {
		return Session{}, m.authError("register", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.establish(ctx, tokens, prefs.Profile{Email: email, DisplayName: displayName})
}

// Logout revokes the refresh token when possible and always clears the
// local session.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if refresh := m.store.Profile().RefreshToken; refresh != "" {
		if err := m.client.Logout(ctx, refresh); err != nil {
			m.logger.Warn("remote logout failed", "err", err)
		}
	}
	if err := m.store.ClearSession(); err != nil {
		return failure.Wrap(failure.KindStorage, "logout", err)
	}
	m.logger.Info("signed out")
	return nil
}

func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if err := validate.Email(email); err != nil {
		return err
	}
	if err := m.client.ResetPassword(ctx, email); err != nil {
		return m.authError("reset password", err)
	}
	return nil
}

// Current returns the stored session, refreshing the token once when it has
// expired.
func (m *Manager) Current(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.store.Profile()
	if p.Token == "" {
		return Session{}, ErrNotSignedIn
	}
	claims, err := m.decode(ctx, p.Token)
	if err == nil && !claims.Expired(m.now(), m.skew) {
		return sessionFrom(claims, p), nil
	}
	if err != nil && !errors.Is(err, auth.ErrTokenExpired) {
		return Session{}, failure.Wrap(failure.KindAuth, "read session", err)
	}

	if p.RefreshToken == "" {
		return Session{}, ErrSessionExpired
	}
	tokens, err := m.client.Refresh(ctx, p.RefreshToken)
	if err != nil {
		if failure.IsConnectivity(err) {
			stale, derr := auth.ParseNoVerify(p.Token)
			if derr != nil {
				return Session{}, failure.Wrap(failure.KindAuth, "read session", derr)
			}
			s := sessionFrom(stale, p)
			s.Stale = true
			return s, nil
		}
		if failure.Classify(err) == failure.KindAuth {
			if cerr := m.store.ClearSession(); cerr != nil {
				m.logger.Warn("clear expired session", "err", cerr)
			}
			return Session{}, ErrSessionExpired
		}
		return Session{}, m.authError("refresh", err)
	}
	m.logger.Info("session refreshed", "user_id", p.UserID)
	return m.establish(ctx, tokens, p)
}

// Token returns a usable access token.
func (m *Manager) Token(ctx context.Context) (string, error) {
	s, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	return s.Token, nil
}

// establish must be called with m.mu held.
func (m *Manager) establish(ctx context.Context, tokens Tokens, known prefs.Profile) (Session, error) {
	if tokens.AccessToken == "" {
		return Session{}, failure.New(failure.KindAuth, "The auth service returned no token.")
	}
	claims, err := m.decode(ctx, tokens.AccessToken)
	if err != nil {
		return Session{}, failure.Wrap(failure.KindAuth, "read token", err)
	}

	p := prefs.Profile{
		Token:        tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		UserID:       claims.UserID(),
		Email:        firstNonEmpty(claims.Email, known.Email),
		DisplayName:  firstNonEmpty(claims.DisplayName, known.DisplayName),
	}
	if p.RefreshToken == "" {
		p.RefreshToken = known.RefreshToken
	}
	if p.DisplayName == "" {
		if me, err := m.client.Me(ctx, tokens.AccessToken); err == nil {
			p.DisplayName = me.DisplayName
		} else {
			m.logger.Debug("profile lookup failed", "err", err)
		}
	}
	if err := m.store.SaveProfile(p); err != nil {
		return Session{}, failure.Wrap(failure.KindStorage, "save session", err)
	}
	m.logger.Info("signed in", "user_id", p.UserID)
	return sessionFrom(claims, p), nil
}

func (m *Manager) decode(ctx context.Context, token string) (*auth.Claims, error) {
	if m.verifier != nil {
		return m.verifier.Verify(ctx, token)
	}
	return auth.ParseNoVerify(token)
}

func (m *Manager) authError(op string, err error) error {
	return failure.Wrap(failure.Classify(err), op, err)
}

func sessionFrom(c *auth.Claims, p prefs.Profile) Session {
	return Session{
		UserID:      firstNonEmpty(c.UserID(), p.UserID),
		Email:       firstNonEmpty(c.Email, p.Email),
		DisplayName: firstNonEmpty(c.DisplayName, p.DisplayName),
		Role:        c.Role,
		ExpiresAt:   c.ExpiresAtTime(),
		Token:       p.Token,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package prefs

import (
	"context"
	"strconv"
)

const (
	KeyAuthToken    = "auth.token"
	KeyRefreshToken = "auth.refresh_token"
	KeyUserID       = "user.id"
	KeyUserEmail    = "user.email"
	KeyDisplayName  = "user.display_name"

	KeyNotificationsEnabled = "settings.notifications_enabled"
	KeyDarkTheme            = "settings.dark_theme"
	KeySyncOnMetered        = "settings.sync_on_metered"
)

// SessionKeys are cleared together on sign out.
var SessionKeys = []string{KeyAuthToken, KeyRefreshToken, KeyUserID, KeyUserEmail, KeyDisplayName}

// Setting describes a boolean user setting.
type Setting struct {
	Name    string
	Key     string
	Default bool
}

var Settings = []Setting{
	{Name: "notifications_enabled", Key: KeyNotificationsEnabled, Default: true},
	{Name: "dark_theme", Key: KeyDarkTheme, Default: false},
	{Name: "sync_on_metered", Key: KeySyncOnMetered, Default: true},
}

// LookupSetting finds a setting by its short name.
func LookupSetting(name string) (Setting, bool) {
	for _, st := range Settings {
		if st.Name == name {
			return st, true
		}
	}
	return Setting{}, false
}

func (s *Store) AuthToken() string               { return s.String(KeyAuthToken) }
func (s *Store) SaveAuthToken(v string) error    { return s.Put(KeyAuthToken, v) }
func (s *Store) ClearAuthToken() error           { return s.Delete(KeyAuthToken) }
func (s *Store) RefreshToken() string            { return s.String(KeyRefreshToken) }
func (s *Store) SaveRefreshToken(v string) error { return s.Put(KeyRefreshToken, v) }
func (s *Store) ClearRefreshToken() error        { return s.Delete(KeyRefreshToken) }
func (s *Store) UserID() string                  { return s.String(KeyUserID) }
func (s *Store) SaveUserID(v string) error       { return s.Put(KeyUserID, v) }
func (s *Store) UserEmail() string               { return s.String(KeyUserEmail) }
func (s *Store) SaveUserEmail(v string) error    { return s.Put(KeyUserEmail, v) }
func (s *Store) DisplayName() string             { return s.String(KeyDisplayName) }
func (s *Store) SaveDisplayName(v string) error  { return s.Put(KeyDisplayName, v) }

// Profile is the set of user fields kept next to the tokens.
type Profile struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	DisplayName  string
}

// SaveProfile writes every non-empty field of p in a single write.
func (s *Store) SaveProfile(p Profile) error {
	changes := map[string]*string{}
	set := func(key, v string) {
		if v != "" {
			changes[key] = &v
		}
	}
	set(KeyAuthToken, p.Token)
	set(KeyRefreshToken, p.RefreshToken)
	set(KeyUserID, p.UserID)
	set(KeyUserEmail, p.Email)
	set(KeyDisplayName, p.DisplayName)
	if len(changes) == 0 {
		return nil
	}
	return s.apply(changes)
}

func (s *Store) Profile() Profile {
	return Profile{
		Token:        s.AuthToken(),
		RefreshToken: s.RefreshToken(),
		UserID:       s.UserID(),
		Email:        s.UserEmail(),
		DisplayName:  s.DisplayName(),
	}
}

func (s *Store) ClearSession() error { return s.Delete(SessionKeys...) }

func (s *Store) Bool(key string, def bool) bool {
	return parseBool(s.String(key), def)
}

func (s *Store) SetBool(key string, v bool) error {
	return s.Put(key, strconv.FormatBool(v))
}

func (s *Store) NotificationsEnabled() bool { return s.Bool(KeyNotificationsEnabled, true) }
func (s *Store) DarkTheme() bool            { return s.Bool(KeyDarkTheme, false) }
func (s *Store) SyncOnMetered() bool        { return s.Bool(KeySyncOnMetered, true) }

// WatchBool emits the parsed value of key, falling back to def.
func (s *Store) WatchBool(ctx context.Context, key string, def bool) <-chan bool {
	return mapDistinct(ctx, s.Watch(ctx, key), func(v string) bool { return parseBool(v, def) })
}

// IsLoggedIn emits whether an auth token is stored, then every change.
func (s *Store) IsLoggedIn(ctx context.Context) <-chan bool {
	return mapDistinct(ctx, s.Watch(ctx, KeyAuthToken), func(v string) bool { return v != "" })
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mapDistinct[T any, U comparable](ctx context.Context, in <-chan T, fn func(T) U) <-chan U {
	out := make(chan U)
	go func() {
		defer close(out)
		var last U
		first := true
		for v := range in {
			u := fn(v)
			if !first && u == last {
				continue
			}
			first, last = false, u
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/user/chatctl/internal/types"
)

// Persistence keys owned by the client session.
const (
	KeyToken    = "auth.token"
	KeyIdentity = "auth.identity"
	KeySettings = "settings"
)

// ClientSession is the explicit client context: the bearer token, the
// identity it belongs to and the cached settings record.
type ClientSession struct {
	store types.Persistence

	mu       sync.RWMutex
	token    string
	identity string
	settings types.Settings
	onSwitch []func(context.Context) error
}

// NewClientSession restores the session from store.
func NewClientSession(ctx context.Context, store types.Persistence) (*ClientSession, error) {
	s := &ClientSession{store: store, settings: types.DefaultSettings()}

	var err error
	if s.token, _, err = store.Get(ctx, KeyToken); err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if s.identity, _, err = store.Get(ctx, KeyIdentity); err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	raw, ok, err := store.Get(ctx, KeySettings)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if ok {
		var cached types.Settings
		if err := json.Unmarshal([]byte(raw), &cached); err != nil {
			slog.Warn("ignoring unreadable cached settings", "error", err)
		} else {
			s.settings = cached
		}
	}
	return s, nil
}

// IdentityFromToken returns the subject claim of a JWT bearer token. The
// signature is not verified; the backend does that on every request.
func IdentityFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read token subject: %w", err)
	}
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// OnIdentityChange registers fn to run after the identity switched.
func (s *ClientSession) OnIdentityChange(fn func(context.Context) error) {
	s.mu.Lock()
	s.onSwitch = append(s.onSwitch, fn)
	s.mu.Unlock()
}

func (s *ClientSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *ClientSession) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SetToken installs a new bearer token. When it belongs to a different
// identity every identity-scoped record is cleared and the identity-change
// hooks run. It reports whether the identity changed.
func (s *ClientSession) SetToken(ctx context.Context, token string) (bool, error) {
	identity, err := IdentityFromToken(token)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	changed := identity != s.identity
	s.token = token
	s.identity = identity
	if changed {
		s.settings = types.DefaultSettings()
	}
	s.mu.Unlock()

	if err := s.store.Set(ctx, KeyToken, token); err != nil {
		return changed, fmt.Errorf("save token: %w", err)
	}
	if !changed {
		return false, nil
	}

	slog.Info("identity changed", "identity", identity)
	if err := s.store.Clear(ctx, KeySettings); err != nil {
		return true, fmt.Errorf("clear settings: %w", err)
	}
	if err := s.store.Set(ctx, KeyIdentity, identity); err != nil {
		return true, fmt.Errorf("save identity: %w", err)
	}
	return true, s.runSwitchHooks(ctx)
}

// Logout forgets the token and everything scoped to its identity.
func (s *ClientSession) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.identity = ""
	s.settings = types.DefaultSettings()
	s.mu.Unlock()

	if err := s.store.Clear(ctx, KeyToken, KeyIdentity, KeySettings); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return s.runSwitchHooks(ctx)
}

func (s *ClientSession) runSwitchHooks(ctx context.Context) error {
	s.mu.RLock()
	hooks := append([]func(context.Context) error(nil), s.onSwitch...)
	s.mu.RUnlock()

	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("identity change: %w", err)
		}
	}
	return nil
}

func (s *ClientSession) Settings() types.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings caches settings in memory and in the store.
func (s *ClientSession) SetSettings(ctx context.Context, settings types.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	if err := s.store.Set(ctx, KeySettings, string(data)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// ValidateSettings checks the ranges the backend accepts.
func ValidateSettings(s types.Settings) error {
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f outside 0..2", ErrInvalidSettings, s.Temperature)
	}
	if s.MaxTokens < 1 || s.MaxTokens > 8192 {
		return fmt.Errorf("%w: max_tokens %d outside 1..8192", ErrInvalidSettings, s.MaxTokens)
	}
	return nil
}

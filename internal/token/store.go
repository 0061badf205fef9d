package token

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/meritdesk/meritdesk-go/internal/logger"
)

// Store holds the access/refresh token pair for this session, backed by a
// JSON file so tokens survive process restarts and are visible to other
// meritctl processes on the same machine.
//
// Thread-safety:
//   - All methods are safe for concurrent use
//   - Reads come from the in-memory cache; writes flush to disk
//
// The store itself has no refresh logic. Writes happen only from login,
// logout, and the refresh flow in the API client.
type Store struct {
	path string

	mu      sync.RWMutex
	access  string
	refresh string

	// externalChange is invoked when the access token changes on disk from
	// outside this process. Advisory only, see Watch.
	externalChange func(old, updated string)

	logger *logger.Logger
}

// tokenFile is the on-disk layout: two string entries, absent meaning
// logged out for that token's purpose.
type tokenFile struct {
	Access  string `json:"access,omitempty"`
	Refresh string `json:"refresh,omitempty"`
}

// NewStore creates a store backed by the file at path, loading any
// previously persisted pair. A missing file is not an error.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: log.WithComponent("token_store"),
	}

	if err := s.loadLocked(); err != nil {
		return nil, fmt.Errorf("failed to load token file: %w", err)
	}

	return s, nil
}

// Access returns the current access token, or "" when logged out.
func (s *Store) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// Refresh returns the current refresh token, or "" when absent.
func (s *Store) Refresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// SetAccess stores a new access token and persists it.
func (s *Store) SetAccess(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = tok
	return s.persistLocked()
}

// SetRefresh stores a new refresh token and persists it.
func (s *Store) SetRefresh(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = tok
	return s.persistLocked()
}

// SetPair stores both tokens in one write. Used on login and on refresh
// responses that rotate the refresh token.
func (s *Store) SetPair(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	return s.persistLocked()
}

// Clear empties both tokens and removes the file. Equivalent to logout.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = ""
	s.refresh = ""

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AccessExpiresAt reports the exp claim of the current access token.
// Returns false when there is no token or it does not parse as a JWT;
// the token is then treated as opaque and used as-is.
func (s *Store) AccessExpiresAt() (time.Time, bool) {
	tok := s.Access()
	if tok == "" {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// OnExternalChange registers the callback fired by Watch when the access
// token changes on disk from outside this process.
func (s *Store) OnExternalChange(fn func(old, updated string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.externalChange = fn
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		// A corrupt token file means logged out, not a fatal error.
		s.logger.Warn("token file is corrupt, treating as logged out", "path", s.path)
		return nil
	}

	s.access = tf.Access
	s.refresh = tf.Refresh
	return nil
}

func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	data, err := json.Marshal(tokenFile{Access: s.access, Refresh: s.refresh})
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o600)
}

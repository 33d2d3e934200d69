// Package breakglass issues short-lived, single-use passes that let an
// operator override one denied access decision, for example to let a
// courier through without enrolling them.
package breakglass

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown pass ID.
var ErrNotFound = errors.New("pass not found")

// ErrInactive is returned when consuming a used, revoked or expired pass.
var ErrInactive = errors.New("pass is not active")

// validID matches alphanumeric, dash characters only (bg-<hex>).
var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateID rejects IDs that could cause path traversal.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

const (
	// DefaultDuration is the default pass validity period.
	DefaultDuration = 10 * time.Minute
	// MaxDuration is the longest a pass may be valid.
	MaxDuration = 12 * time.Hour
)

// Scope restricts where a pass applies. Empty fields match anything.
type Scope struct {
	Identity string `json:"identity,omitempty"`
	Slot     string `json:"slot,omitempty"`
	Action   string `json:"action,omitempty"`
}

// Matches reports whether the scope covers an observation.
func (s Scope) Matches(identity, slot, action string) bool {
	return (s.Identity == "" || s.Identity == identity) &&
		(s.Slot == "" || s.Slot == slot) &&
		(s.Action == "" || s.Action == action)
}

// Token is a break-glass pass.
type Token struct {
	ID        string     `json:"id"`
	Scope     Scope      `json:"scope"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UsedBy    string     `json:"used_by,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsActive returns true if the token is not expired, used or revoked at now.
func (t *Token) IsActive(now time.Time) bool {
	if t.UsedAt != nil || t.RevokedAt != nil {
		return false
	}
	return now.Before(t.ExpiresAt)
}

// Store manages pass files on disk, one JSON file per pass.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a Store backed by dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create breakglass directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// DefaultDir returns ~/.roomguard/passes.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "roomguard-passes")
	}
	return filepath.Join(home, ".roomguard", "passes")
}

// Create issues a new pass. A reason is mandatory.
func (s *Store) Create(scope Scope, reason string, duration time.Duration) (*Token, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("break-glass reason is required")
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	if duration > MaxDuration {
		return nil, fmt.Errorf("break-glass duration %s exceeds maximum %s", duration, MaxDuration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	token := &Token{
		ID:        "bg-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Scope:     scope,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}
	if err := s.writeAtomic(s.path(token.ID), token); err != nil {
		return nil, fmt.Errorf("failed to write pass: %w", err)
	}
	return token, nil
}

// Use finds the oldest active pass covering the observation and consumes
// it. It returns nil when no pass applies.
func (s *Store) Use(identity, slot, action string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.list()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range tokens {
		t := &tokens[i]
		if !t.IsActive(now) || !t.Scope.Matches(identity, slot, action) {
			continue
		}
		t.UsedAt = &now
		t.UsedBy = identity
		if err := s.writeAtomic(s.path(t.ID), t); err != nil {
			return nil, fmt.Errorf("failed to consume pass %s: %w", t.ID, err)
		}
		return t, nil
	}
	return nil, nil
}

// Revoke marks a pass as revoked.
func (s *Store) Revoke(id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid pass id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read(id)
	if err != nil {
		return err
	}
	if !token.IsActive(s.now().UTC()) {
		return fmt.Errorf("%w: %s", ErrInactive, id)
	}
	now := s.now().UTC()
	token.RevokedAt = &now
	return s.writeAtomic(s.path(id), token)
}

// Get returns one pass.
func (s *Store) Get(id string) (*Token, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid pass id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// List returns all passes, oldest first.
func (s *Store) List() ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

// Cleanup removes passes that expired, were used or were revoked more
// than maxAge ago. It returns the number removed.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.list()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().UTC().Add(-maxAge)
	removed := 0
	for _, t := range tokens {
		end := t.ExpiresAt
		if t.UsedAt != nil {
			end = *t.UsedAt
		}
		if t.RevokedAt != nil {
			end = *t.RevokedAt
		}
		if end.Before(cutoff) {
			if err := os.Remove(s.path(t.ID)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) list() ([]Token, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []Token
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		token, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		tokens = append(tokens, *token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Token, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("corrupt pass %s: %w", id, err)
	}
	return &token, nil
}

func (s *Store) writeAtomic(path string, token *Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

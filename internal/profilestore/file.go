package profilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/roomguard/internal/trust"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects identities that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("identity must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("identity must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("identity contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// FileStore keeps one JSON file per identity in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a FileStore backed by dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create profile directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// DefaultDir returns the default profile directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "roomguard-profiles")
	}
	return filepath.Join(home, ".roomguard", "profiles")
}

func (s *FileStore) Get(_ context.Context, identity string) (*trust.Profile, error) {
	if err := validateKey(identity); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(identity)
}

func (s *FileStore) Put(_ context.Context, p *trust.Profile) error {
	if err := validateKey(p.Identity); err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.path(p.Identity), p)
}

func (s *FileStore) List(_ context.Context) ([]*trust.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var profiles []*trust.Profile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].Identity < profiles[j].Identity })
	return profiles, nil
}

func (s *FileStore) Delete(_ context.Context, identity string) error {
	if err := validateKey(identity); err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(identity)); err != nil {
		if os.IsNotExist(err) {
			return trust.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(identity string) string {
	return filepath.Join(s.dir, identity+".json")
}

func (s *FileStore) read(identity string) (*trust.Profile, error) {
	data, err := os.ReadFile(s.path(identity))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, trust.ErrNotFound
		}
		return nil, err
	}
	var p trust.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt profile %q: %w", identity, err)
	}
	return &p, nil
}

func (s *FileStore) writeAtomic(path string, p *trust.Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

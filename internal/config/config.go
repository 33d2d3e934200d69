// Package config loads the roomguard configuration file.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/roomguard/internal/alert"
	"github.com/ppiankov/roomguard/internal/audit"
	"github.com/ppiankov/roomguard/internal/breakglass"
	"github.com/ppiankov/roomguard/internal/conversation"
	"github.com/ppiankov/roomguard/internal/dialogue"
	"github.com/ppiankov/roomguard/internal/escalation"
	"github.com/ppiankov/roomguard/internal/guard"
	"github.com/ppiankov/roomguard/internal/ingest"
	"github.com/ppiankov/roomguard/internal/metrics"
	"github.com/ppiankov/roomguard/internal/policy"
	"github.com/ppiankov/roomguard/internal/profilestore"
	"github.com/ppiankov/roomguard/internal/speech"
	"github.com/ppiankov/roomguard/internal/trust"
)

// AuditConfig locates the audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig configures the gRPC listener and the background decay
// sweep of serve.
type ServerConfig struct {
	Listen        string        `yaml:"listen"`
	DecayInterval time.Duration `yaml:"decay_interval"`
}

// PassConfig locates break-glass passes.
type PassConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// ListenConfig configures the transcript feed.
type ListenConfig struct {
	Capacity int `yaml:"capacity"`
}

// Config is the whole roomguard configuration.
type Config struct {
	Guard        guard.Config        `yaml:"guard"`
	Trust        trust.Config        `yaml:"trust"`
	Escalation   escalation.Config   `yaml:"escalation"`
	Conversation conversation.Config `yaml:"conversation"`
	Dialogue     dialogue.Config     `yaml:"dialogue"`
	Speech       speech.Config       `yaml:"speech"`
	Listen       ListenConfig        `yaml:"listen"`
	Store        profilestore.Config `yaml:"store"`
	Access       policy.AccessPolicy `yaml:"access"`
	Alerts       alert.Config        `yaml:"alerts"`
	Audit        AuditConfig         `yaml:"audit"`
	Passes       PassConfig          `yaml:"passes"`
	Server       ServerConfig        `yaml:"server"`
	Inbox        ingest.Config       `yaml:"inbox"`
	Telemetry    metrics.Config      `yaml:"telemetry"`
}

// DefaultListen is the default gRPC address.
const DefaultListen = "127.0.0.1:50551"

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Guard:        guard.DefaultConfig(),
		Trust:        trust.DefaultConfig(),
		Escalation:   escalation.DefaultConfig(),
		Conversation: conversation.DefaultConfig(),
		Dialogue:     dialogue.DefaultConfig(),
		Speech:       speech.DefaultConfig(),
		Listen:       ListenConfig{Capacity: 8},
		Store:        profilestore.Config{Backend: "file"},
		Access:       policy.DefaultPolicy(),
		Alerts:       alert.DefaultConfig(),
		Audit:        AuditConfig{Enabled: true, Path: audit.DefaultPath()},
		Passes:       PassConfig{Enabled: true},
		Server:       ServerConfig{Listen: DefaultListen, DecayInterval: time.Hour},
		Inbox:        ingest.DefaultConfig(),
		Telemetry:    metrics.DefaultConfig(),
	}
}

// DefaultPath returns ~/.roomguard/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".roomguard", "config.yaml")
	}
	return filepath.Join(home, ".roomguard", "config.yaml")
}

// Load reads the configuration at path. Empty path falls back to
// DefaultPath. A missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads the configuration and returns the SHA-256 of the raw
// file. When no file exists the hash is that of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), Hash(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, Hash(data), nil
}

// Parse overlays YAML onto the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Hash returns "sha256:<hex>" of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Validate checks the sections that have validation rules.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Trust.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("trust: %w", err))
	}
	if _, err := escalation.NewMachine(c.Escalation); err != nil {
		errs = append(errs, fmt.Errorf("escalation: %w", err))
	}
	if err := c.Access.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("access: %w", err))
	}
	if _, err := c.Dialogue.Redact.Compile(); err != nil {
		errs = append(errs, fmt.Errorf("dialogue: %w", err))
	}
	if c.Guard.GrantCooldown < 0 {
		errs = append(errs, errors.New("guard: grant_cooldown must not be negative"))
	}
	cc := c.Conversation
	if cc.GenerateTimeout <= 0 || cc.SpeakTimeout <= 0 || cc.ResponseWindow <= 0 {
		errs = append(errs, errors.New("conversation: timeouts must be positive"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server: listen address is required"))
	}
	return errors.Join(errs...)
}

// AuditPath returns the audit log path, or "" when auditing is off.
func (c *Config) AuditPath() string {
	if !c.Audit.Enabled {
		return ""
	}
	if c.Audit.Path == "" {
		return audit.DefaultPath()
	}
	return c.Audit.Path
}

// InboxDir returns the inbox directory, defaulting under ~/.roomguard.
func (c *Config) InboxDir() string {
	if c.Inbox.Dir == "" {
		return ingest.DefaultDir()
	}
	return c.Inbox.Dir
}

// PassDir returns the break-glass pass directory, or "" when passes are off.
func (c *Config) PassDir() string {
	if !c.Passes.Enabled {
		return ""
	}
	if c.Passes.Dir == "" {
		return breakglass.DefaultDir()
	}
	return c.Passes.Dir
}

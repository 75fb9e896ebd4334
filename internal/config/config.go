package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/model"
)

// SpoofSettings controls identity and channel spoofing.
type SpoofSettings struct {
	Enabled            bool   `yaml:"enabled"`
	IdentityMode       string `yaml:"identity_mode"`
	CustomIdentity     string `yaml:"custom_identity"`
	ChannelEnforcement bool   `yaml:"channel_enforcement"`
}

// LocalOriginSettings controls the local-network-origin guard.
type LocalOriginSettings struct {
	BlockingEnabled bool          `yaml:"blocking_enabled"`
	MaxRedirects    int           `yaml:"max_redirects"`
	LookupTimeout   time.Duration `yaml:"lookup_timeout"`
	// DNSServer pins lookups to one server, e.g. "udp://1.1.1.1:53" or
	// "https://dns.google/dns-query". Empty uses the system resolver.
	DNSServer string `yaml:"dns_server"`
}

// LabelSettings controls dynamic-label protection.
type LabelSettings struct {
	ProtectionEnabled bool          `yaml:"protection_enabled"`
	BatchWindow       time.Duration `yaml:"batch_window"`
	LogDedupTTL       time.Duration `yaml:"log_dedup_ttl"`
	RescanInterval    time.Duration `yaml:"rescan_interval"`
}

// AlertSettings controls user-visible notices and detection logging.
type AlertSettings struct {
	Alerts        bool                  `yaml:"alerts"`
	Toasts        bool                  `yaml:"toasts"`
	LogDetections bool                  `yaml:"log_detections"`
	Cooldown      time.Duration         `yaml:"cooldown"`
	PerMinute     int                   `yaml:"per_minute"`
	Webhooks      []alert.WebhookConfig `yaml:"webhooks"`
	// Journal is a hash-chained JSONL file receiving every notice. Empty disables it.
	Journal string `yaml:"journal"`
}

// Toggles converts the settings into the aggregator's gate.
func (a AlertSettings) Toggles() alert.Toggles {
	return alert.Toggles{
		Alerts:        a.Alerts,
		Toasts:        a.Toasts,
		LogDetections: a.LogDetections,
	}
}

// LogSettings controls the process logger.
type LogSettings struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Settings is one immutable configuration snapshot. Callers must not
// modify a Settings obtained from a Store.
type Settings struct {
	Spoof       SpoofSettings       `yaml:"spoof"`
	LocalOrigin LocalOriginSettings `yaml:"local_origin"`
	Labels      LabelSettings       `yaml:"labels"`
	Alerts      AlertSettings       `yaml:"alerts"`
	Log         LogSettings         `yaml:"log"`
}

// DefaultSettings returns the built-in configuration: every protection on,
// presenting as the profile-A identity.
func DefaultSettings() *Settings {
	return &Settings{
		Spoof: SpoofSettings{
			Enabled:            true,
			IdentityMode:       string(model.ModeProfileA),
			ChannelEnforcement: true,
		},
		LocalOrigin: LocalOriginSettings{
			BlockingEnabled: true,
			MaxRedirects:    20,
			LookupTimeout:   2 * time.Second,
		},
		Labels: LabelSettings{
			ProtectionEnabled: true,
			BatchWindow:       500 * time.Millisecond,
			LogDedupTTL:       30 * time.Second,
			RescanInterval:    5 * time.Second,
		},
		Alerts: AlertSettings{
			Alerts:        true,
			Toasts:        true,
			LogDetections: true,
			Cooldown:      5 * time.Second,
			PerMinute:     30,
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}

// Profile returns the spoof snapshot. ok is false when spoofing is off,
// in which case every outbound message passes untouched.
func (s *Settings) Profile() (model.SpoofProfile, bool) {
	if s == nil || !s.Spoof.Enabled {
		return model.SpoofProfile{}, false
	}
	return model.SpoofProfile{
		Mode:               model.ParseIdentityMode(s.Spoof.IdentityMode),
		ChannelEnforcement: s.Spoof.ChannelEnforcement,
		CustomIdentity:     s.Spoof.CustomIdentity,
	}, true
}

// Validate rejects values that would make a guard misbehave.
func (s *Settings) Validate() error {
	if s.LocalOrigin.MaxRedirects < 1 {
		return fmt.Errorf("local_origin.max_redirects must be at least 1, got %d", s.LocalOrigin.MaxRedirects)
	}
	if s.LocalOrigin.LookupTimeout <= 0 {
		return fmt.Errorf("local_origin.lookup_timeout must be positive")
	}
	if s.Labels.BatchWindow <= 0 {
		return fmt.Errorf("labels.batch_window must be positive")
	}
	if s.Alerts.PerMinute < 0 {
		return fmt.Errorf("alerts.per_minute must not be negative")
	}
	if s.Spoof.Enabled && model.ParseIdentityMode(s.Spoof.IdentityMode) == model.ModeCustom && s.Spoof.CustomIdentity == "" {
		return fmt.Errorf("spoof.custom_identity is required when identity_mode is custom")
	}
	return nil
}

// DefaultPath returns ~/.incognito/config.yaml, or "" if home is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".incognito", "config.yaml")
}

// LoadConfig loads settings from a YAML file.
// Empty path falls back to ~/.incognito/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Settings, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads settings and returns the SHA-256 of the raw file.
// When no file exists the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Settings, string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return DefaultSettings(), emptyHash(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultSettings()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, hash, nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

package config

import (
	"errors"
	"sync/atomic"
)

// ErrUnavailable is returned while no configuration has been published yet.
// Guards fail open on it.
var ErrUnavailable = errors.New("config: not ready")

// Provider hands out read-only settings snapshots.
type Provider interface {
	Snapshot() (*Settings, error)
}

// Store is an atomically swapped settings snapshot. The zero value is
// ready to use and reports ErrUnavailable until Set is called.
type Store struct {
	cur  atomic.Pointer[Settings]
	hash atomic.Value // string
}

// NewStore returns a Store already holding cfg.
func NewStore(cfg *Settings) *Store {
	s := &Store{}
	if cfg != nil {
		s.Set(cfg, "")
	}
	return s
}

// Snapshot returns the current settings.
func (s *Store) Snapshot() (*Settings, error) {
	cfg := s.cur.Load()
	if cfg == nil {
		return nil, ErrUnavailable
	}
	return cfg, nil
}

// Set publishes a new snapshot. cfg must not be modified afterwards.
func (s *Store) Set(cfg *Settings, hash string) {
	s.cur.Store(cfg)
	s.hash.Store(hash)
}

// Hash returns the hash of the file the current snapshot came from.
func (s *Store) Hash() string {
	h, _ := s.hash.Load().(string)
	return h
}

// Load reads path and publishes the result. On error the previous
// snapshot stays in place.
func (s *Store) Load(path string) error {
	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		return err
	}
	s.Set(cfg, hash)
	return nil
}

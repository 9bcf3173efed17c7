package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Settings is the runtime snapshot the engine reads. It is replaced
// wholesale on update and never mutated in place.
type Settings struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	AutoRetry     bool          `mapstructure:"auto_retry"`
	Notifications bool          `mapstructure:"notifications"`
	DownloadPath  string        `mapstructure:"path"`
}

// Validate checks the limits the engine depends on.
func (s Settings) Validate() error {
	if s.MaxConcurrent <= 0 {
		return fmt.Errorf("downloads.max_concurrent must be > 0")
	}
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("downloads.max_attempts must be > 0")
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("downloads.retry_delay must be >= 0")
	}
	return nil
}

// SettingsPatch carries a partial update. Nil fields keep their current value.
type SettingsPatch struct {
	MaxConcurrent *int
	MaxAttempts   *int
	RetryDelay    *time.Duration
	AutoRetry     *bool
	Notifications *bool
	DownloadPath  *string
}

// Apply returns a new Settings with the patch merged over s.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.MaxConcurrent != nil {
		s.MaxConcurrent = *p.MaxConcurrent
	}
	if p.MaxAttempts != nil {
		s.MaxAttempts = *p.MaxAttempts
	}
	if p.RetryDelay != nil {
		s.RetryDelay = *p.RetryDelay
	}
	if p.AutoRetry != nil {
		s.AutoRetry = *p.AutoRetry
	}
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
	if p.DownloadPath != nil {
		s.DownloadPath = *p.DownloadPath
	}
	return s
}

// Store persists merged settings through Viper. Without a config file path
// updates live in memory only.
type Store struct {
	mu      sync.Mutex
	v       *viper.Viper
	path    string
	current Settings
}

// NewStore wraps an existing settings snapshot with no backing file.
func NewStore(initial Settings) *Store {
	return &Store{v: viper.New(), current: initial}
}

// Load returns the last saved snapshot.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

// Save validates and persists a merged snapshot.
func (s *Store) Save(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set("downloads.max_concurrent", next.MaxConcurrent)
	s.v.Set("downloads.max_attempts", next.MaxAttempts)
	s.v.Set("downloads.retry_delay", next.RetryDelay.String())
	s.v.Set("downloads.auto_retry", next.AutoRetry)
	s.v.Set("downloads.notifications", next.Notifications)
	s.v.Set("downloads.path", next.DownloadPath)
	if s.path != "" {
		if err := s.v.WriteConfigAs(s.path); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}
	s.current = next
	return nil
}

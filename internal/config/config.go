package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	Identity       Identity `toml:"identity"`
	Relay          Relay    `toml:"relay"`
	Sync           Sync     `toml:"sync"`
	UI             UI       `toml:"ui"`
}

// Identity is how this client appears to its peers.
type Identity struct {
	UserID      string `toml:"user_id"`
	UserName    string `toml:"user_name"`
	Coordinator bool   `toml:"coordinator"`
}

// Relay locates the relay hub.
type Relay struct {
	Address    string   `toml:"address"`
	Listen     string   `toml:"listen"`
	MinBackoff Duration `toml:"min_backoff"`
	MaxBackoff Duration `toml:"max_backoff"`
}

// Sync bounds reconciliation and retries.
type Sync struct {
	Window        Duration `toml:"window"`
	StaleAfter    Duration `toml:"stale_after"`
	FlushInterval Duration `toml:"flush_interval"`
}

// UI tunes the terminal front-end.
type UI struct {
	FrameInterval Duration `toml:"frame_interval"`
	MaxPending    int      `toml:"max_pending"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Relay: Relay{
			Address:    "127.0.0.1:7420",
			Listen:     ":7420",
			MinBackoff: Duration{250 * time.Millisecond},
			MaxBackoff: Duration{10 * time.Second},
		},
		Sync: Sync{
			Window:        Duration{24 * time.Hour},
			StaleAfter:    Duration{30 * time.Second},
			FlushInterval: Duration{500 * time.Millisecond},
		},
		UI: UI{
			FrameInterval: Duration{33 * time.Millisecond},
			MaxPending:    1024,
		},
	}
}

// Load reads config from the given path over Default. Returns the error
// from the filesystem if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default for a missing file.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the fields a daemon needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Identity.UserID == "" {
		errs = append(errs, errors.New("identity.user_id is required"))
	}
	if c.Relay.Address == "" {
		errs = append(errs, errors.New("relay.address is required"))
	}
	if c.Relay.MinBackoff.Duration > c.Relay.MaxBackoff.Duration {
		errs = append(errs, fmt.Errorf("relay.min_backoff %s exceeds max_backoff %s", c.Relay.MinBackoff, c.Relay.MaxBackoff))
	}
	if c.Sync.StaleAfter.Duration <= 0 {
		errs = append(errs, errors.New("sync.stale_after must be positive"))
	}
	if c.UI.MaxPending < 0 {
		errs = append(errs, errors.New("ui.max_pending must not be negative"))
	}
	return errors.Join(errs...)
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

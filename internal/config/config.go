package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so it can be written as "10s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents ~/.pigeon/config.toml.
type Config struct {
	Instance string `toml:"instance"`
	DataDir  string `toml:"data_dir"`
	Listen   string `toml:"listen"`

	JWTSecret string   `toml:"jwt_secret"`
	TokenTTL  Duration `toml:"token_ttl"`

	HandshakeTimeout Duration `toml:"handshake_timeout"`
	MaxContentLength int      `toml:"max_content_length"`
	MaxStatusLength  int      `toml:"max_status_length"`
	EventsPerSecond  int      `toml:"events_per_second"`
	SendQueueSize    int      `toml:"send_queue_size"`
	AllowedOrigins   []string `toml:"allowed_origins"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Instance:         "main",
		DataDir:          BaseDir(),
		Listen:           ":5000",
		TokenTTL:         Duration{7 * 24 * time.Hour},
		HandshakeTimeout: Duration{10 * time.Second},
		MaxContentLength: 1000,
		MaxStatusLength:  150,
		EventsPerSecond:  50,
		SendQueueSize:    256,
		AllowedOrigins:   []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
}

// Load reads config from the given path on top of Default(). Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default() when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
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

var instanceRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateInstance checks that name is usable as an instance directory name.
func ValidateInstance(name string) error {
	if !instanceRegexp.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Validate checks the values the daemon cannot start without.
func (c *Config) Validate() error {
	if err := ValidateInstance(c.Instance); err != nil {
		return err
	}
	switch {
	case c.JWTSecret == "":
		return errors.New("jwt_secret must be set")
	case len(c.JWTSecret) < 16:
		return fmt.Errorf("jwt_secret too short: %d bytes, want at least 16", len(c.JWTSecret))
	case c.DataDir == "":
		return errors.New("data_dir must be set")
	case c.Listen == "":
		return errors.New("listen must be set")
	case c.HandshakeTimeout.Duration <= 0:
		return errors.New("handshake_timeout must be positive")
	case c.MaxContentLength <= 0:
		return errors.New("max_content_length must be positive")
	case c.SendQueueSize <= 0:
		return errors.New("send_queue_size must be positive")
	}
	return nil
}

// BaseDir returns ~/.pigeon.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pigeon")
}

// Path returns the default config file path.
func Path() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// InstanceDir returns the directory holding the instance's database, logs and socket.
func (c *Config) InstanceDir() string {
	return filepath.Join(c.DataDir, "instances", c.Instance)
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.InstanceDir(), "pigeon.db")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.InstanceDir(), "logs", "pigeond.log")
}

// SocketPath returns the admin UDS socket path.
func (c *Config) SocketPath() string {
	return filepath.Join(c.InstanceDir(), "admin.sock")
}

// EnsureDirs creates the instance directory tree with proper permissions.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.InstanceDir(), filepath.Dir(c.LogPath())} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

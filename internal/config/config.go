// Package config loads the control-plane configuration file (patchbay.yaml).
package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/aretw0/patchbay/internal/logging"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "patchbay.yaml"

// EnvEncryptionKey overrides encryption.key, keeping the key out of the file.
const EnvEncryptionKey = "PATCHBAY_ENCRYPTION_KEY"

// Backend kinds.
const (
	BackendJack   = "jack"
	BackendMemory = "memory"
)

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the control-plane configuration.
type Config struct {
	// Listen is the HTTP control surface address.
	Listen string `yaml:"listen" json:"listen" toml:"listen"`
	// Declaration is the topology loaded at startup.
	Declaration string `yaml:"declaration" json:"declaration" toml:"declaration"`
	// State is where the live topology is saved after every change.
	// Empty disables saving.
	State string `yaml:"state" json:"state" toml:"state"`
	// Backend selects the audio server: "jack" or "memory" (dry run).
	Backend string `yaml:"backend" json:"backend" toml:"backend"`
	// StartTimeout bounds how long a node may take to expose its ports.
	StartTimeout Duration `yaml:"start_timeout" json:"start_timeout" toml:"start_timeout"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" toml:"log_level"`
	// Commands is an optional file overriding the commands nodes launch.
	Commands string `yaml:"commands" json:"commands" toml:"commands"`

	Redis      RedisConfig      `yaml:"redis" json:"redis" toml:"redis"`
	Encryption EncryptionConfig `yaml:"encryption" json:"encryption" toml:"encryption"`
}

// EncryptionConfig seals credential fields in the saved topology.
// Keys are base64-encoded 32-byte AES keys.
type EncryptionConfig struct {
	Key          string   `yaml:"key" json:"key" toml:"key"`
	FallbackKeys []string `yaml:"fallback_keys" json:"fallback_keys" toml:"fallback_keys"`
	// Fields are regular expressions over configuration keys; empty uses
	// the built-in credential patterns.
	Fields []string `yaml:"fields" json:"fields" toml:"fields"`
}

// Enabled reports whether an active key is configured.
func (e EncryptionConfig) Enabled() bool {
	return e.Key != ""
}

// Keys decodes the active and fallback keys.
func (e EncryptionConfig) Keys() ([]byte, [][]byte, error) {
	active, err := decodeKey(e.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption.key: %w", err)
	}
	var fallback [][]byte
	for i, k := range e.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("encryption.fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key is %d bytes, expected 32", len(key))
	}
	return key, nil
}

// RedisConfig enables shared state and the replica lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" toml:"addr"`
	Password string `yaml:"password" json:"password" toml:"password"`
	DB       int    `yaml:"db" json:"db" toml:"db"`
	Prefix   string `yaml:"prefix" json:"prefix" toml:"prefix"`
	// Lock serializes mutations across replicas sharing one audio server.
	Lock    bool     `yaml:"lock" json:"lock" toml:"lock"`
	LockTTL Duration `yaml:"lock_ttl" json:"lock_ttl" toml:"lock_ttl"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Listen:       ":8080",
		Declaration:  "patchbay.toml",
		State:        "state.toml",
		Backend:      BackendJack,
		StartTimeout: Duration(10 * time.Second),
		LogLevel:     "info",
		Redis: RedisConfig{
			Prefix:  "patchbay:",
			LockTTL: Duration(30 * time.Second),
		},
	}
}

// Load reads path over the defaults and validates the result. The format
// follows the extension: .json, .toml, anything else is YAML. A missing file
// yields the defaults when allowMissing is set.
func Load(path string, allowMissing bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && allowMissing {
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.resolve(filepath.Dir(path))
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// resolve makes relative file paths relative to the configuration file.
func (c *Config) resolve(dir string) {
	for _, p := range []*string{&c.Declaration, &c.State, &c.Commands} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

func (c *Config) applyEnv() {
	if key := os.Getenv(EnvEncryptionKey); key != "" {
		c.Encryption.Key = key
	}
}

// Validate checks the configuration for values no component would accept.
func (c Config) Validate() error {
	if c.Backend != BackendJack && c.Backend != BackendMemory {
		return fmt.Errorf("%w: backend %q (expected %s or %s)", ErrInvalid, c.Backend, BackendJack, BackendMemory)
	}
	if c.StartTimeout <= 0 {
		return fmt.Errorf("%w: start_timeout must be positive", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Redis.Lock && !c.Redis.Enabled() {
		return fmt.Errorf("%w: redis.lock requires redis.addr", ErrInvalid)
	}
	if c.Redis.Lock && c.Redis.LockTTL <= 0 {
		return fmt.Errorf("%w: redis.lock_ttl must be positive", ErrInvalid)
	}
	if c.Encryption.Enabled() {
		if _, _, err := c.Encryption.Keys(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	} else if len(c.Encryption.FallbackKeys) > 0 {
		return fmt.Errorf("%w: encryption.fallback_keys requires encryption.key", ErrInvalid)
	}
	return nil
}

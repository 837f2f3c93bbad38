package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "YAML",
			file: "patchbay.yaml",
			content: `
listen: ":9000"
backend: memory
start_timeout: 3s
redis:
  addr: localhost:6379
  db: 2
  lock: true
`,
		},
		{
			name:    "JSON",
			file:    "patchbay.json",
			content: `{"listen":":9000","backend":"memory","start_timeout":"3s","redis":{"addr":"localhost:6379","db":2,"lock":true}}`,
		},
		{
			name: "TOML",
			file: "patchbay.toml",
			content: `
listen = ":9000"
backend = "memory"
start_timeout = "3s"

[redis]
addr = "localhost:6379"
db = 2
lock = true
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			cfg, err := Load(path, false)
			require.NoError(t, err)

			assert.Equal(t, ":9000", cfg.Listen)
			assert.Equal(t, BackendMemory, cfg.Backend)
			assert.Equal(t, Duration(3*time.Second), cfg.StartTimeout)
			assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
			assert.Equal(t, 2, cfg.Redis.DB)
			assert.True(t, cfg.Redis.Lock)

			// Keys left out keep their defaults.
			assert.Equal(t, "info", cfg.LogLevel)
			assert.Equal(t, "patchbay:", cfg.Redis.Prefix)
			assert.Equal(t, Duration(30*time.Second), cfg.Redis.LockTTL)
			assert.Equal(t, filepath.Join(filepath.Dir(path), "state.toml"), cfg.State)
		})
	}
}

func TestLoad_RelativePaths(t *testing.T) {
	path := writeFile(t, "patchbay.yaml", "declaration: topo/main.toml\nstate: /var/lib/patchbay/state.toml\ncommands: commands.yaml\n")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "topo/main.toml"), cfg.Declaration)
	assert.Equal(t, "/var/lib/patchbay/state.toml", cfg.State)
	assert.Equal(t, filepath.Join(dir, "commands.yaml"), cfg.Commands)
}

func TestLoad_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(path, false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "Backend", content: "backend: pulse\n"},
		{name: "Timeout", content: "start_timeout: 0s\n"},
		{name: "Log Level", content: "log_level: loud\n"},
		{name: "Lock Without Redis", content: "redis:\n  lock: true\n"},
		{name: "Lock TTL", content: "redis:\n  addr: x:1\n  lock: true\n  lock_ttl: 0s\n"},
		{name: "Short Key", content: "encryption:\n  key: c2hvcnQ=\n"},
		{name: "Key Not Base64", content: "encryption:\n  key: '%%%'\n"},
		{name: "Fallback Without Key", content: "encryption:\n  fallback_keys: [c2hvcnQ=]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "patchbay.yaml", tt.content), false)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Load(writeFile(t, "patchbay.yaml", "start_timeout: soon\n"), false)
	assert.Error(t, err)
	_, err = Load(writeFile(t, "patchbay.yaml", "listen: [\n"), false)
	assert.Error(t, err)
}

func TestLoad_Encryption(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	old := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

	t.Setenv(EnvEncryptionKey, "")
	cfg, err := Load(writeFile(t, "patchbay.yaml", "encryption:\n  key: "+key+"\n  fallback_keys: ["+old+"]\n"), false)
	require.NoError(t, err)
	require.True(t, cfg.Encryption.Enabled())
	active, fallback, err := cfg.Encryption.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	require.Len(t, fallback, 1)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), fallback[0])

	t.Setenv(EnvEncryptionKey, old)
	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, old, cfg.Encryption.Key)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, Duration(90*time.Second), d)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}

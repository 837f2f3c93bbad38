package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/aretw0/patchbay/pkg/domain"
	"github.com/aretw0/patchbay/pkg/ports"
)

// EncryptedPrefix marks a configuration value sealed by the encryption middleware.
const EncryptedPrefix = "enc:v1:"

// DefaultSecretFields matches configuration keys that usually carry
// credentials, such as an Icecast source URL with a password in it.
var DefaultSecretFields = []string{`^stream_url$`, `(?i)pass(word)?`, `(?i)secret`, `(?i)token`}

// ErrInvalidKey is returned for keys that are not 32 bytes long.
var ErrInvalidKey = errors.New("encryption key must be 32 bytes (AES-256)")

// EncryptionConfig holds the keys and the fields to protect.
type EncryptionConfig struct {
	// ActiveKey seals new values.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot open a value,
	// so keys can be rotated without rewriting the saved topology first.
	FallbackKeys [][]byte

	// Fields are regular expressions matched against configuration keys.
	// Empty means DefaultSecretFields.
	Fields []string
}

type encryptionMiddleware struct {
	next   ports.DeclarationStore
	config EncryptionConfig
	fields []*regexp.Regexp
}

// NewEncryptionMiddleware seals the values of matching configuration keys with
// AES-GCM on Save and opens them on Load. Values without the prefix are read
// as they are, so encryption can be enabled on an existing state.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, ErrInvalidKey
	}
	for _, key := range config.FallbackKeys {
		if len(key) != 32 {
			return nil, fmt.Errorf("fallback key: %w", ErrInvalidKey)
		}
	}

	patterns := config.Fields
	if len(patterns) == 0 {
		patterns = DefaultSecretFields
	}
	fields := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid secret field pattern %q: %w", p, err)
		}
		fields = append(fields, re)
	}

	return func(next ports.DeclarationStore) ports.DeclarationStore {
		return &encryptionMiddleware{next: next, config: config, fields: fields}
	}, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, decl *domain.Declaration) error {
	sealed := decl.Clone()
	for _, id := range sealed.NodeIDs() {
		cfg := sealed.Nodes[id.Type][id.Instance]
		for key, value := range cfg {
			if value == "" || strings.HasPrefix(value, EncryptedPrefix) || !m.secret(key) {
				continue
			}
			ciphertext, err := encrypt([]byte(value), m.config.ActiveKey)
			if err != nil {
				return fmt.Errorf("failed to encrypt %s.%s: %w", id, key, err)
			}
			cfg[key] = EncryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext)
		}
	}
	return m.next.Save(ctx, sealed)
}

func (m *encryptionMiddleware) Load(ctx context.Context) (*domain.Declaration, error) {
	decl, err := m.next.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range decl.NodeIDs() {
		cfg := decl.Nodes[id.Type][id.Instance]
		for key, value := range cfg {
			encoded, ok := strings.CutPrefix(value, EncryptedPrefix)
			if !ok {
				continue
			}
			ciphertext, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s.%s: %w", id, key, err)
			}
			plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt %s.%s: %w", id, key, err)
			}
			cfg[key] = string(plain)
		}
	}
	return decl, nil
}

func (m *encryptionMiddleware) secret(key string) bool {
	for _, re := range m.fields {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

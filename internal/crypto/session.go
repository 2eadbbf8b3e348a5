package crypto

import (
	"encoding/base64"
	"os"

	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// SessionSealer encrypts secure storage entries with a 64 byte session key
// read from an environment variable on every call.
type SessionSealer struct {
	provider Provider
	envName  string
	lookup   func(string) (string, bool)
}

// NewSessionSealer creates a sealer reading the key from envName.
func NewSessionSealer(provider Provider, envName string) *SessionSealer {
	return &SessionSealer{
		provider: provider,
		envName:  envName,
		lookup:   os.LookupEnv,
	}
}

// NewStaticSessionSealer uses a fixed base64 session key.
func NewStaticSessionSealer(provider Provider, sessionKey string) *SessionSealer {
	return &SessionSealer{
		provider: provider,
		lookup:   func(string) (string, bool) { return sessionKey, sessionKey != "" },
	}
}

// GenerateSessionKey returns a new base64 session key.
func GenerateSessionKey(provider Provider) (string, error) {
	raw, err := provider.RandomBytes(2 * KeySize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (s *SessionSealer) sessionKey() (*SymmetricKey, error) {
	encoded, ok := s.lookup(s.envName)
	if !ok || encoded == "" {
		return nil, state.ErrNoSessionKey
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != 2*KeySize {
		return nil, state.ErrNoSessionKey
	}

	return NewSymmetricKey(raw)
}

// Seal encrypts plaintext with the session key.
func (s *SessionSealer) Seal(plaintext []byte) ([]byte, error) {
	key, err := s.sessionKey()
	if err != nil {
		return nil, err
	}

	enc, err := s.provider.Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}
	return []byte(enc), nil
}

// Open decrypts data sealed with the session key.
func (s *SessionSealer) Open(ciphertext []byte) ([]byte, error) {
	key, err := s.sessionKey()
	if err != nil {
		return nil, err
	}
	return s.provider.Decrypt(models.EncString(ciphertext), key)
}

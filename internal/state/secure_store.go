package state

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/events"
)

// ProtectedPrefix marks encrypted entries in the underlying store.
const ProtectedPrefix = "__PROTECTED__"

// Sealer encrypts values at rest. Implementations return ErrNoSessionKey
// when no key is available.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// SecureStore encrypts string values before handing them to an underlying
// store. Only strings are accepted.
type SecureStore struct {
	store  Store
	sealer Sealer
	logger *events.Logger
}

// NewSecureStore wraps store.
func NewSecureStore(store Store, sealer Sealer, logger *events.Logger) *SecureStore {
	return &SecureStore{
		store:  store,
		sealer: sealer,
		logger: logger.WithField("component", "secure_store"),
	}
}

// Get decrypts the value under key. A missing session key or a value that
// cannot be decrypted reads as absent.
func (s *SecureStore) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	var encoded string
	found, err := s.store.Get(ctx, ProtectedPrefix+key, &encoded)
	if err != nil || !found {
		return false, err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.logger.WithField("key", key).Warn("Protected value is not valid base64")
		return false, nil
	}

	plain, err := s.sealer.Open(sealed)
	if err != nil {
		if !errors.Is(err, ErrNoSessionKey) {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to decrypt protected value")
		}
		return false, nil
	}

	if out == nil {
		return true, nil
	}
	data, err := encode(string(plain))
	if err != nil {
		return false, err
	}
	return true, decode(data, out)
}

// Save encrypts and stores a string value.
func (s *SecureStore) Save(ctx context.Context, key string, value interface{}) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		return s.Remove(ctx, key)
	}

	str, ok := value.(string)
	if !ok {
		return ErrOnlyStrings
	}

	sealed, err := s.sealer.Seal([]byte(str))
	if err != nil {
		return err
	}

	return s.store.Save(ctx, ProtectedPrefix+key, base64.StdEncoding.EncodeToString(sealed))
}

// Remove deletes the protected entry.
func (s *SecureStore) Remove(ctx context.Context, key string) error {
	return s.store.Remove(ctx, ProtectedPrefix+key)
}

// Keys lists the protected keys without their prefix.
func (s *SecureStore) Keys(ctx context.Context) ([]string, error) {
	all, err := s.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, ProtectedPrefix) {
			keys = append(keys, strings.TrimPrefix(k, ProtectedPrefix))
		}
	}
	return keys, nil
}

// Close closes the underlying store.
func (s *SecureStore) Close() error {
	return s.store.Close()
}

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Store is the key/value persistence contract used by every vault service.
// Values are JSON encoded.
type Store interface {
	// Get decodes the value stored under key into out. It reports false
	// when the key is absent.
	Get(ctx context.Context, key string, out interface{}) (bool, error)

	// Save stores value under key. A nil value removes the key.
	Save(ctx context.Context, key string, value interface{}) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys returns all stored keys in sorted order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}

// Errors
var (
	ErrEmptyKey     = errors.New("state key is empty")
	ErrStateCorrupt = errors.New("state value is corrupt")
	ErrOnlyStrings  = errors.New("only strings can be stored in secure storage")
	ErrNoSessionKey = errors.New("no session key available")
)

// CurrentSchemaVersion of persisted values.
const CurrentSchemaVersion = 1

// GetString is a convenience for string values.
func GetString(ctx context.Context, s Store, key string) (string, error) {
	var v string
	if _, err := s.Get(ctx, key, &v); err != nil {
		return "", err
	}
	return v, nil
}

// Migrate copies every key of src into dst.
func Migrate(ctx context.Context, src, dst Store) (int, error) {
	keys, err := src.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}

	copied := 0
	for _, key := range keys {
		var raw json.RawMessage
		ok, err := src.Get(ctx, key, &raw)
		if err != nil {
			return copied, fmt.Errorf("read %s: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := dst.Save(ctx, key, raw); err != nil {
			return copied, fmt.Errorf("write %s: %w", key, err)
		}
		copied++
	}

	return copied, nil
}

func encode(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

func decode(data []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	return nil
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

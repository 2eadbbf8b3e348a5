package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

const (
	jsonExt   = ".json"
	backupExt = ".backup"
	tmpExt    = ".tmp"
)

// jsonEnvelope wraps each persisted value with integrity metadata.
type jsonEnvelope struct {
	SchemaVersion int             `json:"schema_version"`
	CreatedAt     time.Time       `json:"created_at"`
	Checksum      string          `json:"checksum,omitempty"`
	Value         json.RawMessage `json:"value"`
}

func (e jsonEnvelope) checksum() string {
	verification := jsonEnvelope{
		SchemaVersion: e.SchemaVersion,
		CreatedAt:     e.CreatedAt,
		Value:         e.Value,
	}
	data, _ := json.Marshal(verification)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JSONStore implements file-based storage, one JSON document per key.
type JSONStore struct {
	baseDir string
	logger  *events.Logger

	mu sync.RWMutex
}

// NewJSONStore creates a JSON file store rooted at baseDir.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		baseDir: baseDir,
		logger:  logger.WithField("component", "json_store"),
	}, nil
}

// Get reads and verifies the value stored under key.
func (s *JSONStore) Get(_ context.Context, key string, out interface{}) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.valuePath(key)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read state file: %w", err)
	}

	env, err := s.verify(key, data)
	if err != nil {
		backup, backupErr := s.loadBackup(key)
		if backupErr != nil {
			return false, err
		}
		s.logger.WithField("key", key).Warn("Loaded value from backup due to corruption")
		env = backup
	}

	if env.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithFields(map[string]interface{}{
			"key":     key,
			"version": env.SchemaVersion,
		}).Warn("State schema version mismatch")
	}

	return true, decode(env.Value, out)
}

// Save writes value atomically, keeping the previous file as a backup.
func (s *JSONStore) Save(ctx context.Context, key string, value interface{}) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if value == nil {
		return s.Remove(ctx, key)
	}

	raw, err := encode(value)
	if err != nil {
		return err
	}

	env := jsonEnvelope{
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Value:         raw,
	}
	env.Checksum = env.checksum()

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state with checksum: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.valuePath(key)

	s.logger.WithFields(map[string]interface{}{
		"key":   key,
		"bytes": len(raw),
	}).Debug("Saving value")

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+backupExt); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := path + tmpExt
	if err := writeSynced(tmpPath, data); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// writeSynced writes data to path and flushes it to disk.
func writeSynced(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync: %w", err)
	}
	return file.Close()
}

// Remove deletes the value and its backup.
func (s *JSONStore) Remove(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.valuePath(key)
	for _, p := range []string{path, path + backupExt} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove state file: %w", err)
		}
	}

	return nil
}

// Keys lists the stored keys.
func (s *JSONStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if filepath.Ext(name) != jsonExt {
			continue
		}

		key, err := url.PathUnescape(strings.TrimSuffix(name, jsonExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}

	sort.Strings(keys)
	return keys, nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

// Helper methods

func (s *JSONStore) valuePath(key string) string {
	return filepath.Join(s.baseDir, url.PathEscape(key)+jsonExt)
}

func (s *JSONStore) verify(key string, data []byte) (jsonEnvelope, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	if env.Checksum != "" {
		if calculated := env.checksum(); calculated != env.Checksum {
			s.logger.WithFields(map[string]interface{}{
				"key":      key,
				"expected": env.Checksum,
				"actual":   calculated,
			}).Error("State checksum mismatch")

			return env, fmt.Errorf("%w: %w", ErrStateCorrupt, &models.IntegrityError{
				Key:      key,
				Expected: env.Checksum,
				Actual:   calculated,
			})
		}
	}

	return env, nil
}

func (s *JSONStore) loadBackup(key string) (jsonEnvelope, error) {
	data, err := os.ReadFile(s.valuePath(key) + backupExt)
	if err != nil {
		return jsonEnvelope{}, err
	}
	return s.verify(key, data)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

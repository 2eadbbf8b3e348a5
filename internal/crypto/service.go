package crypto

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// Storage keys.
const (
	storageKeyKey        = "key"
	storageKeyHash       = "keyHash"
	storageKeyEncKey     = "encKey"
	storageKeyEncOrgKeys = "encOrgKeys"
)

// Service holds the key hierarchy of the signed-in user. The master key
// lives in memory and in secure storage, the key hash and the protected
// encryption and organization keys live in plain storage. Decrypted keys
// are cached until cleared.
type Service struct {
	provider      Provider
	storage       state.Store
	secureStorage state.Store
	logger        *events.Logger

	mu      sync.RWMutex
	key     *SymmetricKey
	keyHash string
	encKey  *SymmetricKey
	orgKeys map[string]*SymmetricKey
}

// NewService creates a crypto service.
func NewService(provider Provider, storage, secureStorage state.Store, logger *events.Logger) *Service {
	return &Service{
		provider:      provider,
		storage:       storage,
		secureStorage: secureStorage,
		logger:        logger.WithField("service", "crypto"),
	}
}

// Provider returns the primitives backing the service.
func (s *Service) Provider() Provider {
	return s.provider
}

// SetKey installs the master key.
func (s *Service) SetKey(ctx context.Context, key *SymmetricKey) error {
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()

	if err := s.secureStorage.Save(ctx, storageKeyKey, key.Base64()); err != nil {
		if errors.Is(err, state.ErrNoSessionKey) {
			s.logger.Debug("No session key, master key kept in memory only")
			return nil
		}
		return fmt.Errorf("store key: %w", err)
	}
	return nil
}

// GetKey returns the master key, or nil when the vault is locked.
func (s *Service) GetKey(ctx context.Context) (*SymmetricKey, error) {
	s.mu.RLock()
	key := s.key
	s.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	var encoded string
	found, err := s.secureStorage.Get(ctx, storageKeyKey, &encoded)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	if !found || encoded == "" {
		return nil, nil
	}

	key, err = SymmetricKeyFromBase64(encoded)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.key = key
	s.mu.Unlock()
	return key, nil
}

// HasKey reports whether the master key is available.
func (s *Service) HasKey(ctx context.Context) bool {
	key, err := s.GetKey(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read key")
		return false
	}
	return key != nil
}

// ClearKey wipes the master key from memory and secure storage.
func (s *Service) ClearKey(ctx context.Context) error {
	s.mu.Lock()
	s.key.Wipe()
	s.key = nil
	s.mu.Unlock()

	return s.secureStorage.Remove(ctx, storageKeyKey)
}

// SetKeyHash stores the local password hash used to verify unlocks.
func (s *Service) SetKeyHash(ctx context.Context, hash string) error {
	s.mu.Lock()
	s.keyHash = hash
	s.mu.Unlock()

	return s.storage.Save(ctx, storageKeyHash, hash)
}

// GetKeyHash returns the stored password hash, or "".
func (s *Service) GetKeyHash(ctx context.Context) (string, error) {
	s.mu.RLock()
	hash := s.keyHash
	s.mu.RUnlock()
	if hash != "" {
		return hash, nil
	}

	hash, err := state.GetString(ctx, s.storage, storageKeyHash)
	if err != nil {
		return "", fmt.Errorf("read key hash: %w", err)
	}

	s.mu.Lock()
	s.keyHash = hash
	s.mu.Unlock()
	return hash, nil
}

// ClearKeyHash forgets the password hash.
func (s *Service) ClearKeyHash(ctx context.Context) error {
	s.mu.Lock()
	s.keyHash = ""
	s.mu.Unlock()

	return s.storage.Remove(ctx, storageKeyHash)
}

// SetEncKey stores the protected encryption key.
func (s *Service) SetEncKey(ctx context.Context, enc models.EncString) error {
	if enc.IsEmpty() {
		return nil
	}

	if err := s.storage.Save(ctx, storageKeyEncKey, enc); err != nil {
		return fmt.Errorf("store encryption key: %w", err)
	}

	s.mu.Lock()
	s.encKey = nil
	s.mu.Unlock()
	return nil
}

// GetEncKey decrypts the encryption key with the master key.
func (s *Service) GetEncKey(ctx context.Context) (*SymmetricKey, error) {
	s.mu.RLock()
	cached := s.encKey
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	key, err := s.GetKey(ctx)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrKeyUnavailable
	}

	var enc models.EncString
	found, err := s.storage.Get(ctx, storageKeyEncKey, &enc)
	if err != nil {
		return nil, fmt.Errorf("read encryption key: %w", err)
	}
	if !found || enc.IsEmpty() {
		return nil, ErrKeyUnavailable
	}

	encKey, err := s.provider.UnprotectKey(enc, key)
	if err != nil {
		return nil, fmt.Errorf("decrypt encryption key: %w", err)
	}

	s.mu.Lock()
	s.encKey = encKey
	s.mu.Unlock()
	return encKey, nil
}

// ClearEncKey drops the decrypted encryption key, and the stored copy
// unless memoryOnly.
func (s *Service) ClearEncKey(ctx context.Context, memoryOnly bool) error {
	s.mu.Lock()
	s.encKey.Wipe()
	s.encKey = nil
	s.mu.Unlock()

	if memoryOnly {
		return nil
	}
	return s.storage.Remove(ctx, storageKeyEncKey)
}

// SetOrgKeys stores the protected keys of the given organizations.
// Organizations without a key are skipped.
func (s *Service) SetOrgKeys(ctx context.Context, orgs []models.Organization) error {
	protected := make(map[string]models.EncString, len(orgs))
	for _, org := range orgs {
		if org.Key.IsEmpty() {
			continue
		}
		protected[org.ID] = org.Key
	}

	s.mu.Lock()
	s.orgKeys = nil
	s.mu.Unlock()

	return s.storage.Save(ctx, storageKeyEncOrgKeys, protected)
}

// GetOrgKeys decrypts all organization keys.
func (s *Service) GetOrgKeys(ctx context.Context) (map[string]*SymmetricKey, error) {
	s.mu.RLock()
	cached := s.orgKeys
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	var protected map[string]models.EncString
	if _, err := s.storage.Get(ctx, storageKeyEncOrgKeys, &protected); err != nil {
		return nil, fmt.Errorf("read organization keys: %w", err)
	}

	keys := make(map[string]*SymmetricKey, len(protected))
	if len(protected) > 0 {
		encKey, err := s.GetEncKey(ctx)
		if err != nil {
			return nil, err
		}
		for orgID, enc := range protected {
			key, err := s.provider.UnprotectKey(enc, encKey)
			if err != nil {
				return nil, fmt.Errorf("decrypt organization %s key: %w", orgID, err)
			}
			keys[orgID] = key
		}
	}

	s.mu.Lock()
	s.orgKeys = keys
	s.mu.Unlock()
	return keys, nil
}

// GetOrgKey returns the key of one organization, or the encryption key
// when orgID is empty.
func (s *Service) GetOrgKey(ctx context.Context, orgID string) (*SymmetricKey, error) {
	if orgID == "" {
		return s.GetEncKey(ctx)
	}

	keys, err := s.GetOrgKeys(ctx)
	if err != nil {
		return nil, err
	}

	key, ok := keys[orgID]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", orgID, ErrKeyUnavailable)
	}
	return key, nil
}

// ClearOrgKeys drops the decrypted organization keys, and the stored copies
// unless memoryOnly.
func (s *Service) ClearOrgKeys(ctx context.Context, memoryOnly bool) error {
	s.mu.Lock()
	for _, key := range s.orgKeys {
		key.Wipe()
	}
	s.orgKeys = nil
	s.mu.Unlock()

	if memoryOnly {
		return nil
	}
	return s.storage.Remove(ctx, storageKeyEncOrgKeys)
}

// ClearKeys forgets the whole key hierarchy.
func (s *Service) ClearKeys(ctx context.Context) error {
	return errors.Join(
		s.ClearKey(ctx),
		s.ClearKeyHash(ctx),
		s.ClearOrgKeys(ctx, false),
		s.ClearEncKey(ctx, false),
	)
}

// MakeKey derives a master key.
func (s *Service) MakeKey(password, email string, kdf models.KdfType, iterations int) (*SymmetricKey, error) {
	return s.provider.MakeKey(password, email, kdf, iterations)
}

// HashPassword derives the password hash for key.
func (s *Service) HashPassword(password string, key *SymmetricKey) (string, error) {
	return s.provider.HashPassword(password, key)
}

// MakeEncKey creates a fresh encryption key protected by key.
func (s *Service) MakeEncKey(key *SymmetricKey) (*SymmetricKey, models.EncString, error) {
	return s.provider.MakeEncKey(key)
}

// RemakeEncKey re-protects the current encryption key under a new master
// key. Vault items stay untouched.
func (s *Service) RemakeEncKey(ctx context.Context, newKey *SymmetricKey) (models.EncString, error) {
	encKey, err := s.GetEncKey(ctx)
	if err != nil {
		return "", err
	}
	return s.provider.ProtectKey(encKey, newKey)
}

// EncryptString seals plain.
func (s *Service) EncryptString(ctx context.Context, plain string, key *SymmetricKey) (models.EncString, error) {
	if plain == "" {
		return "", nil
	}

	if key == nil {
		var err error
		if key, err = s.GetEncKey(ctx); err != nil {
			return "", err
		}
	}

	return s.provider.Encrypt([]byte(plain), key)
}

// DecryptString opens enc.
func (s *Service) DecryptString(ctx context.Context, enc models.EncString, key *SymmetricKey) (string, error) {
	if enc.IsEmpty() {
		return "", nil
	}

	if key == nil {
		var err error
		if key, err = s.GetEncKey(ctx); err != nil {
			return "", err
		}
	}

	plain, err := s.provider.Decrypt(enc, key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

package folder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// KeyFoldersPrefix is the per-user storage key prefix.
const KeyFoldersPrefix = "folders_"

// UserIDSource exposes the signed-in account id.
type UserIDSource interface {
	GetUserID(ctx context.Context) (string, error)
}

// Translator names the "no folder" pseudo-folder.
type Translator interface {
	T(id string, args ...interface{}) string
}

// Service caches encrypted folders and their decrypted names.
type Service struct {
	codec   crypto.Codec
	users   UserIDSource
	i18n    Translator
	storage state.Store
	logger  *events.Logger

	mu        sync.RWMutex
	decrypted []models.FolderView
}

// NewService creates a folder service.
func NewService(codec crypto.Codec, users UserIDSource, i18n Translator, storage state.Store, logger *events.Logger) *Service {
	return &Service{
		codec:   codec,
		users:   users,
		i18n:    i18n,
		storage: storage,
		logger:  logger.WithField("service", "folder"),
	}
}

func (s *Service) key(ctx context.Context) (string, error) {
	id, err := s.users.GetUserID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", models.ErrNotAuthenticated
	}
	return KeyFoldersPrefix + id, nil
}

func (s *Service) load(ctx context.Context) (map[string]models.Folder, string, error) {
	key, err := s.key(ctx)
	if err != nil {
		return nil, "", err
	}
	folders := make(map[string]models.Folder)
	if _, err := s.storage.Get(ctx, key, &folders); err != nil {
		return nil, "", fmt.Errorf("read folders: %w", err)
	}
	return folders, key, nil
}

// ClearCache drops the decrypted folders.
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.decrypted = nil
	s.mu.Unlock()
}

// GetAll returns every encrypted folder ordered by id.
func (s *Service) GetAll(ctx context.Context) ([]models.Folder, error) {
	folders, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Folder, 0, len(folders))
	for _, f := range folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAllDecrypted returns the folders sorted by name, followed by the
// "no folder" entry.
func (s *Service) GetAllDecrypted(ctx context.Context) ([]models.FolderView, error) {
	s.mu.RLock()
	cached := s.decrypted
	s.mu.RUnlock()
	if cached != nil {
		return append([]models.FolderView(nil), cached...), nil
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]models.FolderView, 0, len(all)+1)
	for _, f := range all {
		name, err := s.codec.DecryptString(ctx, f.Name, nil)
		if err != nil {
			return nil, &models.DecryptError{Field: "folder.name", Reason: f.ID, Err: err}
		}
		views = append(views, models.FolderView{ID: f.ID, Name: name})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return strings.ToLower(views[i].Name) < strings.ToLower(views[j].Name)
	})
	views = append(views, models.FolderView{Name: s.i18n.T("noneFolder")})

	s.mu.Lock()
	s.decrypted = views
	s.mu.Unlock()
	return append([]models.FolderView(nil), views...), nil
}

// Encrypt seals a folder name with the encryption key.
func (s *Service) Encrypt(ctx context.Context, view models.FolderView) (*models.Folder, error) {
	name, err := s.codec.EncryptString(ctx, view.Name, nil)
	if err != nil {
		return nil, err
	}
	return &models.Folder{ID: view.ID, Name: name}, nil
}

// Upsert adds or replaces folders.
func (s *Service) Upsert(ctx context.Context, folders ...models.Folder) error {
	current, key, err := s.load(ctx)
	if err != nil {
		return err
	}
	for _, f := range folders {
		current[f.ID] = f
	}
	if err := s.storage.Save(ctx, key, current); err != nil {
		return fmt.Errorf("store folders: %w", err)
	}
	s.ClearCache()
	return nil
}

// Replace swaps all folders.
func (s *Service) Replace(ctx context.Context, folders []models.Folder) error {
	key, err := s.key(ctx)
	if err != nil {
		return err
	}
	all := make(map[string]models.Folder, len(folders))
	for _, f := range folders {
		all[f.ID] = f
	}
	if err := s.storage.Save(ctx, key, all); err != nil {
		return fmt.Errorf("store folders: %w", err)
	}
	s.ClearCache()
	return nil
}

// Delete removes folders.
func (s *Service) Delete(ctx context.Context, ids ...string) error {
	current, key, err := s.load(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(current, id)
	}
	if err := s.storage.Save(ctx, key, current); err != nil {
		return fmt.Errorf("store folders: %w", err)
	}
	s.ClearCache()
	return nil
}

// Clear drops the folders of a user.
func (s *Service) Clear(ctx context.Context, userID string) error {
	s.ClearCache()
	if userID == "" {
		return nil
	}
	return s.storage.Remove(ctx, KeyFoldersPrefix+userID)
}

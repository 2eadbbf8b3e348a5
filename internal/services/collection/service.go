package collection

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

// KeyCollectionsPrefix is the per-user storage key prefix.
const KeyCollectionsPrefix = "collections_"

// UserIDSource exposes the signed-in account id.
type UserIDSource interface {
	GetUserID(ctx context.Context) (string, error)
}

// Service caches organization collections. Names are encrypted with the
// key of the owning organization.
type Service struct {
	codec   crypto.Codec
	users   UserIDSource
	storage state.Store
	logger  *events.Logger

	mu        sync.RWMutex
	decrypted []models.CollectionView
}

// NewService creates a collection service.
func NewService(codec crypto.Codec, users UserIDSource, storage state.Store, logger *events.Logger) *Service {
	return &Service{
		codec:   codec,
		users:   users,
		storage: storage,
		logger:  logger.WithField("service", "collection"),
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
	return KeyCollectionsPrefix + id, nil
}

// ClearCache drops the decrypted collections.
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.decrypted = nil
	s.mu.Unlock()
}

// GetAll returns every encrypted collection ordered by id.
func (s *Service) GetAll(ctx context.Context) ([]models.Collection, error) {
	key, err := s.key(ctx)
	if err != nil {
		return nil, err
	}

	collections := make(map[string]models.Collection)
	if _, err := s.storage.Get(ctx, key, &collections); err != nil {
		return nil, fmt.Errorf("read collections: %w", err)
	}

	out := make([]models.Collection, 0, len(collections))
	for _, c := range collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAllForOrganization returns the encrypted collections of one
// organization.
func (s *Service) GetAllForOrganization(ctx context.Context, orgID string) ([]models.Collection, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Collection
	for _, c := range all {
		if c.OrganizationID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetAllDecrypted returns the collections sorted by name. Collections of
// organizations whose key is unknown are skipped.
func (s *Service) GetAllDecrypted(ctx context.Context) ([]models.CollectionView, error) {
	s.mu.RLock()
	cached := s.decrypted
	s.mu.RUnlock()
	if cached != nil {
		return append([]models.CollectionView(nil), cached...), nil
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]models.CollectionView, 0, len(all))
	for _, c := range all {
		key, err := s.codec.GetOrgKey(ctx, c.OrganizationID)
		if err != nil {
			s.logger.WithError(err).WithField("collection_id", c.ID).Warn("Skipping collection without organization key")
			continue
		}
		name, err := s.codec.DecryptString(ctx, c.Name, key)
		if err != nil {
			return nil, &models.DecryptError{Field: "collection.name", Reason: c.ID, Err: err}
		}
		views = append(views, models.CollectionView{
			ID:             c.ID,
			OrganizationID: c.OrganizationID,
			Name:           name,
			ReadOnly:       c.ReadOnly,
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return strings.ToLower(views[i].Name) < strings.ToLower(views[j].Name)
	})

	s.mu.Lock()
	s.decrypted = views
	s.mu.Unlock()
	return append([]models.CollectionView(nil), views...), nil
}

// Replace swaps all collections.
func (s *Service) Replace(ctx context.Context, collections []models.Collection) error {
	key, err := s.key(ctx)
	if err != nil {
		return err
	}
	all := make(map[string]models.Collection, len(collections))
	for _, c := range collections {
		all[c.ID] = c
	}
	if err := s.storage.Save(ctx, key, all); err != nil {
		return fmt.Errorf("store collections: %w", err)
	}
	s.ClearCache()
	return nil
}

// Clear drops the collections of a user.
func (s *Service) Clear(ctx context.Context, userID string) error {
	s.ClearCache()
	if userID == "" {
		return nil
	}
	return s.storage.Remove(ctx, KeyCollectionsPrefix+userID)
}

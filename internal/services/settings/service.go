package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// KeySettingsPrefix is the per-user storage key prefix.
const KeySettingsPrefix = "settings_"

// UserIDSource exposes the signed-in account id.
type UserIDSource interface {
	GetUserID(ctx context.Context) (string, error)
}

// Settings is the per-account settings document.
type Settings struct {
	EquivalentDomains [][]string `json:"equivalentDomains,omitempty"`
}

// Service stores per-account settings delivered by sync.
type Service struct {
	users   UserIDSource
	storage state.Store
	logger  *events.Logger

	mu    sync.RWMutex
	cache *Settings
}

// NewService creates a settings service.
func NewService(users UserIDSource, storage state.Store, logger *events.Logger) *Service {
	return &Service{
		users:   users,
		storage: storage,
		logger:  logger.WithField("service", "settings"),
	}
}

func (s *Service) key(ctx context.Context) (string, error) {
	id, err := s.users.GetUserID(ctx)
	if err != nil {
		return "", err
	}
	return KeySettingsPrefix + id, nil
}

// GetEquivalentDomains returns the domain groups treated as one site.
func (s *Service) GetEquivalentDomains(ctx context.Context) ([][]string, error) {
	settings, err := s.get(ctx)
	if err != nil {
		return nil, err
	}
	return settings.EquivalentDomains, nil
}

// SetEquivalentDomains replaces the domain groups.
func (s *Service) SetEquivalentDomains(ctx context.Context, domains [][]string) error {
	key, err := s.key(ctx)
	if err != nil {
		return err
	}

	settings := &Settings{EquivalentDomains: domains}
	if err := s.storage.Save(ctx, key, settings); err != nil {
		return fmt.Errorf("store settings: %w", err)
	}

	s.mu.Lock()
	s.cache = settings
	s.mu.Unlock()
	return nil
}

// EquivalentHosts returns every domain grouped with host, host included.
func (s *Service) EquivalentHosts(ctx context.Context, host string) ([]string, error) {
	groups, err := s.GetEquivalentDomains(ctx)
	if err != nil {
		return nil, err
	}

	out := []string{host}
	for _, group := range groups {
		for _, d := range group {
			if d != host {
				continue
			}
			for _, other := range group {
				if other != host {
					out = append(out, other)
				}
			}
			break
		}
	}
	return out, nil
}

// Clear forgets the settings.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()

	key, err := s.key(ctx)
	if err != nil {
		return err
	}
	return s.storage.Remove(ctx, key)
}

func (s *Service) get(ctx context.Context) (*Settings, error) {
	s.mu.RLock()
	cached := s.cache
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	key, err := s.key(ctx)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if _, err := s.storage.Get(ctx, key, settings); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	s.mu.Lock()
	s.cache = settings
	s.mu.Unlock()
	return settings, nil
}

package appid

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// Storage keys.
const (
	KeyAppID          = "appId"
	KeyAnonymousAppID = "anonymousAppId"
)

// Service hands out stable installation identifiers.
type Service struct {
	storage state.Store
}

// NewService creates an app id service.
func NewService(storage state.Store) *Service {
	return &Service{storage: storage}
}

// GetAppID returns the device identifier, creating it on first use.
func (s *Service) GetAppID(ctx context.Context) (string, error) {
	return s.makeAndGet(ctx, KeyAppID)
}

// GetAnonymousAppID returns the anonymous identifier, creating it on first
// use.
func (s *Service) GetAnonymousAppID(ctx context.Context) (string, error) {
	return s.makeAndGet(ctx, KeyAnonymousAppID)
}

func (s *Service) makeAndGet(ctx context.Context, key string) (string, error) {
	id, err := state.GetString(ctx, s.storage, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.storage.Save(ctx, key, id); err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	return id, nil
}

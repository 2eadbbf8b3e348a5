package user

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
	KeyUserID              = "userId"
	KeyUserEmail           = "userEmail"
	KeySecurityStamp       = "securityStamp"
	KeyKdf                 = "kdf"
	KeyKdfIterations       = "kdfIterations"
	KeyOrganizationsPrefix = "organizations_"
)

// TokenReader exposes the current access token.
type TokenReader interface {
	GetToken(ctx context.Context) (string, error)
}

// Service holds the identity of the signed-in account.
type Service struct {
	tokens  TokenReader
	storage state.Store
	logger  *events.Logger

	mu     sync.RWMutex
	userID string
	email  string
}

// NewService creates a user service.
func NewService(tokens TokenReader, storage state.Store, logger *events.Logger) *Service {
	return &Service{
		tokens:  tokens,
		storage: storage,
		logger:  logger.WithField("service", "user"),
	}
}

// SetInformation records the account after login.
func (s *Service) SetInformation(ctx context.Context, userID, email string, kdf models.KdfConfig) error {
	s.mu.Lock()
	s.userID = userID
	s.email = email
	s.mu.Unlock()

	return errors.Join(
		s.storage.Save(ctx, KeyUserID, userID),
		s.storage.Save(ctx, KeyUserEmail, email),
		s.SetKdf(ctx, kdf),
	)
}

// SetKdf records the KDF parameters of the account.
func (s *Service) SetKdf(ctx context.Context, kdf models.KdfConfig) error {
	return errors.Join(
		s.storage.Save(ctx, KeyKdf, kdf.Kdf),
		s.storage.Save(ctx, KeyKdfIterations, kdf.Iterations),
	)
}

// GetKdf returns the KDF parameters. It reports false when none are stored.
func (s *Service) GetKdf(ctx context.Context) (models.KdfConfig, bool, error) {
	var cfg models.KdfConfig

	found, err := s.storage.Get(ctx, KeyKdf, &cfg.Kdf)
	if err != nil || !found {
		return cfg, false, err
	}

	found, err = s.storage.Get(ctx, KeyKdfIterations, &cfg.Iterations)
	if err != nil || !found {
		return cfg, false, err
	}

	return cfg, true, nil
}

// SetSecurityStamp records the account security stamp.
func (s *Service) SetSecurityStamp(ctx context.Context, stamp string) error {
	return s.storage.Save(ctx, KeySecurityStamp, stamp)
}

// GetSecurityStamp returns the account security stamp.
func (s *Service) GetSecurityStamp(ctx context.Context) (string, error) {
	return state.GetString(ctx, s.storage, KeySecurityStamp)
}

// GetUserID returns the account id, or "".
func (s *Service) GetUserID(ctx context.Context) (string, error) {
	s.mu.RLock()
	id := s.userID
	s.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	id, err := state.GetString(ctx, s.storage, KeyUserID)
	if err != nil {
		return "", fmt.Errorf("read user id: %w", err)
	}

	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
	return id, nil
}

// GetEmail returns the account email, or "".
func (s *Service) GetEmail(ctx context.Context) (string, error) {
	s.mu.RLock()
	email := s.email
	s.mu.RUnlock()
	if email != "" {
		return email, nil
	}

	email, err := state.GetString(ctx, s.storage, KeyUserEmail)
	if err != nil {
		return "", fmt.Errorf("read user email: %w", err)
	}

	s.mu.Lock()
	s.email = email
	s.mu.Unlock()
	return email, nil
}

// IsAuthenticated reports whether a token and a user id are present.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	token, err := s.tokens.GetToken(ctx)
	if err != nil || token == "" {
		return false
	}

	id, err := s.GetUserID(ctx)
	return err == nil && id != ""
}

// ReplaceOrganizations stores the organization memberships.
func (s *Service) ReplaceOrganizations(ctx context.Context, orgs []models.Organization) error {
	userID, err := s.GetUserID(ctx)
	if err != nil {
		return err
	}
	return s.storage.Save(ctx, KeyOrganizationsPrefix+userID, orgs)
}

// GetAllOrganizations returns the organization memberships.
func (s *Service) GetAllOrganizations(ctx context.Context) ([]models.Organization, error) {
	userID, err := s.GetUserID(ctx)
	if err != nil {
		return nil, err
	}

	var orgs []models.Organization
	if _, err := s.storage.Get(ctx, KeyOrganizationsPrefix+userID, &orgs); err != nil {
		return nil, fmt.Errorf("read organizations: %w", err)
	}
	return orgs, nil
}

// GetOrganization returns one membership, or nil.
func (s *Service) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	orgs, err := s.GetAllOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orgs {
		if orgs[i].ID == id {
			return &orgs[i], nil
		}
	}
	return nil, nil
}

// Clear forgets the account.
func (s *Service) Clear(ctx context.Context) error {
	userID, _ := s.GetUserID(ctx)

	s.mu.Lock()
	s.userID = ""
	s.email = ""
	s.mu.Unlock()

	return errors.Join(
		s.storage.Remove(ctx, KeyUserID),
		s.storage.Remove(ctx, KeyUserEmail),
		s.storage.Remove(ctx, KeySecurityStamp),
		s.storage.Remove(ctx, KeyKdf),
		s.storage.Remove(ctx, KeyKdfIterations),
		s.storage.Remove(ctx, KeyOrganizationsPrefix+userID),
	)
}

package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// Storage keys.
const (
	KeyAccessToken          = "accessToken"
	KeyRefreshToken         = "refreshToken"
	KeyTwoFactorTokenPrefix = "twoFactorToken_"
)

// RefreshMargin is how long before expiry a token counts as expired.
const RefreshMargin = 5 * time.Minute

// ErrMalformedToken is returned for tokens that are not JWTs.
var ErrMalformedToken = errors.New("malformed access token")

// Service stores the session tokens and decodes access token claims.
type Service struct {
	storage state.Store
	logger  *events.Logger

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	decoded      *models.TokenInfo
}

// NewService creates a token service.
func NewService(storage state.Store, logger *events.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger.WithField("service", "token"),
	}
}

// SetTokens stores both tokens.
func (s *Service) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.SetToken(ctx, accessToken); err != nil {
		return err
	}
	return s.SetRefreshToken(ctx, refreshToken)
}

// SetToken stores the access token.
func (s *Service) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.accessToken = token
	s.decoded = nil
	s.mu.Unlock()

	return s.storage.Save(ctx, KeyAccessToken, token)
}

// GetToken returns the access token, or "".
func (s *Service) GetToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.accessToken
	s.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	token, err := state.GetString(ctx, s.storage, KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}

	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
	return token, nil
}

// SetRefreshToken stores the refresh token.
func (s *Service) SetRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	s.refreshToken = token
	s.mu.Unlock()

	return s.storage.Save(ctx, KeyRefreshToken, token)
}

// GetRefreshToken returns the refresh token, or "".
func (s *Service) GetRefreshToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.refreshToken
	s.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	token, err := state.GetString(ctx, s.storage, KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}

	s.mu.Lock()
	s.refreshToken = token
	s.mu.Unlock()
	return token, nil
}

// SetTwoFactorToken remembers a second factor for email.
func (s *Service) SetTwoFactorToken(ctx context.Context, token, email string) error {
	return s.storage.Save(ctx, KeyTwoFactorTokenPrefix+strings.ToLower(email), token)
}

// GetTwoFactorToken returns the remembered second factor for email.
func (s *Service) GetTwoFactorToken(ctx context.Context, email string) (string, error) {
	return state.GetString(ctx, s.storage, KeyTwoFactorTokenPrefix+strings.ToLower(email))
}

// ClearTwoFactorToken forgets the remembered second factor for email.
func (s *Service) ClearTwoFactorToken(ctx context.Context, email string) error {
	return s.storage.Remove(ctx, KeyTwoFactorTokenPrefix+strings.ToLower(email))
}

// ClearToken forgets both tokens.
func (s *Service) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.decoded = nil
	s.mu.Unlock()

	return errors.Join(
		s.storage.Remove(ctx, KeyAccessToken),
		s.storage.Remove(ctx, KeyRefreshToken),
	)
}

// DecodeToken returns the claims of the stored access token.
func (s *Service) DecodeToken(ctx context.Context) (*models.TokenInfo, error) {
	s.mu.RLock()
	decoded := s.decoded
	s.mu.RUnlock()
	if decoded != nil {
		return decoded, nil
	}

	token, err := s.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, models.ErrNotAuthenticated
	}

	decoded, err = Decode(token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.decoded = decoded
	s.mu.Unlock()
	return decoded, nil
}

// IsTokenExpired reports whether the access token is missing, undecodable
// or within RefreshMargin of its expiry.
func (s *Service) IsTokenExpired(ctx context.Context) bool {
	info, err := s.DecodeToken(ctx)
	if err != nil {
		return true
	}
	if info.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(RefreshMargin).After(info.ExpiresAt)
}

// GetUserID returns the subject of the access token.
func (s *Service) GetUserID(ctx context.Context) (string, error) {
	info, err := s.DecodeToken(ctx)
	if err != nil {
		return "", err
	}
	return info.UserID, nil
}

// GetEmail returns the email claim of the access token.
func (s *Service) GetEmail(ctx context.Context) (string, error) {
	info, err := s.DecodeToken(ctx)
	if err != nil {
		return "", err
	}
	return info.Email, nil
}

// GetPremium returns the premium claim of the access token.
func (s *Service) GetPremium(ctx context.Context) bool {
	info, err := s.DecodeToken(ctx)
	if err != nil {
		return false
	}
	return info.Premium
}

// Decode reads the claims of a JWT without verifying its signature. The
// server verifies tokens, the client only needs their content.
func Decode(token string) (*models.TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	getString := func(k string) string {
		if v, ok := claims[k].(string); ok {
			return v
		}
		return ""
	}
	getBool := func(k string) bool {
		switch v := claims[k].(type) {
		case bool:
			return v
		case string:
			return strings.EqualFold(v, "true")
		default:
			return false
		}
	}

	info := &models.TokenInfo{
		UserID:  getString("sub"),
		Email:   getString("email"),
		Name:    getString("name"),
		Premium: getBool("premium"),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}

	return info, nil
}

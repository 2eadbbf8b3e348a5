package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/creds"
	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/appid"
	"github.com/TheMichaelB/vaultkeys/internal/services/token"
	"github.com/TheMichaelB/vaultkeys/internal/services/totp"
	"github.com/TheMichaelB/vaultkeys/internal/services/user"
)

// DeviceName is reported to the identity server.
const DeviceName = "vaultkeys"

// Service signs the user in and out.
type Service struct {
	crypto *crypto.Service
	api    *api.Service
	tokens *token.Service
	users  *user.Service
	appID  *appid.Service
	totp   totp.Service
	logger *events.Logger

	// Combined credentials (optional)
	creds *creds.Combined
}

// NewService creates an auth service.
func NewService(
	cryptoService *crypto.Service,
	apiService *api.Service,
	tokens *token.Service,
	users *user.Service,
	appID *appid.Service,
	totpService totp.Service,
	logger *events.Logger,
) *Service {
	return &Service{
		crypto: cryptoService,
		api:    apiService,
		tokens: tokens,
		users:  users,
		appID:  appID,
		totp:   totpService,
		logger: logger.WithField("service", "auth"),
	}
}

// SetCredentials installs stored credentials. Their TOTP secret answers
// two-factor challenges.
func (s *Service) SetCredentials(c *creds.Combined) {
	s.creds = c
}

func (s *Service) totpSecret() string {
	if s.creds == nil {
		return ""
	}
	return s.creds.Auth.TOTPSecret
}

// LogIn derives the master key from password, exchanges its hash for
// tokens and installs the key hierarchy. Server rejections are returned
// as *models.APIError.
func (s *Service) LogIn(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return fmt.Errorf("email and password required")
	}

	log := s.logger.WithField("email", email)
	log.Info("Logging in")

	prelogin, err := s.api.PostPrelogin(ctx, api.PreloginRequest{Email: email})
	if err != nil {
		return err
	}
	kdf := models.KdfConfig{Kdf: prelogin.Kdf, Iterations: prelogin.KdfIterations}

	key, err := s.crypto.MakeKey(password, email, kdf.Kdf, kdf.Iterations)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}
	hash, err := s.crypto.HashPassword(password, key)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	device, err := s.appID.GetAppID(ctx)
	if err != nil {
		return fmt.Errorf("read app id: %w", err)
	}

	req := api.TokenRequest{
		Email:              email,
		MasterPasswordHash: hash,
		DeviceIdentifier:   device,
		DeviceName:         DeviceName,
	}

	remembered, err := s.tokens.GetTwoFactorToken(ctx, email)
	if err != nil {
		log.WithError(err).Warn("Failed to read remembered two-factor token")
	}
	if remembered != "" {
		req.TwoFactorToken = remembered
		req.TwoFactorProvider = models.TwoFactorRemember
	}

	resp, err := s.api.PostIdentityToken(ctx, req)
	if err != nil {
		resp, err = s.answerTwoFactor(ctx, req, err)
		if err != nil {
			return err
		}
	}

	if resp.TwoFactorToken != "" {
		if err := s.tokens.SetTwoFactorToken(ctx, resp.TwoFactorToken, email); err != nil {
			log.WithError(err).Warn("Failed to remember two-factor token")
		}
	}

	info, err := s.tokens.DecodeToken(ctx)
	if err != nil {
		return fmt.Errorf("decode access token: %w", err)
	}

	if err := s.users.SetInformation(ctx, info.UserID, email, kdf); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	if err := s.crypto.SetKey(ctx, key); err != nil {
		return err
	}
	if err := s.crypto.SetKeyHash(ctx, hash); err != nil {
		return err
	}
	if err := s.crypto.SetEncKey(ctx, resp.Key); err != nil {
		return err
	}

	log.WithField("user_id", info.UserID).Info("Login successful")
	return nil
}

// answerTwoFactor retries a token request the server refused for lack of
// a second factor. A stale remembered token is dropped first.
func (s *Service) answerTwoFactor(ctx context.Context, req api.TokenRequest, cause error) (*api.IdentityTokenResponse, error) {
	var apiErr *models.APIError
	if !errors.As(cause, &apiErr) {
		return nil, cause
	}

	if req.TwoFactorProvider == models.TwoFactorRemember && req.TwoFactorToken != "" {
		s.logger.Debug("Remembered two-factor token rejected")
		_ = s.tokens.ClearTwoFactorToken(ctx, req.Email)
		req.TwoFactorToken = ""
		req.TwoFactorProvider = 0

		if apiErr.IsTwoFactorRequired() || apiErr.IsInvalidCredentials() {
			resp, err := s.api.PostIdentityToken(ctx, req)
			if err == nil {
				return resp, nil
			}
			if !errors.As(err, &apiErr) {
				return nil, err
			}
			cause = err
		}
	}

	secret := s.totpSecret()
	if !apiErr.IsTwoFactorRequired() || secret == "" {
		return nil, cause
	}

	code, err := s.totp.GenerateCode(secret)
	if err != nil {
		return nil, fmt.Errorf("generate TOTP code: %w", err)
	}
	s.logger.WithField("email", req.Email).Info("Logging in with TOTP")

	req.TwoFactorToken = code
	req.TwoFactorProvider = models.TwoFactorAuthenticator
	req.TwoFactorRemember = true
	return s.api.PostIdentityToken(ctx, req)
}

// LogOut forgets tokens, the account and the key hierarchy. Remembered
// two-factor tokens survive.
func (s *Service) LogOut(ctx context.Context) error {
	s.logger.Info("Logging out")

	return errors.Join(
		s.tokens.ClearToken(ctx),
		s.users.Clear(ctx),
		s.crypto.ClearKeys(ctx),
	)
}

// EnsureAuthenticated refreshes an expired access token.
func (s *Service) EnsureAuthenticated(ctx context.Context) error {
	if !s.users.IsAuthenticated(ctx) {
		return models.ErrNotAuthenticated
	}
	if !s.tokens.IsTokenExpired(ctx) {
		return nil
	}

	s.logger.Debug("Refreshing token")
	if err := s.api.PostRefreshToken(ctx); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	return nil
}

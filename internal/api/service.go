package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
)

// TokenStore holds the access and refresh tokens of the session.
type TokenStore interface {
	GetToken(ctx context.Context) (string, error)
	GetRefreshToken(ctx context.Context) (string, error)
	IsTokenExpired(ctx context.Context) bool
	SetTokens(ctx context.Context, accessToken, refreshToken string) error
}

// Service speaks the vault server API.
type Service struct {
	transport transport.Transport
	tokens    TokenStore
	logger    *events.Logger
}

// NewService creates an API service.
func NewService(transport transport.Transport, tokens TokenStore, logger *events.Logger) *Service {
	return &Service{
		transport: transport,
		tokens:    tokens,
		logger:    logger.WithField("service", "api"),
	}
}

// Transport returns the underlying transport.
func (s *Service) Transport() transport.Transport {
	return s.transport
}

// PostPrelogin fetches the KDF parameters of an account.
func (s *Service) PostPrelogin(ctx context.Context, req PreloginRequest) (*PreloginResponse, error) {
	var resp PreloginResponse
	if err := s.transport.Do(ctx, http.MethodPost, transport.EndpointIdentity, "/accounts/prelogin", req, &resp); err != nil {
		return nil, fmt.Errorf("prelogin: %w", err)
	}
	return &resp, nil
}

// PostIdentityToken exchanges a password hash for tokens.
func (s *Service) PostIdentityToken(ctx context.Context, req TokenRequest) (*IdentityTokenResponse, error) {
	form := url.Values{
		"grant_type":       {GrantPassword},
		"username":         {req.Email},
		"password":         {req.MasterPasswordHash},
		"scope":            {Scope},
		"client_id":        {ClientID},
		"deviceType":       {DeviceType},
		"deviceIdentifier": {req.DeviceIdentifier},
		"deviceName":       {req.DeviceName},
	}
	if req.TwoFactorToken != "" {
		form.Set("twoFactorToken", req.TwoFactorToken)
		form.Set("twoFactorProvider", strconv.Itoa(int(req.TwoFactorProvider)))
		if req.TwoFactorRemember {
			form.Set("twoFactorRemember", "1")
		} else {
			form.Set("twoFactorRemember", "0")
		}
	}

	var resp IdentityTokenResponse
	if err := s.transport.Do(ctx, http.MethodPost, transport.EndpointIdentity, "/connect/token", form, &resp); err != nil {
		return nil, err
	}

	if err := s.tokens.SetTokens(ctx, resp.AccessToken, resp.RefreshToken); err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}
	s.transport.SetToken(resp.AccessToken)

	return &resp, nil
}

// PostRefreshToken renews the access token.
func (s *Service) PostRefreshToken(ctx context.Context) error {
	refresh, err := s.tokens.GetRefreshToken(ctx)
	if err != nil {
		return err
	}
	if refresh == "" {
		return models.NewVaultError(models.ErrCodeNotAuthenticated, "refresh token", nil)
	}

	form := url.Values{
		"grant_type":    {GrantRefreshToken},
		"client_id":     {ClientID},
		"refresh_token": {refresh},
	}

	var resp IdentityTokenResponse
	if err := s.transport.Do(ctx, http.MethodPost, transport.EndpointIdentity, "/connect/token", form, &resp); err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	if resp.RefreshToken == "" {
		resp.RefreshToken = refresh
	}
	if err := s.tokens.SetTokens(ctx, resp.AccessToken, resp.RefreshToken); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}
	s.transport.SetToken(resp.AccessToken)

	s.logger.Debug("Access token refreshed")
	return nil
}

// authorize installs a valid access token on the transport, refreshing it
// when expired.
func (s *Service) authorize(ctx context.Context) error {
	token, err := s.tokens.GetToken(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		return models.ErrNotAuthenticated
	}

	if s.tokens.IsTokenExpired(ctx) {
		return s.PostRefreshToken(ctx)
	}

	s.transport.SetToken(token)
	return nil
}

// Authorize makes sure the transport carries a valid access token, for
// callers talking to the transport directly.
func (s *Service) Authorize(ctx context.Context) error {
	return s.authorize(ctx)
}

func (s *Service) send(ctx context.Context, method, path string, payload, out interface{}) error {
	if err := s.authorize(ctx); err != nil {
		return err
	}
	return s.transport.Do(ctx, method, transport.EndpointAPI, path, payload, out)
}

// GetSync fetches the full vault state.
func (s *Service) GetSync(ctx context.Context) (*SyncResponse, error) {
	var resp SyncResponse
	if err := s.send(ctx, http.MethodGet, "/sync", nil, &resp); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	return &resp, nil
}

// GetAccountRevisionDate returns the time the account's vault last
// changed on the server.
func (s *Service) GetAccountRevisionDate(ctx context.Context) (time.Time, error) {
	var ms int64
	if err := s.send(ctx, http.MethodGet, "/accounts/revision-date", nil, &ms); err != nil {
		return time.Time{}, fmt.Errorf("get revision date: %w", err)
	}
	return time.UnixMilli(ms), nil
}

// GetProfile fetches the account profile.
func (s *Service) GetProfile(ctx context.Context) (*models.Profile, error) {
	var resp models.Profile
	if err := s.send(ctx, http.MethodGet, "/accounts/profile", nil, &resp); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &resp, nil
}

// PostCipher creates a cipher.
func (s *Service) PostCipher(ctx context.Context, cipher *models.Cipher) (*models.Cipher, error) {
	var resp models.Cipher
	if err := s.send(ctx, http.MethodPost, "/ciphers", cipher, &resp); err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &resp, nil
}

// PutCipher updates a cipher.
func (s *Service) PutCipher(ctx context.Context, id string, cipher *models.Cipher) (*models.Cipher, error) {
	var resp models.Cipher
	if err := s.send(ctx, http.MethodPut, "/ciphers/"+url.PathEscape(id), cipher, &resp); err != nil {
		return nil, fmt.Errorf("update cipher %s: %w", id, err)
	}
	return &resp, nil
}

// DeleteCipher deletes a cipher.
func (s *Service) DeleteCipher(ctx context.Context, id string) error {
	if err := s.send(ctx, http.MethodDelete, "/ciphers/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete cipher %s: %w", id, err)
	}
	return nil
}

// PutShareCipher moves a cipher into an organization.
func (s *Service) PutShareCipher(ctx context.Context, id string, req CipherShareRequest) (*models.Cipher, error) {
	var resp models.Cipher
	if err := s.send(ctx, http.MethodPut, "/ciphers/"+url.PathEscape(id)+"/share", req, &resp); err != nil {
		return nil, fmt.Errorf("share cipher %s: %w", id, err)
	}
	return &resp, nil
}

// PostImportCiphers creates ciphers and folders in bulk.
func (s *Service) PostImportCiphers(ctx context.Context, req ImportCiphersRequest) error {
	if err := s.send(ctx, http.MethodPost, "/ciphers/import", req, nil); err != nil {
		return fmt.Errorf("import ciphers: %w", err)
	}
	return nil
}

// PostAccountKdf changes the master password and KDF parameters.
func (s *Service) PostAccountKdf(ctx context.Context, req KdfRequest) error {
	if err := s.send(ctx, http.MethodPost, "/accounts/kdf", req, nil); err != nil {
		return fmt.Errorf("change kdf: %w", err)
	}
	return nil
}

// PostPassword changes the master password.
func (s *Service) PostPassword(ctx context.Context, req PasswordRequest) error {
	if err := s.send(ctx, http.MethodPost, "/accounts/password", req, nil); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

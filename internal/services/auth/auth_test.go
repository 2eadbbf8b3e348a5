package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/creds"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/appid"
	"github.com/TheMichaelB/vaultkeys/internal/services/auth"
	"github.com/TheMichaelB/vaultkeys/internal/services/token"
	"github.com/TheMichaelB/vaultkeys/internal/services/totp"
	"github.com/TheMichaelB/vaultkeys/internal/services/user"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
	"github.com/TheMichaelB/vaultkeys/test/testutil"
)

type harness struct {
	vault  *testutil.FakeVault
	crypto *testutil.CryptoFixture
	tokens *token.Service
	users  *user.Service
	auth   *auth.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := testutil.NewTestLogger()
	fv := testutil.NewFakeVault(t)
	cfg := testutil.TestConfig(fv.URL)
	fx := testutil.NewCrypto(t)

	tr := transport.NewTransport(&cfg.API, logger)
	t.Cleanup(func() { _ = tr.Close() })

	tokens := token.NewService(fx.Storage, logger)
	users := user.NewService(tokens, fx.Storage, logger)
	svc := auth.NewService(
		fx.Service,
		api.NewService(tr, tokens, logger),
		tokens,
		users,
		appid.NewService(fx.Storage),
		totp.NewService(),
		logger,
	)

	return &harness{vault: fv, crypto: fx, tokens: tokens, users: users, auth: svc}
}

func TestLogIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	account := h.vault.CreateAccount(t, testutil.TestEmail, testutil.TestPassword)

	require.NoError(t, h.auth.LogIn(ctx, " ME@example.com ", testutil.TestPassword))

	assert.True(t, h.users.IsAuthenticated(ctx))
	id, err := h.users.GetUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)

	kdf, found, err := h.users.GetKdf(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, account.Kdf, kdf)

	assert.True(t, h.crypto.Service.HasKey(ctx))
	hash, err := h.crypto.Service.GetKeyHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.PasswordHash, hash)

	encKey, err := h.crypto.Service.GetEncKey(ctx)
	require.NoError(t, err)
	assert.True(t, account.EncKey.Equal(encKey))
}

func TestLogInInvalidPassword(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.vault.CreateAccount(t, testutil.TestEmail, testutil.TestPassword)

	err := h.auth.LogIn(ctx, testutil.TestEmail, "wrong")
	require.Error(t, err)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsInvalidCredentials())
	assert.False(t, h.users.IsAuthenticated(ctx))
	assert.False(t, h.crypto.Service.HasKey(ctx))
}

func TestLogInMissingCredentials(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.auth.LogIn(context.Background(), "", "pw"))
	assert.Error(t, h.auth.LogIn(context.Background(), testutil.TestEmail, ""))
	assert.Zero(t, h.vault.CountRequests("POST /identity/accounts/prelogin"))
}

func TestLogInTwoFactor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.vault.CreateAccount(t, testutil.TestEmail, testutil.TestPassword)
	secret := h.vault.EnableTOTP(t, testutil.TestEmail)

	t.Run("without secret", func(t *testing.T) {
		err := h.auth.LogIn(ctx, testutil.TestEmail, testutil.TestPassword)
		var apiErr *models.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.True(t, apiErr.IsTwoFactorRequired())
	})

	t.Run("with secret", func(t *testing.T) {
		c, err := creds.ParseCombined([]byte(`{"auth":{"totp_secret":"` + secret + `"}}`))
		require.NoError(t, err)
		h.auth.SetCredentials(c)

		require.NoError(t, h.auth.LogIn(ctx, testutil.TestEmail, testutil.TestPassword))
		remembered, err := h.tokens.GetTwoFactorToken(ctx, testutil.TestEmail)
		require.NoError(t, err)
		assert.NotEmpty(t, remembered)
	})

	t.Run("remembered token", func(t *testing.T) {
		h.auth.SetCredentials(nil)
		require.NoError(t, h.auth.LogOut(ctx))

		require.NoError(t, h.auth.LogIn(ctx, testutil.TestEmail, testutil.TestPassword))
		assert.True(t, h.users.IsAuthenticated(ctx))
	})

	t.Run("stale remembered token", func(t *testing.T) {
		require.NoError(t, h.tokens.SetTwoFactorToken(ctx, "stale", testutil.TestEmail))

		err := h.auth.LogIn(ctx, testutil.TestEmail, testutil.TestPassword)
		var apiErr *models.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.True(t, apiErr.IsTwoFactorRequired())

		remembered, err := h.tokens.GetTwoFactorToken(ctx, testutil.TestEmail)
		require.NoError(t, err)
		assert.Empty(t, remembered)
	})
}

func TestLogOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.vault.CreateAccount(t, testutil.TestEmail, testutil.TestPassword)
	require.NoError(t, h.auth.LogIn(ctx, testutil.TestEmail, testutil.TestPassword))

	require.NoError(t, h.auth.LogOut(ctx))

	assert.False(t, h.users.IsAuthenticated(ctx))
	assert.False(t, h.crypto.Service.HasKey(ctx))
	hash, err := h.crypto.Service.GetKeyHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, hash)
	assert.ErrorIs(t, h.auth.EnsureAuthenticated(ctx), models.ErrNotAuthenticated)
}

func TestEnsureAuthenticated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.vault.CreateAccount(t, testutil.TestEmail, testutil.TestPassword)
	require.NoError(t, h.auth.LogIn(ctx, testutil.TestEmail, testutil.TestPassword))

	require.NoError(t, h.auth.EnsureAuthenticated(ctx))
	assert.Equal(t, 1, h.vault.CountRequests("POST /identity/connect/token"), "fresh token is not refreshed")
}

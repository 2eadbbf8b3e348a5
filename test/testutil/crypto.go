package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// Test account defaults. The iteration count is the minimum accepted so key
// derivation stays fast.
const (
	TestEmail         = "me@example.com"
	TestPassword      = "correct horse battery staple"
	TestKdfIterations = models.MinPBKDF2Iterations
)

// CryptoFixture is a crypto service over memory stores.
type CryptoFixture struct {
	Service  *crypto.Service
	Provider crypto.Provider
	Storage  *state.MemoryStore
	Secure   *state.MemoryStore

	// EncKey is the user encryption key once Unlock ran.
	EncKey *crypto.SymmetricKey
}

// NewCrypto returns a locked crypto service.
func NewCrypto(t testing.TB) *CryptoFixture {
	t.Helper()

	provider := crypto.NewProvider()
	session, err := crypto.GenerateSessionKey(provider)
	require.NoError(t, err)

	logger := events.NewNopLogger()
	storage := state.NewMemoryStore()
	secure := state.NewMemoryStore()
	sealed := state.NewSecureStore(secure, crypto.NewStaticSessionSealer(provider, session), logger)

	return &CryptoFixture{
		Service:  crypto.NewService(provider, storage, sealed, logger),
		Provider: provider,
		Storage:  storage,
		Secure:   secure,
	}
}

// NewUnlockedCrypto returns a crypto service holding a fresh key hierarchy.
func NewUnlockedCrypto(t testing.TB) *CryptoFixture {
	t.Helper()
	f := NewCrypto(t)
	f.Unlock(t)
	return f
}

// Unlock installs a master key derived from the test account and a new
// encryption key.
func (f *CryptoFixture) Unlock(t testing.TB) {
	t.Helper()
	ctx := context.Background()

	master, err := f.Service.MakeKey(TestPassword, TestEmail, models.KdfPBKDF2SHA256, TestKdfIterations)
	require.NoError(t, err)
	encKey, protected, err := f.Service.MakeEncKey(master)
	require.NoError(t, err)

	require.NoError(t, f.Service.SetKey(ctx, master))
	require.NoError(t, f.Service.SetEncKey(ctx, protected))
	f.EncKey = encKey
}

// AddOrganizations creates one key per organization id, protects it with
// the encryption key and installs the set. It returns the plain keys.
func (f *CryptoFixture) AddOrganizations(t testing.TB, ids ...string) map[string]*crypto.SymmetricKey {
	t.Helper()
	require.NotNil(t, f.EncKey, "unlock before adding organizations")

	keys := make(map[string]*crypto.SymmetricKey, len(ids))
	orgs := make([]models.Organization, 0, len(ids))
	for _, id := range ids {
		key, enc := NewProtectedKey(t, f.Provider, f.EncKey)
		keys[id] = key
		orgs = append(orgs, models.Organization{ID: id, Name: id, Key: enc, Enabled: true})
	}

	require.NoError(t, f.Service.SetOrgKeys(context.Background(), orgs))
	return keys
}

// NewProtectedKey creates a random 64 byte key and its encryption under
// wrapping.
func NewProtectedKey(t testing.TB, provider crypto.Provider, wrapping *crypto.SymmetricKey) (*crypto.SymmetricKey, models.EncString) {
	t.Helper()

	raw, err := provider.RandomBytes(64)
	require.NoError(t, err)
	key, err := crypto.NewSymmetricKey(raw)
	require.NoError(t, err)
	enc, err := provider.ProtectKey(key, wrapping)
	require.NoError(t, err)
	return key, enc
}

// StaticUser is a user id source with a fixed id.
type StaticUser string

// GetUserID returns the fixed id.
func (u StaticUser) GetUserID(context.Context) (string, error) {
	return string(u), nil
}

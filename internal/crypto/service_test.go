package crypto_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

type serviceFixture struct {
	svc      *crypto.Service
	storage  *state.MemoryStore
	secure   *state.MemoryStore
	provider crypto.Provider
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	provider := crypto.NewProvider()
	session, err := crypto.GenerateSessionKey(provider)
	require.NoError(t, err)

	logger := events.NewNopLogger()
	storage := state.NewMemoryStore()
	secure := state.NewMemoryStore()
	sealed := state.NewSecureStore(secure, crypto.NewStaticSessionSealer(provider, session), logger)

	return &serviceFixture{
		svc:      crypto.NewService(provider, storage, sealed, logger),
		storage:  storage,
		secure:   secure,
		provider: provider,
	}
}

// unlock installs a fresh master key and encryption key.
func (f *serviceFixture) unlock(t *testing.T) *crypto.SymmetricKey {
	t.Helper()
	ctx := context.Background()

	master, err := f.svc.MakeKey("secret", "me@example.com", models.KdfPBKDF2SHA256, 5000)
	require.NoError(t, err)
	encKey, protected, err := f.svc.MakeEncKey(master)
	require.NoError(t, err)

	require.NoError(t, f.svc.SetKey(ctx, master))
	require.NoError(t, f.svc.SetEncKey(ctx, protected))
	return encKey
}

func TestService_LockedHasNoKeys(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	assert.False(t, f.svc.HasKey(ctx))

	_, err := f.svc.GetEncKey(ctx)
	assert.ErrorIs(t, err, crypto.ErrKeyUnavailable)

	_, err = f.svc.EncryptString(ctx, "x", nil)
	assert.ErrorIs(t, err, crypto.ErrKeyUnavailable)
}

func TestService_KeyHierarchy(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	encKey := f.unlock(t)

	assert.True(t, f.svc.HasKey(ctx))

	got, err := f.svc.GetEncKey(ctx)
	require.NoError(t, err)
	assert.True(t, encKey.Equal(got))

	enc, err := f.svc.EncryptString(ctx, "hunter2", nil)
	require.NoError(t, err)
	plain, err := f.svc.DecryptString(ctx, enc, nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	empty, err := f.svc.EncryptString(ctx, "", nil)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestService_KeyPersistsInSecureStorage(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.unlock(t)

	keys, err := f.secure.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{state.ProtectedPrefix + "key"}, keys)

	var stored string
	_, err = f.secure.Get(ctx, state.ProtectedPrefix+"key", &stored)
	require.NoError(t, err)
	_, err = base64.StdEncoding.DecodeString(stored)
	assert.NoError(t, err)
}

func TestService_OrgKeys(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	encKey := f.unlock(t)

	orgRaw, err := f.provider.RandomBytes(64)
	require.NoError(t, err)
	orgKey, err := crypto.NewSymmetricKey(orgRaw)
	require.NoError(t, err)
	protected, err := f.provider.ProtectKey(orgKey, encKey)
	require.NoError(t, err)

	require.NoError(t, f.svc.SetOrgKeys(ctx, []models.Organization{
		{ID: "org-1", Name: "Cozy", Key: protected},
		{ID: "org-2", Name: "Keyless"},
	}))

	got, err := f.svc.GetOrgKey(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, orgKey.Equal(got))

	_, err = f.svc.GetOrgKey(ctx, "org-2")
	assert.ErrorIs(t, err, crypto.ErrKeyUnavailable)

	personal, err := f.svc.GetOrgKey(ctx, "")
	require.NoError(t, err)
	assert.True(t, encKey.Equal(personal))
}

func TestService_ClearKeys(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.unlock(t)
	require.NoError(t, f.svc.SetKeyHash(ctx, "hash"))

	require.NoError(t, f.svc.ClearKeys(ctx))

	assert.False(t, f.svc.HasKey(ctx))
	hash, err := f.svc.GetKeyHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, hash)
	assert.Equal(t, 0, f.storage.Len())
}

func TestService_ClearEncKeyMemoryOnly(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	encKey := f.unlock(t)

	require.NoError(t, f.svc.ClearEncKey(ctx, true))

	got, err := f.svc.GetEncKey(ctx)
	require.NoError(t, err)
	assert.True(t, encKey.Equal(got))
}

func TestService_RemakeEncKey(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	encKey := f.unlock(t)

	newMaster, err := f.svc.MakeKey("new secret", "me@example.com", models.KdfPBKDF2SHA256, 5000)
	require.NoError(t, err)

	protected, err := f.svc.RemakeEncKey(ctx, newMaster)
	require.NoError(t, err)

	recovered, err := f.provider.UnprotectKey(protected, newMaster)
	require.NoError(t, err)
	assert.True(t, encKey.Equal(recovered))
}

func TestService_KeyWithoutSession(t *testing.T) {
	provider := crypto.NewProvider()
	logger := events.NewNopLogger()
	sealed := state.NewSecureStore(state.NewMemoryStore(), crypto.NewStaticSessionSealer(provider, ""), logger)
	svc := crypto.NewService(provider, state.NewMemoryStore(), sealed, logger)
	ctx := context.Background()

	master, err := svc.MakeKey("secret", "me@example.com", models.KdfPBKDF2SHA256, 5000)
	require.NoError(t, err)

	require.NoError(t, svc.SetKey(ctx, master))
	assert.True(t, svc.HasKey(ctx))
}

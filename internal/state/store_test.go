package state_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

func testLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

func TestMemoryStore(t *testing.T) {
	testStoreOperations(t, state.NewMemoryStore())
}

func TestJSONStore(t *testing.T) {
	store, err := state.NewJSONStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	store, err := state.NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestS3Store(t *testing.T) {
	store := state.NewS3Store(newFakeS3(), "vault-bucket", "alice", testLogger())
	testStoreOperations(t, store)
}

func TestDynamoDBStore(t *testing.T) {
	store := state.NewDynamoDBStore(newFakeDynamo(), "vault-state", testLogger())
	testStoreOperations(t, store)
}

func TestSplitStore(t *testing.T) {
	store := state.NewSplitStore(state.NewMemoryStore(), state.NewMemoryStore(), false, testLogger())
	testStoreOperations(t, store)
}

type sample struct {
	ID       string            `json:"id"`
	Revision int               `json:"revision"`
	Tags     map[string]string `json:"tags"`
	SyncedAt time.Time         `json:"synced_at"`
}

func testStoreOperations(t *testing.T, store state.Store) {
	ctx := context.Background()
	key := "ciphers_user-123"

	t.Run("get non-existent", func(t *testing.T) {
		var out sample
		found, err := store.Get(ctx, key, &out)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("save and get", func(t *testing.T) {
		value := sample{
			ID:       "cipher-1",
			Revision: 42,
			Tags:     map[string]string{"a": "1", "b": "2"},
			SyncedAt: time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, store.Save(ctx, key, value))

		var loaded sample
		found, err := store.Get(ctx, key, &loaded)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, value.ID, loaded.ID)
		assert.Equal(t, value.Revision, loaded.Revision)
		assert.Equal(t, value.Tags, loaded.Tags)
		assert.True(t, value.SyncedAt.Equal(loaded.SyncedAt))
	})

	t.Run("update existing", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, key, sample{ID: "cipher-1", Revision: 43}))

		var loaded sample
		_, err := store.Get(ctx, key, &loaded)
		require.NoError(t, err)
		assert.Equal(t, 43, loaded.Revision)
	})

	t.Run("scalar values", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "lockOption", 15))
		require.NoError(t, store.Save(ctx, "userEmail", "me@alice.example.com"))

		var minutes int
		found, err := store.Get(ctx, "lockOption", &minutes)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 15, minutes)

		email, err := state.GetString(ctx, store, "userEmail")
		require.NoError(t, err)
		assert.Equal(t, "me@alice.example.com", email)
	})

	t.Run("keys", func(t *testing.T) {
		keys, err := store.Keys(ctx)
		require.NoError(t, err)
		assert.Subset(t, keys, []string{key, "lockOption", "userEmail"})
	})

	t.Run("nil value removes", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, "userEmail", nil))

		found, err := store.Get(ctx, "userEmail", nil)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, key))
		require.NoError(t, store.Remove(ctx, key), "removing twice is fine")

		found, err := store.Get(ctx, key, nil)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("empty key", func(t *testing.T) {
		assert.ErrorIs(t, store.Save(ctx, "", "x"), state.ErrEmptyKey)
	})
}

func TestSplitStore_Routing(t *testing.T) {
	ctx := context.Background()
	local := state.NewMemoryStore()
	session := state.NewMemoryStore()
	store := state.NewSplitStore(local, session, false, testLogger())

	require.NoError(t, store.Save(ctx, "appId", "app-1"))
	require.NoError(t, store.Save(ctx, "twoFactorToken_me@alice.example.com", "tok"))
	require.NoError(t, store.Save(ctx, "collapsedGroupings_u1", []string{"f1"}))
	require.NoError(t, store.Save(ctx, "accessToken", "jwt"))

	localKeys, _ := local.Keys(ctx)
	sessionKeys, _ := session.Keys(ctx)
	assert.Equal(t, []string{"appId", "collapsedGroupings_u1", "twoFactorToken_me@alice.example.com"}, localKeys)
	assert.Equal(t, []string{"accessToken"}, sessionKeys)
	assert.True(t, state.IsPersistent("locale"))
	assert.False(t, state.IsPersistent("keyHash"))
}

func TestSplitStore_InitSeedsLockOption(t *testing.T) {
	ctx := context.Background()

	store := state.NewSplitStore(state.NewMemoryStore(), state.NewMemoryStore(), false, testLogger())
	require.NoError(t, store.Init(ctx))

	var minutes int
	found, err := store.Get(ctx, state.KeyLockOption, &minutes)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, state.DefaultLockOption, minutes)

	require.NoError(t, store.Save(ctx, state.KeyLockOption, 5))
	require.NoError(t, store.Init(ctx))
	_, _ = store.Get(ctx, state.KeyLockOption, &minutes)
	assert.Equal(t, 5, minutes, "existing value is kept")

	dev := state.NewSplitStore(state.NewMemoryStore(), state.NewMemoryStore(), true, testLogger())
	require.NoError(t, dev.Init(ctx))
	found, _ = dev.Get(ctx, state.KeyLockOption, nil)
	assert.False(t, found)
}

func TestJSONStore_CorruptionFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := state.NewJSONStore(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "keyHash", "first"))
	require.NoError(t, store.Save(ctx, "keyHash", "second"))

	path := filepath.Join(dir, "keyHash.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	got, err := state.GetString(ctx, store, "keyHash")
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}

func TestJSONStore_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := state.NewJSONStore(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "encKey", "7.abc|def"))

	path := filepath.Join(dir, "encKey.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &env))
	env["value"] = "tampered"
	data, _ = json.Marshal(env)
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = store.Get(ctx, "encKey", nil)
	assert.ErrorIs(t, err, state.ErrStateCorrupt)
	assert.ErrorIs(t, err, models.ErrIntegrityCheckFail)
}

func TestJSONStore_FailedWriteKeepsValue(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := state.NewJSONStore(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "k", "one"))

	// A directory in the temp file's place makes the write fail.
	blocker := filepath.Join(dir, "k.json.tmp")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "busy"), 0700))

	err = store.Save(ctx, "k", "two")
	assert.ErrorContains(t, err, "write temp file")

	var got string
	found, err := store.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "one", got)
}

func TestJSONStore_KeysAreEscaped(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewJSONStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	key := "twoFactorToken_me/../alice@example.com"
	require.NoError(t, store.Save(ctx, key, "tok"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	src := state.NewMemoryStore()
	dst := state.NewMemoryStore()

	require.NoError(t, src.Save(ctx, "a", map[string]int{"x": 1}))
	require.NoError(t, src.Save(ctx, "b", "two"))

	n, err := state.Migrate(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var a map[string]int
	_, err = dst.Get(ctx, "a", &a)
	require.NoError(t, err)
	assert.Equal(t, 1, a["x"])
}

package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/appid"
	"github.com/TheMichaelB/vaultkeys/internal/services/auth"
	"github.com/TheMichaelB/vaultkeys/internal/services/cipher"
	"github.com/TheMichaelB/vaultkeys/internal/services/collection"
	"github.com/TheMichaelB/vaultkeys/internal/services/folder"
	"github.com/TheMichaelB/vaultkeys/internal/services/i18n"
	"github.com/TheMichaelB/vaultkeys/internal/services/policy"
	"github.com/TheMichaelB/vaultkeys/internal/services/settings"
	"github.com/TheMichaelB/vaultkeys/internal/services/sync"
	"github.com/TheMichaelB/vaultkeys/internal/services/token"
	"github.com/TheMichaelB/vaultkeys/internal/services/totp"
	"github.com/TheMichaelB/vaultkeys/internal/services/user"
	"github.com/TheMichaelB/vaultkeys/internal/state"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
	"github.com/TheMichaelB/vaultkeys/test/testutil"
)

type harness struct {
	vault    *testutil.FakeVault
	account  *testutil.FakeAccount
	auth     *auth.Service
	users    *user.Service
	folders  *folder.Service
	ciphers  *cipher.Service
	policies *policy.Service
	settings *settings.Service
	sync     *sync.Service
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
	apiService := api.NewService(tr, tokens, logger)
	translator, err := i18n.NewService("en")
	require.NoError(t, err)

	index := testutil.NewMockSearchIndex()
	index.On("ClearIndex").Maybe()

	h := &harness{vault: fv, users: users}
	h.settings = settings.NewService(users, fx.Storage, logger)
	h.folders = folder.NewService(fx.Service, users, translator, fx.Storage, logger)
	h.policies = policy.NewService(users, fx.Storage, logger)
	h.ciphers = cipher.NewService(fx.Service, users, h.settings, apiService, fx.Storage,
		func() cipher.SearchIndex { return index }, logger)
	h.auth = auth.NewService(fx.Service, apiService, tokens, users, appid.NewService(fx.Storage), totp.NewService(), logger)

	h.sync = sync.NewService(sync.Deps{
		Server:      apiService,
		Account:     users,
		Keys:        fx.Service,
		Folders:     h.folders,
		Collections: collection.NewService(fx.Service, users, fx.Storage, logger),
		Ciphers:     h.ciphers,
		Policies:    h.policies,
		Domains:     h.settings,
	}, fx.Storage, logger)

	h.account = fv.CreateAccount(t, testutil.TestEmail, testutil.TestPassword)
	require.NoError(t, h.auth.LogIn(context.Background(), testutil.TestEmail, testutil.TestPassword))
	return h
}

// seed stores one folder and one login on the server.
func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	f, err := h.folders.Encrypt(ctx, models.FolderView{ID: "work", Name: "Work"})
	require.NoError(t, err)
	h.vault.AddFolder(testutil.TestEmail, *f)

	c, err := h.ciphers.Encrypt(ctx, testutil.SampleLogin("Example", "alice", "s3cret", "https://example.com"), nil, nil)
	require.NoError(t, err)
	c.FolderID = "work"
	h.vault.AddCipher(testutil.TestEmail, *c)
}

func TestFullSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t)
	h.vault.SetDomains(&api.DomainsResponse{
		EquivalentDomains: [][]string{{"example.com", "example.net"}},
		GlobalEquivalentDomains: []api.GlobalDomainResponse{
			{Type: 1, Domains: []string{"google.com", "youtube.com"}},
			{Type: 2, Domains: []string{"apple.com", "icloud.com"}, Excluded: true},
		},
	})
	h.vault.SetPolicies(testutil.TestEmail, []models.Policy{
		{ID: "p1", OrganizationID: "org", Type: models.PolicyPasswordGenerator, Enabled: true},
	})

	synced, err := h.sync.FullSync(ctx, true)
	require.NoError(t, err)
	assert.True(t, synced)

	views, err := h.ciphers.GetAllDecrypted(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "alice", views[0].Login.Username)
	assert.Equal(t, "work", views[0].FolderID)

	folders, err := h.folders.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, folders, 1)

	domains, err := h.settings.GetEquivalentDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"example.com", "example.net"}, {"google.com", "youtube.com"}}, domains)

	policies, err := h.policies.GetAll(ctx, models.PolicyPasswordGenerator)
	require.NoError(t, err)
	assert.Len(t, policies, 1)

	stamp, err := h.users.GetSecurityStamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.account.SecurityStamp, stamp)

	last, err := h.sync.GetLastSync(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), last, time.Minute)

	progress := h.sync.GetProgress()
	require.NotNil(t, progress)
	assert.Equal(t, sync.PhaseDone, progress.Phase)
	assert.Equal(t, 1, progress.Ciphers)
}

func TestFullSyncEvents(t *testing.T) {
	h := newHarness(t)

	_, err := h.sync.FullSync(context.Background(), true)
	require.NoError(t, err)

	var types []sync.EventType
	for len(types) == 0 || types[len(types)-1] != sync.EventCompleted {
		select {
		case ev := <-h.sync.Events():
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing completion event, got %v", types)
		}
	}

	assert.Equal(t, sync.EventStarted, types[0])
	assert.Len(t, types, 8)
}

func TestFullSyncSkipsWhenUpToDate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	synced, err := h.sync.FullSync(ctx, false)
	require.NoError(t, err)
	assert.True(t, synced, "first sync always runs")

	synced, err = h.sync.FullSync(ctx, false)
	require.NoError(t, err)
	assert.False(t, synced)
	assert.Equal(t, 1, h.vault.CountRequests("GET /api/sync"))

	time.Sleep(5 * time.Millisecond)
	h.seed(t)

	synced, err = h.sync.FullSync(ctx, false)
	require.NoError(t, err)
	assert.True(t, synced)
	assert.Equal(t, 2, h.vault.CountRequests("GET /api/sync"))

	synced, err = h.sync.FullSync(ctx, true)
	require.NoError(t, err)
	assert.True(t, synced)
	assert.Equal(t, 3, h.vault.CountRequests("GET /api/sync"))
}

func TestFullSyncSecurityStampChanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var loggedOut bool
	h.sync.SetLogoutHandler(func(context.Context) { loggedOut = true })

	_, err := h.sync.FullSync(ctx, true)
	require.NoError(t, err)
	assert.False(t, loggedOut)

	h.vault.RotateSecurityStamp(testutil.TestEmail)

	synced, err := h.sync.FullSync(ctx, true)
	assert.ErrorIs(t, err, sync.ErrStampChanged)
	assert.False(t, synced)
	assert.True(t, loggedOut)
}

func TestFullSyncServerError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.vault.FailNext("GET /api/sync", 1)

	synced, err := h.sync.FullSync(ctx, true)
	require.Error(t, err)
	assert.False(t, synced)

	last, err := h.sync.GetLastSync(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "failed sync is not recorded")
}

func TestFullSyncNotAuthenticated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.auth.LogOut(ctx))

	synced, err := h.sync.FullSync(ctx, true)
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	assert.False(t, synced)
}

// blockingServer holds GetSync until its context ends.
type blockingServer struct {
	entered chan struct{}
}

func (b *blockingServer) GetSync(ctx context.Context) (*api.SyncResponse, error) {
	close(b.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingServer) GetAccountRevisionDate(context.Context) (time.Time, error) {
	return time.Now(), nil
}

func TestFullSyncInProgress(t *testing.T) {
	ctx := context.Background()
	server := &blockingServer{entered: make(chan struct{})}
	svc := sync.NewService(sync.Deps{Server: server}, state.NewMemoryStore(), testutil.NewTestLogger())

	done := make(chan error, 1)
	go func() {
		_, err := svc.FullSync(ctx, true)
		done <- err
	}()
	<-server.entered

	synced, err := svc.FullSync(ctx, true)
	require.NoError(t, err)
	assert.False(t, synced, "concurrent sync is refused")

	svc.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not stop the sync")
	}
}

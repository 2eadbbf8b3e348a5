package collection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/collection"
	"github.com/TheMichaelB/vaultkeys/internal/state"
	"github.com/TheMichaelB/vaultkeys/test/testutil"
)

func TestCollections(t *testing.T) {
	ctx := context.Background()
	fx := testutil.NewUnlockedCrypto(t)
	keys := fx.AddOrganizations(t, "org-1", "org-2")

	svc := collection.NewService(fx.Service, testutil.StaticUser("user-1"), state.NewMemoryStore(), events.NewNopLogger())

	seal := func(name string, orgID string) models.EncString {
		enc, err := fx.Service.EncryptString(ctx, name, keys[orgID])
		require.NoError(t, err)
		return enc
	}

	require.NoError(t, svc.Replace(ctx, []models.Collection{
		{ID: "c1", OrganizationID: "org-1", Name: seal("Zeta", "org-1")},
		{ID: "c2", OrganizationID: "org-1", Name: seal("alpha", "org-1"), ReadOnly: true},
		{ID: "c3", OrganizationID: "org-2", Name: seal("Beta", "org-2")},
		{ID: "c4", OrganizationID: "gone", Name: "2.x|y"},
	}))

	views, err := svc.GetAllDecrypted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CollectionView{
		{ID: "c2", OrganizationID: "org-1", Name: "alpha", ReadOnly: true},
		{ID: "c3", OrganizationID: "org-2", Name: "Beta"},
		{ID: "c1", OrganizationID: "org-1", Name: "Zeta"},
	}, views)

	orgCols, err := svc.GetAllForOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, orgCols, 2)

	require.NoError(t, svc.Clear(ctx, "user-1"))
	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

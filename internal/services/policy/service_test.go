package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/policy"
	"github.com/TheMichaelB/vaultkeys/internal/state"
	"github.com/TheMichaelB/vaultkeys/test/testutil"
)

func TestGetAllFiltersByType(t *testing.T) {
	ctx := context.Background()
	svc := policy.NewService(testutil.StaticUser("user-1"), state.NewMemoryStore(), events.NewNopLogger())

	require.NoError(t, svc.Replace(ctx, []models.Policy{
		{ID: "p1", OrganizationID: "b", Type: models.PolicyPasswordGenerator, Enabled: true},
		{ID: "p2", OrganizationID: "a", Type: models.PolicyTwoFactorAuthentication, Enabled: true},
		{ID: "p3", OrganizationID: "a", Type: models.PolicyPasswordGenerator, Enabled: false},
	}))

	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	gen, err := svc.GetAll(ctx, models.PolicyPasswordGenerator)
	require.NoError(t, err)
	require.Len(t, gen, 2)
	assert.Equal(t, "p3", gen[0].ID)

	none, err := svc.GetAll(ctx, models.PolicyMasterPassword)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGeneratorRequirements(t *testing.T) {
	ctx := context.Background()
	svc := policy.NewService(testutil.StaticUser("user-1"), state.NewMemoryStore(), events.NewNopLogger())

	require.NoError(t, svc.Replace(ctx, []models.Policy{
		{OrganizationID: "a", Type: models.PolicyPasswordGenerator, Enabled: true, Data: map[string]interface{}{
			"minLength": 20, "useUpper": true, "minNumbers": 2,
		}},
		{OrganizationID: "b", Type: models.PolicyPasswordGenerator, Enabled: true, Data: map[string]interface{}{
			"minLength": 16, "useSpecial": true, "minSpecial": 3,
		}},
		{OrganizationID: "c", Type: models.PolicyPasswordGenerator, Enabled: false, Data: map[string]interface{}{
			"minLength": 64,
		}},
	}))

	req, err := svc.GeneratorRequirements(ctx)
	require.NoError(t, err)
	assert.Equal(t, policy.GeneratorRequirements{
		MinLength:  20,
		UseUpper:   true,
		UseSpecial: true,
		MinNumbers: 2,
		MinSpecial: 3,
	}, req)
}

func TestGeneratorRequirementsSignedOut(t *testing.T) {
	svc := policy.NewService(testutil.StaticUser(""), state.NewMemoryStore(), events.NewNopLogger())

	req, err := svc.GeneratorRequirements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, policy.GeneratorRequirements{}, req)
}

package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/token"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestDecode(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	tests := []struct {
		name    string
		token   string
		want    models.TokenInfo
		wantErr bool
	}{
		{
			name: "full claims",
			token: signed(t, jwt.MapClaims{
				"sub":     "user-1",
				"email":   "me@example.com",
				"name":    "Me",
				"premium": true,
				"exp":     exp.Unix(),
			}),
			want: models.TokenInfo{UserID: "user-1", Email: "me@example.com", Name: "Me", Premium: true, ExpiresAt: exp},
		},
		{
			name:  "premium as string",
			token: signed(t, jwt.MapClaims{"sub": "u", "premium": "True"}),
			want:  models.TokenInfo{UserID: "u", Premium: true},
		},
		{
			name:    "not a jwt",
			token:   "opaque",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := token.Decode(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, token.ErrMalformedToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.UserID, info.UserID)
			assert.Equal(t, tt.want.Email, info.Email)
			assert.Equal(t, tt.want.Name, info.Name)
			assert.Equal(t, tt.want.Premium, info.Premium)
			assert.True(t, tt.want.ExpiresAt.Equal(info.ExpiresAt))
		})
	}
}

func TestServiceTokens(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	svc := token.NewService(store, events.NewNopLogger())

	assert.True(t, svc.IsTokenExpired(ctx))
	_, err := svc.DecodeToken(ctx)
	assert.ErrorIs(t, err, models.ErrNotAuthenticated)

	access := signed(t, jwt.MapClaims{
		"sub":   "user-1",
		"email": "me@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, svc.SetTokens(ctx, access, "refresh"))

	assert.False(t, svc.IsTokenExpired(ctx))
	uid, err := svc.GetUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)
	email, err := svc.GetEmail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", email)
	assert.False(t, svc.GetPremium(ctx))

	// a fresh service reads what the first one stored
	other := token.NewService(store, events.NewNopLogger())
	refresh, err := other.GetRefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refresh)

	require.NoError(t, svc.ClearToken(ctx))
	got, err := svc.GetToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestServiceExpiry(t *testing.T) {
	ctx := context.Background()
	svc := token.NewService(state.NewMemoryStore(), events.NewNopLogger())

	require.NoError(t, svc.SetToken(ctx, signed(t, jwt.MapClaims{
		"sub": "u",
		"exp": time.Now().Add(2 * time.Minute).Unix(),
	})))
	assert.True(t, svc.IsTokenExpired(ctx), "tokens inside the refresh margin count as expired")

	require.NoError(t, svc.SetToken(ctx, signed(t, jwt.MapClaims{"sub": "u"})))
	assert.False(t, svc.IsTokenExpired(ctx))
}

func TestTwoFactorToken(t *testing.T) {
	ctx := context.Background()
	svc := token.NewService(state.NewMemoryStore(), events.NewNopLogger())

	require.NoError(t, svc.SetTwoFactorToken(ctx, "remember-me", "Me@Example.com"))
	got, err := svc.GetTwoFactorToken(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "remember-me", got)

	require.NoError(t, svc.ClearTwoFactorToken(ctx, "me@example.com"))
	got, err = svc.GetTwoFactorToken(ctx, "me@example.com")
	require.NoError(t, err)
	assert.Empty(t, got)
}

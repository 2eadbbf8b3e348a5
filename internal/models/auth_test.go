package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

func TestTokenInfo_IsExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{
			name:      "not expired",
			expiresAt: now.Add(time.Hour),
			want:      false,
		},
		{
			name:      "expired",
			expiresAt: now.Add(-time.Hour),
			want:      true,
		},
		{
			name:      "just expired",
			expiresAt: now.Add(-time.Second),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := &models.TokenInfo{
				UserID:    "user-123",
				Email:     "me@alice.example.com",
				ExpiresAt: tt.expiresAt,
			}

			assert.Equal(t, tt.want, token.IsExpired())
		})
	}
}

func TestTokenInfo_SecondsRemaining(t *testing.T) {
	expired := &models.TokenInfo{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.Equal(t, 0, expired.SecondsRemaining())

	valid := &models.TokenInfo{ExpiresAt: time.Now().Add(time.Hour)}
	assert.InDelta(t, 3600, valid.SecondsRemaining(), 2)
}

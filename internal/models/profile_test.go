package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile models.Profile
		wantErr string
	}{
		{
			name:    "valid",
			profile: models.Profile{ID: "u1", Email: "me@alice.example.com"},
		},
		{
			name:    "missing id",
			profile: models.Profile{Email: "me@alice.example.com"},
			wantErr: "profile ID is required",
		},
		{
			name:    "missing email",
			profile: models.Profile{ID: "u1"},
			wantErr: "profile email is required",
		},
		{
			name: "organization without id",
			profile: models.Profile{
				ID:            "u1",
				Email:         "me@alice.example.com",
				Organizations: []models.Organization{{Name: "Cozy"}},
			},
			wantErr: "organization 0: ID is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestKdfConfig_Validate(t *testing.T) {
	assert.NoError(t, models.KdfConfig{Kdf: models.KdfPBKDF2SHA256, Iterations: 100000}.Validate())
	assert.Error(t, models.KdfConfig{Kdf: models.KdfPBKDF2SHA256, Iterations: 10}.Validate())
	assert.NoError(t, models.KdfConfig{Kdf: models.KdfArgon2id, Iterations: 3}.Validate())
	assert.Error(t, models.KdfConfig{Kdf: models.KdfArgon2id, Iterations: 1}.Validate())
	assert.Error(t, models.KdfConfig{Kdf: 9, Iterations: 100000}.Validate())
}

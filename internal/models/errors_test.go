package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

func TestVaultError(t *testing.T) {
	tests := []struct {
		name string
		err  *models.VaultError
		want string
	}{
		{
			name: "bare code",
			err:  &models.VaultError{Code: models.ErrCodeImportUnknownFormat},
			want: "IMPORT_UNKNOWN_FORMAT",
		},
		{
			name: "with op",
			err:  &models.VaultError{Code: models.ErrCodeNoEncryptionKey, Op: "encrypt"},
			want: "encrypt: NO_ENCRYPTION_KEY",
		},
		{
			name: "with op and cause",
			err: &models.VaultError{
				Code: models.ErrCodeImportFormatError,
				Op:   "import",
				Err:  errors.New("unexpected EOF"),
			},
			want: "import: IMPORT_FORMAT_ERROR: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestVaultError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", models.NewVaultError(models.ErrCodeImportUnknownFormat, "import", nil))

	assert.ErrorIs(t, err, models.ErrImportUnknownFormat)
	assert.NotErrorIs(t, err, models.ErrImportFormatError)
	assert.Equal(t, models.ErrCodeImportUnknownFormat, models.ErrorCode(err))
	assert.Equal(t, "", models.ErrorCode(errors.New("plain")))
}

func TestAPIError(t *testing.T) {
	err := &models.APIError{
		Code:       "invalid_grant",
		Message:    "Username or password is incorrect. Try again.",
		StatusCode: 400,
		RequestID:  "req-123",
	}

	assert.Equal(t, "API error 400 (invalid_grant): Username or password is incorrect. Try again.", err.Error())
	assert.True(t, err.IsInvalidCredentials())
	assert.False(t, err.IsTwoFactorRequired())

	serverErr := &models.APIError{Code: "invalid_grant", StatusCode: 500}
	assert.False(t, serverErr.IsInvalidCredentials())

	twoFactor := &models.APIError{Code: "invalid_grant", StatusCode: 400, TwoFactorProviders: []int{0}}
	assert.True(t, twoFactor.IsTwoFactorRequired())
}

func TestDecryptError(t *testing.T) {
	cause := errors.New("message authentication failed")
	err := &models.DecryptError{Field: "login.password", Reason: "open", Err: cause}

	assert.Equal(t, "decrypt login.password: open: message authentication failed", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestIntegrityError(t *testing.T) {
	err := &models.IntegrityError{Key: "ciphers_u1", Expected: "abc", Actual: "def"}

	assert.Contains(t, err.Error(), "ciphers_u1")
	assert.ErrorIs(t, err, models.ErrIntegrityCheckFail)
}

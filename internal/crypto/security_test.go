package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

func TestSecurityRequirements(t *testing.T) {
	provider := crypto.NewProvider()

	raw, err := provider.RandomBytes(2 * crypto.KeySize)
	require.NoError(t, err)
	key, err := crypto.NewSymmetricKey(raw)
	require.NoError(t, err)

	t.Run("nonces are unique", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 200; i++ {
			enc, err := provider.Encrypt([]byte("same"), key)
			require.NoError(t, err)

			nonce, _, err := crypto.ParseEncString(enc)
			require.NoError(t, err)
			assert.Len(t, nonce, crypto.NonceSize)
			assert.False(t, seen[string(nonce)], "nonce reused")
			seen[string(nonce)] = true
		}
	})

	t.Run("tampering is detected", func(t *testing.T) {
		enc, err := provider.Encrypt([]byte("payload"), key)
		require.NoError(t, err)

		nonce, ct, err := crypto.ParseEncString(enc)
		require.NoError(t, err)
		ct[0] ^= 0xff

		_, err = provider.Decrypt(crypto.FormatEncString(nonce, ct), key)
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})

	t.Run("mac half is bound", func(t *testing.T) {
		enc, err := provider.Encrypt([]byte("payload"), key)
		require.NoError(t, err)

		swapped := append(append([]byte{}, key.EncKey...), make([]byte, crypto.KeySize)...)
		other, err := crypto.NewSymmetricKey(swapped)
		require.NoError(t, err)

		_, err = provider.Decrypt(enc, other)
		assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	})

	t.Run("ciphertext carries a tag", func(t *testing.T) {
		enc, err := provider.Encrypt([]byte("abc"), key)
		require.NoError(t, err)

		_, ct, err := crypto.ParseEncString(enc)
		require.NoError(t, err)
		assert.Len(t, ct, 3+crypto.TagSize)
	})

	t.Run("different passwords give different hashes", func(t *testing.T) {
		a, err := provider.MakeKey("a", "me@example.com", models.KdfPBKDF2SHA256, 5000)
		require.NoError(t, err)
		b, err := provider.MakeKey("b", "me@example.com", models.KdfPBKDF2SHA256, 5000)
		require.NoError(t, err)
		assert.False(t, a.Equal(b))
	})
}

func TestValidateKeySize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"aes-256", 32, false},
		{"too short", 16, true},
		{"empty", 0, true},
		{"too long", 64, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := crypto.ValidateKeySize(make([]byte, tt.size))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte("sensitive")
	crypto.SecureWipe(data)
	assert.Equal(t, make([]byte, len("sensitive")), data)
}

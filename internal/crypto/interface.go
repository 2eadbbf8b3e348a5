package crypto

import (
	"context"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// Provider defines the stateless cryptographic primitives.
type Provider interface {
	// MakeKey derives the master key from a password and the account email.
	MakeKey(password, salt string, kdf models.KdfType, iterations int) (*SymmetricKey, error)

	// HashPassword derives the server-side authentication hash.
	HashPassword(password string, key *SymmetricKey) (string, error)

	// MakeEncKey creates a random encryption key and returns it together with
	// its encryption under key.
	MakeEncKey(key *SymmetricKey) (*SymmetricKey, models.EncString, error)

	// ProtectKey encrypts target under master. 32 byte master keys are
	// stretched first.
	ProtectKey(target, master *SymmetricKey) (models.EncString, error)

	// UnprotectKey reverses ProtectKey.
	UnprotectKey(enc models.EncString, master *SymmetricKey) (*SymmetricKey, error)

	// Encrypt seals plaintext under key.
	Encrypt(plaintext []byte, key *SymmetricKey) (models.EncString, error)

	// Decrypt opens an EncString sealed under key.
	Decrypt(enc models.EncString, key *SymmetricKey) ([]byte, error)

	// RandomBytes returns n cryptographically random bytes.
	RandomBytes(n int) ([]byte, error)
}

// KeySource resolves the keys protecting vault data. Decryption and
// encryption of vault items always receive one explicitly.
type KeySource interface {
	// GetEncKey returns the user's encryption key or ErrKeyUnavailable.
	GetEncKey(ctx context.Context) (*SymmetricKey, error)

	// GetOrgKey returns the key of an organization. An empty orgID yields
	// the user's encryption key.
	GetOrgKey(ctx context.Context, orgID string) (*SymmetricKey, error)
}

// Codec encrypts and decrypts vault strings.
type Codec interface {
	KeySource

	// EncryptString seals plain under key, or under the encryption key when
	// key is nil. Empty strings stay empty.
	EncryptString(ctx context.Context, plain string, key *SymmetricKey) (models.EncString, error)

	// DecryptString opens enc under key, or under the encryption key when
	// key is nil. Empty values stay empty.
	DecryptString(ctx context.Context, enc models.EncString, key *SymmetricKey) (string, error)
}

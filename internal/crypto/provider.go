package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

const (
	// EncTypeAesGcm256 identifies EncStrings produced by this package.
	EncTypeAesGcm256 = 7

	// Key sizes
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM standard
	TagSize   = 16 // GCM tag

	// Argon2id parameters; iterations come from the account.
	Argon2MemoryKiB = 64 * 1024
	Argon2Threads   = 4
)

// Errors
var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrInvalidKey        = errors.New("invalid key size")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrUnsupportedKdf    = errors.New("unsupported kdf")
	ErrKeyUnavailable    = errors.New("key unavailable")
)

// CryptoProvider implements Provider.
type CryptoProvider struct{}

// NewProvider creates a crypto provider.
func NewProvider() Provider {
	return &CryptoProvider{}
}

// normalizeText applies Unicode NFC so the same password typed on different
// platforms derives the same key.
func normalizeText(s string) string {
	return norm.NFC.String(s)
}

// NormalizeSalt canonicalises an email used as KDF salt.
func NormalizeSalt(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MakeKey derives a 32 byte master key.
func (p *CryptoProvider) MakeKey(password, salt string, kdf models.KdfType, iterations int) (*SymmetricKey, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("invalid kdf iterations: %d", iterations)
	}

	pw := []byte(normalizeText(password))
	saltBytes := []byte(NormalizeSalt(salt))

	var key []byte
	switch kdf {
	case models.KdfPBKDF2SHA256:
		key = pbkdf2.Key(pw, saltBytes, iterations, KeySize, sha256.New)
	case models.KdfArgon2id:
		hashedSalt := sha256.Sum256(saltBytes)
		key = argon2.IDKey(pw, hashedSalt[:], uint32(iterations), Argon2MemoryKiB, Argon2Threads, KeySize)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKdf, kdf)
	}

	return NewSymmetricKey(key)
}

// HashPassword runs one PBKDF2 round of the password over the master key.
// The result is what the server stores and what unlock compares against.
func (p *CryptoProvider) HashPassword(password string, key *SymmetricKey) (string, error) {
	if key == nil || len(key.Key) == 0 {
		return "", ErrInvalidKey
	}

	hash := pbkdf2.Key(key.Key, []byte(normalizeText(password)), 1, KeySize, sha256.New)
	return base64.StdEncoding.EncodeToString(hash), nil
}

// MakeEncKey creates a random 64 byte encryption key protected by the
// stretched master key.
func (p *CryptoProvider) MakeEncKey(key *SymmetricKey) (*SymmetricKey, models.EncString, error) {
	raw, err := p.RandomBytes(2 * KeySize)
	if err != nil {
		return nil, "", err
	}

	encKey, err := NewSymmetricKey(raw)
	if err != nil {
		return nil, "", err
	}

	protected, err := p.ProtectKey(encKey, key)
	if err != nil {
		return nil, "", err
	}

	return encKey, protected, nil
}

// ProtectKey encrypts target under the stretched form of master.
func (p *CryptoProvider) ProtectKey(target, master *SymmetricKey) (models.EncString, error) {
	wrapping, err := wrappingKey(master)
	if err != nil {
		return "", err
	}
	return p.Encrypt(target.Key, wrapping)
}

// UnprotectKey reverses ProtectKey.
func (p *CryptoProvider) UnprotectKey(enc models.EncString, master *SymmetricKey) (*SymmetricKey, error) {
	wrapping, err := wrappingKey(master)
	if err != nil {
		return nil, err
	}

	raw, err := p.Decrypt(enc, wrapping)
	if err != nil {
		return nil, err
	}
	return NewSymmetricKey(raw)
}

// Encrypt seals plaintext with AES-256-GCM, binding the MAC half as
// additional data.
func (p *CryptoProvider) Encrypt(plaintext []byte, key *SymmetricKey) (models.EncString, error) {
	if key == nil {
		return "", ErrInvalidKey
	}

	nonce, ciphertext, err := sealGCM(plaintext, key.EncKey, key.MacKey)
	if err != nil {
		return "", err
	}

	return FormatEncString(nonce, ciphertext), nil
}

// Decrypt opens an EncString.
func (p *CryptoProvider) Decrypt(enc models.EncString, key *SymmetricKey) ([]byte, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}

	nonce, ciphertext, err := ParseEncString(enc)
	if err != nil {
		return nil, err
	}

	return openGCM(nonce, ciphertext, key.EncKey, key.MacKey)
}

// RandomBytes returns n random bytes.
func (p *CryptoProvider) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate random bytes: %w", err)
	}
	return b, nil
}

// FormatEncString renders "7.<b64 nonce>|<b64 ciphertext>".
func FormatEncString(nonce, ciphertext []byte) models.EncString {
	return models.EncString(strconv.Itoa(EncTypeAesGcm256) + "." +
		base64.StdEncoding.EncodeToString(nonce) + "|" +
		base64.StdEncoding.EncodeToString(ciphertext))
}

// ParseEncString splits an EncString into nonce and ciphertext.
func ParseEncString(enc models.EncString) ([]byte, []byte, error) {
	typ, payload, ok := strings.Cut(string(enc), ".")
	if !ok || typ != strconv.Itoa(EncTypeAesGcm256) {
		return nil, nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCiphertext, typ)
	}

	nonceB64, ctB64, ok := strings.Cut(payload, "|")
	if !ok {
		return nil, nil, ErrInvalidCiphertext
	}

	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nonce: %v", ErrInvalidCiphertext, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext: %v", ErrInvalidCiphertext, err)
	}

	return nonce, ciphertext, nil
}

func wrappingKey(master *SymmetricKey) (*SymmetricKey, error) {
	if master == nil {
		return nil, ErrInvalidKey
	}
	if len(master.Key) == KeySize {
		return Stretch(master)
	}
	return master, nil
}

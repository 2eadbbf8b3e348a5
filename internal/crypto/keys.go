package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SymmetricKey is an AES key with an optional authentication half. 32 byte
// keys (password-derived master keys) have no MAC half, 64 byte keys split
// into encryption and MAC halves.
type SymmetricKey struct {
	Key    []byte
	EncKey []byte
	MacKey []byte
}

// NewSymmetricKey wraps raw key material.
func NewSymmetricKey(raw []byte) (*SymmetricKey, error) {
	switch len(raw) {
	case KeySize:
		return &SymmetricKey{Key: raw, EncKey: raw}, nil
	case 2 * KeySize:
		return &SymmetricKey{Key: raw, EncKey: raw[:KeySize], MacKey: raw[KeySize:]}, nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(raw))
	}
}

// SymmetricKeyFromBase64 decodes a key produced by Base64.
func SymmetricKeyFromBase64(s string) (*SymmetricKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return NewSymmetricKey(raw)
}

// Base64 encodes the full key material.
func (k *SymmetricKey) Base64() string {
	return base64.StdEncoding.EncodeToString(k.Key)
}

// Equal compares key material.
func (k *SymmetricKey) Equal(other *SymmetricKey) bool {
	if k == nil || other == nil {
		return k == other
	}
	return constantTimeEqual(k.Key, other.Key)
}

// Wipe zeroes the key material.
func (k *SymmetricKey) Wipe() {
	if k == nil {
		return
	}
	SecureWipe(k.Key)
}

// Stretch expands a 32 byte master key into a 64 byte key with HKDF-SHA256,
// so it can protect the encryption key with a MAC half.
func Stretch(master *SymmetricKey) (*SymmetricKey, error) {
	if master == nil || len(master.Key) != KeySize {
		return nil, ErrInvalidKey
	}

	out := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, master.Key, []byte("enc")), out[:KeySize]); err != nil {
		return nil, fmt.Errorf("stretch enc: %w", err)
	}
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, master.Key, []byte("mac")), out[KeySize:]); err != nil {
		return nil, fmt.Errorf("stretch mac: %w", err)
	}

	return NewSymmetricKey(out)
}

package models

import (
	"fmt"
	"strings"
)

// Profile is the account profile delivered by sync.
type Profile struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Name          string         `json:"name,omitempty"`
	SecurityStamp string         `json:"securityStamp,omitempty"`
	Key           EncString      `json:"key,omitempty"`
	Organizations []Organization `json:"organizations,omitempty"`
}

// Validate validates the profile structure.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile ID is required")
	}

	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("profile email is required")
	}

	for i, org := range p.Organizations {
		if strings.TrimSpace(org.ID) == "" {
			return fmt.Errorf("organization %d: ID is required", i)
		}
	}

	return nil
}

// KdfConfig holds the key derivation parameters of an account.
type KdfConfig struct {
	Kdf        KdfType `json:"kdf"`
	Iterations int     `json:"kdfIterations"`
}

// Minimum accepted iteration counts.
const (
	MinPBKDF2Iterations   = 5000
	MinArgon2idIterations = 2
)

// Validate validates the KDF parameters.
func (k KdfConfig) Validate() error {
	switch k.Kdf {
	case KdfPBKDF2SHA256:
		if k.Iterations < MinPBKDF2Iterations {
			return fmt.Errorf("pbkdf2 iterations must be >= %d", MinPBKDF2Iterations)
		}
	case KdfArgon2id:
		if k.Iterations < MinArgon2idIterations {
			return fmt.Errorf("argon2id iterations must be >= %d", MinArgon2idIterations)
		}
	default:
		return fmt.Errorf("unsupported kdf: %d", k.Kdf)
	}
	return nil
}

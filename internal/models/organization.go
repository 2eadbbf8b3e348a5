package models

import "time"

// KdfType selects the password key derivation function.
type KdfType int

const (
	KdfPBKDF2SHA256 KdfType = 0
	KdfArgon2id     KdfType = 1
)

// Default KDF parameters for new accounts.
const (
	DefaultKdf           = KdfPBKDF2SHA256
	DefaultKdfIterations = 100000
)

func (k KdfType) String() string {
	switch k {
	case KdfPBKDF2SHA256:
		return "pbkdf2-sha256"
	case KdfArgon2id:
		return "argon2id"
	default:
		return "unknown"
	}
}

// Organization is an organization membership. Key is the organization key
// encrypted with the user's encryption key.
type Organization struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Key     EncString `json:"key,omitempty"`
	Enabled bool      `json:"enabled"`
	Type    int       `json:"type"`
}

// Folder is an encrypted folder.
type Folder struct {
	ID           string    `json:"id"`
	Name         EncString `json:"name"`
	RevisionDate time.Time `json:"revisionDate"`
}

// FolderView is a decrypted folder. The "no folder" pseudo-folder has an
// empty ID.
type FolderView struct {
	ID   string
	Name string
}

// Collection is an encrypted organization collection.
type Collection struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Name           EncString `json:"name"`
	ExternalID     string    `json:"externalId,omitempty"`
	ReadOnly       bool      `json:"readOnly,omitempty"`
}

// CollectionView is a decrypted collection.
type CollectionView struct {
	ID             string
	OrganizationID string
	Name           string
	ReadOnly       bool
}

// PolicyType identifies an organization policy.
type PolicyType int

const (
	PolicyTwoFactorAuthentication PolicyType = 0
	PolicyMasterPassword          PolicyType = 1
	PolicyPasswordGenerator       PolicyType = 2
)

// Policy is an organization policy delivered by sync.
type Policy struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organizationId"`
	Type           PolicyType             `json:"type"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Enabled        bool                   `json:"enabled"`
}

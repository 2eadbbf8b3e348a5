package api

import (
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// Identity token grant types.
const (
	GrantPassword     = "password"
	GrantRefreshToken = "refresh_token"
)

// Client identification sent with token requests.
const (
	ClientID   = "cli"
	Scope      = "api offline_access"
	DeviceType = "8"
)

// PreloginRequest asks for the KDF parameters of an account.
type PreloginRequest struct {
	Email string `json:"email"`
}

// PreloginResponse carries the KDF parameters of an account.
type PreloginResponse struct {
	Kdf           models.KdfType `json:"kdf"`
	KdfIterations int            `json:"kdfIterations"`
}

// TokenRequest is a password grant.
type TokenRequest struct {
	Email              string
	MasterPasswordHash string
	DeviceIdentifier   string
	DeviceName         string

	TwoFactorToken    string
	TwoFactorProvider models.TwoFactorProvider
	TwoFactorRemember bool
}

// IdentityTokenResponse is the answer to a token request.
type IdentityTokenResponse struct {
	AccessToken   string           `json:"access_token"`
	ExpiresIn     int              `json:"expires_in"`
	RefreshToken  string           `json:"refresh_token"`
	TokenType     string           `json:"token_type"`
	Key           models.EncString `json:"Key,omitempty"`
	Kdf           models.KdfType   `json:"Kdf"`
	KdfIterations int              `json:"KdfIterations"`

	TwoFactorToken string `json:"TwoFactorToken,omitempty"`
}

// DomainsResponse holds equivalent domain groups.
type DomainsResponse struct {
	EquivalentDomains       [][]string             `json:"equivalentDomains,omitempty"`
	GlobalEquivalentDomains []GlobalDomainResponse `json:"globalEquivalentDomains,omitempty"`
}

// GlobalDomainResponse is a server-wide equivalent domain group.
type GlobalDomainResponse struct {
	Type     int      `json:"type"`
	Domains  []string `json:"domains"`
	Excluded bool     `json:"excluded"`
}

// SyncResponse is the full vault state of an account.
type SyncResponse struct {
	Profile     models.Profile      `json:"profile"`
	Folders     []models.Folder     `json:"folders"`
	Collections []models.Collection `json:"collections"`
	Ciphers     []models.Cipher     `json:"ciphers"`
	Policies    []models.Policy     `json:"policies"`
	Domains     *DomainsResponse    `json:"domains,omitempty"`
}

// CipherShareRequest moves a cipher into an organization.
type CipherShareRequest struct {
	Cipher        models.Cipher `json:"cipher"`
	CollectionIDs []string      `json:"collectionIds"`
}

// FolderRequest creates a folder.
type FolderRequest struct {
	Name models.EncString `json:"name"`
}

// KeyValuePair links an imported cipher index to a folder index.
type KeyValuePair struct {
	Key   int `json:"key"`
	Value int `json:"value"`
}

// ImportCiphersRequest creates many ciphers at once.
type ImportCiphersRequest struct {
	Ciphers             []models.Cipher `json:"ciphers"`
	Folders             []FolderRequest `json:"folders"`
	FolderRelationships []KeyValuePair  `json:"folderRelationships"`
}

// PasswordRequest changes the master password.
type PasswordRequest struct {
	MasterPasswordHash    string           `json:"masterPasswordHash"`
	NewMasterPasswordHash string           `json:"newMasterPasswordHash"`
	Key                   models.EncString `json:"key"`
}

// KdfRequest changes the master password together with the KDF.
type KdfRequest struct {
	PasswordRequest
	Kdf           models.KdfType `json:"kdf"`
	KdfIterations int            `json:"kdfIterations"`
}

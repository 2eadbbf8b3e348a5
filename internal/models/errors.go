package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes surfaced by the vault client. The string value is the
// user-facing message, callers match on it.
const (
	ErrCodeNoEncryptionKey      = "NO_ENCRYPTION_KEY"
	ErrCodeImportUnknownFormat  = "IMPORT_UNKNOWN_FORMAT"
	ErrCodeImportFormatError    = "IMPORT_FORMAT_ERROR"
	ErrCodeImportBadFileContent = "IMPORT_BAD_FILE_CONTENT"
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodeVaultLocked          = "VAULT_LOCKED"
	ErrCodeOrganizationNotFound = "ORGANIZATION_NOT_FOUND"
	ErrCodeEmailImmutable       = "EMAIL_IMMUTABLE"
)

// Sentinel errors. VaultError sentinels compare by code, so
// errors.Is(err, ErrImportUnknownFormat) holds for any wrapped VaultError
// carrying that code.
var (
	ErrNoEncryptionKey      = &VaultError{Code: ErrCodeNoEncryptionKey}
	ErrImportUnknownFormat  = &VaultError{Code: ErrCodeImportUnknownFormat}
	ErrImportFormatError    = &VaultError{Code: ErrCodeImportFormatError}
	ErrImportBadFileContent = &VaultError{Code: ErrCodeImportBadFileContent}
	ErrNotAuthenticated     = &VaultError{Code: ErrCodeNotAuthenticated}
	ErrVaultLocked          = &VaultError{Code: ErrCodeVaultLocked}
	ErrOrganizationNotFound = &VaultError{Code: ErrCodeOrganizationNotFound}
	ErrEmailImmutable       = &VaultError{Code: ErrCodeEmailImmutable}

	ErrInvalidMasterPassword = errors.New("invalid master password")
	ErrCipherNotFound        = errors.New("cipher not found")
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrDecryptionFailed      = errors.New("decryption failed")
	ErrIntegrityCheckFail    = errors.New("integrity check failed")
	ErrSyncInProgress        = errors.New("sync already in progress")
)

// VaultError is an error minted by the client facade.
type VaultError struct {
	Code string
	Op   string
	Err  error
}

// NewVaultError wraps err under code for operation op.
func NewVaultError(code, op string, err error) *VaultError {
	return &VaultError{Code: code, Op: op, Err: err}
}

func (e *VaultError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Code
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *VaultError) Unwrap() error {
	return e.Err
}

// Is matches any VaultError with the same code.
func (e *VaultError) Is(target error) bool {
	t, ok := target.(*VaultError)
	return ok && t.Code == e.Code
}

// ErrorCode returns the VaultError code carried by err, or "".
func ErrorCode(err error) string {
	var ve *VaultError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// APIError represents an error from the API.
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"error_description"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`

	TwoFactorProviders []int `json:"two_factor_providers,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsInvalidCredentials reports whether the server rejected the login.
func (e *APIError) IsInvalidCredentials() bool {
	if e.StatusCode != http.StatusBadRequest && e.StatusCode != http.StatusUnauthorized {
		return false
	}
	return e.Code == "invalid_grant" ||
		strings.Contains(strings.ToLower(e.Message), "username or password is incorrect")
}

// IsTwoFactorRequired reports whether the login needs a second factor.
func (e *APIError) IsTwoFactorRequired() bool {
	return e.StatusCode == http.StatusBadRequest && len(e.TwoFactorProviders) > 0
}

// IsForbidden reports a permission failure.
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// DecryptError represents a decryption failure.
type DecryptError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decrypt %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// IntegrityError represents a checksum mismatch on persisted state.
type IntegrityError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s",
		e.Key, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityCheckFail
}

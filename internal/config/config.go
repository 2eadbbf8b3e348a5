package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Storage backends understood by the vault client.
const (
	StorageMemory   = "memory"
	StorageJSON     = "json"
	StorageSQLite   = "sqlite"
	StorageS3       = "s3"
	StorageDynamoDB = "dynamodb"
)

// Config holds all application configuration.
type Config struct {
	// Remote vault endpoints
	API APIConfig `json:"api" mapstructure:"api"`

	// Local vault behavior
	Vault VaultConfig `json:"vault" mapstructure:"vault"`

	// Hosting platform integration
	Platform PlatformConfig `json:"platform" mapstructure:"platform"`

	// Authentication configuration
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Cloud storage backends
	AWS AWSConfig `json:"aws" mapstructure:"aws"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for server communication. When only BaseURL is set the other
// endpoints are derived from it.
type APIConfig struct {
	BaseURL           string        `json:"base_url" mapstructure:"base_url"`
	APIURL            string        `json:"api_url,omitempty" mapstructure:"api_url"`
	IdentityURL       string        `json:"identity_url,omitempty" mapstructure:"identity_url"`
	EventsURL         string        `json:"events_url,omitempty" mapstructure:"events_url"`
	NotificationsURL  string        `json:"notifications_url,omitempty" mapstructure:"notifications_url"`
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`
	UserAgent         string        `json:"user_agent" mapstructure:"user_agent"`
	RequestsPerSecond float64       `json:"requests_per_second" mapstructure:"requests_per_second"`
}

// VaultConfig for the local vault client.
type VaultConfig struct {
	Locale        string        `json:"locale" mapstructure:"locale"`
	UnsafeStorage bool          `json:"unsafe_storage" mapstructure:"unsafe_storage"`
	Storage       string        `json:"storage" mapstructure:"storage"`   // memory, json, sqlite, s3, dynamodb
	DataDir       string        `json:"data_dir" mapstructure:"data_dir"` // Base directory for json and sqlite
	SessionEnv    string        `json:"session_env" mapstructure:"session_env"`
	LockTimeout   time.Duration `json:"lock_timeout" mapstructure:"lock_timeout"` // 0 disables auto-lock
	DevMode       bool          `json:"dev_mode" mapstructure:"dev_mode"`
}

// PlatformConfig for the hosting platform the vault belongs to.
type PlatformConfig struct {
	InstanceURL         string `json:"instance_url" mapstructure:"instance_url"`
	Token               string `json:"token,omitempty" mapstructure:"token"`
	OrganizationPattern string `json:"organization_pattern" mapstructure:"organization_pattern"`
	SettingsDoctype     string `json:"settings_doctype" mapstructure:"settings_doctype"`
	SettingsID          string `json:"settings_id" mapstructure:"settings_id"`
	CiphersDoctype      string `json:"ciphers_doctype" mapstructure:"ciphers_doctype"`
}

// AuthConfig for authentication settings.
type AuthConfig struct {
	Email    string `json:"email,omitempty" mapstructure:"email"`
	Password string `json:"password,omitempty" mapstructure:"password"`

	// TOTP/MFA configuration
	TOTPSecret string `json:"totp_secret,omitempty" mapstructure:"totp_secret"`

	// Stored credentials for non-interactive use
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`
}

// AWSConfig for the s3 and dynamodb storage backends.
type AWSConfig struct {
	Region string `json:"region,omitempty" mapstructure:"region"`
	Bucket string `json:"bucket,omitempty" mapstructure:"bucket"`
	Prefix string `json:"prefix,omitempty" mapstructure:"prefix"`
	Table  string `json:"table,omitempty" mapstructure:"table"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stderr)
	Color  bool   `json:"color" mapstructure:"color"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".vaultkeys"
	if homeDir, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(homeDir, ".vaultkeys")
	}

	return &Config{
		API: APIConfig{
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			UserAgent:         "vaultkeys/1.0",
			RequestsPerSecond: 10,
		},
		Vault: VaultConfig{
			Locale:     "en",
			Storage:    StorageSQLite,
			DataDir:    dataDir,
			SessionEnv: "VAULTKEYS_SESSION",
		},
		Platform: PlatformConfig{
			OrganizationPattern: "^Cozy$",
			SettingsDoctype:     "io.cozy.settings",
			SettingsID:          "io.cozy.settings.bitwarden",
			CiphersDoctype:      "com.bitwarden.ciphers",
		},
		Auth: AuthConfig{
			CredentialsFile: filepath.Join(dataDir, "credentials.json"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must not be negative")
	}

	if c.API.RequestsPerSecond < 0 {
		return errors.New("api.requests_per_second must not be negative")
	}

	switch c.Vault.Storage {
	case StorageMemory:
	case StorageJSON, StorageSQLite:
		if c.Vault.DataDir == "" {
			return fmt.Errorf("vault.data_dir is required for %s storage", c.Vault.Storage)
		}
	case StorageS3:
		if c.AWS.Bucket == "" {
			return errors.New("aws.bucket is required for s3 storage")
		}
	case StorageDynamoDB:
		if c.AWS.Table == "" {
			return errors.New("aws.table is required for dynamodb storage")
		}
	default:
		return fmt.Errorf("invalid vault storage: %s", c.Vault.Storage)
	}

	if c.Vault.LockTimeout < 0 {
		return errors.New("vault.lock_timeout must not be negative")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	var dirs []string

	if c.Vault.Storage == StorageJSON || c.Vault.Storage == StorageSQLite {
		dirs = append(dirs, c.Vault.DataDir)
	}

	if c.Auth.CredentialsFile != "" {
		dirs = append(dirs, filepath.Dir(c.Auth.CredentialsFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

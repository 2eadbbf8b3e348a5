package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VAULTKEYS_LOG_LEVEL.
const EnvPrefix = "VAULTKEYS"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty path searches the default
// locations.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{
		configPath: configPath,
		v:          v,
	}
}

// Viper exposes the underlying instance so CLI flags can be bound to it.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFile returns the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load reads configuration from defaults, file and environment.
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v, DefaultConfig())

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		l.v.SetConfigName("vaultkeys")
		for _, dir := range defaultDirs() {
			l.v.AddConfigPath(dir)
		}
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", l.v.ConfigFileUsed(), err)
			}
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultDirs returns default config file locations.
func defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "vaultkeys"),
			filepath.Join(homeDir, ".vaultkeys"),
		)
	}

	return dirs
}

// setDefaults registers every key so environment overrides apply even
// without a config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	defaults := map[string]interface{}{
		"api.base_url":                  cfg.API.BaseURL,
		"api.api_url":                   cfg.API.APIURL,
		"api.identity_url":              cfg.API.IdentityURL,
		"api.events_url":                cfg.API.EventsURL,
		"api.notifications_url":         cfg.API.NotificationsURL,
		"api.timeout":                   cfg.API.Timeout,
		"api.max_retries":               cfg.API.MaxRetries,
		"api.user_agent":                cfg.API.UserAgent,
		"api.requests_per_second":       cfg.API.RequestsPerSecond,
		"vault.locale":                  cfg.Vault.Locale,
		"vault.unsafe_storage":          cfg.Vault.UnsafeStorage,
		"vault.storage":                 cfg.Vault.Storage,
		"vault.data_dir":                cfg.Vault.DataDir,
		"vault.session_env":             cfg.Vault.SessionEnv,
		"vault.lock_timeout":            cfg.Vault.LockTimeout,
		"vault.dev_mode":                cfg.Vault.DevMode,
		"platform.instance_url":         cfg.Platform.InstanceURL,
		"platform.token":                cfg.Platform.Token,
		"platform.organization_pattern": cfg.Platform.OrganizationPattern,
		"platform.settings_doctype":     cfg.Platform.SettingsDoctype,
		"platform.settings_id":          cfg.Platform.SettingsID,
		"platform.ciphers_doctype":      cfg.Platform.CiphersDoctype,
		"auth.email":                    cfg.Auth.Email,
		"auth.password":                 cfg.Auth.Password,
		"auth.totp_secret":              cfg.Auth.TOTPSecret,
		"auth.credentials_file":         cfg.Auth.CredentialsFile,
		"aws.region":                    cfg.AWS.Region,
		"aws.bucket":                    cfg.AWS.Bucket,
		"aws.prefix":                    cfg.AWS.Prefix,
		"aws.table":                     cfg.AWS.Table,
		"log.level":                     cfg.Log.Level,
		"log.format":                    cfg.Log.Format,
		"log.file":                      cfg.Log.File,
		"log.color":                     cfg.Log.Color,
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()
	cfg.Platform.InstanceURL = "https://alice.mycozy.cloud"

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

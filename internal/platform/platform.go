package platform

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/vaultkeys/internal/config"
	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/identity"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// Settings is the vault section of the platform settings.
type Settings struct {
	ExtensionInstalled bool
	OrganizationID     string
}

// Platform answers the questions the vault client asks its host.
type Platform struct {
	docs   DocumentClient
	cfg    config.PlatformConfig
	logger *events.Logger
}

// New creates a platform accessor.
func New(docs DocumentClient, cfg config.PlatformConfig, logger *events.Logger) *Platform {
	return &Platform{
		docs:   docs,
		cfg:    cfg,
		logger: logger.WithField("component", "platform"),
	}
}

// GetSettings reads the vault settings document. A missing document yields
// zero settings.
func (p *Platform) GetSettings(ctx context.Context) (Settings, error) {
	doc, err := p.docs.Get(ctx, p.cfg.SettingsDoctype, p.cfg.SettingsID)
	if err != nil {
		if isNotFound(err) {
			return Settings{}, nil
		}
		return Settings{}, err
	}
	return Settings{
		ExtensionInstalled: doc.Bool("extension_installed"),
		OrganizationID:     doc.String("organization_id"),
	}, nil
}

// CheckHasCiphers reports whether the platform holds vault items. Errors
// are logged and count as false.
func (p *Platform) CheckHasCiphers(ctx context.Context) bool {
	docs, err := p.docs.Find(ctx, p.cfg.CiphersDoctype)
	if err != nil {
		p.logFailure(err, p.cfg.CiphersDoctype, "Failed to check for ciphers")
		return false
	}
	return len(docs) > 0
}

// CheckHasInstalledExtension reports whether the browser extension was
// ever connected. Errors are logged and count as false.
func (p *Platform) CheckHasInstalledExtension(ctx context.Context) bool {
	settings, err := p.GetSettings(ctx)
	if err != nil {
		p.logFailure(err, p.cfg.SettingsDoctype, "Failed to read vault settings")
		return false
	}
	return settings.ExtensionInstalled
}

func (p *Platform) logFailure(err error, doctype, msg string) {
	log := p.logger.WithError(err).WithField("doctype", doctype)
	if isForbidden(err) {
		log = log.WithField("hint", fmt.Sprintf("grant GET permission on %s to the application", doctype))
	}
	log.Warn(msg)
}

// HashedPassword returns the server-side hash of password for the account
// of instanceOrEmail.
func HashedPassword(instanceOrEmail, password string, kdf models.KdfType, iterations int) (string, error) {
	email, err := identity.DeriveEmail(instanceOrEmail)
	if err != nil {
		return "", err
	}

	provider := crypto.NewProvider()
	key, err := provider.MakeKey(password, email, kdf, iterations)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	defer key.Wipe()

	return provider.HashPassword(password, key)
}

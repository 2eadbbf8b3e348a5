// Package environment keeps the server locations of the vault.
package environment

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/state"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
)

// KeyEnvironmentURLs stores the configured URLs.
const KeyEnvironmentURLs = "environmentUrls"

// VaultPath is where the vault server lives below a platform instance.
const VaultPath = "/bitwarden"

// DefaultURLs returns the locations of the vault hosted by instance.
func DefaultURLs(instance string) transport.URLs {
	instance = strings.TrimRight(instance, "/")
	return transport.URLs{
		Base:     instance + VaultPath,
		Platform: instance,
	}
}

// Service applies server locations to the transport and remembers them.
type Service struct {
	transport transport.Transport
	storage   state.Store
	logger    *events.Logger
}

// NewService creates an environment service.
func NewService(tr transport.Transport, storage state.Store, logger *events.Logger) *Service {
	return &Service{
		transport: tr,
		storage:   storage,
		logger:    logger.WithField("service", "environment"),
	}
}

// SetURLs validates urls, persists them and points the transport at them.
// It returns the resolved locations.
func (s *Service) SetURLs(ctx context.Context, urls transport.URLs) (transport.URLs, error) {
	urls = trim(urls)
	for name, raw := range map[string]string{
		"base":          urls.Base,
		"api":           urls.API,
		"identity":      urls.Identity,
		"events":        urls.Events,
		"notifications": urls.Notifications,
		"platform":      urls.Platform,
	} {
		if raw == "" {
			continue
		}
		if err := validate(raw); err != nil {
			return transport.URLs{}, fmt.Errorf("%s url: %w", name, err)
		}
	}

	if err := s.storage.Save(ctx, KeyEnvironmentURLs, urls); err != nil {
		return transport.URLs{}, fmt.Errorf("store urls: %w", err)
	}

	s.transport.SetBaseURLs(urls)
	resolved := urls.Resolve()
	s.logger.WithFields(map[string]interface{}{
		"api":      resolved.API,
		"identity": resolved.Identity,
	}).Debug("Server URLs set")
	return resolved, nil
}

// SetURLsFromStorage applies previously stored URLs. It reports whether
// any were found.
func (s *Service) SetURLsFromStorage(ctx context.Context) (bool, error) {
	var urls transport.URLs
	found, err := s.storage.Get(ctx, KeyEnvironmentURLs, &urls)
	if err != nil {
		return false, fmt.Errorf("read urls: %w", err)
	}
	if !found {
		return false, nil
	}
	s.transport.SetBaseURLs(urls)
	return true, nil
}

// URLs returns the resolved locations in use.
func (s *Service) URLs() transport.URLs {
	return s.transport.BaseURLs().Resolve()
}

// NotificationsURL returns the live notifications endpoint, or "".
func (s *Service) NotificationsURL() string {
	return s.URLs().For(transport.EndpointNotifications)
}

func trim(u transport.URLs) transport.URLs {
	return transport.URLs{
		Base:          strings.TrimRight(strings.TrimSpace(u.Base), "/"),
		API:           strings.TrimRight(strings.TrimSpace(u.API), "/"),
		Identity:      strings.TrimRight(strings.TrimSpace(u.Identity), "/"),
		Events:        strings.TrimRight(strings.TrimSpace(u.Events), "/"),
		Notifications: strings.TrimRight(strings.TrimSpace(u.Notifications), "/"),
		Platform:      strings.TrimRight(strings.TrimSpace(u.Platform), "/"),
	}
}

func validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

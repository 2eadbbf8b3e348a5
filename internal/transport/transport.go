package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/TheMichaelB/vaultkeys/internal/config"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// Endpoint selects which base URL a request goes to.
type Endpoint int

const (
	EndpointAPI Endpoint = iota
	EndpointIdentity
	EndpointEvents
	EndpointNotifications
	EndpointPlatform
)

func (e Endpoint) String() string {
	switch e {
	case EndpointAPI:
		return "api"
	case EndpointIdentity:
		return "identity"
	case EndpointEvents:
		return "events"
	case EndpointNotifications:
		return "notifications"
	case EndpointPlatform:
		return "platform"
	default:
		return fmt.Sprintf("endpoint(%d)", int(e))
	}
}

// URLs are the server locations the client talks to. Empty entries are
// derived from Base.
type URLs struct {
	Base          string `json:"base,omitempty"`
	API           string `json:"api,omitempty"`
	Identity      string `json:"identity,omitempty"`
	Events        string `json:"events,omitempty"`
	Notifications string `json:"notifications,omitempty"`
	Platform      string `json:"platform,omitempty"`
}

// URLsFromConfig maps the API section of the configuration.
func URLsFromConfig(cfg *config.APIConfig) URLs {
	return URLs{
		Base:          cfg.BaseURL,
		API:           cfg.APIURL,
		Identity:      cfg.IdentityURL,
		Events:        cfg.EventsURL,
		Notifications: cfg.NotificationsURL,
	}
}

// Resolve fills empty entries from Base.
func (u URLs) Resolve() URLs {
	base := strings.TrimRight(u.Base, "/")
	out := u
	if base == "" {
		return out
	}
	if out.API == "" {
		out.API = base + "/api"
	}
	if out.Identity == "" {
		out.Identity = base + "/identity"
	}
	if out.Events == "" {
		out.Events = base + "/events"
	}
	if out.Notifications == "" {
		out.Notifications = base + "/notifications/hub"
	}
	return out
}

// For returns the base URL of an endpoint.
func (u URLs) For(endpoint Endpoint) string {
	r := u.Resolve()
	switch endpoint {
	case EndpointAPI:
		return strings.TrimRight(r.API, "/")
	case EndpointIdentity:
		return strings.TrimRight(r.Identity, "/")
	case EndpointEvents:
		return strings.TrimRight(r.Events, "/")
	case EndpointNotifications:
		return strings.TrimRight(r.Notifications, "/")
	case EndpointPlatform:
		return strings.TrimRight(r.Platform, "/")
	default:
		return ""
	}
}

// Transport combines HTTP and WebSocket functionality.
type Transport interface {
	// Do sends a request to an endpoint and decodes the JSON response into
	// out when out is non-nil. A url.Values payload is form encoded, any
	// other payload is sent as JSON.
	Do(ctx context.Context, method string, endpoint Endpoint, path string, payload, out interface{}) error

	// PostJSON posts to the API endpoint and returns the decoded object.
	PostJSON(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error)

	// Live notifications
	StreamWS(ctx context.Context) (<-chan models.Notification, error)

	// Server locations
	SetBaseURLs(urls URLs)
	BaseURLs() URLs

	// Authentication
	SetToken(token string)
	GetToken() string

	// Lifecycle
	Close() error
}

// DefaultTransport implements the Transport interface.
type DefaultTransport struct {
	httpClient *HTTPClient
	logger     *events.Logger

	mu       sync.Mutex
	wsClient *WSClient
}

// NewTransport creates a transport instance.
func NewTransport(cfg *config.APIConfig, logger *events.Logger) Transport {
	return &DefaultTransport{
		httpClient: NewHTTPClient(cfg, logger),
		logger:     logger.WithField("component", "transport"),
	}
}

// Do forwards to HTTP client.
func (t *DefaultTransport) Do(ctx context.Context, method string, endpoint Endpoint, path string, payload, out interface{}) error {
	return t.httpClient.Do(ctx, method, endpoint, path, payload, out)
}

// PostJSON forwards to HTTP client.
func (t *DefaultTransport) PostJSON(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	return t.httpClient.PostJSON(ctx, path, payload)
}

// StreamWS opens the notifications stream.
func (t *DefaultTransport) StreamWS(ctx context.Context) (<-chan models.Notification, error) {
	url := t.httpClient.BaseURLs().For(EndpointNotifications)
	if url == "" {
		return nil, fmt.Errorf("notifications url not configured")
	}

	ws := NewWSClient(url, t.httpClient.GetToken(), t.logger)
	if err := ws.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect websocket: %w", err)
	}

	t.mu.Lock()
	previous := t.wsClient
	t.wsClient = ws
	t.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}

	// Monitor errors in background
	go func() {
		for err := range ws.Errors() {
			t.logger.WithError(err).Error("WebSocket error")
		}
	}()

	return ws.Messages(), nil
}

// SetBaseURLs forwards to HTTP client.
func (t *DefaultTransport) SetBaseURLs(urls URLs) {
	t.httpClient.SetBaseURLs(urls)
}

// BaseURLs forwards to HTTP client.
func (t *DefaultTransport) BaseURLs() URLs {
	return t.httpClient.BaseURLs()
}

// SetToken sets the auth token.
func (t *DefaultTransport) SetToken(token string) {
	t.httpClient.SetToken(token)
}

// GetToken returns the current auth token.
func (t *DefaultTransport) GetToken() string {
	return t.httpClient.GetToken()
}

// Close closes all connections.
func (t *DefaultTransport) Close() error {
	t.mu.Lock()
	ws := t.wsClient
	t.wsClient = nil
	t.mu.Unlock()

	if ws != nil {
		return ws.Close()
	}
	return nil
}

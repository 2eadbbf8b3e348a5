package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/TheMichaelB/vaultkeys/internal/config"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// HTTPClient handles HTTP communication with the vault servers.
type HTTPClient struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	logger    *events.Logger

	mu    sync.RWMutex
	urls  URLs
	token string

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	// Configure HTTP/2
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		urls:       URLsFromConfig(cfg),
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// GetToken returns the current authentication token.
func (c *HTTPClient) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetBaseURLs replaces the server locations.
func (c *HTTPClient) SetBaseURLs(urls URLs) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = urls
}

// BaseURLs returns the server locations.
func (c *HTTPClient) BaseURLs() URLs {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.urls
}

// PostJSON sends a JSON POST request to the API endpoint.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := c.Do(ctx, http.MethodPost, EndpointAPI, path, payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Do executes a request with retry and decodes the response into out.
func (c *HTTPClient) Do(ctx context.Context, method string, endpoint Endpoint, path string, payload, out interface{}) error {
	base := c.BaseURLs().For(endpoint)
	if base == "" {
		return fmt.Errorf("%s url not configured", endpoint)
	}
	target := base + path

	body, contentType, err := encodePayload(payload)
	if err != nil {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"method":   method,
		"endpoint": endpoint.String(),
		"path":     path,
		"size":     len(body),
	}).Debug("Sending request")

	var resp *http.Response
	err = c.retry(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		// Set headers
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if token := c.GetToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err = c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}

		// Check for retryable status codes
		if c.isRetryable(resp.StatusCode) {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("server error %d: %s", resp.StatusCode, respBody)
		}

		return nil
	})

	if err != nil {
		return err
	}

	defer resp.Body.Close()

	// Read response
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"status": resp.StatusCode,
		"size":   len(respBody),
	}).Debug("Received response")

	// Check status
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	return nil
}

func encodePayload(payload interface{}) ([]byte, string, error) {
	switch p := payload.(type) {
	case nil:
		return nil, "", nil
	case url.Values:
		return []byte(p.Encode()), "application/x-www-form-urlencoded; charset=utf-8", nil
	default:
		body, err := json.Marshal(p)
		if err != nil {
			return nil, "", fmt.Errorf("marshal payload: %w", err)
		}
		return body, "application/json", nil
	}
}

// decodeAPIError turns a non-2xx response into *models.APIError. Servers
// answer with either an OAuth style error object or a Message field.
func decodeAPIError(resp *http.Response, body []byte) error {
	apiErr := &models.APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
	}

	var raw struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
		TwoFactor        []int  `json:"TwoFactorProviders"`
		ErrorModel       *struct {
			Message string `json:"Message"`
		} `json:"ErrorModel"`
	}
	if err := json.Unmarshal(body, &raw); err == nil {
		apiErr.Code = raw.Error
		apiErr.Message = raw.ErrorDescription
		if apiErr.Message == "" {
			apiErr.Message = raw.Message
		}
		if apiErr.Message == "" && raw.ErrorModel != nil {
			apiErr.Message = raw.ErrorModel.Message
		}
		apiErr.TwoFactorProviders = raw.TwoFactor
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}

	if apiErr.Code == "" {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	}

	return apiErr
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(ctx, err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable.
func (c *HTTPClient) isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

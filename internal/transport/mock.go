package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// HandlerFunc answers a mocked request. The returned value is JSON
// round-tripped into the caller's out argument.
type HandlerFunc func(req Request) (interface{}, error)

// Request records one call made through MockTransport.
type Request struct {
	Method   string
	Endpoint Endpoint
	Path     string
	Payload  interface{}
	Token    string
}

// MockTransport provides a mock implementation for testing.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration, keyed by "METHOD path"
	Responses     map[string]interface{}
	Handlers      map[string]HandlerFunc
	Errors        map[string]error
	Notifications []models.Notification

	// Error injection
	DoError     error
	StreamError error

	// Request tracking
	Requests []Request
	Streams  int

	// State
	urls   URLs
	token  string
	wsChan chan models.Notification
	closed bool
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		Responses: make(map[string]interface{}),
		Handlers:  make(map[string]HandlerFunc),
		Errors:    make(map[string]error),
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

// Do mocks a request.
func (m *MockTransport) Do(ctx context.Context, method string, endpoint Endpoint, path string, payload, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	req := Request{
		Method:   method,
		Endpoint: endpoint,
		Path:     path,
		Payload:  payload,
		Token:    m.token,
	}
	m.Requests = append(m.Requests, req)

	key := routeKey(method, path)
	doErr := m.DoError
	routeErr := m.Errors[key]
	handler, hasHandler := m.Handlers[key]
	resp, hasResp := m.Responses[key]
	m.mu.Unlock()

	if doErr != nil {
		return doErr
	}
	if routeErr != nil {
		return routeErr
	}

	if hasHandler {
		var err error
		if resp, err = handler(req); err != nil {
			return err
		}
	} else if !hasResp {
		return &models.APIError{
			Code:       "not_found",
			Message:    fmt.Sprintf("no mock response for %s", key),
			StatusCode: http.StatusNotFound,
		}
	}

	if out == nil || resp == nil {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal mock response: %w", err)
	}
	return json.Unmarshal(data, out)
}

// PostJSON mocks a POST to the API endpoint.
func (m *MockTransport) PostJSON(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := m.Do(ctx, http.MethodPost, EndpointAPI, path, payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// StreamWS replays the configured notifications and closes the channel.
func (m *MockTransport) StreamWS(ctx context.Context) (<-chan models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Streams++
	if m.StreamError != nil {
		return nil, m.StreamError
	}

	ch := make(chan models.Notification, len(m.Notifications))
	for _, n := range m.Notifications {
		ch <- n
	}
	close(ch)
	m.wsChan = ch

	return ch, nil
}

// SetBaseURLs records the server locations.
func (m *MockTransport) SetBaseURLs(urls URLs) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = urls
}

// BaseURLs returns the recorded server locations.
func (m *MockTransport) BaseURLs() URLs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.urls
}

// SetToken mocks token setting.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the current token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Close mocks connection closing.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// StreamCount returns how many streams were opened.
func (m *MockTransport) StreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Streams
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Helper methods for test setup

// AddResponse sets a canned response for method and path.
func (m *MockTransport) AddResponse(method, path string, response interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[routeKey(method, path)] = response
}

// Handle installs a handler for method and path.
func (m *MockTransport) Handle(method, path string, handler HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[routeKey(method, path)] = handler
}

// AddError fails every request to method and path with err.
func (m *MockTransport) AddError(method, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[routeKey(method, path)] = err
}

// AddNotification queues a notification for StreamWS.
func (m *MockTransport) AddNotification(n models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications = append(m.Notifications, n)
}

// RequestsTo returns the recorded requests for method and path.
func (m *MockTransport) RequestsTo(method, path string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Request
	for _, r := range m.Requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

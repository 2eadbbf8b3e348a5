package client

import (
	"github.com/TheMichaelB/vaultkeys/internal/config"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/platform"
	"github.com/TheMichaelB/vaultkeys/internal/state"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
)

// DefaultLocale is used when WithLocale is not given.
const DefaultLocale = "en"

type options struct {
	urls          transport.URLs
	locale        string
	unsafeStorage bool
	services      *Services
	pending       *Pending
	logger        *events.Logger
	config        *config.Config
	storage       state.Store
	session       state.Store
	documents     platform.DocumentClient
}

// Option configures a Client.
type Option func(*options)

// WithURLs sets the server URLs. Empty fields are derived from Base.
func WithURLs(urls transport.URLs) Option {
	return func(o *options) { o.urls = urls }
}

// WithLocale selects the translation locale.
func WithLocale(locale string) Option {
	return func(o *options) { o.locale = locale }
}

// WithUnsafeStorage keeps the master key in plain storage.
func WithUnsafeStorage() Option {
	return func(o *options) { o.unsafeStorage = true }
}

// WithServices uses an existing service graph. The client does not close
// it. A nil pending means the graph is already configured.
func WithServices(s *Services, pending *Pending) Option {
	return func(o *options) {
		o.services = s
		o.pending = pending
	}
}

// WithLogger sets the logger.
func WithLogger(logger *events.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConfig sets the configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithStorage sets the persistent store.
func WithStorage(store state.Store) Option {
	return func(o *options) { o.storage = store }
}

// WithSessionStorage sets the store for session data. It defaults to
// memory.
func WithSessionStorage(store state.Store) Option {
	return func(o *options) { o.session = store }
}

// WithDocumentClient replaces the host platform document client.
func WithDocumentClient(docs platform.DocumentClient) Option {
	return func(o *options) { o.documents = docs }
}

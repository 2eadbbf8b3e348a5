package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/config"
	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/services/appid"
	"github.com/TheMichaelB/vaultkeys/internal/services/auth"
	"github.com/TheMichaelB/vaultkeys/internal/services/cipher"
	"github.com/TheMichaelB/vaultkeys/internal/services/collection"
	"github.com/TheMichaelB/vaultkeys/internal/services/environment"
	"github.com/TheMichaelB/vaultkeys/internal/services/folder"
	"github.com/TheMichaelB/vaultkeys/internal/services/i18n"
	"github.com/TheMichaelB/vaultkeys/internal/services/importer"
	"github.com/TheMichaelB/vaultkeys/internal/services/lock"
	"github.com/TheMichaelB/vaultkeys/internal/services/notifications"
	"github.com/TheMichaelB/vaultkeys/internal/services/passgen"
	"github.com/TheMichaelB/vaultkeys/internal/services/policy"
	"github.com/TheMichaelB/vaultkeys/internal/services/search"
	"github.com/TheMichaelB/vaultkeys/internal/services/settings"
	vaultsync "github.com/TheMichaelB/vaultkeys/internal/services/sync"
	"github.com/TheMichaelB/vaultkeys/internal/services/token"
	"github.com/TheMichaelB/vaultkeys/internal/services/totp"
	"github.com/TheMichaelB/vaultkeys/internal/services/user"
	"github.com/TheMichaelB/vaultkeys/internal/state"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
)

// Services is the service graph behind a Client. It is not modified after
// BuildServices returns.
type Services struct {
	Storage       *state.SplitStore
	SecureStorage state.Store

	I18n          *i18n.Service
	Crypto        *crypto.Service
	Token         *token.Service
	AppID         *appid.Service
	Transport     transport.Transport
	API           *api.Service
	User          *user.Service
	Settings      *settings.Service
	Cipher        *cipher.Service
	Folder        *folder.Service
	Collection    *collection.Service
	Search        *search.Service
	Lock          *lock.Service
	Sync          *vaultsync.Service
	PassGen       *passgen.Service
	Policy        *policy.Service
	Importer      *importer.Service
	TOTP          totp.Service
	Auth          *auth.Service
	Environment   *environment.Service
	Notifications *notifications.Service

	// LocaleErr is set when the requested locale is unknown. English is
	// used instead.
	LocaleErr error
}

// BuildOptions select how the graph is assembled.
type BuildOptions struct {
	Locale string
	URLs   transport.URLs

	// UnsafeStorage keeps the master key in plain storage so it survives
	// restarts.
	UnsafeStorage bool

	// Storage holds device preferences, Session everything else. Both
	// default to memory.
	Storage state.Store
	Session state.Store

	Config *config.Config
	Logger *events.Logger
}

// Pending is the configuration BuildServices leaves to do: seeding storage
// and applying the server URLs.
type Pending struct {
	mu       sync.Mutex
	run      func(ctx context.Context) error
	finished bool
	done     chan struct{}
}

func newPending(run func(ctx context.Context) error) *Pending {
	return &Pending{run: run, done: make(chan struct{})}
}

// Wait performs the pending configuration until it succeeds once. After a
// failure the next call runs it again.
func (p *Pending) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.run(ctx); err != nil {
		return err
	}
	p.finished = true
	close(p.done)
	return nil
}

// Done is closed once the configuration succeeded.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// BuildServices assembles the service graph. It performs no I/O; the
// returned Pending applies storage defaults and URLs.
func BuildServices(opts BuildOptions) (*Services, *Pending) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = events.NewNopLogger()
	}

	local, session := opts.Storage, opts.Session
	if local == nil {
		local = state.NewMemoryStore()
	}
	if session == nil {
		session = state.NewMemoryStore()
	}

	s := &Services{}
	s.Storage = state.NewSplitStore(local, session, cfg.Vault.DevMode, logger)

	var err error
	if s.I18n, err = i18n.NewService(opts.Locale); err != nil {
		s.LocaleErr = err
		logger.WithError(err).Warn("Locale not available, using English")
	}

	provider := crypto.NewProvider()
	switch {
	case opts.UnsafeStorage:
		s.SecureStorage = s.Storage
	case cfg.Vault.SessionEnv != "":
		s.SecureStorage = state.NewSecureStore(s.Storage, crypto.NewSessionSealer(provider, cfg.Vault.SessionEnv), logger)
	default:
		s.SecureStorage = state.NewMemoryStore()
	}

	s.Crypto = crypto.NewService(provider, s.Storage, s.SecureStorage, logger)
	s.Token = token.NewService(s.Storage, logger)
	s.AppID = appid.NewService(s.Storage)
	s.Transport = transport.NewTransport(&cfg.API, logger)
	s.API = api.NewService(s.Transport, s.Token, logger)
	s.User = user.NewService(s.Token, s.Storage, logger)
	s.Settings = settings.NewService(s.User, s.Storage, logger)

	var searchService *search.Service
	s.Cipher = cipher.NewService(s.Crypto, s.User, s.Settings, s.API, s.Storage, func() cipher.SearchIndex {
		if searchService == nil {
			return nil
		}
		return searchService
	}, logger)
	s.Folder = folder.NewService(s.Crypto, s.User, s.I18n, s.Storage, logger)
	s.Collection = collection.NewService(s.Crypto, s.User, s.Storage, logger)
	searchService = search.NewService(s.Cipher, logger)
	s.Search = searchService

	s.Lock = lock.NewService(s.Crypto, s.Search, s.Storage, cfg.Vault.LockTimeout, logger,
		s.Cipher, s.Folder, s.Collection)

	s.Policy = policy.NewService(s.User, s.Storage, logger)
	s.Sync = vaultsync.NewService(vaultsync.Deps{
		Server:      s.API,
		Account:     s.User,
		Keys:        s.Crypto,
		Folders:     s.Folder,
		Collections: s.Collection,
		Ciphers:     s.Cipher,
		Policies:    s.Policy,
		Domains:     s.Settings,
	}, s.Storage, logger)
	s.PassGen = passgen.NewService(s.Crypto, s.Policy, s.Storage, logger)
	s.Importer = importer.NewService(logger)
	s.TOTP = totp.NewService()
	s.Auth = auth.NewService(s.Crypto, s.API, s.Token, s.User, s.AppID, s.TOTP, logger)
	s.Environment = environment.NewService(s.Transport, s.Storage, logger)
	s.Notifications = notifications.NewService(s.API, s.Sync, s.AppID, logger)

	urls := opts.URLs
	if urls == (transport.URLs{}) {
		urls = transport.URLsFromConfig(&cfg.API)
	}

	pending := newPending(func(ctx context.Context) error {
		if err := s.Storage.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		if urls == (transport.URLs{}) {
			found, err := s.Environment.SetURLsFromStorage(ctx)
			if err != nil {
				return err
			}
			if !found {
				return errors.New("no server urls configured")
			}
			return nil
		}
		_, err := s.Environment.SetURLs(ctx, urls)
		return err
	})

	return s, pending
}

// Close releases the transport, timers and storage.
func (s *Services) Close() error {
	s.Notifications.Stop()
	s.Lock.Close()
	return errors.Join(
		s.Transport.Close(),
		s.Storage.Close(),
	)
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/config"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/identity"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/platform"
	"github.com/TheMichaelB/vaultkeys/internal/services/environment"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
)

// Client is the vault façade for one account.
type Client struct {
	// Instance is the platform origin, empty when built from an email.
	Instance string
	Email    string

	services *Services
	pending  *Pending
	platform *platform.Platform
	bus      *events.Bus
	cfg      *config.Config
	logger   *events.Logger

	ownsServices bool
	docTransport transport.Transport

	initOnce  sync.Once
	syncMu    sync.Mutex
	importMu  sync.Mutex
	bg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Status summarises the client state.
type Status struct {
	Email         string           `json:"email"`
	Instance      string           `json:"instance,omitempty"`
	Authenticated bool             `json:"authenticated"`
	Locked        bool             `json:"locked"`
	State         events.LockState `json:"state"`
	LastSync      time.Time        `json:"last_sync,omitempty"`
}

// New creates a client for an instance URL or an email address.
func New(instanceOrEmail string, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	id, err := identity.Resolve(instanceOrEmail)
	if err != nil {
		return nil, err
	}

	cfg := o.config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := o.logger
	if logger == nil {
		logger = events.NewNopLogger()
	}

	locale := o.locale
	if locale == "" {
		locale = cfg.Vault.Locale
	}
	if locale == "" {
		locale = DefaultLocale
	}

	urls := o.urls
	if urls == (transport.URLs{}) && transport.URLsFromConfig(&cfg.API) == (transport.URLs{}) && id.Origin != "" {
		urls = environment.DefaultURLs(id.Origin)
	}

	c := &Client{
		Instance: id.Origin,
		Email:    id.Email,
		cfg:      cfg,
		logger:   logger.WithField("component", "client"),
	}
	c.bus = events.NewBus(logger)

	if o.services != nil {
		c.services, c.pending = o.services, o.pending
	} else {
		c.services, c.pending = BuildServices(BuildOptions{
			Locale:        locale,
			URLs:          urls,
			UnsafeStorage: o.unsafeStorage || cfg.Vault.UnsafeStorage,
			Storage:       o.storage,
			Session:       o.session,
			Config:        cfg,
			Logger:        logger,
		})
		c.ownsServices = true
	}

	docs := o.documents
	if docs == nil {
		base := urls.Platform
		if base == "" {
			base = cfg.Platform.InstanceURL
		}
		if base == "" {
			base = id.Origin
		}
		tr := transport.NewTransport(&cfg.API, logger)
		tr.SetBaseURLs(transport.URLs{Platform: base})
		if cfg.Platform.Token != "" {
			tr.SetToken(cfg.Platform.Token)
		}
		docs = platform.NewHTTPDocumentClient(tr, logger)
		c.docTransport = tr
	}
	c.platform = platform.New(docs, cfg.Platform, logger)

	c.services.Sync.SetLogoutHandler(c.logOut)
	c.services.Notifications.SetLogoutHandler(c.logOut)
	c.services.Notifications.SetSyncHandler(func(context.Context) {
		c.bus.Emit(events.EventSync, c)
	})
	c.services.Lock.SetLockedCallback(func(context.Context) {
		c.bus.Emit(events.EventLock, c)
	})

	return c, nil
}

// Services exposes the service graph.
func (c *Client) Services() *Services {
	return c.services
}

// Platform exposes the host platform checks.
func (c *Client) Platform() *platform.Platform {
	return c.platform
}

// Events returns the lock-state event bus.
func (c *Client) Events() *events.Bus {
	return c.bus
}

// Subscribe registers handler for name and returns the function removing
// it.
func (c *Client) Subscribe(name events.EventName, handler events.Handler) func() {
	return c.bus.Subscribe(name, handler).Unsubscribe
}

// ready waits for the pending configuration and emits init the first time
// it succeeds.
func (c *Client) ready(ctx context.Context) error {
	if c.pending != nil {
		if err := c.pending.Wait(ctx); err != nil {
			return fmt.Errorf("initialize client: %w", err)
		}
	}
	c.initOnce.Do(func() {
		c.bus.Emit(events.EventInit, c)
	})
	return nil
}

// begin tags ctx with a new operation on this client.
func (c *Client) begin(ctx context.Context, name string) context.Context {
	instance := c.Instance
	if instance == "" {
		instance = c.Email
	}
	return events.StartOperation(ctx, instance, name)
}

// Init performs the pending configuration.
func (c *Client) Init(ctx context.Context) error {
	return c.ready(ctx)
}

// IsLocked reports whether the vault is unusable: not logged in or no
// master key.
func (c *Client) IsLocked(ctx context.Context) bool {
	if err := c.ready(ctx); err != nil {
		c.logger.WithError(err).Warn("Client not initialized")
		return true
	}
	return !c.services.User.IsAuthenticated(ctx) || c.services.Lock.IsLocked(ctx)
}

// State reports IsLocked as a lock state.
func (c *Client) State(ctx context.Context) events.LockState {
	if c.IsLocked(ctx) {
		return events.Locked
	}
	return events.Unlocked
}

// Lock forgets the key material. lock is emitted even when the vault was
// already locked.
func (c *Client) Lock(ctx context.Context) error {
	ctx = c.begin(ctx, "lock")
	if err := c.ready(ctx); err != nil {
		return err
	}
	err := c.services.Lock.Lock(ctx)
	c.bus.Emit(events.EventLock, c)
	return err
}

// Login authenticates against the server and downloads the vault.
func (c *Client) Login(ctx context.Context, password string) error {
	ctx = c.begin(ctx, "login")
	if err := c.ready(ctx); err != nil {
		return err
	}
	if err := c.services.Auth.LogIn(ctx, c.Email, password); err != nil {
		return err
	}
	c.bus.Emit(events.EventLogin, c)
	c.unlocked(ctx)

	return c.sync(ctx, true)
}

// Unlock unlocks the vault, logging in when there is no local account. A
// wrong password leaves the vault locked and still returns nil; callers
// check IsLocked afterwards.
// A background sync starts only when the password matched.
func (c *Client) Unlock(ctx context.Context, password string) error {
	return c.unlock(ctx, password, false)
}

// UnlockStrict is Unlock returning models.ErrInvalidMasterPassword when
// the password does not match.
func (c *Client) UnlockStrict(ctx context.Context, password string) error {
	return c.unlock(ctx, password, true)
}

func (c *Client) unlock(ctx context.Context, password string, strict bool) error {
	ctx = c.begin(ctx, "unlock")
	if err := c.ready(ctx); err != nil {
		return err
	}

	kdf, found, err := c.services.User.GetKdf(ctx)
	if err != nil {
		return err
	}
	keyHash, err := c.services.Crypto.GetKeyHash(ctx)
	if err != nil {
		return err
	}

	if !c.services.User.IsAuthenticated(ctx) || !found || keyHash == "" {
		if err := c.Login(ctx, password); err != nil {
			return err
		}
		c.bus.Emit(events.EventUnlock, c)
		return nil
	}

	key, err := c.services.Crypto.MakeKey(password, c.Email, kdf.Kdf, kdf.Iterations)
	if err != nil {
		return fmt.Errorf("make key: %w", err)
	}
	hash, err := c.services.Crypto.HashPassword(password, key)
	if err != nil {
		key.Wipe()
		return fmt.Errorf("hash password: %w", err)
	}

	if hash != keyHash {
		key.Wipe()
		if strict {
			return models.ErrInvalidMasterPassword
		}
		events.Tag(ctx, c.logger).Debug("Master password mismatch, vault stays locked")
	} else {
		if err := c.services.Crypto.SetKey(ctx, key); err != nil {
			return err
		}
		c.unlocked(ctx)
		c.syncInBackground(ctx)
	}

	c.bus.Emit(events.EventUnlockNoLogin, c)
	c.bus.Emit(events.EventUnlock, c)
	return nil
}

// unlocked arms auto-lock and starts the notifications listener.
func (c *Client) unlocked(ctx context.Context) {
	c.services.Lock.Touch(ctx)
	if c.services.Notifications.Configured() {
		c.services.Notifications.Start(context.WithoutCancel(ctx))
	}
}

// Sync downloads the vault and emits sync.
func (c *Client) Sync(ctx context.Context) error {
	ctx = c.begin(ctx, "sync")
	if err := c.ready(ctx); err != nil {
		return err
	}
	return c.sync(ctx, true)
}

func (c *Client) sync(ctx context.Context, force bool) error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if _, err := c.services.Sync.FullSync(ctx, force); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	c.bus.Emit(events.EventSync, c)
	return nil
}

func (c *Client) syncInBackground(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := c.sync(ctx, false); err != nil {
			events.Tag(ctx, c.logger).WithError(err).Warn("Background sync failed")
		}
	}()
}

// logOut runs when the server revokes the session.
func (c *Client) logOut(ctx context.Context) {
	if err := c.services.Auth.LogOut(ctx); err != nil {
		c.logger.WithError(err).Warn("Logout incomplete")
	}
	if err := c.services.Lock.Lock(ctx); err != nil {
		c.logger.WithError(err).Warn("Lock after logout incomplete")
	}
	c.bus.Emit(events.EventLock, c)
}

// LastSync returns the time of the last sync, zero when never synced.
func (c *Client) LastSync(ctx context.Context) (time.Time, error) {
	if err := c.ready(ctx); err != nil {
		return time.Time{}, err
	}
	return c.services.Sync.GetLastSync(ctx)
}

// Status reports the account and lock state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	if err := c.ready(ctx); err != nil {
		return Status{}, err
	}
	status := Status{
		Email:         c.Email,
		Instance:      c.Instance,
		Authenticated: c.services.User.IsAuthenticated(ctx),
		State:         c.State(ctx),
	}
	status.Locked = status.State == events.Locked
	if !status.Authenticated {
		return status, nil
	}

	last, err := c.services.Sync.GetLastSync(ctx)
	if err != nil {
		return Status{}, err
	}
	status.LastSync = last
	return status, nil
}

// Close stops the notifications listener and the auto-lock timer, waits
// for background syncs and releases what the client created.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.services.Notifications.Stop()
		c.services.Lock.Close()
		c.bg.Wait()

		var errs []error
		if c.ownsServices {
			errs = append(errs, c.services.Close())
		}
		if c.docTransport != nil {
			errs = append(errs, c.docTransport.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

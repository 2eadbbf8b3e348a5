// Package notifications listens to the server's live notifications and
// keeps the local vault in step.
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
)

// Connector opens authorized notification streams.
type Connector interface {
	Authorize(ctx context.Context) error
	Transport() transport.Transport
}

// Syncer refreshes the local vault.
type Syncer interface {
	FullSync(ctx context.Context, force bool) (bool, error)
}

// DeviceID identifies this installation. Notifications caused by this
// device are ignored.
type DeviceID interface {
	GetAppID(ctx context.Context) (string, error)
}

// Reconnect delays.
const (
	DefaultMinBackoff = time.Second
	DefaultMaxBackoff = 5 * time.Minute
)

// Service runs the listener goroutine.
type Service struct {
	conn   Connector
	syncer Syncer
	device DeviceID
	logger *events.Logger

	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	onLogout func(ctx context.Context)
	onSync   func(ctx context.Context)
}

// NewService creates a notifications service.
func NewService(conn Connector, syncer Syncer, device DeviceID, logger *events.Logger) *Service {
	return &Service{
		conn:       conn,
		syncer:     syncer,
		device:     device,
		logger:     logger.WithField("service", "notifications"),
		MinBackoff: DefaultMinBackoff,
		MaxBackoff: DefaultMaxBackoff,
	}
}

// SetLogoutHandler installs the callback for server-side logouts.
func (s *Service) SetLogoutHandler(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onLogout = fn
	s.mu.Unlock()
}

// SetSyncHandler installs the callback run after a notification-driven
// sync.
func (s *Service) SetSyncHandler(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onSync = fn
	s.mu.Unlock()
}

// Configured reports whether the transport knows a notifications URL.
func (s *Service) Configured() bool {
	return s.conn.Transport().BaseURLs().For(transport.EndpointNotifications) != ""
}

// Running reports whether the listener goroutine is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Start launches the listener. Starting a running listener does nothing.
// The listener outlives ctx only until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the listener and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = s.conn.Transport().Close()
	<-done
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := s.MinBackoff
	for {
		stream, err := s.connect(ctx)
		if err == nil {
			delay = s.MinBackoff
			s.consume(ctx, stream)
		} else if ctx.Err() == nil {
			s.logger.WithError(err).WithField("retry_in", delay.String()).Warn("Notifications unavailable")
		}

		select {
		case <-ctx.Done():
			s.logger.Debug("Notifications stopped")
			return
		case <-time.After(delay):
		}

		if err != nil {
			delay *= 2
			if delay > s.MaxBackoff {
				delay = s.MaxBackoff
			}
		}
	}
}

func (s *Service) connect(ctx context.Context) (<-chan models.Notification, error) {
	if err := s.conn.Authorize(ctx); err != nil {
		return nil, err
	}
	return s.conn.Transport().StreamWS(ctx)
}

func (s *Service) consume(ctx context.Context, stream <-chan models.Notification) {
	self := s.deviceID(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-stream:
			if !ok {
				s.logger.Debug("Notification stream closed")
				return
			}
			if self != "" && n.ContextID == self {
				continue
			}
			s.handle(ctx, n)
		}
	}
}

func (s *Service) handle(ctx context.Context, n models.Notification) {
	s.mu.Lock()
	onLogout, onSync := s.onLogout, s.onSync
	s.mu.Unlock()

	switch {
	case n.Type == models.NotifyLogOut:
		s.logger.Info("Server requested logout")
		if onLogout != nil {
			onLogout(ctx)
		}
	case n.TriggersSync():
		synced, err := s.syncer.FullSync(ctx, true)
		if err != nil {
			s.logger.WithError(err).Warn("Notification sync failed")
			return
		}
		if synced && onSync != nil {
			onSync(ctx)
		}
	default:
		s.logger.WithField("type", int(n.Type)).Debug("Ignoring notification")
	}
}

func (s *Service) deviceID(ctx context.Context) string {
	if s.device == nil {
		return ""
	}
	id, err := s.device.GetAppID(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to read app id")
		return ""
	}
	return id
}

// Package lock decides whether the vault is locked and locks it, either on
// demand or after a period without activity.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// KeyStore holds the key hierarchy dropped on lock.
type KeyStore interface {
	HasKey(ctx context.Context) bool
	ClearKey(ctx context.Context) error
	ClearEncKey(ctx context.Context, memoryOnly bool) error
	ClearOrgKeys(ctx context.Context, memoryOnly bool) error
}

// Cache is a decrypted cache emptied on lock.
type Cache interface {
	ClearCache()
}

// Index is the search index emptied on lock.
type Index interface {
	ClearIndex()
}

// Service is the vault timeout service.
type Service struct {
	keys    KeyStore
	index   Index
	caches  []Cache
	storage state.Store
	logger  *events.Logger

	mu       sync.Mutex
	timeout  time.Duration
	timer    *time.Timer
	onLocked func(ctx context.Context)
}

// NewService creates a lock service. timeout overrides the stored lock
// option when positive.
func NewService(keys KeyStore, index Index, storage state.Store, timeout time.Duration, logger *events.Logger, caches ...Cache) *Service {
	return &Service{
		keys:    keys,
		index:   index,
		caches:  caches,
		storage: storage,
		timeout: timeout,
		logger:  logger.WithField("service", "lock"),
	}
}

// SetLockedCallback installs fn, run after an automatic lock.
func (s *Service) SetLockedCallback(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onLocked = fn
	s.mu.Unlock()
}

// IsLocked reports whether the master key is absent.
func (s *Service) IsLocked(ctx context.Context) bool {
	return !s.keys.HasKey(ctx)
}

// Lock drops the master key, the decrypted encryption and organization
// keys, every decrypted cache and the search index. The protected keys
// stay in storage so the vault can be unlocked again.
func (s *Service) Lock(ctx context.Context) error {
	s.stopTimer()

	err := errors.Join(
		s.keys.ClearKey(ctx),
		s.keys.ClearEncKey(ctx, true),
		s.keys.ClearOrgKeys(ctx, true),
	)

	for _, c := range s.caches {
		c.ClearCache()
	}
	if s.index != nil {
		s.index.ClearIndex()
	}

	s.logger.Info("Vault locked")
	return err
}

// Timeout returns the inactivity period after which the vault locks, or 0
// when auto-lock is off.
func (s *Service) Timeout(ctx context.Context) time.Duration {
	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()
	if timeout > 0 {
		return timeout
	}

	var minutes int
	found, err := s.storage.Get(ctx, state.KeyLockOption, &minutes)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read lock option")
		return 0
	}
	if !found || minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// SetLockOption persists the auto-lock period in minutes. A value <= 0
// disables auto-lock.
func (s *Service) SetLockOption(ctx context.Context, minutes int) error {
	if err := s.storage.Save(ctx, state.KeyLockOption, minutes); err != nil {
		return err
	}
	s.Touch(ctx)
	return nil
}

// Touch records activity and re-arms the auto-lock timer. It does nothing
// while the vault is locked.
func (s *Service) Touch(ctx context.Context) {
	timeout := s.Timeout(ctx)
	if timeout <= 0 || s.IsLocked(ctx) {
		s.stopTimer()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Reset(timeout)
		return
	}
	s.timer = time.AfterFunc(timeout, s.expire)
}

func (s *Service) expire() {
	ctx := context.Background()
	s.logger.Info("Inactivity timeout reached")

	if err := s.Lock(ctx); err != nil {
		s.logger.WithError(err).Error("Auto-lock failed")
	}

	s.mu.Lock()
	fn := s.onLocked
	s.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

func (s *Service) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Close stops the auto-lock timer.
func (s *Service) Close() {
	s.stopTimer()
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// KeyLastSyncPrefix prefixes the per-account last sync time.
const KeyLastSyncPrefix = "lastSync_"

// Service provides high-level sync operations.
type Service struct {
	engine  *Engine
	server  Server
	account Account
	storage state.Store
	logger  *events.Logger

	onLogout func(ctx context.Context)
}

// NewService creates a sync service.
func NewService(deps Deps, storage state.Store, logger *events.Logger) *Service {
	return &Service{
		engine:  NewEngine(deps, logger),
		server:  deps.Server,
		account: deps.Account,
		storage: storage,
		logger:  logger.WithField("service", "sync"),
	}
}

// SetLogoutHandler installs the callback run when the server reports a
// different security stamp.
func (s *Service) SetLogoutHandler(fn func(ctx context.Context)) {
	s.onLogout = fn
}

// FullSync refreshes every local store from the server. Unless force is
// set, the sync is skipped when the server revision is not newer than the
// last sync. It reports whether a sync ran; a sync already in progress
// yields false without error.
func (s *Service) FullSync(ctx context.Context, force bool) (bool, error) {
	if s.engine.Syncing() {
		return false, nil
	}

	logger := events.Tag(ctx, s.logger)
	now := time.Now()
	if !force && !s.NeedsSync(ctx) {
		logger.Debug("Vault is up to date")
		s.engine.emitEvent(Event{Type: EventSkipped, Timestamp: now})
		return false, s.SetLastSync(ctx, now)
	}

	err := s.engine.Run(ctx)
	switch {
	case errors.Is(err, models.ErrSyncInProgress):
		return false, nil
	case errors.Is(err, ErrStampChanged):
		logger.Warn("Security stamp changed, logging out")
		if s.onLogout != nil {
			s.onLogout(ctx)
		}
		return false, err
	case err != nil:
		return false, err
	}

	return true, s.SetLastSync(ctx, now)
}

// NeedsSync reports whether the server copy changed since the last sync.
// A failure to ask the server counts as no change.
func (s *Service) NeedsSync(ctx context.Context) bool {
	last, err := s.GetLastSync(ctx)
	if err != nil || last.IsZero() {
		return true
	}

	revision, err := s.server.GetAccountRevisionDate(ctx)
	if err != nil {
		events.Tag(ctx, s.logger).WithError(err).Warn("Failed to read revision date")
		return false
	}
	return revision.After(last)
}

func (s *Service) lastSyncKey(ctx context.Context) (string, error) {
	userID, err := s.account.GetUserID(ctx)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", models.ErrNotAuthenticated
	}
	return KeyLastSyncPrefix + userID, nil
}

// GetLastSync returns the time of the last sync, or the zero time.
func (s *Service) GetLastSync(ctx context.Context) (time.Time, error) {
	key, err := s.lastSyncKey(ctx)
	if err != nil {
		return time.Time{}, err
	}

	var last time.Time
	if _, err := s.storage.Get(ctx, key, &last); err != nil {
		return time.Time{}, fmt.Errorf("read last sync: %w", err)
	}
	return last, nil
}

// SetLastSync records the time of the last sync.
func (s *Service) SetLastSync(ctx context.Context, at time.Time) error {
	key, err := s.lastSyncKey(ctx)
	if err != nil {
		return err
	}
	return s.storage.Save(ctx, key, at.UTC())
}

// GetProgress returns sync progress.
func (s *Service) GetProgress() *Progress {
	return s.engine.GetProgress()
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.engine.Events()
}

// Cancel stops an ongoing sync.
func (s *Service) Cancel() {
	s.engine.Cancel()
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// ErrStampChanged is returned when the server security stamp no longer
// matches the stored one. The session must be discarded.
var ErrStampChanged = errors.New("security stamp changed")

// Server is the part of the API the engine reads from.
type Server interface {
	GetSync(ctx context.Context) (*api.SyncResponse, error)
	GetAccountRevisionDate(ctx context.Context) (time.Time, error)
}

// Account holds the profile data refreshed by a sync.
type Account interface {
	GetUserID(ctx context.Context) (string, error)
	GetSecurityStamp(ctx context.Context) (string, error)
	SetSecurityStamp(ctx context.Context, stamp string) error
	ReplaceOrganizations(ctx context.Context, orgs []models.Organization) error
}

// KeyStore receives the protected keys delivered with the profile.
type KeyStore interface {
	SetEncKey(ctx context.Context, enc models.EncString) error
	SetOrgKeys(ctx context.Context, orgs []models.Organization) error
}

// Replacer swaps a whole local collection for the server copy.
type Replacer[T any] interface {
	Replace(ctx context.Context, items []T) error
}

// DomainStore keeps the equivalent domain groups.
type DomainStore interface {
	SetEquivalentDomains(ctx context.Context, domains [][]string) error
}

// Deps are the stores a sync writes into.
type Deps struct {
	Server      Server
	Account     Account
	Keys        KeyStore
	Folders     Replacer[models.Folder]
	Collections Replacer[models.Collection]
	Ciphers     Replacer[models.Cipher]
	Policies    Replacer[models.Policy]
	Domains     DomainStore
}

// Engine fetches the vault state and applies it to the local stores.
type Engine struct {
	deps   Deps
	logger *events.Logger

	// Progress tracking
	progress atomic.Value // *Progress
	events   chan Event

	// Sync state
	mu       sync.Mutex
	syncing  bool
	cancelFn context.CancelFunc
}

// Progress tracks sync progress.
type Progress struct {
	Phase       Phase
	Folders     int
	Collections int
	Ciphers     int
	Policies    int
	StartTime   time.Time
}

// Phase names a step of a sync.
type Phase string

const (
	PhaseFetching    Phase = "fetching"
	PhaseProfile     Phase = "profile"
	PhaseFolders     Phase = "folders"
	PhaseCollections Phase = "collections"
	PhaseCiphers     Phase = "ciphers"
	PhasePolicies    Phase = "policies"
	PhaseDomains     Phase = "domains"
	PhaseDone        Phase = "done"
)

// Event represents a sync event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Error     error
	Progress  *Progress
}

// EventType defines sync event types.
type EventType string

const (
	EventStarted   EventType = "started"
	EventPhase     EventType = "phase"
	EventSkipped   EventType = "skipped"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// NewEngine creates a sync engine.
func NewEngine(deps Deps, logger *events.Logger) *Engine {
	return &Engine{
		deps:   deps,
		logger: logger.WithField("component", "sync_engine"),
		events: make(chan Event, 100),
	}
}

// Events returns the event channel. Events are dropped when nobody reads.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// GetProgress returns current progress.
func (e *Engine) GetProgress() *Progress {
	if p := e.progress.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// Syncing reports whether a sync is running.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// Run performs one full sync. A concurrent call fails with
// models.ErrSyncInProgress.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return models.ErrSyncInProgress
	}
	e.syncing = true

	ctx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.syncing = false
		e.cancelFn = nil
		e.mu.Unlock()
	}()

	progress := &Progress{
		Phase:     PhaseFetching,
		StartTime: time.Now(),
	}
	e.progress.Store(progress)

	e.logger.Info("Starting sync")
	e.emitEvent(Event{
		Type:      EventStarted,
		Timestamp: time.Now(),
		Progress:  progress,
	})

	resp, err := e.deps.Server.GetSync(ctx)
	if err != nil {
		return e.handleError(err)
	}

	steps := []struct {
		phase Phase
		apply func(context.Context, *api.SyncResponse) error
	}{
		{PhaseProfile, e.syncProfile},
		{PhaseFolders, e.syncFolders},
		{PhaseCollections, e.syncCollections},
		{PhaseCiphers, e.syncCiphers},
		{PhasePolicies, e.syncPolicies},
		{PhaseDomains, e.syncDomains},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return e.handleError(err)
		}
		progress = e.advance(step.phase)
		e.emitEvent(Event{Type: EventPhase, Timestamp: time.Now(), Progress: progress})

		if err := step.apply(ctx, resp); err != nil {
			return e.handleError(fmt.Errorf("sync %s: %w", step.phase, err))
		}
	}

	progress = e.advance(PhaseDone)
	progress.Folders = len(resp.Folders)
	progress.Collections = len(resp.Collections)
	progress.Ciphers = len(resp.Ciphers)
	progress.Policies = len(resp.Policies)

	e.logger.WithFields(map[string]interface{}{
		"folders":     progress.Folders,
		"collections": progress.Collections,
		"ciphers":     progress.Ciphers,
		"duration":    time.Since(progress.StartTime).String(),
	}).Info("Sync completed")

	e.emitEvent(Event{
		Type:      EventCompleted,
		Timestamp: time.Now(),
		Progress:  progress,
	})
	return nil
}

// Cancel stops an ongoing sync.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelFn != nil {
		e.cancelFn()
	}
}

func (e *Engine) syncProfile(ctx context.Context, resp *api.SyncResponse) error {
	profile := resp.Profile

	stamp, err := e.deps.Account.GetSecurityStamp(ctx)
	if err != nil {
		return err
	}
	if stamp != "" && stamp != profile.SecurityStamp {
		return ErrStampChanged
	}

	if err := e.deps.Keys.SetEncKey(ctx, profile.Key); err != nil {
		return fmt.Errorf("store encryption key: %w", err)
	}
	if err := e.deps.Keys.SetOrgKeys(ctx, profile.Organizations); err != nil {
		return fmt.Errorf("store organization keys: %w", err)
	}
	if err := e.deps.Account.SetSecurityStamp(ctx, profile.SecurityStamp); err != nil {
		return err
	}
	return e.deps.Account.ReplaceOrganizations(ctx, profile.Organizations)
}

func (e *Engine) syncFolders(ctx context.Context, resp *api.SyncResponse) error {
	return e.deps.Folders.Replace(ctx, resp.Folders)
}

func (e *Engine) syncCollections(ctx context.Context, resp *api.SyncResponse) error {
	return e.deps.Collections.Replace(ctx, resp.Collections)
}

func (e *Engine) syncCiphers(ctx context.Context, resp *api.SyncResponse) error {
	return e.deps.Ciphers.Replace(ctx, resp.Ciphers)
}

func (e *Engine) syncPolicies(ctx context.Context, resp *api.SyncResponse) error {
	return e.deps.Policies.Replace(ctx, resp.Policies)
}

// syncDomains merges the account's own groups with the server-wide groups
// the account has not excluded.
func (e *Engine) syncDomains(ctx context.Context, resp *api.SyncResponse) error {
	var domains [][]string
	if resp.Domains != nil {
		domains = append(domains, resp.Domains.EquivalentDomains...)
		for _, global := range resp.Domains.GlobalEquivalentDomains {
			if global.Excluded || len(global.Domains) == 0 {
				continue
			}
			domains = append(domains, global.Domains)
		}
	}
	return e.deps.Domains.SetEquivalentDomains(ctx, domains)
}

// Helper methods

func (e *Engine) advance(phase Phase) *Progress {
	next := *e.GetProgress()
	next.Phase = phase
	e.progress.Store(&next)
	return &next
}

func (e *Engine) emitEvent(event Event) {
	select {
	case e.events <- event:
	default:
		e.logger.Debug("Event channel full, dropping event")
	}
}

func (e *Engine) handleError(err error) error {
	e.logger.WithError(err).Error("Sync failed")
	e.emitEvent(Event{
		Type:      EventFailed,
		Timestamp: time.Now(),
		Error:     err,
		Progress:  e.GetProgress(),
	})
	return err
}

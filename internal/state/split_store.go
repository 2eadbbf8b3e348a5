package state

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/events"
)

// Storage keys shared by several services.
const (
	KeyLockOption             = "lockOption"
	KeyLocale                 = "locale"
	KeyDisableFavicon         = "disableFavicon"
	KeyAutoConfirmFingerprint = "autoConfirmFingerprints"
	KeyCollapsedGroupings     = "collapsedGroupings"
)

// DefaultLockOption is the lock timeout in minutes seeded on first use.
const DefaultLockOption = 15

var persistentKeys = map[string]bool{
	"appId":                     true,
	"anonymousAppId":            true,
	"rememberedEmail":           true,
	"passwordGenerationOptions": true,
	KeyDisableFavicon:           true,
	KeyLockOption:               true,
	"rememberEmail":             true,
	"enableGravatars":           true,
	KeyLocale:                   true,
	KeyAutoConfirmFingerprint:   true,
}

var persistentPrefixes = []string{
	"twoFactorToken_",
	KeyCollapsedGroupings + "_",
}

// SplitStore routes device-level preferences to a persistent store and all
// other state to a session store that does not outlive the process.
type SplitStore struct {
	local   Store
	session Store
	devMode bool
	logger  *events.Logger
}

// NewSplitStore creates a routed store.
func NewSplitStore(local, session Store, devMode bool, logger *events.Logger) *SplitStore {
	return &SplitStore{
		local:   local,
		session: session,
		devMode: devMode,
		logger:  logger.WithField("component", "split_store"),
	}
}

// Init seeds the lock option when it was never set, except in dev mode.
func (s *SplitStore) Init(ctx context.Context) error {
	var lockOption int
	found, err := s.Get(ctx, KeyLockOption, &lockOption)
	if err != nil {
		return fmt.Errorf("read lock option: %w", err)
	}

	if !found && !s.devMode {
		s.logger.WithField("minutes", DefaultLockOption).Debug("Seeding default lock option")
		return s.Save(ctx, KeyLockOption, DefaultLockOption)
	}

	return nil
}

// IsPersistent reports whether key is routed to the persistent store.
func IsPersistent(key string) bool {
	if persistentKeys[key] {
		return true
	}
	for _, prefix := range persistentPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Get reads key from the store it is routed to.
func (s *SplitStore) Get(ctx context.Context, key string, out interface{}) (bool, error) {
	return s.route(key).Get(ctx, key, out)
}

// Save writes key to the store it is routed to.
func (s *SplitStore) Save(ctx context.Context, key string, value interface{}) error {
	return s.route(key).Save(ctx, key, value)
}

// Remove deletes key from the store it is routed to.
func (s *SplitStore) Remove(ctx context.Context, key string) error {
	return s.route(key).Remove(ctx, key)
}

// Keys returns the keys of both stores.
func (s *SplitStore) Keys(ctx context.Context) ([]string, error) {
	local, err := s.local.Keys(ctx)
	if err != nil || s.session == s.local {
		return local, err
	}
	session, err := s.session.Keys(ctx)
	if err != nil {
		return nil, err
	}

	keys := append(local, session...)
	sort.Strings(keys)
	return keys, nil
}

// Close closes both stores, once each when they are the same store.
func (s *SplitStore) Close() error {
	errLocal := s.local.Close()
	if s.session == s.local {
		return errLocal
	}
	errSession := s.session.Close()
	if errLocal != nil {
		return errLocal
	}
	return errSession
}

func (s *SplitStore) route(key string) Store {
	if IsPersistent(key) {
		return s.local
	}
	return s.session
}

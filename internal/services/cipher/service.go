package cipher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// KeyCiphersPrefix is the per-user storage key prefix.
const KeyCiphersPrefix = "ciphers_"

// SearchIndex is the part of the search service the cipher cache
// invalidates.
type SearchIndex interface {
	ClearIndex()
}

// Server is the part of the API used to persist ciphers remotely.
type Server interface {
	PostCipher(ctx context.Context, cipher *models.Cipher) (*models.Cipher, error)
	PutCipher(ctx context.Context, id string, cipher *models.Cipher) (*models.Cipher, error)
	DeleteCipher(ctx context.Context, id string) error
	PutShareCipher(ctx context.Context, id string, req api.CipherShareRequest) (*models.Cipher, error)
}

// UserIDSource exposes the signed-in account id.
type UserIDSource interface {
	GetUserID(ctx context.Context) (string, error)
}

// DomainSource resolves equivalent domains.
type DomainSource interface {
	EquivalentHosts(ctx context.Context, host string) ([]string, error)
}

// Service caches encrypted ciphers per account and their decrypted views.
type Service struct {
	codec       crypto.Codec
	users       UserIDSource
	domains     DomainSource
	server      Server
	storage     state.Store
	searchIndex func() SearchIndex
	logger      *events.Logger

	mu        sync.RWMutex
	decrypted []*models.CipherView
}

// NewService creates a cipher service. searchIndex is called lazily, so the
// search service may be built after this one.
func NewService(
	codec crypto.Codec,
	users UserIDSource,
	domains DomainSource,
	server Server,
	storage state.Store,
	searchIndex func() SearchIndex,
	logger *events.Logger,
) *Service {
	return &Service{
		codec:       codec,
		users:       users,
		domains:     domains,
		server:      server,
		storage:     storage,
		searchIndex: searchIndex,
		logger:      logger.WithField("service", "cipher"),
	}
}

// ClearCache drops the decrypted views and the search index.
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.decrypted = nil
	s.mu.Unlock()

	if s.searchIndex == nil {
		return
	}
	if idx := s.searchIndex(); idx != nil {
		idx.ClearIndex()
	}
}

// Encrypt seals view. When original is given and the password changed, the
// password revision date is bumped.
func (s *Service) Encrypt(ctx context.Context, view *models.CipherView, key *crypto.SymmetricKey, original *models.Cipher) (*models.Cipher, error) {
	if original != nil && view.IsLogin() && original.Login != nil {
		previous, err := Decrypt(ctx, s.codec, original)
		if err != nil {
			return nil, err
		}
		if previous.Password() != "" && previous.Password() != view.Login.Password {
			now := time.Now().UTC()
			view = view.Clone()
			view.Login.PasswordRevisionDate = &now
		}
	}

	return Encrypt(ctx, s.codec, view, key)
}

// Decrypt opens one cipher.
func (s *Service) Decrypt(ctx context.Context, c *models.Cipher) (*models.CipherView, error) {
	return Decrypt(ctx, s.codec, c)
}

func (s *Service) storageKey(ctx context.Context) (string, error) {
	id, err := s.users.GetUserID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", models.ErrNotAuthenticated
	}
	return KeyCiphersPrefix + id, nil
}

func (s *Service) load(ctx context.Context) (map[string]models.Cipher, string, error) {
	key, err := s.storageKey(ctx)
	if err != nil {
		return nil, "", err
	}

	ciphers := make(map[string]models.Cipher)
	if _, err := s.storage.Get(ctx, key, &ciphers); err != nil {
		return nil, "", fmt.Errorf("read ciphers: %w", err)
	}
	return ciphers, key, nil
}

// Get returns one encrypted cipher, or nil.
func (s *Service) Get(ctx context.Context, id string) (*models.Cipher, error) {
	ciphers, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := ciphers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// GetAll returns every encrypted cipher ordered by id.
func (s *Service) GetAll(ctx context.Context) ([]models.Cipher, error) {
	ciphers, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Cipher, 0, len(ciphers))
	for _, c := range ciphers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAllDecrypted returns copies of every decrypted view. Ciphers that
// cannot be decrypted are skipped.
func (s *Service) GetAllDecrypted(ctx context.Context) ([]*models.CipherView, error) {
	s.mu.RLock()
	cached := s.decrypted
	s.mu.RUnlock()

	if cached == nil {
		if _, err := s.codec.GetEncKey(ctx); err != nil {
			return nil, err
		}

		all, err := s.GetAll(ctx)
		if err != nil {
			return nil, err
		}

		cached = make([]*models.CipherView, 0, len(all))
		for i := range all {
			view, err := Decrypt(ctx, s.codec, &all[i])
			if err != nil {
				s.logger.WithError(err).WithField("cipher_id", all[i].ID).Warn("Skipping undecryptable cipher")
				continue
			}
			cached = append(cached, view)
		}

		s.mu.Lock()
		s.decrypted = cached
		s.mu.Unlock()
	}

	out := make([]*models.CipherView, len(cached))
	for i, v := range cached {
		out[i] = v.Clone()
	}
	return out, nil
}

// GetAllDecryptedForURL returns the logins matching rawURL, plus every
// item of the extra types.
func (s *Service) GetAllDecryptedForURL(ctx context.Context, rawURL string, extraTypes ...models.CipherType) ([]*models.CipherView, error) {
	host := models.HostOf(rawURL)
	if host == "" {
		return nil, nil
	}

	hosts := []string{host}
	if s.domains != nil {
		eq, err := s.domains.EquivalentHosts(ctx, host)
		if err != nil {
			return nil, err
		}
		hosts = eq
	}

	all, err := s.GetAllDecrypted(ctx)
	if err != nil {
		return nil, err
	}

	var out []*models.CipherView
	for _, view := range all {
		if containsType(extraTypes, view.Type) {
			out = append(out, view)
			continue
		}
		if view.IsLogin() && loginMatches(view.Login, rawURL, hosts) {
			out = append(out, view)
		}
	}
	return out, nil
}

func containsType(types []models.CipherType, t models.CipherType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func loginMatches(login *models.LoginView, rawURL string, hosts []string) bool {
	for _, u := range login.URIs {
		if URIMatches(u, rawURL, hosts) {
			return true
		}
	}
	return false
}

// URIMatches reports whether a login URI matches a page URL under the URI's
// match mode. hosts holds the page host and its equivalent domains.
func URIMatches(u models.LoginURIView, rawURL string, hosts []string) bool {
	match := models.UriMatchDomain
	if u.Match != nil {
		match = *u.Match
	}

	uriHost := models.HostOf(u.URI)
	switch match {
	case models.UriMatchDomain:
		if uriHost == "" {
			return false
		}
		base := models.BaseDomain(uriHost)
		for _, h := range hosts {
			if models.BaseDomain(h) == base {
				return true
			}
		}
		return false
	case models.UriMatchHost:
		for _, h := range hosts {
			if uriHost != "" && h == uriHost {
				return true
			}
		}
		return false
	case models.UriMatchStartsWith:
		return u.URI != "" && strings.HasPrefix(rawURL, u.URI)
	case models.UriMatchExact:
		return u.URI == rawURL
	case models.UriMatchRegularExpression:
		re, err := regexp.Compile("(?i)" + u.URI)
		return err == nil && re.MatchString(rawURL)
	default:
		return false
	}
}

// Upsert adds or replaces ciphers in the local cache.
func (s *Service) Upsert(ctx context.Context, ciphers ...models.Cipher) error {
	current, key, err := s.load(ctx)
	if err != nil {
		return err
	}

	for _, c := range ciphers {
		current[c.ID] = c
	}

	if err := s.storage.Save(ctx, key, current); err != nil {
		return fmt.Errorf("store ciphers: %w", err)
	}
	s.ClearCache()
	return nil
}

// Replace swaps the whole local cache.
func (s *Service) Replace(ctx context.Context, ciphers []models.Cipher) error {
	key, err := s.storageKey(ctx)
	if err != nil {
		return err
	}

	all := make(map[string]models.Cipher, len(ciphers))
	for _, c := range ciphers {
		all[c.ID] = c
	}

	if err := s.storage.Save(ctx, key, all); err != nil {
		return fmt.Errorf("store ciphers: %w", err)
	}
	s.ClearCache()
	return nil
}

// Delete removes ciphers from the local cache.
func (s *Service) Delete(ctx context.Context, ids ...string) error {
	current, key, err := s.load(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		delete(current, id)
	}

	if err := s.storage.Save(ctx, key, current); err != nil {
		return fmt.Errorf("store ciphers: %w", err)
	}
	s.ClearCache()
	return nil
}

// Clear drops the local cache of a user.
func (s *Service) Clear(ctx context.Context, userID string) error {
	s.ClearCache()
	if userID == "" {
		return nil
	}
	return s.storage.Remove(ctx, KeyCiphersPrefix+userID)
}

// SaveWithServer creates or updates c remotely and caches the answer.
func (s *Service) SaveWithServer(ctx context.Context, c *models.Cipher) (*models.Cipher, error) {
	var (
		saved *models.Cipher
		err   error
	)
	if c.ID == "" {
		saved, err = s.server.PostCipher(ctx, c)
	} else {
		saved, err = s.server.PutCipher(ctx, c.ID, c)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Upsert(ctx, *saved); err != nil {
		return nil, err
	}

	s.logger.WithField("cipher_id", saved.ID).Debug("Cipher saved")
	return saved, nil
}

// ShareWithServer re-encrypts view with the key of orgID and moves it into
// the organization.
func (s *Service) ShareWithServer(ctx context.Context, view *models.CipherView, orgID string, collectionIDs []string) (*models.Cipher, error) {
	if view.ID == "" {
		return nil, errors.New("cannot share an unsaved cipher")
	}

	key, err := s.codec.GetOrgKey(ctx, orgID)
	if err != nil {
		return nil, err
	}

	shared := view.Clone()
	shared.OrganizationID = orgID
	shared.CollectionIDs = append([]string(nil), collectionIDs...)

	enc, err := Encrypt(ctx, s.codec, shared, key)
	if err != nil {
		return nil, err
	}

	saved, err := s.server.PutShareCipher(ctx, view.ID, api.CipherShareRequest{
		Cipher:        *enc,
		CollectionIDs: collectionIDs,
	})
	if err != nil {
		return nil, err
	}

	if err := s.Upsert(ctx, *saved); err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteWithServer deletes a cipher remotely and locally.
func (s *Service) DeleteWithServer(ctx context.Context, id string) error {
	if err := s.server.DeleteCipher(ctx, id); err != nil {
		return err
	}
	return s.Delete(ctx, id)
}

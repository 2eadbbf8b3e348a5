package search

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// MinQueryLength is the shortest query searched through the index.
const MinQueryLength = 2

// CipherSource lists the decrypted vault items.
type CipherSource interface {
	GetAllDecrypted(ctx context.Context) ([]*models.CipherView, error)
}

// Filter keeps the items for which it returns true.
type Filter func(*models.CipherView) bool

// OfType keeps the items of one type.
func OfType(t models.CipherType) Filter {
	return func(v *models.CipherView) bool { return v.Type == t }
}

// InOrganization keeps the items owned by orgID.
func InOrganization(orgID string) Filter {
	return func(v *models.CipherView) bool { return v.OrganizationID == orgID }
}

type entry struct {
	view   *models.CipherView
	tokens []string
}

// Service keeps an in-memory token index over the decrypted items.
type Service struct {
	ciphers CipherSource
	logger  *events.Logger

	mu       sync.RWMutex
	index    []entry
	indexing bool
}

// NewService creates a search service.
func NewService(ciphers CipherSource, logger *events.Logger) *Service {
	return &Service{
		ciphers: ciphers,
		logger:  logger.WithField("service", "search"),
	}
}

// ClearIndex drops the index. The next search rebuilds it.
func (s *Service) ClearIndex() {
	s.mu.Lock()
	s.index = nil
	s.mu.Unlock()
}

// IsIndexed reports whether an index is present.
func (s *Service) IsIndexed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index != nil
}

// IsSearchable reports whether query is worth running through the index.
func (s *Service) IsSearchable(query string) bool {
	return len([]rune(strings.TrimSpace(query))) >= MinQueryLength
}

// IndexCiphers rebuilds the index from the decrypted items.
func (s *Service) IndexCiphers(ctx context.Context) error {
	s.mu.Lock()
	if s.indexing {
		s.mu.Unlock()
		return nil
	}
	s.indexing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.indexing = false
		s.mu.Unlock()
	}()

	views, err := s.ciphers.GetAllDecrypted(ctx)
	if err != nil {
		return err
	}

	index := make([]entry, 0, len(views))
	for _, v := range views {
		index = append(index, entry{view: v, tokens: tokensOf(v)})
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	s.logger.WithField("count", len(index)).Debug("Search index built")
	return nil
}

// SearchCiphers returns the items matching every term of query and every
// filter. An unsearchable query only applies the filters.
func (s *Service) SearchCiphers(ctx context.Context, query string, filters ...Filter) ([]*models.CipherView, error) {
	if !s.IsIndexed() {
		if err := s.IndexCiphers(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	index := s.index
	s.mu.RUnlock()

	terms := tokenize(query)
	searchable := s.IsSearchable(query)

	var out []*models.CipherView
	for _, e := range index {
		if !passes(e.view, filters) {
			continue
		}
		if searchable && !matchesAll(e.tokens, terms) {
			continue
		}
		out = append(out, e.view.Clone())
	}
	return out, nil
}

// SearchCiphersBasic does a plain substring search over names, usernames,
// URIs and ids without using the index.
func (s *Service) SearchCiphersBasic(ciphers []*models.CipherView, query string) []*models.CipherView {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return ciphers
	}

	var out []*models.CipherView
	for _, v := range ciphers {
		if strings.Contains(strings.ToLower(v.Name), query) ||
			strings.HasPrefix(v.ID, query) ||
			strings.Contains(strings.ToLower(v.Username()), query) {
			out = append(out, v)
			continue
		}
		if v.Login != nil {
			for _, u := range v.Login.URIs {
				if strings.Contains(strings.ToLower(u.URI), query) {
					out = append(out, v)
					break
				}
			}
		}
	}
	return out
}

func passes(v *models.CipherView, filters []Filter) bool {
	for _, f := range filters {
		if f != nil && !f(v) {
			return false
		}
	}
	return true
}

func matchesAll(tokens, terms []string) bool {
	for _, term := range terms {
		found := false
		for _, tok := range tokens {
			if strings.HasPrefix(tok, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func tokensOf(v *models.CipherView) []string {
	var tokens []string
	add := func(s string) { tokens = append(tokens, tokenize(s)...) }

	add(v.Name)
	add(v.Notes)
	if v.ID != "" {
		tokens = append(tokens, strings.ToLower(v.ID))
	}
	if v.Login != nil {
		add(v.Login.Username)
		for _, u := range v.Login.URIs {
			if host := models.HostOf(u.URI); host != "" {
				tokens = append(tokens, host)
				add(host)
			}
		}
	}
	if v.Card != nil {
		add(v.Card.Brand)
		add(v.Card.CardholderName)
	}
	if v.Identity != nil {
		add(v.Identity.FirstName)
		add(v.Identity.LastName)
		add(v.Identity.Email)
	}
	for _, f := range v.Fields {
		if f.Type != models.FieldTypeHidden {
			add(f.Name)
			add(f.Value)
		}
	}
	return tokens
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// KeyPoliciesPrefix is the per-user storage key prefix.
const KeyPoliciesPrefix = "policies_"

// UserIDSource exposes the signed-in account id.
type UserIDSource interface {
	GetUserID(ctx context.Context) (string, error)
}

// GeneratorRequirements is the union of the enabled password generator
// policies. The zero value imposes nothing.
type GeneratorRequirements struct {
	MinLength  int
	UseUpper   bool
	UseLower   bool
	UseNumbers bool
	UseSpecial bool
	MinNumbers int
	MinSpecial int
}

// Service stores organization policies delivered by sync.
type Service struct {
	users   UserIDSource
	storage state.Store
	logger  *events.Logger
}

// NewService creates a policy service.
func NewService(users UserIDSource, storage state.Store, logger *events.Logger) *Service {
	return &Service{
		users:   users,
		storage: storage,
		logger:  logger.WithField("service", "policy"),
	}
}

func (s *Service) key(ctx context.Context) (string, error) {
	id, err := s.users.GetUserID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", models.ErrNotAuthenticated
	}
	return KeyPoliciesPrefix + id, nil
}

// Replace swaps all policies.
func (s *Service) Replace(ctx context.Context, policies []models.Policy) error {
	key, err := s.key(ctx)
	if err != nil {
		return err
	}
	if err := s.storage.Save(ctx, key, policies); err != nil {
		return fmt.Errorf("store policies: %w", err)
	}
	return nil
}

// GetAll returns the policies of the given types, or every policy when no
// type is given.
func (s *Service) GetAll(ctx context.Context, types ...models.PolicyType) ([]models.Policy, error) {
	key, err := s.key(ctx)
	if err != nil {
		return nil, err
	}

	var policies []models.Policy
	if _, err := s.storage.Get(ctx, key, &policies); err != nil {
		return nil, fmt.Errorf("read policies: %w", err)
	}

	if len(types) == 0 {
		return policies, nil
	}

	var out []models.Policy
	for _, p := range policies {
		for _, t := range types {
			if p.Type == t {
				out = append(out, p)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrganizationID < out[j].OrganizationID })
	return out, nil
}

// GeneratorRequirements merges the enabled password generator policies.
// Unauthenticated callers get no requirements.
func (s *Service) GeneratorRequirements(ctx context.Context) (GeneratorRequirements, error) {
	var req GeneratorRequirements

	policies, err := s.GetAll(ctx, models.PolicyPasswordGenerator)
	if err != nil {
		if errors.Is(err, models.ErrNotAuthenticated) {
			return req, nil
		}
		return req, err
	}

	for _, p := range policies {
		if !p.Enabled || p.Data == nil {
			continue
		}
		req.MinLength = maxInt(req.MinLength, intValue(p.Data["minLength"]))
		req.MinNumbers = maxInt(req.MinNumbers, intValue(p.Data["minNumbers"]))
		req.MinSpecial = maxInt(req.MinSpecial, intValue(p.Data["minSpecial"]))
		req.UseUpper = req.UseUpper || boolValue(p.Data["useUpper"])
		req.UseLower = req.UseLower || boolValue(p.Data["useLower"])
		req.UseNumbers = req.UseNumbers || boolValue(p.Data["useNumbers"])
		req.UseSpecial = req.UseSpecial || boolValue(p.Data["useSpecial"])
	}
	return req, nil
}

// Clear drops the policies of a user.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return s.storage.Remove(ctx, KeyPoliciesPrefix+userID)
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func boolValue(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

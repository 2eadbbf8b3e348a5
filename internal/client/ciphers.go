package client

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/passgen"
)

// Filter narrows GetAllDecrypted. Zero fields match everything.
type Filter struct {
	Type models.CipherType
	URI  string
}

// Search narrows GetAllDecryptedFor. Username and Name accept anything
// WeakMatch understands; a zero value skips the criterion.
type Search struct {
	Type     models.CipherType
	URI      string
	Username interface{}
	Name     interface{}
}

// GetAll returns the encrypted ciphers, all of them when t is zero.
func (c *Client) GetAll(ctx context.Context, t models.CipherType) ([]models.Cipher, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	all, err := c.services.Cipher.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if t == 0 {
		return all, nil
	}

	out := make([]models.Cipher, 0, len(all))
	for _, cipher := range all {
		if cipher.Type == t {
			out = append(out, cipher)
		}
	}
	return out, nil
}

// GetAllLogins returns the encrypted logins.
func (c *Client) GetAllLogins(ctx context.Context) ([]models.Cipher, error) {
	return c.GetAll(ctx, models.CipherTypeLogin)
}

// Decrypt opens one cipher.
func (c *Client) Decrypt(ctx context.Context, cipher *models.Cipher) (*models.CipherView, error) {
	view, err := c.services.Cipher.Decrypt(ctx, cipher)
	return view, keyError("decrypt", err)
}

// GetAllDecrypted returns the decrypted items matching f. With a URI only
// logins for that site are considered.
func (c *Client) GetAllDecrypted(ctx context.Context, f Filter) ([]*models.CipherView, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	var (
		all []*models.CipherView
		err error
	)
	if f.URI != "" {
		all, err = c.services.Cipher.GetAllDecryptedForURL(ctx, f.URI)
	} else {
		all, err = c.services.Cipher.GetAllDecrypted(ctx)
	}
	if err != nil {
		return nil, keyError("decrypt", err)
	}
	c.services.Lock.Touch(ctx)

	if f.Type == 0 {
		return all, nil
	}
	out := make([]*models.CipherView, 0, len(all))
	for _, view := range all {
		if view.Type == f.Type {
			out = append(out, view)
		}
	}
	return out, nil
}

// GetAllDecryptedLogins returns every decrypted login.
func (c *Client) GetAllDecryptedLogins(ctx context.Context) ([]*models.CipherView, error) {
	return c.GetAllDecrypted(ctx, Filter{Type: models.CipherTypeLogin})
}

// GetAllDecryptedFor returns the decrypted items matching s.
func (c *Client) GetAllDecryptedFor(ctx context.Context, s Search) ([]*models.CipherView, error) {
	all, err := c.GetAllDecrypted(ctx, Filter{Type: s.Type, URI: s.URI})
	if err != nil {
		return nil, err
	}

	out := make([]*models.CipherView, 0, len(all))
	for _, view := range all {
		if truthy(s.Username) {
			if view.Login == nil || !WeakMatch(view.Login.Username, s.Username) {
				continue
			}
		}
		if truthy(s.Name) && !WeakMatch(view.Name, s.Name) {
			continue
		}
		out = append(out, view)
	}
	return out, nil
}

// GetByIDOrSearch returns the cipher with id, or else the first result of
// search ordered by less. A nil less keeps the vault order. It returns nil
// when nothing matches.
func (c *Client) GetByIDOrSearch(ctx context.Context, id string, search *Search, less func(a, b *models.CipherView) bool) (*models.Cipher, error) {
	if id != "" {
		cipher, err := c.Get(ctx, id)
		if err != nil || cipher != nil {
			return cipher, err
		}
	}
	if search == nil {
		return nil, nil
	}

	all, err := c.GetAllDecryptedFor(ctx, *search)
	if err != nil {
		return nil, err
	}
	if less != nil {
		sort.SliceStable(all, func(i, j int) bool { return less(all[i], all[j]) })
	}
	if len(all) == 0 || all[0].ID == "" {
		return nil, nil
	}
	return c.Get(ctx, all[0].ID)
}

// Get returns the encrypted cipher with id, or nil.
func (c *Client) Get(ctx context.Context, id string) (*models.Cipher, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	return c.services.Cipher.Get(ctx, id)
}

// GeneratePassword generates a password. Nil opts uses the saved
// options.
func (c *Client) GeneratePassword(ctx context.Context, opts *passgen.Options) (string, error) {
	if err := c.ready(ctx); err != nil {
		return "", err
	}

	var o passgen.Options
	if opts != nil {
		o = *opts
	} else {
		saved, err := c.services.PassGen.GetOptions(ctx)
		if err != nil {
			return "", err
		}
		o = saved
	}
	return c.services.PassGen.GeneratePassword(ctx, o)
}

// Encrypt seals view with the key of its owner.
func (c *Client) Encrypt(ctx context.Context, view *models.CipherView) (*models.Cipher, error) {
	return c.CreateOrUpdateCipher(ctx, view, nil)
}

// CreateOrUpdateCipher seals view with its organization key, or the user
// encryption key for personal items. original is the cipher view replaces,
// if any.
func (c *Client) CreateOrUpdateCipher(ctx context.Context, view *models.CipherView, original *models.Cipher) (*models.Cipher, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	var (
		key *crypto.SymmetricKey
		err error
	)
	if view.OrganizationID != "" {
		key, err = c.services.Crypto.GetOrgKey(ctx, view.OrganizationID)
	} else {
		key, err = c.services.Crypto.GetEncKey(ctx)
	}
	if err != nil {
		return nil, keyError("encrypt", err)
	}

	cipher, err := c.services.Cipher.Encrypt(ctx, view, key, original)
	return cipher, keyError("encrypt", err)
}

// SaveCipher creates or updates cipher on the server.
func (c *Client) SaveCipher(ctx context.Context, cipher *models.Cipher) (*models.Cipher, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	return c.services.Cipher.SaveWithServer(ctx, cipher)
}

// DeleteCipher deletes the cipher with id on the server.
func (c *Client) DeleteCipher(ctx context.Context, id string) error {
	ctx = c.begin(ctx, "delete")
	if err := c.ready(ctx); err != nil {
		return err
	}
	return c.services.Cipher.DeleteWithServer(ctx, id)
}

// ShareWithCozy moves view into the platform organization and all of its
// collections.
func (c *Client) ShareWithCozy(ctx context.Context, view *models.CipherView) (*models.Cipher, error) {
	ctx = c.begin(ctx, "share")
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	org, err := c.cozyOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if view.OrganizationID == org.ID {
		return c.services.Cipher.Get(ctx, view.ID)
	}

	collections, err := c.services.Collection.GetAllForOrganization(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(collections))
	for i, col := range collections {
		ids[i] = col.ID
	}

	events.Tag(ctx, c.logger).WithFields(map[string]interface{}{
		"cipher_id":       view.ID,
		"organization_id": org.ID,
		"collections":     len(ids),
	}).Info("Sharing cipher")

	shared, err := c.services.Cipher.ShareWithServer(ctx, view, org.ID, ids)
	return shared, keyError("share", err)
}

// cozyOrganization picks the organization named by the platform settings,
// or else the first one whose name matches the configured pattern.
func (c *Client) cozyOrganization(ctx context.Context) (*models.Organization, error) {
	orgs, err := c.services.User.GetAllOrganizations(ctx)
	if err != nil {
		return nil, err
	}

	settings, err := c.platform.GetSettings(ctx)
	if err != nil {
		events.Tag(ctx, c.logger).WithError(err).Debug("Platform settings unavailable")
	}
	if settings.OrganizationID != "" {
		for i := range orgs {
			if orgs[i].ID == settings.OrganizationID {
				return &orgs[i], nil
			}
		}
	}

	pattern, err := regexp.Compile(c.cfg.Platform.OrganizationPattern)
	if err != nil {
		return nil, fmt.Errorf("organization pattern: %w", err)
	}
	for i := range orgs {
		if orgs[i].Name != "" && pattern.MatchString(orgs[i].Name) {
			return &orgs[i], nil
		}
	}
	return nil, models.NewVaultError(models.ErrCodeOrganizationNotFound, "share", nil)
}

// keyError turns a missing key into NO_ENCRYPTION_KEY.
func keyError(op string, err error) error {
	if errors.Is(err, crypto.ErrKeyUnavailable) {
		return models.NewVaultError(models.ErrCodeNoEncryptionKey, op, err)
	}
	return err
}

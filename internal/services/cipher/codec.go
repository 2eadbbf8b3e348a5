package cipher

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// sealer encrypts fields one after another and keeps the first error.
type sealer struct {
	ctx   context.Context
	codec crypto.Codec
	key   *crypto.SymmetricKey
	err   error
}

func (s *sealer) seal(plain string) models.EncString {
	if s.err != nil {
		return ""
	}
	enc, err := s.codec.EncryptString(s.ctx, plain, s.key)
	if err != nil {
		s.err = err
	}
	return enc
}

// opener is the decrypting counterpart of sealer.
type opener struct {
	ctx   context.Context
	codec crypto.Codec
	key   *crypto.SymmetricKey
	field string
	err   error
}

func (o *opener) open(field string, enc models.EncString) string {
	if o.err != nil {
		return ""
	}
	plain, err := o.codec.DecryptString(o.ctx, enc, o.key)
	if err != nil {
		o.err = err
		o.field = field
	}
	return plain
}

// Encrypt seals view under key. The caller picks the key: the organization
// key for organization items, the encryption key otherwise.
func Encrypt(ctx context.Context, codec crypto.Codec, view *models.CipherView, key *crypto.SymmetricKey) (*models.Cipher, error) {
	if key == nil {
		var err error
		if key, err = codec.GetOrgKey(ctx, view.OrganizationID); err != nil {
			return nil, err
		}
	}

	s := &sealer{ctx: ctx, codec: codec, key: key}
	c := &models.Cipher{
		ID:             view.ID,
		OrganizationID: view.OrganizationID,
		FolderID:       view.FolderID,
		Type:           view.Type,
		Favorite:       view.Favorite,
		RevisionDate:   view.RevisionDate,
		CollectionIDs:  append([]string(nil), view.CollectionIDs...),
		Name:           s.seal(view.Name),
		Notes:          s.seal(view.Notes),
	}

	for _, f := range view.Fields {
		c.Fields = append(c.Fields, models.Field{
			Name:  s.seal(f.Name),
			Value: s.seal(f.Value),
			Type:  f.Type,
		})
	}

	switch view.Type {
	case models.CipherTypeLogin:
		if l := view.Login; l != nil {
			login := &models.Login{
				Username:             s.seal(l.Username),
				Password:             s.seal(l.Password),
				TOTP:                 s.seal(l.TOTP),
				PasswordRevisionDate: l.PasswordRevisionDate,
			}
			for _, u := range l.URIs {
				login.URIs = append(login.URIs, models.LoginURI{URI: s.seal(u.URI), Match: u.Match})
			}
			c.Login = login
		}
	case models.CipherTypeCard:
		if card := view.Card; card != nil {
			c.Card = &models.Card{
				CardholderName: s.seal(card.CardholderName),
				Brand:          s.seal(card.Brand),
				Number:         s.seal(card.Number),
				ExpMonth:       s.seal(card.ExpMonth),
				ExpYear:        s.seal(card.ExpYear),
				Code:           s.seal(card.Code),
			}
		}
	case models.CipherTypeIdentity:
		if id := view.Identity; id != nil {
			c.Identity = &models.Identity{
				Title:     s.seal(id.Title),
				FirstName: s.seal(id.FirstName),
				LastName:  s.seal(id.LastName),
				Email:     s.seal(id.Email),
				Phone:     s.seal(id.Phone),
				Company:   s.seal(id.Company),
				Username:  s.seal(id.Username),
			}
		}
	case models.CipherTypeSecureNote:
		note := models.SecureNote{}
		if view.SecureNote != nil {
			note = *view.SecureNote
		}
		c.SecureNote = &note
	}

	if s.err != nil {
		return nil, fmt.Errorf("encrypt cipher: %w", s.err)
	}
	return c, nil
}

// Decrypt opens c with the key of its owner taken from keys.
func Decrypt(ctx context.Context, codec crypto.Codec, c *models.Cipher) (*models.CipherView, error) {
	key, err := codec.GetOrgKey(ctx, c.OrganizationID)
	if err != nil {
		return nil, err
	}

	o := &opener{ctx: ctx, codec: codec, key: key}
	view := &models.CipherView{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		FolderID:       c.FolderID,
		Type:           c.Type,
		Favorite:       c.Favorite,
		RevisionDate:   c.RevisionDate,
		CollectionIDs:  append([]string(nil), c.CollectionIDs...),
		Name:           o.open("name", c.Name),
		Notes:          o.open("notes", c.Notes),
	}

	for _, f := range c.Fields {
		view.Fields = append(view.Fields, models.FieldView{
			Name:  o.open("field.name", f.Name),
			Value: o.open("field.value", f.Value),
			Type:  f.Type,
		})
	}

	if l := c.Login; l != nil {
		login := &models.LoginView{
			Username:             o.open("login.username", l.Username),
			Password:             o.open("login.password", l.Password),
			TOTP:                 o.open("login.totp", l.TOTP),
			PasswordRevisionDate: l.PasswordRevisionDate,
		}
		for _, u := range l.URIs {
			login.URIs = append(login.URIs, models.LoginURIView{URI: o.open("login.uri", u.URI), Match: u.Match})
		}
		view.Login = login
	}

	if card := c.Card; card != nil {
		view.Card = &models.CardView{
			CardholderName: o.open("card.cardholderName", card.CardholderName),
			Brand:          o.open("card.brand", card.Brand),
			Number:         o.open("card.number", card.Number),
			ExpMonth:       o.open("card.expMonth", card.ExpMonth),
			ExpYear:        o.open("card.expYear", card.ExpYear),
			Code:           o.open("card.code", card.Code),
		}
	}

	if id := c.Identity; id != nil {
		view.Identity = &models.IdentityView{
			Title:     o.open("identity.title", id.Title),
			FirstName: o.open("identity.firstName", id.FirstName),
			LastName:  o.open("identity.lastName", id.LastName),
			Email:     o.open("identity.email", id.Email),
			Phone:     o.open("identity.phone", id.Phone),
			Company:   o.open("identity.company", id.Company),
			Username:  o.open("identity.username", id.Username),
		}
	}

	if c.SecureNote != nil {
		note := *c.SecureNote
		view.SecureNote = &note
	}

	if o.err != nil {
		return nil, &models.DecryptError{Field: o.field, Reason: "cannot decrypt", Err: o.err}
	}
	return view, nil
}

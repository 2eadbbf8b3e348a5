package client

import (
	"context"
	"fmt"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// PasswordChange is a prepared master password change.
type PasswordChange struct {
	CurrentHash string
	NewHash     string
	NewEncKey   models.EncString
	KDF         models.KdfType
	Iterations  int

	newPassword string
	kdfChanged  bool
}

// ComputeNewHashAndKeys derives the hashes and the re-protected encryption
// key for a password change without contacting the server. The vault must
// be unlocked.
func (c *Client) ComputeNewHashAndKeys(ctx context.Context, currentPassword, newPassword string, kdf models.KdfType, iterations int) (*PasswordChange, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	current, found, err := c.services.User.GetKdf(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.NewVaultError(models.ErrCodeNotAuthenticated, "change password", nil)
	}
	if err := (models.KdfConfig{Kdf: kdf, Iterations: iterations}).Validate(); err != nil {
		return nil, err
	}

	crypto := c.services.Crypto
	currentKey, err := crypto.MakeKey(currentPassword, c.Email, current.Kdf, current.Iterations)
	if err != nil {
		return nil, fmt.Errorf("make current key: %w", err)
	}
	defer currentKey.Wipe()
	currentHash, err := crypto.HashPassword(currentPassword, currentKey)
	if err != nil {
		return nil, err
	}

	newKey, err := crypto.MakeKey(newPassword, c.Email, kdf, iterations)
	if err != nil {
		return nil, fmt.Errorf("make new key: %w", err)
	}
	defer newKey.Wipe()
	newHash, err := crypto.HashPassword(newPassword, newKey)
	if err != nil {
		return nil, err
	}
	encKey, err := crypto.RemakeEncKey(ctx, newKey)
	if err != nil {
		return nil, keyError("change password", err)
	}

	return &PasswordChange{
		CurrentHash: currentHash,
		NewHash:     newHash,
		NewEncKey:   encKey,
		KDF:         kdf,
		Iterations:  iterations,
		newPassword: newPassword,
		kdfChanged:  kdf != current.Kdf || iterations != current.Iterations,
	}, nil
}

// ChangePassword commits change, then logs in again with the new password
// and emits passwordChange.
func (c *Client) ChangePassword(ctx context.Context, change *PasswordChange) error {
	ctx = c.begin(ctx, "change_password")
	if err := c.ready(ctx); err != nil {
		return err
	}

	req := api.PasswordRequest{
		MasterPasswordHash:    change.CurrentHash,
		NewMasterPasswordHash: change.NewHash,
		Key:                   change.NewEncKey,
	}

	var err error
	if change.kdfChanged {
		err = c.services.API.PostAccountKdf(ctx, api.KdfRequest{
			PasswordRequest: req,
			Kdf:             change.KDF,
			KdfIterations:   change.Iterations,
		})
	} else {
		err = c.services.API.PostPassword(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	events.Tag(ctx, c.logger).WithField("kdf_changed", change.kdfChanged).Info("Master password changed")

	if err := c.services.Auth.LogOut(ctx); err != nil {
		events.Tag(ctx, c.logger).WithError(err).Warn("Logout incomplete")
	}
	if err := c.Login(ctx, change.newPassword); err != nil {
		return err
	}
	c.bus.Emit(events.EventPasswordChange, c)
	return nil
}

// ChangeEmailRequest always fails: the email is derived from the instance.
func (c *Client) ChangeEmailRequest(ctx context.Context, email, password string) error {
	return models.NewVaultError(models.ErrCodeEmailImmutable, "change email", nil)
}

// ChangeEmail always fails: the email is derived from the instance.
func (c *Client) ChangeEmail(ctx context.Context, email, password, token string) error {
	return models.NewVaultError(models.ErrCodeEmailImmutable, "change email", nil)
}

// Package unlock decides when a locked vault should ask for its master
// password and drives the unlock form state.
package unlock

import (
	"context"
	"errors"
	"sync"
)

// ErrMissingOnUnlock is returned when a form is shown without an OnUnlock
// callback.
var ErrMissingOnUnlock = errors.New("unlock form needs an OnUnlock callback")

// Locker is the part of the vault client the policy looks at.
type Locker interface {
	IsLocked(ctx context.Context) bool
}

// Vault is a Locker that can be unlocked.
type Vault interface {
	Locker
	Unlock(ctx context.Context, password string) error
}

// CheckFunc is an extra condition for showing the unlock form.
type CheckFunc func(ctx context.Context) bool

// ShouldUnlock reports whether the unlock form must be shown: check holds
// and the vault is locked. A nil check always holds. check runs first.
func ShouldUnlock(ctx context.Context, vault Locker, check CheckFunc) bool {
	if check != nil && !check(ctx) {
		return false
	}
	return vault.IsLocked(ctx)
}

// Any holds when one of checks holds.
func Any(checks ...CheckFunc) CheckFunc {
	return func(ctx context.Context) bool {
		for _, check := range checks {
			if check(ctx) {
				return true
			}
		}
		return false
	}
}

// All holds when every check holds.
func All(checks ...CheckFunc) CheckFunc {
	return func(ctx context.Context) bool {
		for _, check := range checks {
			if !check(ctx) {
				return false
			}
		}
		return true
	}
}

// FormProps configures an unlock form.
type FormProps struct {
	// OnUnlock runs once the vault is unlocked. Required.
	OnUnlock func()
	// OnDismiss runs when the user closes the form.
	OnDismiss func()
	// Check restricts when the form is shown. See ShouldUnlock.
	Check CheckFunc
}

// Controller tracks whether the unlock form is showing.
type Controller struct {
	vault Vault

	mu      sync.Mutex
	showing bool
	props   FormProps
}

// NewController creates a controller for vault.
func NewController(vault Vault) *Controller {
	return &Controller{vault: vault}
}

// ShowUnlockForm shows the form when the vault needs unlocking, otherwise
// it calls props.OnUnlock right away.
func (c *Controller) ShowUnlockForm(ctx context.Context, props FormProps) error {
	if props.OnUnlock == nil {
		return ErrMissingOnUnlock
	}

	if !ShouldUnlock(ctx, c.vault, props.Check) {
		props.OnUnlock()
		return nil
	}

	onUnlock, onDismiss := props.OnUnlock, props.OnDismiss
	props.OnUnlock = func() {
		c.hide()
		onUnlock()
	}
	props.OnDismiss = func() {
		c.hide()
		if onDismiss != nil {
			onDismiss()
		}
	}

	c.mu.Lock()
	c.showing = true
	c.props = props
	c.mu.Unlock()
	return nil
}

// Showing reports whether the form is visible.
func (c *Controller) Showing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showing
}

// Props returns the props of the visible form.
func (c *Controller) Props() FormProps {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.props
}

// Unlock submits password. The form's OnUnlock fires once the vault is
// unlocked; a wrong password leaves the form showing.
func (c *Controller) Unlock(ctx context.Context, password string) error {
	if err := c.vault.Unlock(ctx, password); err != nil {
		return err
	}
	if c.vault.IsLocked(ctx) {
		return nil
	}

	c.mu.Lock()
	onUnlock := c.props.OnUnlock
	c.mu.Unlock()
	if onUnlock != nil {
		onUnlock()
	}
	return nil
}

// Dismiss closes the form.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	onDismiss := c.props.OnDismiss
	c.mu.Unlock()

	if onDismiss != nil {
		onDismiss()
		return
	}
	c.hide()
}

func (c *Controller) hide() {
	c.mu.Lock()
	c.showing = false
	c.props = FormProps{}
	c.mu.Unlock()
}

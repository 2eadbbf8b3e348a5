package unlock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/unlock"
)

type fakeVault struct {
	locked   bool
	password string
	err      error
	calls    int
}

func (v *fakeVault) IsLocked(context.Context) bool {
	v.calls++
	return v.locked
}

func (v *fakeVault) Unlock(_ context.Context, password string) error {
	if v.err != nil {
		return v.err
	}
	if password == v.password {
		v.locked = false
	}
	return nil
}

func constant(b bool) unlock.CheckFunc {
	return func(context.Context) bool { return b }
}

func TestShouldUnlock(t *testing.T) {
	tests := []struct {
		name   string
		locked bool
		check  unlock.CheckFunc
		want   bool
	}{
		{name: "locked without check", locked: true, want: true},
		{name: "unlocked without check", locked: false, want: false},
		{name: "locked and check holds", locked: true, check: constant(true), want: true},
		{name: "locked and check fails", locked: true, check: constant(false), want: false},
		{name: "unlocked and check holds", locked: false, check: constant(true), want: false},
		{name: "unlocked and check fails", locked: false, check: constant(false), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vault := &fakeVault{locked: tt.locked}
			assert.Equal(t, tt.want, unlock.ShouldUnlock(context.Background(), vault, tt.check))
		})
	}
}

func TestShouldUnlockChecksFirst(t *testing.T) {
	vault := &fakeVault{locked: true}
	assert.False(t, unlock.ShouldUnlock(context.Background(), vault, constant(false)))
	assert.Zero(t, vault.calls, "lock state is not read when the check fails")
}

func TestCombinators(t *testing.T) {
	ctx := context.Background()

	assert.True(t, unlock.Any(constant(false), constant(true))(ctx))
	assert.False(t, unlock.Any(constant(false), constant(false))(ctx))
	assert.False(t, unlock.Any()(ctx))

	assert.True(t, unlock.All(constant(true), constant(true))(ctx))
	assert.False(t, unlock.All(constant(true), constant(false))(ctx))
	assert.True(t, unlock.All()(ctx))
}

func TestShowUnlockFormRequiresOnUnlock(t *testing.T) {
	c := unlock.NewController(&fakeVault{locked: true})
	err := c.ShowUnlockForm(context.Background(), unlock.FormProps{})
	assert.ErrorIs(t, err, unlock.ErrMissingOnUnlock)
	assert.False(t, c.Showing())
}

func TestShowUnlockFormWhenUnlocked(t *testing.T) {
	c := unlock.NewController(&fakeVault{locked: false})

	unlocked := 0
	require.NoError(t, c.ShowUnlockForm(context.Background(), unlock.FormProps{OnUnlock: func() { unlocked++ }}))
	assert.Equal(t, 1, unlocked, "OnUnlock runs right away")
	assert.False(t, c.Showing())
}

func TestControllerUnlock(t *testing.T) {
	ctx := context.Background()
	vault := &fakeVault{locked: true, password: "secret"}
	c := unlock.NewController(vault)

	unlocked := 0
	require.NoError(t, c.ShowUnlockForm(ctx, unlock.FormProps{OnUnlock: func() { unlocked++ }}))
	assert.True(t, c.Showing())

	require.NoError(t, c.Unlock(ctx, "wrong"))
	assert.True(t, c.Showing(), "a wrong password keeps the form")
	assert.Zero(t, unlocked)

	require.NoError(t, c.Unlock(ctx, "secret"))
	assert.False(t, c.Showing())
	assert.Equal(t, 1, unlocked)
}

func TestControllerUnlockError(t *testing.T) {
	vault := &fakeVault{locked: true, err: errors.New("network down")}
	c := unlock.NewController(vault)
	require.NoError(t, c.ShowUnlockForm(context.Background(), unlock.FormProps{OnUnlock: func() {}}))

	assert.Error(t, c.Unlock(context.Background(), "secret"))
	assert.True(t, c.Showing())
}

func TestControllerDismiss(t *testing.T) {
	c := unlock.NewController(&fakeVault{locked: true})

	dismissed := false
	require.NoError(t, c.ShowUnlockForm(context.Background(), unlock.FormProps{
		OnUnlock:  func() {},
		OnDismiss: func() { dismissed = true },
	}))
	c.Dismiss()

	assert.True(t, dismissed)
	assert.False(t, c.Showing())
}

func TestShowUnlockFormSkippedByCheck(t *testing.T) {
	c := unlock.NewController(&fakeVault{locked: true})

	unlocked := false
	require.NoError(t, c.ShowUnlockForm(context.Background(), unlock.FormProps{
		OnUnlock: func() { unlocked = true },
		Check:    constant(false),
	}))
	assert.False(t, c.Showing())
	assert.True(t, unlocked)
}

package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/identity"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		email  string
		origin string
	}{
		{
			name:   "instance url",
			input:  "https://alice.mycozy.cloud",
			email:  "me@alice.mycozy.cloud",
			origin: "https://alice.mycozy.cloud",
		},
		{
			name:   "uppercase instance",
			input:  "https://Alice.MyCozy.Cloud/",
			email:  "me@alice.mycozy.cloud",
			origin: "https://alice.mycozy.cloud",
		},
		{
			name:   "instance with port",
			input:  "http://alice.cozy.localhost:8080",
			email:  "me@alice.cozy.localhost",
			origin: "http://alice.cozy.localhost:8080",
		},
		{
			name:   "bare host",
			input:  "alice.mycozy.cloud",
			email:  "me@alice.mycozy.cloud",
			origin: "https://alice.mycozy.cloud",
		},
		{
			name:  "email passes through unchanged",
			input: "Alice@Example.com",
			email: "Alice@Example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := identity.Resolve(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.input, id.Instance)
			assert.Equal(t, tt.email, id.Email)
			assert.Equal(t, tt.origin, id.Origin)

			again, err := identity.DeriveEmail(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.email, again, "derivation is deterministic")
		})
	}
}

func TestResolveErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "https://", "http://:8080"} {
		_, err := identity.Resolve(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestIsEmail(t *testing.T) {
	assert.True(t, identity.IsEmail("me@alice.mycozy.cloud"))
	assert.False(t, identity.IsEmail("https://alice.mycozy.cloud"))
	assert.True(t, identity.IsInstance("https://alice.mycozy.cloud"))
	assert.False(t, identity.IsInstance("me@alice.mycozy.cloud"))
}

package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

func TestHostOf(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://Accounts.Example.com/login?x=1", "accounts.example.com"},
		{"example.com/path", "example.com"},
		{"http://10.0.0.1:8080", "10.0.0.1"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, models.HostOf(tt.raw))
		})
	}
}

func TestBaseDomain(t *testing.T) {
	assert.Equal(t, "example.com", models.BaseDomain("a.b.example.com"))
	assert.Equal(t, "example.com", models.BaseDomain("example.com"))
	assert.Equal(t, "localhost", models.BaseDomain("localhost"))
}

func TestLoginView_HasURI(t *testing.T) {
	exact := models.UriMatchExact
	login := &models.LoginView{URIs: []models.LoginURIView{
		{URI: "https://example.com"},
		{URI: "https://other.com", Match: &exact},
	}}

	assert.True(t, login.HasURI(models.LoginURIView{URI: "https://example.com"}))
	assert.False(t, login.HasURI(models.LoginURIView{URI: "https://example.com", Match: &exact}))
	assert.True(t, login.HasURI(models.LoginURIView{URI: "https://other.com", Match: &exact}))
	assert.False(t, login.HasURI(models.LoginURIView{URI: "https://other.com"}))
}

func TestCipherView_Clone(t *testing.T) {
	orig := models.NewLoginView("mail")
	orig.Login.Username = "alice"
	orig.Login.URIs = []models.LoginURIView{{URI: "https://mail.example.com"}}

	clone := orig.Clone()
	require.NotNil(t, clone)
	clone.Login.URIs = append(clone.Login.URIs, models.LoginURIView{URI: "https://x.com"})
	clone.Login.Username = "bob"

	assert.Len(t, orig.Login.URIs, 1)
	assert.Equal(t, "alice", orig.Username())
	assert.Equal(t, []string{"mail.example.com", "x.com"}, clone.Hosts())
	assert.True(t, clone.IsLogin())
	assert.Nil(t, (*models.CipherView)(nil).Clone())
}

func TestParseCipherType(t *testing.T) {
	typ, ok := models.ParseCipherType("Login")
	assert.True(t, ok)
	assert.Equal(t, models.CipherTypeLogin, typ)

	_, ok = models.ParseCipherType("bogus")
	assert.False(t, ok)
}

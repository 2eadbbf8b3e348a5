package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/test/testutil"
)

func TestParseKdf(t *testing.T) {
	tests := []struct {
		name    string
		want    models.KdfType
		wantErr bool
	}{
		{name: "pbkdf2-sha256", want: models.KdfPBKDF2SHA256},
		{name: "argon2id", want: models.KdfArgon2id},
		{name: "scrypt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKdf(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestItemField(t *testing.T) {
	view := testutil.SampleLogin("GitHub", "alice", "s3cret", "https://github.com", "https://gist.github.com")
	view.Notes = "recovery codes in the safe"

	tests := []struct {
		field   string
		want    string
		wantErr bool
	}{
		{field: "username", want: "alice"},
		{field: "Password", want: "s3cret"},
		{field: "notes", want: "recovery codes in the safe"},
		{field: "uri", want: "https://github.com"},
		{field: "totp", wantErr: true},
		{field: "cvv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, err := itemField(view, tt.field)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewItemHidesSecrets(t *testing.T) {
	view := testutil.SampleLogin("GitHub", "alice", "s3cret", "https://github.com")

	listed := newItem(view, false)
	assert.Equal(t, "alice", listed.Username)
	assert.Empty(t, listed.Password)
	assert.Equal(t, []string{"https://github.com"}, listed.URIs)

	shown := newItem(view, true)
	assert.Equal(t, "s3cret", shown.Password)
}

func TestSkipSetup(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{args: []string{"formats"}, want: true},
		{args: []string{"hash-password", "alice.mycozy.cloud"}, want: true},
		{args: []string{"config-init"}, want: true},
		{args: []string{"status"}, want: false},
		{args: []string{"get", "GitHub"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			cmd, _, err := rootCmd.Find(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, skipSetup(cmd))
		})
	}
}

func TestGeneratorFlagsChanged(t *testing.T) {
	generateCmd.Flags().Lookup("special").Changed = false

	require.NoError(t, generateCmd.ParseFlags([]string{}))
	assert.False(t, anyChanged(generateCmd, "length", "special"))

	require.NoError(t, generateCmd.ParseFlags([]string{"--special"}))
	assert.True(t, anyChanged(generateCmd, "length", "special"))
}

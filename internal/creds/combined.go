// Package creds loads stored credentials for non-interactive use.
package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// Combined is the JSON credentials document: default login credentials
// plus per-instance master passwords.
type Combined struct {
	Auth struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		TOTPSecret string `json:"totp_secret"`
	} `json:"auth"`
	Instances json.RawMessage `json:"instances"`
}

// ParseCombined parses JSON bytes into Combined.
func ParseCombined(data []byte) (*Combined, error) {
	var c Combined
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &c, nil
}

// LoadFromFile loads Combined from a local file path.
func LoadFromFile(path string) (*Combined, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCombined(b)
}

// LoadFromStore loads Combined stored under key in a persistent store,
// for deployments keeping credentials next to vault state in S3 or
// DynamoDB.
func LoadFromStore(ctx context.Context, store state.Store, key string) (*Combined, error) {
	var c Combined
	found, err := store.Get(ctx, key, &c)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("no credentials stored under %q", key)
	}
	return &c, nil
}

// InstancePassword returns the master password for an instance, matched
// case-insensitively. Both {"host": {"password": "..."}} and
// {"host": "..."} layouts are accepted.
func (c *Combined) InstancePassword(instance string) string {
	if len(c.Instances) == 0 {
		return ""
	}

	var nested map[string]struct {
		Password string `json:"password"`
	}
	if err := json.Unmarshal(c.Instances, &nested); err == nil {
		for k, v := range nested {
			if strings.EqualFold(k, instance) {
				return v.Password
			}
		}
	}

	var flat map[string]string
	if err := json.Unmarshal(c.Instances, &flat); err == nil {
		for k, pw := range flat {
			if strings.EqualFold(k, instance) {
				return pw
			}
		}
	}
	return ""
}

// Password returns the password to use for instance: its own entry first,
// then the default.
func (c *Combined) Password(instance string) string {
	if pw := c.InstancePassword(instance); pw != "" {
		return pw
	}
	return c.Auth.Password
}

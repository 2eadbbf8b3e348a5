// Package identity derives the vault account of a platform instance.
//
// A vault client is built either from an instance URL, whose account email
// is generated from the host name, or directly from an email.
package identity

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// EmailUser is the local part of generated emails.
const EmailUser = "me"

var lower = cases.Lower(language.Und)

// Identity is the vault account a client acts for.
type Identity struct {
	// Instance is the string the client was built from.
	Instance string
	// Email is the account email used as key derivation salt.
	Email string
	// Origin is the scheme and host of the instance, empty for email input.
	Origin string
}

// IsEmail reports whether s is an email rather than an instance URL.
func IsEmail(s string) bool {
	return strings.Contains(s, "@")
}

// IsInstance reports whether s is an instance URL.
func IsInstance(s string) bool {
	return !IsEmail(s)
}

// DeriveEmail returns s unchanged when it is an email, or "me@<host>" for
// an instance URL. Instance URLs are lowercased first.
func DeriveEmail(s string) (string, error) {
	id, err := Resolve(s)
	if err != nil {
		return "", err
	}
	return id.Email, nil
}

// Resolve builds the identity for an instance URL or an email.
func Resolve(s string) (Identity, error) {
	if strings.TrimSpace(s) == "" {
		return Identity{}, fmt.Errorf("instance or email required")
	}
	if IsEmail(s) {
		return Identity{Instance: s, Email: s}, nil
	}

	u, err := parseInstance(s)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Instance: s,
		Email:    EmailUser + "@" + u.Hostname(),
		Origin:   u.Scheme + "://" + u.Host,
	}, nil
}

func parseInstance(s string) (*url.URL, error) {
	raw := lower.String(strings.TrimSpace(s))
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse instance %q: %w", s, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("instance %q has no host", s)
	}
	return u, nil
}

package models

import (
	"net/url"
	"strings"
	"time"
)

// EncString is an encrypted, self-describing string ("<type>.<payload>").
type EncString string

// IsEmpty reports whether no value is stored.
func (e EncString) IsEmpty() bool {
	return e == ""
}

// CipherType identifies the kind of vault item.
type CipherType int

const (
	CipherTypeLogin      CipherType = 1
	CipherTypeSecureNote CipherType = 2
	CipherTypeCard       CipherType = 3
	CipherTypeIdentity   CipherType = 4
)

func (t CipherType) String() string {
	switch t {
	case CipherTypeLogin:
		return "login"
	case CipherTypeSecureNote:
		return "note"
	case CipherTypeCard:
		return "card"
	case CipherTypeIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

// ParseCipherType maps a name from String back to a type.
func ParseCipherType(s string) (CipherType, bool) {
	for _, t := range []CipherType{CipherTypeLogin, CipherTypeSecureNote, CipherTypeCard, CipherTypeIdentity} {
		if t.String() == strings.ToLower(s) {
			return t, true
		}
	}
	return 0, false
}

// UriMatchType controls how a login URI is compared to a page URL.
type UriMatchType int

const (
	UriMatchDomain UriMatchType = iota
	UriMatchHost
	UriMatchStartsWith
	UriMatchExact
	UriMatchRegularExpression
	UriMatchNever
)

// FieldType is the kind of a custom field.
type FieldType int

const (
	FieldTypeText FieldType = iota
	FieldTypeHidden
	FieldTypeBoolean
)

// Cipher is an encrypted vault item as stored locally and exchanged with
// the server.
type Cipher struct {
	ID             string      `json:"id,omitempty"`
	OrganizationID string      `json:"organizationId,omitempty"`
	FolderID       string      `json:"folderId,omitempty"`
	Type           CipherType  `json:"type"`
	Name           EncString   `json:"name"`
	Notes          EncString   `json:"notes,omitempty"`
	Favorite       bool        `json:"favorite,omitempty"`
	RevisionDate   time.Time   `json:"revisionDate"`
	CollectionIDs  []string    `json:"collectionIds,omitempty"`
	Login          *Login      `json:"login,omitempty"`
	Card           *Card       `json:"card,omitempty"`
	Identity       *Identity   `json:"identity,omitempty"`
	SecureNote     *SecureNote `json:"secureNote,omitempty"`
	Fields         []Field     `json:"fields,omitempty"`
}

// Login is the encrypted login sub-record.
type Login struct {
	Username             EncString  `json:"username,omitempty"`
	Password             EncString  `json:"password,omitempty"`
	TOTP                 EncString  `json:"totp,omitempty"`
	URIs                 []LoginURI `json:"uris,omitempty"`
	PasswordRevisionDate *time.Time `json:"passwordRevisionDate,omitempty"`
}

// LoginURI is an encrypted login URI. A nil Match means the account default.
type LoginURI struct {
	URI   EncString     `json:"uri"`
	Match *UriMatchType `json:"match,omitempty"`
}

// Field is an encrypted custom field.
type Field struct {
	Name  EncString `json:"name,omitempty"`
	Value EncString `json:"value,omitempty"`
	Type  FieldType `json:"type"`
}

// Card is the encrypted card sub-record.
type Card struct {
	CardholderName EncString `json:"cardholderName,omitempty"`
	Brand          EncString `json:"brand,omitempty"`
	Number         EncString `json:"number,omitempty"`
	ExpMonth       EncString `json:"expMonth,omitempty"`
	ExpYear        EncString `json:"expYear,omitempty"`
	Code           EncString `json:"code,omitempty"`
}

// Identity is the encrypted identity sub-record.
type Identity struct {
	Title     EncString `json:"title,omitempty"`
	FirstName EncString `json:"firstName,omitempty"`
	LastName  EncString `json:"lastName,omitempty"`
	Email     EncString `json:"email,omitempty"`
	Phone     EncString `json:"phone,omitempty"`
	Company   EncString `json:"company,omitempty"`
	Username  EncString `json:"username,omitempty"`
}

// SecureNote marks a note item.
type SecureNote struct {
	Type int `json:"type"`
}

// CipherView is the decrypted form of a Cipher.
type CipherView struct {
	ID             string
	OrganizationID string
	FolderID       string
	Type           CipherType
	Name           string
	Notes          string
	Favorite       bool
	RevisionDate   time.Time
	CollectionIDs  []string
	Login          *LoginView
	Card           *CardView
	Identity       *IdentityView
	SecureNote     *SecureNote
	Fields         []FieldView
}

// LoginView is the decrypted login sub-record.
type LoginView struct {
	Username             string
	Password             string
	TOTP                 string
	URIs                 []LoginURIView
	PasswordRevisionDate *time.Time
}

// LoginURIView is a decrypted login URI.
type LoginURIView struct {
	URI   string
	Match *UriMatchType
}

// FieldView is a decrypted custom field.
type FieldView struct {
	Name  string
	Value string
	Type  FieldType
}

// CardView is the decrypted card sub-record.
type CardView struct {
	CardholderName string
	Brand          string
	Number         string
	ExpMonth       string
	ExpYear        string
	Code           string
}

// IdentityView is the decrypted identity sub-record.
type IdentityView struct {
	Title     string
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Company   string
	Username  string
}

// NewLoginView returns an empty login item.
func NewLoginView(name string) *CipherView {
	return &CipherView{
		Type:  CipherTypeLogin,
		Name:  name,
		Login: &LoginView{},
	}
}

// IsLogin reports whether v is a login item with a login sub-record.
func (v *CipherView) IsLogin() bool {
	return v != nil && v.Type == CipherTypeLogin && v.Login != nil
}

// Clone returns a deep copy of v.
func (v *CipherView) Clone() *CipherView {
	if v == nil {
		return nil
	}
	out := *v
	out.CollectionIDs = append([]string(nil), v.CollectionIDs...)
	out.Fields = append([]FieldView(nil), v.Fields...)
	if v.Login != nil {
		login := *v.Login
		login.URIs = append([]LoginURIView(nil), v.Login.URIs...)
		out.Login = &login
	}
	if v.Card != nil {
		card := *v.Card
		out.Card = &card
	}
	if v.Identity != nil {
		id := *v.Identity
		out.Identity = &id
	}
	if v.SecureNote != nil {
		note := *v.SecureNote
		out.SecureNote = &note
	}
	return &out
}

// Username returns the login username, or "".
func (v *CipherView) Username() string {
	if v.Login == nil {
		return ""
	}
	return v.Login.Username
}

// Password returns the login password, or "".
func (v *CipherView) Password() string {
	if v.Login == nil {
		return ""
	}
	return v.Login.Password
}

// Hosts returns the hostnames of all login URIs.
func (v *CipherView) Hosts() []string {
	if v.Login == nil {
		return nil
	}
	hosts := make([]string, 0, len(v.Login.URIs))
	for _, u := range v.Login.URIs {
		if h := HostOf(u.URI); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// HasURI reports whether the login already holds an equal URI entry,
// comparing both the match mode and the raw URI.
func (l *LoginView) HasURI(candidate LoginURIView) bool {
	for _, u := range l.URIs {
		if u.URI == candidate.URI && sameMatch(u.Match, candidate.Match) {
			return true
		}
	}
	return false
}

func sameMatch(a, b *UriMatchType) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// HostOf returns the lowercased hostname of a URI. Scheme-less values are
// treated as http URLs.
func HostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// BaseDomain returns the last two labels of a hostname.
func BaseDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

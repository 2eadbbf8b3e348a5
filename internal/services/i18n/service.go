// Package i18n translates the few user-facing strings the vault produces.
package i18n

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// ErrNoLocale is returned when no catalog matches the requested locale.
var ErrNoLocale = errors.New("no translations for locale")

// DefaultLocale is used when none is given.
const DefaultLocale = "en"

var catalogs = map[language.Tag]map[string]string{
	language.English: {
		"noneFolder":          "No Folder",
		"importUnknownFormat": "Unknown import format",
		"importFormatError":   "The import file could not be parsed",
		"importBadContent":    "The import file does not contain usable items",
		"noEncryptionKey":     "No encryption key available",
		"invalidPassword":     "Invalid master password",
		"organizationMissing": "No organization to share with",
		"emailImmutable":      "The email address cannot be changed",
		"vaultLocked":         "The vault is locked",
	},
	language.French: {
		"noneFolder":          "Aucun dossier",
		"importUnknownFormat": "Format d'import inconnu",
		"importFormatError":   "Le fichier d'import n'a pas pu être lu",
		"importBadContent":    "Le fichier d'import ne contient aucun élément utilisable",
		"noEncryptionKey":     "Aucune clé de chiffrement disponible",
		"invalidPassword":     "Mot de passe maître invalide",
		"organizationMissing": "Aucune organisation avec laquelle partager",
		"emailImmutable":      "L'adresse email ne peut pas être modifiée",
		"vaultLocked":         "Le coffre est verrouillé",
	},
}

var supported = []language.Tag{language.English, language.French}

var matcher = language.NewMatcher(supported)

// Service looks up translated strings.
type Service struct {
	locale   string
	tag      language.Tag
	messages map[string]string
}

// NewService resolves locale against the known catalogs. On failure the
// English catalog is used and ErrNoLocale returned alongside the service.
func NewService(locale string) (*Service, error) {
	if strings.TrimSpace(locale) == "" {
		locale = DefaultLocale
	}

	fallback := &Service{locale: locale, tag: language.English, messages: catalogs[language.English]}

	requested, err := language.Parse(locale)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s", ErrNoLocale, locale)
	}

	_, index, confidence := matcher.Match(requested)
	if confidence == language.No {
		return fallback, fmt.Errorf("%w: %s", ErrNoLocale, locale)
	}

	tag := supported[index]
	return &Service{locale: locale, tag: tag, messages: catalogs[tag]}, nil
}

// Locale returns the requested locale string.
func (s *Service) Locale() string {
	return s.locale
}

// Language returns the resolved catalog language.
func (s *Service) Language() language.Tag {
	return s.tag
}

// T translates id, formatting args into the message. Unknown ids are
// returned unchanged.
func (s *Service) T(id string, args ...interface{}) string {
	msg, ok := s.messages[id]
	if !ok {
		msg = id
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

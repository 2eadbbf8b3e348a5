// Package importer parses password manager exports into vault items.
package importer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// Format identifies an export format.
type Format string

const (
	FormatBitwardenJSON Format = "bitwardenjson"
	FormatBitwardenCSV  Format = "bitwardencsv"
	FormatChromeCSV     Format = "chromecsv"
	FormatFirefoxCSV    Format = "firefoxcsv"
	FormatLastPassCSV   Format = "lastpasscsv"
	FormatKeePassXCSV   Format = "keepassxcsv"
	FormatDashlaneJSON  Format = "dashlanejson"
)

// Relationship places the cipher at index Cipher into the folder at index
// Folder of the same ImportResult.
type Relationship struct {
	Cipher int
	Folder int
}

// ImportResult is the outcome of parsing one export.
type ImportResult struct {
	Success             bool
	ErrorMessage        string
	Ciphers             []*models.CipherView
	Folders             []models.FolderView
	FolderRelationships []Relationship
}

// Importer parses one export format. Parse never panics on bad input; it
// reports failure through the result.
type Importer interface {
	Parse(content string) *ImportResult
}

var registry = map[Format]func() Importer{
	FormatBitwardenJSON: func() Importer { return &BitwardenJSONImporter{} },
	FormatBitwardenCSV:  func() Importer { return &BitwardenCSVImporter{} },
	FormatChromeCSV:     func() Importer { return &ChromeCSVImporter{} },
	FormatFirefoxCSV:    func() Importer { return &FirefoxCSVImporter{} },
	FormatLastPassCSV:   func() Importer { return &LastPassCSVImporter{} },
	FormatKeePassXCSV:   func() Importer { return &KeePassXCSVImporter{} },
	FormatDashlaneJSON:  func() Importer { return &DashlaneJSONImporter{} },
}

// Service resolves importers by format name.
type Service struct {
	logger *events.Logger
}

// NewService creates an import service.
func NewService(logger *events.Logger) *Service {
	return &Service{logger: logger.WithField("service", "importer")}
}

// GetImporter returns the importer of format, or models.ErrImportUnknownFormat.
func (s *Service) GetImporter(format string) (Importer, error) {
	ctor, ok := registry[Format(strings.ToLower(strings.TrimSpace(format)))]
	if !ok {
		return nil, models.NewVaultError(models.ErrCodeImportUnknownFormat, fmt.Sprintf("import %q", format), nil)
	}
	return ctor(), nil
}

// Formats lists the supported format names.
func (s *Service) Formats() []string {
	out := make([]string, 0, len(registry))
	for f := range registry {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// BadData reports whether a parsed item looks like the product of a wrong
// format: it has no real name and is a login without a password.
func (s *Service) BadData(c *models.CipherView) bool {
	if c == nil {
		return true
	}
	noName := c.Name == "" || c.Name == defaultName
	return noName && c.Type == models.CipherTypeLogin && c.Login != nil && isBlank(c.Login.Password)
}

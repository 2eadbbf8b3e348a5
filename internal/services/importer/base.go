package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// defaultName names items exported without one.
const defaultName = "--"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// builder accumulates a result and deduplicates folders by name.
type builder struct {
	result  *ImportResult
	folders map[string]int
}

func newBuilder() *builder {
	return &builder{
		result:  &ImportResult{Success: true},
		folders: make(map[string]int),
	}
}

// add appends c, placing it into folder when one is named.
func (b *builder) add(c *models.CipherView, folder string) {
	cleanup(c)
	b.result.Ciphers = append(b.result.Ciphers, c)

	folder = normalize(folder)
	if folder == "" {
		return
	}
	idx, ok := b.folders[folder]
	if !ok {
		idx = len(b.result.Folders)
		b.folders[folder] = idx
		b.result.Folders = append(b.result.Folders, models.FolderView{Name: folder})
	}
	b.result.FolderRelationships = append(b.result.FolderRelationships, Relationship{
		Cipher: len(b.result.Ciphers) - 1,
		Folder: idx,
	})
}

func (b *builder) done() *ImportResult {
	return b.result
}

func failed(format string, args ...interface{}) *ImportResult {
	return &ImportResult{Success: false, ErrorMessage: fmt.Sprintf(format, args...)}
}

// normalize trims and composes a value to NFC.
func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func valueOr(s, fallback string) string {
	if s = normalize(s); s == "" {
		return fallback
	}
	return s
}

func isBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}

// fixURI adds a scheme to bare host names.
func fixURI(raw string) string {
	raw = normalize(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") && strings.Contains(raw, ".") {
		return "http://" + raw
	}
	return raw
}

// loginURIs builds URI entries, skipping empty ones.
func loginURIs(raw ...string) []models.LoginURIView {
	var out []models.LoginURIView
	for _, r := range raw {
		if u := fixURI(r); u != "" {
			out = append(out, models.LoginURIView{URI: u})
		}
	}
	return out
}

// newLogin builds a login item from the common columns.
func newLogin(name, username, password, notes string, uris ...string) *models.CipherView {
	c := models.NewLoginView(valueOr(name, defaultName))
	c.Notes = normalize(notes)
	c.Login.Username = normalize(username)
	c.Login.Password = normalize(password)
	c.Login.URIs = loginURIs(uris...)
	return c
}

// cleanup turns logins carrying nothing but a name into secure notes and
// drops empty sub-records.
func cleanup(c *models.CipherView) {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Type != models.CipherTypeLogin || c.Login == nil {
		return
	}
	l := c.Login
	if l.Username == "" && l.Password == "" && l.TOTP == "" && len(l.URIs) == 0 {
		c.Type = models.CipherTypeSecureNote
		c.Login = nil
		c.SecureNote = &models.SecureNote{}
	}
}

// csvTable is a header-indexed CSV document.
type csvTable struct {
	header map[string]int
	rows   [][]string
}

func (t *csvTable) has(col string) bool {
	_, ok := t.header[col]
	return ok
}

func (t *csvTable) get(row []string, col string) string {
	if idx, ok := t.header[col]; ok && idx < len(row) {
		return row[idx]
	}
	return ""
}

// parseCSV reads a CSV export with a header row. Column names are matched
// case-insensitively. Short rows are padded, blank rows skipped.
func parseCSV(content string, required ...string) (*csvTable, error) {
	data := bytes.TrimPrefix([]byte(content), utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	t := &csvTable{header: make(map[string]int, len(header))}
	for i, col := range header {
		t.header[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range required {
		if !t.has(col) {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row: %w", err)
		}
		if isBlank(strings.Join(row, "")) {
			continue
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

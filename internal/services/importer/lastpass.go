package importer

import (
	"html"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// lastPassNoteURL is the URL LastPass gives secure notes.
const lastPassNoteURL = "http://sn"

// LastPassCSVImporter reads LastPass CSV exports. LastPass HTML-escapes
// some values, they are decoded here.
type LastPassCSVImporter struct{}

// Parse implements Importer.
func (i *LastPassCSVImporter) Parse(content string) *ImportResult {
	table, err := parseCSV(content, "url", "username", "password", "name")
	if err != nil {
		return failed("parse LastPass CSV: %v", err)
	}

	b := newBuilder()
	for _, row := range table.rows {
		get := func(col string) string {
			return html.UnescapeString(table.get(row, col))
		}

		var c *models.CipherView
		if normalize(get("url")) == lastPassNoteURL {
			c = &models.CipherView{
				Type:       models.CipherTypeSecureNote,
				Name:       valueOr(get("name"), defaultName),
				Notes:      normalize(get("extra")),
				SecureNote: &models.SecureNote{},
			}
		} else {
			c = newLogin(get("name"), get("username"), get("password"), get("extra"), get("url"))
			c.Login.TOTP = normalize(get("totp"))
		}
		c.Favorite = normalize(get("fav")) == "1"

		folder := get("grouping")
		if normalize(folder) == "(none)" {
			folder = ""
		}
		b.add(c, folder)
	}
	return b.done()
}

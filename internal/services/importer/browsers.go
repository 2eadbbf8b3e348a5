package importer

import (
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// ChromeCSVImporter reads Chrome and Chromium password exports.
type ChromeCSVImporter struct{}

// Parse implements Importer.
func (i *ChromeCSVImporter) Parse(content string) *ImportResult {
	table, err := parseCSV(content, "url", "username", "password")
	if err != nil {
		return failed("parse Chrome CSV: %v", err)
	}

	b := newBuilder()
	for _, row := range table.rows {
		url := table.get(row, "url")
		name := table.get(row, "name")
		if isBlank(name) {
			name = nameFromURL(url)
		}
		b.add(newLogin(name, table.get(row, "username"), table.get(row, "password"), table.get(row, "note"), url), "")
	}
	return b.done()
}

// FirefoxCSVImporter reads Firefox password exports.
type FirefoxCSVImporter struct{}

// Parse implements Importer.
func (i *FirefoxCSVImporter) Parse(content string) *ImportResult {
	table, err := parseCSV(content, "url", "username", "password")
	if err != nil {
		return failed("parse Firefox CSV: %v", err)
	}

	b := newBuilder()
	for _, row := range table.rows {
		url := table.get(row, "url")
		// Firefox stores Chrome-style imports under chrome://FirefoxAccounts.
		if strings.HasPrefix(url, "chrome://") {
			continue
		}
		b.add(newLogin(nameFromURL(url), table.get(row, "username"), table.get(row, "password"), "", url), "")
	}
	return b.done()
}

// nameFromURL names an item after the host of its URL, without "www.".
func nameFromURL(raw string) string {
	host := models.HostOf(raw)
	if host == "" {
		return defaultName
	}
	return strings.TrimPrefix(host, "www.")
}

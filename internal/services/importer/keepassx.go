package importer

import "strings"

// KeePassXCSVImporter reads KeePassX and KeePassXC CSV exports. The group
// path becomes the folder, without the database root.
type KeePassXCSVImporter struct{}

// Parse implements Importer.
func (i *KeePassXCSVImporter) Parse(content string) *ImportResult {
	table, err := parseCSV(content, "title", "username", "password")
	if err != nil {
		return failed("parse KeePassX CSV: %v", err)
	}

	b := newBuilder()
	for _, row := range table.rows {
		c := newLogin(
			table.get(row, "title"),
			table.get(row, "username"),
			table.get(row, "password"),
			table.get(row, "notes"),
			table.get(row, "url"),
		)
		c.Login.TOTP = normalize(table.get(row, "totp"))
		b.add(c, keePassFolder(table.get(row, "group")))
	}
	return b.done()
}

func keePassFolder(group string) string {
	group = normalize(group)
	if group == "Root" {
		return ""
	}
	return strings.TrimPrefix(group, "Root/")
}

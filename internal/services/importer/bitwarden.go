package importer

import (
	"encoding/json"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// BitwardenJSONImporter reads unencrypted Bitwarden JSON exports.
type BitwardenJSONImporter struct{}

type bitwardenExport struct {
	Encrypted bool              `json:"encrypted"`
	Folders   []bitwardenFolder `json:"folders"`
	Items     []bitwardenItem   `json:"items"`
}

type bitwardenFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bitwardenItem struct {
	FolderID   *string              `json:"folderId"`
	Type       models.CipherType    `json:"type"`
	Name       string               `json:"name"`
	Notes      string               `json:"notes"`
	Favorite   bool                 `json:"favorite"`
	Login      *bitwardenLogin      `json:"login"`
	Card       *models.CardView     `json:"card"`
	Identity   *models.IdentityView `json:"identity"`
	SecureNote *models.SecureNote   `json:"secureNote"`
	Fields     []bitwardenField     `json:"fields"`
}

type bitwardenLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
	URIs     []struct {
		URI   string               `json:"uri"`
		Match *models.UriMatchType `json:"match"`
	} `json:"uris"`
}

type bitwardenField struct {
	Name  string           `json:"name"`
	Value string           `json:"value"`
	Type  models.FieldType `json:"type"`
}

// Parse implements Importer.
func (i *BitwardenJSONImporter) Parse(content string) *ImportResult {
	var export bitwardenExport
	if err := json.Unmarshal([]byte(strings.TrimPrefix(content, string(utf8BOM))), &export); err != nil {
		return failed("parse Bitwarden JSON: %v", err)
	}
	if export.Encrypted {
		return failed("encrypted Bitwarden exports are not supported")
	}

	folderNames := make(map[string]string, len(export.Folders))
	for _, f := range export.Folders {
		folderNames[f.ID] = f.Name
	}

	b := newBuilder()
	for _, item := range export.Items {
		c := &models.CipherView{
			Type:     item.Type,
			Name:     valueOr(item.Name, defaultName),
			Notes:    normalize(item.Notes),
			Favorite: item.Favorite,
		}
		for _, f := range item.Fields {
			c.Fields = append(c.Fields, models.FieldView{Name: normalize(f.Name), Value: f.Value, Type: f.Type})
		}

		switch item.Type {
		case models.CipherTypeLogin:
			c.Login = &models.LoginView{}
			if item.Login != nil {
				c.Login.Username = normalize(item.Login.Username)
				c.Login.Password = normalize(item.Login.Password)
				c.Login.TOTP = normalize(item.Login.TOTP)
				for _, u := range item.Login.URIs {
					if uri := fixURI(u.URI); uri != "" {
						c.Login.URIs = append(c.Login.URIs, models.LoginURIView{URI: uri, Match: u.Match})
					}
				}
			}
		case models.CipherTypeCard:
			c.Card = item.Card
			if c.Card == nil {
				c.Card = &models.CardView{}
			}
		case models.CipherTypeIdentity:
			c.Identity = item.Identity
			if c.Identity == nil {
				c.Identity = &models.IdentityView{}
			}
		default:
			c.Type = models.CipherTypeSecureNote
			c.SecureNote = &models.SecureNote{}
		}

		folder := ""
		if item.FolderID != nil {
			folder = folderNames[*item.FolderID]
		}
		b.add(c, folder)
	}
	return b.done()
}

// BitwardenCSVImporter reads Bitwarden CSV exports.
type BitwardenCSVImporter struct{}

// Parse implements Importer.
func (i *BitwardenCSVImporter) Parse(content string) *ImportResult {
	table, err := parseCSV(content, "name", "type")
	if err != nil {
		return failed("parse Bitwarden CSV: %v", err)
	}

	b := newBuilder()
	for _, row := range table.rows {
		var c *models.CipherView
		switch strings.ToLower(normalize(table.get(row, "type"))) {
		case "note":
			c = &models.CipherView{
				Type:       models.CipherTypeSecureNote,
				Name:       valueOr(table.get(row, "name"), defaultName),
				Notes:      normalize(table.get(row, "notes")),
				SecureNote: &models.SecureNote{},
			}
		default:
			c = newLogin(
				table.get(row, "name"),
				table.get(row, "login_username"),
				table.get(row, "login_password"),
				table.get(row, "notes"),
				strings.Split(table.get(row, "login_uri"), ",")...,
			)
			c.Login.TOTP = normalize(table.get(row, "login_totp"))
		}
		c.Favorite = normalize(table.get(row, "favorite")) == "1"
		c.Fields = parseCSVFields(table.get(row, "fields"))
		b.add(c, table.get(row, "folder"))
	}
	return b.done()
}

// parseCSVFields reads "name: value" lines.
func parseCSVFields(raw string) []models.FieldView {
	var out []models.FieldView
	for _, line := range strings.Split(raw, "\n") {
		if isBlank(line) {
			continue
		}
		name, value, _ := strings.Cut(line, ":")
		out = append(out, models.FieldView{
			Name:  normalize(name),
			Value: normalize(value),
			Type:  models.FieldTypeText,
		})
	}
	return out
}

package importer

import (
	"encoding/json"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// DashlaneJSONImporter reads Dashlane JSON exports.
type DashlaneJSONImporter struct{}

type dashlaneExport struct {
	Credentials []dashlaneCredential `json:"AUTHENTIFIANT"`
	Cards       []dashlaneCard       `json:"PAYMENTMEANS_CREDITCARD"`
	Identities  []dashlaneIdentity   `json:"IDENTITY"`
	Notes       []dashlaneNote       `json:"SECURENOTES"`
}

type dashlaneCredential struct {
	Title          string `json:"title"`
	Domain         string `json:"domain"`
	Login          string `json:"login"`
	SecondaryLogin string `json:"secondaryLogin"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	Note           string `json:"note"`
}

type dashlaneCard struct {
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	CardNumber   string `json:"cardNumber"`
	SecurityCode string `json:"securityCode"`
	ExpireMonth  string `json:"expireMonth"`
	ExpireYear   string `json:"expireYear"`
	Bank         string `json:"bank"`
}

type dashlaneIdentity struct {
	Title      string `json:"title"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	MiddleName string `json:"middleName"`
	Pseudo     string `json:"pseudo"`
}

type dashlaneNote struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Parse implements Importer.
func (i *DashlaneJSONImporter) Parse(content string) *ImportResult {
	var export dashlaneExport
	if err := json.Unmarshal([]byte(strings.TrimPrefix(content, string(utf8BOM))), &export); err != nil {
		return failed("parse Dashlane JSON: %v", err)
	}

	b := newBuilder()
	for _, cred := range export.Credentials {
		username := firstNonBlank(cred.Login, cred.SecondaryLogin, cred.Email)
		name := cred.Title
		if isBlank(name) {
			name = nameFromURL(cred.Domain)
		}
		b.add(newLogin(name, username, cred.Password, cred.Note, cred.Domain), "")
	}

	for _, card := range export.Cards {
		b.add(&models.CipherView{
			Type: models.CipherTypeCard,
			Name: valueOr(card.Name, defaultName),
			Card: &models.CardView{
				CardholderName: normalize(card.Owner),
				Brand:          normalize(card.Bank),
				Number:         normalize(card.CardNumber),
				ExpMonth:       normalize(card.ExpireMonth),
				ExpYear:        normalize(card.ExpireYear),
				Code:           normalize(card.SecurityCode),
			},
		}, "")
	}

	for _, id := range export.Identities {
		name := strings.Join(strings.Fields(id.FirstName+" "+id.LastName), " ")
		b.add(&models.CipherView{
			Type: models.CipherTypeIdentity,
			Name: valueOr(name, defaultName),
			Identity: &models.IdentityView{
				Title:     normalize(id.Title),
				FirstName: normalize(strings.TrimSpace(id.FirstName + " " + id.MiddleName)),
				LastName:  normalize(id.LastName),
				Username:  normalize(id.Pseudo),
			},
		}, "")
	}

	for _, note := range export.Notes {
		b.add(&models.CipherView{
			Type:       models.CipherTypeSecureNote,
			Name:       valueOr(note.Title, defaultName),
			Notes:      normalize(note.Content),
			SecureNote: &models.SecureNote{},
		}, "")
	}
	return b.done()
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if !isBlank(v) {
			return v
		}
	}
	return ""
}

package testutil

import (
	"time"

	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// Import samples in every supported format. Each holds the same two
// logins (alice on example.com and bob on example.org) plus, where the
// format allows, one secure note.
const (
	BitwardenCSVSample = `folder,favorite,type,name,notes,fields,reprompt,login_uri,login_username,login_password,login_totp
Work,1,login,Example,,,0,https://example.com/login,alice,s3cret,
,,login,Example Org,,,0,https://example.org,bob,hunter2,
Work,,note,Wifi,ssid: home,,0,,,,
`

	ChromeCSVSample = `name,url,username,password
example.com,https://example.com/login,alice,s3cret
example.org,https://example.org/,bob,hunter2
`

	FirefoxCSVSample = `"url","username","password","httpRealm","formActionOrigin","guid","timeCreated","timeLastUsed","timePasswordChanged"
"https://example.com","alice","s3cret",,"https://example.com","{1}","1600000000000","1600000000000","1600000000000"
"https://example.org","bob","hunter2",,"https://example.org","{2}","1600000000000","1600000000000","1600000000000"
`

	LastPassCSVSample = `url,username,password,totp,extra,name,grouping,fav
https://example.com/login,alice,s3cret,,,Example,Work,1
https://example.org,bob,hunter2,,,Example Org,,0
http://sn,,,,ssid: home,Wifi,Work,0
`

	KeePassXCSVSample = `"Group","Title","Username","Password","URL","Notes"
"Root/Work","Example","alice","s3cret","https://example.com/login",""
"Root","Example Org","bob","hunter2","https://example.org",""
`

	DashlaneJSONSample = `{
  "AUTHENTIFIANT": [
    {"title": "Example", "domain": "example.com", "login": "alice", "password": "s3cret", "note": ""},
    {"title": "Example Org", "domain": "example.org", "email": "bob", "password": "hunter2", "note": ""}
  ],
  "PAYMENTMEANS_CREDITCARD": [
    {"name": "Visa", "owner": "Alice A", "cardNumber": "4111111111111111", "securityCode": "123", "expireMonth": "12", "expireYear": "2030", "bank": "Visa"}
  ]
}`
)

// BitwardenJSONSample is an unencrypted Bitwarden JSON export.
const BitwardenJSONSample = `{
  "encrypted": false,
  "folders": [{"id": "f1", "name": "Work"}],
  "items": [
    {
      "id": "i1", "folderId": "f1", "type": 1, "name": "Example", "favorite": true,
      "login": {"username": "alice", "password": "s3cret", "uris": [{"match": null, "uri": "https://example.com/login"}]}
    },
    {
      "id": "i2", "folderId": null, "type": 1, "name": "Example Org",
      "login": {"username": "bob", "password": "hunter2", "uris": [{"uri": "https://example.org"}]}
    },
    {
      "id": "i3", "folderId": "f1", "type": 2, "name": "Wifi", "notes": "ssid: home",
      "secureNote": {"type": 0}
    }
  ]
}`

// SampleLogin returns a decrypted login item.
func SampleLogin(name, username, password string, uris ...string) *models.CipherView {
	view := models.NewLoginView(name)
	view.Login.Username = username
	view.Login.Password = password
	for _, u := range uris {
		view.Login.URIs = append(view.Login.URIs, models.LoginURIView{URI: u})
	}
	view.RevisionDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return view
}

// SampleCard returns a decrypted card item.
func SampleCard(name, number string) *models.CipherView {
	return &models.CipherView{
		Type: models.CipherTypeCard,
		Name: name,
		Card: &models.CardView{
			CardholderName: "Alice A",
			Number:         number,
			ExpMonth:       "12",
			ExpYear:        "2030",
			Code:           "123",
		},
	}
}

// SampleNote returns a decrypted secure note.
func SampleNote(name, notes string) *models.CipherView {
	return &models.CipherView{
		Type:       models.CipherTypeSecureNote,
		Name:       name,
		Notes:      notes,
		SecureNote: &models.SecureNote{},
	}
}

// MatchPtr returns a pointer to a URI match mode.
func MatchPtr(m models.UriMatchType) *models.UriMatchType {
	return &m
}

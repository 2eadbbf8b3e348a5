package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/crypto"
	"github.com/TheMichaelB/vaultkeys/internal/models"
)

// FakeAccount is an account known to FakeVault.
type FakeAccount struct {
	ID            string
	Email         string
	Name          string
	Kdf           models.KdfConfig
	PasswordHash  string
	Key           models.EncString
	SecurityStamp string
	Premium       bool
	TOTPSecret    string
	Organizations []models.Organization
	Policies      []models.Policy

	// EncKey is the plain encryption key, kept for tests that seed
	// encrypted data.
	EncKey *crypto.SymmetricKey

	rememberToken string
}

// FakeVault is an httptest server speaking the identity, api and
// notifications protocols of the vault server.
type FakeVault struct {
	*httptest.Server

	Provider crypto.Provider

	mu          sync.RWMutex
	accounts    map[string]*FakeAccount // by lowercased email
	ciphers     map[string]map[string]models.Cipher
	folders     map[string][]models.Folder
	collections map[string][]models.Collection
	domains     *api.DomainsResponse
	revisions   map[string]time.Time
	documents   map[string]map[string]map[string]interface{}
	forbidden   map[string]bool
	tokens      map[string]string // access token -> user id
	refresh     map[string]string // refresh token -> user id
	requests    []string
	failures    map[string]int
	conns       []*websocket.Conn

	signingKey []byte
	tokenTTL   time.Duration
	upgrader   websocket.Upgrader
}

// NewFakeVault starts a fake vault server. It is closed when the test ends.
func NewFakeVault(t testing.TB) *FakeVault {
	t.Helper()

	fv := &FakeVault{
		Provider:    crypto.NewProvider(),
		accounts:    make(map[string]*FakeAccount),
		ciphers:     make(map[string]map[string]models.Cipher),
		folders:     make(map[string][]models.Folder),
		collections: make(map[string][]models.Collection),
		revisions:   make(map[string]time.Time),
		documents:   make(map[string]map[string]map[string]interface{}),
		forbidden:   make(map[string]bool),
		tokens:      make(map[string]string),
		refresh:     make(map[string]string),
		failures:    make(map[string]int),
		signingKey:  []byte("fake-vault-signing-key"),
		tokenTTL:    time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /identity/accounts/prelogin", fv.handlePrelogin)
	mux.HandleFunc("POST /identity/connect/token", fv.handleToken)
	mux.HandleFunc("GET /api/sync", fv.authenticated(fv.handleSync))
	mux.HandleFunc("GET /api/accounts/profile", fv.authenticated(fv.handleProfile))
	mux.HandleFunc("GET /api/accounts/revision-date", fv.authenticated(fv.handleRevisionDate))
	mux.HandleFunc("POST /api/ciphers", fv.authenticated(fv.handleCreateCipher))
	mux.HandleFunc("POST /api/ciphers/import", fv.authenticated(fv.handleImport))
	mux.HandleFunc("PUT /api/ciphers/{id}", fv.authenticated(fv.handleUpdateCipher))
	mux.HandleFunc("DELETE /api/ciphers/{id}", fv.authenticated(fv.handleDeleteCipher))
	mux.HandleFunc("PUT /api/ciphers/{id}/share", fv.authenticated(fv.handleShareCipher))
	mux.HandleFunc("POST /api/accounts/password", fv.authenticated(fv.handlePassword))
	mux.HandleFunc("POST /api/accounts/kdf", fv.authenticated(fv.handleKdf))
	mux.HandleFunc("GET /notifications/hub", fv.handleHub)
	mux.HandleFunc("GET /data/{doctype}/_all_docs", fv.handleAllDocs)
	mux.HandleFunc("GET /data/{doctype}/{id}", fv.handleGetDoc)

	fv.Server = httptest.NewServer(fv.record(mux))
	t.Cleanup(fv.Close)
	return fv
}

// Close disconnects notification listeners and stops the server.
func (fv *FakeVault) Close() {
	fv.mu.Lock()
	for _, c := range fv.conns {
		_ = c.Close()
	}
	fv.conns = nil
	fv.mu.Unlock()
	fv.Server.Close()
}

// CreateAccount registers an account the way a client would: keys are
// derived locally and only the password hash and protected key are sent.
func (fv *FakeVault) CreateAccount(t testing.TB, email, password string) *FakeAccount {
	t.Helper()

	kdf := models.KdfConfig{Kdf: models.KdfPBKDF2SHA256, Iterations: TestKdfIterations}
	master, err := fv.Provider.MakeKey(password, email, kdf.Kdf, kdf.Iterations)
	require.NoError(t, err)
	hash, err := fv.Provider.HashPassword(password, master)
	require.NoError(t, err)
	encKey, protected, err := fv.Provider.MakeEncKey(master)
	require.NoError(t, err)

	account := &FakeAccount{
		ID:            uuid.NewString(),
		Email:         email,
		Name:          strings.Split(email, "@")[0],
		Kdf:           kdf,
		PasswordHash:  hash,
		Key:           protected,
		SecurityStamp: uuid.NewString(),
		EncKey:        encKey,
	}

	fv.mu.Lock()
	fv.accounts[strings.ToLower(email)] = account
	fv.ciphers[account.ID] = make(map[string]models.Cipher)
	fv.touch(account.ID)
	fv.mu.Unlock()
	return account
}

// Account returns a registered account, or nil.
func (fv *FakeVault) Account(email string) *FakeAccount {
	fv.mu.RLock()
	defer fv.mu.RUnlock()
	return fv.accounts[strings.ToLower(email)]
}

// EnableTOTP requires a TOTP code at login and returns the secret.
func (fv *FakeVault) EnableTOTP(t testing.TB, email string) string {
	t.Helper()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "fake-vault", AccountName: email})
	require.NoError(t, err)

	fv.mu.Lock()
	defer fv.mu.Unlock()
	account := fv.accounts[strings.ToLower(email)]
	require.NotNil(t, account)
	account.TOTPSecret = key.Secret()
	return account.TOTPSecret
}

// AddOrganization makes the account a member of a new organization and
// returns the plain organization key.
func (fv *FakeVault) AddOrganization(t testing.TB, email, orgID, name string) *crypto.SymmetricKey {
	t.Helper()

	fv.mu.Lock()
	defer fv.mu.Unlock()
	account := fv.accounts[strings.ToLower(email)]
	require.NotNil(t, account)

	key, enc := NewProtectedKey(t, fv.Provider, account.EncKey)
	account.Organizations = append(account.Organizations, models.Organization{
		ID:      orgID,
		Name:    name,
		Key:     enc,
		Enabled: true,
	})
	return key
}

// AddCollection adds an organization collection visible to the account.
// name must already be encrypted with the organization key.
func (fv *FakeVault) AddCollection(email string, col models.Collection) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	account := fv.accounts[strings.ToLower(email)]
	fv.collections[account.ID] = append(fv.collections[account.ID], col)
	fv.touch(account.ID)
}

// AddFolder adds an encrypted folder.
func (fv *FakeVault) AddFolder(email string, folder models.Folder) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	account := fv.accounts[strings.ToLower(email)]
	fv.folders[account.ID] = append(fv.folders[account.ID], folder)
	fv.touch(account.ID)
}

// AddCipher stores an encrypted cipher, assigning an id when missing.
func (fv *FakeVault) AddCipher(email string, c models.Cipher) models.Cipher {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	account := fv.accounts[strings.ToLower(email)]
	return fv.storeCipher(account.ID, c)
}

// Touch marks the vault of an account as changed.
func (fv *FakeVault) Touch(email string) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	fv.touch(fv.accounts[strings.ToLower(email)].ID)
}

// RotateSecurityStamp invalidates the sessions of an account the way a
// password change on another device does.
func (fv *FakeVault) RotateSecurityStamp(email string) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	account := fv.accounts[strings.ToLower(email)]
	account.SecurityStamp = uuid.NewString()
	fv.touch(account.ID)
}

// SetPolicies sets the organization policies applying to an account.
func (fv *FakeVault) SetPolicies(email string, policies []models.Policy) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	account := fv.accounts[strings.ToLower(email)]
	account.Policies = append([]models.Policy(nil), policies...)
	fv.touch(account.ID)
}

// PutDocument stores a platform document served under /data.
func (fv *FakeVault) PutDocument(doctype, id string, doc map[string]interface{}) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	if fv.documents[doctype] == nil {
		fv.documents[doctype] = make(map[string]map[string]interface{})
	}
	stored := map[string]interface{}{"_id": id}
	for k, v := range doc {
		stored[k] = v
	}
	fv.documents[doctype][id] = stored
}

// Forbid makes every /data request on doctype fail with 403.
func (fv *FakeVault) Forbid(doctype string) {
	fv.mu.Lock()
	fv.forbidden[doctype] = true
	fv.mu.Unlock()
}

// SetDomains sets the equivalent domains returned by sync.
func (fv *FakeVault) SetDomains(domains *api.DomainsResponse) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	fv.domains = domains
}

// Ciphers returns the stored ciphers of an account.
func (fv *FakeVault) Ciphers(email string) []models.Cipher {
	fv.mu.RLock()
	defer fv.mu.RUnlock()
	account := fv.accounts[strings.ToLower(email)]
	if account == nil {
		return nil
	}
	out := make([]models.Cipher, 0, len(fv.ciphers[account.ID]))
	for _, c := range fv.ciphers[account.ID] {
		out = append(out, c)
	}
	return out
}

// Folders returns the stored folders of an account.
func (fv *FakeVault) Folders(email string) []models.Folder {
	fv.mu.RLock()
	defer fv.mu.RUnlock()
	account := fv.accounts[strings.ToLower(email)]
	return append([]models.Folder(nil), fv.folders[account.ID]...)
}

// FailNext makes the next n requests to "METHOD /path" answer 500.
func (fv *FakeVault) FailNext(route string, n int) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	fv.failures[route] = n
}

// Requests returns the "METHOD /path" lines received so far.
func (fv *FakeVault) Requests() []string {
	fv.mu.RLock()
	defer fv.mu.RUnlock()
	return append([]string(nil), fv.requests...)
}

// CountRequests counts received requests to route.
func (fv *FakeVault) CountRequests(route string) int {
	n := 0
	for _, r := range fv.Requests() {
		if r == route {
			n++
		}
	}
	return n
}

// Notify pushes a notification to every connected listener.
func (fv *FakeVault) Notify(n models.Notification) error {
	fv.mu.RLock()
	conns := append([]*websocket.Conn(nil), fv.conns...)
	fv.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteJSON(n); err != nil {
			return err
		}
	}
	return nil
}

// Listeners returns the number of connected notification listeners.
func (fv *FakeVault) Listeners() int {
	fv.mu.RLock()
	defer fv.mu.RUnlock()
	return len(fv.conns)
}

// IssueToken returns a signed access token for an account.
func (fv *FakeVault) IssueToken(t testing.TB, email string) string {
	t.Helper()
	account := fv.Account(email)
	require.NotNil(t, account)
	token, err := fv.signToken(account, time.Now().Add(fv.tokenTTL))
	require.NoError(t, err)

	fv.mu.Lock()
	fv.tokens[token] = account.ID
	fv.mu.Unlock()
	return token
}

func (fv *FakeVault) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		fv.mu.Lock()
		fv.requests = append(fv.requests, route)
		fail := fv.failures[route] > 0
		if fail {
			fv.failures[route]--
		}
		fv.mu.Unlock()

		if fail {
			writeError(w, http.StatusInternalServerError, "server_error", "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (fv *FakeVault) signToken(account *FakeAccount, exp time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":     account.ID,
		"email":   account.Email,
		"name":    account.Name,
		"premium": account.Premium,
		"exp":     exp.Unix(),
		"nbf":     time.Now().Add(-time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(fv.signingKey)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":             code,
		"error_description": message,
	})
}

// accountByID must be called with mu held.
func (fv *FakeVault) accountByID(id string) *FakeAccount {
	for _, a := range fv.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

type authedHandler func(w http.ResponseWriter, r *http.Request, account *FakeAccount)

func (fv *FakeVault) authenticated(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		fv.mu.RLock()
		userID, ok := fv.tokens[token]
		var account *FakeAccount
		if ok {
			account = fv.accountByID(userID)
		}
		fv.mu.RUnlock()

		if account == nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "Unauthorized")
			return
		}
		h(w, r, account)
	}
}

func (fv *FakeVault) handlePrelogin(w http.ResponseWriter, r *http.Request) {
	var req api.PreloginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp := api.PreloginResponse{Kdf: models.DefaultKdf, KdfIterations: models.DefaultKdfIterations}
	if account := fv.Account(req.Email); account != nil {
		resp.Kdf = account.Kdf.Kdf
		resp.KdfIterations = account.Kdf.Iterations
	}
	_ = writeJSON(w, resp)
}

func (fv *FakeVault) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	switch r.PostForm.Get("grant_type") {
	case api.GrantPassword:
		fv.passwordGrant(w, r)
	case api.GrantRefreshToken:
		fv.refreshGrant(w, r)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant")
	}
}

func (fv *FakeVault) passwordGrant(w http.ResponseWriter, r *http.Request) {
	form := r.PostForm
	account := fv.Account(form.Get("username"))
	if account == nil || account.PasswordHash != form.Get("password") {
		writeError(w, http.StatusBadRequest, "invalid_grant", "Username or password is incorrect. Try again.")
		return
	}

	var remember string
	if account.TOTPSecret != "" {
		code := form.Get("twoFactorToken")
		switch {
		case code == "":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error":              "invalid_grant",
				"error_description":  "Two factor required.",
				"TwoFactorProviders": []int{int(models.TwoFactorAuthenticator)},
			})
			return
		case account.rememberToken != "" && code == account.rememberToken:
		case totp.Validate(code, account.TOTPSecret):
			if form.Get("twoFactorRemember") == "1" {
				remember = uuid.NewString()
				fv.mu.Lock()
				account.rememberToken = remember
				fv.mu.Unlock()
			}
		default:
			writeError(w, http.StatusBadRequest, "invalid_grant", "Two-step token is invalid. Try again.")
			return
		}
	}

	resp, err := fv.issue(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	resp.TwoFactorToken = remember
	_ = writeJSON(w, resp)
}

func (fv *FakeVault) refreshGrant(w http.ResponseWriter, r *http.Request) {
	fv.mu.RLock()
	userID, ok := fv.refresh[r.PostForm.Get("refresh_token")]
	account := fv.accountByID(userID)
	fv.mu.RUnlock()

	if !ok || account == nil {
		writeError(w, http.StatusBadRequest, "invalid_grant", "invalid refresh token")
		return
	}

	resp, err := fv.issue(account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	_ = writeJSON(w, resp)
}

func (fv *FakeVault) issue(account *FakeAccount) (*api.IdentityTokenResponse, error) {
	access, err := fv.signToken(account, time.Now().Add(fv.tokenTTL))
	if err != nil {
		return nil, err
	}
	refresh := uuid.NewString()

	fv.mu.Lock()
	fv.tokens[access] = account.ID
	fv.refresh[refresh] = account.ID
	fv.mu.Unlock()

	return &api.IdentityTokenResponse{
		AccessToken:   access,
		ExpiresIn:     int(fv.tokenTTL.Seconds()),
		RefreshToken:  refresh,
		TokenType:     "Bearer",
		Key:           account.Key,
		Kdf:           account.Kdf.Kdf,
		KdfIterations: account.Kdf.Iterations,
	}, nil
}

func (fv *FakeVault) profile(account *FakeAccount) models.Profile {
	return models.Profile{
		ID:            account.ID,
		Email:         account.Email,
		Name:          account.Name,
		SecurityStamp: account.SecurityStamp,
		Key:           account.Key,
		Organizations: append([]models.Organization(nil), account.Organizations...),
	}
}

func (fv *FakeVault) handleSync(w http.ResponseWriter, _ *http.Request, account *FakeAccount) {
	fv.mu.RLock()
	resp := api.SyncResponse{
		Profile:     fv.profile(account),
		Folders:     append([]models.Folder{}, fv.folders[account.ID]...),
		Collections: append([]models.Collection{}, fv.collections[account.ID]...),
		Ciphers:     make([]models.Cipher, 0, len(fv.ciphers[account.ID])),
		Policies:    append([]models.Policy{}, account.Policies...),
		Domains:     fv.domains,
	}
	for _, c := range fv.ciphers[account.ID] {
		resp.Ciphers = append(resp.Ciphers, c)
	}
	fv.mu.RUnlock()

	_ = writeJSON(w, resp)
}

func (fv *FakeVault) handleRevisionDate(w http.ResponseWriter, _ *http.Request, account *FakeAccount) {
	fv.mu.RLock()
	rev := fv.revisions[account.ID]
	fv.mu.RUnlock()
	_ = writeJSON(w, rev.UnixMilli())
}

func (fv *FakeVault) handleProfile(w http.ResponseWriter, _ *http.Request, account *FakeAccount) {
	fv.mu.RLock()
	p := fv.profile(account)
	fv.mu.RUnlock()
	_ = writeJSON(w, p)
}

// storeCipher must be called with mu held.
func (fv *FakeVault) storeCipher(userID string, c models.Cipher) models.Cipher {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.RevisionDate = time.Now().UTC()
	if fv.ciphers[userID] == nil {
		fv.ciphers[userID] = make(map[string]models.Cipher)
	}
	fv.ciphers[userID][c.ID] = c
	fv.revisions[userID] = c.RevisionDate
	return c
}

// touch must be called with mu held.
func (fv *FakeVault) touch(userID string) {
	fv.revisions[userID] = time.Now().UTC()
}

func (fv *FakeVault) handleCreateCipher(w http.ResponseWriter, r *http.Request, account *FakeAccount) {
	var c models.Cipher
	if err := decodeJSON(r.Body, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	c.ID = ""

	fv.mu.Lock()
	saved := fv.storeCipher(account.ID, c)
	fv.mu.Unlock()
	_ = writeJSON(w, saved)
}

func (fv *FakeVault) handleUpdateCipher(w http.ResponseWriter, r *http.Request, account *FakeAccount) {
	id := r.PathValue("id")
	var c models.Cipher
	if err := decodeJSON(r.Body, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	fv.mu.Lock()
	defer fv.mu.Unlock()
	if _, ok := fv.ciphers[account.ID][id]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "Resource not found.")
		return
	}
	c.ID = id
	_ = writeJSON(w, fv.storeCipher(account.ID, c))
}

func (fv *FakeVault) handleDeleteCipher(w http.ResponseWriter, r *http.Request, account *FakeAccount) {
	id := r.PathValue("id")

	fv.mu.Lock()
	defer fv.mu.Unlock()
	if _, ok := fv.ciphers[account.ID][id]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "Resource not found.")
		return
	}
	delete(fv.ciphers[account.ID], id)
	fv.touch(account.ID)
	w.WriteHeader(http.StatusOK)
}

func (fv *FakeVault) handleShareCipher(w http.ResponseWriter, r *http.Request, account *FakeAccount) {
	id := r.PathValue("id")
	var req api.CipherShareRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	fv.mu.Lock()
	defer fv.mu.Unlock()
	if _, ok := fv.ciphers[account.ID][id]; !ok {
		writeError(w, http.StatusNotFound, "not_found", "Resource not found.")
		return
	}
	if !memberOf(account, req.Cipher.OrganizationID) {
		writeError(w, http.StatusForbidden, "forbidden", "You do not have permissions to edit this.")
		return
	}

	c := req.Cipher
	c.ID = id
	c.CollectionIDs = append([]string(nil), req.CollectionIDs...)
	_ = writeJSON(w, fv.storeCipher(account.ID, c))
}

func memberOf(account *FakeAccount, orgID string) bool {
	for _, org := range account.Organizations {
		if org.ID == orgID {
			return true
		}
	}
	return false
}

func (fv *FakeVault) handleImport(w http.ResponseWriter, r *http.Request, account *FakeAccount) {
	var req api.ImportCiphersRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	fv.mu.Lock()
	defer fv.mu.Unlock()

	folderIDs := make([]string, len(req.Folders))
	for i, f := range req.Folders {
		folder := models.Folder{ID: uuid.NewString(), Name: f.Name, RevisionDate: time.Now().UTC()}
		fv.folders[account.ID] = append(fv.folders[account.ID], folder)
		folderIDs[i] = folder.ID
	}
	fv.touch(account.ID)

	for _, rel := range req.FolderRelationships {
		if rel.Key < 0 || rel.Key >= len(req.Ciphers) || rel.Value < 0 || rel.Value >= len(folderIDs) {
			writeError(w, http.StatusBadRequest, "invalid_request", "bad folder relationship "+strconv.Itoa(rel.Key))
			return
		}
		req.Ciphers[rel.Key].FolderID = folderIDs[rel.Value]
	}

	for _, c := range req.Ciphers {
		c.ID = ""
		fv.storeCipher(account.ID, c)
	}
	w.WriteHeader(http.StatusOK)
}

func (fv *FakeVault) checkPassword(w http.ResponseWriter, account *FakeAccount, hash string) bool {
	if hash != account.PasswordHash {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid password.")
		return false
	}
	return true
}

func (fv *FakeVault) handlePassword(w http.ResponseWriter, r *http.Request, account *FakeAccount) {
	var req api.PasswordRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	fv.mu.Lock()
	defer fv.mu.Unlock()
	if !fv.checkPassword(w, account, req.MasterPasswordHash) {
		return
	}
	account.PasswordHash = req.NewMasterPasswordHash
	account.Key = req.Key
	account.SecurityStamp = uuid.NewString()
	w.WriteHeader(http.StatusOK)
}

func (fv *FakeVault) handleKdf(w http.ResponseWriter, r *http.Request, account *FakeAccount) {
	var req api.KdfRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	kdf := models.KdfConfig{Kdf: req.Kdf, Iterations: req.KdfIterations}
	if err := kdf.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	fv.mu.Lock()
	defer fv.mu.Unlock()
	if !fv.checkPassword(w, account, req.MasterPasswordHash) {
		return
	}
	account.PasswordHash = req.NewMasterPasswordHash
	account.Key = req.Key
	account.Kdf = kdf
	account.SecurityStamp = uuid.NewString()
	w.WriteHeader(http.StatusOK)
}

func (fv *FakeVault) handleAllDocs(w http.ResponseWriter, r *http.Request) {
	doctype := r.PathValue("doctype")

	fv.mu.RLock()
	defer fv.mu.RUnlock()
	if fv.forbidden[doctype] {
		writeError(w, http.StatusForbidden, "forbidden", "Permission denied for "+doctype)
		return
	}
	docs, ok := fv.documents[doctype]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	type row struct {
		ID  string                 `json:"id"`
		Doc map[string]interface{} `json:"doc"`
	}
	rows := make([]row, 0, len(docs))
	for id, doc := range docs {
		rows = append(rows, row{ID: id, Doc: doc})
	}
	_ = writeJSON(w, map[string]interface{}{"total_rows": len(rows), "rows": rows})
}

func (fv *FakeVault) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	doctype := r.PathValue("doctype")

	fv.mu.RLock()
	defer fv.mu.RUnlock()
	if fv.forbidden[doctype] {
		writeError(w, http.StatusForbidden, "forbidden", "Permission denied for "+doctype)
		return
	}
	doc, ok := fv.documents[doctype][r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Document not found.")
		return
	}
	_ = writeJSON(w, doc)
}

func (fv *FakeVault) handleHub(w http.ResponseWriter, r *http.Request) {
	fv.mu.RLock()
	_, ok := fv.tokens[r.URL.Query().Get("access_token")]
	fv.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_token", "Unauthorized")
		return
	}

	conn, err := fv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	fv.mu.Lock()
	fv.conns = append(fv.conns, conn)
	fv.mu.Unlock()

	go func() {
		defer fv.dropConn(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (fv *FakeVault) dropConn(conn *websocket.Conn) {
	fv.mu.Lock()
	defer fv.mu.Unlock()
	for i, c := range fv.conns {
		if c == conn {
			fv.conns = append(fv.conns[:i], fv.conns[i+1:]...)
			break
		}
	}
	_ = conn.Close()
}

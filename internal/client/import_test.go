package client_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/vaultkeys/internal/client"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/test/testutil"
)

func loginByUsername(t *testing.T, c *client.Client, username string) *models.CipherView {
	t.Helper()
	found, err := c.GetAllDecryptedFor(context.Background(), client.Search{
		Type:     models.CipherTypeLogin,
		Username: username,
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0]
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)

	summary, err := c.Import(ctx, testutil.ChromeCSVSample, "chromecsv")
	require.NoError(t, err)
	assert.Equal(t, client.ImportSummary{Parsed: 2, Supported: 2, Created: 2}, *summary)
	assert.Len(t, fv.Ciphers(testutil.TestEmail), 2)

	logins, err := c.GetAllDecryptedLogins(ctx)
	require.NoError(t, err)
	assert.Len(t, logins, 2, "the vault is synced after the import")
}

func TestImportTwiceMerges(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)

	_, err := c.Import(ctx, testutil.ChromeCSVSample, "chromecsv")
	require.NoError(t, err)

	summary, err := c.Import(ctx, testutil.ChromeCSVSample, "chromecsv")
	require.NoError(t, err)
	assert.Equal(t, client.ImportSummary{Parsed: 2, Supported: 2, Updated: 2}, *summary)
	assert.Len(t, fv.Ciphers(testutil.TestEmail), 2)

	alice := loginByUsername(t, c, "alice")
	assert.Len(t, alice.Login.URIs, 1, "known URIs are not duplicated")
}

func TestImportAddsMissingURIs(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)

	_, err := c.Import(ctx, testutil.ChromeCSVSample, "chromecsv")
	require.NoError(t, err)

	summary, err := c.Import(ctx, testutil.FirefoxCSVSample, "firefoxcsv")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Updated)
	assert.Zero(t, summary.Created)
	assert.Len(t, fv.Ciphers(testutil.TestEmail), 2)

	alice := loginByUsername(t, c, "alice")
	var uris []string
	for _, u := range alice.Login.URIs {
		uris = append(uris, u.URI)
	}
	assert.ElementsMatch(t, []string{"https://example.com/login", "https://example.com"}, uris)
}

func TestImportDistinctCredentials(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)

	saveLogin(t, c, testutil.SampleLogin("Example", "alice", "old-password", "https://example.com"))

	content := "name,url,username,password\n" +
		"a,https://example.com,alice,one\n" +
		"b,https://example.com,bob,two\n"
	summary, err := c.Import(ctx, content, "chromecsv")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Zero(t, summary.Updated, "a different password is a different credential")
	assert.Len(t, fv.Ciphers(testutil.TestEmail), 3)
}

func TestImportRowsSharingACipher(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)

	saveLogin(t, c, testutil.SampleLogin("Example", "alice", "s3cret", "https://example.com/"))

	content := "name,url,username,password\n" +
		"a,https://example.com/a,alice,s3cret\n" +
		"b,https://example.com/b,alice,s3cret\n"
	summary, err := c.Import(ctx, content, "chromecsv")
	require.NoError(t, err)
	assert.Equal(t, client.ImportSummary{Parsed: 2, Supported: 2, Updated: 1}, *summary)
	assert.Len(t, fv.Ciphers(testutil.TestEmail), 1)

	alice := loginByUsername(t, c, "alice")
	var uris []string
	for _, u := range alice.Login.URIs {
		uris = append(uris, u.URI)
	}
	assert.ElementsMatch(t, []string{"https://example.com/", "https://example.com/a", "https://example.com/b"}, uris)
}

func TestImportCollapsesDuplicateRows(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)

	content := "name,url,username,password\n" +
		"a,https://example.com,alice,s3cret\n" +
		"a again,https://example.com,alice,s3cret\n" +
		"b,https://example.com,bob,hunter2\n"
	summary, err := c.Import(ctx, content, "chromecsv")
	require.NoError(t, err)
	assert.Equal(t, client.ImportSummary{Parsed: 3, Supported: 3, Created: 2}, *summary)
	assert.Len(t, fv.Ciphers(testutil.TestEmail), 2)

	alice := loginByUsername(t, c, "alice")
	assert.Len(t, alice.Login.URIs, 1)
}

func TestImportFolders(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)

	summary, err := c.Import(ctx, testutil.BitwardenJSONSample, "bitwardenjson")
	require.NoError(t, err)
	assert.Equal(t, client.ImportSummary{Parsed: 3, Supported: 2, Created: 2}, *summary)

	folders := fv.Folders(testutil.TestEmail)
	require.Len(t, folders, 1)

	alice := loginByUsername(t, c, "alice")
	assert.Equal(t, folders[0].ID, alice.FolderID)
	bob := loginByUsername(t, c, "bob")
	assert.Empty(t, bob.FolderID)
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		format  string
		want    error
	}{
		{name: "unknown format", content: testutil.ChromeCSVSample, format: "nope", want: models.ErrImportUnknownFormat},
		{name: "empty format", content: testutil.ChromeCSVSample, format: "", want: models.ErrImportUnknownFormat},
		{name: "unknown format with bad content", content: "garbage", format: "1passwordcsv", want: models.ErrImportUnknownFormat},
		{name: "unparseable", content: "{not json", format: "bitwardenjson", want: models.ErrImportFormatError},
		{
			name:    "wrong columns",
			content: "name,url,username,password\n,,alice,\n,,bob,\n,,carol,\n",
			format:  "chromecsv",
			want:    models.ErrImportBadFileContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv, _, c := loggedIn(t)

			_, err := c.Import(context.Background(), tt.content, tt.format)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, fv.Ciphers(testutil.TestEmail))
			assert.Zero(t, fv.CountRequests("POST /api/ciphers/import"))
		})
	}
}

func TestImportLocked(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)
	require.NoError(t, c.Lock(ctx))

	_, err := c.Import(ctx, testutil.ChromeCSVSample, "chromecsv")
	assert.ErrorIs(t, err, models.ErrNoEncryptionKey)
	assert.Empty(t, fv.Ciphers(testutil.TestEmail))
}

func TestImportFailureAbortsBatch(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)
	fv.FailNext("POST /api/ciphers/import", 1)

	_, err := c.Import(ctx, testutil.ChromeCSVSample, "chromecsv")
	assert.Error(t, err)
	assert.Empty(t, fv.Ciphers(testutil.TestEmail))
}

func TestConcurrentImports(t *testing.T) {
	ctx := context.Background()
	fv, _, c := loggedIn(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Import(ctx, testutil.ChromeCSVSample, "chromecsv")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, fv.Ciphers(testutil.TestEmail), 2, "the second import merges into the first")
}

func TestImportLogsCarryOperation(t *testing.T) {
	ctx := context.Background()
	fv := testutil.NewFakeVault(t)
	fv.CreateAccount(t, testutil.TestEmail, testutil.TestPassword)
	logger, out := testutil.NewCapturingLogger()
	c := newClient(t, fv, client.WithLogger(logger))
	require.NoError(t, c.Login(ctx, testutil.TestPassword))

	_, err := c.Import(ctx, testutil.ChromeCSVSample, "chromecsv")
	require.NoError(t, err)

	var finished *testutil.LogEntry
	for _, entry := range out.Entries() {
		if entry.Message == "Import finished" {
			entry := entry
			finished = &entry
		}
	}
	require.NotNil(t, finished)
	assert.Equal(t, "import", finished.Fields["op"])
	assert.Equal(t, testutil.TestEmail, finished.Fields["instance"])
	assert.NotEmpty(t, finished.Fields["op_id"])
}

package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/vaultkeys/internal/api"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/services/importer"
)

// ImportSummary counts what an import did.
type ImportSummary struct {
	// Parsed is the number of items in the export.
	Parsed int `json:"parsed"`
	// Supported is the number of logins among them.
	Supported int `json:"supported"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
}

// importBatch holds sealed but unsaved ciphers. New entries go through the
// bulk import endpoint, existing ones are saved one by one.
type importBatch struct {
	New           []models.Cipher
	Existing      []*models.Cipher
	Folders       []api.FolderRequest
	Relationships []api.KeyValuePair
}

// Import parses content in format and merges its logins into the vault.
// A login is merged into an existing one holding the same credential for
// the same site; only its missing URIs are added. Other items are skipped.
func (c *Client) Import(ctx context.Context, content, format string) (*ImportSummary, error) {
	ctx = c.begin(ctx, "import")
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	c.importMu.Lock()
	defer c.importMu.Unlock()

	imp, err := c.services.Importer.GetImporter(format)
	if err != nil {
		return nil, err
	}

	result := imp.Parse(content)
	if !result.Success {
		return nil, models.NewVaultError(models.ErrCodeImportFormatError, "import", errors.New(result.ErrorMessage))
	}
	if c.badContent(result.Ciphers) {
		return nil, models.NewVaultError(models.ErrCodeImportBadFileContent, "import", nil)
	}

	summary := &ImportSummary{Parsed: len(result.Ciphers)}
	batch, err := c.prepareImport(ctx, result, summary)
	if err != nil {
		return nil, err
	}

	for _, cipher := range batch.Existing {
		if _, err := c.services.Cipher.SaveWithServer(ctx, cipher); err != nil {
			return nil, fmt.Errorf("update cipher %s: %w", cipher.ID, err)
		}
		summary.Updated++
	}

	if len(batch.New) > 0 {
		err := c.services.API.PostImportCiphers(ctx, api.ImportCiphersRequest{
			Ciphers:             batch.New,
			Folders:             batch.Folders,
			FolderRelationships: batch.Relationships,
		})
		if err != nil {
			return nil, fmt.Errorf("import ciphers: %w", err)
		}
		summary.Created = len(batch.New)
	}

	events.Tag(ctx, c.logger).WithFields(map[string]interface{}{
		"format":    format,
		"parsed":    summary.Parsed,
		"supported": summary.Supported,
		"created":   summary.Created,
		"updated":   summary.Updated,
	}).Info("Import finished")

	if err := c.sync(ctx, true); err != nil {
		return summary, err
	}
	return summary, nil
}

// badContent samples the first, middle and last items.
func (c *Client) badContent(ciphers []*models.CipherView) bool {
	if len(ciphers) == 0 {
		return false
	}
	bad := c.services.Importer.BadData
	return bad(ciphers[0]) && bad(ciphers[len(ciphers)/2]) && bad(ciphers[len(ciphers)-1])
}

func (c *Client) prepareImport(ctx context.Context, result *importer.ImportResult, summary *ImportSummary) (*importBatch, error) {
	batch := &importBatch{}
	// newIndex maps an export row to its entry in fresh.
	newIndex := make(map[int]int)
	var fresh []*models.CipherView
	// merged holds one view per vault cipher so rows hitting the same
	// cipher accumulate their URIs.
	merged := make(map[string]*models.CipherView)
	var mergedOrder []string

	for i, view := range result.Ciphers {
		if !view.IsLogin() {
			continue
		}
		summary.Supported++

		if j, ok := sameCredential(fresh, view); ok {
			addURIs(fresh[j], view)
			newIndex[i] = j
			continue
		}

		existing, err := c.searchExistingCipher(ctx, view)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			newIndex[i] = len(fresh)
			fresh = append(fresh, view)
			continue
		}

		if m, ok := merged[existing.ID]; ok {
			existing = m
		} else {
			merged[existing.ID] = existing
			mergedOrder = append(mergedOrder, existing.ID)
		}
		addURIs(existing, view)
	}

	for _, id := range mergedOrder {
		original, err := c.services.Cipher.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		sealed, err := c.CreateOrUpdateCipher(ctx, merged[id], original)
		if err != nil {
			return nil, err
		}
		batch.Existing = append(batch.Existing, sealed)
	}

	for _, view := range fresh {
		sealed, err := c.CreateOrUpdateCipher(ctx, view, nil)
		if err != nil {
			return nil, err
		}
		batch.New = append(batch.New, *sealed)
	}

	linked := make(map[int]bool)
	folderIndex := make(map[int]int)
	for _, rel := range result.FolderRelationships {
		cipherIdx, ok := newIndex[rel.Cipher]
		if !ok || linked[cipherIdx] || rel.Folder < 0 || rel.Folder >= len(result.Folders) {
			continue
		}
		linked[cipherIdx] = true

		idx, ok := folderIndex[rel.Folder]
		if !ok {
			folder, err := c.services.Folder.Encrypt(ctx, result.Folders[rel.Folder])
			if err != nil {
				return nil, keyError("import", err)
			}
			idx = len(batch.Folders)
			folderIndex[rel.Folder] = idx
			batch.Folders = append(batch.Folders, api.FolderRequest{Name: folder.Name})
		}
		batch.Relationships = append(batch.Relationships, api.KeyValuePair{Key: cipherIdx, Value: idx})
	}

	return batch, nil
}

// sameCredential returns the index of the login in views holding the same
// credential as view on one of its URIs.
func sameCredential(views []*models.CipherView, view *models.CipherView) (int, bool) {
	for i, candidate := range views {
		if candidate.Login.Username != view.Login.Username || candidate.Login.Password != view.Login.Password {
			continue
		}
		for _, uri := range view.Login.URIs {
			if candidate.Login.HasURI(uri) {
				return i, true
			}
		}
	}
	return 0, false
}

// addURIs appends the URIs of from missing in into.
func addURIs(into, from *models.CipherView) {
	for _, uri := range from.Login.URIs {
		if !into.Login.HasURI(uri) {
			into.Login.URIs = append(into.Login.URIs, uri)
		}
	}
}

// searchExistingCipher finds the vault login holding the same credential
// as view on one of its sites. The most recently revised one wins.
func (c *Client) searchExistingCipher(ctx context.Context, view *models.CipherView) (*models.CipherView, error) {
	var best *models.CipherView
	for _, uri := range view.Login.URIs {
		if uri.URI == "" {
			continue
		}
		candidates, err := c.GetAllDecryptedFor(ctx, Search{
			Type:     models.CipherTypeLogin,
			URI:      uri.URI,
			Username: view.Login.Username,
		})
		if err != nil {
			return nil, err
		}

		for _, candidate := range candidates {
			if candidate.Login.Password != view.Login.Password {
				continue
			}
			if best == nil || candidate.RevisionDate.After(best.RevisionDate) {
				best = candidate
			}
		}
	}
	return best, nil
}

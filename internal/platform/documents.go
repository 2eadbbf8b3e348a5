// Package platform talks to the hosting platform the vault belongs to: its
// document store and the settings the vault client reads from it.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/models"
	"github.com/TheMichaelB/vaultkeys/internal/transport"
)

// Document is a platform document as returned by the data API.
type Document map[string]interface{}

// ID returns the document id.
func (d Document) ID() string {
	return d.String("_id")
}

// String returns a string attribute, or "".
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns a boolean attribute, false when absent.
func (d Document) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// DocumentClient reads documents of the platform's data API.
type DocumentClient interface {
	// Find returns every document of doctype.
	Find(ctx context.Context, doctype string) ([]Document, error)

	// Get returns one document. Missing documents yield an *models.APIError
	// with status 404.
	Get(ctx context.Context, doctype, id string) (Document, error)
}

// HTTPDocumentClient implements DocumentClient over the platform endpoint
// of a transport.
type HTTPDocumentClient struct {
	transport transport.Transport
	logger    *events.Logger
}

// NewHTTPDocumentClient creates a document client.
func NewHTTPDocumentClient(tr transport.Transport, logger *events.Logger) *HTTPDocumentClient {
	return &HTTPDocumentClient{
		transport: tr,
		logger:    logger.WithField("component", "documents"),
	}
}

type allDocsResponse struct {
	Rows []struct {
		ID  string   `json:"id"`
		Doc Document `json:"doc"`
	} `json:"rows"`
}

// Find lists the documents of doctype. Design documents are skipped and a
// doctype without database has no documents.
func (c *HTTPDocumentClient) Find(ctx context.Context, doctype string) ([]Document, error) {
	path := "/data/" + url.PathEscape(doctype) + "/_all_docs?include_docs=true"

	var resp allDocsResponse
	if err := c.transport.Do(ctx, http.MethodGet, transport.EndpointPlatform, path, nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find %s: %w", doctype, err)
	}

	docs := make([]Document, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if strings.HasPrefix(row.ID, "_design/") || row.Doc == nil {
			continue
		}
		docs = append(docs, row.Doc)
	}

	c.logger.WithFields(map[string]interface{}{
		"doctype": doctype,
		"count":   len(docs),
	}).Debug("Documents fetched")
	return docs, nil
}

// Get fetches one document.
func (c *HTTPDocumentClient) Get(ctx context.Context, doctype, id string) (Document, error) {
	path := "/data/" + url.PathEscape(doctype) + "/" + url.PathEscape(id)

	var doc Document
	if err := c.transport.Do(ctx, http.MethodGet, transport.EndpointPlatform, path, nil, &doc); err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", doctype, id, err)
	}
	return doc, nil
}

func isNotFound(err error) bool {
	var apiErr *models.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func isForbidden(err error) bool {
	var apiErr *models.APIError
	return errors.As(err, &apiErr) && apiErr.IsForbidden()
}

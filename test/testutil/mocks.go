package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/vaultkeys/internal/platform"
)

// MockSearchIndex mocks the search index invalidated by the cipher cache.
type MockSearchIndex struct {
	mock.Mock
}

func NewMockSearchIndex() *MockSearchIndex {
	return &MockSearchIndex{}
}

func (m *MockSearchIndex) ClearIndex() {
	m.Called()
}

// MockDocumentClient mocks the platform data API.
type MockDocumentClient struct {
	mock.Mock
}

func (m *MockDocumentClient) Find(ctx context.Context, doctype string) ([]platform.Document, error) {
	args := m.Called(ctx, doctype)
	docs, _ := args.Get(0).([]platform.Document)
	return docs, args.Error(1)
}

func (m *MockDocumentClient) Get(ctx context.Context, doctype, id string) (platform.Document, error) {
	args := m.Called(ctx, doctype, id)
	doc, _ := args.Get(0).(platform.Document)
	return doc, args.Error(1)
}

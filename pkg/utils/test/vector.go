package testutils

import (
	"context"

	"github.com/mementolabs/memento/pkg/vector"
)

// MockVectorDriver is a test vector driver
type MockVectorDriver struct {
	Documents []vector.Document
	Results   []vector.QueryResult
	Deleted   []string
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		Documents: make([]vector.Document, 0),
		Results:   make([]vector.QueryResult, 0),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	m.Documents = append(m.Documents, docs...)
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, userID string, _ []float32, topK int) ([]vector.QueryResult, error) {
	scoped := make([]vector.QueryResult, 0, len(m.Results))
	for _, result := range m.Results {
		if result.UserID == userID {
			scoped = append(scoped, result)
		}
	}
	if len(scoped) > topK {
		scoped = scoped[:topK]
	}
	return scoped, nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.Deleted = append(m.Deleted, ids...)
	return nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}

var _ vector.Driver = (*MockVectorDriver)(nil)

package testutils

import (
	"context"
	"errors"
	"strings"

	"github.com/mementolabs/memento/pkg/llm"
)

// MockCaller is a test llm.Caller that returns configurable extraction
// results and records what it was asked.
type MockCaller struct {
	// Entities is returned by ExtractEntities.
	Entities []llm.Entity

	// Triples is returned by ExtractRelationships.
	Triples []llm.Triple

	// Summary is returned by Summarize. When empty, Summarize joins the
	// inputs with "; ".
	Summary string

	// FailExtraction causes both extraction calls to error.
	FailExtraction bool

	// FailSummarize causes Summarize to error.
	FailSummarize bool

	// ExtractedTexts accumulates the texts passed to extraction calls.
	ExtractedTexts []string

	// SummarizedBatches accumulates the content batches passed to Summarize.
	SummarizedBatches [][]string
}

func NewMockCaller() *MockCaller {
	return &MockCaller{}
}

func (m *MockCaller) ExtractEntities(_ context.Context, text string) ([]llm.Entity, error) {
	if m.FailExtraction {
		return nil, errors.New("mock entity extraction failure")
	}
	m.ExtractedTexts = append(m.ExtractedTexts, text)
	return m.Entities, nil
}

func (m *MockCaller) ExtractRelationships(_ context.Context, text string) ([]llm.Triple, error) {
	if m.FailExtraction {
		return nil, errors.New("mock relationship extraction failure")
	}
	return m.Triples, nil
}

func (m *MockCaller) Summarize(_ context.Context, contents []string) (string, error) {
	if m.FailSummarize {
		return "", errors.New("mock summarize failure")
	}
	m.SummarizedBatches = append(m.SummarizedBatches, contents)
	if m.Summary != "" {
		return m.Summary, nil
	}
	return strings.Join(contents, "; "), nil
}

var _ llm.Caller = (*MockCaller)(nil)

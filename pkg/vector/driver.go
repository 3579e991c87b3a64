// Package vector provides interfaces and implementations for vector index
// storage and similarity queries.
//
// The index holds one document per memory, keyed by the memory id and tagged
// with the owning user. Queries are always scoped to a single user — tenant
// isolation is enforced inside the driver, not left to callers.
package vector

import "context"

// Document represents an indexed embedding with its owner.
type Document struct {
	// ID is a unique identifier for the document (the memory id).
	ID string

	// UserID is the owning user. Queries never cross user boundaries.
	UserID string

	// Embedding is the vector representation of the document content.
	Embedding []float32
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score is the cosine similarity (higher = more similar).
	Score float32
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings. If a document with the
	// same ID already exists, implementers should update the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents owned by userID.
	Query(ctx context.Context, userID string, embedding []float32, topK int) ([]QueryResult, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}

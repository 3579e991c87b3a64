// Package memory provides the core memory model and service for the memento
// system.
//
// A Memory is a single atomic fact in natural language, owned by exactly one
// user and carrying a vector embedding for semantic retrieval. Facts are never
// hard-deleted: when a fact changes, the old memory is superseded by a new one
// and the pair is linked into a supersession chain; low-value memories are
// archived by the lifecycle manager but remain fetchable by id.
package memory

import "time"

// Source describes how a memory entered the system.
type Source string

const (
	// SourceExplicit marks a fact the user asked to remember verbatim.
	SourceExplicit Source = "explicit"

	// SourceExtracted marks a fact distilled from conversation.
	SourceExtracted Source = "extracted"

	// SourceInferred marks a fact derived from other memories.
	SourceInferred Source = "inferred"

	// SourceUpdated marks a consolidation summary that replaced a cluster.
	SourceUpdated Source = "updated"

	// SourceSystem marks a fact written by the system itself.
	SourceSystem Source = "system"
)

// ValidSource reports whether s is one of the known source values.
func ValidSource(s Source) bool {
	switch s {
	case SourceExplicit, SourceExtracted, SourceInferred, SourceUpdated, SourceSystem:
		return true
	}
	return false
}

// Memory is a single stored fact with confidence, provenance, supersession
// links, and lifecycle metadata.
type Memory struct {
	// ID is unique and immutable once assigned.
	ID string `json:"id"`

	// UserID is the owning user. Every operation is scoped to it.
	UserID string `json:"user_id"`

	// Content is the fact text. Never empty.
	Content string `json:"content"`

	// Embedding is the vector derived from Content. Content never mutates
	// without the embedding being regenerated.
	Embedding []float32 `json:"-"`

	// Confidence is in [0,1].
	Confidence float64 `json:"confidence"`

	Source Source `json:"source"`

	// Supersedes is the id of the memory this one replaced, if any.
	Supersedes string `json:"supersedes,omitempty"`

	// SupersededBy is the id of the memory that replaced this one, if any.
	// At most one; following SupersededBy links never cycles.
	SupersededBy string `json:"superseded_by,omitempty"`

	// Lifecycle fields, maintained by the lifecycle manager.
	Importance     float64 `json:"importance"`
	BaseImportance float64 `json:"base_importance"`
	AccessCount    int     `json:"access_count"`
	IsArchived     bool    `json:"is_archived"`
	IsCritical     bool    `json:"is_critical"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Active reports whether the memory is eligible for retrieval: not superseded
// and not archived.
func (m *Memory) Active() bool {
	return m.SupersededBy == "" && !m.IsArchived
}

// SearchResult pairs a memory with its similarity score for a query.
type SearchResult struct {
	Memory *Memory

	// Score is the cosine similarity against the query embedding.
	Score float32
}

// User is a namespace boundary for multi-tenant isolation, not a profile.
type User struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Entity is a named concept mentioned by one or more memories. Identity is by
// normalized name + type; repeated extraction updates LastSeen rather than
// duplicating.
type Entity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Embedding []float32 `json:"-"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Relationship is a directed typed edge between two entities, with the memory
// it was extracted from as provenance. Multiple relationships of different
// types may exist between the same entity pair.
type Relationship struct {
	SubjectID      string  `json:"subject_id"`
	Type           string  `json:"type"`
	ObjectID       string  `json:"object_id"`
	Strength       float64 `json:"strength"`
	SourceMemoryID string  `json:"source_memory_id"`
}

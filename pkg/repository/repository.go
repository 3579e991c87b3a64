// Package repository defines the durable storage contract for memories,
// entities, relationships, and users.
//
// The repository is the enforcement point for tenant isolation: every
// retrieval method takes the owning user id and filters at the query level,
// so a caller cannot accidentally see another user's data by forgetting a
// filter. Retrieval methods exclude superseded and archived memories at the
// query level for the same reason; explicit id lookups do not.
//
// A connection is acquired once per process, reused across calls, and
// released on Close. Vector index existence is ensured idempotently at
// construction, not on every query.
package repository

import (
	"context"
	"time"

	"github.com/mementolabs/memento/pkg/memory"
)

// CreateMemoryParams carries the caller-supplied fields for a new memory.
// The repository assigns the id and all timestamps.
type CreateMemoryParams struct {
	Content        string
	Embedding      []float32
	Confidence     float64
	Source         memory.Source
	BaseImportance float64
	IsCritical     bool
}

// MemoryUpdate is a partial update: nil fields are left untouched.
// UpdatedAt is always bumped. Applying an update is a single atomic write.
type MemoryUpdate struct {
	Supersedes   *string
	SupersededBy *string
	Importance   *float64
	IsArchived   *bool
	IsCritical   *bool
}

// EntityUpsert carries the fields for entity creation keyed by normalized
// (name, type). A repeated upsert updates LastSeen rather than duplicating.
type EntityUpsert struct {
	UserID    string
	Name      string
	Type      string
	Embedding []float32
}

// Path is one reachable entity in a graph traversal with its hop distance
// from the starting entity.
type Path struct {
	Entity   *memory.Entity
	Distance int
}

// Repository is the storage contract consumed by the memory service, the
// graph pipeline, and the lifecycle manager.
type Repository interface {
	// CreateMemory assigns an id, writes the record, and links it to the
	// user, auto-creating the user namespace if absent.
	CreateMemory(ctx context.Context, userID string, params CreateMemoryParams) (*memory.Memory, error)

	// GetMemory fetches one memory by id, scoped to userID. Archived and
	// superseded memories are still returned here; only search and recency
	// listings exclude them. Returns memory.ErrMemoryNotFound when the id
	// is absent or owned by another user.
	GetMemory(ctx context.Context, userID, memoryID string) (*memory.Memory, error)

	// GetMemoriesByIDs fetches memories by id, scoped to userID. Ids that
	// are absent or foreign are silently skipped.
	GetMemoriesByIDs(ctx context.Context, userID string, ids []string) ([]*memory.Memory, error)

	// SearchByVector returns up to limit non-superseded, non-archived
	// memories owned by userID ranked by cosine similarity to embedding.
	SearchByVector(ctx context.Context, userID string, embedding []float32, limit int) ([]memory.SearchResult, error)

	// GetRecentMemories returns up to limit non-superseded, non-archived
	// memories owned by userID ordered by CreatedAt descending.
	GetRecentMemories(ctx context.Context, userID string, limit int) ([]*memory.Memory, error)

	// ActiveMemories returns up to limit non-superseded, non-archived
	// memories for lifecycle batches, oldest accessed first.
	ActiveMemories(ctx context.Context, userID string, limit int) ([]*memory.Memory, error)

	// UpdateMemory applies a partial update and returns the new state.
	// Returns memory.ErrMemoryNotFound if the id is absent.
	UpdateMemory(ctx context.Context, memoryID string, update MemoryUpdate) (*memory.Memory, error)

	// TouchAccessed sets AccessedAt to now and increments AccessCount for
	// each id, as one atomic write per memory.
	TouchAccessed(ctx context.Context, ids []string, now time.Time) error

	// ListUserIDs returns all known user namespaces.
	ListUserIDs(ctx context.Context) ([]string, error)

	// CreateOrUpdateEntity upserts an entity keyed by normalized
	// (name, type) within the user namespace.
	CreateOrUpdateEntity(ctx context.Context, upsert EntityUpsert) (*memory.Entity, error)

	// CreateMentions records that a memory mentions an entity. Idempotent.
	CreateMentions(ctx context.Context, memoryID, entityID string) error

	// CreateRelationship records a typed edge between two entities with
	// the originating memory as provenance.
	CreateRelationship(ctx context.Context, rel memory.Relationship) error

	// TraverseGraph walks relationship edges up to depth hops from the
	// entity with the given normalized name, returning reached entities
	// with their hop distance (the start entity at distance 0).
	TraverseGraph(ctx context.Context, userID, entityName string, depth int) ([]Path, error)

	// MemoriesMentioning returns active memories that mention any of the
	// given entities, scoped to userID.
	MemoriesMentioning(ctx context.Context, userID string, entityIDs []string) ([]*memory.Memory, error)

	// Close releases the storage connection.
	Close() error
}

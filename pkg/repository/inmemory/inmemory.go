// Package inmemory provides an in-process implementation of the repository
// contract.
//
// It holds all state behind a single read-write mutex and computes cosine
// similarity directly over the stored embeddings. This is the local-dev and
// test story; the sqlite repository is the durable one. Both enforce the same
// contract, in particular user scoping at the query level.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/vector"
)

// Repository implements repository.Repository using in-process maps.
type Repository struct {
	mu sync.RWMutex

	// memories maps memory id -> record. Ownership checks go through the
	// record's UserID on every scoped read.
	memories map[string]*memory.Memory

	// users maps user id -> creation time.
	users map[string]time.Time

	// entities maps entity id -> record; entityKeys maps
	// userID + normalized (name, type) -> entity id.
	entities   map[string]*memory.Entity
	entityKeys map[string]string

	// mentions maps memory id -> set of entity ids, with an inverted index
	// from entity id -> set of memory ids.
	mentions    map[string]map[string]struct{}
	mentionedBy map[string]map[string]struct{}

	relationships []memory.Relationship
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		memories:    make(map[string]*memory.Memory),
		users:       make(map[string]time.Time),
		entities:    make(map[string]*memory.Entity),
		entityKeys:  make(map[string]string),
		mentions:    make(map[string]map[string]struct{}),
		mentionedBy: make(map[string]map[string]struct{}),
	}
}

// entityKey builds the normalized identity key for an entity.
func entityKey(userID, name, entityType string) string {
	return userID + "\x00" + strings.ToLower(strings.TrimSpace(name)) + "\x00" + strings.ToLower(strings.TrimSpace(entityType))
}

// CreateMemory assigns an id, writes the record, and auto-creates the user
// namespace if absent.
func (r *Repository) CreateMemory(_ context.Context, userID string, params repository.CreateMemoryParams) (*memory.Memory, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if _, ok := r.users[userID]; !ok {
		r.users[userID] = now
	}

	mem := &memory.Memory{
		ID:             uuid.NewString(),
		UserID:         userID,
		Content:        params.Content,
		Embedding:      append([]float32(nil), params.Embedding...),
		Confidence:     params.Confidence,
		Source:         params.Source,
		Importance:     params.BaseImportance,
		BaseImportance: params.BaseImportance,
		IsCritical:     params.IsCritical,
		CreatedAt:      now,
		UpdatedAt:      now,
		AccessedAt:     now,
	}

	r.memories[mem.ID] = mem

	return copyMemory(mem), nil
}

// GetMemory fetches one memory by id, scoped to userID.
func (r *Repository) GetMemory(_ context.Context, userID, memoryID string) (*memory.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mem, ok := r.memories[memoryID]
	if !ok || mem.UserID != userID {
		return nil, fmt.Errorf("%w: %s", memory.ErrMemoryNotFound, memoryID)
	}

	return copyMemory(mem), nil
}

// GetMemoriesByIDs fetches memories by id, scoped to userID. Absent or
// foreign ids are skipped.
func (r *Repository) GetMemoriesByIDs(_ context.Context, userID string, ids []string) ([]*memory.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*memory.Memory, 0, len(ids))
	for _, id := range ids {
		mem, ok := r.memories[id]
		if !ok || mem.UserID != userID {
			continue
		}
		result = append(result, copyMemory(mem))
	}

	return result, nil
}

// SearchByVector ranks the user's active memories by cosine similarity.
func (r *Repository) SearchByVector(_ context.Context, userID string, embedding []float32, limit int) ([]memory.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []memory.SearchResult
	for _, mem := range r.memories {
		if mem.UserID != userID || !mem.Active() {
			continue
		}

		results = append(results, memory.SearchResult{
			Memory: copyMemory(mem),
			Score:  vector.CosineSimilarity(embedding, mem.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// GetRecentMemories returns the user's active memories, newest first.
func (r *Repository) GetRecentMemories(_ context.Context, userID string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 10
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*memory.Memory
	for _, mem := range r.memories {
		if mem.UserID != userID || !mem.Active() {
			continue
		}
		result = append(result, copyMemory(mem))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// ActiveMemories returns active memories for lifecycle batches, oldest
// accessed first so decay work is spread fairly across re-runs.
func (r *Repository) ActiveMemories(_ context.Context, userID string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*memory.Memory
	for _, mem := range r.memories {
		if mem.UserID != userID || !mem.Active() {
			continue
		}
		result = append(result, copyMemory(mem))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AccessedAt.Before(result[j].AccessedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// UpdateMemory applies a partial update as one atomic write.
func (r *Repository) UpdateMemory(_ context.Context, memoryID string, update repository.MemoryUpdate) (*memory.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mem, ok := r.memories[memoryID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", memory.ErrMemoryNotFound, memoryID)
	}

	if update.Supersedes != nil {
		mem.Supersedes = *update.Supersedes
	}
	if update.SupersededBy != nil {
		mem.SupersededBy = *update.SupersededBy
	}
	if update.Importance != nil {
		mem.Importance = *update.Importance
	}
	if update.IsArchived != nil {
		mem.IsArchived = *update.IsArchived
	}
	if update.IsCritical != nil {
		mem.IsCritical = *update.IsCritical
	}
	mem.UpdatedAt = time.Now().UTC()

	return copyMemory(mem), nil
}

// TouchAccessed bumps accessed_at and access_count for each id.
func (r *Repository) TouchAccessed(_ context.Context, ids []string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		mem, ok := r.memories[id]
		if !ok {
			continue
		}
		mem.AccessCount++
		if now.After(mem.AccessedAt) {
			mem.AccessedAt = now
		}
	}

	return nil
}

// ListUserIDs returns all known user namespaces.
func (r *Repository) ListUserIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

// CreateOrUpdateEntity upserts an entity keyed by normalized (name, type).
func (r *Repository) CreateOrUpdateEntity(_ context.Context, upsert repository.EntityUpsert) (*memory.Entity, error) {
	if strings.TrimSpace(upsert.Name) == "" {
		return nil, errors.New("entity name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	key := entityKey(upsert.UserID, upsert.Name, upsert.Type)

	if id, ok := r.entityKeys[key]; ok {
		entity := r.entities[id]
		entity.LastSeen = now
		if len(upsert.Embedding) > 0 {
			entity.Embedding = append([]float32(nil), upsert.Embedding...)
		}
		return copyEntity(entity), nil
	}

	entity := &memory.Entity{
		ID:        uuid.NewString(),
		UserID:    upsert.UserID,
		Name:      upsert.Name,
		Type:      upsert.Type,
		Embedding: append([]float32(nil), upsert.Embedding...),
		FirstSeen: now,
		LastSeen:  now,
	}

	r.entities[entity.ID] = entity
	r.entityKeys[key] = entity.ID

	return copyEntity(entity), nil
}

// CreateMentions records a MENTIONS edge from a memory to an entity.
func (r *Repository) CreateMentions(_ context.Context, memoryID, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.memories[memoryID]; !ok {
		return fmt.Errorf("%w: %s", memory.ErrMemoryNotFound, memoryID)
	}
	if _, ok := r.entities[entityID]; !ok {
		return fmt.Errorf("entity not found: %s", entityID)
	}

	if r.mentions[memoryID] == nil {
		r.mentions[memoryID] = make(map[string]struct{})
	}
	r.mentions[memoryID][entityID] = struct{}{}

	if r.mentionedBy[entityID] == nil {
		r.mentionedBy[entityID] = make(map[string]struct{})
	}
	r.mentionedBy[entityID][memoryID] = struct{}{}

	return nil
}

// CreateRelationship records a RELATES_TO edge between two entities.
func (r *Repository) CreateRelationship(_ context.Context, rel memory.Relationship) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[rel.SubjectID]; !ok {
		return fmt.Errorf("entity not found: %s", rel.SubjectID)
	}
	if _, ok := r.entities[rel.ObjectID]; !ok {
		return fmt.Errorf("entity not found: %s", rel.ObjectID)
	}

	// Same pair and type is an idempotent re-assertion.
	for i, existing := range r.relationships {
		if existing.SubjectID == rel.SubjectID && existing.ObjectID == rel.ObjectID && existing.Type == rel.Type {
			r.relationships[i].Strength = rel.Strength
			r.relationships[i].SourceMemoryID = rel.SourceMemoryID
			return nil
		}
	}

	r.relationships = append(r.relationships, rel)
	return nil
}

// TraverseGraph walks relationship edges breadth-first up to depth hops.
// Edges are followed in both directions.
func (r *Repository) TraverseGraph(_ context.Context, userID, entityName string, depth int) ([]repository.Path, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	normalized := strings.ToLower(strings.TrimSpace(entityName))

	var start *memory.Entity
	for _, entity := range r.entities {
		if entity.UserID == userID && strings.ToLower(entity.Name) == normalized {
			start = entity
			break
		}
	}
	if start == nil {
		return nil, nil
	}

	distances := map[string]int{start.ID: 0}
	frontier := []string{start.ID}

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, rel := range r.relationships {
				var neighbor string
				switch id {
				case rel.SubjectID:
					neighbor = rel.ObjectID
				case rel.ObjectID:
					neighbor = rel.SubjectID
				default:
					continue
				}
				if _, seen := distances[neighbor]; seen {
					continue
				}
				if entity, ok := r.entities[neighbor]; !ok || entity.UserID != userID {
					continue
				}
				distances[neighbor] = hop
				next = append(next, neighbor)
			}
		}
		frontier = next
	}

	paths := make([]repository.Path, 0, len(distances))
	for id, distance := range distances {
		paths = append(paths, repository.Path{
			Entity:   copyEntity(r.entities[id]),
			Distance: distance,
		})
	}

	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Distance != paths[j].Distance {
			return paths[i].Distance < paths[j].Distance
		}
		return paths[i].Entity.Name < paths[j].Entity.Name
	})

	return paths, nil
}

// MemoriesMentioning returns active memories mentioning any given entity.
func (r *Repository) MemoriesMentioning(_ context.Context, userID string, entityIDs []string) ([]*memory.Memory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []*memory.Memory
	for _, entityID := range entityIDs {
		for memoryID := range r.mentionedBy[entityID] {
			if _, dup := seen[memoryID]; dup {
				continue
			}
			seen[memoryID] = struct{}{}

			mem, ok := r.memories[memoryID]
			if !ok || mem.UserID != userID || !mem.Active() {
				continue
			}
			result = append(result, copyMemory(mem))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// Close is a no-op for the in-memory repository.
func (r *Repository) Close() error {
	return nil
}

// copyMemory returns a defensive copy so callers cannot mutate internal state.
func copyMemory(mem *memory.Memory) *memory.Memory {
	clone := *mem
	clone.Embedding = append([]float32(nil), mem.Embedding...)
	return &clone
}

func copyEntity(entity *memory.Entity) *memory.Entity {
	clone := *entity
	clone.Embedding = append([]float32(nil), entity.Embedding...)
	return &clone
}

var _ repository.Repository = (*Repository)(nil)

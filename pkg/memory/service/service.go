// Package service implements the memory service: the single entry point for
// storing, searching, and superseding memories.
//
// The service owns validation, embedding generation, conflict surfacing, and
// supersession chain integrity. Storage and retrieval are delegated to the
// repository, graph enrichment to the extraction pipeline, and state-change
// notifications to the eventstream publisher. Every operation is scoped to a
// user id; cross-user access surfaces as not-found, never as another user's
// data.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/embeddings"
	"github.com/mementolabs/memento/pkg/eventstream"
	"github.com/mementolabs/memento/pkg/graph"
	"github.com/mementolabs/memento/pkg/llm"
	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/vector"
)

const (
	// ConflictThreshold is the similarity above which an existing active
	// memory is surfaced as potentially contradicted by a new one.
	ConflictThreshold = 0.80

	// maxSimilarReported caps how many similar memories a store response
	// surfaces.
	maxSimilarReported = 5

	// SearchScoreFloor drops results with similarity below it.
	SearchScoreFloor = 0.30

	// DefaultSearchLimit applies when the caller passes limit <= 0.
	DefaultSearchLimit = 5

	// MaxSearchLimit caps the caller-supplied search limit.
	MaxSearchLimit = 20

	// DefaultRecentLimit applies when the caller passes limit <= 0.
	DefaultRecentLimit = 10

	// MaxRecentLimit caps the caller-supplied recency limit.
	MaxRecentLimit = 50

	// MaxGraphDepth caps relationship traversal from a query entity.
	MaxGraphDepth = 3

	// DefaultBaseImportance applies when the caller does not set one.
	DefaultBaseImportance = 0.5

	// DefaultConfidence applies when the caller omits confidence entirely.
	DefaultConfidence = 1.0

	// graphTimeout bounds the detached extraction run after a store.
	graphTimeout = 60 * time.Second
)

// Service coordinates memory operations across the repository, embedder,
// graph pipeline, and event stream.
type Service struct {
	repo     repository.Repository
	embedder embeddings.Embedder
	pipeline *graph.Pipeline
	caller   llm.Caller
	events   eventstream.Publisher
	logger   *zap.Logger
}

// NewService wires a memory service. pipeline and caller may be nil, which
// disables graph enrichment and graph-augmented search respectively.
func NewService(
	repo repository.Repository,
	embedder embeddings.Embedder,
	pipeline *graph.Pipeline,
	caller llm.Caller,
	events eventstream.Publisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		embedder: embedder,
		pipeline: pipeline,
		caller:   caller,
		events:   events,
		logger:   logger,
	}
}

// StoreMemoryInput carries the caller-supplied fields for a new memory.
// Confidence is a pointer so an omitted value (default 1.0) is
// distinguishable from an explicit 0.0.
type StoreMemoryInput struct {
	Content        string
	Confidence     *float64
	Source         memory.Source
	BaseImportance float64
	IsCritical     bool
}

// StoreMemoryResult is the outcome of a store: the new memory plus any
// highly similar active memories the caller should review for supersession.
type StoreMemoryResult struct {
	Memory *memory.Memory

	// Similar holds active memories whose similarity to the new content is
	// at or above ConflictThreshold, most similar first.
	Similar []memory.SearchResult

	// ActionRequired is a human-readable prompt naming the similar memory
	// ids, empty when there are none. The new memory is stored either way.
	ActionRequired string
}

// StoreMemory validates, embeds, and persists a new memory, then surfaces
// similar active memories as potential conflicts. Graph extraction runs
// asynchronously; its failure never affects the stored memory.
func (s *Service) StoreMemory(ctx context.Context, userID string, in StoreMemoryInput) (*StoreMemoryResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidParameter)
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", memory.ErrInvalidParameter)
	}

	confidence := DefaultConfidence
	if in.Confidence != nil {
		confidence = *in.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v is outside [0,1]", memory.ErrInvalidParameter, confidence)
	}

	source := in.Source
	if source == "" {
		source = memory.SourceExtracted
	}
	if !memory.ValidSource(source) {
		return nil, fmt.Errorf("%w: unknown source %q", memory.ErrInvalidParameter, in.Source)
	}

	baseImportance := in.BaseImportance
	if baseImportance == 0 {
		baseImportance = DefaultBaseImportance
	}
	if baseImportance < 0 || baseImportance > 1 {
		return nil, fmt.Errorf("%w: base importance %v is outside [0,1]", memory.ErrInvalidParameter, in.BaseImportance)
	}

	embedding, err := s.embed(ctx, content)
	if err != nil {
		return nil, err
	}

	mem, err := s.repo.CreateMemory(ctx, userID, repository.CreateMemoryParams{
		Content:        content,
		Embedding:      embedding,
		Confidence:     confidence,
		Source:         source,
		BaseImportance: baseImportance,
		IsCritical:     in.IsCritical,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating memory: %v", memory.ErrStorage, err)
	}

	similar, err := s.findSimilar(ctx, userID, mem.ID, embedding)
	if err != nil {
		// The memory is stored; conflict surfacing is advisory.
		s.logger.Warn("similarity check failed after store",
			zap.String("memory_id", mem.ID),
			zap.Error(err),
		)
		similar = nil
	}

	result := &StoreMemoryResult{Memory: mem, Similar: similar}
	if len(similar) > 0 {
		ids := make([]string, len(similar))
		for i, sim := range similar {
			ids[i] = sim.Memory.ID
		}
		result.ActionRequired = fmt.Sprintf(
			"%d existing memories are highly similar to this one: %s. If the new fact replaces one of them, supersede it.",
			len(ids), strings.Join(ids, ", "),
		)
	}

	s.runGraphExtraction(mem)
	s.publish(&eventstream.MemoryEvent{
		EventType: eventstream.EventTypeMemoryStored,
		UserID:    mem.UserID,
		MemoryID:  mem.ID,
		Memory:    mem,
	})

	s.logger.Info("memory stored",
		zap.String("user_id", userID),
		zap.String("memory_id", mem.ID),
		zap.String("source", string(source)),
		zap.Int("similar_count", len(similar)),
	)

	return result, nil
}

// SearchMemories embeds the query and returns active memories ranked by
// similarity, dropping results below SearchScoreFloor. Returned memories get
// their access stats bumped.
func (s *Service) SearchMemories(ctx context.Context, userID, query string, limit int) ([]memory.SearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidParameter)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", memory.ErrInvalidParameter)
	}
	limit = clamp(limit, DefaultSearchLimit, MaxSearchLimit)

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := s.repo.SearchByVector(ctx, userID, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: searching memories: %v", memory.ErrStorage, err)
	}

	filtered := results[:0]
	for _, result := range results {
		if result.Score >= SearchScoreFloor {
			filtered = append(filtered, result)
		}
	}

	s.touchResults(ctx, memoryIDs(filtered))

	return filtered, nil
}

// GraphSearchResult pairs a memory with its vector score and its hop
// distance through the entity graph. Memories found only through the graph
// carry Score 0; memories found only by vector carry GraphDistance 0.
type GraphSearchResult struct {
	Memory        *memory.Memory
	Score         float32
	GraphDistance int
}

// SearchWithGraph runs a vector search, then expands it through the entity
// relationship graph: entities mentioned in the query are traversed up to
// MaxGraphDepth hops and memories mentioning reached entities join the
// result set. Extraction failure degrades to plain vector search.
func (s *Service) SearchWithGraph(ctx context.Context, userID, query string, limit int) ([]GraphSearchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidParameter)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", memory.ErrInvalidParameter)
	}
	limit = clamp(limit, DefaultSearchLimit, MaxSearchLimit)

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	vectorResults, err := s.repo.SearchByVector(ctx, userID, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: searching memories: %v", memory.ErrStorage, err)
	}

	merged := make(map[string]*GraphSearchResult, len(vectorResults))
	for _, result := range vectorResults {
		if result.Score < SearchScoreFloor {
			continue
		}
		merged[result.Memory.ID] = &GraphSearchResult{
			Memory: result.Memory,
			Score:  result.Score,
		}
	}

	s.expandThroughGraph(ctx, userID, query, merged)

	results := make([]GraphSearchResult, 0, len(merged))
	for _, result := range merged {
		results = append(results, *result)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].GraphDistance != results[j].GraphDistance {
			return results[i].GraphDistance < results[j].GraphDistance
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})

	// Graph expansion may exceed the vector limit; allow up to double.
	if len(results) > limit*2 {
		results = results[:limit*2]
	}

	ids := make([]string, len(results))
	for i, result := range results {
		ids[i] = result.Memory.ID
	}
	s.touchResults(ctx, ids)

	return results, nil
}

// expandThroughGraph extracts entities from the query, traverses the
// relationship graph, and merges memories mentioning reached entities.
// Best-effort: failures log and leave the vector results untouched.
func (s *Service) expandThroughGraph(ctx context.Context, userID, query string, merged map[string]*GraphSearchResult) {
	if s.caller == nil {
		return
	}

	entities, err := s.caller.ExtractEntities(ctx, query)
	if err != nil {
		s.logger.Warn("query entity extraction failed, using vector results only",
			zap.Error(err),
		)
		return
	}

	for _, entity := range entities {
		paths, err := s.repo.TraverseGraph(ctx, userID, entity.Name, MaxGraphDepth)
		if err != nil {
			s.logger.Warn("graph traversal failed",
				zap.String("entity", entity.Name),
				zap.Error(err),
			)
			continue
		}
		if len(paths) == 0 {
			continue
		}

		entityIDs := make([]string, len(paths))
		distanceByEntity := make(map[string]int, len(paths))
		for i, path := range paths {
			entityIDs[i] = path.Entity.ID
			distanceByEntity[path.Entity.ID] = path.Distance
		}

		memories, err := s.repo.MemoriesMentioning(ctx, userID, entityIDs)
		if err != nil {
			s.logger.Warn("graph memory lookup failed",
				zap.String("entity", entity.Name),
				zap.Error(err),
			)
			continue
		}

		// A memory's graph distance is the nearest reached entity that
		// mentions it; repository order does not carry that, so use the
		// smallest distance among this traversal's entities.
		minDistance := MaxGraphDepth
		for _, path := range paths {
			if path.Distance < minDistance {
				minDistance = path.Distance
			}
		}

		for _, mem := range memories {
			if existing, ok := merged[mem.ID]; ok {
				if existing.GraphDistance == 0 || minDistance < existing.GraphDistance {
					existing.GraphDistance = minDistance
				}
				continue
			}
			merged[mem.ID] = &GraphSearchResult{
				Memory:        mem,
				GraphDistance: minDistance,
			}
		}
	}
}

// GetRecentMemories returns the user's newest active memories without
// bumping access stats; listing is not a signal of relevance.
func (s *Service) GetRecentMemories(ctx context.Context, userID string, limit int) ([]*memory.Memory, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", memory.ErrInvalidParameter)
	}
	limit = clamp(limit, DefaultRecentLimit, MaxRecentLimit)

	memories, err := s.repo.GetRecentMemories(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing recent memories: %v", memory.ErrStorage, err)
	}

	return memories, nil
}

// GetMemory fetches one memory by id. An explicit lookup restores an
// archived memory to active and counts as an access.
func (s *Service) GetMemory(ctx context.Context, userID, memoryID string) (*memory.Memory, error) {
	if userID == "" || memoryID == "" {
		return nil, fmt.Errorf("%w: user id and memory id are required", memory.ErrInvalidParameter)
	}

	mem, err := s.repo.GetMemory(ctx, userID, memoryID)
	if err != nil {
		if errors.Is(err, memory.ErrMemoryNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetching memory: %v", memory.ErrStorage, err)
	}

	if mem.IsArchived {
		restored := false
		mem, err = s.repo.UpdateMemory(ctx, mem.ID, repository.MemoryUpdate{IsArchived: &restored})
		if err != nil {
			return nil, fmt.Errorf("%w: restoring memory: %v", memory.ErrStorage, err)
		}
		s.logger.Info("archived memory restored by lookup",
			zap.String("memory_id", mem.ID),
		)
	}

	s.touchResults(ctx, []string{mem.ID})

	return mem, nil
}

// SupersedeMemory links newID as the replacement of oldID. The old memory
// stays fetchable by id but leaves search and recency results. Repeating an
// identical supersession is a no-op; superseding an already-superseded
// memory with a different id, self-supersession, and supersessions that
// would cycle the chain are rejected.
func (s *Service) SupersedeMemory(ctx context.Context, userID, oldID, newID string) (*memory.Memory, error) {
	if userID == "" || oldID == "" || newID == "" {
		return nil, fmt.Errorf("%w: user id, old id, and new id are required", memory.ErrInvalidParameter)
	}
	if oldID == newID {
		return nil, fmt.Errorf("%w: a memory cannot supersede itself", memory.ErrInvalidParameter)
	}

	old, err := s.repo.GetMemory(ctx, userID, oldID)
	if err != nil {
		return nil, err
	}
	replacement, err := s.repo.GetMemory(ctx, userID, newID)
	if err != nil {
		return nil, err
	}

	// Already linked exactly this way: idempotent no-op.
	if old.SupersededBy == newID && replacement.Supersedes == oldID {
		return replacement, nil
	}

	if old.SupersededBy != "" {
		return nil, fmt.Errorf("%w: memory %s is already superseded by %s",
			memory.ErrInvalidParameter, oldID, old.SupersededBy)
	}
	if replacement.Supersedes != "" {
		return nil, fmt.Errorf("%w: memory %s already supersedes %s",
			memory.ErrInvalidParameter, newID, replacement.Supersedes)
	}

	if err := s.checkNoCycle(ctx, userID, old, newID); err != nil {
		return nil, err
	}

	supersededBy := newID
	if _, err := s.repo.UpdateMemory(ctx, oldID, repository.MemoryUpdate{SupersededBy: &supersededBy}); err != nil {
		return nil, fmt.Errorf("%w: marking memory superseded: %v", memory.ErrStorage, err)
	}

	update := repository.MemoryUpdate{Supersedes: &oldID}
	if replacement.IsArchived {
		// Becoming the head of a chain restores an archived replacement.
		restored := false
		update.IsArchived = &restored
	}
	replacement, err = s.repo.UpdateMemory(ctx, newID, update)
	if err != nil {
		return nil, fmt.Errorf("%w: linking replacement memory: %v", memory.ErrStorage, err)
	}

	s.publish(&eventstream.MemoryEvent{
		EventType:    eventstream.EventTypeMemorySuperseded,
		UserID:       userID,
		MemoryID:     newID,
		SupersededID: oldID,
		Memory:       replacement,
	})

	s.logger.Info("memory superseded",
		zap.String("user_id", userID),
		zap.String("old_id", oldID),
		zap.String("new_id", newID),
	)

	return replacement, nil
}

// checkNoCycle walks the supersedes chain backwards from old; finding newID
// there means the proposed link would close a loop.
func (s *Service) checkNoCycle(ctx context.Context, userID string, old *memory.Memory, newID string) error {
	seen := map[string]bool{old.ID: true}
	current := old
	for current.Supersedes != "" {
		if current.Supersedes == newID {
			return fmt.Errorf("%w: superseding %s with %s would create a cycle",
				memory.ErrInvalidParameter, old.ID, newID)
		}
		if seen[current.Supersedes] {
			// Chain is already corrupt; refuse to extend it.
			return fmt.Errorf("%w: supersession chain at %s contains a loop",
				memory.ErrInvalidParameter, current.ID)
		}
		seen[current.Supersedes] = true

		previous, err := s.repo.GetMemory(ctx, userID, current.Supersedes)
		if err != nil {
			if errors.Is(err, memory.ErrMemoryNotFound) {
				// Dangling link ends the chain.
				return nil
			}
			return fmt.Errorf("%w: walking supersession chain: %v", memory.ErrStorage, err)
		}
		current = previous
	}
	return nil
}

// Repository exposes the underlying repository for components that share it,
// such as the lifecycle manager.
func (s *Service) Repository() repository.Repository {
	return s.repo
}

// Publish forwards a memory event through the configured publisher,
// logging failures instead of surfacing them.
func (s *Service) Publish(event *eventstream.MemoryEvent) {
	s.publish(event)
}

func (s *Service) publish(event *eventstream.MemoryEvent) {
	if s.events == nil {
		return
	}
	event.SchemaVersion = eventstream.SchemaVersionV1
	event.EventID = uuid.NewString()
	event.EmittedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.events.PublishMemoryEvent(ctx, event); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", event.EventType),
			zap.String("memory_id", event.MemoryID),
			zap.Error(err),
		)
	}
}

// runGraphExtraction launches extraction on a detached context so a
// cancelled request cannot abort enrichment of an already-stored memory.
func (s *Service) runGraphExtraction(mem *memory.Memory) {
	if s.pipeline == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), graphTimeout)
		defer cancel()
		s.pipeline.Process(ctx, mem)
	}()
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, vector.ErrRateLimited) || errors.Is(err, llm.ErrRateLimited) {
			return nil, fmt.Errorf("%w: %v", memory.ErrRateLimit, err)
		}
		return nil, fmt.Errorf("%w: %v", memory.ErrEmbedding, err)
	}
	return embedding, nil
}

// findSimilar returns active memories at or above ConflictThreshold,
// excluding the just-created memory itself.
func (s *Service) findSimilar(ctx context.Context, userID, excludeID string, embedding []float32) ([]memory.SearchResult, error) {
	results, err := s.repo.SearchByVector(ctx, userID, embedding, maxSimilarReported+1)
	if err != nil {
		return nil, err
	}

	similar := make([]memory.SearchResult, 0, maxSimilarReported)
	for _, result := range results {
		if result.Memory.ID == excludeID {
			continue
		}
		if result.Score < ConflictThreshold {
			continue
		}
		similar = append(similar, result)
		if len(similar) == maxSimilarReported {
			break
		}
	}

	return similar, nil
}

// touchResults bumps access stats, logging failure rather than failing the
// read that triggered it.
func (s *Service) touchResults(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.repo.TouchAccessed(ctx, ids, time.Now().UTC()); err != nil {
		s.logger.Warn("access touch failed",
			zap.Strings("memory_ids", ids),
			zap.Error(err),
		)
	}
}

func memoryIDs(results []memory.SearchResult) []string {
	ids := make([]string, len(results))
	for i, result := range results {
		ids[i] = result.Memory.ID
	}
	return ids
}

func clamp(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// Package graph extracts entities and relationships from memory content and
// records them for graph-augmented retrieval.
//
// Extraction is best-effort enrichment: it runs after the memory is already
// persisted, so any failure here is logged and swallowed rather than surfaced
// to the caller. A memory with no graph data is still fully searchable by
// vector similarity.
package graph

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/embeddings"
	"github.com/mementolabs/memento/pkg/llm"
	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/utils"
)

// Pipeline runs LLM extraction over stored memories and writes the resulting
// entities and relationship edges.
type Pipeline struct {
	repo     repository.Repository
	caller   llm.Caller
	embedder embeddings.Embedder
	logger   *zap.Logger
}

// NewPipeline creates a graph extraction pipeline.
func NewPipeline(repo repository.Repository, caller llm.Caller, embedder embeddings.Embedder, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		repo:     repo,
		caller:   caller,
		embedder: embedder,
		logger:   logger,
	}
}

// Process extracts entities and relationships from the memory's content and
// records MENTIONS and relationship edges. Errors are logged, never returned:
// the memory is already persisted and graph data is enrichment.
func (p *Pipeline) Process(ctx context.Context, mem *memory.Memory) {
	if p.caller == nil {
		return
	}

	p.logger.Debug("extracting graph data",
		zap.String("memory_id", mem.ID),
		zap.String("content", utils.Truncate(mem.Content, 80)),
	)

	entityIDs := p.processEntities(ctx, mem)
	p.processRelationships(ctx, mem, entityIDs)
}

// processEntities extracts and upserts entities, links them to the memory,
// and returns a normalized-name index of the upserted ids for relationship
// resolution.
func (p *Pipeline) processEntities(ctx context.Context, mem *memory.Memory) map[string]string {
	entities, err := p.caller.ExtractEntities(ctx, mem.Content)
	if err != nil {
		p.logger.Warn("entity extraction failed",
			zap.String("memory_id", mem.ID),
			zap.Error(err),
		)
		return nil
	}

	entityIDs := make(map[string]string, len(entities))
	for _, extracted := range entities {
		entity, err := p.upsertEntity(ctx, mem.UserID, extracted.Name, extracted.Type)
		if err != nil {
			p.logger.Warn("entity upsert failed",
				zap.String("memory_id", mem.ID),
				zap.String("entity", extracted.Name),
				zap.Error(err),
			)
			continue
		}

		entityIDs[normalizeName(extracted.Name)] = entity.ID

		if err := p.repo.CreateMentions(ctx, mem.ID, entity.ID); err != nil {
			p.logger.Warn("mention link failed",
				zap.String("memory_id", mem.ID),
				zap.String("entity_id", entity.ID),
				zap.Error(err),
			)
		}
	}

	return entityIDs
}

func (p *Pipeline) processRelationships(ctx context.Context, mem *memory.Memory, entityIDs map[string]string) {
	triples, err := p.caller.ExtractRelationships(ctx, mem.Content)
	if err != nil {
		p.logger.Warn("relationship extraction failed",
			zap.String("memory_id", mem.ID),
			zap.Error(err),
		)
		return
	}

	for _, triple := range triples {
		subjectID, err := p.resolveEntity(ctx, mem.UserID, triple.Subject, triple.SubjectType, entityIDs)
		if err != nil {
			p.logger.Warn("relationship subject upsert failed",
				zap.String("memory_id", mem.ID),
				zap.String("entity", triple.Subject),
				zap.Error(err),
			)
			continue
		}

		objectID, err := p.resolveEntity(ctx, mem.UserID, triple.Object, triple.ObjectType, entityIDs)
		if err != nil {
			p.logger.Warn("relationship object upsert failed",
				zap.String("memory_id", mem.ID),
				zap.String("entity", triple.Object),
				zap.Error(err),
			)
			continue
		}

		if subjectID == objectID {
			continue
		}

		rel := memory.Relationship{
			SubjectID:      subjectID,
			Type:           triple.Predicate,
			ObjectID:       objectID,
			Strength:       triple.Strength,
			SourceMemoryID: mem.ID,
		}
		if err := p.repo.CreateRelationship(ctx, rel); err != nil {
			p.logger.Warn("relationship link failed",
				zap.String("memory_id", mem.ID),
				zap.String("subject_id", subjectID),
				zap.String("object_id", objectID),
				zap.Error(err),
			)
		}
	}
}

// resolveEntity reuses an id from the mention pass when the relationship
// names the same entity, otherwise upserts it fresh.
func (p *Pipeline) resolveEntity(ctx context.Context, userID, name, entityType string, entityIDs map[string]string) (string, error) {
	if id, ok := entityIDs[normalizeName(name)]; ok {
		return id, nil
	}

	entity, err := p.upsertEntity(ctx, userID, name, entityType)
	if err != nil {
		return "", err
	}
	return entity.ID, nil
}

func (p *Pipeline) upsertEntity(ctx context.Context, userID, name, entityType string) (*memory.Entity, error) {
	if entityType == "" {
		entityType = "concept"
	}

	var embedding []float32
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, name)
		if err != nil {
			// Entity embeddings are optional; keep the entity without one.
			p.logger.Debug("entity embedding failed",
				zap.String("entity", name),
				zap.Error(err),
			)
		} else {
			embedding = vec
		}
	}

	return p.repo.CreateOrUpdateEntity(ctx, repository.EntityUpsert{
		UserID:    userID,
		Name:      name,
		Type:      entityType,
		Embedding: embedding,
	})
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

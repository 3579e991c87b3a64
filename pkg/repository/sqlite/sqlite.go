// Package sqlite provides the durable repository over SQLite, composed with
// a vector driver for the embedding index.
//
// The SQLite tables are the document and graph view (memories, users,
// entities, mentions, relationships); the vector driver is the similarity
// view. Only active memories are kept in the vector index: superseding or
// archiving a memory removes its index entry and restoring re-adds it, so
// similarity queries cannot surface excluded memories by construction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/vector"
)

// Repository implements repository.Repository using SQLite plus a vector
// index driver.
type Repository struct {
	db     *sql.DB
	vec    vector.Driver
	logger *zap.Logger
}

// Config holds configuration for the sqlite repository.
type Config struct {
	// DBPath is the SQLite database file, or ":memory:".
	DBPath string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		confidence REAL NOT NULL,
		source TEXT NOT NULL,
		supersedes TEXT NOT NULL DEFAULT '',
		superseded_by TEXT NOT NULL DEFAULT '',
		importance REAL NOT NULL DEFAULT 0,
		base_importance REAL NOT NULL DEFAULT 0,
		access_count INTEGER NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0,
		is_critical INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		accessed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_user_active
		ON memories(user_id, superseded_by, is_archived, created_at)`,
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		norm_key TEXT NOT NULL UNIQUE,
		embedding BLOB,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mentions (
		memory_id TEXT NOT NULL REFERENCES memories(id),
		entity_id TEXT NOT NULL REFERENCES entities(id),
		PRIMARY KEY (memory_id, entity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS relationships (
		subject_id TEXT NOT NULL REFERENCES entities(id),
		type TEXT NOT NULL,
		object_id TEXT NOT NULL REFERENCES entities(id),
		strength REAL NOT NULL,
		source_memory_id TEXT NOT NULL,
		PRIMARY KEY (subject_id, type, object_id)
	)`,
}

// NewRepository opens the database, idempotently ensures the schema, and
// wires the vector index driver. The connection is held for the process
// lifetime and released by Close.
func NewRepository(c Config, vec vector.Driver, logger *zap.Logger) (*Repository, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if vec == nil {
		return nil, fmt.Errorf("vector driver is required")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensuring schema: %w", err)
		}
	}

	logger.Info("sqlite repository initialized",
		zap.String("db_path", c.DBPath),
	)

	return &Repository{db: db, vec: vec, logger: logger}, nil
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

const memoryColumns = `id, user_id, content, embedding, confidence, source,
	supersedes, superseded_by, importance, base_importance, access_count,
	is_archived, is_critical, created_at, updated_at, accessed_at`

func scanMemory(row interface{ Scan(...any) error }) (*memory.Memory, error) {
	var mem memory.Memory
	var embedding []byte
	err := row.Scan(
		&mem.ID, &mem.UserID, &mem.Content, &embedding, &mem.Confidence, &mem.Source,
		&mem.Supersedes, &mem.SupersededBy, &mem.Importance, &mem.BaseImportance,
		&mem.AccessCount, &mem.IsArchived, &mem.IsCritical,
		&mem.CreatedAt, &mem.UpdatedAt, &mem.AccessedAt,
	)
	if err != nil {
		return nil, err
	}
	mem.Embedding = deserializeFloat32(embedding)
	return &mem, nil
}

// CreateMemory writes the record and its index entry, auto-creating the user
// namespace if absent.
func (r *Repository) CreateMemory(ctx context.Context, userID string, params repository.CreateMemoryParams) (*memory.Memory, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	now := time.Now().UTC()
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

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users(id, created_at) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		userID, now,
	); err != nil {
		return nil, fmt.Errorf("ensuring user %s: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories(`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mem.ID, mem.UserID, mem.Content, serializeFloat32(mem.Embedding),
		mem.Confidence, string(mem.Source), mem.Supersedes, mem.SupersededBy,
		mem.Importance, mem.BaseImportance, mem.AccessCount,
		mem.IsArchived, mem.IsCritical,
		mem.CreatedAt, mem.UpdatedAt, mem.AccessedAt,
	); err != nil {
		return nil, fmt.Errorf("inserting memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	if err := r.vec.Add(ctx, []vector.Document{{
		ID:        mem.ID,
		UserID:    mem.UserID,
		Embedding: mem.Embedding,
	}}); err != nil {
		return nil, fmt.Errorf("indexing memory %s: %w", mem.ID, err)
	}

	return mem, nil
}

// GetMemory fetches one memory by id, scoped to userID.
func (r *Repository) GetMemory(ctx context.Context, userID, memoryID string) (*memory.Memory, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND user_id = ?`,
		memoryID, userID,
	)

	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", memory.ErrMemoryNotFound, memoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning memory: %w", err)
	}

	return mem, nil
}

// GetMemoriesByIDs fetches memories by id, scoped to userID.
func (r *Repository) GetMemoriesByIDs(ctx context.Context, userID string, ids []string) ([]*memory.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*memory.Memory)
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		byID[mem.ID] = mem
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}

	// Preserve the caller's id order.
	result := make([]*memory.Memory, 0, len(byID))
	for _, id := range ids {
		if mem, ok := byID[id]; ok {
			result = append(result, mem)
		}
	}

	return result, nil
}

// SearchByVector queries the vector index (which holds only the user's
// active memories) and hydrates the rows.
func (r *Repository) SearchByVector(ctx context.Context, userID string, embedding []float32, limit int) ([]memory.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	hits, err := r.vec.Query(ctx, userID, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	scores := make(map[string]float32, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
		scores[hit.ID] = hit.Score
	}

	memories, err := r.GetMemoriesByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	results := make([]memory.SearchResult, 0, len(memories))
	for _, mem := range memories {
		if !mem.Active() {
			// Index entry raced an exclusion update; skip.
			continue
		}
		results = append(results, memory.SearchResult{
			Memory: mem,
			Score:  scores[mem.ID],
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.CreatedAt.After(results[j].Memory.CreatedAt)
	})

	return results, nil
}

// GetRecentMemories returns the user's active memories, newest first.
func (r *Repository) GetRecentMemories(ctx context.Context, userID string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 10
	}

	return r.queryMemories(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND superseded_by = '' AND is_archived = 0
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
}

// ActiveMemories returns active memories for lifecycle batches, oldest
// accessed first.
func (r *Repository) ActiveMemories(ctx context.Context, userID string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 100
	}

	return r.queryMemories(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND superseded_by = '' AND is_archived = 0
		ORDER BY accessed_at ASC
		LIMIT ?`, userID, limit)
}

func (r *Repository) queryMemories(ctx context.Context, query string, args ...any) ([]*memory.Memory, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var result []*memory.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		result = append(result, mem)
	}

	return result, rows.Err()
}

// UpdateMemory applies a partial update as one atomic statement and keeps
// the vector index consistent with the memory's active state.
func (r *Repository) UpdateMemory(ctx context.Context, memoryID string, update repository.MemoryUpdate) (*memory.Memory, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Supersedes != nil {
		sets = append(sets, "supersedes = ?")
		args = append(args, *update.Supersedes)
	}
	if update.SupersededBy != nil {
		sets = append(sets, "superseded_by = ?")
		args = append(args, *update.SupersededBy)
	}
	if update.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, *update.Importance)
	}
	if update.IsArchived != nil {
		sets = append(sets, "is_archived = ?")
		args = append(args, *update.IsArchived)
	}
	if update.IsCritical != nil {
		sets = append(sets, "is_critical = ?")
		args = append(args, *update.IsCritical)
	}
	args = append(args, memoryID)

	result, err := r.db.ExecContext(ctx,
		`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("updating memory: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", memory.ErrMemoryNotFound, memoryID)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, memoryID,
	)
	mem, err := scanMemory(row)
	if err != nil {
		return nil, fmt.Errorf("re-reading memory: %w", err)
	}

	// Keep the index holding exactly the active memories.
	if mem.Active() {
		if err := r.vec.Add(ctx, []vector.Document{{
			ID:        mem.ID,
			UserID:    mem.UserID,
			Embedding: mem.Embedding,
		}}); err != nil {
			return nil, fmt.Errorf("re-indexing memory %s: %w", mem.ID, err)
		}
	} else {
		if err := r.vec.Delete(ctx, []string{mem.ID}); err != nil {
			return nil, fmt.Errorf("de-indexing memory %s: %w", mem.ID, err)
		}
	}

	return mem, nil
}

// TouchAccessed bumps accessed_at and access_count, one atomic statement
// per memory.
func (r *Repository) TouchAccessed(ctx context.Context, ids []string, now time.Time) error {
	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, `
			UPDATE memories
			SET access_count = access_count + 1,
			    accessed_at = MAX(accessed_at, ?)
			WHERE id = ?`, now.UTC(), id,
		); err != nil {
			return fmt.Errorf("touching memory %s: %w", id, err)
		}
	}
	return nil
}

// ListUserIDs returns all known user namespaces.
func (r *Repository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// CreateOrUpdateEntity upserts keyed by normalized (name, type).
func (r *Repository) CreateOrUpdateEntity(ctx context.Context, upsert repository.EntityUpsert) (*memory.Entity, error) {
	if strings.TrimSpace(upsert.Name) == "" {
		return nil, errors.New("entity name is required")
	}

	now := time.Now().UTC()
	normKey := upsert.UserID + "\x00" +
		strings.ToLower(strings.TrimSpace(upsert.Name)) + "\x00" +
		strings.ToLower(strings.TrimSpace(upsert.Type))

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO entities(id, user_id, name, type, norm_key, embedding, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(norm_key) DO UPDATE SET
			last_seen = excluded.last_seen,
			embedding = CASE
				WHEN length(excluded.embedding) > 0 THEN excluded.embedding
				ELSE entities.embedding
			END`,
		uuid.NewString(), upsert.UserID, upsert.Name, upsert.Type, normKey,
		serializeFloat32(upsert.Embedding), now, now,
	); err != nil {
		return nil, fmt.Errorf("upserting entity: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, embedding, first_seen, last_seen
		FROM entities WHERE norm_key = ?`, normKey)

	return scanEntity(row)
}

func scanEntity(row interface{ Scan(...any) error }) (*memory.Entity, error) {
	var entity memory.Entity
	var embedding []byte
	err := row.Scan(
		&entity.ID, &entity.UserID, &entity.Name, &entity.Type,
		&embedding, &entity.FirstSeen, &entity.LastSeen,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	entity.Embedding = deserializeFloat32(embedding)
	return &entity, nil
}

// CreateMentions records a MENTIONS edge. Idempotent.
func (r *Repository) CreateMentions(ctx context.Context, memoryID, entityID string) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO mentions(memory_id, entity_id) VALUES (?, ?)
		ON CONFLICT(memory_id, entity_id) DO NOTHING`,
		memoryID, entityID,
	); err != nil {
		return fmt.Errorf("inserting mention: %w", err)
	}
	return nil
}

// CreateRelationship records a RELATES_TO edge. Re-asserting the same
// (subject, type, object) refreshes strength and provenance.
func (r *Repository) CreateRelationship(ctx context.Context, rel memory.Relationship) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO relationships(subject_id, type, object_id, strength, source_memory_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, type, object_id) DO UPDATE SET
			strength = excluded.strength,
			source_memory_id = excluded.source_memory_id`,
		rel.SubjectID, rel.Type, rel.ObjectID, rel.Strength, rel.SourceMemoryID,
	); err != nil {
		return fmt.Errorf("inserting relationship: %w", err)
	}
	return nil
}

// TraverseGraph loads the user's relationship edges and walks them
// breadth-first up to depth hops, in both directions.
func (r *Repository) TraverseGraph(ctx context.Context, userID, entityName string, depth int) ([]repository.Path, error) {
	normalized := strings.ToLower(strings.TrimSpace(entityName))

	row := r.db.QueryRowContext(ctx, `
		SELECT id FROM entities WHERE user_id = ? AND LOWER(name) = ? LIMIT 1`,
		userID, normalized)

	var startID string
	if err := row.Scan(&startID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding entity: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT rel.subject_id, rel.object_id FROM relationships rel
		INNER JOIN entities subj ON subj.id = rel.subject_id
		WHERE subj.user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	adjacency := make(map[string][]string)
	for rows.Next() {
		var subjectID, objectID string
		if err := rows.Scan(&subjectID, &objectID); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		adjacency[subjectID] = append(adjacency[subjectID], objectID)
		adjacency[objectID] = append(adjacency[objectID], subjectID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relationships: %w", err)
	}

	distances := map[string]int{startID: 0}
	frontier := []string{startID}
	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, neighbor := range adjacency[id] {
				if _, seen := distances[neighbor]; seen {
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
		entityRow := r.db.QueryRowContext(ctx, `
			SELECT id, user_id, name, type, embedding, first_seen, last_seen
			FROM entities WHERE id = ?`, id)
		entity, err := scanEntity(entityRow)
		if err != nil {
			return nil, err
		}
		paths = append(paths, repository.Path{Entity: entity, Distance: distance})
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
func (r *Repository) MemoriesMentioning(ctx context.Context, userID string, entityIDs []string) ([]*memory.Memory, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityIDs)), ",")
	args := make([]any, 0, len(entityIDs)+1)
	args = append(args, userID)
	for _, id := range entityIDs {
		args = append(args, id)
	}

	return r.queryMemories(ctx, `
		SELECT DISTINCT `+prefixedMemoryColumns("mem")+` FROM memories mem
		INNER JOIN mentions men ON men.memory_id = mem.id
		WHERE mem.user_id = ? AND mem.superseded_by = '' AND mem.is_archived = 0
			AND men.entity_id IN (`+placeholders+`)
		ORDER BY mem.created_at DESC`, args...)
}

func prefixedMemoryColumns(prefix string) string {
	cols := strings.Split(memoryColumns, ",")
	for i, col := range cols {
		cols[i] = prefix + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

// Close releases the database connection. The vector driver is owned by the
// caller and closed separately.
func (r *Repository) Close() error {
	return r.db.Close()
}

var _ repository.Repository = (*Repository)(nil)

// Package lifecycle maintains the long-term health of the memory store:
// importance scoring, time-based decay, archival of low-value memories, and
// consolidation of near-duplicate clusters into summary memories.
//
// Maintenance is idempotent per run. Scoring is a pure function of a
// memory's state and the current time, so re-running a pass over unchanged
// data converges instead of compounding.
package lifecycle

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/eventstream"
	"github.com/mementolabs/memento/pkg/llm"
	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/memory/service"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/vector"
)

// Config holds the lifecycle tuning knobs.
type Config struct {
	// DecayRate is the per-day multiplicative importance decay.
	DecayRate float64

	// ArchiveThreshold archives non-critical memories whose decayed
	// importance falls below it.
	ArchiveThreshold float64

	// CriticalFloor is the minimum importance a critical memory keeps.
	CriticalFloor float64

	// HalfLifeDays controls how fast the recency component fades.
	HalfLifeDays float64

	// MaxAccessNorm is the access count at which the access component
	// saturates.
	MaxAccessNorm int

	// ConsolidationThreshold is the pairwise similarity at which two
	// memories belong to the same consolidation cluster.
	ConsolidationThreshold float32

	// MinClusterSize is the smallest cluster worth consolidating.
	MinClusterSize int

	// Interval is the period between maintenance passes.
	Interval time.Duration

	// BatchSize bounds how many memories one pass loads per user.
	BatchSize int
}

// DefaultConfig returns the standard lifecycle tuning.
func DefaultConfig() Config {
	return Config{
		DecayRate:              0.95,
		ArchiveThreshold:       0.2,
		CriticalFloor:          0.9,
		HalfLifeDays:           30,
		MaxAccessNorm:          10,
		ConsolidationThreshold: 0.85,
		MinClusterSize:         3,
		Interval:               6 * time.Hour,
		BatchSize:              100,
	}
}

// Manager runs periodic maintenance over all user namespaces.
type Manager struct {
	repo   repository.Repository
	svc    *service.Service
	caller llm.Caller
	config Config
	logger *zap.Logger
}

// NewManager creates a lifecycle manager. caller may be nil, which disables
// consolidation while decay and archival keep running.
func NewManager(repo repository.Repository, svc *service.Service, caller llm.Caller, config Config, logger *zap.Logger) *Manager {
	return &Manager{
		repo:   repo,
		svc:    svc,
		caller: caller,
		config: config,
		logger: logger,
	}
}

// ImportanceScore computes a memory's current importance: a weighted blend
// of base importance, access frequency, recency, and confidence, decayed by
// days since last access. Critical memories never score below CriticalFloor.
func (m *Manager) ImportanceScore(mem *memory.Memory, now time.Time) float64 {
	days := now.Sub(mem.AccessedAt).Hours() / 24
	if days < 0 {
		days = 0
	}

	accessNorm := float64(mem.AccessCount) / float64(m.config.MaxAccessNorm)
	if accessNorm > 1 {
		accessNorm = 1
	}

	recency := math.Pow(0.5, days/m.config.HalfLifeDays)

	score := 0.3*mem.BaseImportance + 0.3*accessNorm + 0.2*recency + 0.2*mem.Confidence
	score *= math.Pow(m.config.DecayRate, days)

	if mem.IsCritical && score < m.config.CriticalFloor {
		score = m.config.CriticalFloor
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return score
}

// Run executes maintenance passes on the configured interval until the
// context is cancelled. One pass runs immediately on start.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("lifecycle manager started",
		zap.Duration("interval", m.config.Interval),
	)

	m.RunOnce(ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lifecycle manager stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce executes one maintenance pass over every user namespace. Per-user
// failures are logged and do not stop the pass.
func (m *Manager) RunOnce(ctx context.Context) {
	userIDs, err := m.repo.ListUserIDs(ctx)
	if err != nil {
		m.logger.Error("listing users for maintenance failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		if err := m.maintainUser(ctx, userID, now); err != nil {
			m.logger.Error("user maintenance failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) maintainUser(ctx context.Context, userID string, now time.Time) error {
	memories, err := m.repo.ActiveMemories(ctx, userID, m.config.BatchSize)
	if err != nil {
		return err
	}
	if len(memories) == 0 {
		return nil
	}

	archived := 0
	for _, mem := range memories {
		score := m.ImportanceScore(mem, now)

		if score < m.config.ArchiveThreshold && !mem.IsCritical {
			isArchived := true
			updated, err := m.repo.UpdateMemory(ctx, mem.ID, repository.MemoryUpdate{
				Importance: &score,
				IsArchived: &isArchived,
			})
			if err != nil {
				return err
			}
			archived++
			m.svc.Publish(&eventstream.MemoryEvent{
				EventType: eventstream.EventTypeMemoryArchived,
				UserID:    userID,
				MemoryID:  mem.ID,
				Memory:    updated,
			})
			continue
		}

		if score != mem.Importance {
			if _, err := m.repo.UpdateMemory(ctx, mem.ID, repository.MemoryUpdate{
				Importance: &score,
			}); err != nil {
				return err
			}
		}
	}

	consolidated := m.consolidateUser(ctx, userID, now)

	if archived > 0 || consolidated > 0 {
		m.logger.Info("maintenance pass applied",
			zap.String("user_id", userID),
			zap.Int("scored", len(memories)),
			zap.Int("archived", archived),
			zap.Int("consolidated_clusters", consolidated),
		)
	}

	return nil
}

// consolidateUser clusters near-duplicate active memories and replaces each
// cluster with one LLM-written summary memory. Returns the number of
// clusters consolidated. Failures are logged; consolidation is advisory.
func (m *Manager) consolidateUser(ctx context.Context, userID string, now time.Time) int {
	if m.caller == nil {
		return 0
	}

	memories, err := m.repo.ActiveMemories(ctx, userID, m.config.BatchSize)
	if err != nil {
		m.logger.Warn("loading memories for consolidation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0
	}

	clusters := m.clusterMemories(memories)

	consolidated := 0
	for _, cluster := range clusters {
		if err := m.consolidateCluster(ctx, userID, cluster); err != nil {
			m.logger.Warn("cluster consolidation failed",
				zap.String("user_id", userID),
				zap.Int("cluster_size", len(cluster)),
				zap.Error(err),
			)
			continue
		}
		consolidated++
	}

	return consolidated
}

// clusterMemories partitions memories whose pairwise similarity is at or
// above ConsolidationThreshold, via union-find over id-sorted input so the
// partition is deterministic for a given memory set.
func (m *Manager) clusterMemories(memories []*memory.Memory) [][]*memory.Memory {
	if len(memories) < m.config.MinClusterSize {
		return nil
	}

	sorted := append([]*memory.Memory(nil), memories...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	parent := make([]int, len(sorted))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if vector.CosineSimilarity(sorted[i].Embedding, sorted[j].Embedding) >= m.config.ConsolidationThreshold {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]*memory.Memory)
	for i, mem := range sorted {
		root := find(i)
		groups[root] = append(groups[root], mem)
	}

	roots := make([]int, 0, len(groups))
	for root, members := range groups {
		if len(members) >= m.config.MinClusterSize {
			roots = append(roots, root)
		}
	}
	sort.Ints(roots)

	clusters := make([][]*memory.Memory, 0, len(roots))
	for _, root := range roots {
		clusters = append(clusters, groups[root])
	}

	return clusters
}

// consolidateCluster writes one summary memory and marks every member as
// superseded by it. The summary inherits the cluster's strongest confidence
// and importance and stays critical if any member was.
func (m *Manager) consolidateCluster(ctx context.Context, userID string, cluster []*memory.Memory) error {
	contents := make([]string, len(cluster))
	sourceIDs := make([]string, len(cluster))
	confidence := 0.0
	baseImportance := 0.0
	critical := false
	for i, mem := range cluster {
		contents[i] = mem.Content
		sourceIDs[i] = mem.ID
		if mem.Confidence > confidence {
			confidence = mem.Confidence
		}
		if mem.BaseImportance > baseImportance {
			baseImportance = mem.BaseImportance
		}
		if mem.IsCritical {
			critical = true
		}
	}

	summary, err := m.caller.Summarize(ctx, contents)
	if err != nil {
		return err
	}

	result, err := m.svc.StoreMemory(ctx, userID, service.StoreMemoryInput{
		Content:        summary,
		Confidence:     &confidence,
		Source:         memory.SourceUpdated,
		BaseImportance: baseImportance,
		IsCritical:     critical,
	})
	if err != nil {
		return err
	}

	supersededBy := result.Memory.ID
	for _, mem := range cluster {
		if _, err := m.repo.UpdateMemory(ctx, mem.ID, repository.MemoryUpdate{
			SupersededBy: &supersededBy,
		}); err != nil {
			return err
		}
	}

	m.svc.Publish(&eventstream.MemoryEvent{
		EventType: eventstream.EventTypeMemoryConsolidated,
		UserID:    userID,
		MemoryID:  result.Memory.ID,
		SourceIDs: sourceIDs,
		Memory:    result.Memory,
	})

	return nil
}

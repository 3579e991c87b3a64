package lifecycle_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/eventstream"
	"github.com/mementolabs/memento/pkg/lifecycle"
	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/memory/service"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/repository/inmemory"
	testutils "github.com/mementolabs/memento/pkg/utils/test"
)

func TestLifecycle(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Lifecycle Suite")
}

func conf(v float64) *float64 {
	return &v
}

var _ = Describe("ImportanceScore", func() {
	var manager *lifecycle.Manager

	BeforeEach(func() {
		manager = lifecycle.NewManager(
			inmemory.NewRepository(), nil, nil,
			lifecycle.DefaultConfig(), zap.NewNop(),
		)
	})

	It("blends base importance, access, recency, and confidence", func() {
		now := time.Now().UTC()
		mem := &memory.Memory{
			BaseImportance: 0.5,
			Confidence:     0.9,
			AccessCount:    0,
			AccessedAt:     now,
		}

		// 0.3*0.5 + 0.3*0 + 0.2*1 + 0.2*0.9 with no decay
		Expect(manager.ImportanceScore(mem, now)).To(BeNumerically("~", 0.53, 0.001))
	})

	It("decays with time since last access", func() {
		now := time.Now().UTC()
		mem := &memory.Memory{
			BaseImportance: 0.5,
			Confidence:     0.9,
			AccessedAt:     now.Add(-60 * 24 * time.Hour),
		}

		fresh := &memory.Memory{
			BaseImportance: 0.5,
			Confidence:     0.9,
			AccessedAt:     now,
		}

		Expect(manager.ImportanceScore(mem, now)).To(BeNumerically("<", manager.ImportanceScore(fresh, now)))
	})

	It("scores frequently accessed memories higher", func() {
		now := time.Now().UTC()
		quiet := &memory.Memory{BaseImportance: 0.5, Confidence: 0.5, AccessCount: 0, AccessedAt: now}
		busy := &memory.Memory{BaseImportance: 0.5, Confidence: 0.5, AccessCount: 20, AccessedAt: now}

		Expect(manager.ImportanceScore(busy, now)).To(BeNumerically(">", manager.ImportanceScore(quiet, now)))
	})

	It("floors critical memories regardless of decay", func() {
		now := time.Now().UTC()
		mem := &memory.Memory{
			IsCritical: true,
			AccessedAt: now.Add(-365 * 24 * time.Hour),
		}

		Expect(manager.ImportanceScore(mem, now)).To(BeNumerically("==", 0.9))
	})

	It("never scores above one", func() {
		now := time.Now().UTC()
		mem := &memory.Memory{
			BaseImportance: 1,
			Confidence:     1,
			AccessCount:    100,
			AccessedAt:     now,
		}

		Expect(manager.ImportanceScore(mem, now)).To(BeNumerically("<=", 1))
	})
})

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		repo      *inmemory.Repository
		embedder  *testutils.MockEmbedder
		publisher *testutils.MockPublisher
		svc       *service.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = inmemory.NewRepository()
		embedder = testutils.NewMockEmbedder()
		publisher = testutils.NewMockPublisher()
		svc = service.NewService(repo, embedder, nil, nil, publisher, zap.NewNop())
	})

	Describe("archival", func() {
		// A raised threshold lets a freshly stored zero-value memory fall
		// under it without having to simulate the passage of time.
		newManager := func() *lifecycle.Manager {
			config := lifecycle.DefaultConfig()
			config.ArchiveThreshold = 0.3
			return lifecycle.NewManager(repo, svc, nil, config, zap.NewNop())
		}

		createBare := func(critical bool) *memory.Memory {
			mem, err := repo.CreateMemory(ctx, "alice", repository.CreateMemoryParams{
				Content:    "a forgettable fact",
				Embedding:  []float32{0.1, 0.2, 0.3},
				Confidence: 0,
				Source:     memory.SourceExplicit,
				IsCritical: critical,
			})
			Expect(err).NotTo(HaveOccurred())
			return mem
		}

		It("archives memories scoring under the threshold", func() {
			mem := createBare(false)

			newManager().RunOnce(ctx)

			stored, err := repo.GetMemory(ctx, "alice", mem.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.IsArchived).To(BeTrue())
			Expect(stored.Importance).To(BeNumerically("<", 0.3))

			events := publisher.EventsOfType(eventstream.EventTypeMemoryArchived)
			Expect(events).To(HaveLen(1))
			Expect(events[0].MemoryID).To(Equal(mem.ID))
		})

		It("never archives critical memories", func() {
			mem := createBare(true)

			newManager().RunOnce(ctx)

			stored, err := repo.GetMemory(ctx, "alice", mem.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.IsArchived).To(BeFalse())
		})

		It("keeps healthy memories active and refreshes their importance", func() {
			result, err := svc.StoreMemory(ctx, "alice", service.StoreMemoryInput{
				Content:    "Alice prefers tea",
				Confidence: conf(0.9),
			})
			Expect(err).NotTo(HaveOccurred())

			newManager().RunOnce(ctx)

			stored, err := repo.GetMemory(ctx, "alice", result.Memory.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.IsArchived).To(BeFalse())
			Expect(stored.Importance).To(BeNumerically("~", 0.53, 0.01))
		})

		It("is idempotent across repeated passes", func() {
			result, err := svc.StoreMemory(ctx, "alice", service.StoreMemoryInput{
				Content:    "Alice prefers tea",
				Confidence: conf(0.9),
			})
			Expect(err).NotTo(HaveOccurred())

			manager := newManager()
			manager.RunOnce(ctx)
			first, err := repo.GetMemory(ctx, "alice", result.Memory.ID)
			Expect(err).NotTo(HaveOccurred())

			manager.RunOnce(ctx)
			second, err := repo.GetMemory(ctx, "alice", result.Memory.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.Importance).To(BeNumerically("~", first.Importance, 0.001))
			Expect(second.IsArchived).To(Equal(first.IsArchived))
		})
	})

	Describe("consolidation", func() {
		var caller *testutils.MockCaller

		BeforeEach(func() {
			caller = testutils.NewMockCaller()
			caller.Summary = "Alice consistently drinks tea"
		})

		storeFact := func(content string, embedding []float32) *memory.Memory {
			embedder.Embeddings[content] = embedding
			result, err := svc.StoreMemory(ctx, "alice", service.StoreMemoryInput{
				Content:    content,
				Confidence: conf(0.8),
			})
			Expect(err).NotTo(HaveOccurred())
			return result.Memory
		}

		It("replaces a near-duplicate cluster with one summary", func() {
			a := storeFact("Alice drinks tea in the morning", []float32{1, 0, 0})
			b := storeFact("Alice drinks tea at noon", []float32{0.99, 0.01, 0})
			c := storeFact("Alice drinks tea at night", []float32{0.98, 0.02, 0})
			outlier := storeFact("Alice rides horses", []float32{0, 1, 0})

			manager := lifecycle.NewManager(repo, svc, caller, lifecycle.DefaultConfig(), zap.NewNop())
			manager.RunOnce(ctx)

			recent, err := svc.GetRecentMemories(ctx, "alice", 10)
			Expect(err).NotTo(HaveOccurred())

			var summary *memory.Memory
			for _, mem := range recent {
				if mem.Source == memory.SourceUpdated {
					summary = mem
				}
			}
			Expect(summary).NotTo(BeNil())
			Expect(summary.Content).To(Equal(caller.Summary))
			Expect(summary.Confidence).To(BeNumerically("==", 0.8))

			for _, id := range []string{a.ID, b.ID, c.ID} {
				member, err := repo.GetMemory(ctx, "alice", id)
				Expect(err).NotTo(HaveOccurred())
				Expect(member.SupersededBy).To(Equal(summary.ID))
			}

			untouched, err := repo.GetMemory(ctx, "alice", outlier.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(untouched.Active()).To(BeTrue())

			events := publisher.EventsOfType(eventstream.EventTypeMemoryConsolidated)
			Expect(events).To(HaveLen(1))
			Expect(events[0].MemoryID).To(Equal(summary.ID))
			Expect(events[0].SourceIDs).To(ConsistOf(a.ID, b.ID, c.ID))
		})

		It("leaves small clusters alone", func() {
			a := storeFact("Alice drinks tea in the morning", []float32{1, 0, 0})
			b := storeFact("Alice drinks tea at noon", []float32{0.99, 0.01, 0})

			manager := lifecycle.NewManager(repo, svc, caller, lifecycle.DefaultConfig(), zap.NewNop())
			manager.RunOnce(ctx)

			for _, id := range []string{a.ID, b.ID} {
				member, err := repo.GetMemory(ctx, "alice", id)
				Expect(err).NotTo(HaveOccurred())
				Expect(member.Active()).To(BeTrue())
			}
		})

		It("skips consolidation without a caller", func() {
			a := storeFact("Alice drinks tea in the morning", []float32{1, 0, 0})
			storeFact("Alice drinks tea at noon", []float32{0.99, 0.01, 0})
			storeFact("Alice drinks tea at night", []float32{0.98, 0.02, 0})

			manager := lifecycle.NewManager(repo, svc, nil, lifecycle.DefaultConfig(), zap.NewNop())
			manager.RunOnce(ctx)

			member, err := repo.GetMemory(ctx, "alice", a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(member.Active()).To(BeTrue())
		})

		It("keeps members active when summarization fails", func() {
			caller.FailSummarize = true

			a := storeFact("Alice drinks tea in the morning", []float32{1, 0, 0})
			storeFact("Alice drinks tea at noon", []float32{0.99, 0.01, 0})
			storeFact("Alice drinks tea at night", []float32{0.98, 0.02, 0})

			manager := lifecycle.NewManager(repo, svc, caller, lifecycle.DefaultConfig(), zap.NewNop())
			manager.RunOnce(ctx)

			member, err := repo.GetMemory(ctx, "alice", a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(member.Active()).To(BeTrue())
		})
	})

	Describe("Run", func() {
		It("stops when the context is cancelled", func() {
			manager := lifecycle.NewManager(repo, svc, nil, lifecycle.DefaultConfig(), zap.NewNop())

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				manager.Run(runCtx)
				close(done)
			}()

			cancel()
			Eventually(done).Should(BeClosed())
		})
	})
})

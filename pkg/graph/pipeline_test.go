package graph_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/graph"
	"github.com/mementolabs/memento/pkg/llm"
	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/repository/inmemory"
	testutils "github.com/mementolabs/memento/pkg/utils/test"
)

func TestGraph(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Graph Suite")
}

var _ = Describe("Pipeline", func() {
	var (
		ctx      context.Context
		repo     *inmemory.Repository
		caller   *testutils.MockCaller
		embedder *testutils.MockEmbedder
		mem      *memory.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = inmemory.NewRepository()
		caller = testutils.NewMockCaller()
		embedder = testutils.NewMockEmbedder()

		var err error
		mem, err = repo.CreateMemory(ctx, "alice", repository.CreateMemoryParams{
			Content:    "Alice works at Acme",
			Embedding:  []float32{0.1, 0.2, 0.3},
			Confidence: 0.9,
			Source:     memory.SourceExplicit,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	process := func() {
		pipeline := graph.NewPipeline(repo, caller, embedder, zap.NewNop())
		pipeline.Process(ctx, mem)
	}

	It("records extracted entities and their mentions", func() {
		caller.Entities = []llm.Entity{
			{Name: "Alice", Type: "person"},
			{Name: "Acme", Type: "organization"},
		}

		process()

		paths, err := repo.TraverseGraph(ctx, "alice", "Alice", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(HaveLen(1))

		memories, err := repo.MemoriesMentioning(ctx, "alice", []string{paths[0].Entity.ID})
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(HaveLen(1))
		Expect(memories[0].ID).To(Equal(mem.ID))
	})

	It("records relationship edges between extracted entities", func() {
		caller.Entities = []llm.Entity{
			{Name: "Alice", Type: "person"},
			{Name: "Acme", Type: "organization"},
		}
		caller.Triples = []llm.Triple{
			{Subject: "Alice", SubjectType: "person", Predicate: "WORKS_AT", Object: "Acme", ObjectType: "organization", Strength: 0.9},
		}

		process()

		paths, err := repo.TraverseGraph(ctx, "alice", "Alice", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(HaveLen(2))
		Expect(paths[0].Entity.Name).To(Equal("Alice"))
		Expect(paths[0].Distance).To(Equal(0))
		Expect(paths[1].Entity.Name).To(Equal("Acme"))
		Expect(paths[1].Distance).To(Equal(1))
	})

	It("reuses entities across memories instead of duplicating", func() {
		caller.Entities = []llm.Entity{{Name: "Alice", Type: "person"}}
		process()

		second, err := repo.CreateMemory(ctx, "alice", repository.CreateMemoryParams{
			Content:    "alice likes hiking",
			Embedding:  []float32{0.1, 0.2, 0.3},
			Confidence: 0.9,
			Source:     memory.SourceExplicit,
		})
		Expect(err).NotTo(HaveOccurred())

		// Case differences normalize to the same entity.
		caller.Entities = []llm.Entity{{Name: "alice", Type: "person"}}
		pipeline := graph.NewPipeline(repo, caller, embedder, zap.NewNop())
		pipeline.Process(ctx, second)

		paths, err := repo.TraverseGraph(ctx, "alice", "Alice", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(HaveLen(1))

		memories, err := repo.MemoriesMentioning(ctx, "alice", []string{paths[0].Entity.ID})
		Expect(err).NotTo(HaveOccurred())
		Expect(memories).To(HaveLen(2))
	})

	It("skips self-referential relationships", func() {
		caller.Entities = []llm.Entity{{Name: "Alice", Type: "person"}}
		caller.Triples = []llm.Triple{
			{Subject: "Alice", Predicate: "KNOWS", Object: "alice", Strength: 1},
		}

		process()

		paths, err := repo.TraverseGraph(ctx, "alice", "Alice", 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(HaveLen(1))
	})

	It("upserts relationship endpoints the entity pass missed", func() {
		caller.Entities = nil
		caller.Triples = []llm.Triple{
			{Subject: "Alice", SubjectType: "person", Predicate: "WORKS_AT", Object: "Acme", Strength: 0.8},
		}

		process()

		paths, err := repo.TraverseGraph(ctx, "alice", "Acme", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(HaveLen(2))

		// The missing object type defaults to concept.
		Expect(paths[0].Entity.Type).To(Equal("concept"))
	})

	It("swallows extraction failures", func() {
		caller.FailExtraction = true

		Expect(process).NotTo(Panic())

		paths, err := repo.TraverseGraph(ctx, "alice", "Alice", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(BeEmpty())
	})

	It("keeps entities when their embedding fails", func() {
		embedder.FailOn = "Alice"
		caller.Entities = []llm.Entity{{Name: "Alice", Type: "person"}}

		process()

		paths, err := repo.TraverseGraph(ctx, "alice", "Alice", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(HaveLen(1))
	})
})

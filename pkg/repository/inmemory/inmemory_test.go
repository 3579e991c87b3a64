package inmemory_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/repository/inmemory"
)

func TestInMemory(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "InMemory Repository Suite")
}

var _ = Describe("Repository", func() {
	var (
		ctx  context.Context
		repo *inmemory.Repository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = inmemory.NewRepository()
	})

	create := func(userID, content string, embedding []float32) *memory.Memory {
		mem, err := repo.CreateMemory(ctx, userID, repository.CreateMemoryParams{
			Content:        content,
			Embedding:      embedding,
			Confidence:     0.9,
			Source:         memory.SourceExplicit,
			BaseImportance: 0.5,
		})
		Expect(err).NotTo(HaveOccurred())
		return mem
	}

	Describe("CreateMemory", func() {
		It("assigns an id and timestamps", func() {
			mem := create("alice", "fact", []float32{1, 0, 0})
			Expect(mem.ID).NotTo(BeEmpty())
			Expect(mem.CreatedAt).NotTo(BeZero())
			Expect(mem.Importance).To(Equal(0.5))
		})

		It("auto-creates the user namespace", func() {
			create("alice", "fact", []float32{1, 0, 0})

			users, err := repo.ListUserIDs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(Equal([]string{"alice"}))
		})

		It("rejects an empty user id", func() {
			_, err := repo.CreateMemory(ctx, "", repository.CreateMemoryParams{Content: "fact"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("GetMemory", func() {
		It("scopes lookups to the owning user", func() {
			mem := create("alice", "fact", []float32{1, 0, 0})

			_, err := repo.GetMemory(ctx, "bob", mem.ID)
			Expect(err).To(MatchError(memory.ErrMemoryNotFound))

			found, err := repo.GetMemory(ctx, "alice", mem.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.ID).To(Equal(mem.ID))
		})

		It("returns defensive copies", func() {
			mem := create("alice", "fact", []float32{1, 0, 0})

			found, err := repo.GetMemory(ctx, "alice", mem.ID)
			Expect(err).NotTo(HaveOccurred())
			found.Content = "mutated"

			again, err := repo.GetMemory(ctx, "alice", mem.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Content).To(Equal("fact"))
		})
	})

	Describe("GetMemoriesByIDs", func() {
		It("preserves request order and skips foreign ids", func() {
			first := create("alice", "one", []float32{1, 0, 0})
			second := create("alice", "two", []float32{0, 1, 0})
			foreign := create("bob", "three", []float32{0, 0, 1})

			found, err := repo.GetMemoriesByIDs(ctx, "alice", []string{second.ID, foreign.ID, first.ID, "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(2))
			Expect(found[0].ID).To(Equal(second.ID))
			Expect(found[1].ID).To(Equal(first.ID))
		})
	})

	Describe("SearchByVector", func() {
		It("ranks by cosine similarity", func() {
			near := create("alice", "near", []float32{1, 0, 0})
			far := create("alice", "far", []float32{0.5, 0.5, 0})

			results, err := repo.SearchByVector(ctx, "alice", []float32{1, 0, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Memory.ID).To(Equal(near.ID))
			Expect(results[1].Memory.ID).To(Equal(far.ID))
		})

		It("excludes superseded and archived memories", func() {
			active := create("alice", "active", []float32{1, 0, 0})
			superseded := create("alice", "superseded", []float32{1, 0, 0})
			archived := create("alice", "archived", []float32{1, 0, 0})

			next := active.ID
			_, err := repo.UpdateMemory(ctx, superseded.ID, repository.MemoryUpdate{SupersededBy: &next})
			Expect(err).NotTo(HaveOccurred())

			isArchived := true
			_, err = repo.UpdateMemory(ctx, archived.ID, repository.MemoryUpdate{IsArchived: &isArchived})
			Expect(err).NotTo(HaveOccurred())

			results, err := repo.SearchByVector(ctx, "alice", []float32{1, 0, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Memory.ID).To(Equal(active.ID))
		})

		It("never crosses user namespaces", func() {
			create("alice", "hers", []float32{1, 0, 0})

			results, err := repo.SearchByVector(ctx, "bob", []float32{1, 0, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})
	})

	Describe("ActiveMemories", func() {
		It("orders by least recently accessed", func() {
			first := create("alice", "one", []float32{1, 0, 0})
			second := create("alice", "two", []float32{0, 1, 0})

			Expect(repo.TouchAccessed(ctx, []string{first.ID}, time.Now().UTC().Add(time.Hour))).To(Succeed())

			memories, err := repo.ActiveMemories(ctx, "alice", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(memories).To(HaveLen(2))
			Expect(memories[0].ID).To(Equal(second.ID))
			Expect(memories[1].ID).To(Equal(first.ID))
		})
	})

	Describe("UpdateMemory", func() {
		It("applies only the provided fields", func() {
			mem := create("alice", "fact", []float32{1, 0, 0})

			importance := 0.7
			updated, err := repo.UpdateMemory(ctx, mem.ID, repository.MemoryUpdate{Importance: &importance})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Importance).To(Equal(0.7))
			Expect(updated.Content).To(Equal("fact"))
			Expect(updated.IsArchived).To(BeFalse())
		})

		It("returns not found for unknown ids", func() {
			importance := 0.7
			_, err := repo.UpdateMemory(ctx, "missing", repository.MemoryUpdate{Importance: &importance})
			Expect(err).To(MatchError(memory.ErrMemoryNotFound))
		})
	})

	Describe("TouchAccessed", func() {
		It("increments the count and never moves accessed_at backwards", func() {
			mem := create("alice", "fact", []float32{1, 0, 0})

			past := time.Now().UTC().Add(-time.Hour)
			Expect(repo.TouchAccessed(ctx, []string{mem.ID}, past)).To(Succeed())

			found, err := repo.GetMemory(ctx, "alice", mem.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(found.AccessCount).To(Equal(1))
			Expect(found.AccessedAt.After(past)).To(BeTrue())
		})
	})

	Describe("entities and relationships", func() {
		upsert := func(name, entityType string) *memory.Entity {
			entity, err := repo.CreateOrUpdateEntity(ctx, repository.EntityUpsert{
				UserID: "alice",
				Name:   name,
				Type:   entityType,
			})
			Expect(err).NotTo(HaveOccurred())
			return entity
		}

		It("keys entity identity by normalized name and type", func() {
			first := upsert("Alice", "person")
			second := upsert("  alice ", "Person")

			Expect(second.ID).To(Equal(first.ID))
			Expect(second.LastSeen).To(BeTemporally(">=", first.LastSeen))
		})

		It("refreshes the embedding only when the upsert provides one", func() {
			upsertWith := func(embedding []float32) *memory.Entity {
				entity, err := repo.CreateOrUpdateEntity(ctx, repository.EntityUpsert{
					UserID:    "alice",
					Name:      "Alice",
					Type:      "person",
					Embedding: embedding,
				})
				Expect(err).NotTo(HaveOccurred())
				return entity
			}

			upsertWith([]float32{1, 0, 0})

			kept := upsertWith(nil)
			Expect(kept.Embedding).To(Equal([]float32{1, 0, 0}))

			replaced := upsertWith([]float32{0, 1, 0})
			Expect(replaced.Embedding).To(Equal([]float32{0, 1, 0}))
		})

		It("treats same name with different type as distinct", func() {
			person := upsert("Mercury", "person")
			planet := upsert("Mercury", "planet")
			Expect(planet.ID).NotTo(Equal(person.ID))
		})

		It("re-asserts relationships idempotently", func() {
			alice := upsert("Alice", "person")
			acme := upsert("Acme", "organization")

			rel := memory.Relationship{
				SubjectID: alice.ID,
				Type:      "WORKS_AT",
				ObjectID:  acme.ID,
				Strength:  0.5,
			}
			Expect(repo.CreateRelationship(ctx, rel)).To(Succeed())

			rel.Strength = 0.9
			Expect(repo.CreateRelationship(ctx, rel)).To(Succeed())

			paths, err := repo.TraverseGraph(ctx, "alice", "Alice", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(paths).To(HaveLen(2))
		})

		It("traverses edges in both directions up to the depth cap", func() {
			a := upsert("A", "concept")
			b := upsert("B", "concept")
			c := upsert("C", "concept")
			d := upsert("D", "concept")

			// A -> B -> C -> D as a directed chain.
			for _, rel := range []memory.Relationship{
				{SubjectID: a.ID, Type: "LINKS", ObjectID: b.ID, Strength: 1},
				{SubjectID: c.ID, Type: "LINKS", ObjectID: b.ID, Strength: 1},
				{SubjectID: c.ID, Type: "LINKS", ObjectID: d.ID, Strength: 1},
			} {
				Expect(repo.CreateRelationship(ctx, rel)).To(Succeed())
			}

			paths, err := repo.TraverseGraph(ctx, "alice", "A", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(paths).To(HaveLen(3))
			Expect(paths[0].Entity.Name).To(Equal("A"))
			Expect(paths[1].Entity.Name).To(Equal("B"))
			Expect(paths[1].Distance).To(Equal(1))
			Expect(paths[2].Entity.Name).To(Equal("C"))
			Expect(paths[2].Distance).To(Equal(2))
		})

		It("returns nothing for unknown entities", func() {
			paths, err := repo.TraverseGraph(ctx, "alice", "nobody", 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(paths).To(BeEmpty())
		})

		It("lists only active memories mentioning an entity", func() {
			alice := upsert("Alice", "person")
			active := create("alice", "active", []float32{1, 0, 0})
			superseded := create("alice", "superseded", []float32{1, 0, 0})

			Expect(repo.CreateMentions(ctx, active.ID, alice.ID)).To(Succeed())
			Expect(repo.CreateMentions(ctx, superseded.ID, alice.ID)).To(Succeed())

			next := active.ID
			_, err := repo.UpdateMemory(ctx, superseded.ID, repository.MemoryUpdate{SupersededBy: &next})
			Expect(err).NotTo(HaveOccurred())

			memories, err := repo.MemoriesMentioning(ctx, "alice", []string{alice.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(memories).To(HaveLen(1))
			Expect(memories[0].ID).To(Equal(active.ID))
		})
	})
})

package eventstream_test

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mementolabs/memento/pkg/eventstream"
	"github.com/mementolabs/memento/pkg/memory"
)

func TestEventstream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Eventstream Suite")
}

var _ = Describe("Event", func() {
	It("marshals MemoryEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := eventstream.MemoryEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeMemoryStored,
			EventID:       "evt_123",
			EmittedAt:     now,
			UserID:        "user-1",
			MemoryID:      "mem-1",
			Memory: &memory.Memory{
				ID:      "mem-1",
				UserID:  "user-1",
				Content: "User prefers tea over coffee",
				Source:  memory.SourceExplicit,
			},
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("user_id"))
		Expect(got).To(HaveKey("memory_id"))
		Expect(got).To(HaveKey("memory"))
		Expect(got).NotTo(HaveKey("superseded_id"))
	})

	It("includes supersession metadata only when set", func() {
		event := eventstream.MemoryEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeMemorySuperseded,
			EventID:       "evt_456",
			EmittedAt:     time.Now().UTC(),
			UserID:        "user-1",
			MemoryID:      "mem-2",
			SupersededID:  "mem-1",
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKeyWithValue("superseded_id", "mem-1"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeMemoryStored).To(Equal("memento.memory.stored"))
		Expect(eventstream.EventTypeMemorySuperseded).To(Equal("memento.memory.superseded"))
		Expect(eventstream.EventTypeMemoryArchived).To(Equal("memento.memory.archived"))
		Expect(eventstream.EventTypeMemoryConsolidated).To(Equal("memento.memory.consolidated"))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).NotTo(BeNil())
		Expect(eventstream.ErrNilEvent).To(MatchError("nil memory event"))
	})
})

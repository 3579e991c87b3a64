package eventstream

import (
	"time"

	"github.com/mementolabs/memento/pkg/memory"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMemoryStored is emitted after a new memory is persisted.
	EventTypeMemoryStored = "memento.memory.stored"

	// EventTypeMemorySuperseded is emitted after a memory is superseded.
	EventTypeMemorySuperseded = "memento.memory.superseded"

	// EventTypeMemoryArchived is emitted when lifecycle maintenance archives
	// a memory.
	EventTypeMemoryArchived = "memento.memory.archived"

	// EventTypeMemoryConsolidated is emitted when lifecycle maintenance
	// merges a cluster into a consolidated memory.
	EventTypeMemoryConsolidated = "memento.memory.consolidated"
)

// MemoryEvent is a transport-neutral event payload for a memory state change.
type MemoryEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	UserID        string    `json:"user_id"`
	MemoryID      string    `json:"memory_id"`

	// Supersession and consolidation metadata, present for the
	// corresponding event types.
	SupersededID string   `json:"superseded_id,omitempty"`
	SourceIDs    []string `json:"source_ids,omitempty"`

	Memory *memory.Memory `json:"memory,omitempty"`
}

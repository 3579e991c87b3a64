package mcp

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mementolabs/memento/pkg/memory"
)

var _ = Describe("MemoryRecord", func() {
	It("carries all three timestamps in RFC3339", func() {
		created := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		updated := created.Add(time.Hour)
		accessed := created.Add(2 * time.Hour)

		record := toRecord(&memory.Memory{
			ID:         "mem-1",
			UserID:     "alice",
			Content:    "Alice prefers tea",
			CreatedAt:  created,
			UpdatedAt:  updated,
			AccessedAt: accessed,
		})

		Expect(record.CreatedAt).To(Equal("2026-08-01T10:00:00Z"))
		Expect(record.UpdatedAt).To(Equal("2026-08-01T11:00:00Z"))
		Expect(record.AccessedAt).To(Equal("2026-08-01T12:00:00Z"))

		data, err := json.Marshal(record)
		Expect(err).NotTo(HaveOccurred())

		var wire map[string]any
		Expect(json.Unmarshal(data, &wire)).To(Succeed())
		Expect(wire).To(HaveKey("created_at"))
		Expect(wire).To(HaveKey("updated_at"))
		Expect(wire).To(HaveKey("accessed_at"))
	})
})

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/memory/service"
)

var (
	storeMemoryToolName    = "store_memory"
	storeMemoryDescription = "Store a long-term memory as a natural-language fact. Returns the stored memory plus any highly similar existing memories; when the new fact replaces one of them, follow up with supersede_memory."

	listRecentToolName    = "list_recent_memories"
	listRecentDescription = "List the most recently created active memories for a user, newest first. Browsing recent memories does not count as accessing them."

	supersedeToolName    = "supersede_memory"
	supersedeDescription = "Mark an existing memory as superseded by a replacement memory. The old memory stops appearing in searches but remains readable through its id."
)

// MemoryRecord is the wire representation of one memory in tool outputs.
type MemoryRecord struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Content        string   `json:"content"`
	Confidence     float64  `json:"confidence"`
	Source         string   `json:"source"`
	Supersedes     string   `json:"supersedes,omitempty"`
	SupersededBy   string   `json:"superseded_by,omitempty"`
	Importance     float64  `json:"importance"`
	IsCritical     bool     `json:"is_critical,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	AccessedAt     string   `json:"accessed_at"`
	RelevanceScore *float32 `json:"relevance_score,omitempty"`
	GraphDistance  *int     `json:"graph_distance,omitempty"`
}

func toRecord(mem *memory.Memory) MemoryRecord {
	return MemoryRecord{
		ID:           mem.ID,
		UserID:       mem.UserID,
		Content:      mem.Content,
		Confidence:   mem.Confidence,
		Source:       string(mem.Source),
		Supersedes:   mem.Supersedes,
		SupersededBy: mem.SupersededBy,
		Importance:   mem.Importance,
		IsCritical:   mem.IsCritical,
		CreatedAt:    mem.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    mem.UpdatedAt.UTC().Format(time.RFC3339),
		AccessedAt:   mem.AccessedAt.UTC().Format(time.RFC3339),
	}
}

// textResult serializes the structured output as JSON for the text field.
// Per MCP spec: tools returning structured content should also return
// serialized JSON in a TextContent block for backwards compatibility.
func textResult(output any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, nil
}

// StoreMemoryInput represents the input arguments for the store_memory tool.
type StoreMemoryInput struct {
	Content        string   `json:"content" jsonschema:"the natural-language fact to remember"`
	Confidence     *float64 `json:"confidence,omitempty" jsonschema:"confidence in the fact, between 0.0 and 1.0 (default: 1.0)"`
	Source         string   `json:"source,omitempty" jsonschema:"how the fact was captured: explicit, extracted, inferred, or updated (default: extracted)"`
	BaseImportance float64  `json:"base_importance,omitempty" jsonschema:"intrinsic importance between 0.0 and 1.0 (default: 0.5)"`
	IsCritical     bool     `json:"is_critical,omitempty" jsonschema:"mark the memory as critical so it never decays below high importance"`
	UserID         string   `json:"user_id,omitempty" jsonschema:"user namespace to store under (default: the server's configured user)"`
}

// StoreMemoryOutput represents the structured output of the store_memory tool.
type StoreMemoryOutput struct {
	Memory         MemoryRecord   `json:"memory"`
	Similar        []MemoryRecord `json:"similar,omitempty"`
	ActionRequired string         `json:"action_required,omitempty"`
}

// handleStoreMemory processes a store_memory request via MCP.
func (s *Server) handleStoreMemory(ctx context.Context, _ *mcp.CallToolRequest, input StoreMemoryInput) (*mcp.CallToolResult, StoreMemoryOutput, error) {
	logger := s.config.Logger

	logger.Debug("MCP store_memory request",
		zap.String("user", s.user(input.UserID)),
	)

	result, err := s.config.Service.StoreMemory(ctx, s.user(input.UserID), service.StoreMemoryInput{
		Content:        input.Content,
		Confidence:     input.Confidence,
		Source:         memory.Source(input.Source),
		BaseImportance: input.BaseImportance,
		IsCritical:     input.IsCritical,
	})
	if err != nil {
		return toolError(fmt.Sprintf("Failed to store memory: %v", err)), StoreMemoryOutput{}, nil
	}

	output := StoreMemoryOutput{
		Memory:         toRecord(result.Memory),
		ActionRequired: result.ActionRequired,
	}
	for _, sim := range result.Similar {
		record := toRecord(sim.Memory)
		score := sim.Score
		record.RelevanceScore = &score
		output.Similar = append(output.Similar, record)
	}

	callResult, err := textResult(output)
	if err != nil {
		return callResult, StoreMemoryOutput{}, nil
	}
	return callResult, output, nil
}

// ListRecentInput represents the input arguments for the list_recent_memories tool.
type ListRecentInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"number of memories to return (default: 10, max: 50)"`
	UserID string `json:"user_id,omitempty" jsonschema:"user namespace to list from (default: the server's configured user)"`
}

// ListRecentOutput represents the structured output of the list_recent_memories tool.
type ListRecentOutput struct {
	Memories []MemoryRecord `json:"memories"`
	Count    int            `json:"count"`
}

// handleListRecent processes a list_recent_memories request via MCP.
func (s *Server) handleListRecent(ctx context.Context, _ *mcp.CallToolRequest, input ListRecentInput) (*mcp.CallToolResult, ListRecentOutput, error) {
	memories, err := s.config.Service.GetRecentMemories(ctx, s.user(input.UserID), input.Limit)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to list recent memories: %v", err)), ListRecentOutput{}, nil
	}

	output := ListRecentOutput{
		Memories: make([]MemoryRecord, 0, len(memories)),
		Count:    len(memories),
	}
	for _, mem := range memories {
		output.Memories = append(output.Memories, toRecord(mem))
	}

	callResult, err := textResult(output)
	if err != nil {
		return callResult, ListRecentOutput{}, nil
	}
	return callResult, output, nil
}

// SupersedeInput represents the input arguments for the supersede_memory tool.
type SupersedeInput struct {
	OldID  string `json:"old_id" jsonschema:"id of the memory being replaced"`
	NewID  string `json:"new_id" jsonschema:"id of the memory that replaces it"`
	UserID string `json:"user_id,omitempty" jsonschema:"user namespace both memories belong to (default: the server's configured user)"`
}

// SupersedeOutput represents the structured output of the supersede_memory tool.
type SupersedeOutput struct {
	Memory MemoryRecord `json:"memory"`
}

// handleSupersede processes a supersede_memory request via MCP.
func (s *Server) handleSupersede(ctx context.Context, _ *mcp.CallToolRequest, input SupersedeInput) (*mcp.CallToolResult, SupersedeOutput, error) {
	replacement, err := s.config.Service.SupersedeMemory(ctx, s.user(input.UserID), input.OldID, input.NewID)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to supersede memory: %v", err)), SupersedeOutput{}, nil
	}

	output := SupersedeOutput{Memory: toRecord(replacement)}

	callResult, err := textResult(output)
	if err != nil {
		return callResult, SupersedeOutput{}, nil
	}
	return callResult, output, nil
}

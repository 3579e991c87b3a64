package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

var (
	searchMemoriesToolName    = "search_memories"
	searchMemoriesDescription = "Search stored memories by meaning. Returns the most relevant active memories for the query text, each with a relevance score."

	searchWithGraphToolName    = "search_with_graph"
	searchWithGraphDescription = "Search stored memories by meaning, expanded through the entity graph. In addition to direct matches, returns memories connected to the query's entities through known relationships, each annotated with its graph distance."
)

// SearchMemoriesInput represents the input arguments for the search tools.
type SearchMemoriesInput struct {
	Query  string `json:"query" jsonschema:"the search query text to find relevant memories"`
	Limit  int    `json:"limit,omitempty" jsonschema:"number of results to return (default: 5, max: 20)"`
	UserID string `json:"user_id,omitempty" jsonschema:"user namespace to search in (default: the server's configured user)"`
}

// SearchMemoriesOutput represents the structured output of the search tools.
type SearchMemoriesOutput struct {
	Query    string         `json:"query"`
	Memories []MemoryRecord `json:"memories"`
	Count    int            `json:"count"`
}

// handleSearchMemories processes a search_memories request via MCP.
func (s *Server) handleSearchMemories(ctx context.Context, _ *mcp.CallToolRequest, input SearchMemoriesInput) (*mcp.CallToolResult, SearchMemoriesOutput, error) {
	logger := s.config.Logger

	logger.Debug("MCP search_memories request",
		zap.String("query", input.Query),
		zap.Int("limit", input.Limit),
	)

	results, err := s.config.Service.SearchMemories(ctx, s.user(input.UserID), input.Query, input.Limit)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to search memories: %v", err)), SearchMemoriesOutput{}, nil
	}

	output := SearchMemoriesOutput{
		Query:    input.Query,
		Memories: make([]MemoryRecord, 0, len(results)),
		Count:    len(results),
	}
	for _, result := range results {
		record := toRecord(result.Memory)
		score := result.Score
		record.RelevanceScore = &score
		output.Memories = append(output.Memories, record)
	}

	callResult, err := textResult(output)
	if err != nil {
		return callResult, SearchMemoriesOutput{}, nil
	}
	return callResult, output, nil
}

// handleSearchWithGraph processes a search_with_graph request via MCP.
func (s *Server) handleSearchWithGraph(ctx context.Context, _ *mcp.CallToolRequest, input SearchMemoriesInput) (*mcp.CallToolResult, SearchMemoriesOutput, error) {
	logger := s.config.Logger

	logger.Debug("MCP search_with_graph request",
		zap.String("query", input.Query),
		zap.Int("limit", input.Limit),
	)

	results, err := s.config.Service.SearchWithGraph(ctx, s.user(input.UserID), input.Query, input.Limit)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to search memories: %v", err)), SearchMemoriesOutput{}, nil
	}

	output := SearchMemoriesOutput{
		Query:    input.Query,
		Memories: make([]MemoryRecord, 0, len(results)),
		Count:    len(results),
	}
	for _, result := range results {
		record := toRecord(result.Memory)
		score := result.Score
		distance := result.GraphDistance
		record.RelevanceScore = &score
		record.GraphDistance = &distance
		output.Memories = append(output.Memories, record)
	}

	callResult, err := textResult(output)
	if err != nil {
		return callResult, SearchMemoriesOutput{}, nil
	}
	return callResult, output, nil
}

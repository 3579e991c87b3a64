package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/memory"
	"github.com/mementolabs/memento/pkg/memory/service"
)

const userHeader = "X-Memento-User"

// ErrorEnvelope is the error body for every non-2xx response.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the stable wire code and a human-readable message.
type ErrorBody struct {
	Code    memory.Code `json:"code"`
	Message string      `json:"message"`
}

// MemoryPayload is the wire representation of one memory. RelevanceScore is
// present only on search results.
type MemoryPayload struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Content        string   `json:"content"`
	Confidence     float64  `json:"confidence"`
	Source         string   `json:"source"`
	Supersedes     string   `json:"supersedes,omitempty"`
	SupersededBy   string   `json:"superseded_by,omitempty"`
	Importance     float64  `json:"importance"`
	AccessCount    int      `json:"access_count"`
	IsArchived     bool     `json:"is_archived"`
	IsCritical     bool     `json:"is_critical"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	AccessedAt     string   `json:"accessed_at"`
	RelevanceScore *float32 `json:"relevance_score,omitempty"`
	GraphDistance  *int     `json:"graph_distance,omitempty"`
}

func toPayload(mem *memory.Memory) MemoryPayload {
	return MemoryPayload{
		ID:           mem.ID,
		UserID:       mem.UserID,
		Content:      mem.Content,
		Confidence:   mem.Confidence,
		Source:       string(mem.Source),
		Supersedes:   mem.Supersedes,
		SupersededBy: mem.SupersededBy,
		Importance:   mem.Importance,
		AccessCount:  mem.AccessCount,
		IsArchived:   mem.IsArchived,
		IsCritical:   mem.IsCritical,
		CreatedAt:    mem.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    mem.UpdatedAt.UTC().Format(time.RFC3339),
		AccessedAt:   mem.AccessedAt.UTC().Format(time.RFC3339),
	}
}

// user resolves the acting user namespace for a request.
func (s *Server) user(c *fiber.Ctx) string {
	if u := c.Get(userHeader); u != "" {
		return u
	}
	return s.config.DefaultUser
}

// fail maps an error chain onto the wire code and its HTTP status.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	code := memory.CodeOf(err)

	status := fiber.StatusInternalServerError
	switch code {
	case memory.CodeInvalidParameter:
		status = fiber.StatusBadRequest
	case memory.CodeMemoryNotFound:
		status = fiber.StatusNotFound
	case memory.CodeRateLimit:
		status = fiber.StatusTooManyRequests
	case memory.CodeEmbeddingError:
		status = fiber.StatusBadGateway
	}

	if status == fiber.StatusInternalServerError || status == fiber.StatusBadGateway {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	return c.Status(status).JSON(ErrorEnvelope{
		Error: ErrorBody{Code: code, Message: err.Error()},
	})
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleStats returns store-wide statistics.
func (s *Server) handleStats(c *fiber.Ctx) error {
	userIDs, err := s.svc.Repository().ListUserIDs(c.Context())
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(map[string]any{
		"user_count": len(userIDs),
	})
}

// StoreMemoryRequest is the POST /memories body. Confidence is a pointer so
// an omitted field defaults to 1.0 instead of being read as an explicit 0.0.
type StoreMemoryRequest struct {
	Content        string   `json:"content"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Source         string   `json:"source,omitempty"`
	BaseImportance float64  `json:"base_importance,omitempty"`
	IsCritical     bool     `json:"is_critical,omitempty"`
}

// StoreMemoryResponse is the POST /memories response.
type StoreMemoryResponse struct {
	Memory         MemoryPayload   `json:"memory"`
	Similar        []MemoryPayload `json:"similar,omitempty"`
	ActionRequired string          `json:"action_required,omitempty"`
}

func (s *Server) handleStoreMemory(c *fiber.Ctx) error {
	var req StoreMemoryRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, memory.ErrInvalidParameter)
	}

	result, err := s.svc.StoreMemory(c.Context(), s.user(c), service.StoreMemoryInput{
		Content:        req.Content,
		Confidence:     req.Confidence,
		Source:         memory.Source(req.Source),
		BaseImportance: req.BaseImportance,
		IsCritical:     req.IsCritical,
	})
	if err != nil {
		return s.fail(c, err)
	}

	resp := StoreMemoryResponse{
		Memory:         toPayload(result.Memory),
		ActionRequired: result.ActionRequired,
	}
	for _, sim := range result.Similar {
		payload := toPayload(sim.Memory)
		score := sim.Score
		payload.RelevanceScore = &score
		resp.Similar = append(resp.Similar, payload)
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// SearchResponse is the GET /memories/search response.
type SearchResponse struct {
	Count    int             `json:"count"`
	Memories []MemoryPayload `json:"memories"`
}

func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	limit := c.QueryInt("limit")

	results, err := s.svc.SearchMemories(c.Context(), s.user(c), query, limit)
	if err != nil {
		return s.fail(c, err)
	}

	resp := SearchResponse{Count: len(results), Memories: make([]MemoryPayload, 0, len(results))}
	for _, result := range results {
		payload := toPayload(result.Memory)
		score := result.Score
		payload.RelevanceScore = &score
		resp.Memories = append(resp.Memories, payload)
	}

	return c.JSON(resp)
}

func (s *Server) handleGraphSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	limit := c.QueryInt("limit")

	results, err := s.svc.SearchWithGraph(c.Context(), s.user(c), query, limit)
	if err != nil {
		return s.fail(c, err)
	}

	resp := SearchResponse{Count: len(results), Memories: make([]MemoryPayload, 0, len(results))}
	for _, result := range results {
		payload := toPayload(result.Memory)
		score := result.Score
		distance := result.GraphDistance
		payload.RelevanceScore = &score
		payload.GraphDistance = &distance
		resp.Memories = append(resp.Memories, payload)
	}

	return c.JSON(resp)
}

func (s *Server) handleRecent(c *fiber.Ctx) error {
	limit := c.QueryInt("limit")

	memories, err := s.svc.GetRecentMemories(c.Context(), s.user(c), limit)
	if err != nil {
		return s.fail(c, err)
	}

	resp := SearchResponse{Count: len(memories), Memories: make([]MemoryPayload, 0, len(memories))}
	for _, mem := range memories {
		resp.Memories = append(resp.Memories, toPayload(mem))
	}

	return c.JSON(resp)
}

func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	mem, err := s.svc.GetMemory(c.Context(), s.user(c), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(toPayload(mem))
}

// SupersedeRequest is the POST /memories/supersede body.
type SupersedeRequest struct {
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

func (s *Server) handleSupersede(c *fiber.Ctx) error {
	var req SupersedeRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, memory.ErrInvalidParameter)
	}

	replacement, err := s.svc.SupersedeMemory(c.Context(), s.user(c), req.OldID, req.NewID)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(toPayload(replacement))
}

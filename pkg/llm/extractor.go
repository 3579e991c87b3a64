package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Extractor implements Caller over a raw CallFunc, turning free-form
// completions into structured extraction results.
type Extractor struct {
	call CallFunc
}

// NewExtractor creates an Extractor over the given call function.
func NewExtractor(call CallFunc) *Extractor {
	return &Extractor{call: call}
}

type entitiesPayload struct {
	Entities []Entity `json:"entities"`
}

type triplesPayload struct {
	Relationships []Triple `json:"relationships"`
}

type summaryPayload struct {
	Summary string `json:"summary"`
}

// ExtractEntities returns the named concepts mentioned in text.
func (e *Extractor) ExtractEntities(ctx context.Context, text string) ([]Entity, error) {
	prompt := buildEntityPrompt(text)

	response, err := e.call(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	var payload entitiesPayload
	if err := json.Unmarshal([]byte(extractJSON(response)), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal entities JSON: %w", err)
	}

	entities := make([]Entity, 0, len(payload.Entities))
	for _, entity := range payload.Entities {
		if strings.TrimSpace(entity.Name) == "" {
			continue
		}
		if entity.Type == "" {
			entity.Type = "concept"
		}
		entities = append(entities, entity)
	}

	return entities, nil
}

// ExtractRelationships returns typed triples found in text.
func (e *Extractor) ExtractRelationships(ctx context.Context, text string) ([]Triple, error) {
	prompt := buildRelationshipPrompt(text)

	response, err := e.call(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	var payload triplesPayload
	if err := json.Unmarshal([]byte(extractJSON(response)), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal relationships JSON: %w", err)
	}

	triples := make([]Triple, 0, len(payload.Relationships))
	for _, triple := range payload.Relationships {
		if strings.TrimSpace(triple.Subject) == "" || strings.TrimSpace(triple.Object) == "" {
			continue
		}
		if triple.Predicate == "" {
			triple.Predicate = "RELATES_TO"
		}
		if triple.Strength <= 0 || triple.Strength > 1 {
			triple.Strength = 0.5
		}
		triples = append(triples, triple)
	}

	return triples, nil
}

// Summarize merges several related fact texts into one summary fact.
func (e *Extractor) Summarize(ctx context.Context, contents []string) (string, error) {
	prompt := buildSummaryPrompt(contents)

	response, err := e.call(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(extractJSON(response)), &payload); err != nil {
		return "", fmt.Errorf("unmarshal summary JSON: %w", err)
	}

	summary := strings.TrimSpace(payload.Summary)
	if summary == "" {
		return "", ErrNoContent
	}

	return summary, nil
}

func buildEntityPrompt(text string) string {
	return "Extract the named entities mentioned in this fact about a user.\n" +
		"Return ONLY valid JSON of the form:\n\n" +
		"{\n  \"entities\": [\n    {\"name\": \"entity name\", \"type\": \"one of: person, place, organization, technology, concept, preference\"}\n  ]\n}\n\n" +
		"Fact:\n" + text
}

func buildRelationshipPrompt(text string) string {
	return "Extract relationships between entities mentioned in this fact about a user.\n" +
		"Return ONLY valid JSON of the form:\n\n" +
		"{\n  \"relationships\": [\n    {\"subject\": \"entity\", \"subject_type\": \"category\", \"predicate\": \"UPPER_SNAKE verb phrase\", \"object\": \"entity\", \"object_type\": \"category\", \"strength\": 0.0}\n  ]\n}\n\n" +
		"strength is your confidence in [0,1].\n\nFact:\n" + text
}

func buildSummaryPrompt(contents []string) string {
	var b strings.Builder
	b.WriteString("These facts about a user are closely related. Merge them into a single concise fact that preserves all information.\n")
	b.WriteString("Return ONLY valid JSON of the form: {\"summary\": \"merged fact\"}\n\nFacts:\n")
	for _, content := range contents {
		b.WriteString("- ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSON pulls the JSON object out of a response that may be wrapped in
// markdown code blocks or surrounding prose.
func extractJSON(response string) string {
	if idx := strings.Index(response, "{"); idx >= 0 {
		if endIdx := strings.LastIndex(response, "}"); endIdx > idx {
			return response[idx : endIdx+1]
		}
	}
	return response
}

var _ Caller = (*Extractor)(nil)

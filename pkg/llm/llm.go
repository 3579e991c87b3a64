// Package llm provides the language-model port used for entity extraction,
// relationship extraction, and consolidation summaries.
//
// The model is treated as an opaque function from prompt text to completion
// text. Provider selection is configuration-driven via NewCallFunc; the
// structured extraction layer (Extractor) is provider-agnostic and parses
// JSON out of whatever the model returns.
package llm

import (
	"context"
	"errors"
)

// CallFunc is the signature for an LLM inference call.
type CallFunc func(ctx context.Context, prompt string) (string, error)

// Entity is a named concept extracted from memory content.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Triple is a directed relationship between two extracted entities.
type Triple struct {
	Subject     string  `json:"subject"`
	SubjectType string  `json:"subject_type"`
	Predicate   string  `json:"predicate"`
	Object      string  `json:"object"`
	ObjectType  string  `json:"object_type"`
	Strength    float64 `json:"strength"`
}

// Caller is the capability interface consumed by the graph pipeline and the
// lifecycle manager.
type Caller interface {
	// ExtractEntities returns the named concepts mentioned in text.
	ExtractEntities(ctx context.Context, text string) ([]Entity, error)

	// ExtractRelationships returns typed subject-predicate-object triples
	// found in text.
	ExtractRelationships(ctx context.Context, text string) ([]Triple, error)

	// Summarize merges several related fact texts into one summary fact.
	Summarize(ctx context.Context, contents []string) (string, error)
}

var (
	// ErrRateLimited is returned when the provider throttles.
	ErrRateLimited = errors.New("llm provider rate limited")

	// ErrNoContent is returned when the provider returns an empty completion.
	ErrNoContent = errors.New("llm returned no content")
)

// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"

	"github.com/mementolabs/memento/pkg/embeddings"
	"github.com/mementolabs/memento/pkg/embeddings/ollama"
	"github.com/mementolabs/memento/pkg/embeddings/openai"
)

type NewEmbedderOpts struct {
	ProviderType string
	Target       string
	Model        string
	APIKey       string
	Dimensions   uint
}

// NewEmbedder selects the concrete embedder by provider name.
func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL:    o.Target,
			Model:      o.Model,
			Dimensions: o.Dimensions,
		})
	case "openai":
		return openai.NewEmbedder(openai.EmbedderConfig{
			BaseURL:    o.Target,
			Model:      o.Model,
			APIKey:     o.APIKey,
			Dimensions: o.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}

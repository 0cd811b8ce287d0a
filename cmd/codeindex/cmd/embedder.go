package cmd

import (
	"context"
	"fmt"

	"github.com/codeindex/codeindex/internal/config"
	"github.com/codeindex/codeindex/internal/embed"
)

// resolveProvider maps a config.Embeddings.Backend value onto the
// embed.ProviderType space NewEmbedder expects. The two spaces are not
// interchangeable: config.BackendAuto ("auto") must become the empty
// ProviderType so NewEmbedder runs its own credential-based auto-detection,
// not embed.ParseProvider("auto"), which falls through to ProviderOllama.
func resolveProvider(backend string) embed.ProviderType {
	switch backend {
	case config.BackendJina:
		return embed.ProviderJina
	case config.BackendGemini:
		return embed.ProviderGemini
	case config.BackendOllama:
		return embed.ProviderOllama
	case config.BackendAuto, "":
		return ""
	default:
		return embed.ParseProvider(backend)
	}
}

// buildEmbedder constructs the embedder for cfg, logging a fallback notice
// if the requested backend was unavailable and codeindex fell back to Ollama.
func buildEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	provider := resolveProvider(cfg.Embeddings.Backend)
	embedder, fallback, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if fallback != nil {
		fmt.Printf("embedder %s unavailable (%s), falling back to %s\n",
			fallback.Original, fallback.Reason, fallback.Fallback)
	}
	return embedder, nil
}

package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderType identifies a concrete embedding backend.
type ProviderType string

const (
	// ProviderJina uses the Jina AI REST API (remote batched).
	ProviderJina ProviderType = "jina"

	// ProviderGemini uses the Gemini embedding REST API (remote paired).
	ProviderGemini ProviderType = "gemini"

	// ProviderOllama uses a local Ollama server (local batched, the
	// universal fallback when a remote backend is unavailable).
	ProviderOllama ProviderType = "ollama"
)

// ParseProvider converts a string to ProviderType, defaulting to Ollama for
// unrecognized values since it requires no credentials.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "jina":
		return ProviderJina
	case "gemini":
		return ProviderGemini
	case "ollama", "llama":
		return ProviderOllama
	default:
		return ProviderOllama
	}
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderJina), string(ProviderGemini), string(ProviderOllama)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// FallbackInfo records that the factory fell back to the local (Ollama)
// backend after the caller's requested backend failed to initialize.
type FallbackInfo struct {
	Original ProviderType
	Fallback ProviderType
	Reason   string
}

// ThermalConfig holds thermal management settings loaded from config.yaml,
// applied to the Ollama backend to pace sustained GPU workloads.
type ThermalConfig struct {
	InterBatchDelay        time.Duration
	TimeoutProgression     float64
	RetryTimeoutMultiplier float64
}

// globalThermalConfig holds config-file settings set via SetThermalConfig.
// Environment variables still take precedence over these values.
var globalThermalConfig ThermalConfig

// SetThermalConfig sets thermal management config from the user's config
// file. Call before NewEmbedder so config-file settings are honored;
// environment variables still override them.
func SetThermalConfig(cfg ThermalConfig) {
	globalThermalConfig = cfg
	if cfg.InterBatchDelay > 0 || cfg.TimeoutProgression != 0 || cfg.RetryTimeoutMultiplier != 0 {
		slog.Debug("thermal_config_set",
			slog.Duration("inter_batch_delay", cfg.InterBatchDelay),
			slog.Float64("timeout_progression", cfg.TimeoutProgression),
			slog.Float64("retry_timeout_multiplier", cfg.RetryTimeoutMultiplier))
	}
}

// NewEmbedder resolves an embedder per the backend factory's selection
// rules:
//  1. If provider names a backend explicitly: initialize it. On failure,
//     fall back to Ollama and record a FallbackInfo via fallback. If both
//     fail, return the original error.
//  2. Auto mode (provider == ""): try remote backends with credentials
//     available, then Ollama; return the first that initializes.
//
// The CODEINDEX_EMBEDDER environment variable overrides provider when set.
// Query-embedding caching wraps the result unless CODEINDEX_EMBED_CACHE
// disables it.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, *FallbackInfo, error) {
	if envProvider := os.Getenv("CODEINDEX_EMBEDDER"); envProvider != "" {
		provider = ParseProvider(envProvider)
	}

	var embedder Embedder
	var fallback *FallbackInfo
	var err error

	if provider != "" {
		embedder, fallback, err = newExplicit(ctx, provider, model)
	} else {
		embedder, err = newAuto(ctx, model)
	}
	if err != nil {
		return nil, nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}

	return embedder, fallback, nil
}

func newExplicit(ctx context.Context, provider ProviderType, model string) (Embedder, *FallbackInfo, error) {
	embedder, err := buildBackend(ctx, provider, model)
	if err == nil {
		err = embedder.Initialize(ctx)
	}
	if err == nil {
		return embedder, nil, nil
	}
	originalErr := err

	if provider == ProviderOllama {
		return nil, nil, originalErr
	}

	fb, fbErr := buildBackend(ctx, ProviderOllama, model)
	if fbErr == nil {
		fbErr = fb.Initialize(ctx)
	}
	if fbErr != nil {
		return nil, nil, originalErr
	}

	return fb, &FallbackInfo{
		Original: provider,
		Fallback: ProviderOllama,
		Reason:   originalErr.Error(),
	}, nil
}

func newAuto(ctx context.Context, model string) (Embedder, error) {
	var lastErr error

	for _, provider := range []ProviderType{ProviderJina, ProviderGemini} {
		if !hasCredentials(provider) {
			continue
		}
		embedder, err := buildBackend(ctx, provider, model)
		if err != nil {
			lastErr = err
			continue
		}
		if err := embedder.Initialize(ctx); err != nil {
			lastErr = err
			continue
		}
		return embedder, nil
	}

	embedder, err := buildBackend(ctx, ProviderOllama, model)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w", err)
	}
	if err := embedder.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w (try `ollama serve`)", err)
	}
	_ = lastErr
	return embedder, nil
}

func hasCredentials(provider ProviderType) bool {
	switch provider {
	case ProviderJina:
		return os.Getenv("JINA_API_KEY") != ""
	case ProviderGemini:
		return os.Getenv("GEMINI_API_KEY") != ""
	default:
		return true
	}
}

func buildBackend(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	switch provider {
	case ProviderJina:
		cfg := DefaultJinaConfig()
		cfg.APIKey = os.Getenv("JINA_API_KEY")
		if model != "" {
			cfg.Model = model
		}
		return NewJinaEmbedder(cfg), nil

	case ProviderGemini:
		cfg := DefaultGeminiConfig()
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		if model != "" {
			cfg.Model = model
		}
		return NewGeminiEmbedder(cfg), nil

	case ProviderOllama:
		return newOllamaWithConfig(ctx, model)

	default:
		return nil, fmt.Errorf("unknown embedding backend %q", provider)
	}
}

// newOllamaWithConfig builds the Ollama backend config from defaults,
// applying thermal config and environment overrides in the usual
// precedence: defaults < config file (SetThermalConfig) < environment.
func newOllamaWithConfig(ctx context.Context, model string) (Embedder, error) {
	cfg := DefaultOllamaConfig()
	if model != "" && isOllamaModelName(model) {
		cfg.Model = model
	}

	if host := os.Getenv("CODEINDEX_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	if modelOverride := os.Getenv("CODEINDEX_OLLAMA_MODEL"); modelOverride != "" {
		cfg.Model = modelOverride
	}
	if timeoutStr := os.Getenv("CODEINDEX_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	if globalThermalConfig.InterBatchDelay > 0 {
		delay := globalThermalConfig.InterBatchDelay
		if delay > MaxInterBatchDelay {
			delay = MaxInterBatchDelay
		}
		cfg.InterBatchDelay = delay
	}
	if globalThermalConfig.TimeoutProgression >= 1.0 {
		progression := globalThermalConfig.TimeoutProgression
		if progression > MaxTimeoutProgression {
			progression = MaxTimeoutProgression
		}
		cfg.TimeoutProgression = progression
	}
	if globalThermalConfig.RetryTimeoutMultiplier >= 1.0 {
		mult := globalThermalConfig.RetryTimeoutMultiplier
		if mult > MaxRetryTimeoutMultiplier {
			mult = MaxRetryTimeoutMultiplier
		}
		cfg.RetryTimeoutMultiplier = mult
	}

	if delayStr := os.Getenv("CODEINDEX_INTER_BATCH_DELAY"); delayStr != "" {
		if delay, err := time.ParseDuration(delayStr); err == nil && delay >= 0 {
			if delay > MaxInterBatchDelay {
				delay = MaxInterBatchDelay
			}
			cfg.InterBatchDelay = delay
		}
	}
	if progressionStr := os.Getenv("CODEINDEX_TIMEOUT_PROGRESSION"); progressionStr != "" {
		if progression, err := parseFloat64(progressionStr); err == nil && progression >= 1.0 {
			if progression > MaxTimeoutProgression {
				progression = MaxTimeoutProgression
			}
			cfg.TimeoutProgression = progression
		}
	}
	if retryMultStr := os.Getenv("CODEINDEX_RETRY_TIMEOUT_MULTIPLIER"); retryMultStr != "" {
		if mult, err := parseFloat64(retryMultStr); err == nil && mult >= 1.0 {
			if mult > MaxRetryTimeoutMultiplier {
				mult = MaxRetryTimeoutMultiplier
			}
			cfg.RetryTimeoutMultiplier = mult
		}
	}

	return NewOllamaEmbedder(ctx, cfg)
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("CODEINDEX_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// isOllamaModelName reports whether model looks like an Ollama model name
// (colon tag) rather than a bare GGUF filename or version string.
func isOllamaModelName(model string) bool {
	if strings.Contains(model, ":") {
		return true
	}
	return false
}

// EmbedderInfo summarizes a resolved embedder for status reporting.
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
}

// GetInfo returns information about an embedder, unwrapping a CachedEmbedder
// to inspect the underlying backend type.
func GetInfo(embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.Model(),
		Dimensions: embedder.Dimensions(),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}
	info.Provider = ParseProvider(inner.Name())
	return info
}

// MustNewEmbedder creates an embedder and panics on failure.
// Use only in tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, _, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}

// parseFloat64 parses a string to float64, used for thermal config parsing.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

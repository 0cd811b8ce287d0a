package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider_RecognizesKnownNames(t *testing.T) {
	assert.Equal(t, ProviderJina, ParseProvider("jina"))
	assert.Equal(t, ProviderGemini, ParseProvider("gemini"))
	assert.Equal(t, ProviderOllama, ParseProvider("ollama"))
	assert.Equal(t, ProviderOllama, ParseProvider("OLLAMA"))
}

func TestParseProvider_UnknownDefaultsToOllama(t *testing.T) {
	assert.Equal(t, ProviderOllama, ParseProvider("nonsense"))
	assert.Equal(t, ProviderOllama, ParseProvider(""))
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("jina"))
	assert.True(t, IsValidProvider("Gemini"))
	assert.True(t, IsValidProvider("ollama"))
	assert.False(t, IsValidProvider("mlx"))
	assert.False(t, IsValidProvider("static"))
}

func TestValidProviders_ListsAllThree(t *testing.T) {
	providers := ValidProviders()
	assert.ElementsMatch(t, []string{"jina", "gemini", "ollama"}, providers)
}

func TestNewEmbedder_ExplicitOllama_Unavailable_ReturnsError(t *testing.T) {
	t.Setenv("CODEINDEX_OLLAMA_HOST", "http://127.0.0.1:1")
	t.Setenv("CODEINDEX_OLLAMA_TIMEOUT", "200ms")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, fallback, err := NewEmbedder(ctx, ProviderOllama, "")
	require.Error(t, err)
	assert.Nil(t, fallback)
}

func TestNewEmbedder_ExplicitJina_NoAPIKey_FallsBackToOllamaOrFails(t *testing.T) {
	t.Setenv("JINA_API_KEY", "")
	t.Setenv("CODEINDEX_OLLAMA_HOST", "http://127.0.0.1:1")
	t.Setenv("CODEINDEX_OLLAMA_TIMEOUT", "200ms")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Jina fails immediately (no API key). Fallback to ollama also fails
	// (unreachable host), so the original Jina error should surface.
	_, fallback, err := NewEmbedder(ctx, ProviderJina, "")
	require.Error(t, err)
	assert.Nil(t, fallback)
}

func TestNewEmbedder_AutoDetect_NoCredentials_FallsToOllama(t *testing.T) {
	t.Setenv("JINA_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("CODEINDEX_OLLAMA_HOST", "http://127.0.0.1:1")
	t.Setenv("CODEINDEX_OLLAMA_TIMEOUT", "200ms")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := NewEmbedder(ctx, "", "")
	require.Error(t, err, "ollama unreachable should surface as the terminal auto-detect error")
}

func TestHasCredentials_RemoteRequireAPIKey(t *testing.T) {
	t.Setenv("JINA_API_KEY", "")
	assert.False(t, hasCredentials(ProviderJina))

	t.Setenv("JINA_API_KEY", "key")
	assert.True(t, hasCredentials(ProviderJina))

	t.Setenv("GEMINI_API_KEY", "")
	assert.False(t, hasCredentials(ProviderGemini))
}

func TestHasCredentials_OllamaAlwaysTrue(t *testing.T) {
	assert.True(t, hasCredentials(ProviderOllama))
}

func TestIsOllamaModelName_WithTag(t *testing.T) {
	assert.True(t, isOllamaModelName("qwen3-embedding:0.6b"))
}

func TestIsOllamaModelName_PlainNames(t *testing.T) {
	assert.False(t, isOllamaModelName("embeddinggemma"))
}

func TestSetThermalConfig_AppliesToOllamaBuild(t *testing.T) {
	SetThermalConfig(ThermalConfig{
		InterBatchDelay:        500 * time.Millisecond,
		TimeoutProgression:     1.5,
		RetryTimeoutMultiplier: 2.0,
	})
	defer SetThermalConfig(ThermalConfig{})

	embedder, err := newOllamaWithConfig(context.Background(), "")
	require.NoError(t, err)
	ollama, ok := embedder.(*OllamaEmbedder)
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, ollama.config.InterBatchDelay)
	assert.Equal(t, 1.5, ollama.config.TimeoutProgression)
	assert.Equal(t, 2.0, ollama.config.RetryTimeoutMultiplier)
}

func TestSetThermalConfig_ClampedToMaximums(t *testing.T) {
	SetThermalConfig(ThermalConfig{
		InterBatchDelay:        MaxInterBatchDelay + time.Hour,
		TimeoutProgression:     MaxTimeoutProgression + 10,
		RetryTimeoutMultiplier: MaxRetryTimeoutMultiplier + 10,
	})
	defer SetThermalConfig(ThermalConfig{})

	embedder, err := newOllamaWithConfig(context.Background(), "")
	require.NoError(t, err)
	ollama, ok := embedder.(*OllamaEmbedder)
	require.True(t, ok)
	assert.Equal(t, MaxInterBatchDelay, ollama.config.InterBatchDelay)
	assert.Equal(t, MaxTimeoutProgression, ollama.config.TimeoutProgression)
	assert.Equal(t, MaxRetryTimeoutMultiplier, ollama.config.RetryTimeoutMultiplier)
}

func TestSetThermalConfig_EnvVarsOverrideConfigFile(t *testing.T) {
	SetThermalConfig(ThermalConfig{InterBatchDelay: 500 * time.Millisecond})
	defer SetThermalConfig(ThermalConfig{})
	t.Setenv("CODEINDEX_INTER_BATCH_DELAY", "1s")

	embedder, err := newOllamaWithConfig(context.Background(), "")
	require.NoError(t, err)
	ollama, ok := embedder.(*OllamaEmbedder)
	require.True(t, ok)
	assert.Equal(t, time.Second, ollama.config.InterBatchDelay)
}

func TestGetInfo_UnwrapsCachedEmbedder(t *testing.T) {
	inner := newMockEmbedder(768)
	inner.modelName = "mock-model"
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()

	info := GetInfo(cached)
	assert.Equal(t, "mock-model", info.Model)
	assert.Equal(t, 768, info.Dimensions)
	assert.Equal(t, ProviderOllama, info.Provider, "unknown backend names default to ollama")
}

func TestBuildBackend_UnknownProviderErrors(t *testing.T) {
	_, err := buildBackend(context.Background(), ProviderType("nope"), "")
	require.Error(t, err)
}

func TestIsCacheDisabled(t *testing.T) {
	t.Setenv("CODEINDEX_EMBED_CACHE", "")
	assert.False(t, isCacheDisabled())

	t.Setenv("CODEINDEX_EMBED_CACHE", "false")
	assert.True(t, isCacheDisabled())

	t.Setenv("CODEINDEX_EMBED_CACHE", "off")
	assert.True(t, isCacheDisabled())
}

package adapters_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/narration-service/internal/adapters"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveModelPath_Direct(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "orpheus.gguf")
	require.NoError(t, os.WriteFile(path, []byte("model"), 0o600))

	resolved, err := adapters.ResolveModelPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)

	resolved, err = adapters.ResolveModelPath("")
	require.NoError(t, err)
	assert.Empty(t, resolved)
}

func TestResolveModelPath_CacheDir(t *testing.T) {
	cacheDir := t.TempDir()
	t.Setenv("NARRATION_CACHE_DIR", cacheDir)

	assert.Equal(t, cacheDir, adapters.CacheDir())

	modelsDir := filepath.Join(cacheDir, "models")
	require.NoError(t, os.MkdirAll(modelsDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "snac.gguf"), []byte("model"), 0o600))

	resolved, err := adapters.ResolveModelPath("snac.gguf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(modelsDir, "snac.gguf"), resolved)

	_, err = adapters.ResolveModelPath("missing-model.gguf")
	require.ErrorIs(t, err, adapters.ErrModelNotFound)
}

func TestChatLLMSynthesizer_MissingModelIsPermanent(t *testing.T) {
	t.Parallel()

	binary := writeScript(t, "exit 0\n")
	synthesizer := adapters.NewChatLLMSynthesizer(adapters.ChatLLMConfig{
		Binary:    binary,
		ModelPath: filepath.Join(t.TempDir(), "absent.gguf"),
	}, newTestLogger(t))

	require.ErrorIs(t, synthesizer.HealthCheck(context.Background()), adapters.ErrModelNotFound)

	_, err := synthesizer.Synthesize(context.Background(), core.SpeechRequest{Text: "Hello"})
	require.ErrorIs(t, err, core.ErrPermanentService)
	require.ErrorIs(t, err, adapters.ErrModelNotFound)
}

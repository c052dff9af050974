// Package config_test tests the configuration loading for the narration-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
[nats]
url = "nats://127.0.0.1:4222"
text_processed_subject = "text.processed"
audio_chunk_created_subject = "audio.chunk.created"
audio_object_store_bucket = "AUDIO_FILES"
job_archive_bucket = "JOBS"

[pipeline]
max_input_length = 2000
worker_pool_size = 3
max_attempts = 4
base_delay_ms = 250
max_delay_ms = 2000
timeout_per_attempt_seconds = 15
supported_tones = ["neutral", "dramatic"]
supported_voices = ["default", "wise_narrator"]
supported_effects = ["normalize"]
supported_languages = ["en", "fr"]
default_tone = "neutral"
default_language = "en"
default_voice = "default"
retention_minutes = 90

[services]
mode = "http"
speech_mode = "chatllm"
transform_url = "http://transform:8000"
enhance_url = "http://enhance:8000"
emotion_url = "http://emotion:8000"
speech_url = "http://speech:8000"
breaker_failure_threshold = 7
breaker_open_seconds = 12

[storage]
backend = "filesystem"
dir = "/var/lib/narration"

[paths]
base_logs_dir = "/var/log/narration"
`

func TestParse_FullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "JOBS", cfg.NATS.JobArchiveBucket)
	assert.Equal(t, 2000, cfg.Pipeline.MaxInputLength)
	assert.Equal(t, 3, cfg.Pipeline.WorkerPoolSize)
	assert.Equal(t, 4, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.BaseDelay())
	assert.Equal(t, 2*time.Second, cfg.Pipeline.MaxDelay())
	assert.Equal(t, 15*time.Second, cfg.Pipeline.TimeoutPerAttempt())
	assert.Equal(t, 90*time.Minute, cfg.Pipeline.Retention())
	assert.Equal(t, []string{"neutral", "dramatic"}, cfg.Pipeline.SupportedTones)
	assert.Equal(t, config.ModeChatLLM, cfg.Services.SpeechMode)
	assert.Equal(t, 12*time.Second, cfg.Services.BreakerOpen())
	assert.Equal(t, config.StorageFilesystem, cfg.Storage.Backend)
	assert.Equal(t, "/var/log/narration", cfg.Paths.BaseLogsDir)
	assert.Equal(t, "@every 10m", cfg.Pipeline.CleanupSchedule)
}

func TestParse_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(`[services]
mode = "local"
`))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.WorkerPoolSize)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Contains(t, cfg.Pipeline.SupportedTones, "dramatic")
	assert.Contains(t, cfg.Pipeline.SupportedEffects, "fade_out")
	assert.Equal(t, config.ModeLocal, cfg.Services.SpeechMode, "speech mode follows services mode")
	assert.Equal(t, config.StorageNATS, cfg.Storage.Backend)
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		toml string
	}{
		{name: "bad mode", toml: "[services]\nmode = \"grpc\"\n"},
		{name: "bad storage", toml: "[storage]\nbackend = \"s3\"\n"},
		{name: "delay order", toml: "[pipeline]\nbase_delay_ms = 900\nmax_delay_ms = 100\n"},
		{name: "bad language", toml: "[pipeline]\nsupported_languages = [\"en\", \"not a tag!\"]\n"},
		{name: "default tone unsupported", toml: "[pipeline]\nsupported_tones = [\"dramatic\"]\n"},
		{name: "negative pool", toml: "[pipeline]\nworker_pool_size = -1\n"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Parse([]byte(testCase.toml))
			require.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://speech:8000", cfg.Services.SpeechURL)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, config.Default().Validate())
}

func TestLoadFile_ShippedProjectConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFile(filepath.Join("..", "..", "project.toml"))
	require.NoError(t, err)

	assert.Equal(t, config.ModeLocal, cfg.Services.Mode)
	assert.Equal(t, config.StorageNATS, cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Pipeline.WorkerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.TimeoutPerAttempt())
	assert.Contains(t, cfg.Pipeline.SupportedVoices, "wise_narrator")
}

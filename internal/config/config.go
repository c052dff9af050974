// Package config provides the configuration structure for the narration-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

// Adapter and storage modes.
const (
	ModeHTTP    = "http"
	ModeLocal   = "local"
	ModeChatLLM = "chatllm"

	StorageNATS       = "nats"
	StorageFilesystem = "filesystem"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	JobArchiveBucket         string `toml:"job_archive_bucket"`
}

// PipelineConfig holds the job manager and retry policy settings.
type PipelineConfig struct {
	MaxInputLength           int      `toml:"max_input_length"`
	WorkerPoolSize           int      `toml:"worker_pool_size"`
	MaxAttempts              int      `toml:"max_attempts"`
	BaseDelayMs              int      `toml:"base_delay_ms"`
	MaxDelayMs               int      `toml:"max_delay_ms"`
	TimeoutPerAttemptSeconds int      `toml:"timeout_per_attempt_seconds"`
	SupportedTones           []string `toml:"supported_tones"`
	SupportedVoices          []string `toml:"supported_voices"`
	SupportedEffects         []string `toml:"supported_effects"`
	SupportedLanguages       []string `toml:"supported_languages"`
	DefaultTone              string   `toml:"default_tone"`
	DefaultLanguage          string   `toml:"default_language"`
	DefaultVoice             string   `toml:"default_voice"`
	RetentionMinutes         int      `toml:"retention_minutes"`
	CleanupSchedule          string   `toml:"cleanup_schedule"`
}

// BaseDelay returns the first retry delay.
func (p PipelineConfig) BaseDelay() time.Duration {
	return time.Duration(p.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay cap.
func (p PipelineConfig) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMs) * time.Millisecond
}

// TimeoutPerAttempt returns the deadline applied to each adapter call.
func (p PipelineConfig) TimeoutPerAttempt() time.Duration {
	return time.Duration(p.TimeoutPerAttemptSeconds) * time.Second
}

// Retention returns how long terminal jobs stay in memory.
func (p PipelineConfig) Retention() time.Duration {
	return time.Duration(p.RetentionMinutes) * time.Minute
}

// ServicesConfig locates the remote model services.
type ServicesConfig struct {
	Mode                    string `toml:"mode"`
	SpeechMode              string `toml:"speech_mode"`
	TransformURL            string `toml:"transform_url"`
	EnhanceURL              string `toml:"enhance_url"`
	EmotionURL              string `toml:"emotion_url"`
	SpeechURL               string `toml:"speech_url"`
	BreakerFailureThreshold int    `toml:"breaker_failure_threshold"`
	BreakerOpenSeconds      int    `toml:"breaker_open_seconds"`
	ChatLLMBinary           string `toml:"chatllm_binary"`
	ModelPath               string `toml:"model_path"`
	SnacModelPath           string `toml:"snac_model_path"`
}

// BreakerOpen returns how long a tripped breaker stays open.
func (s ServicesConfig) BreakerOpen() time.Duration {
	return time.Duration(s.BreakerOpenSeconds) * time.Second
}

// StorageConfig selects where artifacts are written.
type StorageConfig struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Services ServicesConfig `toml:"services"`
	Storage  StorageConfig  `toml:"storage"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the narration-service through the
// central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile reads and parses a TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML configuration: %w", err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()

	return &cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	c.NATS.applyDefaults()
	c.Pipeline.applyDefaults()
	c.Services.applyDefaults()

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageNATS
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = "artifacts"
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

func (n *NATSConfig) applyDefaults() {
	setString(&n.URL, "nats://127.0.0.1:4222")
	setString(&n.TextProcessedSubject, "text.processed")
	setString(&n.AudioChunkCreatedSubject, "audio.chunk.created")
	setString(&n.AudioObjectStoreBucket, "AUDIO_FILES")
	setString(&n.JobArchiveBucket, "NARRATION_JOBS")
}

func (p *PipelineConfig) applyDefaults() {
	setInt(&p.MaxInputLength, 50000)
	setInt(&p.WorkerPoolSize, 4)
	setInt(&p.MaxAttempts, 3)
	setInt(&p.BaseDelayMs, 500)
	setInt(&p.MaxDelayMs, 8000)
	setInt(&p.TimeoutPerAttemptSeconds, 30)
	setInt(&p.RetentionMinutes, 24*60)
	setString(&p.CleanupSchedule, "@every 10m")
	setString(&p.DefaultTone, "neutral")
	setString(&p.DefaultLanguage, "en")
	setString(&p.DefaultVoice, "default")

	if len(p.SupportedTones) == 0 {
		p.SupportedTones = []string{
			"neutral", "suspenseful", "dramatic", "inspiring",
			"educational", "conversational", "formal", "calming",
		}
	}

	if len(p.SupportedVoices) == 0 {
		p.SupportedVoices = []string{
			"default", "wise_narrator", "dramatic_storyteller", "mysterious_voice",
			"energetic_guide", "gentle_companion", "professional_presenter",
		}
	}

	if len(p.SupportedEffects) == 0 {
		p.SupportedEffects = []string{
			"normalize", "compress", "echo", "speed_up", "slow_down", "fade_in", "fade_out",
		}
	}

	if len(p.SupportedLanguages) == 0 {
		p.SupportedLanguages = []string{"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh", "ar", "hi"}
	}
}

func (s *ServicesConfig) applyDefaults() {
	setString(&s.Mode, ModeHTTP)
	setString(&s.SpeechMode, s.Mode)
	setInt(&s.BreakerFailureThreshold, 5)
	setInt(&s.BreakerOpenSeconds, 30)
	setString(&s.ChatLLMBinary, "chatllm")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	pipeline := c.Pipeline

	if pipeline.MaxInputLength <= 0 {
		return fmt.Errorf("%w: max_input_length must be positive", ErrInvalidConfig)
	}

	if pipeline.WorkerPoolSize <= 0 {
		return fmt.Errorf("%w: worker_pool_size must be positive", ErrInvalidConfig)
	}

	if pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidConfig)
	}

	if pipeline.BaseDelayMs < 0 || pipeline.MaxDelayMs < pipeline.BaseDelayMs {
		return fmt.Errorf("%w: need 0 <= base_delay_ms <= max_delay_ms", ErrInvalidConfig)
	}

	if pipeline.TimeoutPerAttemptSeconds <= 0 {
		return fmt.Errorf("%w: timeout_per_attempt_seconds must be positive", ErrInvalidConfig)
	}

	for _, tag := range pipeline.SupportedLanguages {
		_, err := language.Parse(tag)
		if err != nil {
			return fmt.Errorf("%w: supported language %q: %w", ErrInvalidConfig, tag, err)
		}
	}

	defaults := []struct {
		name  string
		value string
		set   []string
	}{
		{"default_tone", pipeline.DefaultTone, pipeline.SupportedTones},
		{"default_voice", pipeline.DefaultVoice, pipeline.SupportedVoices},
		{"default_language", pipeline.DefaultLanguage, pipeline.SupportedLanguages},
	}

	for _, def := range defaults {
		if !slices.Contains(def.set, def.value) {
			return fmt.Errorf("%w: %s %q is not in its supported set", ErrInvalidConfig, def.name, def.value)
		}
	}

	return c.validateModes()
}

func (c *Config) validateModes() error {
	switch c.Services.Mode {
	case ModeHTTP, ModeLocal:
	default:
		return fmt.Errorf("%w: unknown services mode %q", ErrInvalidConfig, c.Services.Mode)
	}

	switch c.Services.SpeechMode {
	case ModeHTTP, ModeLocal, ModeChatLLM:
	default:
		return fmt.Errorf("%w: unknown speech mode %q", ErrInvalidConfig, c.Services.SpeechMode)
	}

	switch c.Storage.Backend {
	case StorageNATS, StorageFilesystem:
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}

	return nil
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setInt(field *int, value int) {
	if *field == 0 {
		*field = value
	}
}

package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
)

// ErrMissingURL is returned when HTTP mode is selected without a service URL.
var ErrMissingURL = errors.New("service URL is required in http mode")

// Set is the adapter bundle built from configuration, plus the remote
// services that can be health checked.
type Set struct {
	core.Adapters

	Checkers []HealthChecker
}

// New builds the adapters selected by cfg.
func New(cfg config.ServicesConfig, log *logger.Logger) (*Set, error) {
	set := &Set{}

	switch cfg.Mode {
	case config.ModeLocal:
		set.Transformer = LocalTransformer{}
		set.Enhancer = NewLocalEnhancer()
		set.Analyzer = LocalAnalyzer{}
	case config.ModeHTTP:
		transformer, err := newHTTP(cfg, "transform", cfg.TransformURL, NewHTTPTransformer)
		if err != nil {
			return nil, err
		}

		enhancer, err := newHTTP(cfg, "enhance", cfg.EnhanceURL, NewHTTPEnhancer)
		if err != nil {
			return nil, err
		}

		analyzer, err := newHTTP(cfg, "emotion", cfg.EmotionURL, NewHTTPAnalyzer)
		if err != nil {
			return nil, err
		}

		set.Transformer, set.Enhancer, set.Analyzer = transformer, enhancer, analyzer
		set.Checkers = append(set.Checkers, transformer, enhancer, analyzer)
	default:
		return nil, fmt.Errorf("%w: unknown services mode %q", config.ErrInvalidConfig, cfg.Mode)
	}

	switch cfg.SpeechMode {
	case config.ModeLocal:
		set.Synthesizer = LocalSynthesizer{}
	case config.ModeChatLLM:
		synthesizer := NewChatLLMSynthesizer(ChatLLMConfig{
			Binary:        cfg.ChatLLMBinary,
			ModelPath:     cfg.ModelPath,
			SnacModelPath: cfg.SnacModelPath,
		}, log)
		set.Synthesizer = synthesizer
		set.Checkers = append(set.Checkers, synthesizer)
	case config.ModeHTTP:
		synthesizer, err := newHTTP(cfg, "speech", cfg.SpeechURL, NewHTTPSynthesizer)
		if err != nil {
			return nil, err
		}

		set.Synthesizer = synthesizer
		set.Checkers = append(set.Checkers, synthesizer)
	default:
		return nil, fmt.Errorf("%w: unknown speech mode %q", config.ErrInvalidConfig, cfg.SpeechMode)
	}

	return set, nil
}

func newHTTP[T any](cfg config.ServicesConfig, name, url string, build func(ServiceConfig) T) (T, error) {
	var zero T

	if url == "" {
		return zero, fmt.Errorf("%w: %s_url", ErrMissingURL, name)
	}

	return build(ServiceConfig{
		Name:             name,
		BaseURL:          url,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpen(),
	}), nil
}

// CheckHealth probes every remote service, logs the outcome and returns the
// number of unhealthy services.
func (s *Set) CheckHealth(ctx context.Context, log *logger.Logger) int {
	unhealthy := 0

	for _, checker := range s.Checkers {
		err := checker.HealthCheck(ctx)
		if err != nil {
			unhealthy++

			log.Warn("Service %s is not healthy: %v", checker.Name(), err)

			continue
		}

		log.Info("Service %s is healthy", checker.Name())
	}

	return unhealthy
}

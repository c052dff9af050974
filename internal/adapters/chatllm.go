package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
)

// Sampling parameters passed to chatllm.
const (
	chatLLMSeed              = 42
	chatLLMGPULayers         = 100
	chatLLMTopP              = 0.9
	chatLLMRepetitionPenalty = 1.1
)

// ErrChatLLMBinary is returned when the chatllm executable cannot be found.
var ErrChatLLMBinary = errors.New("chatllm binary not found")

// ChatLLMConfig locates the chatllm binary and its models.
type ChatLLMConfig struct {
	Binary        string
	ModelPath     string
	SnacModelPath string
}

// ChatLLMSynthesizer implements core.SpeechSynthesizer by running the
// chatllm binary, which writes a WAV file.
type ChatLLMSynthesizer struct {
	config ChatLLMConfig
	log    *logger.Logger
}

// NewChatLLMSynthesizer creates a synthesizer for cfg.
func NewChatLLMSynthesizer(cfg ChatLLMConfig, log *logger.Logger) *ChatLLMSynthesizer {
	return &ChatLLMSynthesizer{config: cfg, log: log}
}

// Name identifies the synthesizer in health logs.
func (p *ChatLLMSynthesizer) Name() string {
	return "chatllm"
}

// HealthCheck reports whether the binary is on PATH and the models exist.
func (p *ChatLLMSynthesizer) HealthCheck(context.Context) error {
	_, err := exec.LookPath(p.config.Binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrChatLLMBinary, p.config.Binary, err)
	}

	_, _, err = p.models()

	return err
}

func (p *ChatLLMSynthesizer) models() (string, string, error) {
	modelPath, err := ResolveModelPath(p.config.ModelPath)
	if err != nil {
		return "", "", err
	}

	snacModelPath, err := ResolveModelPath(p.config.SnacModelPath)
	if err != nil {
		return "", "", err
	}

	return modelPath, snacModelPath, nil
}

// Synthesize runs chatllm for req. A missing binary or model is permanent; a failed
// run or an expired deadline is transient.
func (p *ChatLLMSynthesizer) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	binary, err := exec.LookPath(p.config.Binary)
	if err != nil {
		return nil, core.NewError(core.KindPermanentService, opSynthesize,
			fmt.Errorf("%w: %s: %w", ErrChatLLMBinary, p.config.Binary, err))
	}

	modelPath, snacModelPath, err := p.models()
	if err != nil {
		return nil, core.NewError(core.KindPermanentService, opSynthesize, err)
	}

	tempFile, err := os.CreateTemp("", "narration-*.wav")
	if err != nil {
		return nil, core.NewError(core.KindTransientService, opSynthesize,
			fmt.Errorf("failed to create temp file for speech output: %w", err))
	}

	closeErr := tempFile.Close()
	if closeErr != nil {
		p.log.Warn("Failed to close temp file '%s': %v", tempFile.Name(), closeErr)
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			p.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	voice := req.Voice
	if voice == "" {
		voice = VoiceDefault
	}

	args := []string{
		"-m", modelPath,
		"--snac_model", snacModelPath,
		"-p", fmt.Sprintf("{%s}: %s", voice, req.Text),
		"--tts_export", tempFile.Name(),
		"--seed", strconv.Itoa(chatLLMSeed),
		"-ngl", strconv.Itoa(chatLLMGPULayers),
		"--top_p", fmt.Sprintf("%.2f", chatLLMTopP),
		"--repetition_penalty", fmt.Sprintf("%.2f", chatLLMRepetitionPenalty),
		"--temp", fmt.Sprintf("%.2f", defaultTemperature),
	}

	// #nosec G204 -- binary comes from configuration, text is passed as one argument
	cmd := exec.CommandContext(ctx, binary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, core.NewError(core.KindTransientService, opSynthesize,
			fmt.Errorf("chatllm binary execution failed: %w - output: %s", err, string(output)))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, core.NewError(core.KindTransientService, opSynthesize,
			fmt.Errorf("failed to read audio data from temp file: %w", err))
	}

	if len(audioData) == 0 {
		return nil, core.Errorf(core.KindPermanentService, opSynthesize, "%w: chatllm wrote no audio", ErrMalformedResponse)
	}

	return audioData, nil
}

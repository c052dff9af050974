package adapters

import (
	"context"
	"strings"

	"github.com/book-expert/narration-service/internal/core"
)

// Service endpoints.
const (
	apiTransform      = "/transform"
	apiEnhance        = "/enhance"
	apiAnalyze        = "/analyze"
	apiGenerateSpeech = "/v1/generate/speech"
)

// Operation names used in classified errors.
const (
	opTransform  = "transform"
	opEnhance    = "enhance"
	opAnalyze    = "analyze_emotion"
	opSynthesize = "synthesize"
)

const (
	statusSuccess          = "success"
	enhancementNarration   = "narration"
	defaultTemperature     = 0.75
	maxEmotionIntensity    = 1.0
	defaultSpeechLanguage  = "en"
	defaultEmotionStrength = 0.5
)

type transformRequest struct {
	Text string `json:"text"`
	Tone string `json:"tone"`
}

type transformResponse struct {
	Status          string `json:"status"`
	TransformedText string `json:"transformed_text"`
	Error           string `json:"error"`
}

// HTTPTransformer calls the remote tone transformation service.
type HTTPTransformer struct {
	*serviceClient
}

// NewHTTPTransformer creates a transformer for cfg.
func NewHTTPTransformer(cfg ServiceConfig) *HTTPTransformer {
	return &HTTPTransformer{serviceClient: newServiceClient(cfg)}
}

// Transform rewrites req.Text in req.Tone.
func (t *HTTPTransformer) Transform(ctx context.Context, req core.TransformRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", core.NewError(core.KindPermanentService, opTransform, ErrEmptyText)
	}

	body, err := t.postJSON(ctx, opTransform, apiTransform, transformRequest(req), contentTypeJSON)
	if err != nil {
		return "", err
	}

	var resp transformResponse

	err = decodeJSON(opTransform, body, &resp)
	if err != nil {
		return "", err
	}

	if resp.Status != "" && resp.Status != statusSuccess {
		return "", core.Errorf(core.KindPermanentService, opTransform, "service reported %q: %s", resp.Status, resp.Error)
	}

	if strings.TrimSpace(resp.TransformedText) == "" {
		return "", core.Errorf(core.KindPermanentService, opTransform, "%w: empty transformed_text", ErrMalformedResponse)
	}

	return resp.TransformedText, nil
}

type enhanceRequest struct {
	Text            string `json:"text"`
	EnhancementType string `json:"enhancement_type"`
	Language        string `json:"language"`
}

type enhanceResponse struct {
	EnhancedText string `json:"enhanced_text"`
}

// HTTPEnhancer calls the remote content enhancement service.
type HTTPEnhancer struct {
	*serviceClient
}

// NewHTTPEnhancer creates an enhancer for cfg.
func NewHTTPEnhancer(cfg ServiceConfig) *HTTPEnhancer {
	return &HTTPEnhancer{serviceClient: newServiceClient(cfg)}
}

// Enhance polishes req.Text for narration.
func (e *HTTPEnhancer) Enhance(ctx context.Context, req core.EnhanceRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", core.NewError(core.KindPermanentService, opEnhance, ErrEmptyText)
	}

	payload := enhanceRequest{Text: req.Text, EnhancementType: enhancementNarration, Language: req.Language}

	body, err := e.postJSON(ctx, opEnhance, apiEnhance, payload, contentTypeJSON)
	if err != nil {
		return "", err
	}

	var resp enhanceResponse

	err = decodeJSON(opEnhance, body, &resp)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(resp.EnhancedText) == "" {
		return "", core.Errorf(core.KindPermanentService, opEnhance, "%w: empty enhanced_text", ErrMalformedResponse)
	}

	return resp.EnhancedText, nil
}

type analyzeRequest struct {
	Text string `json:"text"`
}

type analyzeResponse struct {
	PrimaryEmotion   string   `json:"primary_emotion"`
	Intensity        *float64 `json:"intensity"`
	RecommendedVoice string   `json:"recommended_voice"`
}

// HTTPAnalyzer calls the remote emotion analysis service.
type HTTPAnalyzer struct {
	*serviceClient
}

// NewHTTPAnalyzer creates an analyzer for cfg.
func NewHTTPAnalyzer(cfg ServiceConfig) *HTTPAnalyzer {
	return &HTTPAnalyzer{serviceClient: newServiceClient(cfg)}
}

// Analyze returns the dominant emotion of text and a voice recommendation.
// A missing intensity defaults to 0.5 and a missing voice is looked up from
// the emotion.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, text string) (core.EmotionProfile, error) {
	if strings.TrimSpace(text) == "" {
		return core.EmotionProfile{}, core.NewError(core.KindPermanentService, opAnalyze, ErrEmptyText)
	}

	body, err := a.postJSON(ctx, opAnalyze, apiAnalyze, analyzeRequest{Text: text}, contentTypeJSON)
	if err != nil {
		return core.EmotionProfile{}, err
	}

	var resp analyzeResponse

	err = decodeJSON(opAnalyze, body, &resp)
	if err != nil {
		return core.EmotionProfile{}, err
	}

	if resp.PrimaryEmotion == "" {
		return core.EmotionProfile{}, core.Errorf(core.KindPermanentService, opAnalyze,
			"%w: missing primary_emotion", ErrMalformedResponse)
	}

	profile := core.EmotionProfile{
		PrimaryEmotion:   strings.ToLower(resp.PrimaryEmotion),
		Intensity:        defaultEmotionStrength,
		RecommendedVoice: resp.RecommendedVoice,
	}

	if resp.Intensity != nil {
		if *resp.Intensity < 0 || *resp.Intensity > maxEmotionIntensity {
			return core.EmotionProfile{}, core.Errorf(core.KindPermanentService, opAnalyze,
				"%w: intensity %.2f outside [0,1]", ErrMalformedResponse, *resp.Intensity)
		}

		profile.Intensity = *resp.Intensity
	}

	if profile.RecommendedVoice == "" {
		profile.RecommendedVoice = VoiceForEmotion(profile.PrimaryEmotion)
	}

	return profile, nil
}

// speechRequest is the payload of the speech service.
type speechRequest struct {
	Text        string  `json:"text"`
	Language    string  `json:"language"`
	Voice       string  `json:"voice,omitempty"`
	Emotion     string  `json:"emotion,omitempty"`
	Intensity   float64 `json:"intensity,omitempty"`
	Temperature float64 `json:"temperature"`
}

// HTTPSynthesizer calls the remote speech service, which answers with a WAV
// body.
type HTTPSynthesizer struct {
	*serviceClient
}

// NewHTTPSynthesizer creates a synthesizer for cfg.
func NewHTTPSynthesizer(cfg ServiceConfig) *HTTPSynthesizer {
	return &HTTPSynthesizer{serviceClient: newServiceClient(cfg)}
}

// Synthesize returns the raw WAV bytes for req.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, core.NewError(core.KindPermanentService, opSynthesize, ErrEmptyText)
	}

	language := req.Language
	if language == "" {
		language = defaultSpeechLanguage
	}

	payload := speechRequest{
		Text:        req.Text,
		Language:    language,
		Voice:       req.Voice,
		Emotion:     req.Emotion.PrimaryEmotion,
		Intensity:   req.Emotion.Intensity,
		Temperature: defaultTemperature,
	}

	audioData, err := s.postJSON(ctx, opSynthesize, apiGenerateSpeech, payload, contentTypeWAV)
	if err != nil {
		return nil, err
	}

	if len(audioData) == 0 {
		return nil, core.Errorf(core.KindPermanentService, opSynthesize, "%w: received empty audio data", ErrMalformedResponse)
	}

	return audioData, nil
}

// Package core defines the contracts shared by the narration pipeline: the
// storage and model adapter interfaces, the option and payload types they
// exchange, and the classified error kinds.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// TextTransformer rewrites text in a requested tone.
type TextTransformer interface {
	Transform(ctx context.Context, req TransformRequest) (string, error)
}

// ContentEnhancer polishes text for narration.
type ContentEnhancer interface {
	Enhance(ctx context.Context, req EnhanceRequest) (string, error)
}

// EmotionAnalyzer detects the dominant emotion of a text and recommends a voice.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, text string) (EmotionProfile, error)
}

// SpeechSynthesizer turns text into a raw WAV buffer.
//
// Every adapter honours the deadline carried by ctx and returns only *Error
// values.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// Adapters bundles one implementation of every remote capability.
type Adapters struct {
	Transformer TextTransformer
	Enhancer    ContentEnhancer
	Analyzer    EmotionAnalyzer
	Synthesizer SpeechSynthesizer
}

package core

import "time"

// Effect is an audio post-processing effect requested by the caller.
type Effect string

const (
	EffectNormalize Effect = "normalize"
	EffectCompress  Effect = "compress"
	EffectEcho      Effect = "echo"
	EffectSpeedUp   Effect = "speed_up"
	EffectSlowDown  Effect = "slow_down"
	EffectFadeIn    Effect = "fade_in"
	EffectFadeOut   Effect = "fade_out"
)

// Options is the immutable per-job configuration snapshot.
type Options struct {
	Tone     string   `json:"tone"`
	Language string   `json:"language"`
	Voice    string   `json:"voice,omitempty"`
	Effects  []Effect `json:"effects,omitempty"`
}

// Clone returns a deep copy of the options.
func (o Options) Clone() Options {
	clone := o
	if o.Effects != nil {
		clone.Effects = append([]Effect(nil), o.Effects...)
	}

	return clone
}

// EmotionProfile is the emotion/voice recommendation produced by analysis.
type EmotionProfile struct {
	PrimaryEmotion   string  `json:"primary_emotion"`
	Intensity        float64 `json:"intensity"`
	RecommendedVoice string  `json:"recommended_voice"`
}

// TransformRequest asks for text to be rewritten in a tone.
type TransformRequest struct {
	Text string
	Tone string
}

// EnhanceRequest asks for text to be polished for narration.
type EnhanceRequest struct {
	Text     string
	Language string
}

// SpeechRequest asks for text to be synthesized.
type SpeechRequest struct {
	Text     string
	Language string
	Voice    string
	Emotion  EmotionProfile
}

// Artifact describes an assembled audio file in storage.
type Artifact struct {
	Key       string        `json:"key"`
	Duration  time.Duration `json:"duration"`
	SizeBytes int64         `json:"size_bytes"`
}

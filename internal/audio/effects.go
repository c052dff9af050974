package audio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

// ErrUnsupportedEffect is returned for an effect name outside the catalogue.
var ErrUnsupportedEffect = errors.New("unsupported audio effect")

// ApplyOrder is the fixed order effects run in, whatever order they were
// requested in.
var ApplyOrder = []core.Effect{
	core.EffectSlowDown,
	core.EffectSpeedUp,
	core.EffectEcho,
	core.EffectCompress,
	core.EffectNormalize,
	core.EffectFadeIn,
	core.EffectFadeOut,
}

// Effect parameters.
const (
	slowDownRate     = 0.8
	speedUpRate      = 1.25
	echoDelay        = 250 * time.Millisecond
	echoDecay        = 0.4
	compressKnee     = 0.5
	compressRatio    = 4.0
	normalizeCeiling = 0.9
	maxFade          = 500 * time.Millisecond
	fullScale        = float64(math.MaxInt16)
)

type effectFunc func(*Clip)

var catalogue = map[core.Effect]effectFunc{
	core.EffectSlowDown:  func(c *Clip) { resample(c, slowDownRate) },
	core.EffectSpeedUp:   func(c *Clip) { resample(c, speedUpRate) },
	core.EffectEcho:      echo,
	core.EffectCompress:  compress,
	core.EffectNormalize: normalize,
	core.EffectFadeIn:    fadeIn,
	core.EffectFadeOut:   fadeOut,
}

// Supported reports whether effect is in the catalogue.
func Supported(effect core.Effect) bool {
	_, ok := catalogue[effect]

	return ok
}

// ApplyEffects runs the requested effects over clip in ApplyOrder. Duplicate
// requests run once.
func ApplyEffects(clip *Clip, effects []core.Effect) error {
	requested := make(map[core.Effect]bool, len(effects))

	for _, effect := range effects {
		if !Supported(effect) {
			return fmt.Errorf("%w: %q", ErrUnsupportedEffect, effect)
		}

		requested[effect] = true
	}

	for _, effect := range ApplyOrder {
		if requested[effect] {
			catalogue[effect](clip)
		}
	}

	return nil
}

// resample changes playback speed by rate using linear interpolation; pitch
// moves with it.
func resample(clip *Clip, rate float64) {
	frames := clip.Frames()
	if frames < 2 {
		return
	}

	outFrames := int(float64(frames) / rate)
	if outFrames < 1 {
		outFrames = 1
	}

	out := make([]int16, outFrames*clip.Channels)

	for frame := range outFrames {
		position := float64(frame) * rate
		left := int(position)
		if left >= frames-1 {
			left = frames - 2
		}

		frac := position - float64(left)
		if frac > 1 {
			frac = 1
		}

		for ch := range clip.Channels {
			a := float64(clip.Samples[left*clip.Channels+ch])
			b := float64(clip.Samples[(left+1)*clip.Channels+ch])
			out[frame*clip.Channels+ch] = clamp(a + (b-a)*frac)
		}
	}

	clip.Samples = out
}

func echo(clip *Clip) {
	offset := int(echoDelay.Seconds()*float64(clip.SampleRate)) * clip.Channels
	if offset <= 0 || offset >= len(clip.Samples) {
		return
	}

	dry := append([]int16(nil), clip.Samples...)
	for i := offset; i < len(clip.Samples); i++ {
		clip.Samples[i] = clamp(float64(dry[i]) + echoDecay*float64(dry[i-offset]))
	}
}

func compress(clip *Clip) {
	knee := compressKnee * fullScale

	for i, sample := range clip.Samples {
		magnitude := math.Abs(float64(sample))
		if magnitude <= knee {
			continue
		}

		squashed := knee + (magnitude-knee)/compressRatio
		clip.Samples[i] = clamp(math.Copysign(squashed, float64(sample)))
	}
}

func normalize(clip *Clip) {
	var peak float64

	for _, sample := range clip.Samples {
		peak = math.Max(peak, math.Abs(float64(sample)))
	}

	if peak == 0 {
		return
	}

	gain := normalizeCeiling * fullScale / peak
	for i, sample := range clip.Samples {
		clip.Samples[i] = clamp(float64(sample) * gain)
	}
}

func fadeFrames(clip *Clip) int {
	frames := int(maxFade.Seconds() * float64(clip.SampleRate))

	return min(frames, clip.Frames()/2)
}

func fadeIn(clip *Clip) {
	frames := fadeFrames(clip)

	for frame := range frames {
		gain := float64(frame) / float64(frames)
		scaleFrame(clip, frame, gain)
	}
}

func fadeOut(clip *Clip) {
	frames := fadeFrames(clip)
	total := clip.Frames()

	for step := range frames {
		gain := float64(step) / float64(frames)
		scaleFrame(clip, total-1-step, gain)
	}
}

func scaleFrame(clip *Clip, frame int, gain float64) {
	for ch := range clip.Channels {
		index := frame*clip.Channels + ch
		clip.Samples[index] = clamp(float64(clip.Samples[index]) * gain)
	}
}

func clamp(value float64) int16 {
	switch {
	case value > math.MaxInt16:
		return math.MaxInt16
	case value < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(value))
	}
}

package audio

import (
	"math"
	"time"
)

const toneAmplitude = 0.3

// Tone returns a mono sine clip of the given length and frequency at
// DEFAULT_SAMPLE_RATE. It stands in for speech where no synthesizer runs.
func Tone(duration time.Duration, frequency float64) *Clip {
	frames := int(duration.Seconds() * DEFAULT_SAMPLE_RATE)
	samples := make([]int16, frames)

	for i := range samples {
		phase := 2 * math.Pi * frequency * float64(i) / DEFAULT_SAMPLE_RATE
		samples[i] = clamp(toneAmplitude * fullScale * math.Sin(phase))
	}

	return &Clip{
		SampleRate: DEFAULT_SAMPLE_RATE,
		Channels:   DEFAULT_CHANNELS,
		Samples:    samples,
	}
}

// Silence returns a mono clip of zero samples.
func Silence(duration time.Duration) *Clip {
	return &Clip{
		SampleRate: DEFAULT_SAMPLE_RATE,
		Channels:   DEFAULT_CHANNELS,
		Samples:    make([]int16, int(duration.Seconds()*DEFAULT_SAMPLE_RATE)),
	}
}

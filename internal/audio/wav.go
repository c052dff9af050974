// Package audio decodes, post-processes and stores the narrated audio. It
// works on 16-bit PCM WAV, the format every speech adapter returns.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Format limits accepted by Decode.
const (
	DEFAULT_SAMPLE_RATE = 22050
	DEFAULT_CHANNELS    = 1
	BIT_DEPTH_16        = 16
	MAX_SAMPLE_RATE     = 192000
	MAX_CHANNELS        = 8
)

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
	wavHeaderSize   = 44
	formatPCM       = 1
	bytesPerSample  = 2
)

var (
	// ErrEmptyAudio is returned for a zero-length buffer or audio without samples.
	ErrEmptyAudio = errors.New("audio buffer is empty")
	// ErrMalformedWAV is returned when the RIFF structure cannot be read.
	ErrMalformedWAV = errors.New("malformed WAV data")
	// ErrUnsupportedFormat is returned for anything but 16-bit PCM.
	ErrUnsupportedFormat = errors.New("unsupported WAV format")
)

// Clip is decoded PCM audio. Samples are interleaved by channel.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames is the number of sample frames in the clip.
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}

	return len(c.Samples) / c.Channels
}

// Duration is frames divided by the sample rate.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}

	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// Decode parses a RIFF/WAVE buffer holding 16-bit PCM.
func Decode(data []byte) (*Clip, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	if len(data) < riffHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrMalformedWAV)
	}

	var (
		clip     Clip
		haveFmt  bool
		haveData bool
	)

	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(data) && !haveData {
		chunkID := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		if size < 0 || body+size > len(data) {
			return nil, fmt.Errorf("%w: chunk %q overruns buffer", ErrMalformedWAV, chunkID)
		}

		switch chunkID {
		case "fmt ":
			fmtErr := readFormat(data[body:body+size], &clip)
			if fmtErr != nil {
				return nil, fmtErr
			}

			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformedWAV)
			}

			clip.Samples = readSamples(data[body : body+size])
			haveData = true
		}

		// Chunks are word aligned.
		offset = body + size + size%2
	}

	if !haveFmt || !haveData {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrMalformedWAV)
	}

	return &clip, nil
}

func readFormat(chunk []byte, clip *Clip) error {
	if len(chunk) < fmtChunkMinSize {
		return fmt.Errorf("%w: fmt chunk too short", ErrMalformedWAV)
	}

	format := binary.LittleEndian.Uint16(chunk[0:2])
	channels := int(binary.LittleEndian.Uint16(chunk[2:4]))
	sampleRate := int(binary.LittleEndian.Uint32(chunk[4:8]))
	bitDepth := int(binary.LittleEndian.Uint16(chunk[14:16]))

	switch {
	case format != formatPCM:
		return fmt.Errorf("%w: format tag %d is not PCM", ErrUnsupportedFormat, format)
	case bitDepth != BIT_DEPTH_16:
		return fmt.Errorf("%w: bit depth %d, want 16", ErrUnsupportedFormat, bitDepth)
	case channels <= 0 || channels > MAX_CHANNELS:
		return fmt.Errorf("%w: channels must be between 1 and %d", ErrUnsupportedFormat, MAX_CHANNELS)
	case sampleRate <= 0 || sampleRate > MAX_SAMPLE_RATE:
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz", ErrUnsupportedFormat, MAX_SAMPLE_RATE)
	}

	clip.Channels = channels
	clip.SampleRate = sampleRate

	return nil
}

func readSamples(chunk []byte) []int16 {
	samples := make([]int16, len(chunk)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(chunk[i*bytesPerSample:]))
	}

	return samples
}

// Encode writes the clip as a canonical 44-byte-header WAV file.
func Encode(clip *Clip) []byte {
	dataSize := len(clip.Samples) * bytesPerSample
	blockAlign := clip.Channels * bytesPerSample

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + dataSize)

	buf.WriteString("RIFF")
	writeUint32(&buf, uint32(wavHeaderSize-chunkHeaderSize+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeUint32(&buf, fmtChunkMinSize)
	writeUint16(&buf, formatPCM)
	writeUint16(&buf, uint16(clip.Channels))
	writeUint32(&buf, uint32(clip.SampleRate))
	writeUint32(&buf, uint32(clip.SampleRate*blockAlign))
	writeUint16(&buf, uint16(blockAlign))
	writeUint16(&buf, BIT_DEPTH_16)

	buf.WriteString("data")
	writeUint32(&buf, uint32(dataSize))

	sample := make([]byte, bytesPerSample)
	for _, value := range clip.Samples {
		binary.LittleEndian.PutUint16(sample, uint16(value))
		buf.Write(sample)
	}

	return buf.Bytes()
}

func writeUint16(buf *bytes.Buffer, value uint16) {
	var raw [2]byte
	binary.LittleEndian.PutUint16(raw[:], value)
	buf.Write(raw[:])
}

func writeUint32(buf *bytes.Buffer, value uint32) {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], value)
	buf.Write(raw[:])
}

package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/narration-service/internal/core"
)

const opAssemble = "assemble"

// ErrNoStore is returned when an assembler is built without storage.
var ErrNoStore = errors.New("audio assembler requires an object store")

// Assembler applies the requested effects and writes the final artifact to
// an object store.
type Assembler struct {
	store core.ObjectStore
}

// NewAssembler creates an assembler backed by store.
func NewAssembler(store core.ObjectStore) (*Assembler, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	return &Assembler{store: store}, nil
}

// ArtifactKey is the storage key of a job's final audio.
func ArtifactKey(jobID string) string {
	return jobID + ".wav"
}

// Assemble decodes wav, applies effects in ApplyOrder, encodes the result and
// uploads it under ArtifactKey(jobID), replacing any earlier object. Decode
// faults, audio without frames and effect faults are AudioAssemblyError;
// upload faults are transient.
func (a *Assembler) Assemble(ctx context.Context, jobID string, wav []byte, effects []core.Effect) (core.Artifact, error) {
	clip, err := Decode(wav)
	if err != nil {
		return core.Artifact{}, core.NewError(core.KindAudioAssembly, opAssemble, err)
	}

	if clip.Frames() == 0 {
		return core.Artifact{}, core.NewError(core.KindAudioAssembly, opAssemble,
			fmt.Errorf("%w: no sample frames", ErrEmptyAudio))
	}

	effectsErr := ApplyEffects(clip, effects)
	if effectsErr != nil {
		return core.Artifact{}, core.NewError(core.KindAudioAssembly, opAssemble, effectsErr)
	}

	encoded := Encode(clip)
	key := ArtifactKey(jobID)

	uploadErr := a.store.Upload(ctx, key, encoded)
	if uploadErr != nil {
		return core.Artifact{}, core.NewError(core.KindTransientService, opAssemble,
			fmt.Errorf("failed to upload artifact %s: %w", key, uploadErr))
	}

	return core.Artifact{
		Key:       key,
		Duration:  clip.Duration(),
		SizeBytes: int64(len(encoded)),
	}, nil
}

// Package core_test tests error classification.
package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestError_MatchesKindSentinel(t *testing.T) {
	t.Parallel()

	err := core.NewError(core.KindNotFound, "status", errBoom)

	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, core.ErrNotReady)
	assert.Equal(t, "NotFound: status: boom", err.Error())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want core.Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "classified", err: core.NewError(core.KindAudioAssembly, "assemble", errBoom), want: core.KindAudioAssembly},
		{
			name: "wrapped classified",
			err:  fmt.Errorf("outer: %w", core.NewError(core.KindTransientService, "speech", errBoom)),
			want: core.KindTransientService,
		},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: core.KindTransientService},
		{name: "unclassified", err: errBoom, want: core.KindPermanentService},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, testCase.want, core.KindOf(testCase.err))
		})
	}
}

func TestClassify_PreservesExistingKind(t *testing.T) {
	t.Parallel()

	original := core.Errorf(core.KindInvalidInput, "submit", "text is %s", "empty")
	classified := core.Classify("other", fmt.Errorf("wrap: %w", original))

	require.NotNil(t, classified)
	assert.Same(t, original, classified)
	assert.Nil(t, core.Classify("op", nil))
	assert.True(t, core.IsTransient(core.Classify("op", context.DeadlineExceeded)))
}

func TestOptions_CloneIsDeep(t *testing.T) {
	t.Parallel()

	opts := core.Options{Tone: "dramatic", Effects: []core.Effect{core.EffectNormalize}}
	clone := opts.Clone()
	clone.Effects[0] = core.EffectEcho

	assert.Equal(t, core.EffectNormalize, opts.Effects[0])
}

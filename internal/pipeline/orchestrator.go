// Package pipeline runs one narration job through the fixed stage sequence
// Transform, Enhance, AnalyzeEmotion, Synthesize and PostProcess.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/adapters"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/job"
	"github.com/book-expert/narration-service/internal/retry"
	"github.com/book-expert/narration-service/internal/textprep"
)

var (
	// ErrMissingAdapter is returned when an adapter set is incomplete.
	ErrMissingAdapter = errors.New("pipeline requires every adapter")
	// ErrMissingAssembler is returned when no assembler is provided.
	ErrMissingAssembler = errors.New("pipeline requires an audio assembler")
)

// Assembler turns raw synthesized audio into a stored artifact.
type Assembler interface {
	Assemble(ctx context.Context, jobID string, wav []byte, effects []core.Effect) (core.Artifact, error)
}

// Policies holds one retry policy per stage.
type Policies struct {
	Transform      retry.Policy
	Enhance        retry.Policy
	AnalyzeEmotion retry.Policy
	Synthesize     retry.Policy
	PostProcess    retry.Policy
}

// UniformPolicies applies the same policy to every stage.
func UniformPolicies(policy retry.Policy) Policies {
	return Policies{
		Transform:      policy,
		Enhance:        policy,
		AnalyzeEmotion: policy,
		Synthesize:     policy,
		PostProcess:    policy,
	}
}

// Settings configures an Orchestrator.
type Settings struct {
	Policies     Policies
	DefaultVoice string
}

// payload is the state threaded between the stages of one run.
type payload struct {
	text    string
	emotion core.EmotionProfile
	audio   []byte
	result  job.Result
}

type stage struct {
	name  job.Stage
	state job.State
	run   func(ctx context.Context, snapshot *job.Job, data *payload) (retry.Outcome, error)
}

// Orchestrator drives claimed jobs through the stages and records every
// transition in the job store.
type Orchestrator struct {
	store        *job.Store
	adapters     core.Adapters
	assembler    Assembler
	normalizer   *textprep.Normalizer
	policies     Policies
	defaultVoice string
	log          *logger.Logger
	stages       []stage
}

// New creates an Orchestrator.
func New(
	store *job.Store,
	set core.Adapters,
	assembler Assembler,
	settings Settings,
	log *logger.Logger,
) (*Orchestrator, error) {
	if set.Transformer == nil || set.Enhancer == nil || set.Analyzer == nil || set.Synthesizer == nil {
		return nil, ErrMissingAdapter
	}

	if assembler == nil {
		return nil, ErrMissingAssembler
	}

	policies := settings.Policies
	for _, policy := range []retry.Policy{
		policies.Transform, policies.Enhance, policies.AnalyzeEmotion, policies.Synthesize, policies.PostProcess,
	} {
		err := policy.Validate()
		if err != nil {
			return nil, err
		}
	}

	orchestrator := &Orchestrator{
		store:        store,
		adapters:     set,
		assembler:    assembler,
		normalizer:   textprep.NewNormalizer(),
		policies:     settings.Policies,
		defaultVoice: settings.DefaultVoice,
		log:          log,
	}

	orchestrator.stages = []stage{
		{name: job.StageTransform, state: job.StateTransforming, run: orchestrator.transform},
		{name: job.StageEnhance, state: job.StateEnhancing, run: orchestrator.enhance},
		{name: job.StageAnalyzeEmotion, state: job.StateAnalyzingEmotion, run: orchestrator.analyze},
		{name: job.StageSynthesize, state: job.StateSynthesizing, run: orchestrator.synthesize},
		{name: job.StagePostProcess, state: job.StatePostProcessing, run: orchestrator.postProcess},
	}

	return orchestrator, nil
}

// Run executes every stage of a claimed job until it reaches a terminal
// state. Stage failures are recorded on the job, not returned; the returned
// error reports only job store faults.
func (o *Orchestrator) Run(ctx context.Context, claimed job.Job) error {
	data := &payload{text: claimed.InputText}

	if o.cancelRequested(claimed.ID) {
		return o.cancel(claimed.ID)
	}

	err := o.store.Transition(claimed.ID, job.StateTransforming, nil)
	if err != nil {
		return o.storeError(claimed.ID, err)
	}

	for index, current := range o.stages {
		if index > 0 && o.cancelRequested(claimed.ID) {
			return o.cancel(claimed.ID)
		}

		started := time.Now()
		outcome, stageErr := current.run(ctx, &claimed, data)
		entry := job.StageEntry{
			Stage:        current.name,
			Outcome:      job.OutcomeSucceeded,
			Duration:     time.Since(started),
			FallbackUsed: outcome.FallbackUsed,
			Attempts:     outcome.Attempts,
		}

		if stageErr != nil {
			return o.fail(ctx, claimed.ID, entry, stageErr)
		}

		if outcome.FallbackUsed {
			entry.Outcome = job.OutcomeFallback
			o.log.Warn("Job %s: stage %s used its fallback after %d attempt(s): %v",
				claimed.ID, current.name, outcome.Attempts, outcome.LastErr)
		}

		o.logEntry(claimed.ID, entry)

		if index == len(o.stages)-1 {
			err = o.store.Complete(claimed.ID, entry, data.result)
		} else {
			err = o.store.Transition(claimed.ID, o.stages[index+1].state, &entry)
		}

		if err != nil {
			return o.storeError(claimed.ID, err)
		}
	}

	o.log.Info("Job %s completed: artifact %s (%s, %d bytes)",
		claimed.ID, data.result.ArtifactKey, data.result.Duration, data.result.SizeBytes)

	return nil
}

func (o *Orchestrator) transform(ctx context.Context, snapshot *job.Job, data *payload) (retry.Outcome, error) {
	input := data.text

	text, outcome, err := retry.Do(ctx, o.policies.Transform, string(job.StageTransform),
		func(ctx context.Context) (string, error) {
			return o.adapters.Transformer.Transform(ctx, core.TransformRequest{Text: input, Tone: snapshot.Options.Tone})
		},
		func() string { return input },
	)
	if err != nil {
		return outcome, err
	}

	data.text = text

	return outcome, nil
}

func (o *Orchestrator) enhance(ctx context.Context, snapshot *job.Job, data *payload) (retry.Outcome, error) {
	input := data.text
	language := snapshot.Options.Language

	text, outcome, err := retry.Do(ctx, o.policies.Enhance, string(job.StageEnhance),
		func(ctx context.Context) (string, error) {
			return o.adapters.Enhancer.Enhance(ctx, core.EnhanceRequest{Text: input, Language: language})
		},
		func() string { return o.normalizer.Normalize(input, language) },
	)
	if err != nil {
		return outcome, err
	}

	data.text = text

	return outcome, nil
}

func (o *Orchestrator) analyze(ctx context.Context, _ *job.Job, data *payload) (retry.Outcome, error) {
	input := data.text

	profile, outcome, err := retry.Do(ctx, o.policies.AnalyzeEmotion, string(job.StageAnalyzeEmotion),
		func(ctx context.Context) (core.EmotionProfile, error) {
			return o.adapters.Analyzer.Analyze(ctx, input)
		},
		adapters.DefaultProfile,
	)
	if err != nil {
		return outcome, err
	}

	data.emotion = profile

	return outcome, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, snapshot *job.Job, data *payload) (retry.Outcome, error) {
	request := core.SpeechRequest{
		Text:     data.text,
		Language: snapshot.Options.Language,
		Voice:    o.voiceFor(snapshot.Options, data.emotion),
		Emotion:  data.emotion,
	}

	wav, outcome, err := retry.Do(ctx, o.policies.Synthesize, string(job.StageSynthesize),
		func(ctx context.Context) ([]byte, error) {
			return o.adapters.Synthesizer.Synthesize(ctx, request)
		},
		nil,
	)
	if err != nil {
		return outcome, err
	}

	data.audio = wav

	return outcome, nil
}

func (o *Orchestrator) postProcess(ctx context.Context, snapshot *job.Job, data *payload) (retry.Outcome, error) {
	artifact, outcome, err := retry.Do(ctx, o.policies.PostProcess, string(job.StagePostProcess),
		func(ctx context.Context) (core.Artifact, error) {
			return o.assembler.Assemble(ctx, snapshot.ID, data.audio, snapshot.Options.Effects)
		},
		nil,
	)
	if err != nil {
		return outcome, err
	}

	data.audio = nil
	data.result = job.Result{
		ArtifactKey: artifact.Key,
		Duration:    artifact.Duration,
		SizeBytes:   artifact.SizeBytes,
	}

	return outcome, nil
}

// voiceFor picks the caller's voice, then the analysis recommendation, then
// the configured default.
func (o *Orchestrator) voiceFor(opts core.Options, profile core.EmotionProfile) string {
	switch {
	case opts.Voice != "":
		return opts.Voice
	case profile.RecommendedVoice != "":
		return profile.RecommendedVoice
	default:
		return o.defaultVoice
	}
}

func (o *Orchestrator) cancelRequested(id string) bool {
	return o.store.CancelRequested(id)
}

func (o *Orchestrator) cancel(id string) error {
	err := o.store.MarkCancelled(id)
	if err != nil {
		return o.storeError(id, err)
	}

	o.log.Info("Job %s cancelled at a stage boundary", id)

	return nil
}

// fail records a stage failure. A run interrupted by shutdown is cancelled
// instead, since the failure says nothing about the job.
func (o *Orchestrator) fail(ctx context.Context, id string, entry job.StageEntry, stageErr error) error {
	if ctx.Err() != nil {
		o.log.Warn("Job %s interrupted during stage %s: %v", id, entry.Stage, stageErr)

		return o.cancel(id)
	}

	classified := core.Classify(string(entry.Stage), stageErr)
	entry.Outcome = job.OutcomeFailed
	o.logEntry(id, entry)

	err := o.store.Fail(id, &entry, job.Failure{
		Kind:    classified.Kind,
		Message: classified.Err.Error(),
		Stage:   entry.Stage,
	})
	if err != nil {
		return o.storeError(id, err)
	}

	o.log.Error("Job %s failed at stage %s: %v", id, entry.Stage, classified)

	return nil
}

func (o *Orchestrator) logEntry(id string, entry job.StageEntry) {
	o.log.Info("Job %s: stage=%s outcome=%s attempts=%d fallback=%t duration=%s",
		id, entry.Stage, entry.Outcome, entry.Attempts, entry.FallbackUsed, entry.Duration)
}

// storeError swallows the expected race with a job that went terminal
// underneath the run, e.g. a queued cancellation.
func (o *Orchestrator) storeError(id string, err error) error {
	if errors.Is(err, job.ErrTerminal) {
		o.log.Info("Job %s reached a terminal state elsewhere; halting run", id)

		return nil
	}

	return fmt.Errorf("failed to update job %s: %w", id, err)
}

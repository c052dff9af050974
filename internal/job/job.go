// Package job holds the narration job record, its state machine and the
// in-memory store that is the only shared mutable state of the pipeline.
package job

import (
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

// State is the lifecycle position of a job.
type State string

const (
	StateQueued           State = "Queued"
	StateTransforming     State = "Transforming"
	StateEnhancing        State = "Enhancing"
	StateAnalyzingEmotion State = "AnalyzingEmotion"
	StateSynthesizing     State = "Synthesizing"
	StatePostProcessing   State = "PostProcessing"
	StateCompleted        State = "Completed"
	StateFailed           State = "Failed"
	StateCancelled        State = "Cancelled"
)

// order gives the position of each non-terminal state and Completed.
var order = map[State]int{
	StateQueued:           0,
	StateTransforming:     1,
	StateEnhancing:        2,
	StateAnalyzingEmotion: 3,
	StateSynthesizing:     4,
	StatePostProcessing:   5,
	StateCompleted:        6,
}

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from -> to is a legal edge: one step forward
// along the stage order, or into Failed/Cancelled from any non-terminal state.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}

	if to == StateFailed || to == StateCancelled {
		return true
	}

	fromPos, okFrom := order[from]
	toPos, okTo := order[to]

	return okFrom && okTo && toPos == fromPos+1
}

// Stage names one unit of the processing sequence.
type Stage string

const (
	StageTransform      Stage = "Transform"
	StageEnhance        Stage = "Enhance"
	StageAnalyzeEmotion Stage = "AnalyzeEmotion"
	StageSynthesize     Stage = "Synthesize"
	StagePostProcess    Stage = "PostProcess"
)

// Outcome is the result of one stage.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFallback  Outcome = "fallback"
	OutcomeFailed    Outcome = "failed"
)

// StageEntry is one append-only stage log record.
type StageEntry struct {
	Stage        Stage         `json:"stage"`
	Outcome      Outcome       `json:"outcome"`
	Duration     time.Duration `json:"duration"`
	FallbackUsed bool          `json:"fallback_used"`
	Attempts     int           `json:"attempts"`
}

// Result is populated only for Completed jobs.
type Result struct {
	ArtifactKey string        `json:"artifact_key"`
	Duration    time.Duration `json:"duration"`
	SizeBytes   int64         `json:"size_bytes"`
}

// Failure is populated only for Failed jobs.
type Failure struct {
	Kind    core.Kind `json:"kind"`
	Message string    `json:"message"`
	Stage   Stage     `json:"stage,omitempty"`
}

// Err converts the stored failure back into a classified error.
func (f *Failure) Err() error {
	return core.Errorf(f.Kind, string(f.Stage), "%s", f.Message)
}

// Job is a snapshot of a narration job. Values returned by the store are
// deep copies and never alias store memory.
type Job struct {
	ID        string       `json:"id"`
	InputText string       `json:"input_text"`
	Options   core.Options `json:"options"`
	State     State        `json:"state"`
	StageLog  []StageEntry `json:"stage_log"`
	Result    *Result      `json:"result,omitempty"`
	Error     *Failure     `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// New creates a Queued job.
func New(id, text string, opts core.Options, now time.Time) Job {
	return Job{
		ID:        id,
		InputText: text,
		Options:   opts.Clone(),
		State:     StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsDone reports whether the job reached a terminal state.
func (j *Job) IsDone() bool {
	return j.State.IsTerminal()
}

// Clone returns a deep copy.
func (j *Job) Clone() Job {
	clone := *j
	clone.Options = j.Options.Clone()

	if j.StageLog != nil {
		clone.StageLog = append([]StageEntry(nil), j.StageLog...)
	}

	if j.Result != nil {
		result := *j.Result
		clone.Result = &result
	}

	if j.Error != nil {
		failure := *j.Error
		clone.Error = &failure
	}

	return clone
}

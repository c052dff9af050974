// Package manager is the entry point of the narration pipeline: it validates
// submissions, queues jobs for a fixed pool of workers and answers status,
// result and cancellation requests.
package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/job"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

const (
	opSubmit   = "submit"
	opStatus   = "status"
	opResult   = "result"
	opCancel   = "cancel"
	opDelete   = "delete"
	opArtifact = "artifact"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("manager already started")
	// ErrInvalidSettings is returned when the manager cannot run with the given settings.
	ErrInvalidSettings = errors.New("invalid manager settings")
	// ErrStopped is returned by Submit once the manager has stopped.
	ErrStopped = errors.New("manager is stopped")
)

// Runner executes a claimed job to a terminal state.
type Runner interface {
	Run(ctx context.Context, claimed job.Job) error
}

// Archive keeps terminal job snapshots beyond in-memory retention.
type Archive interface {
	Save(ctx context.Context, snapshot job.Job) error
	Load(ctx context.Context, id string) (job.Job, error)
	Delete(ctx context.Context, id string) error
}

// Settings holds the submission limits and worker pool parameters.
type Settings struct {
	MaxInputLength     int
	Workers            int
	SupportedTones     []string
	SupportedVoices    []string
	SupportedEffects   []string
	SupportedLanguages []string
	DefaultTone        string
	DefaultLanguage    string
	Retention          time.Duration
	CleanupSchedule    string
}

// SettingsFromConfig maps the pipeline configuration section onto Settings.
func SettingsFromConfig(cfg config.PipelineConfig) Settings {
	return Settings{
		MaxInputLength:     cfg.MaxInputLength,
		Workers:            cfg.WorkerPoolSize,
		SupportedTones:     cfg.SupportedTones,
		SupportedVoices:    cfg.SupportedVoices,
		SupportedEffects:   cfg.SupportedEffects,
		SupportedLanguages: cfg.SupportedLanguages,
		DefaultTone:        cfg.DefaultTone,
		DefaultLanguage:    cfg.DefaultLanguage,
		Retention:          cfg.Retention(),
		CleanupSchedule:    cfg.CleanupSchedule,
	}
}

// Manager owns the job queue and the worker pool.
type Manager struct {
	settings  Settings
	store     *job.Store
	runner    Runner
	artifacts core.ObjectStore
	archive   Archive
	log       *logger.Logger
	queue     *fifo
	scheduler *cron.Cron

	mu        sync.Mutex
	started   bool
	stopped   bool
	cancelRun context.CancelFunc
	workers   sync.WaitGroup
}

// New creates a Manager. archive may be nil.
func New(
	settings Settings,
	store *job.Store,
	runner Runner,
	artifacts core.ObjectStore,
	archive Archive,
	log *logger.Logger,
) (*Manager, error) {
	if settings.Workers <= 0 || settings.MaxInputLength <= 0 {
		return nil, fmt.Errorf("%w: workers and max input length must be positive", ErrInvalidSettings)
	}

	if store == nil || runner == nil || artifacts == nil {
		return nil, fmt.Errorf("%w: store, runner and artifact storage are required", ErrInvalidSettings)
	}

	manager := &Manager{
		settings:  settings,
		store:     store,
		runner:    runner,
		artifacts: artifacts,
		archive:   archive,
		log:       log,
		queue:     newFIFO(),
	}

	if settings.CleanupSchedule != "" && settings.Retention > 0 {
		manager.scheduler = cron.New()

		_, err := manager.scheduler.AddFunc(settings.CleanupSchedule, func() {
			manager.Sweep(time.Now())
		})
		if err != nil {
			return nil, fmt.Errorf("%w: cleanup schedule %q: %w", ErrInvalidSettings, settings.CleanupSchedule, err)
		}
	}

	return manager, nil
}

// ArchiveHook returns a job store hook that saves every terminal job to archive.
func ArchiveHook(archive Archive, log *logger.Logger) job.TerminalHook {
	return func(snapshot job.Job) {
		err := archive.Save(context.Background(), snapshot)
		if err != nil {
			log.Error("Failed to archive job %s: %v", snapshot.ID, err)
		}
	}
}

// Start launches the worker pool and the retention schedule. Workers stop
// when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancelRun = cancel

	for worker := range m.settings.Workers {
		m.workers.Add(1)

		go m.work(runCtx, worker)
	}

	go func() {
		<-runCtx.Done()
		m.closeQueue()
	}()

	if m.scheduler != nil {
		m.scheduler.Start()
	}

	m.log.Info("Job manager started with %d worker(s)", m.settings.Workers)

	return nil
}

// Stop closes the queue, cancels the jobs still waiting in it and waits for
// in-flight jobs. When ctx expires first, running jobs are interrupted and
// end Cancelled. Submit fails with ErrStopped afterwards.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancelRun
	m.mu.Unlock()

	m.closeQueue()

	if m.scheduler != nil {
		<-m.scheduler.Stop().Done()
	}

	done := make(chan struct{})

	go func() {
		m.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}

		<-done
		m.log.Warn("Job manager stop deadline passed; in-flight jobs were interrupted")
	}

	if cancel != nil {
		cancel()
	}

	m.log.Info("Job manager stopped")

	return nil
}

// closeQueue refuses further submissions and cancels every job that no
// worker has popped yet.
func (m *Manager) closeQueue() {
	m.mu.Lock()
	m.stopped = true
	m.queue.close()
	pending := m.queue.drain()
	m.mu.Unlock()

	for _, id := range pending {
		_, err := m.store.RequestCancel(id)
		if err != nil {
			m.log.Warn("Failed to cancel queued job %s on shutdown: %v", id, err)

			continue
		}

		m.log.Info("Job %s cancelled on shutdown before a worker claimed it", id)
	}
}

func (m *Manager) work(ctx context.Context, worker int) {
	defer m.workers.Done()

	for {
		id, ok := m.queue.pop()
		if !ok {
			return
		}

		claimed, err := m.store.Claim(id)
		if err != nil {
			m.log.Info("Worker %d skipped job %s: %v", worker, id, err)

			continue
		}

		m.log.Info("Worker %d claimed job %s", worker, id)

		runErr := m.runner.Run(ctx, claimed)
		if runErr != nil {
			m.log.Error("Worker %d could not run job %s: %v", worker, id, runErr)
		}
	}
}

// Submit validates the request, records a Queued job and queues it. It never
// waits for a worker. After Stop it returns ErrStopped.
func (m *Manager) Submit(_ context.Context, text string, opts core.Options) (string, error) {
	normalized, err := m.validate(text, opts)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return "", ErrStopped
	}

	err = m.store.Insert(job.New(id, text, normalized, time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to record job %s: %w", id, err)
	}

	m.queue.push(id)
	m.log.Info("Job %s queued (tone=%s language=%s voice=%q effects=%v)",
		id, normalized.Tone, normalized.Language, normalized.Voice, normalized.Effects)

	return id, nil
}

// validate applies defaults and checks every option against the supported
// sets. The voice is left empty when unset so emotion analysis can pick one.
func (m *Manager) validate(text string, opts core.Options) (core.Options, error) {
	if strings.TrimSpace(text) == "" {
		return core.Options{}, core.Errorf(core.KindInvalidInput, opSubmit, "input text is empty")
	}

	length := utf8.RuneCountInString(text)
	if length > m.settings.MaxInputLength {
		return core.Options{}, core.Errorf(core.KindInvalidInput, opSubmit,
			"input text has %d characters, the maximum is %d", length, m.settings.MaxInputLength)
	}

	normalized := core.Options{
		Tone:     strings.ToLower(strings.TrimSpace(opts.Tone)),
		Language: strings.TrimSpace(opts.Language),
		Voice:    strings.TrimSpace(opts.Voice),
	}

	if normalized.Tone == "" {
		normalized.Tone = m.settings.DefaultTone
	}

	if !slices.Contains(m.settings.SupportedTones, normalized.Tone) {
		return core.Options{}, core.Errorf(core.KindInvalidInput, opSubmit, "unsupported tone %q", opts.Tone)
	}

	lang, err := m.matchLanguage(normalized.Language)
	if err != nil {
		return core.Options{}, err
	}

	normalized.Language = lang

	if normalized.Voice != "" && !slices.Contains(m.settings.SupportedVoices, normalized.Voice) {
		return core.Options{}, core.Errorf(core.KindInvalidInput, opSubmit, "unsupported voice %q", opts.Voice)
	}

	for _, effect := range opts.Effects {
		if !slices.Contains(m.settings.SupportedEffects, string(effect)) || !audio.Supported(effect) {
			return core.Options{}, core.Errorf(core.KindInvalidInput, opSubmit, "unsupported effect %q", effect)
		}

		if !slices.Contains(normalized.Effects, effect) {
			normalized.Effects = append(normalized.Effects, effect)
		}
	}

	return normalized, nil
}

// matchLanguage accepts a supported tag, or any BCP 47 tag whose base
// language is supported ("en-US" becomes "en").
func (m *Manager) matchLanguage(requested string) (string, error) {
	if requested == "" {
		return m.settings.DefaultLanguage, nil
	}

	tag, err := language.Parse(requested)
	if err != nil {
		return "", core.Errorf(core.KindInvalidInput, opSubmit, "invalid language %q: %v", requested, err)
	}

	if slices.Contains(m.settings.SupportedLanguages, tag.String()) {
		return tag.String(), nil
	}

	base, _ := tag.Base()
	if slices.Contains(m.settings.SupportedLanguages, base.String()) {
		return base.String(), nil
	}

	return "", core.Errorf(core.KindInvalidInput, opSubmit, "unsupported language %q", requested)
}

// Status returns a snapshot of the job, consulting the archive for jobs no
// longer held in memory.
func (m *Manager) Status(ctx context.Context, id string) (job.Job, error) {
	snapshot, err := m.store.Get(id)
	if err == nil {
		return snapshot, nil
	}

	if !errors.Is(err, core.ErrNotFound) || m.archive == nil {
		return job.Job{}, err
	}

	archived, archiveErr := m.archive.Load(ctx, id)
	if archiveErr != nil {
		if errors.Is(archiveErr, core.ErrNotFound) {
			return job.Job{}, core.Errorf(core.KindNotFound, opStatus, "job %q", id)
		}

		return job.Job{}, fmt.Errorf("failed to read archived job %s: %w", id, archiveErr)
	}

	return archived, nil
}

// Result returns the artifact of a Completed job, the stored failure of a
// Failed job, and NotReady otherwise.
func (m *Manager) Result(ctx context.Context, id string) (job.Result, error) {
	snapshot, err := m.Status(ctx, id)
	if err != nil {
		return job.Result{}, err
	}

	switch snapshot.State {
	case job.StateCompleted:
		return *snapshot.Result, nil
	case job.StateFailed:
		return job.Result{}, snapshot.Error.Err()
	default:
		return job.Result{}, core.Errorf(core.KindNotReady, opResult, "job %q is %s", id, snapshot.State)
	}
}

// Artifact downloads the audio of a Completed job.
func (m *Manager) Artifact(ctx context.Context, id string) ([]byte, error) {
	result, err := m.Result(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := m.artifacts.Download(ctx, result.ArtifactKey)
	if err != nil {
		return nil, core.NewError(core.KindNotFound, opArtifact,
			fmt.Errorf("failed to download artifact %s: %w", result.ArtifactKey, err))
	}

	return data, nil
}

// Cancel cancels a Queued job at once and asks a running job to stop at its
// next stage boundary. Terminal jobs are left as they are.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	state, err := m.store.RequestCancel(id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) && m.archive != nil {
			_, archiveErr := m.archive.Load(ctx, id)
			if archiveErr == nil {
				return nil
			}
		}

		return core.Errorf(core.KindNotFound, opCancel, "job %q", id)
	}

	m.log.Info("Cancellation requested for job %s (state %s)", id, state)

	return nil
}

// List returns snapshots of the jobs held in memory, oldest first.
func (m *Manager) List() []job.Job {
	return m.store.List()
}

// Delete removes a terminal job, its artifact and its archived snapshot.
func (m *Manager) Delete(ctx context.Context, id string) error {
	snapshot, err := m.Status(ctx, id)
	if err != nil {
		return err
	}

	if !snapshot.IsDone() {
		return core.Errorf(core.KindInvalidInput, opDelete, "job %q is %s; cancel it first", id, snapshot.State)
	}

	storeErr := m.store.Delete(id)
	if storeErr != nil && !errors.Is(storeErr, core.ErrNotFound) {
		return fmt.Errorf("failed to delete job %s: %w", id, storeErr)
	}

	if snapshot.Result != nil {
		err = m.artifacts.Delete(ctx, snapshot.Result.ArtifactKey)
		if err != nil {
			return fmt.Errorf("failed to delete artifact of job %s: %w", id, err)
		}
	}

	if m.archive != nil {
		err = m.archive.Delete(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to delete archived job %s: %w", id, err)
		}
	}

	m.log.Info("Job %s deleted", id)

	return nil
}

// Active reports how many jobs are claimed by a worker and not yet terminal.
func (m *Manager) Active() int {
	return m.store.Active()
}

// Queued reports how many ids wait for a worker.
func (m *Manager) Queued() int {
	return m.queue.len()
}

// Sweep evicts terminal jobs older than the retention window from memory.
func (m *Manager) Sweep(now time.Time) []string {
	if m.settings.Retention <= 0 {
		return nil
	}

	evicted := m.store.Evict(now.Add(-m.settings.Retention))
	if len(evicted) > 0 {
		m.log.Info("Evicted %d terminal job(s) older than %s", len(evicted), m.settings.Retention)
	}

	return evicted
}

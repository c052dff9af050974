// Package worker provides a NATS worker that turns text-processed events into
// narration jobs and answers with the finished audio key.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/job"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultJobTimeout   = 10 * time.Minute
	defaultDrainTimeout = 30 * time.Second
	drainPollInterval   = 10 * time.Millisecond
)

var (
	// ErrTextKeyEmpty indicates that the event names no text object.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrJobNotCompleted indicates that the job ended Failed or Cancelled.
	ErrJobNotCompleted = errors.New("narration job did not complete")
)

// JobService is the part of the job manager the worker drives.
type JobService interface {
	Submit(ctx context.Context, text string, opts core.Options) (string, error)
	Status(ctx context.Context, id string) (job.Job, error)
	Cancel(ctx context.Context, id string) error
}

// Config holds the worker's subjects and timing.
type Config struct {
	Subject      string
	ReplySubject string
	Tone         string
	PollInterval time.Duration
	JobTimeout   time.Duration
}

// NatsWorker listens for narration requests on a NATS subject.
type NatsWorker struct {
	natsConnection *nats.Conn
	cfg            Config
	store          core.ObjectStore
	jobs           JobService
	log            *logger.Logger
	baseCtx        context.Context

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	cfg Config,
	store core.ObjectStore,
	jobs JobService,
	log *logger.Logger,
) *NatsWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		cfg:            cfg,
		store:          store,
		jobs:           jobs,
		log:            log,
		baseCtx:        context.Background(),
	}
}

// Run starts the worker and blocks until ctx is cancelled. Requests still in
// flight are waited for after the subscription drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	w.baseCtx = ctx

	sub, err := w.natsConnection.Subscribe(w.cfg.Subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.cfg.Subject, err)
	}

	w.log.Info("Listening for narration requests on subject: %s", w.cfg.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr == nil {
		w.awaitDrain(sub)
	}

	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	w.inflight.Wait()

	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

// awaitDrain blocks until every pending message has been handed to
// handleMessage and the subscription is closed.
func (w *NatsWorker) awaitDrain(sub *nats.Subscription) {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	deadline := time.After(defaultDrainTimeout)

	for sub.IsValid() {
		select {
		case <-deadline:
			w.log.Warn("Subscription on %s did not drain within %s", w.cfg.Subject, defaultDrainTimeout)

			return
		case <-ticker.C:
		}
	}
}

// handleMessage hands each request to its own goroutine so a long job does
// not hold up the subscription. Messages arriving after Run has stopped
// waiting are dropped.
func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.log.Warn("Dropping narration request on %s received after shutdown", msg.Subject)

		return
	}

	w.inflight.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.inflight.Done()

		w.processMessage(msg)
	}()
}

func (w *NatsWorker) processMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(w.baseCtx, w.cfg.JobTimeout)
	defer cancel()

	event, err := w.parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processNarrationJob(ctx, event)
	if processErr != nil {
		w.log.Error("Failed to process narration job for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: event.Header.WorkflowID,
			EventID:    uuid.NewString(),
			UserID:     event.Header.UserID,
			TenantID:   event.Header.TenantID,
		},
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processNarrationJob downloads the text, submits a job and waits for it to
// finish. It returns the artifact key of the completed job.
func (w *NatsWorker) processNarrationJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	jobID, err := w.jobs.Submit(ctx, string(textData), core.Options{Tone: w.cfg.Tone, Voice: event.Voice})
	if err != nil {
		return "", fmt.Errorf("failed to submit narration job: %w", err)
	}

	w.log.Info("Workflow %s: page %d/%d queued as job %s",
		event.Header.WorkflowID, event.PageNumber, event.TotalPages, jobID)

	finished, err := w.awaitJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	if finished.State != job.StateCompleted {
		reason := "cancelled"
		if finished.Error != nil {
			reason = finished.Error.Err().Error()
		}

		return "", fmt.Errorf("%w: job %s is %s: %s", ErrJobNotCompleted, jobID, finished.State, reason)
	}

	return finished.Result.ArtifactKey, nil
}

// awaitJob polls the job until it is terminal. When ctx ends first the job is
// cancelled.
func (w *NatsWorker) awaitJob(ctx context.Context, jobID string) (job.Job, error) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		snapshot, err := w.jobs.Status(ctx, jobID)
		if err != nil {
			return job.Job{}, fmt.Errorf("failed to read status of job %s: %w", jobID, err)
		}

		if snapshot.IsDone() {
			return snapshot, nil
		}

		select {
		case <-ctx.Done():
			cancelErr := w.jobs.Cancel(context.WithoutCancel(ctx), jobID)
			if cancelErr != nil {
				w.log.Warn("Failed to cancel abandoned job %s: %v", jobID, cancelErr)
			}

			return job.Job{}, fmt.Errorf("stopped waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// publishReplyEvent responds to the request, or publishes to the reply
// subject when the message expects no response.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
	} else {
		err = w.natsConnection.Publish(w.cfg.ReplySubject, replyData)
	}

	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}

// main package for the narration-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/adapters"
	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/job"
	"github.com/book-expert/narration-service/internal/manager"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/book-expert/narration-service/internal/retry"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	healthCheckTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "narration-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// service is the wired set of long-running components.
type service struct {
	manager *manager.Manager
	worker  *worker.NatsWorker
}

// buildService wires storage, adapters, the pipeline, the job manager and
// the NATS intake from cfg.
func buildService(ctx context.Context, cfg *config.Config, natsConnection *nats.Conn, log *logger.Logger) (*service, error) {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	artifacts, err := newArtifactStore(cfg, jetstreamContext)
	if err != nil {
		return nil, err
	}

	archive, err := objectstore.NewJobArchive(jetstreamContext, cfg.NATS.JobArchiveBucket, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open job archive: %w", err)
	}

	store := job.NewStore(job.WithTerminalHook(manager.ArchiveHook(archive, log)))

	set, err := adapters.New(cfg.Services, log)
	if err != nil {
		return nil, fmt.Errorf("failed to build service adapters: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	unhealthy := set.CheckHealth(healthCtx, log)
	cancel()

	if unhealthy > 0 {
		log.Warn("%d model service(s) unhealthy at start-up; their stages will retry and fall back", unhealthy)
	}

	assembler, err := audio.NewAssembler(artifacts)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio assembler: %w", err)
	}

	orchestrator, err := pipeline.New(store, set.Adapters, assembler, pipeline.Settings{
		Policies: pipeline.UniformPolicies(retry.Policy{
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			BaseDelay:   cfg.Pipeline.BaseDelay(),
			MaxDelay:    cfg.Pipeline.MaxDelay(),
			Timeout:     cfg.Pipeline.TimeoutPerAttempt(),
		}),
		DefaultVoice: cfg.Pipeline.DefaultVoice,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	jobManager, err := manager.New(manager.SettingsFromConfig(cfg.Pipeline), store, orchestrator, artifacts, archive, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create job manager: %w", err)
	}

	intake := worker.NewNatsWorker(natsConnection, worker.Config{
		Subject:      cfg.NATS.TextProcessedSubject,
		ReplySubject: cfg.NATS.AudioChunkCreatedSubject,
		Tone:         cfg.Pipeline.DefaultTone,
	}, artifacts, jobManager, log)

	return &service{manager: jobManager, worker: intake}, nil
}

func newArtifactStore(cfg *config.Config, jetstreamContext nats.JetStreamContext) (core.ObjectStore, error) {
	if cfg.Storage.Backend == config.StorageFilesystem {
		store, err := objectstore.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open artifact directory: %w", err)
		}

		return store, nil
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact bucket: %w", err)
	}

	return store, nil
}

// serve runs the job manager and the intake worker until ctx is cancelled,
// then stops the manager within shutdownTimeout. Running jobs outlive ctx
// until that deadline.
func (s *service) serve(ctx context.Context) error {
	err := s.manager.Start(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to start job manager: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.worker.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()

		return s.manager.Stop(stopCtx)
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("service stopped with error: %w", err)
	}

	return nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	_ = bootstrapLog.Close()

	// 4. Connect to NATS and wire the pipeline
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		finalLog.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg, natsConnection, finalLog)
	if err != nil {
		finalLog.Error("Failed to initialize service: %v", err)

		return err
	}

	finalLog.System("Narration-Service initialized with %d worker(s). Listening for jobs on subject: %s",
		cfg.Pipeline.WorkerPoolSize, cfg.NATS.TextProcessedSubject)

	err = svc.serve(ctx)

	finalLog.System("Narration-Service shut down.")

	return err
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

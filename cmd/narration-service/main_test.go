package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_NarratesTextProcessedEvent(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	cfg := config.Default()
	cfg.NATS.URL = natsServer.ClientURL()
	cfg.Services.Mode = config.ModeLocal
	cfg.Services.SpeechMode = config.ModeLocal
	cfg.Pipeline.WorkerPoolSize = 2
	cfg.Pipeline.TimeoutPerAttemptSeconds = 5
	require.NoError(t, cfg.Validate())

	log, err := logger.New(t.TempDir(), "service-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc, err := buildService(ctx, cfg, natsConnection, log)
	require.NoError(t, err)

	served := make(chan error, 1)

	go func() {
		served <- svc.serve(ctx)
	}()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	bucket, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	require.NoError(t, err)
	require.NoError(t, bucket.Upload(ctx, "page-1.txt", []byte("The haunted house filled her with fear.")))

	eventData, err := json.Marshal(events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		TextKey:    "page-1.txt",
		PageNumber: 1,
		TotalPages: 1,
	})
	require.NoError(t, err)

	var reply *nats.Msg

	require.Eventually(t, func() bool {
		reply, err = natsConnection.Request(cfg.NATS.TextProcessedSubject, eventData, 5*time.Second)

		return err == nil
	}, 15*time.Second, 50*time.Millisecond)

	var replyEvent events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(reply.Data, &replyEvent))
	require.NotEmpty(t, replyEvent.AudioKey)

	wav, err := bucket.Download(ctx, replyEvent.AudioKey)
	require.NoError(t, err)

	clip, err := audio.Decode(wav)
	require.NoError(t, err)
	assert.Positive(t, clip.Duration())

	cancel()

	select {
	case serveErr := <-served:
		require.NoError(t, serveErr)
	case <-time.After(shutdownTimeout):
		t.Fatal("service did not stop")
	}
}

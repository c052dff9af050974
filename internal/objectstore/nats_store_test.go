// Package objectstore_test tests the NATS and filesystem object stores and
// the job archive.
package objectstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/job"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func newJetStream(t *testing.T) nats.JetStreamContext {
	t.Helper()

	natsServer, natsConnection := StartTestServer(t)
	t.Cleanup(natsServer.Shutdown)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	return jetstreamContext
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	jetstreamContext := newJetStream(t)

	store, err := objectstore.New(jetstreamContext, "test-bucket")
	require.NoError(t, err)

	ctx := context.Background()
	key := "my-test-object"
	uploadData := []byte("hello world, this is a test")

	require.NoError(t, store.Upload(ctx, key, uploadData))

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)

	require.NoError(t, store.Upload(ctx, key, []byte("replaced")))

	downloadData, err = store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), downloadData)
}

func TestNatsObjectStore_DeleteAndMissing(t *testing.T) {
	t.Parallel()

	jetstreamContext := newJetStream(t)

	store, err := objectstore.New(jetstreamContext, "delete-bucket")
	require.NoError(t, err)

	ctx := context.Background()

	_, err = store.Download(ctx, "absent")
	require.ErrorIs(t, err, objectstore.ErrNotFound)

	require.NoError(t, store.Upload(ctx, "job-1.wav", []byte("RIFF")))
	require.NoError(t, store.Delete(ctx, "job-1.wav"))
	require.NoError(t, store.Delete(ctx, "job-1.wav"), "deleting twice is not an error")

	_, err = store.Download(ctx, "job-1.wav")
	require.ErrorIs(t, err, objectstore.ErrNotFound)

	require.ErrorIs(t, store.Upload(ctx, "", []byte("x")), objectstore.ErrInvalidKey)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	jetstreamContext := newJetStream(t)
	ctx := context.Background()

	first, err := objectstore.New(jetstreamContext, "shared-bucket")
	require.NoError(t, err)
	require.NoError(t, first.Upload(ctx, "key", []byte("value")))

	second, err := objectstore.New(jetstreamContext, "shared-bucket")
	require.NoError(t, err)

	data, err := second.Download(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), data)
}

func TestJobArchive(t *testing.T) {
	t.Parallel()

	jetstreamContext := newJetStream(t)

	archive, err := objectstore.NewJobArchive(jetstreamContext, "JOBS", time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	snapshot := job.New("job-1", "Hello.", core.Options{Tone: "calming", Language: "en"}, created)
	snapshot.State = job.StateCompleted
	snapshot.StageLog = []job.StageEntry{
		{Stage: job.StageTransform, Outcome: job.OutcomeFallback, FallbackUsed: true, Attempts: 3, Duration: time.Second},
	}
	snapshot.Result = &job.Result{ArtifactKey: "job-1.wav", Duration: 2 * time.Second, SizeBytes: 88244}

	require.NoError(t, archive.Save(ctx, snapshot))

	loaded, err := archive.Load(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, snapshot.ID, loaded.ID)
	assert.Equal(t, snapshot.State, loaded.State)
	assert.Equal(t, snapshot.StageLog, loaded.StageLog)
	assert.Equal(t, snapshot.Result, loaded.Result)
	assert.True(t, snapshot.CreatedAt.Equal(loaded.CreatedAt))

	_, err = archive.Load(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, archive.Delete(ctx, "job-1"))
	require.NoError(t, archive.Delete(ctx, "job-1"))

	_, err = archive.Load(ctx, "job-1")
	require.ErrorIs(t, err, core.ErrNotFound)

	rebound, err := objectstore.NewJobArchive(jetstreamContext, "JOBS", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, rebound)
}

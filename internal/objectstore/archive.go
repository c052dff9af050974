package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/job"
	"github.com/nats-io/nats.go"
)

const opArchive = "archive"

// JobArchive keeps JSON snapshots of terminal jobs in a NATS key-value
// bucket so their status outlives in-memory retention.
type JobArchive struct {
	bucket string
	kv     nats.KeyValue
}

// NewJobArchive creates the bucket, or binds to it when it already exists.
// A zero ttl keeps snapshots forever.
func NewJobArchive(jetstreamContext nats.JetStreamContext, bucketName string, ttl time.Duration) (*JobArchive, error) {
	kv, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: "Terminal narration job snapshots.",
		TTL:         ttl,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create job archive bucket '%s': %w", bucketName, err)
		}

		kv, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing job archive bucket '%s': %w", bucketName, err)
		}
	}

	return &JobArchive{bucket: bucketName, kv: kv}, nil
}

// Save stores the snapshot under its job id, replacing an earlier one.
func (a *JobArchive) Save(_ context.Context, snapshot job.Job) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", snapshot.ID, err)
	}

	_, err = a.kv.Put(snapshot.ID, data)
	if err != nil {
		return fmt.Errorf("failed to archive job %s in bucket '%s': %w", snapshot.ID, a.bucket, err)
	}

	return nil
}

// Load returns the archived snapshot, or a NotFound error.
func (a *JobArchive) Load(_ context.Context, id string) (job.Job, error) {
	entry, err := a.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return job.Job{}, core.Errorf(core.KindNotFound, opArchive, "job %q", id)
		}

		return job.Job{}, fmt.Errorf("failed to load job %s from bucket '%s': %w", id, a.bucket, err)
	}

	var snapshot job.Job

	err = json.Unmarshal(entry.Value(), &snapshot)
	if err != nil {
		return job.Job{}, fmt.Errorf("failed to unmarshal archived job %s: %w", id, err)
	}

	return snapshot, nil
}

// Delete removes the snapshot. Missing ids are ignored.
func (a *JobArchive) Delete(_ context.Context, id string) error {
	err := a.kv.Delete(id)
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete job %s from bucket '%s': %w", id, a.bucket, err)
	}

	return nil
}

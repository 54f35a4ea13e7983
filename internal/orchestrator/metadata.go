package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/calebsch/vqhub/internal/store"
	"github.com/calebsch/vqhub/pkg/models"
)

const metadataPrefix = "jobs/"

func metadataKey(id string) string {
	return metadataPrefix + id + ".json"
}

// MetadataStore persists job records as JSON documents under jobs/{id}.json
// in the owning bucket. Writes are last-writer-wins; there is no optimistic
// concurrency control.
type MetadataStore struct {
	gateway store.Gateway
}

// NewMetadataStore creates a MetadataStore over the given gateway.
func NewMetadataStore(gw store.Gateway) *MetadataStore {
	return &MetadataStore{gateway: gw}
}

// Save serializes the job record, overwriting any prior version.
func (m *MetadataStore) Save(ctx context.Context, bucket string, job models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return m.gateway.PutObject(ctx, bucket, metadataKey(job.ID), body, "application/json")
}

// Load reads one job record. It fails soft: any retrieval or parse failure is
// reported as not-found so callers degrade to "job unknown" instead of a hard
// outage. Records written before the bucket field existed get it synthesized
// from the bucket they were loaded from.
func (m *MetadataStore) Load(ctx context.Context, bucket, id string) (models.Job, bool) {
	body, err := m.gateway.GetObject(ctx, bucket, metadataKey(id))
	if err != nil {
		return models.Job{}, false
	}

	var job models.Job
	if err := json.Unmarshal(body, &job); err != nil {
		slog.Warn("unparseable job metadata record", "bucket", bucket, "job_id", id, "error", err)
		return models.Job{}, false
	}
	if job.Bucket == "" {
		job.Bucket = bucket
	}
	return job, true
}

// List loads every record under the jobs/ prefix, newest first. Records that
// fail to parse are skipped, and an enumeration error yields the empty slice;
// listing never fails.
func (m *MetadataStore) List(ctx context.Context, bucket string) []models.Job {
	keys, err := m.gateway.ListObjects(ctx, bucket, metadataPrefix)
	if err != nil {
		slog.Warn("listing job metadata failed", "bucket", bucket, "error", err)
		return []models.Job{}
	}

	jobs := make([]models.Job, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, metadataPrefix), ".json")
		if job, ok := m.Load(ctx, bucket, id); ok {
			jobs = append(jobs, job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Delete removes one job record. Missing records are not an error.
func (m *MetadataStore) Delete(ctx context.Context, bucket, id string) error {
	return m.gateway.DeleteObject(ctx, bucket, metadataKey(id))
}

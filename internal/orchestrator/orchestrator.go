// Package orchestrator coordinates comparison jobs across three sources of
// truth: the in-memory registry, the metadata records persisted in object
// storage, and the remote runner's task status.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/calebsch/vqhub/internal/cache"
	"github.com/calebsch/vqhub/internal/runner"
	"github.com/calebsch/vqhub/internal/store"
	"github.com/calebsch/vqhub/internal/vmaf"
	"github.com/calebsch/vqhub/pkg/models"
)

// Sentinel errors surfaced to the API layer.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
)

const (
	defaultPollInterval = 5 * time.Second
	statusCacheTTL      = 30 * time.Minute
	resultsCacheTTL     = 10 * time.Minute
)

// CreateParams holds validated parameters for a new comparison job.
type CreateParams struct {
	Bucket       string
	ReferenceKey string
	DistortedKey string
	Folder       string
	Description  string
}

// JobResults is the parsed-results view of a job. Report is nil until the job
// completes and the raw report is retrievable.
type JobResults struct {
	JobID  string         `json:"job_id"`
	Status string         `json:"status"`
	Report *models.Report `json:"report,omitempty"`
}

// Options configures an Orchestrator.
type Options struct {
	// Service is the runner-side service name tasks are submitted to.
	Service string
	// PollInterval is the fixed delay between status polls.
	PollInterval time.Duration
	// TaskCredentials are handed to the runner so it can read the input
	// assets and write the report into the job's bucket.
	TaskCredentials map[string]string
}

// Orchestrator creates jobs, submits them to the runner, polls until a
// terminal status, extracts the primary score from the raw report, and keeps
// the registry and the metadata store consistent.
type Orchestrator struct {
	gateway      store.Gateway
	runner       runner.Client
	registry     *Registry
	meta         *MetadataStore
	cache        cache.Cache
	service      string
	pollInterval time.Duration
	credentials  map[string]string
}

// New creates a new Orchestrator.
func New(gw store.Gateway, rc runner.Client, reg *Registry, ca cache.Cache, opts Options) *Orchestrator {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Orchestrator{
		gateway:      gw,
		runner:       rc,
		registry:     reg,
		meta:         NewMetadataStore(gw),
		cache:        ca,
		service:      opts.Service,
		pollInterval: interval,
		credentials:  opts.TaskCredentials,
	}
}

// resultKey derives the deterministic key the job's normalized result pointer
// uses: {folder}/results/{id}.json, or results/{id}.json without a folder.
func resultKey(folder, id string) string {
	if folder == "" {
		return path.Join("results", id+".json")
	}
	return path.Join(folder, "results", id+".json")
}

// Create registers a new job at queued and dispatches submission plus polling
// in a background goroutine. The caller gets the job back immediately.
func (o *Orchestrator) Create(ctx context.Context, params CreateParams) (*models.Job, error) {
	if params.Bucket == "" || params.ReferenceKey == "" || params.DistortedKey == "" {
		return nil, fmt.Errorf("bucket, reference key and distorted key are required")
	}

	id := uuid.New().String()
	job := models.Job{
		ID:           id,
		Bucket:       params.Bucket,
		ReferenceKey: params.ReferenceKey,
		DistortedKey: params.DistortedKey,
		Folder:       params.Folder,
		Description:  params.Description,
		Status:       models.JobStatusQueued,
		ResultKey:    resultKey(params.Folder, id),
		CreatedAt:    time.Now().UTC(),
	}

	o.registry.Put(job)
	if err := o.meta.Save(ctx, job.Bucket, job); err != nil {
		o.registry.Remove(id)
		return nil, fmt.Errorf("persisting job: %w", err)
	}
	_ = o.cache.SetJobStatus(ctx, id, job.Status, statusCacheTTL)

	slog.Info("job created", "job_id", id, "bucket", job.Bucket,
		"reference", job.ReferenceKey, "distorted", job.DistortedKey)

	go o.launch(id)

	return &job, nil
}

// launch submits the job to the runner and starts the poll loop. It recovers
// from panics and always leaves the job in a terminal state on failure.
func (o *Orchestrator) launch(id string) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job launch", "error", r, "job_id", id)
			o.fail(ctx, id, fmt.Sprintf("panic: %v", r))
		}
	}()

	job, ok := o.transition(ctx, id, func(j *models.Job) {
		j.Status = models.JobStatusRunning
	})
	if !ok {
		return
	}

	token, err := o.runner.AccessToken(ctx, o.service)
	if err != nil {
		o.fail(ctx, id, fmt.Sprintf("acquiring access credential: %v", err))
		return
	}

	creds := make(map[string]string, len(o.credentials)+1)
	for k, v := range o.credentials {
		creds[k] = v
	}
	creds["bucket"] = job.Bucket

	externalName, err := o.runner.SubmitTask(ctx, o.service, token, runner.TaskSpec{
		Name:        "compare-" + id,
		Credentials: creds,
		Arguments:   []string{job.ReferenceKey, job.DistortedKey, job.ResultKey},
	})
	if err != nil {
		o.fail(ctx, id, fmt.Sprintf("submitting task: %v", err))
		return
	}

	// Persist the external name before polling starts so a concurrent status
	// query or a restart still has enough to keep tracking the task.
	if _, ok := o.transition(ctx, id, func(j *models.Job) {
		j.ExternalName = externalName
	}); !ok {
		return
	}

	slog.Info("task submitted", "job_id", id, "external_name", externalName)
	o.pollLoop(id, token)
}

// pollLoop queries the runner at a fixed interval until it observes a
// terminal status or the job disappears from the registry. One loop runs per
// job; loops never interact.
func (o *Orchestrator) pollLoop(id, token string) {
	ctx := context.Background()

	for {
		time.Sleep(o.pollInterval)

		job, ok := o.registry.Get(id)
		if !ok {
			slog.Info("job gone from registry, stopping poll", "job_id", id)
			return
		}
		if job.Terminal() {
			return
		}

		raw, err := o.runner.TaskStatus(ctx, o.service, job.ExternalName, token)
		if err != nil {
			if errors.Is(err, runner.ErrAuthFailure) {
				if fresh, terr := o.runner.AccessToken(ctx, o.service); terr == nil {
					token = fresh
				}
			}
			slog.Warn("polling task status failed", "job_id", id, "error", err)
			continue
		}

		switch runner.Normalize(raw) {
		case runner.StateCompleted:
			o.complete(ctx, id, raw)
			return
		case runner.StateFailed:
			o.fail(ctx, id, fmt.Sprintf("runner reported %s", raw))
			return
		case runner.StateRunning:
			if job.Status == models.JobStatusQueued || job.ExternalStatus != raw {
				o.transition(ctx, id, func(j *models.Job) {
					j.Status = models.JobStatusRunning
					j.ExternalStatus = raw
				})
			}
		default:
			// Unrecognized status, keep polling.
		}
	}
}

// complete marks the job completed and makes a best-effort attempt to extract
// the primary score. A report that has not landed yet is not an error; the
// score stays unset and the results endpoint retries on demand.
func (o *Orchestrator) complete(ctx context.Context, id, rawStatus string) {
	job, ok := o.registry.Get(id)
	if !ok {
		return
	}

	var score *float64
	if report, err := o.fetchReport(ctx, job); err != nil {
		slog.Warn("report not yet retrievable", "job_id", id, "error", err)
	} else {
		s := report.PrimaryScore
		score = &s
	}

	now := time.Now().UTC()
	o.transition(ctx, id, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.ExternalStatus = rawStatus
		j.CompletedAt = &now
		if score != nil {
			j.Score = score
		}
	})
	slog.Info("job completed", "job_id", id, "scored", score != nil)
}

// fail moves the job to the terminal failed state with a descriptive message.
func (o *Orchestrator) fail(ctx context.Context, id, msg string) {
	now := time.Now().UTC()
	if job, ok := o.transition(ctx, id, func(j *models.Job) {
		j.Status = models.JobStatusFailed
		j.ErrorMessage = msg
		j.CompletedAt = &now
	}); ok {
		slog.Error("job failed", "job_id", id, "bucket", job.Bucket, "error", msg)
	}
}

// transition applies fn to the registry entry atomically, then persists the
// result and mirrors the status into the cache. A persistence failure is
// logged but does not roll back the in-memory change; the next natural write
// retries.
func (o *Orchestrator) transition(ctx context.Context, id string, fn func(*models.Job)) (models.Job, bool) {
	job, ok := o.registry.Update(id, fn)
	if !ok {
		return models.Job{}, false
	}
	if err := o.meta.Save(ctx, job.Bucket, job); err != nil {
		slog.Warn("persisting job metadata failed", "job_id", id, "error", err)
	}
	_ = o.cache.SetJobStatus(ctx, id, job.Status, statusCacheTTL)
	return job, true
}

// Get returns the current view of a job: the registry entry when the job is
// live, otherwise the persisted record. Historical records are authoritative
// as-is; no poll is started for them.
func (o *Orchestrator) Get(ctx context.Context, id, bucket string) (*models.Job, error) {
	if job, ok := o.registry.Get(id); ok {
		return &job, nil
	}
	if job, ok := o.meta.Load(ctx, bucket, id); ok {
		return &job, nil
	}
	return nil, ErrJobNotFound
}

// Results returns the parsed report for a completed job. For jobs that are
// not yet completed, or whose report has not landed in storage yet, only the
// id and status are returned; neither case is an error.
func (o *Orchestrator) Results(ctx context.Context, id, bucket string) (*JobResults, error) {
	job, err := o.Get(ctx, id, bucket)
	if err != nil {
		return nil, err
	}

	res := &JobResults{JobID: job.ID, Status: job.Status}
	if job.Status != models.JobStatusCompleted {
		return res, nil
	}

	report, err := o.fetchReport(ctx, *job)
	if err != nil {
		slog.Info("results not yet available", "job_id", id, "error", err)
		return res, nil
	}
	res.Report = report

	// Backfill the cached score if the poll loop missed it.
	if job.Score == nil {
		score := report.PrimaryScore
		if _, ok := o.registry.Get(id); ok {
			o.transition(ctx, id, func(j *models.Job) { j.Score = &score })
		} else {
			job.Score = &score
			if err := o.meta.Save(ctx, job.Bucket, *job); err != nil {
				slog.Warn("persisting backfilled score failed", "job_id", id, "error", err)
			}
		}
	}

	return res, nil
}

// Raw returns the unmodified report bytes and the attachment filename.
func (o *Orchestrator) Raw(ctx context.Context, id, bucket string) ([]byte, string, error) {
	job, err := o.Get(ctx, id, bucket)
	if err != nil {
		return nil, "", err
	}
	if job.Status != models.JobStatusCompleted || job.ExternalName == "" {
		return nil, "", ErrJobNotCompleted
	}

	raw, err := o.gateway.GetObject(ctx, job.Bucket, job.RawReportKey())
	if err != nil {
		return nil, "", fmt.Errorf("fetching raw report: %w", err)
	}
	return raw, job.ExternalName + ".json", nil
}

// List returns every persisted record for the bucket, newest first, with live
// registry entries substituted in. Non-terminal records from a prior process
// lifetime are resumed so they keep converging to a terminal state.
func (o *Orchestrator) List(ctx context.Context, bucket string) []models.Job {
	jobs := o.meta.List(ctx, bucket)
	for i := range jobs {
		if live, ok := o.registry.Get(jobs[i].ID); ok {
			jobs[i] = live
			continue
		}
		if !jobs[i].Terminal() {
			o.resume(ctx, &jobs[i])
		}
	}
	return jobs
}

// resume restarts tracking for an orphaned non-terminal record. A record that
// never got an external task name cannot be tracked and is failed outright.
func (o *Orchestrator) resume(ctx context.Context, job *models.Job) {
	if job.ExternalName == "" {
		now := time.Now().UTC()
		job.Status = models.JobStatusFailed
		job.ErrorMessage = "process restarted before the task was submitted"
		job.CompletedAt = &now
		if err := o.meta.Save(ctx, job.Bucket, *job); err != nil {
			slog.Warn("persisting orphan failure failed", "job_id", job.ID, "error", err)
		}
		slog.Warn("orphaned job had no external task, marked failed", "job_id", job.ID)
		return
	}

	o.registry.Put(*job)
	slog.Info("resuming orphaned job", "job_id", job.ID, "external_name", job.ExternalName)

	go func(id string) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in resumed poll", "error", r, "job_id", id)
			}
		}()
		token, err := o.runner.AccessToken(context.Background(), o.service)
		if err != nil {
			o.fail(context.Background(), id, fmt.Sprintf("acquiring access credential on resume: %v", err))
			return
		}
		o.pollLoop(id, token)
	}(job.ID)
}

// Delete removes the job everywhere, best effort: the raw report object and
// the metadata record first, then the registry entry and cache keys. Storage
// failures never fail the call, and deleting an unknown job is a no-op, so
// Delete is idempotent.
func (o *Orchestrator) Delete(ctx context.Context, id, bucket string) error {
	job, err := o.Get(ctx, id, bucket)
	if err != nil {
		// Already gone from both registry and metadata.
		return nil
	}

	var keys []string
	if rawKey := job.RawReportKey(); rawKey != "" {
		keys = append(keys, rawKey)
	}
	keys = append(keys, metadataKey(id))
	if err := o.gateway.DeleteObjects(ctx, job.Bucket, keys); err != nil {
		slog.Warn("best-effort storage delete failed", "job_id", id, "error", err)
	}

	o.registry.Remove(id)
	_ = o.cache.Delete(ctx, cache.JobStatusKey(id))
	_ = o.cache.Delete(ctx, cache.JobResultsKey(id))

	slog.Info("job deleted", "job_id", id, "bucket", job.Bucket)
	return nil
}

// fetchReport loads and parses the raw report, caching the parsed form.
func (o *Orchestrator) fetchReport(ctx context.Context, job models.Job) (*models.Report, error) {
	rawKey := job.RawReportKey()
	if rawKey == "" {
		return nil, fmt.Errorf("no external task name recorded")
	}

	if cached, found, _ := o.cache.Get(ctx, cache.JobResultsKey(job.ID)); found {
		var report models.Report
		if err := json.Unmarshal(cached, &report); err == nil {
			return &report, nil
		}
	}

	raw, err := o.gateway.GetObject(ctx, job.Bucket, rawKey)
	if err != nil {
		return nil, err
	}
	report, err := vmaf.ParseReport(raw)
	if err != nil {
		return nil, err
	}

	if body, err := json.Marshal(report); err == nil {
		_ = o.cache.Set(ctx, cache.JobResultsKey(job.ID), body, resultsCacheTTL)
	}
	return report, nil
}

package models

import (
	"path"
	"time"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job tracks a single quality-comparison run. The API returns a job_id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{job_id} until status
// is completed or failed. The same record is persisted to object storage at
// jobs/{id}.json and used to rehydrate jobs after a restart.
type Job struct {
	ID             string     `json:"id"`
	Bucket         string     `json:"bucket,omitempty"`
	ReferenceKey   string     `json:"reference_key"`
	DistortedKey   string     `json:"distorted_key"`
	Folder         string     `json:"folder,omitempty"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	ExternalName   string     `json:"external_name,omitempty"`
	ExternalStatus string     `json:"external_status,omitempty"`
	ResultKey      string     `json:"result_key"`
	Score          *float64   `json:"score,omitempty"`
	ErrorMessage   string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// RawReportKey derives the object key where the runner writes the raw VMAF
// report: the parent folder of ResultKey plus the external task name. The same
// derivation backs both score extraction and the raw-download endpoint, so it
// must stay the single source of that key.
func (j *Job) RawReportKey() string {
	if j.ExternalName == "" {
		return ""
	}
	return path.Join(path.Dir(j.ResultKey), j.ExternalName+".json")
}

package crawler

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is a legal step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job is a tracked unit of scrape work. Output is non-nil exactly when the
// job is completed; a completed job with no matches carries an empty slice.
type Job struct {
	ID           string    `json:"job_id"`
	Query        string    `json:"query"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	Status       JobStatus `json:"status"`
	Output       []Entity  `json:"output"`
	ErrorText    string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewQueuedJob builds a job waiting for a runner.
func NewQueuedJob(id, query, jurisdiction string, now time.Time) Job {
	return Job{
		ID:           id,
		Query:        query,
		Jurisdiction: jurisdiction,
		Status:       JobStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewCompletedJob materializes a job that was executed synchronously.
func NewCompletedJob(id, query, jurisdiction string, output []Entity, now time.Time) Job {
	job := NewQueuedJob(id, query, jurisdiction, now)
	job.Status = JobStatusCompleted
	job.Output = nonNil(output)
	return job
}

// Start moves a queued job to processing.
func (j *Job) Start(now time.Time) error {
	return j.transition(JobStatusProcessing, now)
}

// Complete moves a processing job to completed and attaches its output.
func (j *Job) Complete(output []Entity, now time.Time) error {
	if err := j.transition(JobStatusCompleted, now); err != nil {
		return err
	}
	j.Output = nonNil(output)
	j.ErrorText = ""
	return nil
}

// Fail moves a processing job to failed, dropping any output.
func (j *Job) Fail(reason string, now time.Time) error {
	if err := j.transition(JobStatusFailed, now); err != nil {
		return err
	}
	j.Output = nil
	j.ErrorText = reason
	return nil
}

func (j *Job) transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

// Validate enforces the output/status invariant before a job is persisted.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("unknown job status %q", j.Status)
	}
	if j.Status == JobStatusCompleted && j.Output == nil {
		return fmt.Errorf("completed job %s has no output", j.ID)
	}
	if j.Status != JobStatusCompleted && j.Output != nil {
		return fmt.Errorf("%s job %s must not carry output", j.Status, j.ID)
	}
	return nil
}

// FetchRequest captures everything needed to fetch one page.
type FetchRequest struct {
	URL string
}

// FetchResponse is the raw result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID        string
	Query        string
	Jurisdiction string
	Submitted    int64
}

// Record is the flat field map persisted by a KVStore.
type Record map[string]string

// KV pairs a key with its record, as returned by KVStore.ScanPrefix.
type KV struct {
	Key    string
	Record Record
}

func nonNil(output []Entity) []Entity {
	if output == nil {
		return []Entity{}
	}
	return output
}

// JobNotice is published when a job reaches a terminal status.
type JobNotice struct {
	JobID        string    `json:"job_id"`
	Query        string    `json:"query"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	Status       JobStatus `json:"status"`
	Entities     int       `json:"entities"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NoticeFor summarizes a terminal job.
func NoticeFor(job Job) JobNotice {
	return JobNotice{
		JobID:        job.ID,
		Query:        job.Query,
		Jurisdiction: job.Jurisdiction,
		Status:       job.Status,
		Entities:     len(job.Output),
		Error:        job.ErrorText,
		FinishedAt:   job.UpdatedAt,
	}
}

// Attributes returns the routing attributes attached to a published notice.
func (n JobNotice) Attributes() map[string]string {
	attrs := map[string]string{
		"job_id": n.JobID,
		"status": string(n.Status),
	}
	if n.Jurisdiction != "" {
		attrs["jurisdiction"] = n.Jurisdiction
	}
	return attrs
}

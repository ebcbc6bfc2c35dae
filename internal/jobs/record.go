package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
)

// Record field names for job and index records.
const (
	fieldID           = "id"
	fieldQuery        = "query"
	fieldJurisdiction = "jurisdiction"
	fieldStatus       = "status"
	fieldCreatedAt    = "created_at"
	fieldUpdatedAt    = "updated_at"
	fieldError        = "error"
	fieldOutput       = "output"
	fieldJobID        = "job_id"
)

func encodeJob(job crawler.Job) (crawler.Record, error) {
	record := crawler.Record{
		fieldID:           job.ID,
		fieldQuery:        job.Query,
		fieldJurisdiction: job.Jurisdiction,
		fieldStatus:       string(job.Status),
		fieldCreatedAt:    job.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldUpdatedAt:    job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.ErrorText != "" {
		record[fieldError] = job.ErrorText
	}
	if job.Status == crawler.JobStatusCompleted {
		payload, err := json.Marshal(job.Output)
		if err != nil {
			return nil, fmt.Errorf("marshal job output: %w", err)
		}
		record[fieldOutput] = string(payload)
	}
	return record, nil
}

func decodeJob(record crawler.Record) (crawler.Job, error) {
	job := crawler.Job{
		ID:           record[fieldID],
		Query:        record[fieldQuery],
		Jurisdiction: record[fieldJurisdiction],
		Status:       crawler.JobStatus(record[fieldStatus]),
		ErrorText:    record[fieldError],
	}
	var err error
	if job.CreatedAt, err = parseTime(record[fieldCreatedAt]); err != nil {
		return crawler.Job{}, fmt.Errorf("decode created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTime(record[fieldUpdatedAt]); err != nil {
		return crawler.Job{}, fmt.Errorf("decode updated_at: %w", err)
	}
	if raw, ok := record[fieldOutput]; ok && job.Status == crawler.JobStatusCompleted {
		output := []crawler.Entity{}
		if err := json.Unmarshal([]byte(raw), &output); err != nil {
			return crawler.Job{}, fmt.Errorf("decode output: %w", err)
		}
		if output == nil {
			output = []crawler.Entity{}
		}
		job.Output = output
	}
	if err := job.Validate(); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", raw, err)
	}
	return t, nil
}

// Package models defines the persistent entities this worker operates on:
// jobs, submissions, workflows, execution steps, templates, artifacts,
// usage records, and live step previews.
package models

import "time"

// JobStatus is the terminal-or-not lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobError captures the classified failure of a terminal Job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is one run of a Workflow against a Submission for a tenant.
//
// Status advances monotonically pending -> processing -> (completed |
// failed). Once terminal, only informational fields (OutputURL,
// ArtifactIDs, LiveStep) may still change.
type Job struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	WorkflowID     string     `json:"workflow_id"`
	SubmissionID   string     `json:"submission_id"`
	Status         JobStatus  `json:"status"`
	ExecutionSteps []ExecutionStep `json:"execution_steps"`
	ArtifactIDs    []string   `json:"artifact_ids"`
	OutputURL      string     `json:"output_url,omitempty"`
	Error          *JobError  `json:"error,omitempty"`
	LiveStep       *LiveStep  `json:"live_step,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Submission is the raw form answers that seed a Job's context. Data keys
// are stable identifiers; human-readable labels live on the referenced
// Form and are joined in at context-build time.
type Submission struct {
	ID     string         `json:"id"`
	FormID string         `json:"form_id"`
	Data   map[string]any `json:"data"`
}

// FormField is one labeled question on a Form.
type FormField struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Form describes the question set a Submission answers.
type Form struct {
	ID     string      `json:"id"`
	Fields []FormField `json:"fields"`
}

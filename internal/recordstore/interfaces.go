// Package recordstore defines the RecordStore external collaborator:
// CRUD over the job/submission/workflow/template/artifact/usage/live-step
// records with last-writer-wins semantics, plus list-by-foreign-key
// lookups (artifacts by job, usage records by job). The record store
// itself is an external collaborator; this package is the interface
// plus one in-memory adapter (recordstore/memory.go, used by tests and
// single-node deployments) and one SQLite adapter
// (recordstore/sqlite.go, used for durable single-node deployments).
package recordstore

import (
	"context"
	"errors"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// JobStore persists Job records, including their embedded ExecutionStep
// list and LiveStep preview.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
}

// SubmissionStore is read-only to the core: submissions are created
// externally and only ever fetched.
type SubmissionStore interface {
	Get(ctx context.Context, id string) (*models.Submission, error)
}

// FormStore is read-only to the core.
type FormStore interface {
	Get(ctx context.Context, id string) (*models.Form, error)
}

// WorkflowStore is read-only to the core.
type WorkflowStore interface {
	Get(ctx context.Context, id string) (*models.Workflow, error)
}

// TemplateStore is read-only to the core.
type TemplateStore interface {
	Get(ctx context.Context, id string) (*models.Template, error)
}

// ArtifactStore persists Artifact records, append-only once written.
type ArtifactStore interface {
	Create(ctx context.Context, artifact *models.Artifact) error
	Get(ctx context.Context, id string) (*models.Artifact, error)
	ListByJob(ctx context.Context, jobID string) ([]*models.Artifact, error)
}

// UsageStore persists UsageRecord rows, append-only.
type UsageStore interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	ListByJob(ctx context.Context, jobID string) ([]*models.UsageRecord, error)
}

// StoreSet groups the record-store dependencies a JobController needs.
type StoreSet struct {
	Jobs        JobStore
	Submissions SubmissionStore
	Forms       FormStore
	Workflows   WorkflowStore
	Templates   TemplateStore
	Artifacts   ArtifactStore
	Usage       UsageStore

	closer func() error
}

// Close releases any underlying resources (e.g. a database handle).
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

package recordstore

import (
	"context"
	"sync"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

// MemoryJobStore keeps Job records in memory. Get/Update clone on every
// access so callers never observe or mutate another caller's in-flight
// copy, the same convention the job controller's reload-then-write rule
// depends on.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryJobStore returns an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrAlreadyExists
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; !exists {
		return ErrNotFound
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func cloneJob(job *models.Job) *models.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.ExecutionSteps = append([]models.ExecutionStep(nil), job.ExecutionSteps...)
	clone.ArtifactIDs = append([]string(nil), job.ArtifactIDs...)
	if job.Error != nil {
		errCopy := *job.Error
		clone.Error = &errCopy
	}
	if job.LiveStep != nil {
		liveCopy := *job.LiveStep
		clone.LiveStep = &liveCopy
	}
	return &clone
}

// MemorySubmissionStore is a read-only in-memory SubmissionStore backed
// by a fixed seed map; submissions are created outside this worker.
type MemorySubmissionStore struct {
	mu          sync.RWMutex
	submissions map[string]*models.Submission
}

func NewMemorySubmissionStore(seed map[string]*models.Submission) *MemorySubmissionStore {
	if seed == nil {
		seed = make(map[string]*models.Submission)
	}
	return &MemorySubmissionStore{submissions: seed}
}

func (s *MemorySubmissionStore) Get(ctx context.Context, id string) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub, nil
}

// MemoryFormStore is a read-only in-memory FormStore.
type MemoryFormStore struct {
	mu    sync.RWMutex
	forms map[string]*models.Form
}

func NewMemoryFormStore(seed map[string]*models.Form) *MemoryFormStore {
	if seed == nil {
		seed = make(map[string]*models.Form)
	}
	return &MemoryFormStore{forms: seed}
}

func (s *MemoryFormStore) Get(ctx context.Context, id string) (*models.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	form, ok := s.forms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return form, nil
}

// MemoryWorkflowStore is a read-only in-memory WorkflowStore.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

func NewMemoryWorkflowStore(seed map[string]*models.Workflow) *MemoryWorkflowStore {
	if seed == nil {
		seed = make(map[string]*models.Workflow)
	}
	return &MemoryWorkflowStore{workflows: seed}
}

func (s *MemoryWorkflowStore) Get(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return wf, nil
}

// MemoryTemplateStore is a read-only in-memory TemplateStore.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*models.Template
}

func NewMemoryTemplateStore(seed map[string]*models.Template) *MemoryTemplateStore {
	if seed == nil {
		seed = make(map[string]*models.Template)
	}
	return &MemoryTemplateStore{templates: seed}
}

func (s *MemoryTemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tpl, nil
}

// MemoryArtifactStore is an in-memory ArtifactStore.
type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]*models.Artifact
	byJob     map[string][]string
}

func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{
		artifacts: make(map[string]*models.Artifact),
		byJob:     make(map[string][]string),
	}
}

func (s *MemoryArtifactStore) Create(ctx context.Context, artifact *models.Artifact) error {
	if artifact == nil || artifact.ArtifactID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.ArtifactID] = artifact
	s.byJob[artifact.JobID] = append(s.byJob[artifact.JobID], artifact.ArtifactID)
	return nil
}

func (s *MemoryArtifactStore) Get(ctx context.Context, id string) (*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *MemoryArtifactStore) ListByJob(ctx context.Context, jobID string) ([]*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byJob[jobID]
	out := make([]*models.Artifact, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.artifacts[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// MemoryUsageStore is an in-memory, append-only UsageStore.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	records []*models.UsageRecord
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func (s *MemoryUsageStore) Create(ctx context.Context, record *models.UsageRecord) error {
	if record == nil {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *MemoryUsageStore) ListByJob(ctx context.Context, jobID string) ([]*models.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.UsageRecord, 0)
	for _, r := range s.records {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	return out, nil
}

// NewMemoryStores constructs a StoreSet entirely backed by memory, for
// tests and single-process dev deployments.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Jobs:        NewMemoryJobStore(),
		Submissions: NewMemorySubmissionStore(nil),
		Forms:       NewMemoryFormStore(nil),
		Workflows:   NewMemoryWorkflowStore(nil),
		Templates:   NewMemoryTemplateStore(nil),
		Artifacts:   NewMemoryArtifactStore(),
		Usage:       NewMemoryUsageStore(),
	}
}

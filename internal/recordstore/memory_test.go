package recordstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

func TestMemoryJobStoreCRUD(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	job := &models.Job{ID: "job-1", Status: models.JobStatusPending}
	require.NoError(t, store.Create(ctx, job))
	assert.ErrorIs(t, store.Create(ctx, job), ErrAlreadyExists)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)

	got.Status = models.JobStatusProcessing
	require.NoError(t, store.Update(ctx, got))
	got, err = store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)

	assert.ErrorIs(t, store.Update(ctx, &models.Job{ID: "missing"}), ErrNotFound)
}

// Get and Update must clone: a caller mutating its copy never changes
// the stored record until it writes back.
func TestMemoryJobStoreClonesOnAccess(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Job{
		ID:             "job-1",
		ExecutionSteps: []models.ExecutionStep{{StepOrder: 0, StepType: models.ExecutionStepFormSubmission}},
	}))

	first, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	first.ExecutionSteps = append(first.ExecutionSteps, models.ExecutionStep{StepOrder: 1})
	first.ExecutionSteps[0].Output = "mutated"

	second, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, second.ExecutionSteps, 1)
	assert.Empty(t, second.ExecutionSteps[0].Output)
}

func TestMemoryArtifactStoreListByJob(t *testing.T) {
	store := NewMemoryArtifactStore()
	ctx := context.Background()

	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, store.Create(ctx, &models.Artifact{ArtifactID: id, JobID: "job-1"}))
	}
	require.NoError(t, store.Create(ctx, &models.Artifact{ArtifactID: "b1", JobID: "job-2"}))

	list, err := store.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a1", list[0].ArtifactID)
	assert.Equal(t, "a2", list[1].ArtifactID)

	empty, err := store.ListByJob(ctx, "job-3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryUsageStoreListByJob(t *testing.T) {
	store := NewMemoryUsageStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.UsageRecord{ID: "u1", JobID: "job-1", InputTokens: 50}))
	require.NoError(t, store.Create(ctx, &models.UsageRecord{ID: "u2", JobID: "job-2"}))

	list, err := store.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 50, list[0].InputTokens)
}

func TestMemoryReferenceStoresAreSeeded(t *testing.T) {
	subs := NewMemorySubmissionStore(map[string]*models.Submission{"s1": {ID: "s1", FormID: "f1"}})
	got, err := subs.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "f1", got.FormID)

	_, err = subs.Get(context.Background(), "s2")
	assert.ErrorIs(t, err, ErrNotFound)
}

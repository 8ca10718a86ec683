package artifacts

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/recordstore"
)

func TestServicePutInline(t *testing.T) {
	store := recordstore.NewMemoryArtifactStore()
	svc := NewService(store, nil, nil)

	artifact, err := svc.Put(context.Background(), PutParams{
		TenantID:     "tenant-1",
		JobID:        "job-1",
		ArtifactType: models.ArtifactTypeStepOutput,
		Name:         "step-1.md",
		MimeType:     "text/markdown",
		Data:         []byte("hello world"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, artifact.ArtifactID)
	require.Equal(t, int64(len("hello world")), artifact.FileSizeBytes)

	got, body, err := svc.Get(context.Background(), artifact.ArtifactID)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.Equal(t, artifact.ArtifactID, got.ArtifactID)
}

func TestServiceListByJob(t *testing.T) {
	store := recordstore.NewMemoryArtifactStore()
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Put(ctx, PutParams{
			JobID:        "job-1",
			ArtifactType: models.ArtifactTypeStepOutput,
			Data:         []byte("x"),
		})
		require.NoError(t, err)
	}
	_, err := svc.Put(ctx, PutParams{JobID: "job-2", ArtifactType: models.ArtifactTypeStepOutput, Data: []byte("y")})
	require.NoError(t, err)

	list, err := svc.ListByJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
}

package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

func sampleJob() *models.Job {
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:          "job-1",
		Status:      models.JobStatusCompleted,
		OutputURL:   "https://cdn.example/final.md",
		CompletedAt: &completed,
	}
}

func TestBuildWebhookPayloadFields(t *testing.T) {
	artifacts := []*models.Artifact{
		{ArtifactID: "a1", ArtifactType: models.ArtifactTypeMarkdownFinal, ArtifactName: "final.md", MimeType: "text/markdown", PublicURL: "https://cdn.example/final.md"},
		{ArtifactID: "a2", ArtifactType: models.ArtifactTypeImage, ArtifactName: "shot.jpg", MimeType: "image/jpeg", PublicURL: "https://cdn.example/shot.jpg"},
		{ArtifactID: "a3", ArtifactType: models.ArtifactTypeHTMLFinal, ArtifactName: "final.html", MimeType: "text/html"},
	}

	payload := BuildWebhookPayload(WebhookPayloadInput{
		Job:            sampleJob(),
		WorkflowID:     "wf-1",
		SubmissionData: map[string]any{"name": "Ada", "email": "a@b", "topic": "dragons"},
		Artifacts:      artifacts,
		Context:        "=== Form Submission ===\nName: Ada",
		ImageURLs:      []string{"https://cdn.example/shot.jpg"},
	})

	assert.Equal(t, "job-1", payload["job_id"])
	assert.Equal(t, "completed", payload["status"])
	assert.Equal(t, "wf-1", payload["workflow_id"])
	assert.Equal(t, "https://cdn.example/final.md", payload["output_url"])
	assert.Equal(t, "2026-03-01T12:00:00Z", payload["completed_at"])

	assert.Equal(t, "Ada", payload["lead_name"])
	assert.Equal(t, "a@b", payload["lead_email"])
	assert.Equal(t, "", payload["lead_phone"])

	// Every raw field is also flattened for downstream templating.
	assert.Equal(t, "dragons", payload["submission_topic"])
	assert.Equal(t, "Ada", payload["submission_name"])

	assert.Len(t, payload["artifacts"], 3)
	assert.Len(t, payload["images"], 1)
	assert.Len(t, payload["html_files"], 1)
	assert.Len(t, payload["markdown_files"], 1)

	context := payload["context"].(string)
	assert.Contains(t, context, "=== Form Submission ===")
	assert.Contains(t, context, "IMAGE LINKS")
	assert.Contains(t, context, "https://cdn.example/shot.jpg")
}

func TestBuildWebhookPayloadNoImagesOmitsImageLinks(t *testing.T) {
	payload := BuildWebhookPayload(WebhookPayloadInput{
		Job:            sampleJob(),
		SubmissionData: map[string]any{},
		Context:        "ctx",
	})
	assert.Equal(t, "ctx", payload["context"])
}

func TestPostWebhookSendsHeadersAndBody(t *testing.T) {
	var got map[string]any
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer server.Close()

	err := PostWebhook(context.Background(), server.URL, map[string]string{"X-Token": "abc"}, map[string]any{"job_id": "job-1"})
	require.NoError(t, err)
	assert.Equal(t, "abc", headers.Get("X-Token"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "job-1", got["job_id"])
}

func TestPostWebhookNon2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := PostWebhook(context.Background(), server.URL, nil, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

// Package delivery implements the two notification channels a
// completed job uses to announce itself: a webhook POST
// with a fixed JSON schema, and an SMS send with phone normalization
// and a templated or model-generated body.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

// WebhookTimeout is the fixed HTTP deadline for a delivery POST. No
// retry: infrastructure is expected to supply that from
// a retry-capable queue if desired.
const WebhookTimeout = 30 * time.Second

// ArtifactMeta is the JSON shape of one artifact entry in the webhook
// payload's artifacts/images/html_files/markdown_files lists.
type ArtifactMeta struct {
	ArtifactID    string `json:"artifact_id"`
	ArtifactType  string `json:"artifact_type"`
	ArtifactName  string `json:"artifact_name"`
	PublicURL     string `json:"public_url"`
	S3Key         string `json:"s3_key"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	MimeType      string `json:"mime_type"`
	CreatedAt     string `json:"created_at"`
}

func artifactMetaFrom(a *models.Artifact) ArtifactMeta {
	return ArtifactMeta{
		ArtifactID:    a.ArtifactID,
		ArtifactType:  string(a.ArtifactType),
		ArtifactName:  a.ArtifactName,
		PublicURL:     a.PublicURL,
		S3Key:         a.S3Key,
		FileSizeBytes: a.FileSizeBytes,
		MimeType:      a.MimeType,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

// WebhookPayloadInput carries everything BuildWebhookPayload needs.
type WebhookPayloadInput struct {
	Job            *models.Job
	WorkflowID     string
	SubmissionData map[string]any
	Artifacts      []*models.Artifact
	Context        string
	ImageURLs      []string
}

// BuildWebhookPayload assembles the delivery JSON body.
func BuildWebhookPayload(in WebhookPayloadInput) map[string]any {
	var images, htmlFiles, markdownFiles, allArtifacts []ArtifactMeta
	for _, a := range in.Artifacts {
		meta := artifactMetaFrom(a)
		allArtifacts = append(allArtifacts, meta)
		switch a.ArtifactType {
		case models.ArtifactTypeImage:
			images = append(images, meta)
		case models.ArtifactTypeHTMLFinal:
			htmlFiles = append(htmlFiles, meta)
		case models.ArtifactTypeMarkdownFinal, models.ArtifactTypeReportMarkdown:
			markdownFiles = append(markdownFiles, meta)
		}
	}

	context := in.Context
	if len(in.ImageURLs) > 0 {
		var b strings.Builder
		b.WriteString(context)
		b.WriteString("\n\nIMAGE LINKS\n")
		for _, u := range in.ImageURLs {
			b.WriteString("- " + u + "\n")
		}
		context = b.String()
	}

	payload := map[string]any{
		"job_id":          in.Job.ID,
		"status":          string(in.Job.Status),
		"output_url":      in.Job.OutputURL,
		"workflow_id":     in.WorkflowID,
		"completed_at":    formatTimePtr(in.Job.CompletedAt),
		"submission_data": in.SubmissionData,
		"lead_name":       leadField(in.SubmissionData, "name", "full_name", "lead_name"),
		"lead_email":      leadField(in.SubmissionData, "email", "lead_email"),
		"lead_phone":      leadField(in.SubmissionData, "phone", "phone_number", "lead_phone"),
		"artifacts":       allArtifacts,
		"images":          images,
		"html_files":      htmlFiles,
		"markdown_files":  markdownFiles,
		"context":         context,
	}

	for k, v := range in.SubmissionData {
		payload["submission_"+k] = v
	}

	return payload
}

func leadField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// PostWebhook POSTs the payload as JSON with a 30s deadline and the
// workflow-supplied headers. Any non-2xx status (or
// transport error) is returned as an error for the caller to log; it
// is never retried here.
func PostWebhook(ctx context.Context, webhookURL string, headers map[string]string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: WebhookTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

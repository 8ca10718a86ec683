package models

import "time"

// ArtifactType distinguishes the five kinds of content-addressed objects
// this worker produces.
type ArtifactType string

const (
	ArtifactTypeStepOutput     ArtifactType = "step_output"
	ArtifactTypeImage          ArtifactType = "image"
	ArtifactTypeMarkdownFinal  ArtifactType = "markdown_final"
	ArtifactTypeHTMLFinal      ArtifactType = "html_final"
	ArtifactTypeReportMarkdown ArtifactType = "report_markdown"
)

// Artifact is a content-addressed object written once and referenced by
// id thereafter. Its PublicURL, when present, must resolve to the same
// bytes as S3Key.
type Artifact struct {
	ArtifactID     string       `json:"artifact_id"`
	TenantID       string       `json:"tenant_id"`
	JobID          string       `json:"job_id"`
	ArtifactType   ArtifactType `json:"artifact_type"`
	ArtifactName   string       `json:"artifact_name"`
	MimeType       string       `json:"mime_type"`
	S3Key          string       `json:"s3_key"`
	PublicURL      string       `json:"public_url"`
	FileSizeBytes  int64        `json:"file_size_bytes"`
	CreatedAt      time.Time    `json:"created_at"`
}

// UsageRecord is an append-only per-call cost accounting row.
type UsageRecord struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	JobID        string    `json:"job_id"`
	ServiceType  string    `json:"service_type"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

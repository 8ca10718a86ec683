package models

import "time"

// ExecutionStepType distinguishes the five kinds of recorded step
// evidence a Job accumulates.
type ExecutionStepType string

const (
	ExecutionStepFormSubmission ExecutionStepType = "form_submission"
	ExecutionStepAIGeneration   ExecutionStepType = "ai_generation"
	ExecutionStepWebhook        ExecutionStepType = "webhook"
	ExecutionStepHTMLGeneration ExecutionStepType = "html_generation"
	ExecutionStepFinalOutput    ExecutionStepType = "final_output"
)

// Usage is the token/cost accounting for one provider call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// ExecutionStep is the append-only evidence that a workflow step ran. At
// most one entry exists per (StepOrder, StepType); a rerun replaces its
// entry in place rather than appending a second one.
type ExecutionStep struct {
	StepOrder        int               `json:"step_order"`
	StepType         ExecutionStepType `json:"step_type"`
	StepName         string            `json:"step_name"`
	Input            string            `json:"input"`
	Output           string            `json:"output"`
	ImageURLs        []string          `json:"image_urls,omitempty"`
	ImageArtifactIDs []string          `json:"image_artifact_ids,omitempty"`
	Usage            *Usage            `json:"usage,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	DurationMS       int64             `json:"duration_ms"`
	ArtifactID       string            `json:"artifact_id,omitempty"`
	Success          bool              `json:"success"`
	Error            *JobError         `json:"error,omitempty"`
}

// LiveStepStatus is the status tag of a transient LiveStep preview.
type LiveStepStatus string

const (
	LiveStepStreaming LiveStepStatus = "streaming"
	LiveStepRetrying  LiveStepStatus = "retrying"
	LiveStepFinal     LiveStepStatus = "final"
	LiveStepError     LiveStepStatus = "error"
)

// LiveStepCapChars bounds the tail kept in a LiveStep's OutputText.
const LiveStepCapChars = 100_000

// LiveStep is a transient, last-writer-wins streaming preview of the
// currently running step. It is overwritten repeatedly and cleared when
// the step completes; it is never authoritative for completion.
type LiveStep struct {
	StepOrder  int            `json:"step_order"`
	OutputText string         `json:"output_text"`
	Status     LiveStepStatus `json:"status"`
	Truncated  bool           `json:"truncated,omitempty"`
	Error      string         `json:"error,omitempty"`
}

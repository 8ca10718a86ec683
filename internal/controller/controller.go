// Package controller implements the JobController: the
// top-level orchestrator that marks a job processing, drives the step
// scheduler to completion (batch or single-step mode), assembles the
// final deliverable, dispatches delivery, and writes terminal status.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/artifacts"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/delivery"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/executor"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/recordstore"
)

// Controller is the JobController: it owns a Job's lifecycle from
// "processing" to a terminal status, driving StepExecutor once per
// step and handling final assembly and delivery.
type Controller struct {
	Stores    recordstore.StoreSet
	Executor  *executor.StepExecutor
	Artifacts *artifacts.Service
	LLM       *llm.Client
	SMS       delivery.SMSSender
	SMSFrom   string
	Logger    *slog.Logger

	// IDFunc mints ids for new UsageRecords; defaults to a ULID
	// generator. Overridable for deterministic tests.
	IDFunc func() string
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Controller) newID() string {
	if c.IDFunc != nil {
		return c.IDFunc()
	}
	return artifacts.NewID()
}

// StepResult is the compact, size-bounded result single-step mode
// returns to an external scheduler: it deliberately
// omits the large request/response bodies a full ExecutionStep's
// Input field can carry.
type StepResult struct {
	StepOrder  int    `json:"step_order"`
	StepType   string `json:"step_type"`
	Success    bool   `json:"success"`
	OutputLen  int    `json:"output_len"`
	ArtifactID string `json:"artifact_id,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	ErrorMsg   string `json:"error_message,omitempty"`
}

// failJob marks job failed with a classified error, persists it, and
// returns the error for the caller's propagation.
func (c *Controller) failJob(ctx context.Context, job *models.Job, action string, kind string, err error) error {
	now := time.Now()
	job.Status = models.JobStatusFailed
	job.CompletedAt = &now
	job.Error = &models.JobError{Kind: kind, Message: fmt.Sprintf("%s: %s", action, err.Error())}
	if uerr := c.Stores.Jobs.Update(ctx, job); uerr != nil {
		c.logger().Error("failed to persist failed job status", "job_id", job.ID, "error", uerr)
	}
	observability.EmitJobLifecycle(observability.EventTypeJobFailed, &observability.JobLifecycleEvent{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		WorkflowID: job.WorkflowID,
		ErrorKind:  kind,
		Error:      job.Error.Message,
		DurationMs: jobDurationMs(job),
	})
	return fmt.Errorf("%s: %w", action, err)
}

// jobDurationMs reports how long a terminal job ran, or 0 while its
// timestamps are incomplete.
func jobDurationMs(job *models.Job) int64 {
	if job.StartedAt == nil || job.CompletedAt == nil {
		return 0
	}
	return job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
}

// initialize marks the job processing and appends the step-0
// form_submission ExecutionStep, if not already present.
func (c *Controller) initialize(ctx context.Context, job *models.Job, form *models.Form, submission *models.Submission) error {
	if job.Status == models.JobStatusPending {
		now := time.Now()
		job.Status = models.JobStatusProcessing
		job.StartedAt = &now
	}

	hasFormStep := false
	for _, s := range job.ExecutionSteps {
		if s.StepType == models.ExecutionStepFormSubmission {
			hasFormStep = true
			break
		}
	}
	if !hasFormStep {
		rendered := executor.RenderFormSubmission(form, submission)
		job.ExecutionSteps = executor.MergeExecutionStep(job.ExecutionSteps, models.ExecutionStep{
			StepOrder: 0,
			StepType:  models.ExecutionStepFormSubmission,
			StepName:  "Form Submission",
			Output:    rendered,
			Timestamp: time.Now(),
			Success:   true,
		})
	}
	return c.Stores.Jobs.Update(ctx, job)
}

// sortedSteps returns workflow.Steps sorted by StepOrder.
func sortedSteps(workflow *models.Workflow) []models.Step {
	steps := make([]models.Step, len(workflow.Steps))
	copy(steps, workflow.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps
}

// RunBatch drives every workflow step in a single invocation: it
// loads the job's referenced resources, initializes, then
// executes steps in order, skipping any step whose dependency set
// includes a previously failed/skipped step. After all AI/webhook
// steps, it assembles the final artifact, runs delivery, and marks the
// job completed. Any uncaught failure during mandatory scheduling work
// (load, initialize, final assembly) marks the job failed instead.
func (c *Controller) RunBatch(ctx context.Context, jobID string) error {
	job, err := c.Stores.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return nil
	}

	workflow, err := c.Stores.Workflows.Get(ctx, job.WorkflowID)
	if err != nil {
		return c.failJob(ctx, job, "Failed to load workflow", "validation", err)
	}
	submission, err := c.Stores.Submissions.Get(ctx, job.SubmissionID)
	if err != nil {
		return c.failJob(ctx, job, "Failed to load submission", "validation", err)
	}
	form, err := c.Stores.Forms.Get(ctx, submission.FormID)
	if err != nil {
		return c.failJob(ctx, job, "Failed to load form", "validation", err)
	}

	if err := c.initialize(ctx, job, form, submission); err != nil {
		return c.failJob(ctx, job, "Failed to initialize job", "validation", err)
	}
	observability.EmitJobLifecycle(observability.EventTypeJobStarted, &observability.JobLifecycleEvent{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		WorkflowID: job.WorkflowID,
	})

	steps := sortedSteps(workflow)

	// blocked tracks the 0-indexed step positions whose dependency set
	// includes a failed or already-blocked step, so their dependents
	// are transitively skipped rather than executed against a
	// half-complete context.
	blocked := make(map[int]bool)

	for _, step := range steps {
		idx := step.StepOrder - 1
		deps := step.EffectiveDependsOn()

		blockedByDep := false
		for _, d := range deps {
			if blocked[d] {
				blockedByDep = true
				break
			}
		}
		if blockedByDep {
			blocked[idx] = true
			c.recordSkipped(ctx, job, step)
			continue
		}

		switch step.StepType {
		case models.StepTypeWebhook:
			// Webhook step failures never fail the job, and never
			// block dependents: a webhook step's
			// ExecutionStep always counts as "ready" downstream.
			c.runWebhookStep(ctx, job, step)
		default:
			out, execErr := c.Executor.Execute(ctx, executor.Input{
				Job:        job,
				Workflow:   workflow,
				Submission: submission,
				Form:       form,
				Step:       step,
				StepIndex:  idx,
				TenantID:   job.TenantID,
			})
			if execErr != nil {
				blocked[idx] = true
				c.recordExecutorError(ctx, job, step, execErr)
				continue
			}
			c.persistStep(ctx, job, out.ExecutionStep, step.Model, out.CallUsages)
			if !out.ExecutionStep.Success {
				blocked[idx] = true
			}
		}
	}

	if err := c.assembleFinal(ctx, job, workflow, submission, form); err != nil {
		return c.failJob(ctx, job, "Failed to assemble final output", classifyFinalError(err), err)
	}

	// Terminal status is written before delivery so the webhook payload
	// carries the completed status and timestamp; a delivery failure
	// never flips it back.
	now := time.Now()
	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	job.LiveStep = nil
	if err := c.Stores.Jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persist completed job: %w", err)
	}
	observability.EmitJobLifecycle(observability.EventTypeJobCompleted, &observability.JobLifecycleEvent{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		WorkflowID: job.WorkflowID,
		DurationMs: jobDurationMs(job),
	})

	c.runDelivery(ctx, job, workflow, submission)
	return nil
}

// RunStep drives exactly one step. It reloads state, executes the named step,
// and returns a compact result; it never runs final assembly or
// delivery, since an external scheduler decides when the workflow is
// done.
func (c *Controller) RunStep(ctx context.Context, jobID string, stepIndex int) (StepResult, error) {
	job, err := c.Stores.Jobs.Get(ctx, jobID)
	if err != nil {
		return StepResult{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	workflow, err := c.Stores.Workflows.Get(ctx, job.WorkflowID)
	if err != nil {
		return StepResult{}, fmt.Errorf("load workflow: %w", err)
	}
	submission, err := c.Stores.Submissions.Get(ctx, job.SubmissionID)
	if err != nil {
		return StepResult{}, fmt.Errorf("load submission: %w", err)
	}
	form, err := c.Stores.Forms.Get(ctx, submission.FormID)
	if err != nil {
		return StepResult{}, fmt.Errorf("load form: %w", err)
	}
	if err := c.initialize(ctx, job, form, submission); err != nil {
		return StepResult{}, fmt.Errorf("initialize job: %w", err)
	}

	var step models.Step
	found := false
	for _, s := range workflow.Steps {
		if s.StepOrder-1 == stepIndex {
			step, found = s, true
			break
		}
	}
	if !found {
		return StepResult{}, fmt.Errorf("no step at index %d", stepIndex)
	}

	if step.StepType == models.StepTypeWebhook {
		ok := c.runWebhookStep(ctx, job, step)
		return StepResult{StepOrder: step.StepOrder, StepType: string(step.StepType), Success: ok}, nil
	}

	out, err := c.Executor.Execute(ctx, executor.Input{
		Job: job, Workflow: workflow, Submission: submission, Form: form,
		Step: step, StepIndex: stepIndex, TenantID: job.TenantID,
	})
	if err != nil {
		c.recordExecutorError(ctx, job, step, err)
		return StepResult{
			StepOrder: step.StepOrder, StepType: string(step.StepType),
			ErrorKind: classifyFinalError(err), ErrorMsg: err.Error(),
		}, nil
	}

	c.persistStep(ctx, job, out.ExecutionStep, step.Model, out.CallUsages)

	result := StepResult{
		StepOrder:  out.ExecutionStep.StepOrder,
		StepType:   string(out.ExecutionStep.StepType),
		Success:    out.ExecutionStep.Success,
		OutputLen:  len(out.ExecutionStep.Output),
		ArtifactID: out.ExecutionStep.ArtifactID,
	}
	if out.ExecutionStep.Error != nil {
		result.ErrorKind = out.ExecutionStep.Error.Kind
		result.ErrorMsg = out.ExecutionStep.Error.Message
	}
	return result, nil
}

// persistStep reloads the job, merges the step (rerun-replaces in
// place), persists one UsageRecord per provider call the step made,
// and writes the job back. model is the step definition's model name,
// used only for the UsageRecord rows; pass "" and nil for steps with
// no model (webhook, skipped). When the caller has no per-call
// breakdown, the step's aggregate usage becomes a single record.
func (c *Controller) persistStep(ctx context.Context, job *models.Job, step models.ExecutionStep, model string, callUsages []models.Usage) {
	fresh, err := c.Stores.Jobs.Get(ctx, job.ID)
	if err == nil {
		*job = *fresh
	}
	job.ExecutionSteps = executor.MergeExecutionStep(job.ExecutionSteps, step)
	if step.ArtifactID != "" {
		job.ArtifactIDs = appendUnique(job.ArtifactIDs, step.ArtifactID)
	}
	for _, id := range step.ImageArtifactIDs {
		job.ArtifactIDs = appendUnique(job.ArtifactIDs, id)
	}
	job.LiveStep = nil
	usages := callUsages
	if len(usages) == 0 && step.Usage != nil {
		usages = []models.Usage{*step.Usage}
	}
	if c.Stores.Usage != nil {
		for _, u := range usages {
			record := executor.UsageRecordFrom(c.newID(), job.TenantID, job.ID, string(step.StepType), model, u)
			if err := c.Stores.Usage.Create(ctx, &record); err != nil {
				c.logger().Warn("failed to persist usage record", "job_id", job.ID, "error", err)
			}
		}
	}
	if err := c.Stores.Jobs.Update(ctx, job); err != nil {
		c.logger().Error("failed to persist step", "job_id", job.ID, "step_order", step.StepOrder, "error", err)
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// recordExecutorError records a step that failed before producing an
// ExecutionStep (e.g. ErrNotReady): a failing AI step is
// recorded as a failed ExecutionStep, not an immediate job failure.
func (c *Controller) recordExecutorError(ctx context.Context, job *models.Job, step models.Step, err error) {
	c.persistStep(ctx, job, models.ExecutionStep{
		StepOrder: step.StepOrder,
		StepType:  models.ExecutionStepAIGeneration,
		StepName:  step.StepName,
		Timestamp: time.Now(),
		Success:   false,
		Error:     &models.JobError{Kind: classifyFinalError(err), Message: err.Error()},
	}, step.Model, nil)
}

// recordSkipped records a step that was never attempted because one of
// its dependencies failed.
func (c *Controller) recordSkipped(ctx context.Context, job *models.Job, step models.Step) {
	stepType := models.ExecutionStepAIGeneration
	if step.StepType == models.StepTypeWebhook {
		stepType = models.ExecutionStepWebhook
	}
	c.persistStep(ctx, job, models.ExecutionStep{
		StepOrder: step.StepOrder,
		StepType:  stepType,
		StepName:  step.StepName,
		Timestamp: time.Now(),
		Success:   false,
		Error:     &models.JobError{Kind: "validation", Message: "skipped: a dependency failed"},
	}, step.Model, nil)
}

// runWebhookStep executes a webhook-type step: it POSTs the rendered
// payload template to the step's webhook URL and records the result as
// an ExecutionStep. Webhook failures never fail the job: they are logged with success=false and do not block dependents.
func (c *Controller) runWebhookStep(ctx context.Context, job *models.Job, step models.Step) bool {
	start := time.Now()
	payload, _ := renderWebhookPayload(step.WebhookPayload, job.ExecutionSteps).(map[string]any)
	err := delivery.PostWebhook(ctx, step.WebhookURL, step.WebhookHeaders, payload)

	execStep := models.ExecutionStep{
		StepOrder:  step.StepOrder,
		StepType:   models.ExecutionStepWebhook,
		StepName:   step.StepName,
		Timestamp:  time.Now(),
		DurationMS: time.Since(start).Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		execStep.Error = &models.JobError{Kind: "connection", Message: err.Error()}
	} else {
		execStep.Output = "webhook delivered"
	}
	c.persistStep(ctx, job, execStep, step.Model, nil)
	return err == nil
}

// renderWebhookPayload substitutes {{step:N}} style references in a
// step's webhook_payload_template against completed ExecutionSteps'
// output text. Non-string/non-map/non-slice values pass through
// unchanged.
func renderWebhookPayload(template any, steps []models.ExecutionStep) any {
	byOrder := make(map[int]string, len(steps))
	for _, s := range steps {
		byOrder[s.StepOrder] = s.Output
	}
	return substitute(template, byOrder)
}

var stepRefPattern = regexp.MustCompile(`\{\{\s*step:(\d+)\s*\}\}`)

func substitute(v any, byOrder map[int]string) any {
	switch val := v.(type) {
	case string:
		return stepRefPattern.ReplaceAllStringFunc(val, func(m string) string {
			sub := stepRefPattern.FindStringSubmatch(m)
			var order int
			fmt.Sscanf(sub[1], "%d", &order)
			return byOrder[order]
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = substitute(vv, byOrder)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = substitute(vv, byOrder)
		}
		return out
	default:
		return v
	}
}

// classifyFinalError maps a controller-level error to the closed error
// taxonomy for job-terminal classification.
func classifyFinalError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not ready"):
		return "validation"
	case strings.Contains(msg, "loop_detected"):
		return "computer_loop"
	case strings.Contains(msg, "shell loop"):
		return "shell_budget"
	case strings.Contains(msg, "computer-use loop"):
		return "computer_loop"
	default:
		return "unknown"
	}
}

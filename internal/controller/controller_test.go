package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/artifacts"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/executor"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/recordstore"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/usage"
)

// fakeProvider is an httptest server speaking just enough of the
// Responses API SSE protocol for the standard strategy: each request
// pops the next scripted text, streamed as one delta plus a completed
// event.
type fakeProvider struct {
	mu      sync.Mutex
	texts   []string
	status  int
	calls   int
	server  *httptest.Server
}

func newFakeProvider(texts ...string) *fakeProvider {
	p := &fakeProvider{texts: texts, status: http.StatusOK}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

func (p *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	status := p.status
	text := ""
	if len(p.texts) > 0 {
		text = p.texts[0]
		if len(p.texts) > 1 {
			p.texts = p.texts[1:]
		}
	}
	p.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"message":"no"}}`)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprintf(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":%q}\n\n", text)
	fmt.Fprintf(w, "data: {\"type\":\"response.completed\",\"response\":{\"id\":\"resp_%d\",\"usage\":{\"input_tokens\":50,\"output_tokens\":10}}}\n\n", call)
}

type capturedHook struct {
	mu      sync.Mutex
	payload map[string]any
	headers http.Header
}

func newCapturedHook(t *testing.T) (*capturedHook, *httptest.Server) {
	hook := &capturedHook{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		hook.mu.Lock()
		defer hook.mu.Unlock()
		hook.headers = r.Header.Clone()
		require.NoError(t, json.Unmarshal(body, &hook.payload))
	}))
	t.Cleanup(server.Close)
	return hook, server
}

type fixture struct {
	controller *Controller
	jobs       *recordstore.MemoryJobStore
	usageStore *recordstore.MemoryUsageStore
	artifacts  *artifacts.Service
}

func newFixture(t *testing.T, providerURL string, workflow *models.Workflow, submission *models.Submission, form *models.Form) fixture {
	jobs := recordstore.NewMemoryJobStore()
	artifactRecords := recordstore.NewMemoryArtifactStore()
	usageStore := recordstore.NewMemoryUsageStore()
	artifactSvc := artifacts.NewService(artifactRecords, nil, nil)
	client := llm.NewClient("test-key", providerURL, nil, nil)

	stores := recordstore.StoreSet{
		Jobs:        jobs,
		Submissions: recordstore.NewMemorySubmissionStore(map[string]*models.Submission{submission.ID: submission}),
		Forms:       recordstore.NewMemoryFormStore(map[string]*models.Form{form.ID: form}),
		Workflows:   recordstore.NewMemoryWorkflowStore(map[string]*models.Workflow{workflow.ID: workflow}),
		Templates:   recordstore.NewMemoryTemplateStore(nil),
		Artifacts:   artifactRecords,
		Usage:       usageStore,
	}

	n := 0
	ctrl := &Controller{
		Stores:    stores,
		Executor:  &executor.StepExecutor{Jobs: jobs, Artifacts: artifactSvc, LLM: client, Costs: usage.NewCalculator()},
		Artifacts: artifactSvc,
		LLM:       client,
		IDFunc: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
	return fixture{controller: ctrl, jobs: jobs, usageStore: usageStore, artifacts: artifactSvc}
}

func seedJob(t *testing.T, jobs *recordstore.MemoryJobStore, workflowID, submissionID string) *models.Job {
	job := &models.Job{
		ID:           "job-1",
		TenantID:     "tenant-1",
		WorkflowID:   workflowID,
		SubmissionID: submissionID,
		Status:       models.JobStatusPending,
	}
	require.NoError(t, jobs.Create(context.Background(), job))
	return job
}

func TestRunBatchSingleStepWebhookDelivery(t *testing.T) {
	provider := newFakeProvider("Ada wants a course on dragons.")
	defer provider.server.Close()
	hook, hookServer := newCapturedHook(t)

	workflow := &models.Workflow{
		ID: "wf-1",
		Steps: []models.Step{{
			StepOrder:    1,
			StepName:     "Summarize",
			StepType:     models.StepTypeAIGeneration,
			Model:        "gpt-5",
			Instructions: "Summarize the form as one paragraph.",
			ToolChoice:   models.ToolChoiceAuto,
		}},
		Delivery: models.DeliveryConfig{
			Method:         models.DeliveryMethodWebhook,
			WebhookURL:     hookServer.URL,
			WebhookHeaders: map[string]string{"X-Token": "abc"},
		},
	}
	submission := &models.Submission{ID: "sub-1", FormID: "form-1", Data: map[string]any{"name": "Ada", "email": "a@b", "topic": "dragons"}}
	form := &models.Form{ID: "form-1", Fields: []models.FormField{{ID: "name", Label: "Name"}, {ID: "email", Label: "Email"}, {ID: "topic", Label: "Topic"}}}

	fx := newFixture(t, provider.server.URL, workflow, submission, form)
	seedJob(t, fx.jobs, workflow.ID, submission.ID)

	require.NoError(t, fx.controller.RunBatch(context.Background(), "job-1"))

	job, err := fx.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.LiveStep)

	var types []models.ExecutionStepType
	for _, s := range job.ExecutionSteps {
		types = append(types, s.StepType)
	}
	assert.Equal(t, []models.ExecutionStepType{
		models.ExecutionStepFormSubmission,
		models.ExecutionStepAIGeneration,
		models.ExecutionStepFinalOutput,
	}, types)
	assert.Equal(t, "Ada wants a course on dragons.", job.ExecutionSteps[1].Output)

	finals, err := fx.artifacts.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	var finalMD *models.Artifact
	for _, a := range finals {
		if a.ArtifactType == models.ArtifactTypeMarkdownFinal {
			finalMD = a
		}
	}
	require.NotNil(t, finalMD)
	assert.Equal(t, "final.md", finalMD.ArtifactName)

	records, err := fx.usageStore.ListByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 50, records[0].InputTokens)
	assert.Equal(t, 10, records[0].OutputTokens)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.NotNil(t, hook.payload)
	assert.Equal(t, "abc", hook.headers.Get("X-Token"))
	assert.Equal(t, "job-1", hook.payload["job_id"])
	assert.Equal(t, "completed", hook.payload["status"])
	assert.Equal(t, "Ada", hook.payload["lead_name"])
	assert.Equal(t, "dragons", hook.payload["submission_topic"])
	assert.Equal(t, job.OutputURL, hook.payload["output_url"])
}

func TestRunBatchFailedStepBlocksDependents(t *testing.T) {
	provider := newFakeProvider("unused")
	provider.status = http.StatusUnauthorized
	defer provider.server.Close()

	workflow := &models.Workflow{
		ID: "wf-1",
		Steps: []models.Step{
			{StepOrder: 1, StepName: "Research", StepType: models.StepTypeAIGeneration, Model: "gpt-5", ToolChoice: models.ToolChoiceAuto},
			{StepOrder: 2, StepName: "Write", StepType: models.StepTypeAIGeneration, Model: "gpt-5", ToolChoice: models.ToolChoiceAuto, DependsOn: []int{0}},
		},
	}
	submission := &models.Submission{ID: "sub-1", FormID: "form-1", Data: map[string]any{"name": "Ada"}}
	form := &models.Form{ID: "form-1", Fields: []models.FormField{{ID: "name", Label: "Name"}}}

	fx := newFixture(t, provider.server.URL, workflow, submission, form)
	seedJob(t, fx.jobs, workflow.ID, submission.ID)

	require.NoError(t, fx.controller.RunBatch(context.Background(), "job-1"))

	job, err := fx.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	// An AI step failure does not fail the job; dependents are skipped.
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	byOrder := map[int]models.ExecutionStep{}
	for _, s := range job.ExecutionSteps {
		if s.StepType == models.ExecutionStepAIGeneration {
			byOrder[s.StepOrder] = s
		}
	}
	require.Contains(t, byOrder, 1)
	require.Contains(t, byOrder, 2)
	assert.False(t, byOrder[1].Success)
	require.NotNil(t, byOrder[1].Error)
	assert.Equal(t, "authentication", byOrder[1].Error.Kind)
	assert.False(t, byOrder[2].Success)
	require.NotNil(t, byOrder[2].Error)
	assert.Contains(t, byOrder[2].Error.Message, "skipped")
}

func TestRunStepRerunReplacesInPlace(t *testing.T) {
	provider := newFakeProvider("A", "B")
	defer provider.server.Close()

	workflow := &models.Workflow{
		ID: "wf-1",
		Steps: []models.Step{{
			StepOrder: 1, StepName: "Write", StepType: models.StepTypeAIGeneration,
			Model: "gpt-5", ToolChoice: models.ToolChoiceAuto,
		}},
	}
	submission := &models.Submission{ID: "sub-1", FormID: "form-1", Data: map[string]any{"name": "Ada"}}
	form := &models.Form{ID: "form-1", Fields: []models.FormField{{ID: "name", Label: "Name"}}}

	fx := newFixture(t, provider.server.URL, workflow, submission, form)
	seedJob(t, fx.jobs, workflow.ID, submission.ID)

	first, err := fx.controller.RunStep(context.Background(), "job-1", 0)
	require.NoError(t, err)
	assert.True(t, first.Success)

	job, err := fx.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	lenBefore := len(job.ExecutionSteps)
	assert.Equal(t, "A", job.ExecutionSteps[1].Output)

	second, err := fx.controller.RunStep(context.Background(), "job-1", 0)
	require.NoError(t, err)
	assert.True(t, second.Success)

	job, err = fx.jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Len(t, job.ExecutionSteps, lenBefore)
	assert.Equal(t, "B", job.ExecutionSteps[1].Output)
}

func TestRenderWebhookPayloadSubstitutesStepRefs(t *testing.T) {
	steps := []models.ExecutionStep{
		{StepOrder: 1, StepType: models.ExecutionStepAIGeneration, Output: "MARKET: demand 7/10"},
	}
	template := map[string]any{
		"summary": "Research said: {{step:1}}",
		"nested":  []any{"{{ step:1 }}"},
		"number":  float64(3),
	}

	rendered := renderWebhookPayload(template, steps).(map[string]any)
	assert.Equal(t, "Research said: MARKET: demand 7/10", rendered["summary"])
	assert.Equal(t, []any{"MARKET: demand 7/10"}, rendered["nested"])
	assert.Equal(t, float64(3), rendered["number"])
}

func TestClassifyFinalError(t *testing.T) {
	assert.Equal(t, "validation", classifyFinalError(fmt.Errorf("step 2 not ready")))
	assert.Equal(t, "computer_loop", classifyFinalError(fmt.Errorf("aborted: loop_detected")))
	assert.Equal(t, "shell_budget", classifyFinalError(fmt.Errorf("shell loop exhausted 25 iterations")))
	assert.Equal(t, "unknown", classifyFinalError(fmt.Errorf("boom")))
}

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

func TestRenderFormSubmissionUsesLabels(t *testing.T) {
	form := &models.Form{Fields: []models.FormField{
		{ID: "f1", Label: "Full Name"},
		{ID: "f2", Label: "Email"},
	}}
	submission := &models.Submission{Data: map[string]any{"f1": "Ada Lovelace", "f2": "ada@example.com"}}

	out := RenderFormSubmission(form, submission)
	assert.Equal(t, "Full Name: Ada Lovelace\nEmail: ada@example.com", out)
}

func TestRenderFormSubmissionFallsBackToIDForUnknownField(t *testing.T) {
	form := &models.Form{Fields: []models.FormField{{ID: "f1", Label: "Full Name"}}}
	submission := &models.Submission{Data: map[string]any{"f1": "Ada", "extra_field": "value"}}

	out := RenderFormSubmission(form, submission)
	assert.Contains(t, out, "Full Name: Ada")
	assert.Contains(t, out, "extra_field: value")
}

func TestBuildInputTextDegeneratesWithEmptyPreviousContext(t *testing.T) {
	assert.Equal(t, "hello", BuildInputText("hello", ""))
	assert.Equal(t, "hello", BuildInputText("hello", "   "))
}

func TestBuildInputTextJoinsBoth(t *testing.T) {
	out := BuildInputText("current", "previous")
	assert.Equal(t, "previous\ncurrent", out)
}

func TestCollectImageURLsOnlyStrictlyEarlier(t *testing.T) {
	steps := []models.ExecutionStep{
		{StepOrder: 1, ImageURLs: []string{"https://a"}},
		{StepOrder: 2, ImageURLs: []string{"https://b", ""}},
		{StepOrder: 3, ImageURLs: []string{"https://c"}},
	}
	urls := CollectImageURLs(steps, 3)
	assert.Equal(t, []string{"https://a", "https://b"}, urls)
}

func TestBuildPreviousContextFencing(t *testing.T) {
	out := BuildPreviousContext("name: Ada", []DependencyBlock{
		{StepOrder: 1, StepName: "Draft", Output: "draft text", ImageURLs: []string{"https://img"}},
	})
	assert.Contains(t, out, "=== Form Submission ===\nname: Ada")
	assert.Contains(t, out, "=== Step 1: Draft ===\ndraft text")
	assert.Contains(t, out, "Generated Images:\n- https://img")
}

func TestMergeExecutionStepReplacesInPlace(t *testing.T) {
	existing := []models.ExecutionStep{
		{StepOrder: 1, StepType: models.ExecutionStepFormSubmission, Output: "form"},
		{StepOrder: 2, StepType: models.ExecutionStepAIGeneration, Output: "first run"},
	}
	next := models.ExecutionStep{StepOrder: 2, StepType: models.ExecutionStepAIGeneration, Output: "rerun"}

	merged := MergeExecutionStep(existing, next)
	assert.Len(t, merged, 2)
	assert.Equal(t, "rerun", merged[1].Output)
	assert.Equal(t, "form", merged[0].Output)
}

func TestMergeExecutionStepAppendsNew(t *testing.T) {
	existing := []models.ExecutionStep{{StepOrder: 1, StepType: models.ExecutionStepFormSubmission}}
	next := models.ExecutionStep{StepOrder: 2, StepType: models.ExecutionStepAIGeneration}
	merged := MergeExecutionStep(existing, next)
	assert.Len(t, merged, 2)
}

package controller

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"io"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/artifacts"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/delivery"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/executor"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
)

// htmlAssemblyInstructions is the system prompt for the HTML-assembly
// call: it takes the template HTML, the template's
// style description, the submission data, and the concatenated step
// context, and asks for a complete HTML document with markdown fences
// stripped.
const htmlAssemblyInstructions = `You are assembling a final HTML deliverable from a published template and generated content.

Produce a single, complete HTML document. Follow the template's structure and the described style. Insert the generated content from the workflow steps in the appropriate places. Do not include any markdown code fences (no ` + "```" + ` blocks); output raw HTML only, starting with <!DOCTYPE html> or <html>.`

// looksLikeHTML reports whether s already looks like a rendered HTML
// document.
func looksLikeHTML(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "<")
}

var fencedCodeBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")

// stripMarkdownFences removes fenced code blocks' delimiters, keeping
// their inner content only ("HTML
// beautification semantics beyond stripping fenced code blocks and
// tags when extracting text").
func stripMarkdownFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	return fencedCodeBlock.ReplaceAllString(s, "$1")
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// extractText strips HTML tags and fenced code-block delimiters from
// mime-typed artifact content, for the webhook "context" block.
func extractText(mimeType string, content []byte) string {
	s := stripMarkdownFences(string(content))
	if strings.Contains(mimeType, "html") {
		s = htmlTagPattern.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// lastCompletedStep returns the highest-step_order ExecutionStep among
// those that actually ran (ai_generation or webhook).
func lastCompletedStep(steps []models.ExecutionStep) (models.ExecutionStep, bool) {
	var best models.ExecutionStep
	found := false
	for _, s := range steps {
		if s.StepType != models.ExecutionStepAIGeneration && s.StepType != models.ExecutionStepWebhook {
			continue
		}
		if !s.Success {
			continue
		}
		if !found || s.StepOrder > best.StepOrder {
			best, found = s, true
		}
	}
	return best, found
}

// concatenatedStepContext joins every completed step's output with its
// name header, in step_order order, for the HTML-assembly call's input.
func concatenatedStepContext(steps []models.ExecutionStep) string {
	ordered := make([]models.ExecutionStep, len(steps))
	copy(ordered, steps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].StepOrder < ordered[j].StepOrder })

	var b strings.Builder
	for _, s := range ordered {
		if s.StepType != models.ExecutionStepAIGeneration && s.StepType != models.ExecutionStepFormSubmission {
			continue
		}
		if s.Output == "" {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", s.StepName, s.Output)
	}
	return b.String()
}

// assembleFinal optionally renders
// an HTML document against a published Template, persists the final
// artifact (html_final or markdown_final), sets job.OutputURL, and
// appends the final_output ExecutionStep.
func (c *Controller) assembleFinal(ctx context.Context, job *models.Job, workflow *models.Workflow, submission *models.Submission, form *models.Form) error {
	last, ok := lastCompletedStep(job.ExecutionSteps)
	finalText := ""
	if ok {
		finalText = last.Output
	}

	artifactType := models.ArtifactTypeMarkdownFinal
	artifactName := "final.md"
	mimeType := "text/markdown"
	content := finalText

	var template *models.Template
	if workflow.TemplateID != "" {
		t, err := c.Stores.Templates.Get(ctx, workflow.TemplateID)
		if err == nil && t.IsPublished {
			template = t
		}
	}

	if template != nil {
		if looksLikeHTML(finalText) {
			content = finalText
		} else {
			assembled, err := c.runHTMLAssembly(ctx, template, submission, job.ExecutionSteps)
			if err != nil {
				return fmt.Errorf("Failed to generate HTML: %w", err)
			}
			content = assembled
		}
		artifactType = models.ArtifactTypeHTMLFinal
		artifactName = "final.html"
		mimeType = "text/html"
	}

	start := time.Now()
	var artifactID, publicURL string
	if c.Artifacts != nil {
		artifact, err := c.Artifacts.Put(ctx, artifacts.PutParams{
			TenantID:     job.TenantID,
			JobID:        job.ID,
			ArtifactType: artifactType,
			Name:         artifactName,
			MimeType:     mimeType,
			Data:         []byte(content),
		})
		if err != nil {
			return fmt.Errorf("persist final artifact: %w", err)
		}
		artifactID = artifact.ArtifactID
		publicURL = artifact.PublicURL
		job.ArtifactIDs = appendUnique(job.ArtifactIDs, artifactID)
	}

	job.OutputURL = publicURL

	job.ExecutionSteps = executor.MergeExecutionStep(job.ExecutionSteps, models.ExecutionStep{
		StepOrder:  last.StepOrder + 1,
		StepType:   models.ExecutionStepFinalOutput,
		StepName:   "Final Output",
		Output:     content,
		ArtifactID: artifactID,
		Timestamp:  time.Now(),
		DurationMS: time.Since(start).Milliseconds(),
		Success:    true,
	})

	return c.Stores.Jobs.Update(ctx, job)
}

// runHTMLAssembly calls the LLM with the template HTML, style
// description, submission data, and concatenated step context, and
// strips any markdown fences from the result.
func (c *Controller) runHTMLAssembly(ctx context.Context, template *models.Template, submission *models.Submission, steps []models.ExecutionStep) (string, error) {
	if c.LLM == nil {
		return "", fmt.Errorf("no LLM client configured for HTML assembly")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TEMPLATE HTML:\n%s\n\n", template.HTML)
	fmt.Fprintf(&b, "STYLE DESCRIPTION:\n%s\n\n", template.StyleDesc)
	fmt.Fprintf(&b, "SUBMISSION DATA:\n")
	for k, v := range submission.Data {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	fmt.Fprintf(&b, "\nGENERATED CONTENT:\n%s", concatenatedStepContext(steps))

	params := llm.BuildParams(llm.BuildParamsInput{
		Model:        "gpt-5",
		Instructions: htmlAssemblyInstructions,
		InputText:    b.String(),
	})

	resp, err := c.LLM.Call(ctx, params)
	if err != nil {
		return "", err
	}
	return stripMarkdownFences(strings.TrimSpace(resp.Text)), nil
}

// runDelivery dispatches the workflow's configured delivery method
//. Delivery failures are logged and never flip the job's
// terminal status.
func (c *Controller) runDelivery(ctx context.Context, job *models.Job, workflow *models.Workflow, submission *models.Submission) {
	artifactList, err := c.Stores.Artifacts.ListByJob(ctx, job.ID)
	if err != nil {
		c.logger().Warn("delivery: failed to list artifacts", "job_id", job.ID, "error", err)
	}

	switch workflow.Delivery.Method {
	case models.DeliveryMethodWebhook:
		contextText := c.buildDeliveryContext(ctx, job, artifactList)
		c.deliverWebhook(ctx, job, workflow, submission, artifactList, contextText)
	case models.DeliveryMethodSMS:
		c.deliverSMS(ctx, job, submission)
	}
}

func (c *Controller) deliverWebhook(ctx context.Context, job *models.Job, workflow *models.Workflow, submission *models.Submission, artifactList []*models.Artifact, contextText string) {
	webhookURL := workflow.Delivery.WebhookURL
	if webhookURL == "" {
		return
	}

	var imageURLs []string
	for _, a := range artifactList {
		if a.ArtifactType == models.ArtifactTypeImage && a.PublicURL != "" {
			imageURLs = append(imageURLs, a.PublicURL)
		}
	}

	payload := delivery.BuildWebhookPayload(delivery.WebhookPayloadInput{
		Job:            job,
		WorkflowID:     workflow.ID,
		SubmissionData: submission.Data,
		Artifacts:      artifactList,
		Context:        contextText,
		ImageURLs:      imageURLs,
	})

	if err := delivery.PostWebhook(ctx, webhookURL, workflow.Delivery.WebhookHeaders, payload); err != nil {
		c.logger().Warn("webhook delivery failed", "job_id", job.ID, "error", err)
		observability.EmitDelivery(observability.EventTypeDeliveryFailed, &observability.DeliveryEvent{
			JobID:  job.ID,
			Method: string(models.DeliveryMethodWebhook),
			Error:  err.Error(),
		})
		return
	}
	observability.EmitDelivery(observability.EventTypeDeliverySent, &observability.DeliveryEvent{
		JobID:  job.ID,
		Method: string(models.DeliveryMethodWebhook),
	})
}

func (c *Controller) deliverSMS(ctx context.Context, job *models.Job, submission *models.Submission) {
	if c.SMS == nil {
		c.logger().Warn("sms delivery skipped: no SMS sender configured", "job_id", job.ID)
		return
	}
	_, err := delivery.SendSMSDelivery(ctx, c.SMS, c.SMSFrom, delivery.SMSBodyInput{
		Job:            job,
		SubmissionData: submission.Data,
	}, c.LLM)
	if err != nil {
		c.logger().Warn("sms delivery failed", "job_id", job.ID, "error", err)
		observability.EmitDelivery(observability.EventTypeDeliveryFailed, &observability.DeliveryEvent{
			JobID:  job.ID,
			Method: string(models.DeliveryMethodSMS),
			Error:  err.Error(),
		})
		return
	}
	observability.EmitDelivery(observability.EventTypeDeliverySent, &observability.DeliveryEvent{
		JobID:  job.ID,
		Method: string(models.DeliveryMethodSMS),
	})
}

// buildDeliveryContext concatenates the labeled form submission (held
// on the step-0 ExecutionStep) and the extracted text of every
// markdown/html artifact.
func (c *Controller) buildDeliveryContext(ctx context.Context, job *models.Job, artifactList []*models.Artifact) string {
	var b strings.Builder
	for _, s := range job.ExecutionSteps {
		if s.StepType == models.ExecutionStepFormSubmission {
			b.WriteString("=== Form Submission ===\n")
			b.WriteString(s.Output)
			b.WriteString("\n\n")
		}
	}
	for _, a := range artifactList {
		switch a.ArtifactType {
		case models.ArtifactTypeMarkdownFinal, models.ArtifactTypeHTMLFinal, models.ArtifactTypeReportMarkdown:
			fmt.Fprintf(&b, "=== %s ===\n", a.ArtifactName)
			if c.Artifacts != nil {
				if text, err := c.readArtifactText(ctx, a); err == nil {
					b.WriteString(text)
					b.WriteString("\n\n")
				}
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// readArtifactText fetches an artifact's bytes and extracts its text
// (stripping fences/tags per extractText).
func (c *Controller) readArtifactText(ctx context.Context, a *models.Artifact) (string, error) {
	_, rc, err := c.Artifacts.Get(ctx, a.ArtifactID)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return extractText(a.MimeType, data), nil
}

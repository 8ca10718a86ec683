// Package executor implements the Step Executor and its Context
// Builder sub-component: gating a step's execution on
// its dependencies, assembling the text/image context the provider
// sees, dispatching to a strategy, and persisting the result.
package executor

import (
	"fmt"
	"strings"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

// RenderFormSubmission renders a submission's answers as a labeled
// list, one `<field_label>: <field_value>` line per field, using the
// Form's field-id -> label mapping; fields absent from the Form are
// rendered by their raw id.
func RenderFormSubmission(form *models.Form, submission *models.Submission) string {
	labels := make(map[string]string, len(form.Fields))
	order := make([]string, 0, len(form.Fields))
	for _, f := range form.Fields {
		labels[f.ID] = f.Label
		order = append(order, f.ID)
	}

	seen := make(map[string]bool, len(submission.Data))
	var lines []string
	for _, id := range order {
		v, ok := submission.Data[id]
		if !ok {
			continue
		}
		seen[id] = true
		lines = append(lines, fmt.Sprintf("%s: %s", labels[id], formatValue(v)))
	}
	// Fields present in the submission but absent from the Form render
	// by their raw id, in a stable (sorted) order.
	var extra []string
	for id := range submission.Data {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sortStrings(extra)
	for _, id := range extra {
		lines = append(lines, fmt.Sprintf("%s: %s", id, formatValue(submission.Data[id])))
	}

	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// DependencyBlock is one fenced section of previous context: either the
// form submission (N==0) or a completed step's output (N>=1).
type DependencyBlock struct {
	StepOrder int
	StepName  string
	IsForm    bool
	Output    string
	ImageURLs []string
}

// BuildPreviousContext concatenates the form submission and the
// requested dependency steps' outputs into the fenced block format the
// provider sees. Blocks must already be in step_order order; this
// function does not sort.
func BuildPreviousContext(formSubmission string, deps []DependencyBlock) string {
	var b strings.Builder
	b.WriteString("=== Form Submission ===\n")
	b.WriteString(formSubmission)
	b.WriteString("\n")

	for _, d := range deps {
		b.WriteString(fmt.Sprintf("\n=== Step %d: %s ===\n", d.StepOrder, d.StepName))
		b.WriteString(d.Output)
		b.WriteString("\n")
		if len(d.ImageURLs) > 0 {
			b.WriteString("\nGenerated Images:\n")
			for _, url := range d.ImageURLs {
				b.WriteString("- " + url + "\n")
			}
		}
	}
	return b.String()
}

// BuildInputText joins the current step's raw input (the labeled form
// submission on step 0, empty afterward) with the assembled previous
// context. An empty previousContext degenerates cleanly to exactly
// context.
func BuildInputText(context, previousContext string) string {
	if strings.TrimSpace(previousContext) == "" {
		return context
	}
	if strings.TrimSpace(context) == "" {
		return previousContext
	}
	return previousContext + "\n" + context
}

// CollectImageURLs walks the ExecutionStep list for steps strictly
// earlier than currentStepIndex, collecting non-empty image URLs in
// step_order order.
func CollectImageURLs(steps []models.ExecutionStep, currentStepIndex int) []string {
	var urls []string
	for _, s := range steps {
		if s.StepOrder >= currentStepIndex {
			continue
		}
		for _, u := range s.ImageURLs {
			if strings.TrimSpace(u) != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

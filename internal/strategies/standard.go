package strategies

import (
	"context"
	"strings"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

// LivePreviewSink receives incremental text and a terminal status as
// the standard strategy streams, so the caller can write them onto the
// job's LiveStep.
type LivePreviewSink func(text string, status models.LiveStepStatus, truncated bool)

// RunStandard streams a Responses API call and folds the result into a
// StepOutput.
func RunStandard(ctx context.Context, client *llm.Client, params llm.Params, costs costCalculator, sink LivePreviewSink) (StepOutput, error) {
	events, err := client.Stream(ctx, params)
	if err != nil {
		return StepOutput{}, err
	}

	var text strings.Builder
	var usage models.Usage
	var rawReq, rawResp []byte

	for ev := range events {
		switch ev.Type {
		case "output_text.delta":
			text.WriteString(ev.TextDelta)
			if sink != nil {
				preview, truncated := tailCap(text.String(), models.LiveStepCapChars)
				sink(preview, models.LiveStepStreaming, truncated)
			}
		case "response.completed":
			if ev.Response != nil && ev.Response.Usage != nil {
				usage.InputTokens = ev.Response.Usage.InputTokens
				usage.OutputTokens = ev.Response.Usage.OutputTokens
				if costs != nil {
					usage.CostUSD = costs.Calculate(params.Model, usage.InputTokens, usage.OutputTokens)
				}
			}
		case "error":
			if sink != nil {
				preview, truncated := tailCap(text.String(), models.LiveStepCapChars)
				sink(preview, models.LiveStepError, truncated)
			}
			return StepOutput{}, ev.Err
		}
	}

	if sink != nil {
		preview, truncated := tailCap(text.String(), models.LiveStepCapChars)
		sink(preview, models.LiveStepFinal, truncated)
	}

	out := StepOutput{
		Kind:        KindStandard,
		Text:        text.String(),
		Usage:       usage,
		RawRequest:  rawReq,
		RawResponse: rawResp,
	}
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		out.CallUsages = []models.Usage{usage}
	}
	return out, nil
}

// costCalculator is the minimal surface RunStandard needs from
// usage.Calculator, kept local to avoid an import cycle on the usage
// package's richer surface.
type costCalculator interface {
	Calculate(model string, inputTokens, outputTokens int) float64
}

// tailCap returns the tail of s capped at maxChars, and whether
// truncation occurred.
func tailCap(s string, maxChars int) (string, bool) {
	if len(s) <= maxChars {
		return s, false
	}
	return s[len(s)-maxChars:], true
}

// Package computerloop drives the multi-turn "provider issues
// computer_call GUI actions -> we execute against a browser sandbox ->
// we feed back a screenshot" loop.
package computerloop

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/images"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/media"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/strategies"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools/computeruse"
)

// sandboxActionAttempts and sandboxActionRetryDelay govern the one
// extra attempt a transient sandbox failure gets before the loop gives
// up on an action. State is preserved: the sandbox isn't recreated,
// only the single Execute call repeats, after a jittered half-second
// delay.
const (
	sandboxActionAttempts   = 2
	sandboxActionRetryDelay = 500 * time.Millisecond
)

// retrySandboxAction runs execute up to sandboxActionAttempts times,
// waiting sandboxActionRetryDelay (jittered) between attempts. It
// returns the last error once attempts are exhausted, or ctx.Err() if
// the context is cancelled first.
func retrySandboxAction(ctx context.Context, execute func() error) error {
	var lastErr error
	for attempt := 1; attempt <= sandboxActionAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = execute()
		if lastErr == nil {
			return nil
		}
		if attempt == sandboxActionAttempts {
			break
		}
		jitterFactor := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
		delay := time.Duration(float64(sandboxActionRetryDelay) * jitterFactor)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// Loop budget defaults.
const (
	DefaultMaxIterations = 100
	DefaultMaxDuration   = 15 * time.Minute
	signatureHistoryLen  = 15
)

// loopDetectThreshold maps an action type to the number of matching
// trailing signatures that trips loop detection.
var loopDetectThreshold = map[string]int{
	"click":        3,
	"double_click": 3,
	"type":         3,
	"navigate":     3,
	"drag":         3,
	"hover":        3,
	"scroll":       10,
	"keypress":     10,
	"wait":         10,
}

// postActionSleep maps an action type to its post-action settle delay.
var postActionSleep = map[string]time.Duration{
	"click":        1500 * time.Millisecond,
	"double_click": 1500 * time.Millisecond,
	"hover":        1500 * time.Millisecond,
	"drag":         1500 * time.Millisecond,
	"type":         1500 * time.Millisecond,
	"keypress":     1500 * time.Millisecond,
	"navigate":     2 * time.Second,
	"scroll":       800 * time.Millisecond,
	"screenshot":   0,
}

const defaultPostActionSleep = 1 * time.Second

// ArtifactUploader persists the annotated screenshot as an image
// artifact, returning its artifact id and public URL; both are
// collected onto the step's output so the screenshots are recorded
// against the job, not just stored.
type ArtifactUploader func(ctx context.Context, annotatedJPEG []byte) (artifactID, publicURL string, err error)

// Input carries everything Run needs for one computer-use execution.
type Input struct {
	Sandbox         computeruse.Sandbox
	Client          *llm.Client
	Params          llm.Params
	DisplayWidth    int
	DisplayHeight   int
	TaskText        string
	ShellAlsoAvailable bool
	MaxIterations   int
	MaxDuration     time.Duration
	Upload          ArtifactUploader
	Logger          *slog.Logger
}

// Result is what the loop produced once the provider stopped issuing
// computer_call actions, the loop-detection rule tripped, or the
// budget ran out.
type Result struct {
	Output           strategies.StepOutput
	IterationsUsed   int
	LoopDetected     bool
	BudgetExceeded   bool
}

// Run drives the computer-use loop.
func Run(ctx context.Context, in Input) (Result, error) {
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxIterations := in.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	maxDuration := in.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	width, height := in.DisplayWidth, in.DisplayHeight
	if width <= 0 {
		width = computeruse.DefaultDisplayWidth
	}
	if height <= 0 {
		height = computeruse.DefaultDisplayHeight
	}

	if err := in.Sandbox.Resize(ctx, width, height); err != nil {
		return Result{}, fmt.Errorf("resize sandbox: %w", err)
	}

	if target, ok := firstURLOrHost(in.TaskText); ok {
		if err := in.Sandbox.Navigate(ctx, target); err != nil {
			return Result{}, fmt.Errorf("initial navigate: %w", err)
		}
	}

	params := in.Params
	params.Instructions = augmentForToolCoexistence(params.Instructions, in.ShellAlsoAvailable)

	deadline := time.Now().Add(maxDuration)
	var signatures []string
	var usage models.Usage
	var callUsages []models.Usage
	var imageArtifactIDs, imageURLs []string

	// partialOutput carries whatever the loop accumulated (usage,
	// screenshot artifacts) onto the step record even when the loop
	// ends in an error.
	partialOutput := func(text string) strategies.StepOutput {
		return strategies.StepOutput{
			Kind:             strategies.KindComputerUse,
			Text:             text,
			Usage:            usage,
			CallUsages:       callUsages,
			ImageURLs:        imageURLs,
			ImageArtifactIDs: imageArtifactIDs,
		}
	}

	// normalizeCapture bounds a raw sandbox capture before it is
	// inlined into a computer_call_output payload.
	normalizeCapture := func(capture []byte) ([]byte, string) {
		norm, normErr := media.Normalize(capture, media.Options{})
		if normErr != nil {
			logger.Warn("screenshot normalization failed, using raw capture", "error", normErr)
			return capture, "image/png"
		}
		return norm.Data, norm.ContentType
	}

	initial, err := in.Sandbox.Screenshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("initial screenshot: %w", err)
	}
	initialData, initialType := normalizeCapture(initial.ScreenshotPNG)
	params.Input = buildInitialInput(params.Instructions, initialData, initialType)

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if time.Now().After(deadline) {
			observability.EmitLoop(observability.EventTypeBudgetExhausted, &observability.LoopEvent{
				JobID:     observability.GetJobID(ctx),
				StepOrder: observability.GetStepIndex(ctx) + 1,
				Loop:      "computer_use",
				Reason:    "wall_clock",
				Iteration: iteration - 1,
			})
			return Result{Output: partialOutput(""), IterationsUsed: iteration - 1, BudgetExceeded: true}, fmt.Errorf("computer-use loop exceeded wall-clock budget of %s", maxDuration)
		}

		resp, err := in.Client.Call(ctx, params)
		if err != nil {
			return Result{Output: partialOutput(""), IterationsUsed: iteration}, err
		}
		callUsage := models.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
		callUsages = append(callUsages, callUsage)
		usage.InputTokens += callUsage.InputTokens
		usage.OutputTokens += callUsage.OutputTokens

		if len(resp.ComputerCalls) == 0 {
			return Result{
				Output:         partialOutput(resp.Text),
				IterationsUsed: iteration,
			}, nil
		}

		turnItems := make([]llm.InputItem, 0, len(resp.ComputerCalls))
		for _, call := range resp.ComputerCalls {
			action, decodeErr := computeruse.ParseAction(call.Action)
			if decodeErr != nil {
				logger.Warn("malformed computer_call action skipped", "error", decodeErr)
				continue
			}

			signature := canonicalSignature(action)
			signatures = append(signatures, signature)
			if len(signatures) > signatureHistoryLen {
				signatures = signatures[len(signatures)-signatureHistoryLen:]
			}
			if detectLoop(signatures, action.Type) {
				observability.EmitLoop(observability.EventTypeLoopDetected, &observability.LoopEvent{
					JobID:     observability.GetJobID(ctx),
					StepOrder: observability.GetStepIndex(ctx) + 1,
					Loop:      "computer_use",
					Reason:    "loop_detected",
					Iteration: iteration,
				})
				return Result{Output: partialOutput(""), IterationsUsed: iteration, LoopDetected: true}, fmt.Errorf("loop_detected: action %q repeated", action.Type)
			}

			if action.Type == "navigate" && action.URL != "" {
				if err := in.Sandbox.Navigate(ctx, action.URL); err != nil {
					logger.Warn("navigate action failed", "error", err)
				}
			}

			var result computeruse.Result
			execErr := retrySandboxAction(ctx, func() error {
				var err error
				result, err = in.Sandbox.Execute(ctx, action)
				return err
			})
			if execErr != nil {
				return Result{Output: partialOutput(""), IterationsUsed: iteration}, fmt.Errorf("execute computer_call action %q: %w", action.Type, execErr)
			}

			sleepFor(ctx, action.Type)

			annotation := images.ActionAnnotation{Type: action.Type, X: action.X, Y: action.Y}
			if action.Type == "drag" && len(action.Path) >= 2 {
				annotation.StartX, annotation.StartY = action.Path[0].X, action.Path[0].Y
				annotation.EndX, annotation.EndY = action.Path[len(action.Path)-1].X, action.Path[len(action.Path)-1].Y
			}

			annotated, overlayErr := images.Overlay(result.ScreenshotPNG, annotation)
			if overlayErr != nil {
				logger.Warn("screenshot overlay failed", "error", overlayErr)
				annotated = result.ScreenshotPNG
			}
			if in.Upload != nil {
				if artifactID, publicURL, uploadErr := in.Upload(ctx, annotated); uploadErr != nil {
					logger.Warn("annotated screenshot upload failed", "error", uploadErr)
				} else {
					imageArtifactIDs = append(imageArtifactIDs, artifactID)
					if publicURL != "" {
						imageURLs = append(imageURLs, publicURL)
					}
				}
			}

			acks := acknowledgeSafetyChecks(call.PendingSafetyChecks, logger)

			cleanData, cleanType := normalizeCapture(result.ScreenshotPNG)
			turnItems = append(turnItems, buildComputerCallOutputItem(call.CallID, cleanData, cleanType, acks))
		}

		// Chain the follow-up turn onto this response instead of a
		// generic role="user" message: the provider correlates each
		// computer_call_output by call_id against the computer_call it
		// issued in the response previous_response_id points at.
		params.PreviousResponseID = resp.ResponseID
		params.Input = turnItems
	}

	observability.EmitLoop(observability.EventTypeBudgetExhausted, &observability.LoopEvent{
		JobID:     observability.GetJobID(ctx),
		StepOrder: observability.GetStepIndex(ctx) + 1,
		Loop:      "computer_use",
		Reason:    "iterations",
		Iteration: maxIterations,
	})
	return Result{Output: partialOutput(""), IterationsUsed: maxIterations, BudgetExceeded: true}, fmt.Errorf("computer-use loop exhausted %d iterations", maxIterations)
}

func sleepFor(ctx context.Context, actionType string) {
	d, ok := postActionSleep[actionType]
	if !ok {
		d = defaultPostActionSleep
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// canonicalSignature hashes an action's type plus its geometric or key
// parameters into a comparable string.
func canonicalSignature(a computeruse.Action) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s|%d|%d|%s", a.Type, a.X, a.Y, a.Button, strings.Join(a.Keys, "+"), a.ScrollX, a.ScrollY, a.URL)
	return hex.EncodeToString(h.Sum(nil))
}

func detectLoop(signatures []string, actionType string) bool {
	n, ok := loopDetectThreshold[actionType]
	if !ok || len(signatures) < n {
		return false
	}
	tail := signatures[len(signatures)-n:]
	for _, s := range tail[1:] {
		if s != tail[0] {
			return false
		}
	}
	return true
}

func acknowledgeSafetyChecks(checks []llm.SafetyCheck, logger *slog.Logger) []llm.SafetyCheck {
	for _, c := range checks {
		logger.Info("acknowledging computer-use safety check", "id", c.ID, "code", c.Code, "message", c.Message)
	}
	return checks
}

// buildInitialInput seeds the first turn's input with the task
// instructions plus the initial normalized screenshot (text-only aside
// from the screenshot stream; computer-use-preview models reject other
// image inputs).
func buildInitialInput(instructions string, screenshot []byte, contentType string) []llm.InputMessage {
	return []llm.InputMessage{{
		Role: "user",
		Content: []llm.InputPart{
			{Type: "input_text", Text: instructions},
			{Type: "input_image", ImageURL: inlineImage(screenshot, contentType)},
		},
	}}
}

// buildComputerCallOutputItem builds the computer_call_output input
// item fed back to the provider after executing one action, correlated
// by call_id and carrying any safety-check acknowledgments the
// provider required.
func buildComputerCallOutputItem(callID string, screenshot []byte, contentType string, acks []llm.SafetyCheck) llm.InputItem {
	output, _ := json.Marshal(llm.ComputerScreenshotOutput{
		Type:     "computer_screenshot",
		ImageURL: inlineImage(screenshot, contentType),
	})
	item := llm.InputItem{
		Type:   "computer_call_output",
		CallID: callID,
		Output: output,
	}
	if len(acks) > 0 {
		item.AcknowledgedSafetyChecks = acks
	}
	return item
}

func inlineImage(data []byte, contentType string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// augmentForToolCoexistence appends the shell-preference instruction
// once, idempotently.
func augmentForToolCoexistence(instructions string, shellAvailable bool) string {
	const marker = "Prefer shell/network inspection for discoverable facts"
	if !shellAvailable || strings.Contains(instructions, marker) {
		return instructions
	}
	addendum := marker + " (DNS, HTTP); use the computer tool with full-URL navigate actions for everything else."
	return strings.TrimSpace(instructions) + "\n\n" + addendum
}

// firstURLOrHost finds the first http(s) URL or host-like token in
// text, for the "navigate there first" rule.
func firstURLOrHost(text string) (string, bool) {
	for _, field := range strings.Fields(text) {
		trimmed := strings.Trim(field, "()[]{}.,;:\"'")
		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			if _, err := url.Parse(trimmed); err == nil {
				return trimmed, true
			}
		}
		if looksLikeHost(trimmed) {
			return "https://" + trimmed, true
		}
	}
	return "", false
}

func looksLikeHost(s string) bool {
	if !strings.Contains(s, ".") || strings.Contains(s, " ") {
		return false
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return false
	}
	tld := parts[len(parts)-1]
	return len(tld) >= 2 && len(tld) <= 6 && strings.Trim(tld, "abcdefghijklmnopqrstuvwxyz") == ""
}

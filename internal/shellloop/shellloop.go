// Package shellloop runs the multi-turn "provider requests shell
// commands -> we execute -> we feed results back" loop against a
// tools/sandbox.Executor, until the provider returns final text or a
// budget is exhausted.
package shellloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/secrets"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/strategies"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools/sandbox"
)

// Loop budget defaults.
const (
	DefaultMaxIterations    = 25
	DefaultMaxDuration      = 14 * time.Minute
	DefaultOutputCapChars   = 4096
	DefaultLiveStepCapChars = models.LiveStepCapChars
)

// previewInterval and previewByteThreshold gate how often the live
// preview is pushed: at most once per 500ms or 512 new bytes,
// whichever comes first, always on a status transition.
const (
	previewInterval       = 500 * time.Millisecond
	previewByteThreshold  = 512
)

// Executor is the subset of tools/sandbox.Executor the loop drives.
type Executor interface {
	Reset(ctx context.Context, workspaceID string, env map[string]string) error
	RunCommand(ctx context.Context, workspaceID, command string, env map[string]string, timeout time.Duration) (*sandbox.CommandResult, error)
}

// ShellCallAction is the decoded shape of a shell_call output item's
// action: one or more commands the provider wants run.
type ShellCallAction struct {
	Commands []string `json:"commands"`
}

// LivePreviewSink receives the accumulated transcript as the loop runs,
// per the cadence described above.
type LivePreviewSink func(text string, status models.LiveStepStatus, truncated bool)

// Input carries everything Run needs for one shell-loop execution.
type Input struct {
	TenantID      string
	JobID         string
	StepIndex     int
	Params        llm.Params
	ToolChoice    string // the step's configured tool_choice; downgraded after turn 1
	MaxIterations int
	MaxDuration   time.Duration
	CommandTimeout time.Duration
	OutputCapChars int
	Secrets       secrets.Provider
	SecretNames   []string // tool-visible secret names to inject as env
	S3Upload      *S3UploadContext
}

// S3UploadContext is the structured block injected into the step's
// context when the instructions match the S3-upload convention.
// Built by the caller (the context builder / step executor)
// since it needs the previous step's artifact and an allow-list of
// buckets this package has no opinion on.
type S3UploadContext struct {
	SourceArtifactURL string
	DestPutURL        string
	DestObjectURL     string
}

// Result is what the loop produced once the provider stopped issuing
// shell calls, or the budget ran out.
type Result struct {
	Output         strategies.StepOutput
	IterationsUsed int
	BudgetExceeded bool
}

// Run drives the PROMPT -> CALL_MODEL -> {EXECUTE_COMMANDS -> BUILD_OUTPUT -> LOOP | DONE}
// state machine.
func Run(ctx context.Context, client *llm.Client, exec Executor, in Input, sink LivePreviewSink) (Result, error) {
	maxIterations := in.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	maxDuration := in.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	outputCap := in.OutputCapChars
	if outputCap <= 0 {
		outputCap = DefaultOutputCapChars
	}

	workspaceID := sandbox.WorkspaceID(in.TenantID, in.JobID, in.StepIndex)
	env := baseEnv(in)

	deadline := time.Now().Add(maxDuration)
	var transcript bytes.Buffer
	lastFlush := time.Time{}
	bytesSinceFlush := 0

	flush := func(status models.LiveStepStatus) {
		if sink == nil {
			return
		}
		preview, truncated := tailCap(transcript.String(), DefaultLiveStepCapChars)
		sink(preview, status, truncated)
		lastFlush = time.Now()
		bytesSinceFlush = 0
	}

	appendOutput := func(s string) {
		transcript.WriteString(s)
		bytesSinceFlush += len(s)
		if sink != nil && (bytesSinceFlush >= previewByteThreshold || time.Since(lastFlush) >= previewInterval) {
			flush(models.LiveStepStreaming)
		}
	}

	params := in.Params
	toolChoice := in.ToolChoice

	var usage models.Usage
	var callUsages []models.Usage
	var lastResp *llm.ProcessedResponse

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if time.Now().After(deadline) {
			flush(models.LiveStepError)
			observability.EmitLoop(observability.EventTypeBudgetExhausted, &observability.LoopEvent{
				JobID:     in.JobID,
				StepOrder: in.StepIndex + 1,
				Loop:      "shell",
				Reason:    "wall_clock",
				Iteration: iteration - 1,
			})
			return Result{BudgetExceeded: true, IterationsUsed: iteration - 1}, fmt.Errorf("shell loop exceeded wall-clock budget of %s", maxDuration)
		}

		if iteration == 1 {
			if err := exec.Reset(ctx, workspaceID, env); err != nil {
				return Result{}, fmt.Errorf("reset sandbox workspace: %w", err)
			}
		}

		params.ToolChoice = toolChoice
		resp, err := client.Call(ctx, params)
		if err != nil {
			flush(models.LiveStepError)
			return Result{IterationsUsed: iteration}, err
		}
		lastResp = resp
		callUsage := models.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
		callUsages = append(callUsages, callUsage)
		usage.InputTokens += callUsage.InputTokens
		usage.OutputTokens += callUsage.OutputTokens

		// Autonomy invariant: only the very first call may carry
		// tool_choice=required; every follow-up downgrades to auto.
		toolChoice = "auto"

		if len(resp.ShellCalls) == 0 {
			flush(models.LiveStepFinal)
			return Result{
				Output: strategies.StepOutput{
					Kind:       strategies.KindShell,
					Text:       resp.Text,
					Usage:      usage,
					CallUsages: callUsages,
				},
				IterationsUsed: iteration,
			}, nil
		}

		toolOutputs := make([]llm.InputItem, 0, len(resp.ShellCalls))
		for _, call := range resp.ShellCalls {
			action, decodeErr := decodeShellCallAction(call.Action)
			if decodeErr != nil {
				appendOutput(fmt.Sprintf("$ <malformed shell_call: %v>\n", decodeErr))
				toolOutputs = append(toolOutputs, shellCallOutputItem(call.CallID, outputCap, []llm.ShellCommandOutput{{
					Outcome: llm.ShellOutcome{Type: "error", Message: decodeErr.Error()},
				}}))
				continue
			}
			commandOutputs := make([]llm.ShellCommandOutput, 0, len(action.Commands))
			for _, command := range action.Commands {
				appendOutput("$ " + command + "\n")
				result, runErr := exec.RunCommand(ctx, workspaceID, command, env, in.CommandTimeout)
				if runErr != nil {
					appendOutput(runErr.Error() + "\n")
					commandOutputs = append(commandOutputs, llm.ShellCommandOutput{
						Outcome: llm.ShellOutcome{Type: "error", Message: runErr.Error()},
					})
					continue
				}
				appendOutput(capTail(result.Stdout, outputCap))
				if result.Stderr != "" {
					appendOutput(capTail(result.Stderr, outputCap))
				}
				outcome := llm.ShellOutcome{Type: "exit"}
				exitCode := result.ExitCode
				outcome.ExitCode = &exitCode
				if result.TimedOut {
					appendOutput("<command timed out>\n")
					outcome.Type = "timeout"
				}
				commandOutputs = append(commandOutputs, llm.ShellCommandOutput{
					Stdout:  result.Stdout,
					Stderr:  result.Stderr,
					Outcome: outcome,
				})
			}
			toolOutputs = append(toolOutputs, shellCallOutputItem(call.CallID, outputCap, commandOutputs))
		}

		// Chain the follow-up turn onto this response instead of
		// replaying the transcript: the provider correlates each
		// shell_call_output by call_id against the shell_call it
		// issued in the response previous_response_id points at.
		params.PreviousResponseID = resp.ResponseID
		params.Input = toolOutputs
	}

	flush(models.LiveStepError)
	observability.EmitLoop(observability.EventTypeBudgetExhausted, &observability.LoopEvent{
		JobID:     in.JobID,
		StepOrder: in.StepIndex + 1,
		Loop:      "shell",
		Reason:    "iterations",
		Iteration: maxIterations,
	})
	text := ""
	if lastResp != nil {
		text = lastResp.Text
	}
	return Result{
		Output:         strategies.StepOutput{Kind: strategies.KindShell, Text: text, Usage: usage, CallUsages: callUsages},
		IterationsUsed: maxIterations,
		BudgetExceeded: true,
	}, fmt.Errorf("shell loop exhausted %d iterations without final text", maxIterations)
}

func baseEnv(in Input) map[string]string {
	env := map[string]string{
		"LM_JOB_ID":                    in.JobID,
		"LM_TENANT_ID":                 in.TenantID,
		"LM_STEP_INDEX":                fmt.Sprintf("%d", in.StepIndex),
		"SHELL_EXECUTOR_WORKSPACE_ID":  sandbox.WorkspaceID(in.TenantID, in.JobID, in.StepIndex),
	}
	if in.S3Upload != nil {
		env["SOURCE_ARTIFACT_URL"] = in.S3Upload.SourceArtifactURL
		env["DEST_PUT_URL"] = in.S3Upload.DestPutURL
		env["DEST_OBJECT_URL"] = in.S3Upload.DestObjectURL
	}
	if in.Secrets != nil {
		for _, name := range in.SecretNames {
			if v, err := in.Secrets.Get(context.Background(), name); err == nil {
				env[strings.ToUpper(name)] = v
			}
		}
	}
	return env
}

// shellCallOutputItem wraps one shell_call's command results into the
// shell_call_output input item the provider expects on the follow-up
// turn, correlated by call_id.
func shellCallOutputItem(callID string, outputCap int, outputs []llm.ShellCommandOutput) llm.InputItem {
	encoded, _ := json.Marshal(outputs)
	return llm.InputItem{
		Type:            "shell_call_output",
		CallID:          callID,
		MaxOutputLength: outputCap,
		Output:          encoded,
	}
}

func decodeShellCallAction(raw json.RawMessage) (ShellCallAction, error) {
	var action ShellCallAction
	if len(raw) == 0 {
		return action, fmt.Errorf("empty shell_call action")
	}
	if err := json.Unmarshal(raw, &action); err != nil {
		return action, fmt.Errorf("decode shell_call action: %w", err)
	}
	return action, nil
}

func capTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

func tailCap(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	return s[len(s)-max:], true
}

// s3UploadPattern matches phrasing like "upload ... to bucket X in
// region Y" or an s3://bucket form.
var s3UploadPattern = regexp.MustCompile(`(?i)upload.*bucket\s+['"]?([a-zA-Z0-9.\-_]+)['"]?|s3://([a-zA-Z0-9.\-_]+)`)

// DetectS3UploadIntent reports whether instructions mention the S3
// upload convention, and the bucket name if one was named.
func DetectS3UploadIntent(instructions string) (bucket string, matched bool) {
	m := s3UploadPattern.FindStringSubmatch(instructions)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

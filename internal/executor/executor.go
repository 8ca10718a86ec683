package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/artifacts"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/blobstore"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/computerloop"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/recordstore"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/secrets"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/shellloop"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/strategies"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools/computeruse"
)

// ErrNotReady is returned when a step's dependencies are not all
// satisfied by completed ExecutionSteps; the step executor never polls
// for readiness.
var ErrNotReady = fmt.Errorf("step dependencies not ready")

// CostCalculator is the minimal interface StepExecutor needs from
// usage.Calculator.
type CostCalculator interface {
	Calculate(model string, inputTokens, outputTokens int) float64
}

// StepExecutor executes exactly one workflow step with explicit
// dependency gating.
type StepExecutor struct {
	Jobs        recordstore.JobStore
	Artifacts   *artifacts.Service
	LLM         *llm.Client
	Images      *openai.Client
	Shell       shellloop.Executor
	ComputerUse func(ctx context.Context, displayWidth, displayHeight int) (computeruse.Sandbox, error)
	Secrets     secrets.Provider
	Costs       CostCalculator
	Logger      *slog.Logger

	ShellConfigured     bool
	ShellSecretNames    []string
	DeepResearchEnabled func(model string) bool

	// Blobstore, S3UploadAllowedBuckets, S3UploadKeyPrefix, and
	// S3UploadPutExpiresIn wire the shell loop's S3-upload convention:
	// a delegated PUT URL for the previous step's artifact, scoped to
	// an allow-listed bucket.
	Blobstore              blobstore.Store
	S3UploadAllowedBuckets []string
	S3UploadKeyPrefix      string
	S3UploadPutExpiresIn   time.Duration
}

// Input carries what Execute needs for one step.
type Input struct {
	Job             *models.Job
	Workflow        *models.Workflow
	Submission      *models.Submission
	Form            *models.Form
	Step            models.Step
	StepIndex       int // 0-indexed into workflow.Steps / ExecutionStep.StepOrder-1
	TenantID        string
}

// Output is the result of executing a single step.
type Output struct {
	ExecutionStep models.ExecutionStep
	// CallUsages holds one entry per provider call the step made; the
	// controller persists one UsageRecord per entry.
	CallUsages []models.Usage
}

// Execute runs exactly one step.
func (e *StepExecutor) Execute(ctx context.Context, in Input) (Output, error) {
	logger := e.loggerOrDefault()
	start := time.Now()

	ctx = observability.AddTenantID(ctx, in.TenantID)
	ctx = observability.AddJobID(ctx, in.Job.ID)
	ctx = observability.AddStepIndex(ctx, in.StepIndex)

	// Reload ExecutionSteps from durable storage immediately before
	// acting, since concurrent invocations driving different steps
	// would otherwise overwrite each other's appends.
	fresh, err := e.Jobs.Get(ctx, in.Job.ID)
	if err != nil {
		return Output{}, fmt.Errorf("reload job before step %d: %w", in.StepIndex, err)
	}
	in.Job = fresh

	deps := in.Step.EffectiveDependsOn()

	if !readyFor(in.Job.ExecutionSteps, deps) {
		return Output{}, fmt.Errorf("%w: step %d depends on %v", ErrNotReady, in.StepIndex, deps)
	}

	formSubmission := RenderFormSubmission(in.Form, in.Submission)
	depBlocks := buildDependencyBlocks(in.Job.ExecutionSteps, in.Workflow.Steps, deps)
	previousContext := BuildPreviousContext(formSubmission, depBlocks)

	rawInput := ""
	if in.StepIndex == 0 {
		rawInput = formSubmission
	}
	inputText := BuildInputText(rawInput, previousContext)

	normalizedTools := make([]tools.Tool, 0, len(in.Step.Tools))
	for _, t := range in.Step.Tools {
		normalizedTools = append(normalizedTools, tools.Normalize(t, logger))
	}
	deepResearch := e.DeepResearchEnabled != nil && e.DeepResearchEnabled(in.Step.Model)
	filtered := tools.ValidateAndFilter(tools.ValidateAndFilterParams{
		Tools:           normalizedTools,
		ToolChoice:      string(in.Step.ToolChoice),
		Model:           in.Step.Model,
		ShellConfigured: e.ShellConfigured,
		DeepResearch:    deepResearch,
	})

	hasComputerUse := false
	for _, t := range filtered.Tools {
		if t.Type == tools.TypeComputerUse {
			hasComputerUse = true
		}
	}

	imageURLs := CollectImageURLs(in.Job.ExecutionSteps, in.Step.StepOrder)

	kind := strategies.Select(in.Step.Model, filtered.Tools)

	observability.EmitStepLifecycle(observability.EventTypeStepStarted, &observability.StepLifecycleEvent{
		JobID:     in.Job.ID,
		StepOrder: in.Step.StepOrder,
		StepName:  in.Step.StepName,
		StepType:  string(models.ExecutionStepAIGeneration),
		Model:     in.Step.Model,
	})

	var out strategies.StepOutput
	var execErr error

	switch kind {
	case strategies.KindImageGeneration:
		out, execErr = e.runImageGeneration(ctx, in, inputText, filtered, logger)
	case strategies.KindComputerUse:
		out, execErr = e.runComputerUse(ctx, in, inputText, filtered, hasComputerUse, logger)
	case strategies.KindShell:
		out, execErr = e.runShell(ctx, in, inputText, filtered, logger)
	default:
		params := llm.BuildParams(llm.BuildParamsInput{
			Model:               in.Step.Model,
			Instructions:        in.Step.Instructions,
			InputText:           inputText,
			Tools:               filtered.Tools,
			ToolChoice:          filtered.ToolChoice,
			HasComputerUse:      hasComputerUse,
			ImageCapableModel:   llm.ImageCapableModel(in.Step.Model),
			ImageGenerationTool: hasImageGenerationTool(filtered.Tools),
			ReasoningEffort:     in.Step.ReasoningEffort,
			ServiceTier:         in.Step.ServiceTier,
			TextVerbosity:       in.Step.TextVerbosity,
			MaxOutputTokens:     in.Step.MaxOutputTokens,
			OutputFormat:        in.Step.OutputFormat,
			PreviousImageURLs:   imageURLs,
		})
		out, execErr = strategies.RunStandard(ctx, e.LLM, params, e.Costs, e.livePreviewSink(ctx, in.Job.ID))
	}

	// Cost is computed here rather than inside the loops so every
	// strategy prices against the same calculator.
	if e.Costs != nil {
		total := 0.0
		for i := range out.CallUsages {
			cu := &out.CallUsages[i]
			if cu.CostUSD == 0 && (cu.InputTokens > 0 || cu.OutputTokens > 0) {
				cu.CostUSD = e.Costs.Calculate(in.Step.Model, cu.InputTokens, cu.OutputTokens)
			}
			total += cu.CostUSD
		}
		if out.Usage.CostUSD == 0 {
			out.Usage.CostUSD = total
		}
	}
	for _, cu := range out.CallUsages {
		observability.EmitModelUsage(&observability.ModelUsageEvent{
			JobID:     in.Job.ID,
			StepOrder: in.Step.StepOrder,
			Model:     in.Step.Model,
			Input:     int64(cu.InputTokens),
			Output:    int64(cu.OutputTokens),
			CostUSD:   cu.CostUSD,
		})
	}

	duration := time.Since(start)
	step := models.ExecutionStep{
		StepOrder:        in.Step.StepOrder,
		StepType:         models.ExecutionStepAIGeneration,
		StepName:         in.Step.StepName,
		Input:            inputText,
		ImageURLs:        out.ImageURLs,
		ImageArtifactIDs: out.ImageArtifactIDs,
		Timestamp:        time.Now(),
		DurationMS:       duration.Milliseconds(),
	}
	if out.Usage.InputTokens > 0 || out.Usage.OutputTokens > 0 || out.Usage.CostUSD > 0 {
		usageCopy := out.Usage
		step.Usage = &usageCopy
	}

	if execErr != nil {
		step.Success = false
		step.Error = &models.JobError{Kind: classifyErrorKind(execErr), Message: execErr.Error()}
		observability.EmitStepLifecycle(observability.EventTypeStepFailed, &observability.StepLifecycleEvent{
			JobID:      in.Job.ID,
			StepOrder:  in.Step.StepOrder,
			StepName:   in.Step.StepName,
			Model:      in.Step.Model,
			ErrorKind:  step.Error.Kind,
			Error:      step.Error.Message,
			DurationMs: step.DurationMS,
		})
		return Output{ExecutionStep: step, CallUsages: out.CallUsages}, nil
	}

	step.Output = out.Text
	step.Success = true

	if e.Artifacts != nil && out.Text != "" {
		artifact, putErr := e.Artifacts.Put(ctx, artifacts.PutParams{
			TenantID:     in.TenantID,
			JobID:        in.Job.ID,
			ArtifactType: models.ArtifactTypeStepOutput,
			Name:         fmt.Sprintf("step-%d-output", in.Step.StepOrder),
			MimeType:     "text/plain",
			Data:         []byte(out.Text),
		})
		if putErr != nil {
			logger.Warn("failed to persist step output artifact", "step_order", in.Step.StepOrder, "error", putErr)
		} else {
			step.ArtifactID = artifact.ArtifactID
		}
	}

	observability.EmitStepLifecycle(observability.EventTypeStepCompleted, &observability.StepLifecycleEvent{
		JobID:      in.Job.ID,
		StepOrder:  in.Step.StepOrder,
		StepName:   in.Step.StepName,
		Model:      in.Step.Model,
		DurationMs: step.DurationMS,
	})
	return Output{ExecutionStep: step, CallUsages: out.CallUsages}, nil
}

func (e *StepExecutor) runShell(ctx context.Context, in Input, inputText string, filtered tools.ValidateAndFilterResult, logger *slog.Logger) (strategies.StepOutput, error) {
	instructions := in.Step.Instructions

	bucket, s3Intent := shellloop.DetectS3UploadIntent(in.Step.Instructions)
	var s3ctx *shellloop.S3UploadContext
	if s3Intent {
		ctxBlock, buildErr := e.buildS3UploadContext(ctx, in, bucket)
		if buildErr != nil {
			logger.Warn("s3 upload convention detected but could not be wired", "bucket", bucket, "step_order", in.Step.StepOrder, "error", buildErr)
		} else {
			s3ctx = ctxBlock
			instructions = instructions + "\n\n" + s3UploadWorkedExample(*s3ctx)
			logger.Info("s3 upload convention wired", "bucket", bucket, "step_order", in.Step.StepOrder)
		}
	}

	params := llm.BuildParams(llm.BuildParamsInput{
		Model:           in.Step.Model,
		Instructions:    instructions,
		InputText:       inputText,
		Tools:           filtered.Tools,
		ToolChoice:      filtered.ToolChoice,
		ReasoningEffort: in.Step.ReasoningEffort,
		ServiceTier:     in.Step.ServiceTier,
		TextVerbosity:   in.Step.TextVerbosity,
		MaxOutputTokens: in.Step.MaxOutputTokens,
		OutputFormat:    in.Step.OutputFormat,
	})

	// The loop's partial output (accumulated usage, transcript tail)
	// still reaches the step record when the loop errors out.
	result, err := shellloop.Run(ctx, e.LLM, e.Shell, shellloop.Input{
		TenantID:    in.TenantID,
		JobID:       in.Job.ID,
		StepIndex:   in.StepIndex,
		Params:      params,
		ToolChoice:  string(filtered.ToolChoice),
		Secrets:     e.Secrets,
		SecretNames: e.ShellSecretNames,
		S3Upload:    s3ctx,
	}, e.livePreviewSink(ctx, in.Job.ID))
	return result.Output, err
}

// buildS3UploadContext resolves the previous step's artifact and a
// delegated PUT URL for the named bucket, wiring the S3-upload
// convention. Returns an error (never a soft-degraded zero value) when
// the bucket is not allow-listed, no previous artifact exists, or no
// blob store is configured, so the caller can log and fall back to
// running the step without the convention wired.
func (e *StepExecutor) buildS3UploadContext(ctx context.Context, in Input, bucket string) (*shellloop.S3UploadContext, error) {
	if e.Blobstore == nil {
		return nil, fmt.Errorf("no blob store configured")
	}
	if !bucketAllowed(bucket, e.S3UploadAllowedBuckets) {
		return nil, fmt.Errorf("bucket %q is not on the allow-list", bucket)
	}

	source := latestArtifactStep(in.Job.ExecutionSteps, in.Step.StepOrder)
	if source == nil {
		return nil, fmt.Errorf("no previous step produced an artifact to upload")
	}
	if e.Artifacts == nil {
		return nil, fmt.Errorf("no artifact service configured")
	}
	artifact, err := e.Artifacts.Metadata(ctx, source.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("resolve previous step artifact: %w", err)
	}

	expiresIn := e.S3UploadPutExpiresIn
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}
	key := sanitizeS3Key(e.S3UploadKeyPrefix, in.Job.ID, in.Step.StepOrder, artifact.ArtifactID)

	putURL, publicURL, err := e.Blobstore.PresignPut(ctx, key, expiresIn)
	if err != nil {
		return nil, fmt.Errorf("presign s3 put url: %w", err)
	}

	return &shellloop.S3UploadContext{
		SourceArtifactURL: artifact.PublicURL,
		DestPutURL:        putURL,
		DestObjectURL:     publicURL,
	}, nil
}

// latestArtifactStep returns the most recent ExecutionStep with an
// artifact strictly before stepOrder, the "previous step produced an
// artifact" source the S3-upload convention uploads.
func latestArtifactStep(steps []models.ExecutionStep, stepOrder int) *models.ExecutionStep {
	var found *models.ExecutionStep
	for i := range steps {
		s := &steps[i]
		if s.StepOrder >= stepOrder || s.ArtifactID == "" {
			continue
		}
		if found == nil || s.StepOrder > found.StepOrder {
			found = s
		}
	}
	return found
}

// bucketAllowed reports whether bucket is on the configured allow-list.
// An empty allow-list permits nothing: the convention stays inert until
// an operator explicitly opts a bucket in.
func bucketAllowed(bucket string, allowed []string) bool {
	for _, b := range allowed {
		if b == bucket {
			return true
		}
	}
	return false
}

// sanitizeS3Key builds the destination key from trusted components only
// (prefix, job id, step order, artifact id) rather than anything parsed
// out of free-form instructions, rejecting path traversal by
// construction. Path separators and ".." segments are stripped from the
// prefix since it's operator-configured, not user input, but this keeps
// a misconfigured prefix from escaping its own directory.
func sanitizeS3Key(prefix, jobID string, stepOrder int, artifactID string) string {
	prefix = strings.Trim(prefix, "/")
	var clean []string
	for _, part := range strings.Split(prefix, "/") {
		if part == "" || part == "." || part == ".." {
			continue
		}
		clean = append(clean, part)
	}
	clean = append(clean, jobID, fmt.Sprintf("step-%d-%s", stepOrder, artifactID))
	return strings.Join(clean, "/")
}

// s3UploadWorkedExample renders the worked shell invocation appended to
// the step's instructions when the S3-upload convention is wired.
func s3UploadWorkedExample(ctx shellloop.S3UploadContext) string {
	return fmt.Sprintf(
		"S3 upload convention detected. The environment already has SOURCE_ARTIFACT_URL, "+
			"DEST_PUT_URL, and DEST_OBJECT_URL set. Example:\n\n"+
			"curl -sSL \"$SOURCE_ARTIFACT_URL\" -o /tmp/artifact.out\n"+
			"curl -sSL -X PUT -T /tmp/artifact.out \"$DEST_PUT_URL\"\n"+
			"echo \"Uploaded to $DEST_OBJECT_URL\"\n\n"+
			"(Resolved destination object URL: %s)",
		ctx.DestObjectURL,
	)
}

func (e *StepExecutor) runComputerUse(ctx context.Context, in Input, inputText string, filtered tools.ValidateAndFilterResult, hasComputerUse bool, logger *slog.Logger) (strategies.StepOutput, error) {
	if e.ComputerUse == nil {
		return strategies.StepOutput{}, fmt.Errorf("computer-use strategy selected but no sandbox factory configured")
	}

	width, height := computeruse.DefaultDisplayWidth, computeruse.DefaultDisplayHeight
	for _, t := range filtered.Tools {
		if t.Type != tools.TypeComputerUse {
			continue
		}
		if w, ok := models.AsInt(t.Raw["display_width"]); ok && w > 0 {
			width = w
		}
		if h, ok := models.AsInt(t.Raw["display_height"]); ok && h > 0 {
			height = h
		}
	}

	sb, err := e.ComputerUse(ctx, width, height)
	if err != nil {
		return strategies.StepOutput{}, fmt.Errorf("create computer-use sandbox: %w", err)
	}
	defer sb.Close()

	shellAvailable := false
	for _, t := range filtered.Tools {
		if t.Type == tools.TypeShell {
			shellAvailable = true
		}
	}

	params := llm.BuildParams(llm.BuildParamsInput{
		Model:           in.Step.Model,
		Instructions:    in.Step.Instructions,
		InputText:       "",
		Tools:           filtered.Tools,
		ToolChoice:      filtered.ToolChoice,
		HasComputerUse:  hasComputerUse,
		ReasoningEffort: in.Step.ReasoningEffort,
		ServiceTier:     in.Step.ServiceTier,
	})

	var upload computerloop.ArtifactUploader
	if e.Artifacts != nil {
		upload = func(ctx context.Context, annotatedJPEG []byte) (string, string, error) {
			artifact, putErr := e.Artifacts.Put(ctx, artifacts.PutParams{
				TenantID:     in.TenantID,
				JobID:        in.Job.ID,
				ArtifactType: models.ArtifactTypeImage,
				Name:         fmt.Sprintf("step-%d-screenshot", in.Step.StepOrder),
				MimeType:     "image/jpeg",
				Data:         annotatedJPEG,
			})
			if putErr != nil {
				return "", "", putErr
			}
			return artifact.ArtifactID, artifact.PublicURL, nil
		}
	}

	// The loop's partial output (screenshot artifacts, accumulated
	// usage) still reaches the step record when the loop aborts on a
	// detected repeat or an exhausted budget.
	result, err := computerloop.Run(ctx, computerloop.Input{
		Sandbox:            sb,
		Client:             e.LLM,
		Params:             params,
		DisplayWidth:       width,
		DisplayHeight:      height,
		TaskText:           in.Step.Instructions + " " + inputText,
		ShellAlsoAvailable: shellAvailable,
		Upload:             upload,
		Logger:             logger,
	})
	return result.Output, err
}

func (e *StepExecutor) runImageGeneration(ctx context.Context, in Input, inputText string, filtered tools.ValidateAndFilterResult, logger *slog.Logger) (strategies.StepOutput, error) {
	if e.Images == nil {
		return strategies.StepOutput{}, fmt.Errorf("image generation strategy selected but no openai images client configured")
	}

	var tool tools.Tool
	for _, t := range filtered.Tools {
		if t.Type == tools.TypeImageGeneration {
			tool = t
			break
		}
	}

	prompt := strings.TrimSpace(in.Step.Instructions + "\n\n" + inputText)
	imageIn := strategies.ImageGenerationInputFromTool(tool, prompt)

	out, err := strategies.RunImageGeneration(ctx, e.Images, e.Costs, imageIn)
	if err != nil {
		return strategies.StepOutput{}, err
	}

	if e.Artifacts != nil {
		artifactIDs := make([]string, 0, len(out.ImageURLs))
		for i, dataURL := range out.ImageURLs {
			data, mimeType, decodeErr := decodeDataURL(dataURL)
			if decodeErr != nil {
				logger.Warn("failed to decode generated image", "step_order", in.Step.StepOrder, "error", decodeErr)
				continue
			}
			artifact, putErr := e.Artifacts.Put(ctx, artifacts.PutParams{
				TenantID:     in.TenantID,
				JobID:        in.Job.ID,
				ArtifactType: models.ArtifactTypeImage,
				Name:         fmt.Sprintf("step-%d-image-%d", in.Step.StepOrder, i),
				MimeType:     mimeType,
				Data:         data,
			})
			if putErr != nil {
				logger.Warn("failed to persist generated image artifact", "step_order", in.Step.StepOrder, "error", putErr)
				continue
			}
			artifactIDs = append(artifactIDs, artifact.ArtifactID)
		}
		out.ImageArtifactIDs = artifactIDs
	}

	return out, nil
}

func decodeDataURL(dataURL string) ([]byte, string, error) {
	const prefix = "data:"
	if !strings.HasPrefix(dataURL, prefix) {
		return nil, "", fmt.Errorf("not a data URL")
	}
	rest := dataURL[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, "", fmt.Errorf("malformed data URL: missing comma")
	}
	meta, encoded := rest[:comma], rest[comma+1:]
	mimeType := strings.TrimSuffix(meta, ";base64")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 image data: %w", err)
	}
	return data, mimeType, nil
}

func (e *StepExecutor) livePreviewSink(ctx context.Context, jobID string) func(text string, status models.LiveStepStatus, truncated bool) {
	if e.Jobs == nil {
		return nil
	}
	logger := e.loggerOrDefault()
	return func(text string, status models.LiveStepStatus, truncated bool) {
		job, err := e.Jobs.Get(ctx, jobID)
		if err != nil {
			logger.Warn("live preview: reload job failed", "job_id", jobID, "error", err)
			return
		}
		job.LiveStep = &models.LiveStep{OutputText: text, Status: status, Truncated: truncated}
		if err := e.Jobs.Update(ctx, job); err != nil {
			logger.Warn("live preview: update job failed", "job_id", jobID, "error", err)
		}
	}
}

func (e *StepExecutor) loggerOrDefault() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// readyFor reports whether every dependency index is present as a
// completed ExecutionStep of type ai_generation or webhook. Webhook
// steps count as ready regardless of success, matching
// "webhook step failures never fail the job."
func readyFor(steps []models.ExecutionStep, deps []int) bool {
	completed := make(map[int]bool, len(steps))
	for _, s := range steps {
		if s.StepType == models.ExecutionStepAIGeneration || s.StepType == models.ExecutionStepWebhook {
			completed[s.StepOrder-1] = true
		}
	}
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}

func buildDependencyBlocks(executed []models.ExecutionStep, stepDefs []models.Step, deps []int) []DependencyBlock {
	byOrder := make(map[int]models.ExecutionStep, len(executed))
	for _, s := range executed {
		byOrder[s.StepOrder-1] = s
	}
	nameByIndex := make(map[int]string, len(stepDefs))
	for _, s := range stepDefs {
		nameByIndex[s.StepOrder-1] = s.StepName
	}

	sortInts(deps)
	blocks := make([]DependencyBlock, 0, len(deps))
	for _, d := range deps {
		es, ok := byOrder[d]
		if !ok {
			continue
		}
		blocks = append(blocks, DependencyBlock{
			StepOrder: es.StepOrder,
			StepName:  nameByIndex[d],
			Output:    es.Output,
			ImageURLs: es.ImageURLs,
		})
	}
	return blocks
}

func sortInts(ints []int) {
	for i := 1; i < len(ints); i++ {
		for j := i; j > 0 && ints[j-1] > ints[j]; j-- {
			ints[j-1], ints[j] = ints[j], ints[j-1]
		}
	}
}

func hasImageGenerationTool(ts []tools.Tool) bool {
	for _, t := range ts {
		if t.Type == tools.TypeImageGeneration {
			return true
		}
	}
	return false
}

// classifyErrorKind maps an execution error to the closed error
// taxonomy: provider-originated errors use the llm package's
// classification; shell/computer-use loop budget and loop-detection
// failures are recognized by the sentinel phrasing those packages
// return, since neither wraps a typed error.
func classifyErrorKind(err error) string {
	var callErr *llm.CallError
	if ok := asCallError(err, &callErr); ok {
		return string(callErr.Kind)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "loop_detected"):
		return "computer_loop"
	case strings.Contains(msg, "computer-use loop exceeded") || strings.Contains(msg, "computer-use loop exhausted"):
		return "computer_loop"
	case strings.Contains(msg, "shell loop exceeded") || strings.Contains(msg, "shell loop exhausted"):
		return "shell_budget"
	case strings.Contains(msg, "not ready") || errors.Is(err, ErrNotReady):
		return "validation"
	}
	return "unknown"
}

func asCallError(err error, target **llm.CallError) bool {
	ce, ok := err.(*llm.CallError)
	if ok {
		*target = ce
	}
	return ok
}

// MergeExecutionStep implements rerun semantics: if an ExecutionStep
// with the same (step_order, step_type) already exists, it is replaced
// in place, preserving the insertion order of every other step.
func MergeExecutionStep(existing []models.ExecutionStep, next models.ExecutionStep) []models.ExecutionStep {
	for i, s := range existing {
		if s.StepOrder == next.StepOrder && s.StepType == next.StepType {
			out := make([]models.ExecutionStep, len(existing))
			copy(out, existing)
			out[i] = next
			return out
		}
	}
	return append(existing, next)
}

// UsageRecordFrom builds a persistable UsageRecord from a step's usage
// accounting.
func UsageRecordFrom(id, tenantID, jobID, serviceType, model string, u models.Usage) models.UsageRecord {
	return models.UsageRecord{
		ID:           id,
		TenantID:     tenantID,
		JobID:        jobID,
		ServiceType:  serviceType,
		Model:        model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      u.CostUSD,
		CreatedAt:    time.Now(),
	}
}

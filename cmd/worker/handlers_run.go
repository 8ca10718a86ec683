// handlers_run.go wires the worker's external collaborators together
// (record store, blob store, secret store, LLM client, tool sandboxes)
// and implements the run-batch/run-step command logic.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/artifacts"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/blobstore"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/config"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/controller"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/delivery"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/executor"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/images"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/recordstore"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/secrets"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools/sandbox"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/usage"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/voice"
)

// twilioSMSAdapter adapts voice.TwilioProvider's voice-package message
// shape to the delivery.SMSSender interface, which is defined in terms
// of delivery's own SMSMessage/SMSResult types so that package doesn't
// import voice directly.
type twilioSMSAdapter struct {
	provider *voice.TwilioProvider
}

func (a twilioSMSAdapter) SendSMS(ctx context.Context, msg delivery.SMSMessage) (*delivery.SMSResult, error) {
	res, err := a.provider.SendSMS(ctx, voice.SMSMessage{To: msg.To, From: msg.From, Body: msg.Body})
	if err != nil {
		return nil, err
	}
	return &delivery.SMSResult{ProviderMessageID: res.ProviderMessageID, Status: res.Status}, nil
}

// deployment bundles every wired collaborator a Controller needs.
type deployment struct {
	cfg        *config.Config
	logger     *observability.Logger
	stores     recordstore.StoreSet
	controller *controller.Controller
}

// wireDeployment loads configuration and constructs every external
// collaborator: the record store (SQLite-backed by default), the S3
// blob store, the secret provider, the LLM client, the image-generation
// client, the shell sandbox, and the SMS gateway, then assembles the
// StepExecutor and Controller around them.
func wireDeployment(ctx context.Context, configPath, seedPath string) (*deployment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	// Diagnostic events mirror the job/step/delivery lifecycle onto the
	// debug log when the log level asks for it.
	if strings.EqualFold(cfg.Logging.Level, "debug") {
		observability.SetDiagnosticsEnabled(true)
		observability.OnDiagnosticEvent(func(event observability.DiagnosticEventPayload) {
			logger.Debug(ctx, "diagnostic event", "type", string(event.EventType()), "seq", event.Sequence())
		})
	}

	dbPath := os.Getenv("WORKER_SQLITE_PATH")
	if dbPath == "" {
		dbPath = "worker.db"
	}
	stores, err := recordstore.NewSQLiteStores(ctx, recordstore.DefaultSQLiteConfig(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	stores.Submissions, stores.Forms, stores.Workflows, stores.Templates, err = loadSeedStores(seedPath)
	if err != nil {
		return nil, err
	}

	secretProvider := secrets.NewEnvProvider(os.Getenv("LM_SECRET_PREFIX"))

	blobCfg := blobstore.DefaultS3Config()
	blobCfg.Bucket = os.Getenv("LEADMAGNET_ARTIFACT_BUCKET")
	blobCfg.Region = cfg.AWS.ObjectStoreRegion
	blobCfg.PublicBaseURL = os.Getenv("LEADMAGNET_ARTIFACT_CDN_BASE_URL")
	blobStore, err := blobstore.NewS3Store(ctx, blobCfg)
	if err != nil {
		return nil, fmt.Errorf("connect blob store: %w", err)
	}

	apiKey, err := secretProvider.Get(ctx, "openai_api_key")
	if err != nil {
		return nil, fmt.Errorf("resolve llm api key: %w", err)
	}
	llmClient := llm.NewClient(apiKey, os.Getenv("OPENAI_BASE_URL"), &http.Client{Timeout: 10 * time.Minute}, logger.Slog())
	llmClient.SetAudit(usage.NewMemoryAuditLog(usage.DefaultAuditCapacity))
	llmClient.SetImageFetcher(images.NewPipeline(images.Config{
		Blobs:  blobStore,
		Logger: logger.Slog(),
	}))

	imagesClient := openai.NewClient(apiKey)

	artifactSvc := artifacts.NewService(stores.Artifacts, blobStore, logger.Slog())

	sandboxImage := os.Getenv("SHELL_SANDBOX_IMAGE")
	if sandboxImage == "" {
		sandboxImage = "leadmagnet-shell-sandbox:latest"
	}
	shellExecutor := sandbox.NewExecutor(
		sandbox.WithImage(sandboxImage),
		sandbox.WithDefaultCPU(1000),
		sandbox.WithDefaultMemoryMB(2048),
		sandbox.WithNetworkEnabled(false),
		sandbox.WithOutputCapChars(cfg.ShellExecutor.DefaultMaxOutputLength),
		sandbox.WithCommandTimeout(time.Duration(cfg.ShellExecutor.DefaultTimeoutMS)*time.Millisecond),
	)

	stepExecutor := &executor.StepExecutor{
		Jobs:                   stores.Jobs,
		Artifacts:              artifactSvc,
		LLM:                    llmClient,
		Images:                 imagesClient,
		Shell:                  shellExecutor,
		Secrets:                secretProvider,
		Costs:                  usage.NewCalculator(),
		Logger:                 logger.Slog(),
		ShellConfigured:        cfg.ShellExecutor.FunctionName != "",
		Blobstore:              blobStore,
		S3UploadAllowedBuckets: cfg.ShellExecutor.S3UploadAllowedBuckets,
		S3UploadKeyPrefix:      cfg.ShellExecutor.S3UploadKeyPrefix,
		S3UploadPutExpiresIn:   cfg.ShellExecutor.S3UploadPutExpiresIn,
	}

	var smsSender delivery.SMSSender
	smsFrom := os.Getenv("TWILIO_FROM_NUMBER")
	if sid, tokenErr := secretProvider.Get(ctx, "twilio_account_sid"); tokenErr == nil {
		authToken, _ := secretProvider.Get(ctx, "twilio_auth_token")
		provider, twErr := voice.NewTwilioProvider(voice.TwilioConfig{AccountSID: sid, AuthToken: authToken})
		if twErr == nil {
			smsSender = twilioSMSAdapter{provider: provider}
		} else {
			logger.Warn(ctx, "failed to construct twilio provider", "error", twErr)
		}
	}

	ctrl := &controller.Controller{
		Stores:    stores,
		Executor:  stepExecutor,
		Artifacts: artifactSvc,
		LLM:       llmClient,
		SMS:       smsSender,
		SMSFrom:   smsFrom,
		Logger:    logger.Slog(),
	}

	return &deployment{cfg: cfg, logger: logger, stores: stores, controller: ctrl}, nil
}

// runBatch implements the "run-batch" command.
func runBatch(ctx context.Context, configPath, seedPath, jobID string) error {
	dep, err := wireDeployment(ctx, configPath, seedPath)
	if err != nil {
		return err
	}
	defer dep.stores.Close()

	if err := dep.controller.RunBatch(ctx, jobID); err != nil {
		return fmt.Errorf("run batch for job %s: %w", jobID, err)
	}
	dep.logger.Info(ctx, "job run to completion", "job_id", jobID)
	return nil
}

// runStep implements the "run-step" command: it prints the resulting
// StepResult as JSON to stdout for the caller's external scheduler to
// parse.
func runStep(ctx context.Context, configPath, seedPath, jobID string, stepIndex int) error {
	dep, err := wireDeployment(ctx, configPath, seedPath)
	if err != nil {
		return err
	}
	defer dep.stores.Close()

	result, err := dep.controller.RunStep(ctx, jobID, stepIndex)
	if err != nil {
		return fmt.Errorf("run step %d for job %s: %w", stepIndex, jobID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// createJob implements the "create-job" command: it validates the
// workflow and submission references against the seeded stores, mints a
// pending Job, and prints its id.
func createJob(ctx context.Context, configPath, seedPath, tenantID, workflowID, submissionID string) error {
	dep, err := wireDeployment(ctx, configPath, seedPath)
	if err != nil {
		return err
	}
	defer dep.stores.Close()

	if _, err := dep.stores.Workflows.Get(ctx, workflowID); err != nil {
		return fmt.Errorf("resolve workflow %s: %w", workflowID, err)
	}
	if _, err := dep.stores.Submissions.Get(ctx, submissionID); err != nil {
		return fmt.Errorf("resolve submission %s: %w", submissionID, err)
	}

	job := &models.Job{
		ID:           "job_" + uuid.NewString(),
		TenantID:     tenantID,
		WorkflowID:   workflowID,
		SubmissionID: submissionID,
		Status:       models.JobStatusPending,
		CreatedAt:    time.Now(),
	}
	if err := dep.stores.Jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	fmt.Println(job.ID)
	return nil
}

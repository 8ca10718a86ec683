// commands_run.go contains the cobra command definitions for driving a
// Job through its workflow. Each builder wires flags to a handler in
// handlers_run.go.
package main

import (
	"github.com/spf13/cobra"
)

// buildRunBatchCmd creates the "run-batch" command: drives every step
// of a job's workflow in one invocation, assembles the final
// deliverable, and dispatches delivery.
func buildRunBatchCmd() *cobra.Command {
	var (
		configPath string
		seedPath   string
		jobID      string
	)

	cmd := &cobra.Command{
		Use:   "run-batch",
		Short: "Run every step of a job's workflow in a single invocation",
		Long: `Loads the named job, executes each workflow step in dependency order,
assembles the final HTML or markdown deliverable, dispatches delivery
(webhook or SMS), and writes a terminal job status.`,
		Example: `  # Run a job to completion
  worker run-batch --config worker.yaml --job job_01HXAMPLE`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), configPath, seedPath, jobID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "worker.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&seedPath, "seed", "", "Path to JSON file seeding submissions/forms/workflows/templates")
	cmd.Flags().StringVar(&jobID, "job", "", "Job ID to run (required)")
	cmd.MarkFlagRequired("job")

	return cmd
}

// buildRunStepCmd creates the "run-step" command: drives exactly one
// workflow step, for callers operating their own external scheduler.
func buildRunStepCmd() *cobra.Command {
	var (
		configPath string
		seedPath   string
		jobID      string
		stepIndex  int
	)

	cmd := &cobra.Command{
		Use:   "run-step",
		Short: "Run exactly one step of a job's workflow",
		Long: `Loads the named job, executes the single workflow step at the given
0-indexed position, and prints a compact JSON result. Never runs final
assembly or delivery; an external scheduler decides when the workflow
is done and when to call run-batch's final-assembly path, or invokes
run-step repeatedly until every step has run.`,
		Example: `  # Run step 0 of a job
  worker run-step --config worker.yaml --job job_01HXAMPLE --step 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStep(cmd.Context(), configPath, seedPath, jobID, stepIndex)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "worker.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&seedPath, "seed", "", "Path to JSON file seeding submissions/forms/workflows/templates")
	cmd.Flags().StringVar(&jobID, "job", "", "Job ID to run (required)")
	cmd.Flags().IntVar(&stepIndex, "step", 0, "0-indexed step position to execute")
	cmd.MarkFlagRequired("job")

	return cmd
}

// buildCreateJobCmd creates the "create-job" command: mints a pending
// Job bound to a workflow and submission, for driving with run-batch or
// run-step afterward.
func buildCreateJobCmd() *cobra.Command {
	var (
		configPath   string
		seedPath     string
		tenantID     string
		workflowID   string
		submissionID string
	)

	cmd := &cobra.Command{
		Use:   "create-job",
		Short: "Create a pending job for a workflow and submission",
		Example: `  # Create a job, then run it
  worker create-job --config worker.yaml --seed seed.json --tenant t_1 --workflow wf_1 --submission sub_1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createJob(cmd.Context(), configPath, seedPath, tenantID, workflowID, submissionID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "worker.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&seedPath, "seed", "", "Path to JSON file seeding submissions/forms/workflows/templates")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Owning tenant ID (required)")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Workflow ID to run (required)")
	cmd.Flags().StringVar(&submissionID, "submission", "", "Submission ID to run against (required)")
	cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagRequired("workflow")
	cmd.MarkFlagRequired("submission")

	return cmd
}

package shellloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools/sandbox"
)

func TestDetectS3UploadIntentBucketPhrase(t *testing.T) {
	bucket, matched := DetectS3UploadIntent(`Upload the report to bucket "lead-reports" in region us-east-1.`)
	assert.True(t, matched)
	assert.Equal(t, "lead-reports", bucket)
}

func TestDetectS3UploadIntentS3URI(t *testing.T) {
	bucket, matched := DetectS3UploadIntent("Write the file then copy it to s3://lead-assets/out.csv")
	assert.True(t, matched)
	assert.Equal(t, "lead-assets", bucket)
}

func TestDetectS3UploadIntentNoMatch(t *testing.T) {
	_, matched := DetectS3UploadIntent("Summarize the submission in three sentences.")
	assert.False(t, matched)
}

func TestCapTail(t *testing.T) {
	assert.Equal(t, "hello", capTail("hello", 10))
	assert.Equal(t, "defgh", capTail("abcdefgh", 5))
}

func TestDecodeShellCallAction(t *testing.T) {
	action, err := decodeShellCallAction(json.RawMessage(`{"commands":["ls -la","cat out.txt"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"ls -la", "cat out.txt"}, action.Commands)
}

func TestDecodeShellCallActionEmpty(t *testing.T) {
	_, err := decodeShellCallAction(nil)
	assert.Error(t, err)
}

func TestShellCallOutputItemCarriesCallID(t *testing.T) {
	exitCode := 0
	item := shellCallOutputItem("call_123", 4096, []llm.ShellCommandOutput{
		{Stdout: "ok\n", Outcome: llm.ShellOutcome{Type: "exit", ExitCode: &exitCode}},
	})
	assert.Equal(t, "shell_call_output", item.Type)
	assert.Equal(t, "call_123", item.CallID)
	assert.Equal(t, 4096, item.MaxOutputLength)

	var decoded []llm.ShellCommandOutput
	require.NoError(t, json.Unmarshal(item.Output, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "ok\n", decoded[0].Stdout)
	assert.Equal(t, "exit", decoded[0].Outcome.Type)
}

// fakeExecutor records the commands the loop runs and returns canned
// output.
type fakeExecutor struct {
	resets   int
	commands []string
}

func (f *fakeExecutor) Reset(ctx context.Context, workspaceID string, env map[string]string) error {
	f.resets++
	return nil
}

func (f *fakeExecutor) RunCommand(ctx context.Context, workspaceID, command string, env map[string]string, timeout time.Duration) (*sandbox.CommandResult, error) {
	f.commands = append(f.commands, command)
	return &sandbox.CommandResult{Stdout: "total 3\nfile-a file-b file-c\n", ExitCode: 0}, nil
}

func TestRunExecutesShellCallsThenReturnsFinalText(t *testing.T) {
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		if len(bodies) == 1 {
			fmt.Fprint(w, `{
				"id": "resp_1",
				"output": [{"type":"shell_call","call_id":"call_1","action":{"commands":["ls -la"]}}],
				"usage": {"input_tokens": 100, "output_tokens": 20}
			}`)
			return
		}
		fmt.Fprint(w, `{
			"id": "resp_2",
			"output_text": "Listed 3 files.",
			"usage": {"input_tokens": 150, "output_tokens": 10}
		}`)
	}))
	defer server.Close()

	client := llm.NewClient("test-key", server.URL, nil, nil)
	exec := &fakeExecutor{}

	var lastPreview string
	var lastStatus models.LiveStepStatus
	sink := func(text string, status models.LiveStepStatus, truncated bool) {
		lastPreview, lastStatus = text, status
	}

	result, err := Run(context.Background(), client, exec, Input{
		TenantID:   "tenant-1",
		JobID:      "job-1",
		StepIndex:  0,
		Params:     llm.Params{Model: "gpt-5", Input: "run ls -la and report"},
		ToolChoice: "required",
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, "Listed 3 files.", result.Output.Text)
	assert.Equal(t, 2, result.IterationsUsed)
	assert.Equal(t, 1, exec.resets)
	assert.Equal(t, []string{"ls -la"}, exec.commands)

	// One usage entry per provider call, plus the aggregate.
	require.Len(t, result.Output.CallUsages, 2)
	assert.Equal(t, 100, result.Output.CallUsages[0].InputTokens)
	assert.Equal(t, 150, result.Output.CallUsages[1].InputTokens)
	assert.Equal(t, 250, result.Output.Usage.InputTokens)
	assert.Equal(t, 30, result.Output.Usage.OutputTokens)

	// Live preview echoed the command and its output.
	assert.Contains(t, lastPreview, "$ ls -la")
	assert.Contains(t, lastPreview, "file-a")
	assert.Equal(t, models.LiveStepFinal, lastStatus)

	// Turn 1 carries the configured required tool_choice; the follow-up
	// downgrades to auto and chains onto the prior response.
	require.Len(t, bodies, 2)
	var first, second struct {
		ToolChoice         string          `json:"tool_choice"`
		PreviousResponseID string          `json:"previous_response_id"`
		Input              json.RawMessage `json:"input"`
	}
	require.NoError(t, json.Unmarshal(bodies[0], &first))
	require.NoError(t, json.Unmarshal(bodies[1], &second))
	assert.Equal(t, "required", first.ToolChoice)
	assert.Equal(t, "auto", second.ToolChoice)
	assert.Equal(t, "resp_1", second.PreviousResponseID)
	assert.Contains(t, string(second.Input), "shell_call_output")
	assert.Contains(t, string(second.Input), "call_1")
}

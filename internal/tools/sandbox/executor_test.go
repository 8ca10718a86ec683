package sandbox

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkspaceIDDeterministic(t *testing.T) {
	id1 := WorkspaceID("tenant-1", "job-1", 2)
	id2 := WorkspaceID("tenant-1", "job-1", 2)
	require.Equal(t, id1, id2)
	require.True(t, len(id1) == WorkspaceIDHexLen+2)
	require.Equal(t, "w_", id1[:2])
}

func TestWorkspaceIDVariesByInput(t *testing.T) {
	base := WorkspaceID("tenant-1", "job-1", 0)
	require.NotEqual(t, base, WorkspaceID("tenant-2", "job-1", 0))
	require.NotEqual(t, base, WorkspaceID("tenant-1", "job-2", 0))
	require.NotEqual(t, base, WorkspaceID("tenant-1", "job-1", 1))
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available in PATH")
	}
}

func TestExecutorRunCommand(t *testing.T) {
	requireDocker(t)

	e := NewExecutor(WithImage("alpine:3.19"))
	ctx := context.Background()
	workspaceID := WorkspaceID("tenant-test", "job-test", 0)

	require.NoError(t, e.Reset(ctx, workspaceID, map[string]string{"LM_JOB_ID": "job-test"}))
	defer e.Close(workspaceID)

	result, err := e.RunCommand(ctx, workspaceID, "echo hello", nil, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Contains(t, result.Stdout, "hello")
}

func TestExecutorOutputCap(t *testing.T) {
	requireDocker(t)

	e := NewExecutor(WithImage("alpine:3.19"), WithOutputCapChars(16))
	ctx := context.Background()
	workspaceID := WorkspaceID("tenant-test", "job-test", 1)

	require.NoError(t, e.Reset(ctx, workspaceID, nil))
	defer e.Close(workspaceID)

	result, err := e.RunCommand(ctx, workspaceID, "printf '0123456789abcdefghijklmnopqrstuvwxyz'", nil, 10*time.Second)
	require.NoError(t, err)
	require.True(t, result.Truncated)
	require.Len(t, result.Stdout, 16)
	require.Equal(t, "klmnopqrstuvwxyz", result.Stdout)
}

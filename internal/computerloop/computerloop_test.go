package computerloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools/computeruse"
)

func TestRetrySandboxActionSucceedsAfterOneFailure(t *testing.T) {
	calls := 0
	err := retrySandboxAction(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetrySandboxActionExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retrySandboxAction(context.Background(), func() error {
		calls++
		return errors.New("persistent")
	})
	require.Error(t, err)
	assert.Equal(t, sandboxActionAttempts, calls)
}

func TestRetrySandboxActionRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retrySandboxAction(ctx, func() error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestCanonicalSignatureStable(t *testing.T) {
	a := computeruse.Action{Type: "click", X: 10, Y: 20}
	b := computeruse.Action{Type: "click", X: 10, Y: 20}
	assert.Equal(t, canonicalSignature(a), canonicalSignature(b))
}

func TestCanonicalSignatureDiffersByCoordinate(t *testing.T) {
	a := canonicalSignature(computeruse.Action{Type: "click", X: 10, Y: 20})
	b := canonicalSignature(computeruse.Action{Type: "click", X: 11, Y: 20})
	assert.NotEqual(t, a, b)
}

func TestDetectLoopClickThreeRepeats(t *testing.T) {
	sig := canonicalSignature(computeruse.Action{Type: "click", X: 5, Y: 5})
	history := []string{"a", "b", sig, sig, sig}
	assert.True(t, detectLoop(history, "click"))
}

func TestDetectLoopNotEnoughHistory(t *testing.T) {
	history := []string{"a", "b"}
	assert.False(t, detectLoop(history, "click"))
}

func TestDetectLoopScrollRequiresTen(t *testing.T) {
	sig := "same"
	history := make([]string, 9)
	for i := range history {
		history[i] = sig
	}
	assert.False(t, detectLoop(history, "scroll"))
	history = append(history, sig)
	assert.True(t, detectLoop(history, "scroll"))
}

func TestAugmentForToolCoexistenceIdempotent(t *testing.T) {
	once := augmentForToolCoexistence("Do the task.", true)
	twice := augmentForToolCoexistence(once, true)
	assert.Equal(t, once, twice)
}

func TestAugmentForToolCoexistenceSkippedWithoutShell(t *testing.T) {
	out := augmentForToolCoexistence("Do the task.", false)
	assert.Equal(t, "Do the task.", out)
}

func TestFirstURLOrHostFindsURL(t *testing.T) {
	target, ok := firstURLOrHost("Go to https://example.com/login and sign in.")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/login", target)
}

func TestFirstURLOrHostFindsBareHost(t *testing.T) {
	target, ok := firstURLOrHost("Check status.example.com for the outage banner.")
	assert.True(t, ok)
	assert.Equal(t, "https://status.example.com", target)
}

func TestFirstURLOrHostNoMatch(t *testing.T) {
	_, ok := firstURLOrHost("Summarize the page you are on.")
	assert.False(t, ok)
}

func TestBuildComputerCallOutputItemCarriesCallID(t *testing.T) {
	item := buildComputerCallOutputItem("call_456", []byte{1, 2, 3}, "image/jpeg", nil)
	assert.Equal(t, "computer_call_output", item.Type)
	assert.Equal(t, "call_456", item.CallID)
	assert.Empty(t, item.AcknowledgedSafetyChecks)

	var out llm.ComputerScreenshotOutput
	require.NoError(t, json.Unmarshal(item.Output, &out))
	assert.Equal(t, "computer_screenshot", out.Type)
	assert.Contains(t, out.ImageURL, "data:image/jpeg;base64,")
}

func TestBuildComputerCallOutputItemIncludesAcknowledgedSafetyChecks(t *testing.T) {
	acks := []llm.SafetyCheck{{ID: "chk_1", Code: "malicious_instructions"}}
	item := buildComputerCallOutputItem("call_789", []byte{1}, "image/png", acks)
	require.Len(t, item.AcknowledgedSafetyChecks, 1)
	assert.Equal(t, "chk_1", item.AcknowledgedSafetyChecks[0].ID)

	var out llm.ComputerScreenshotOutput
	require.NoError(t, json.Unmarshal(item.Output, &out))
	assert.Contains(t, out.ImageURL, "data:image/png;base64,")
}

package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticEmitterDeliversToListener(t *testing.T) {
	ResetDiagnosticsForTest()
	SetDiagnosticsEnabled(true)
	t.Cleanup(func() {
		SetDiagnosticsEnabled(false)
		ResetDiagnosticsForTest()
	})

	var got []DiagnosticEventPayload
	unsubscribe := OnDiagnosticEvent(func(e DiagnosticEventPayload) { got = append(got, e) })

	EmitStepLifecycle(EventTypeStepStarted, &StepLifecycleEvent{JobID: "job-1", StepOrder: 1})
	EmitLoop(EventTypeLoopDetected, &LoopEvent{JobID: "job-1", Loop: "computer_use", Reason: "loop_detected"})

	require.Len(t, got, 2)
	assert.Equal(t, EventTypeStepStarted, got[0].EventType())
	assert.Equal(t, EventTypeLoopDetected, got[1].EventType())
	assert.Greater(t, got[1].Sequence(), got[0].Sequence())

	unsubscribe()
	EmitModelUsage(&ModelUsageEvent{JobID: "job-1"})
	assert.Len(t, got, 2)
}

func TestDiagnosticEmitterDisabledDropsEvents(t *testing.T) {
	ResetDiagnosticsForTest()
	SetDiagnosticsEnabled(false)
	t.Cleanup(ResetDiagnosticsForTest)

	called := false
	OnDiagnosticEvent(func(e DiagnosticEventPayload) { called = true })

	EmitJobLifecycle(EventTypeJobStarted, &JobLifecycleEvent{JobID: "job-1"})
	assert.False(t, called)
}

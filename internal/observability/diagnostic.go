// Package observability provides diagnostic event types and emission.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// DiagnosticEventType identifies the type of diagnostic event this
// worker emits over a job's lifetime.
type DiagnosticEventType string

const (
	EventTypeJobStarted      DiagnosticEventType = "job.started"
	EventTypeJobCompleted    DiagnosticEventType = "job.completed"
	EventTypeJobFailed       DiagnosticEventType = "job.failed"
	EventTypeStepStarted     DiagnosticEventType = "step.started"
	EventTypeStepCompleted   DiagnosticEventType = "step.completed"
	EventTypeStepFailed      DiagnosticEventType = "step.failed"
	EventTypeModelUsage      DiagnosticEventType = "model.usage"
	EventTypeDeliverySent    DiagnosticEventType = "delivery.sent"
	EventTypeDeliveryFailed  DiagnosticEventType = "delivery.failed"
	EventTypeLoopDetected    DiagnosticEventType = "computer_loop.loop_detected"
	EventTypeBudgetExhausted DiagnosticEventType = "loop.budget_exhausted"
)

// DiagnosticEvent is the base event structure every concrete event
// embeds.
type DiagnosticEvent struct {
	Type DiagnosticEventType `json:"type"`
	Seq  int64               `json:"seq"`
	Ts   int64               `json:"ts"`
}

// JobLifecycleEvent tracks a job transitioning into processing,
// completed, or failed.
type JobLifecycleEvent struct {
	DiagnosticEvent
	JobID      string `json:"job_id"`
	TenantID   string `json:"tenant_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// StepLifecycleEvent tracks one workflow step starting, completing, or
// failing.
type StepLifecycleEvent struct {
	DiagnosticEvent
	JobID      string `json:"job_id"`
	StepOrder  int    `json:"step_order"`
	StepName   string `json:"step_name,omitempty"`
	StepType   string `json:"step_type,omitempty"`
	Model      string `json:"model,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// ModelUsageEvent tracks token usage and cost for one provider call.
type ModelUsageEvent struct {
	DiagnosticEvent
	JobID      string  `json:"job_id"`
	StepOrder  int     `json:"step_order"`
	Model      string  `json:"model,omitempty"`
	Input      int64   `json:"input,omitempty"`
	Output     int64   `json:"output,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

// DeliveryEvent tracks a webhook or SMS delivery attempt for a
// completed job.
type DeliveryEvent struct {
	DiagnosticEvent
	JobID  string `json:"job_id"`
	Method string `json:"method"`
	Error  string `json:"error,omitempty"`
}

// LoopEvent tracks a shell/computer-use loop terminating on a detected
// repeat action or an exhausted budget.
type LoopEvent struct {
	DiagnosticEvent
	JobID     string `json:"job_id"`
	StepOrder int    `json:"step_order"`
	Loop      string `json:"loop"` // "shell" | "computer_use"
	Reason    string `json:"reason"`
	Iteration int    `json:"iteration,omitempty"`
}

// DiagnosticEventPayload is a union type for all diagnostic events.
type DiagnosticEventPayload interface {
	EventType() DiagnosticEventType
	Sequence() int64
	Timestamp() int64
}

func (e *DiagnosticEvent) EventType() DiagnosticEventType { return e.Type }
func (e *DiagnosticEvent) Sequence() int64                { return e.Seq }
func (e *DiagnosticEvent) Timestamp() int64               { return e.Ts }

// DiagnosticListener receives diagnostic events.
type DiagnosticListener func(event DiagnosticEventPayload)

// DiagnosticEmitter manages diagnostic event emission.
type DiagnosticEmitter struct {
	mu        sync.RWMutex
	seq       int64
	enabled   bool
	listeners []DiagnosticListener
}

var globalEmitter = &DiagnosticEmitter{}

// SetDiagnosticsEnabled enables or disables diagnostic events.
func SetDiagnosticsEnabled(enabled bool) {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.enabled = enabled
}

// IsDiagnosticsEnabled returns whether diagnostics are enabled.
func IsDiagnosticsEnabled() bool {
	globalEmitter.mu.RLock()
	defer globalEmitter.mu.RUnlock()
	return globalEmitter.enabled
}

// OnDiagnosticEvent registers a listener for diagnostic events and
// returns an unsubscribe function.
func OnDiagnosticEvent(listener DiagnosticListener) func() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.listeners = append(globalEmitter.listeners, listener)
	idx := len(globalEmitter.listeners) - 1

	return func() {
		globalEmitter.mu.Lock()
		defer globalEmitter.mu.Unlock()
		if idx < len(globalEmitter.listeners) {
			globalEmitter.listeners = append(globalEmitter.listeners[:idx], globalEmitter.listeners[idx+1:]...)
		}
	}
}

func nextSeq() int64 {
	return atomic.AddInt64(&globalEmitter.seq, 1)
}

func emit(event DiagnosticEventPayload) {
	globalEmitter.mu.RLock()
	if !globalEmitter.enabled {
		globalEmitter.mu.RUnlock()
		return
	}
	listeners := make([]DiagnosticListener, len(globalEmitter.listeners))
	copy(listeners, globalEmitter.listeners)
	globalEmitter.mu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() { _ = recover() }()
			listener(event)
		}()
	}
}

// EmitJobLifecycle emits a job started/completed/failed event.
func EmitJobLifecycle(typ DiagnosticEventType, e *JobLifecycleEvent) {
	e.Type = typ
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitStepLifecycle emits a step started/completed/failed event.
func EmitStepLifecycle(typ DiagnosticEventType, e *StepLifecycleEvent) {
	e.Type = typ
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitModelUsage emits a model usage event.
func EmitModelUsage(e *ModelUsageEvent) {
	e.Type = EventTypeModelUsage
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitDelivery emits a delivery sent/failed event.
func EmitDelivery(typ DiagnosticEventType, e *DeliveryEvent) {
	e.Type = typ
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitLoop emits a loop-detected or budget-exhausted event.
func EmitLoop(typ DiagnosticEventType, e *LoopEvent) {
	e.Type = typ
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// ResetDiagnosticsForTest resets diagnostic state for testing.
func ResetDiagnosticsForTest() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	atomic.StoreInt64(&globalEmitter.seq, 0)
	globalEmitter.listeners = nil
}

package usage

import (
	"context"
	"sync"
	"time"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
)

// MaxAuditBodyBytes caps each stored request/response body. Audit
// records exist for debugging, not replay; the head of a body is
// enough to see what was sent.
const MaxAuditBodyBytes = 64 << 10

// DefaultAuditCapacity bounds how many records a MemoryAuditLog keeps
// before dropping the oldest.
const DefaultAuditCapacity = 256

// AuditRecord captures the serialized request and response of one
// provider call. Write-only: nothing in the worker reads these back at
// runtime.
type AuditRecord struct {
	TenantID  string
	JobID     string
	StepIndex int
	Model     string
	Request   []byte
	Response  []byte
	CreatedAt time.Time
}

// MemoryAuditLog is a bounded in-process audit log. When full, the
// oldest record is dropped.
type MemoryAuditLog struct {
	mu       sync.Mutex
	capacity int
	records  []AuditRecord
}

// NewMemoryAuditLog constructs an audit log holding at most capacity
// records; capacity <= 0 uses DefaultAuditCapacity.
func NewMemoryAuditLog(capacity int) *MemoryAuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &MemoryAuditLog{capacity: capacity}
}

// RecordCall appends one provider call's serialized request and
// response, correlated to the tenant/job/step ids carried on ctx.
// Bodies are truncated to MaxAuditBodyBytes.
func (l *MemoryAuditLog) RecordCall(ctx context.Context, model string, rawRequest, rawResponse []byte) {
	record := AuditRecord{
		TenantID:  observability.GetTenantID(ctx),
		JobID:     observability.GetJobID(ctx),
		StepIndex: observability.GetStepIndex(ctx),
		Model:     model,
		Request:   capBody(rawRequest),
		Response:  capBody(rawResponse),
		CreatedAt: time.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.capacity {
		l.records = l.records[1:]
	}
	l.records = append(l.records, record)
}

// Records returns a copy of the stored records, oldest first.
func (l *MemoryAuditLog) Records() []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}

func capBody(b []byte) []byte {
	if len(b) <= MaxAuditBodyBytes {
		return append([]byte(nil), b...)
	}
	return append([]byte(nil), b[:MaxAuditBodyBytes]...)
}

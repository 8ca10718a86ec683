package usage

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
)

func TestMemoryAuditLogRecordsCall(t *testing.T) {
	log := NewMemoryAuditLog(4)

	ctx := observability.AddTenantID(context.Background(), "t_1")
	ctx = observability.AddJobID(ctx, "job_1")
	ctx = observability.AddStepIndex(ctx, 2)

	log.RecordCall(ctx, "gpt-5", []byte(`{"model":"gpt-5"}`), []byte(`{"id":"resp_1"}`))

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "t_1", records[0].TenantID)
	assert.Equal(t, "job_1", records[0].JobID)
	assert.Equal(t, 2, records[0].StepIndex)
	assert.Equal(t, "gpt-5", records[0].Model)
	assert.Equal(t, []byte(`{"model":"gpt-5"}`), records[0].Request)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestMemoryAuditLogDropsOldestWhenFull(t *testing.T) {
	log := NewMemoryAuditLog(2)
	for i := 0; i < 3; i++ {
		log.RecordCall(context.Background(), fmt.Sprintf("model-%d", i), nil, nil)
	}

	records := log.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "model-1", records[0].Model)
	assert.Equal(t, "model-2", records[1].Model)
}

func TestMemoryAuditLogCapsBodies(t *testing.T) {
	log := NewMemoryAuditLog(1)
	big := bytes.Repeat([]byte("a"), MaxAuditBodyBytes+100)

	log.RecordCall(context.Background(), "gpt-5", big, big)

	records := log.Records()
	require.Len(t, records, 1)
	assert.Len(t, records[0].Request, MaxAuditBodyBytes)
	assert.Len(t, records[0].Response, MaxAuditBodyBytes)
}

func TestMemoryAuditLogMissingContextIDs(t *testing.T) {
	log := NewMemoryAuditLog(1)
	log.RecordCall(context.Background(), "gpt-5", nil, nil)

	records := log.Records()
	require.Len(t, records, 1)
	assert.Empty(t, records[0].TenantID)
	assert.Equal(t, -1, records[0].StepIndex)
}

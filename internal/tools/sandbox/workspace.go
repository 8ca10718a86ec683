package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// WorkspaceIDHexLen is the length of the hex digest portion of a
// workspace id, chosen to keep the full id (with the w_ sentinel) a
// convenient directory-name length while remaining collision-safe for
// the (tenant, job, step) key space this process actually sees.
const WorkspaceIDHexLen = 32

// WorkspaceID deterministically derives the shell loop's sandbox
// workspace id from (tenant_id, job_id, step_index). Reruns of the same
// step land on the same sandbox directory; the w_ prefix plus hex body
// guarantees the id is never a valid ".." path segment.
func WorkspaceID(tenantID, jobID string, stepIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", tenantID, jobID, stepIndex)))
	return "w_" + hex.EncodeToString(sum[:])[:WorkspaceIDHexLen]
}

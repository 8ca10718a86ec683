package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/recordstore"
)

// seedData holds the reference records (submissions, forms, workflows,
// templates) this worker treats as read-only: owned by whatever
// authoring system created the form and workflow, and handed to the
// worker as input rather than written by it. NewSQLiteStores leaves
// these four unbacked for exactly this reason; a CLI invocation seeds
// them from a JSON file instead.
type seedData struct {
	Submissions map[string]*models.Submission `json:"submissions"`
	Forms       map[string]*models.Form       `json:"forms"`
	Workflows   map[string]*models.Workflow   `json:"workflows"`
	Templates   map[string]*models.Template   `json:"templates"`
}

// loadSeedStores reads path (if non-empty) as JSON and wires in-memory
// stores for the reference data the durable record store doesn't hold.
// An empty path yields empty reference stores, which is only useful
// when the caller's workflow has no dependency on them (no templates,
// a degenerate no-field form).
func loadSeedStores(path string) (recordstore.SubmissionStore, recordstore.FormStore, recordstore.WorkflowStore, recordstore.TemplateStore, error) {
	var seed seedData
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("read seed file: %w", err)
		}
		if err := json.Unmarshal(data, &seed); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("parse seed file: %w", err)
		}
	}

	return recordstore.NewMemorySubmissionStore(seed.Submissions),
		recordstore.NewMemoryFormStore(seed.Forms),
		recordstore.NewMemoryWorkflowStore(seed.Workflows),
		recordstore.NewMemoryTemplateStore(seed.Templates),
		nil
}

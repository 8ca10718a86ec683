// Package strategies selects and runs the one execution strategy a
// workflow step's configuration calls for: image generation, the
// computer-use loop, the shell tool loop, or the plain streaming
// standard path.
package strategies

import (
	"strings"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools"
)

// Kind identifies the selected strategy.
type Kind string

const (
	KindStandard        Kind = "standard"
	KindImageGeneration Kind = "image_generation"
	KindComputerUse     Kind = "computer_use"
	KindShell           Kind = "shell"
)

// Select picks exactly one strategy for a step's normalized tool list.
// Selection is pure: same tools/model in, same Kind out.
func Select(model string, normalizedTools []tools.Tool) Kind {
	hasImageGeneration := false
	hasComputerUse := false
	hasShell := false
	imageModel := ""

	for _, t := range normalizedTools {
		switch t.Type {
		case tools.TypeImageGeneration:
			hasImageGeneration = true
			if m, ok := t.Raw["model"].(string); ok {
				imageModel = m
			}
		case tools.TypeComputerUse:
			hasComputerUse = true
		case tools.TypeShell:
			hasShell = true
		}
	}

	if hasImageGeneration && strings.HasPrefix(imageModel, "gpt-image") {
		return KindImageGeneration
	}
	if hasComputerUse && strings.Contains(strings.ToLower(model), "computer-use-preview") {
		return KindComputerUse
	}
	if hasShell && !hasComputerUse {
		return KindShell
	}
	return KindStandard
}

// StepOutput is the tagged-variant result every strategy produces,
// folded back into an ExecutionStep by the step executor.
type StepOutput struct {
	Kind             Kind
	Text             string
	ImageURLs        []string
	ImageArtifactIDs []string
	Usage            models.Usage
	// CallUsages holds one entry per provider call the strategy made;
	// multi-turn loops produce several. Usage above is their sum. The
	// controller persists one UsageRecord per entry.
	CallUsages  []models.Usage
	RawRequest  []byte
	RawResponse []byte
}

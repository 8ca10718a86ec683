package llm

import (
	"strings"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/tools"
)

// AutonomyPreamble is prefixed onto every step's instructions unless
// already present: "this workflow runs end-to-end with
// NO user interaction between steps; make reasonable assumptions and
// proceed".
const AutonomyPreamble = "This workflow runs end-to-end with NO user interaction between steps; make reasonable assumptions and proceed."

// reasoningEffortModelPrefixes are the model families that default to
// "high" reasoning effort when the step didn't specify one.
var reasoningEffortModelPrefixes = []string{"gpt-5", "o1", "o3", "o4", "o5"}

// BuildParamsInput carries everything BuildParams needs.
type BuildParamsInput struct {
	Model               string
	Instructions        string
	InputText           string
	Tools               []tools.Tool
	ToolChoice          string
	HasComputerUse      bool
	ImageCapableModel   bool
	ImageGenerationTool bool
	ReasoningEffort     string
	ServiceTier         string
	TextVerbosity       string
	MaxOutputTokens     int
	OutputFormat        *models.OutputFormat
	PreviousImageURLs   []string
}

// BuildParams produces a Responses API request body.
func BuildParams(in BuildParamsInput) Params {
	instructions := withAutonomyPreamble(in.Instructions)

	hasCodeInterpreter := false
	toolDefs := make([]ToolDef, 0, len(in.Tools))
	for _, t := range in.Tools {
		if t.Type == tools.TypeCodeInterpreter {
			hasCodeInterpreter = true
		}
		toolDefs = append(toolDefs, ToolDef(t.Raw))
	}

	toolChoice := in.ToolChoice
	if toolChoice == "required" && len(toolDefs) == 0 {
		toolChoice = "" // never send required with an empty tool list
	}

	reasoningEffort := in.ReasoningEffort
	if reasoningEffort == "" && !in.HasComputerUse && defaultsToHighReasoning(in.Model) {
		reasoningEffort = "high"
	}

	serviceTier := in.ServiceTier
	if serviceTier == "" && strings.HasPrefix(strings.ToLower(in.Model), "gpt-5") {
		serviceTier = "priority"
	}

	var input any = instructionInput(in.InputText)
	useMultimodal := in.ImageGenerationTool && in.ImageCapableModel && len(in.PreviousImageURLs) > 0 && !in.HasComputerUse
	if useMultimodal {
		input = buildMultimodalInput(in.InputText, in.PreviousImageURLs)
	}

	var outputFormat *OutputFormatWire
	if in.OutputFormat != nil {
		outputFormat = &OutputFormatWire{Type: in.OutputFormat.Type, Name: in.OutputFormat.Name, Schema: in.OutputFormat.Schema}
		if in.OutputFormat.Type == "json_object" && !mentionsJSON(in.InputText) && !mentionsJSON(instructions) {
			instructions = strings.TrimSpace(instructions) + "\n\nPlease output your response in JSON format."
		}
	}

	maxTokens := in.MaxOutputTokens
	if maxTokens < 0 {
		maxTokens = 0
	}

	var include []string
	if hasCodeInterpreter {
		include = append(include, "code_interpreter_call.outputs")
	}

	params := Params{
		Model:           in.Model,
		Instructions:    instructions,
		Input:           input,
		Tools:           toolDefs,
		ReasoningEffort: reasoningEffort,
		ServiceTier:     serviceTier,
		TextVerbosity:   in.TextVerbosity,
		MaxOutputTokens: maxTokens,
		OutputFormat:    outputFormat,
		Include:         include,
	}
	if toolChoice != "" {
		params.ToolChoice = toolChoice
	}
	return params
}

func withAutonomyPreamble(instructions string) string {
	if strings.Contains(instructions, "NO user interaction between steps") {
		return instructions
	}
	if strings.TrimSpace(instructions) == "" {
		return AutonomyPreamble
	}
	return AutonomyPreamble + "\n\n" + instructions
}

func defaultsToHighReasoning(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range reasoningEffortModelPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func mentionsJSON(s string) bool {
	return strings.Contains(strings.ToLower(s), "json")
}

func instructionInput(text string) string {
	return text
}

func buildMultimodalInput(text string, imageURLs []string) []InputMessage {
	parts := make([]InputPart, 0, len(imageURLs)+1)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, InputPart{Type: "input_text", Text: text})
	}
	for _, url := range imageURLs {
		parts = append(parts, InputPart{Type: "input_image", ImageURL: url})
	}
	return []InputMessage{{Role: "user", Content: parts}}
}

// DeepResearchModel reports whether model belongs to a family that
// requires at least one of web_search_preview/mcp/file_search.
func DeepResearchModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "deep-research")
}

// ImageCapableModel reports whether model accepts image inputs. Models
// in the computer-use-preview family never accept extra image inputs
// beyond the screenshot stream.
func ImageCapableModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "computer-use") {
		return false
	}
	switch {
	case strings.HasPrefix(lower, "gpt-5"),
		strings.HasPrefix(lower, "gpt-4"),
		strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"):
		return true
	default:
		return false
	}
}

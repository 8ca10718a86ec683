package tools

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeStringEntry(t *testing.T) {
	tool := Normalize("web_search", nil)
	require.Equal(t, TypeWebSearch, tool.Type)
}

func TestNormalizeImageGenerationDefaults(t *testing.T) {
	tool := Normalize(map[string]any{"type": TypeImageGeneration}, nil)
	require.Equal(t, "auto", tool.Raw["size"])
	require.Equal(t, "auto", tool.Raw["quality"])
	require.Equal(t, "auto", tool.Raw["background"])
	require.Equal(t, DefaultImageModel, tool.Raw["model"])
}

func TestNormalizeImageGenerationInvalidEnumCoercedToAuto(t *testing.T) {
	tool := Normalize(map[string]any{"type": TypeImageGeneration, "size": "gigantic"}, nil)
	require.Equal(t, "auto", tool.Raw["size"])
}

func TestValidateAndFilterDropsFileSearchWithoutVectorStores(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{
		Tools: []Tool{{Type: TypeFileSearch, Raw: map[string]any{"type": TypeFileSearch}}},
	})
	require.Empty(t, result.Tools)
	require.Contains(t, result.Dropped, TypeFileSearch)
}

func TestValidateAndFilterDropsShellWhenNotConfigured(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{
		Tools:           []Tool{{Type: TypeShell, Raw: map[string]any{"type": TypeShell}}},
		ShellConfigured: false,
	})
	require.Empty(t, result.Tools)
}

func TestValidateAndFilterDropsCodeInterpreterWithComputerUse(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{
		Tools: []Tool{
			{Type: TypeCodeInterpreter, Raw: map[string]any{"type": TypeCodeInterpreter}},
			{Type: TypeComputerUse, Raw: map[string]any{"type": TypeComputerUse}},
		},
	})
	require.Len(t, result.Tools, 1)
	require.Equal(t, TypeComputerUse, result.Tools[0].Type)
}

func TestValidateAndFilterStripsContainerFromComputerUse(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{
		Tools: []Tool{{Type: TypeComputerUse, Raw: map[string]any{"type": TypeComputerUse, "container": "x"}}},
	})
	require.NotContains(t, result.Tools[0].Raw, "container")
}

func TestValidateAndFilterInjectsWebSearchForDeepResearch(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{DeepResearch: true})
	require.Len(t, result.Tools, 1)
	require.Equal(t, TypeWebSearchPreview, result.Tools[0].Type)
}

func TestValidateAndFilterDowngradesRequiredToAutoWhenEmpty(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{ToolChoice: "required"})
	require.Equal(t, "auto", result.ToolChoice)
}

func TestValidateAndFilterKeepsRequiredWhenToolsSurvive(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{
		ToolChoice: "required",
		Tools:      []Tool{{Type: TypeWebSearch, Raw: map[string]any{"type": TypeWebSearch}}},
	})
	require.Equal(t, "required", result.ToolChoice)
}

func TestValidateAndFilterKeepsFunctionWithValidSchema(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{
		Tools: []Tool{{Type: TypeFunction, Raw: map[string]any{
			"type": TypeFunction,
			"name": "lookup",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []any{"query"},
			},
		}}},
	})
	require.Len(t, result.Tools, 1)
	require.Empty(t, result.Dropped)
}

func TestValidateAndFilterDropsFunctionWithMalformedSchema(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{
		Tools: []Tool{{Type: TypeFunction, Raw: map[string]any{
			"type":       TypeFunction,
			"name":       "broken",
			"parameters": map[string]any{"type": 123},
		}}},
	})
	require.Empty(t, result.Tools)
	require.Contains(t, result.Dropped, TypeFunction)
}

func TestValidateAndFilterKeepsFunctionWithoutParameters(t *testing.T) {
	result := ValidateAndFilter(ValidateAndFilterParams{
		Tools: []Tool{{Type: TypeFunction, Raw: map[string]any{"type": TypeFunction, "name": "ping"}}},
	})
	require.Len(t, result.Tools, 1)
}

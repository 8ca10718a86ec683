// Package tools implements the tool registry and validator: the single
// source of tool shape for a step, and the pure filter that decides what
// is legal to forward to the provider.
package tools

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Known tool type names.
const (
	TypeWebSearch         = "web_search"
	TypeWebSearchPreview  = "web_search_preview"
	TypeFileSearch        = "file_search"
	TypeCodeInterpreter   = "code_interpreter"
	TypeComputerUse       = "computer_use_preview"
	TypeImageGeneration   = "image_generation"
	TypeShell             = "shell"
	TypeFunction          = "function"
	TypeMCP               = "mcp"
)

// DefaultImageModel is the latest known image-generation model, used to
// fill in a tool's model field when one was not supplied.
const DefaultImageModel = "gpt-image-1"

// DefaultCodeInterpreterMemoryGB is the fixed memory limit enforced for
// code_interpreter containers.
const DefaultCodeInterpreterMemoryGB = 64

var imageEnumDefaults = map[string]string{
	"size":       "auto",
	"quality":    "auto",
	"background": "auto",
}

var validImageEnumValues = map[string]map[string]bool{
	"size":       {"auto": true, "1024x1024": true, "1024x1536": true, "1536x1024": true},
	"quality":    {"auto": true, "low": true, "medium": true, "high": true},
	"background": {"auto": true, "transparent": true, "opaque": true},
}

// Tool is the normalized, canonical shape of a single tool entry. Extra
// provider-specific fields (vector_store_ids, container, model, ...) are
// kept in Raw so the LLM client adapter can serialize whatever the
// provider expects without this package needing to know every field.
type Tool struct {
	Type string
	Raw  map[string]any
}

// Normalize accepts either a bare type string or a map describing a
// tool, and returns the canonical Tool with defaults filled in. Unknown
// types pass through unchanged; the caller decides whether to keep them.
func Normalize(entry any, logger *slog.Logger) Tool {
	logger = nonNilLogger(logger)

	switch v := entry.(type) {
	case string:
		return normalizeMap(map[string]any{"type": v}, logger)
	case map[string]any:
		return normalizeMap(v, logger)
	default:
		return Tool{Type: "", Raw: map[string]any{}}
	}
}

func normalizeMap(raw map[string]any, logger *slog.Logger) Tool {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	typ, _ := out["type"].(string)
	typ = strings.TrimSpace(typ)
	out["type"] = typ

	if typ == TypeImageGeneration {
		for field, def := range imageEnumDefaults {
			val, _ := out[field].(string)
			val = strings.ToLower(strings.TrimSpace(val))
			if val == "" {
				out[field] = def
				continue
			}
			if allowed, ok := validImageEnumValues[field]; ok && !allowed[val] {
				logger.Warn("invalid image_generation enum value coerced to auto", "field", field, "value", val)
				out[field] = "auto"
				continue
			}
			out[field] = val
		}
		if model, _ := out["model"].(string); strings.TrimSpace(model) == "" {
			out["model"] = DefaultImageModel
		}
	}

	return Tool{Type: typ, Raw: out}
}

// ShellConfigured reports whether the shell execution service is
// available. ValidateAndFilter needs this to decide whether to drop a
// requested shell tool.
type ShellConfigured func() bool

// ValidateAndFilterParams carries everything ValidateAndFilter needs to
// make its (pure, deterministic) decision.
type ValidateAndFilterParams struct {
	Tools           []Tool
	ToolChoice      string
	Model           string
	ShellConfigured bool
	DeepResearch    bool
}

// ValidateAndFilterResult is the outcome: the filtered tool list and the
// (possibly downgraded) tool choice.
type ValidateAndFilterResult struct {
	Tools      []Tool
	ToolChoice string
	Dropped    []string
}

// ValidateAndFilter applies the fail-soft filtering rules and the
// tool_choice tie-break. It is pure: same input, same output, no I/O.
func ValidateAndFilter(p ValidateAndFilterParams) ValidateAndFilterResult {
	filtered := make([]Tool, 0, len(p.Tools))
	var dropped []string

	hasComputerUse := false
	for _, t := range p.Tools {
		if t.Type == TypeComputerUse {
			hasComputerUse = true
			break
		}
	}

	for _, t := range p.Tools {
		switch t.Type {
		case TypeFileSearch:
			ids, _ := t.Raw["vector_store_ids"].([]any)
			if len(ids) == 0 {
				if idsStr, ok := t.Raw["vector_store_ids"].([]string); !ok || len(idsStr) == 0 {
					dropped = append(dropped, t.Type)
					continue
				}
			}
		case TypeShell:
			if !p.ShellConfigured {
				dropped = append(dropped, t.Type)
				continue
			}
		case TypeCodeInterpreter:
			if hasComputerUse {
				dropped = append(dropped, t.Type)
				continue
			}
			container, _ := t.Raw["container"].(map[string]any)
			if container == nil {
				container = map[string]any{}
			}
			container["type"] = "auto"
			container["memory_gb"] = DefaultCodeInterpreterMemoryGB
			t.Raw["container"] = container
		case TypeFunction:
			if err := validateFunctionParameters(t.Raw); err != nil {
				dropped = append(dropped, t.Type)
				continue
			}
		}

		if t.Type == TypeComputerUse {
			delete(t.Raw, "container")
		}

		filtered = append(filtered, t)
	}

	if p.DeepResearch {
		hasResearchTool := false
		for _, t := range filtered {
			if t.Type == TypeWebSearchPreview || t.Type == TypeMCP || t.Type == TypeFileSearch {
				hasResearchTool = true
				break
			}
		}
		if !hasResearchTool {
			filtered = append(filtered, Tool{Type: TypeWebSearchPreview, Raw: map[string]any{"type": TypeWebSearchPreview}})
		}
	}

	choice := p.ToolChoice
	if choice == "required" && len(filtered) == 0 {
		choice = "auto"
	}

	return ValidateAndFilterResult{Tools: filtered, ToolChoice: choice, Dropped: dropped}
}

// validateFunctionParameters compiles a function tool's JSON-schema
// parameters block. A function tool with no parameters is legal; one
// whose schema does not compile is dropped here rather than bounced by
// the provider with a 400.
func validateFunctionParameters(raw map[string]any) error {
	params, ok := raw["parameters"]
	if !ok || params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", bytes.NewReader(data)); err != nil {
		return err
	}
	_, err = compiler.Compile("tool.json")
	return err
}

func nonNilLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// Package llm adapts the provider's Responses API into a uniform
// client surface: parameter building, unary calls, streaming, and
// response processing.
//
// HTTP client construction (auth header, base URL override) follows the
// conventions github.com/sashabaranov/go-openai's own client
// establishes, though the wire bodies here are custom structs: the
// Responses API's computer_call/shell_call/reasoning.effort fields
// have no equivalent in that SDK's Chat Completions types.
package llm

import (
	"encoding/json"
	"time"
)

// InputPart is one multimodal content part of a Responses API message.
type InputPart struct {
	Type     string `json:"type"` // "input_text" | "input_image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// InputMessage is one role-tagged turn of input.
type InputMessage struct {
	Role    string      `json:"role"`
	Content []InputPart `json:"content"`
}

// ToolDef is the wire shape of a single tool entry sent to the
// provider, carrying whatever fields internal/tools.Tool.Raw held.
type ToolDef map[string]any

// OutputFormatWire is the request-side {type, json_schema, ...} block.
type OutputFormatWire struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

// Params is the fully-built Responses API request body.
type Params struct {
	Model               string            `json:"model"`
	Instructions        string            `json:"instructions,omitempty"`
	Input               any               `json:"input"` // string, []InputMessage, or []InputItem
	Tools               []ToolDef         `json:"tools,omitempty"`
	ToolChoice          any               `json:"tool_choice,omitempty"` // string or omitted
	ReasoningEffort     string            `json:"-"`
	ServiceTier         string            `json:"service_tier,omitempty"`
	TextVerbosity       string            `json:"-"`
	MaxOutputTokens     int               `json:"max_output_tokens,omitempty"`
	OutputFormat        *OutputFormatWire `json:"-"`
	Include             []string          `json:"include,omitempty"`
	Stream              bool              `json:"stream,omitempty"`
	// PreviousResponseID chains a follow-up turn onto an earlier
	// response instead of replaying the whole transcript as text: the
	// shell and computer-use loops set this to the prior call's
	// ResponseWire.ID and send only the new tool_call_output items as
	// Input.
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

// InputItem is a tool-result input item sent on a follow-up turn of
// the shell or computer-use loop: one per outstanding shell_call or
// computer_call, correlated by CallID so the provider can match the
// result to the call it issued.
type InputItem struct {
	Type                     string          `json:"type"` // "shell_call_output" | "computer_call_output" | "message"
	CallID                   string          `json:"call_id,omitempty"`
	Output                   json.RawMessage `json:"output,omitempty"`
	MaxOutputLength          int             `json:"max_output_length,omitempty"`
	AcknowledgedSafetyChecks []SafetyCheck   `json:"acknowledged_safety_checks,omitempty"`

	// "message" items (e.g. an error note alongside a computer_call_output)
	Role    string      `json:"role,omitempty"`
	Content []InputPart `json:"content,omitempty"`
}

// ShellCommandOutput is one command's result inside a shell_call_output
// item's Output array.
type ShellCommandOutput struct {
	Stdout  string       `json:"stdout"`
	Stderr  string       `json:"stderr"`
	Outcome ShellOutcome `json:"outcome"`
}

// ShellOutcome reports how a shell command inside a shell_call ended.
type ShellOutcome struct {
	Type     string `json:"type"` // "exit" | "timeout" | "error"
	ExitCode *int   `json:"exit_code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ComputerScreenshotOutput is the Output payload of a
// computer_call_output item.
type ComputerScreenshotOutput struct {
	Type     string `json:"type"` // "computer_screenshot"
	ImageURL string `json:"image_url"`
}

// MarshalJSON emits the Responses API body, folding ReasoningEffort,
// TextVerbosity, and OutputFormat into their nested wire positions
// (reasoning.effort, text.verbosity, text.format) since json tags
// alone can't express that nesting on the flat Params struct.
func (p Params) MarshalJSON() ([]byte, error) {
	type alias Params
	wire := struct {
		alias
		Reasoning *reasoningWire `json:"reasoning,omitempty"`
		Text      *textWire      `json:"text,omitempty"`
	}{alias: alias(p)}

	if p.ReasoningEffort != "" {
		wire.Reasoning = &reasoningWire{Effort: p.ReasoningEffort}
	}
	if p.TextVerbosity != "" || p.OutputFormat != nil {
		wire.Text = &textWire{Verbosity: p.TextVerbosity, Format: p.OutputFormat}
	}
	return json.Marshal(wire)
}

type reasoningWire struct {
	Effort string `json:"effort"`
}

type textWire struct {
	Verbosity string            `json:"verbosity,omitempty"`
	Format    *OutputFormatWire `json:"format,omitempty"`
}

// UsageWire is the provider's token usage block.
type UsageWire struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseWire is the raw Responses API response body, trimmed to the
// fields process_response needs.
type ResponseWire struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	OutputText string          `json:"output_text,omitempty"`
	Output     []OutputItem    `json:"output"`
	Usage      *UsageWire      `json:"usage,omitempty"`
	Error      *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the provider's {error:{message,type,code}} shape.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// OutputItem is one entry of the response's output array: a message,
// a shell_call, a computer_call, an image_generation_call, or a
// code_interpreter call.
type OutputItem struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content []OutputContent `json:"content,omitempty"`

	// shell_call
	Action json.RawMessage `json:"action,omitempty"`

	// computer_call
	PendingSafetyChecks []SafetyCheck `json:"pending_safety_checks,omitempty"`

	// image_generation_call
	Result string `json:"result,omitempty"` // base64 image payload

	CallID string `json:"call_id,omitempty"`
}

// OutputContent is one part of a message output item.
type OutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SafetyCheck is a provider-issued pending safety check attached to a
// computer_call, requiring acknowledgment on the follow-up turn.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ProcessedResponse is what process_response extracts from a
// ResponseWire: final text, image URLs, usage, and the tool-call
// items a strategy needs to act on.
type ProcessedResponse struct {
	ResponseID    string
	Text          string
	ImageURLs     []string
	Usage         UsageWire
	ShellCalls    []OutputItem
	ComputerCalls []OutputItem
	RawRequest    json.RawMessage
	RawResponse   json.RawMessage
}

// StreamEvent is one incremental event from Stream.
type StreamEvent struct {
	Type       string // "output_text.delta" | "output_item.added" | "output_item.done" | "response.completed" | "error"
	TextDelta  string
	Item       *OutputItem
	Response   *ResponseWire
	Err        error
}

// CallTimeout is the default per-call HTTP deadline.
const CallTimeout = 120 * time.Second

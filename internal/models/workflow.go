package models

// StepType distinguishes workflow step kinds.
type StepType string

const (
	StepTypeAIGeneration StepType = "ai_generation"
	StepTypeWebhook      StepType = "webhook"
)

// ToolChoice mirrors the provider's tool_choice enum.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// OutputFormat requests text, a bare JSON object, or a JSON-schema-typed
// response from the model.
type OutputFormat struct {
	Type   string         `json:"type"` // "text" | "json_object" | "json_schema"
	Schema map[string]any `json:"schema,omitempty"`
	Name   string         `json:"name,omitempty"`
}

// Step is one entry in a Workflow's ordered step list. StepOrder is
// 1-based; DependsOn is 0-indexed into the ExecutionStep list.
type Step struct {
	StepOrder        int            `json:"step_order"`
	StepName         string         `json:"step_name"`
	StepType         StepType       `json:"step_type"`
	Model            string         `json:"model"`
	Instructions     string         `json:"instructions"`
	Tools            []any          `json:"tools"`
	ToolChoice       ToolChoice     `json:"tool_choice"`
	DependsOn        []int          `json:"depends_on,omitempty"`
	ReasoningEffort  string         `json:"reasoning_effort,omitempty"`
	ServiceTier      string         `json:"service_tier,omitempty"`
	TextVerbosity    string         `json:"text_verbosity,omitempty"`
	MaxOutputTokens  int            `json:"max_output_tokens,omitempty"`
	OutputFormat     *OutputFormat  `json:"output_format,omitempty"`
	WebhookURL       string         `json:"webhook_url,omitempty"`
	WebhookHeaders   map[string]string `json:"webhook_headers,omitempty"`
	WebhookPayload   any            `json:"webhook_payload_template,omitempty"`
}

// EffectiveDependsOn returns step.DependsOn, or, if unset, every
// strictly-earlier step index (0-indexed).
func (s Step) EffectiveDependsOn() []int {
	if len(s.DependsOn) > 0 {
		return s.DependsOn
	}
	if s.StepOrder <= 1 {
		return nil
	}
	deps := make([]int, 0, s.StepOrder-1)
	for i := 0; i < s.StepOrder-1; i++ {
		deps = append(deps, i)
	}
	return deps
}

// DeliveryMethod selects how a completed job is announced.
type DeliveryMethod string

const (
	DeliveryMethodWebhook DeliveryMethod = "webhook"
	DeliveryMethodSMS     DeliveryMethod = "sms"
)

// DeliveryConfig is a Workflow's notification configuration.
type DeliveryConfig struct {
	Method          DeliveryMethod    `json:"method"`
	WebhookURL      string            `json:"webhook_url,omitempty"`
	WebhookHeaders  map[string]string `json:"webhook_headers,omitempty"`
	SMSMessage      string            `json:"sms_message,omitempty"`
	SMSInstructions string            `json:"sms_instructions,omitempty"`
}

// Workflow is the ordered step list a Job executes.
type Workflow struct {
	ID              string          `json:"id"`
	TemplateID      string          `json:"template_id,omitempty"`
	TemplateVersion int             `json:"template_version,omitempty"`
	Steps           []Step          `json:"steps"`
	Delivery        DeliveryConfig  `json:"delivery"`
}

// Template is a publishable HTML shell a Workflow may reference for final
// assembly.
type Template struct {
	ID          string `json:"id"`
	Version     int    `json:"version"`
	HTML        string `json:"html"`
	StyleDesc   string `json:"style_description"`
	IsPublished bool   `json:"is_published"`
}

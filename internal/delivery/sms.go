package delivery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/llm"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

// SMSMaxBodyLength is the recommended cap on a generated SMS body
//.
const SMSMaxBodyLength = 160

var nonDigits = regexp.MustCompile(`[^0-9+]`)

// SMSSender is the subset of voice.TwilioProvider the delivery service
// needs.
type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) (*SMSResult, error)
}

// SMSMessage mirrors voice.SMSMessage so this package doesn't need to
// import voice directly; the caller's adapter converts between them.
type SMSMessage struct {
	To   string
	From string
	Body string
}

// SMSResult mirrors voice.SMSResult.
type SMSResult struct {
	ProviderMessageID string
	Status            string
}

// ResolveDestinationPhone finds the destination phone in the
// submission data, checking "phone", "phone_number", then the
// top-level "submitter_phone" field.
func ResolveDestinationPhone(data map[string]any) (string, bool) {
	for _, key := range []string{"phone", "phone_number", "submitter_phone"} {
		if v, ok := data[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}

// NormalizePhone converts a raw phone string to +E.164, inserting +1
// for bare 10-digit US numbers and stripping dashes/spaces/parens
//.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty phone number")
	}

	hasPlus := strings.HasPrefix(trimmed, "+")
	digits := nonDigits.ReplaceAllString(trimmed, "")
	digits = strings.TrimPrefix(digits, "+")

	switch {
	case hasPlus:
		return "+" + digits, nil
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits, nil
	case len(digits) > 0:
		return "+" + digits, nil
	default:
		return "", fmt.Errorf("no digits found in phone number %q", raw)
	}
}

// SMSBodyInput carries what BuildSMSBody needs to either fill a
// template or fall back to a model-generated short message.
type SMSBodyInput struct {
	Template       string // may reference {output_url}, {name}, {job_id}
	Job            *models.Job
	SubmissionData map[string]any
	Instructions   string // sms_instructions, used only when Template is empty
}

// BuildSMSBody fills the workflow's sms_message template if present,
// substituting {output_url}/{name}/{job_id}; otherwise it asks the
// model for a short message (<=160 chars).
func BuildSMSBody(ctx context.Context, client *llm.Client, in SMSBodyInput) (string, error) {
	if strings.TrimSpace(in.Template) != "" {
		return substituteTemplate(in.Template, in), nil
	}

	name := leadField(in.SubmissionData, "name", "full_name", "lead_name")
	instructions := in.Instructions
	if instructions == "" {
		instructions = "Write a short, friendly text message (under 160 characters) letting the recipient know their requested content is ready, and share the link."
	}

	prompt := fmt.Sprintf(
		"%s\n\nLink: %s\nRecipient name: %s\n\nReply with ONLY the message body, no preamble, no quotes.",
		instructions, in.Job.OutputURL, name,
	)

	params := llm.BuildParams(llm.BuildParamsInput{
		Model:        "gpt-5-mini",
		Instructions: "You write concise SMS notification bodies.",
		InputText:    prompt,
	})

	resp, err := client.Call(ctx, params)
	if err != nil {
		return "", fmt.Errorf("generate sms body: %w", err)
	}

	body := strings.TrimSpace(resp.Text)
	if len(body) > SMSMaxBodyLength {
		body = body[:SMSMaxBodyLength]
	}
	return body, nil
}

func substituteTemplate(tmpl string, in SMSBodyInput) string {
	replacer := strings.NewReplacer(
		"{output_url}", in.Job.OutputURL,
		"{job_id}", in.Job.ID,
		"{name}", leadField(in.SubmissionData, "name", "full_name", "lead_name"),
	)
	return replacer.Replace(tmpl)
}

// SendSMSDelivery resolves the destination phone, builds the body, and
// sends it via the given sender. Failures here never flip a completed
// job's terminal status; the caller is responsible for
// logging-not-propagating.
func SendSMSDelivery(ctx context.Context, sender SMSSender, from string, in SMSBodyInput, client *llm.Client) (*SMSResult, error) {
	raw, ok := ResolveDestinationPhone(in.SubmissionData)
	if !ok {
		return nil, fmt.Errorf("no destination phone found in submission data")
	}
	to, err := NormalizePhone(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize destination phone: %w", err)
	}

	body, err := BuildSMSBody(ctx, client, in)
	if err != nil {
		return nil, err
	}

	result, err := sender.SendSMS(ctx, SMSMessage{To: to, From: from, Body: body})
	if err != nil {
		return nil, fmt.Errorf("send sms: %w", err)
	}
	return result, nil
}

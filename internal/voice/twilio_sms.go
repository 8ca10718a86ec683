package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// SMSMessage is a single outbound text message.
type SMSMessage struct {
	To   string
	From string
	Body string
}

// SMSResult is the outcome of sending an SMS.
type SMSResult struct {
	ProviderMessageID string
	Status            string
}

// SendSMS sends a single text message via Twilio's Messages resource,
// the transport behind a workflow's "sms" delivery method.
func (p *TwilioProvider) SendSMS(ctx context.Context, msg SMSMessage) (*SMSResult, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("twilio: destination phone number is required")
	}
	if msg.From == "" {
		return nil, fmt.Errorf("twilio: from number is required")
	}

	params := url.Values{
		"To":   {msg.To},
		"From": {msg.From},
		"Body": {msg.Body},
	}

	resp, err := p.apiRequest(ctx, "/Messages.json", params)
	if err != nil {
		return nil, fmt.Errorf("twilio: failed to send sms: %w", err)
	}

	var result struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("twilio: failed to parse sms response: %w", err)
	}

	return &SMSResult{ProviderMessageID: result.SID, Status: result.Status}, nil
}

// Package voice implements the SMS gateway transport the delivery
// service uses for a workflow's "sms" delivery method: a thin Twilio
// REST client (form-encoded, basic-auth) covering the one resource this
// worker needs, Messages.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TwilioProvider sends SMS messages through the Twilio REST API.
//
// Thread Safety: TwilioProvider is safe for concurrent use.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string

	client *http.Client
}

// TwilioConfig holds configuration for the Twilio provider.
type TwilioConfig struct {
	// AccountSID is the Twilio account SID (required).
	AccountSID string

	// AuthToken is the Twilio auth token (required).
	AuthToken string
}

// NewTwilioProvider creates a new Twilio SMS provider.
func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" {
		return nil, errors.New("twilio: account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("twilio: auth token is required")
	}

	return &TwilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s", cfg.AccountSID),
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// apiRequest makes an authenticated, form-encoded request to the
// Twilio API.
func (p *TwilioProvider) apiRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	reqURL := p.baseURL + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, (1<<20)+1))
	if err != nil {
		return nil, err
	}
	if len(body) > 1<<20 {
		return nil, fmt.Errorf("API response too large (%d bytes)", len(body))
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

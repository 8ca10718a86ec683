package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendSMS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "+15551234567", r.FormValue("To"))
		require.Equal(t, "+15557654321", r.FormValue("From"))
		require.Equal(t, "Your lead magnet is ready.", r.FormValue("Body"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sid":"SM123","status":"queued"}`))
	}))
	defer srv.Close()

	p, err := NewTwilioProvider(TwilioConfig{AccountSID: "AC123", AuthToken: "secret"})
	require.NoError(t, err)
	p.baseURL = srv.URL

	result, err := p.SendSMS(context.Background(), SMSMessage{
		To:   "+15551234567",
		From: "+15557654321",
		Body: "Your lead magnet is ready.",
	})
	require.NoError(t, err)
	require.Equal(t, "SM123", result.ProviderMessageID)
	require.Equal(t, "queued", result.Status)
}

func TestSendSMSRequiresDestination(t *testing.T) {
	p, err := NewTwilioProvider(TwilioConfig{AccountSID: "AC123", AuthToken: "secret"})
	require.NoError(t, err)

	_, err = p.SendSMS(context.Background(), SMSMessage{From: "+15557654321", Body: "hi"})
	require.Error(t, err)
}

func TestNewTwilioProviderRequiresCredentials(t *testing.T) {
	_, err := NewTwilioProvider(TwilioConfig{})
	require.Error(t, err)
}

package delivery

import (
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"555-123-4567":     "+15551234567",
		"(555) 123-4567":   "+15551234567",
		"5551234567":       "+15551234567",
		"15551234567":      "+15551234567",
		"+44 20 7946 0958": "+442079460958",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		if err != nil {
			t.Fatalf("NormalizePhone(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizePhoneRejectsEmpty(t *testing.T) {
	if _, err := NormalizePhone("   "); err == nil {
		t.Fatalf("expected error for empty phone")
	}
}

func TestResolveDestinationPhonePrefersPhoneField(t *testing.T) {
	data := map[string]any{"phone": "555-123-4567", "submitter_phone": "999-999-9999"}
	got, ok := ResolveDestinationPhone(data)
	if !ok || got != "555-123-4567" {
		t.Fatalf("got %q, %v", got, ok)
	}
}

func TestResolveDestinationPhoneFallsBackToSubmitterPhone(t *testing.T) {
	data := map[string]any{"submitter_phone": "555-000-1111"}
	got, ok := ResolveDestinationPhone(data)
	if !ok || got != "555-000-1111" {
		t.Fatalf("got %q, %v", got, ok)
	}
}

func TestResolveDestinationPhoneMissing(t *testing.T) {
	if _, ok := ResolveDestinationPhone(map[string]any{}); ok {
		t.Fatalf("expected no destination phone")
	}
}

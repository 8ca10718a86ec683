package usage

import "testing"

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		count int64
		want  string
	}{
		{0, "0"},
		{-10, "0"},
		{500, "500"},
		{1000, "1.0k"},
		{1500, "1.5k"},
		{10000, "10k"},
		{15000, "15k"},
		{100000, "100k"},
		{1000000, "1.0m"},
		{1500000, "1.5m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatTokenCount(tt.count)
			if got != tt.want {
				t.Errorf("FormatTokenCount(%d) = %q, want %q", tt.count, got, tt.want)
			}
		})
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		amount float64
		want   string
	}{
		{0, ""},
		{-1, ""},
		{0.001, "$0.0010"},
		{0.0099, "$0.0099"},
		{0.0123, "$0.01"}, // >= 0.01 uses 2 decimal places
		{0.12, "$0.12"},
		{1.5, "$1.50"},
		{10.99, "$10.99"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatUSD(tt.amount)
			if got != tt.want {
				t.Errorf("FormatUSD(%f) = %q, want %q", tt.amount, got, tt.want)
			}
		})
	}
}

func TestFormatUsage(t *testing.T) {
	formatted := FormatUsage(1500, 500)
	if formatted != "2.0k tokens" {
		t.Errorf("FormatUsage() = %q", formatted)
	}
}

func TestFormatUsageDetailed(t *testing.T) {
	formatted := FormatUsageDetailed(1000, 500)
	if formatted != "1.5k (in: 1.0k, out: 500)" {
		t.Errorf("FormatUsageDetailed() = %q", formatted)
	}
}

func TestFormatUsageZero(t *testing.T) {
	if FormatUsage(0, 0) != "0 tokens" {
		t.Error("zero usage should format as '0 tokens'")
	}
	if FormatUsageDetailed(0, 0) != "No usage" {
		t.Error("zero usage detailed should format as 'No usage'")
	}
}
